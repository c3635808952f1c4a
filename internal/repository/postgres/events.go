package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kirinyoku/tix-checkout/internal/domain"
	"github.com/kirinyoku/tix-checkout/internal/repository"
)

type EventRepo struct {
	db DB
}

const eventColumns = `id, title, location, starts_at, ends_at, price, quota,
	available_tickets, ticket_seq, status, created_at`

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var e domain.Event
	err := row.Scan(
		&e.ID, &e.Title, &e.Location, &e.StartsAt, &e.EndsAt, &e.Price, &e.Quota,
		&e.AvailableTickets, &e.TicketSeq, &e.Status, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EventRepo) Create(ctx context.Context, e *domain.Event) error {
	const op = "postgres.EventRepo.Create"

	err := r.db.QueryRow(ctx,
		`INSERT INTO events(id, title, location, starts_at, ends_at, price, quota,
		                    available_tickets, ticket_seq, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9)
		 RETURNING created_at`,
		e.ID, e.Title, e.Location, e.StartsAt, e.EndsAt, e.Price, e.Quota,
		e.AvailableTickets, e.Status,
	).Scan(&e.CreatedAt)

	return wrapDBErr(op, err)
}

func (r *EventRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	const op = "postgres.EventRepo.Get"

	e, err := scanEvent(r.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return e, nil
}

func (r *EventRepo) SetStatus(ctx context.Context, id uuid.UUID, status domain.EventStatus) error {
	const op = "postgres.EventRepo.SetStatus"

	tag, err := r.db.Exec(ctx,
		`UPDATE events SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

// Reserve atomically takes q tickets from the event's remaining capacity.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - id: event to reserve from.
//   - q: number of tickets, must be positive.
//
// Returns:
//   - int: remaining available tickets after the reservation.
//   - error: repository.ErrInsufficientInventory if fewer than q remain.
//   - error: repository.ErrNotFound if the event does not exist.
func (r *EventRepo) Reserve(ctx context.Context, id uuid.UUID, q int) (int, error) {
	const op = "postgres.EventRepo.Reserve"

	var available int
	err := r.db.QueryRow(ctx,
		`UPDATE events
		    SET available_tickets = available_tickets - $2, updated_at = now()
		  WHERE id = $1 AND available_tickets >= $2
		  RETURNING available_tickets`,
		id, q,
	).Scan(&available)
	if err == nil {
		return available, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, wrapDBErr(op, err)
	}

	if _, err := r.Get(ctx, id); err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	return 0, fmt.Errorf("%s:%w", op, repository.ErrInsufficientInventory)
}

// Release atomically returns q tickets to the event, never exceeding the quota.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - id: event to release to.
//   - q: number of tickets.
//
// Returns:
//   - int: available tickets after the release.
//   - error: repository.ErrNotFound if the event does not exist.
func (r *EventRepo) Release(ctx context.Context, id uuid.UUID, q int) (int, error) {
	const op = "postgres.EventRepo.Release"

	var available int
	err := r.db.QueryRow(ctx,
		`UPDATE events
		    SET available_tickets = LEAST(quota, available_tickets + $2), updated_at = now()
		  WHERE id = $1
		  RETURNING available_tickets`,
		id, q,
	).Scan(&available)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return available, nil
}

func (r *EventRepo) AllocateSeats(ctx context.Context, id uuid.UUID, q int) (int, error) {
	const op = "postgres.EventRepo.AllocateSeats"

	var next int
	err := r.db.QueryRow(ctx,
		`UPDATE events SET ticket_seq = ticket_seq + $2
		  WHERE id = $1
		  RETURNING ticket_seq`,
		id, q,
	).Scan(&next)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return next - q, nil
}
