package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kirinyoku/tix-checkout/internal/domain"
	"github.com/kirinyoku/tix-checkout/internal/repository"
)

type TicketRepo struct {
	db DB
}

const ticketColumns = `id, order_id, event_id, buyer_id, ticket_number, seat_number, status,
	checked_in, checked_in_at, checked_in_by, qr_code_url, pdf_url, created_at, updated_at`

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var t domain.Ticket
	err := row.Scan(
		&t.ID, &t.OrderID, &t.EventID, &t.BuyerID, &t.TicketNumber, &t.SeatNumber, &t.Status,
		&t.CheckedIn, &t.CheckedInAt, &t.CheckedInBy, &t.QRCodeURL, &t.PDFURL, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateBatch inserts all tickets with a single round trip.
//
// Returns:
//   - error: repository.ErrConflict if a ticket number or an event seat is taken.
func (r *TicketRepo) CreateBatch(ctx context.Context, tickets []domain.Ticket) error {
	const op = "postgres.TicketRepo.CreateBatch"

	if len(tickets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, t := range tickets {
		batch.Queue(
			`INSERT INTO tickets(id, order_id, event_id, buyer_id, ticket_number, seat_number, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			t.ID, t.OrderID, t.EventID, t.BuyerID, t.TicketNumber, t.SeatNumber, t.Status,
		)
	}

	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func (r *TicketRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Ticket, error) {
	const op = "postgres.TicketRepo.ListByOrder"

	rows, err := r.db.Query(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE order_id = $1 ORDER BY ticket_number`,
		orderID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

func (r *TicketRepo) CountByOrder(ctx context.Context, orderID uuid.UUID) (int, error) {
	const op = "postgres.TicketRepo.CountByOrder"

	var n int
	if err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM tickets WHERE order_id = $1`, orderID,
	).Scan(&n); err != nil {
		return 0, wrapDBErr(op, err)
	}

	return n, nil
}

func (r *TicketRepo) GetByNumber(ctx context.Context, number string) (*domain.Ticket, error) {
	const op = "postgres.TicketRepo.GetByNumber"

	t, err := scanTicket(r.db.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE ticket_number = $1`, number,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return t, nil
}

func (r *TicketRepo) SetArtifacts(ctx context.Context, id uuid.UUID, qrURL, pdfURL string) error {
	const op = "postgres.TicketRepo.SetArtifacts"

	tag, err := r.db.Exec(ctx,
		`UPDATE tickets SET qr_code_url = $2, pdf_url = $3, updated_at = now() WHERE id = $1`,
		id, qrURL, pdfURL,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

func (r *TicketRepo) DeleteByIDs(ctx context.Context, ids []uuid.UUID) error {
	const op = "postgres.TicketRepo.DeleteByIDs"

	if len(ids) == 0 {
		return nil
	}

	if _, err := r.db.Exec(ctx, `DELETE FROM tickets WHERE id = ANY($1)`, ids); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func (r *TicketRepo) CancelByOrder(ctx context.Context, orderID uuid.UUID) (int64, error) {
	const op = "postgres.TicketRepo.CancelByOrder"

	tag, err := r.db.Exec(ctx,
		`UPDATE tickets SET status = 'CANCELLED', updated_at = now()
		  WHERE order_id = $1 AND status = 'ACTIVE'`,
		orderID,
	)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return tag.RowsAffected(), nil
}

func (r *TicketRepo) CancelByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	const op = "postgres.TicketRepo.CancelByIDs"

	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE tickets SET status = 'CANCELLED', updated_at = now()
		  WHERE id = ANY($1) AND status NOT IN ('USED', 'CANCELLED')`,
		ids,
	)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return tag.RowsAffected(), nil
}

// CheckIn marks a ticket as used at the gate.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - number: ticket number printed on the ticket.
//   - operator: id of the staff member scanning the ticket.
//   - at: check-in time.
//
// Returns:
//   - *domain.Ticket: the checked-in ticket.
//   - error: repository.ErrStaleState if the ticket is not ACTIVE or already checked in.
//   - error: repository.ErrNotFound if the ticket does not exist.
func (r *TicketRepo) CheckIn(ctx context.Context, number, operator string, at time.Time) (*domain.Ticket, error) {
	const op = "postgres.TicketRepo.CheckIn"

	t, err := scanTicket(r.db.QueryRow(ctx,
		`UPDATE tickets
		    SET status = 'USED', checked_in = true, checked_in_at = $3, checked_in_by = $2,
		        updated_at = $3
		  WHERE ticket_number = $1 AND status = 'ACTIVE' AND NOT checked_in
		  RETURNING `+ticketColumns,
		number, operator, at,
	))
	if err == nil {
		return t, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, wrapDBErr(op, err)
	}

	if _, err := r.GetByNumber(ctx, number); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return nil, fmt.Errorf("%s:%w", op, repository.ErrStaleState)
}
