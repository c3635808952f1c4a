package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkout/internal/domain"
)

type OutboxRepo struct {
	db DB
}

func (r *OutboxRepo) Add(ctx context.Context, e *domain.OutboxEvent) error {
	const op = "postgres.OutboxRepo.Add"

	err := r.db.QueryRow(ctx,
		`INSERT INTO outbox_events(id, aggregate_id, event_type, payload, status)
		 VALUES ($1, $2, $3, $4, 'pending')
		 RETURNING created_at`,
		e.ID, e.AggregateID, e.Type, []byte(e.Payload),
	).Scan(&e.CreatedAt)

	return wrapDBErr(op, err)
}

func (r *OutboxRepo) ClaimPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	const op = "postgres.OutboxRepo.ClaimPending"

	rows, err := r.db.Query(ctx,
		`SELECT id, aggregate_id, event_type, payload, status, attempts, last_error, created_at
		   FROM outbox_events
		  WHERE status = 'pending'
		  ORDER BY created_at
		  LIMIT $1
		  FOR UPDATE SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		var payload []byte
		if err := rows.Scan(
			&e.ID, &e.AggregateID, &e.Type, &payload, &e.Status, &e.Attempts, &e.LastError, &e.CreatedAt,
		); err != nil {
			return nil, wrapDBErr(op, err)
		}
		e.Payload = payload
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

func (r *OutboxRepo) MarkProduced(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	const op = "postgres.OutboxRepo.MarkProduced"

	if len(ids) == 0 {
		return nil
	}

	if _, err := r.db.Exec(ctx,
		`UPDATE outbox_events SET status = 'produced', produced_at = $2 WHERE id = ANY($1)`,
		ids, at,
	); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// MarkFailed records a delivery attempt. The event stays pending until it
// has been tried maxAttempts times.
func (r *OutboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string, maxAttempts int) error {
	const op = "postgres.OutboxRepo.MarkFailed"

	if _, err := r.db.Exec(ctx,
		`UPDATE outbox_events
		    SET attempts = attempts + 1,
		        last_error = $2,
		        status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE status END
		  WHERE id = $1`,
		id, reason, maxAttempts,
	); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}
