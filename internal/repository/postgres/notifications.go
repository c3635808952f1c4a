package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kirinyoku/tix-checkout/internal/domain"
	"github.com/kirinyoku/tix-checkout/internal/repository"
)

type NotificationRepo struct {
	db DB
}

const notificationColumns = `id, user_id, recipient, type, category, title, message, payload,
	status, scheduled_at, sent_at, error, created_at`

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	err := row.Scan(
		&n.ID, &n.UserID, &n.Recipient, &n.Type, &n.Category, &n.Title, &n.Message, &n.Payload,
		&n.Status, &n.ScheduledAt, &n.SentAt, &n.Error, &n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *NotificationRepo) list(ctx context.Context, op, sql string, args ...any) ([]domain.Notification, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

func (r *NotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	const op = "postgres.NotificationRepo.Create"

	if n.Payload == nil {
		n.Payload = domain.Metadata{}
	}

	err := r.db.QueryRow(ctx,
		`INSERT INTO notifications(id, user_id, recipient, type, category, title, message,
		                           payload, status, scheduled_at, sent_at, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING created_at`,
		n.ID, n.UserID, n.Recipient, n.Type, n.Category, n.Title, n.Message,
		n.Payload, n.Status, n.ScheduledAt, n.SentAt, n.Error,
	).Scan(&n.CreatedAt)

	return wrapDBErr(op, err)
}

func (r *NotificationRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	return r.list(ctx, "postgres.NotificationRepo.ListDue",
		`SELECT `+notificationColumns+`
		   FROM notifications
		  WHERE status = 'pending' AND type = 'email'
		    AND scheduled_at IS NOT NULL AND scheduled_at <= $1
		  ORDER BY scheduled_at
		  LIMIT $2`,
		now, limit,
	)
}

func (r *NotificationRepo) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	const op = "postgres.NotificationRepo.MarkSent"

	if _, err := r.db.Exec(ctx,
		`UPDATE notifications SET status = 'sent', sent_at = $2, error = '' WHERE id = $1`,
		id, at,
	); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func (r *NotificationRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	const op = "postgres.NotificationRepo.MarkFailed"

	if _, err := r.db.Exec(ctx,
		`UPDATE notifications SET status = 'failed', error = $2 WHERE id = $1`,
		id, reason,
	); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func (r *NotificationRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Notification, error) {
	return r.list(ctx, "postgres.NotificationRepo.ListByUser",
		`SELECT `+notificationColumns+`
		   FROM notifications
		  WHERE user_id = $1 AND type = 'in_app'
		  ORDER BY created_at DESC
		  LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
}

func (r *NotificationRepo) MarkRead(ctx context.Context, id uuid.UUID, userID string) error {
	const op = "postgres.NotificationRepo.MarkRead"

	tag, err := r.db.Exec(ctx,
		`UPDATE notifications SET status = 'read' WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}
