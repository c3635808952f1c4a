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

type PaymentRepo struct {
	db DB
}

const paymentColumns = `id, order_id, provider, payment_type, channel, channel_code, reference_id,
	amount, status, redirect_url, paid_at, metadata, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID, &p.OrderID, &p.Provider, &p.Type, &p.Channel, &p.ChannelCode, &p.ReferenceID,
		&p.Amount, &p.Status, &p.RedirectURL, &p.PaidAt, &p.Metadata, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts the payment for an order.
//
// Returns:
//   - error: repository.ErrConflict if the order already has a payment or the
//     reference id is taken.
func (r *PaymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	const op = "postgres.PaymentRepo.Create"

	if p.Metadata == nil {
		p.Metadata = domain.Metadata{}
	}

	err := r.db.QueryRow(ctx,
		`INSERT INTO payments(id, order_id, provider, payment_type, channel, channel_code,
		                      reference_id, amount, status, redirect_url, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING created_at, updated_at`,
		p.ID, p.OrderID, p.Provider, p.Type, p.Channel, p.ChannelCode,
		p.ReferenceID, p.Amount, p.Status, p.RedirectURL, p.Metadata,
	).Scan(&p.CreatedAt, &p.UpdatedAt)

	return wrapDBErr(op, err)
}

func (r *PaymentRepo) GetByReference(ctx context.Context, referenceID string) (*domain.Payment, error) {
	const op = "postgres.PaymentRepo.GetByReference"

	p, err := scanPayment(r.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE reference_id = $1`, referenceID,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return p, nil
}

func (r *PaymentRepo) GetByOrder(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	const op = "postgres.PaymentRepo.GetByOrder"

	p, err := scanPayment(r.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return p, nil
}

// UpdateStatus applies a provider status to a payment that is still PENDING.
// Metadata is merged into the stored document.
//
// Returns:
//   - *domain.Payment: the updated payment.
//   - error: repository.ErrStaleState if another delivery already moved it.
//   - error: repository.ErrNotFound if the payment does not exist.
func (r *PaymentRepo) UpdateStatus(ctx context.Context, u repository.PaymentStatusUpdate) (*domain.Payment, error) {
	const op = "postgres.PaymentRepo.UpdateStatus"

	if u.Metadata == nil {
		u.Metadata = domain.Metadata{}
	}

	p, err := scanPayment(r.db.QueryRow(ctx,
		`UPDATE payments
		    SET status = $2,
		        channel = COALESCE(NULLIF($3, ''), channel),
		        channel_code = COALESCE(NULLIF($4, ''), channel_code),
		        paid_at = COALESCE($5, paid_at),
		        metadata = metadata || $6,
		        updated_at = now()
		  WHERE id = $1 AND status = 'PENDING'
		  RETURNING `+paymentColumns,
		u.ID, u.Status, string(u.Channel), u.ChannelCode, u.PaidAt, u.Metadata,
	))
	if err == nil {
		return p, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, wrapDBErr(op, err)
	}

	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, u.ID,
	).Scan(&exists); err != nil {
		return nil, wrapDBErr(op, err)
	}

	if !exists {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil, fmt.Errorf("%s:%w", op, repository.ErrStaleState)
}
