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

type OrderRepo struct {
	db DB
}

const orderColumns = `o.id, o.order_number, o.invoice_number, o.buyer_id, o.buyer_email, o.event_id, o.quantity,
	o.unit_price, o.total_amount, o.status, o.expires_at, o.paid_at, o.cancelled_at,
	o.cancel_reason, o.created_at, o.updated_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.InvoiceNumber, &o.BuyerID, &o.BuyerEmail, &o.EventID, &o.Quantity,
		&o.UnitPrice, &o.TotalAmount, &o.Status, &o.ExpiresAt, &o.PaidAt, &o.CancelledAt,
		&o.CancelReason, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]domain.Order, error) {
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}

	return out, rows.Err()
}

func (r *OrderRepo) Create(ctx context.Context, o *domain.Order) error {
	const op = "postgres.OrderRepo.Create"

	err := r.db.QueryRow(ctx,
		`INSERT INTO orders(id, order_number, invoice_number, buyer_id, buyer_email, event_id, quantity,
		                    unit_price, total_amount, status, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING created_at, updated_at`,
		o.ID, o.OrderNumber, o.InvoiceNumber, o.BuyerID, o.BuyerEmail, o.EventID, o.Quantity,
		o.UnitPrice, o.TotalAmount, o.Status, o.ExpiresAt,
	).Scan(&o.CreatedAt, &o.UpdatedAt)

	return wrapDBErr(op, err)
}

func (r *OrderRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	const op = "postgres.OrderRepo.Get"

	o, err := scanOrder(r.db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders o WHERE o.id = $1`, id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return o, nil
}

// GetForUpdate loads the order and locks its row until the surrounding
// transaction ends.
func (r *OrderRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	const op = "postgres.OrderRepo.GetForUpdate"

	o, err := scanOrder(r.db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders o WHERE o.id = $1 FOR UPDATE`, id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return o, nil
}

// UpdateStatus moves an order from u.From to u.To.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - u: the expected current status, the new status and the transition time.
//
// Returns:
//   - *domain.Order: the updated order.
//   - error: repository.ErrStaleState if the order is no longer in u.From.
//   - error: repository.ErrNotFound if the order does not exist.
func (r *OrderRepo) UpdateStatus(ctx context.Context, u repository.OrderStatusUpdate) (*domain.Order, error) {
	const op = "postgres.OrderRepo.UpdateStatus"

	o, err := scanOrder(r.db.QueryRow(ctx,
		`UPDATE orders o
		    SET status = $3,
		        paid_at = CASE WHEN $3 = 'PAID' THEN $4 ELSE o.paid_at END,
		        cancelled_at = CASE WHEN $3 IN ('CANCELLED', 'EXPIRED') THEN $4 ELSE o.cancelled_at END,
		        cancel_reason = CASE WHEN $3 IN ('CANCELLED', 'EXPIRED') THEN $5 ELSE o.cancel_reason END,
		        updated_at = $4
		  WHERE o.id = $1 AND o.status = $2
		  RETURNING `+orderColumns,
		u.ID, u.From, u.To, u.At, u.Reason,
	))
	if err == nil {
		return o, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, wrapDBErr(op, err)
	}

	if _, err := r.Get(ctx, u.ID); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return nil, fmt.Errorf("%s:%w", op, repository.ErrStaleState)
}

// DeletePending hard-deletes an order that is still PENDING. It is only used
// to compensate a failed checkout.
func (r *OrderRepo) DeletePending(ctx context.Context, id uuid.UUID) (bool, error) {
	const op = "postgres.OrderRepo.DeletePending"

	tag, err := r.db.Exec(ctx,
		`DELETE FROM orders WHERE id = $1 AND status = 'PENDING'`, id,
	)
	if err != nil {
		return false, wrapDBErr(op, err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *OrderRepo) ListByBuyer(ctx context.Context, f repository.OrderFilter) ([]domain.Order, error) {
	const op = "postgres.OrderRepo.ListByBuyer"

	rows, err := r.db.Query(ctx,
		`SELECT `+orderColumns+`
		   FROM orders o
		  WHERE o.buyer_id = $1 AND ($2 = '' OR o.status = $2)
		  ORDER BY o.created_at DESC
		  LIMIT $3 OFFSET $4`,
		f.BuyerID, string(f.Status), f.Limit, f.Offset,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return orders, nil
}

// ListExpired returns unpaid orders past their deadline whose payment has
// not been confirmed.
func (r *OrderRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Order, error) {
	const op = "postgres.OrderRepo.ListExpired"

	rows, err := r.db.Query(ctx,
		`SELECT `+orderColumns+`
		   FROM orders o
		   LEFT JOIN payments p ON p.order_id = o.id
		  WHERE o.status IN ('PENDING', 'AWAITING_PAYMENT')
		    AND o.expires_at < $1
		    AND (p.id IS NULL OR p.status <> 'PAID')
		  ORDER BY o.expires_at
		  LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return orders, nil
}

func (r *OrderRepo) ListPaidWithoutTickets(ctx context.Context, limit int) ([]domain.Order, error) {
	const op = "postgres.OrderRepo.ListPaidWithoutTickets"

	rows, err := r.db.Query(ctx,
		`SELECT `+orderColumns+`
		   FROM orders o
		  WHERE o.status = 'PAID'
		    AND NOT EXISTS (SELECT 1 FROM tickets t WHERE t.order_id = o.id)
		  ORDER BY o.paid_at
		  LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return orders, nil
}

func (r *OrderRepo) ListAwaitingWithPaidPayment(ctx context.Context, limit int) ([]domain.Order, error) {
	const op = "postgres.OrderRepo.ListAwaitingWithPaidPayment"

	rows, err := r.db.Query(ctx,
		`SELECT `+orderColumns+`
		   FROM orders o
		   JOIN payments p ON p.order_id = o.id
		  WHERE o.status IN ('PENDING', 'AWAITING_PAYMENT') AND p.status = 'PAID'
		  ORDER BY p.paid_at
		  LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return orders, nil
}
