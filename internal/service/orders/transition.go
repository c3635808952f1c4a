package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkout/internal/domain"
	"github.com/kirinyoku/tix-checkout/internal/metrics"
	"github.com/kirinyoku/tix-checkout/internal/repository"
	"github.com/kirinyoku/tix-checkout/internal/uow"
)

// TransitionContext describes who moved an order and why.
type TransitionContext struct {
	Reason string
	Actor  string
}

var edges = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderPending:         {domain.OrderAwaitingPayment, domain.OrderCancelled, domain.OrderExpired},
	domain.OrderAwaitingPayment: {domain.OrderPaid, domain.OrderCancelled, domain.OrderExpired},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to domain.OrderStatus) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves an order to status to. Moving an order to the status it
// already has changes nothing and returns it as is.
//
// Leaving for CANCELLED or EXPIRED returns the order's tickets to the event
// and cancels issued tickets in the same transaction. Reaching PAID issues
// tickets and confirms the payment to the buyer after commit.
//
// Parameters:
//   - ctx: request-scoped context.
//   - orderID: ID of the order.
//   - to: target status.
//   - tc: reason and actor recorded with the change.
//
// Returns:
//   - *domain.Order: the order after the call.
//   - error: orders.ErrInvalidTransition if the edge is not allowed.
//   - error: orders.ErrOrderNotFound if the order does not exist.
//   - error: *orders.SideEffectError, together with the committed order, if a
//     follow-up action failed.
func (s *Service) Transition(
	ctx context.Context,
	orderID uuid.UUID,
	to domain.OrderStatus,
	tc TransitionContext,
) (*domain.Order, error) {
	return s.transition(ctx, orderID, to, tc, nil)
}

// lockedCheck runs against the row-locked order inside the transition
// transaction, before anything is written.
type lockedCheck func(ctx context.Context, tx repository.Repos, locked *domain.Order) error

func (s *Service) transition(
	ctx context.Context,
	orderID uuid.UUID,
	to domain.OrderStatus,
	tc TransitionContext,
	check lockedCheck,
) (*domain.Order, error) {
	const op = "service.orders.Transition"

	var (
		order   *domain.Order
		changed bool
	)

	err := s.store.Do(ctx, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		locked, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrOrderNotFound
			}
			return err
		}

		if check != nil {
			if err := check(ctx, tx, locked); err != nil {
				return err
			}
		}

		order, changed, err = s.apply(ctx, tx, after, locked, to, tc)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if !changed || to != domain.OrderPaid {
		return order, nil
	}

	if err := s.afterPaid(ctx, order); err != nil {
		return order, &SideEffectError{OrderID: order.ID, Err: err}
	}

	return order, nil
}

// apply performs the transition of a locked order inside tx. It reports
// whether anything changed.
func (s *Service) apply(
	ctx context.Context,
	tx repository.Repos,
	after func(uow.AfterCommit),
	o *domain.Order,
	to domain.OrderStatus,
	tc TransitionContext,
) (*domain.Order, bool, error) {
	if o.Status == to {
		return o, false, nil
	}

	if !CanTransition(o.Status, to) {
		return nil, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}

	from := o.Status

	updated, err := tx.Orders().UpdateStatus(ctx, repository.OrderStatusUpdate{
		ID:     o.ID,
		From:   from,
		To:     to,
		At:     s.now(),
		Reason: tc.Reason,
	})
	if err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil, false, fmt.Errorf("%w: %w", ErrInvalidTransition, err)
		}
		return nil, false, err
	}

	if to == domain.OrderCancelled || to == domain.OrderExpired {
		available, err := s.ledger.Release(ctx, tx, o.EventID, o.Quantity)
		if err != nil {
			return nil, false, err
		}

		if _, err := s.tickets.CancelForOrder(ctx, tx, o.ID); err != nil {
			return nil, false, err
		}

		after(func(ctx context.Context) {
			s.ledger.Changed(ctx, o.EventID, available)
		})
	}

	if err := addEvent(ctx, tx, "order."+strings.ToLower(string(to)), updated, tc); err != nil {
		return nil, false, err
	}

	after(func(ctx context.Context) {
		metrics.OrderTransition(string(from), string(to))

		s.log.Info("order transitioned",
			"order_id", updated.ID,
			"from", from,
			"to", to,
			"actor", tc.Actor,
		)

		if s.pubsub == nil {
			return
		}
		if err := s.pubsub.PublishOrderStatus(ctx, updated.ID, to); err != nil {
			s.log.Warn("publishing order status failed", "order_id", updated.ID, "error", err)
		}
	})

	return updated, true, nil
}

func (s *Service) afterPaid(ctx context.Context, o *domain.Order) error {
	var errs []error

	if _, err := s.tickets.IssueForOrder(ctx, o.ID); err != nil {
		s.log.Error("ticket issuance failed", "order_id", o.ID, "error", err)
		errs = append(errs, err)
	}

	if err := s.notifier.Send(ctx, s.paymentSuccess(ctx, o)); err != nil {
		s.log.Warn("payment confirmation failed", "order_id", o.ID, "error", err)
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

type orderEvent struct {
	OrderID     uuid.UUID          `json:"order_id"`
	OrderNumber string             `json:"order_number"`
	BuyerID     string             `json:"buyer_id"`
	EventID     uuid.UUID          `json:"event_id"`
	Quantity    int                `json:"quantity"`
	TotalAmount string             `json:"total_amount"`
	Status      domain.OrderStatus `json:"status"`
	Reason      string             `json:"reason,omitempty"`
	Actor       string             `json:"actor,omitempty"`
}

// addEvent records an order event in the outbox within tx.
func addEvent(ctx context.Context, tx repository.Repos, typ string, o *domain.Order, tc TransitionContext) error {
	payload, err := json.Marshal(orderEvent{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		BuyerID:     o.BuyerID,
		EventID:     o.EventID,
		Quantity:    o.Quantity,
		TotalAmount: o.TotalAmount.String(),
		Status:      o.Status,
		Reason:      tc.Reason,
		Actor:       tc.Actor,
	})
	if err != nil {
		return err
	}

	return tx.Outbox().Add(ctx, &domain.OutboxEvent{
		ID:          uuid.New(),
		AggregateID: o.ID,
		Type:        typ,
		Payload:     payload,
	})
}
