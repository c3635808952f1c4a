// Package webhook applies payment provider callbacks to payments and orders.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkout/internal/domain"
	"github.com/kirinyoku/tix-checkout/internal/metrics"
	"github.com/kirinyoku/tix-checkout/internal/repository"
	"github.com/kirinyoku/tix-checkout/internal/service/notify"
	"github.com/kirinyoku/tix-checkout/internal/service/orders"
	"github.com/kirinyoku/tix-checkout/internal/service/payment"
)

const reminderLead = 24 * time.Hour

// Outcomes reported in Ack.Result and the webhook metric.
const (
	ResultApplied   = "applied"
	ResultDuplicate = "duplicate"
	ResultStale     = "stale"
	ResultIgnored   = "ignored"
	ResultRejected  = "rejected"
	ResultFailed    = "failed"
)

type Transitioner interface {
	Transition(ctx context.Context, orderID uuid.UUID, to domain.OrderStatus, tc orders.TransitionContext) (*domain.Order, error)
}

type Notifier interface {
	Send(ctx context.Context, msg notify.Message) error
	Schedule(ctx context.Context, msg notify.Message, at time.Time) error
}

// Simulator is implemented by gateways that can settle payments on demand.
type Simulator interface {
	Simulate(ref, status, method string) ([]byte, error)
}

// Ack is the answer to a callback. Providers always get HTTP 200; Success
// tells whether the callback was fully processed.
type Ack struct {
	Success       bool                 `json:"success"`
	Result        string               `json:"result"`
	Message       string               `json:"message,omitempty"`
	ReferenceID   string               `json:"reference_id,omitempty"`
	PaymentStatus domain.PaymentStatus `json:"payment_status,omitempty"`
	OrderID       uuid.UUID            `json:"order_id,omitzero"`
	OrderStatus   domain.OrderStatus   `json:"order_status,omitempty"`
}

type Processor struct {
	repos    repository.Repos
	gateway  payment.Gateway
	orders   Transitioner
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
}

func New(
	repos repository.Repos,
	gateway payment.Gateway,
	orders Transitioner,
	notifier Notifier,
	log *slog.Logger,
) *Processor {
	return &Processor{
		repos:    repos,
		gateway:  gateway,
		orders:   orders,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// Handle authenticates a provider callback and applies it.
//
// Parameters:
//   - ctx: request-scoped context.
//   - payload: raw request body.
//   - token: callback token or signature header.
//
// Returns:
//   - *Ack: the outcome, never nil. Authentic events of a type this service
//     does not act on are acknowledged as ignored.
//   - error: webhook.ErrAuthentication if the callback is not authentic or
//     cannot be parsed.
func (p *Processor) Handle(ctx context.Context, payload []byte, token string) (*Ack, error) {
	const op = "service.webhook.Handle"

	cb, err := p.gateway.ParseCallback(payload, token)
	if errors.Is(err, payment.ErrIgnoredEvent) {
		metrics.Webhook(ResultIgnored)
		p.log.Debug("callback ignored", "provider", p.gateway.Provider(), "reason", err)
		return &Ack{Success: true, Result: ResultIgnored, Message: "event not handled"}, nil
	}
	if err != nil {
		metrics.Webhook(ResultRejected)
		p.log.Warn("callback rejected", "provider", p.gateway.Provider(), "error", err)
		return &Ack{Result: ResultRejected, Message: "invalid callback"}, fmt.Errorf("%s:%w: %w", op, ErrAuthentication, err)
	}

	return p.apply(ctx, cb), nil
}

// Simulate settles a mock payment and feeds the resulting callback through
// Handle.
//
// Returns:
//   - error: webhook.ErrSimulationUnsupported outside mock mode.
//   - error: webhook.ErrPaymentNotFound if ref is unknown.
//   - error: webhook.ErrInvalidStatus if status is not terminal.
func (p *Processor) Simulate(ctx context.Context, ref, status, method string) (*Ack, error) {
	const op = "service.webhook.Simulate"

	sim, ok := p.gateway.(Simulator)
	if !ok {
		return nil, fmt.Errorf("%s:%w", op, ErrSimulationUnsupported)
	}

	if !payment.MapStatus(status).Terminal() {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidStatus)
	}

	if _, err := p.payment(ctx, ref); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	payload, err := sim.Simulate(ref, status, method)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	ack, err := p.Handle(ctx, payload, "")
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return ack, nil
}

// Reconcile polls the provider for the payment's status and applies it like
// a callback.
//
// Returns:
//   - error: webhook.ErrPaymentNotFound if ref is unknown.
//   - error: the gateway error if the provider could not be reached.
func (p *Processor) Reconcile(ctx context.Context, ref string) (*Ack, error) {
	const op = "service.webhook.Reconcile"

	pay, err := p.payment(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	snap, err := p.gateway.CheckStatus(ctx, pay)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	cb := payment.Callback(*snap)
	if cb.ReferenceID == "" {
		cb.ReferenceID = ref
	}

	return p.apply(ctx, &cb), nil
}

func (p *Processor) payment(ctx context.Context, ref string) (*domain.Payment, error) {
	pay, err := p.repos.Payments().GetByReference(ctx, ref)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return pay, nil
}

func (p *Processor) apply(ctx context.Context, cb *payment.Callback) *Ack {
	ack := p.process(ctx, cb)
	metrics.Webhook(ack.Result)
	return ack
}

func (p *Processor) process(ctx context.Context, cb *payment.Callback) *Ack {
	ack := &Ack{ReferenceID: cb.ReferenceID}

	pay, err := p.payment(ctx, cb.ReferenceID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			ack.Success, ack.Result, ack.Message = true, ResultIgnored, "unknown reference"
			return ack
		}
		p.log.Error("loading payment failed", "reference_id", cb.ReferenceID, "error", err)
		ack.Result, ack.Message = ResultFailed, "payment lookup failed"
		return ack
	}

	ack.OrderID = pay.OrderID
	ack.PaymentStatus = pay.Status
	p.fillOrderStatus(ctx, ack)

	status := payment.MapStatus(cb.Status)

	if status == pay.Status {
		ack.Success, ack.Result = true, ResultDuplicate
		return ack
	}

	if pay.Status.Terminal() {
		p.log.Warn("stale callback ignored",
			"reference_id", pay.ReferenceID,
			"current", pay.Status,
			"received", status,
		)
		ack.Success, ack.Result, ack.Message = true, ResultStale, "payment already settled"
		return ack
	}

	channel, code := payment.Classify(cb)

	meta := domain.Metadata{}
	maps.Copy(meta, cb.Raw)
	if cb.ProviderID != "" {
		meta["provider_payment_id"] = cb.ProviderID
	}
	if cb.PaymentMethod != "" {
		meta["payment_method"] = cb.PaymentMethod
	}

	upd := repository.PaymentStatusUpdate{
		ID:          pay.ID,
		Status:      status,
		Channel:     channel,
		ChannelCode: code,
		Metadata:    meta,
	}
	if status == domain.PaymentPaid {
		paidAt := p.now()
		if cb.PaidAt != nil {
			paidAt = *cb.PaidAt
		}
		upd.PaidAt = &paidAt
	}

	updated, err := p.repos.Payments().UpdateStatus(ctx, upd)
	if err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			ack.Success, ack.Result = true, ResultDuplicate
			return ack
		}
		p.log.Error("recording payment status failed", "reference_id", pay.ReferenceID, "error", err)
		ack.Result, ack.Message = ResultFailed, "payment update failed"
		return ack
	}

	ack.PaymentStatus = updated.Status
	p.log.Info("payment status recorded",
		"reference_id", updated.ReferenceID,
		"order_id", updated.OrderID,
		"status", updated.Status,
		"channel", updated.Channel,
	)

	switch status {
	case domain.PaymentPaid:
		return p.paid(ctx, ack, updated)
	case domain.PaymentFailed, domain.PaymentExpired:
		return p.failed(ctx, ack, updated)
	}

	ack.Success, ack.Result = true, ResultApplied
	return ack
}

func (p *Processor) paid(ctx context.Context, ack *Ack, pay *domain.Payment) *Ack {
	order, err := p.orders.Transition(ctx, pay.OrderID, domain.OrderPaid, orders.TransitionContext{
		Reason: "payment " + pay.ReferenceID + " settled",
		Actor:  "webhook",
	})
	if order != nil {
		ack.OrderStatus = order.Status
	}

	var side *orders.SideEffectError
	switch {
	case errors.As(err, &side):
		p.log.Error("paid order side effects failed", "order_id", pay.OrderID, "error", err)
		ack.Result, ack.Message = ResultFailed, "order paid, follow-up pending"
		p.scheduleReminder(ctx, order)
		return ack
	case errors.Is(err, orders.ErrInvalidTransition):
		p.log.Error("payment settled for closed order, refund required",
			"order_id", pay.OrderID,
			"reference_id", pay.ReferenceID,
			"order_status", ack.OrderStatus,
		)
		ack.Result, ack.Message = ResultFailed, "order is no longer payable"
		return ack
	case err != nil:
		p.log.Error("marking order paid failed", "order_id", pay.OrderID, "error", err)
		ack.Result, ack.Message = ResultFailed, "order update failed"
		return ack
	}

	p.scheduleReminder(ctx, order)

	ack.Success, ack.Result = true, ResultApplied
	return ack
}

func (p *Processor) failed(ctx context.Context, ack *Ack, pay *domain.Payment) *Ack {
	if ack.OrderStatus == domain.OrderCancelled || ack.OrderStatus == domain.OrderExpired {
		ack.Success, ack.Result = true, ResultApplied
		return ack
	}

	order, err := p.orders.Transition(ctx, pay.OrderID, domain.OrderExpired, orders.TransitionContext{
		Reason: "payment " + string(pay.Status),
		Actor:  "webhook",
	})
	if err != nil {
		p.log.Error("expiring order after failed payment failed", "order_id", pay.OrderID, "error", err)
		ack.Result, ack.Message = ResultFailed, "order update failed"
		return ack
	}
	ack.OrderStatus = order.Status

	if err := p.notifier.Send(ctx, notify.Message{
		Category: domain.CategoryPaymentFailed,
		UserID:   order.BuyerID,
		Email:    order.BuyerEmail,
		Title:    "Payment not completed",
		Body:     fmt.Sprintf("The payment for order %s was not completed and the order was released.", order.OrderNumber),
		Payload:  domain.Metadata{"order_id": order.ID.String(), "reference_id": pay.ReferenceID},
	}); err != nil {
		p.log.Warn("payment failure notification failed", "order_id", order.ID, "error", err)
	}

	ack.Success, ack.Result = true, ResultApplied
	return ack
}

// scheduleReminder queues the event reminder for a paid order 24h before the
// event starts, unless that moment has passed.
func (p *Processor) scheduleReminder(ctx context.Context, order *domain.Order) {
	if order == nil {
		return
	}

	event, err := p.repos.Events().Get(ctx, order.EventID)
	if err != nil {
		p.log.Warn("loading event for reminder failed", "event_id", order.EventID, "error", err)
		return
	}

	at := event.StartsAt.Add(-reminderLead)
	if !at.After(p.now()) {
		return
	}

	if err := p.notifier.Schedule(ctx, notify.Message{
		Category: domain.CategoryEventReminder,
		UserID:   order.BuyerID,
		Email:    order.BuyerEmail,
		Title:    "Reminder: " + event.Title,
		Body: fmt.Sprintf("%s starts %s at %s. Bring the tickets of order %s.",
			event.Title, event.StartsAt.Format(time.RFC1123), event.Location, order.OrderNumber),
		Payload: domain.Metadata{"order_id": order.ID.String(), "event_id": event.ID.String()},
	}, at); err != nil {
		p.log.Warn("scheduling reminder failed", "order_id", order.ID, "error", err)
	}
}

func (p *Processor) fillOrderStatus(ctx context.Context, ack *Ack) {
	if o, err := p.repos.Orders().Get(ctx, ack.OrderID); err == nil {
		ack.OrderStatus = o.Status
	}
}
