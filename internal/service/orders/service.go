// Package orders owns the order lifecycle: checkout, status transitions and
// buyer-facing reads.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkout/internal/domain"
	"github.com/kirinyoku/tix-checkout/internal/metrics"
	"github.com/kirinyoku/tix-checkout/internal/repository"
	redisrepo "github.com/kirinyoku/tix-checkout/internal/repository/redis"
	"github.com/kirinyoku/tix-checkout/internal/service/notify"
	"github.com/kirinyoku/tix-checkout/internal/service/payment"
	"github.com/kirinyoku/tix-checkout/internal/uow"
)

const numberAttempts = 5

type Config struct {
	OrderTTL    time.Duration
	MaxQuantity int
}

type Ledger interface {
	Reserve(ctx context.Context, tx repository.Repos, eventID uuid.UUID, q int) (int, error)
	Release(ctx context.Context, tx repository.Repos, eventID uuid.UUID, q int) (int, error)
	Changed(ctx context.Context, eventID uuid.UUID, available int)
}

type TicketIssuer interface {
	IssueForOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Ticket, error)
	CancelForOrder(ctx context.Context, tx repository.Repos, orderID uuid.UUID) (int64, error)
}

type Notifier interface {
	Send(ctx context.Context, msg notify.Message) error
}

type StatusPublisher interface {
	PublishOrderStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus) error
}

type Limiter interface {
	Allow(ctx context.Context, id string) (redisrepo.Decision, error)
}

type Service struct {
	store    uow.Store
	ledger   Ledger
	gateway  payment.Gateway
	tickets  TicketIssuer
	notifier Notifier
	pubsub   StatusPublisher
	limiter  Limiter
	log      *slog.Logger
	now      func() time.Time
	newRef   func(time.Time) string
	cfg      Config
}

type Deps struct {
	Store    uow.Store
	Ledger   Ledger
	Gateway  payment.Gateway
	Tickets  TicketIssuer
	Notifier Notifier
	PubSub   StatusPublisher
	Limiter  Limiter
	Log      *slog.Logger
}

// New builds the service. PubSub and Limiter may be nil.
func New(d Deps, cfg Config) *Service {
	if cfg.OrderTTL <= 0 {
		cfg.OrderTTL = time.Hour
	}

	if cfg.MaxQuantity <= 0 {
		cfg.MaxQuantity = 10
	}

	return &Service{
		store:    d.Store,
		ledger:   d.Ledger,
		gateway:  d.Gateway,
		tickets:  d.Tickets,
		notifier: d.Notifier,
		pubsub:   d.PubSub,
		limiter:  d.Limiter,
		log:      d.Log,
		now:      time.Now,
		newRef:   payment.NewReference,
		cfg:      cfg,
	}
}

type CreateOrderInput struct {
	BuyerID    string
	BuyerEmail string
	EventID    uuid.UUID
	Quantity   int
	Method     string
}

// CreateOrder reserves inventory, records a PENDING order and opens a
// payment for it with the gateway. If the payment cannot be opened the order
// is removed and the inventory returned.
//
// Parameters:
//   - ctx: request-scoped context.
//   - in: buyer, event, quantity and preferred payment method.
//
// Returns:
//   - *domain.OrderDetails: the AWAITING_PAYMENT order with its payment.
//   - error: orders.ErrInvalidQuantity if quantity is outside 1..MaxQuantity.
//   - error: orders.ErrRateLimited if the buyer exceeded the order rate.
//   - error: orders.ErrEventNotFound if the event does not exist.
//   - error: orders.ErrEventNotBookable if the event is unpublished or started.
//   - error: orders.ErrInsufficientInventory if too few tickets remain.
//   - error: orders.ErrPaymentCreation if the gateway call failed.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.OrderDetails, error) {
	const op = "service.orders.CreateOrder"

	details, err := s.createOrder(ctx, in)
	metrics.OrderCreated(err)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return details, nil
}

func (s *Service) createOrder(ctx context.Context, in CreateOrderInput) (*domain.OrderDetails, error) {
	if in.BuyerID == "" {
		return nil, ErrMissingBuyer
	}

	if in.Quantity < 1 || in.Quantity > s.cfg.MaxQuantity {
		return nil, ErrInvalidQuantity
	}

	if s.limiter != nil {
		d, err := s.limiter.Allow(ctx, in.BuyerID)
		if err != nil {
			return nil, err
		}
		if !d.Allowed {
			return nil, fmt.Errorf("%w (retry in %s)", ErrRateLimited, d.RetryAfter.Round(time.Second))
		}
	}

	event, err := s.store.Events().Get(ctx, in.EventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}

	if !event.Bookable(s.now()) {
		return nil, ErrEventNotBookable
	}

	if event.AvailableTickets < in.Quantity {
		return nil, ErrInsufficientInventory
	}

	order, err := s.reserve(ctx, in, event)
	if err != nil {
		return nil, err
	}

	ref, err := s.freshReference(ctx)
	if err != nil {
		s.compensate(ctx, order)
		return nil, fmt.Errorf("%w: %w", ErrPaymentCreation, err)
	}

	intent, err := s.gateway.CreateIntent(ctx, payment.IntentRequest{
		ReferenceID:   ref,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		InvoiceNumber: order.InvoiceNumber,
		EventTitle:    event.Title,
		Quantity:      order.Quantity,
		UnitPrice:     order.UnitPrice,
		Amount:        order.TotalAmount,
		BuyerID:       order.BuyerID,
		BuyerEmail:    order.BuyerEmail,
		Method:        in.Method,
	})
	if err != nil {
		s.log.Warn("payment intent failed", "order_id", order.ID, "error", err)
		s.compensate(ctx, order)
		return nil, fmt.Errorf("%w: %w", ErrPaymentCreation, err)
	}

	pay := &domain.Payment{
		ID:          uuid.New(),
		OrderID:     order.ID,
		Provider:    s.gateway.Provider(),
		Type:        domain.PaymentTypeInvoice,
		ReferenceID: intent.ReferenceID,
		Amount:      order.TotalAmount,
		Status:      domain.PaymentPending,
		RedirectURL: intent.RedirectURL,
		Metadata:    intent.Metadata,
	}

	var awaiting *domain.Order
	err = s.store.Do(ctx, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		if err := tx.Payments().Create(ctx, pay); err != nil {
			return err
		}

		locked, err := tx.Orders().GetForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}

		awaiting, _, err = s.apply(ctx, tx, after, locked, domain.OrderAwaitingPayment, TransitionContext{Actor: "system"})
		return err
	})
	if err != nil {
		s.log.Error("recording payment failed", "order_id", order.ID, "reference_id", pay.ReferenceID, "error", err)
		s.compensate(ctx, order)
		if xerr := s.gateway.Expire(context.WithoutCancel(ctx), pay); xerr != nil {
			s.log.Warn("expiring orphaned payment failed", "reference_id", pay.ReferenceID, "error", xerr)
		}
		return nil, fmt.Errorf("%w: %w", ErrPaymentCreation, err)
	}
	order = awaiting

	s.notify(ctx, order, domain.CategoryOrderCreated, "Order created",
		fmt.Sprintf("Order %s for %d ticket(s) to %s was created. Complete your payment of %s at %s before %s.",
			order.OrderNumber, order.Quantity, event.Title, order.TotalAmount.StringFixed(2),
			pay.RedirectURL, order.ExpiresAt.Format(time.RFC1123)),
		domain.Metadata{"redirect_url": pay.RedirectURL})

	s.log.Info("order created",
		"order_id", order.ID,
		"order_number", order.OrderNumber,
		"event_id", order.EventID,
		"quantity", order.Quantity,
	)

	return &domain.OrderDetails{Order: *order, Payment: pay, Tickets: []domain.Ticket{}}, nil
}

// reserve takes q tickets off the event and inserts the PENDING order in one
// transaction. Number collisions retry the whole transaction.
func (s *Service) reserve(ctx context.Context, in CreateOrderInput, event *domain.Event) (*domain.Order, error) {
	var (
		order *domain.Order
		err   error
	)

	for attempt := 1; attempt <= numberAttempts; attempt++ {
		now := s.now()
		order = &domain.Order{
			ID:            uuid.New(),
			OrderNumber:   orderNumber(now),
			InvoiceNumber: invoiceNumber(now),
			BuyerID:       in.BuyerID,
			BuyerEmail:    in.BuyerEmail,
			EventID:       event.ID,
			Quantity:      in.Quantity,
			UnitPrice:     event.Price,
			TotalAmount:   domain.Total(in.Quantity, event.Price),
			Status:        domain.OrderPending,
			ExpiresAt:     now.Add(s.cfg.OrderTTL),
		}

		err = s.store.Do(ctx, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
			available, err := s.ledger.Reserve(ctx, tx, event.ID, in.Quantity)
			if err != nil {
				return err
			}

			if err := tx.Orders().Create(ctx, order); err != nil {
				return err
			}

			if err := addEvent(ctx, tx, "order.created", order, TransitionContext{Actor: order.BuyerID}); err != nil {
				return err
			}

			after(func(ctx context.Context) {
				s.ledger.Changed(ctx, event.ID, available)
			})

			return nil
		})
		if !errors.Is(err, repository.ErrConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	return order, nil
}

// freshReference draws reference ids until one is not yet recorded. The
// unique index on payments still guards the window until the payment row is
// written.
func (s *Service) freshReference(ctx context.Context) (string, error) {
	for range numberAttempts {
		ref := s.newRef(s.now())

		_, err := s.store.Payments().GetByReference(ctx, ref)
		if errors.Is(err, repository.ErrNotFound) {
			return ref, nil
		}
		if err != nil {
			return "", err
		}
		s.log.Warn("payment reference taken, regenerating", "reference_id", ref)
	}

	return "", fmt.Errorf("no free payment reference after %d attempts:%w", numberAttempts, repository.ErrConflict)
}

// compensate removes an order that never got a payment and returns its
// tickets to the event. Only a still PENDING order is touched.
func (s *Service) compensate(ctx context.Context, order *domain.Order) {
	ctx = context.WithoutCancel(ctx)

	err := s.store.Do(ctx, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		deleted, err := tx.Orders().DeletePending(ctx, order.ID)
		if err != nil || !deleted {
			return err
		}

		available, err := s.ledger.Release(ctx, tx, order.EventID, order.Quantity)
		if err != nil {
			return err
		}

		if err := addEvent(ctx, tx, "order.discarded", order, TransitionContext{Actor: "system"}); err != nil {
			return err
		}

		after(func(ctx context.Context) {
			s.ledger.Changed(ctx, order.EventID, available)
		})

		return nil
	})
	if err != nil {
		s.log.Error("order compensation failed", "order_id", order.ID, "error", err)
	}
}

// Get returns an order with its payment and tickets.
//
// Parameters:
//   - ctx: request-scoped context.
//   - orderID: ID of the order.
//   - requester: ID of the calling buyer.
//
// Returns:
//   - *domain.OrderDetails: the order, its payment (if any) and tickets.
//   - error: orders.ErrOrderNotFound if the order does not exist.
//   - error: orders.ErrForbidden if the order belongs to another buyer.
func (s *Service) Get(ctx context.Context, orderID uuid.UUID, requester string) (*domain.OrderDetails, error) {
	const op = "service.orders.Get"

	o, err := s.owned(ctx, orderID, requester)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	details := &domain.OrderDetails{Order: *o}

	p, err := s.store.Payments().GetByOrder(ctx, orderID)
	switch {
	case err == nil:
		details.Payment = p
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	details.Tickets, err = s.store.Tickets().ListByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if details.Tickets == nil {
		details.Tickets = []domain.Ticket{}
	}

	return details, nil
}

func (s *Service) owned(ctx context.Context, orderID uuid.UUID, requester string) (*domain.Order, error) {
	o, err := s.store.Orders().Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	if o.BuyerID != requester {
		return nil, ErrForbidden
	}

	return o, nil
}

// ListByBuyer returns the buyer's orders, newest first. Limit defaults to 20
// and is capped at 100.
func (s *Service) ListByBuyer(ctx context.Context, f repository.OrderFilter) ([]domain.Order, error) {
	const op = "service.orders.ListByBuyer"

	if f.BuyerID == "" {
		return nil, fmt.Errorf("%s:%w", op, ErrMissingBuyer)
	}

	if f.Limit <= 0 {
		f.Limit = 20
	}
	f.Limit = min(f.Limit, 100)
	f.Offset = max(f.Offset, 0)

	list, err := s.store.Orders().ListByBuyer(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return list, nil
}

// Cancel cancels an unpaid order on behalf of its buyer. The payment is
// re-read under the order's row lock, so a settlement recorded before the
// lock is taken wins. A settlement recorded after the cancel commits finds
// the order closed and is logged by the webhook processor for refund.
//
// Parameters:
//   - ctx: request-scoped context.
//   - orderID: ID of the order to cancel.
//   - requester: ID of the calling buyer.
//
// Returns:
//   - *domain.Order: the cancelled order.
//   - error: orders.ErrForbidden if the order belongs to another buyer.
//   - error: orders.ErrAlreadyPaid if the order or its payment is paid.
//   - error: orders.ErrInvalidTransition if the order already ended.
//   - error: *orders.SideEffectError if the cancellation was committed but a
//     follow-up action failed.
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID, requester string) (*domain.Order, error) {
	const op = "service.orders.Cancel"

	o, err := s.owned(ctx, orderID, requester)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if o.Status == domain.OrderPaid {
		return nil, fmt.Errorf("%s:%w", op, ErrAlreadyPaid)
	}

	if o.Status.Terminal() {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidTransition)
	}

	var pay *domain.Payment
	updated, err := s.transition(ctx, orderID, domain.OrderCancelled, TransitionContext{
		Reason: "cancelled by buyer",
		Actor:  requester,
	}, func(ctx context.Context, tx repository.Repos, locked *domain.Order) error {
		if locked.Status == domain.OrderPaid {
			return ErrAlreadyPaid
		}
		if locked.Status.Terminal() {
			return ErrInvalidTransition
		}

		p, err := tx.Payments().GetByOrder(ctx, orderID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil
		case err != nil:
			return err
		case p.Status == domain.PaymentPaid:
			return ErrAlreadyPaid
		}
		pay = p
		return nil
	})
	var side *SideEffectError
	if err != nil && !errors.As(err, &side) {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if pay != nil {
		if xerr := s.gateway.Expire(ctx, pay); xerr != nil {
			s.log.Warn("expiring payment of cancelled order failed", "order_id", orderID, "error", xerr)
		}
	}

	s.notify(ctx, updated, domain.CategoryOrderCancelled, "Order cancelled",
		fmt.Sprintf("Order %s was cancelled.", updated.OrderNumber), nil)

	return updated, err
}

// ResendConfirmation sends the payment confirmation of a paid order again.
//
// Returns:
//   - error: orders.ErrOrderNotPaid if the order is not PAID.
//   - error: orders.ErrNoEmail if the order has no buyer email.
func (s *Service) ResendConfirmation(ctx context.Context, orderID uuid.UUID, requester string) error {
	const op = "service.orders.ResendConfirmation"

	o, err := s.owned(ctx, orderID, requester)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if o.Status != domain.OrderPaid {
		return fmt.Errorf("%s:%w", op, ErrOrderNotPaid)
	}

	if o.BuyerEmail == "" {
		return fmt.Errorf("%s:%w", op, ErrNoEmail)
	}

	if err := s.notifier.Send(ctx, s.paymentSuccess(ctx, o)); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

func (s *Service) paymentSuccess(ctx context.Context, o *domain.Order) notify.Message {
	title := "your event"
	if e, err := s.store.Events().Get(ctx, o.EventID); err == nil {
		title = e.Title
	}

	numbers := []string{}
	if ts, err := s.store.Tickets().ListByOrder(ctx, o.ID); err == nil {
		for _, t := range ts {
			numbers = append(numbers, t.TicketNumber)
		}
	}

	return notify.Message{
		Category: domain.CategoryPaymentSuccess,
		UserID:   o.BuyerID,
		Email:    o.BuyerEmail,
		Title:    "Payment received",
		Body: fmt.Sprintf("We received %s for order %s. Enjoy %s!",
			o.TotalAmount.StringFixed(2), o.OrderNumber, title),
		Payload: domain.Metadata{
			"order_id":     o.ID.String(),
			"order_number": o.OrderNumber,
			"tickets":      numbers,
		},
	}
}

// notify sends a best-effort notification to the order's buyer.
func (s *Service) notify(
	ctx context.Context,
	o *domain.Order,
	category domain.NotificationCategory,
	title, body string,
	payload domain.Metadata,
) {
	if payload == nil {
		payload = domain.Metadata{}
	}
	payload["order_id"] = o.ID.String()
	payload["order_number"] = o.OrderNumber

	err := s.notifier.Send(ctx, notify.Message{
		Category: category,
		UserID:   o.BuyerID,
		Email:    o.BuyerEmail,
		Title:    title,
		Body:     body,
		Payload:  payload,
	})
	if err != nil {
		s.log.Warn("notification failed", "order_id", o.ID, "category", category, "error", err)
	}
}
