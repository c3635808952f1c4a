// Package tickets issues, validates and checks in tickets of paid orders.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkout/internal/domain"
	"github.com/kirinyoku/tix-checkout/internal/metrics"
	"github.com/kirinyoku/tix-checkout/internal/render"
	"github.com/kirinyoku/tix-checkout/internal/repository"
	"github.com/kirinyoku/tix-checkout/internal/service/notify"
	"github.com/kirinyoku/tix-checkout/internal/uow"
)

const maxCancelBatch = 500

type Renderer interface {
	Render(ctx context.Context, doc render.Document) (render.Artifacts, error)
	Remove(ticketID uuid.UUID)
}

type Notifier interface {
	Send(ctx context.Context, msg notify.Message) error
}

type Service struct {
	store    uow.Store
	renderer Renderer
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
}

func New(store uow.Store, renderer Renderer, notifier Notifier, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		renderer: renderer,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// IssueForOrder creates one ticket per ordered seat for a PAID order and
// renders its QR code and PDF. Calling it again for an order that already has
// tickets returns them unchanged.
//
// Parameters:
//   - ctx: request-scoped context.
//   - orderID: ID of the paid order.
//
// Returns:
//   - []domain.Ticket: the order's tickets.
//   - error: tickets.ErrOrderNotPaid if the order is not PAID.
//   - error: tickets.ErrOrderNotFound if the order does not exist.
//   - error: tickets.ErrRenderingFailed if an artifact could not be rendered;
//     the tickets created by this call are removed again.
func (s *Service) IssueForOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Ticket, error) {
	const op = "service.tickets.IssueForOrder"

	var (
		order    *domain.Order
		event    *domain.Event
		existing []domain.Ticket
		created  []domain.Ticket
	)

	err := s.store.Do(ctx, func(ctx context.Context, tx repository.Repos, _ func(uow.AfterCommit)) error {
		var err error

		order, err = tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrOrderNotFound
			}
			return err
		}

		if order.Status != domain.OrderPaid {
			return ErrOrderNotPaid
		}

		existing, err = tx.Tickets().ListByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}

		event, err = tx.Events().Get(ctx, order.EventID)
		if err != nil {
			return err
		}

		first, err := tx.Events().AllocateSeats(ctx, order.EventID, order.Quantity)
		if err != nil {
			return err
		}

		now := s.now()
		created = make([]domain.Ticket, 0, order.Quantity)
		for i := range order.Quantity {
			created = append(created, domain.Ticket{
				ID:           uuid.New(),
				OrderID:      order.ID,
				EventID:      order.EventID,
				BuyerID:      order.BuyerID,
				TicketNumber: TicketNumber(order.OrderNumber, i+1, now),
				SeatNumber:   SeatLabel(first + i),
				Status:       domain.TicketActive,
			})
		}

		return tx.Tickets().CreateBatch(ctx, created)
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if len(existing) > 0 {
		return existing, nil
	}

	for i := range created {
		t := &created[i]

		art, err := s.renderer.Render(ctx, render.Document{
			TicketID:     t.ID,
			TicketNumber: t.TicketNumber,
			SeatNumber:   t.SeatNumber,
			OrderID:      order.ID,
			OrderNumber:  order.OrderNumber,
			EventID:      event.ID,
			EventTitle:   event.Title,
			Location:     event.Location,
			StartsAt:     event.StartsAt,
			BuyerID:      order.BuyerID,
		})
		if err == nil {
			err = s.store.Tickets().SetArtifacts(ctx, t.ID, art.QRCodeURL, art.PDFURL)
		}
		if err != nil {
			s.discard(ctx, created)
			return nil, fmt.Errorf("%s:%w: %w", op, ErrRenderingFailed, err)
		}

		t.QRCodeURL, t.PDFURL = art.QRCodeURL, art.PDFURL
	}

	metrics.TicketsIssued(len(created))
	s.log.Info("tickets issued", "order_id", order.ID, "count", len(created))

	if err := s.notifier.Send(ctx, notify.Message{
		Category: domain.CategoryTicketGenerated,
		UserID:   order.BuyerID,
		Email:    order.BuyerEmail,
		Title:    "Your tickets are ready",
		Body: fmt.Sprintf("%d ticket(s) for %s are ready. Order %s.",
			len(created), event.Title, order.OrderNumber),
		Payload: domain.Metadata{
			"order_id":     order.ID.String(),
			"order_number": order.OrderNumber,
			"tickets":      ticketNumbers(created),
		},
	}); err != nil {
		s.log.Warn("ticket notification failed", "order_id", order.ID, "error", err)
	}

	return created, nil
}

func (s *Service) discard(ctx context.Context, created []domain.Ticket) {
	ids := make([]uuid.UUID, 0, len(created))
	for _, t := range created {
		ids = append(ids, t.ID)
		s.renderer.Remove(t.ID)
	}

	if err := s.store.Tickets().DeleteByIDs(ctx, ids); err != nil {
		s.log.Error("discarding unrendered tickets failed", "ticket_ids", ids, "error", err)
	}
}

func ticketNumbers(ts []domain.Ticket) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.TicketNumber)
	}
	return out
}

// CancelForOrder cancels the active tickets of an order inside the caller's
// transaction.
func (s *Service) CancelForOrder(ctx context.Context, tx repository.Repos, orderID uuid.UUID) (int64, error) {
	const op = "service.tickets.CancelForOrder"

	n, err := tx.Tickets().CancelByOrder(ctx, orderID)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	return n, nil
}

type Validation struct {
	Ticket *domain.Ticket `json:"ticket"`
	Valid  bool           `json:"valid"`
	Reason string         `json:"reason,omitempty"`
}

// Validate reports whether a ticket may still be used for entry.
func (s *Service) Validate(ctx context.Context, number string) (*Validation, error) {
	const op = "service.tickets.Validate"

	t, err := s.store.Tickets().GetByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrTicketNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	v := &Validation{Ticket: t, Valid: true}
	switch {
	case t.CheckedIn || t.Status == domain.TicketUsed:
		v.Valid, v.Reason = false, "ticket already used"
	case t.Status != domain.TicketActive:
		v.Valid, v.Reason = false, "ticket is "+string(t.Status)
	}

	return v, nil
}

// CheckIn marks an active ticket as used by operator.
//
// Returns:
//   - *domain.Ticket: the checked-in ticket.
//   - error: tickets.ErrAlreadyCheckedIn if the ticket was used before.
//   - error: tickets.ErrTicketNotActive if the ticket is cancelled or expired.
//   - error: tickets.ErrTicketNotFound if no ticket has that number.
func (s *Service) CheckIn(ctx context.Context, number, operator string) (*domain.Ticket, error) {
	const op = "service.tickets.CheckIn"

	if operator == "" {
		return nil, fmt.Errorf("%s:%w", op, ErrMissingOperator)
	}

	t, err := s.store.Tickets().CheckIn(ctx, number, operator, s.now())
	if err == nil {
		return t, nil
	}

	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("%s:%w", op, ErrTicketNotFound)
	case errors.Is(err, repository.ErrStaleState):
		cur, gerr := s.store.Tickets().GetByNumber(ctx, number)
		if gerr == nil && (cur.CheckedIn || cur.Status == domain.TicketUsed) {
			return nil, fmt.Errorf("%s:%w", op, ErrAlreadyCheckedIn)
		}
		return nil, fmt.Errorf("%s:%w", op, ErrTicketNotActive)
	}

	return nil, fmt.Errorf("%s:%w", op, err)
}

// CancelBatch cancels up to 500 tickets. Used tickets are skipped.
//
// Returns:
//   - int64: number of tickets cancelled.
//   - error: tickets.ErrInvalidBatch if ids is empty or too large.
func (s *Service) CancelBatch(ctx context.Context, ids []uuid.UUID, reason string) (int64, error) {
	const op = "service.tickets.CancelBatch"

	if len(ids) == 0 || len(ids) > maxCancelBatch {
		return 0, fmt.Errorf("%s:%w", op, ErrInvalidBatch)
	}

	n, err := s.store.Tickets().CancelByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	s.log.Info("tickets cancelled", "requested", len(ids), "cancelled", n, "reason", reason)

	return n, nil
}

func (s *Service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Ticket, error) {
	const op = "service.tickets.ListByOrder"

	ts, err := s.store.Tickets().ListByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return ts, nil
}
