// Package admin manages the event catalog orders are placed against.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkout/internal/domain"
	"github.com/kirinyoku/tix-checkout/internal/repository"
	"github.com/kirinyoku/tix-checkout/internal/uow"
	"github.com/shopspring/decimal"
)

type Ledger interface {
	Changed(ctx context.Context, eventID uuid.UUID, available int)
}

type Service struct {
	store  uow.Store
	ledger Ledger
}

func New(store uow.Store, ledger Ledger) *Service {
	return &Service{
		store:  store,
		ledger: ledger,
	}
}

type CreateEventInput struct {
	Title    string
	Location string
	StartsAt time.Time
	EndsAt   time.Time
	Price    decimal.Decimal
	Quota    int
}

// CreateEvent creates a draft event whose whole quota is available.
//
// Parameters:
//   - ctx: request-scoped context.
//   - in: event attributes.
//
// Returns:
//   - *domain.Event: the created event.
//   - error: admin.ErrInvalidEvent if the attributes are inconsistent.
//   - error: admin.ErrEventConflict if the event already exists.
func (s *Service) CreateEvent(ctx context.Context, in CreateEventInput) (*domain.Event, error) {
	const op = "service.admin.CreateEvent"

	if strings.TrimSpace(in.Title) == "" || in.Quota <= 0 || in.Price.IsNegative() ||
		in.StartsAt.IsZero() || !in.EndsAt.After(in.StartsAt) {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidEvent)
	}

	e := &domain.Event{
		ID:               uuid.New(),
		Title:            strings.TrimSpace(in.Title),
		Location:         in.Location,
		StartsAt:         in.StartsAt,
		EndsAt:           in.EndsAt,
		Price:            in.Price,
		Quota:            in.Quota,
		AvailableTickets: in.Quota,
		Status:           domain.EventDraft,
	}

	err := s.store.Do(ctx, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		if err := tx.Events().Create(ctx, e); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%s:%w", op, ErrEventConflict)
			}
			return fmt.Errorf("%s:%w", op, err)
		}

		after(func(ctx context.Context) {
			s.ledger.Changed(ctx, e.ID, e.AvailableTickets)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return e, nil
}

// PublishEvent opens a draft event for booking.
//
// Returns:
//   - *domain.Event: the published event.
//   - error: admin.ErrEventNotFound if the event does not exist.
//   - error: admin.ErrEventNotPublishable if the event is not a draft.
func (s *Service) PublishEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	const op = "service.admin.PublishEvent"

	var e *domain.Event

	err := s.store.Do(ctx, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		var err error
		e, err = tx.Events().Get(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s:%w", op, ErrEventNotFound)
			}
			return fmt.Errorf("%s:%w", op, err)
		}

		switch e.Status {
		case domain.EventPublished:
			return nil
		case domain.EventDraft:
		default:
			return fmt.Errorf("%s:%w", op, ErrEventNotPublishable)
		}

		if err := tx.Events().SetStatus(ctx, id, domain.EventPublished); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}
		e.Status = domain.EventPublished

		after(func(ctx context.Context) {
			s.ledger.Changed(ctx, e.ID, e.AvailableTickets)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return e, nil
}
