// Package inventory owns the available ticket counter of every event.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkout/internal/domain"
	"github.com/kirinyoku/tix-checkout/internal/repository"
	redisrepo "github.com/kirinyoku/tix-checkout/internal/repository/redis"
)

type Config struct {
	AvailabilityTTL time.Duration
}

type Publisher interface {
	PublishInventoryChanged(ctx context.Context, eventID uuid.UUID, available int) error
}

type Ledger struct {
	repos  repository.Repos
	cache  *redisrepo.Cache
	pubsub Publisher
	log    *slog.Logger
	cfg    Config
}

// New builds a ledger. cache and pubsub may be nil.
func New(repos repository.Repos, cache *redisrepo.Cache, pubsub Publisher, log *slog.Logger, cfg Config) *Ledger {
	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = 15 * time.Second
	}

	return &Ledger{
		repos:  repos,
		cache:  cache,
		pubsub: pubsub,
		log:    log,
		cfg:    cfg,
	}
}

// Reserve takes q tickets of an event inside the caller's transaction.
//
// Parameters:
//   - ctx: request-scoped context.
//   - tx: repositories bound to the open transaction.
//   - eventID: event to reserve from.
//   - q: number of tickets, at least 1.
//
// Returns:
//   - int: tickets still available after the reservation.
//   - error: inventory.ErrInsufficientInventory if fewer than q remain.
//   - error: inventory.ErrEventNotFound if the event does not exist.
func (l *Ledger) Reserve(ctx context.Context, tx repository.Repos, eventID uuid.UUID, q int) (int, error) {
	const op = "service.inventory.Reserve"

	if q <= 0 {
		return 0, fmt.Errorf("%s:%w", op, ErrInvalidQuantity)
	}

	left, err := tx.Events().Reserve(ctx, eventID, q)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrInsufficientInventory):
			return 0, fmt.Errorf("%s:%w", op, ErrInsufficientInventory)
		case errors.Is(err, repository.ErrNotFound):
			return 0, fmt.Errorf("%s:%w", op, ErrEventNotFound)
		}
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	return left, nil
}

// Release returns q tickets to an event inside the caller's transaction. The
// counter never exceeds the event quota.
func (l *Ledger) Release(ctx context.Context, tx repository.Repos, eventID uuid.UUID, q int) (int, error) {
	const op = "service.inventory.Release"

	if q <= 0 {
		return 0, fmt.Errorf("%s:%w", op, ErrInvalidQuantity)
	}

	left, err := tx.Events().Release(ctx, eventID, q)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, fmt.Errorf("%s:%w", op, ErrEventNotFound)
		}
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	return left, nil
}

// Available returns the current availability of an event, served from the
// cache when possible.
func (l *Ledger) Available(ctx context.Context, eventID uuid.UUID) (domain.Availability, error) {
	const op = "service.inventory.Available"

	load := func(ctx context.Context) (domain.Availability, error) {
		e, err := l.repos.Events().Get(ctx, eventID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.Availability{}, ErrEventNotFound
			}
			return domain.Availability{}, err
		}

		return domain.Availability{
			EventID:   e.ID,
			Quota:     e.Quota,
			Available: e.AvailableTickets,
		}, nil
	}

	var (
		av  domain.Availability
		err error
	)
	if l.cache != nil {
		av, err = redisrepo.GetOrSetJSON(ctx, l.cache, redisrepo.KeyEventAvailability(eventID), l.cfg.AvailabilityTTL, load)
	} else {
		av, err = load(ctx)
	}
	if err != nil {
		return domain.Availability{}, fmt.Errorf("%s:%w", op, err)
	}

	return av, nil
}

// Changed drops the cached availability and announces the new counter. It is
// meant to run after the mutating transaction has committed.
func (l *Ledger) Changed(ctx context.Context, eventID uuid.UUID, available int) {
	if l.cache != nil {
		if err := l.cache.InvalidateEvent(ctx, eventID); err != nil {
			l.log.Warn("availability cache invalidation failed", "event_id", eventID, "error", err)
		}
	}

	if l.pubsub != nil {
		if err := l.pubsub.PublishInventoryChanged(ctx, eventID, available); err != nil {
			l.log.Warn("inventory change publish failed", "event_id", eventID, "error", err)
		}
	}
}
