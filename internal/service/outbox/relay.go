// Package outbox relays order events recorded in the outbox table to Kafka.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkout/internal/domain"
	"github.com/kirinyoku/tix-checkout/internal/metrics"
	"github.com/kirinyoku/tix-checkout/internal/repository"
	"github.com/kirinyoku/tix-checkout/internal/uow"
)

type Producer interface {
	Publish(ctx context.Context, events []domain.OutboxEvent) error
}

type Config struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

type Relay struct {
	store    uow.Runner
	producer Producer
	log      *slog.Logger
	now      func() time.Time
	cfg      Config
}

func New(store uow.Runner, producer Producer, log *slog.Logger, cfg Config) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}

	return &Relay{
		store:    store,
		producer: producer,
		log:      log,
		now:      time.Now,
		cfg:      cfg,
	}
}

// Run flushes the outbox every Interval until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.log.Info("outbox relay started", "interval", r.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("outbox flush failed", "error", err)
			}
		}
	}
}

// Flush claims one batch of pending events, produces them and records the
// result. Rows claimed by another relay are skipped.
//
// Returns:
//   - int: number of events produced.
//   - error: if the batch could not be claimed or its outcome not recorded.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	const op = "service.outbox.Flush"

	var produced int

	err := r.store.Do(ctx, func(ctx context.Context, tx repository.Repos, _ func(uow.AfterCommit)) error {
		events, err := tx.Outbox().ClaimPending(ctx, r.cfg.BatchSize)
		if err != nil || len(events) == 0 {
			return err
		}

		if perr := r.producer.Publish(ctx, events); perr != nil {
			metrics.OutboxProduced(len(events), perr)
			r.log.Warn("producing outbox events failed", "count", len(events), "error", perr)

			for _, e := range events {
				if err := tx.Outbox().MarkFailed(ctx, e.ID, perr.Error(), r.cfg.MaxAttempts); err != nil {
					return err
				}
			}
			return nil
		}

		ids := make([]uuid.UUID, 0, len(events))
		for _, e := range events {
			ids = append(ids, e.ID)
		}

		if err := tx.Outbox().MarkProduced(ctx, ids, r.now()); err != nil {
			return err
		}

		produced = len(events)
		metrics.OutboxProduced(produced, nil)

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	return produced, nil
}
