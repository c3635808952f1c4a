// Package sweeper expires unpaid orders and repairs orders whose follow-up
// work was interrupted.
package sweeper

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
	"github.com/kirinyoku/tix-checkout/internal/service/notify"
	"github.com/kirinyoku/tix-checkout/internal/service/orders"
	"github.com/kirinyoku/tix-checkout/internal/service/payment"
	"github.com/kirinyoku/tix-checkout/internal/service/webhook"
)

const lockName = "sweeper"

type Transitioner interface {
	Transition(ctx context.Context, orderID uuid.UUID, to domain.OrderStatus, tc orders.TransitionContext) (*domain.Order, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, ref string) (*webhook.Ack, error)
}

type TicketIssuer interface {
	IssueForOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Ticket, error)
}

type Notifier interface {
	Send(ctx context.Context, msg notify.Message) error
	DeliverDue(ctx context.Context, now time.Time, limit int) (int, int, error)
}

type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context), bool, error)
}

type Config struct {
	Interval  time.Duration
	BatchSize int
}

// Report counts what one tick did.
type Report struct {
	Expired   int
	Settled   int
	Reissued  int
	Repaired  int
	Delivered int
	Failed    int
	Skipped   bool
}

type Deps struct {
	Repos      repository.Repos
	Orders     Transitioner
	Reconciler Reconciler
	Tickets    TicketIssuer
	Notifier   Notifier
	Gateway    payment.Gateway
	Locker     Locker
	Log        *slog.Logger
}

type Sweeper struct {
	repos      repository.Repos
	orders     Transitioner
	reconciler Reconciler
	tickets    TicketIssuer
	notifier   Notifier
	gateway    payment.Gateway
	locker     Locker
	log        *slog.Logger
	now        func() time.Time
	cfg        Config
}

// New builds a sweeper. Without a Locker every replica sweeps.
func New(d Deps, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	return &Sweeper{
		repos:      d.Repos,
		orders:     d.Orders,
		reconciler: d.Reconciler,
		tickets:    d.Tickets,
		notifier:   d.Notifier,
		gateway:    d.Gateway,
		locker:     d.Locker,
		log:        d.Log,
		now:        time.Now,
		cfg:        cfg,
	}
}

// Run ticks every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info("sweeper started", "interval", s.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rep, err := s.Tick(ctx)
			if err != nil && ctx.Err() == nil {
				s.log.Error("sweep failed", "error", err)
				continue
			}
			if rep.Expired+rep.Settled+rep.Reissued+rep.Repaired+rep.Delivered+rep.Failed > 0 {
				s.log.Info("sweep finished",
					"expired", rep.Expired,
					"settled", rep.Settled,
					"reissued", rep.Reissued,
					"repaired", rep.Repaired,
					"delivered", rep.Delivered,
					"failed", rep.Failed,
				)
			}
		}
	}
}

// Tick runs one sweep: expire overdue orders, repair paid orders, deliver
// due notifications. Each item is handled on its own; one failure does not
// stop the others.
//
// Returns:
//   - Report: what was done; Skipped is set when another replica holds the
//     sweep lock.
//   - error: if the lock or a listing query failed.
func (s *Sweeper) Tick(ctx context.Context) (Report, error) {
	const op = "service.sweeper.Tick"

	var rep Report

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, lockName, s.cfg.Interval)
		if err != nil {
			return rep, fmt.Errorf("%s:%w", op, err)
		}
		if !ok {
			rep.Skipped = true
			return rep, nil
		}
		defer release(context.WithoutCancel(ctx))
	}

	var errs []error
	for _, step := range []func(context.Context, *Report) error{
		s.expire,
		s.reissue,
		s.settle,
		s.deliver,
	} {
		if err := step(ctx, &rep); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return rep, fmt.Errorf("%s:%w", op, err)
	}

	return rep, nil
}

func (s *Sweeper) expire(ctx context.Context, rep *Report) error {
	list, err := s.repos.Orders().ListExpired(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return err
	}

	for i := range list {
		o := &list[i]

		pay, err := s.repos.Payments().GetByOrder(ctx, o.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.log.Error("loading payment of expired order failed", "order_id", o.ID, "error", err)
			metrics.SweeperProcessed("expire", err)
			rep.Failed++
			continue
		}

		if pay != nil && pay.Status == domain.PaymentPending {
			ack, err := s.reconciler.Reconcile(ctx, pay.ReferenceID)
			switch {
			case err != nil:
				s.log.Warn("reconcile before expiry failed", "order_id", o.ID, "reference_id", pay.ReferenceID, "error", err)
			case ack.PaymentStatus == domain.PaymentPaid:
				rep.Settled++
				metrics.SweeperProcessed("settle", nil)
				continue
			case ack.OrderStatus.Terminal():
				continue
			}
		}

		expired, err := s.orders.Transition(ctx, o.ID, domain.OrderExpired, orders.TransitionContext{
			Reason: "payment window elapsed",
			Actor:  "sweeper",
		})
		metrics.SweeperProcessed("expire", err)
		if err != nil {
			s.log.Error("expiring order failed", "order_id", o.ID, "error", err)
			rep.Failed++
			continue
		}
		rep.Expired++

		if pay != nil {
			if err := s.gateway.Expire(ctx, pay); err != nil {
				s.log.Warn("expiring payment at provider failed", "reference_id", pay.ReferenceID, "error", err)
			}
		}

		if err := s.notifier.Send(ctx, notify.Message{
			Category: domain.CategoryOrderExpired,
			UserID:   expired.BuyerID,
			Email:    expired.BuyerEmail,
			Title:    "Order expired",
			Body:     fmt.Sprintf("Order %s expired before it was paid. The tickets were released.", expired.OrderNumber),
			Payload:  domain.Metadata{"order_id": expired.ID.String()},
		}); err != nil {
			s.log.Warn("expiry notification failed", "order_id", expired.ID, "error", err)
		}
	}

	return nil
}

// reissue issues tickets for paid orders that have none.
func (s *Sweeper) reissue(ctx context.Context, rep *Report) error {
	list, err := s.repos.Orders().ListPaidWithoutTickets(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, o := range list {
		_, err := s.tickets.IssueForOrder(ctx, o.ID)
		metrics.SweeperProcessed("reissue", err)
		if err != nil {
			s.log.Error("reissuing tickets failed", "order_id", o.ID, "error", err)
			rep.Failed++
			continue
		}
		rep.Reissued++
	}

	return nil
}

// settle marks orders paid whose payment was recorded as paid but whose
// transition did not complete.
func (s *Sweeper) settle(ctx context.Context, rep *Report) error {
	list, err := s.repos.Orders().ListAwaitingWithPaidPayment(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, o := range list {
		_, err := s.orders.Transition(ctx, o.ID, domain.OrderPaid, orders.TransitionContext{
			Reason: "paid payment found by sweeper",
			Actor:  "sweeper",
		})
		metrics.SweeperProcessed("repair", err)

		var side *orders.SideEffectError
		if err != nil && !errors.As(err, &side) {
			s.log.Error("repairing paid order failed", "order_id", o.ID, "error", err)
			rep.Failed++
			continue
		}
		rep.Repaired++
	}

	return nil
}

func (s *Sweeper) deliver(ctx context.Context, rep *Report) error {
	sent, failed, err := s.notifier.DeliverDue(ctx, s.now(), s.cfg.BatchSize)
	metrics.SweeperProcessed("notify", err)
	if err != nil {
		return err
	}

	rep.Delivered += sent
	rep.Failed += failed

	return nil
}
