// Package memstore is an in-memory implementation of the repository
// interfaces with the same atomicity and uniqueness rules as the postgres
// schema. Services are unit-tested against it.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkout/internal/domain"
	"github.com/kirinyoku/tix-checkout/internal/repository"
	"github.com/kirinyoku/tix-checkout/internal/uow"
)

type state struct {
	events        map[uuid.UUID]domain.Event
	orders        map[uuid.UUID]domain.Order
	payments      map[uuid.UUID]domain.Payment
	tickets       map[uuid.UUID]domain.Ticket
	notifications map[uuid.UUID]domain.Notification
	outbox        map[uuid.UUID]domain.OutboxEvent
	rank          map[uuid.UUID]int64
	seq           int64
}

func newState() *state {
	return &state{
		events:        map[uuid.UUID]domain.Event{},
		orders:        map[uuid.UUID]domain.Order{},
		payments:      map[uuid.UUID]domain.Payment{},
		tickets:       map[uuid.UUID]domain.Ticket{},
		notifications: map[uuid.UUID]domain.Notification{},
		outbox:        map[uuid.UUID]domain.OutboxEvent{},
		rank:          map[uuid.UUID]int64{},
	}
}

func (s *state) clone() *state {
	return &state{
		events:        maps.Clone(s.events),
		orders:        maps.Clone(s.orders),
		payments:      maps.Clone(s.payments),
		tickets:       maps.Clone(s.tickets),
		notifications: maps.Clone(s.notifications),
		outbox:        maps.Clone(s.outbox),
		rank:          maps.Clone(s.rank),
		seq:           s.seq,
	}
}

// track records the insertion order of id.
func (s *state) track(id uuid.UUID) {
	s.seq++
	s.rank[id] = s.seq
}

// Store implements uow.Store. Every call outside Do is atomic on its own;
// Do serialises whole units of work and rolls back on error.
type Store struct {
	mu sync.Mutex
	st *state

	// FailCommit, when set, makes the next Do return the error after fn has
	// run, rolling back its changes.
	FailCommit error
}

var _ uow.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) Do(ctx context.Context, fn uow.TxFunc) error {
	var hooks []uow.AfterCommit

	err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		snapshot := s.st.clone()
		tx := &repos{st: s.st}

		err := fn(ctx, tx, func(h uow.AfterCommit) {
			hooks = append(hooks, h)
		})
		if err == nil && s.FailCommit != nil {
			err = fmt.Errorf("commit: %w", s.FailCommit)
			s.FailCommit = nil
		}
		if err != nil {
			s.st = snapshot
			return err
		}
		return nil
	}()
	if err != nil {
		return err
	}

	for _, h := range hooks {
		h(ctx)
	}

	return nil
}

func (s *Store) locked() *repos { return &repos{store: s} }

func (s *Store) Events() repository.EventRepository { return &eventRepo{s.locked()} }
func (s *Store) Orders() repository.OrderRepository { return &orderRepo{s.locked()} }
func (s *Store) Payments() repository.PaymentRepository {
	return &paymentRepo{s.locked()}
}
func (s *Store) Tickets() repository.TicketRepository { return &ticketRepo{s.locked()} }
func (s *Store) Notifications() repository.NotificationRepository {
	return &notificationRepo{s.locked()}
}
func (s *Store) Outbox() repository.OutboxRepository { return &outboxRepo{s.locked()} }

// repos binds repositories either to the state of an open unit of work (st)
// or to the Store, taking its lock per call.
type repos struct {
	st    *state
	store *Store
}

func (r *repos) acquire() (*state, func()) {
	if r.store == nil {
		return r.st, func() {}
	}
	r.store.mu.Lock()
	return r.store.st, r.store.mu.Unlock
}

func (r *repos) Events() repository.EventRepository { return &eventRepo{r} }
func (r *repos) Orders() repository.OrderRepository { return &orderRepo{r} }
func (r *repos) Payments() repository.PaymentRepository {
	return &paymentRepo{r}
}
func (r *repos) Tickets() repository.TicketRepository { return &ticketRepo{r} }
func (r *repos) Notifications() repository.NotificationRepository {
	return &notificationRepo{r}
}
func (r *repos) Outbox() repository.OutboxRepository { return &outboxRepo{r} }
