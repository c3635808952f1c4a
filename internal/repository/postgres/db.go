package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/tix-checkout/internal/repository"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store hands out repositories bound either to the pool or, after With, to
// an open transaction.
type Store struct {
	pool *pgxpool.Pool
	db   DB
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
	}
}

func (s *Store) With(db DB) *Store {
	cp := *s
	cp.db = db
	return &cp
}

func (s *Store) handle() DB {
	if s.db != nil {
		return s.db
	}
	return s.pool
}

// RunTx runs fn in a read-committed read-write transaction unless opts says
// otherwise. Rollback runs detached from ctx so a cancelled request still
// releases its connection cleanly.
func (s *Store) RunTx(
	ctx context.Context,
	opts *pgx.TxOptions,
	fn func(ctx context.Context, tx DB) error,
) error {
	txOpts := pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}
	if opts != nil {
		txOpts = *opts
	}

	tx, err := s.pool.BeginTx(ctx, txOpts)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

func (s *Store) Events() repository.EventRepository { return &EventRepo{db: s.handle()} }
func (s *Store) Orders() repository.OrderRepository { return &OrderRepo{db: s.handle()} }
func (s *Store) Payments() repository.PaymentRepository {
	return &PaymentRepo{db: s.handle()}
}
func (s *Store) Tickets() repository.TicketRepository { return &TicketRepo{db: s.handle()} }
func (s *Store) Notifications() repository.NotificationRepository {
	return &NotificationRepo{db: s.handle()}
}
func (s *Store) Outbox() repository.OutboxRepository { return &OutboxRepo{db: s.handle()} }
