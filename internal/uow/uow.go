package uow

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/kirinyoku/tix-checkout/internal/repository"
	postgres "github.com/kirinyoku/tix-checkout/internal/repository/postgres"
)

// AfterCommit is a function that runs after a successful transaction commit.
type AfterCommit func(ctx context.Context)

// TxFunc is the body of a unit of work. Repositories obtained from tx share
// the transaction; hooks registered with after run only once it commits.
type TxFunc func(ctx context.Context, tx repository.Repos, after func(AfterCommit)) error

// Runner runs a TxFunc atomically.
type Runner interface {
	Do(ctx context.Context, fn TxFunc) error
}

// Store is what services depend on: repositories bound to the pool for
// plain reads plus a transaction runner for writes.
type Store interface {
	repository.Repos
	Runner
}

const defaultAttempts = 3

// UoW represents a unit of work over the postgres store.
type UoW struct {
	*postgres.Store
	attempts int
}

func NewUoW(store *postgres.Store) *UoW {
	return &UoW{Store: store, attempts: defaultAttempts}
}

// Do runs fn inside the transaction. After a successful commit,
// it executes all after-commit hooks.
func (u *UoW) Do(ctx context.Context, fn TxFunc) error {
	return u.DoWithOpts(ctx, nil, fn)
}

// DoWithOpts runs fn inside the transaction with the given options. The whole
// transaction is retried on serialization failures and deadlocks; hooks from
// failed attempts are discarded.
func (u *UoW) DoWithOpts(ctx context.Context, opts *pgx.TxOptions, fn TxFunc) error {
	var hooks []AfterCommit
	var err error

	for attempt := 1; attempt <= u.attempts; attempt++ {
		hooks = hooks[:0]

		err = u.RunTx(ctx, opts, func(ctx context.Context, tx postgres.DB) error {
			return fn(ctx, u.With(tx), func(h AfterCommit) {
				hooks = append(hooks, h)
			})
		})
		if err == nil || !postgres.IsRetryable(err) || ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		return err
	}

	for _, h := range hooks {
		h(ctx)
	}

	return nil
}
