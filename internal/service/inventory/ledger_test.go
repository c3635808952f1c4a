package inventory

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkout/internal/apperr"
	"github.com/kirinyoku/tix-checkout/internal/domain"
	"github.com/kirinyoku/tix-checkout/internal/repository"
	"github.com/kirinyoku/tix-checkout/internal/repository/memstore"
	redisrepo "github.com/kirinyoku/tix-checkout/internal/repository/redis"
	"github.com/kirinyoku/tix-checkout/internal/uow"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedEvent(t *testing.T, store *memstore.Store, quota int) *domain.Event {
	t.Helper()

	e := &domain.Event{
		ID:               uuid.New(),
		Title:            "Jazz Night",
		StartsAt:         time.Now().Add(48 * time.Hour),
		EndsAt:           time.Now().Add(50 * time.Hour),
		Price:            decimal.NewFromInt(100),
		Quota:            quota,
		AvailableTickets: quota,
		Status:           domain.EventPublished,
	}
	require.NoError(t, store.Events().Create(context.Background(), e))

	return e
}

func newLedger(t *testing.T, store *memstore.Store) (*Ledger, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	return New(store, redisrepo.New(rdb), redisrepo.NewPubSub(rdb), log, Config{}), mr
}

func TestReserveRelease(t *testing.T) {
	store := memstore.New()
	l, _ := newLedger(t, store)
	e := seedEvent(t, store, 5)
	ctx := context.Background()

	err := store.Do(ctx, func(ctx context.Context, tx repository.Repos, _ func(uow.AfterCommit)) error {
		left, err := l.Reserve(ctx, tx, e.ID, 3)
		require.NoError(t, err)
		assert.Equal(t, 2, left)

		_, err = l.Reserve(ctx, tx, e.ID, 3)
		assert.ErrorIs(t, err, ErrInsufficientInventory)
		assert.ErrorIs(t, err, apperr.InvalidState)

		left, err = l.Release(ctx, tx, e.ID, 10)
		require.NoError(t, err)
		assert.Equal(t, 5, left, "release is capped at quota")

		_, err = l.Reserve(ctx, tx, uuid.New(), 1)
		assert.ErrorIs(t, err, ErrEventNotFound)

		_, err = l.Reserve(ctx, tx, e.ID, 0)
		assert.ErrorIs(t, err, ErrInvalidQuantity)

		return nil
	})
	require.NoError(t, err)
}

func TestReserve_ConcurrentNeverOversells(t *testing.T) {
	store := memstore.New()
	l, _ := newLedger(t, store)
	e := seedEvent(t, store, 10)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Do(ctx, func(ctx context.Context, tx repository.Repos, _ func(uow.AfterCommit)) error {
				_, err := l.Reserve(ctx, tx, e.ID, 1)
				return err
			})
			if err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, granted)
	got, err := store.Events().Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AvailableTickets)
}

func TestAvailable_CachedUntilChanged(t *testing.T) {
	store := memstore.New()
	l, mr := newLedger(t, store)
	e := seedEvent(t, store, 4)
	ctx := context.Background()

	av, err := l.Available(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, av.Available)
	assert.True(t, mr.Exists(redisrepo.KeyEventAvailability(e.ID)))

	_, err = store.Events().Reserve(ctx, e.ID, 1)
	require.NoError(t, err)

	av, err = l.Available(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, av.Available, "stale until invalidated")

	l.Changed(ctx, e.ID, 3)
	assert.False(t, mr.Exists(redisrepo.KeyEventAvailability(e.ID)))

	av, err = l.Available(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, av.Available)

	_, err = l.Available(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrEventNotFound)
}
