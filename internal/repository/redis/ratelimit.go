package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SlidingWindowLimiter allows at most limit hits per window for each id
// within a scope. Hits live in a sorted set scored by unix millis; rejected
// hits are removed again so a client hammering the endpoint does not extend
// its own ban.
type SlidingWindowLimiter struct {
	rdb    *redis.Client
	scope  string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewSlidingWindowLimiter(
	rdb *redis.Client,
	scope string,
	limit int,
	window time.Duration,
) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		rdb:    rdb,
		scope:  scope,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Decision is the outcome of one Allow call. Current counts the hits in the
// window including the one just attempted.
type Decision struct {
	Allowed    bool
	Current    int64
	RetryAfter time.Duration
}

// Allow records a hit for id and reports whether it fits in the window.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, id string) (Decision, error) {
	key := KeyRateLimit(l.scope, id)
	now := l.now().UnixMilli()
	windowMs := l.window.Milliseconds()
	member := strconv.FormatInt(now, 10) + ":" + uuid.NewString()

	var (
		card   *redis.IntCmd
		oldest *redis.ZSliceCmd
	)
	_, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now-windowMs, 10))
		p.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: member})
		card = p.ZCard(ctx, key)
		oldest = p.ZRangeWithScores(ctx, key, 0, 0)
		p.PExpire(ctx, key, l.window)
		return nil
	})
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Current: card.Val(), Allowed: card.Val() <= int64(l.limit)}
	if d.Allowed {
		return d, nil
	}

	if err := l.rdb.ZRem(ctx, key, member).Err(); err != nil {
		return Decision{}, err
	}

	retry := windowMs
	if zs := oldest.Val(); len(zs) > 0 {
		retry = windowMs - (now - int64(zs[0].Score))
	}
	d.RetryAfter = time.Duration(max(retry, 0)) * time.Millisecond

	return d, nil
}
