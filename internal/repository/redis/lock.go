package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// Only the holder's token may delete the key.
const luaUnlock = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// Locker hands out short-lived named locks shared by all replicas.
type Locker struct {
	rdb    *redis.Client
	unlock *redis.Script
}

func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb, unlock: redis.NewScript(luaUnlock)}
}

// TryLock takes the lock name for ttl.
//
// Returns:
//   - release: frees the lock; safe to call after ttl has elapsed.
//   - bool: false if another holder owns the lock.
//   - error: on redis failure.
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context), bool, error) {
	key := KeyLock(name)
	token := randomHex(16)

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return func(context.Context) {}, false, err
	}

	return func(ctx context.Context) {
		_ = l.unlock.Run(ctx, l.rdb, []string{key}, token).Err()
	}, true, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
