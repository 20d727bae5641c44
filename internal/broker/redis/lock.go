package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = errors.New("redis: lock held")

// releaseLua deletes the key only if it still holds the caller's token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Locker hands out SET NX leases.
type Locker struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLocker creates a Locker backed by c.
func NewLocker(c *Client) *Locker {
	return &Locker{rdb: c.Underlying(), release: redis.NewScript(releaseLua)}
}

// Acquire takes key for ttl and returns the release func, which is safe to
// call more than once. It returns ErrLockHeld if key is taken.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := "lock:" + key

	ok, err := l.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// The caller's context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.release.Run(ctx, l.rdb, []string{lk}, token).Err()
	}, nil
}
