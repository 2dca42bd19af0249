package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/seojinlab/kisbot/internal/domain"
)

// releaseScript deletes a lock key only while it still holds the caller's
// token. A lock that expired and was re-acquired by another process is
// never released from here.
const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager hands out per-symbol chase locks so two processes on the
// same account never work one issue at once. A lock is a plain SET NX key
// with a TTL; release goes through releaseScript.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLockManager creates a LockManager on the shared Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseScript),
	}
}

var _ domain.LockManager = (*LockManager)(nil)

// Acquire takes the lock named by key for at most ttl and returns its
// release function, which is safe to call more than once. When another
// holder owns the key, Acquire returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	name := "lock:" + key

	ok, err := lm.rdb.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release must still work after the chase context is cancelled.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.release.Run(rctx, lm.rdb, []string{name}, token).Err()
		})
	}, nil
}
