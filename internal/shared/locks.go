package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ItemLockKey builds redis keys for per-item stock critical sections.
func ItemLockKey(itemID int64) string {
	return fmt.Sprintf("stock:item:%d:lock", itemID)
}

// releaseScript deletes the lock only when still held by the owner token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker provides bounded mutual exclusion backed by redis SET NX.
// Acquisition never blocks past the configured wait; contention is
// surfaced as ErrConflict so callers can retry.
type Locker struct {
	client *redis.Client
	wait   time.Duration
	ttl    time.Duration
}

// NewLocker constructs a Locker. The ttl guards against a crashed
// holder leaving the key behind forever.
func NewLocker(client *redis.Client, wait, ttl time.Duration) *Locker {
	if wait <= 0 {
		wait = 2 * time.Second
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{client: client, wait: wait, ttl: ttl}
}

// Acquire takes the lock for key, returning a release function. When
// the lock cannot be obtained within the wait window it returns
// ErrConflict without blocking further.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("shared: acquire lock %s: %w", key, err)
		}
		if ok {
			release := func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
			}
			return release, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("shared: lock %s: %w", key, ErrConflict)
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("shared: lock %s: %w", key, ErrConflict)
			}
			return nil, ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}
