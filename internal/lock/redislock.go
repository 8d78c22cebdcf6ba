// Package lock serializes mutations of a checkout session across API
// replicas. A single process already serializes through the session mutex;
// the Redis lock only matters when two instances can reach the same session
// id.
package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionLocker provides a Redis-backed lock keyed by checkout session id.
type SessionLocker struct {
	R            *redis.Client
	KeyPrefix    string
	RetryBackoff time.Duration
}

func (l SessionLocker) key(sessionID string) string {
	prefix := l.KeyPrefix
	if prefix == "" {
		prefix = "checkout:session:"
	}
	return prefix + sessionID
}

// WithSession executes fn while holding the lock for the given session. The
// lock is released automatically even if fn returns an error. When the lock
// cannot be acquired before the context is cancelled an error is returned.
// A nil Redis client degrades to calling fn directly so single-instance
// deployments need no Redis at all.
func (l SessionLocker) WithSession(ctx context.Context, sessionID string, ttl time.Duration, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if l.R == nil {
		return fn(ctx)
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	token := uuid.NewString()
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	key := l.key(sessionID)

	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			defer l.release(context.Background(), key, token)
			return fn(ctx)
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l SessionLocker) release(ctx context.Context, key, token string) {
	const script = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`
	if err := l.R.Eval(ctx, script, []string{key}, token).Err(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unknown command") {
			_ = l.R.Del(ctx, key).Err()
		}
	}
}
