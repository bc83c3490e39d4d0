package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLockBusy is returned when a lock is held by another request for longer than the wait budget.
var ErrLockBusy = errors.New("platform/cache: lock busy")

// Locker hands out short-lived redis locks. A nil or unreachable backend degrades to
// running unlocked; database constraints stay the source of truth.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
	logger *slog.Logger
}

// NewLocker builds a Locker on top of the redis client.
func NewLocker(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	var rl *redislock.Client
	if client != nil {
		rl = redislock.New(client)
	}
	return &Locker{client: rl, ttl: ttl, wait: ttl / 2, logger: logger}
}

// WithLock runs fn while holding key.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if l == nil || l.client == nil {
		return fn(ctx)
	}
	obtainCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()
	lock, err := l.client.Obtain(obtainCtx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(50 * time.Millisecond),
	})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, redislock.ErrNotObtained), errors.Is(err, context.DeadlineExceeded):
		return ErrLockBusy
	default:
		l.logger.Warn("redis lock unavailable; proceeding without lock", slog.String("key", key), slog.Any("error", err))
		return fn(ctx)
	}
	defer func() {
		if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
			l.logger.Warn("release redis lock", slog.String("key", key), slog.Any("error", releaseErr))
		}
	}()
	return fn(ctx)
}
