// Package lock provides short-lived mutual exclusion keyed by string, backed
// by Redis across replicas or by an in-process table for single-node runs.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/rs/zerolog"
)

// ErrBusy is returned when the key is held by someone else.
var ErrBusy = errors.New("lock is held by another process")

type Locker interface {
	// WithLock runs fn while holding key. It fails fast with ErrBusy when the
	// key cannot be obtained within the locker's retry budget.
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	opts   *redislock.Options
	logger zerolog.Logger
}

func NewRedisLocker(rdb redislock.RedisClient, ttl time.Duration, logger zerolog.Logger) *RedisLocker {
	return &RedisLocker{
		client: redislock.New(rdb),
		ttl:    ttl,
		opts: &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 5),
		},
		logger: logger,
	}
}

func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lk, err := l.client.Obtain(ctx, "lock:"+key, l.ttl, l.opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		return ErrBusy
	}
	if err != nil {
		return fmt.Errorf("obtain lock %s: %w", key, err)
	}
	defer func() {
		// A lock that expired mid-run is already gone; nothing to undo.
		if err := lk.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn().Err(err).Str("key", key).Msg("release lock")
		}
	}()
	return fn(ctx)
}

// LocalLocker serialises work inside one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if _, busy := l.held[key]; busy {
		l.mu.Unlock()
		return ErrBusy
	}
	l.held[key] = struct{}{}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()
	return fn(ctx)
}
