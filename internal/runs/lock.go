package runs

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/arstatement/internal/platform/cache"
)

// Locker guards a run against concurrent processing by duplicate task deliveries.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is a held lock.
type Lease interface {
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// RedisLocker implements Locker with SETNX leases.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker constructs a redis locker.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire takes the lease or returns ErrRunLocked.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	lock, err := cache.Acquire(ctx, l.client, key, ttl)
	if errors.Is(err, cache.ErrLockHeld) {
		return nil, ErrRunLocked
	}
	if err != nil {
		return nil, err
	}
	return lock, nil
}

type noopLease struct{}

func (noopLease) Extend(context.Context, time.Duration) error { return nil }

func (noopLease) Release(context.Context) error { return nil }
