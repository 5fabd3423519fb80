package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dnflvus-wq/engTest/internal/domain/shared"
	"github.com/dnflvus-wq/engTest/pkg/logger"
	"github.com/dnflvus-wq/engTest/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISTRIBUTED LOCK
// ══════════════════════════════════════════════════════════════════════════════

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockerConfig configures the distributed lock.
type LockerConfig struct {
	// TTL expires a lock whose holder died.
	TTL time.Duration

	// Wait bounds how long Lock spins on a taken key.
	Wait time.Duration

	Logger *logger.Logger
}

// DefaultLockerConfig returns the default lock configuration.
func DefaultLockerConfig() LockerConfig {
	return LockerConfig{TTL: TTLDistributedLock, Wait: 5 * time.Second}
}

// Locker is a SET NX PX lock shared by every engine instance. It satisfies
// the badge registry's UserLocker.
type Locker struct {
	client *redis.Client
	config LockerConfig
	log    *logger.Logger
}

// NewLocker creates a locker on top of c.
func NewLocker(c *Cache, config LockerConfig) *Locker {
	if config.TTL <= 0 {
		config.TTL = TTLDistributedLock
	}
	if config.Wait <= 0 {
		config.Wait = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logger.Default()
	}
	return &Locker{
		client: c.client,
		config: config,
		log:    config.Logger.With(logger.Component("redis_lock")),
	}
}

// Lock acquires key, retrying while it is held elsewhere. The returned
// function releases the lock if this caller still owns it.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := LockKey(key)
	token := uuid.NewString()

	err := retry.LockRetrier(l.config.Wait).Do(ctx, func(ctx context.Context) error {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.config.TTL).Result()
		if err != nil {
			return retry.Permanent(err)
		}
		if !ok {
			return retry.Retryable(ErrLockNotAcquired)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrLockNotAcquired) {
			return nil, shared.WrapError("badge", "Lock", shared.ErrTimeout, "lock is held", err)
		}
		return nil, err
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.log.Warn("failed to release lock",
				logger.String("key", redisKey),
				logger.Err(err),
			)
		}
	}, nil
}
