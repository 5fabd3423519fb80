package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
	"github.com/dnflvus-wq/engTest/pkg/circuitbreaker"
	"github.com/dnflvus-wq/engTest/pkg/logger"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "achv:progress:42", ProgressKey(42))
	assert.Equal(t, "achv:summary:user:42", SummaryKey(42))
	assert.Equal(t, "achv:summary:global", KeyGlobalSummary)
	assert.Equal(t, "achv:lock:badge_slots:42", LockKey("badge_slots:42"))
}

func TestConfig_Options(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "cache"
	cfg.DB = 2

	opts := cfg.Options()
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 10, opts.PoolSize)
	assert.Equal(t, TTLSummary, cfg.SummaryTTL)
}

// unreachable returns a cache whose server refuses connections.
func unreachable(t *testing.T) *Cache {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheFromClient(client, Config{})
}

func TestNewCache_FailsWhenUnreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 1
	cfg.MaxRetries = -1
	cfg.DialTimeout = 100 * time.Millisecond

	_, err := NewCache(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrCacheConnection)
}

func TestCache_RejectsEmptyKey(t *testing.T) {
	c := unreachable(t)
	assert.ErrorIs(t, c.Set(context.Background(), "", 1, time.Second), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Get(context.Background(), "", new(int)), ErrCacheKeyEmpty)
	assert.NoError(t, c.Delete(context.Background()))
}

func TestSummaryCache_PropagatesErrors(t *testing.T) {
	s := NewSummaryCache(unreachable(t))
	got, err := s.GetSummary(context.Background(), 1)
	assert.Error(t, err)
	assert.Nil(t, got)
	assert.Error(t, s.SetGlobal(context.Background(), achievement.GlobalSummary{}))
}

func TestSummaryCache_OpenBreakerDegradesToMiss(t *testing.T) {
	cb := circuitbreaker.New("test", circuitbreaker.WithFailureThreshold(2), circuitbreaker.WithCoolDown(time.Hour))
	s := NewSummaryCache(unreachable(t)).WithBreaker(cb)
	ctx := context.Background()

	_, err := s.GetSummary(ctx, 1)
	require.Error(t, err)
	_, err = s.GetGlobal(ctx)
	require.Error(t, err)
	require.Equal(t, circuitbreaker.StateOpen, cb.State())

	got, err := s.GetSummary(ctx, 1)
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, s.SetSummary(ctx, 1, achievement.Summary{}))
	assert.ErrorIs(t, s.InvalidateUser(ctx, 1), circuitbreaker.ErrCircuitOpen)
}

func TestLocker_FailsFastOnConnectionError(t *testing.T) {
	l := NewLocker(unreachable(t), LockerConfig{Wait: time.Second, Logger: logger.Nop()})

	start := time.Now()
	unlock, err := l.Lock(context.Background(), "badge_slots:1")
	require.Error(t, err)
	assert.Nil(t, unlock)
	assert.NotErrorIs(t, err, ErrLockNotAcquired)
	assert.Less(t, time.Since(start), time.Second)
}
