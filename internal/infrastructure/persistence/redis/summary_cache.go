package redis

import (
	"context"
	"errors"

	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
	"github.com/dnflvus-wq/engTest/pkg/circuitbreaker"
)

// SummaryCache stores computed summaries for Config.SummaryTTL. A miss is
// reported as (nil, nil).
//
// With a breaker attached, reads and writes rejected by an open circuit
// behave as a miss and a no-op. Invalidations surface the rejection.
type SummaryCache struct {
	cache   *Cache
	breaker *circuitbreaker.CircuitBreaker
}

// NewSummaryCache creates a summary cache on top of c.
func NewSummaryCache(c *Cache) *SummaryCache {
	return &SummaryCache{cache: c}
}

// WithBreaker guards every call with cb.
func (s *SummaryCache) WithBreaker(cb *circuitbreaker.CircuitBreaker) *SummaryCache {
	return &SummaryCache{cache: s.cache, breaker: cb}
}

func (s *SummaryCache) do(ctx context.Context, fn func(context.Context) error) error {
	if s.breaker == nil {
		return fn(ctx)
	}
	return s.breaker.Execute(ctx, fn)
}

// get reads key into dest. found is false on a miss or a rejected call.
func (s *SummaryCache) get(ctx context.Context, key string, dest any) (found bool, err error) {
	err = s.do(ctx, func(ctx context.Context) error {
		err := s.cache.Get(ctx, key, dest)
		if errors.Is(err, ErrCacheMiss) {
			return nil
		}
		if err == nil {
			found = true
		}
		return err
	})
	if circuitbreaker.IsRejected(err) {
		return false, nil
	}
	return found, err
}

func (s *SummaryCache) set(ctx context.Context, key string, value any) error {
	err := s.do(ctx, func(ctx context.Context) error {
		return s.cache.Set(ctx, key, value, s.cache.config.SummaryTTL)
	})
	if circuitbreaker.IsRejected(err) {
		return nil
	}
	return err
}

// GetSummary returns the cached summary of the user.
func (s *SummaryCache) GetSummary(ctx context.Context, userID int64) (*achievement.Summary, error) {
	var out achievement.Summary
	found, err := s.get(ctx, SummaryKey(userID), &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

// SetSummary caches the user's summary.
func (s *SummaryCache) SetSummary(ctx context.Context, userID int64, summary achievement.Summary) error {
	return s.set(ctx, SummaryKey(userID), summary)
}

// GetGlobal returns the cached global summary.
func (s *SummaryCache) GetGlobal(ctx context.Context) (*achievement.GlobalSummary, error) {
	var out achievement.GlobalSummary
	found, err := s.get(ctx, KeyGlobalSummary, &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

// SetGlobal caches the global summary.
func (s *SummaryCache) SetGlobal(ctx context.Context, summary achievement.GlobalSummary) error {
	return s.set(ctx, KeyGlobalSummary, summary)
}

// InvalidateUser drops the user's cached summary.
func (s *SummaryCache) InvalidateUser(ctx context.Context, userID int64) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.cache.Delete(ctx, SummaryKey(userID))
	})
}

// InvalidateGlobal drops the cached global summary.
func (s *SummaryCache) InvalidateGlobal(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.cache.Delete(ctx, KeyGlobalSummary)
	})
}
