package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
)

// ProgressCache keeps display progress in one hash per user, one field per
// achievement. It implements achievement.ProgressRepository; entries are
// disposable and rebuilt by the next evaluation.
type ProgressCache struct {
	cache *Cache
}

// NewProgressCache creates a progress cache on top of c.
func NewProgressCache(c *Cache) *ProgressCache {
	return &ProgressCache{cache: c}
}

// Upsert overwrites the achievement's field in the user's hash.
func (p *ProgressCache) Upsert(ctx context.Context, entry achievement.Progress) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	key := ProgressKey(entry.UserID)
	pipe := p.cache.client.TxPipeline()
	pipe.HSet(ctx, key, entry.AchievementID, data)
	if ttl := p.cache.config.ProgressTTL; ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache progress: %w", err)
	}
	return nil
}

// FindByUser returns every cached entry of the user. Undecodable fields are
// skipped.
func (p *ProgressCache) FindByUser(ctx context.Context, userID int64) (map[string]achievement.Progress, error) {
	fields, err := p.cache.client.HGetAll(ctx, ProgressKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read progress: %w", err)
	}

	out := make(map[string]achievement.Progress, len(fields))
	for id, raw := range fields {
		var entry achievement.Progress
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		out[id] = entry
	}
	return out, nil
}

var _ achievement.ProgressRepository = (*ProgressCache)(nil)
