// Package memory provides in-process implementations of the engine's
// repositories. They back the "memory" storage driver used for local
// development and the application-layer tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
)

// UnlockStore is an in-memory achievement.UnlockRepository.
type UnlockStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[achievement.UnlockKey]*achievement.UnlockRecord
	now     func() time.Time
}

// NewUnlockStore creates an empty store.
func NewUnlockStore() *UnlockStore {
	return &UnlockStore{
		records: make(map[achievement.UnlockKey]*achievement.UnlockRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// FindByUser implements achievement.UnlockRepository.
func (s *UnlockStore) FindByUser(ctx context.Context, userID int64) ([]achievement.UnlockRecord, error) {
	return s.filter(func(r *achievement.UnlockRecord) bool { return r.UserID == userID }), nil
}

// Exists implements achievement.UnlockRepository.
func (s *UnlockStore) Exists(ctx context.Context, userID int64, achievementID string, tier achievement.Tier) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[achievement.UnlockKey{UserID: userID, AchievementID: achievementID, Tier: tier}]
	return ok, nil
}

// Insert implements achievement.UnlockRepository.
func (s *UnlockStore) Insert(ctx context.Context, rec *achievement.UnlockRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	if _, ok := s.records[key]; ok {
		return false, nil
	}
	s.nextID++
	rec.ID = s.nextID
	if rec.UnlockedAt.IsZero() {
		rec.UnlockedAt = s.now()
	}
	stored := *rec
	s.records[key] = &stored
	return true, nil
}

// FindUnnotified implements achievement.UnlockRepository.
func (s *UnlockStore) FindUnnotified(ctx context.Context, userID int64) ([]achievement.UnlockRecord, error) {
	return s.filter(func(r *achievement.UnlockRecord) bool {
		return r.UserID == userID && !r.Notified
	}), nil
}

// MarkNotified implements achievement.UnlockRepository.
func (s *UnlockStore) MarkNotified(ctx context.Context, userID int64, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.UserID == userID && want[r.ID] && !r.Notified {
			r.Notified = true
			n++
		}
	}
	return n, nil
}

// CountDistinctByUser implements achievement.UnlockRepository.
func (s *UnlockStore) CountDistinctByUser(ctx context.Context, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make(map[string]struct{})
	for _, r := range s.records {
		if r.UserID == userID {
			ids[r.AchievementID] = struct{}{}
		}
	}
	return len(ids), nil
}

// CountGoldOrAbove implements achievement.UnlockRepository.
func (s *UnlockStore) CountGoldOrAbove(ctx context.Context, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.records {
		if r.UserID == userID && r.Tier.AtLeast(achievement.TierGold) {
			n++
		}
	}
	return n, nil
}

// Totals implements achievement.UnlockRepository.
func (s *UnlockStore) Totals(ctx context.Context) (achievement.UnlockTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make(map[int64]struct{})
	var t achievement.UnlockTotals
	for _, r := range s.records {
		t.TotalUnlocks++
		users[r.UserID] = struct{}{}
		if r.Tier.AtLeast(achievement.TierGold) {
			t.GoldOrAbove++
		}
	}
	t.UsersWithUnlocks = len(users)
	return t, nil
}

func (s *UnlockStore) filter(keep func(*achievement.UnlockRecord) bool) []achievement.UnlockRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]achievement.UnlockRecord, 0)
	for _, r := range s.records {
		if keep(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ProgressStore is an in-memory achievement.ProgressRepository.
type ProgressStore struct {
	mu      sync.RWMutex
	entries map[int64]map[string]achievement.Progress
}

// NewProgressStore creates an empty store.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{entries: make(map[int64]map[string]achievement.Progress)}
}

// Upsert implements achievement.ProgressRepository.
func (s *ProgressStore) Upsert(ctx context.Context, p achievement.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser, ok := s.entries[p.UserID]
	if !ok {
		byUser = make(map[string]achievement.Progress)
		s.entries[p.UserID] = byUser
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	byUser[p.AchievementID] = p
	return nil
}

// FindByUser implements achievement.ProgressRepository.
func (s *ProgressStore) FindByUser(ctx context.Context, userID int64) (map[string]achievement.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]achievement.Progress, len(s.entries[userID]))
	for k, v := range s.entries[userID] {
		out[k] = v
	}
	return out, nil
}
