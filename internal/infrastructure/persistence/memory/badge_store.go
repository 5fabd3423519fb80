package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dnflvus-wq/engTest/internal/domain/badge"
)

// BadgeStore is an in-memory badge.Repository. Equip and Unequip run under
// the store mutex so the three steps of a swap are never observed apart.
type BadgeStore struct {
	mu     sync.RWMutex
	nextID int64
	owned  map[int64]map[string]*badge.Owned
	now    func() time.Time
}

// NewBadgeStore creates an empty store.
func NewBadgeStore() *BadgeStore {
	return &BadgeStore{
		owned: make(map[int64]map[string]*badge.Owned),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Insert implements badge.Repository.
func (s *BadgeStore) Insert(ctx context.Context, userID int64, badgeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byBadge, ok := s.owned[userID]
	if !ok {
		byBadge = make(map[string]*badge.Owned)
		s.owned[userID] = byBadge
	}
	if _, ok := byBadge[badgeID]; ok {
		return false, nil
	}
	s.nextID++
	byBadge[badgeID] = &badge.Owned{
		ID:       s.nextID,
		UserID:   userID,
		BadgeID:  badgeID,
		EarnedAt: s.now(),
	}
	return true, nil
}

// Owns implements badge.Repository.
func (s *BadgeStore) Owns(ctx context.Context, userID int64, badgeID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.owned[userID][badgeID]
	return ok, nil
}

// FindOwned implements badge.Repository.
func (s *BadgeStore) FindOwned(ctx context.Context, userID int64) ([]badge.Owned, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.collect(userID, func(*badge.Owned) bool { return true })
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].EarnedAt.Equal(out[j].EarnedAt) {
			return out[i].EarnedAt.After(out[j].EarnedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// FindEquipped implements badge.Repository.
func (s *BadgeStore) FindEquipped(ctx context.Context, userID int64) ([]badge.Owned, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.collect(userID, func(o *badge.Owned) bool { return o.Slot != nil })
	sortBySlot(out)
	return out, nil
}

// FindAllEquipped implements badge.Repository.
func (s *BadgeStore) FindAllEquipped(ctx context.Context) ([]badge.Owned, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []badge.Owned
	for uid := range s.owned {
		out = append(out, s.collect(uid, func(o *badge.Owned) bool { return o.Slot != nil })...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return *out[i].Slot < *out[j].Slot
	})
	return out, nil
}

// Equip implements badge.Repository.
func (s *BadgeStore) Equip(ctx context.Context, userID int64, badgeID string, slot int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.owned[userID][badgeID]
	if !ok {
		return badge.NotOwnedError(badgeID)
	}
	for _, o := range s.owned[userID] {
		if o.Slot != nil && *o.Slot == slot {
			o.Slot = nil
		}
	}
	n := slot
	target.Slot = &n
	return nil
}

// Unequip implements badge.Repository.
func (s *BadgeStore) Unequip(ctx context.Context, userID int64, slot int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.owned[userID] {
		if o.Slot != nil && *o.Slot == slot {
			o.Slot = nil
		}
	}
	return nil
}

// CountByUser implements badge.Repository.
func (s *BadgeStore) CountByUser(ctx context.Context, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.owned[userID]), nil
}

// CountAll implements badge.Repository.
func (s *BadgeStore) CountAll(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, byBadge := range s.owned {
		n += len(byBadge)
	}
	return n, nil
}

// collect copies matching rows; the caller holds the lock.
func (s *BadgeStore) collect(userID int64, keep func(*badge.Owned) bool) []badge.Owned {
	out := make([]badge.Owned, 0)
	for _, o := range s.owned[userID] {
		if !keep(o) {
			continue
		}
		cp := *o
		if o.Slot != nil {
			n := *o.Slot
			cp.Slot = &n
		}
		out = append(out, cp)
	}
	return out
}

func sortBySlot(rows []badge.Owned) {
	sort.Slice(rows, func(i, j int) bool { return *rows[i].Slot < *rows[j].Slot })
}
