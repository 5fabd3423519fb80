package query

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
	"github.com/dnflvus-wq/engTest/internal/domain/shared"
	"github.com/dnflvus-wq/engTest/internal/infrastructure/catalog"
	"github.com/dnflvus-wq/engTest/internal/infrastructure/persistence/memory"
	"github.com/dnflvus-wq/engTest/pkg/logger"
)

func loadCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Default()
	require.NoError(t, err)
	return c
}

func insert(t *testing.T, s *memory.UnlockStore, userID int64, id string, tier achievement.Tier) {
	t.Helper()
	_, err := s.Insert(context.Background(), &achievement.UnlockRecord{UserID: userID, AchievementID: id, Tier: tier, CurrentValue: 1})
	require.NoError(t, err)
}

func TestGetAchievements_MergesUnlocksAndProgress(t *testing.T) {
	ctx := context.Background()
	cat := loadCatalog(t)
	unlocks := memory.NewUnlockStore()
	progress := memory.NewProgressStore()

	insert(t, unlocks, 1, "EXAM_COUNT", achievement.TierBronze)
	insert(t, unlocks, 1, "EXAM_COUNT", achievement.TierSilver)
	insert(t, unlocks, 1, "ZERO_HERO", achievement.TierNone)
	require.NoError(t, progress.Upsert(ctx, achievement.Progress{UserID: 1, AchievementID: "EXAM_COUNT", CurrentValue: 22, TargetValue: 50, NextTier: "GOLD"}))

	h := NewGetAchievementsHandler(cat, unlocks, progress, logger.Nop())
	res, err := h.Handle(ctx, GetAchievementsQuery{UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, cat.Len(), res.Total)
	assert.Equal(t, 2, res.UnlockedCount)
	assert.Equal(t, cat.Version(), res.CatalogVersion)

	byID := map[string]AchievementDTO{}
	for _, a := range res.Achievements {
		byID[a.ID] = a
	}

	exam := byID["EXAM_COUNT"]
	assert.True(t, exam.Unlocked)
	assert.Equal(t, "SILVER", exam.Tier)
	assert.NotNil(t, exam.UnlockedAt)
	assert.Equal(t, 22, exam.CurrentValue)
	assert.Equal(t, "GOLD", exam.NextTier)
	assert.Equal(t, 50, exam.TierThresholds["GOLD"])

	zero := byID["ZERO_HERO"]
	assert.True(t, zero.Unlocked)
	assert.NotEqual(t, HiddenPlaceholder, zero.NameEn)

	half := byID["EXACTLY_HALF"]
	assert.False(t, half.Unlocked)
	assert.True(t, half.IsHidden)
	assert.Equal(t, HiddenPlaceholder, half.NameEn)
	assert.Equal(t, HiddenPlaceholder, half.DescriptionKr)
}

type brokenProgress struct{}

func (brokenProgress) Upsert(context.Context, achievement.Progress) error {
	return errors.New("cache offline")
}

func (brokenProgress) FindByUser(context.Context, int64) (map[string]achievement.Progress, error) {
	return nil, errors.New("cache offline")
}

func TestGetAchievements_ProgressFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	unlocks := memory.NewUnlockStore()
	insert(t, unlocks, 7, "EXAM_COUNT", achievement.TierBronze)

	var buf bytes.Buffer
	log := logger.New(logger.Options{Output: &buf, Level: logger.LevelInfo, Format: "json"})
	h := NewGetAchievementsHandler(loadCatalog(t), unlocks, brokenProgress{}, log)

	res, err := h.Handle(ctx, GetAchievementsQuery{UserID: 7})
	require.NoError(t, err)
	assert.Equal(t, 1, res.UnlockedCount)
	for _, a := range res.Achievements {
		assert.Zero(t, a.CurrentValue, a.ID)
	}

	assert.Contains(t, buf.String(), "progress cache read failed")
	assert.Contains(t, buf.String(), "cache offline")
	assert.Contains(t, buf.String(), `"user_id":7`)
}

func TestGetAchievements_CategoryFilter(t *testing.T) {
	ctx := context.Background()
	h := NewGetAchievementsHandler(loadCatalog(t), memory.NewUnlockStore(), nil, logger.Nop())

	res, err := h.Handle(ctx, GetAchievementsQuery{UserID: 1, Category: "legend"})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Total)
	for _, a := range res.Achievements {
		assert.Equal(t, "LEGEND", a.Category)
	}

	_, err = h.Handle(ctx, GetAchievementsQuery{UserID: 1, Category: "NOPE"})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(ctx, GetAchievementsQuery{})
	assert.ErrorIs(t, err, shared.ErrInvalidUserID)
}

func TestGetUnnotified(t *testing.T) {
	ctx := context.Background()
	cat := loadCatalog(t)
	unlocks := memory.NewUnlockStore()
	insert(t, unlocks, 1, "FIRST_LOGIN", achievement.TierNone)
	insert(t, unlocks, 1, "RETIRED_ACHIEVEMENT", achievement.TierNone)

	h := NewGetUnnotifiedHandler(unlocks, cat)
	out, err := h.Handle(ctx, GetUnnotifiedQuery{UserID: 1})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "FIRST_LOGIN", out[0].AchievementID)
	assert.NotEmpty(t, out[0].NameEn)
	assert.Empty(t, out[1].NameEn)

	_, err = unlocks.MarkNotified(ctx, 1, []int64{out[0].ID})
	require.NoError(t, err)
	out, err = h.Handle(ctx, GetUnnotifiedQuery{UserID: 1})
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

type countingCache struct {
	mu       sync.Mutex
	user     map[int64]achievement.Summary
	global   *achievement.GlobalSummary
	setCalls int
}

func newCountingCache() *countingCache {
	return &countingCache{user: map[int64]achievement.Summary{}}
}

func (c *countingCache) GetSummary(_ context.Context, userID int64) (*achievement.Summary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.user[userID]; ok {
		return &s, nil
	}
	return nil, nil
}

func (c *countingCache) SetSummary(_ context.Context, userID int64, s achievement.Summary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user[userID] = s
	c.setCalls++
	return nil
}

func (c *countingCache) GetGlobal(context.Context) (*achievement.GlobalSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.global, nil
}

func (c *countingCache) SetGlobal(_ context.Context, s achievement.GlobalSummary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.global = &s
	return nil
}

func (c *countingCache) InvalidateUser(_ context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.user, userID)
	return nil
}

func (c *countingCache) InvalidateGlobal(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.global = nil
	return nil
}

func TestGetSummary(t *testing.T) {
	ctx := context.Background()
	cat := loadCatalog(t)
	unlocks := memory.NewUnlockStore()
	badges := memory.NewBadgeStore()
	cache := newCountingCache()

	for _, tier := range []achievement.Tier{achievement.TierBronze, achievement.TierSilver, achievement.TierGold} {
		insert(t, unlocks, 1, "EXAM_COUNT", tier)
	}
	insert(t, unlocks, 1, "FIRST_LOGIN", achievement.TierNone)
	insert(t, unlocks, 2, "FIRST_LOGIN", achievement.TierNone)
	_, _ = badges.Insert(ctx, 1, "badge_exam_master")

	h := NewGetSummaryHandler(cat, unlocks, badges, cache)

	s, err := h.Handle(ctx, GetSummaryQuery{UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, achievement.Summary{TotalAchievements: cat.Len(), UnlockedCount: 2, BadgeCount: 1, GoldOrAbove: 1}, *s)

	// served from cache until invalidated
	insert(t, unlocks, 1, "FIRST_EXAM", achievement.TierNone)
	s, err = h.Handle(ctx, GetSummaryQuery{UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, s.UnlockedCount)
	require.NoError(t, cache.InvalidateUser(ctx, 1))
	s, err = h.Handle(ctx, GetSummaryQuery{UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, s.UnlockedCount)

	g, err := h.HandleGlobal(ctx)
	require.NoError(t, err)
	assert.Equal(t, achievement.GlobalSummary{
		TotalAchievements: cat.Len(),
		TotalUnlocks:      6,
		UsersWithUnlocks:  2,
		BadgesOwned:       1,
		GoldOrAbove:       1,
	}, *g)
}

type slowTotals struct {
	*memory.UnlockStore
	calls atomic.Int32
	gate  chan struct{}
}

func (s *slowTotals) Totals(ctx context.Context) (achievement.UnlockTotals, error) {
	s.calls.Add(1)
	<-s.gate
	return s.UnlockStore.Totals(ctx)
}

func TestGetSummary_GlobalIsCoalesced(t *testing.T) {
	ctx := context.Background()
	unlocks := &slowTotals{UnlockStore: memory.NewUnlockStore(), gate: make(chan struct{})}
	h := NewGetSummaryHandler(loadCatalog(t), unlocks, memory.NewBadgeStore(), nil)

	var wg sync.WaitGroup
	call := func() {
		defer wg.Done()
		_, err := h.HandleGlobal(ctx)
		assert.NoError(t, err)
	}

	wg.Add(1)
	go call()
	require.Eventually(t, func() bool { return unlocks.calls.Load() == 1 }, time.Second, time.Millisecond)

	for i := 0; i < 7; i++ {
		wg.Add(1)
		go call()
	}
	time.Sleep(50 * time.Millisecond)
	close(unlocks.gate)
	wg.Wait()

	assert.Equal(t, int32(1), unlocks.calls.Load())
}

func TestGetBadges(t *testing.T) {
	ctx := context.Background()
	cat := loadCatalog(t)
	repo := memory.NewBadgeStore()
	_, _ = repo.Insert(ctx, 1, "badge_champion")
	_, _ = repo.Insert(ctx, 1, "badge_on_fire")
	_, _ = repo.Insert(ctx, 2, "badge_explorer")
	require.NoError(t, repo.Equip(ctx, 1, "badge_champion", 2))
	require.NoError(t, repo.Equip(ctx, 2, "badge_explorer", 1))

	h := NewGetBadgesHandler(repo, cat)

	owned, err := h.Handle(ctx, GetBadgesQuery{UserID: 1})
	require.NoError(t, err)
	assert.Len(t, owned, 2)

	eq, err := h.Handle(ctx, GetBadgesQuery{UserID: 1, EquippedOnly: true})
	require.NoError(t, err)
	require.Len(t, eq, 1)
	assert.Equal(t, "EPIC", eq[0].Rarity)
	assert.Equal(t, "RANK_FIRST_COUNT", eq[0].AchievementID)
	assert.Equal(t, 2, *eq[0].SlotNumber)

	all, err := h.HandleAllEquipped(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "badge_explorer", all[2][0].BadgeID)
}
