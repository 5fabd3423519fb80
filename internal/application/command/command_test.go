package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
	"github.com/dnflvus-wq/engTest/internal/domain/shared"
	"github.com/dnflvus-wq/engTest/internal/infrastructure/persistence/memory"
	"github.com/dnflvus-wq/engTest/pkg/logger"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count(t shared.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}

var examCount = achievement.Definition{
	ID:       "EXAM_COUNT",
	Category: achievement.CategoryExamMaster,
	Tiered:   true,
	Thresholds: achievement.Thresholds{
		achievement.TierBronze:  5,
		achievement.TierSilver:  20,
		achievement.TierGold:    50,
		achievement.TierDiamond: 100,
	},
	BadgeID:       "badge_exam",
	GrantsBadgeAt: achievement.GrantGoldOrAbove,
}

var firstLogin = achievement.Definition{
	ID:            "FIRST_LOGIN",
	Category:      achievement.CategoryFirstSteps,
	BadgeID:       "badge_hello",
	GrantsBadgeAt: achievement.GrantSingle,
}

type fixture struct {
	unlocks  *memory.UnlockStore
	badges   *memory.BadgeStore
	pub      *recordingPublisher
	registry *BadgeRegistry
	unlock   *UnlockAchievementHandler
}

func newFixture() *fixture {
	f := &fixture{
		unlocks: memory.NewUnlockStore(),
		badges:  memory.NewBadgeStore(),
		pub:     &recordingPublisher{},
	}
	f.registry = NewBadgeRegistry(f.badges, memory.NewKeyedLocker(), f.pub, logger.Nop(), BadgeRegistryConfig{})
	f.unlock = NewUnlockAchievementHandler(f.unlocks, f.registry, f.pub, logger.Nop())
	return f
}

func TestUnlock_CascadesLowerTiers(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	res, err := f.unlock.Handle(ctx, UnlockAchievementCommand{UserID: 1, Definition: examCount, Tier: achievement.TierGold, Value: 55})
	require.NoError(t, err)
	require.Len(t, res.Unlocked, 3)
	assert.Equal(t, achievement.TierBronze, res.Unlocked[0].Tier)
	assert.Equal(t, achievement.TierSilver, res.Unlocked[1].Tier)
	assert.Equal(t, achievement.TierGold, res.Unlocked[2].Tier)
	for _, r := range res.Unlocked {
		assert.Equal(t, 55, r.CurrentValue)
	}
	assert.True(t, res.BadgeAwarded)
	assert.Equal(t, 3, f.pub.count(shared.EventAchievementUnlocked))
	assert.Equal(t, 1, f.pub.count(shared.EventBadgeAwarded))
}

func TestUnlock_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	cmd := UnlockAchievementCommand{UserID: 1, Definition: examCount, Tier: achievement.TierSilver, Value: 20}

	_, err := f.unlock.Handle(ctx, cmd)
	require.NoError(t, err)
	res, err := f.unlock.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, res.AlreadyUnlocked)
	assert.Empty(t, res.Unlocked)

	recs, err := f.unlocks.FindByUser(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	owned, err := f.badges.CountByUser(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, owned, "silver does not satisfy GOLD_OR_ABOVE")
}

func TestUnlock_FillsOnlyMissingTiers(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.unlock.Handle(ctx, UnlockAchievementCommand{UserID: 1, Definition: examCount, Tier: achievement.TierBronze, Value: 5})
	require.NoError(t, err)
	res, err := f.unlock.Handle(ctx, UnlockAchievementCommand{UserID: 1, Definition: examCount, Tier: achievement.TierDiamond, Value: 100})
	require.NoError(t, err)
	require.Len(t, res.Unlocked, 3)
	assert.Equal(t, achievement.TierSilver, res.Unlocked[0].Tier)

	best, _ := achievement.BestTiers(mustFind(t, f.unlocks, 1))
	assert.Equal(t, achievement.TierDiamond, best["EXAM_COUNT"])
}

func TestUnlock_NonTieredOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	cmd := UnlockAchievementCommand{UserID: 3, Definition: firstLogin, Value: 1}

	res, err := f.unlock.Handle(ctx, cmd)
	require.NoError(t, err)
	require.Len(t, res.Unlocked, 1)
	assert.Equal(t, achievement.TierNone, res.Unlocked[0].Tier)
	assert.True(t, res.BadgeAwarded)

	res, err = f.unlock.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, res.AlreadyUnlocked)
	assert.Len(t, mustFind(t, f.unlocks, 3), 1)
	assert.Equal(t, 1, f.pub.count(shared.EventBadgeAwarded))
}

func TestUnlock_ConcurrentRunsConverge(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.unlock.Handle(ctx, UnlockAchievementCommand{UserID: 9, Definition: examCount, Tier: achievement.TierGold, Value: 50})
		}()
	}
	wg.Wait()

	assert.Len(t, mustFind(t, f.unlocks, 9), 3)
	n, err := f.badges.CountByUser(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUnlock_Validate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.unlock.Handle(ctx, UnlockAchievementCommand{Definition: firstLogin})
	assert.Error(t, err)
	_, err = f.unlock.Handle(ctx, UnlockAchievementCommand{UserID: 1, Definition: examCount})
	assert.Error(t, err)
	_, err = f.unlock.Handle(ctx, UnlockAchievementCommand{UserID: 1, Definition: firstLogin, Tier: achievement.TierGold})
	assert.Error(t, err)
	_, err = f.unlock.Handle(ctx, UnlockAchievementCommand{UserID: 1, Definition: examCount, Tier: "PLATINUM"})
	assert.ErrorIs(t, err, shared.ErrInvalidTier)
}

type failingAwarder struct{}

func (failingAwarder) Award(context.Context, int64, string) (bool, error) {
	return false, errors.New("db down")
}

func TestUnlock_BadgeFailureKeepsUnlock(t *testing.T) {
	ctx := context.Background()
	unlocks := memory.NewUnlockStore()
	h := NewUnlockAchievementHandler(unlocks, failingAwarder{}, nil, logger.Nop())

	res, err := h.Handle(ctx, UnlockAchievementCommand{UserID: 1, Definition: firstLogin, Value: 1})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Len(t, res.Unlocked, 1)
	assert.Len(t, mustFind(t, unlocks, 1), 1)
}

// flakyAwarder fails the first n awards, then delegates.
type flakyAwarder struct {
	next  BadgeAwarder
	fails int
}

func (a *flakyAwarder) Award(ctx context.Context, userID int64, badgeID string) (bool, error) {
	if a.fails > 0 {
		a.fails--
		return false, errors.New("connection reset")
	}
	return a.next.Award(ctx, userID, badgeID)
}

func TestUnlock_RetriggerGrantsBadgeAfterFailedAward(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	h := NewUnlockAchievementHandler(f.unlocks, &flakyAwarder{next: f.registry, fails: 1}, f.pub, logger.Nop())
	cmd := UnlockAchievementCommand{UserID: 1, Definition: examCount, Tier: achievement.TierGold, Value: 60}

	_, err := h.Handle(ctx, cmd)
	require.Error(t, err)
	assert.Len(t, mustFind(t, f.unlocks, 1), 3)
	owned, err := f.badges.CountByUser(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, owned)

	res, err := h.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, res.AlreadyUnlocked)
	assert.True(t, res.BadgeAwarded)
	assert.Equal(t, "badge_exam", res.BadgeID)

	res, err = h.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.False(t, res.BadgeAwarded)
	assert.Equal(t, 1, f.pub.count(shared.EventBadgeAwarded))
}

func mustFind(t *testing.T, s *memory.UnlockStore, userID int64) []achievement.UnlockRecord {
	t.Helper()
	recs, err := s.FindByUser(context.Background(), userID)
	require.NoError(t, err)
	return recs
}

// ─────────────────────────────────────────────────────────────────────────────
// Progress
// ─────────────────────────────────────────────────────────────────────────────

func TestUpdateProgress(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProgressStore()
	h := NewUpdateProgressHandler(store)

	p, err := h.Handle(ctx, UpdateProgressCommand{UserID: 1, Definition: examCount, Value: 7})
	require.NoError(t, err)
	assert.Equal(t, "SILVER", p.NextTier)
	assert.Equal(t, 20, p.TargetValue)

	p, err = h.Handle(ctx, UpdateProgressCommand{UserID: 1, Definition: examCount, Value: 150})
	require.NoError(t, err)
	assert.Equal(t, achievement.NextTierComplete, p.NextTier)
	assert.Equal(t, 100, p.TargetValue)

	all, err := store.FindByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 150, all["EXAM_COUNT"].CurrentValue)

	p, err = h.Handle(ctx, UpdateProgressCommand{UserID: 1, Definition: firstLogin, Value: 1})
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestUpdateProgress_Reverse(t *testing.T) {
	ctx := context.Background()
	h := NewUpdateProgressHandler(memory.NewProgressStore())
	fast := achievement.Definition{
		ID: "FAST_EXAM", Category: achievement.CategorySpeed, Tiered: true, Reverse: true,
		Thresholds: achievement.Thresholds{achievement.TierBronze: 10, achievement.TierSilver: 5, achievement.TierGold: 2},
	}

	p, err := h.Handle(ctx, UpdateProgressCommand{UserID: 1, Definition: fast, Value: 7})
	require.NoError(t, err)
	assert.Equal(t, "SILVER", p.NextTier)
	assert.Equal(t, 5, p.TargetValue)
}

// ─────────────────────────────────────────────────────────────────────────────
// Badges
// ─────────────────────────────────────────────────────────────────────────────

func TestBadgeRegistry_Award(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	ok, err := f.registry.Award(ctx, 1, "")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.registry.Award(ctx, 1, "badge_x")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.registry.Award(ctx, 1, "badge_x")
	require.NoError(t, err)
	assert.False(t, ok)

	n, _ := f.badges.CountByUser(ctx, 1)
	assert.Equal(t, 1, n)
}

func TestBadgeRegistry_Equip(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, _ = f.registry.Award(ctx, 1, "badge_a")
	_, _ = f.registry.Award(ctx, 1, "badge_b")

	_, err := f.registry.Equip(ctx, EquipBadgeCommand{UserID: 1, BadgeID: "badge_a", Slot: 0})
	assert.ErrorIs(t, err, shared.ErrInvalidSlot)
	assert.Equal(t, "Slot number must be between 1 and 5", shared.PublicMessage(err, ""))

	_, err = f.registry.Equip(ctx, EquipBadgeCommand{UserID: 1, BadgeID: "badge_a", Slot: 6})
	assert.ErrorIs(t, err, shared.ErrInvalidSlot)

	_, err = f.registry.Equip(ctx, EquipBadgeCommand{UserID: 1, BadgeID: "badge_zzz", Slot: 1})
	assert.ErrorIs(t, err, shared.ErrBadgeNotOwned)
	assert.True(t, shared.IsValidation(err))

	eq, err := f.registry.Equip(ctx, EquipBadgeCommand{UserID: 1, BadgeID: "badge_a", Slot: 1})
	require.NoError(t, err)
	require.Len(t, eq, 1)

	eq, err = f.registry.Equip(ctx, EquipBadgeCommand{UserID: 1, BadgeID: "badge_b", Slot: 2})
	require.NoError(t, err)
	require.Len(t, eq, 2)

	// badge_a moves onto slot 2; badge_b is displaced and slot 1 empties
	eq, err = f.registry.Equip(ctx, EquipBadgeCommand{UserID: 1, BadgeID: "badge_a", Slot: 2})
	require.NoError(t, err)
	require.Len(t, eq, 1)
	assert.Equal(t, "badge_a", eq[0].BadgeID)
	assert.Equal(t, 2, *eq[0].Slot)

	eq, err = f.registry.Unequip(ctx, UnequipBadgeCommand{UserID: 1, Slot: 2})
	require.NoError(t, err)
	assert.Empty(t, eq)

	_, err = f.registry.Unequip(ctx, UnequipBadgeCommand{UserID: 1, Slot: 9})
	assert.ErrorIs(t, err, shared.ErrInvalidSlot)

	assert.Equal(t, 3, f.pub.count(shared.EventBadgeEquipped))
	assert.Equal(t, 1, f.pub.count(shared.EventBadgeUnequipped))
}

func TestBadgeRegistry_ConcurrentEquipKeepsSlotsUnique(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ids := []string{"b1", "b2", "b3", "b4", "b5", "b6"}
	for _, id := range ids {
		_, _ = f.registry.Award(ctx, 1, id)
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(id string, slot int) {
			defer wg.Done()
			_, _ = f.registry.Equip(ctx, EquipBadgeCommand{UserID: 1, BadgeID: id, Slot: slot})
		}(id, i%2+1)
	}
	wg.Wait()

	eq, err := f.badges.FindEquipped(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, eq, 2)
	seenSlot := map[int]bool{}
	seenBadge := map[string]bool{}
	for _, o := range eq {
		assert.False(t, seenSlot[*o.Slot])
		assert.False(t, seenBadge[o.BadgeID])
		seenSlot[*o.Slot] = true
		seenBadge[o.BadgeID] = true
	}
}

type stuckLocker struct{}

func (stuckLocker) Lock(ctx context.Context, key string) (func(), error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestBadgeRegistry_LockTimeout(t *testing.T) {
	ctx := context.Background()
	badges := memory.NewBadgeStore()
	r := NewBadgeRegistry(badges, stuckLocker{}, nil, logger.Nop(), BadgeRegistryConfig{LockTimeout: 10 * time.Millisecond})
	_, _ = r.Award(ctx, 1, "b")

	_, err := r.Equip(ctx, EquipBadgeCommand{UserID: 1, BadgeID: "b", Slot: 1})
	assert.ErrorIs(t, err, shared.ErrTimeout)
	assert.True(t, shared.IsRetryable(err))
}

// ─────────────────────────────────────────────────────────────────────────────
// Notifications and actions
// ─────────────────────────────────────────────────────────────────────────────

func TestMarkNotified(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, err := f.unlock.Handle(ctx, UnlockAchievementCommand{UserID: 1, Definition: examCount, Tier: achievement.TierSilver, Value: 20})
	require.NoError(t, err)
	pending, _ := f.unlocks.FindUnnotified(ctx, 1)
	require.Len(t, pending, 2)

	h := NewMarkNotifiedHandler(f.unlocks, f.pub)
	n, err := h.Handle(ctx, MarkNotifiedCommand{UserID: 1})
	require.NoError(t, err)
	assert.Zero(t, n)

	// ids of other users are ignored
	n, err = h.Handle(ctx, MarkNotifiedCommand{UserID: 2, IDs: []int64{pending[0].ID}})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = h.Handle(ctx, MarkNotifiedCommand{UserID: 1, IDs: []int64{pending[0].ID, pending[1].ID}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, f.pub.count(shared.EventAchievementsNotified))
}

type recordingQueue struct {
	calls []achievement.Trigger
	err   error
}

func (q *recordingQueue) Enqueue(userID int64, trigger achievement.Trigger) error {
	q.calls = append(q.calls, trigger)
	return q.err
}

func TestTrackAction(t *testing.T) {
	ctx := context.Background()
	counter := memory.NewActivityStore(nil)
	q := &recordingQueue{}
	h := NewTrackActionHandler(counter, q, nil, logger.Nop())

	_, err := h.Handle(ctx, TrackActionCommand{UserID: 1, Action: "  "})
	assert.ErrorIs(t, err, shared.ErrActionRequired)
	assert.Equal(t, "action is required", shared.PublicMessage(err, ""))

	res, err := h.Handle(ctx, TrackActionCommand{UserID: 1, Action: "tts_click"})
	require.NoError(t, err)
	assert.Equal(t, achievement.ActionTTSClick, res.Action)
	assert.Equal(t, 1, res.Count)
	assert.True(t, res.Queued)
	assert.Equal(t, []achievement.Trigger{achievement.TriggerStudyAction}, q.calls)

	q.err = shared.ErrEvaluationQueueFull
	res, err = h.Handle(ctx, TrackActionCommand{UserID: 1, Action: achievement.ActionTTSClick})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.False(t, res.Queued)
}
