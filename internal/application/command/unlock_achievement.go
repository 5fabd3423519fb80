// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
	"github.com/dnflvus-wq/engTest/internal/domain/shared"
	"github.com/dnflvus-wq/engTest/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK ACHIEVEMENT COMMAND
// Persists a newly reached tier (and every lower tier that is still missing),
// then hands the linked badge to the badge registry when the grant policy
// matches. Every write is insert-if-absent, so concurrent evaluation runs for
// the same user converge on the same rows.
// ══════════════════════════════════════════════════════════════════════════════

// UnlockAchievementCommand contains the outcome to persist.
type UnlockAchievementCommand struct {
	// UserID is the user that reached the tier.
	UserID int64

	// Definition is the catalog entry that was evaluated.
	Definition achievement.Definition

	// Tier is the highest newly met tier. TierNone for non-tiered achievements.
	Tier achievement.Tier

	// Value is the metric value that produced the outcome.
	Value int

	// CorrelationID for tracing (usually the evaluation run id).
	CorrelationID string
}

// Validate validates the command.
func (c UnlockAchievementCommand) Validate() error {
	if c.UserID <= 0 {
		return errors.New("unlock_achievement: user_id is required")
	}
	if c.Definition.ID == "" {
		return errors.New("unlock_achievement: achievement_id is required")
	}
	if c.Definition.Tiered && c.Tier.IsNone() {
		return fmt.Errorf("unlock_achievement: tier is required for tiered achievement %s", c.Definition.ID)
	}
	if !c.Definition.Tiered && !c.Tier.IsNone() {
		return fmt.Errorf("unlock_achievement: %s is not tiered", c.Definition.ID)
	}
	if c.Tier.Index() < 0 && !c.Tier.IsNone() {
		return shared.ErrInvalidTier
	}
	return nil
}

// UnlockAchievementResult describes what was written.
type UnlockAchievementResult struct {
	// Unlocked holds the records inserted by this call, lowest tier first.
	Unlocked []achievement.UnlockRecord

	// AlreadyUnlocked is true when the exact target row existed beforehand.
	AlreadyUnlocked bool

	// BadgeID is set when the grant policy matched.
	BadgeID string

	// BadgeAwarded is true when the badge was newly granted.
	BadgeAwarded bool
}

// BadgeAwarder grants badges. Awarding an owned badge is a no-op.
type BadgeAwarder interface {
	Award(ctx context.Context, userID int64, badgeID string) (bool, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// UnlockAchievementHandler handles the UnlockAchievementCommand.
type UnlockAchievementHandler struct {
	unlocks        achievement.UnlockRepository
	badges         BadgeAwarder
	eventPublisher shared.EventPublisher
	logger         *logger.Logger
	now            func() time.Time
}

// NewUnlockAchievementHandler creates a new UnlockAchievementHandler.
// badges may be nil when badge awarding is switched off.
func NewUnlockAchievementHandler(
	unlocks achievement.UnlockRepository,
	badges BadgeAwarder,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
) *UnlockAchievementHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &UnlockAchievementHandler{
		unlocks:        unlocks,
		badges:         badges,
		eventPublisher: eventPublisher,
		logger:         log.With(logger.Component("unlock_achievement")),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Handle executes the unlock command.
func (h *UnlockAchievementHandler) Handle(ctx context.Context, cmd UnlockAchievementCommand) (*UnlockAchievementResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("unlock_achievement: validation failed: %w", err)
	}

	def := cmd.Definition
	result := &UnlockAchievementResult{}

	// Exact-key guard: the target row already exists. Only the badge grant is
	// repeated, so a grant that failed after the rows were written heals here.
	exists, err := h.unlocks.Exists(ctx, cmd.UserID, def.ID, cmd.Tier)
	if err != nil {
		return nil, fmt.Errorf("unlock_achievement: failed to check existing unlock: %w", err)
	}
	if exists {
		result.AlreadyUnlocked = true
		return result, h.awardBadge(ctx, cmd, result)
	}

	// Tiered achievements record every tier up to the target.
	tiers := []achievement.Tier{achievement.TierNone}
	if def.Tiered {
		tiers = achievement.Tiers()[:cmd.Tier.Index()+1]
	}

	for _, tier := range tiers {
		rec, err := h.insert(ctx, cmd, tier)
		if err != nil {
			return result, err
		}
		if rec != nil {
			result.Unlocked = append(result.Unlocked, *rec)
		}
	}

	if err := h.awardBadge(ctx, cmd, result); err != nil {
		return result, err
	}

	return result, nil
}

// awardBadge grants the linked badge when the policy matches the target tier.
// Award is insert-if-absent, so calling it for an owned badge is harmless.
func (h *UnlockAchievementHandler) awardBadge(ctx context.Context, cmd UnlockAchievementCommand, result *UnlockAchievementResult) error {
	def := cmd.Definition
	if h.badges == nil || !def.HasBadge() || !def.GrantsBadgeAt.Grants(cmd.Tier) {
		return nil
	}
	result.BadgeID = def.BadgeID
	awarded, err := h.badges.Award(ctx, cmd.UserID, def.BadgeID)
	if err != nil {
		return fmt.Errorf("unlock_achievement: failed to award badge %s: %w", def.BadgeID, err)
	}
	result.BadgeAwarded = awarded
	return nil
}

// insert writes one tier row if it is still missing. It returns nil when the
// row existed or a concurrent run inserted it first.
func (h *UnlockAchievementHandler) insert(ctx context.Context, cmd UnlockAchievementCommand, tier achievement.Tier) (*achievement.UnlockRecord, error) {
	if cmd.Definition.Tiered {
		exists, err := h.unlocks.Exists(ctx, cmd.UserID, cmd.Definition.ID, tier)
		if err != nil {
			return nil, fmt.Errorf("unlock_achievement: failed to check tier %s: %w", tier, err)
		}
		if exists {
			return nil, nil
		}
	}

	rec := &achievement.UnlockRecord{
		UserID:        cmd.UserID,
		AchievementID: cmd.Definition.ID,
		Tier:          tier,
		CurrentValue:  cmd.Value,
		UnlockedAt:    h.now(),
	}
	inserted, err := h.unlocks.Insert(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("unlock_achievement: failed to insert %s/%s: %w", cmd.Definition.ID, tier, err)
	}
	if !inserted {
		return nil, nil
	}

	h.logger.Info("achievement unlocked",
		logger.UserID(cmd.UserID),
		logger.AchievementID(cmd.Definition.ID),
		logger.Tier(tier.String()),
		logger.Int("value", cmd.Value),
	)

	event := shared.NewAchievementUnlockedEvent(cmd.UserID, cmd.Definition.ID, string(tier), cmd.Value)
	if cmd.CorrelationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	_ = h.eventPublisher.Publish(event)

	return rec, nil
}
