package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dnflvus-wq/engTest/internal/domain/badge"
	"github.com/dnflvus-wq/engTest/internal/domain/shared"
	"github.com/dnflvus-wq/engTest/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// BADGE REGISTRY
// Awards badges and moves them in and out of the five profile slots.
// Equip and unequip run under a per-user lock; the repository performs the
// clear-slot / clear-badge / assign sequence as one transactional unit.
// ══════════════════════════════════════════════════════════════════════════════

// UserLocker serialises work per key. The returned function releases the lock.
type UserLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// EquipBadgeCommand puts an owned badge into a slot.
type EquipBadgeCommand struct {
	UserID  int64
	BadgeID string
	Slot    int
}

// Validate validates the command.
func (c EquipBadgeCommand) Validate() error {
	if c.UserID <= 0 {
		return shared.ErrInvalidUserID
	}
	if err := badge.ValidateSlot(c.Slot); err != nil {
		return err
	}
	if c.BadgeID == "" {
		return badge.NotOwnedError(c.BadgeID)
	}
	return nil
}

// UnequipBadgeCommand clears a slot.
type UnequipBadgeCommand struct {
	UserID int64
	Slot   int
}

// Validate validates the command.
func (c UnequipBadgeCommand) Validate() error {
	if c.UserID <= 0 {
		return shared.ErrInvalidUserID
	}
	return badge.ValidateSlot(c.Slot)
}

// BadgeRegistryConfig contains configuration for the registry.
type BadgeRegistryConfig struct {
	// LockTimeout bounds how long equip/unequip wait for the user lock.
	LockTimeout time.Duration
}

// DefaultBadgeRegistryConfig returns default configuration.
func DefaultBadgeRegistryConfig() BadgeRegistryConfig {
	return BadgeRegistryConfig{LockTimeout: 5 * time.Second}
}

// BadgeRegistry handles award, equip and unequip.
type BadgeRegistry struct {
	repo           badge.Repository
	locker         UserLocker
	eventPublisher shared.EventPublisher
	logger         *logger.Logger
	config         BadgeRegistryConfig
}

// NewBadgeRegistry creates a new BadgeRegistry.
func NewBadgeRegistry(
	repo badge.Repository,
	locker UserLocker,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
	config BadgeRegistryConfig,
) *BadgeRegistry {
	if config.LockTimeout == 0 {
		config = DefaultBadgeRegistryConfig()
	}
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &BadgeRegistry{
		repo:           repo,
		locker:         locker,
		eventPublisher: eventPublisher,
		logger:         log.With(logger.Component("badge_registry")),
		config:         config,
	}
}

// Award grants badgeID to the user. An empty id and an already owned badge are
// no-ops. It reports whether the badge was newly granted.
func (r *BadgeRegistry) Award(ctx context.Context, userID int64, badgeID string) (bool, error) {
	if badgeID == "" {
		return false, nil
	}
	inserted, err := r.repo.Insert(ctx, userID, badgeID)
	if err != nil {
		return false, fmt.Errorf("award_badge: failed to insert: %w", err)
	}
	if !inserted {
		return false, nil
	}

	r.logger.Info("badge awarded", logger.UserID(userID), logger.BadgeID(badgeID))
	_ = r.eventPublisher.Publish(shared.NewBadgeEvent(shared.EventBadgeAwarded, userID, badgeID, 0))
	return true, nil
}

// Equip moves the badge into the slot. A badge already in the slot is
// unequipped, and the badge leaves any slot it occupied before.
// It returns the user's equipped badges after the change.
func (r *BadgeRegistry) Equip(ctx context.Context, cmd EquipBadgeCommand) ([]badge.Owned, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	unlock, err := r.lock(ctx, cmd.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := r.repo.Equip(ctx, cmd.UserID, cmd.BadgeID, cmd.Slot); err != nil {
		if errors.Is(err, shared.ErrBadgeNotOwned) {
			return nil, err
		}
		return nil, fmt.Errorf("equip_badge: failed to equip: %w", err)
	}

	r.logger.Info("badge equipped",
		logger.UserID(cmd.UserID),
		logger.BadgeID(cmd.BadgeID),
		logger.Int("slot", cmd.Slot),
	)
	_ = r.eventPublisher.Publish(shared.NewBadgeEvent(shared.EventBadgeEquipped, cmd.UserID, cmd.BadgeID, cmd.Slot))

	return r.repo.FindEquipped(ctx, cmd.UserID)
}

// Unequip clears the slot. Clearing an empty slot succeeds.
// It returns the user's equipped badges after the change.
func (r *BadgeRegistry) Unequip(ctx context.Context, cmd UnequipBadgeCommand) ([]badge.Owned, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	unlock, err := r.lock(ctx, cmd.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := r.repo.Unequip(ctx, cmd.UserID, cmd.Slot); err != nil {
		return nil, fmt.Errorf("unequip_badge: failed to unequip: %w", err)
	}

	r.logger.Info("badge unequipped", logger.UserID(cmd.UserID), logger.Int("slot", cmd.Slot))
	_ = r.eventPublisher.Publish(shared.NewBadgeEvent(shared.EventBadgeUnequipped, cmd.UserID, "", cmd.Slot))

	return r.repo.FindEquipped(ctx, cmd.UserID)
}

func (r *BadgeRegistry) lock(ctx context.Context, userID int64) (func(), error) {
	if r.locker == nil {
		return func() {}, nil
	}
	lockCtx, cancel := context.WithTimeout(ctx, r.config.LockTimeout)
	defer cancel()

	unlock, err := r.locker.Lock(lockCtx, SlotLockKey(userID))
	if err != nil {
		r.logger.Warn("badge slot lock not acquired", logger.UserID(userID), logger.Err(err))
		return nil, shared.WrapError("badge", "Equip", shared.ErrTimeout, shared.ErrBadgeLocked.Message, err)
	}
	return unlock, nil
}

// SlotLockKey is the lock key guarding a user's badge slots.
func SlotLockKey(userID int64) string {
	return "badge_slots:" + strconv.FormatInt(userID, 10)
}
