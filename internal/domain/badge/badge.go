// Package badge contains the badge catalog entries, owned badges and the
// profile slot rules.
package badge

import (
	"context"
	"fmt"
	"time"

	"github.com/dnflvus-wq/engTest/internal/domain/shared"
)

// Slot bounds. A user can display at most MaxSlot badges.
const (
	MinSlot = 1
	MaxSlot = 5
)

// Rarity of a badge.
type Rarity string

const (
	RarityRare      Rarity = "RARE"
	RarityEpic      Rarity = "EPIC"
	RarityLegendary Rarity = "LEGENDARY"
)

// Valid reports whether r is a known rarity.
func (r Rarity) Valid() bool {
	switch r {
	case RarityRare, RarityEpic, RarityLegendary:
		return true
	}
	return false
}

// Badge is a static catalog entry tied to exactly one achievement.
type Badge struct {
	ID            string `json:"id" yaml:"id"`
	AchievementID string `json:"achievementId" yaml:"achievement_id"`
	NameKr        string `json:"nameKr" yaml:"name_kr"`
	NameEn        string `json:"nameEn" yaml:"name_en"`
	DescriptionKr string `json:"descriptionKr" yaml:"description_kr"`
	Icon          string `json:"icon" yaml:"icon"`
	Rarity        Rarity `json:"rarity" yaml:"rarity"`
	ProfileEffect string `json:"profileEffect,omitempty" yaml:"profile_effect"`
}

// Validate checks the catalog entry.
func (b Badge) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("badge without id")
	}
	if b.AchievementID == "" {
		return fmt.Errorf("badge %s: achievement_id is required", b.ID)
	}
	if !b.Rarity.Valid() {
		return fmt.Errorf("badge %s: unknown rarity %q", b.ID, b.Rarity)
	}
	return nil
}

// Owned is a badge held by a user, optionally displayed in a slot.
type Owned struct {
	ID       int64     `json:"id"`
	UserID   int64     `json:"userId"`
	BadgeID  string    `json:"badgeId"`
	Slot     *int      `json:"slotNumber"`
	EarnedAt time.Time `json:"earnedAt"`
}

// Equipped reports whether the badge occupies a slot.
func (o Owned) Equipped() bool { return o.Slot != nil }

// ValidateSlot rejects slot numbers outside [MinSlot, MaxSlot].
func ValidateSlot(slot int) error {
	if slot < MinSlot || slot > MaxSlot {
		return shared.ErrInvalidSlot
	}
	return nil
}

// NotOwnedError returns the error reported when equipping a badge the user
// has not earned.
func NotOwnedError(badgeID string) error {
	return &shared.DomainError{
		Domain:  shared.ErrBadgeNotOwned.Domain,
		Op:      shared.ErrBadgeNotOwned.Op,
		Kind:    shared.ErrBadgeNotOwned.Kind,
		Message: "Badge not earned: " + badgeID,
	}
}

// Repository persists owned badges.
type Repository interface {
	// Insert grants the badge if the user does not own it yet and reports
	// whether a row was written.
	Insert(ctx context.Context, userID int64, badgeID string) (bool, error)

	// Owns reports whether the user owns the badge.
	Owns(ctx context.Context, userID int64, badgeID string) (bool, error)

	// FindOwned returns every badge the user owns, newest first.
	FindOwned(ctx context.Context, userID int64) ([]Owned, error)

	// FindEquipped returns the user's slotted badges ordered by slot.
	FindEquipped(ctx context.Context, userID int64) ([]Owned, error)

	// FindAllEquipped returns slotted badges of every user.
	FindAllEquipped(ctx context.Context) ([]Owned, error)

	// Equip clears the target slot, clears any slot the badge occupies and
	// assigns the badge to the slot, atomically. It returns the not-owned
	// error when the user does not own the badge.
	Equip(ctx context.Context, userID int64, badgeID string, slot int) error

	// Unequip clears the slot. Clearing an empty slot is not an error.
	Unequip(ctx context.Context, userID int64, slot int) error

	CountByUser(ctx context.Context, userID int64) (int, error)
	CountAll(ctx context.Context) (int, error)
}

// Catalog looks up badge definitions.
type Catalog interface {
	Badge(id string) (Badge, bool)
	Badges() []Badge
}
