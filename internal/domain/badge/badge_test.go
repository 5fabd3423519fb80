package badge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dnflvus-wq/engTest/internal/domain/shared"
)

func TestValidateSlot(t *testing.T) {
	for slot := MinSlot; slot <= MaxSlot; slot++ {
		assert.NoError(t, ValidateSlot(slot))
	}
	for _, slot := range []int{-1, 0, 6, 100} {
		err := ValidateSlot(slot)
		assert.ErrorIs(t, err, shared.ErrInvalidSlot)
		assert.True(t, shared.IsValidation(err))
		assert.Equal(t, "Slot number must be between 1 and 5", shared.PublicMessage(err, ""))
	}
}

func TestNotOwnedError(t *testing.T) {
	err := NotOwnedError("badge_streak")
	assert.True(t, errors.Is(err, shared.ErrBadgeNotOwned))
	assert.False(t, errors.Is(err, shared.ErrInvalidSlot))
	assert.True(t, shared.IsValidation(err))
	assert.Equal(t, "Badge not earned: badge_streak", shared.PublicMessage(err, ""))
}

func TestBadgeValidate(t *testing.T) {
	assert.NoError(t, Badge{ID: "b", AchievementID: "A", Rarity: RarityEpic}.Validate())
	assert.Error(t, Badge{ID: "b", AchievementID: "A", Rarity: "COMMON"}.Validate())
	assert.Error(t, Badge{ID: "b", Rarity: RarityRare}.Validate())
}
