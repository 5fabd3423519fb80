package achievement

import "time"

// UnlockRecord is a durable grant of one (achievement, tier) to a user.
// At most one record exists per (UserID, AchievementID, Tier), TierNone
// included.
type UnlockRecord struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"userId"`
	AchievementID string    `json:"achievementId"`
	Tier          Tier      `json:"tier,omitempty"`
	CurrentValue  int       `json:"currentValue"`
	UnlockedAt    time.Time `json:"unlockedAt"`
	Notified      bool      `json:"isNotified"`
}

// Key returns the uniqueness key of the record.
func (r UnlockRecord) Key() UnlockKey {
	return UnlockKey{UserID: r.UserID, AchievementID: r.AchievementID, Tier: r.Tier}
}

// UnlockKey identifies an unlock record.
type UnlockKey struct {
	UserID        int64
	AchievementID string
	Tier          Tier
}

// Progress is the display cache entry for a tiered achievement. It can be
// dropped and recomputed at any time.
type Progress struct {
	UserID        int64     `json:"userId"`
	AchievementID string    `json:"achievementId"`
	CurrentValue  int       `json:"currentValue"`
	TargetValue   int       `json:"targetValue"`
	NextTier      string    `json:"nextTier"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// BestTiers folds unlock records into the highest tier per achievement.
// Achievements with only a non-tiered unlock map to TierNone and are present
// in the returned set.
func BestTiers(records []UnlockRecord) (map[string]Tier, map[string]bool) {
	best := make(map[string]Tier, len(records))
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		if !seen[r.AchievementID] {
			best[r.AchievementID] = r.Tier
			seen[r.AchievementID] = true
			continue
		}
		best[r.AchievementID] = MaxTier(best[r.AchievementID], r.Tier)
	}
	return best, seen
}

// Summary is the per-user overview.
type Summary struct {
	TotalAchievements int `json:"totalAchievements"`
	UnlockedCount     int `json:"unlockedCount"`
	BadgeCount        int `json:"badgeCount"`
	GoldOrAbove       int `json:"goldOrAbove"`
}

// GlobalSummary aggregates across all users.
type GlobalSummary struct {
	TotalAchievements int `json:"totalAchievements"`
	TotalUnlocks      int `json:"totalUnlocks"`
	UsersWithUnlocks  int `json:"usersWithUnlocks"`
	BadgesOwned       int `json:"badgesOwned"`
	GoldOrAbove       int `json:"goldOrAbove"`
}

// UnlockTotals is what the unlock store contributes to a GlobalSummary.
type UnlockTotals struct {
	TotalUnlocks     int
	UsersWithUnlocks int
	GoldOrAbove      int
}
