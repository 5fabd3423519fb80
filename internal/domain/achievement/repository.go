package achievement

import "context"

// UnlockRepository persists unlock records.
type UnlockRepository interface {
	// FindByUser returns every unlock record of the user.
	FindByUser(ctx context.Context, userID int64) ([]UnlockRecord, error)

	// Exists reports whether the exact (user, achievement, tier) record exists.
	Exists(ctx context.Context, userID int64, achievementID string, tier Tier) (bool, error)

	// Insert stores rec if no record with the same key exists. It reports
	// whether a row was written and fills rec.ID and rec.UnlockedAt when it was.
	Insert(ctx context.Context, rec *UnlockRecord) (bool, error)

	// FindUnnotified returns records not yet acknowledged by the client.
	FindUnnotified(ctx context.Context, userID int64) ([]UnlockRecord, error)

	// MarkNotified flags the given records of the user as notified.
	MarkNotified(ctx context.Context, userID int64, ids []int64) (int, error)

	// CountDistinctByUser counts distinct achievements the user unlocked.
	CountDistinctByUser(ctx context.Context, userID int64) (int, error)

	// CountGoldOrAbove counts GOLD and DIAMOND records of the user.
	CountGoldOrAbove(ctx context.Context, userID int64) (int, error)

	// Totals aggregates over all users.
	Totals(ctx context.Context) (UnlockTotals, error)
}

// ProgressRepository stores the disposable progress cache.
type ProgressRepository interface {
	// Upsert writes p, last write wins.
	Upsert(ctx context.Context, p Progress) error

	// FindByUser returns progress entries keyed by achievement id.
	FindByUser(ctx context.Context, userID int64) (map[string]Progress, error)
}

// ActionCounter records study actions reported by clients.
type ActionCounter interface {
	// Increment bumps the counter and records today's date for the action.
	// It returns the new count.
	Increment(ctx context.Context, userID int64, action string) (int, error)
}
