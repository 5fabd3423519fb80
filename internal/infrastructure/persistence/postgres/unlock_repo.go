package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// UnlockRepository implements achievement.UnlockRepository for PostgreSQL.
type UnlockRepository struct {
	conn *Connection
}

// NewUnlockRepository creates a new UnlockRepository.
func NewUnlockRepository(conn *Connection) *UnlockRepository {
	return &UnlockRepository{conn: conn}
}

const unlockColumns = `id, user_id, achievement_id, tier, current_value, unlocked_at, is_notified`

// FindByUser returns every unlock record of the user in insertion order.
func (r *UnlockRepository) FindByUser(ctx context.Context, userID int64) ([]achievement.UnlockRecord, error) {
	query := `SELECT ` + unlockColumns + ` FROM user_achievements WHERE user_id = $1 ORDER BY id`
	return r.queryRecords(ctx, query, userID)
}

// Exists reports whether the exact (user, achievement, tier) row exists.
func (r *UnlockRepository) Exists(ctx context.Context, userID int64, achievementID string, tier achievement.Tier) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM user_achievements
			WHERE user_id = $1 AND achievement_id = $2 AND tier = $3
		)
	`
	var exists bool
	if err := r.conn.QueryRow(ctx, query, userID, achievementID, string(tier)).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check unlock: %w", err)
	}
	return exists, nil
}

// Insert writes rec unless the key is already present.
func (r *UnlockRepository) Insert(ctx context.Context, rec *achievement.UnlockRecord) (bool, error) {
	query := `
		INSERT INTO user_achievements (user_id, achievement_id, tier, current_value, unlocked_at, is_notified)
		VALUES ($1, $2, $3, $4, COALESCE($5, NOW()), FALSE)
		ON CONFLICT (user_id, achievement_id, tier) DO NOTHING
		RETURNING id, unlocked_at
	`

	var unlockedAt any
	if !rec.UnlockedAt.IsZero() {
		unlockedAt = rec.UnlockedAt
	}

	err := r.conn.QueryRow(ctx, query,
		rec.UserID,
		rec.AchievementID,
		string(rec.Tier),
		rec.CurrentValue,
		unlockedAt,
	).Scan(&rec.ID, &rec.UnlockedAt)
	if err != nil {
		if IsNoRows(err) {
			return false, nil
		}
		if IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert unlock: %w", err)
	}
	rec.Notified = false
	return true, nil
}

// FindUnnotified returns records the client has not acknowledged yet.
func (r *UnlockRepository) FindUnnotified(ctx context.Context, userID int64) ([]achievement.UnlockRecord, error) {
	query := `SELECT ` + unlockColumns + ` FROM user_achievements
		WHERE user_id = $1 AND is_notified = FALSE ORDER BY id`
	return r.queryRecords(ctx, query, userID)
}

// MarkNotified flags the listed records of the user. Ids owned by other
// users are ignored.
func (r *UnlockRepository) MarkNotified(ctx context.Context, userID int64, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `
		UPDATE user_achievements SET is_notified = TRUE
		WHERE user_id = $1 AND id = ANY($2) AND is_notified = FALSE
	`
	tag, err := r.conn.Exec(ctx, query, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notified: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CountDistinctByUser counts distinct achievements the user unlocked.
func (r *UnlockRepository) CountDistinctByUser(ctx context.Context, userID int64) (int, error) {
	n, err := queryInt(ctx, r.conn,
		`SELECT COUNT(DISTINCT achievement_id) FROM user_achievements WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count achievements: %w", err)
	}
	return n, nil
}

// CountGoldOrAbove counts GOLD and DIAMOND rows of the user.
func (r *UnlockRepository) CountGoldOrAbove(ctx context.Context, userID int64) (int, error) {
	n, err := queryInt(ctx, r.conn,
		`SELECT COUNT(*) FROM user_achievements WHERE user_id = $1 AND tier IN ('GOLD', 'DIAMOND')`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count gold unlocks: %w", err)
	}
	return n, nil
}

// Totals aggregates unlock rows over all users.
func (r *UnlockRepository) Totals(ctx context.Context) (achievement.UnlockTotals, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(DISTINCT user_id),
		       COUNT(*) FILTER (WHERE tier IN ('GOLD', 'DIAMOND'))
		FROM user_achievements
	`
	var total, users, gold int64
	if err := r.conn.QueryRow(ctx, query).Scan(&total, &users, &gold); err != nil {
		return achievement.UnlockTotals{}, fmt.Errorf("failed to aggregate unlocks: %w", err)
	}
	return achievement.UnlockTotals{
		TotalUnlocks:     int(total),
		UsersWithUnlocks: int(users),
		GoldOrAbove:      int(gold),
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (r *UnlockRepository) queryRecords(ctx context.Context, query string, args ...any) ([]achievement.UnlockRecord, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query unlocks: %w", err)
	}
	defer rows.Close()

	out := make([]achievement.UnlockRecord, 0)
	for rows.Next() {
		rec, err := scanUnlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanUnlock(row pgx.Row) (achievement.UnlockRecord, error) {
	var (
		rec  achievement.UnlockRecord
		tier string
	)
	err := row.Scan(&rec.ID, &rec.UserID, &rec.AchievementID, &tier, &rec.CurrentValue, &rec.UnlockedAt, &rec.Notified)
	if err != nil {
		return rec, fmt.Errorf("failed to scan unlock: %w", err)
	}
	rec.Tier = achievement.Tier(tier)
	return rec, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements achievement.ProgressRepository for PostgreSQL.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

// Upsert writes the progress row, last write wins.
func (r *ProgressRepository) Upsert(ctx context.Context, p achievement.Progress) error {
	query := `
		INSERT INTO achievement_progress (user_id, achievement_id, current_value, target_value, next_tier, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id, achievement_id) DO UPDATE SET
			current_value = EXCLUDED.current_value,
			target_value = EXCLUDED.target_value,
			next_tier = EXCLUDED.next_tier,
			updated_at = NOW()
	`
	if _, err := r.conn.Exec(ctx, query, p.UserID, p.AchievementID, p.CurrentValue, p.TargetValue, p.NextTier); err != nil {
		return fmt.Errorf("failed to upsert progress: %w", err)
	}
	return nil
}

// FindByUser returns progress rows keyed by achievement id.
func (r *ProgressRepository) FindByUser(ctx context.Context, userID int64) (map[string]achievement.Progress, error) {
	query := `
		SELECT user_id, achievement_id, current_value, target_value, next_tier, updated_at
		FROM achievement_progress
		WHERE user_id = $1
	`
	rows, err := r.conn.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query progress: %w", err)
	}
	defer rows.Close()

	out := make(map[string]achievement.Progress)
	for rows.Next() {
		var p achievement.Progress
		if err := rows.Scan(&p.UserID, &p.AchievementID, &p.CurrentValue, &p.TargetValue, &p.NextTier, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		out[p.AchievementID] = p
	}
	return out, rows.Err()
}
