package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dnflvus-wq/engTest/internal/domain/badge"
)

// ══════════════════════════════════════════════════════════════════════════════
// BADGE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// BadgeRepository implements badge.Repository for PostgreSQL.
type BadgeRepository struct {
	conn *Connection
}

// NewBadgeRepository creates a new BadgeRepository.
func NewBadgeRepository(conn *Connection) *BadgeRepository {
	return &BadgeRepository{conn: conn}
}

const badgeColumns = `id, user_id, badge_id, slot_number, earned_at`

// Insert grants the badge unless the user already owns it.
func (r *BadgeRepository) Insert(ctx context.Context, userID int64, badgeID string) (bool, error) {
	query := `
		INSERT INTO user_badges (user_id, badge_id, earned_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, badge_id) DO NOTHING
	`
	tag, err := r.conn.Exec(ctx, query, userID, badgeID)
	if err != nil {
		return false, fmt.Errorf("failed to insert badge: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Owns reports whether the user owns the badge.
func (r *BadgeRepository) Owns(ctx context.Context, userID int64, badgeID string) (bool, error) {
	var owns bool
	err := r.conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_badges WHERE user_id = $1 AND badge_id = $2)`,
		userID, badgeID).Scan(&owns)
	if err != nil {
		return false, fmt.Errorf("failed to check badge: %w", err)
	}
	return owns, nil
}

// FindOwned returns the user's badges, newest first.
func (r *BadgeRepository) FindOwned(ctx context.Context, userID int64) ([]badge.Owned, error) {
	query := `SELECT ` + badgeColumns + ` FROM user_badges
		WHERE user_id = $1 ORDER BY earned_at DESC, id DESC`
	return r.queryOwned(ctx, query, userID)
}

// FindEquipped returns the user's slotted badges ordered by slot.
func (r *BadgeRepository) FindEquipped(ctx context.Context, userID int64) ([]badge.Owned, error) {
	query := `SELECT ` + badgeColumns + ` FROM user_badges
		WHERE user_id = $1 AND slot_number IS NOT NULL ORDER BY slot_number`
	return r.queryOwned(ctx, query, userID)
}

// FindAllEquipped returns slotted badges of every user.
func (r *BadgeRepository) FindAllEquipped(ctx context.Context) ([]badge.Owned, error) {
	query := `SELECT ` + badgeColumns + ` FROM user_badges
		WHERE slot_number IS NOT NULL ORDER BY user_id, slot_number`
	return r.queryOwned(ctx, query)
}

// Equip moves the badge into the slot in one transaction. The per-user
// advisory lock serialises concurrent swaps so the partial unique index on
// (user_id, slot_number) never trips between the steps.
func (r *BadgeRepository) Equip(ctx context.Context, userID int64, badgeID string, slot int) error {
	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, userID); err != nil {
			return fmt.Errorf("failed to lock badge slots: %w", err)
		}

		var owns bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM user_badges WHERE user_id = $1 AND badge_id = $2)`,
			userID, badgeID).Scan(&owns)
		if err != nil {
			return fmt.Errorf("failed to check badge: %w", err)
		}
		if !owns {
			return badge.NotOwnedError(badgeID)
		}

		// 1. Clear the target slot
		if _, err := tx.Exec(ctx,
			`UPDATE user_badges SET slot_number = NULL WHERE user_id = $1 AND slot_number = $2`,
			userID, slot); err != nil {
			return fmt.Errorf("failed to clear slot: %w", err)
		}

		// 2. Clear wherever the badge sits now
		if _, err := tx.Exec(ctx,
			`UPDATE user_badges SET slot_number = NULL WHERE user_id = $1 AND badge_id = $2`,
			userID, badgeID); err != nil {
			return fmt.Errorf("failed to clear badge: %w", err)
		}

		// 3. Assign
		if _, err := tx.Exec(ctx,
			`UPDATE user_badges SET slot_number = $3 WHERE user_id = $1 AND badge_id = $2`,
			userID, badgeID, slot); err != nil {
			return fmt.Errorf("failed to assign slot: %w", err)
		}
		return nil
	})
}

// Unequip clears the slot. An empty slot is left as is.
func (r *BadgeRepository) Unequip(ctx context.Context, userID int64, slot int) error {
	_, err := r.conn.Exec(ctx,
		`UPDATE user_badges SET slot_number = NULL WHERE user_id = $1 AND slot_number = $2`,
		userID, slot)
	if err != nil {
		return fmt.Errorf("failed to unequip slot: %w", err)
	}
	return nil
}

// CountByUser counts badges the user owns.
func (r *BadgeRepository) CountByUser(ctx context.Context, userID int64) (int, error) {
	n, err := queryInt(ctx, r.conn, `SELECT COUNT(*) FROM user_badges WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count badges: %w", err)
	}
	return n, nil
}

// CountAll counts owned badges over all users.
func (r *BadgeRepository) CountAll(ctx context.Context) (int, error) {
	n, err := queryInt(ctx, r.conn, `SELECT COUNT(*) FROM user_badges`)
	if err != nil {
		return 0, fmt.Errorf("failed to count badges: %w", err)
	}
	return n, nil
}

func (r *BadgeRepository) queryOwned(ctx context.Context, query string, args ...any) ([]badge.Owned, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query badges: %w", err)
	}
	defer rows.Close()

	out := make([]badge.Owned, 0)
	for rows.Next() {
		var (
			o    badge.Owned
			slot *int16
		)
		if err := rows.Scan(&o.ID, &o.UserID, &o.BadgeID, &slot, &o.EarnedAt); err != nil {
			return nil, fmt.Errorf("failed to scan badge: %w", err)
		}
		if slot != nil {
			n := int(*slot)
			o.Slot = &n
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
