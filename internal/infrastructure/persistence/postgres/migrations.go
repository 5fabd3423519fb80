package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies the embedded migrations in version order.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a new migrator with embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "achievement_schema_migrations",
	}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`, m.tableName))
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		out[version] = at
	}
	return out, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName),
				mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d (%s): %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
	}
	return nil
}

// Rollback reverts the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	last := 0
	for v := range applied {
		last = max(last, v)
	}
	if last == 0 {
		return nil
	}

	for _, mig := range m.migrations {
		if mig.Version != last {
			continue
		}
		return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
				return fmt.Errorf("failed to rollback migration %d: %w", last, err)
			}
			_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last)
			return err
		})
	}
	return fmt.Errorf("%w: unknown applied migration %d", ErrMigrationFailed, last)
}

// Status returns every migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	for i := range out {
		if at, ok := applied[out[i].Version]; ok {
			out[i].IsApplied = true
			out[i].AppliedAt = at
		}
	}
	return out, nil
}

// GetMigrations returns all embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_achievements", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_badges", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_activity_sources", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

// Non-tiered unlocks store tier = '' so the unique key covers them too.
const migration001Up = `
CREATE TABLE IF NOT EXISTS user_achievements (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    achievement_id VARCHAR(50) NOT NULL,
    tier VARCHAR(10) NOT NULL DEFAULT '',
    current_value INTEGER NOT NULL DEFAULT 0,
    unlocked_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    is_notified BOOLEAN NOT NULL DEFAULT FALSE,

    CONSTRAINT uq_user_achievement_tier UNIQUE (user_id, achievement_id, tier),
    CONSTRAINT valid_tier CHECK (tier IN ('', 'BRONZE', 'SILVER', 'GOLD', 'DIAMOND'))
);

CREATE INDEX IF NOT EXISTS idx_user_achievements_user ON user_achievements(user_id);
CREATE INDEX IF NOT EXISTS idx_user_achievements_unnotified
    ON user_achievements(user_id) WHERE is_notified = FALSE;

CREATE TABLE IF NOT EXISTS achievement_progress (
    user_id BIGINT NOT NULL,
    achievement_id VARCHAR(50) NOT NULL,
    current_value INTEGER NOT NULL DEFAULT 0,
    target_value INTEGER NOT NULL DEFAULT 0,
    next_tier VARCHAR(10) NOT NULL DEFAULT '',
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, achievement_id)
);
`

const migration001Down = `
DROP TABLE IF EXISTS achievement_progress;
DROP TABLE IF EXISTS user_achievements;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: BADGES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS user_badges (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    badge_id VARCHAR(50) NOT NULL,
    earned_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    slot_number SMALLINT,

    CONSTRAINT uq_user_badge UNIQUE (user_id, badge_id),
    CONSTRAINT valid_slot CHECK (slot_number IS NULL OR slot_number BETWEEN 1 AND 5)
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_user_badge_slot
    ON user_badges(user_id, slot_number) WHERE slot_number IS NOT NULL;
`

const migration002Down = `
DROP TABLE IF EXISTS user_badges;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: ACTIVITY SOURCES
// The learning platform owns these tables; they are created only when absent
// so the engine can run standalone.
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS exam_results (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    round_id BIGINT NOT NULL,
    mode VARCHAR(10) NOT NULL DEFAULT 'ONLINE',
    correct_count INTEGER NOT NULL DEFAULT 0,
    total_count INTEGER NOT NULL DEFAULT 0,
    passed BOOLEAN NOT NULL DEFAULT FALSE,
    duration_minutes INTEGER NOT NULL DEFAULT 0,
    submitted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_exam_results_user ON exam_results(user_id, submitted_at);
CREATE INDEX IF NOT EXISTS idx_exam_results_round ON exam_results(round_id);

CREATE TABLE IF NOT EXISTS login_history (
    user_id BIGINT NOT NULL,
    login_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_login_history_user ON login_history(user_id, login_at);

CREATE TABLE IF NOT EXISTS user_action_counters (
    user_id BIGINT NOT NULL,
    action VARCHAR(50) NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, action)
);

CREATE TABLE IF NOT EXISTS user_action_dates (
    user_id BIGINT NOT NULL,
    action VARCHAR(50) NOT NULL,
    action_date DATE NOT NULL,
    PRIMARY KEY (user_id, action, action_date)
);

CREATE TABLE IF NOT EXISTS book_chapters (
    book_id INTEGER NOT NULL,
    chapter_id INTEGER NOT NULL,
    part_id INTEGER NOT NULL,
    PRIMARY KEY (book_id, chapter_id)
);

CREATE TABLE IF NOT EXISTS chapter_completions (
    user_id BIGINT NOT NULL,
    book_id INTEGER NOT NULL,
    chapter_id INTEGER NOT NULL,
    completed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, book_id, chapter_id)
);

CREATE TABLE IF NOT EXISTS user_vocabulary (
    user_id BIGINT NOT NULL,
    word_id BIGINT NOT NULL,
    added_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, word_id)
);
`

const migration003Down = `
DROP TABLE IF EXISTS user_vocabulary;
DROP TABLE IF EXISTS chapter_completions;
DROP TABLE IF EXISTS book_chapters;
DROP TABLE IF EXISTS user_action_dates;
DROP TABLE IF EXISTS user_action_counters;
DROP TABLE IF EXISTS login_history;
DROP TABLE IF EXISTS exam_results;
`
