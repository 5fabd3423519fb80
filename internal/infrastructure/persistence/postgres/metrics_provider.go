package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
)

// ══════════════════════════════════════════════════════════════════════════════
// METRICS PROVIDER
// Read-only aggregates over the learning platform's tables. Dates are taken
// in UTC; missing data yields zero values.
// ══════════════════════════════════════════════════════════════════════════════

// FullRoundParticipants is the number of finishers that makes a round "full".
const FullRoundParticipants = 4

// MetricsProvider implements achievement.MetricsProvider and
// achievement.ActionCounter for PostgreSQL.
type MetricsProvider struct {
	conn *Connection
}

// NewMetricsProvider creates a new MetricsProvider.
func NewMetricsProvider(conn *Connection) *MetricsProvider {
	return &MetricsProvider{conn: conn}
}

func (m *MetricsProvider) count(ctx context.Context, what, query string, args ...any) (int, error) {
	n, err := queryInt(ctx, m.conn, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", what, err)
	}
	return n, nil
}

func (m *MetricsProvider) strings(ctx context.Context, what, query string, args ...any) ([]string, error) {
	rows, err := m.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", what, err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", what, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (m *MetricsProvider) ints(ctx context.Context, what, query string, args ...any) ([]int, error) {
	rows, err := m.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", what, err)
	}
	defer rows.Close()

	out := make([]int, 0)
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", what, err)
		}
		out = append(out, int(n))
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Exams
// ─────────────────────────────────────────────────────────────────────────────

// CountCompletedExams implements achievement.ExamMetrics.
func (m *MetricsProvider) CountCompletedExams(ctx context.Context, userID int64) (int, error) {
	return m.count(ctx, "exams", `SELECT COUNT(*) FROM exam_results WHERE user_id = $1`, userID)
}

// CountPassedExams implements achievement.ExamMetrics.
func (m *MetricsProvider) CountPassedExams(ctx context.Context, userID int64) (int, error) {
	return m.count(ctx, "passed exams",
		`SELECT COUNT(*) FROM exam_results WHERE user_id = $1 AND passed`, userID)
}

// CountPerfectScores implements achievement.ExamMetrics.
func (m *MetricsProvider) CountPerfectScores(ctx context.Context, userID int64) (int, error) {
	return m.count(ctx, "perfect scores", `
		SELECT COUNT(*) FROM exam_results
		WHERE user_id = $1 AND total_count > 0 AND correct_count = total_count`, userID)
}

// CountOnlineExams implements achievement.ExamMetrics.
func (m *MetricsProvider) CountOnlineExams(ctx context.Context, userID int64) (int, error) {
	return m.count(ctx, "online exams",
		`SELECT COUNT(*) FROM exam_results WHERE user_id = $1 AND mode = $2`,
		userID, string(achievement.ExamModeOnline))
}

// CountOfflineExams implements achievement.ExamMetrics.
func (m *MetricsProvider) CountOfflineExams(ctx context.Context, userID int64) (int, error) {
	return m.count(ctx, "offline exams",
		`SELECT COUNT(*) FROM exam_results WHERE user_id = $1 AND mode = $2`,
		userID, string(achievement.ExamModeOffline))
}

// CountTotalCorrect implements achievement.ExamMetrics.
func (m *MetricsProvider) CountTotalCorrect(ctx context.Context, userID int64) (int, error) {
	return m.count(ctx, "correct answers",
		`SELECT COALESCE(SUM(correct_count), 0) FROM exam_results WHERE user_id = $1`, userID)
}

// CountWeekendExams implements achievement.ExamMetrics.
func (m *MetricsProvider) CountWeekendExams(ctx context.Context, userID int64) (int, error) {
	return m.count(ctx, "weekend exams", `
		SELECT COUNT(*) FROM exam_results
		WHERE user_id = $1 AND EXTRACT(ISODOW FROM submitted_at AT TIME ZONE 'UTC') IN (6, 7)`, userID)
}

// CountDistinctRounds implements achievement.ExamMetrics.
func (m *MetricsProvider) CountDistinctRounds(ctx context.Context, userID int64) (int, error) {
	return m.count(ctx, "rounds",
		`SELECT COUNT(DISTINCT round_id) FROM exam_results WHERE user_id = $1`, userID)
}

// MaxCorrectCount implements achievement.ExamMetrics.
func (m *MetricsProvider) MaxCorrectCount(ctx context.Context, userID int64) (int, error) {
	return m.count(ctx, "best score",
		`SELECT COALESCE(MAX(correct_count), 0) FROM exam_results WHERE user_id = $1`, userID)
}

// AverageCorrect implements achievement.ExamMetrics.
func (m *MetricsProvider) AverageCorrect(ctx context.Context, userID int64, minExams int) (float64, bool, error) {
	var (
		n   int64
		avg float64
	)
	err := m.conn.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(AVG(correct_count), 0)::float8
		FROM exam_results WHERE user_id = $1`, userID).Scan(&n, &avg)
	if err != nil {
		return 0, false, fmt.Errorf("failed to average scores: %w", err)
	}
	if n == 0 || n < int64(minExams) {
		return 0, false, nil
	}
	return avg, true, nil
}

// RecentScores implements achievement.ExamMetrics.
func (m *MetricsProvider) RecentScores(ctx context.Context, userID int64, limit int) ([]int, error) {
	return m.ints(ctx, "recent scores", `
		SELECT correct_count FROM exam_results
		WHERE user_id = $1
		ORDER BY submitted_at DESC, id DESC
		LIMIT $2`, userID, limit)
}

// ExamHistory implements achievement.ExamMetrics.
func (m *MetricsProvider) ExamHistory(ctx context.Context, userID int64) ([]achievement.ExamRecord, error) {
	rows, err := m.conn.Query(ctx, `
		SELECT id, round_id, mode, correct_count, total_count, passed, duration_minutes, submitted_at
		FROM exam_results
		WHERE user_id = $1
		ORDER BY submitted_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query exam history: %w", err)
	}
	defer rows.Close()

	out := make([]achievement.ExamRecord, 0)
	for rows.Next() {
		var (
			e    achievement.ExamRecord
			mode string
		)
		if err := rows.Scan(&e.ExamID, &e.RoundID, &mode, &e.CorrectCount, &e.TotalCount,
			&e.Passed, &e.DurationMinutes, &e.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan exam: %w", err)
		}
		e.Mode = achievement.ExamMode(mode)
		out = append(out, e)
	}
	return out, rows.Err()
}

// bestPerRound keeps each user's best exam of every round.
const bestPerRound = `
	SELECT DISTINCT ON (round_id, user_id) round_id, user_id, correct_count, submitted_at
	FROM exam_results
	ORDER BY round_id, user_id, correct_count DESC, id`

// RoundPlacements implements achievement.ExamMetrics. Ties share a rank.
func (m *MetricsProvider) RoundPlacements(ctx context.Context, userID int64) ([]int, error) {
	return m.ints(ctx, "round placements", `
		WITH best AS (`+bestPerRound+`),
		ranked AS (
			SELECT user_id, submitted_at,
			       RANK() OVER (PARTITION BY round_id ORDER BY correct_count DESC) AS place
			FROM best
		)
		SELECT place FROM ranked
		WHERE user_id = $1
		ORDER BY submitted_at`, userID)
}

// CountFullParticipationRounds implements achievement.ExamMetrics.
func (m *MetricsProvider) CountFullParticipationRounds(ctx context.Context, userID int64) (int, error) {
	return m.count(ctx, "full rounds", `
		SELECT COUNT(*) FROM (
			SELECT round_id FROM exam_results
			WHERE round_id IN (SELECT round_id FROM exam_results WHERE user_id = $1)
			GROUP BY round_id
			HAVING COUNT(DISTINCT user_id) >= $2
		) r`, userID, FullRoundParticipants)
}

// CountSameScoreExams implements achievement.ExamMetrics.
func (m *MetricsProvider) CountSameScoreExams(ctx context.Context, userID int64) (int, error) {
	return m.count(ctx, "same score exams", `
		SELECT COUNT(*) FROM exam_results mine
		WHERE mine.user_id = $1 AND EXISTS (
			SELECT 1 FROM exam_results other
			WHERE other.round_id = mine.round_id
			  AND other.user_id <> mine.user_id
			  AND other.correct_count = mine.correct_count
		)`, userID)
}

// ─────────────────────────────────────────────────────────────────────────────
// Activity
// ─────────────────────────────────────────────────────────────────────────────

// LoginDates implements achievement.ActivityMetrics.
func (m *MetricsProvider) LoginDates(ctx context.Context, userID int64) ([]string, error) {
	return m.strings(ctx, "login dates", `
		SELECT DISTINCT to_char((login_at AT TIME ZONE 'UTC')::date, 'YYYY-MM-DD') AS day
		FROM login_history
		WHERE user_id = $1
		ORDER BY day`, userID)
}

// ActionCount implements achievement.ActivityMetrics.
func (m *MetricsProvider) ActionCount(ctx context.Context, userID int64, action string) (int, error) {
	return m.count(ctx, "actions",
		`SELECT count FROM user_action_counters WHERE user_id = $1 AND action = $2`, userID, action)
}

// ActionDates implements achievement.ActivityMetrics.
func (m *MetricsProvider) ActionDates(ctx context.Context, userID int64, action string) ([]string, error) {
	return m.strings(ctx, "action dates", `
		SELECT to_char(action_date, 'YYYY-MM-DD') AS day
		FROM user_action_dates
		WHERE user_id = $1 AND action = $2
		ORDER BY day`, userID, action)
}

// Increment implements achievement.ActionCounter.
func (m *MetricsProvider) Increment(ctx context.Context, userID int64, action string) (int, error) {
	var count int64
	err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO user_action_counters (user_id, action, count, updated_at)
			VALUES ($1, $2, 1, NOW())
			ON CONFLICT (user_id, action) DO UPDATE SET
				count = user_action_counters.count + 1,
				updated_at = NOW()
			RETURNING count`, userID, action).Scan(&count)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO user_action_dates (user_id, action, action_date)
			VALUES ($1, $2, (NOW() AT TIME ZONE 'UTC')::date)
			ON CONFLICT DO NOTHING`, userID, action)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to track action: %w", err)
	}
	return int(count), nil
}

// ActiveUserIDs returns users with a login or exam at or after since.
func (m *MetricsProvider) ActiveUserIDs(ctx context.Context, since time.Time) ([]int64, error) {
	rows, err := m.conn.Query(ctx, `
		SELECT user_id FROM login_history WHERE login_at >= $1
		UNION
		SELECT user_id FROM exam_results WHERE submitted_at >= $1
		ORDER BY user_id`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query active users: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Progress
// ─────────────────────────────────────────────────────────────────────────────

// VocabularyCount implements achievement.ProgressMetrics.
func (m *MetricsProvider) VocabularyCount(ctx context.Context, userID int64) (int, error) {
	return m.count(ctx, "vocabulary", `SELECT COUNT(*) FROM user_vocabulary WHERE user_id = $1`, userID)
}

// CountCompletedChapters implements achievement.ProgressMetrics.
func (m *MetricsProvider) CountCompletedChapters(ctx context.Context, userID int64) (int, error) {
	return m.count(ctx, "chapters", `SELECT COUNT(*) FROM chapter_completions WHERE user_id = $1`, userID)
}

// CountCompletedChaptersInBook implements achievement.ProgressMetrics.
func (m *MetricsProvider) CountCompletedChaptersInBook(ctx context.Context, userID int64, bookID int) (int, error) {
	return m.count(ctx, "book chapters",
		`SELECT COUNT(*) FROM chapter_completions WHERE user_id = $1 AND book_id = $2`, userID, bookID)
}

// CountCompletedParts implements achievement.ProgressMetrics.
func (m *MetricsProvider) CountCompletedParts(ctx context.Context, userID int64) (int, error) {
	return m.count(ctx, "parts", `
		SELECT COUNT(*) FROM (
			SELECT bc.book_id, bc.part_id
			FROM book_chapters bc
			LEFT JOIN chapter_completions cc
			       ON cc.book_id = bc.book_id
			      AND cc.chapter_id = bc.chapter_id
			      AND cc.user_id = $1
			GROUP BY bc.book_id, bc.part_id
			HAVING COUNT(*) = COUNT(cc.chapter_id)
		) p`, userID)
}

// CountGoldOrAbove implements achievement.ProgressMetrics.
func (m *MetricsProvider) CountGoldOrAbove(ctx context.Context, userID int64) (int, error) {
	return m.count(ctx, "gold unlocks",
		`SELECT COUNT(*) FROM user_achievements WHERE user_id = $1 AND tier IN ('GOLD', 'DIAMOND')`, userID)
}

var (
	_ achievement.MetricsProvider = (*MetricsProvider)(nil)
	_ achievement.ActionCounter   = (*MetricsProvider)(nil)
)
