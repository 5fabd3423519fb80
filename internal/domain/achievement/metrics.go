package achievement

import (
	"context"
	"time"
)

// ExamMode distinguishes online and offline exams.
type ExamMode string

const (
	ExamModeOnline  ExamMode = "ONLINE"
	ExamModeOffline ExamMode = "OFFLINE"
)

// ExamRecord is one completed exam as seen by the derivations.
type ExamRecord struct {
	ExamID          int64
	RoundID         int64
	Mode            ExamMode
	CorrectCount    int
	TotalCount      int
	Passed          bool
	DurationMinutes int
	SubmittedAt     time.Time
}

// Perfect reports whether every question was answered correctly.
func (e ExamRecord) Perfect() bool {
	return e.TotalCount > 0 && e.CorrectCount == e.TotalCount
}

// Action counter keys reported by the client.
const (
	ActionStudyPageVisit     = "STUDY_PAGE_VISIT"
	ActionExamPageVisit      = "EXAM_PAGE_VISIT"
	ActionHistoryPageVisit   = "HISTORY_PAGE_VISIT"
	ActionAnalyticsPageVisit = "ANALYTICS_PAGE_VISIT"
	ActionProgressPageVisit  = "PROGRESS_PAGE_VISIT"
	ActionTTSClick           = "TTS_CLICK"
	ActionVideoPlay          = "VIDEO_PLAY"
	ActionPDFDownload        = "PDF_DOWNLOAD"
	ActionVocabDownload      = "VOCAB_DOWNLOAD"
	ActionStudyRoundVisit    = "STUDY_ROUND_VISIT"
	ActionAllMaterials       = "ALL_MATERIALS_COMPLETE"
)

// PageVisitActions must all be non-zero for the feature explorer achievement.
var PageVisitActions = []string{
	ActionStudyPageVisit,
	ActionExamPageVisit,
	ActionHistoryPageVisit,
	ActionAnalyticsPageVisit,
	ActionProgressPageVisit,
}

// ExamMetrics answers questions about a user's exam history.
type ExamMetrics interface {
	CountCompletedExams(ctx context.Context, userID int64) (int, error)
	CountPassedExams(ctx context.Context, userID int64) (int, error)
	CountPerfectScores(ctx context.Context, userID int64) (int, error)
	CountOnlineExams(ctx context.Context, userID int64) (int, error)
	CountOfflineExams(ctx context.Context, userID int64) (int, error)
	CountTotalCorrect(ctx context.Context, userID int64) (int, error)
	CountWeekendExams(ctx context.Context, userID int64) (int, error)
	CountDistinctRounds(ctx context.Context, userID int64) (int, error)
	MaxCorrectCount(ctx context.Context, userID int64) (int, error)

	// AverageCorrect returns the mean correct count; ok is false when the
	// user has fewer than minExams exams.
	AverageCorrect(ctx context.Context, userID int64, minExams int) (avg float64, ok bool, err error)

	// RecentScores returns correct counts, most recent first.
	RecentScores(ctx context.Context, userID int64, limit int) ([]int, error)

	// ExamHistory returns completed exams in submission order, oldest first.
	ExamHistory(ctx context.Context, userID int64) ([]ExamRecord, error)

	// RoundPlacements returns the user's rank in each round, oldest round first.
	RoundPlacements(ctx context.Context, userID int64) ([]int, error)

	// CountFullParticipationRounds counts rounds the user took part in that
	// were completed by at least four participants.
	CountFullParticipationRounds(ctx context.Context, userID int64) (int, error)

	// CountSameScoreExams counts exams where another participant of the same
	// round had the same correct count.
	CountSameScoreExams(ctx context.Context, userID int64) (int, error)
}

// ActivityMetrics answers questions about logins and study actions.
type ActivityMetrics interface {
	// LoginDates returns ISO dates (YYYY-MM-DD) the user logged in on.
	LoginDates(ctx context.Context, userID int64) ([]string, error)
	ActionCount(ctx context.Context, userID int64, action string) (int, error)
	// ActionDates returns distinct ISO dates the action was recorded on.
	ActionDates(ctx context.Context, userID int64, action string) ([]string, error)
}

// ProgressMetrics answers questions about textbook and vocabulary progress.
type ProgressMetrics interface {
	VocabularyCount(ctx context.Context, userID int64) (int, error)
	CountCompletedChapters(ctx context.Context, userID int64) (int, error)
	CountCompletedChaptersInBook(ctx context.Context, userID int64, bookID int) (int, error)
	// CountCompletedParts counts book parts whose chapters are all complete.
	CountCompletedParts(ctx context.Context, userID int64) (int, error)
	CountGoldOrAbove(ctx context.Context, userID int64) (int, error)
}

// MetricsProvider is the read-only source of every aggregate the evaluator
// needs. Missing data must be reported as zero values, not errors.
type MetricsProvider interface {
	ExamMetrics
	ActivityMetrics
	ProgressMetrics
}
