package achievement

import (
	"context"
	"fmt"
	"sort"
)

// Derivation computes the metric value of one achievement for a user.
type Derivation func(ctx context.Context, m MetricsProvider, userID int64) (int, error)

// Legend and hidden achievement constants.
const (
	AvgScoreMinExams      = 5
	ScholarMinExams       = 20
	ScholarMinAverage     = 27
	MarathonMinExams      = 100
	PerfectTenMinScores   = 10
	StreakThirtyMinDays   = 30
	GrandmasterMinGold    = 20
	NeverFailMinExams     = 10
	BookCompletePercent   = 100
	FirstBookID           = 1
	SecondBookID          = 2
	scoreImprovementDepth = 2
)

// Evaluator derives metric values for catalog entries and resolves them into
// tier outcomes. The registry is built once and read concurrently.
type Evaluator struct {
	metrics     MetricsProvider
	derivations map[string]Derivation
}

// BookTotals resolves the chapter count of a book.
type BookTotals interface {
	Book(id int) (Book, bool)
}

// NewEvaluator creates an evaluator with the standard derivation registry.
func NewEvaluator(metrics MetricsProvider, books BookTotals) *Evaluator {
	return &Evaluator{
		metrics:     metrics,
		derivations: standardDerivations(books),
	}
}

// Register adds or replaces a derivation.
func (e *Evaluator) Register(id string, d Derivation) {
	e.derivations[id] = d
}

// Supports reports whether a derivation exists for the achievement.
func (e *Evaluator) Supports(id string) bool {
	_, ok := e.derivations[id]
	return ok
}

// Unsupported returns the ids in defs that have no derivation.
func (e *Evaluator) Unsupported(defs []Definition) []string {
	var missing []string
	for _, d := range defs {
		if !e.Supports(d.ID) {
			missing = append(missing, d.ID)
		}
	}
	sort.Strings(missing)
	return missing
}

// Evaluate derives the value of def for the user and resolves it against the
// current state. Achievements without a derivation evaluate to Unchanged(0).
// Errors and panics inside a derivation are returned as errors.
func (e *Evaluator) Evaluate(ctx context.Context, userID int64, def Definition, current Tier, unlocked bool) (res CheckResult, err error) {
	derive, ok := e.derivations[def.ID]
	if !ok {
		return Unchanged(0), nil
	}

	defer func() {
		if r := recover(); r != nil {
			res = Unchanged(0)
			err = fmt.Errorf("derivation %s panicked: %v", def.ID, r)
		}
	}()

	value, err := derive(ctx, e.metrics, userID)
	if err != nil {
		return Unchanged(0), fmt.Errorf("failed to derive %s: %w", def.ID, err)
	}

	if def.Tiered {
		return Resolve(value, def.Thresholds, current, def.Reverse), nil
	}
	return ResolveSimple(value, current, unlocked), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRY
// ══════════════════════════════════════════════════════════════════════════════

func count(f func(MetricsProvider, context.Context, int64) (int, error)) Derivation {
	return func(ctx context.Context, m MetricsProvider, userID int64) (int, error) {
		return f(m, ctx, userID)
	}
}

func constant(v int) Derivation {
	return func(context.Context, MetricsProvider, int64) (int, error) { return v, nil }
}

func action(key string) Derivation {
	return func(ctx context.Context, m MetricsProvider, userID int64) (int, error) {
		return m.ActionCount(ctx, userID, key)
	}
}

func atLeast(d Derivation, threshold int) Derivation {
	return func(ctx context.Context, m MetricsProvider, userID int64) (int, error) {
		v, err := d(ctx, m, userID)
		if err != nil {
			return 0, err
		}
		return boolToInt(v >= threshold), nil
	}
}

func history(f func([]ExamRecord) int) Derivation {
	return func(ctx context.Context, m MetricsProvider, userID int64) (int, error) {
		exams, err := m.ExamHistory(ctx, userID)
		if err != nil {
			return 0, err
		}
		return f(exams), nil
	}
}

func placements(f func([]int) int) Derivation {
	return func(ctx context.Context, m MetricsProvider, userID int64) (int, error) {
		ranks, err := m.RoundPlacements(ctx, userID)
		if err != nil {
			return 0, err
		}
		return f(ranks), nil
	}
}

func average(minExams int) Derivation {
	return func(ctx context.Context, m MetricsProvider, userID int64) (int, error) {
		avg, ok, err := m.AverageCorrect(ctx, userID, minExams)
		if err != nil || !ok {
			return 0, err
		}
		return int(avg), nil
	}
}

func loginStreak(ctx context.Context, m MetricsProvider, userID int64) (int, error) {
	dates, err := m.LoginDates(ctx, userID)
	if err != nil {
		return 0, err
	}
	return MaxConsecutiveDays(dates), nil
}

func bookProgress(books BookTotals, bookID int) Derivation {
	return func(ctx context.Context, m MetricsProvider, userID int64) (int, error) {
		book, ok := books.Book(bookID)
		if !ok {
			return 0, nil
		}
		done, err := m.CountCompletedChaptersInBook(ctx, userID, bookID)
		if err != nil {
			return 0, err
		}
		return BookPercent(done, book.Chapters), nil
	}
}

func standardDerivations(books BookTotals) map[string]Derivation {
	completed := count(MetricsProvider.CountCompletedExams)
	passed := count(MetricsProvider.CountPassedExams)
	perfect := count(MetricsProvider.CountPerfectScores)
	online := count(MetricsProvider.CountOnlineExams)
	offline := count(MetricsProvider.CountOfflineExams)
	rounds := count(MetricsProvider.CountDistinctRounds)
	parts := count(MetricsProvider.CountCompletedParts)
	book1 := bookProgress(books, FirstBookID)
	book2 := bookProgress(books, SecondBookID)
	firstPlaces := placements(func(r []int) int {
		return CountPlacements(r, func(rank int) bool { return rank == 1 })
	})

	return map[string]Derivation{
		// FIRST_STEPS
		"FIRST_LOGIN":   constant(1),
		"FIRST_EXAM":    completed,
		"FIRST_PASS":    passed,
		"FIRST_PERFECT": perfect,
		"FIRST_OFFLINE": offline,
		"FIRST_STUDY":   action(ActionStudyPageVisit),
		"FIRST_TTS":     action(ActionTTSClick),

		// EXAM_MASTER
		"EXAM_COUNT":      completed,
		"PASS_COUNT":      passed,
		"HIGH_SCORE":      count(MetricsProvider.MaxCorrectCount),
		"AVG_SCORE":       average(AvgScoreMinExams),
		"ONLINE_MASTER":   online,
		"OFFLINE_MASTER":  offline,
		"TOTAL_CORRECT":   count(MetricsProvider.CountTotalCorrect),
		"WEEKEND_WARRIOR": count(MetricsProvider.CountWeekendExams),
		"BOTH_MODES": func(ctx context.Context, m MetricsProvider, userID int64) (int, error) {
			on, err := m.CountOnlineExams(ctx, userID)
			if err != nil {
				return 0, err
			}
			off, err := m.CountOfflineExams(ctx, userID)
			if err != nil {
				return 0, err
			}
			return boolToInt(on > 0 && off > 0), nil
		},

		// PERFECTIONIST
		"PERFECT_SCORE":  perfect,
		"PERFECT_STREAK": history(func(e []ExamRecord) int { return LongestRun(e, ExamRecord.Perfect) }),
		"PASS_STREAK": history(func(e []ExamRecord) int {
			return LongestRun(e, func(r ExamRecord) bool { return r.Passed })
		}),
		"SCORE_IMPROVEMENT": func(ctx context.Context, m MetricsProvider, userID int64) (int, error) {
			scores, err := m.RecentScores(ctx, userID, scoreImprovementDepth)
			if err != nil {
				return 0, err
			}
			return ScoreImprovement(scores), nil
		},
		"NEVER_FAIL": func(ctx context.Context, m MetricsProvider, userID int64) (int, error) {
			total, err := m.CountCompletedExams(ctx, userID)
			if err != nil {
				return 0, err
			}
			ok, err := m.CountPassedExams(ctx, userID)
			if err != nil {
				return 0, err
			}
			return boolToInt(total >= NeverFailMinExams && total == ok), nil
		},

		// STUDY_KING
		"VOCAB_COUNT":    count(MetricsProvider.VocabularyCount),
		"TTS_COUNT":      action(ActionTTSClick),
		"STUDY_VISIT":    action(ActionStudyPageVisit),
		"VIDEO_WATCH":    action(ActionVideoPlay),
		"PDF_DOWNLOAD":   action(ActionPDFDownload),
		"VOCAB_DOWNLOAD": action(ActionVocabDownload),
		"ALL_MATERIALS":  action(ActionAllMaterials),
		"STUDY_ROUNDS":   action(ActionStudyRoundVisit),

		// STREAKS
		"LOGIN_STREAK": loginStreak,
		"WEEKLY_ACTIVE": func(ctx context.Context, m MetricsProvider, userID int64) (int, error) {
			dates, err := m.LoginDates(ctx, userID)
			if err != nil {
				return 0, err
			}
			return MaxWeeklyActiveDays(dates), nil
		},
		"MONTHLY_LOGIN": func(ctx context.Context, m MetricsProvider, userID int64) (int, error) {
			dates, err := m.LoginDates(ctx, userID)
			if err != nil {
				return 0, err
			}
			return MaxMonthlyActiveDays(dates), nil
		},
		"STUDY_STREAK": func(ctx context.Context, m MetricsProvider, userID int64) (int, error) {
			dates, err := m.ActionDates(ctx, userID, ActionStudyPageVisit)
			if err != nil {
				return 0, err
			}
			return MaxConsecutiveDays(dates), nil
		},

		// SPEED
		"FAST_EXAM":  history(func(e []ExamRecord) int { return FastestMinutes(e, false) }),
		"SPEED_PASS": history(func(e []ExamRecord) int { return FastestMinutes(e, true) }),
		"SLOW_AND_STEADY": history(func(e []ExamRecord) int {
			return boolToInt(AnyExam(e, func(r ExamRecord) bool {
				return r.Passed && r.DurationMinutes >= SlowPassMinutes
			}))
		}),
		"FIRST_SUBMIT":       atLeast(firstPlaces, 1),
		"FIRST_SUBMIT_COUNT": firstPlaces,

		// COMPETITION
		"RANK_FIRST":       atLeast(firstPlaces, 1),
		"RANK_FIRST_COUNT": firstPlaces,
		"RANK_TOP2": placements(func(r []int) int {
			return CountPlacements(r, func(rank int) bool { return rank >= 1 && rank <= 2 })
		}),
		"COMEBACK":           placements(func(r []int) int { return boolToInt(HasComeback(r)) }),
		"RIVAL_WIN":          firstPlaces,
		"FULL_PARTICIPATION": rounds,

		// EXPLORER
		"FEATURE_EXPLORER": func(ctx context.Context, m MetricsProvider, userID int64) (int, error) {
			for _, key := range PageVisitActions {
				n, err := m.ActionCount(ctx, userID, key)
				if err != nil {
					return 0, err
				}
				if n <= 0 {
					return 0, nil
				}
			}
			return 1, nil
		},
		"ROUND_EXPLORER": rounds,

		// PROGRESS_MASTER
		"BOOK1_PROGRESS": book1,
		"BOOK2_PROGRESS": book2,
		"BOTH_BOOKS": func(ctx context.Context, m MetricsProvider, userID int64) (int, error) {
			a, err := book1(ctx, m, userID)
			if err != nil {
				return 0, err
			}
			b, err := book2(ctx, m, userID)
			if err != nil {
				return 0, err
			}
			return min(a, b), nil
		},
		"CHAPTER_STREAK": count(MetricsProvider.CountCompletedChapters),
		"PART_COMPLETE":  atLeast(parts, 1),
		"PART_COUNT":     parts,
		"BOOK1_COMPLETE": atLeast(book1, BookCompletePercent),
		"BOOK2_COMPLETE": atLeast(book2, BookCompletePercent),

		// HIDDEN
		"EXACTLY_HALF": history(func(e []ExamRecord) int {
			return boolToInt(AnyExam(e, func(r ExamRecord) bool {
				return r.TotalCount > 0 && r.CorrectCount*2 == r.TotalCount
			}))
		}),
		"SCORE_PALINDROME": history(func(e []ExamRecord) int {
			return boolToInt(AnyExam(e, func(r ExamRecord) bool { return IsPalindromeNumber(r.CorrectCount) }))
		}),
		// Recorded by the exam service at submission time.
		"LAST_SECOND": constant(0),
		"ZERO_HERO": history(func(e []ExamRecord) int {
			return boolToInt(AnyExam(e, func(r ExamRecord) bool { return r.CorrectCount == 0 }))
		}),
		"FOUR_COMPLETE": atLeast(count(MetricsProvider.CountFullParticipationRounds), 1),
		"SAME_SCORE":    atLeast(count(MetricsProvider.CountSameScoreExams), 1),

		// LEGEND
		"LEGEND_SCHOLAR":     atLeast(average(ScholarMinExams), ScholarMinAverage),
		"LEGEND_MARATHON":    atLeast(completed, MarathonMinExams),
		"LEGEND_PERFECT_10":  atLeast(perfect, PerfectTenMinScores),
		"LEGEND_STREAK_30":   atLeast(loginStreak, StreakThirtyMinDays),
		"LEGEND_GRANDMASTER": atLeast(count(MetricsProvider.CountGoldOrAbove), GrandmasterMinGold),
		"LEGEND_COMPLETE": func(ctx context.Context, m MetricsProvider, userID int64) (int, error) {
			a, err := book1(ctx, m, userID)
			if err != nil {
				return 0, err
			}
			b, err := book2(ctx, m, userID)
			if err != nil {
				return 0, err
			}
			return boolToInt(a >= BookCompletePercent && b >= BookCompletePercent), nil
		},
	}
}
