package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
	"github.com/dnflvus-wq/engTest/pkg/timeutil"
)

// FullRoundParticipants is the number of finishers that makes a round "full".
const FullRoundParticipants = 4

// examRow is an exam as stored for a given user.
type examRow struct {
	userID int64
	achievement.ExamRecord
}

// Part is a group of chapters within a book.
type Part struct {
	BookID   int
	PartID   int
	Chapters []int
}

// ActivityStore holds the source activity of every user and answers the
// aggregate queries of achievement.MetricsProvider. It also counts tracked
// actions (achievement.ActionCounter).
type ActivityStore struct {
	mu sync.RWMutex

	exams      []examRow
	logins     map[int64]map[string]struct{}
	actions    map[int64]map[string]int
	actionDays map[int64]map[string]map[string]struct{}
	vocabulary map[int64]int
	chapters   map[int64]map[int]map[int]struct{} // user → book → chapter
	parts      []Part
	unlocks    *UnlockStore

	now func() time.Time
}

// NewActivityStore creates an empty store. unlocks, when non-nil, is used to
// answer CountGoldOrAbove.
func NewActivityStore(unlocks *UnlockStore) *ActivityStore {
	return &ActivityStore{
		logins:     make(map[int64]map[string]struct{}),
		actions:    make(map[int64]map[string]int),
		actionDays: make(map[int64]map[string]map[string]struct{}),
		vocabulary: make(map[int64]int),
		chapters:   make(map[int64]map[int]map[int]struct{}),
		unlocks:    unlocks,
		now:        timeutil.Now,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Writers
// ─────────────────────────────────────────────────────────────────────────────

// RecordExam stores a completed exam for the user.
func (s *ActivityStore) RecordExam(userID int64, rec achievement.ExamRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = s.now()
	}
	if rec.ExamID == 0 {
		rec.ExamID = int64(len(s.exams) + 1)
	}
	s.exams = append(s.exams, examRow{userID: userID, ExamRecord: rec})
}

// RecordLogin stores a login day. Duplicate days are collapsed.
func (s *ActivityStore) RecordLogin(userID int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	days, ok := s.logins[userID]
	if !ok {
		days = make(map[string]struct{})
		s.logins[userID] = days
	}
	days[timeutil.FormatDateStr(at)] = struct{}{}
}

// SetVocabulary sets the number of vocabulary words the user has learned.
func (s *ActivityStore) SetVocabulary(userID int64, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vocabulary[userID] = n
}

// CompleteChapter marks a chapter of a book as completed.
func (s *ActivityStore) CompleteChapter(userID int64, bookID, chapter int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	books, ok := s.chapters[userID]
	if !ok {
		books = make(map[int]map[int]struct{})
		s.chapters[userID] = books
	}
	done, ok := books[bookID]
	if !ok {
		done = make(map[int]struct{})
		books[bookID] = done
	}
	done[chapter] = struct{}{}
}

// DefinePart registers a book part and its chapters.
func (s *ActivityStore) DefinePart(p Part) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts = append(s.parts, p)
}

// Increment implements achievement.ActionCounter.
func (s *ActivityStore) Increment(ctx context.Context, userID int64, action string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts, ok := s.actions[userID]
	if !ok {
		counts = make(map[string]int)
		s.actions[userID] = counts
	}
	counts[action]++

	byAction, ok := s.actionDays[userID]
	if !ok {
		byAction = make(map[string]map[string]struct{})
		s.actionDays[userID] = byAction
	}
	days, ok := byAction[action]
	if !ok {
		days = make(map[string]struct{})
		byAction[action] = days
	}
	days[timeutil.FormatDateStr(s.now())] = struct{}{}
	return counts[action], nil
}

// ActiveUserIDs returns users with a login or exam at or after since.
func (s *ActivityStore) ActiveUserIDs(ctx context.Context, since time.Time) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := timeutil.FormatDateStr(since)
	seen := make(map[int64]struct{})
	for uid, days := range s.logins {
		for d := range days {
			if d >= cutoff {
				seen[uid] = struct{}{}
				break
			}
		}
	}
	for _, e := range s.exams {
		if !e.SubmittedAt.Before(since) {
			seen[e.userID] = struct{}{}
		}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EXAM METRICS
// ══════════════════════════════════════════════════════════════════════════════

func (s *ActivityStore) userExams(userID int64) []achievement.ExamRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []achievement.ExamRecord
	for _, e := range s.exams {
		if e.userID == userID {
			out = append(out, e.ExamRecord)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}

func (s *ActivityStore) countExams(userID int64, keep func(achievement.ExamRecord) bool) int {
	n := 0
	for _, e := range s.userExams(userID) {
		if keep(e) {
			n++
		}
	}
	return n
}

// CountCompletedExams implements achievement.ExamMetrics.
func (s *ActivityStore) CountCompletedExams(ctx context.Context, userID int64) (int, error) {
	return len(s.userExams(userID)), nil
}

// CountPassedExams implements achievement.ExamMetrics.
func (s *ActivityStore) CountPassedExams(ctx context.Context, userID int64) (int, error) {
	return s.countExams(userID, func(e achievement.ExamRecord) bool { return e.Passed }), nil
}

// CountPerfectScores implements achievement.ExamMetrics.
func (s *ActivityStore) CountPerfectScores(ctx context.Context, userID int64) (int, error) {
	return s.countExams(userID, achievement.ExamRecord.Perfect), nil
}

// CountOnlineExams implements achievement.ExamMetrics.
func (s *ActivityStore) CountOnlineExams(ctx context.Context, userID int64) (int, error) {
	return s.countExams(userID, func(e achievement.ExamRecord) bool { return e.Mode == achievement.ExamModeOnline }), nil
}

// CountOfflineExams implements achievement.ExamMetrics.
func (s *ActivityStore) CountOfflineExams(ctx context.Context, userID int64) (int, error) {
	return s.countExams(userID, func(e achievement.ExamRecord) bool { return e.Mode == achievement.ExamModeOffline }), nil
}

// CountTotalCorrect implements achievement.ExamMetrics.
func (s *ActivityStore) CountTotalCorrect(ctx context.Context, userID int64) (int, error) {
	total := 0
	for _, e := range s.userExams(userID) {
		total += e.CorrectCount
	}
	return total, nil
}

// CountWeekendExams implements achievement.ExamMetrics.
func (s *ActivityStore) CountWeekendExams(ctx context.Context, userID int64) (int, error) {
	return s.countExams(userID, func(e achievement.ExamRecord) bool { return timeutil.IsWeekend(e.SubmittedAt) }), nil
}

// CountDistinctRounds implements achievement.ExamMetrics.
func (s *ActivityStore) CountDistinctRounds(ctx context.Context, userID int64) (int, error) {
	rounds := make(map[int64]struct{})
	for _, e := range s.userExams(userID) {
		rounds[e.RoundID] = struct{}{}
	}
	return len(rounds), nil
}

// MaxCorrectCount implements achievement.ExamMetrics.
func (s *ActivityStore) MaxCorrectCount(ctx context.Context, userID int64) (int, error) {
	best := 0
	for _, e := range s.userExams(userID) {
		best = max(best, e.CorrectCount)
	}
	return best, nil
}

// AverageCorrect implements achievement.ExamMetrics.
func (s *ActivityStore) AverageCorrect(ctx context.Context, userID int64, minExams int) (float64, bool, error) {
	exams := s.userExams(userID)
	if len(exams) == 0 || len(exams) < minExams {
		return 0, false, nil
	}
	total := 0
	for _, e := range exams {
		total += e.CorrectCount
	}
	return float64(total) / float64(len(exams)), true, nil
}

// RecentScores implements achievement.ExamMetrics.
func (s *ActivityStore) RecentScores(ctx context.Context, userID int64, limit int) ([]int, error) {
	exams := s.userExams(userID)
	out := make([]int, 0, limit)
	for i := len(exams) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, exams[i].CorrectCount)
	}
	return out, nil
}

// ExamHistory implements achievement.ExamMetrics.
func (s *ActivityStore) ExamHistory(ctx context.Context, userID int64) ([]achievement.ExamRecord, error) {
	return s.userExams(userID), nil
}

// roundResults groups every user's best exam per round.
func (s *ActivityStore) roundResults() map[int64][]examRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	best := make(map[int64]map[int64]examRow)
	for _, e := range s.exams {
		byUser, ok := best[e.RoundID]
		if !ok {
			byUser = make(map[int64]examRow)
			best[e.RoundID] = byUser
		}
		if cur, ok := byUser[e.userID]; !ok || e.CorrectCount > cur.CorrectCount {
			byUser[e.userID] = e
		}
	}
	out := make(map[int64][]examRow, len(best))
	for round, byUser := range best {
		rows := make([]examRow, 0, len(byUser))
		for _, r := range byUser {
			rows = append(rows, r)
		}
		out[round] = rows
	}
	return out
}

// RoundPlacements implements achievement.ExamMetrics. Ranks follow SQL RANK():
// participants with the same correct count share a rank.
func (s *ActivityStore) RoundPlacements(ctx context.Context, userID int64) ([]int, error) {
	type placement struct {
		rank int
		at   time.Time
	}
	var ps []placement
	for _, rows := range s.roundResults() {
		var mine *examRow
		for i := range rows {
			if rows[i].userID == userID {
				mine = &rows[i]
				break
			}
		}
		if mine == nil {
			continue
		}
		rank := 1
		for _, r := range rows {
			if r.CorrectCount > mine.CorrectCount {
				rank++
			}
		}
		ps = append(ps, placement{rank: rank, at: mine.SubmittedAt})
	}
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].at.Before(ps[j].at) })
	out := make([]int, len(ps))
	for i, p := range ps {
		out[i] = p.rank
	}
	return out, nil
}

// CountFullParticipationRounds implements achievement.ExamMetrics.
func (s *ActivityStore) CountFullParticipationRounds(ctx context.Context, userID int64) (int, error) {
	n := 0
	for _, rows := range s.roundResults() {
		if len(rows) < FullRoundParticipants {
			continue
		}
		for _, r := range rows {
			if r.userID == userID {
				n++
				break
			}
		}
	}
	return n, nil
}

// CountSameScoreExams implements achievement.ExamMetrics.
func (s *ActivityStore) CountSameScoreExams(ctx context.Context, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, mine := range s.exams {
		if mine.userID != userID {
			continue
		}
		for _, other := range s.exams {
			if other.userID != userID && other.RoundID == mine.RoundID && other.CorrectCount == mine.CorrectCount {
				n++
				break
			}
		}
	}
	return n, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY METRICS
// ══════════════════════════════════════════════════════════════════════════════

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LoginDates implements achievement.ActivityMetrics.
func (s *ActivityStore) LoginDates(ctx context.Context, userID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.logins[userID]), nil
}

// ActionCount implements achievement.ActivityMetrics.
func (s *ActivityStore) ActionCount(ctx context.Context, userID int64, action string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actions[userID][action], nil
}

// ActionDates implements achievement.ActivityMetrics.
func (s *ActivityStore) ActionDates(ctx context.Context, userID int64, action string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.actionDays[userID][action]), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS METRICS
// ══════════════════════════════════════════════════════════════════════════════

// VocabularyCount implements achievement.ProgressMetrics.
func (s *ActivityStore) VocabularyCount(ctx context.Context, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vocabulary[userID], nil
}

// CountCompletedChapters implements achievement.ProgressMetrics.
func (s *ActivityStore) CountCompletedChapters(ctx context.Context, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, done := range s.chapters[userID] {
		n += len(done)
	}
	return n, nil
}

// CountCompletedChaptersInBook implements achievement.ProgressMetrics.
func (s *ActivityStore) CountCompletedChaptersInBook(ctx context.Context, userID int64, bookID int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chapters[userID][bookID]), nil
}

// CountCompletedParts implements achievement.ProgressMetrics.
func (s *ActivityStore) CountCompletedParts(ctx context.Context, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.parts {
		if len(p.Chapters) == 0 {
			continue
		}
		done := s.chapters[userID][p.BookID]
		complete := true
		for _, ch := range p.Chapters {
			if _, ok := done[ch]; !ok {
				complete = false
				break
			}
		}
		if complete {
			n++
		}
	}
	return n, nil
}

// CountGoldOrAbove implements achievement.ProgressMetrics.
func (s *ActivityStore) CountGoldOrAbove(ctx context.Context, userID int64) (int, error) {
	if s.unlocks == nil {
		return 0, nil
	}
	return s.unlocks.CountGoldOrAbove(ctx, userID)
}
