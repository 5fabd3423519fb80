package achievement

import (
	"strconv"
	"time"

	"github.com/dnflvus-wq/engTest/pkg/timeutil"
)

// NoDuration is reported by the speed derivations when there is no exam with
// a positive duration. It is large enough to meet no reverse threshold.
const NoDuration = 999

// SlowPassMinutes is the minimum duration of a "slow and steady" pass.
const SlowPassMinutes = 30

// ComebackFromRank is the lowest placement a comeback can start from.
const ComebackFromRank = 4

// MaxConsecutiveDays returns the longest run of consecutive calendar days in
// dates. Unparseable entries are ignored and repeated dates neither break
// nor extend a run.
func MaxConsecutiveDays(dates []string) int {
	days := timeutil.ParseDates(dates)
	if len(days) == 0 {
		return 0
	}

	best, cur := 1, 1
	for i := 1; i < len(days); i++ {
		prev, d := days[i-1], days[i]
		switch {
		case timeutil.IsConsecutiveDay(prev, d):
			cur++
			if cur > best {
				best = cur
			}
		case !timeutil.IsSameDay(prev, d):
			cur = 1
		}
	}
	return best
}

// MaxWeeklyActiveDays returns the largest number of distinct days that fall
// into a single ISO week.
func MaxWeeklyActiveDays(dates []string) int {
	return maxDistinctDaysPerBucket(dates, timeutil.ISOWeekKey)
}

// MaxMonthlyActiveDays returns the largest number of distinct days that fall
// into a single calendar month.
func MaxMonthlyActiveDays(dates []string) int {
	return maxDistinctDaysPerBucket(dates, timeutil.MonthKey)
}

func maxDistinctDaysPerBucket(dates []string, bucket func(time.Time) string) int {
	buckets := make(map[string]map[string]struct{})
	best := 0
	for _, d := range timeutil.ParseDates(dates) {
		k := bucket(d)
		set, ok := buckets[k]
		if !ok {
			set = make(map[string]struct{})
			buckets[k] = set
		}
		set[timeutil.FormatDateStr(d)] = struct{}{}
		if len(set) > best {
			best = len(set)
		}
	}
	return best
}

// LongestRun returns the longest run of consecutive exams matching pred.
// exams must be in chronological order.
func LongestRun(exams []ExamRecord, pred func(ExamRecord) bool) int {
	best, cur := 0, 0
	for _, e := range exams {
		if pred(e) {
			cur++
			if cur > best {
				best = cur
			}
			continue
		}
		cur = 0
	}
	return best
}

// ScoreImprovement returns max(0, latest - previous) for scores ordered most
// recent first, or 0 with fewer than two scores.
func ScoreImprovement(recent []int) int {
	if len(recent) < 2 {
		return 0
	}
	if diff := recent[0] - recent[1]; diff > 0 {
		return diff
	}
	return 0
}

// FastestMinutes returns the smallest positive duration among the exams, or
// NoDuration. With passedOnly only passed exams count.
func FastestMinutes(exams []ExamRecord, passedOnly bool) int {
	best := NoDuration
	for _, e := range exams {
		if e.DurationMinutes <= 0 || (passedOnly && !e.Passed) {
			continue
		}
		if e.DurationMinutes < best {
			best = e.DurationMinutes
		}
	}
	return best
}

// AnyExam reports whether any exam satisfies pred.
func AnyExam(exams []ExamRecord, pred func(ExamRecord) bool) bool {
	for _, e := range exams {
		if pred(e) {
			return true
		}
	}
	return false
}

// CountPlacements counts placements satisfying pred.
func CountPlacements(ranks []int, pred func(rank int) bool) int {
	n := 0
	for _, r := range ranks {
		if pred(r) {
			n++
		}
	}
	return n
}

// HasComeback reports whether a first place directly follows a placement of
// ComebackFromRank or worse.
func HasComeback(ranks []int) bool {
	for i := 1; i < len(ranks); i++ {
		if ranks[i-1] >= ComebackFromRank && ranks[i] == 1 {
			return true
		}
	}
	return false
}

// IsPalindromeNumber reports whether n has at least two digits and reads the
// same in both directions.
func IsPalindromeNumber(n int) bool {
	if n < 0 {
		return false
	}
	s := strconv.Itoa(n)
	if len(s) < 2 {
		return false
	}
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		if s[i] != s[j] {
			return false
		}
	}
	return true
}

// BookPercent converts completed chapters into a 0..100 percentage.
func BookPercent(completed, total int) int {
	if total <= 0 || completed <= 0 {
		return 0
	}
	p := completed * 100 / total
	if p > 100 {
		return 100
	}
	return p
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
