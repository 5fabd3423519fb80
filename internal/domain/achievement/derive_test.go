package achievement

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaxConsecutiveDays(t *testing.T) {
	tests := []struct {
		name  string
		dates []string
		want  int
	}{
		{"empty", nil, 0},
		{"single", []string{"2024-01-01"}, 1},
		{"gap in the middle", []string{"2024-01-01", "2024-01-02", "2024-01-04", "2024-01-05", "2024-01-06"}, 3},
		{"duplicate same day", []string{"2024-01-01", "2024-01-01"}, 1},
		{"duplicate inside streak", []string{"2024-01-01", "2024-01-02", "2024-01-02", "2024-01-03"}, 3},
		{"unsorted input", []string{"2024-01-03", "2024-01-01", "2024-01-02"}, 3},
		{"crosses month end", []string{"2024-01-31", "2024-02-01"}, 2},
		{"garbage ignored", []string{"nope", "2024-01-01"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaxConsecutiveDays(tt.dates))
		})
	}
}

func TestMaxWeeklyActiveDays(t *testing.T) {
	// 2024-01-01 is a Monday.
	dates := []string{
		"2024-01-01", "2024-01-02", "2024-01-02", "2024-01-07",
		"2024-01-08", "2024-01-09",
	}
	assert.Equal(t, 3, MaxWeeklyActiveDays(dates))
	assert.Equal(t, 0, MaxWeeklyActiveDays(nil))
}

func TestMaxMonthlyActiveDays(t *testing.T) {
	dates := []string{"2024-01-01", "2024-01-15", "2024-02-01", "2024-02-02", "2024-02-03", "2024-02-03"}
	assert.Equal(t, 3, MaxMonthlyActiveDays(dates))
}

func TestLongestRun(t *testing.T) {
	exams := []ExamRecord{
		{Passed: true}, {Passed: true}, {Passed: false},
		{Passed: true}, {Passed: true}, {Passed: true},
	}
	assert.Equal(t, 3, LongestRun(exams, func(e ExamRecord) bool { return e.Passed }))
	assert.Equal(t, 0, LongestRun(nil, func(e ExamRecord) bool { return true }))
}

func TestScoreImprovement(t *testing.T) {
	assert.Equal(t, 5, ScoreImprovement([]int{25, 20}))
	assert.Equal(t, 0, ScoreImprovement([]int{20, 25}))
	assert.Equal(t, 0, ScoreImprovement([]int{20}))
}

func TestFastestMinutes(t *testing.T) {
	exams := []ExamRecord{
		{DurationMinutes: 0, Passed: true},
		{DurationMinutes: 4, Passed: false},
		{DurationMinutes: 9, Passed: true},
	}
	assert.Equal(t, 4, FastestMinutes(exams, false))
	assert.Equal(t, 9, FastestMinutes(exams, true))
	assert.Equal(t, NoDuration, FastestMinutes(nil, false))
}

func TestPlacements(t *testing.T) {
	ranks := []int{3, 1, 2, 5, 1}
	assert.Equal(t, 2, CountPlacements(ranks, func(r int) bool { return r == 1 }))
	assert.True(t, HasComeback(ranks))
	assert.False(t, HasComeback([]int{3, 1, 4, 2}))
	assert.False(t, HasComeback(nil))
}

func TestIsPalindromeNumber(t *testing.T) {
	assert.True(t, IsPalindromeNumber(11))
	assert.True(t, IsPalindromeNumber(121))
	assert.False(t, IsPalindromeNumber(7))
	assert.False(t, IsPalindromeNumber(12))
	assert.False(t, IsPalindromeNumber(-11))
}

func TestBookPercent(t *testing.T) {
	assert.Equal(t, 50, BookPercent(50, 100))
	assert.Equal(t, 33, BookPercent(1, 3))
	assert.Equal(t, 100, BookPercent(120, 100))
	assert.Equal(t, 0, BookPercent(10, 0))
}
