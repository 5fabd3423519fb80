package timeutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate(" 2024-03-05 ")
	require.NoError(t, err)
	assert.Equal(t, Date(2024, 3, 5), d)

	d, err = ParseDate("2024-03-05T23:10:00+09:00")
	require.NoError(t, err)
	assert.Equal(t, Date(2024, 3, 5), d)

	_, err = ParseDate("yesterday")
	assert.Error(t, err)
}

func TestParseDates_SortsAndSkipsInvalid(t *testing.T) {
	dates := ParseDates([]string{"2024-01-03", "oops", "2024-01-01", ""})
	require.Len(t, dates, 2)
	assert.Equal(t, Date(2024, 1, 1), dates[0])
	assert.Equal(t, Date(2024, 1, 3), dates[1])
}

func TestIsConsecutiveDay(t *testing.T) {
	assert.True(t, IsConsecutiveDay(Date(2024, 2, 28), Date(2024, 2, 29)))
	assert.True(t, IsConsecutiveDay(Date(2023, 12, 31), Date(2024, 1, 1)))
	assert.False(t, IsConsecutiveDay(Date(2024, 1, 1), Date(2024, 1, 1)))
	assert.False(t, IsConsecutiveDay(Date(2024, 1, 1), Date(2024, 1, 3)))
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 3, DaysBetween(Date(2024, 1, 4), Date(2024, 1, 1)))
	assert.Equal(t, 0, DaysBetween(Date(2024, 1, 1), Date(2024, 1, 1)))
}

func TestISOWeekKey(t *testing.T) {
	assert.Equal(t, "2024-W01", ISOWeekKey(Date(2024, 1, 1)))
	assert.Equal(t, "2025-W01", ISOWeekKey(Date(2024, 12, 30)))
	assert.Equal(t, "2020-W53", ISOWeekKey(Date(2021, 1, 3)))
}

func TestMonthKey(t *testing.T) {
	assert.Equal(t, "2024-02", MonthKey(Date(2024, 2, 29)))
}

func TestIsWeekend(t *testing.T) {
	assert.True(t, IsWeekend(Date(2024, 1, 6)))
	assert.True(t, IsWeekend(Date(2024, 1, 7)))
	assert.False(t, IsWeekend(Date(2024, 1, 8)))
}
