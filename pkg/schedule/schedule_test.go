package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ts(year int, month time.Month, day, hour, min, sec int) time.Time {
	return time.Date(year, month, day, hour, min, sec, 0, time.UTC)
}

func TestNextTargetTime_MonthlyGetsNextMonth(t *testing.T) {
	// current time is 15 days since the previous target, still inside the window
	now := ts(2022, time.January, 15, 1, 0, 1)
	anchor := ts(2022, time.January, 1, 1, 0, 0)

	next := NextTargetTime(now, anchor, Interval{Kind: Monthly})

	assert.Equal(t, ts(2022, time.February, 1, 1, 0, 0), next)
}

func TestNextTargetTime_MonthlyRecoversFromLateExecution(t *testing.T) {
	// one month and 14 days late - skips the missed slot entirely
	now := ts(2022, time.February, 15, 1, 0, 0)
	anchor := ts(2022, time.January, 1, 1, 0, 0)

	next := NextTargetTime(now, anchor, Interval{Kind: Monthly})

	assert.Equal(t, ts(2022, time.March, 1, 1, 0, 0), next)
}

func TestNextTargetTime_MonthlyClampsDayInShortMonth(t *testing.T) {
	now := ts(2022, time.February, 1, 0, 0, 0)
	anchor := ts(2022, time.January, 31, 10, 0, 0)

	next := NextTargetTime(now, anchor, Interval{Kind: Monthly})

	assert.Equal(t, ts(2022, time.February, 28, 10, 0, 0), next)
}

func TestNextTargetTime_MonthlyFebruaryLeapYear(t *testing.T) {
	now := ts(2024, time.February, 1, 0, 0, 0)
	anchor := ts(2024, time.January, 30, 10, 0, 0)

	next := NextTargetTime(now, anchor, Interval{Kind: Monthly})

	assert.Equal(t, ts(2024, time.February, 29, 10, 0, 0), next)
}

func TestNextTargetTime_HourlyStaysOnGrid(t *testing.T) {
	anchor := ts(2022, time.May, 1, 10, 0, 0)

	testCases := []struct {
		name     string
		now      time.Time
		expected time.Time
	}{
		{
			name:     "just after anchor",
			now:      ts(2022, time.May, 1, 10, 0, 1),
			expected: ts(2022, time.May, 1, 11, 0, 0),
		},
		{
			name:     "before anchor",
			now:      ts(2022, time.May, 1, 9, 0, 0),
			expected: ts(2022, time.May, 1, 11, 0, 0),
		},
		{
			name:     "several slots late keeps the grid",
			now:      ts(2022, time.May, 1, 13, 30, 0),
			expected: ts(2022, time.May, 1, 14, 0, 0),
		},
		{
			name:     "exactly on a slot moves to the next one",
			now:      ts(2022, time.May, 1, 12, 0, 0),
			expected: ts(2022, time.May, 1, 13, 0, 0),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			next := NextTargetTime(tc.now, anchor, Interval{Kind: Hourly})
			assert.Equal(t, tc.expected, next)
		})
	}
}

func TestNextTargetTime_CustomInterval(t *testing.T) {
	anchor := ts(2022, time.May, 1, 10, 0, 0)
	now := ts(2022, time.May, 1, 10, 3, 30)

	next := NextTargetTime(now, anchor, Interval{Kind: Custom, Seconds: 90})

	assert.Equal(t, ts(2022, time.May, 1, 10, 4, 30), next)
}

func TestNextTargetTime_IsStrictlyInTheFuture(t *testing.T) {
	anchor := ts(2022, time.May, 1, 10, 0, 0)
	now := ts(2022, time.May, 3, 7, 13, 9)

	for _, interval := range []Interval{
		{Kind: Hourly},
		{Kind: Daily},
		{Kind: Weekly},
		{Kind: Fortnightly},
		{Kind: Monthly},
		{Kind: Custom, Seconds: 60},
	} {
		next := NextTargetTime(now, anchor, interval)
		assert.True(t, next.After(now), "interval %s", interval.Kind)

		// re-arming once the result is reached always moves forward
		again := NextTargetTime(next, anchor, interval)
		assert.True(t, again.After(next), "interval %s", interval.Kind)
	}
}

func TestTargetTimeElapsed(t *testing.T) {
	target := ts(2022, time.May, 1, 10, 0, 0)

	assert.False(t, TargetTimeElapsed(target.Add(-time.Second), target))
	assert.True(t, TargetTimeElapsed(target, target))
	assert.True(t, TargetTimeElapsed(target.Add(time.Second), target))
}

func TestShiftMonths_EndOfMonthChain(t *testing.T) {
	// Jan 31 -> Feb 28 -> Mar 28: the clamp is not undone on longer months
	start := ts(2022, time.January, 31, 9, 0, 0)

	feb := ShiftMonths(start, 1)
	assert.Equal(t, ts(2022, time.February, 28, 9, 0, 0), feb)

	mar := ShiftMonths(feb, 1)
	assert.Equal(t, ts(2022, time.March, 28, 9, 0, 0), mar)
}

func TestShiftMonths_YearRollover(t *testing.T) {
	start := ts(2022, time.December, 15, 0, 0, 0)

	assert.Equal(t, ts(2023, time.January, 15, 0, 0, 0), ShiftMonths(start, 1))
}

func TestTotalExecutionDuration(t *testing.T) {
	start := ts(2022, time.January, 1, 0, 0, 0)

	assert.Equal(t, 10*time.Hour, TotalExecutionDuration(start, 10, Interval{Kind: Hourly}))
	assert.Equal(t, 14*24*time.Hour, TotalExecutionDuration(start, 14, Interval{Kind: Daily}))

	// Jan + Feb 2022 = 31 + 28 days
	assert.Equal(t, 59*24*time.Hour, TotalExecutionDuration(start, 2, Interval{Kind: Monthly}))
}

func TestIntervalValidate(t *testing.T) {
	assert.NoError(t, Interval{Kind: Hourly}.Validate())
	assert.NoError(t, Interval{Kind: Custom, Seconds: 60}.Validate())
	assert.Error(t, Interval{Kind: Custom, Seconds: 59}.Validate())
	assert.Error(t, Interval{Kind: "biweekly"}.Validate())
}
