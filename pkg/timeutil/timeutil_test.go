package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateOf_UsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	// 02:00 local on the 10th is 21:00 UTC on the 9th
	d := DateOf(time.Date(2026, 1, 10, 2, 0, 0, 0, loc))
	assert.Equal(t, "2026-01-09", d.String())
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-02-28")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", d.AddDays(1).String())

	d, err = ParseDate("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())
	assert.Equal(t, "", d.String())

	_, err = ParseDate("28/02/2026")
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	today, _ := ParseDate("2026-03-01")

	assert.Equal(t, SameDay, Classify(today, today))
	assert.Equal(t, NextDay, Classify(today.AddDays(-1), today))
	assert.Equal(t, Gap, Classify(today.AddDays(-2), today))
	assert.Equal(t, Gap, Classify(Date{}, today))
	assert.Equal(t, Gap, Classify(today.AddDays(1), today))
}

func TestAdvanceRun(t *testing.T) {
	today, _ := ParseDate("2026-03-01")

	n, tr := AdvanceRun(5, today, today)
	assert.Equal(t, 5, n)
	assert.Equal(t, SameDay, tr)

	n, _ = AdvanceRun(5, today.AddDays(-1), today)
	assert.Equal(t, 6, n)

	n, _ = AdvanceRun(5, today.AddDays(-3), today)
	assert.Equal(t, 1, n)

	n, _ = AdvanceRun(0, Date{}, today)
	assert.Equal(t, 1, n)
}

func TestDaysBetween(t *testing.T) {
	a, _ := ParseDate("2026-03-01")
	assert.Equal(t, 0, DaysBetween(a, a))
	assert.Equal(t, 31, DaysBetween(a, a.AddDays(31)))
	assert.Equal(t, -2, DaysBetween(a, a.AddDays(-2)))
	assert.True(t, a.Before(a.AddDays(1)))
}

func TestFixedClock(t *testing.T) {
	c := NewFixedClock(time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC))
	assert.Equal(t, "2026-03-01", Today(c).String())

	c.AddDays(1)
	assert.Equal(t, "2026-03-02", Today(c).String())
}
