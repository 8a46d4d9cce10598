// Package timeutil provides calendar-date utilities for ClassQuest.
// Streaks are counted in UTC calendar days; all helpers here normalize to UTC
// so a learner's day boundary is the same on every server.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"sync"
	"time"
)

// FormatDate is the storage format of calendar dates (YYYY-MM-DD).
const FormatDate = "2006-01-02"

// ══════════════════════════════════════════════════════════════════════════════
// CLOCK
// ══════════════════════════════════════════════════════════════════════════════

// Clock is the wall-clock source used by the award engine.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock is a settable clock for tests and replay tooling.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock creates a FixedClock pinned at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{now: t.UTC()}
}

// Now returns the pinned time.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}

// AddDays moves the clock by n calendar days.
func (c *FixedClock) AddDays(n int) {
	c.mu.Lock()
	c.now = c.now.AddDate(0, 0, n)
	c.mu.Unlock()
}

// ══════════════════════════════════════════════════════════════════════════════
// CALENDAR DATES
// ══════════════════════════════════════════════════════════════════════════════

// Date is a UTC calendar date. The zero value means "no date".
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the UTC calendar date of t.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return Date{Year: u.Year(), Month: u.Month(), Day: u.Day()}
}

// ParseDate parses a YYYY-MM-DD string. An empty string yields the zero Date.
func ParseDate(s string) (Date, error) {
	if s == "" {
		return Date{}, nil
	}
	t, err := time.ParseInLocation(FormatDate, s, time.UTC)
	if err != nil {
		return Date{}, fmt.Errorf("timeutil: invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// Time returns midnight UTC of d.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// AddDays returns d shifted by n calendar days.
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// String formats d as YYYY-MM-DD, or "" for the zero Date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time().Format(FormatDate)
}

// Equal reports whether two dates are the same calendar day.
func (d Date) Equal(other Date) bool {
	return d == other
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	return d.Time().Before(other.Time())
}

// DaysBetween returns the number of calendar days from a to b (b - a).
func DaysBetween(a, b Date) int {
	return int(b.Time().Sub(a.Time()).Hours() / 24)
}

// Today returns the UTC date for the clock's current time.
func Today(c Clock) Date {
	return DateOf(c.Now())
}

// ══════════════════════════════════════════════════════════════════════════════
// DAY TRANSITIONS
// ══════════════════════════════════════════════════════════════════════════════

// DayTransition classifies the previous activity date relative to today.
type DayTransition int

const (
	// SameDay means the last activity happened today.
	SameDay DayTransition = iota
	// NextDay means the last activity happened yesterday.
	NextDay
	// Gap means there was no activity yesterday (or never, or a future date).
	Gap
)

// String returns a short name for logs.
func (t DayTransition) String() string {
	switch t {
	case SameDay:
		return "same_day"
	case NextDay:
		return "next_day"
	default:
		return "gap"
	}
}

// Classify compares last to today.
func Classify(last, today Date) DayTransition {
	if last.IsZero() {
		return Gap
	}
	if last.Equal(today) {
		return SameDay
	}
	if last.Equal(today.AddDays(-1)) {
		return NextDay
	}
	return Gap
}

// AdvanceRun applies a day transition to a consecutive-days counter:
// same day leaves it unchanged, next day increments it, a gap resets it to 1.
func AdvanceRun(run int, last, today Date) (int, DayTransition) {
	tr := Classify(last, today)
	switch tr {
	case SameDay:
		if run < 1 {
			return 1, tr
		}
		return run, tr
	case NextDay:
		return run + 1, tr
	default:
		return 1, tr
	}
}
