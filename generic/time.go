package generic

import (
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// DATE - Calendar day without a time component
// =============================================================================

// DateLayout is the wire and storage format of a Date.
const DateLayout = "2006-01-02"

// Date is a calendar day in YYYY-MM-DD form. Two dates are the same day
// iff their strings are equal, so set operations use plain string equality.
type Date string

// ParseDate validates s and returns it as a Date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return Date(t.Format(DateLayout)), nil
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date { return Date(t.Format(DateLayout)) }

func (d Date) String() string { return string(d) }

// Midnight returns the start of the day in loc.
func (d Date) Midnight(loc *time.Location) time.Time {
	t, err := time.ParseInLocation(DateLayout, string(d), loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Year returns the calendar year, or 0 for a malformed date.
func (d Date) Year() int {
	t, err := time.Parse(DateLayout, string(d))
	if err != nil {
		return 0
	}
	return t.Year()
}

// SortDates sorts in place, ascending. The layout sorts lexically.
func SortDates(dates []Date) {
	sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })
}

// Earliest returns the smallest date, or "" for an empty slice.
func Earliest(dates []Date) Date {
	var min Date
	for _, d := range dates {
		if min == "" || d < min {
			min = d
		}
	}
	return min
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock abstracts "now" so time-windowed rules are testable.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock struct{ At time.Time }

func (c FixedClock) Now() time.Time { return c.At }

// StartOfDay returns local midnight of t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// HoursUntil returns the hours between now and local midnight of d.
// Negative when the day has already started.
func HoursUntil(now time.Time, d Date, loc *time.Location) float64 {
	return d.Midnight(loc).Sub(now).Hours()
}
