package grant

import (
	"time"
)

// =============================================================================
// DATE - Day-granularity calendar date
// =============================================================================

// Date is a calendar date normalized to midnight UTC. All grant rules operate
// on whole days; wall-clock time never influences a grant decision.
type Date struct {
	t time.Time
}

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// Today returns the current date in the given location. The scheduler passes
// its configured timezone; the calculator itself never reads the clock.
func Today(loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)
	return NewDate(now.Year(), now.Month(), now.Day())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

// Comparison
func (d Date) Before(other Date) bool { return d.t.Before(other.t) }
func (d Date) After(other Date) bool  { return d.t.After(other.t) }
func (d Date) Equal(other Date) bool  { return d.t.Equal(other.t) }
func (d Date) IsZero() bool           { return d.t.IsZero() }

// Arithmetic
func (d Date) AddDays(n int) Date   { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date { return Date{t: d.t.AddDate(0, n, 0)} }
func (d Date) AddYears(n int) Date  { return Date{t: d.t.AddDate(n, 0, 0)} }

// Properties
func (d Date) Year() int         { return d.t.Year() }
func (d Date) Month() time.Month { return d.t.Month() }
func (d Date) Day() int          { return d.t.Day() }
func (d Date) Time() time.Time   { return d.t }

func (d Date) IsFirstOfMonth() bool { return d.Day() == 1 }
func (d Date) IsJanuaryFirst() bool { return d.Month() == time.January && d.Day() == 1 }

// SameCalendarMonth reports whether both dates fall in the same year+month.
func (d Date) SameCalendarMonth(other Date) bool {
	return d.Year() == other.Year() && d.Month() == other.Month()
}

func (d Date) String() string { return d.t.Format("2006-01-02") }

// =============================================================================
// TENURE ARITHMETIC
// =============================================================================

// DaysBetween returns the number of days from one date to another, exclusive
// of the end date. DaysBetween(Mar 15, Mar 16) == 1.
func DaysBetween(from, to Date) int {
	return int(to.t.Sub(from.t).Hours() / 24)
}

// WholeYearsBetween returns completed calendar years from one date to another.
// This is anniversary-based, not a 365-day approximation: an employee hired
// 2023-03-15 has 0 whole years on 2024-03-14 and 1 on 2024-03-15.
func WholeYearsBetween(from, to Date) int {
	years := to.Year() - from.Year()
	if to.Month() < from.Month() || (to.Month() == from.Month() && to.Day() < from.Day()) {
		years--
	}
	return years
}

// WholeMonthsBetween returns completed calendar months from one date to
// another, decremented when the end day-of-month has not yet reached the
// start's day-of-month.
func WholeMonthsBetween(from, to Date) int {
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if to.Day() < from.Day() {
		months--
	}
	return months
}

func StartOfYear(year int) Date { return NewDate(year, time.January, 1) }
func EndOfYear(year int) Date   { return NewDate(year, time.December, 31) }
