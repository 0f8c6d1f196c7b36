package engine

import (
	"strings"
	"time"
)

// =============================================================================
// DATE - Day-granularity calendar date (zero value = absent)
// =============================================================================

// Date is a calendar day in UTC. The zero value means "no date", which is how
// empty cells, "-" placeholders and unparseable input reach the engine.
type Date struct {
	Time time.Time
}

// NewDate builds a Date at midnight UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate reads an ISO date (YYYY-MM-DD, optionally followed by a time
// part). Empty strings, "-" and malformed input yield the zero Date.
func ParseDate(s string) Date {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return Date{}
	}
	if len(s) > 10 {
		s = s[:10]
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}
	}
	return Date{Time: t}
}

// Comparison
func (d Date) Before(other Date) bool { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool  { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool  { return d.Time.Equal(other.Time) }

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{Time: d.Time.AddDate(0, 0, n)} }

// Properties
func (d Date) Year() int         { return d.Time.Year() }
func (d Date) Month() time.Month { return d.Time.Month() }
func (d Date) Day() int          { return d.Time.Day() }
func (d Date) IsZero() bool      { return d.Time.IsZero() }

// String renders the ISO form, or "" for the zero Date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time.Format("2006-01-02")
}

// MarshalText keeps JSON and settings output in ISO form.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText accepts anything ParseDate accepts.
func (d *Date) UnmarshalText(b []byte) error {
	*d = ParseDate(string(b))
	return nil
}

// =============================================================================
// DATE UTILITIES
// =============================================================================

// DaysBetween returns whole days from -> to (negative when to is earlier).
func DaysBetween(from, to Date) int {
	return int(to.Time.Sub(from.Time).Hours() / 24)
}

// MonthsBetween counts calendar months from -> to, ignoring the day of month.
func MonthsBetween(from, to Date) int {
	return (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
}
