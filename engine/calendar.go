package engine

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// PERIOD - Inclusive date range
// =============================================================================

// Period is an inclusive [Start, End] range of days.
type Period struct {
	Start Date
	End   Date
}

// Contains returns true if d is within [Start, End].
func (p Period) Contains(d Date) bool {
	return !d.Before(p.Start) && !d.After(p.End)
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// YearBoundaryWindow is the first business days of January, when payments
// posted may still belong to the previous production year.
func YearBoundaryWindow(year int) Period {
	return Period{Start: NewDate(year, time.January, 2), End: NewDate(year, time.January, 5)}
}

// =============================================================================
// CALENDAR LABELS
// =============================================================================

// MonthName is the upper-case English month name, or "" with no date.
func MonthName(d Date) string {
	if d.IsZero() {
		return ""
	}
	return strings.ToUpper(d.Month().String())
}

// Quarter is "Q1".."Q4", or "-" with no date.
func Quarter(d Date) string {
	if d.IsZero() {
		return "-"
	}
	return quarterOf(d.Month())
}

func quarterOf(m time.Month) string {
	return fmt.Sprintf("Q%d", (int(m)-1)/3+1)
}

// PeriodKey is the reconciliation period of a date ("2025-03").
func PeriodKey(d Date) string {
	if d.IsZero() {
		return ""
	}
	return d.Time.Format("2006-01")
}
