/*
derived.go - Per-record derived metrics

PURPOSE:
  The independent field derivations attached to every record: currency
  conversion, equivalency credit, proportional premium owed, sufficiency
  verdict and the 0/1 flags. Every function here is pure and depends only on
  its arguments plus the read-only Config.

KEY CONCEPTS:
  - Equivalency credit: 0 / 0.5 / 1 / 2 units of production per policy,
    from premium breakpoints that move by year (low is 15000 in 2024,
    16000 otherwise; high is 50000)
  - Proportional premium: the share of the annual premium that should have
    been collected by the reference date (as-of minus ReferenceLagDays)
  - Counts-as-new: discriminates only inside the analysis year and the year
    before; older policies always count

SEE ALSO:
  - engine.go: Derive composes these into DerivedFacts
  - config.go: thresholds and rates
*/
package engine

import (
	"strconv"

	"github.com/shopspring/decimal"
)

const (
	SufficiencyOK        = "OK"
	SufficiencyCancelled = "Cancelled"

	PendingPaymentLabel = "PENDING"
)

var daysPerYear = decimal.NewFromInt(365)

// =============================================================================
// CURRENCY
// =============================================================================

// ToDomestic converts an amount in cur to domestic currency.
func ToDomestic(amount decimal.Decimal, cur Currency, rates Rates) decimal.Decimal {
	switch cur {
	case CurrencyUDIS:
		return amount.Mul(rates.UDIS)
	case CurrencyUSD:
		return amount.Mul(rates.USD)
	default:
		return amount
	}
}

// =============================================================================
// EQUIVALENCY
// =============================================================================

// EquivalencyCredit maps a domestic premium to 0, 0.5, 1 or 2.
func EquivalencyCredit(premiumMXN decimal.Decimal, year int, cfg Config) float64 {
	switch {
	case !premiumMXN.IsPositive():
		return 0
	case premiumMXN.LessThan(cfg.lowThreshold(year)):
		return 0.5
	case premiumMXN.LessThan(cfg.Equivalency.High):
		return 1
	default:
		return 2
	}
}

// PaidEquivalencyCredit is EquivalencyCredit gated on an in-force policy with
// an application date and some premium collected.
func PaidEquivalencyCredit(premiumMXN, accumulated decimal.Decimal, year int, cancelled bool, applied Date, cfg Config) float64 {
	if cancelled || applied.IsZero() || accumulated.IsZero() {
		return 0
	}
	return EquivalencyCredit(premiumMXN, year, cfg)
}

// =============================================================================
// PROPORTIONAL PREMIUM
// =============================================================================

// ProportionalPremium is annual × days(effective → reference) / 365, rounded
// to cents. Zero when the effective date is missing or after the reference.
func ProportionalPremium(annual decimal.Decimal, effective, reference Date) decimal.Decimal {
	if effective.IsZero() || annual.IsZero() {
		return decimal.Zero
	}
	days := DaysBetween(effective, reference)
	if days < 0 {
		return decimal.Zero
	}
	return annual.Mul(decimal.NewFromInt(int64(days))).DivRound(daysPerYear, 2)
}

// Sufficiency compares collected premium against what is owed so far.
func Sufficiency(accumulated, proportional decimal.Decimal, effective Date) string {
	if effective.IsZero() {
		return ""
	}
	if accumulated.LessThan(proportional) {
		return SufficiencyCancelled
	}
	return SufficiencyOK
}

// =============================================================================
// FLAGS
// =============================================================================

// PaidFlag is 1 when the policy has an application (posting) date.
func PaidFlag(applied Date) int {
	return boolFlag(!applied.IsZero())
}

// CancelledFlag is 1 for any cancellation. A policy with no status at all is
// considered cancelled unless premium has been collected.
func CancelledFlag(status Status, accumulated decimal.Decimal) int {
	if status == StatusNone {
		return boolFlag(!accumulated.IsPositive())
	}
	return boolFlag(status.IsCancelled())
}

// CountsAsNewInput groups the counts-as-new flag inputs.
type CountsAsNewInput struct {
	Line         LineOfBusiness
	Status       Status
	Accumulated  decimal.Decimal
	Year         int
	AnalysisYear int
}

var countsAsNewRules = RuleSet[CountsAsNewInput, int]{
	{
		Name: "outside-window",
		When: func(in CountsAsNewInput) bool { return in.Year != in.AnalysisYear && in.Year != in.AnalysisYear-1 },
		Then: func(CountsAsNewInput) int { return 1 },
	},
	{
		Name: "lapsed-or-replaced",
		When: func(in CountsAsNewInput) bool {
			sub := in.Status.Subtype()
			return sub == SubtypeLapsedNonpayment || sub == SubtypeReplaced
		},
		Then: func(CountsAsNewInput) int { return 0 },
	},
	{
		Name: "medical-cancelled",
		When: func(in CountsAsNewInput) bool { return in.Line == LineMedical && in.Status.IsCancelled() },
		Then: func(CountsAsNewInput) int { return 0 },
	},
	{
		Name: "medical-no-status",
		When: func(in CountsAsNewInput) bool { return in.Line == LineMedical && in.Status == StatusNone },
		Then: func(in CountsAsNewInput) int { return boolFlag(in.Accumulated.IsPositive()) },
	},
}

// CountsAsNew is the counts-as-new-policy flag.
func CountsAsNew(in CountsAsNewInput) int {
	v, _ := countsAsNewRules.Evaluate(in, 1)
	return v
}

// =============================================================================
// LABELS
// =============================================================================

// FirstYearLabel picks the override, then the year the carrier first
// reported the policy as new, then the application year, then a pending
// label for policies starting in the analysis year, else "-".
func FirstYearLabel(override string, indicatorYear int, applied, effective Date, analysisYear int) string {
	switch {
	case override != "":
		return override
	case indicatorYear > 0:
		return "FIRST YEAR " + strconv.Itoa(indicatorYear)
	case !applied.IsZero():
		return "FIRST YEAR " + strconv.Itoa(applied.Year())
	case !effective.IsZero() && effective.Year() == analysisYear:
		return "FIRST YEAR " + strconv.Itoa(analysisYear) + " PENDING"
	default:
		return "-"
	}
}

// PendingPayment flags policies still inside the grace window with nothing
// posted yet.
func PendingPayment(effective, applied, asOf Date, graceDays int) string {
	if effective.IsZero() || !applied.IsZero() {
		return ""
	}
	elapsed := DaysBetween(effective, asOf)
	if elapsed >= 0 && elapsed <= graceDays {
		return PendingPaymentLabel
	}
	return ""
}

func boolFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}
