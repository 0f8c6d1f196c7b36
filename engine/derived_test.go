package engine_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/policy-engine/engine"
)

// =============================================================================
// EQUIVALENCY
// =============================================================================

func TestEquivalencyCredit_Thresholds(t *testing.T) {
	cfg := engine.DefaultConfig()
	cases := []struct {
		premium string
		year    int
		want    float64
	}{
		{"14999", 2024, 0.5},
		{"15500", 2024, 1.0}, // 2024 low threshold is 15000
		{"15999", 2025, 0.5}, // threshold moved back to 16000
		{"16000", 2025, 1.0},
		{"30000", 2025, 1.0},
		{"49999.99", 2025, 1.0},
		{"50000", 2025, 2.0},
		{"0", 2025, 0.0},
		{"-10", 2025, 0.0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, engine.EquivalencyCredit(dec(tc.premium), tc.year, cfg), "%s/%d", tc.premium, tc.year)
	}
}

func TestPaidEquivalencyCredit_Gating(t *testing.T) {
	cfg := engine.DefaultConfig()
	applied := date(2025, 4, 1)

	assert.Equal(t, 1.0, engine.PaidEquivalencyCredit(dec("30000"), dec("100"), 2025, false, applied, cfg))
	assert.Equal(t, 0.0, engine.PaidEquivalencyCredit(dec("30000"), dec("100"), 2025, true, applied, cfg), "cancelled")
	assert.Equal(t, 0.0, engine.PaidEquivalencyCredit(dec("30000"), dec("100"), 2025, false, engine.Date{}, cfg), "no application date")
	assert.Equal(t, 0.0, engine.PaidEquivalencyCredit(dec("30000"), decimal.Zero, 2025, false, applied, cfg), "nothing collected")
}

func TestToDomestic(t *testing.T) {
	rates := engine.DefaultConfig().Rates
	assert.True(t, dec("8230").Equal(engine.ToDomestic(dec("1000"), engine.CurrencyUDIS, rates)))
	assert.True(t, dec("17500").Equal(engine.ToDomestic(dec("1000"), engine.CurrencyUSD, rates)))
	assert.True(t, dec("1000").Equal(engine.ToDomestic(dec("1000"), engine.CurrencyMXN, rates)))
	assert.True(t, engine.ToDomestic(decimal.Zero, engine.CurrencyUSD, rates).IsZero())

	assert.Equal(t, engine.CurrencyUSD, engine.ParseCurrency("dls"))
	assert.Equal(t, engine.CurrencyUDIS, engine.ParseCurrency("UDIS"))
	assert.Equal(t, engine.CurrencyMXN, engine.ParseCurrency(""))
}

// =============================================================================
// PROPORTIONAL PREMIUM & SUFFICIENCY
// =============================================================================

func TestProportionalPremium(t *testing.T) {
	// GIVEN: 36500 annual, 181 days elapsed
	got := engine.ProportionalPremium(dec("36500"), date(2025, 1, 1), date(2025, 7, 1))
	assert.Equal(t, "18100.00", got.StringFixed(2))

	// Reference before effective date floors at zero
	assert.True(t, engine.ProportionalPremium(dec("36500"), date(2025, 8, 1), date(2025, 7, 1)).IsZero())
	// Missing effective date or premium
	assert.True(t, engine.ProportionalPremium(dec("36500"), engine.Date{}, date(2025, 7, 1)).IsZero())
	assert.True(t, engine.ProportionalPremium(decimal.Zero, date(2025, 1, 1), date(2025, 7, 1)).IsZero())
}

func TestSufficiency(t *testing.T) {
	eff := date(2025, 1, 1)
	assert.Equal(t, engine.SufficiencyCancelled, engine.Sufficiency(dec("100"), dec("18100"), eff))
	assert.Equal(t, engine.SufficiencyOK, engine.Sufficiency(dec("18100"), dec("18100"), eff))
	assert.Equal(t, engine.SufficiencyOK, engine.Sufficiency(decimal.Zero, decimal.Zero, eff))
	assert.Equal(t, "", engine.Sufficiency(dec("1"), dec("2"), engine.Date{}))
}

// =============================================================================
// FLAGS
// =============================================================================

func TestCancelledFlag(t *testing.T) {
	assert.Equal(t, 1, engine.CancelledFlag(engine.StatusCancelled, dec("100")))
	assert.Equal(t, 1, engine.CancelledFlag(engine.Cancelled(engine.SubtypeNotTaken), dec("100")))
	assert.Equal(t, 0, engine.CancelledFlag(engine.StatusPaid, decimal.Zero))
	assert.Equal(t, 0, engine.CancelledFlag(engine.StatusNone, dec("100")))
	assert.Equal(t, 1, engine.CancelledFlag(engine.StatusNone, decimal.Zero))
}

func TestPaidFlag(t *testing.T) {
	assert.Equal(t, 1, engine.PaidFlag(date(2025, 4, 1)))
	assert.Equal(t, 0, engine.PaidFlag(engine.ParseDate("-")))
}

func TestCountsAsNew(t *testing.T) {
	cases := []struct {
		name string
		in   engine.CountsAsNewInput
		want int
	}{
		{"life lapsed this year", engine.CountsAsNewInput{Line: engine.LineLife, Status: "CANCELLED/LAPSED_NONPAYMENT", Year: 2025, AnalysisYear: 2025}, 0},
		{"life replaced prior year", engine.CountsAsNewInput{Line: engine.LineLife, Status: "CANCELLED/REPLACED", Year: 2024, AnalysisYear: 2025}, 0},
		{"life plain cancel", engine.CountsAsNewInput{Line: engine.LineLife, Status: engine.StatusCancelled, Year: 2025, AnalysisYear: 2025}, 1},
		{"life paid", engine.CountsAsNewInput{Line: engine.LineLife, Status: engine.StatusPaid, Year: 2025, AnalysisYear: 2025}, 1},
		{"medical cancelled", engine.CountsAsNewInput{Line: engine.LineMedical, Status: engine.StatusCancelled, Year: 2025, AnalysisYear: 2025}, 0},
		{"medical no status, collected", engine.CountsAsNewInput{Line: engine.LineMedical, Accumulated: dec("10"), Year: 2025, AnalysisYear: 2025}, 1},
		{"medical no status, nothing", engine.CountsAsNewInput{Line: engine.LineMedical, Year: 2025, AnalysisYear: 2025}, 0},
		{"old year always counts", engine.CountsAsNewInput{Line: engine.LineLife, Status: "CANCELLED/LAPSED_NONPAYMENT", Year: 2022, AnalysisYear: 2025}, 1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, engine.CountsAsNew(tc.in), tc.name)
	}
}

// =============================================================================
// LABELS
// =============================================================================

func TestFirstYearLabel(t *testing.T) {
	assert.Equal(t, "FIRST YEAR 2023", engine.FirstYearLabel("FIRST YEAR 2023", 2024, date(2025, 4, 1), date(2025, 1, 1), 2025))
	assert.Equal(t, "FIRST YEAR 2024", engine.FirstYearLabel("", 2024, date(2025, 4, 1), date(2025, 1, 15), 2025))
	assert.Equal(t, "FIRST YEAR 2025", engine.FirstYearLabel("", 0, date(2025, 4, 1), date(2025, 1, 1), 2025))
	assert.Equal(t, "FIRST YEAR 2026 PENDING", engine.FirstYearLabel("", 0, engine.Date{}, date(2026, 2, 1), 2026))
	assert.Equal(t, "-", engine.FirstYearLabel("", 0, engine.Date{}, date(2023, 2, 1), 2026))
}

func TestPendingPayment(t *testing.T) {
	asOf := date(2025, 3, 31)
	assert.Equal(t, engine.PendingPaymentLabel, engine.PendingPayment(date(2025, 3, 20), engine.Date{}, asOf, 30))
	assert.Equal(t, "", engine.PendingPayment(date(2025, 1, 2), engine.Date{}, asOf, 30), "past grace")
	assert.Equal(t, "", engine.PendingPayment(date(2025, 3, 20), date(2025, 3, 25), asOf, 30), "already applied")
	assert.Equal(t, "", engine.PendingPayment(engine.Date{}, engine.Date{}, asOf, 30))
}

func TestCalendarLabels(t *testing.T) {
	assert.Equal(t, "APRIL", engine.MonthName(date(2025, 4, 1)))
	assert.Equal(t, "Q2", engine.Quarter(date(2025, 4, 1)))
	assert.Equal(t, "Q4", engine.Quarter(date(2025, 12, 31)))
	assert.Equal(t, "", engine.MonthName(engine.Date{}))
	assert.Equal(t, "-", engine.Quarter(engine.Date{}))

	assert.Equal(t, "2025-03", engine.PeriodKey(date(2025, 3, 9)))
}

func TestCarrierHelpers(t *testing.T) {
	isNew, known := engine.ClassifyCarrierCycle("CY ANUAL")
	assert.True(t, isNew)
	assert.True(t, known)

	isNew, known = engine.ClassifyCarrierCycle("cy subsecuente")
	assert.False(t, isNew)
	assert.True(t, known)

	_, known = engine.ClassifyCarrierCycle("")
	assert.False(t, known)

	assert.True(t, engine.YearBoundaryAlert(date(2025, 1, 3)))
	assert.True(t, engine.YearBoundaryAlert(date(2025, 1, 5)))
	assert.False(t, engine.YearBoundaryAlert(date(2025, 1, 1)))
	assert.False(t, engine.YearBoundaryAlert(date(2025, 1, 6)))
	assert.False(t, engine.YearBoundaryAlert(engine.Date{}))

	start := date(2025, 1, 15)
	assert.True(t, engine.IsNewMedicalInsured(true, false, start, start))
	assert.False(t, engine.IsNewMedicalInsured(true, true, start, start))
	assert.False(t, engine.IsNewMedicalInsured(false, false, start, start))
	assert.False(t, engine.IsNewMedicalInsured(true, false, date(2020, 1, 1), start))
}
