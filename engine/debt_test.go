package engine_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/policy-engine/engine"
)

var debtToday = date(2025, 6, 15)

func newPrioritizer() *engine.DebtPrioritizer {
	return engine.NewDebtPrioritizer(engine.DefaultConfig())
}

func debtInput(status engine.Status, freq string, effective engine.Date, premium, accumulated string) engine.DebtInput {
	return engine.DebtInput{
		PolicyNumber:       "P-" + freq,
		Status:             status,
		Frequency:          freq,
		EffectiveDate:      effective,
		NetPremium:         dec(premium),
		AccumulatedPremium: dec(accumulated),
		Today:              debtToday,
	}
}

func TestMonthsPerReceipt(t *testing.T) {
	cases := map[string]int{
		"ANUAL":      12,
		"SEMESTRAL":  6,
		"TRIMESTRAL": 3,
		"BIMESTRAL":  2,
		"MENSUAL":    1,
		"Monthly":    1,
		"BIMONTHLY":  2,
		"QUARTERLY":  3,
		"":           12,
		"OTRA":       12,
	}
	for freq, want := range cases {
		assert.Equal(t, want, engine.MonthsPerReceipt(freq), freq)
	}
}

func TestAssessDebt_PaidAndCancelled(t *testing.T) {
	p := newPrioritizer()

	paid := p.Assess(debtInput(engine.StatusPaid, "ANUAL", date(2025, 1, 1), "1000", "0"))
	assert.Equal(t, engine.PriorityPaid, paid.Priority)

	cancelled := p.Assess(debtInput(engine.StatusCancelled, "ANUAL", date(2025, 6, 1), "1000", "1000"))
	assert.Equal(t, engine.PriorityCritical, cancelled.Priority)
}

func TestAssessDebt_NothingPaidUsesGraceFromEffectiveDate(t *testing.T) {
	p := newPrioritizer()
	cases := []struct {
		effective engine.Date
		days      int
		want      engine.Priority
	}{
		{date(2025, 4, 1), 45, engine.PriorityCritical},  // 75 days elapsed
		{date(2025, 4, 25), 21, engine.PriorityUrgent},   // 51 days elapsed
		{date(2025, 5, 1), 15, engine.PriorityAttention}, // 45 days elapsed
		{date(2025, 5, 20), 0, engine.PriorityOnTime},    // 26 days elapsed
	}
	for _, tc := range cases {
		d := p.Assess(debtInput(engine.StatusPendingPayment, "ANUAL", tc.effective, "12000", "0"))
		assert.Equal(t, tc.days, d.DaysOverdue, tc.effective.String())
		assert.Equal(t, tc.want, d.Priority, tc.effective.String())
		assert.Equal(t, "1/1", d.ReceiptLabel)
	}
}

func TestAssessDebt_PartialPaymentUsesNextReceipt(t *testing.T) {
	// GIVEN: Semi-annual policy a year old, half paid
	d := newPrioritizer().Assess(debtInput(engine.StatusPastDue, "SEMESTRAL", date(2024, 6, 1), "2000", "1000"))

	// THEN: Second of two receipts, due 360 days after start, 19 days late
	assert.Equal(t, 6, d.MonthsPerReceipt)
	assert.Equal(t, 2, d.ExpectedReceipts)
	assert.Equal(t, "2/2", d.ReceiptLabel)
	assert.Equal(t, "2025-05-27", d.NextReceiptDate.String())
	assert.Equal(t, 19, d.DaysOverdue)
	assert.Equal(t, engine.PriorityUrgent, d.Priority)
	assert.True(t, dec("1000").Equal(d.Outstanding))
}

func TestAssessDebt_MonthlyNotYetDue(t *testing.T) {
	d := newPrioritizer().Assess(debtInput(engine.StatusPastDue, "MENSUAL", date(2025, 1, 10), "12000", "3000"))
	assert.Equal(t, "6/12", d.ReceiptLabel)
	assert.Equal(t, "2025-07-09", d.NextReceiptDate.String())
	assert.Equal(t, 0, d.DaysOverdue)
	assert.Equal(t, engine.PriorityOnTime, d.Priority)
}

func TestAssessDebt_NoEffectiveDate(t *testing.T) {
	d := newPrioritizer().Assess(debtInput(engine.StatusNone, "ANUAL", engine.Date{}, "1000", "0"))
	assert.Equal(t, 0, d.DaysOverdue)
	assert.Equal(t, engine.PriorityOnTime, d.Priority)
	assert.True(t, d.NextReceiptDate.IsZero())
}

func TestSortAndSummarizeDebts(t *testing.T) {
	debts := []engine.Debt{
		{PolicyNumber: "paid", Priority: engine.PriorityPaid},
		{PolicyNumber: "att", Priority: engine.PriorityAttention, DaysOverdue: 3, Outstanding: dec("10")},
		{PolicyNumber: "crit-low", Priority: engine.PriorityCritical, DaysOverdue: 31, Outstanding: dec("100")},
		{PolicyNumber: "ontime", Priority: engine.PriorityOnTime},
		{PolicyNumber: "crit-high", Priority: engine.PriorityCritical, DaysOverdue: 90, Outstanding: dec("200")},
		{PolicyNumber: "urg", Priority: engine.PriorityUrgent, DaysOverdue: 20},
	}

	engine.SortDebts(debts)

	var order []string
	for _, d := range debts {
		order = append(order, d.PolicyNumber)
	}
	assert.Equal(t, []string{"crit-high", "crit-low", "urg", "att", "ontime", "paid"}, order)

	s := engine.SummarizeDebts(debts)
	assert.Equal(t, 6, s.Total)
	assert.Equal(t, 2, s.Counts[engine.PriorityCritical])
	assert.Equal(t, 0, s.Counts["unknown"])
	assert.True(t, dec("300").Equal(s.Outstanding[engine.PriorityCritical]))
	assert.True(t, dec("310").Equal(s.TotalOutstanding))
	assert.True(t, s.Outstanding[engine.PriorityPaid].Equal(decimal.Zero))
}
