/*
debt.go - Collections priority (semáforo)

PURPOSE:
  Ranks policies for premium collection. The expected receipt is derived from
  the payment frequency and the months elapsed since the effective date; the
  days past that receipt drive a five-level priority.

PRIORITY (first match wins):
  paid       status PAID or CURRENT
  critical   cancelled, or more than CriticalDays overdue
  urgent     more than UrgentDays overdue
  attention  any days overdue
  on_time    otherwise

  Display order: critical, urgent, attention, on_time, paid; each group by
  days overdue descending.

SEE ALSO:
  - config.go: GraceDays, UrgentDays, CriticalDays
*/
package engine

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

type Priority string

const (
	PriorityCritical  Priority = "critical"
	PriorityUrgent    Priority = "urgent"
	PriorityAttention Priority = "attention"
	PriorityOnTime    Priority = "on_time"
	PriorityPaid      Priority = "paid"
)

// Priorities lists every priority in display order.
var Priorities = []Priority{PriorityCritical, PriorityUrgent, PriorityAttention, PriorityOnTime, PriorityPaid}

func (p Priority) rank() int {
	for i, q := range Priorities {
		if p == q {
			return i
		}
	}
	return len(Priorities)
}

// DebtInput is a classified policy as seen by collections.
type DebtInput struct {
	PolicyNumber       string
	Status             Status
	Frequency          string
	EffectiveDate      Date
	NetPremium         decimal.Decimal
	AccumulatedPremium decimal.Decimal
	Today              Date
}

// DebtInputFor projects a record and its facts.
func DebtInputFor(r PolicyRecord, f DerivedFacts, today Date) DebtInput {
	return DebtInput{
		PolicyNumber:       r.PolicyNumber,
		Status:             f.Status,
		Frequency:          r.PaymentFrequency,
		EffectiveDate:      r.EffectiveDate,
		NetPremium:         r.NetPremium,
		AccumulatedPremium: r.AccumulatedPremium,
		Today:              today,
	}
}

// Debt is the collections assessment of one policy.
type Debt struct {
	PolicyNumber     string          `json:"policy_number"`
	Status           Status          `json:"status"`
	MonthsPerReceipt int             `json:"months_per_receipt"`
	ExpectedReceipts int             `json:"expected_receipts"`
	TotalReceipts    int             `json:"total_receipts"`
	ReceiptLabel     string          `json:"receipt_label"`
	NextReceiptDate  Date            `json:"next_receipt_date"`
	DaysOverdue      int             `json:"days_overdue"`
	Outstanding      decimal.Decimal `json:"outstanding"`
	Priority         Priority        `json:"priority"`
}

// MonthsPerReceipt maps a payment frequency to months between receipts.
// Unknown frequencies are annual.
func MonthsPerReceipt(frequency string) int {
	f := foldUpper(frequency)
	switch {
	case containsFold(f, "SEMEST"), containsFold(f, "SEMI"):
		return 6
	case containsFold(f, "TRIM"), containsFold(f, "QUARTER"):
		return 3
	case containsFold(f, "BIMEST"), containsFold(f, "BIMONTH"):
		return 2
	case containsFold(f, "MENS"), containsFold(f, "MONTH"):
		return 1
	default:
		return 12
	}
}

// DebtPrioritizer assesses collections urgency.
type DebtPrioritizer struct {
	graceDays int
	rules     RuleSet[Debt, Priority]
}

func NewDebtPrioritizer(cfg Config) *DebtPrioritizer {
	constant := func(p Priority) func(Debt) Priority {
		return func(Debt) Priority { return p }
	}
	return &DebtPrioritizer{
		graceDays: cfg.GraceDays,
		rules: RuleSet[Debt, Priority]{
			{Name: "paid", When: func(d Debt) bool { return d.Status.IsPaidOrCurrent() }, Then: constant(PriorityPaid)},
			{Name: "critical", When: func(d Debt) bool { return d.Status.IsCancelled() || d.DaysOverdue > cfg.CriticalDays }, Then: constant(PriorityCritical)},
			{Name: "urgent", When: func(d Debt) bool { return d.DaysOverdue > cfg.UrgentDays }, Then: constant(PriorityUrgent)},
			{Name: "attention", When: func(d Debt) bool { return d.DaysOverdue > 0 }, Then: constant(PriorityAttention)},
		},
	}
}

// Assess computes receipts, days overdue and priority.
func (p *DebtPrioritizer) Assess(in DebtInput) Debt {
	m := MonthsPerReceipt(in.Frequency)
	total := 12 / m

	d := Debt{
		PolicyNumber:     in.PolicyNumber,
		Status:           in.Status,
		MonthsPerReceipt: m,
		TotalReceipts:    total,
		Outstanding:      decimal.Max(decimal.Zero, in.NetPremium.Sub(in.AccumulatedPremium)),
	}

	if !in.EffectiveDate.IsZero() {
		since := max(0, MonthsBetween(in.EffectiveDate, in.Today))
		d.ExpectedReceipts = min(total, max(1, since/m+1))
		d.ReceiptLabel = fmt.Sprintf("%d/%d", d.ExpectedReceipts, total)
		d.NextReceiptDate = in.EffectiveDate.AddDays(m * 30 * d.ExpectedReceipts)

		acc := in.AccumulatedPremium
		switch {
		case acc.IsPositive() && acc.LessThan(in.NetPremium):
			d.DaysOverdue = max(0, DaysBetween(d.NextReceiptDate, in.Today))
		case !acc.IsPositive() && !in.Status.IsPaidOrCurrent():
			d.DaysOverdue = max(0, DaysBetween(in.EffectiveDate, in.Today)-p.graceDays)
		}
	}

	d.Priority, _ = p.rules.Evaluate(d, PriorityOnTime)
	return d
}

// SortDebts orders by priority then days overdue descending.
func SortDebts(debts []Debt) {
	sort.SliceStable(debts, func(i, j int) bool {
		ri, rj := debts[i].Priority.rank(), debts[j].Priority.rank()
		if ri != rj {
			return ri < rj
		}
		return debts[i].DaysOverdue > debts[j].DaysOverdue
	})
}

// DebtSummary totals debts per priority.
type DebtSummary struct {
	Total            int                          `json:"total"`
	Counts           map[Priority]int             `json:"counts"`
	Outstanding      map[Priority]decimal.Decimal `json:"outstanding"`
	TotalOutstanding decimal.Decimal              `json:"total_outstanding"`
}

func SummarizeDebts(debts []Debt) DebtSummary {
	s := DebtSummary{
		Counts:      make(map[Priority]int, len(Priorities)),
		Outstanding: make(map[Priority]decimal.Decimal, len(Priorities)),
	}
	for _, p := range Priorities {
		s.Counts[p] = 0
		s.Outstanding[p] = decimal.Zero
	}
	for _, d := range debts {
		s.Total++
		s.Counts[d.Priority]++
		s.Outstanding[d.Priority] = s.Outstanding[d.Priority].Add(d.Outstanding)
		s.TotalOutstanding = s.TotalOutstanding.Add(d.Outstanding)
	}
	return s
}
