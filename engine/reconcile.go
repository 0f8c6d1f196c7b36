/*
reconcile.go - Agency vs carrier New/Renewal reconciliation

PURPOSE:
  Cross-checks the agency's own NEW classification against the carrier's
  "is new" indicator for each reported policy. Carrier numbers often differ
  from ours only in leading zeros, so lookups try the normalized number
  before the raw one.

OUTCOMES:
  MATCHES        found internally, both sides agree on new/not new
  DIFFERS        found internally, sides disagree
  EXTERNAL_ONLY  reported by the carrier, unknown to the agency

  Per period: matches + differs + external_only == total and
  match_percentage == matches / total * 100 (0 when total is 0).

SEE ALSO:
  - carrier.go: cycle text and new-insured helpers
  - identity.go: NormalizePolicyNumber
*/
package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type Outcome string

const (
	OutcomeMatches      Outcome = "MATCHES"
	OutcomeDiffers      Outcome = "DIFFERS"
	OutcomeExternalOnly Outcome = "EXTERNAL_ONLY"
)

// Indicator is a carrier-reported fact about one policy.
type Indicator struct {
	Period              string          `json:"period"`
	PolicyNumber        string          `json:"policy_number"`
	AgentCode           string          `json:"agent_code,omitempty"`
	IsNew               bool            `json:"is_new"`
	FirstYearPremium    decimal.Decimal `json:"first_year_premium"`
	InsuredCount        int             `json:"insured_count"`
	CarrierCycle        string          `json:"carrier_cycle,omitempty"`
	SeniorityDate       Date            `json:"seniority_date"`
	SeniorityRecognized bool            `json:"seniority_recognized"`
}

// InternalPolicy is the agency-side view used for matching.
type InternalPolicy struct {
	PolicyNumber  string
	Line          LineOfBusiness
	Type          PolicyType
	Paid          bool
	EffectiveDate Date
}

// MatchItem is the result for one indicator.
type MatchItem struct {
	Period        string     `json:"period"`
	PolicyNumber  string     `json:"policy_number"`
	MatchedNumber string     `json:"matched_number,omitempty"`
	Outcome       Outcome    `json:"outcome"`
	InternalType  PolicyType `json:"internal_type,omitempty"`
	ExternalIsNew bool       `json:"external_is_new"`
	Description   string     `json:"description"`
	NewInsured    bool       `json:"new_insured"`
}

// PeriodSummary aggregates one reconciliation period.
type PeriodSummary struct {
	Period          string  `json:"period"`
	Total           int     `json:"total"`
	Matches         int     `json:"matches"`
	Differs         int     `json:"differs"`
	ExternalOnly    int     `json:"external_only"`
	MatchPercentage float64 `json:"match_percentage"`
}

// Reconciliation is the full matcher output.
type Reconciliation struct {
	Items   []MatchItem     `json:"items"`
	Periods []PeriodSummary `json:"periods"`
}

// ReconciliationMatcher indexes internal policies by normalized and raw
// number. The first policy registered under a key wins.
type ReconciliationMatcher struct {
	byNormalized map[string]InternalPolicy
	byRaw        map[string]InternalPolicy
}

func NewReconciliationMatcher(internal []InternalPolicy) *ReconciliationMatcher {
	m := &ReconciliationMatcher{
		byNormalized: make(map[string]InternalPolicy, len(internal)),
		byRaw:        make(map[string]InternalPolicy, len(internal)),
	}
	for _, p := range internal {
		raw := strings.TrimSpace(p.PolicyNumber)
		if raw == "" {
			continue
		}
		if _, ok := m.byRaw[raw]; !ok {
			m.byRaw[raw] = p
		}
		n := NormalizePolicyNumber(raw)
		if _, ok := m.byNormalized[n]; !ok {
			m.byNormalized[n] = p
		}
	}
	return m
}

// Lookup finds the internal policy for a carrier number.
func (m *ReconciliationMatcher) Lookup(number string) (InternalPolicy, bool) {
	raw := strings.TrimSpace(number)
	if raw == "" {
		return InternalPolicy{}, false
	}
	if p, ok := m.byNormalized[NormalizePolicyNumber(raw)]; ok {
		return p, true
	}
	p, ok := m.byRaw[raw]
	return p, ok
}

// Match reconciles one indicator.
func (m *ReconciliationMatcher) Match(ind Indicator) MatchItem {
	item := MatchItem{
		Period:        ind.Period,
		PolicyNumber:  ind.PolicyNumber,
		ExternalIsNew: ind.IsNew,
	}

	p, ok := m.Lookup(ind.PolicyNumber)
	if !ok {
		item.Outcome = OutcomeExternalOnly
		item.Description = "not in agency book"
		return item
	}

	item.MatchedNumber = p.PolicyNumber
	item.InternalType = p.Type
	item.Description = fmt.Sprintf("internal: %s, carrier: %s", p.Type, newLabel(ind.IsNew))
	if (p.Type == PolicyNew) == ind.IsNew {
		item.Outcome = OutcomeMatches
	} else {
		item.Outcome = OutcomeDiffers
	}
	if p.Line == LineMedical {
		item.NewInsured = IsNewMedicalInsured(p.Paid, ind.SeniorityRecognized, ind.SeniorityDate, p.EffectiveDate)
	}
	return item
}

// Reconcile matches every indicator and summarizes per period.
func (m *ReconciliationMatcher) Reconcile(indicators []Indicator) Reconciliation {
	items := make([]MatchItem, len(indicators))
	for i, ind := range indicators {
		items[i] = m.Match(ind)
	}
	return Reconciliation{Items: items, Periods: SummarizeMatches(items)}
}

// SummarizeMatches groups items by period, sorted by period.
func SummarizeMatches(items []MatchItem) []PeriodSummary {
	byPeriod := make(map[string]*PeriodSummary)
	for _, it := range items {
		s, ok := byPeriod[it.Period]
		if !ok {
			s = &PeriodSummary{Period: it.Period}
			byPeriod[it.Period] = s
		}
		s.Total++
		switch it.Outcome {
		case OutcomeMatches:
			s.Matches++
		case OutcomeDiffers:
			s.Differs++
		case OutcomeExternalOnly:
			s.ExternalOnly++
		}
	}

	out := make([]PeriodSummary, 0, len(byPeriod))
	for _, s := range byPeriod {
		if s.Total > 0 {
			s.MatchPercentage = float64(s.Matches) / float64(s.Total) * 100
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}

// FirstIndicatorYears returns, per normalized policy number, the earliest
// period year in which the carrier reported the policy as new.
func FirstIndicatorYears(indicators []Indicator) map[string]int {
	years := make(map[string]int)
	for _, ind := range indicators {
		if !ind.IsNew || len(ind.Period) < 4 {
			continue
		}
		year, err := strconv.Atoi(ind.Period[:4])
		if err != nil || year <= 0 {
			continue
		}
		key := NormalizePolicyNumber(ind.PolicyNumber)
		if key == "" {
			continue
		}
		if prev, ok := years[key]; !ok || year < prev {
			years[key] = year
		}
	}
	return years
}

func newLabel(isNew bool) string {
	if isNew {
		return "NEW"
	}
	return "NOT NEW"
}
