/*
classify.go - New / Renewal / Not-Applicable classification

PURPOSE:
  Decides whether a policy counts as NEW production, a RENEWAL, or neither
  for the analysis year. Life policies are first tiered by commission ratio;
  only the BASIC tier is eligible for New/Renewal.

RULES (first match wins):
  no-effective-date   -> NOT_APPLICABLE, nothing else computed
  unsupported-line    -> NOT_APPLICABLE
  excess-tier         -> NOT_APPLICABLE (Life only, tier EXCESS)
  new-in-year         -> NEW       policy year == analysis year and paid
  renewal-prior-year  -> RENEWAL   policy year == analysis year - 1
  default             -> NOT_APPLICABLE

SEE ALSO:
  - config.go: CommissionThreshold, PaidStatuses
  - status.go: statuses feeding the paid determination
*/
package engine

import (
	"github.com/shopspring/decimal"
)

// ClassifyInput is the PolicyTypeClassifier input.
type ClassifyInput struct {
	Line          LineOfBusiness
	EffectiveDate Date
	Paid          bool
	AnalysisYear  int
	NetPremium    decimal.Decimal
	Commission    decimal.Decimal
}

type classifyState struct {
	in    ClassifyInput
	tier  PremiumTier
	ratio *decimal.Decimal
}

// PolicyTypeClassifier applies the commission threshold and year rules.
type PolicyTypeClassifier struct {
	threshold decimal.Decimal
	rules     RuleSet[classifyState, PolicyType]
}

func NewPolicyTypeClassifier(cfg Config) *PolicyTypeClassifier {
	constant := func(t PolicyType) func(classifyState) PolicyType {
		return func(classifyState) PolicyType { return t }
	}
	return &PolicyTypeClassifier{
		threshold: cfg.CommissionThreshold,
		rules: RuleSet[classifyState, PolicyType]{
			{
				Name: "unsupported-line",
				When: func(s classifyState) bool { return s.in.Line != LineLife && s.in.Line != LineMedical },
				Then: constant(PolicyNotApplicable),
			},
			{
				Name: "excess-tier",
				When: func(s classifyState) bool { return s.tier == TierExcess },
				Then: constant(PolicyNotApplicable),
			},
			{
				Name: "new-in-year",
				When: func(s classifyState) bool {
					return s.in.EffectiveDate.Year() == s.in.AnalysisYear && s.in.Paid
				},
				Then: constant(PolicyNew),
			},
			{
				Name: "renewal-prior-year",
				When: func(s classifyState) bool { return s.in.EffectiveDate.Year() == s.in.AnalysisYear-1 },
				Then: constant(PolicyRenewal),
			},
		},
	}
}

// Classify returns the classification. Tier and ratio are only set for Life.
func (c *PolicyTypeClassifier) Classify(in ClassifyInput) Classification {
	if in.EffectiveDate.IsZero() {
		return Classification{Type: PolicyNotApplicable}
	}

	state := classifyState{in: in}
	if in.Line == LineLife {
		ratio := CommissionRatio(in.Commission, in.NetPremium)
		state.ratio = &ratio
		state.tier = TierExcess
		if ratio.GreaterThanOrEqual(c.threshold) {
			state.tier = TierBasic
		}
	}

	t, _ := c.rules.Evaluate(state, PolicyNotApplicable)
	return Classification{Type: t, Tier: state.tier, CommissionRatio: state.ratio}
}

// CommissionRatio is commission / premium rounded to 6 places, 0 when the
// premium is not positive.
func CommissionRatio(commission, premium decimal.Decimal) decimal.Decimal {
	if !premium.IsPositive() {
		return decimal.Zero
	}
	return commission.DivRound(premium, 6)
}
