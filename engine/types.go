/*
types.go - Canonical input and output records of the rule engine

PURPOSE:
  PolicyRecord is the single typed shape every import source is normalized
  into before it reaches the engine. DerivedFacts is the flat set of business
  facts the engine attaches 1:1 to a record. Facts are always recomputed and
  replaced wholesale, never patched field by field.

KEY CONCEPTS:
  - LineOfBusiness: Life (11) or Major-Medical (34)
  - Currency: domestic (MN), inflation-indexed (UDIS) or US dollar (USD)
  - Status: six-member payment status catalog, cancellations carry a subtype
  - PolicyType / PremiumTier: output of the New/Renewal classifier

SEE ALSO:
  - status.go: Status catalog and classifier
  - derived.go: DerivedFacts computation
  - engine.go: Entry points
*/
package engine

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LINE OF BUSINESS
// =============================================================================

type LineOfBusiness int

const (
	LineUnknown LineOfBusiness = 0
	LineLife    LineOfBusiness = 11
	LineMedical LineOfBusiness = 34
)

// ParseLine accepts the numeric code or the names used by import sources.
func ParseLine(s string) LineOfBusiness {
	s = foldUpper(s)
	switch s {
	case "11", "VIDA", "LIFE":
		return LineLife
	case "34", "GMM", "GASTOS MEDICOS", "GASTOS MEDICOS MAYORES", "MAJOR MEDICAL", "MEDICAL":
		return LineMedical
	}
	if n, err := strconv.Atoi(s); err == nil {
		return LineOfBusiness(n)
	}
	return LineUnknown
}

func (l LineOfBusiness) String() string {
	switch l {
	case LineLife:
		return "LIFE"
	case LineMedical:
		return "MAJOR_MEDICAL"
	default:
		return "UNKNOWN"
	}
}

// =============================================================================
// CURRENCY
// =============================================================================

type Currency string

const (
	CurrencyMXN  Currency = "MN"
	CurrencyUDIS Currency = "UDIS"
	CurrencyUSD  Currency = "USD"
)

// ParseCurrency maps import spellings to a Currency. Anything unrecognized is
// treated as domestic.
func ParseCurrency(s string) Currency {
	switch foldUpper(s) {
	case "UDIS", "UDI":
		return CurrencyUDIS
	case "USD", "DLS", "DOLARES", "DOLLARS", "US":
		return CurrencyUSD
	default:
		return CurrencyMXN
	}
}

// =============================================================================
// POLICY RECORD - canonical input
// =============================================================================

// PolicyRecord is one imported policy/receipt row after column normalization.
type PolicyRecord struct {
	PolicyNumber string         `json:"policy_number"`
	Line         LineOfBusiness `json:"line"`
	Currency     Currency       `json:"currency"`

	EffectiveDate    Date `json:"effective_date"`
	IssueDate        Date `json:"issue_date"`
	ApplicationDate  Date `json:"application_date"`
	FirstPaymentDate Date `json:"first_payment_date"`
	LastPaymentDate  Date `json:"last_payment_date"`

	NetPremium         decimal.Decimal `json:"net_premium"`
	AccumulatedPremium decimal.Decimal `json:"accumulated_premium"`
	Commission         decimal.Decimal `json:"commission"`
	ReceiptAmountDue   decimal.Decimal `json:"receipt_amount_due"`

	PaymentFrequency string `json:"payment_frequency,omitempty"`
	ReceiptNumber    int    `json:"receipt_number,omitempty"` // 1 = first receipt, 0 = unknown

	ExternalStatus string `json:"external_status,omitempty"`
	ExternalDetail string `json:"external_detail,omitempty"`
	LegacyStatus   string `json:"legacy_status,omitempty"`

	ApplicationYear int    `json:"application_year,omitempty"`
	AnalysisYear    int    `json:"analysis_year,omitempty"`
	Version         int    `json:"version,omitempty"`
	FirstYearLabel  string `json:"first_year_label,omitempty"`
}

// NormalizedNumber is the leading-zero-stripped policy number.
func (r PolicyRecord) NormalizedNumber() string {
	return NormalizePolicyNumber(r.PolicyNumber)
}

// appliedYear is the application year, falling back to the application date.
func (r PolicyRecord) appliedYear() int {
	if r.ApplicationYear > 0 {
		return r.ApplicationYear
	}
	if !r.ApplicationDate.IsZero() {
		return r.ApplicationDate.Year()
	}
	return 0
}

// =============================================================================
// DERIVED FACTS - engine output
// =============================================================================

type PolicyType string

const (
	PolicyNew           PolicyType = "NEW"
	PolicyRenewal       PolicyType = "RENEWAL"
	PolicyNotApplicable PolicyType = "NOT_APPLICABLE"
)

type PremiumTier string

const (
	TierBasic  PremiumTier = "BASIC"
	TierExcess PremiumTier = "EXCESS"
)

// Classification is the PolicyTypeClassifier output. Tier and ratio are only
// set for Life policies.
type Classification struct {
	Type            PolicyType       `json:"type"`
	Tier            PremiumTier      `json:"premium_tier,omitempty"`
	CommissionRatio *decimal.Decimal `json:"commission_ratio,omitempty"`
}

// DerivedFacts is everything the engine computes for one record.
type DerivedFacts struct {
	PolicyNumber     string `json:"policy_number"`
	NormalizedNumber string `json:"normalized_number"`
	Status           Status `json:"status"`

	Length      int    `json:"length"`
	Root6       string `json:"root6"`
	Suffix      string `json:"suffix"`
	ChainRoot   string `json:"chain_root"`
	IsReissue   bool   `json:"is_reissue"`
	Version     int    `json:"version"`
	ChainYear   int    `json:"chain_year"`
	CompositeID string `json:"composite_id"`

	FirstYearLabel string `json:"first_year_label"`
	MonthName      string `json:"month_name"`
	Quarter        string `json:"quarter"`

	PaidFlag      int `json:"paid_flag"`
	CountsAsNew   int `json:"counts_as_new"`
	CancelledFlag int `json:"cancelled_flag"`

	AnnualPremiumMXN      decimal.Decimal `json:"annual_premium_mxn"`
	AccumulatedPremiumMXN decimal.Decimal `json:"accumulated_premium_mxn"`
	Equivalency           float64         `json:"equivalency"`
	PaidEquivalency       float64         `json:"paid_equivalency"`
	ProportionalPremium   decimal.Decimal `json:"proportional_premium"`
	Sufficiency           string          `json:"sufficiency"`

	Classification Classification `json:"classification"`

	PendingPayment    string `json:"pending_payment"`
	YearBoundaryAlert bool   `json:"year_boundary_alert"`
}

// ChainFact projects the phase-1 facts needed to build renewal chains.
func (f DerivedFacts) ChainFact() ChainFact {
	return ChainFact{ID: f.PolicyNumber, Root: f.ChainRoot, Year: f.ChainYear, Version: f.Version}
}

// foldUpper trims, upper-cases, strips accents and collapses inner whitespace.
func foldUpper(s string) string {
	return strings.Join(strings.Fields(strings.ToUpper(stripAccents(s))), " ")
}
