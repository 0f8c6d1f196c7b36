/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Request types accept
  the loose spellings clients send (line "VIDA" or 11, currency "UDIS") and
  convert to canonical engine values; responses mostly reuse the engine and
  book types, which already carry JSON tags.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done in handlers and the service, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/types.go: PolicyRecord, DerivedFacts
*/
package api

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/policy-engine/book"
	"github.com/warp/policy-engine/engine"
	"github.com/warp/policy-engine/factory"
)

// =============================================================================
// POLICIES
// =============================================================================

// PolicyRequest is the body of POST /api/policies.
type PolicyRequest struct {
	PolicyNumber string `json:"policy_number"`
	Line         any    `json:"line"`
	Currency     string `json:"currency,omitempty"`

	EffectiveDate    engine.Date `json:"effective_date"`
	IssueDate        engine.Date `json:"issue_date"`
	ApplicationDate  engine.Date `json:"application_date"`
	FirstPaymentDate engine.Date `json:"first_payment_date"`
	LastPaymentDate  engine.Date `json:"last_payment_date"`

	NetPremium         decimal.Decimal `json:"net_premium"`
	AccumulatedPremium decimal.Decimal `json:"accumulated_premium"`
	Commission         decimal.Decimal `json:"commission"`
	ReceiptAmountDue   decimal.Decimal `json:"receipt_amount_due"`

	PaymentFrequency string `json:"payment_frequency,omitempty"`
	ReceiptNumber    int    `json:"receipt_number,omitempty"`

	ExternalStatus string `json:"external_status,omitempty"`
	ExternalDetail string `json:"external_detail,omitempty"`
	LegacyStatus   string `json:"legacy_status,omitempty"`

	ApplicationYear int    `json:"application_year,omitempty"`
	AnalysisYear    int    `json:"analysis_year,omitempty"`
	Version         int    `json:"version,omitempty"`
	FirstYearLabel  string `json:"first_year_label,omitempty"`
}

// ToRecord converts the request into the canonical input record.
func (p PolicyRequest) ToRecord() engine.PolicyRecord {
	return engine.PolicyRecord{
		PolicyNumber:       p.PolicyNumber,
		Line:               engine.ParseLine(lineText(p.Line)),
		Currency:           engine.ParseCurrency(p.Currency),
		EffectiveDate:      p.EffectiveDate,
		IssueDate:          p.IssueDate,
		ApplicationDate:    p.ApplicationDate,
		FirstPaymentDate:   p.FirstPaymentDate,
		LastPaymentDate:    p.LastPaymentDate,
		NetPremium:         p.NetPremium,
		AccumulatedPremium: p.AccumulatedPremium,
		Commission:         p.Commission,
		ReceiptAmountDue:   p.ReceiptAmountDue,
		PaymentFrequency:   p.PaymentFrequency,
		ReceiptNumber:      p.ReceiptNumber,
		ExternalStatus:     p.ExternalStatus,
		ExternalDetail:     p.ExternalDetail,
		LegacyStatus:       p.LegacyStatus,
		ApplicationYear:    p.ApplicationYear,
		AnalysisYear:       p.AnalysisYear,
		Version:            p.Version,
		FirstYearLabel:     p.FirstYearLabel,
	}
}

// lineText accepts the line as a JSON number or string.
func lineText(v any) string {
	switch l := v.(type) {
	case nil:
		return ""
	case float64:
		return fmt.Sprintf("%.0f", l)
	case string:
		return l
	default:
		return fmt.Sprint(l)
	}
}

// PolicyDTO is a stored policy in API responses.
type PolicyDTO struct {
	Number string `json:"number"`
	Line   string `json:"line_name"`
	book.StoredPolicy
}

func toPolicyDTO(p book.StoredPolicy) PolicyDTO {
	return PolicyDTO{Number: p.Number(), Line: p.Record.Line.String(), StoredPolicy: p}
}

func toPolicyDTOs(ps []book.StoredPolicy) []PolicyDTO {
	dtos := make([]PolicyDTO, len(ps))
	for i, p := range ps {
		dtos[i] = toPolicyDTO(p)
	}
	return dtos
}

// =============================================================================
// IMPORTS
// =============================================================================

// ImportResponse summarizes a workbook upload.
type ImportResponse struct {
	RunID     string               `json:"run_id"`
	Source    string               `json:"source"`
	Sheet     string               `json:"sheet"`
	Processed int                  `json:"processed"`
	Updated   int                  `json:"updated"`
	Errors    []engine.RecordError `json:"errors"`
}

// =============================================================================
// SETTINGS
// =============================================================================

// SettingsResponse shows stored overrides and the configuration they yield.
type SettingsResponse struct {
	Settings  map[string]string  `json:"settings"`
	Effective factory.ConfigJSON `json:"effective"`
	Keys      []string           `json:"keys"`
}

// PutSettingRequest is the body of PUT /api/settings/{key}.
type PutSettingRequest struct {
	Value string `json:"value"`
}

// =============================================================================
// RUNS & HEALTH
// =============================================================================

// RunsResponse lists the audit trail.
type RunsResponse struct {
	Runs []book.Run `json:"runs"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	NextRecompute string `json:"next_recompute,omitempty"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// normalizeKey is used for path parameters that name settings.
func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
