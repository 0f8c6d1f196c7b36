/*
status.go - Payment status catalog and the StatusClassifier

PURPOSE:
  Decides the canonical payment status of a policy. The carrier's own status
  code is authoritative when present; otherwise the status is inferred from
  elapsed time and paid/due amounts; the legacy receipt code is the last
  resort.

PRECEDENCE (first match wins):
  1. external-code      carrier code table, cancellation refined by detail
  2. issue-date         days since issue + paid vs due + first receipt
  3. effective-unpaid   nothing paid, days since effective date
  4. legacy-code        substring keyword table

  Nothing matched ⇒ "" (unknown). The classifier never panics on input.

STATUS VOCABULARY:
  Import sources spell the same status differently ("POLIZA PAGADA",
  "POLICY PAID", "Póliza pagada"). Every lookup folds case, accents and
  whitespace before comparing.

SEE ALSO:
  - rules.go: RuleSet
  - classify.go: "is paid" determination built on these statuses
*/
package engine

import (
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUS CATALOG
// =============================================================================

type Status string

const (
	StatusNone           Status = ""
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusNotTaken       Status = "NOT_TAKEN"
	StatusCurrent        Status = "CURRENT"
	StatusPastDue        Status = "PAST_DUE"
	StatusCancelled      Status = "CANCELLED"
	StatusReinstated     Status = "REINSTATED"
	StatusPaid           Status = "PAID"
)

// CancelSubtype refines a cancellation.
type CancelSubtype string

const (
	SubtypeLapsedNonpayment CancelSubtype = "LAPSED_NONPAYMENT"
	SubtypeNotTaken         CancelSubtype = "NOT_TAKEN"
	SubtypeReplaced         CancelSubtype = "REPLACED"
	SubtypeModified         CancelSubtype = "MODIFIED"
)

// Cancelled builds the compound status CANCELLED/<subtype>.
func Cancelled(sub CancelSubtype) Status {
	if sub == "" {
		return StatusCancelled
	}
	return Status(string(StatusCancelled) + "/" + string(sub))
}

// IsCancelled is true for CANCELLED with or without subtype.
func (s Status) IsCancelled() bool {
	return s == StatusCancelled || strings.HasPrefix(string(s), string(StatusCancelled)+"/")
}

// Subtype returns the cancellation subtype, or "".
func (s Status) Subtype() CancelSubtype {
	if _, sub, ok := strings.Cut(string(s), "/"); ok && s.IsCancelled() {
		return CancelSubtype(sub)
	}
	return ""
}

// IsPaidOrCurrent is the collections notion of "nothing to chase".
func (s Status) IsPaidOrCurrent() bool {
	return s == StatusPaid || s == StatusCurrent
}

// externalCodes maps folded carrier codes to statuses.
var externalCodes = map[string]Status{
	"POLIZA PAGADA":       StatusPaid,
	"POLIZA AL CORRIENTE": StatusCurrent,
	"POLIZA CANCELADA":    StatusCancelled,
	"POLIZA ATRASADA":     StatusPastDue,
	"POLIZA PENDIENTE":    StatusPendingPayment,
	"POLIZA REHABILITADA": StatusReinstated,
	"POLIZA NO TOMADA":    StatusNotTaken,

	"POLICY PAID":       StatusPaid,
	"POLICY CURRENT":    StatusCurrent,
	"POLICY CANCELLED":  StatusCancelled,
	"POLICY CANCELED":   StatusCancelled,
	"POLICY PAST DUE":   StatusPastDue,
	"POLICY PENDING":    StatusPendingPayment,
	"POLICY REINSTATED": StatusReinstated,
	"POLICY NOT TAKEN":  StatusNotTaken,

	// Already-canonical values, so re-imported output classifies the same.
	string(StatusPaid):           StatusPaid,
	string(StatusCurrent):        StatusCurrent,
	string(StatusCancelled):      StatusCancelled,
	string(StatusPastDue):        StatusPastDue,
	string(StatusPendingPayment): StatusPendingPayment,
	string(StatusReinstated):     StatusReinstated,
	string(StatusNotTaken):       StatusNotTaken,
}

var cancelDetailKeywords = []keywordRule[CancelSubtype]{
	{"FALTA DE PAGO", SubtypeLapsedNonpayment},
	{"NONPAYMENT", SubtypeLapsedNonpayment},
	{"NON-PAYMENT", SubtypeLapsedNonpayment},
	{"NON PAYMENT", SubtypeLapsedNonpayment},
	{"NO TOMADA", SubtypeNotTaken},
	{"NOT TAKEN", SubtypeNotTaken},
	{"SUSTITUCION", SubtypeReplaced},
	{"REPLACEMENT", SubtypeReplaced},
	{"REDUCCION DE PRIMA", SubtypeModified},
	{"AUMENTO DE PRIMA", SubtypeModified},
	{"MODIFICATION", SubtypeModified},
}

// legacyKeywords is order-sensitive: compound cancellations before "CANC",
// "NO TOMADA" before "CANC" catches plain not-taken codes, and negated codes
// come before the positive keyword they contain.
var legacyKeywords = []keywordRule[Status]{
	{"CANC/X F.PAGO", Cancelled(SubtypeLapsedNonpayment)},
	{"CANC/X SUSTITUCION", Cancelled(SubtypeReplaced)},
	{"CANC/NO TOMADA", Cancelled(SubtypeNotTaken)},
	{"NO TOMADA", StatusNotTaken},
	{"NOT TAKEN", StatusNotTaken},
	{"LAPSED", Cancelled(SubtypeLapsedNonpayment)},
	{"CANC", StatusCancelled},
	{"NO PAGADA", StatusPendingPayment},
	{"SIN PAGO", StatusPendingPayment},
	{"UNPAID", StatusPendingPayment},
	{"NOT PAID", StatusPendingPayment},
	{"NO AL CORRIENTE", StatusPastDue},
	{"NOT CURRENT", StatusPastDue},
	{"PENDIENTE", StatusPendingPayment},
	{"PENDING", StatusPendingPayment},
	{"REHABILITADA", StatusReinstated},
	{"REINSTATED", StatusReinstated},
	{"ATRASADA", StatusPastDue},
	{"PAST DUE", StatusPastDue},
	{"AL CORRIENTE", StatusCurrent},
	{"CURRENT", StatusCurrent},
	{"PAGADA", StatusPaid},
	{"PAID", StatusPaid},
}

// MapExternalStatus maps a carrier code (and optional detail) to a status.
// Unknown codes yield "".
func MapExternalStatus(code, detail string) Status {
	mapped := externalCodes[foldUpper(code)]
	if mapped == StatusCancelled && strings.TrimSpace(detail) != "" {
		if sub, ok := matchKeyword(cancelDetailKeywords, detail); ok {
			return Cancelled(sub)
		}
	}
	return mapped
}

// MapLegacyStatus maps an internal legacy receipt code to a status.
func MapLegacyStatus(code string) Status {
	s, _ := matchKeyword(legacyKeywords, code)
	return s
}

// =============================================================================
// STATUS CLASSIFIER
// =============================================================================

// StatusInput is everything the classifier looks at.
type StatusInput struct {
	ExternalStatus string
	ExternalDetail string
	LegacyStatus   string

	IssueDate     Date
	EffectiveDate Date
	PremiumPaid   decimal.Decimal
	PremiumDue    decimal.Decimal
	FirstReceipt  bool

	AsOf Date
}

// StatusInputFor projects a record. Due falls back to the net premium, and an
// unknown receipt number counts as the first receipt.
func StatusInputFor(r PolicyRecord, asOf Date) StatusInput {
	due := r.ReceiptAmountDue
	if !due.IsPositive() {
		due = r.NetPremium
	}
	return StatusInput{
		ExternalStatus: r.ExternalStatus,
		ExternalDetail: r.ExternalDetail,
		LegacyStatus:   r.LegacyStatus,
		IssueDate:      r.IssueDate,
		EffectiveDate:  r.EffectiveDate,
		PremiumPaid:    r.AccumulatedPremium,
		PremiumDue:     due,
		FirstReceipt:   r.ReceiptNumber <= 1,
		AsOf:           asOf,
	}
}

// StatusClassifier holds the ordered status rules for one configuration.
type StatusClassifier struct {
	graceDays int
	rules     RuleSet[StatusInput, Status]
}

func NewStatusClassifier(cfg Config) *StatusClassifier {
	c := &StatusClassifier{graceDays: cfg.GraceDays}
	c.rules = RuleSet[StatusInput, Status]{
		{
			Name: "external-code",
			When: func(in StatusInput) bool { return foldUpper(in.ExternalStatus) != "" },
			Then: func(in StatusInput) Status { return MapExternalStatus(in.ExternalStatus, in.ExternalDetail) },
		},
		{
			Name: "issue-date",
			When: func(in StatusInput) bool { return !in.IssueDate.IsZero() },
			Then: c.fromIssueDate,
		},
		{
			Name: "effective-unpaid",
			When: func(in StatusInput) bool { return !in.EffectiveDate.IsZero() && !in.PremiumPaid.IsPositive() },
			Then: c.fromEffectiveDate,
		},
		{
			Name: "legacy-code",
			When: func(in StatusInput) bool { return foldUpper(in.LegacyStatus) != "" },
			Then: func(in StatusInput) Status { return MapLegacyStatus(in.LegacyStatus) },
		},
	}
	return c
}

// Classify returns the status, or "" when no rule applies.
func (c *StatusClassifier) Classify(in StatusInput) Status {
	s, _ := c.rules.Evaluate(in, StatusNone)
	return s
}

// Explain also returns the name of the deciding rule.
func (c *StatusClassifier) Explain(in StatusInput) (Status, string) {
	return c.rules.Evaluate(in, StatusNone)
}

func (c *StatusClassifier) fromIssueDate(in StatusInput) Status {
	elapsed := DaysBetween(in.IssueDate, in.AsOf)
	paid := in.PremiumPaid

	switch {
	case !paid.IsPositive():
		if elapsed <= c.graceDays {
			return StatusPendingPayment
		}
		return StatusNotTaken
	case paid.GreaterThanOrEqual(in.PremiumDue):
		if elapsed > c.graceDays+1 && in.FirstReceipt {
			return StatusReinstated
		}
		return StatusPaid
	default:
		if !in.FirstReceipt {
			return StatusPastDue
		}
		return StatusCurrent
	}
}

func (c *StatusClassifier) fromEffectiveDate(in StatusInput) Status {
	if DaysBetween(in.EffectiveDate, in.AsOf) > c.graceDays {
		return Cancelled(SubtypeLapsedNonpayment)
	}
	return StatusPendingPayment
}
