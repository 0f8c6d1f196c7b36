/*
store.go - Persistence interface for the policy book

PURPOSE:
  Defines the interface between the book service and the database. Policy
  inputs are upserted keyed on the original policy number; derived facts are
  attached 1:1 and always replaced wholesale, never patched.

KEY INTERFACES:
  Repository: policies, derived facts, renewal links, carrier indicators,
              run audit and the key/value settings table

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (WAL, inline migration)
  - store/memory/memory.go: In-memory for tests and dev

SEE ALSO:
  - service.go: operations built on Repository
*/
package book

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/warp/policy-engine/engine"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrPolicyNotFound is returned when a policy number is not in the book.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrInvalidInput wraps caller mistakes (bad filter, unknown setting).
	ErrInvalidInput = errors.New("invalid input")
)

// IsNotFound reports whether err means the policy does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPolicyNotFound)
}

// IsClientError reports whether err is due to the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) || engine.IsClientError(err)
}

// =============================================================================
// STORED TYPES
// =============================================================================

// StoredPolicy is a persisted input record plus its latest derived facts.
type StoredPolicy struct {
	Record       engine.PolicyRecord  `json:"record"`
	Facts        *engine.DerivedFacts `json:"facts,omitempty"`
	ParentNumber string               `json:"parent_number,omitempty"`
	ReissueCount int                  `json:"reissue_count"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// Number is the key the policy is stored under.
func (p StoredPolicy) Number() string {
	return strings.TrimSpace(p.Record.PolicyNumber)
}

// Filter narrows ListPolicies. Zero fields match everything.
type Filter struct {
	Year   int
	Line   engine.LineOfBusiness
	Status engine.Status
	Type   engine.PolicyType
}

// Matches applies the filter to a stored policy. A CANCELLED status filter
// matches every cancellation subtype.
func (f Filter) Matches(p StoredPolicy) bool {
	if f.Year != 0 && PolicyYear(p.Record) != f.Year {
		return false
	}
	if f.Line != engine.LineUnknown && p.Record.Line != f.Line {
		return false
	}
	if f.Status != engine.StatusNone {
		if p.Facts == nil {
			return false
		}
		if f.Status == engine.StatusCancelled {
			if !p.Facts.Status.IsCancelled() {
				return false
			}
		} else if p.Facts.Status != f.Status {
			return false
		}
	}
	if f.Type != "" && (p.Facts == nil || p.Facts.Classification.Type != f.Type) {
		return false
	}
	return true
}

// PolicyYear is the production year a record is filed under: the
// application year, else the application date year, else the effective year.
func PolicyYear(r engine.PolicyRecord) int {
	switch {
	case r.ApplicationYear > 0:
		return r.ApplicationYear
	case !r.ApplicationDate.IsZero():
		return r.ApplicationDate.Year()
	default:
		return r.EffectiveDate.Year()
	}
}

// RunKind names what a Run did.
type RunKind string

const (
	RunRecompute        RunKind = "recompute"
	RunImportPolicies   RunKind = "import_policies"
	RunImportIndicators RunKind = "import_indicators"
	RunUpsert           RunKind = "upsert"
)

// Run is an audit entry for an import or recompute.
type Run struct {
	ID         string               `json:"id"`
	Kind       RunKind              `json:"kind"`
	Source     string               `json:"source,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Processed  int                  `json:"processed"`
	Updated    int                  `json:"updated"`
	Failed     int                  `json:"failed"`
	Errors     []engine.RecordError `json:"errors,omitempty"`
}

// =============================================================================
// REPOSITORY
// =============================================================================

// Repository persists the policy book.
type Repository interface {
	// SavePolicies upserts input records keyed on the trimmed policy number.
	// Existing derived facts are kept until the next SaveDerived.
	SavePolicies(ctx context.Context, records []engine.PolicyRecord) error

	// ListPolicies returns matching policies ordered by policy number.
	ListPolicies(ctx context.Context, filter Filter) ([]StoredPolicy, error)

	// GetPolicy returns nil, nil when the number is unknown.
	GetPolicy(ctx context.Context, number string) (*StoredPolicy, error)

	// SaveDerived replaces the facts of each record wholesale.
	SaveDerived(ctx context.Context, facts []engine.DerivedFacts) error

	// SaveLinks replaces parent and reissue count for every policy. Policies
	// absent from links end up with no parent and a count of zero.
	SaveLinks(ctx context.Context, links engine.Links) error

	// SaveIndicators upserts carrier indicators keyed on (period, number).
	SaveIndicators(ctx context.Context, indicators []engine.Indicator) error

	// ListIndicators returns one period's indicators, or all when period is "".
	ListIndicators(ctx context.Context, period string) ([]engine.Indicator, error)

	// ListPeriods returns the distinct indicator periods, ascending.
	ListPeriods(ctx context.Context) ([]string, error)

	SaveRun(ctx context.Context, run Run) error

	// ListRuns returns the most recent runs first. limit <= 0 means all.
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	Settings(ctx context.Context) (map[string]string, error)
	PutSetting(ctx context.Context, key, value string) error
}
