/*
engine.go - Rule engine entry points

PURPOSE:
  Turns canonical PolicyRecords into DerivedFacts. The engine is stateless
  apart from its immutable Config: the same records, options and config
  always produce the same facts, so "recompute everything" can be run any
  number of times.

TWO PHASES:
  Phase 1 (Derive, per record, parallel in DeriveBatch):
    status -> identity/calendar/currency/equivalency/flags -> classification
  Phase 2 (BuildRenewalChains, whole batch, single-threaded):
    group by chain root, link each record to its predecessor

  DeriveBatch runs phase 1 for every record, waits, then runs phase 2 over
  the successful results. The phases never interleave.

FAILURE MODEL:
  Business input never fails. A record that panics, or has no policy number,
  is reported as a RecordError and the rest of the batch carries on.

EXAMPLE:
  e, err := engine.New(engine.DefaultConfig())
  res := e.DeriveBatch(records, engine.RunOptions{AsOf: engine.DateOf(time.Now())})
  for _, f := range res.Facts { ... }
  parent, ok := res.Links.Parent("0076384A01")

SEE ALSO:
  - status.go, classify.go, derived.go, chain.go: the components
  - book/service.go: persistence and recompute around the engine
*/
package engine

import (
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// RunOptions fixes the clock for a run.
type RunOptions struct {
	// AsOf is "today" for every elapsed-time rule.
	AsOf Date
	// AnalysisYear is the production year being reported. 0 = AsOf year.
	AnalysisYear int
	// IndicatorYears maps a normalized policy number to the earliest year
	// the carrier reported it as new. See FirstIndicatorYears.
	IndicatorYears map[string]int
}

func (o RunOptions) analysisYear(r PolicyRecord) int {
	switch {
	case r.AnalysisYear > 0:
		return r.AnalysisYear
	case o.AnalysisYear > 0:
		return o.AnalysisYear
	default:
		return o.AsOf.Year()
	}
}

// BatchResult is the DeriveBatch output. Facts keep input order and omit
// failed records.
type BatchResult struct {
	Facts     []DerivedFacts `json:"facts"`
	Links     Links          `json:"links"`
	Errors    []RecordError  `json:"errors"`
	Processed int            `json:"processed"`
}

// Engine bundles the classifiers for one configuration.
type Engine struct {
	cfg    Config
	status *StatusClassifier
	types  *PolicyTypeClassifier
	debts  *DebtPrioritizer

	derive func(PolicyRecord, RunOptions) DerivedFacts
}

// New validates cfg and builds an Engine over a private copy of it.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Clone()
	e := &Engine{
		cfg:    cfg,
		status: NewStatusClassifier(cfg),
		types:  NewPolicyTypeClassifier(cfg),
		debts:  NewDebtPrioritizer(cfg),
	}
	e.derive = e.Derive
	return e, nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config { return e.cfg.Clone() }

// AssessDebt runs the DebtPrioritizer.
func (e *Engine) AssessDebt(in DebtInput) Debt { return e.debts.Assess(in) }

// IsPaid checks the derived status against the accepted paid set, falling
// back to the legacy code when no status was derived.
func (e *Engine) IsPaid(status Status, legacy string) bool {
	if status != StatusNone {
		return e.cfg.IsPaidStatus(string(status))
	}
	return e.cfg.IsPaidStatus(legacy)
}

// Derive computes phase-1 facts for one record.
func (e *Engine) Derive(r PolicyRecord, opts RunOptions) DerivedFacts {
	cfg := e.cfg
	ay := opts.analysisYear(r)
	number := strings.TrimSpace(r.PolicyNumber)
	normalized := NormalizePolicyNumber(number)

	status := e.status.Classify(StatusInputFor(r, opts.AsOf))

	annual := ToDomestic(r.NetPremium, r.Currency, cfg.Rates)
	accumulated := ToDomestic(r.AccumulatedPremium, r.Currency, cfg.Rates)

	year := r.appliedYear()
	creditYear := year
	if creditYear == 0 {
		creditYear = ay
	}
	chainYear := year
	if chainYear == 0 && !r.EffectiveDate.IsZero() {
		chainYear = r.EffectiveDate.Year()
	}
	if chainYear == 0 {
		chainYear = ay
	}
	newYear := year
	if newYear == 0 {
		newYear = r.EffectiveDate.Year()
	}

	version := r.Version
	if version <= 0 {
		version = max(0, reissueNumber(normalized))
	}

	cancelled := CancelledFlag(status, r.AccumulatedPremium)
	proportional := ProportionalPremium(annual, r.EffectiveDate, opts.AsOf.AddDays(-cfg.ReferenceLagDays))

	lastPayment := r.LastPaymentDate
	if lastPayment.IsZero() {
		lastPayment = r.ApplicationDate
	}

	return DerivedFacts{
		PolicyNumber:     number,
		NormalizedNumber: normalized,
		Status:           status,

		// ChainRoot groups on the full number minus its reissue suffix, not on
		// Root6, so distinct policies sharing six leading characters stay apart.
		Length:      PolicyNumberLength(number),
		Root6:       Root6(number),
		Suffix:      Suffix2(number),
		ChainRoot:   StripReissueSuffix(normalized),
		IsReissue:   IsReissue(number),
		Version:     version,
		ChainYear:   chainYear,
		CompositeID: CompositeID(number, r.EffectiveDate),

		FirstYearLabel: FirstYearLabel(strings.TrimSpace(r.FirstYearLabel), opts.IndicatorYears[normalized], r.ApplicationDate, r.EffectiveDate, ay),
		MonthName:      MonthName(r.ApplicationDate),
		Quarter:        Quarter(r.ApplicationDate),

		PaidFlag:      PaidFlag(r.ApplicationDate),
		CancelledFlag: cancelled,
		CountsAsNew: CountsAsNew(CountsAsNewInput{
			Line:         r.Line,
			Status:       status,
			Accumulated:  r.AccumulatedPremium,
			Year:         newYear,
			AnalysisYear: ay,
		}),

		AnnualPremiumMXN:      annual,
		AccumulatedPremiumMXN: accumulated,
		Equivalency:           EquivalencyCredit(annual, creditYear, cfg),
		PaidEquivalency:       PaidEquivalencyCredit(annual, r.AccumulatedPremium, creditYear, cancelled == 1, r.ApplicationDate, cfg),
		ProportionalPremium:   proportional,
		Sufficiency:           Sufficiency(accumulated, proportional, r.EffectiveDate),

		Classification: e.types.Classify(ClassifyInput{
			Line:          r.Line,
			EffectiveDate: r.EffectiveDate,
			Paid:          e.IsPaid(status, r.LegacyStatus),
			AnalysisYear:  ay,
			NetPremium:    r.NetPremium,
			Commission:    r.Commission,
		}),

		PendingPayment:    PendingPayment(r.EffectiveDate, r.ApplicationDate, opts.AsOf, cfg.GraceDays),
		YearBoundaryAlert: YearBoundaryAlert(lastPayment),
	}
}

// DeriveBatch runs phase 1 in parallel, then phase 2 over the results.
func (e *Engine) DeriveBatch(records []PolicyRecord, opts RunOptions) BatchResult {
	slots := make([]DerivedFacts, len(records))
	failures := make([]*RecordError, len(records))

	var g errgroup.Group
	g.SetLimit(e.cfg.workers())
	for i := range records {
		g.Go(func() error {
			slots[i], failures[i] = e.safeDerive(records[i], opts)
			return nil
		})
	}
	_ = g.Wait()

	res := BatchResult{Processed: len(records)}
	chainFacts := make([]ChainFact, 0, len(records))
	for i := range records {
		if failures[i] != nil {
			res.Errors = append(res.Errors, *failures[i])
			continue
		}
		res.Facts = append(res.Facts, slots[i])
		chainFacts = append(chainFacts, slots[i].ChainFact())
	}
	res.Links = BuildRenewalChains(chainFacts)
	return res
}

func (e *Engine) safeDerive(r PolicyRecord, opts RunOptions) (facts DerivedFacts, rerr *RecordError) {
	key := strings.TrimSpace(r.PolicyNumber)
	if key == "" {
		return DerivedFacts{}, &RecordError{Key: "", Message: "missing policy number"}
	}
	defer func() {
		if p := recover(); p != nil {
			facts = DerivedFacts{}
			rerr = &RecordError{Key: key, Message: fmt.Sprint(p)}
		}
	}()
	return e.derive(r, opts), nil
}
