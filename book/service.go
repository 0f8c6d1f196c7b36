/*
Package book runs the rule engine over the persisted policy book.

PURPOSE:
  Wraps the stateless engine with persistence: imports and single-record
  upserts store the inputs and derive their facts, Recompute re-derives any
  subset of the book, and the collections and reconciliation views read the
  classified records back.

RECOMPUTE FLOW:
  1. Load settings and overlay them on the base config (factory.FromSettings)
  2. List the selected policies
  3. Phase 1: engine.DeriveBatch (parallel, per-record failures collected)
  4. SaveDerived (facts replaced wholesale)
  5. Phase 2 over the WHOLE book: BuildRenewalChains -> SaveLinks
  6. Record a Run with a uuid id

  Runs that write facts are serialized by a mutex so two recomputes never
  interleave their chain rebuilds. Re-running with unchanged inputs and the
  same clock stores byte-identical facts.

SEE ALSO:
  - store.go: Repository
  - engine/engine.go: DeriveBatch
  - api/handlers.go: HTTP surface
*/
package book

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/policy-engine/engine"
	"github.com/warp/policy-engine/factory"
	"github.com/warp/policy-engine/metrics"
)

// Service holds the dependencies of every book operation.
type Service struct {
	Repo    Repository
	Metrics *metrics.Metrics
	Logger  zerolog.Logger

	// Base is the configuration settings are overlaid on.
	Base engine.Config

	// Clock is "now" for as-of dates and run timestamps.
	Clock func() time.Time

	// AnalysisYear pins the production year. 0 = the clock's year.
	AnalysisYear int

	mu sync.Mutex
}

// NewService creates a service with the wall clock.
func NewService(repo Repository, base engine.Config, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		Repo:    repo,
		Metrics: m,
		Logger:  logger,
		Base:    base,
		Clock:   time.Now,
	}
}

// RecomputeResult summarizes one derivation run.
type RecomputeResult struct {
	RunID     string               `json:"run_id"`
	Processed int                  `json:"processed"`
	Updated   int                  `json:"updated"`
	Errors    []engine.RecordError `json:"errors"`
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// EffectiveConfig is Base with the settings table applied.
func (s *Service) EffectiveConfig(ctx context.Context) (engine.Config, error) {
	settings, err := s.Repo.Settings(ctx)
	if err != nil {
		return engine.Config{}, fmt.Errorf("failed to load settings: %w", err)
	}
	return factory.FromSettings(s.Base, settings)
}

func (s *Service) newEngine(ctx context.Context) (*engine.Engine, error) {
	cfg, err := s.EffectiveConfig(ctx)
	if err != nil {
		return nil, err
	}
	return engine.New(cfg)
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock()
}

// runOptions fixes the clock and loads the carrier's first-year history.
func (s *Service) runOptions(ctx context.Context) (engine.RunOptions, error) {
	indicators, err := s.Repo.ListIndicators(ctx, "")
	if err != nil {
		return engine.RunOptions{}, fmt.Errorf("failed to list indicators: %w", err)
	}
	return engine.RunOptions{
		AsOf:           engine.DateOf(s.now()),
		AnalysisYear:   s.AnalysisYear,
		IndicatorYears: engine.FirstIndicatorYears(indicators),
	}, nil
}

// Settings returns the stored settings rows.
func (s *Service) Settings(ctx context.Context) (map[string]string, error) {
	return s.Repo.Settings(ctx)
}

// PutSetting validates the value against the current settings and stores it.
// It takes effect on the next derivation.
func (s *Service) PutSetting(ctx context.Context, key, value string) error {
	if err := factory.ValidateSetting(s.Base, key, value); err != nil {
		return err
	}
	settings, err := s.Repo.Settings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if settings == nil {
		settings = make(map[string]string)
	}
	settings[key] = value
	if _, err := factory.FromSettings(s.Base, settings); err != nil {
		return err
	}
	if err := s.Repo.PutSetting(ctx, key, strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("failed to save setting: %w", err)
	}
	s.Logger.Info().Str("key", key).Str("value", value).Msg("setting updated")
	return nil
}

// =============================================================================
// DERIVATION
// =============================================================================

// Recompute re-derives every policy matching filter and rebuilds the
// renewal chains over the whole book.
func (s *Service) Recompute(ctx context.Context, filter Filter) (RecomputeResult, error) {
	policies, err := s.Repo.ListPolicies(ctx, filter)
	if err != nil {
		return RecomputeResult{}, fmt.Errorf("failed to list policies: %w", err)
	}
	records := make([]engine.PolicyRecord, len(policies))
	for i, p := range policies {
		records[i] = p.Record
	}
	return s.derive(ctx, RunRecompute, "", records, nil, nil)
}

// ImportPolicies stores records read from source and derives them. Row
// errors from the reader are kept on the run for audit.
func (s *Service) ImportPolicies(ctx context.Context, source string, records []engine.PolicyRecord, rowErrors []engine.RecordError) (RecomputeResult, error) {
	kept := make([]engine.PolicyRecord, 0, len(records))
	for _, r := range records {
		if strings.TrimSpace(r.PolicyNumber) == "" {
			rowErrors = append(rowErrors, engine.RecordError{Message: "missing policy number"})
			continue
		}
		kept = append(kept, r)
	}
	s.Metrics.AddImported("policies", len(kept), len(rowErrors))

	// Every row is stored, including ones that fail derivation, so the
	// input can be corrected and recomputed later.
	saveAll := func(engine.BatchResult) error {
		if err := s.Repo.SavePolicies(ctx, kept); err != nil {
			return fmt.Errorf("failed to save policies: %w", err)
		}
		return nil
	}
	return s.derive(ctx, RunImportPolicies, source, kept, rowErrors, saveAll)
}

// UpsertPolicy derives a single record and stores it only when derivation
// succeeds, so a failing input never replaces the stored one.
func (s *Service) UpsertPolicy(ctx context.Context, record engine.PolicyRecord) (*StoredPolicy, error) {
	number := strings.TrimSpace(record.PolicyNumber)
	if number == "" {
		return nil, fmt.Errorf("%w: policy number is required", ErrInvalidInput)
	}
	saveIfDerived := func(batch engine.BatchResult) error {
		if len(batch.Errors) > 0 {
			return &batch.Errors[0]
		}
		if err := s.Repo.SavePolicies(ctx, []engine.PolicyRecord{record}); err != nil {
			return fmt.Errorf("failed to save policy: %w", err)
		}
		return nil
	}
	if _, err := s.derive(ctx, RunUpsert, "api", []engine.PolicyRecord{record}, nil, saveIfDerived); err != nil {
		return nil, err
	}
	return s.Policy(ctx, number)
}

// derive runs the engine over records and persists the facts, the rebuilt
// chains and a Run. save, when set, stores the inputs after derivation and
// before the facts; an error from it aborts the run.
func (s *Service) derive(ctx context.Context, kind RunKind, source string, records []engine.PolicyRecord, carried []engine.RecordError, save func(engine.BatchResult) error) (RecomputeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := s.now()
	eng, err := s.newEngine(ctx)
	if err != nil {
		return RecomputeResult{}, err
	}
	opts, err := s.runOptions(ctx)
	if err != nil {
		return RecomputeResult{}, err
	}

	batch := eng.DeriveBatch(records, opts)
	if save != nil {
		if err := save(batch); err != nil {
			return RecomputeResult{}, err
		}
	}
	if err := s.Repo.SaveDerived(ctx, batch.Facts); err != nil {
		return RecomputeResult{}, fmt.Errorf("failed to save derived facts: %w", err)
	}
	if err := s.rebuildChains(ctx); err != nil {
		return RecomputeResult{}, err
	}

	errs := append(append([]engine.RecordError{}, carried...), batch.Errors...)
	res := RecomputeResult{
		RunID:     uuid.NewString(),
		Processed: batch.Processed,
		Updated:   len(batch.Facts),
		Errors:    errs,
	}

	run := Run{
		ID:         res.RunID,
		Kind:       kind,
		Source:     source,
		StartedAt:  started,
		FinishedAt: s.now(),
		Processed:  res.Processed,
		Updated:    res.Updated,
		Failed:     len(errs),
		Errors:     errs,
	}
	if err := s.Repo.SaveRun(ctx, run); err != nil {
		return RecomputeResult{}, fmt.Errorf("failed to save run: %w", err)
	}

	took := run.FinishedAt.Sub(run.StartedAt)
	s.Metrics.AddDerived(string(kind), res.Updated)
	s.Metrics.AddRecordErrors(len(batch.Errors))
	if kind == RunRecompute {
		s.Metrics.ObserveRecompute(took)
	}

	for _, e := range batch.Errors {
		s.Logger.Warn().Str("run_id", res.RunID).Str("policy", e.Key).Str("reason", e.Message).Msg("record skipped")
	}
	s.Logger.Info().
		Str("run_id", res.RunID).
		Str("kind", string(kind)).
		Int("processed", res.Processed).
		Int("updated", res.Updated).
		Int("failed", len(errs)).
		Dur("took", took).
		Msg("derivation finished")

	return res, nil
}

// rebuildChains links every classified policy in the book.
func (s *Service) rebuildChains(ctx context.Context) error {
	all, err := s.Repo.ListPolicies(ctx, Filter{})
	if err != nil {
		return fmt.Errorf("failed to list policies: %w", err)
	}
	facts := make([]engine.ChainFact, 0, len(all))
	for _, p := range all {
		if p.Facts != nil {
			facts = append(facts, p.Facts.ChainFact())
		}
	}
	if err := s.Repo.SaveLinks(ctx, engine.BuildRenewalChains(facts)); err != nil {
		return fmt.Errorf("failed to save renewal links: %w", err)
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Policies lists the book.
func (s *Service) Policies(ctx context.Context, filter Filter) ([]StoredPolicy, error) {
	return s.Repo.ListPolicies(ctx, filter)
}

// Policy returns one policy or ErrPolicyNotFound. Leading zeros are ignored
// when the exact number is unknown.
func (s *Service) Policy(ctx context.Context, number string) (*StoredPolicy, error) {
	number = strings.TrimSpace(number)
	p, err := s.Repo.GetPolicy(ctx, number)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}

	normalized := engine.NormalizePolicyNumber(number)
	all, err := s.Repo.ListPolicies(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	for i := range all {
		if engine.NormalizePolicyNumber(all[i].Number()) == normalized {
			return &all[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, number)
}

// Runs returns recent runs, newest first.
func (s *Service) Runs(ctx context.Context, limit int) ([]Run, error) {
	return s.Repo.ListRuns(ctx, limit)
}

// =============================================================================
// COLLECTIONS
// =============================================================================

// CollectionsReport is the prioritized debt list plus totals. The summary
// always covers every matching policy; Debts honours the priority filter.
type CollectionsReport struct {
	AsOf    engine.Date        `json:"as_of"`
	Debts   []engine.Debt      `json:"debts"`
	Summary engine.DebtSummary `json:"summary"`
}

// Collections assesses every classified policy matching filter.
func (s *Service) Collections(ctx context.Context, filter Filter, priority engine.Priority) (CollectionsReport, error) {
	eng, err := s.newEngine(ctx)
	if err != nil {
		return CollectionsReport{}, err
	}
	policies, err := s.Repo.ListPolicies(ctx, filter)
	if err != nil {
		return CollectionsReport{}, fmt.Errorf("failed to list policies: %w", err)
	}

	today := engine.DateOf(s.now())
	all := make([]engine.Debt, 0, len(policies))
	for _, p := range policies {
		if p.Facts == nil {
			continue
		}
		all = append(all, eng.AssessDebt(engine.DebtInputFor(p.Record, *p.Facts, today)))
	}
	engine.SortDebts(all)

	report := CollectionsReport{AsOf: today, Summary: engine.SummarizeDebts(all), Debts: all}
	if priority != "" {
		report.Debts = make([]engine.Debt, 0)
		for _, d := range all {
			if d.Priority == priority {
				report.Debts = append(report.Debts, d)
			}
		}
	}
	return report, nil
}

// =============================================================================
// CARRIER INDICATORS & RECONCILIATION
// =============================================================================

// IndicatorImportResult summarizes an indicator import.
type IndicatorImportResult struct {
	RunID    string               `json:"run_id"`
	Imported int                  `json:"imported"`
	Errors   []engine.RecordError `json:"errors"`
}

// ImportIndicators stores carrier indicators. Indicators without a policy
// number or period are rejected.
func (s *Service) ImportIndicators(ctx context.Context, source string, indicators []engine.Indicator, rowErrors []engine.RecordError) (IndicatorImportResult, error) {
	started := s.now()
	errs := append([]engine.RecordError{}, rowErrors...)
	kept := make([]engine.Indicator, 0, len(indicators))
	for _, ind := range indicators {
		switch {
		case strings.TrimSpace(ind.PolicyNumber) == "":
			errs = append(errs, engine.RecordError{Message: "missing policy number"})
		case strings.TrimSpace(ind.Period) == "":
			errs = append(errs, engine.RecordError{Key: ind.PolicyNumber, Message: "missing period"})
		default:
			kept = append(kept, ind)
		}
	}
	s.Metrics.AddImported("indicators", len(kept), len(errs))

	if err := s.Repo.SaveIndicators(ctx, kept); err != nil {
		return IndicatorImportResult{}, fmt.Errorf("failed to save indicators: %w", err)
	}

	res := IndicatorImportResult{RunID: uuid.NewString(), Imported: len(kept), Errors: errs}
	run := Run{
		ID:         res.RunID,
		Kind:       RunImportIndicators,
		Source:     source,
		StartedAt:  started,
		FinishedAt: s.now(),
		Processed:  len(indicators) + len(rowErrors),
		Updated:    len(kept),
		Failed:     len(errs),
		Errors:     errs,
	}
	if err := s.Repo.SaveRun(ctx, run); err != nil {
		return IndicatorImportResult{}, fmt.Errorf("failed to save run: %w", err)
	}

	s.Logger.Info().Str("run_id", res.RunID).Str("source", source).Int("imported", res.Imported).Int("rejected", len(errs)).Msg("indicators imported")
	return res, nil
}

// Periods lists the indicator periods on file.
func (s *Service) Periods(ctx context.Context) ([]string, error) {
	return s.Repo.ListPeriods(ctx)
}

// Reconcile matches the carrier indicators of period ("" = all) against the
// agency's classified book.
func (s *Service) Reconcile(ctx context.Context, period string) (engine.Reconciliation, error) {
	eng, err := s.newEngine(ctx)
	if err != nil {
		return engine.Reconciliation{}, err
	}
	indicators, err := s.Repo.ListIndicators(ctx, strings.TrimSpace(period))
	if err != nil {
		return engine.Reconciliation{}, fmt.Errorf("failed to list indicators: %w", err)
	}
	policies, err := s.Repo.ListPolicies(ctx, Filter{})
	if err != nil {
		return engine.Reconciliation{}, fmt.Errorf("failed to list policies: %w", err)
	}

	internal := make([]engine.InternalPolicy, 0, len(policies))
	for _, p := range policies {
		ip := engine.InternalPolicy{
			PolicyNumber:  p.Number(),
			Line:          p.Record.Line,
			Type:          engine.PolicyNotApplicable,
			EffectiveDate: p.Record.EffectiveDate,
		}
		if p.Facts != nil {
			ip.Type = p.Facts.Classification.Type
			ip.Paid = eng.IsPaid(p.Facts.Status, p.Record.LegacyStatus)
		}
		internal = append(internal, ip)
	}

	res := engine.NewReconciliationMatcher(internal).Reconcile(indicators)
	for _, it := range res.Items {
		s.Metrics.IncrementOutcome(string(it.Outcome))
	}
	return res, nil
}
