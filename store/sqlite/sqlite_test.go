package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/policy-engine/book"
	"github.com/warp/policy-engine/engine"
	"github.com/warp/policy-engine/metrics"
	"github.com/warp/policy-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func record(number string, year int, line engine.LineOfBusiness) engine.PolicyRecord {
	return engine.PolicyRecord{
		PolicyNumber:       number,
		Line:               line,
		Currency:           engine.CurrencyMXN,
		EffectiveDate:      engine.NewDate(year, time.March, 1),
		ApplicationDate:    engine.NewDate(year, time.February, 15),
		NetPremium:         dec("12500.50"),
		AccumulatedPremium: dec("12500.50"),
		Commission:         dec("375.15"),
		ExternalStatus:     "PAID",
		PaymentFrequency:   "ANUAL",
	}
}

func facts(number string, status engine.Status, typ engine.PolicyType) engine.DerivedFacts {
	return engine.DerivedFacts{
		PolicyNumber:     number,
		NormalizedNumber: engine.NormalizePolicyNumber(number),
		Status:           status,
		Classification:   engine.Classification{Type: typ},
		AnnualPremiumMXN: dec("12500.50"),
		Sufficiency:      "-",
	}
}

// =============================================================================
// POLICIES
// =============================================================================

func TestPolicies_RoundTrip(t *testing.T) {
	// GIVEN: A saved record
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SavePolicies(ctx, []engine.PolicyRecord{record(" 0012345 ", 2025, engine.LineLife)}))

	// WHEN: Fetching by the trimmed number
	got, err := store.GetPolicy(ctx, "0012345")
	require.NoError(t, err)
	require.NotNil(t, got)

	// THEN: Inputs survive, facts are not there yet
	assert.Equal(t, "0012345", got.Number())
	assert.Equal(t, engine.LineLife, got.Record.Line)
	assert.True(t, got.Record.NetPremium.Equal(dec("12500.50")))
	assert.True(t, got.Record.EffectiveDate.Equal(engine.NewDate(2025, time.March, 1)))
	assert.Nil(t, got.Facts)
	assert.False(t, got.UpdatedAt.IsZero())

	missing, err := store.GetPolicy(ctx, "999")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSavePolicies_UpsertKeepsFacts(t *testing.T) {
	// GIVEN: A record with derived facts
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SavePolicies(ctx, []engine.PolicyRecord{record("100", 2025, engine.LineLife)}))
	require.NoError(t, store.SaveDerived(ctx, []engine.DerivedFacts{facts("100", engine.StatusPaid, engine.PolicyNew)}))

	// WHEN: The input is re-imported with a new premium
	r := record("100", 2025, engine.LineLife)
	r.NetPremium = dec("15000")
	require.NoError(t, store.SavePolicies(ctx, []engine.PolicyRecord{r}))

	// THEN: Inputs change, facts stay until the next SaveDerived
	got, err := store.GetPolicy(ctx, "100")
	require.NoError(t, err)
	assert.True(t, got.Record.NetPremium.Equal(dec("15000")))
	require.NotNil(t, got.Facts)
	assert.Equal(t, engine.StatusPaid, got.Facts.Status)
	assert.True(t, got.Facts.AnnualPremiumMXN.Equal(dec("12500.50")))
}

func TestListPolicies_Filters(t *testing.T) {
	// GIVEN: Four policies across years, lines and statuses
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SavePolicies(ctx, []engine.PolicyRecord{
		record("400", 2025, engine.LineMedical),
		record("100", 2025, engine.LineLife),
		record("300", 2024, engine.LineLife),
		record("200", 2025, engine.LineLife),
	}))
	require.NoError(t, store.SaveDerived(ctx, []engine.DerivedFacts{
		facts("100", engine.StatusPaid, engine.PolicyNew),
		facts("200", engine.Cancelled(engine.SubtypeNotTaken), engine.PolicyNotApplicable),
		facts("300", engine.StatusPaid, engine.PolicyRenewal),
		facts("400", engine.StatusCancelled, engine.PolicyNotApplicable),
	}))

	numbers := func(f book.Filter) []string {
		ps, err := store.ListPolicies(ctx, f)
		require.NoError(t, err)
		var out []string
		for _, p := range ps {
			out = append(out, p.Number())
		}
		return out
	}

	// THEN: Each filter narrows the book, ordered by number
	assert.Equal(t, []string{"100", "200", "300", "400"}, numbers(book.Filter{}))
	assert.Equal(t, []string{"100", "200", "400"}, numbers(book.Filter{Year: 2025}))
	assert.Equal(t, []string{"100", "200"}, numbers(book.Filter{Year: 2025, Line: engine.LineLife}))
	assert.Equal(t, []string{"200", "400"}, numbers(book.Filter{Status: engine.StatusCancelled}))
	assert.Equal(t, []string{"100", "300"}, numbers(book.Filter{Status: engine.StatusPaid}))
	assert.Equal(t, []string{"300"}, numbers(book.Filter{Type: engine.PolicyRenewal}))
	assert.Empty(t, numbers(book.Filter{Year: 2023}))
}

func TestSaveLinks_ReplacesAll(t *testing.T) {
	// GIVEN: A chain saved once
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SavePolicies(ctx, []engine.PolicyRecord{
		record("17958V00", 2023, engine.LineLife),
		record("17958V01", 2024, engine.LineLife),
		record("17958V02", 2025, engine.LineLife),
	}))
	require.NoError(t, store.SaveLinks(ctx, engine.Links{
		Parents:       map[string]string{"17958V01": "17958V00", "17958V02": "17958V01"},
		ReissueCounts: map[string]int{"17958V00": 1, "17958V01": 1},
	}))

	got, err := store.GetPolicy(ctx, "17958V02")
	require.NoError(t, err)
	assert.Equal(t, "17958V01", got.ParentNumber)

	// WHEN: Links are replaced by a smaller set
	require.NoError(t, store.SaveLinks(ctx, engine.Links{
		Parents:       map[string]string{"17958V01": "17958V00"},
		ReissueCounts: map[string]int{"17958V00": 1},
	}))

	// THEN: Policies absent from the new links are reset
	ps, err := store.ListPolicies(ctx, book.Filter{})
	require.NoError(t, err)
	require.Len(t, ps, 3)
	assert.Equal(t, "", ps[0].ParentNumber)
	assert.Equal(t, 1, ps[0].ReissueCount)
	assert.Equal(t, "17958V00", ps[1].ParentNumber)
	assert.Equal(t, 0, ps[1].ReissueCount)
	assert.Equal(t, "", ps[2].ParentNumber)
	assert.Equal(t, 0, ps[2].ReissueCount)
}

// =============================================================================
// INDICATORS, RUNS, SETTINGS
// =============================================================================

func TestIndicators_UpsertAndPeriods(t *testing.T) {
	// GIVEN: Indicators for two periods, one re-sent
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveIndicators(ctx, []engine.Indicator{
		{Period: "2025-03", PolicyNumber: "200", IsNew: true, FirstYearPremium: dec("1000")},
		{Period: "2025-03", PolicyNumber: "100", IsNew: false},
		{Period: "2025-01", PolicyNumber: "100", IsNew: true, SeniorityDate: engine.NewDate(2020, time.June, 1)},
	}))
	require.NoError(t, store.SaveIndicators(ctx, []engine.Indicator{
		{Period: "2025-03", PolicyNumber: "100", IsNew: true},
	}))

	// WHEN: Listing
	march, err := store.ListIndicators(ctx, "2025-03")
	require.NoError(t, err)
	all, err := store.ListIndicators(ctx, "")
	require.NoError(t, err)
	periods, err := store.ListPeriods(ctx)
	require.NoError(t, err)

	// THEN: The re-sent indicator replaced the first one
	require.Len(t, march, 2)
	assert.Equal(t, "100", march[0].PolicyNumber)
	assert.True(t, march[0].IsNew)
	assert.True(t, march[1].FirstYearPremium.Equal(dec("1000")))
	require.Len(t, all, 3)
	assert.Equal(t, "2025-01", all[0].Period)
	assert.True(t, all[0].SeniorityDate.Equal(engine.NewDate(2020, time.June, 1)))
	assert.Equal(t, []string{"2025-01", "2025-03"}, periods)
}

func TestRuns_NewestFirst(t *testing.T) {
	// GIVEN: Three runs, the second updated after the fact
	store := newStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, store.SaveRun(ctx, book.Run{
			ID:         id,
			Kind:       book.RunRecompute,
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Second),
			Processed:  10,
		}))
	}
	require.NoError(t, store.SaveRun(ctx, book.Run{
		ID:         "run-b",
		Kind:       book.RunRecompute,
		StartedAt:  base.Add(time.Hour),
		FinishedAt: base.Add(time.Hour + time.Minute),
		Processed:  10,
		Failed:     1,
		Errors:     []engine.RecordError{{Key: "X1", Message: "boom"}},
	}))

	// WHEN: Listing with a limit
	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)

	// THEN: Newest first, updates applied
	require.Len(t, runs, 2)
	assert.Equal(t, "run-c", runs[0].ID)
	assert.Equal(t, "run-b", runs[1].ID)
	assert.Equal(t, 1, runs[1].Failed)
	assert.Equal(t, []engine.RecordError{{Key: "X1", Message: "boom"}}, runs[1].Errors)
	assert.True(t, runs[1].StartedAt.Equal(base.Add(time.Hour)))

	all, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSettings(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	empty, err := store.Settings(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	require.NoError(t, store.PutSetting(ctx, "tc_usd", "18.5"))
	require.NoError(t, store.PutSetting(ctx, "tc_usd", "19"))
	require.NoError(t, store.PutSetting(ctx, "dias_gracia_pago", "30"))

	got, err := store.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"tc_usd": "19", "dias_gracia_pago": "30"}, got)
}

func TestReset_KeepsSettings(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SavePolicies(ctx, []engine.PolicyRecord{record("100", 2025, engine.LineLife)}))
	require.NoError(t, store.PutSetting(ctx, "tc_usd", "19"))

	require.NoError(t, store.Reset(ctx))

	ps, err := store.ListPolicies(ctx, book.Filter{})
	require.NoError(t, err)
	assert.Empty(t, ps)
	settings, err := store.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "19", settings["tc_usd"])
}

// =============================================================================
// SERVICE ON SQLITE
// =============================================================================

func TestService_RecomputeIsStable(t *testing.T) {
	// GIVEN: A service over SQLite with an imported chain
	store := newStore(t)
	ctx := context.Background()
	svc := book.NewService(store, engine.DefaultConfig(), metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	svc.Clock = func() time.Time { return time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC) }

	_, err := svc.ImportPolicies(ctx, "book.xlsx", []engine.PolicyRecord{
		record("17958V00", 2024, engine.LineLife),
		record("17958V01", 2025, engine.LineLife),
	}, nil)
	require.NoError(t, err)

	// WHEN: Recomputing twice
	first, err := svc.Recompute(ctx, book.Filter{})
	require.NoError(t, err)
	before, err := store.ListPolicies(ctx, book.Filter{})
	require.NoError(t, err)
	_, err = svc.Recompute(ctx, book.Filter{})
	require.NoError(t, err)
	after, err := store.ListPolicies(ctx, book.Filter{})
	require.NoError(t, err)

	// THEN: Same facts, chain persisted
	assert.Equal(t, 2, first.Processed)
	assert.Empty(t, first.Errors)
	require.Len(t, after, 2)
	for i := range after {
		require.NotNil(t, after[i].Facts)
		assert.Equal(t, before[i].Facts.Status, after[i].Facts.Status)
		assert.Equal(t, before[i].Facts.Classification.Type, after[i].Facts.Classification.Type)
		assert.True(t, before[i].Facts.ProportionalPremium.Equal(after[i].Facts.ProportionalPremium))
	}
	assert.Equal(t, "17958V00", after[1].ParentNumber)

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}
