// Package metrics exposes Prometheus instrumentation for the policy book.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for recompute, import and reconciliation.
type Metrics struct {
	// Records derived successfully per run kind
	RecordsDerived *prometheus.CounterVec

	// Records that failed derivation (missing number, panic)
	RecordErrors prometheus.Counter

	// Wall time of a full Recompute
	RecomputeLatency prometheus.Histogram

	// Reconciliation items by outcome
	ReconcileOutcome *prometheus.CounterVec

	// Rows read by the importer, by kind (policies, indicators) and result
	ImportedRows *prometheus.CounterVec
}

// New registers all metrics on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RecordsDerived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policy_engine_records_derived_total",
			Help: "Total policy records derived by run kind",
		}, []string{"kind"}),

		RecordErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "policy_engine_record_errors_total",
			Help: "Total policy records that failed derivation",
		}),

		RecomputeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "policy_engine_recompute_duration_seconds",
			Help:    "Duration of a full rule recompute including persistence",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		ReconcileOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policy_engine_reconciliation_outcomes_total",
			Help: "Reconciliation items by outcome",
		}, []string{"outcome"}),

		ImportedRows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policy_engine_imported_rows_total",
			Help: "Workbook rows read by kind and result",
		}, []string{"kind", "result"}), // result: "ok", "rejected"
	}
}

// AddDerived records n successfully derived records.
func (m *Metrics) AddDerived(kind string, n int) {
	if m != nil && n > 0 {
		m.RecordsDerived.WithLabelValues(kind).Add(float64(n))
	}
}

// AddRecordErrors records n failed records.
func (m *Metrics) AddRecordErrors(n int) {
	if m != nil && n > 0 {
		m.RecordErrors.Add(float64(n))
	}
}

// ObserveRecompute records the duration of a recompute.
func (m *Metrics) ObserveRecompute(d time.Duration) {
	if m != nil {
		m.RecomputeLatency.Observe(d.Seconds())
	}
}

// IncrementOutcome records one reconciliation outcome.
func (m *Metrics) IncrementOutcome(outcome string) {
	if m != nil {
		m.ReconcileOutcome.WithLabelValues(outcome).Inc()
	}
}

// AddImported records imported and rejected rows for kind.
func (m *Metrics) AddImported(kind string, ok, rejected int) {
	if m == nil {
		return
	}
	if ok > 0 {
		m.ImportedRows.WithLabelValues(kind, "ok").Add(float64(ok))
	}
	if rejected > 0 {
		m.ImportedRows.WithLabelValues(kind, "rejected").Add(float64(rejected))
	}
}
