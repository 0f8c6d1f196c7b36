package engine

import (
	"runtime"
	"strconv"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONFIG - Read-only thresholds and rates injected into the engine
// =============================================================================

// Config holds every tunable the rules consume. The engine copies it on
// construction; changing a Config after New has no effect on that Engine.
type Config struct {
	// CommissionThreshold is the minimum commission/premium ratio for the
	// Life BASIC tier.
	CommissionThreshold decimal.Decimal

	Rates Rates

	// GraceDays is how long an unpaid policy stays pending before it is
	// considered lapsed or overdue.
	GraceDays int

	// ReferenceLagDays moves the proportional-premium reference date back
	// from the as-of date.
	ReferenceLagDays int

	Equivalency EquivalencyThresholds

	// PaidStatuses is the accepted set for the "is paid" determination.
	// Compared accent- and case-insensitively.
	PaidStatuses []string

	// Collections priority boundaries in days overdue.
	UrgentDays   int
	CriticalDays int

	// Workers bounds phase-1 parallelism in DeriveBatch. 0 = NumCPU.
	Workers int
}

// Rates converts foreign premiums to domestic currency.
type Rates struct {
	UDIS decimal.Decimal
	USD  decimal.Decimal
}

// EquivalencyThresholds are the premium breakpoints for equivalency credit.
type EquivalencyThresholds struct {
	Low       decimal.Decimal
	LowByYear map[int]decimal.Decimal
	High      decimal.Decimal
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CommissionThreshold: decimal.RequireFromString("0.021"),
		Rates: Rates{
			UDIS: decimal.RequireFromString("8.23"),
			USD:  decimal.RequireFromString("17.50"),
		},
		GraceDays:        30,
		ReferenceLagDays: 28,
		Equivalency: EquivalencyThresholds{
			Low:       decimal.NewFromInt(16000),
			LowByYear: map[int]decimal.Decimal{2024: decimal.NewFromInt(15000)},
			High:      decimal.NewFromInt(50000),
		},
		PaidStatuses: []string{
			string(StatusPaid), string(StatusCurrent),
			"PAGADA", "POLIZA PAGADA", "AL CORRIENTE", "POLIZA AL CORRIENTE",
		},
		UrgentDays:   15,
		CriticalDays: 30,
	}
}

// Clone returns a deep copy so callers can derive variants safely.
func (c Config) Clone() Config {
	out := c
	out.Equivalency.LowByYear = make(map[int]decimal.Decimal, len(c.Equivalency.LowByYear))
	for y, v := range c.Equivalency.LowByYear {
		out.Equivalency.LowByYear[y] = v
	}
	out.PaidStatuses = append([]string(nil), c.PaidStatuses...)
	return out
}

// Validate checks ranges. It returns a *ConfigError wrapping ErrInvalidConfig.
func (c Config) Validate() error {
	switch {
	case !c.CommissionThreshold.IsPositive() || c.CommissionThreshold.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return &ConfigError{Field: "commission_threshold", Reason: "must be between 0 and 1"}
	case !c.Rates.UDIS.IsPositive():
		return &ConfigError{Field: "rates.udis", Reason: "must be positive"}
	case !c.Rates.USD.IsPositive():
		return &ConfigError{Field: "rates.usd", Reason: "must be positive"}
	case c.GraceDays < 0:
		return &ConfigError{Field: "grace_days", Reason: "must not be negative"}
	case c.ReferenceLagDays < 0:
		return &ConfigError{Field: "reference_lag_days", Reason: "must not be negative"}
	case !c.Equivalency.Low.IsPositive():
		return &ConfigError{Field: "equivalency.low", Reason: "must be positive"}
	case c.Equivalency.High.LessThanOrEqual(c.Equivalency.Low):
		return &ConfigError{Field: "equivalency.high", Reason: "must exceed the low threshold"}
	case c.UrgentDays < 0 || c.CriticalDays <= c.UrgentDays:
		return &ConfigError{Field: "critical_days", Reason: "must exceed urgent_days"}
	case c.Workers < 0:
		return &ConfigError{Field: "workers", Reason: "must not be negative"}
	}
	for year, low := range c.Equivalency.LowByYear {
		if !low.IsPositive() || low.GreaterThanOrEqual(c.Equivalency.High) {
			return &ConfigError{Field: "equivalency.low_by_year", Reason: "year " + strconv.Itoa(year) + " out of range"}
		}
	}
	return nil
}

func (c Config) lowThreshold(year int) decimal.Decimal {
	if v, ok := c.Equivalency.LowByYear[year]; ok {
		return v
	}
	return c.Equivalency.Low
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// IsPaidStatus reports whether s is in the accepted paid set.
func (c Config) IsPaidStatus(s string) bool {
	s = foldUpper(s)
	if s == "" {
		return false
	}
	for _, p := range c.PaidStatuses {
		if foldUpper(p) == s {
			return true
		}
	}
	return false
}
