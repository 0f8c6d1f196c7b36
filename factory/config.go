/*
Package factory builds engine configurations from documents and settings.

PURPOSE:
  Converts JSON or YAML configuration documents into engine.Config values,
  and overlays the key/value settings table on top of a base configuration.
  Thresholds and rates can change without a code change or a restart: the
  service re-reads settings before every recompute.

DOCUMENT SCHEMA (JSON shown, YAML uses the same keys):
  {
    "commission_threshold": 0.021,
    "rates": {"udis": 8.23, "usd": 17.50},
    "grace_days": 30,
    "reference_lag_days": 28,
    "equivalency": {"low": 16000, "low_by_year": {"2024": 15000}, "high": 50000},
    "paid_statuses": ["PAID", "CURRENT", "PAGADA"],
    "urgent_days": 15,
    "critical_days": 30,
    "workers": 0
  }

  Omitted fields keep the defaults from engine.DefaultConfig().

SETTINGS KEYS:
  tc_udis                 Rates.UDIS
  tc_usd                  Rates.USD
  dias_gracia_pago        GraceDays
  umbral_comision_basica  CommissionThreshold
  equivalencia_baja       Equivalency.Low
  equivalencia_alta       Equivalency.High
  dias_referencia         ReferenceLagDays

USAGE:
  cfg, err := factory.LoadConfigFile("engine.yaml")
  settings, _ := repo.Settings(ctx)
  cfg, err = factory.FromSettings(cfg, settings)
  e, err := engine.New(cfg)

SEE ALSO:
  - engine/config.go: Config, DefaultConfig, Validate
  - book/service.go: settings overlay before each run
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/policy-engine/engine"
)

// =============================================================================
// DOCUMENT SCHEMA TYPES
// =============================================================================

// ConfigJSON is the document representation of an engine configuration.
// Pointer fields distinguish "absent" from zero.
type ConfigJSON struct {
	CommissionThreshold *float64         `json:"commission_threshold,omitempty" yaml:"commission_threshold,omitempty"`
	Rates               *RatesJSON       `json:"rates,omitempty" yaml:"rates,omitempty"`
	GraceDays           *int             `json:"grace_days,omitempty" yaml:"grace_days,omitempty"`
	ReferenceLagDays    *int             `json:"reference_lag_days,omitempty" yaml:"reference_lag_days,omitempty"`
	Equivalency         *EquivalencyJSON `json:"equivalency,omitempty" yaml:"equivalency,omitempty"`
	PaidStatuses        []string         `json:"paid_statuses,omitempty" yaml:"paid_statuses,omitempty"`
	UrgentDays          *int             `json:"urgent_days,omitempty" yaml:"urgent_days,omitempty"`
	CriticalDays        *int             `json:"critical_days,omitempty" yaml:"critical_days,omitempty"`
	Workers             *int             `json:"workers,omitempty" yaml:"workers,omitempty"`
}

// RatesJSON represents currency conversion rates.
type RatesJSON struct {
	UDIS *float64 `json:"udis,omitempty" yaml:"udis,omitempty"`
	USD  *float64 `json:"usd,omitempty" yaml:"usd,omitempty"`
}

// EquivalencyJSON represents the equivalency credit breakpoints.
type EquivalencyJSON struct {
	Low       *float64        `json:"low,omitempty" yaml:"low,omitempty"`
	LowByYear map[int]float64 `json:"low_by_year,omitempty" yaml:"low_by_year,omitempty"`
	High      *float64        `json:"high,omitempty" yaml:"high,omitempty"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseConfig parses a JSON document over engine.DefaultConfig().
func ParseConfig(data []byte) (engine.Config, error) {
	var cj ConfigJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return engine.Config{}, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return FromJSON(engine.DefaultConfig(), cj)
}

// ParseConfigYAML parses a YAML document over engine.DefaultConfig().
func ParseConfigYAML(data []byte) (engine.Config, error) {
	var cj ConfigJSON
	if err := yaml.Unmarshal(data, &cj); err != nil {
		return engine.Config{}, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return FromJSON(engine.DefaultConfig(), cj)
}

// LoadConfigFile reads a configuration file, choosing the format by
// extension (.yaml/.yml, anything else is JSON). An empty path returns the
// defaults.
func LoadConfigFile(path string) (engine.Config, error) {
	if path == "" {
		return engine.DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseConfigYAML(data)
	default:
		return ParseConfig(data)
	}
}

// FromJSON overlays the present fields of cj onto base and validates.
func FromJSON(base engine.Config, cj ConfigJSON) (engine.Config, error) {
	cfg := base.Clone()

	if cj.CommissionThreshold != nil {
		cfg.CommissionThreshold = decimal.NewFromFloat(*cj.CommissionThreshold)
	}
	if cj.Rates != nil {
		if cj.Rates.UDIS != nil {
			cfg.Rates.UDIS = decimal.NewFromFloat(*cj.Rates.UDIS)
		}
		if cj.Rates.USD != nil {
			cfg.Rates.USD = decimal.NewFromFloat(*cj.Rates.USD)
		}
	}
	setInt(&cfg.GraceDays, cj.GraceDays)
	setInt(&cfg.ReferenceLagDays, cj.ReferenceLagDays)
	setInt(&cfg.UrgentDays, cj.UrgentDays)
	setInt(&cfg.CriticalDays, cj.CriticalDays)
	setInt(&cfg.Workers, cj.Workers)

	if eq := cj.Equivalency; eq != nil {
		if eq.Low != nil {
			cfg.Equivalency.Low = decimal.NewFromFloat(*eq.Low)
		}
		if eq.High != nil {
			cfg.Equivalency.High = decimal.NewFromFloat(*eq.High)
		}
		if eq.LowByYear != nil {
			cfg.Equivalency.LowByYear = make(map[int]decimal.Decimal, len(eq.LowByYear))
			for year, v := range eq.LowByYear {
				cfg.Equivalency.LowByYear[year] = decimal.NewFromFloat(v)
			}
		}
	}
	if len(cj.PaidStatuses) > 0 {
		cfg.PaidStatuses = append([]string(nil), cj.PaidStatuses...)
	}

	if err := cfg.Validate(); err != nil {
		return engine.Config{}, err
	}
	return cfg, nil
}

// ToJSON converts a Config back to its document form.
func ToJSON(cfg engine.Config) ConfigJSON {
	f := func(d decimal.Decimal) *float64 {
		v := d.InexactFloat64()
		return &v
	}
	i := func(n int) *int { return &n }

	cj := ConfigJSON{
		CommissionThreshold: f(cfg.CommissionThreshold),
		Rates:               &RatesJSON{UDIS: f(cfg.Rates.UDIS), USD: f(cfg.Rates.USD)},
		GraceDays:           i(cfg.GraceDays),
		ReferenceLagDays:    i(cfg.ReferenceLagDays),
		Equivalency: &EquivalencyJSON{
			Low:  f(cfg.Equivalency.Low),
			High: f(cfg.Equivalency.High),
		},
		PaidStatuses: append([]string(nil), cfg.PaidStatuses...),
		UrgentDays:   i(cfg.UrgentDays),
		CriticalDays: i(cfg.CriticalDays),
		Workers:      i(cfg.Workers),
	}
	if len(cfg.Equivalency.LowByYear) > 0 {
		cj.Equivalency.LowByYear = make(map[int]float64, len(cfg.Equivalency.LowByYear))
		for year, v := range cfg.Equivalency.LowByYear {
			cj.Equivalency.LowByYear[year] = v.InexactFloat64()
		}
	}
	return cj
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// =============================================================================
// SETTINGS OVERLAY
// =============================================================================

// Settings keys understood by FromSettings.
const (
	SettingRateUDIS            = "tc_udis"
	SettingRateUSD             = "tc_usd"
	SettingGraceDays           = "dias_gracia_pago"
	SettingCommissionThreshold = "umbral_comision_basica"
	SettingEquivalencyLow      = "equivalencia_baja"
	SettingEquivalencyHigh     = "equivalencia_alta"
	SettingReferenceLagDays    = "dias_referencia"
)

type settingKind int

const (
	decimalSetting settingKind = iota
	daysSetting
)

type settingField struct {
	kind   settingKind
	decSet func(*engine.Config, decimal.Decimal)
	intSet func(*engine.Config, int)
}

var settingFields = map[string]settingField{
	SettingRateUDIS: {kind: decimalSetting, decSet: func(c *engine.Config, v decimal.Decimal) { c.Rates.UDIS = v }},
	SettingRateUSD:  {kind: decimalSetting, decSet: func(c *engine.Config, v decimal.Decimal) { c.Rates.USD = v }},
	SettingCommissionThreshold: {kind: decimalSetting, decSet: func(c *engine.Config, v decimal.Decimal) {
		c.CommissionThreshold = v
	}},
	SettingEquivalencyLow:   {kind: decimalSetting, decSet: func(c *engine.Config, v decimal.Decimal) { c.Equivalency.Low = v }},
	SettingEquivalencyHigh:  {kind: decimalSetting, decSet: func(c *engine.Config, v decimal.Decimal) { c.Equivalency.High = v }},
	SettingGraceDays:        {kind: daysSetting, intSet: func(c *engine.Config, v int) { c.GraceDays = v }},
	SettingReferenceLagDays: {kind: daysSetting, intSet: func(c *engine.Config, v int) { c.ReferenceLagDays = v }},
}

// SettingKeys lists the keys FromSettings understands, sorted.
func SettingKeys() []string {
	keys := make([]string, 0, len(settingFields))
	for k := range settingFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsKnownSetting reports whether key is a recognized settings key.
func IsKnownSetting(key string) bool {
	_, ok := settingFields[key]
	return ok
}

// FromSettings overlays settings-table values onto base. Unknown keys and
// blank values are ignored. A malformed value is a *engine.ConfigError.
func FromSettings(base engine.Config, settings map[string]string) (engine.Config, error) {
	cfg := base.Clone()
	for key, raw := range settings {
		field, ok := settingFields[key]
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			continue
		}
		switch field.kind {
		case decimalSetting:
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return engine.Config{}, &engine.ConfigError{Field: key, Reason: "not a number: " + raw}
			}
			field.decSet(&cfg, v)
		case daysSetting:
			v, err := strconv.Atoi(raw)
			if err != nil {
				return engine.Config{}, &engine.ConfigError{Field: key, Reason: "not a whole number of days: " + raw}
			}
			field.intSet(&cfg, v)
		}
	}
	if err := cfg.Validate(); err != nil {
		return engine.Config{}, err
	}
	return cfg, nil
}

// ValidateSetting checks a single key/value pair against base.
func ValidateSetting(base engine.Config, key, value string) error {
	if !IsKnownSetting(key) {
		return &engine.ConfigError{Field: key, Reason: "unknown setting"}
	}
	_, err := FromSettings(base, map[string]string{key: value})
	return err
}
