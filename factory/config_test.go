package factory_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/policy-engine/engine"
	"github.com/warp/policy-engine/factory"
)

func TestParseConfig_JSONOverridesDefaults(t *testing.T) {
	// GIVEN: A document overriding a few fields
	doc := `{
		"commission_threshold": 0.03,
		"rates": {"usd": 18.25},
		"grace_days": 45,
		"equivalency": {"low_by_year": {"2023": 14000}}
	}`

	// WHEN: Parsing
	cfg, err := factory.ParseConfig([]byte(doc))
	require.NoError(t, err)

	// THEN: Overrides applied, the rest left at defaults
	def := engine.DefaultConfig()
	assert.Equal(t, "0.03", cfg.CommissionThreshold.String())
	assert.Equal(t, "18.25", cfg.Rates.USD.String())
	assert.True(t, def.Rates.UDIS.Equal(cfg.Rates.UDIS))
	assert.Equal(t, 45, cfg.GraceDays)
	assert.Equal(t, def.ReferenceLagDays, cfg.ReferenceLagDays)
	assert.Equal(t, "14000", cfg.Equivalency.LowByYear[2023].String())
	assert.NotContains(t, cfg.Equivalency.LowByYear, 2024)
}

func TestParseConfig_YAML(t *testing.T) {
	doc := `
commission_threshold: 0.025
rates:
  udis: 8.5
equivalency:
  low: 17000
  high: 60000
paid_statuses: [PAID, PAGADA]
urgent_days: 10
critical_days: 20
`
	cfg, err := factory.ParseConfigYAML([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "8.5", cfg.Rates.UDIS.String())
	assert.Equal(t, "17000", cfg.Equivalency.Low.String())
	assert.Equal(t, "60000", cfg.Equivalency.High.String())
	assert.Equal(t, []string{"PAID", "PAGADA"}, cfg.PaidStatuses)
	assert.Equal(t, 10, cfg.UrgentDays)
	assert.Equal(t, 20, cfg.CriticalDays)
}

func TestParseConfig_Invalid(t *testing.T) {
	_, err := factory.ParseConfig([]byte(`{not json`))
	assert.Error(t, err)

	_, err = factory.ParseConfig([]byte(`{"rates": {"udis": -1}}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrInvalidConfig))
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "engine.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("grace_days: 20\n"), 0o600))
	jsonPath := filepath.Join(dir, "engine.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"grace_days": 25}`), 0o600))

	cfg, err := factory.LoadConfigFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.GraceDays)

	cfg, err = factory.LoadConfigFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.GraceDays)

	cfg, err = factory.LoadConfigFile("")
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultConfig().GraceDays, cfg.GraceDays)

	_, err = factory.LoadConfigFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestToJSON_RoundTripsThroughFromJSON(t *testing.T) {
	cfg := engine.DefaultConfig()

	back, err := factory.FromJSON(engine.DefaultConfig(), factory.ToJSON(cfg))
	require.NoError(t, err)

	assert.True(t, cfg.CommissionThreshold.Equal(back.CommissionThreshold))
	assert.True(t, cfg.Equivalency.LowByYear[2024].Equal(back.Equivalency.LowByYear[2024]))
	assert.Equal(t, cfg.PaidStatuses, back.PaidStatuses)
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestFromSettings_Overlay(t *testing.T) {
	// GIVEN: Settings rows as stored in the settings table
	settings := map[string]string{
		"tc_udis":                "8.40",
		"tc_usd":                 "19",
		"dias_gracia_pago":       "20",
		"umbral_comision_basica": "0.025",
		"equivalencia_baja":      "18000",
		"equivalencia_alta":      "55000",
		"dias_referencia":        "30",
		"unrelated":              "ignored",
		"tc_eur":                 "",
	}

	// WHEN: Overlaying on the defaults
	cfg, err := factory.FromSettings(engine.DefaultConfig(), settings)
	require.NoError(t, err)

	// THEN: Every known key applied
	assert.Equal(t, "8.4", cfg.Rates.UDIS.String())
	assert.Equal(t, "19", cfg.Rates.USD.String())
	assert.Equal(t, 20, cfg.GraceDays)
	assert.Equal(t, "0.025", cfg.CommissionThreshold.String())
	assert.Equal(t, "18000", cfg.Equivalency.Low.String())
	assert.Equal(t, "55000", cfg.Equivalency.High.String())
	assert.Equal(t, 30, cfg.ReferenceLagDays)
}

func TestFromSettings_DoesNotMutateBase(t *testing.T) {
	base := engine.DefaultConfig()
	_, err := factory.FromSettings(base, map[string]string{"dias_gracia_pago": "5"})
	require.NoError(t, err)
	assert.Equal(t, 30, base.GraceDays)
}

func TestFromSettings_Malformed(t *testing.T) {
	_, err := factory.FromSettings(engine.DefaultConfig(), map[string]string{"tc_usd": "abc"})
	require.Error(t, err)
	var ce *engine.ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "tc_usd", ce.Field)

	_, err = factory.FromSettings(engine.DefaultConfig(), map[string]string{"dias_gracia_pago": "2.5"})
	assert.True(t, engine.IsClientError(err))

	_, err = factory.FromSettings(engine.DefaultConfig(), map[string]string{"equivalencia_alta": "100"})
	assert.True(t, engine.IsClientError(err), "high below low fails validation")
}

func TestValidateSetting(t *testing.T) {
	assert.NoError(t, factory.ValidateSetting(engine.DefaultConfig(), "tc_usd", "18"))
	assert.Error(t, factory.ValidateSetting(engine.DefaultConfig(), "nope", "1"))
	assert.Error(t, factory.ValidateSetting(engine.DefaultConfig(), "tc_usd", "x"))

	assert.Contains(t, factory.SettingKeys(), "dias_referencia")
	assert.Len(t, factory.SettingKeys(), 7)
}
