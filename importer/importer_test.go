package importer_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/policy-engine/book"
	"github.com/warp/policy-engine/engine"
	"github.com/warp/policy-engine/importer"
)

// workbook builds an in-memory xlsx with one sheet holding rows from A1.
func workbook(t *testing.T, sheet string, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	t.Cleanup(func() { f.Close() })

	if sheet != "" {
		require.NoError(t, f.SetSheetName(f.GetSheetName(0), sheet))
	} else {
		sheet = f.GetSheetName(0)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow(sheet, cell, &r))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// POLICIES
// =============================================================================

func TestReadPolicies_AliasHeadersAndCellFormats(t *testing.T) {
	// GIVEN: A carrier report with a title block and accented headers
	buf := workbook(t, "GENERAL", [][]any{
		{"Reporte de producción"},
		{},
		{"Póliza", "Ramo", "Moneda", "Inicio_Vigencia", "Fecha Aplicación", "Prima Neta", "NETA_TOTAL_ACUMULADO", "Comisión", "Forma de Pago", "Estatus", "Detalle_Estatus"},
		{"0012345", "VIDA", "MN", "2025-01-15", "20/01/2025", "$20,000.00", "20000", "600", "ANUAL", "PAGADA", ""},
		{"", "34", "MN", "2025-01-15"},
		{"G-77", 34, "USD", float64(45672), "", "1,500.5", "abc", "", "MENSUAL", "POLIZA CANCELADA", "NO TOMADA"},
	})

	// WHEN: Reading the named sheet
	got, err := importer.ReadPolicies(buf, "GENERAL")
	require.NoError(t, err)

	// THEN: Rows become canonical records, the numberless row is reported
	assert.Equal(t, "GENERAL", got.Sheet)
	require.Len(t, got.Records, 2)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "row 5", got.Errors[0].Key)
	assert.Equal(t, "missing policy number", got.Errors[0].Message)

	life := got.Records[0]
	assert.Equal(t, "0012345", life.PolicyNumber)
	assert.Equal(t, engine.LineLife, life.Line)
	assert.Equal(t, engine.CurrencyMXN, life.Currency)
	assert.True(t, life.EffectiveDate.Equal(engine.NewDate(2025, time.January, 15)))
	assert.True(t, life.ApplicationDate.Equal(engine.NewDate(2025, time.January, 20)))
	assert.True(t, life.NetPremium.Equal(dec("20000")))
	assert.True(t, life.AccumulatedPremium.Equal(dec("20000")))
	assert.True(t, life.Commission.Equal(dec("600")))
	assert.Equal(t, "ANUAL", life.PaymentFrequency)
	assert.Equal(t, "PAGADA", life.ExternalStatus)

	medical := got.Records[1]
	assert.Equal(t, engine.LineMedical, medical.Line)
	assert.Equal(t, engine.CurrencyUSD, medical.Currency)
	assert.True(t, medical.EffectiveDate.Equal(engine.NewDate(2025, time.January, 15)), "serial date")
	assert.True(t, medical.ApplicationDate.IsZero())
	assert.True(t, medical.NetPremium.Equal(dec("1500.5")))
	assert.True(t, medical.AccumulatedPremium.IsZero(), "malformed amount reads as zero")
	assert.Equal(t, "NO TOMADA", medical.ExternalDetail)
}

func TestReadPolicies_DefaultsToFirstSheet(t *testing.T) {
	buf := workbook(t, "", [][]any{
		{"POLICY NUMBER", "LINE", "NET PREMIUM"},
		{"A1", "LIFE", "100"},
	})

	got, err := importer.ReadPolicies(buf, "")
	require.NoError(t, err)
	require.Len(t, got.Records, 1)
	assert.Equal(t, engine.LineLife, got.Records[0].Line)
}

func TestReadPolicies_Rejections(t *testing.T) {
	t.Run("not a workbook", func(t *testing.T) {
		_, err := importer.ReadPolicies(strings.NewReader("policy,line\n1,11\n"), "")
		require.ErrorIs(t, err, importer.ErrInvalidWorkbook)
		assert.True(t, importer.IsClientError(err))
	})

	t.Run("missing sheet", func(t *testing.T) {
		buf := workbook(t, "GENERAL", [][]any{{"POLIZA"}, {"1"}})
		_, err := importer.ReadPolicies(buf, "DETALLE")
		require.ErrorIs(t, err, importer.ErrInvalidWorkbook)
	})

	t.Run("no header", func(t *testing.T) {
		buf := workbook(t, "", [][]any{{"nombre", "monto"}, {"x", "1"}})
		_, err := importer.ReadPolicies(buf, "")
		require.ErrorIs(t, err, importer.ErrHeaderNotFound)
		assert.True(t, importer.IsClientError(err))
	})
}

// =============================================================================
// INDICATORS
// =============================================================================

func TestReadIndicators(t *testing.T) {
	// GIVEN: Indicators with flag, cycle text and per-row periods
	buf := workbook(t, "DETALLE", [][]any{
		{"POLIZA", "PERIODO", "AGENTE", "NUEVA_POLIZA", "CICLO", "PRIMA PRIMER AÑO", "ASEGURADOS", "FECHA ANTIGÜEDAD", "RECONOCE ANTIGÜEDAD"},
		{"100", "", "A-1", "1", "", "12000", "1", "", ""},
		{"200", "2025-02", "A-1", "", "CY SUBSECUENTE", "", "", "", ""},
		{"300", "", "A-2", "", "CY ANUAL", "8,000", "3", "2025-03-01", "NO"},
		{"", "", "A-2"},
	})

	// WHEN: Reading with March as the default period
	got, err := importer.ReadIndicators(buf, "DETALLE", "2025-03")
	require.NoError(t, err)

	// THEN: Flags, cycles and periods resolve
	require.Len(t, got.Indicators, 3)
	require.Len(t, got.Errors, 1)

	assert.Equal(t, "2025-03", got.Indicators[0].Period)
	assert.True(t, got.Indicators[0].IsNew)
	assert.True(t, got.Indicators[0].FirstYearPremium.Equal(dec("12000")))

	assert.Equal(t, "2025-02", got.Indicators[1].Period)
	assert.False(t, got.Indicators[1].IsNew)
	assert.Equal(t, "CY SUBSECUENTE", got.Indicators[1].CarrierCycle)

	third := got.Indicators[2]
	assert.True(t, third.IsNew)
	assert.Equal(t, 3, third.InsuredCount)
	assert.Equal(t, "A-2", third.AgentCode)
	assert.True(t, third.SeniorityDate.Equal(engine.NewDate(2025, time.March, 1)))
	assert.False(t, third.SeniorityRecognized)
}

func TestReadIndicators_MissingPeriod(t *testing.T) {
	buf := workbook(t, "", [][]any{
		{"POLIZA", "CICLO"},
		{"100", "CY ANUAL"},
	})

	got, err := importer.ReadIndicators(buf, "", "")
	require.NoError(t, err)
	assert.Empty(t, got.Indicators)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "missing period", got.Errors[0].Message)
}

// =============================================================================
// EXPORT
// =============================================================================

func TestWritePolicies_ReimportsInputs(t *testing.T) {
	// GIVEN: A derived policy and one without facts
	policies := []book.StoredPolicy{
		{
			Record: engine.PolicyRecord{
				PolicyNumber:       "17958V01",
				Line:               engine.LineLife,
				Currency:           engine.CurrencyMXN,
				EffectiveDate:      engine.NewDate(2025, time.January, 15),
				ApplicationDate:    engine.NewDate(2025, time.February, 1),
				NetPremium:         dec("12500.50"),
				AccumulatedPremium: dec("12500.50"),
				Commission:         dec("375"),
				PaymentFrequency:   "ANUAL",
			},
			Facts: &engine.DerivedFacts{
				PolicyNumber:   "17958V01",
				Status:         engine.StatusPaid,
				Classification: engine.Classification{Type: engine.PolicyRenewal},
			},
			ParentNumber: "17958V00",
		},
		{Record: engine.PolicyRecord{PolicyNumber: "999", Line: engine.LineMedical}},
	}

	// WHEN: Exporting and reading back
	var buf bytes.Buffer
	require.NoError(t, importer.WritePolicies(&buf, policies))
	got, err := importer.ReadPolicies(&buf, importer.ExportSheet)
	require.NoError(t, err)

	// THEN: Input columns survive the round trip
	require.Len(t, got.Records, 2)
	assert.Empty(t, got.Errors)
	first := got.Records[0]
	assert.Equal(t, "17958V01", first.PolicyNumber)
	assert.Equal(t, engine.LineLife, first.Line)
	assert.True(t, first.EffectiveDate.Equal(engine.NewDate(2025, time.January, 15)))
	assert.True(t, first.ApplicationDate.Equal(engine.NewDate(2025, time.February, 1)))
	assert.True(t, first.NetPremium.Equal(dec("12500.5")))
	assert.True(t, first.Commission.Equal(dec("375")))
	assert.Equal(t, "PAID", first.ExternalStatus)
	assert.Equal(t, engine.LineMedical, got.Records[1].Line)
}
