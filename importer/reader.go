/*
reader.go - Spreadsheet import boundary

PURPOSE:
  Turns carrier and agency workbooks into canonical engine inputs. Column
  names vary between report versions and languages, so headers are matched
  through an alias table after folding (accents stripped, upper-cased,
  underscores read as spaces).

HEADER DISCOVERY:
  Reports often carry a title block above the table. The header row is the
  first of the top 15 rows that contains a policy-number alias.

CELL PARSING:
  Dates:   ISO (2025-01-15), dd/mm/yyyy, or an Excel serial number
  Numbers: "$12,500.50" style; anything unparsable reads as zero
  Rows without a policy number are reported, never imported.

SEE ALSO:
  - writer.go: export of the derived book
  - engine/types.go: PolicyRecord
  - engine/reconcile.go: Indicator
*/
package importer

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/policy-engine/engine"
)

// headerScanRows bounds the search for the header row.
const headerScanRows = 15

var (
	// ErrInvalidWorkbook is returned when the upload cannot be read as xlsx.
	ErrInvalidWorkbook = errors.New("invalid workbook")

	// ErrHeaderNotFound is returned when no header row names a policy column.
	ErrHeaderNotFound = errors.New("header row not found")
)

// IsClientError reports whether err is due to the uploaded file.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidWorkbook) || errors.Is(err, ErrHeaderNotFound)
}

// =============================================================================
// COLUMN ALIASES
// =============================================================================

type column string

const (
	colNumber          column = "number"
	colLine            column = "line"
	colCurrency        column = "currency"
	colEffective       column = "effective"
	colIssue           column = "issue"
	colApplication     column = "application"
	colFirstPayment    column = "first_payment"
	colLastPayment     column = "last_payment"
	colNetPremium      column = "net_premium"
	colAccumulated     column = "accumulated"
	colCommission      column = "commission"
	colReceiptDue      column = "receipt_due"
	colFrequency       column = "frequency"
	colReceiptNumber   column = "receipt_number"
	colStatus          column = "status"
	colStatusDetail    column = "status_detail"
	colLegacyStatus    column = "legacy_status"
	colApplicationYear column = "application_year"
	colAnalysisYear    column = "analysis_year"
	colVersion         column = "version"
	colFirstYear       column = "first_year"

	colPeriod              column = "period"
	colAgent               column = "agent"
	colIsNew               column = "is_new"
	colCycle               column = "cycle"
	colFirstYearPremium    column = "first_year_premium"
	colInsured             column = "insured"
	colSeniority           column = "seniority"
	colSeniorityRecognized column = "seniority_recognized"
)

var policyAliases = map[column][]string{
	colNumber:          {"POLIZA", "NO POLIZA", "NUM POLIZA", "NUMERO POLIZA", "NUMERO DE POLIZA", "POLICY", "POLICY NUMBER", "POLICY NO"},
	colLine:            {"RAMO", "CODIGO RAMO", "LINE", "LINE OF BUSINESS"},
	colCurrency:        {"MONEDA", "CURRENCY"},
	colEffective:       {"INICIO VIGENCIA", "FECHA INICIO", "FECHA INICIO VIGENCIA", "EFFECTIVE DATE", "START DATE"},
	colIssue:           {"FECHA EMISION", "EMISION", "ISSUE DATE"},
	colApplication:     {"FECHA APLICACION", "FECHA PAGO", "APPLICATION DATE", "PAYMENT DATE"},
	colFirstPayment:    {"FECHA PRIMER PAGO", "FIRST PAYMENT DATE"},
	colLastPayment:     {"FECHA ULTIMO PAGO", "LAST PAYMENT DATE"},
	colNetPremium:      {"PRIMA NETA", "NETA TOTAL CONTRATO", "NET PREMIUM"},
	colAccumulated:     {"PRIMA ACUMULADA", "NETA TOTAL ACUMULADO", "NETA TOTAL ACUMULADA", "ACCUMULATED PREMIUM"},
	colCommission:      {"COMISION", "COMISIONES", "COMMISSION"},
	colReceiptDue:      {"IMPORTE RECIBO", "MONTO RECIBO", "NETA SEGUN FORMA PAGO", "RECEIPT AMOUNT"},
	colFrequency:       {"FORMA PAGO", "FORMA DE PAGO", "PAYMENT FREQUENCY", "FREQUENCY"},
	colReceiptNumber:   {"RECIBO", "NUMERO RECIBO", "NO RECIBO", "RECEIPT NUMBER"},
	colStatus:          {"ESTATUS", "STATUS"},
	colStatusDetail:    {"DETALLE ESTATUS", "STATUS DETAIL"},
	colLegacyStatus:    {"ESTATUS ANTERIOR", "ESTATUS RECIBO", "LEGACY STATUS"},
	colApplicationYear: {"ANO APLICACION", "APPLICATION YEAR"},
	colAnalysisYear:    {"ANO ANALISIS", "ANALYSIS YEAR"},
	colVersion:         {"VERSION"},
	colFirstYear:       {"PRIMER ANO", "FIRST YEAR"},
}

var indicatorAliases = map[column][]string{
	colNumber:              policyAliases[colNumber],
	colPeriod:              {"PERIODO", "PERIOD"},
	colAgent:               {"AGENTE", "CLAVE AGENTE", "AGENT", "AGENT CODE"},
	colIsNew:               {"NUEVA POLIZA", "POLIZA NUEVA", "ES NUEVA", "IS NEW", "NEW"},
	colCycle:               {"CICLO", "CY", "CICLO CARRIER", "CARRIER CYCLE"},
	colFirstYearPremium:    {"PRIMA PRIMER ANO", "PRIMA NETA", "NETA TOTAL CONTRATO", "FIRST YEAR PREMIUM"},
	colInsured:             {"ASEGURADOS", "NUM ASEGURADOS", "INSURED", "INSURED COUNT"},
	colSeniority:           {"FECHA ANTIGUEDAD", "ANTIGUEDAD", "SENIORITY DATE"},
	colSeniorityRecognized: {"RECONOCE ANTIGUEDAD", "ANTIGUEDAD RECONOCIDA", "SENIORITY RECOGNIZED"},
}

// foldHeader normalizes a header cell or alias for comparison.
func foldHeader(s string) string {
	return engine.FoldText(strings.NewReplacer("_", " ", ".", " ", "#", " ").Replace(s))
}

// columnIndex maps each known column to its position in the header row.
type columnIndex map[column]int

func buildIndex(header []string, aliases map[column][]string) columnIndex {
	lookup := make(map[string]column)
	for col, names := range aliases {
		for _, n := range names {
			lookup[foldHeader(n)] = col
		}
	}
	idx := make(columnIndex)
	for i, cell := range header {
		col, ok := lookup[foldHeader(cell)]
		if !ok {
			continue
		}
		// First occurrence wins when a report repeats a header.
		if _, seen := idx[col]; !seen {
			idx[col] = i
		}
	}
	return idx
}

func (idx columnIndex) get(row []string, col column) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// =============================================================================
// WORKBOOK
// =============================================================================

// sheetRows opens the workbook and returns the data rows below the header.
// headerRow is the 1-based spreadsheet row of the header.
func sheetRows(r io.Reader, sheet string, aliases map[column][]string) (name string, idx columnIndex, rows [][]string, headerRow int, err error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return "", nil, nil, 0, fmt.Errorf("%w: %v", ErrInvalidWorkbook, err)
	}
	defer f.Close()

	name = sheet
	if name == "" {
		name = f.GetSheetName(0)
	}
	all, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return "", nil, nil, 0, fmt.Errorf("%w: sheet %q: %v", ErrInvalidWorkbook, name, err)
	}

	for i := 0; i < len(all) && i < headerScanRows; i++ {
		candidate := buildIndex(all[i], aliases)
		if _, ok := candidate[colNumber]; ok {
			return name, candidate, all[i+1:], i + 1, nil
		}
	}
	return "", nil, nil, 0, fmt.Errorf("%w in sheet %q", ErrHeaderNotFound, name)
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func rowError(rowNum int, msg string) engine.RecordError {
	return engine.RecordError{Key: "row " + strconv.Itoa(rowNum), Message: msg}
}

// =============================================================================
// POLICIES
// =============================================================================

// PolicySheet is the result of reading a policy workbook.
type PolicySheet struct {
	Sheet   string                `json:"sheet"`
	Records []engine.PolicyRecord `json:"-"`
	Errors  []engine.RecordError  `json:"errors,omitempty"`
}

// ReadPolicies reads policy rows from sheet, or from the first sheet when
// sheet is empty.
func ReadPolicies(r io.Reader, sheet string) (PolicySheet, error) {
	name, idx, rows, headerRow, err := sheetRows(r, sheet, policyAliases)
	if err != nil {
		return PolicySheet{}, err
	}

	out := PolicySheet{Sheet: name}
	for i, row := range rows {
		if blankRow(row) {
			continue
		}
		rowNum := headerRow + 1 + i
		number := idx.get(row, colNumber)
		if number == "" {
			out.Errors = append(out.Errors, rowError(rowNum, "missing policy number"))
			continue
		}

		out.Records = append(out.Records, engine.PolicyRecord{
			PolicyNumber:       number,
			Line:               engine.ParseLine(idx.get(row, colLine)),
			Currency:           engine.ParseCurrency(idx.get(row, colCurrency)),
			EffectiveDate:      parseDate(idx.get(row, colEffective)),
			IssueDate:          parseDate(idx.get(row, colIssue)),
			ApplicationDate:    parseDate(idx.get(row, colApplication)),
			FirstPaymentDate:   parseDate(idx.get(row, colFirstPayment)),
			LastPaymentDate:    parseDate(idx.get(row, colLastPayment)),
			NetPremium:         parseAmount(idx.get(row, colNetPremium)),
			AccumulatedPremium: parseAmount(idx.get(row, colAccumulated)),
			Commission:         parseAmount(idx.get(row, colCommission)),
			ReceiptAmountDue:   parseAmount(idx.get(row, colReceiptDue)),
			PaymentFrequency:   idx.get(row, colFrequency),
			ReceiptNumber:      parseInt(idx.get(row, colReceiptNumber)),
			ExternalStatus:     idx.get(row, colStatus),
			ExternalDetail:     idx.get(row, colStatusDetail),
			LegacyStatus:       idx.get(row, colLegacyStatus),
			ApplicationYear:    parseInt(idx.get(row, colApplicationYear)),
			AnalysisYear:       parseInt(idx.get(row, colAnalysisYear)),
			Version:            parseInt(idx.get(row, colVersion)),
			FirstYearLabel:     idx.get(row, colFirstYear),
		})
	}
	return out, nil
}

// =============================================================================
// INDICATORS
// =============================================================================

// IndicatorSheet is the result of reading a carrier indicator workbook.
type IndicatorSheet struct {
	Sheet      string               `json:"sheet"`
	Indicators []engine.Indicator   `json:"-"`
	Errors     []engine.RecordError `json:"errors,omitempty"`
}

// ReadIndicators reads carrier indicators. period is used for rows whose
// own period cell is blank.
func ReadIndicators(r io.Reader, sheet, period string) (IndicatorSheet, error) {
	name, idx, rows, headerRow, err := sheetRows(r, sheet, indicatorAliases)
	if err != nil {
		return IndicatorSheet{}, err
	}

	out := IndicatorSheet{Sheet: name}
	for i, row := range rows {
		if blankRow(row) {
			continue
		}
		rowNum := headerRow + 1 + i
		number := idx.get(row, colNumber)
		if number == "" {
			out.Errors = append(out.Errors, rowError(rowNum, "missing policy number"))
			continue
		}
		p := parsePeriod(idx.get(row, colPeriod))
		if p == "" {
			p = strings.TrimSpace(period)
		}
		if p == "" {
			out.Errors = append(out.Errors, rowError(rowNum, "missing period"))
			continue
		}

		cycle := idx.get(row, colCycle)
		isNew, known := parseFlag(idx.get(row, colIsNew))
		if !known {
			isNew, _ = engine.ClassifyCarrierCycle(cycle)
		}
		recognized, _ := parseFlag(idx.get(row, colSeniorityRecognized))

		out.Indicators = append(out.Indicators, engine.Indicator{
			Period:              p,
			PolicyNumber:        number,
			AgentCode:           idx.get(row, colAgent),
			IsNew:               isNew,
			FirstYearPremium:    parseAmount(idx.get(row, colFirstYearPremium)),
			InsuredCount:        parseInt(idx.get(row, colInsured)),
			CarrierCycle:        cycle,
			SeniorityDate:       parseDate(idx.get(row, colSeniority)),
			SeniorityRecognized: recognized,
		})
	}
	return out, nil
}

// =============================================================================
// CELL PARSING
// =============================================================================

var dayFirstLayouts = []string{"02/01/2006", "2/1/2006", "02-01-2006", "2-1-2006"}

// parseDate accepts ISO, day-first and Excel serial dates. Anything else is
// the zero Date.
func parseDate(s string) engine.Date {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return engine.Date{}
	}
	if d := engine.ParseDate(s); !d.IsZero() {
		return d
	}
	for _, layout := range dayFirstLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return engine.DateOf(t)
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return engine.DateOf(t)
		}
	}
	return engine.Date{}
}

// parseAmount reads "$12,500.50" style amounts; malformed input is zero.
func parseAmount(s string) decimal.Decimal {
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(strings.TrimSpace(s))
	if s == "" || s == "-" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// parseInt reads whole numbers, tolerating a ".0" written by spreadsheets.
func parseInt(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return 0
}

// parseFlag reads yes/no cells. known is false for blank or unrecognized
// text.
func parseFlag(s string) (value bool, known bool) {
	switch engine.FoldText(s) {
	case "1", "SI", "S", "TRUE", "YES", "Y", "X", "VERDADERO":
		return true, true
	case "0", "NO", "N", "FALSE", "FALSO":
		return false, true
	}
	return false, false
}

// parsePeriod normalizes a period cell to YYYY-MM. Dates and serials are
// reduced to their month; other text is kept as written.
func parsePeriod(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(s) == 7 && s[4] == '-' {
		return s
	}
	if d := parseDate(s); !d.IsZero() {
		return engine.PeriodKey(d)
	}
	return s
}
