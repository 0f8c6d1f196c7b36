package importer

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/warp/policy-engine/book"
)

// ExportSheet is the sheet name WritePolicies writes to.
const ExportSheet = "POLIZAS"

var exportHeader = []any{
	"POLIZA", "RAMO", "MONEDA", "INICIO VIGENCIA", "FECHA APLICACION",
	"PRIMA NETA", "PRIMA ACUMULADA", "COMISION", "FORMA PAGO", "ESTATUS",
	"TIPO", "NIVEL", "EQUIVALENCIA", "EQUIVALENCIA PAGADA", "PRIMA PROPORCIONAL",
	"SUFICIENCIA", "PENDIENTE PAGO", "POLIZA ANTERIOR", "REEXPEDICIONES",
}

// WritePolicies exports inputs and derived facts as an xlsx workbook. The
// input columns use headers ReadPolicies understands, so an export can be
// re-imported.
func WritePolicies(w io.Writer, policies []book.StoredPolicy) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), ExportSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := f.SetSheetRow(ExportSheet, "A1", &exportHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, p := range policies {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := exportRow(p)
		if err := f.SetSheetRow(ExportSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write policy %s: %w", p.Number(), err)
		}
	}

	return f.Write(w)
}

func exportRow(p book.StoredPolicy) []any {
	r := p.Record
	row := []any{
		p.Number(),
		int(r.Line),
		string(r.Currency),
		r.EffectiveDate.String(),
		r.ApplicationDate.String(),
		r.NetPremium.InexactFloat64(),
		r.AccumulatedPremium.InexactFloat64(),
		r.Commission.InexactFloat64(),
		r.PaymentFrequency,
	}
	if f := p.Facts; f != nil {
		row = append(row,
			string(f.Status),
			string(f.Classification.Type),
			string(f.Classification.Tier),
			f.Equivalency,
			f.PaidEquivalency,
			f.ProportionalPremium.InexactFloat64(),
			f.Sufficiency,
			f.PendingPayment,
		)
	} else {
		row = append(row, "", "", "", "", "", "", "", "")
	}
	return append(row, p.ParentNumber, p.ReissueCount)
}
