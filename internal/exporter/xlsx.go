package exporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"donorpulse/pkg/contracts/domain"
)

// Workbook sheet names.
const (
	SheetLedger = "Ledger"
	SheetPivot  = "Pivot"
	SheetChange = "Change"
	SheetLapsed = "Lapsed"
)

// Highlight fills for met/increase and below/decrease cells.
const (
	fillGreen = "#d4edda"
	fillRed   = "#f8d7da"
)

var moneyFormat = "$#,##0"

type workbookStyles struct {
	header int
	money  int
	green  int
	red    int
}

// WriteWorkbook renders the report as an XLSX workbook into out.
func WriteWorkbook(out io.Writer, report Report) error {
	f, err := buildWorkbook(report)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(out); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// SaveWorkbook renders the report as an XLSX file at path.
func SaveWorkbook(path string, report Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := buildWorkbook(report)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func buildWorkbook(report Report) (*excelize.File, error) {
	f := excelize.NewFile()

	styles, err := newStyles(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	if err := f.SetSheetName(f.GetSheetName(0), SheetLedger); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to name ledger sheet: %w", err)
	}
	for _, sheet := range []string{SheetPivot, SheetChange, SheetLapsed} {
		if _, err := f.NewSheet(sheet); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create sheet %s: %w", sheet, err)
		}
	}

	pivot := FilterPivotByThreshold(report.Pivot, report.Threshold)
	steps := []func() error{
		func() error { return writeLedgerSheet(f, styles, report.Ledger) },
		func() error { return writePivotSheet(f, styles, pivot, report.Threshold) },
		func() error {
			return writeChangeSheet(f, styles, FilterDeltaDonors(report.Delta, pivot.Donors), report.ChangeThreshold)
		},
		func() error { return writeLapsedSheet(f, styles, report.Lapsed) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			f.Close()
			return nil, err
		}
	}

	f.SetActiveSheet(0)
	return f, nil
}

func newStyles(f *excelize.File) (workbookStyles, error) {
	var s workbookStyles
	var err error

	if s.header, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err != nil {
		return s, fmt.Errorf("failed to create header style: %w", err)
	}
	if s.money, err = f.NewStyle(&excelize.Style{CustomNumFmt: &moneyFormat}); err != nil {
		return s, fmt.Errorf("failed to create money style: %w", err)
	}
	if s.green, err = fillStyle(f, fillGreen); err != nil {
		return s, err
	}
	if s.red, err = fillStyle(f, fillRed); err != nil {
		return s, err
	}
	return s, nil
}

func fillStyle(f *excelize.File, color string) (int, error) {
	id, err := f.NewStyle(&excelize.Style{
		CustomNumFmt: &moneyFormat,
		Fill:         excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create fill style %s: %w", color, err)
	}
	return id, nil
}

func writeHeader(f *excelize.File, styles workbookStyles, sheet string, headers []string) error {
	row := make([]interface{}, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &row); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", last, styles.header)
}

func writeLedgerSheet(f *excelize.File, styles workbookStyles, table domain.AssembledTable) error {
	if err := writeHeader(f, styles, SheetLedger, LedgerHeaders); err != nil {
		return err
	}
	for i, r := range table.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{r.Sheet, r.Name, r.Account, r.Moneys.InexactFloat64(), r.IsTotal}
		if err := f.SetSheetRow(SheetLedger, cell, &row); err != nil {
			return fmt.Errorf("failed to write ledger row %d: %w", i, err)
		}
		money, _ := excelize.CoordinatesToCellName(4, i+2)
		if err := f.SetCellStyle(SheetLedger, money, money, styles.money); err != nil {
			return err
		}
	}
	return nil
}

func writePivotSheet(f *excelize.File, styles workbookStyles, pivot domain.PivotMatrix, threshold decimal.Decimal) error {
	columns := pivot.Display()
	if err := writeHeader(f, styles, SheetPivot, append([]string{"Name"}, columns...)); err != nil {
		return err
	}
	for i, donor := range pivot.Donors {
		values := pivot.Row(donor, columns)
		if err := writeMatrixRow(f, SheetPivot, i+2, donor, values, func(v decimal.Decimal) int {
			switch ClassifyCell(v, threshold) {
			case ClassMet:
				return styles.green
			case ClassBelow:
				return styles.red
			default:
				return styles.money
			}
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeChangeSheet(f *excelize.File, styles workbookStyles, delta domain.DeltaMatrix, threshold decimal.Decimal) error {
	if err := writeHeader(f, styles, SheetChange, append([]string{"Name"}, delta.Columns...)); err != nil {
		return err
	}
	for i, donor := range delta.Donors {
		values := make([]decimal.Decimal, len(delta.Columns))
		for j, col := range delta.Columns {
			values[j] = delta.Value(donor, col)
		}
		if err := writeMatrixRow(f, SheetChange, i+2, donor, values, func(v decimal.Decimal) int {
			switch ClassifyChange(v, threshold) {
			case ClassIncrease:
				return styles.green
			case ClassDecrease:
				return styles.red
			default:
				return styles.money
			}
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeMatrixRow(f *excelize.File, sheet string, rowNum int, donor string, values []decimal.Decimal, style func(decimal.Decimal) int) error {
	row := make([]interface{}, 0, len(values)+1)
	row = append(row, donor)
	for _, v := range values {
		row = append(row, v.InexactFloat64())
	}
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &row); err != nil {
		return fmt.Errorf("failed to write %s row for %s: %w", sheet, donor, err)
	}
	for j, v := range values {
		cell, err := excelize.CoordinatesToCellName(j+2, rowNum)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell, cell, style(v)); err != nil {
			return err
		}
	}
	return nil
}

func writeLapsedSheet(f *excelize.File, styles workbookStyles, lapsed []domain.LapsedRecord) error {
	if err := writeHeader(f, styles, SheetLapsed, LapsedHeaders); err != nil {
		return err
	}
	for i, r := range lapsed {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			r.Name,
			r.LastDonationYear,
			r.LastYearAmount.InexactFloat64(),
			strings.Join(r.LapsedIn, ", "),
			r.TotalGiven.InexactFloat64(),
		}
		if err := f.SetSheetRow(SheetLapsed, cell, &row); err != nil {
			return fmt.Errorf("failed to write lapsed row %d: %w", i, err)
		}
		for _, col := range []int{3, 5} {
			money, _ := excelize.CoordinatesToCellName(col, i+2)
			if err := f.SetCellStyle(SheetLapsed, money, money, styles.money); err != nil {
				return err
			}
		}
	}
	return nil
}
