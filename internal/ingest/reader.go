// Package ingest loads donation ledger workbooks into raw tables.
package ingest

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"donorpulse/pkg/contracts/domain"
)

// Options controls workbook ingestion.
type Options struct {
	Logger *slog.Logger
	// SkipSheets lists sheet names that are not ledger years (notes, summaries).
	SkipSheets []string
}

// ReadFile opens a ledger workbook from disk and reads every sheet.
func ReadFile(path string, opts Options) (*domain.RawTable, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	return readWorkbook(f, opts)
}

// ReadWorkbook reads a ledger workbook from r. Each sheet's first row is its
// header; rows are stamped with the sheet name they came from.
func ReadWorkbook(r io.Reader, opts Options) (*domain.RawTable, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read workbook: %w", err)
	}
	defer f.Close()

	return readWorkbook(f, opts)
}

func readWorkbook(f *excelize.File, opts Options) (*domain.RawTable, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	skip := make(map[string]bool, len(opts.SkipSheets))
	for _, s := range opts.SkipSheets {
		skip[s] = true
	}

	table := &domain.RawTable{}
	seenColumn := make(map[string]bool)
	sheetsRead := 0

	for _, sheet := range f.GetSheetList() {
		if skip[sheet] {
			logger.Debug("skipping sheet", slog.String("sheet", sheet))
			continue
		}

		rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			logger.Debug("empty sheet", slog.String("sheet", sheet))
			continue
		}

		sheetsRead++
		columnMap := mapHeader(rows[0])
		for _, col := range orderedColumns(columnMap) {
			if !seenColumn[col] {
				seenColumn[col] = true
				table.Columns = append(table.Columns, col)
			}
		}

		kept := 0
		for _, row := range rows[1:] {
			if isBlank(row) {
				continue
			}
			table.Rows = append(table.Rows, domain.RawRow{
				Name:    cellString(row, columnMap, nameColumn(columnMap)),
				Account: cellString(row, columnMap, domain.ColumnAccount),
				Amount:  cellDecimal(row, columnMap, domain.ColumnAmount),
				Credit:  cellDecimal(row, columnMap, domain.ColumnCredit),
				Sheet:   sheet,
			})
			kept++
		}

		logger.Debug("sheet read",
			slog.String("sheet", sheet),
			slog.Int("rows", kept),
			slog.Any("columns", orderedColumns(columnMap)))
	}

	if !seenColumn[domain.ColumnSheet] {
		table.Columns = append(table.Columns, domain.ColumnSheet)
	}

	logger.Info("workbook read",
		slog.Int("rows", len(table.Rows)),
		slog.Int("sheets", sheetsRead))

	return table, nil
}

// mapHeader maps recognised ledger columns to their index in the header row.
// A blank first header cell holds donor names.
func mapHeader(header []string) map[string]int {
	columnMap := make(map[string]int)
	for j, cell := range header {
		h := strings.ToLower(strings.TrimSpace(cell))
		var col string
		switch {
		case (h == "" && j == 0) || h == strings.ToLower(domain.ColumnUnnamed):
			col = domain.ColumnUnnamed
		case h == "name" || h == "donor":
			col = domain.ColumnName
		case h == "account":
			col = domain.ColumnAccount
		case h == "amount":
			col = domain.ColumnAmount
		case h == "credit":
			col = domain.ColumnCredit
		default:
			continue
		}
		if _, exists := columnMap[col]; !exists {
			columnMap[col] = j
		}
	}
	return columnMap
}

func orderedColumns(columnMap map[string]int) []string {
	var out []string
	for _, col := range []string{domain.ColumnUnnamed, domain.ColumnName, domain.ColumnAccount, domain.ColumnAmount, domain.ColumnCredit} {
		if _, ok := columnMap[col]; ok {
			out = append(out, col)
		}
	}
	return out
}

// nameColumn prefers an explicit Name header over the unnamed first column
func nameColumn(columnMap map[string]int) string {
	if _, ok := columnMap[domain.ColumnName]; ok {
		return domain.ColumnName
	}
	return domain.ColumnUnnamed
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func cellString(row []string, columnMap map[string]int, col string) *string {
	idx, ok := columnMap[col]
	if !ok || idx >= len(row) {
		return nil
	}
	v := row[idx]
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}

func cellDecimal(row []string, columnMap map[string]int, col string) decimal.NullDecimal {
	idx, ok := columnMap[col]
	if !ok || idx >= len(row) {
		return decimal.NullDecimal{}
	}
	d, ok := ParseMoney(row[idx])
	if !ok {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// ParseMoney parses ledger numeric text such as "1250", "1,250.00", "$1,250"
// or "(30.00)". Blank or unparseable text is reported as absent.
func ParseMoney(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	s = strings.NewReplacer(",", "", "$", "", " ", "").Replace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}
