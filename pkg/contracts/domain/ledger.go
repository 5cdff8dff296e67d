package domain

import (
	"github.com/shopspring/decimal"
)

// Ledger column names as they appear in the workbook header row.
const (
	ColumnName    = "Name"
	ColumnAccount = "Account"
	ColumnAmount  = "Amount"
	ColumnCredit  = "Credit"
	ColumnSheet   = "Sheet"

	// ColumnUnnamed is the label spreadsheet exports give a blank first header cell.
	// Ledgers keep donor names in that column.
	ColumnUnnamed = "Unnamed: 0"
)

// TotalPrefix marks a donor's year-total row. The match is case-sensitive.
const TotalPrefix = "Total "

// RawRow is one ledger line exactly as ingestion read it.
// Name and Account are nil when the cell was blank.
type RawRow struct {
	Name    *string             `json:"name,omitempty"`
	Account *string             `json:"account,omitempty"`
	Amount  decimal.NullDecimal `json:"amount"`
	Credit  decimal.NullDecimal `json:"credit"`
	Sheet   string              `json:"sheet" validate:"required"`
}

// RawTable is a fully loaded ledger: every sheet's rows in workbook order,
// plus the header columns ingestion recognised.
type RawTable struct {
	Columns []string `json:"columns"`
	Rows    []RawRow `json:"rows" validate:"dive"`
}

// HasColumn reports whether the table carries the named column.
func (t *RawTable) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// NormalizedRow is a ledger line after name forward-fill, total classification,
// amount coalescing and account cleanup. Moneys is always present.
type NormalizedRow struct {
	Name    string          `json:"name"`
	Account string          `json:"account"`
	Moneys  decimal.Decimal `json:"moneys"`
	Sheet   string          `json:"sheet"`
	IsTotal bool            `json:"is_total"`
}

// AssembledTable is the reconciled ledger: rows grouped by sheet, then by donor,
// each donor's detail rows followed by its matching total row.
type AssembledTable struct {
	Rows []NormalizedRow `json:"rows"`
}

// Totals returns the total rows of the table in table order.
func (t AssembledTable) Totals() []NormalizedRow {
	var out []NormalizedRow
	for _, row := range t.Rows {
		if row.IsTotal {
			out = append(out, row)
		}
	}
	return out
}

// NormalizationStats summarises what normalization kept and dropped.
type NormalizationStats struct {
	InputRows         int            `json:"input_rows"`
	KeptRows          int            `json:"kept_rows"`
	TotalRows         int            `json:"total_rows"`
	DetailRows        int            `json:"detail_rows"`
	DroppedNoMoneys   int            `json:"dropped_no_moneys"`
	DroppedNoName     int            `json:"dropped_no_name"`
	RowsPerSheet      map[string]int `json:"rows_per_sheet"`
	UnlabeledAccounts int            `json:"unlabeled_accounts"`
}

// RowFilter narrows the reconciled table for display.
// Empty fields, and the literal "All" for Sheet and Account, disable that filter.
type RowFilter struct {
	Search  string `json:"search,omitempty" validate:"max=200"`
	Sheet   string `json:"sheet,omitempty" validate:"max=200"`
	Account string `json:"account,omitempty" validate:"max=200"`
}

// LedgerFilters lists the values a caller can offer in dropdowns.
type LedgerFilters struct {
	Sheets   []string `json:"sheets"`
	Accounts []string `json:"accounts"`
	Years    []string `json:"years"`
}
