package domain

import (
	"github.com/shopspring/decimal"
)

// ColumnOrdering records how a matrix's columns were ordered.
type ColumnOrdering string

const (
	// OrderingChronological means every sheet label carried a parseable year.
	OrderingChronological ColumnOrdering = "chronological"
	// OrderingInsertion means at least one label had no year and columns keep input order.
	OrderingInsertion ColumnOrdering = "insertion"
)

// PivotMatrix is the donor × sheet table of summed total-row amounts.
// Columns are in chronological order (or insertion order on fallback).
type PivotMatrix struct {
	Donors   []string                              `json:"donors"`
	Columns  []string                              `json:"columns"`
	Cells    map[string]map[string]decimal.Decimal `json:"cells"`
	Ordering ColumnOrdering                        `json:"ordering"`
}

// Value returns the donor's amount for a sheet, zero when absent.
func (p PivotMatrix) Value(donor, sheet string) decimal.Decimal {
	if row, ok := p.Cells[donor]; ok {
		if v, ok := row[sheet]; ok {
			return v
		}
	}
	return decimal.Zero
}

// Chronological returns the columns oldest first.
func (p PivotMatrix) Chronological() []string {
	out := make([]string, len(p.Columns))
	copy(out, p.Columns)
	return out
}

// Display returns the columns most recent first. When the labels could not be
// ordered chronologically the insertion order is returned unchanged.
func (p PivotMatrix) Display() []string {
	if p.Ordering != OrderingChronological {
		return p.Chronological()
	}
	out := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		out[len(p.Columns)-1-i] = c
	}
	return out
}

// Row returns the donor's values aligned with the given columns.
func (p PivotMatrix) Row(donor string, columns []string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(columns))
	for i, c := range columns {
		out[i] = p.Value(donor, c)
	}
	return out
}

// Max returns the donor's largest yearly amount.
func (p PivotMatrix) Max(donor string) decimal.Decimal {
	max := decimal.Zero
	for i, c := range p.Columns {
		v := p.Value(donor, c)
		if i == 0 || v.GreaterThan(max) {
			max = v
		}
	}
	return max
}

// Total returns the sum of the donor's amounts across all columns.
func (p PivotMatrix) Total(donor string) decimal.Decimal {
	sum := decimal.Zero
	for _, c := range p.Columns {
		sum = sum.Add(p.Value(donor, c))
	}
	return sum
}

// DeltaMatrix holds year-over-year absolute change per donor.
// Columns are most recent first and exclude the earliest pivot column.
type DeltaMatrix struct {
	Donors  []string                              `json:"donors"`
	Columns []string                              `json:"columns"`
	Cells   map[string]map[string]decimal.Decimal `json:"cells"`
}

// Value returns the donor's change for a column, zero when absent.
func (d DeltaMatrix) Value(donor, column string) decimal.Decimal {
	if row, ok := d.Cells[donor]; ok {
		if v, ok := row[column]; ok {
			return v
		}
	}
	return decimal.Zero
}

// LapsedQuery holds the caller's lapsed-donor parameters.
type LapsedQuery struct {
	// FilterYear restricts results to donors whose last giving sheet equals it.
	FilterYear    *string         `json:"filter_year,omitempty"`
	MinLastAmount decimal.Decimal `json:"min_last_amount"`
}

// LapsedRecord describes a donor whose last positive year was followed by zero years.
type LapsedRecord struct {
	Name             string          `json:"name"`
	LastDonationYear string          `json:"last_donation_year"`
	LapsedIn         []string        `json:"lapsed_in"`
	LastYearAmount   decimal.Decimal `json:"last_year_amount"`
	TotalGiven       decimal.Decimal `json:"total_given"`
}
