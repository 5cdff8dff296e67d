package dataprocessing

import (
	"sort"

	"github.com/shopspring/decimal"

	"donorpulse/pkg/contracts/domain"
)

// BuildPivot aggregates total rows into a donor × sheet matrix.
// Amounts are summed per (donor, sheet); donors are sorted by name and
// columns ordered oldest first, falling back to first-appearance order
// when a sheet label carries no year.
func BuildPivot(rows []domain.NormalizedRow) domain.PivotMatrix {
	cells := make(map[string]map[string]decimal.Decimal)
	var sheets []string
	seenSheet := make(map[string]bool)

	for _, row := range rows {
		if !row.IsTotal {
			continue
		}
		donor := DonorName(row.Name)
		if !seenSheet[row.Sheet] {
			seenSheet[row.Sheet] = true
			sheets = append(sheets, row.Sheet)
		}
		if cells[donor] == nil {
			cells[donor] = make(map[string]decimal.Decimal)
		}
		cells[donor][row.Sheet] = cells[donor][row.Sheet].Add(row.Moneys)
	}

	donors := make([]string, 0, len(cells))
	for donor := range cells {
		donors = append(donors, donor)
	}
	sort.Strings(donors)

	// fill absent combinations so every row is dense over the columns
	for _, donor := range donors {
		for _, sheet := range sheets {
			if _, ok := cells[donor][sheet]; !ok {
				cells[donor][sheet] = decimal.Zero
			}
		}
	}

	columns, ordering := OrderColumns(sheets)
	return domain.PivotMatrix{
		Donors:   donors,
		Columns:  columns,
		Cells:    cells,
		Ordering: ordering,
	}
}

// BuildDelta computes each donor's change against the previous chronological
// column. The earliest column has no predecessor and is left out; the result
// lists the most recent column first.
func BuildDelta(pivot domain.PivotMatrix) domain.DeltaMatrix {
	chrono := pivot.Chronological()
	delta := domain.DeltaMatrix{
		Donors: append([]string(nil), pivot.Donors...),
		Cells:  make(map[string]map[string]decimal.Decimal, len(pivot.Donors)),
	}
	if len(chrono) < 2 {
		delta.Columns = []string{}
		for _, donor := range pivot.Donors {
			delta.Cells[donor] = map[string]decimal.Decimal{}
		}
		return delta
	}

	for i := len(chrono) - 1; i >= 1; i-- {
		delta.Columns = append(delta.Columns, chrono[i])
	}

	for _, donor := range pivot.Donors {
		row := make(map[string]decimal.Decimal, len(chrono)-1)
		for i := 1; i < len(chrono); i++ {
			row[chrono[i]] = pivot.Value(donor, chrono[i]).Sub(pivot.Value(donor, chrono[i-1]))
		}
		delta.Cells[donor] = row
	}
	return delta
}

// BuildPivotAndDelta builds the pivot matrix and its year-over-year change.
func BuildPivotAndDelta(rows []domain.NormalizedRow) (domain.PivotMatrix, domain.DeltaMatrix) {
	pivot := BuildPivot(rows)
	return pivot, BuildDelta(pivot)
}
