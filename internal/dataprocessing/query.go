package dataprocessing

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"donorpulse/pkg/contracts/domain"
)

// filterAll is the dropdown value meaning "no filter"
const filterAll = "All"

// FilterRows narrows rows by a case-insensitive name search and exact sheet
// and account matches. Empty fields and "All" disable the respective filter.
func FilterRows(rows []domain.NormalizedRow, filter domain.RowFilter) []domain.NormalizedRow {
	fold := cases.Fold()
	search := fold.String(strings.TrimSpace(filter.Search))
	sheet := strings.TrimSpace(filter.Sheet)
	account := strings.TrimSpace(filter.Account)

	out := make([]domain.NormalizedRow, 0, len(rows))
	for _, row := range rows {
		if search != "" && !strings.Contains(fold.String(row.Name), search) {
			continue
		}
		if sheet != "" && sheet != filterAll && row.Sheet != sheet {
			continue
		}
		if account != "" && account != filterAll && row.Account != account {
			continue
		}
		out = append(out, row)
	}
	return out
}

// SheetValues returns the sorted distinct sheets of the rows.
func SheetValues(rows []domain.NormalizedRow) []string {
	return distinct(rows, func(r domain.NormalizedRow) string { return r.Sheet })
}

// AccountValues returns the sorted distinct non-empty accounts of the rows.
func AccountValues(rows []domain.NormalizedRow) []string {
	return distinct(rows, func(r domain.NormalizedRow) string { return r.Account })
}

// YearValues returns every sheet label of the rows, most recent first.
func YearValues(rows []domain.NormalizedRow) []string {
	var sheets []string
	seen := make(map[string]bool)
	for _, row := range rows {
		if row.Sheet != "" && !seen[row.Sheet] {
			seen[row.Sheet] = true
			sheets = append(sheets, row.Sheet)
		}
	}
	years, _ := OrderColumnsDescending(sheets)
	return years
}

// Filters collects every dropdown value for the rows.
func Filters(rows []domain.NormalizedRow) domain.LedgerFilters {
	return domain.LedgerFilters{
		Sheets:   SheetValues(rows),
		Accounts: AccountValues(rows),
		Years:    YearValues(rows),
	}
}

func distinct(rows []domain.NormalizedRow, key func(domain.NormalizedRow) string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, row := range rows {
		k := key(row)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
