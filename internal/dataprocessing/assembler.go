package dataprocessing

import (
	"fmt"
	"sort"
	"strings"

	"donorpulse/pkg/contracts/domain"
)

// TotalMatcher decides whether a total row's name belongs to a donor.
type TotalMatcher func(donor, totalName string) bool

// Match policies selectable through configuration.
const (
	MatchSubstring = "substring"
	MatchExact     = "exact"
)

// SubstringMatcher matches when the total row's name contains the donor name.
// This is the ledger's historical behavior: "Ann" also matches "Total Anna".
func SubstringMatcher(donor, totalName string) bool {
	return strings.Contains(totalName, donor)
}

// ExactMatcher matches only "Total <donor>".
func ExactMatcher(donor, totalName string) bool {
	return strings.TrimSpace(totalName) == domain.TotalPrefix+donor
}

// MatcherFor returns the matcher for a configured policy name.
func MatcherFor(policy string) (TotalMatcher, error) {
	switch strings.ToLower(strings.TrimSpace(policy)) {
	case "", MatchSubstring:
		return SubstringMatcher, nil
	case MatchExact:
		return ExactMatcher, nil
	default:
		return nil, fmt.Errorf("unknown match policy %q", policy)
	}
}

// AmbiguousMatch records a donor whose name matched several total rows in a sheet.
type AmbiguousMatch struct {
	Sheet      string   `json:"sheet"`
	Donor      string   `json:"donor"`
	Chosen     string   `json:"chosen"`
	Candidates []string `json:"candidates"`
}

// AssemblyDiagnostics collects matching anomalies found during assembly.
type AssemblyDiagnostics struct {
	Ambiguous []AmbiguousMatch `json:"ambiguous,omitempty"`
	Unmatched []string         `json:"unmatched,omitempty"` // "sheet/donor"
}

// Assemble builds the reconciled ledger. See AssembleWithDiagnostics.
func Assemble(rows []domain.NormalizedRow, matcher TotalMatcher) domain.AssembledTable {
	table, _ := AssembleWithDiagnostics(rows, matcher)
	return table
}

// AssembleWithDiagnostics walks sheets in ascending lexical order and, within a
// sheet, donors in the order they first appear among detail rows. Each donor's
// detail rows are emitted followed by the first total row of the same sheet
// that the matcher accepts. Sheets without detail rows are omitted.
func AssembleWithDiagnostics(rows []domain.NormalizedRow, matcher TotalMatcher) (domain.AssembledTable, AssemblyDiagnostics) {
	if matcher == nil {
		matcher = SubstringMatcher
	}

	details := make(map[string][]domain.NormalizedRow)
	totals := make(map[string][]domain.NormalizedRow)
	for _, row := range rows {
		if row.IsTotal {
			totals[row.Sheet] = append(totals[row.Sheet], row)
		} else {
			details[row.Sheet] = append(details[row.Sheet], row)
		}
	}

	sheets := make([]string, 0, len(details))
	for sheet := range details {
		sheets = append(sheets, sheet)
	}
	sort.Strings(sheets)

	var diag AssemblyDiagnostics
	out := make([]domain.NormalizedRow, 0, len(rows))

	for _, sheet := range sheets {
		donors, byDonor := groupByDonor(details[sheet])
		for _, donor := range donors {
			out = append(out, byDonor[donor]...)

			var candidates []domain.NormalizedRow
			for _, total := range totals[sheet] {
				if matcher(donor, total.Name) {
					candidates = append(candidates, total)
				}
			}

			switch len(candidates) {
			case 0:
				diag.Unmatched = append(diag.Unmatched, sheet+"/"+donor)
				continue
			case 1:
			default:
				names := make([]string, len(candidates))
				for i, c := range candidates {
					names[i] = c.Name
				}
				diag.Ambiguous = append(diag.Ambiguous, AmbiguousMatch{
					Sheet:      sheet,
					Donor:      donor,
					Chosen:     candidates[0].Name,
					Candidates: names,
				})
			}
			out = append(out, candidates[0])
		}
	}

	return domain.AssembledTable{Rows: out}, diag
}

// groupByDonor groups a sheet's detail rows by donor in first-occurrence order
func groupByDonor(rows []domain.NormalizedRow) ([]string, map[string][]domain.NormalizedRow) {
	var donors []string
	byDonor := make(map[string][]domain.NormalizedRow)
	for _, row := range rows {
		if _, seen := byDonor[row.Name]; !seen {
			donors = append(donors, row.Name)
		}
		byDonor[row.Name] = append(byDonor[row.Name], row)
	}
	return donors, byDonor
}
