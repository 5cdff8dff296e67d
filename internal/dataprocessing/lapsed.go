package dataprocessing

import (
	"donorpulse/pkg/contracts/domain"
)

// FindLapsed scans the pivot for donors whose most recent positive year is
// followed by at least one year with exactly zero giving. A donor must have
// given at least query.MinLastAmount in that last year, and when a filter
// year is set the last year must equal it. Results follow pivot row order.
func FindLapsed(pivot domain.PivotMatrix, query domain.LapsedQuery) []domain.LapsedRecord {
	years := pivot.Chronological()
	lapsed := []domain.LapsedRecord{}

	for _, donor := range pivot.Donors {
		last := -1
		for i, year := range years {
			if pivot.Value(donor, year).IsPositive() {
				last = i
			}
		}
		// never gave anything positive, nothing to lapse from
		if last < 0 {
			continue
		}

		lastYear := years[last]
		lastAmount := pivot.Value(donor, lastYear)

		var missed []string
		for _, year := range years[last+1:] {
			if pivot.Value(donor, year).IsZero() {
				missed = append(missed, year)
			}
		}

		if len(missed) == 0 || lastAmount.LessThan(query.MinLastAmount) {
			continue
		}
		if query.FilterYear != nil && lastYear != *query.FilterYear {
			continue
		}

		lapsed = append(lapsed, domain.LapsedRecord{
			Name:             donor,
			LastDonationYear: lastYear,
			LapsedIn:         missed,
			LastYearAmount:   lastAmount,
			TotalGiven:       pivot.Total(donor),
		})
	}

	return lapsed
}

// FindLapsedFromRows builds the pivot from total rows and scans it.
func FindLapsedFromRows(rows []domain.NormalizedRow, query domain.LapsedQuery) []domain.LapsedRecord {
	return FindLapsed(BuildPivot(rows), query)
}
