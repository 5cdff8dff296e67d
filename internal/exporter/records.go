package exporter

import (
	"strings"

	"donorpulse/pkg/contracts/domain"
)

// LedgerHeaders are the column headers of the reconciled ledger export.
var LedgerHeaders = []string{"Sheet", "Name", "Account", "Moneys", "IsTotal"}

// LapsedHeaders are the column headers of the lapsed donor export.
var LapsedHeaders = []string{"Name", "Last Donation Year", "Last Year Amount", "Lapsed In", "Total Given"}

// LedgerRecords flattens the reconciled ledger into CSV records.
func LedgerRecords(table domain.AssembledTable) [][]string {
	records := make([][]string, 0, len(table.Rows))
	for _, row := range table.Rows {
		records = append(records, []string{
			row.Sheet,
			row.Name,
			row.Account,
			formatDecimal(row.Moneys),
			formatBool(row.IsTotal),
		})
	}
	return records
}

// PivotRecords flattens the pivot using its display column order.
func PivotRecords(pivot domain.PivotMatrix) ([]string, [][]string) {
	columns := pivot.Display()
	headers := append([]string{"Name"}, columns...)

	records := make([][]string, 0, len(pivot.Donors))
	for _, donor := range pivot.Donors {
		record := make([]string, 0, len(columns)+1)
		record = append(record, donor)
		for _, v := range pivot.Row(donor, columns) {
			record = append(record, formatDecimal(v))
		}
		records = append(records, record)
	}
	return headers, records
}

// DeltaRecords flattens the year-over-year change matrix.
func DeltaRecords(delta domain.DeltaMatrix) ([]string, [][]string) {
	headers := append([]string{"Name"}, delta.Columns...)

	records := make([][]string, 0, len(delta.Donors))
	for _, donor := range delta.Donors {
		record := make([]string, 0, len(delta.Columns)+1)
		record = append(record, donor)
		for _, col := range delta.Columns {
			record = append(record, formatDecimal(delta.Value(donor, col)))
		}
		records = append(records, record)
	}
	return headers, records
}

// LapsedRecords flattens lapsed donors; lapsed years are joined with ", ".
func LapsedRecords(lapsed []domain.LapsedRecord) [][]string {
	records := make([][]string, 0, len(lapsed))
	for _, r := range lapsed {
		records = append(records, []string{
			r.Name,
			r.LastDonationYear,
			formatDecimal(r.LastYearAmount),
			strings.Join(r.LapsedIn, ", "),
			formatDecimal(r.TotalGiven),
		})
	}
	return records
}
