// Package dataprocessing reconciles a multi-sheet donation ledger and derives
// its longitudinal analytics.
//
// # Pipeline
//
//	RawTable → Normalize → []NormalizedRow → Assemble → AssembledTable
//	                                       → BuildPivotAndDelta → PivotMatrix, DeltaMatrix
//	                                                            → FindLapsed → []LapsedRecord
//
// Normalize forward-fills donor names per sheet, marks "Total " rows, coalesces
// Amount and Credit into Moneys and strips the "NNNN ∑ " decoration from accounts.
// It is the only stage that returns an error (*SchemaError).
//
// Assemble pairs every donor's detail rows with the first matching total row of
// the same sheet. The default TotalMatcher is a substring match.
//
// BuildPivot sums total rows per donor and sheet. Columns are ordered by the year
// parsed from "<year>_<suffix>" labels; when any label has no year the input
// order is used and PivotMatrix.Ordering says so.
//
// # Usage
//
//	rows, err := dataprocessing.Normalize(table)
//	if err != nil {
//	    return err
//	}
//	ledger := dataprocessing.Assemble(rows, dataprocessing.SubstringMatcher)
//	pivot, delta := dataprocessing.BuildPivotAndDelta(rows)
//	lapsed := dataprocessing.FindLapsed(pivot, domain.LapsedQuery{MinLastAmount: decimal.NewFromInt(2500)})
//
// All stages are pure; they never mutate their inputs.
package dataprocessing
