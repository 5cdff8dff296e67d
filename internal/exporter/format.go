package exporter

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"donorpulse/pkg/contracts/domain"
)

// CellClass is the highlight applied to a pivot or change cell.
type CellClass string

const (
	ClassMet      CellClass = "met"
	ClassBelow    CellClass = "below"
	ClassIncrease CellClass = "increase"
	ClassDecrease CellClass = "decrease"
	ClassNone     CellClass = "none"
)

// ClassifyCell marks pivot values at or above the threshold as met and other
// positive values as below.
func ClassifyCell(value, threshold decimal.Decimal) CellClass {
	switch {
	case value.GreaterThanOrEqual(threshold):
		return ClassMet
	case value.IsPositive():
		return ClassBelow
	default:
		return ClassNone
	}
}

// ClassifyChange marks changes whose magnitude reaches the threshold.
// A zero change at threshold zero counts as a decrease.
func ClassifyChange(delta, threshold decimal.Decimal) CellClass {
	if delta.Abs().LessThan(threshold) {
		return ClassNone
	}
	if delta.IsPositive() {
		return ClassIncrease
	}
	return ClassDecrease
}

// FilterPivotByThreshold keeps donors whose best year reaches the threshold.
func FilterPivotByThreshold(pivot domain.PivotMatrix, threshold decimal.Decimal) domain.PivotMatrix {
	out := pivot
	out.Donors = make([]string, 0, len(pivot.Donors))
	for _, donor := range pivot.Donors {
		if pivot.Max(donor).GreaterThanOrEqual(threshold) {
			out.Donors = append(out.Donors, donor)
		}
	}
	return out
}

// FilterDeltaDonors restricts a delta matrix to the given donors, keeping their order.
func FilterDeltaDonors(delta domain.DeltaMatrix, donors []string) domain.DeltaMatrix {
	out := delta
	out.Donors = append([]string(nil), donors...)
	return out
}

var moneyPrinter = message.NewPrinter(language.English)

// FormatMoney renders whole currency units with thousands separators: "$1,234", "-$30".
func FormatMoney(d decimal.Decimal) string {
	rounded := d.Round(0)
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
		rounded = rounded.Neg()
	}
	return sign + "$" + moneyPrinter.Sprintf("%d", rounded.IntPart())
}

// formatDecimal formats a value for CSV output with exactly 2 decimal places
func formatDecimal(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
