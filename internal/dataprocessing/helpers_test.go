package dataprocessing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"donorpulse/pkg/contracts/domain"
)

func strp(s string) *string { return &s }

func amt(v int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(v))
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func ledgerColumns() []string {
	return []string{domain.ColumnName, domain.ColumnAccount, domain.ColumnAmount, domain.ColumnCredit, domain.ColumnSheet}
}

func total(name, sheet string, moneys int64) domain.NormalizedRow {
	return domain.NormalizedRow{Name: name, Sheet: sheet, Moneys: decimal.NewFromInt(moneys), IsTotal: true}
}

func detail(name, account, sheet string, moneys int64) domain.NormalizedRow {
	return domain.NormalizedRow{Name: name, Account: account, Sheet: sheet, Moneys: decimal.NewFromInt(moneys)}
}

// assertDecimal compares decimals by value so 150 and 150.00 are equal
func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	require.Truef(t, dec(t, want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}
