package dataprocessing

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donorpulse/pkg/contracts/domain"
)

func TestNormalize_ForwardFill(t *testing.T) {
	table := &domain.RawTable{
		Columns: ledgerColumns(),
		Rows: []domain.RawRow{
			{Name: strp("Alice"), Account: strp("4010 ∑ General"), Amount: amt(100), Sheet: "2021_FY"},
			{Account: strp("4020 ∑ Events"), Amount: amt(50), Sheet: "2021_FY"},
			{Name: strp("Total Alice"), Amount: amt(150), Sheet: "2021_FY"},
		},
	}

	rows, err := Normalize(table)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "Alice", rows[0].Name)
	assert.Equal(t, "Alice", rows[1].Name)
	assert.Equal(t, "Events", rows[1].Account)
	assert.Equal(t, "Total Alice", rows[2].Name)
	assert.True(t, rows[2].IsTotal)
	assert.Empty(t, rows[2].Account)
}

func TestNormalize_ForwardFillDoesNotCrossSheets(t *testing.T) {
	table := &domain.RawTable{
		Columns: ledgerColumns(),
		Rows: []domain.RawRow{
			{Name: strp("Alice"), Account: strp("General"), Amount: amt(100), Sheet: "2021_FY"},
			{Account: strp("General"), Amount: amt(25), Sheet: "2022_FY"},
			{Name: strp("Bob"), Account: strp("General"), Amount: amt(40), Sheet: "2022_FY"},
		},
	}

	rows, stats, err := NewRowNormalizer(slog.Default(), DefaultOptions()).NormalizeWithStats(table)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Alice", rows[0].Name)
	assert.Equal(t, "Bob", rows[1].Name)
	assert.Equal(t, 1, stats.DroppedNoName)
	assert.Equal(t, map[string]int{"2021_FY": 1, "2022_FY": 1}, stats.RowsPerSheet)
}

func TestNormalize_BlankNameTakesDonorAbove(t *testing.T) {
	table := &domain.RawTable{
		Columns: ledgerColumns(),
		Rows: []domain.RawRow{
			{Name: strp("Alice"), Account: strp("General"), Amount: amt(100), Sheet: "2021_FY"},
			{Name: strp("   "), Account: strp("Events"), Amount: amt(20), Sheet: "2021_FY"},
			{Name: strp(" Total Alice "), Amount: amt(120), Sheet: "2021_FY"},
		},
	}

	rows, err := Normalize(table)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Alice", rows[1].Name)
	assert.Equal(t, "Total Alice", rows[2].Name)
	assert.True(t, rows[2].IsTotal)
}

func TestNormalize_Coalesce(t *testing.T) {
	tests := []struct {
		name    string
		amount  decimal.NullDecimal
		credit  decimal.NullDecimal
		want    string
		dropped bool
	}{
		{name: "amount wins over credit", amount: amt(10), credit: amt(5), want: "10"},
		{name: "credit when amount absent", credit: amt(7), want: "7"},
		{name: "neither present", dropped: true},
		{name: "zero amount is present", amount: amt(0), credit: amt(9), want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := &domain.RawTable{
				Columns: ledgerColumns(),
				Rows: []domain.RawRow{
					{Name: strp("Carol"), Account: strp("General"), Amount: tt.amount, Credit: tt.credit, Sheet: "2021_FY"},
				},
			}
			rows, stats, err := NewRowNormalizer(nil, DefaultOptions()).NormalizeWithStats(table)
			require.NoError(t, err)
			if tt.dropped {
				assert.Empty(t, rows)
				assert.Equal(t, 1, stats.DroppedNoMoneys)
				return
			}
			require.Len(t, rows, 1)
			assertDecimal(t, tt.want, rows[0].Moneys)
		})
	}
}

func TestNormalize_NameHeadingWithoutMoneysStillFills(t *testing.T) {
	table := &domain.RawTable{
		Columns: ledgerColumns(),
		Rows: []domain.RawRow{
			{Name: strp("Dana"), Sheet: "2021_FY"},
			{Account: strp("General"), Amount: amt(20), Sheet: "2021_FY"},
		},
	}
	rows, err := Normalize(table)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Dana", rows[0].Name)
}

func TestNormalize_UnlabeledAccountKept(t *testing.T) {
	table := &domain.RawTable{
		Columns: ledgerColumns(),
		Rows: []domain.RawRow{
			{Name: strp("Eve"), Amount: amt(20), Sheet: "2021_FY"},
			{Name: strp("Eve"), Account: strp("   "), Amount: amt(30), Sheet: "2021_FY"},
		},
	}
	rows, stats, err := NewRowNormalizer(nil, DefaultOptions()).NormalizeWithStats(table)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Empty(t, rows[0].Account)
	assert.Empty(t, rows[1].Account)
	assert.Equal(t, 2, stats.UnlabeledAccounts)
	assert.Equal(t, 2, stats.DetailRows)
}

func TestNormalize_SchemaError(t *testing.T) {
	tests := []struct {
		name    string
		columns []string
		missing []string
	}{
		{
			name:    "missing sheet",
			columns: []string{domain.ColumnName, domain.ColumnAccount, domain.ColumnAmount},
			missing: []string{domain.ColumnSheet},
		},
		{
			name:    "no money columns",
			columns: []string{domain.ColumnName, domain.ColumnAccount, domain.ColumnSheet},
			missing: []string{"Amount|Credit"},
		},
		{
			name:    "unnamed column satisfies name",
			columns: []string{domain.ColumnUnnamed, domain.ColumnAccount, domain.ColumnCredit, domain.ColumnSheet},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(&domain.RawTable{Columns: tt.columns})
			if tt.missing == nil {
				assert.NoError(t, err)
				return
			}
			var schemaErr *SchemaError
			require.True(t, errors.As(err, &schemaErr))
			assert.Equal(t, tt.missing, schemaErr.Missing)
			assert.Contains(t, err.Error(), "missing required columns")
		})
	}

	_, err := Normalize(nil)
	assert.Error(t, err)
}

func TestNormalize_ParallelMatchesSequential(t *testing.T) {
	table := &domain.RawTable{Columns: ledgerColumns()}
	sheets := []string{"2023_FY", "2021_FY", "2022_FY", "2020_FY", "2019_FY"}
	for _, sheet := range sheets {
		table.Rows = append(table.Rows,
			domain.RawRow{Name: strp("Alice"), Account: strp("1 ∑ A"), Amount: amt(10), Sheet: sheet},
			domain.RawRow{Account: strp("B"), Credit: amt(5), Sheet: sheet},
			domain.RawRow{Name: strp("Total Alice"), Amount: amt(15), Sheet: sheet},
		)
	}

	parallel, err := NewRowNormalizer(nil, NormalizeOptions{Parallel: true, MaxWorkers: 3}).Normalize(table)
	require.NoError(t, err)
	sequential, err := NewRowNormalizer(nil, NormalizeOptions{}).Normalize(table)
	require.NoError(t, err)

	assert.Equal(t, sequential, parallel)
	assert.Equal(t, "2023_FY", parallel[0].Sheet)
	assert.Equal(t, "2019_FY", parallel[len(parallel)-1].Sheet)
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	table := &domain.RawTable{
		Columns: ledgerColumns(),
		Rows: []domain.RawRow{
			{Name: strp(" Alice "), Account: strp("4010 ∑ General"), Amount: amt(100), Sheet: "2021_FY"},
			{Amount: amt(5), Sheet: "2021_FY"},
		},
	}
	_, err := Normalize(table)
	require.NoError(t, err)
	assert.Equal(t, " Alice ", *table.Rows[0].Name)
	assert.Equal(t, "4010 ∑ General", *table.Rows[0].Account)
	assert.Nil(t, table.Rows[1].Name)
}
