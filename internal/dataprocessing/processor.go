package dataprocessing

import (
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"donorpulse/pkg/contracts/domain"
)

// RowNormalizer turns raw ledger rows into normalized rows.
// It forward-fills donor names within each sheet, classifies total rows,
// coalesces Amount/Credit into Moneys and strips account prefixes.
type RowNormalizer struct {
	logger  *slog.Logger
	options NormalizeOptions
}

// NewRowNormalizer creates a new row normalizer
func NewRowNormalizer(logger *slog.Logger, options NormalizeOptions) *RowNormalizer {
	if logger == nil {
		logger = slog.Default()
	}
	if options.MaxWorkers <= 0 {
		options.MaxWorkers = 1
	}
	return &RowNormalizer{logger: logger, options: options}
}

// Normalize normalizes a raw table with default options.
func Normalize(table *domain.RawTable) ([]domain.NormalizedRow, error) {
	return NewRowNormalizer(nil, DefaultOptions()).Normalize(table)
}

// Normalize implements Normalizer
func (n *RowNormalizer) Normalize(table *domain.RawTable) ([]domain.NormalizedRow, error) {
	rows, _, err := n.NormalizeWithStats(table)
	return rows, err
}

// sheetResult is the normalized output of a single sheet
type sheetResult struct {
	rows      []domain.NormalizedRow
	noMoneys  int
	noName    int
	unlabeled int
	totals    int
}

// NormalizeWithStats normalizes the table and reports what was kept and dropped.
// Output preserves sheet first-appearance order and row order within each sheet.
func (n *RowNormalizer) NormalizeWithStats(table *domain.RawTable) ([]domain.NormalizedRow, domain.NormalizationStats, error) {
	stats := domain.NormalizationStats{RowsPerSheet: make(map[string]int)}
	if table == nil {
		return nil, stats, &SchemaError{Missing: requiredColumns()}
	}
	if err := ValidateSchema(table); err != nil {
		return nil, stats, err
	}
	stats.InputRows = len(table.Rows)

	sheets, grouped := groupBySheet(table.Rows)
	results := make([]sheetResult, len(sheets))

	if n.options.Parallel && len(sheets) > 1 {
		var g errgroup.Group
		g.SetLimit(n.options.MaxWorkers)
		for i, sheet := range sheets {
			i, sheet := i, sheet
			g.Go(func() error {
				results[i] = normalizeSheet(grouped[sheet])
				return nil
			})
		}
		// normalizeSheet never fails; Wait only joins the workers
		_ = g.Wait()
	} else {
		for i, sheet := range sheets {
			results[i] = normalizeSheet(grouped[sheet])
		}
	}

	var out []domain.NormalizedRow
	for i, sheet := range sheets {
		res := results[i]
		out = append(out, res.rows...)

		stats.RowsPerSheet[sheet] = len(res.rows)
		stats.DroppedNoMoneys += res.noMoneys
		stats.DroppedNoName += res.noName
		stats.UnlabeledAccounts += res.unlabeled
		stats.TotalRows += res.totals
		stats.DetailRows += len(res.rows) - res.totals

		if res.noName > 0 {
			n.logger.Debug("rows without a donor name to inherit were dropped",
				slog.String("sheet", sheet),
				slog.Int("count", res.noName))
		}
	}
	stats.KeptRows = len(out)

	n.logger.Debug("ledger normalized",
		slog.Int("input_rows", stats.InputRows),
		slog.Int("kept_rows", stats.KeptRows),
		slog.Int("dropped_no_moneys", stats.DroppedNoMoneys),
		slog.Int("sheets", len(sheets)))

	return out, stats, nil
}

// ValidateSchema checks that the columns the engine needs exist in the table.
func ValidateSchema(table *domain.RawTable) error {
	var missing []string
	if !table.HasColumn(domain.ColumnName) && !table.HasColumn(domain.ColumnUnnamed) {
		missing = append(missing, domain.ColumnName)
	}
	if !table.HasColumn(domain.ColumnAccount) {
		missing = append(missing, domain.ColumnAccount)
	}
	if !table.HasColumn(domain.ColumnAmount) && !table.HasColumn(domain.ColumnCredit) {
		missing = append(missing, domain.ColumnAmount+"|"+domain.ColumnCredit)
	}
	if !table.HasColumn(domain.ColumnSheet) {
		missing = append(missing, domain.ColumnSheet)
	}
	if len(missing) > 0 {
		return &SchemaError{Missing: missing}
	}
	return nil
}

func requiredColumns() []string {
	return []string{domain.ColumnName, domain.ColumnAccount, domain.ColumnAmount + "|" + domain.ColumnCredit, domain.ColumnSheet}
}

// groupBySheet splits rows by sheet, keeping sheet first-appearance order
func groupBySheet(rows []domain.RawRow) ([]string, map[string][]domain.RawRow) {
	var sheets []string
	grouped := make(map[string][]domain.RawRow)
	for _, row := range rows {
		if _, seen := grouped[row.Sheet]; !seen {
			sheets = append(sheets, row.Sheet)
		}
		grouped[row.Sheet] = append(grouped[row.Sheet], row)
	}
	return sheets, grouped
}

// normalizeSheet normalizes one sheet's rows in their original order.
// Names are carried forward before rows without moneys are dropped, so a
// donor heading row with no amount still names the detail rows under it.
func normalizeSheet(rows []domain.RawRow) sheetResult {
	var res sheetResult
	lastName := ""

	for _, raw := range rows {
		name := lastName
		if raw.Name != nil && strings.TrimSpace(*raw.Name) != "" {
			name = strings.TrimSpace(*raw.Name)
			lastName = name
		}

		moneys, ok := coalesce(raw.Amount, raw.Credit)
		if !ok {
			res.noMoneys++
			continue
		}
		if name == "" {
			res.noName++
			continue
		}

		row := domain.NormalizedRow{
			Name:    name,
			Moneys:  moneys,
			Sheet:   raw.Sheet,
			IsTotal: IsTotalName(name),
		}
		if row.IsTotal {
			res.totals++
		} else if raw.Account != nil && strings.TrimSpace(*raw.Account) != "" {
			row.Account = CleanAccount(*raw.Account)
		} else {
			res.unlabeled++
		}
		res.rows = append(res.rows, row)
	}

	return res
}

// coalesce prefers Amount over Credit
func coalesce(amount, credit decimal.NullDecimal) (decimal.Decimal, bool) {
	if amount.Valid {
		return amount.Decimal, true
	}
	if credit.Valid {
		return credit.Decimal, true
	}
	return decimal.Decimal{}, false
}
