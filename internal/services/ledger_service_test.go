package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"donorpulse/internal/cache"
	"donorpulse/internal/config"
	apperrors "donorpulse/internal/errors"
	"donorpulse/internal/infrastructure"
	"donorpulse/pkg/contracts/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func ledgerConfig() config.LedgerConfig {
	return config.LedgerConfig{
		MatchPolicy:        "substring",
		HighlightThreshold: 2500,
		MinLastAmount:      2500,
		ParallelNormalize:  true,
		MaxWorkers:         2,
	}
}

// writeWorkbook builds a workbook with one header row per sheet.
func writeWorkbook(t *testing.T, header []interface{}, sheets []string, data map[string][][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, sheet := range sheets {
		if i == 0 {
			require.NoError(t, f.SetSheetName(f.GetSheetName(0), sheet))
		} else {
			_, err := f.NewSheet(sheet)
			require.NoError(t, err)
		}
		rows := append([][]interface{}{header}, data[sheet]...)
		for r := range rows {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(sheet, cell, &rows[r]))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return &buf
}

// donorLedger: Ann grows 300 -> 3000 -> 3500, Bob gives 500 once in 2020.
func donorLedger(t *testing.T) *bytes.Buffer {
	return writeWorkbook(t,
		[]interface{}{"", "Account", "Amount", "Credit"},
		[]string{"2020_FY", "2021_FY", "2022_FY"},
		map[string][][]interface{}{
			"2020_FY": {
				{"Ann", "4010 ∑ General", 300, nil},
				{"Total Ann", nil, 300, nil},
				{"Bob", "Events", nil, 500},
				{"Total Bob", nil, nil, 500},
			},
			"2021_FY": {
				{"Ann", "General", 3000, nil},
				{"Total Ann", nil, 3000, nil},
			},
			"2022_FY": {
				{"Ann", "General", 3500, nil},
				{"Total Ann", nil, 3500, nil},
			},
		})
}

func newService(t *testing.T, store cache.Store, opts ...LedgerServiceOption) *LedgerService {
	t.Helper()
	if store == nil {
		store = cache.NewMemory(time.Minute, 64)
	}
	svc, err := NewLedgerService(ledgerConfig(), store, 30*time.Minute, quietLogger(), opts...)
	require.NoError(t, err)
	return svc
}

func loadLedger(t *testing.T, svc *LedgerService) *SessionSummary {
	t.Helper()
	summary, err := svc.Load(context.Background(), donorLedger(t), "donors.xlsx")
	require.NoError(t, err)
	return summary
}

// spyStore counts hits and misses of a wrapped store.
type spyStore struct {
	cache.Store
	hits, misses int32
}

func (s *spyStore) FetchJSON(ctx context.Context, scope, key string, dest interface{}, loader cache.Loader) (bool, error) {
	hit, err := s.Store.FetchJSON(ctx, scope, key, dest, loader)
	if hit {
		atomic.AddInt32(&s.hits, 1)
	} else {
		atomic.AddInt32(&s.misses, 1)
	}
	return hit, err
}

// brokenStore fails every cache operation.
type brokenStore struct{}

var errCacheDown = errors.New("dial tcp 127.0.0.1:6379: connection refused")

func (brokenStore) Get(context.Context, string, string, interface{}) error { return errCacheDown }
func (brokenStore) FetchJSON(context.Context, string, string, interface{}, cache.Loader) (bool, error) {
	return false, errCacheDown
}
func (brokenStore) Invalidate(context.Context, string) error { return errCacheDown }
func (brokenStore) Close() error                             { return nil }

func TestNewLedgerService_InvalidPolicy(t *testing.T) {
	cfg := ledgerConfig()
	cfg.MatchPolicy = "fuzzy"
	_, err := NewLedgerService(cfg, nil, time.Minute, quietLogger())

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.ErrTypeConfig, appErr.Type)
}

func TestLedgerService_Load(t *testing.T) {
	svc := newService(t, nil)
	summary := loadLedger(t, svc)

	assert.NotEmpty(t, summary.ID)
	assert.Len(t, summary.Fingerprint, 64)
	assert.Equal(t, "donors.xlsx", summary.Filename)
	assert.Equal(t, 8, summary.Rows)
	assert.Equal(t, 2, summary.Donors)
	assert.Equal(t, []string{"2020_FY", "2021_FY", "2022_FY"}, summary.Sheets)
	assert.Equal(t, 8, summary.Stats.InputRows)
	assert.Empty(t, summary.Diagnostics.Unmatched)
	assert.Equal(t, 1, svc.ActiveSessions())

	again, err := svc.Summary(context.Background(), summary.ID)
	require.NoError(t, err)
	assert.Equal(t, summary.Fingerprint, again.Fingerprint)
}

func TestLedgerService_LoadErrors(t *testing.T) {
	tests := []struct {
		name     string
		input    func(t *testing.T) io.Reader
		wantType apperrors.ErrorType
	}{
		{
			name:     "not a workbook",
			input:    func(t *testing.T) io.Reader { return strings.NewReader("name,amount\nAnn,5\n") },
			wantType: apperrors.ErrTypeParsing,
		},
		{
			name: "missing account column",
			input: func(t *testing.T) io.Reader {
				return writeWorkbook(t, []interface{}{"", "Amount"}, []string{"2020_FY"}, map[string][][]interface{}{
					"2020_FY": {{"Ann", 10}},
				})
			},
			wantType: apperrors.ErrTypeSchema,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(t, nil)
			_, err := svc.Load(context.Background(), tt.input(t), "bad.xlsx")

			var appErr *apperrors.AppError
			require.True(t, errors.As(err, &appErr), "got %v", err)
			assert.Equal(t, tt.wantType, appErr.Type)
			assert.Zero(t, svc.ActiveSessions())
		})
	}
}

func TestLedgerService_SchemaErrorListsMissingColumns(t *testing.T) {
	svc := newService(t, nil)
	_, err := svc.LoadTable(context.Background(), &domain.RawTable{Columns: []string{domain.ColumnName, domain.ColumnSheet}}, "x")

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, []string{domain.ColumnAccount, domain.ColumnAmount + "|" + domain.ColumnCredit}, appErr.Context["missing"])
}

func TestLedgerService_UnknownSession(t *testing.T) {
	svc := newService(t, nil)
	ctx := context.Background()

	_, err := svc.Summary(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.Pivot(ctx, "missing", decimal.Zero)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, svc.Drop(ctx, "missing"), ErrSessionNotFound)
}

func TestLedgerService_Rows(t *testing.T) {
	svc := newService(t, nil)
	id := loadLedger(t, svc).ID
	ctx := context.Background()

	tests := []struct {
		name   string
		filter domain.RowFilter
		want   int
	}{
		{"no filter", domain.RowFilter{}, 8},
		{"search is case-insensitive", domain.RowFilter{Search: "ANN"}, 6},
		{"sheet", domain.RowFilter{Sheet: "2020_FY"}, 4},
		{"all sheets", domain.RowFilter{Sheet: "All"}, 8},
		{"account", domain.RowFilter{Account: "General"}, 3},
		{"combined", domain.RowFilter{Search: "bob", Account: "Events"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := svc.Rows(ctx, id, tt.filter)
			require.NoError(t, err)
			assert.Len(t, rows, tt.want)
		})
	}
}

func TestLedgerService_Filters(t *testing.T) {
	svc := newService(t, nil)
	id := loadLedger(t, svc).ID

	filters, err := svc.Filters(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"2020_FY", "2021_FY", "2022_FY"}, filters.Sheets)
	assert.Equal(t, []string{"Events", "General"}, filters.Accounts)
	assert.Equal(t, []string{"2022_FY", "2021_FY", "2020_FY"}, filters.Years)
}

func TestLedgerService_PivotAndDelta(t *testing.T) {
	svc := newService(t, nil)
	id := loadLedger(t, svc).ID
	ctx := context.Background()

	pivot, err := svc.Pivot(ctx, id, decimal.NewFromInt(2500))
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann"}, pivot.Donors)
	assert.Equal(t, []string{"2020_FY", "2021_FY", "2022_FY"}, pivot.Columns)
	assert.Equal(t, domain.OrderingChronological, pivot.Ordering)
	assert.True(t, decimal.NewFromInt(3500).Equal(pivot.Value("Ann", "2022_FY")))

	all, err := svc.Pivot(ctx, id, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann", "Bob"}, all.Donors)
	assert.True(t, all.Value("Bob", "2021_FY").IsZero())

	delta, err := svc.Delta(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"2022_FY", "2021_FY"}, delta.Columns)
	assert.True(t, decimal.NewFromInt(500).Equal(delta.Value("Ann", "2022_FY")))
	assert.True(t, decimal.NewFromInt(2700).Equal(delta.Value("Ann", "2021_FY")))
	assert.True(t, decimal.NewFromInt(-500).Equal(delta.Value("Bob", "2021_FY")))
}

func TestLedgerService_Lapsed(t *testing.T) {
	svc := newService(t, nil)
	id := loadLedger(t, svc).ID
	ctx := context.Background()
	year2020 := "2020_FY"
	year2021 := "2021_FY"

	tests := []struct {
		name  string
		query domain.LapsedQuery
		want  []string
	}{
		{"low minimum", domain.LapsedQuery{MinLastAmount: decimal.NewFromInt(100)}, []string{"Bob"}},
		{"minimum above last gift", domain.LapsedQuery{MinLastAmount: decimal.NewFromInt(600)}, []string{}},
		{"matching year", domain.LapsedQuery{MinLastAmount: decimal.Zero, FilterYear: &year2020}, []string{"Bob"}},
		{"other year", domain.LapsedQuery{MinLastAmount: decimal.Zero, FilterYear: &year2021}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lapsed, err := svc.Lapsed(ctx, id, tt.query)
			require.NoError(t, err)
			require.NotNil(t, lapsed)

			names := []string{}
			for _, rec := range lapsed {
				names = append(names, rec.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}

	lapsed, err := svc.Lapsed(ctx, id, domain.LapsedQuery{MinLastAmount: decimal.NewFromInt(100)})
	require.NoError(t, err)
	require.Len(t, lapsed, 1)
	assert.Equal(t, "2020_FY", lapsed[0].LastDonationYear)
	assert.Equal(t, []string{"2021_FY", "2022_FY"}, lapsed[0].LapsedIn)
	assert.True(t, decimal.NewFromInt(500).Equal(lapsed[0].TotalGiven))
}

// overlappingNames: "Total Anna" also contains "Ann", Bob's 2020 total has
// no detail row and 2022_FY carries no totals, so it is no pivot column.
func overlappingNames() *domain.RawTable {
	row := func(name, sheet string, amount int64) domain.RawRow {
		return domain.RawRow{Name: &name, Amount: decimal.NewNullDecimal(decimal.NewFromInt(amount)), Sheet: sheet}
	}
	return &domain.RawTable{
		Columns: []string{domain.ColumnName, domain.ColumnAccount, domain.ColumnAmount, domain.ColumnCredit, domain.ColumnSheet},
		Rows: []domain.RawRow{
			row("Ann", "2020_FY", 5),
			row("Anna", "2020_FY", 50),
			row("Total Anna", "2020_FY", 50),
			row("Total Ann", "2020_FY", 5),
			row("Total Bob", "2020_FY", 20),
			row("Ann", "2021_FY", 5),
			row("Total Ann", "2021_FY", 5),
			row("Ann", "2022_FY", 7),
		},
	}
}

func TestLedgerService_LapsedCountsEveryTotalRow(t *testing.T) {
	svc := newService(t, nil)
	ctx := context.Background()
	summary, err := svc.LoadTable(ctx, overlappingNames(), "overlap.xlsx")
	require.NoError(t, err)

	tests := []struct {
		name    string
		minLast int64
		want    []string
	}{
		{"nothing reaches the minimum", 60, []string{}},
		{"single total counted once", 30, []string{"Anna"}},
		{"unmatched totals still count", 10, []string{"Anna", "Bob"}},
		{"ongoing donor never lapsed", 0, []string{"Anna", "Bob"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lapsed, err := svc.Lapsed(ctx, summary.ID, domain.LapsedQuery{MinLastAmount: decimal.NewFromInt(tt.minLast)})
			require.NoError(t, err)
			names := []string{}
			for _, rec := range lapsed {
				names = append(names, rec.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}

	lapsed, err := svc.Lapsed(ctx, summary.ID, domain.LapsedQuery{MinLastAmount: decimal.NewFromInt(10)})
	require.NoError(t, err)
	require.NotEmpty(t, lapsed)
	anna := lapsed[0]
	assert.Equal(t, "Anna", anna.Name)
	assert.True(t, decimal.NewFromInt(50).Equal(anna.LastYearAmount), "got %s", anna.LastYearAmount)
	assert.True(t, decimal.NewFromInt(50).Equal(anna.TotalGiven), "got %s", anna.TotalGiven)
	assert.Equal(t, []string{"2021_FY"}, anna.LapsedIn)

	filters, err := svc.Filters(ctx, summary.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"2022_FY", "2021_FY", "2020_FY"}, filters.Years)
}

func TestLedgerService_Memoization(t *testing.T) {
	spy := &spyStore{Store: cache.NewMemory(time.Minute, 64)}
	svc := newService(t, spy)
	id := loadLedger(t, svc).ID
	ctx := context.Background()

	first, err := svc.Pivot(ctx, id, decimal.NewFromInt(2500))
	require.NoError(t, err)
	second, err := svc.Pivot(ctx, id, decimal.NewFromInt(2500))
	require.NoError(t, err)
	assert.Equal(t, first.Donors, second.Donors)
	assert.Equal(t, int32(1), atomic.LoadInt32(&spy.hits))
	assert.Equal(t, int32(1), atomic.LoadInt32(&spy.misses))

	// a different threshold is a different key
	_, err = svc.Pivot(ctx, id, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&spy.misses))
}

func TestLedgerService_CacheOutageFallsBack(t *testing.T) {
	svc := newService(t, brokenStore{})
	id := loadLedger(t, svc).ID

	pivot, err := svc.Pivot(context.Background(), id, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann", "Bob"}, pivot.Donors)

	assert.NoError(t, svc.Drop(context.Background(), id))
}

func TestLedgerService_DropInvalidatesCache(t *testing.T) {
	mem := cache.NewMemory(time.Minute, 64)
	svc := newService(t, mem)
	id := loadLedger(t, svc).ID
	ctx := context.Background()

	_, err := svc.Filters(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 1, mem.Len())

	require.NoError(t, svc.Drop(ctx, id))
	assert.Zero(t, mem.Len())
	assert.Zero(t, svc.ActiveSessions())

	_, err = svc.Filters(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestLedgerService_IdleExpiry(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	svc, err := NewLedgerService(ledgerConfig(), nil, 10*time.Minute, quietLogger(),
		WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	ctx := context.Background()

	kept := loadLedger(t, svc).ID
	idle := loadLedger(t, svc).ID

	now = now.Add(6 * time.Minute)
	_, err = svc.Summary(ctx, kept)
	require.NoError(t, err)

	now = now.Add(6 * time.Minute)
	assert.Equal(t, 1, svc.Sweep(ctx))
	_, err = svc.Summary(ctx, idle)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	now = now.Add(11 * time.Minute)
	_, err = svc.Summary(ctx, kept)
	assert.ErrorIs(t, err, ErrSessionNotFound, "lazy expiry on access")
	assert.Zero(t, svc.ActiveSessions())
}

func TestLedgerService_Report(t *testing.T) {
	svc := newService(t, nil)
	id := loadLedger(t, svc).ID

	opts := svc.DefaultReportOptions()
	opts.Lapsed.MinLastAmount = decimal.NewFromInt(100)

	report, err := svc.Report(context.Background(), id, opts)
	require.NoError(t, err)
	assert.Len(t, report.Ledger.Rows, 8)
	assert.Equal(t, []string{"Ann", "Bob"}, report.Pivot.Donors)
	assert.Len(t, report.Lapsed, 1)
	assert.True(t, decimal.NewFromInt(2500).Equal(report.Threshold))
	assert.True(t, report.ChangeThreshold.IsZero())
}

func TestLedgerService_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := infrastructure.CreateLedgerMetrics(mp.Meter("test"))
	require.NoError(t, err)

	svc := newService(t, nil, WithMetrics(metrics))
	id := loadLedger(t, svc).ID
	_, err = svc.Lapsed(context.Background(), id, domain.LapsedQuery{MinLastAmount: decimal.NewFromInt(100)})
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if sum, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					sums[md.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(1), sums["ledger_loads_total"])
	assert.Equal(t, int64(8), sums["ledger_rows_processed_total"])
	assert.Equal(t, int64(1), sums["ledger_lapsed_donors_total"])
	assert.Equal(t, int64(1), sums["ledger_active_sessions"])
	assert.Equal(t, int64(1), sums["ledger_cache_misses_total"])
}
