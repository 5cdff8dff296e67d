package http

import (
	"context"
	"io"

	"github.com/shopspring/decimal"

	"donorpulse/internal/exporter"
	"donorpulse/internal/services"
	"donorpulse/pkg/contracts/domain"
)

// LedgerServiceInterface defines the ledger operations the HTTP layer needs
type LedgerServiceInterface interface {
	Load(ctx context.Context, r io.Reader, filename string) (*services.SessionSummary, error)
	Summary(ctx context.Context, id string) (*services.SessionSummary, error)
	Drop(ctx context.Context, id string) error

	Rows(ctx context.Context, id string, filter domain.RowFilter) ([]domain.NormalizedRow, error)
	Filters(ctx context.Context, id string) (domain.LedgerFilters, error)
	Pivot(ctx context.Context, id string, threshold decimal.Decimal) (domain.PivotMatrix, error)
	Delta(ctx context.Context, id string) (domain.DeltaMatrix, error)
	Lapsed(ctx context.Context, id string, query domain.LapsedQuery) ([]domain.LapsedRecord, error)
	Report(ctx context.Context, id string, opts services.ReportOptions) (exporter.Report, error)

	DefaultReportOptions() services.ReportOptions
}
