package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"donorpulse/internal/cache"
	"donorpulse/internal/config"
	"donorpulse/internal/dataprocessing"
	apperrors "donorpulse/internal/errors"
	"donorpulse/internal/exporter"
	"donorpulse/internal/infrastructure"
	"donorpulse/internal/ingest"
	"donorpulse/pkg/contracts/domain"
)

// Session is one loaded ledger. Everything derived from it is recomputed
// from Table on demand and memoized in the cache under the session ID.
type Session struct {
	ID          string
	Filename    string
	Fingerprint string
	LoadedAt    time.Time
	Table       domain.AssembledTable
	// Normalized holds every kept row before assembly. Lapsed detection and
	// the year list read it so total rows no detail donor matched still count.
	Normalized  []domain.NormalizedRow
	Stats       domain.NormalizationStats
	Diagnostics dataprocessing.AssemblyDiagnostics

	mu       sync.Mutex
	lastUsed time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastUsed)
}

// SessionSummary describes a loaded ledger to callers.
type SessionSummary struct {
	ID          string                             `json:"id"`
	Filename    string                             `json:"filename"`
	Fingerprint string                             `json:"fingerprint"`
	LoadedAt    time.Time                          `json:"loaded_at"`
	Rows        int                                `json:"rows"`
	Donors      int                                `json:"donors"`
	Sheets      []string                           `json:"sheets"`
	Stats       domain.NormalizationStats          `json:"stats"`
	Diagnostics dataprocessing.AssemblyDiagnostics `json:"diagnostics"`
}

// ReportOptions selects the thresholds and lapsed query a report is built with.
type ReportOptions struct {
	Threshold       decimal.Decimal
	ChangeThreshold decimal.Decimal
	Lapsed          domain.LapsedQuery
}

// LedgerService loads ledgers into sessions and answers queries against them.
type LedgerService struct {
	cfg        config.LedgerConfig
	idleTTL    time.Duration
	normalizer *dataprocessing.RowNormalizer
	matcher    dataprocessing.TotalMatcher
	store      cache.Store
	tracer     trace.Tracer
	metrics    *infrastructure.LedgerMetrics
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// LedgerServiceOption customizes a LedgerService.
type LedgerServiceOption func(*LedgerService)

// WithTracer sets the tracer used for service spans.
func WithTracer(tracer trace.Tracer) LedgerServiceOption {
	return func(s *LedgerService) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithMetrics sets the instruments the service records into.
func WithMetrics(metrics *infrastructure.LedgerMetrics) LedgerServiceOption {
	return func(s *LedgerService) { s.metrics = metrics }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) LedgerServiceOption {
	return func(s *LedgerService) { s.now = now }
}

// NewLedgerService creates a ledger service. Sessions idle for longer than
// idleTTL are dropped; a non-positive idleTTL keeps them until dropped explicitly.
func NewLedgerService(cfg config.LedgerConfig, store cache.Store, idleTTL time.Duration, logger *slog.Logger, opts ...LedgerServiceOption) (*LedgerService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	matcher, err := dataprocessing.MatcherFor(cfg.MatchPolicy)
	if err != nil {
		return nil, apperrors.NewConfigError("invalid ledger match policy", err)
	}
	if store == nil {
		store = cache.NewMemory(idleTTL, 0)
	}

	s := &LedgerService{
		cfg:     cfg,
		idleTTL: idleTTL,
		normalizer: dataprocessing.NewRowNormalizer(logger, dataprocessing.NormalizeOptions{
			Parallel:   cfg.ParallelNormalize,
			MaxWorkers: cfg.MaxWorkers,
		}),
		matcher:  matcher,
		store:    store,
		tracer:   otel.Tracer("donorpulse/services"),
		logger:   logger.With(slog.String("component", "ledger_service")),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger.Info("LedgerService initialized",
		slog.String("match_policy", cfg.MatchPolicy),
		slog.Bool("parallel_normalize", cfg.ParallelNormalize),
		slog.Duration("idle_ttl", idleTTL))

	return s, nil
}

// Load reads a workbook, reconciles it and stores the result as a new session.
func (s *LedgerService) Load(ctx context.Context, r io.Reader, filename string) (*SessionSummary, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.load", trace.WithAttributes(attribute.String("ledger.filename", filename)))
	defer span.End()
	table, err := ingest.ReadWorkbook(r, ingest.Options{
		Logger:     infrastructure.ContextLogger(ctx, s.logger),
		SkipSheets: s.cfg.SkipSheets,
	})
	if err != nil {
		return nil, s.fail(ctx, "load", apperrors.NewParsingError("workbook could not be read", err).WithContext("filename", filename))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return s.LoadTable(ctx, table, filename)
}

// LoadTable reconciles an already ingested table into a new session.
func (s *LedgerService) LoadTable(ctx context.Context, table *domain.RawTable, filename string) (*SessionSummary, error) {
	session, err := s.reconcile(ctx, table, filename)
	if err != nil {
		return nil, s.fail(ctx, "load", err)
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	active := len(s.sessions)
	s.mu.Unlock()

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("ledger.session_id", session.ID),
		attribute.Int("ledger.rows", len(session.Table.Rows)),
	)
	if s.metrics != nil {
		s.metrics.LedgersLoaded.Add(ctx, 1)
		s.metrics.RowsProcessed.Add(ctx, int64(session.Stats.InputRows))
		s.metrics.RowsDropped.Add(ctx, int64(session.Stats.DroppedNoMoneys+session.Stats.DroppedNoName))
		s.metrics.ActiveSessions.Add(ctx, 1)
	}

	infrastructure.WithSession(s.logger, session.ID).InfoContext(ctx, "ledger loaded",
		slog.String("filename", filename),
		slog.String("fingerprint", session.Fingerprint),
		slog.Int("input_rows", session.Stats.InputRows),
		slog.Int("kept_rows", session.Stats.KeptRows),
		slog.Int("ambiguous_matches", len(session.Diagnostics.Ambiguous)),
		slog.Int("active_sessions", active))

	summary := s.summarize(session)
	return &summary, nil
}

// reconcile normalizes and assembles a raw table
func (s *LedgerService) reconcile(ctx context.Context, table *domain.RawTable, filename string) (*Session, error) {
	_, span := s.tracer.Start(ctx, "ledger.reconcile")
	defer span.End()

	var fingerprint string
	if table != nil {
		fingerprint = dataprocessing.Fingerprint(table)
	}

	rows, stats, err := s.normalizer.NormalizeWithStats(table)
	if err != nil {
		var schemaErr *dataprocessing.SchemaError
		if errors.As(err, &schemaErr) {
			return nil, apperrors.NewSchemaError("ledger is missing required columns", err).
				WithContext("missing", schemaErr.Missing)
		}
		return nil, err
	}

	assembled, diag := dataprocessing.AssembleWithDiagnostics(rows, s.matcher)
	now := s.now()
	return &Session{
		ID:          uuid.NewString(),
		Filename:    filename,
		Fingerprint: fingerprint,
		LoadedAt:    now,
		Table:       assembled,
		Normalized:  rows,
		Stats:       stats,
		Diagnostics: diag,
		lastUsed:    now,
	}, nil
}

// Session returns a live session, refreshing its idle timer.
func (s *LedgerService) Session(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	now := s.now()
	if s.idleTTL > 0 && session.idleSince(now) > s.idleTTL {
		s.remove(ctx, id, "expired")
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	session.touch(now)
	return session, nil
}

// Summary describes a loaded session.
func (s *LedgerService) Summary(ctx context.Context, id string) (*SessionSummary, error) {
	session, err := s.Session(ctx, id)
	if err != nil {
		return nil, err
	}
	summary := s.summarize(session)
	return &summary, nil
}

// Drop forgets a session and its memoized results.
func (s *LedgerService) Drop(ctx context.Context, id string) error {
	if !s.remove(ctx, id, "dropped") {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// Sweep drops every session idle for longer than the idle TTL and returns how many were dropped.
func (s *LedgerService) Sweep(ctx context.Context) int {
	if s.idleTTL <= 0 {
		return 0
	}
	now := s.now()
	var expired []string
	s.mu.RLock()
	for id, session := range s.sessions {
		if session.idleSince(now) > s.idleTTL {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	dropped := 0
	for _, id := range expired {
		if s.remove(ctx, id, "expired") {
			dropped++
		}
	}
	return dropped
}

// RunJanitor sweeps idle sessions every interval until ctx is done.
func (s *LedgerService) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(ctx); n > 0 {
				s.logger.InfoContext(ctx, "idle ledger sessions dropped", slog.Int("count", n))
			}
		}
	}
}

// ActiveSessions returns the number of loaded sessions.
func (s *LedgerService) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *LedgerService) remove(ctx context.Context, id, reason string) bool {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return false
	}

	if err := s.store.Invalidate(ctx, id); err != nil {
		infrastructure.WithSession(s.logger, id).WarnContext(ctx, "failed to invalidate session cache",
			slog.String("error", err.Error()))
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(ctx, -1)
	}
	infrastructure.WithSession(s.logger, id).InfoContext(ctx, "ledger session removed",
		slog.String("reason", reason))
	return true
}

// Rows returns the reconciled ledger rows matching filter.
func (s *LedgerService) Rows(ctx context.Context, id string, filter domain.RowFilter) ([]domain.NormalizedRow, error) {
	session, err := s.Session(ctx, id)
	if err != nil {
		return nil, err
	}
	var rows []domain.NormalizedRow
	params := strings.Join([]string{filter.Search, filter.Sheet, filter.Account}, "\x1f")
	err = s.memoize(ctx, session, "rows", params, &rows, func() interface{} {
		return dataprocessing.FilterRows(session.Table.Rows, filter)
	})
	return rows, err
}

// Filters returns the dropdown values for a session.
func (s *LedgerService) Filters(ctx context.Context, id string) (domain.LedgerFilters, error) {
	var filters domain.LedgerFilters
	session, err := s.Session(ctx, id)
	if err != nil {
		return filters, err
	}
	err = s.memoize(ctx, session, "filters", "", &filters, func() interface{} {
		f := dataprocessing.Filters(session.Table.Rows)
		f.Years = dataprocessing.YearValues(session.Normalized)
		return f
	})
	return filters, err
}

// Pivot returns the donor × year matrix restricted to donors whose best year
// reaches threshold.
func (s *LedgerService) Pivot(ctx context.Context, id string, threshold decimal.Decimal) (domain.PivotMatrix, error) {
	var pivot domain.PivotMatrix
	session, err := s.Session(ctx, id)
	if err != nil {
		return pivot, err
	}
	err = s.memoize(ctx, session, "pivot", threshold.String(), &pivot, func() interface{} {
		return exporter.FilterPivotByThreshold(dataprocessing.BuildPivot(session.Table.Rows), threshold)
	})
	return pivot, err
}

// Delta returns the year-over-year change matrix for every donor.
func (s *LedgerService) Delta(ctx context.Context, id string) (domain.DeltaMatrix, error) {
	var delta domain.DeltaMatrix
	session, err := s.Session(ctx, id)
	if err != nil {
		return delta, err
	}
	err = s.memoize(ctx, session, "delta", "", &delta, func() interface{} {
		return dataprocessing.BuildDelta(dataprocessing.BuildPivot(session.Table.Rows))
	})
	return delta, err
}

// Lapsed returns donors whose giving stopped after their last positive year.
// It scans every normalized total row, not the assembled table, which may
// repeat or omit totals depending on the match policy.
func (s *LedgerService) Lapsed(ctx context.Context, id string, query domain.LapsedQuery) ([]domain.LapsedRecord, error) {
	session, err := s.Session(ctx, id)
	if err != nil {
		return nil, err
	}
	params := query.MinLastAmount.String()
	if query.FilterYear != nil {
		params += "\x1f" + *query.FilterYear
	}

	lapsed := []domain.LapsedRecord{}
	err = s.memoize(ctx, session, "lapsed", params, &lapsed, func() interface{} {
		return dataprocessing.FindLapsedFromRows(session.Normalized, query)
	})
	if err == nil && s.metrics != nil {
		s.metrics.LapsedDonors.Add(ctx, int64(len(lapsed)))
	}
	return lapsed, err
}

// Report gathers everything the report exporters render.
func (s *LedgerService) Report(ctx context.Context, id string, opts ReportOptions) (exporter.Report, error) {
	session, err := s.Session(ctx, id)
	if err != nil {
		return exporter.Report{}, err
	}
	pivot, err := s.Pivot(ctx, id, decimal.Zero)
	if err != nil {
		return exporter.Report{}, err
	}
	delta, err := s.Delta(ctx, id)
	if err != nil {
		return exporter.Report{}, err
	}
	lapsed, err := s.Lapsed(ctx, id, opts.Lapsed)
	if err != nil {
		return exporter.Report{}, err
	}
	return exporter.Report{
		Ledger:          session.Table,
		Pivot:           pivot,
		Delta:           delta,
		Lapsed:          lapsed,
		Threshold:       opts.Threshold,
		ChangeThreshold: opts.ChangeThreshold,
	}, nil
}

// DefaultReportOptions builds report options from the configured defaults.
func (s *LedgerService) DefaultReportOptions() ReportOptions {
	return ReportOptions{
		Threshold:       decimal.NewFromFloat(s.cfg.HighlightThreshold),
		ChangeThreshold: decimal.NewFromFloat(s.cfg.ChangeThreshold),
		Lapsed:          domain.LapsedQuery{MinLastAmount: decimal.NewFromFloat(s.cfg.MinLastAmount)},
	}
}

// memoize runs compute through the cache under the session's scope. The key
// carries the content fingerprint so identical ledgers never share stale
// results across reloads. A failing cache falls back to computing directly.
func (s *LedgerService) memoize(ctx context.Context, session *Session, query, params string, dest interface{}, compute func() interface{}) error {
	ctx, span := s.tracer.Start(ctx, "ledger."+query, trace.WithAttributes(
		attribute.String("ledger.session_id", session.ID),
		attribute.String("ledger.query", query),
	))
	defer span.End()

	start := time.Now()
	key := cache.Key(query, session.Fingerprint, params)
	hit, err := s.store.FetchJSON(ctx, session.ID, key, dest, func(context.Context) (interface{}, error) {
		return compute(), nil
	})
	if err != nil {
		s.logger.WarnContext(ctx, "ledger cache unavailable, computing directly",
			slog.String("query", query),
			slog.String("error", err.Error()))
		infrastructure.RecordError(ctx, err)
		hit = false
		err = roundTrip(compute(), dest)
	}

	span.SetAttributes(attribute.Bool("ledger.cache_hit", hit))
	infrastructure.RecordQuery(ctx, s.metrics, query, time.Since(start), hit, err)
	return err
}

// roundTrip copies value into dest through JSON so both paths decode identically
func roundTrip(value, dest interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func (s *LedgerService) fail(ctx context.Context, op string, err error) error {
	infrastructure.RecordError(ctx, err)
	if s.metrics != nil {
		s.metrics.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
	}
	return err
}

func (s *LedgerService) summarize(session *Session) SessionSummary {
	var sheets []string
	seen := make(map[string]bool)
	for _, row := range session.Table.Rows {
		if !seen[row.Sheet] {
			seen[row.Sheet] = true
			sheets = append(sheets, row.Sheet)
		}
	}
	if sheets == nil {
		sheets = []string{}
	}
	return SessionSummary{
		ID:          session.ID,
		Filename:    session.Filename,
		Fingerprint: session.Fingerprint,
		LoadedAt:    session.LoadedAt,
		Rows:        len(session.Table.Rows),
		Donors:      countDonors(session.Table.Rows),
		Sheets:      sheets,
		Stats:       session.Stats,
		Diagnostics: session.Diagnostics,
	}
}

// countDonors counts distinct donor names across detail rows
func countDonors(rows []domain.NormalizedRow) int {
	donors := make(map[string]struct{})
	for _, row := range rows {
		if !row.IsTotal {
			donors[row.Name] = struct{}{}
		}
	}
	return len(donors)
}
