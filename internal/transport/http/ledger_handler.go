package http

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/shopspring/decimal"

	apierrors "donorpulse/internal/errors"
	"donorpulse/internal/exporter"
	ledgermw "donorpulse/internal/middleware"
	"donorpulse/internal/services"
	"donorpulse/pkg/contracts/domain"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	reportFilename  = "donor-report.xlsx"

	// multipart parts beyond this are spooled to disk by net/http
	multipartMemory = 8 << 20
)

// LedgerHandler serves ledger sessions and their analytics
type LedgerHandler struct {
	service        LedgerServiceInterface
	logger         *slog.Logger
	errorHandler   *apierrors.ErrorHandler
	validator      *ledgermw.Validator
	params         *ledgermw.QueryParamValidator
	maxUploadBytes int64
}

// NewLedgerHandler creates a ledger handler. A non-positive maxUploadBytes disables the upload limit.
func NewLedgerHandler(service LedgerServiceInterface, logger *slog.Logger, errorHandler *apierrors.ErrorHandler, maxUploadBytes int64) *LedgerHandler {
	return &LedgerHandler{
		service:        service,
		logger:         logger.With(slog.String("component", "ledger_handler")),
		errorHandler:   errorHandler,
		validator:      ledgermw.NewValidator(logger),
		params:         ledgermw.NewQueryParamValidator(logger, errorHandler),
		maxUploadBytes: maxUploadBytes,
	}
}

// Routes returns the ledger routes, mounted under /api/ledgers.
// uploadMiddleware wraps only the upload endpoint.
func (h *LedgerHandler) Routes(uploadMiddleware ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	upload := make([]func(http.Handler) http.Handler, 0, len(uploadMiddleware)+1)
	upload = append(upload, uploadMiddleware...)
	upload = append(upload, ledgermw.ContentTypeValidator(h.errorHandler, "multipart/form-data"))
	r.With(upload...).Post("/", h.Upload)

	r.Route("/{id}", func(r chi.Router) {
		r.Use(h.LedgerCtx)
		r.Get("/", h.GetSummary)
		r.Delete("/", h.Drop)
		r.Get("/rows", h.GetRows)
		r.Get("/filters", h.GetFilters)
		r.Get("/pivot", h.GetPivot)
		r.Get("/delta", h.GetDelta)
		r.Get("/lapsed", h.GetLapsed)
		r.Get("/report.xlsx", h.DownloadReport)
	})

	return r
}

type ledgerIDParam struct {
	ID string `json:"id" validate:"required,uuid"`
}

// LedgerCtx rejects session IDs that cannot have been issued
func (h *LedgerHandler) LedgerCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.validator.ValidateStruct(ledgerIDParam{ID: chi.URLParam(r, "id")}); err != nil {
			h.errorHandler.HandleError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type uploadRequest struct {
	Filename string `json:"filename" validate:"filename"`
}

// Upload handles POST /api/ledgers
func (h *LedgerHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.errorHandler.HandleError(w, r, apierrors.ErrPayloadTooLarge)
			return
		}
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			h.errorHandler.HandleError(w, r, apierrors.ErrMissingUpload)
			return
		}
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	defer file.Close()

	req := uploadRequest{Filename: filepath.Base(header.Filename)}
	if err := h.validator.ValidateStruct(req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "ledger upload received",
		slog.String("request_id", middleware.GetReqID(ctx)),
		slog.String("filename", req.Filename),
		slog.Int64("size", header.Size))

	summary, err := h.service.Load(ctx, file, req.Filename)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+summary.ID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, summary)
}

// GetSummary handles GET /api/ledgers/{id}
func (h *LedgerHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	render.JSON(w, r, summary)
}

// Drop handles DELETE /api/ledgers/{id}
func (h *LedgerHandler) Drop(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Drop(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetRows handles GET /api/ledgers/{id}/rows
func (h *LedgerHandler) GetRows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.RowFilter{
		Search:  q.Get("search"),
		Sheet:   q.Get("sheet"),
		Account: q.Get("account"),
	}
	if err := h.validator.ValidateStruct(filter); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	rows, err := h.service.Rows(r.Context(), chi.URLParam(r, "id"), filter)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if rows == nil {
		rows = []domain.NormalizedRow{}
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   rows,
		"count":  len(rows),
	})
}

// GetFilters handles GET /api/ledgers/{id}/filters
func (h *LedgerHandler) GetFilters(w http.ResponseWriter, r *http.Request) {
	filters, err := h.service.Filters(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	render.JSON(w, r, filters)
}

// MatrixCell is one highlighted value of a pivot or change table
type MatrixCell struct {
	Column  string             `json:"column"`
	Value   decimal.Decimal    `json:"value"`
	Display string             `json:"display"`
	Class   exporter.CellClass `json:"class"`
}

// MatrixRow is one donor's line of a pivot or change table
type MatrixRow struct {
	Donor string           `json:"donor"`
	Cells []MatrixCell     `json:"cells"`
	Total *decimal.Decimal `json:"total,omitempty"`
}

// PivotResponse is the display-ready pivot table
type PivotResponse struct {
	Columns   []string              `json:"columns"`
	Ordering  domain.ColumnOrdering `json:"ordering"`
	Threshold decimal.Decimal       `json:"threshold"`
	Rows      []MatrixRow           `json:"rows"`
}

// DeltaResponse is the display-ready change table
type DeltaResponse struct {
	Columns         []string        `json:"columns"`
	ChangeThreshold decimal.Decimal `json:"change_threshold"`
	Rows            []MatrixRow     `json:"rows"`
}

// GetPivot handles GET /api/ledgers/{id}/pivot?threshold=
func (h *LedgerHandler) GetPivot(w http.ResponseWriter, r *http.Request) {
	defaults := h.service.DefaultReportOptions()
	threshold, ok := h.params.ValidateAmount(w, r, "threshold", defaults.Threshold)
	if !ok {
		return
	}

	pivot, err := h.service.Pivot(r.Context(), chi.URLParam(r, "id"), threshold)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	columns := pivot.Display()
	resp := PivotResponse{
		Columns:   columns,
		Ordering:  pivot.Ordering,
		Threshold: threshold,
		Rows:      make([]MatrixRow, 0, len(pivot.Donors)),
	}
	for _, donor := range pivot.Donors {
		total := pivot.Total(donor)
		row := MatrixRow{Donor: donor, Total: &total, Cells: make([]MatrixCell, 0, len(columns))}
		for _, col := range columns {
			v := pivot.Value(donor, col)
			row.Cells = append(row.Cells, MatrixCell{
				Column:  col,
				Value:   v,
				Display: exporter.FormatMoney(v),
				Class:   exporter.ClassifyCell(v, threshold),
			})
		}
		resp.Rows = append(resp.Rows, row)
	}

	render.JSON(w, r, resp)
}

// GetDelta handles GET /api/ledgers/{id}/delta?change_threshold=&threshold=.
// When threshold is given only donors shown in the matching pivot are listed.
func (h *LedgerHandler) GetDelta(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	defaults := h.service.DefaultReportOptions()

	changeThreshold, ok := h.params.ValidateAmount(w, r, "change_threshold", defaults.ChangeThreshold)
	if !ok {
		return
	}

	delta, err := h.service.Delta(ctx, id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	if r.URL.Query().Has("threshold") {
		threshold, ok := h.params.ValidateAmount(w, r, "threshold", defaults.Threshold)
		if !ok {
			return
		}
		pivot, err := h.service.Pivot(ctx, id, threshold)
		if err != nil {
			h.handleServiceError(w, r, err)
			return
		}
		delta = exporter.FilterDeltaDonors(delta, pivot.Donors)
	}

	resp := DeltaResponse{
		Columns:         delta.Columns,
		ChangeThreshold: changeThreshold,
		Rows:            make([]MatrixRow, 0, len(delta.Donors)),
	}
	for _, donor := range delta.Donors {
		row := MatrixRow{Donor: donor, Cells: make([]MatrixCell, 0, len(delta.Columns))}
		for _, col := range delta.Columns {
			v := delta.Value(donor, col)
			row.Cells = append(row.Cells, MatrixCell{
				Column:  col,
				Value:   v,
				Display: exporter.FormatMoney(v),
				Class:   exporter.ClassifyChange(v, changeThreshold),
			})
		}
		resp.Rows = append(resp.Rows, row)
	}

	render.JSON(w, r, resp)
}

type lapsedParams struct {
	Year string `json:"year" validate:"sheetlabel"`
}

// lapsedQuery reads year and min_last_amount, writing a problem on failure
func (h *LedgerHandler) lapsedQuery(w http.ResponseWriter, r *http.Request, defaults domain.LapsedQuery) (domain.LapsedQuery, bool) {
	params := lapsedParams{Year: strings.TrimSpace(r.URL.Query().Get("year"))}
	if err := h.validator.ValidateStruct(params); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return domain.LapsedQuery{}, false
	}

	minLast, ok := h.params.ValidateAmount(w, r, "min_last_amount", defaults.MinLastAmount)
	if !ok {
		return domain.LapsedQuery{}, false
	}

	query := domain.LapsedQuery{MinLastAmount: minLast}
	if params.Year != "" && params.Year != "All" {
		query.FilterYear = &params.Year
	}
	return query, true
}

// GetLapsed handles GET /api/ledgers/{id}/lapsed?year=&min_last_amount=
func (h *LedgerHandler) GetLapsed(w http.ResponseWriter, r *http.Request) {
	query, ok := h.lapsedQuery(w, r, h.service.DefaultReportOptions().Lapsed)
	if !ok {
		return
	}

	lapsed, err := h.service.Lapsed(r.Context(), chi.URLParam(r, "id"), query)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   lapsed,
		"count":  len(lapsed),
	})
}

// DownloadReport handles GET /api/ledgers/{id}/report.xlsx
func (h *LedgerHandler) DownloadReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	opts := h.service.DefaultReportOptions()

	var ok bool
	if opts.Threshold, ok = h.params.ValidateAmount(w, r, "threshold", opts.Threshold); !ok {
		return
	}
	if opts.ChangeThreshold, ok = h.params.ValidateAmount(w, r, "change_threshold", opts.ChangeThreshold); !ok {
		return
	}
	if opts.Lapsed, ok = h.lapsedQuery(w, r, opts.Lapsed); !ok {
		return
	}

	report, err := h.service.Report(ctx, chi.URLParam(r, "id"), opts)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	// render fully before writing so a failure can still become a problem response
	var buf bytes.Buffer
	if err := exporter.WriteWorkbook(&buf, report); err != nil {
		h.errorHandler.HandleError(w, r, fmt.Errorf("failed to render report: %w", err))
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", reportFilename))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.WarnContext(ctx, "report download interrupted", slog.String("error", err.Error()))
	}
}

// handleServiceError maps service sentinels to API errors before rendering
func (h *LedgerHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, services.ErrSessionNotFound) {
		h.errorHandler.HandleError(w, r, apierrors.ErrLedgerNotFound)
		return
	}
	h.errorHandler.HandleError(w, r, err)
}
