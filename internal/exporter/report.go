package exporter

import (
	"log/slog"

	"github.com/shopspring/decimal"

	apperrors "donorpulse/internal/errors"
	"donorpulse/pkg/contracts/domain"
)

// Report bundles everything a ledger report renders.
type Report struct {
	Ledger          domain.AssembledTable
	Pivot           domain.PivotMatrix
	Delta           domain.DeltaMatrix
	Lapsed          []domain.LapsedRecord
	Threshold       decimal.Decimal
	ChangeThreshold decimal.Decimal
}

// Report file names written by ReportExporter.
const (
	LedgerFile = "ledger.csv"
	PivotFile  = "pivot.csv"
	ChangeFile = "change.csv"
	LapsedFile = "lapsed.csv"
	ReportFile = "report.xlsx"
)

// ReportExporter writes a report as CSV files plus an XLSX workbook.
type ReportExporter struct {
	csvWriter *CSVWriter
	logger    *slog.Logger
}

// NewReportExporter creates a new report exporter writing under outputDir
func NewReportExporter(outputDir string, logger *slog.Logger) *ReportExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportExporter{
		csvWriter: NewCSVWriter(outputDir, logger),
		logger:    logger,
	}
}

// Export writes every report file and returns their paths.
func (e *ReportExporter) Export(report Report) ([]string, error) {
	var written []string

	stream, err := e.csvWriter.CreateStreamWriter(LedgerFile, LedgerHeaders)
	if err != nil {
		return written, exportError(LedgerFile, err)
	}
	for _, record := range LedgerRecords(report.Ledger) {
		if err := stream.WriteRecord(record); err != nil {
			stream.Close()
			return written, exportError(LedgerFile, err)
		}
	}
	if err := stream.Close(); err != nil {
		return written, exportError(LedgerFile, err)
	}
	written = append(written, e.csvWriter.resolvePath(LedgerFile))

	pivot := FilterPivotByThreshold(report.Pivot, report.Threshold)
	headers, records := PivotRecords(pivot)
	if err := e.csvWriter.WriteCSV(PivotFile, WriteOptions{Headers: headers, Records: records, BOMPrefix: true}); err != nil {
		return written, exportError(PivotFile, err)
	}
	written = append(written, e.csvWriter.resolvePath(PivotFile))

	headers, records = DeltaRecords(FilterDeltaDonors(report.Delta, pivot.Donors))
	if err := e.csvWriter.WriteCSV(ChangeFile, WriteOptions{Headers: headers, Records: records, BOMPrefix: true}); err != nil {
		return written, exportError(ChangeFile, err)
	}
	written = append(written, e.csvWriter.resolvePath(ChangeFile))

	if err := e.csvWriter.WriteCSV(LapsedFile, WriteOptions{Headers: LapsedHeaders, Records: LapsedRecords(report.Lapsed), BOMPrefix: true}); err != nil {
		return written, exportError(LapsedFile, err)
	}
	written = append(written, e.csvWriter.resolvePath(LapsedFile))

	path := e.csvWriter.resolvePath(ReportFile)
	if err := SaveWorkbook(path, report); err != nil {
		return written, exportError(ReportFile, err)
	}
	written = append(written, path)

	e.logger.Info("Report exported",
		slog.Int("files", len(written)),
		slog.Int("donors", len(pivot.Donors)),
		slog.Int("lapsed", len(report.Lapsed)))

	return written, nil
}

func exportError(file string, err error) error {
	return apperrors.NewStorageError("failed to export "+file, err).WithContext("file", file)
}
