package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"donorpulse/internal/cache"
	"donorpulse/internal/config"
	"donorpulse/internal/exporter"
	"donorpulse/internal/infrastructure"
	"donorpulse/internal/ingest"
	"donorpulse/internal/services"
	"donorpulse/pkg/contracts"
)

// decimalFlag is a flag.Value holding a non-negative money amount
type decimalFlag struct {
	value decimal.Decimal
	set   bool
}

func (f *decimalFlag) String() string { return f.value.String() }

func (f *decimalFlag) Set(s string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	if d.IsNegative() {
		return errors.New("must not be negative")
	}
	f.value, f.set = d, true
	return nil
}

type options struct {
	in         string
	out        string
	configPath string
	match      string
	year       string
	threshold  decimalFlag
	change     decimalFlag
	minLast    decimalFlag
	version    bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	var opts options
	fs := flag.NewFlagSet("ledger-report", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.in, "in", "", "ledger workbook to reconcile (required)")
	fs.StringVar(&opts.out, "out", "reports", "output directory for the report files")
	fs.StringVar(&opts.configPath, "config", "", "optional YAML config file")
	fs.StringVar(&opts.match, "match", "", "total row match policy: substring or exact (default from config)")
	fs.StringVar(&opts.year, "year", "", "only report donors whose last giving sheet is this one")
	fs.Var(&opts.threshold, "threshold", "pivot highlight threshold (default from config)")
	fs.Var(&opts.change, "change", "change highlight threshold (default from config)")
	fs.Var(&opts.minLast, "min-last", "minimum last-year amount for lapsed donors (default from config)")
	fs.BoolVar(&opts.version, "version", false, "print the version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.version {
		return &opts, nil
	}
	if opts.in == "" {
		fs.Usage()
		return nil, errors.New("-in is required")
	}
	return &opts, nil
}

func loadConfig(opts *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if opts.match != "" {
		cfg.Ledger.MatchPolicy = opts.match
	}
	return cfg, nil
}

// run reconciles one workbook and writes the report set, logging to logOut
func run(ctx context.Context, args []string, logOut, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if opts.version {
		fmt.Fprintln(logOut, contracts.GetVersionString())
		return nil
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := infrastructure.NewLogger(cfg.Logging, logOut).With(slog.String("component", "ledger-report"))
	ctx = infrastructure.EnsureTraceID(ctx)

	start := time.Now()
	svc, err := services.NewLedgerService(cfg.Ledger, cache.NewMemory(cfg.Cache.TTL, cfg.Cache.MaxEntries), 0, logger)
	if err != nil {
		return err
	}

	if err := ingest.ValidateWorkbookPath(opts.in); err != nil {
		return err
	}
	if err := exporter.PrepareOutputDir(opts.out); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Reading ledger workbook", slog.String("path", opts.in))
	table, err := ingest.ReadFile(opts.in, ingest.Options{
		Logger:     infrastructure.ContextLogger(ctx, logger),
		SkipSheets: cfg.Ledger.SkipSheets,
	})
	if err != nil {
		return err
	}

	summary, err := svc.LoadTable(ctx, table, filepath.Base(opts.in))
	if err != nil {
		return err
	}

	reportOpts := svc.DefaultReportOptions()
	if opts.threshold.set {
		reportOpts.Threshold = opts.threshold.value
	}
	if opts.change.set {
		reportOpts.ChangeThreshold = opts.change.value
	}
	if opts.minLast.set {
		reportOpts.Lapsed.MinLastAmount = opts.minLast.value
	}
	if opts.year != "" {
		reportOpts.Lapsed.FilterYear = &opts.year
	}

	report, err := svc.Report(ctx, summary.ID, reportOpts)
	if err != nil {
		return err
	}

	written, err := exporter.NewReportExporter(opts.out, logger).Export(report)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Ledger report complete",
		slog.String("input", opts.in),
		slog.String("fingerprint", summary.Fingerprint),
		slog.Int("rows", summary.Rows),
		slog.Int("donors", summary.Donors),
		slog.Any("sheets", summary.Sheets),
		slog.Int("dropped_no_moneys", summary.Stats.DroppedNoMoneys),
		slog.Int("ambiguous_matches", len(summary.Diagnostics.Ambiguous)),
		slog.Int("unmatched_donors", len(summary.Diagnostics.Unmatched)),
		slog.Int("pivot_donors", len(exporter.FilterPivotByThreshold(report.Pivot, reportOpts.Threshold).Donors)),
		slog.Int("lapsed_donors", len(report.Lapsed)),
		slog.Any("files", written),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("Ledger report failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
