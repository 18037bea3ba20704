package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/iban-extractor/internal/extraction"
	"github.com/zombor/iban-extractor/internal/scanning"
)

func batchCommand(cfg *rootConfig, parent *ff.FlagSet, stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("batch").SetParent(parent)
	var (
		dir      = fs.StringLong("dir", "", "Directory of invoice files to process (required)")
		outDir   = fs.StringLong("out", ".", "Directory for the extraction CSV and validation report")
		training = fs.BoolLong("training", "Process invoices one at a time to learn vendor patterns")
		workers  = fs.IntLong("workers", 4, "Maximum invoices processed at once")
	)

	return &ff.Command{
		Name:      "batch",
		Usage:     "iban-extract batch --dir <invoices> [--out <dir>] [FLAGS]",
		ShortHelp: "process a directory of invoices and write the CSV exports",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if err := setupLogging(cfg.logLevel, os.Stderr); err != nil {
				return err
			}
			if *dir == "" {
				return fmt.Errorf("--dir is required")
			}
			return runBatch(ctx, cfg, *dir, *outDir, extraction.OrchestratorConfig{
				MaxWorkers: *workers,
				Training:   *training,
			}, stdout)
		},
	}
}

// loadInvoices reads every regular, non-hidden file in dir in name order
func loadInvoices(dir string) ([]extraction.Invoice, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading invoice directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	invoices := make([]extraction.Invoice, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		invoices = append(invoices, extraction.Invoice{
			Filename:    entry.Name(),
			ContentType: scanning.ContentTypeForExtension(filepath.Ext(entry.Name())),
			Data:        data,
		})
	}
	return invoices, nil
}

func runBatch(ctx context.Context, cfg *rootConfig, dir, outDir string, orchCfg extraction.OrchestratorConfig, stdout io.Writer) error {
	invoices, err := loadInvoices(dir)
	if err != nil {
		return err
	}
	if len(invoices) == 0 {
		slog.Warn("No invoices found", "dir", dir)
	}

	d, err := openDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	orchestrator, err := extraction.NewOrchestrator(d.service, orchCfg)
	if err != nil {
		return err
	}

	result, err := orchestrator.Run(ctx, invoices)
	if err != nil {
		return fmt.Errorf("running batch: %w", err)
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	extractions, err := d.service.ListExtractions(ctx, extraction.ExtractionFilter{BatchID: result.Stats.ID})
	if err != nil {
		return err
	}

	csvPath := filepath.Join(outDir, extraction.ExtractionsFilename(result.Stats.StartedAt))
	if err := writeFile(csvPath, func(w io.Writer) error {
		return extraction.WriteCSV(w, extractions, extraction.CSVOptions{})
	}); err != nil {
		return err
	}

	reportPath := filepath.Join(outDir, extraction.ReportFilename(result.Stats.StartedAt))
	if err := writeFile(reportPath, func(w io.Writer) error {
		return extraction.WriteValidationReport(w, result.Items, d.service.Engine())
	}); err != nil {
		return err
	}

	printSummary(stdout, result.Stats, csvPath, reportPath)
	return nil
}

func writeFile(path string, write func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	slog.Info("Wrote file", "path", path)
	return nil
}

func printSummary(w io.Writer, stats extraction.BatchStats, csvPath, reportPath string) {
	fmt.Fprintf(w, "Batch %s\n", stats.ID)
	fmt.Fprintf(w, "  invoices:    %d (%d succeeded, %d failed)\n", stats.Total, stats.Succeeded, stats.Failed)
	fmt.Fprintf(w, "  validated:   %d\n", stats.Validated)
	fmt.Fprintf(w, "  pending:     %d\n", stats.Pending)
	fmt.Fprintf(w, "  rejected:    %d\n", stats.Rejected)
	fmt.Fprintf(w, "  failures:    %d oracle, %d storage\n", stats.OracleFailures, stats.StorageFailures)
	fmt.Fprintf(w, "  confidence:  avg %.4f (high %d, medium %d, low %d)\n",
		stats.AvgConfidence, stats.HighConfidence, stats.MediumConfidence, stats.LowConfidence)
	fmt.Fprintf(w, "  latency:     avg %.2fms\n", stats.AvgLatencyMillis)
	fmt.Fprintf(w, "  extractions: %s\n", csvPath)
	fmt.Fprintf(w, "  report:      %s\n", reportPath)
}
