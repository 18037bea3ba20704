package extraction

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/iban-extractor/internal/triage"
)

var (
	extractionHeader = []string{"vendor_id", "iban", "account_name", "confidence_score"}
	reportHeader     = []string{
		"vendor_id", "vendor_name", "invoice_filename", "iban", "account_name",
		"confidence_score", "confidence_level", "validation_status", "validation_errors", "processed_at",
	}
)

// CSVOptions controls WriteCSV
type CSVOptions struct {
	// IncludeStatus appends a validation_status column
	IncludeStatus bool
	// IncludeAll writes every extraction instead of only accepted ones
	IncludeAll bool
}

// ExtractionsFilename is the ERP import file name for a run at t
func ExtractionsFilename(t time.Time) string {
	return fmt.Sprintf("iban_extractions_%s.csv", t.Format("20060102_150405"))
}

// ReportFilename is the validation report file name for a run at t
func ReportFilename(t time.Time) string {
	return fmt.Sprintf("validation_report_%s.csv", t.Format("20060102_150405"))
}

func formatConfidence(c float64) string {
	return decimal.NewFromFloat(c).StringFixed(2)
}

// WriteCSV writes the ERP import file. Only validated and corrected
// extractions are written unless opts.IncludeAll is set.
func WriteCSV(w io.Writer, extractions []*Extraction, opts CSVOptions) error {
	cw := csv.NewWriter(w)

	header := extractionHeader
	if opts.IncludeStatus {
		header = append(append([]string{}, extractionHeader...), "validation_status")
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for _, e := range extractions {
		if !opts.IncludeAll && !e.HasAcceptedIBAN() {
			continue
		}
		row := []string{e.VendorID, e.IBAN, e.AccountName, formatConfidence(e.Confidence)}
		if opts.IncludeStatus {
			row = append(row, string(e.Status))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteValidationReport writes one row per item of a run, failures included
func WriteValidationReport(w io.Writer, items []*ItemResult, engine *triage.Engine) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for _, item := range items {
		if item == nil {
			continue
		}
		var row []string
		if item.Failed() {
			row = []string{
				item.VendorID, item.VendorName, item.Filename, "", "",
				"", "", "failed", item.Error.Error(), "",
			}
		} else {
			e := item.Extraction
			var errs []string
			if e.Reason != "" {
				errs = append(errs, e.Reason)
			}
			if e.Notes != "" {
				errs = append(errs, e.Notes)
			}
			level := item.Level
			if level == "" {
				level = engine.Level(e.Confidence)
			}
			row = []string{
				e.VendorID, item.VendorName, e.InvoiceFilename, e.IBAN, e.AccountName,
				formatConfidence(e.Confidence), string(level), string(e.Status),
				strings.Join(errs, "; "), e.ProcessedAt.Format(time.RFC3339),
			}
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
