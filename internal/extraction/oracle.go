package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/zombor/iban-extractor/internal/scanning"
)

// ErrUnknownVendor is returned when no vendor can be derived from a file name
var ErrUnknownVendor = errors.New("unknown vendor")

// OracleResult is the raw answer for one invoice before validation
type OracleResult struct {
	VendorID       string
	VendorName     string
	VendorPriority int
	IBAN           string
	AccountName    string
	Confidence     float64
	Notes          string
	Layout         *scanning.Layout
}

// Oracle extracts banking details from an invoice
type Oracle interface {
	Extract(ctx context.Context, invoice Invoice) (*OracleResult, error)
}

// ScannerOracle resolves the vendor from the file name and asks a
// scanning.Scanner for the fields, hinting at the vendor's known layout
type ScannerOracle struct {
	scanner  scanning.Scanner
	resolver *VendorResolver
	patterns *PatternStore
}

// NewScannerOracle creates a ScannerOracle. patterns may be nil to disable hints.
func NewScannerOracle(scanner scanning.Scanner, resolver *VendorResolver, patterns *PatternStore) *ScannerOracle {
	if resolver == nil {
		resolver = NewVendorResolver(nil)
	}
	return &ScannerOracle{
		scanner:  scanner,
		resolver: resolver,
		patterns: patterns,
	}
}

// Extract implements Oracle
func (o *ScannerOracle) Extract(ctx context.Context, invoice Invoice) (*OracleResult, error) {
	vendor, ok := o.resolver.Resolve(invoice.Filename)
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrUnknownVendor, invoice.Filename)
	}

	var hint *scanning.Hint
	if o.patterns != nil {
		pattern, err := o.patterns.Lookup(ctx, vendor.ID)
		if err != nil {
			slog.Warn("Failed to look up pattern, scanning without hint", "vendor_id", vendor.ID, "error", err)
		} else if pattern != nil {
			hint = &scanning.Hint{
				IBANLocation:        pattern.IBANLocation,
				AccountNameLocation: pattern.AccountNameLocation,
			}
		}
	}

	contentType := invoice.ContentType
	if contentType == "" {
		contentType = scanning.ContentTypeForExtension(filepath.Ext(invoice.Filename))
	}

	data, err := o.scanner.ScanInvoice(ctx, invoice.Data, contentType, hint)
	if err != nil {
		return nil, fmt.Errorf("scanning invoice: %w", err)
	}

	return &OracleResult{
		VendorID:       vendor.ID,
		VendorName:     vendor.Name,
		VendorPriority: vendor.Priority,
		IBAN:           data.IBAN,
		AccountName:    data.AccountName,
		Confidence:     data.Confidence,
		Notes:          data.Notes,
		Layout:         data.Layout,
	}, nil
}
