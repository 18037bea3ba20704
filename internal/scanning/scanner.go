package scanning

import (
	"context"
	"errors"
)

// ErrMalformedResponse is returned when a provider answers with something
// that cannot be turned into InvoiceData
var ErrMalformedResponse = errors.New("malformed oracle response")

// Section describes where on the page a field was found
type Section struct {
	Location string `json:"location"` // header, footer, middle or sidebar
	Label    string `json:"label"`
	Context  string `json:"context"`
}

// Layout holds the structural hints the model reports alongside the data.
// Its canonical JSON form is what identifies a vendor's invoice pattern.
type Layout struct {
	LayoutType     string  `json:"layout_type"`
	IBANSection    Section `json:"iban_section"`
	AccountSection Section `json:"account_section"`
}

// InvoiceData contains the banking fields extracted from an invoice
type InvoiceData struct {
	IBAN        string  `json:"iban"`
	AccountName string  `json:"account_name"`
	Confidence  float64 `json:"confidence"`
	Notes       string  `json:"notes"`
	Layout      *Layout `json:"layout,omitempty"`
}

// Hint tells the model where a vendor's IBAN has been found before
type Hint struct {
	IBANLocation        string
	AccountNameLocation string
}

// Scanner defines the interface for invoice scanning operations
type Scanner interface {
	// ScanInvoice analyzes an invoice image/PDF and extracts banking details.
	// hint may be nil when the vendor has no known pattern.
	ScanInvoice(ctx context.Context, data []byte, contentType string, hint *Hint) (*InvoiceData, error)
	// Close closes the scanner and releases resources
	Close() error
}
