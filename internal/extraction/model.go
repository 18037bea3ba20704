package extraction

import (
	"time"

	"github.com/zombor/iban-extractor/internal/triage"
)

// Status is the lifecycle state of an extraction
type Status string

const (
	StatusPending   Status = "pending"
	StatusValidated Status = "validated"
	StatusRejected  Status = "rejected"
	StatusCorrected Status = "corrected"
)

// Vendor is a supplier whose invoices we process
type Vendor struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pattern is a learned invoice layout for one vendor
type Pattern struct {
	ID                  string    `json:"id"`
	VendorID            string    `json:"vendor_id"`
	Hash                string    `json:"hash"`
	LayoutDescription   string    `json:"layout_description"` // JSON of the layout hints
	IBANLocation        string    `json:"iban_location"`
	AccountNameLocation string    `json:"account_name_location"`
	Confidence          float64   `json:"confidence"` // rolling average
	UsageCount          int       `json:"usage_count"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Extraction is the outcome of reading one invoice
type Extraction struct {
	ID              string     `json:"id"`
	BatchID         string     `json:"batch_id,omitempty"`
	VendorID        string     `json:"vendor_id"`
	PatternID       string     `json:"pattern_id,omitempty"`
	InvoiceFilename string     `json:"invoice_filename"`
	StoragePath     string     `json:"storage_path,omitempty"`
	IBAN            string     `json:"iban"` // normalized
	// OriginalIBAN is the oracle's reading when a reviewer corrected it
	OriginalIBAN    string     `json:"original_iban,omitempty"`
	AccountName     string     `json:"account_name"`
	Confidence      float64    `json:"confidence"`
	Status          Status     `json:"status"`
	Reason          string     `json:"reason,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	ValidatedBy     string     `json:"validated_by,omitempty"`
	ValidatedAt     *time.Time `json:"validated_at,omitempty"`
	ProcessedAt     time.Time  `json:"processed_at"`
	LatencyMillis   int64      `json:"latency_ms"`
}

// HasAcceptedIBAN reports whether the IBAN is the vendor's confirmed payment target
func (e *Extraction) HasAcceptedIBAN() bool {
	return e.Status == StatusValidated || e.Status == StatusCorrected
}

// Alert flags an extraction or vendor for human attention
type Alert struct {
	ID           string           `json:"id"`
	Type         triage.AlertType `json:"type"`
	Severity     triage.Severity  `json:"severity"`
	VendorID     string           `json:"vendor_id"`
	ExtractionID string           `json:"extraction_id,omitempty"`
	Message      string           `json:"message"`
	Data         map[string]any   `json:"data,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	Resolved     bool             `json:"resolved"`
	ResolvedBy   string           `json:"resolved_by,omitempty"`
	ResolvedAt   *time.Time       `json:"resolved_at,omitempty"`
}

// BatchStats summarizes one orchestrator run
type BatchStats struct {
	ID               string    `json:"id"`
	Training         bool      `json:"training"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Total            int       `json:"total"`
	Succeeded        int       `json:"succeeded"`
	Failed           int       `json:"failed"`
	Validated        int       `json:"validated"`
	Pending          int       `json:"pending"`
	Rejected         int       `json:"rejected"`
	OracleFailures   int       `json:"oracle_failures"`
	StorageFailures  int       `json:"storage_failures"`
	HighConfidence   int       `json:"high_confidence"`
	MediumConfidence int       `json:"medium_confidence"`
	LowConfidence    int       `json:"low_confidence"`
	AvgConfidence    float64   `json:"avg_confidence"`
	AvgLatencyMillis float64   `json:"avg_latency_ms"`
}

// Invoice is one file submitted for extraction
type Invoice struct {
	Filename    string
	ContentType string
	Data        []byte
}

// FailureCategory says which stage an item failed in
type FailureCategory string

const (
	FailureNone    FailureCategory = ""
	FailureOracle  FailureCategory = "oracle"
	FailureStorage FailureCategory = "storage"
)

// ItemResult is the per-invoice outcome of a run
type ItemResult struct {
	Filename   string          `json:"filename"`
	VendorID   string          `json:"vendor_id,omitempty"`
	VendorName string          `json:"vendor_name,omitempty"`
	Extraction *Extraction     `json:"extraction,omitempty"`
	Alerts     []*Alert        `json:"alerts,omitempty"`
	Level      triage.Level    `json:"confidence_level,omitempty"`
	Failure    FailureCategory `json:"failure,omitempty"`
	Error      error           `json:"-"`
	Latency    time.Duration   `json:"-"`
}

// Failed reports whether the item did not reach a disposition
func (r *ItemResult) Failed() bool {
	return r.Error != nil
}

// BatchResult is what Orchestrator.Run returns
type BatchResult struct {
	Stats BatchStats    `json:"stats"`
	Items []*ItemResult `json:"items"`
}
