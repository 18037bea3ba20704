package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/iban-extractor/internal/iban"
	"github.com/zombor/iban-extractor/internal/triage"
)

// IDGenerator generates unique IDs for records
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// DefaultIDGenerator returns the UUID based generator used in production
func DefaultIDGenerator() IDGenerator { return &defaultIDGenerator{} }

// DefaultTimeSource returns the wall clock
func DefaultTimeSource() TimeSource { return &defaultTimeSource{} }

// Config holds the per-invoice pipeline settings
type Config struct {
	// OracleTimeout bounds each oracle call
	OracleTimeout time.Duration
	// StorageRetryBackoff is the wait before the single retry of a failed write
	StorageRetryBackoff time.Duration
	// MaxFileSize is the largest accepted invoice in bytes
	MaxFileSize int64
}

// DefaultConfig returns the production pipeline settings
func DefaultConfig() Config {
	return Config{
		OracleTimeout:       30 * time.Second,
		StorageRetryBackoff: 250 * time.Millisecond,
		MaxFileSize:         10 << 20,
	}
}

// Service runs invoices through the extraction pipeline and serves the
// review workflow
type Service struct {
	db          DB
	storage     Storage
	oracle      Oracle
	engine      *triage.Engine
	patterns    *PatternStore
	cfg         Config
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, storage Storage, oracle Oracle, engine *triage.Engine, patterns *PatternStore, cfg Config) *Service {
	return NewServiceWithDeps(db, storage, oracle, engine, patterns, cfg, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, oracle Oracle, engine *triage.Engine, patterns *PatternStore, cfg Config, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		oracle:      oracle,
		engine:      engine,
		patterns:    patterns,
		cfg:         cfg,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Engine returns the triage engine the service was built with
func (s *Service) Engine() *triage.Engine {
	return s.engine
}

// GetExtraction retrieves an extraction by ID
func (s *Service) GetExtraction(ctx context.Context, id string) (*Extraction, error) {
	extraction, err := s.db.GetExtraction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting extraction: %w", err)
	}
	return extraction, nil
}

// ListExtractions returns extractions matching filter
func (s *Service) ListExtractions(ctx context.Context, filter ExtractionFilter) ([]*Extraction, error) {
	extractions, err := s.db.ListExtractions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing extractions: %w", err)
	}
	return extractions, nil
}

// GetInvoiceFile retrieves the archived invoice for an extraction
func (s *Service) GetInvoiceFile(ctx context.Context, id string) ([]byte, string, error) {
	extraction, err := s.db.GetExtraction(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("getting extraction: %w", err)
	}
	if extraction.StoragePath == "" {
		return nil, "", fmt.Errorf("invoice file for %s: %w", id, ErrNotFound)
	}

	data, err := s.storage.Get(ctx, extraction.StoragePath)
	if err != nil {
		return nil, "", fmt.Errorf("getting invoice file: %w", err)
	}
	return data, extraction.InvoiceFilename, nil
}

// urlSigner is implemented by storage backends that can hand out direct
// download links
type urlSigner interface {
	PresignedURL(ctx context.Context, path string, expiry time.Duration) (string, error)
}

// InvoiceFileURL returns a time limited link to the archived invoice, or ""
// when the storage backend cannot sign links
func (s *Service) InvoiceFileURL(ctx context.Context, id string, expiry time.Duration) (string, error) {
	signer, ok := s.storage.(urlSigner)
	if !ok {
		return "", nil
	}
	extraction, err := s.db.GetExtraction(ctx, id)
	if err != nil {
		return "", fmt.Errorf("getting extraction: %w", err)
	}
	if extraction.StoragePath == "" {
		return "", fmt.Errorf("invoice file for %s: %w", id, ErrNotFound)
	}
	url, err := signer.PresignedURL(ctx, extraction.StoragePath, expiry)
	if err != nil {
		return "", fmt.Errorf("signing invoice URL: %w", err)
	}
	return url, nil
}

// ListVendors returns all known vendors
func (s *Service) ListVendors(ctx context.Context) ([]*Vendor, error) {
	vendors, err := s.db.ListVendors(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing vendors: %w", err)
	}
	return vendors, nil
}

// ListAlerts returns alerts, optionally only unresolved ones
func (s *Service) ListAlerts(ctx context.Context, filter AlertFilter) ([]*Alert, error) {
	alerts, err := s.db.ListAlerts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	return alerts, nil
}

// ResolveAlert marks an alert as handled by reviewer. Resolving twice is a no-op.
func (s *Service) ResolveAlert(ctx context.Context, id, reviewer string) (*Alert, error) {
	alert, err := s.db.GetAlert(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting alert: %w", err)
	}
	if alert.Resolved {
		return alert, nil
	}

	now := s.timeSource.Now()
	alert.Resolved = true
	alert.ResolvedBy = reviewer
	alert.ResolvedAt = &now

	if err := s.db.SaveAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("saving alert: %w", err)
	}

	slog.Info("Alert resolved", "alert_id", id, "type", alert.Type, "vendor_id", alert.VendorID, "reviewer", reviewer)
	return alert, nil
}

// Review is a manual decision on an extraction
type Review struct {
	Status Status `json:"status"`
	// IBAN is the replacement value, required when Status is corrected
	IBAN  string `json:"iban,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// ReviewExtraction applies a reviewer's decision. validated and corrected
// both require an IBAN that passes validation.
func (s *Service) ReviewExtraction(ctx context.Context, id string, review Review, reviewer string) (*Extraction, error) {
	if reviewer == "" {
		return nil, fmt.Errorf("%w: reviewer is required", ErrInvalidReview)
	}

	extraction, err := s.db.GetExtraction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting extraction: %w", err)
	}

	switch review.Status {
	case StatusValidated:
		result := iban.Validate(extraction.IBAN)
		if !result.Valid {
			return nil, fmt.Errorf("%w: stored IBAN fails validation (%s)", ErrInvalidReview, result.Reason)
		}
		extraction.Reason = ""
	case StatusCorrected:
		result := iban.Validate(review.IBAN)
		if !result.Valid {
			return nil, fmt.Errorf("%w: corrected IBAN fails validation (%s)", ErrInvalidReview, result.Reason)
		}
		if extraction.OriginalIBAN == "" && extraction.IBAN != result.Normalized {
			extraction.OriginalIBAN = extraction.IBAN
		}
		extraction.IBAN = result.Normalized
		extraction.Reason = ""
	case StatusRejected:
		extraction.Reason = "ManualReview"
	default:
		return nil, fmt.Errorf("%w: status %q cannot be set by review", ErrInvalidReview, review.Status)
	}

	now := s.timeSource.Now()
	extraction.Status = review.Status
	extraction.ValidatedBy = reviewer
	extraction.ValidatedAt = &now
	if review.Notes != "" {
		extraction.Notes = appendNote(extraction.Notes, review.Notes)
	}

	if err := s.db.SaveExtraction(ctx, extraction); err != nil {
		return nil, fmt.Errorf("saving extraction: %w", err)
	}

	slog.Info("Extraction reviewed",
		"extraction_id", id,
		"vendor_id", extraction.VendorID,
		"status", extraction.Status,
		"iban", iban.Mask(extraction.IBAN),
		"reviewer", reviewer,
	)
	return extraction, nil
}

func appendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + "; " + note
}
