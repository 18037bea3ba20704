package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/zombor/iban-extractor/internal/iban"
	"github.com/zombor/iban-extractor/internal/triage"
)

// supportedExtensions are the invoice formats the scanners can read
var supportedExtensions = map[string]bool{
	".pdf":  true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tif":  true,
	".tiff": true,
	".heic": true,
	".heif": true,
}

// SupportedExtension reports whether an invoice file name has a readable format
func SupportedExtension(filename string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

func (s *Service) checkInvoice(inv Invoice) error {
	if !SupportedExtension(inv.Filename) {
		return fmt.Errorf("unsupported file type %q", filepath.Ext(inv.Filename))
	}
	if len(inv.Data) == 0 {
		return fmt.Errorf("empty file")
	}
	if s.cfg.MaxFileSize > 0 && int64(len(inv.Data)) > s.cfg.MaxFileSize {
		return fmt.Errorf("file size %d exceeds limit of %d bytes", len(inv.Data), s.cfg.MaxFileSize)
	}
	return nil
}

// validAccountName requires at least two characters, one of them a letter or digit
func validAccountName(name string) bool {
	name = strings.TrimSpace(name)
	if len([]rune(name)) < 2 {
		return false
	}
	return strings.IndexFunc(name, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) >= 0
}

// ibanTracker remembers which vendor each IBAN was seen for during one batch
type ibanTracker struct {
	mu   sync.Mutex
	seen map[string]string
}

func newIBANTracker() *ibanTracker {
	return &ibanTracker{seen: make(map[string]string)}
}

// note records the IBAN for vendorID and returns another vendor that
// already used it, if any
func (t *ibanTracker) note(normalized, vendorID string) string {
	if t == nil || normalized == "" {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	other, ok := t.seen[normalized]
	if !ok {
		t.seen[normalized] = vendorID
		return ""
	}
	if other != vendorID {
		return other
	}
	return ""
}

// withRetry runs a storage write, retrying once after the configured backoff
func (s *Service) withRetry(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	slog.Warn("Storage write failed, retrying", "op", op, "backoff", s.cfg.StorageRetryBackoff, "error", err)

	timer := time.NewTimer(s.cfg.StorageRetryBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %w", ErrStorage, op, ctx.Err())
	case <-timer.C:
	}

	if err := fn(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
	}
	return nil
}

// ProcessInvoice runs a single invoice through the pipeline outside of a batch
func (s *Service) ProcessInvoice(ctx context.Context, inv Invoice) *ItemResult {
	return s.process(ctx, "", inv, nil)
}

func (s *Service) fail(item *ItemResult, category FailureCategory, err error) *ItemResult {
	item.Failure = category
	item.Error = err
	slog.Error("Failed to process invoice",
		"filename", item.Filename,
		"vendor_id", item.VendorID,
		"failure", category,
		"error", err,
	)
	return item
}

// process takes one invoice from file to persisted extraction and alerts.
// Errors never escape; they are recorded on the returned item.
func (s *Service) process(ctx context.Context, batchID string, inv Invoice, tracker *ibanTracker) *ItemResult {
	start := s.timeSource.Now()
	item := &ItemResult{Filename: inv.Filename}
	defer func() {
		item.Latency = s.timeSource.Now().Sub(start)
	}()

	if err := s.checkInvoice(inv); err != nil {
		return s.fail(item, FailureOracle, fmt.Errorf("%w: %w", ErrOracle, err))
	}

	oracleCtx, cancel := context.WithTimeout(ctx, s.cfg.OracleTimeout)
	res, err := s.oracle.Extract(oracleCtx, inv)
	cancel()
	if err != nil {
		return s.fail(item, FailureOracle, fmt.Errorf("%w: %w", ErrOracle, err))
	}
	if res.VendorID == "" {
		return s.fail(item, FailureOracle, fmt.Errorf("%w: %w", ErrOracle, ErrUnknownVendor))
	}
	if res.Confidence < 0 || res.Confidence > 1 {
		return s.fail(item, FailureOracle, fmt.Errorf("%w: confidence %v out of range", ErrOracle, res.Confidence))
	}
	item.VendorID = res.VendorID
	item.VendorName = res.VendorName

	if err := s.ensureVendor(ctx, res); err != nil {
		return s.fail(item, FailureStorage, err)
	}

	validation := iban.Validate(res.IBAN)

	history := triage.VendorHistory{VendorID: res.VendorID}
	var lastIBAN string
	err = s.withRetry(ctx, "reading vendor history", func() error {
		var err error
		lastIBAN, err = s.db.LatestAcceptedIBAN(ctx, res.VendorID)
		return err
	})
	if err != nil {
		return s.fail(item, FailureStorage, err)
	}
	history.LastValidatedIBAN = lastIBAN

	known, err := s.patterns.Lookup(ctx, res.VendorID)
	if err != nil {
		return s.fail(item, FailureStorage, fmt.Errorf("%w: %w", ErrStorage, err))
	}
	incomingHash := ""
	if res.Layout != nil {
		incomingHash = PatternHash(res.Layout)
	}
	if known != nil {
		history.PatternHash = known.Hash
		history.PatternConfidence = known.Confidence
		history.PatternUsage = known.UsageCount
	}
	history.IncomingHash = incomingHash

	decision := s.engine.Evaluate(validation, res.Confidence, history)
	item.Level = decision.Level

	notes := res.Notes
	status := Status(decision.Disposition)
	if !validAccountName(res.AccountName) {
		notes = appendNote(notes, "account name missing or invalid")
		if status == StatusValidated {
			status = StatusPending
		}
	}
	if validation.Valid {
		if other := tracker.note(validation.Normalized, res.VendorID); other != "" {
			notes = appendNote(notes, fmt.Sprintf("duplicate IBAN also seen for vendor %s", other))
		}
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	var storagePath string
	key := archiveKey(res.VendorID, id, inv.Filename, now)
	err = s.withRetry(ctx, "archiving invoice", func() error {
		var err error
		storagePath, err = s.storage.Save(ctx, key, inv.Data, inv.ContentType)
		return err
	})
	if err != nil {
		return s.fail(item, FailureStorage, err)
	}
	cleanup := func() {
		if err := s.storage.Delete(ctx, storagePath); err != nil {
			slog.Warn("Failed to delete archived invoice", "path", storagePath, "error", err)
		}
	}

	hash := incomingHash
	if hash == "" {
		if known != nil {
			hash = known.Hash
		} else {
			hash = PatternHash(nil)
		}
	}

	extraction := &Extraction{
		ID:              id,
		BatchID:         batchID,
		VendorID:        res.VendorID,
		InvoiceFilename: inv.Filename,
		StoragePath:     storagePath,
		IBAN:            validation.Normalized,
		AccountName:     strings.TrimSpace(res.AccountName),
		Confidence:      res.Confidence,
		Status:          status,
		Reason:          decision.Reason,
		Notes:           notes,
		ProcessedAt:     now,
		LatencyMillis:   now.Sub(start).Milliseconds(),
	}
	if status == StatusValidated {
		extraction.ValidatedBy = "system"
		extraction.ValidatedAt = &now
	}

	alerts := make([]*Alert, 0, len(decision.Alerts))
	for _, spec := range decision.Alerts {
		alerts = append(alerts, &Alert{
			ID:           s.idGenerator.Generate(),
			Type:         spec.Type,
			Severity:     spec.Severity,
			VendorID:     res.VendorID,
			ExtractionID: extraction.ID,
			Message:      spec.Message,
			Data:         spec.Data,
			CreatedAt:    now,
		})
	}

	// The pattern only counts an invoice whose extraction and alerts are stored with it
	err = s.withRetry(ctx, "saving extraction", func() error {
		_, err := s.patterns.RecordWith(ctx, res.VendorID, hash, res.Confidence, res.Layout, func(pt *Pattern) error {
			extraction.PatternID = pt.ID
			return s.db.SaveResult(ctx, pt, extraction, alerts)
		})
		return err
	})
	if err != nil {
		cleanup()
		return s.fail(item, FailureStorage, err)
	}
	item.Extraction = extraction
	item.Alerts = alerts

	for _, alert := range alerts {
		slog.Warn("Alert raised",
			"type", alert.Type,
			"severity", alert.Severity,
			"vendor_id", alert.VendorID,
			"extraction_id", alert.ExtractionID,
		)
	}

	slog.Info("Processed invoice",
		"filename", inv.Filename,
		"vendor_id", res.VendorID,
		"iban", iban.Mask(validation.Normalized),
		"confidence", res.Confidence,
		"status", status,
		"reason", decision.Reason,
	)
	return item
}

// ensureVendor creates the vendor on first sighting
func (s *Service) ensureVendor(ctx context.Context, res *OracleResult) error {
	_, err := s.db.GetVendor(ctx, res.VendorID)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("%w: getting vendor: %w", ErrStorage, err)
	}

	now := s.timeSource.Now()
	name := res.VendorName
	if name == "" {
		name = res.VendorID
	}
	vendor := &Vendor{
		ID:        res.VendorID,
		Name:      name,
		Priority:  res.VendorPriority,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.withRetry(ctx, "creating vendor", func() error {
		return s.db.SaveVendor(ctx, vendor)
	}); err != nil {
		return err
	}
	slog.Info("New vendor", "vendor_id", vendor.ID, "name", vendor.Name)
	return nil
}
