package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	vendorBucketName     = "vendors"
	patternBucketName    = "patterns"
	extractionBucketName = "extractions"
	alertBucketName      = "alerts"
	batchBucketName      = "batches"
)

// ExtractionFilter narrows ListExtractions. Zero values match everything.
type ExtractionFilter struct {
	Status   Status
	VendorID string
	BatchID  string
}

func (f ExtractionFilter) matches(e *Extraction) bool {
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.VendorID != "" && e.VendorID != f.VendorID {
		return false
	}
	if f.BatchID != "" && e.BatchID != f.BatchID {
		return false
	}
	return true
}

// AlertFilter narrows ListAlerts
type AlertFilter struct {
	ActiveOnly bool
	VendorID   string
}

func (f AlertFilter) matches(a *Alert) bool {
	if f.ActiveOnly && a.Resolved {
		return false
	}
	if f.VendorID != "" && a.VendorID != f.VendorID {
		return false
	}
	return true
}

// DB defines the interface for database operations
type DB interface {
	// SaveVendor creates or replaces a vendor
	SaveVendor(ctx context.Context, vendor *Vendor) error

	// GetVendor retrieves a vendor by ID, returning ErrNotFound if missing
	GetVendor(ctx context.Context, id string) (*Vendor, error)

	// ListVendors returns all vendors ordered by ID
	ListVendors(ctx context.Context) ([]*Vendor, error)

	// SavePattern creates or replaces a pattern
	SavePattern(ctx context.Context, pattern *Pattern) error

	// ListPatterns returns every pattern recorded for a vendor
	ListPatterns(ctx context.Context, vendorID string) ([]*Pattern, error)

	// SaveExtraction creates or replaces an extraction
	SaveExtraction(ctx context.Context, extraction *Extraction) error

	// GetExtraction retrieves an extraction by ID, returning ErrNotFound if missing
	GetExtraction(ctx context.Context, id string) (*Extraction, error)

	// ListExtractions returns matching extractions ordered by processing time
	ListExtractions(ctx context.Context, filter ExtractionFilter) ([]*Extraction, error)

	// LatestAcceptedIBAN returns the IBAN of the vendor's most recently
	// validated or corrected extraction, or "" if there is none
	LatestAcceptedIBAN(ctx context.Context, vendorID string) (string, error)

	// SaveAlert creates or replaces an alert
	SaveAlert(ctx context.Context, alert *Alert) error

	// SaveResult writes the pattern, extraction and alerts of one processed
	// invoice atomically: either all of them are stored or none is
	SaveResult(ctx context.Context, pattern *Pattern, extraction *Extraction, alerts []*Alert) error

	// GetAlert retrieves an alert by ID, returning ErrNotFound if missing
	GetAlert(ctx context.Context, id string) (*Alert, error)

	// ListAlerts returns matching alerts, newest first
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*Alert, error)

	// SaveBatchStats records the summary of a run
	SaveBatchStats(ctx context.Context, stats *BatchStats) error

	// ListBatchStats returns all run summaries, newest first
	ListBatchStats(ctx context.Context) ([]*BatchStats, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{vendorBucketName, patternBucketName, extractionBucketName, alertBucketName, batchBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) put(bucketName, key string, value any) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return putTx(tx, bucketName, key, value)
	})
}

func putTx(tx *bbolt.Tx, bucketName, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", bucketName, err)
	}
	return tx.Bucket([]byte(bucketName)).Put([]byte(key), data)
}

func (b *BoltDB) get(bucketName, key string, value any) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s %s: %w", bucketName, key, ErrNotFound)
		}
		return json.Unmarshal(data, value)
	})
}

// each decodes every value in a bucket with decode
func (b *BoltDB) each(bucketName string, decode func(data []byte) error) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(k, v []byte) error {
			if err := decode(v); err != nil {
				return fmt.Errorf("unmarshaling %s %s: %w", bucketName, k, err)
			}
			return nil
		})
	})
}

// SaveVendor creates or replaces a vendor
func (b *BoltDB) SaveVendor(ctx context.Context, vendor *Vendor) error {
	return b.put(vendorBucketName, vendor.ID, vendor)
}

// GetVendor retrieves a vendor by ID
func (b *BoltDB) GetVendor(ctx context.Context, id string) (*Vendor, error) {
	var vendor *Vendor
	if err := b.get(vendorBucketName, id, &vendor); err != nil {
		return nil, err
	}
	return vendor, nil
}

// ListVendors returns all vendors; bolt keys are already sorted
func (b *BoltDB) ListVendors(ctx context.Context) ([]*Vendor, error) {
	vendors := make([]*Vendor, 0)
	err := b.each(vendorBucketName, func(data []byte) error {
		var vendor Vendor
		if err := json.Unmarshal(data, &vendor); err != nil {
			return err
		}
		vendors = append(vendors, &vendor)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vendors, nil
}

// SavePattern creates or replaces a pattern
func (b *BoltDB) SavePattern(ctx context.Context, pattern *Pattern) error {
	return b.put(patternBucketName, pattern.ID, pattern)
}

// ListPatterns returns every pattern recorded for a vendor
func (b *BoltDB) ListPatterns(ctx context.Context, vendorID string) ([]*Pattern, error) {
	patterns := make([]*Pattern, 0)
	err := b.each(patternBucketName, func(data []byte) error {
		var pattern Pattern
		if err := json.Unmarshal(data, &pattern); err != nil {
			return err
		}
		if pattern.VendorID == vendorID {
			patterns = append(patterns, &pattern)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return patterns, nil
}

// SaveExtraction creates or replaces an extraction
func (b *BoltDB) SaveExtraction(ctx context.Context, extraction *Extraction) error {
	return b.put(extractionBucketName, extraction.ID, extraction)
}

// GetExtraction retrieves an extraction by ID
func (b *BoltDB) GetExtraction(ctx context.Context, id string) (*Extraction, error) {
	var extraction *Extraction
	if err := b.get(extractionBucketName, id, &extraction); err != nil {
		return nil, err
	}
	return extraction, nil
}

// ListExtractions returns matching extractions ordered by processing time
func (b *BoltDB) ListExtractions(ctx context.Context, filter ExtractionFilter) ([]*Extraction, error) {
	extractions := make([]*Extraction, 0)
	err := b.each(extractionBucketName, func(data []byte) error {
		var extraction Extraction
		if err := json.Unmarshal(data, &extraction); err != nil {
			return err
		}
		if filter.matches(&extraction) {
			extractions = append(extractions, &extraction)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(extractions, func(i, j int) bool {
		return extractions[i].ProcessedAt.Before(extractions[j].ProcessedAt)
	})
	return extractions, nil
}

// LatestAcceptedIBAN returns the IBAN of the vendor's newest accepted extraction
func (b *BoltDB) LatestAcceptedIBAN(ctx context.Context, vendorID string) (string, error) {
	extractions, err := b.ListExtractions(ctx, ExtractionFilter{VendorID: vendorID})
	if err != nil {
		return "", err
	}

	var latest *Extraction
	for _, e := range extractions {
		if !e.HasAcceptedIBAN() {
			continue
		}
		if latest == nil || !acceptedAt(e).Before(acceptedAt(latest)) {
			latest = e
		}
	}
	if latest == nil {
		return "", nil
	}
	return latest.IBAN, nil
}

// acceptedAt is when an extraction's IBAN became the vendor's confirmed one
func acceptedAt(e *Extraction) time.Time {
	if e.ValidatedAt != nil {
		return *e.ValidatedAt
	}
	return e.ProcessedAt
}

// SaveAlert creates or replaces an alert
func (b *BoltDB) SaveAlert(ctx context.Context, alert *Alert) error {
	return b.put(alertBucketName, alert.ID, alert)
}

// SaveResult writes a processed invoice's pattern, extraction and alerts
// in one transaction
func (b *BoltDB) SaveResult(ctx context.Context, pattern *Pattern, extraction *Extraction, alerts []*Alert) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := putTx(tx, patternBucketName, pattern.ID, pattern); err != nil {
			return err
		}
		if err := putTx(tx, extractionBucketName, extraction.ID, extraction); err != nil {
			return err
		}
		for _, alert := range alerts {
			if err := putTx(tx, alertBucketName, alert.ID, alert); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetAlert retrieves an alert by ID
func (b *BoltDB) GetAlert(ctx context.Context, id string) (*Alert, error) {
	var alert *Alert
	if err := b.get(alertBucketName, id, &alert); err != nil {
		return nil, err
	}
	return alert, nil
}

// ListAlerts returns matching alerts, newest first
func (b *BoltDB) ListAlerts(ctx context.Context, filter AlertFilter) ([]*Alert, error) {
	alerts := make([]*Alert, 0)
	err := b.each(alertBucketName, func(data []byte) error {
		var alert Alert
		if err := json.Unmarshal(data, &alert); err != nil {
			return err
		}
		if filter.matches(&alert) {
			alerts = append(alerts, &alert)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
	return alerts, nil
}

// SaveBatchStats records the summary of a run
func (b *BoltDB) SaveBatchStats(ctx context.Context, stats *BatchStats) error {
	return b.put(batchBucketName, stats.ID, stats)
}

// ListBatchStats returns all run summaries, newest first
func (b *BoltDB) ListBatchStats(ctx context.Context) ([]*BatchStats, error) {
	batches := make([]*BatchStats, 0)
	err := b.each(batchBucketName, func(data []byte) error {
		var stats BatchStats
		if err := json.Unmarshal(data, &stats); err != nil {
			return err
		}
		batches = append(batches, &stats)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(batches, func(i, j int) bool {
		return batches[i].StartedAt.After(batches[j].StartedAt)
	})
	return batches, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
