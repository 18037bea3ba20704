package extraction

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// execer is satisfied by the pool and by a transaction
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresDB implements the DB interface on PostgreSQL
type PostgresDB struct {
	pool *pgxpool.Pool
}

// NewPostgresDB connects to databaseURL and creates the tables if needed
func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := pool.Exec(connectCtx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	slog.Info("Database connection pool initialized", "max_conns", config.MaxConns)
	return &PostgresDB{pool: pool}, nil
}

// SaveVendor creates or replaces a vendor
func (p *PostgresDB) SaveVendor(ctx context.Context, v *Vendor) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO vendors (id, name, priority, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			priority = EXCLUDED.priority,
			updated_at = EXCLUDED.updated_at
	`, v.ID, v.Name, v.Priority, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving vendor %s: %w", v.ID, err)
	}
	return nil
}

// GetVendor retrieves a vendor by ID
func (p *PostgresDB) GetVendor(ctx context.Context, id string) (*Vendor, error) {
	var v Vendor
	err := p.pool.QueryRow(ctx, `
		SELECT id, name, priority, created_at, updated_at FROM vendors WHERE id = $1
	`, id).Scan(&v.ID, &v.Name, &v.Priority, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("vendor %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting vendor %s: %w", id, err)
	}
	return &v, nil
}

// ListVendors returns all vendors ordered by ID
func (p *PostgresDB) ListVendors(ctx context.Context) ([]*Vendor, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, priority, created_at, updated_at FROM vendors ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing vendors: %w", err)
	}
	defer rows.Close()

	vendors := make([]*Vendor, 0)
	for rows.Next() {
		var v Vendor
		if err := rows.Scan(&v.ID, &v.Name, &v.Priority, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning vendor: %w", err)
		}
		vendors = append(vendors, &v)
	}
	return vendors, rows.Err()
}

// SavePattern creates or replaces a pattern
func (p *PostgresDB) SavePattern(ctx context.Context, pt *Pattern) error {
	return savePattern(ctx, p.pool, pt)
}

func savePattern(ctx context.Context, q execer, pt *Pattern) error {
	_, err := q.Exec(ctx, `
		INSERT INTO patterns (id, vendor_id, hash, layout_description, iban_location,
			account_name_location, confidence, usage_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			confidence = EXCLUDED.confidence,
			usage_count = EXCLUDED.usage_count,
			updated_at = EXCLUDED.updated_at
	`, pt.ID, pt.VendorID, pt.Hash, pt.LayoutDescription, pt.IBANLocation,
		pt.AccountNameLocation, pt.Confidence, pt.UsageCount, pt.CreatedAt, pt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving pattern %s: %w", pt.ID, err)
	}
	return nil
}

// ListPatterns returns every pattern recorded for a vendor
func (p *PostgresDB) ListPatterns(ctx context.Context, vendorID string) ([]*Pattern, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, vendor_id, hash, layout_description, iban_location, account_name_location,
		       confidence, usage_count, created_at, updated_at
		FROM patterns WHERE vendor_id = $1 ORDER BY created_at
	`, vendorID)
	if err != nil {
		return nil, fmt.Errorf("listing patterns: %w", err)
	}
	defer rows.Close()

	patterns := make([]*Pattern, 0)
	for rows.Next() {
		var pt Pattern
		err := rows.Scan(&pt.ID, &pt.VendorID, &pt.Hash, &pt.LayoutDescription, &pt.IBANLocation,
			&pt.AccountNameLocation, &pt.Confidence, &pt.UsageCount, &pt.CreatedAt, &pt.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning pattern: %w", err)
		}
		patterns = append(patterns, &pt)
	}
	return patterns, rows.Err()
}

const extractionColumns = `id, batch_id, vendor_id, pattern_id, invoice_filename, storage_path, iban,
	account_name, confidence, status, reason, notes, validated_by, validated_at, processed_at, latency_ms, original_iban`

func scanExtraction(row pgx.Row) (*Extraction, error) {
	var e Extraction
	err := row.Scan(&e.ID, &e.BatchID, &e.VendorID, &e.PatternID, &e.InvoiceFilename, &e.StoragePath,
		&e.IBAN, &e.AccountName, &e.Confidence, &e.Status, &e.Reason, &e.Notes, &e.ValidatedBy,
		&e.ValidatedAt, &e.ProcessedAt, &e.LatencyMillis, &e.OriginalIBAN)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// SaveExtraction creates or replaces an extraction
func (p *PostgresDB) SaveExtraction(ctx context.Context, e *Extraction) error {
	return saveExtraction(ctx, p.pool, e)
}

func saveExtraction(ctx context.Context, q execer, e *Extraction) error {
	_, err := q.Exec(ctx, `
		INSERT INTO extractions (`+extractionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			iban = EXCLUDED.iban,
			original_iban = EXCLUDED.original_iban,
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			notes = EXCLUDED.notes,
			validated_by = EXCLUDED.validated_by,
			validated_at = EXCLUDED.validated_at
	`, e.ID, e.BatchID, e.VendorID, e.PatternID, e.InvoiceFilename, e.StoragePath, e.IBAN,
		e.AccountName, e.Confidence, string(e.Status), e.Reason, e.Notes, e.ValidatedBy,
		e.ValidatedAt, e.ProcessedAt, e.LatencyMillis, e.OriginalIBAN)
	if err != nil {
		return fmt.Errorf("saving extraction %s: %w", e.ID, err)
	}
	return nil
}

// GetExtraction retrieves an extraction by ID
func (p *PostgresDB) GetExtraction(ctx context.Context, id string) (*Extraction, error) {
	e, err := scanExtraction(p.pool.QueryRow(ctx, `SELECT `+extractionColumns+` FROM extractions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("extraction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting extraction %s: %w", id, err)
	}
	return e, nil
}

// ListExtractions returns matching extractions ordered by processing time
func (p *PostgresDB) ListExtractions(ctx context.Context, filter ExtractionFilter) ([]*Extraction, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.VendorID != "" {
		args = append(args, filter.VendorID)
		where = append(where, fmt.Sprintf("vendor_id = $%d", len(args)))
	}
	if filter.BatchID != "" {
		args = append(args, filter.BatchID)
		where = append(where, fmt.Sprintf("batch_id = $%d", len(args)))
	}

	query := `SELECT ` + extractionColumns + ` FROM extractions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY processed_at"

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing extractions: %w", err)
	}
	defer rows.Close()

	extractions := make([]*Extraction, 0)
	for rows.Next() {
		e, err := scanExtraction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning extraction: %w", err)
		}
		extractions = append(extractions, e)
	}
	return extractions, rows.Err()
}

// LatestAcceptedIBAN returns the IBAN of the vendor's newest accepted extraction
func (p *PostgresDB) LatestAcceptedIBAN(ctx context.Context, vendorID string) (string, error) {
	var value string
	err := p.pool.QueryRow(ctx, `
		SELECT iban FROM extractions
		WHERE vendor_id = $1 AND status IN ('validated', 'corrected')
		ORDER BY COALESCE(validated_at, processed_at) DESC
		LIMIT 1
	`, vendorID).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting latest IBAN for %s: %w", vendorID, err)
	}
	return value, nil
}

const alertColumns = `id, type, severity, vendor_id, extraction_id, message, data, created_at,
	resolved, resolved_by, resolved_at`

func scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	err := row.Scan(&a.ID, &a.Type, &a.Severity, &a.VendorID, &a.ExtractionID, &a.Message, &a.Data,
		&a.CreatedAt, &a.Resolved, &a.ResolvedBy, &a.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SaveAlert creates or replaces an alert
func (p *PostgresDB) SaveAlert(ctx context.Context, a *Alert) error {
	return saveAlert(ctx, p.pool, a)
}

func saveAlert(ctx context.Context, q execer, a *Alert) error {
	_, err := q.Exec(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			resolved = EXCLUDED.resolved,
			resolved_by = EXCLUDED.resolved_by,
			resolved_at = EXCLUDED.resolved_at
	`, a.ID, string(a.Type), string(a.Severity), a.VendorID, a.ExtractionID, a.Message, a.Data,
		a.CreatedAt, a.Resolved, a.ResolvedBy, a.ResolvedAt)
	if err != nil {
		return fmt.Errorf("saving alert %s: %w", a.ID, err)
	}
	return nil
}

// SaveResult writes a processed invoice's pattern, extraction and alerts
// in one transaction
func (p *PostgresDB) SaveResult(ctx context.Context, pt *Pattern, e *Extraction, alerts []*Alert) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if err := savePattern(ctx, tx, pt); err != nil {
			return err
		}
		if err := saveExtraction(ctx, tx, e); err != nil {
			return err
		}
		for _, a := range alerts {
			if err := saveAlert(ctx, tx, a); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetAlert retrieves an alert by ID
func (p *PostgresDB) GetAlert(ctx context.Context, id string) (*Alert, error) {
	a, err := scanAlert(p.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting alert %s: %w", id, err)
	}
	return a, nil
}

// ListAlerts returns matching alerts, newest first
func (p *PostgresDB) ListAlerts(ctx context.Context, filter AlertFilter) ([]*Alert, error) {
	var (
		where []string
		args  []any
	)
	if filter.ActiveOnly {
		where = append(where, "NOT resolved")
	}
	if filter.VendorID != "" {
		args = append(args, filter.VendorID)
		where = append(where, fmt.Sprintf("vendor_id = $%d", len(args)))
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]*Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// SaveBatchStats records the summary of a run
func (p *PostgresDB) SaveBatchStats(ctx context.Context, s *BatchStats) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO batch_stats (id, training, started_at, finished_at, total, succeeded, failed,
			validated, pending, rejected, oracle_failures, storage_failures, high_confidence,
			medium_confidence, low_confidence, avg_confidence, avg_latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO NOTHING
	`, s.ID, s.Training, s.StartedAt, s.FinishedAt, s.Total, s.Succeeded, s.Failed,
		s.Validated, s.Pending, s.Rejected, s.OracleFailures, s.StorageFailures, s.HighConfidence,
		s.MediumConfidence, s.LowConfidence, s.AvgConfidence, s.AvgLatencyMillis)
	if err != nil {
		return fmt.Errorf("saving batch stats %s: %w", s.ID, err)
	}
	return nil
}

// ListBatchStats returns all run summaries, newest first
func (p *PostgresDB) ListBatchStats(ctx context.Context) ([]*BatchStats, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, training, started_at, finished_at, total, succeeded, failed, validated, pending,
		       rejected, oracle_failures, storage_failures, high_confidence, medium_confidence,
		       low_confidence, avg_confidence, avg_latency_ms
		FROM batch_stats ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing batch stats: %w", err)
	}
	defer rows.Close()

	batches := make([]*BatchStats, 0)
	for rows.Next() {
		var s BatchStats
		err := rows.Scan(&s.ID, &s.Training, &s.StartedAt, &s.FinishedAt, &s.Total, &s.Succeeded,
			&s.Failed, &s.Validated, &s.Pending, &s.Rejected, &s.OracleFailures, &s.StorageFailures,
			&s.HighConfidence, &s.MediumConfidence, &s.LowConfidence, &s.AvgConfidence, &s.AvgLatencyMillis)
		if err != nil {
			return nil, fmt.Errorf("scanning batch stats: %w", err)
		}
		batches = append(batches, &s)
	}
	return batches, rows.Err()
}

// Close closes the connection pool
func (p *PostgresDB) Close() error {
	p.pool.Close()
	return nil
}
