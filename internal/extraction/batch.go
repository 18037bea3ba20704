package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zombor/iban-extractor/internal/triage"
)

// OrchestratorConfig holds batch settings
type OrchestratorConfig struct {
	// MaxWorkers bounds the number of invoices processed at once
	MaxWorkers int
	// Training processes invoices one at a time so patterns are learned in order
	Training bool
}

// DefaultOrchestratorConfig returns the production batch settings
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{MaxWorkers: 4}
}

// Orchestrator runs batches of invoices through a Service with a bounded
// worker pool
type Orchestrator struct {
	service *Service
	cfg     OrchestratorConfig
}

// NewOrchestrator checks cfg and returns an Orchestrator
func NewOrchestrator(service *Service, cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.MaxWorkers < 1 {
		return nil, fmt.Errorf("%w: max workers %d must be at least 1", triage.ErrInvalidConfiguration, cfg.MaxWorkers)
	}
	if service.cfg.OracleTimeout <= 0 {
		return nil, fmt.Errorf("%w: oracle timeout must be positive", triage.ErrInvalidConfiguration)
	}
	if service.cfg.StorageRetryBackoff < 0 {
		return nil, fmt.Errorf("%w: storage retry backoff must not be negative", triage.ErrInvalidConfiguration)
	}
	return &Orchestrator{service: service, cfg: cfg}, nil
}

// Run processes every invoice and returns per-item results in input order
// plus aggregate stats. Individual failures are recorded on the items; the
// returned error is only set when ctx is already done before the run starts.
func (o *Orchestrator) Run(ctx context.Context, invoices []Invoice) (*BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := o.service
	batchID := s.idGenerator.Generate()
	agg := newStatsAggregator(batchID, o.cfg.Training, s.timeSource.Now())

	workers := o.cfg.MaxWorkers
	if o.cfg.Training {
		workers = 1
	}
	if workers > len(invoices) {
		workers = len(invoices)
	}

	slog.Info("Starting batch",
		"batch_id", batchID,
		"invoices", len(invoices),
		"workers", workers,
		"training", o.cfg.Training,
	)

	results := make([]*ItemResult, len(invoices))
	tracker := newIBANTracker()

	jobs := make(chan int, len(invoices))
	for i := range invoices {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				item := s.process(ctx, batchID, invoices[i], tracker)
				results[i] = item
				agg.add(item)
			}
		}()
	}
	wg.Wait()

	stats := agg.finish(s.timeSource.Now())
	if err := s.withRetry(ctx, "saving batch stats", func() error {
		return s.db.SaveBatchStats(ctx, &stats)
	}); err != nil {
		slog.Error("Failed to save batch stats", "batch_id", batchID, "error", err)
	}

	slog.Info("Batch completed",
		"batch_id", batchID,
		"total", stats.Total,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"validated", stats.Validated,
		"pending", stats.Pending,
		"rejected", stats.Rejected,
		"avg_confidence", stats.AvgConfidence,
	)

	return &BatchResult{Stats: stats, Items: results}, nil
}
