package extraction

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/iban-extractor/internal/triage"
)

// statsAggregator accumulates BatchStats from concurrent workers
type statsAggregator struct {
	mu            sync.Mutex
	stats         BatchStats
	confidenceSum decimal.Decimal
	latencySum    time.Duration
}

func newStatsAggregator(id string, training bool, startedAt time.Time) *statsAggregator {
	return &statsAggregator{
		stats: BatchStats{
			ID:        id,
			Training:  training,
			StartedAt: startedAt,
		},
		confidenceSum: decimal.Zero,
	}
}

func (a *statsAggregator) add(item *ItemResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.Total++
	a.latencySum += item.Latency

	if item.Failed() {
		a.stats.Failed++
		switch item.Failure {
		case FailureOracle:
			a.stats.OracleFailures++
		case FailureStorage:
			a.stats.StorageFailures++
		}
		return
	}

	a.stats.Succeeded++
	switch item.Extraction.Status {
	case StatusValidated:
		a.stats.Validated++
	case StatusPending:
		a.stats.Pending++
	case StatusRejected:
		a.stats.Rejected++
	}
	switch item.Level {
	case triage.LevelHigh:
		a.stats.HighConfidence++
	case triage.LevelMedium:
		a.stats.MediumConfidence++
	default:
		a.stats.LowConfidence++
	}
	a.confidenceSum = a.confidenceSum.Add(decimal.NewFromFloat(item.Extraction.Confidence))
}

// finish computes the averages. Confidence is averaged over succeeded
// items, latency over every item.
func (a *statsAggregator) finish(finishedAt time.Time) BatchStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.stats
	s.FinishedAt = finishedAt
	if s.Succeeded > 0 {
		s.AvgConfidence, _ = a.confidenceSum.
			Div(decimal.NewFromInt(int64(s.Succeeded))).
			Round(4).
			Float64()
	}
	if s.Total > 0 {
		s.AvgLatencyMillis, _ = decimal.NewFromInt(a.latencySum.Milliseconds()).
			Div(decimal.NewFromInt(int64(s.Total))).
			Round(2).
			Float64()
	}
	return s
}
