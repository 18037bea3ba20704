package extraction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/zombor/iban-extractor/internal/scanning"
)

// canonicalLayout is the part of a layout that identifies a pattern.
// Free-text context is left out because it differs on every call.
type canonicalLayout struct {
	LayoutType     string           `json:"layout_type"`
	IBANSection    canonicalSection `json:"iban_section"`
	AccountSection canonicalSection `json:"account_section"`
}

type canonicalSection struct {
	Label    string `json:"label"`
	Location string `json:"location"`
}

func canonicalize(layout *scanning.Layout) canonicalLayout {
	norm := func(s string) string {
		return strings.ToLower(strings.Join(strings.Fields(s), " "))
	}
	if layout == nil {
		return canonicalLayout{LayoutType: "unknown"}
	}
	return canonicalLayout{
		LayoutType: norm(layout.LayoutType),
		IBANSection: canonicalSection{
			Label:    norm(layout.IBANSection.Label),
			Location: norm(layout.IBANSection.Location),
		},
		AccountSection: canonicalSection{
			Label:    norm(layout.AccountSection.Label),
			Location: norm(layout.AccountSection.Location),
		},
	}
}

// PatternHash returns the SHA-256 of the canonical JSON form of a layout
func PatternHash(layout *scanning.Layout) string {
	data, _ := json.Marshal(canonicalize(layout))
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PatternStore keeps per-vendor layout bookkeeping. Recording is atomic per
// vendor; different vendors proceed in parallel.
type PatternStore struct {
	db          DB
	idGenerator IDGenerator
	timeSource  TimeSource

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPatternStore creates a PatternStore on top of db
func NewPatternStore(db DB, idGen IDGenerator, timeSrc TimeSource) *PatternStore {
	return &PatternStore{
		db:          db,
		idGenerator: idGen,
		timeSource:  timeSrc,
		locks:       make(map[string]*sync.Mutex),
	}
}

func (p *PatternStore) vendorLock(vendorID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[vendorID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[vendorID] = l
	}
	return l
}

// current picks the pattern that supersedes the others: most recently
// used, then most used
func current(patterns []*Pattern) *Pattern {
	var best *Pattern
	for _, pt := range patterns {
		switch {
		case best == nil:
			best = pt
		case pt.UpdatedAt.After(best.UpdatedAt):
			best = pt
		case pt.UpdatedAt.Equal(best.UpdatedAt) && pt.UsageCount > best.UsageCount:
			best = pt
		}
	}
	return best
}

// Lookup returns the vendor's current pattern, or nil if none has been recorded
func (p *PatternStore) Lookup(ctx context.Context, vendorID string) (*Pattern, error) {
	patterns, err := p.db.ListPatterns(ctx, vendorID)
	if err != nil {
		return nil, fmt.Errorf("listing patterns: %w", err)
	}
	return current(patterns), nil
}

// rollingAverage folds one more observation into a count-weighted mean.
// N identical observations of c always average to exactly c.
func rollingAverage(old float64, usage int, c float64) float64 {
	total := decimal.NewFromFloat(old).
		Mul(decimal.NewFromInt(int64(usage))).
		Add(decimal.NewFromFloat(c))
	avg, _ := total.Div(decimal.NewFromInt(int64(usage + 1))).Round(8).Float64()
	return avg
}

// Record notes one successful extraction for a vendor. An existing pattern
// with the same hash has its rolling confidence and usage updated; a new
// hash creates a new pattern.
func (p *PatternStore) Record(ctx context.Context, vendorID, hash string, confidence float64, layout *scanning.Layout) (*Pattern, error) {
	return p.RecordWith(ctx, vendorID, hash, confidence, layout, func(pt *Pattern) error {
		if err := p.db.SavePattern(ctx, pt); err != nil {
			return fmt.Errorf("saving pattern: %w", err)
		}
		return nil
	})
}

// RecordWith computes the vendor's next pattern like Record but hands it to
// commit instead of saving it, all under the vendor lock. Nothing is
// counted unless commit succeeds.
func (p *PatternStore) RecordWith(ctx context.Context, vendorID, hash string, confidence float64, layout *scanning.Layout, commit func(*Pattern) error) (*Pattern, error) {
	lock := p.vendorLock(vendorID)
	lock.Lock()
	defer lock.Unlock()

	pt, err := p.next(ctx, vendorID, hash, confidence, layout)
	if err != nil {
		return nil, err
	}
	if err := commit(pt); err != nil {
		return nil, err
	}
	return pt, nil
}

// next must be called with the vendor lock held
func (p *PatternStore) next(ctx context.Context, vendorID, hash string, confidence float64, layout *scanning.Layout) (*Pattern, error) {
	patterns, err := p.db.ListPatterns(ctx, vendorID)
	if err != nil {
		return nil, fmt.Errorf("listing patterns: %w", err)
	}

	now := p.timeSource.Now()
	for _, pt := range patterns {
		if pt.Hash != hash {
			continue
		}
		updated := *pt
		updated.Confidence = rollingAverage(pt.Confidence, pt.UsageCount, confidence)
		updated.UsageCount = pt.UsageCount + 1
		updated.UpdatedAt = now
		return &updated, nil
	}

	description, err := json.Marshal(canonicalize(layout))
	if err != nil {
		return nil, fmt.Errorf("marshaling layout: %w", err)
	}

	pt := &Pattern{
		ID:                p.idGenerator.Generate(),
		VendorID:          vendorID,
		Hash:              hash,
		LayoutDescription: string(description),
		Confidence:        confidence,
		UsageCount:        1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if layout != nil {
		pt.IBANLocation = layout.IBANSection.Location
		pt.AccountNameLocation = layout.AccountSection.Location
	}
	return pt, nil
}
