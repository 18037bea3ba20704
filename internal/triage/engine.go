// Package triage decides what happens to an extracted IBAN based on its
// validation result, the oracle's confidence and the vendor's history.
package triage

import (
	"errors"
	"fmt"

	"github.com/zombor/iban-extractor/internal/iban"
)

// ErrInvalidConfiguration is returned by NewEngine when thresholds are out of range
var ErrInvalidConfiguration = errors.New("invalid triage configuration")

// Disposition is the outcome assigned to an extraction
type Disposition string

const (
	Validated Disposition = "validated"
	Pending   Disposition = "pending"
	Rejected  Disposition = "rejected"
)

// BelowMinimumConfidence is the rejection reason when the IBAN is valid but
// the oracle was not sure enough.
const BelowMinimumConfidence = "BelowMinimumConfidence"

// AlertType classifies alerts raised during triage
type AlertType string

const (
	AlertLowConfidence AlertType = "low_confidence"
	AlertIBANChange    AlertType = "iban_change"
	AlertPatternDrift  AlertType = "pattern_drift"
)

// Severity of an alert
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Level buckets a confidence score for reports
type Level string

const (
	LevelHigh   Level = "HIGH"
	LevelMedium Level = "MEDIUM"
	LevelLow    Level = "LOW"
)

// Config holds the triage thresholds
type Config struct {
	HighThreshold float64
	LowThreshold  float64
	// DriftThreshold is the fraction of a vendor's rolling pattern confidence
	// below which an incoming extraction is flagged as drifting.
	DriftThreshold float64
}

// DefaultConfig returns the production thresholds
func DefaultConfig() Config {
	return Config{
		HighThreshold:  0.90,
		LowThreshold:   0.70,
		DriftThreshold: 0.80,
	}
}

// Validate checks the thresholds
func (c Config) Validate() error {
	if c.HighThreshold <= 0 || c.HighThreshold > 1 {
		return fmt.Errorf("%w: high threshold %v must be in (0,1]", ErrInvalidConfiguration, c.HighThreshold)
	}
	if c.LowThreshold < 0 || c.LowThreshold >= c.HighThreshold {
		return fmt.Errorf("%w: low threshold %v must be in [0,%v)", ErrInvalidConfiguration, c.LowThreshold, c.HighThreshold)
	}
	if c.DriftThreshold <= 0 || c.DriftThreshold > 1 {
		return fmt.Errorf("%w: drift threshold %v must be in (0,1]", ErrInvalidConfiguration, c.DriftThreshold)
	}
	return nil
}

// VendorHistory is what the engine needs to know about a vendor's past
type VendorHistory struct {
	VendorID string
	// LastValidatedIBAN is the normalized IBAN of the vendor's most recent
	// validated extraction, empty if there is none.
	LastValidatedIBAN string
	PatternHash       string
	PatternConfidence float64
	PatternUsage      int
	IncomingHash      string
}

// AlertSpec describes an alert the caller should persist
type AlertSpec struct {
	Type     AlertType
	Severity Severity
	Message  string
	Data     map[string]any
}

// Decision is the result of evaluating one extraction
type Decision struct {
	Disposition Disposition
	Reason      string
	Level       Level
	Alerts      []AlertSpec
}

// Engine applies the triage rules. It is safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine validates cfg and returns an Engine
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the thresholds the engine was built with
func (e *Engine) Config() Config {
	return e.cfg
}

// Level returns the report bucket for a confidence
func (e *Engine) Level(confidence float64) Level {
	switch {
	case confidence >= e.cfg.HighThreshold:
		return LevelHigh
	case confidence >= e.cfg.LowThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Evaluate decides the disposition of one extraction and collects alerts.
// The IBAN change and drift alerts never change the disposition.
func (e *Engine) Evaluate(result iban.Result, confidence float64, history VendorHistory) Decision {
	d := Decision{Level: e.Level(confidence)}

	switch {
	case !result.Valid:
		d.Disposition = Rejected
		d.Reason = string(result.Reason)
	case confidence >= e.cfg.HighThreshold:
		d.Disposition = Validated
	case confidence >= e.cfg.LowThreshold:
		d.Disposition = Pending
		d.Alerts = append(d.Alerts, AlertSpec{
			Type:     AlertLowConfidence,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("Low confidence extraction (%.2f) for vendor %s", confidence, history.VendorID),
			Data: map[string]any{
				"confidence": confidence,
				"threshold":  e.cfg.HighThreshold,
			},
		})
	default:
		d.Disposition = Rejected
		d.Reason = BelowMinimumConfidence
	}

	if alert, ok := ibanChange(result, history); ok {
		d.Alerts = append(d.Alerts, alert)
	}
	if alert, ok := e.patternDrift(confidence, history); ok {
		d.Alerts = append(d.Alerts, alert)
	}

	return d
}

func ibanChange(result iban.Result, history VendorHistory) (AlertSpec, bool) {
	if history.LastValidatedIBAN == "" || result.Normalized == "" {
		return AlertSpec{}, false
	}
	if history.LastValidatedIBAN == result.Normalized {
		return AlertSpec{}, false
	}

	oldCountry := iban.CountryCode(history.LastValidatedIBAN)
	newCountry := iban.CountryCode(result.Normalized)
	message := fmt.Sprintf("IBAN changed for vendor %s", history.VendorID)
	if oldCountry != newCountry {
		message = fmt.Sprintf("IBAN changed for vendor %s (country %s to %s)", history.VendorID, oldCountry, newCountry)
	}

	return AlertSpec{
		Type:     AlertIBANChange,
		Severity: SeverityHigh,
		Message:  message,
		Data: map[string]any{
			"old_iban":        iban.Mask(history.LastValidatedIBAN),
			"new_iban":        iban.Mask(result.Normalized),
			"country_changed": oldCountry != newCountry,
		},
	}, true
}

func (e *Engine) patternDrift(confidence float64, history VendorHistory) (AlertSpec, bool) {
	if history.PatternUsage < 1 || history.PatternHash == "" {
		return AlertSpec{}, false
	}

	if history.IncomingHash != "" && history.IncomingHash != history.PatternHash {
		return AlertSpec{
			Type:     AlertPatternDrift,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("Invoice layout changed for vendor %s", history.VendorID),
			Data: map[string]any{
				"previous_hash": history.PatternHash,
				"incoming_hash": history.IncomingHash,
				"usage_count":   history.PatternUsage,
			},
		}, true
	}

	floor := history.PatternConfidence * e.cfg.DriftThreshold
	if confidence < floor {
		return AlertSpec{
			Type:     AlertPatternDrift,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("Confidence %.2f dropped below pattern baseline for vendor %s", confidence, history.VendorID),
			Data: map[string]any{
				"confidence":         confidence,
				"pattern_confidence": history.PatternConfidence,
				"floor":              floor,
			},
		}, true
	}

	return AlertSpec{}, false
}
