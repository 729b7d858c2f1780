package domain

import (
	"strings"
	"time"
)

// ConfidenceLevel buckets a confidence score for human consumption.
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "LOW"
	ConfidenceMedium ConfidenceLevel = "MEDIUM"
	ConfidenceHigh   ConfidenceLevel = "HIGH"
)

// ConfidenceLevelFor buckets score: LOW below 0.4, MEDIUM below 0.7,
// HIGH at or above 0.7.
func ConfidenceLevelFor(score float64) ConfidenceLevel {
	switch {
	case score < 0.4:
		return ConfidenceLow
	case score < 0.7:
		return ConfidenceMedium
	default:
		return ConfidenceHigh
	}
}

// GeographicContext names the regions and chokepoints a signal touches.
type GeographicContext struct {
	Regions     []string `json:"regions,omitempty"`
	Chokepoints []string `json:"chokepoints,omitempty"`
}

// TemporalContext bounds when the underlying event plays out.
type TemporalContext struct {
	EventHorizon   string     `json:"event_horizon,omitempty"`
	ResolutionDate *time.Time `json:"resolution_date,omitempty"`
}

// EvidenceItem cites one source backing a signal.
type EvidenceItem struct {
	SourceName  string `json:"source_name"`
	SourceType  string `json:"source_type"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
}

// OmenSignal is the final decision-grade artifact. It carries context and
// an audit trail but no severity, no impact metrics and no
// recommendations. Immutable once stored.
type OmenSignal struct {
	SignalID          string            `json:"signal_id"`
	SourceEventID     string            `json:"source_event_id"`
	TraceID           string            `json:"trace_id"`
	InputEventHash    string            `json:"input_event_hash"`
	Title             string            `json:"title"`
	Description       string            `json:"description,omitempty"`
	Probability       float64           `json:"probability"`
	ProbabilitySource string            `json:"probability_source"`
	ConfidenceScore   float64           `json:"confidence_score"`
	ConfidenceLevel   ConfidenceLevel   `json:"confidence_level"`
	Category          SignalCategory    `json:"category"`
	Tags              []string          `json:"tags,omitempty"`
	Geographic        GeographicContext `json:"geographic_context"`
	Temporal          TemporalContext   `json:"temporal_context"`
	Evidence          []EvidenceItem    `json:"evidence,omitempty"`
	RulesetVersion    string            `json:"ruleset_version"`
	Explanation       *ExplanationChain `json:"explanation_chain,omitempty"`
	GeneratedAt       time.Time         `json:"generated_at"`
}

// IsLive reports whether the signal was produced by a live fetch cycle,
// by id prefix convention.
func (s OmenSignal) IsLive() bool {
	return strings.HasPrefix(s.SignalID, LiveSignalPrefix)
}
