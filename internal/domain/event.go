package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ProbabilityMovement captures how a market probability shifted within an
// observation window.
type ProbabilityMovement struct {
	Current     float64 `json:"current"`
	Previous    float64 `json:"previous"`
	Delta       float64 `json:"delta"`
	WindowHours float64 `json:"window_hours"`
}

// Location is a geographic point inferred from event text.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Region    string  `json:"region,omitempty"`
}

// MarketMetadata describes the upstream market or feed an event came from.
type MarketMetadata struct {
	Source              string     `json:"source"`
	MarketID            string     `json:"market_id"`
	URL                 string     `json:"url,omitempty"`
	CreatedAt           *time.Time `json:"created_at,omitempty"`
	TotalVolumeUSD      float64    `json:"total_volume_usd"`
	CurrentLiquidityUSD float64    `json:"current_liquidity_usd"`
	TraderCount         int        `json:"trader_count,omitempty"`
	TokenIDs            []string   `json:"token_ids,omitempty"`
}

// RawSignalEvent is the uniform input every source adapter produces and
// the pipeline consumes. Immutable after construction; InputEventHash is
// computed eagerly so the value is cheap to log and compare.
//
// RawPayload carries the source-native response for debugging and is
// excluded from both serialization and hashing.
type RawSignalEvent struct {
	EventID               string               `json:"event_id"`
	Title                 string               `json:"title"`
	Description           string               `json:"description,omitempty"`
	Probability           float64              `json:"probability"`
	ProbabilityIsFallback bool                 `json:"probability_is_fallback"`
	Movement              *ProbabilityMovement `json:"probability_movement,omitempty"`
	Keywords              []string             `json:"keywords"`
	InferredLocations     []Location           `json:"inferred_locations,omitempty"`
	Market                MarketMetadata       `json:"market"`
	ObservedAt            time.Time            `json:"observed_at"`
	SourceMetrics         map[string]float64   `json:"source_metrics,omitempty"`
	RawPayload            json.RawMessage      `json:"-"`
	InputEventHash        string               `json:"input_event_hash"`
}

// NewRawSignalEvent normalizes and seals an event: keywords are lowercased,
// deduplicated and sorted, timestamps forced to UTC, and the fingerprint
// computed and stored.
func NewRawSignalEvent(e RawSignalEvent) (RawSignalEvent, error) {
	if e.EventID == "" {
		return RawSignalEvent{}, fmt.Errorf("raw signal event: %w", ErrEventIDRequired)
	}
	if e.Title == "" {
		return RawSignalEvent{}, fmt.Errorf("raw signal event %s: %w", e.EventID, ErrTitleRequired)
	}
	if e.Probability < 0 || e.Probability > 1 {
		return RawSignalEvent{}, fmt.Errorf("raw signal event %s: probability %.4f: %w", e.EventID, e.Probability, ErrProbabilityOutOfRange)
	}
	if e.Market.TotalVolumeUSD < 0 || e.Market.CurrentLiquidityUSD < 0 {
		return RawSignalEvent{}, fmt.Errorf("raw signal event %s: %w", e.EventID, ErrNegativeMarketValue)
	}
	if e.ObservedAt.IsZero() {
		return RawSignalEvent{}, fmt.Errorf("raw signal event %s: %w", e.EventID, ErrObservedAtRequired)
	}

	e.Keywords = normalizeKeywords(e.Keywords)
	e.ObservedAt = e.ObservedAt.UTC()
	if e.Market.CreatedAt != nil {
		t := e.Market.CreatedAt.UTC()
		e.Market.CreatedAt = &t
	}
	e.InputEventHash = fingerprint(e)
	return e, nil
}

// fingerprint hashes the canonical identity tuple. Observation time, raw
// payload, inferred locations and the fallback flag are deliberately
// excluded: the same event observed twice hashes identically.
func fingerprint(e RawSignalEvent) string {
	payload := map[string]any{
		"event_id":    e.EventID,
		"title":       e.Title,
		"description": e.Description,
		"probability": fixed(e.Probability, 10),
		"keywords":    e.Keywords,
		"source":      e.Market.Source,
		"market_id":   e.Market.MarketID,
		"volume":      fixed(e.Market.TotalVolumeUSD, 2),
		"liquidity":   fixed(e.Market.CurrentLiquidityUSD, 2),
	}
	if e.Movement != nil {
		payload["movement"] = []string{
			fixed(e.Movement.Current, 10),
			fixed(e.Movement.Previous, 10),
			fixed(e.Movement.Delta, 10),
			fixed(e.Movement.WindowHours, 2),
		}
	}
	// All values are strings; canonicalization cannot fail on them.
	b, _ := CanonicalJSON(payload)
	return HashHex(b)
}

func normalizeKeywords(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, kw := range in {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}
