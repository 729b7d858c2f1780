// Package market normalizes prediction-market feeds into raw signal
// events: YES-probability extraction, logistics keyword tagging and
// chokepoint location inference.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/registry"
	"github.com/omenworks/omen/internal/sources"
	"github.com/omenworks/omen/internal/textmatch"
)

// RawMarket is one upstream market object before normalization.
type RawMarket struct {
	ID             string     `json:"id"`
	Question       string     `json:"question"`
	Description    string     `json:"description,omitempty"`
	OutcomePrices  string     `json:"outcome_prices,omitempty"`
	BestAsk        float64    `json:"best_ask,omitempty"`
	Volume         float64    `json:"volume"`
	Liquidity      float64    `json:"liquidity"`
	URL            string     `json:"url,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	TraderCount    int        `json:"trader_count,omitempty"`
	TokenIDs       []string   `json:"token_ids,omitempty"`
	PriceChange24h float64    `json:"price_change_24h,omitempty"`
}

// Client lists markets from an upstream venue. The raw response body is
// returned alongside so the adapter can hash it for attestation.
type Client interface {
	ListMarkets(ctx context.Context, limit int) ([]RawMarket, []byte, error)
}

// MovementTracker yields probability movement across polls for feeds
// that carry no change field of their own.
type MovementTracker interface {
	Observe(source, marketID string, probability float64, at time.Time) *domain.ProbabilityMovement
}

// Adapter implements sources.Source over a market Client.
type Adapter struct {
	name        string
	sourceType  domain.SourceType
	client      Client
	replay      *sources.ReplayCache
	tracker     MovementTracker
	volumeFloor float64
	clock       func() time.Time
	logger      zerolog.Logger

	mu           sync.Mutex
	lastRespHash string
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithClock injects the time source, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(a *Adapter) { a.clock = clock }
}

// WithVolumeFloor drops markets whose lifetime volume is below
// minVolumeUSD before normalization. Zero disables the filter.
func WithVolumeFloor(minVolumeUSD float64) Option {
	return func(a *Adapter) { a.volumeFloor = minVolumeUSD }
}

// WithMovementTracker records each poll in tracker and fills Movement
// from it when the feed reports no 24h change.
func WithMovementTracker(tracker MovementTracker) Option {
	return func(a *Adapter) { a.tracker = tracker }
}

// NewAdapter builds a market adapter. sourceType declares the provenance
// of the client (REAL for a live venue, MOCK for scenario data).
func NewAdapter(name string, sourceType domain.SourceType, client Client, logger zerolog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		name:       name,
		sourceType: sourceType,
		client:     client,
		replay:     sources.NewReplayCache(),
		clock:      time.Now,
		logger:     logger.With().Str("source", name).Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements sources.Source.
func (a *Adapter) Name() string { return a.name }

// Type implements sources.Source.
func (a *Adapter) Type() domain.SourceType { return a.sourceType }

// LastResponseHash implements sources.Attester.
func (a *Adapter) LastResponseHash() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastRespHash
}

// FetchEvents implements sources.Source. Per-market failures are logged
// and skipped; the fetch yields what it has.
func (a *Adapter) FetchEvents(ctx context.Context, limit int, asOf *time.Time) ([]domain.RawSignalEvent, error) {
	if asOf != nil {
		if batch, ok := a.replay.Get(*asOf); ok {
			return batch, nil
		}
	}

	markets, raw, err := a.client.ListMarkets(ctx, limit)
	if err != nil {
		return nil, &domain.SourceUnavailableError{Source: a.name, Err: err}
	}

	a.mu.Lock()
	a.lastRespHash = domain.HashHex(raw)
	a.mu.Unlock()

	observed := a.clock().UTC()
	events := make([]domain.RawSignalEvent, 0, len(markets))
	for _, m := range markets {
		if a.volumeFloor > 0 && m.Volume < a.volumeFloor {
			a.logger.Debug().Str("market_id", m.ID).Float64("volume_usd", m.Volume).
				Float64("floor_usd", a.volumeFloor).Msg("market below volume floor")
			continue
		}
		ev, err := a.toEvent(m, observed)
		if err != nil {
			a.logger.Warn().Err(err).Str("market_id", m.ID).Msg("skipping malformed market")
			continue
		}
		events = append(events, ev)
	}

	if asOf != nil {
		a.replay.Put(*asOf, events)
	}
	return events, nil
}

func (a *Adapter) toEvent(m RawMarket, observed time.Time) (domain.RawSignalEvent, error) {
	probability, fallback := ExtractYesProbability(m)
	text := m.Question + " " + m.Description

	raw, err := json.Marshal(m)
	if err != nil {
		return domain.RawSignalEvent{}, fmt.Errorf("market %s: %w", m.ID, err)
	}

	return domain.NewRawSignalEvent(domain.RawSignalEvent{
		EventID:               m.ID,
		Title:                 m.Question,
		Description:           m.Description,
		Probability:           probability,
		ProbabilityIsFallback: fallback,
		Movement:              a.movementFor(m, probability, observed),
		Keywords:              MapKeywords(text),
		InferredLocations:     InferLocations(text),
		Market: domain.MarketMetadata{
			Source:              a.name,
			MarketID:            m.ID,
			URL:                 m.URL,
			CreatedAt:           m.CreatedAt,
			TotalVolumeUSD:      m.Volume,
			CurrentLiquidityUSD: m.Liquidity,
			TraderCount:         m.TraderCount,
			TokenIDs:            m.TokenIDs,
		},
		ObservedAt: observed,
		RawPayload: raw,
	})
}

// movementFor prefers the feed's own 24h change; the tracker still sees
// every poll so its history stays warm across fields going quiet.
func (a *Adapter) movementFor(m RawMarket, probability float64, observed time.Time) *domain.ProbabilityMovement {
	var tracked *domain.ProbabilityMovement
	if a.tracker != nil {
		tracked = a.tracker.Observe(a.name, m.ID, probability, observed)
	}
	if mv := movement(m, probability); mv != nil {
		return mv
	}
	return tracked
}

func movement(m RawMarket, current float64) *domain.ProbabilityMovement {
	if m.PriceChange24h == 0 {
		return nil
	}
	return &domain.ProbabilityMovement{
		Current:     current,
		Previous:    current - m.PriceChange24h,
		Delta:       m.PriceChange24h,
		WindowHours: 24,
	}
}

// ExtractYesProbability pulls the YES price out of a market. Preference
// order: outcome-price string (JSON-encoded or comma-separated), best
// ask, then even odds with the fallback flag set.
func ExtractYesProbability(m RawMarket) (probability float64, isFallback bool) {
	if s := strings.TrimSpace(m.OutcomePrices); s != "" {
		if p, ok := parseFirstPrice(s); ok {
			return clampUnit(p), false
		}
	}
	if m.BestAsk > 0 {
		return clampUnit(m.BestAsk), false
	}
	return 0.5, true
}

func parseFirstPrice(s string) (float64, bool) {
	if strings.HasPrefix(s, "[") {
		var asStrings []string
		if err := json.Unmarshal([]byte(s), &asStrings); err == nil && len(asStrings) > 0 {
			if p, err := strconv.ParseFloat(strings.TrimSpace(asStrings[0]), 64); err == nil {
				return p, true
			}
			return 0, false
		}
		var asNumbers []float64
		if err := json.Unmarshal([]byte(s), &asNumbers); err == nil && len(asNumbers) > 0 {
			return asNumbers[0], true
		}
		return 0, false
	}
	first := strings.TrimSpace(strings.Split(s, ",")[0])
	p, err := strconv.ParseFloat(first, 64)
	return p, err == nil
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// MapKeywords returns the logistics vocabulary keywords present in text
// as whole words, sorted for determinism.
func MapKeywords(text string) []string {
	var out []string
	for kw := range registry.LogisticsKeywords() {
		if textmatch.ContainsWord(text, kw) {
			out = append(out, kw)
		}
	}
	sort.Strings(out)
	return out
}

// InferLocations maps chokepoint aliases found in text to their
// coordinates, in chokepoint table order.
func InferLocations(text string) []domain.Location {
	var out []domain.Location
	for _, cp := range registry.Chokepoints() {
		for _, alias := range cp.Aliases {
			if textmatch.ContainsWord(text, alias) {
				out = append(out, domain.Location{
					Latitude:  cp.Latitude,
					Longitude: cp.Longitude,
					Name:      cp.Name,
					Region:    cp.Region,
				})
				break
			}
		}
	}
	return out
}
