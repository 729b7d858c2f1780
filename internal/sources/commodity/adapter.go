package commodity

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/sources"
)

// Client fetches commodity price series, returning the raw response body
// for attestation.
type Client interface {
	ListSeries(ctx context.Context, limit int) ([]PriceTimeSeries, []byte, error)
}

// Probability by spike severity. A spike is an observed fact, so these
// encode detection strength rather than market odds.
var severityProbability = map[string]float64{
	SeverityMinor:    0.60,
	SeverityModerate: 0.75,
	SeverityMajor:    0.90,
}

// Adapter runs the spike detector over each fetched series and emits one
// raw signal event per detected spike. Quiet series produce nothing.
type Adapter struct {
	name       string
	sourceType domain.SourceType
	client     Client
	detector   *Detector
	replay     *sources.ReplayCache
	clock      func() time.Time
	logger     zerolog.Logger

	mu           sync.Mutex
	lastRespHash string
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithClock injects the time source, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(a *Adapter) { a.clock = clock }
}

// NewAdapter builds a commodity adapter with the given spike thresholds.
func NewAdapter(name string, sourceType domain.SourceType, client Client, cfg SpikeConfig, logger zerolog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		name:       name,
		sourceType: sourceType,
		client:     client,
		detector:   NewDetector(cfg),
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

// FetchEvents implements sources.Source. Series that are too short or
// fail to map are skipped, never fatal.
func (a *Adapter) FetchEvents(ctx context.Context, limit int, asOf *time.Time) ([]domain.RawSignalEvent, error) {
	if asOf != nil {
		if batch, ok := a.replay.Get(*asOf); ok {
			return batch, nil
		}
	}

	series, raw, err := a.client.ListSeries(ctx, limit)
	if err != nil {
		return nil, &domain.SourceUnavailableError{Source: a.name, Err: err}
	}

	a.mu.Lock()
	a.lastRespHash = domain.HashHex(raw)
	a.mu.Unlock()

	events := make([]domain.RawSignalEvent, 0, len(series))
	for _, s := range series {
		result, err := a.detector.Detect(s)
		if err != nil {
			a.logger.Warn().Err(err).Str("symbol", s.Symbol).Msg("skipping series")
			continue
		}
		if !result.IsSpike {
			continue
		}
		ev, err := a.toEvent(s, result)
		if err != nil {
			a.logger.Warn().Err(err).Str("symbol", s.Symbol).Msg("skipping malformed series")
			continue
		}
		events = append(events, ev)
	}

	if asOf != nil {
		a.replay.Put(*asOf, events)
	}
	return events, nil
}

func (a *Adapter) toEvent(series PriceTimeSeries, result SpikeResult) (domain.RawSignalEvent, error) {
	raw, err := json.Marshal(series)
	if err != nil {
		return domain.RawSignalEvent{}, fmt.Errorf("series %s: %w", series.Symbol, err)
	}

	keywords := []string{"commodity", "price spike", strings.ToLower(series.Symbol), result.Direction, result.Severity}
	keywords = append(keywords, nameKeywords(series.Name)...)
	sort.Strings(keywords)

	title := fmt.Sprintf("%s price spike: %s %.1f%% against baseline", series.Name, result.Direction, result.PctChange)
	description := fmt.Sprintf("%s moved from a %.2f %s baseline to %.2f (z-score %.2f), classified %s",
		series.Name, result.Baseline, series.Unit, result.LatestPrice, result.ZScore, result.Severity)

	return domain.NewRawSignalEvent(domain.RawSignalEvent{
		EventID:     result.EventID,
		Title:       title,
		Description: description,
		Probability: severityProbability[result.Severity],
		Keywords:    keywords,
		Market: domain.MarketMetadata{
			Source:   a.name,
			MarketID: series.Symbol,
		},
		ObservedAt: result.LatestDate,
		SourceMetrics: map[string]float64{
			"pct_change":   result.PctChange,
			"zscore":       result.ZScore,
			"baseline":     result.Baseline,
			"latest_price": result.LatestPrice,
		},
		RawPayload: raw,
	})
}

// nameKeywords lowercases the commodity display name into single-word
// keywords, dropping connectives.
func nameKeywords(name string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(name)) {
		if w == "and" || w == "of" || w == "the" {
			continue
		}
		out = append(out, w)
	}
	return out
}
