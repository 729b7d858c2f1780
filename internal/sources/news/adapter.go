package news

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/sources"
)

// Client fetches articles from an upstream aggregator, returning the raw
// response body for attestation.
type Client interface {
	ListArticles(ctx context.Context, limit int) ([]Article, []byte, error)
}

// Adapter runs every fetched article through the quality gate and emits
// raw signal events for the survivors. A fresh dedupe cache is used per
// fetch so replays stay deterministic.
type Adapter struct {
	name       string
	sourceType domain.SourceType
	client     Client
	gateCfg    GateConfig
	replay     *sources.ReplayCache
	clock      func() time.Time
	logger     zerolog.Logger

	mu           sync.Mutex
	lastRespHash string
	lastRejects  []QualityScore
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithClock injects the time source, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(a *Adapter) { a.clock = clock }
}

// NewAdapter builds a news adapter with the given gate thresholds.
func NewAdapter(name string, sourceType domain.SourceType, client Client, gateCfg GateConfig, logger zerolog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		name:       name,
		sourceType: sourceType,
		client:     client,
		gateCfg:    gateCfg,
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

// LastRejections returns the gate verdicts for articles dropped by the
// most recent fetch.
func (a *Adapter) LastRejections() []QualityScore {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]QualityScore, len(a.lastRejects))
	copy(out, a.lastRejects)
	return out
}

// FetchEvents implements sources.Source. The gate evaluates against the
// fetch reference time; articles that fail are recorded and skipped.
func (a *Adapter) FetchEvents(ctx context.Context, limit int, asOf *time.Time) ([]domain.RawSignalEvent, error) {
	referenceTime := a.clock().UTC()
	if asOf != nil {
		if batch, ok := a.replay.Get(*asOf); ok {
			return batch, nil
		}
		referenceTime = asOf.UTC()
	}

	articles, raw, err := a.client.ListArticles(ctx, limit)
	if err != nil {
		return nil, &domain.SourceUnavailableError{Source: a.name, Err: err}
	}

	a.mu.Lock()
	a.lastRespHash = domain.HashHex(raw)
	a.mu.Unlock()

	// One gate per batch: the dedupe cache must never leak across fetches.
	gate := NewQualityGate(a.gateCfg)

	events := make([]domain.RawSignalEvent, 0, len(articles))
	var rejects []QualityScore
	for _, article := range articles {
		score := gate.Evaluate(article, referenceTime)
		if !score.PassedGate {
			rejects = append(rejects, score)
			a.logger.Debug().
				Str("domain", article.SourceDomain).
				Str("reason", score.RejectionReason).
				Msg("article rejected by quality gate")
			continue
		}
		ev, err := a.toEvent(article, score)
		if err != nil {
			a.logger.Warn().Err(err).Str("title", article.Title).Msg("skipping malformed article")
			continue
		}
		events = append(events, ev)
	}

	a.mu.Lock()
	a.lastRejects = rejects
	a.mu.Unlock()

	if asOf != nil {
		a.replay.Put(*asOf, events)
	}
	return events, nil
}

func (a *Adapter) toEvent(article Article, score QualityScore) (domain.RawSignalEvent, error) {
	keywords := append([]string{}, score.MatchedKeywords...)
	keywords = append(keywords, score.Tags...)
	sort.Strings(keywords)

	raw, err := json.Marshal(article)
	if err != nil {
		return domain.RawSignalEvent{}, fmt.Errorf("article %q: %w", article.Title, err)
	}

	return domain.NewRawSignalEvent(domain.RawSignalEvent{
		EventID:               fmt.Sprintf("news-%s", score.DedupeHash),
		Title:                 article.Title,
		Description:           article.Description,
		Probability:           0.5,
		ProbabilityIsFallback: true,
		Keywords:              keywords,
		Market: domain.MarketMetadata{
			Source:   a.name,
			MarketID: score.DedupeHash,
			URL:      article.URL,
		},
		ObservedAt: article.PublishedAt,
		SourceMetrics: map[string]float64{
			"credibility": score.Credibility,
			"recency":     score.Recency,
			"relevance":   score.Relevance,
			"combined":    score.Combined,
			"sentiment":   score.Sentiment,
		},
		RawPayload: raw,
	})
}
