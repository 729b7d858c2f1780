package stats

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
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

// Reading kinds. Price-change magnitudes get the tighter sigma.
const (
	KindLevel       = "level"
	KindPriceChange = "price_change"
)

// Reading is one metric observation from an upstream index feed.
type Reading struct {
	Metric     string           `json:"metric"`
	Name       string           `json:"name"`
	Unit       string           `json:"unit"`
	Kind       string           `json:"kind"`
	Value      float64          `json:"value"`
	Keywords   []string         `json:"keywords,omitempty"`
	Location   *domain.Location `json:"location,omitempty"`
	ObservedAt time.Time        `json:"observed_at"`
}

// Client fetches metric readings, returning the raw response body for
// attestation.
type Client interface {
	ListReadings(ctx context.Context, limit int) ([]Reading, []byte, error)
}

// Detection strength by z-score magnitude.
func flagProbability(f Flag) float64 {
	abs := f.ZScore
	if abs < 0 {
		abs = -abs
	}
	switch {
	case f.Reason == ReasonOutOfBounds || abs >= 5:
		return 0.90
	case abs >= 4:
		return 0.75
	default:
		return 0.65
	}
}

// Adapter feeds each metric's readings through its own rolling window and
// emits one raw signal event per flagged reading. Windows persist across
// fetches, so the baseline builds up over a running process.
type Adapter struct {
	name       string
	sourceType domain.SourceType
	client     Client
	levelCfg   WindowConfig
	changeCfg  WindowConfig
	replay     *sources.ReplayCache
	logger     zerolog.Logger

	mu           sync.Mutex
	windows      map[string]*Window
	lastRespHash string
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithPriceChangeConfig overrides the window config used for
// price-change readings.
func WithPriceChangeConfig(cfg WindowConfig) Option {
	return func(a *Adapter) { a.changeCfg = cfg }
}

// NewAdapter builds a metric anomaly adapter. Level readings use cfg;
// price-change readings default to the tighter registry sigma.
func NewAdapter(name string, sourceType domain.SourceType, client Client, cfg WindowConfig, logger zerolog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		name:       name,
		sourceType: sourceType,
		client:     client,
		levelCfg:   cfg,
		changeCfg:  PriceChangeWindowConfig(),
		replay:     sources.NewReplayCache(),
		logger:     logger.With().Str("source", name).Logger(),
		windows:    make(map[string]*Window),
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

// FetchEvents implements sources.Source. Replayed batches are served from
// cache without re-feeding the windows, so replay never shifts baselines.
func (a *Adapter) FetchEvents(ctx context.Context, limit int, asOf *time.Time) ([]domain.RawSignalEvent, error) {
	if asOf != nil {
		if batch, ok := a.replay.Get(*asOf); ok {
			return batch, nil
		}
	}

	readings, raw, err := a.client.ListReadings(ctx, limit)
	if err != nil {
		return nil, &domain.SourceUnavailableError{Source: a.name, Err: err}
	}

	a.mu.Lock()
	a.lastRespHash = domain.HashHex(raw)
	a.mu.Unlock()

	var events []domain.RawSignalEvent
	for _, r := range readings {
		flag := a.window(r).Observe(r.Value)
		if !flag.Flagged {
			continue
		}
		ev, err := a.toEvent(r, flag)
		if err != nil {
			a.logger.Warn().Err(err).Str("metric", r.Metric).Msg("skipping flagged reading")
			continue
		}
		events = append(events, ev)
	}

	if asOf != nil {
		a.replay.Put(*asOf, events)
	}
	return events, nil
}

// window returns the metric's rolling window, creating it on first sight.
func (a *Adapter) window(r Reading) *Window {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.windows[r.Metric]
	if !ok {
		cfg := a.levelCfg
		if r.Kind == KindPriceChange {
			cfg = a.changeCfg
		}
		w = NewWindow(cfg)
		a.windows[r.Metric] = w
	}
	return w
}

func (a *Adapter) toEvent(r Reading, flag Flag) (domain.RawSignalEvent, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return domain.RawSignalEvent{}, fmt.Errorf("reading %s: %w", r.Metric, err)
	}

	direction := "up"
	if flag.ZScore < 0 {
		direction = "down"
	}

	keywords := append([]string{}, r.Keywords...)
	keywords = append(keywords, "anomaly", slugMetric(r.Metric), direction)
	sort.Strings(keywords)

	var locations []domain.Location
	if r.Location != nil {
		locations = append(locations, *r.Location)
	}

	title := fmt.Sprintf("%s anomaly: %.2f %s (%.1f sigma %s)", r.Name, r.Value, r.Unit, flag.ZScore, direction)
	description := fmt.Sprintf("%s read %.2f %s against a rolling mean of %.2f, z-score %.2f", r.Name, r.Value, r.Unit, flag.Mean, flag.ZScore)
	if flag.Reason == ReasonOutOfBounds {
		title = fmt.Sprintf("%s implausible reading: %.2f %s outside valid range", r.Name, r.Value, r.Unit)
		description = fmt.Sprintf("%s read %.2f %s, outside the configured plausibility bounds", r.Name, r.Value, r.Unit)
	}

	return domain.NewRawSignalEvent(domain.RawSignalEvent{
		EventID:           readingEventID(r.Metric, direction, flag.Reason, r.ObservedAt),
		Title:             title,
		Description:       description,
		Probability:       flagProbability(flag),
		Keywords:          keywords,
		InferredLocations: locations,
		Market: domain.MarketMetadata{
			Source:   a.name,
			MarketID: r.Metric,
		},
		ObservedAt: r.ObservedAt,
		SourceMetrics: map[string]float64{
			"value":  r.Value,
			"zscore": flag.ZScore,
			"mean":   flag.Mean,
			"stddev": flag.StdDev,
		},
		RawPayload: raw,
	})
}

// readingEventID buckets anomalies by hour so repeated polls within the
// same hour collapse onto one event.
func readingEventID(metric, direction, reason string, at time.Time) string {
	hour := at.UTC().Format("2006010215")
	sum := sha256.Sum256([]byte(metric + "|" + direction + "|" + reason + "|" + hour))
	return fmt.Sprintf("stats-%s-%s-%s-%s", slugMetric(metric), direction, hour, hex.EncodeToString(sum[:])[:8])
}

func slugMetric(metric string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(metric)), " ", "-")
}
