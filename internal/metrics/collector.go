// Package metrics aggregates pipeline telemetry into a rolling
// observation window and a Prometheus registry. The collector plugs
// into the pipeline as a Monitor and into the generator loop as a
// health sink; HTTP handlers read point-in-time snapshots from it.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/pipeline"
)

// ewmaAlpha weights the newest sample in the per-source health series.
const ewmaAlpha = 0.3

// Freshness values reported by Snapshot. The window is fresh while at
// least one batch observation sits inside it.
const (
	FreshnessFresh = "fresh"
	FreshnessStale = "stale"
)

// Config tunes the collector.
type Config struct {
	// Window bounds how long batch observations contribute to
	// snapshots. Defaults to one hour.
	Window time.Duration `yaml:"window"`
}

// DefaultConfig returns the collector defaults.
func DefaultConfig() Config {
	return Config{Window: time.Hour}
}

// SourceHealth is the smoothed view of one event source. Latency,
// error rate and throughput are exponentially weighted so a single
// slow poll moves the needle without whipsawing it.
type SourceHealth struct {
	Source          string    `json:"source"`
	Healthy         bool      `json:"healthy"`
	LatencyMS       float64   `json:"latency_ms"`
	ErrorRate       float64   `json:"error_rate"`
	EventsPerMinute float64   `json:"events_per_minute"`
	Checks          int64     `json:"checks"`
	LastError       string    `json:"last_error,omitempty"`
	LastCheckedAt   time.Time `json:"last_checked_at"`
}

// StageLatency holds the mean per-event cost of each pipeline stage
// across the window, in milliseconds.
type StageLatency struct {
	Validate float64 `json:"validate"`
	Enrich   float64 `json:"enrich"`
	Generate float64 `json:"generate"`
	Persist  float64 `json:"persist"`
	Ledger   float64 `json:"ledger"`
	Publish  float64 `json:"publish"`
}

// Snapshot is a point-in-time aggregate of every batch observed inside
// the rolling window plus the current per-source health.
type Snapshot struct {
	WindowStart        time.Time               `json:"window_start"`
	WindowEnd          time.Time               `json:"window_end"`
	DataFreshness      string                  `json:"data_freshness"`
	Batches            int                     `json:"batches"`
	EventsReceived     int                     `json:"events_received"`
	EventsDeduplicated int                     `json:"events_deduplicated"`
	EventsValidated    int                     `json:"events_validated"`
	EventsRejected     int                     `json:"events_rejected_validation"`
	EventsDropped      int                     `json:"events_dropped_low_confidence"`
	SignalsGenerated   int                     `json:"signals_generated"`
	Failures           int                     `json:"failures"`
	AvgConfidence      float64                 `json:"avg_confidence"`
	StageLatencyMS     StageLatency            `json:"stage_latency_ms"`
	RejectionReasons   map[string]int          `json:"rejection_reasons,omitempty"`
	Sources            map[string]SourceHealth `json:"sources,omitempty"`
}

// sourceState carries the EWMA series for one source. seeded guards
// the first observation, which initializes the series directly.
type sourceState struct {
	health SourceHealth
	seeded bool
}

// Collector maintains the rolling batch window, per-source health and
// the Prometheus instrument set. All methods are safe for concurrent
// use; the hot paths hold a small mutex only long enough to append or
// fold a sample.
type Collector struct {
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	registry *prometheus.Registry
	prom     *promSet

	mu      sync.Mutex
	batches []pipeline.BatchStats
	sources map[string]*sourceState
}

var _ pipeline.Monitor = (*Collector)(nil)

// Option customizes a Collector.
type Option func(*Collector)

// WithNow overrides the collector clock.
func WithNow(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// NewCollector builds a collector with its own Prometheus registry.
func NewCollector(cfg Config, logger zerolog.Logger, opts ...Option) *Collector {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	registry := prometheus.NewRegistry()
	c := &Collector{
		cfg:      cfg,
		logger:   logger.With().Str("component", "metrics").Logger(),
		now:      time.Now,
		registry: registry,
		prom:     newPromSet(registry),
		sources:  make(map[string]*sourceState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry exposes the collector's Prometheus registry for the
// /metrics handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// BatchObserved records one pipeline batch into the rolling window and
// bumps the aggregate counters.
func (c *Collector) BatchObserved(stats pipeline.BatchStats) {
	if stats.ObservedAt.IsZero() {
		stats.ObservedAt = c.now()
	}

	c.mu.Lock()
	c.batches = append(c.batches, stats)
	c.pruneLocked(c.now())
	c.mu.Unlock()

	c.prom.batchesTotal.Inc()
	c.prom.eventsTotal.WithLabelValues(outcomeReceived).Add(float64(stats.EventsReceived))
	c.prom.eventsTotal.WithLabelValues(outcomeDeduplicated).Add(float64(stats.EventsDeduplicated))
	c.prom.eventsTotal.WithLabelValues(outcomeValidated).Add(float64(stats.EventsValidated))
	c.prom.eventsTotal.WithLabelValues(outcomeRejected).Add(float64(stats.EventsRejected))
	c.prom.eventsTotal.WithLabelValues(outcomeDropped).Add(float64(stats.EventsDropped))
	c.prom.eventsTotal.WithLabelValues(outcomeFailed).Add(float64(stats.Failures))

	c.prom.stageLatency.WithLabelValues(stageValidate).Observe(stats.ValidateLatencyMS)
	c.prom.stageLatency.WithLabelValues(stageEnrich).Observe(stats.EnrichLatencyMS)
	c.prom.stageLatency.WithLabelValues(stageGenerate).Observe(stats.GenerateLatencyMS)
	c.prom.stageLatency.WithLabelValues(stagePersist).Observe(stats.PersistLatencyMS)
	c.prom.stageLatency.WithLabelValues(stageLedger).Observe(stats.LedgerLatencyMS)
	c.prom.stageLatency.WithLabelValues(stagePublish).Observe(stats.PublishLatencyMS)
}

// SignalGenerated counts an emitted signal, split by cache replays
// versus fresh generations.
func (c *Collector) SignalGenerated(signal domain.OmenSignal, cached bool) {
	c.prom.signalsTotal.WithLabelValues(strconv.FormatBool(cached)).Inc()
}

// EventRejected counts a validation rejection by reason.
func (c *Collector) EventRejected(event domain.RawSignalEvent, rule, ruleVersion, reason string) {
	c.prom.rejectionsTotal.WithLabelValues(reason).Inc()
}

// EventFailed counts a pipeline failure.
func (c *Collector) EventFailed(event domain.RawSignalEvent, err error) {
	c.prom.failuresTotal.Inc()
}

// SourceChecked folds one generator sweep result into the source's
// health series. The throughput sample is normalized to events per
// minute using the gap since the previous check; the first check seeds
// the series with the raw fetch count.
func (c *Collector) SourceChecked(name string, healthy bool, latency time.Duration, fetched int, err error) {
	now := c.now()
	latencyMS := float64(latency) / float64(time.Millisecond)
	errSample := 0.0
	if !healthy {
		errSample = 1.0
	}

	c.mu.Lock()
	st, ok := c.sources[name]
	if !ok {
		st = &sourceState{health: SourceHealth{Source: name}}
		c.sources[name] = st
	}

	perMinute := float64(fetched)
	if gap := now.Sub(st.health.LastCheckedAt); st.seeded && gap > 0 {
		perMinute = float64(fetched) / gap.Minutes()
	}

	st.health.LatencyMS = ewma(st.health.LatencyMS, latencyMS, st.seeded)
	st.health.ErrorRate = ewma(st.health.ErrorRate, errSample, st.seeded)
	st.health.EventsPerMinute = ewma(st.health.EventsPerMinute, perMinute, st.seeded)
	st.health.Healthy = healthy
	st.health.Checks++
	st.health.LastCheckedAt = now
	st.health.LastError = ""
	if err != nil {
		st.health.LastError = err.Error()
	}
	st.seeded = true
	snapshot := st.health
	c.mu.Unlock()

	up := 0.0
	if healthy {
		up = 1.0
	}
	result := resultOK
	if err != nil {
		result = resultError
	}
	c.prom.sourceUp.WithLabelValues(name).Set(up)
	c.prom.sourceLatency.WithLabelValues(name).Set(snapshot.LatencyMS)
	c.prom.sourceErrorRate.WithLabelValues(name).Set(snapshot.ErrorRate)
	c.prom.sourceChecks.WithLabelValues(name, result).Inc()
}

// SourceHealthFor returns the health series for one source.
func (c *Collector) SourceHealthFor(name string) (SourceHealth, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.sources[name]
	if !ok {
		return SourceHealth{}, false
	}
	return st.health, true
}

// Snapshot aggregates the current window. An empty window reports
// stale freshness so callers never mistake silence for health.
func (c *Collector) Snapshot() Snapshot {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(now)

	snap := Snapshot{
		WindowStart:   now.Add(-c.cfg.Window),
		WindowEnd:     now,
		DataFreshness: FreshnessStale,
		Batches:       len(c.batches),
		Sources:       make(map[string]SourceHealth, len(c.sources)),
	}
	for name, st := range c.sources {
		snap.Sources[name] = st.health
	}
	if len(c.batches) == 0 {
		return snap
	}

	snap.DataFreshness = FreshnessFresh
	var totals StageLatency
	var confidenceWeight float64
	for _, b := range c.batches {
		snap.EventsReceived += b.EventsReceived
		snap.EventsDeduplicated += b.EventsDeduplicated
		snap.EventsValidated += b.EventsValidated
		snap.EventsRejected += b.EventsRejected
		snap.EventsDropped += b.EventsDropped
		snap.SignalsGenerated += b.SignalsGenerated
		snap.Failures += b.Failures

		totals.Validate += b.ValidateLatencyMS
		totals.Enrich += b.EnrichLatencyMS
		totals.Generate += b.GenerateLatencyMS
		totals.Persist += b.PersistLatencyMS
		totals.Ledger += b.LedgerLatencyMS
		totals.Publish += b.PublishLatencyMS

		confidenceWeight += b.AvgConfidence * float64(b.SignalsGenerated)
		for reason, n := range b.RejectionReasons {
			if snap.RejectionReasons == nil {
				snap.RejectionReasons = make(map[string]int)
			}
			snap.RejectionReasons[reason] += n
		}
	}
	if snap.SignalsGenerated > 0 {
		snap.AvgConfidence = confidenceWeight / float64(snap.SignalsGenerated)
	}
	if snap.EventsReceived > 0 {
		div := float64(snap.EventsReceived)
		snap.StageLatencyMS = StageLatency{
			Validate: totals.Validate / div,
			Enrich:   totals.Enrich / div,
			Generate: totals.Generate / div,
			Persist:  totals.Persist / div,
			Ledger:   totals.Ledger / div,
			Publish:  totals.Publish / div,
		}
	}
	return snap
}

// pruneLocked drops batches that fell out of the window. Caller holds
// the mutex.
func (c *Collector) pruneLocked(now time.Time) {
	cutoff := now.Add(-c.cfg.Window)
	kept := c.batches[:0]
	for _, b := range c.batches {
		if b.ObservedAt.After(cutoff) {
			kept = append(kept, b)
		}
	}
	c.batches = kept
}

func ewma(prev, sample float64, seeded bool) float64 {
	if !seeded {
		return sample
	}
	return ewmaAlpha*sample + (1-ewmaAlpha)*prev
}
