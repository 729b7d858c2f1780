// Package generator runs the background signal loop: on every tick it
// fetches from each enabled source in parallel and feeds the batches
// through the pipeline. One source failing, timing out or panicking
// never touches another source's batch.
package generator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/pipeline"
	"github.com/omenworks/omen/internal/sources"
)

// Batcher is the slice of the pipeline the loop drives.
type Batcher interface {
	ProcessSourceBatch(ctx context.Context, source string, events []domain.RawSignalEvent, pctx *domain.ProcessingContext) pipeline.BatchResult
}

// HealthSink receives per-source fetch outcomes; the metrics collector
// implements it.
type HealthSink interface {
	SourceChecked(name string, healthy bool, latency time.Duration, fetched int, err error)
}

type nopHealth struct{}

func (nopHealth) SourceChecked(string, bool, time.Duration, int, error) {}

// Config tunes the loop.
type Config struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	SourceTimeout time.Duration `yaml:"source_timeout"`
	FetchLimit    int           `yaml:"fetch_limit"`
}

// DefaultConfig polls every two minutes with a thirty-second fetch
// timeout and up to fifty events per source.
func DefaultConfig() Config {
	return Config{
		PollInterval:  120 * time.Second,
		SourceTimeout: 30 * time.Second,
		FetchLimit:    50,
	}
}

// SourceOutcome is one source's result within a sweep.
type SourceOutcome struct {
	Source    string  `json:"source"`
	Fetched   int     `json:"fetched"`
	Generated int     `json:"generated"`
	Failures  int     `json:"failures"`
	LatencyMS float64 `json:"latency_ms"`
	Err       string  `json:"error,omitempty"`
}

// Status is a point-in-time view of the loop for the status endpoint.
type Status struct {
	Running      bool            `json:"running"`
	PollInterval time.Duration   `json:"poll_interval"`
	Sources      int             `json:"sources"`
	Sweeps       int64           `json:"sweeps"`
	LastSweepAt  *time.Time      `json:"last_sweep_at,omitempty"`
	LastOutcomes []SourceOutcome `json:"last_outcomes,omitempty"`
}

// Loop owns the tick scheduling and the per-source fan-out.
type Loop struct {
	cfg     Config
	sources []sources.Source
	batcher Batcher
	health  HealthSink
	logger  zerolog.Logger

	mu          sync.Mutex
	running     bool
	sweeps      int64
	lastSweepAt time.Time
	lastOutcome []SourceOutcome
}

// Option customizes a Loop.
type Option func(*Loop)

// WithHealthSink routes fetch outcomes to h.
func WithHealthSink(h HealthSink) Option {
	return func(l *Loop) { l.health = h }
}

// NewLoop wires the loop; zero config fields fall back to defaults.
func NewLoop(cfg Config, srcs []sources.Source, batcher Batcher, logger zerolog.Logger, opts ...Option) *Loop {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = def.SourceTimeout
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = def.FetchLimit
	}
	l := &Loop{
		cfg:     cfg,
		sources: srcs,
		batcher: batcher,
		health:  nopHealth{},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run sweeps immediately, then on every poll interval until ctx is
// cancelled. An in-flight sweep finishes before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", l.cfg.PollInterval), func() {
		l.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("generator schedule: %w", err)
	}

	l.logger.Info().
		Dur("poll_interval", l.cfg.PollInterval).
		Int("sources", len(l.sources)).
		Msg("generator loop started")
	l.setRunning(true)
	l.Sweep(ctx)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	l.setRunning(false)
	l.logger.Info().Msg("generator loop stopped")
	return nil
}

// Status reports the loop's current state and the outcomes of its most
// recent sweep.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := Status{
		Running:      l.running,
		PollInterval: l.cfg.PollInterval,
		Sources:      len(l.sources),
		Sweeps:       l.sweeps,
	}
	if !l.lastSweepAt.IsZero() {
		at := l.lastSweepAt
		st.LastSweepAt = &at
	}
	if len(l.lastOutcome) > 0 {
		st.LastOutcomes = make([]SourceOutcome, len(l.lastOutcome))
		copy(st.LastOutcomes, l.lastOutcome)
	}
	return st
}

func (l *Loop) setRunning(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = v
}

// Sweep fetches and processes every source in parallel, returning the
// outcomes sorted by source name.
func (l *Loop) Sweep(ctx context.Context) []SourceOutcome {
	outcomes := make([]SourceOutcome, len(l.sources))
	var wg sync.WaitGroup
	for i, src := range l.sources {
		wg.Add(1)
		go func(i int, src sources.Source) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					err := fmt.Errorf("source panic: %v", r)
					outcomes[i] = SourceOutcome{Source: src.Name(), Err: err.Error()}
					l.health.SourceChecked(src.Name(), false, 0, 0, err)
					l.logger.Error().
						Str("source", src.Name()).
						Interface("panic", r).
						Msg("source sweep panicked")
				}
			}()
			outcomes[i] = l.sweepSource(ctx, src)
		}(i, src)
	}
	wg.Wait()

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Source < outcomes[j].Source })

	l.mu.Lock()
	l.sweeps++
	l.lastSweepAt = time.Now().UTC()
	l.lastOutcome = outcomes
	l.mu.Unlock()
	return outcomes
}

func (l *Loop) sweepSource(ctx context.Context, src sources.Source) SourceOutcome {
	out := SourceOutcome{Source: src.Name()}
	sctx, cancel := context.WithTimeout(ctx, l.cfg.SourceTimeout)
	defer cancel()

	start := time.Now()
	events, err := src.FetchEvents(sctx, l.cfg.FetchLimit, nil)
	latency := time.Since(start)
	out.LatencyMS = float64(latency) / float64(time.Millisecond)

	if err != nil {
		out.Err = err.Error()
		l.health.SourceChecked(src.Name(), false, latency, 0, err)
		l.logger.Warn().Err(err).Str("source", src.Name()).Msg("source fetch failed")
		return out
	}
	out.Fetched = len(events)
	l.health.SourceChecked(src.Name(), true, latency, len(events), nil)
	if len(events) == 0 {
		return out
	}

	batch := l.batcher.ProcessSourceBatch(sctx, src.Name(), events, nil)
	out.Generated = batch.Stats.SignalsGenerated
	out.Failures = batch.Stats.Failures
	return out
}
