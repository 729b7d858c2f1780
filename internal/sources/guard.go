package sources

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/omenworks/omen/internal/domain"
)

// GuardConfig tunes the circuit breaker and rate limiter fronting one
// source.
type GuardConfig struct {
	MaxRequests         uint32        `yaml:"max_requests"`
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	RatePerSecond       float64       `yaml:"rate_per_second"`
	Burst               int           `yaml:"burst"`
}

// DefaultGuardConfig opens the breaker after 3 consecutive failures,
// probes again after 30s, and allows 5 fetches per second.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxRequests:         2,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 3,
		RatePerSecond:       5,
		Burst:               5,
	}
}

// GuardedSource wraps a Source with a circuit breaker and a rate
// limiter. Breaker state transitions are logged; rate-limit rejections
// propagate typed so the orchestrator can back off.
type GuardedSource struct {
	inner   Source
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewGuardedSource builds the guard around inner.
func NewGuardedSource(inner Source, cfg GuardConfig, logger zerolog.Logger) *GuardedSource {
	g := &GuardedSource{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:  logger.With().Str("source", inner.Name()).Logger(),
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("source breaker state changed")
		},
	})
	return g
}

// Name implements Source.
func (g *GuardedSource) Name() string { return g.inner.Name() }

// Type implements Source.
func (g *GuardedSource) Type() domain.SourceType { return g.inner.Type() }

// FetchEvents implements Source with the guards applied.
func (g *GuardedSource) FetchEvents(ctx context.Context, limit int, asOf *time.Time) ([]domain.RawSignalEvent, error) {
	res := g.limiter.Reserve()
	if !res.OK() {
		return nil, &domain.RateLimitError{Source: g.inner.Name(), RetryAfter: time.Second}
	}
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return nil, &domain.RateLimitError{Source: g.inner.Name(), RetryAfter: delay}
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.FetchEvents(ctx, limit, asOf)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &domain.SourceUnavailableError{Source: g.inner.Name(), Err: err}
		}
		return nil, err
	}
	events, _ := out.([]domain.RawSignalEvent)
	return events, nil
}

// LastResponseHash forwards attestation evidence from the inner adapter.
func (g *GuardedSource) LastResponseHash() string {
	if a, ok := g.inner.(Attester); ok {
		return a.LastResponseHash()
	}
	return ""
}

// BreakerState exposes the breaker state for health reporting.
func (g *GuardedSource) BreakerState() string {
	return g.breaker.State().String()
}

// Healthy reports whether the breaker currently admits traffic.
func (g *GuardedSource) Healthy() bool {
	return g.breaker.State() != gobreaker.StateOpen
}
