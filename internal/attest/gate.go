// Package attest implements signal provenance: the source registry,
// attestation construction at emission time, the three-layer live gate,
// and the demo/live schema router. Nothing in this package ever fails a
// request; a gate that cannot prove live-worthiness downgrades to DEMO
// with reasons.
package attest

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/omenworks/omen/internal/domain"
)

// GateStatus is the outcome of the live gate's service checks.
type GateStatus string

const (
	GateAllowed GateStatus = "ALLOWED"
	GateBlocked GateStatus = "BLOCKED"
)

// Block reasons carried on a BLOCKED decision. Per-source reasons append
// the source name after a colon.
const (
	ReasonMasterSwitchOff = "MASTER_SWITCH_OFF"
	ReasonNoSources       = "NO_SOURCES_REGISTERED"
	ReasonRatioBelowMin   = "REAL_SOURCE_RATIO_BELOW_MIN"
)

func reasonRequiredMissing(name string) string   { return "REQUIRED_SOURCE_MISSING:" + name }
func reasonRequiredNotReal(name string) string   { return "REQUIRED_SOURCE_NOT_REAL:" + name }
func reasonRequiredUnhealthy(name string) string { return "REQUIRED_SOURCE_UNHEALTHY:" + name }

// GateDecision is one evaluation of the gate's service checks.
type GateDecision struct {
	Status          GateStatus `json:"status"`
	Reasons         []string   `json:"reasons,omitempty"`
	RealSources     int        `json:"real_sources"`
	TotalSources    int        `json:"total_sources"`
	RealSourceRatio float64    `json:"real_source_ratio"`
	CheckedAt       time.Time  `json:"checked_at"`
}

// Allowed reports whether live routing is permitted.
func (d GateDecision) Allowed() bool { return d.Status == GateAllowed }

// Mode is the request-level operating mode.
type Mode string

const (
	ModeDemo Mode = "DEMO"
	ModeLive Mode = "LIVE"
)

// ParseMode interprets a request mode value. Anything but a LIVE marker
// is DEMO.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeLive)) {
		return ModeLive
	}
	return ModeDemo
}

// ModeDecision is the Layer 3 outcome for one request: the mode it asked
// for, the mode it actually runs under, and why a downgrade happened.
type ModeDecision struct {
	Requested Mode     `json:"requested_mode"`
	Effective Mode     `json:"effective_mode"`
	Reasons   []string `json:"block_reasons,omitempty"`
}

// Downgraded reports whether a LIVE request was forced down to DEMO.
func (d ModeDecision) Downgraded() bool {
	return d.Requested == ModeLive && d.Effective == ModeDemo
}

// GateConfig tunes the live gate.
type GateConfig struct {
	// AllowLiveMode is the Layer 1 master switch. False blocks
	// unconditionally.
	AllowLiveMode bool `yaml:"allow_live_mode"`

	// MinRealSourceRatio is the Layer 2 floor on real_sources/total.
	MinRealSourceRatio float64 `yaml:"min_real_source_ratio"`

	// RequiredRealSources must each be registered, REAL and healthy.
	RequiredRealSources []string `yaml:"required_real_sources"`

	// CacheTTL bounds how long one decision is reused. Zero disables
	// caching.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// DefaultGateConfig ships with live mode off. Turning it on is an
// explicit operator action.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		AllowLiveMode:      false,
		MinRealSourceRatio: 0.80,
		CacheTTL:           30 * time.Second,
	}
}

// LiveGate enforces the first two layers of live-mode gating and serves
// Layer 3 lookups for request middleware. Evaluations are cached for the
// configured TTL and audit-logged asynchronously.
type LiveGate struct {
	cfg      GateConfig
	registry *Registry
	cache    DecisionCache
	audit    *AuditLog
	logger   zerolog.Logger
	now      func() time.Time
}

// GateOption customizes a LiveGate.
type GateOption func(*LiveGate)

// WithCache replaces the decision cache.
func WithCache(cache DecisionCache) GateOption {
	return func(g *LiveGate) { g.cache = cache }
}

// WithAudit attaches the asynchronous audit log.
func WithAudit(audit *AuditLog) GateOption {
	return func(g *LiveGate) { g.audit = audit }
}

// WithLogger sets the gate logger.
func WithLogger(logger zerolog.Logger) GateOption {
	return func(g *LiveGate) { g.logger = logger }
}

// WithNow injects the clock, for deterministic tests.
func WithNow(now func() time.Time) GateOption {
	return func(g *LiveGate) { g.now = now }
}

// NewLiveGate builds a gate over the source registry. Without options it
// caches decisions in process memory for cfg.CacheTTL and does not
// audit.
func NewLiveGate(cfg GateConfig, registry *Registry, opts ...GateOption) *LiveGate {
	g := &LiveGate{
		cfg:      cfg,
		registry: registry,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	if cfg.CacheTTL > 0 {
		g.cache = NewMemoryCache(cfg.CacheTTL)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate runs Layers 1 and 2, reusing a cached decision when one is
// still fresh. Cache failures are absorbed: a broken cache degrades to
// re-evaluation, never to an error.
func (g *LiveGate) Evaluate(ctx context.Context) GateDecision {
	if g.cache != nil {
		d, ok, err := g.cache.Get(ctx)
		if err != nil {
			g.logger.Warn().Err(err).Msg("gate decision cache read failed")
		} else if ok {
			return d
		}
	}

	d := g.evaluate()

	if g.cache != nil {
		if err := g.cache.Put(ctx, d); err != nil {
			g.logger.Warn().Err(err).Msg("gate decision cache write failed")
		}
	}
	if g.audit != nil {
		g.audit.Record(d)
	}
	return d
}

// EffectiveMode runs Layer 3 for one request. DEMO requests pass
// unconditionally and never touch the decision cache; LIVE requests run
// the full gate and are downgraded to DEMO when blocked.
func (g *LiveGate) EffectiveMode(ctx context.Context, requested Mode) ModeDecision {
	if requested != ModeLive {
		return ModeDecision{Requested: ModeDemo, Effective: ModeDemo}
	}
	d := g.Evaluate(ctx)
	if !d.Allowed() {
		return ModeDecision{Requested: ModeLive, Effective: ModeDemo, Reasons: d.Reasons}
	}
	return ModeDecision{Requested: ModeLive, Effective: ModeLive}
}

func (g *LiveGate) evaluate() GateDecision {
	d := GateDecision{Status: GateAllowed, CheckedAt: g.now().UTC()}

	if !g.cfg.AllowLiveMode {
		d.Status = GateBlocked
		d.Reasons = []string{ReasonMasterSwitchOff}
		return d
	}

	snap := g.registry.Snapshot()
	d.RealSources = snap.Real
	d.TotalSources = snap.Total
	d.RealSourceRatio = snap.Ratio

	var reasons []string
	switch {
	case snap.Total == 0:
		reasons = append(reasons, ReasonNoSources)
	case snap.Ratio < g.cfg.MinRealSourceRatio:
		reasons = append(reasons, ReasonRatioBelowMin)
	}

	for _, name := range g.cfg.RequiredRealSources {
		src, ok := g.registry.Lookup(name)
		switch {
		case !ok:
			reasons = append(reasons, reasonRequiredMissing(name))
		case src.Type() != domain.SourceReal:
			reasons = append(reasons, reasonRequiredNotReal(name))
		case !sourceHealthy(src):
			reasons = append(reasons, reasonRequiredUnhealthy(name))
		}
	}

	if len(reasons) > 0 {
		d.Status = GateBlocked
		d.Reasons = reasons
	}
	return d
}
