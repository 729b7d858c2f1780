package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/omenworks/omen/internal/attest"
	"github.com/omenworks/omen/internal/config"
	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/ledger"
	"github.com/omenworks/omen/internal/persistence"
	"github.com/omenworks/omen/internal/pipeline"
	"github.com/omenworks/omen/internal/pipeline/rules"
	"github.com/omenworks/omen/internal/reconcile"
	"github.com/omenworks/omen/internal/sources"
	"github.com/omenworks/omen/internal/sources/ais"
	"github.com/omenworks/omen/internal/sources/commodity"
	"github.com/omenworks/omen/internal/sources/market"
	"github.com/omenworks/omen/internal/sources/news"
	"github.com/omenworks/omen/internal/sources/stats"
)

// Scenario seeds are fixed so two runs over the same asof instant see
// the same synthetic feed.
const (
	seedMarket    = 11
	seedNews      = 23
	seedCommodity = 37
	seedFreight   = 41
	seedWeather   = 53
)

// buildSources assembles the scenario-backed source set behind breakers
// and rate limiters. Scenario feeds register as MOCK, so a default
// deployment can never clear the live gate's provenance checks by
// accident; a real upstream client slots in under the same adapter with
// provenance REAL.
func buildSources(cfg config.Config, history *persistence.History, base time.Time, logger zerolog.Logger) []sources.Source {
	marketOpts := []market.Option{market.WithVolumeFloor(cfg.Rules.MinVolumeUSD)}
	if history != nil {
		marketOpts = append(marketOpts, market.WithMovementTracker(history))
	}

	adapters := []sources.Source{
		market.NewAdapter("polymarket", domain.SourceMock, market.NewScenarioClient(seedMarket), logger, marketOpts...),
		news.NewAdapter("newsapi", domain.SourceMock, news.NewScenarioClient(seedNews, base), cfg.NewsGate, logger),
		commodity.NewAdapter("commodity", domain.SourceMock, commodity.NewScenarioClient(seedCommodity, base), commodity.DefaultSpikeConfig(), logger),
		ais.NewAdapter("ais", domain.SourceMock, ais.NewScenarioClient(base), ais.DefaultDetectorConfig(), logger),
		stats.NewAdapter("freight", domain.SourceMock, stats.NewFreightScenarioClient(seedFreight, base), stats.DefaultWindowConfig(), logger),
		stats.NewAdapter("weather", domain.SourceMock, stats.NewWeatherScenarioClient(seedWeather, base), stats.DefaultWindowConfig(), logger),
	}

	guarded := make([]sources.Source, 0, len(adapters))
	for _, a := range adapters {
		guarded = append(guarded, sources.NewGuardedSource(a, cfg.SourceGuard, logger))
	}
	return guarded
}

// buildValidator applies the configured floors on top of the default
// chains. Only the liquidity floor is operator-tunable; the other rules
// keep their registry parameters.
func buildValidator(cfg config.Config) *pipeline.Validator {
	marketChain := []rules.Rule{
		rules.NewLiquidityRule(rules.LiquidityConfig{MinLiquidityUSD: cfg.Rules.MinLiquidityUSD}),
		rules.NewAnomalyRule(rules.DefaultAnomalyConfig()),
		rules.NewSemanticRule(rules.DefaultSemanticConfig()),
		rules.NewGeographicRule(rules.DefaultGeographicConfig()),
	}
	return pipeline.NewValidatorWithChains(cfg.Validator, marketChain, pipeline.DefaultGatedChain())
}

// buildReconciler wires the reconcile state store and downstream. The
// directories default under the ledger base path; a configured URL
// selects the HTTP downstream instead of the local store.
func buildReconciler(cfg config.Config, led *ledger.Ledger, logger zerolog.Logger) (*reconcile.Reconciler, error) {
	stateDir := cfg.Reconcile.StateDir
	if stateDir == "" {
		stateDir = filepath.Join(cfg.Ledger.BasePath, "reconcile")
	}
	state, err := reconcile.NewFileStateStore(stateDir)
	if err != nil {
		return nil, fmt.Errorf("reconcile state: %w", err)
	}

	var down reconcile.Downstream
	if cfg.Reconcile.DownstreamURL != "" {
		down = reconcile.NewHTTPDownstream(cfg.Reconcile.DownstreamURL, cfg.Reconcile.DownstreamTimeout)
	} else {
		local, err := reconcile.NewLocalStore(filepath.Join(cfg.Ledger.BasePath, "downstream"))
		if err != nil {
			return nil, fmt.Errorf("reconcile downstream: %w", err)
		}
		down = local
	}
	return reconcile.New(cfg.Reconcile, led, state, down, logger), nil
}

// gatedBatcher routes each background sweep through the live gate, so
// scheduled generation downgrades to demo exactly the way requests do.
type gatedBatcher struct {
	gate *attest.LiveGate
	live *pipeline.Orchestrator
	demo *pipeline.Orchestrator
}

func (b *gatedBatcher) ProcessSourceBatch(ctx context.Context, source string, events []domain.RawSignalEvent, pctx *domain.ProcessingContext) pipeline.BatchResult {
	if b.gate.EffectiveMode(ctx, attest.ModeLive).Effective == attest.ModeLive {
		return b.live.ProcessSourceBatch(ctx, source, events, pctx)
	}
	return b.demo.ProcessSourceBatch(ctx, source, events, pctx)
}
