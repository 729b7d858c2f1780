package rules

import (
	"fmt"
	"math"

	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/registry"
)

// LiquidityRuleName is stable across ruleset versions; rejection
// trackers and tests key on it.
const (
	LiquidityRuleName    = "liquidity_validation"
	LiquidityRuleVersion = "1.0.0"
)

// LiquidityConfig holds the liquidity floor.
type LiquidityConfig struct {
	MinLiquidityUSD float64 `yaml:"min_liquidity_usd"`
}

// DefaultLiquidityConfig loads the registry default.
func DefaultLiquidityConfig() LiquidityConfig {
	return LiquidityConfig{MinLiquidityUSD: registry.MustParam("min_liquidity_usd").Value}
}

// LiquidityRule rejects markets too thin to carry information. Scores
// scale linearly up to ten times the floor, so a market at exactly the
// floor passes with 0.1.
type LiquidityRule struct {
	cfg LiquidityConfig
}

// NewLiquidityRule builds the rule.
func NewLiquidityRule(cfg LiquidityConfig) *LiquidityRule {
	return &LiquidityRule{cfg: cfg}
}

// Name implements Rule.
func (r *LiquidityRule) Name() string { return LiquidityRuleName }

// Version implements Rule.
func (r *LiquidityRule) Version() string { return LiquidityRuleVersion }

// Params implements Rule.
func (r *LiquidityRule) Params() map[string]string {
	return map[string]string{
		"min_liquidity_usd": citeParam("min_liquidity_usd", r.cfg.MinLiquidityUSD),
	}
}

// Evaluate implements Rule.
func (r *LiquidityRule) Evaluate(event domain.RawSignalEvent, _ domain.ProcessingContext) (domain.ValidationResult, error) {
	liquidity := event.Market.CurrentLiquidityUSD
	if liquidity < r.cfg.MinLiquidityUSD {
		return result(r, domain.StatusRejectedLowLiquidity, 0,
			fmt.Sprintf("liquidity %.2f USD below minimum %.2f USD", liquidity, r.cfg.MinLiquidityUSD)), nil
	}

	score := math.Min(1.0, liquidity/(10*r.cfg.MinLiquidityUSD))
	return result(r, domain.StatusPassed, score,
		fmt.Sprintf("liquidity %.2f USD clears minimum %.2f USD", liquidity, r.cfg.MinLiquidityUSD)), nil
}
