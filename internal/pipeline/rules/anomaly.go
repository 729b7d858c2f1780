package rules

import (
	"fmt"
	"math"
	"strings"

	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/registry"
)

const (
	AnomalyRuleName    = "anomaly_detection"
	AnomalyRuleVersion = "1.0.0"
)

// Risk contributions per anomaly class. The wash-trading heuristic alone
// crosses the rejection threshold; the others need company.
const (
	riskExtremeProbability = 0.3
	riskExcessiveChange    = 0.3
	riskTraderMismatch     = 0.5
	riskZScoreFlag         = 0.2
)

// AnomalyConfig holds the manipulation heuristics.
type AnomalyConfig struct {
	ExtremeProbabilityLow  float64 `yaml:"extreme_probability_low"`
	ExtremeProbabilityHigh float64 `yaml:"extreme_probability_high"`
	MaxProbabilityChange   float64 `yaml:"max_probability_change"`
	MinTraderCount         int     `yaml:"min_trader_count"`
	WashVolumeThreshold    float64 `yaml:"wash_volume_threshold"`
	RiskMax                float64 `yaml:"manipulation_risk_max"`
	ZScoreFlagSigma        float64 `yaml:"zscore_flag_sigma"`
}

// DefaultAnomalyConfig loads the registry defaults.
func DefaultAnomalyConfig() AnomalyConfig {
	return AnomalyConfig{
		ExtremeProbabilityLow:  registry.MustParam("extreme_probability_low").Value,
		ExtremeProbabilityHigh: registry.MustParam("extreme_probability_high").Value,
		MaxProbabilityChange:   registry.MustParam("max_probability_change").Value,
		MinTraderCount:         int(registry.MustParam("min_trader_count").Value),
		WashVolumeThreshold:    registry.MustParam("wash_volume_threshold").Value,
		RiskMax:                registry.MustParam("manipulation_risk_max").Value,
		ZScoreFlagSigma:        registry.MustParam("zscore_flag_sigma").Value,
	}
}

// AnomalyRule accumulates a manipulation risk score from independent
// heuristics. Risk at or above the maximum rejects the event; anything
// below passes with the anomalies noted in the reason.
type AnomalyRule struct {
	cfg AnomalyConfig
}

// NewAnomalyRule builds the rule.
func NewAnomalyRule(cfg AnomalyConfig) *AnomalyRule {
	return &AnomalyRule{cfg: cfg}
}

// Name implements Rule.
func (r *AnomalyRule) Name() string { return AnomalyRuleName }

// Version implements Rule.
func (r *AnomalyRule) Version() string { return AnomalyRuleVersion }

// Params implements Rule.
func (r *AnomalyRule) Params() map[string]string {
	return map[string]string{
		"extreme_probability_low":  citeParam("extreme_probability_low", r.cfg.ExtremeProbabilityLow),
		"extreme_probability_high": citeParam("extreme_probability_high", r.cfg.ExtremeProbabilityHigh),
		"max_probability_change":   citeParam("max_probability_change", r.cfg.MaxProbabilityChange),
		"min_trader_count":         citeParam("min_trader_count", float64(r.cfg.MinTraderCount)),
		"wash_volume_threshold":    citeParam("wash_volume_threshold", r.cfg.WashVolumeThreshold),
		"manipulation_risk_max":    citeParam("manipulation_risk_max", r.cfg.RiskMax),
	}
}

// Evaluate implements Rule.
func (r *AnomalyRule) Evaluate(event domain.RawSignalEvent, _ domain.ProcessingContext) (domain.ValidationResult, error) {
	var risk float64
	var anomalies []string

	if event.Probability < r.cfg.ExtremeProbabilityLow || event.Probability > r.cfg.ExtremeProbabilityHigh {
		risk += riskExtremeProbability
		anomalies = append(anomalies, fmt.Sprintf("extreme probability %.4f", event.Probability))
	}

	if m := event.Movement; m != nil && math.Abs(m.Delta) > r.cfg.MaxProbabilityChange {
		risk += riskExcessiveChange
		anomalies = append(anomalies, fmt.Sprintf("probability moved %.4f in %.1fh window", m.Delta, m.WindowHours))
	}

	traders := event.Market.TraderCount
	if traders > 0 && traders < r.cfg.MinTraderCount && event.Market.TotalVolumeUSD > r.cfg.WashVolumeThreshold {
		risk += riskTraderMismatch
		anomalies = append(anomalies, fmt.Sprintf("%d traders moved %.0f USD volume", traders, event.Market.TotalVolumeUSD))
	}

	// Adapters that maintain rolling windows report z-scores through
	// source metrics; each flagged dimension adds risk.
	for _, metric := range []string{"probability_zscore", "volume_zscore", "change_zscore"} {
		if z, ok := event.SourceMetrics[metric]; ok && math.Abs(z) >= r.cfg.ZScoreFlagSigma {
			risk += riskZScoreFlag
			anomalies = append(anomalies, fmt.Sprintf("%s %.2f", metric, z))
		}
	}

	score := math.Max(0, 1.0-risk)
	if risk >= r.cfg.RiskMax {
		return result(r, domain.StatusRejectedManipulation, score,
			fmt.Sprintf("manipulation risk %.2f: %s", risk, strings.Join(anomalies, "; "))), nil
	}

	reason := "no anomalies detected"
	if len(anomalies) > 0 {
		reason = fmt.Sprintf("minor anomalies (risk %.2f): %s", risk, strings.Join(anomalies, "; "))
	}
	return result(r, domain.StatusPassed, score, reason), nil
}
