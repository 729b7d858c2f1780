package rules

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/registry"
	"github.com/omenworks/omen/internal/textmatch"
)

const (
	GeographicRuleName    = "geographic_relevance"
	GeographicRuleVersion = "1.0.0"
)

// Score tiers: a named chokepoint beats proximity beats the logistics
// vocabulary fallback.
const (
	scoreChokepointMatch = 1.0
	scoreProximityMatch  = 0.9
	fallbackScoreCap     = 0.9
)

// GeographicConfig holds the proximity radius.
type GeographicConfig struct {
	ProximityThresholdKM float64 `yaml:"proximity_threshold_km"`
}

// DefaultGeographicConfig loads the registry default.
func DefaultGeographicConfig() GeographicConfig {
	return GeographicConfig{ProximityThresholdKM: registry.MustParam("proximity_threshold_km").Value}
}

// GeographicRule ties an event to trade geography three ways: a
// chokepoint keyword in the text, an inferred location within the
// proximity radius of a chokepoint, or the logistics vocabulary as a
// fallback. Zero matches on all three rejects.
type GeographicRule struct {
	cfg GeographicConfig
}

// NewGeographicRule builds the rule.
func NewGeographicRule(cfg GeographicConfig) *GeographicRule {
	return &GeographicRule{cfg: cfg}
}

// Name implements Rule.
func (r *GeographicRule) Name() string { return GeographicRuleName }

// Version implements Rule.
func (r *GeographicRule) Version() string { return GeographicRuleVersion }

// Params implements Rule.
func (r *GeographicRule) Params() map[string]string {
	return map[string]string{
		"proximity_threshold_km": citeParam("proximity_threshold_km", r.cfg.ProximityThresholdKM),
	}
}

// Evaluate implements Rule.
func (r *GeographicRule) Evaluate(event domain.RawSignalEvent, _ domain.ProcessingContext) (domain.ValidationResult, error) {
	text := eventText(event)

	// Direct chokepoint keyword match, table order.
	var named []string
	for _, cp := range registry.Chokepoints() {
		for _, kw := range cp.Keywords {
			if textmatch.ContainsWord(text, kw) {
				named = append(named, cp.Name)
				break
			}
		}
	}
	if len(named) > 0 {
		return result(r, domain.StatusPassed, scoreChokepointMatch,
			fmt.Sprintf("chokepoint keywords matched: %s", strings.Join(named, ", "))), nil
	}

	// Proximity of any inferred location to a chokepoint.
	for _, loc := range event.InferredLocations {
		cp, dist := registry.NearestChokepoint(loc.Latitude, loc.Longitude)
		if dist <= r.cfg.ProximityThresholdKM {
			return result(r, domain.StatusPassed, scoreProximityMatch,
				fmt.Sprintf("location %s within %.0f km of %s", locationLabel(loc), dist, cp.Name)), nil
		}
	}

	// Logistics vocabulary fallback.
	matches, categories := logisticsMatches(text)
	if len(matches) > 0 {
		score := fallbackScore(len(matches), categories)
		return result(r, domain.StatusPassed, score,
			fmt.Sprintf("logistics keywords matched: %s", strings.Join(matches, ", "))), nil
	}

	return result(r, domain.StatusRejectedGeography, 0,
		"no chokepoint, proximity or logistics match"), nil
}

// logisticsMatches returns the matched vocabulary keywords in sorted
// order plus the set of categories they belong to.
func logisticsMatches(text string) ([]string, map[string]bool) {
	vocabulary := registry.LogisticsKeywords()
	keywords := make([]string, 0, len(vocabulary))
	for kw := range vocabulary {
		keywords = append(keywords, kw)
	}
	// Deterministic match order regardless of map iteration.
	sort.Strings(keywords)

	var matches []string
	categories := make(map[string]bool)
	for _, kw := range keywords {
		if textmatch.ContainsWord(text, kw) {
			matches = append(matches, kw)
			categories[vocabulary[kw]] = true
		}
	}
	return matches, categories
}

// fallbackScore buckets by match count, with a bonus when the matches
// include the strongest categories.
func fallbackScore(count int, categories map[string]bool) float64 {
	var score float64
	switch {
	case count >= 4:
		score = 0.7
	case count >= 2:
		score = 0.55
	default:
		score = 0.4
	}
	if categories["routes"] {
		score += 0.1
	}
	if categories["geopolitical"] {
		score += 0.1
	}
	return math.Min(fallbackScoreCap, score)
}

func locationLabel(loc domain.Location) string {
	if loc.Name != "" {
		return loc.Name
	}
	return fmt.Sprintf("(%.2f, %.2f)", loc.Latitude, loc.Longitude)
}
