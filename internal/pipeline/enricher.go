package pipeline

import (
	"fmt"
	"sort"

	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/pipeline/rules"
	"github.com/omenworks/omen/internal/registry"
	"github.com/omenworks/omen/internal/textmatch"
)

// Enrichment is the context the enricher attaches to a validated signal.
// It adds no impact assessment; everything here is descriptive.
type Enrichment struct {
	MatchedKeywords    []string                  `json:"matched_keywords"`
	KeywordCategories  map[string]string         `json:"keyword_categories"`
	RelevanceScore     float64                   `json:"relevance_score"`
	MatchedChokepoints []string                  `json:"matched_chokepoints"`
	MatchedRegions     []string                  `json:"matched_regions"`
	ConfidenceFactors  map[string]float64        `json:"confidence_factors"`
	ValidationResults  []domain.ValidationResult `json:"validation_results"`
}

// Categories returns the distinct matched keyword categories, sorted.
func (e Enrichment) Categories() []string {
	seen := make(map[string]struct{}, len(e.KeywordCategories))
	for _, cat := range e.KeywordCategories {
		seen[cat] = struct{}{}
	}
	cats := make([]string, 0, len(seen))
	for cat := range seen {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	return cats
}

// Enricher attaches logistics context to validated signals. Pure: no
// clock, no I/O, no state.
type Enricher struct{}

// NewEnricher returns the stateless enricher.
func NewEnricher() *Enricher {
	return &Enricher{}
}

// baseRelevance maps matched-keyword count to the base relevance score.
func baseRelevance(matches int) float64 {
	switch {
	case matches >= 6:
		return 0.9
	case matches >= 4:
		return 0.7
	case matches >= 2:
		return 0.5
	case matches == 1:
		return 0.3
	default:
		// Passed validation on chokepoint or proximity grounds alone.
		return 0.1
	}
}

// Enrich computes the enrichment for a validated signal and appends its
// step to the signal's explanation chain.
func (e *Enricher) Enrich(signal *domain.ValidatedSignal, pctx domain.ProcessingContext) Enrichment {
	text := eventText(signal.Event)

	keywordCategories := map[string]string{}
	for keyword, category := range registry.LogisticsKeywords() {
		if textmatch.ContainsWord(text, keyword) {
			keywordCategories[keyword] = category
		}
	}
	matched := make([]string, 0, len(keywordCategories))
	for keyword := range keywordCategories {
		matched = append(matched, keyword)
	}
	sort.Strings(matched)

	enrichment := Enrichment{
		MatchedKeywords:    matched,
		KeywordCategories:  keywordCategories,
		MatchedChokepoints: signal.AffectedChokepoints,
		MatchedRegions:     regionsFor(signal),
		ConfidenceFactors:  confidenceFactors(signal),
		ValidationResults:  signal.Results,
	}

	score := baseRelevance(len(matched))
	for _, cat := range enrichment.Categories() {
		if cat == "routes" || cat == "geopolitical" {
			score += 0.1
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	enrichment.RelevanceScore = score

	signal.Explanation.Append(pctx, domain.ExplanationStep{
		RuleName:               "signal_enrichment",
		RuleVersion:            "1.0.0",
		InputSummary:           inputSummary(signal.Event),
		OutputSummary:          "ENRICHED",
		Reasoning:              enrichReasoning(enrichment),
		ConfidenceContribution: enrichment.RelevanceScore,
	})
	return enrichment
}

// regionsFor collects the regions of every affected chokepoint and every
// inferred location, deduplicated and sorted.
func regionsFor(signal *domain.ValidatedSignal) []string {
	seen := map[string]struct{}{}
	for _, name := range signal.AffectedChokepoints {
		if cp, ok := registry.ChokepointByAlias(name); ok {
			seen[cp.Region] = struct{}{}
		}
	}
	for _, loc := range signal.RelevantLocations {
		if loc.Region != "" {
			seen[loc.Region] = struct{}{}
		}
	}
	regions := make([]string, 0, len(seen))
	for region := range seen {
		regions = append(regions, region)
	}
	sort.Strings(regions)
	return regions
}

// confidenceFactors assembles the three factors the generator averages:
// the liquidity rule score, the geographic rule score and the per-source
// reliability constant.
func confidenceFactors(signal *domain.ValidatedSignal) map[string]float64 {
	factors := map[string]float64{
		"liquidity":          signal.LiquidityScore,
		"source_reliability": registry.SourceReliability(signal.Event.Market.Source),
	}
	for _, res := range signal.Results {
		if res.RuleName == rules.GeographicRuleName {
			factors["geographic"] = res.Score
		}
	}
	return factors
}

func enrichReasoning(e Enrichment) string {
	return fmt.Sprintf("matched %d logistics keywords across %d categories; %d chokepoints affected",
		len(e.MatchedKeywords), len(e.Categories()), len(e.MatchedChokepoints))
}
