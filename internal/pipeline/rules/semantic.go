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
	SemanticRuleName    = "semantic_relevance"
	SemanticRuleVersion = "1.0.0"
)

// SemanticConfig holds the relevance floor.
type SemanticConfig struct {
	MinScore float64 `yaml:"semantic_min_score"`
}

// DefaultSemanticConfig loads the registry default.
func DefaultSemanticConfig() SemanticConfig {
	return SemanticConfig{MinScore: registry.MustParam("semantic_min_score").Value}
}

// SemanticRule rejects events about the wrong world. An off-topic phrase
// anywhere in the text rejects outright; otherwise the score grows with
// distinct risk keywords matched across the six categories. Whole-word
// matching throughout, so "sport" never fires on "transport".
type SemanticRule struct {
	cfg SemanticConfig
}

// NewSemanticRule builds the rule.
func NewSemanticRule(cfg SemanticConfig) *SemanticRule {
	return &SemanticRule{cfg: cfg}
}

// Name implements Rule.
func (r *SemanticRule) Name() string { return SemanticRuleName }

// Version implements Rule.
func (r *SemanticRule) Version() string { return SemanticRuleVersion }

// Params implements Rule.
func (r *SemanticRule) Params() map[string]string {
	return map[string]string{
		"semantic_min_score": citeParam("semantic_min_score", r.cfg.MinScore),
	}
}

// Evaluate implements Rule.
func (r *SemanticRule) Evaluate(event domain.RawSignalEvent, _ domain.ProcessingContext) (domain.ValidationResult, error) {
	text := eventText(event)

	for _, phrase := range registry.OffTopicPhrases() {
		if textmatch.ContainsWord(text, phrase) {
			return result(r, domain.StatusRejectedSemantic, 0,
				fmt.Sprintf("off-topic phrase %q matched", phrase)), nil
		}
	}

	riskKeywords := registry.RiskKeywords()
	categories := make([]string, 0, len(riskKeywords))
	for cat := range riskKeywords {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	var matchedCategories, matchedKeywords []string
	for _, cat := range categories {
		hit := false
		for _, kw := range riskKeywords[cat] {
			if textmatch.ContainsWord(text, kw) {
				matchedKeywords = append(matchedKeywords, kw)
				hit = true
			}
		}
		if hit {
			matchedCategories = append(matchedCategories, cat)
		}
	}

	score := math.Min(1.0, 0.2*float64(len(matchedCategories))+0.1*float64(len(matchedKeywords)))
	if score < r.cfg.MinScore {
		return result(r, domain.StatusRejectedSemantic, score,
			fmt.Sprintf("semantic score %.2f below %.2f (categories: %s)", score, r.cfg.MinScore, joinOrNone(matchedCategories))), nil
	}

	return result(r, domain.StatusPassed, score,
		fmt.Sprintf("matched %d keywords across %s", len(matchedKeywords), joinOrNone(matchedCategories))), nil
}

// eventText is the searchable surface of an event: title, description
// and keyword tags.
func eventText(event domain.RawSignalEvent) string {
	parts := []string{event.Title, event.Description}
	parts = append(parts, event.Keywords...)
	return strings.Join(parts, " ")
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
