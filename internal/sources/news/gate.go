// Package news implements the four-check quality gate over news articles
// and the adapter that turns passing articles into raw signal events.
// Every check is deterministic and rule-based; there is no ML anywhere.
package news

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/omenworks/omen/internal/registry"
	"github.com/omenworks/omen/internal/textmatch"
)

// Article is one news item as fetched from an upstream aggregator.
type Article struct {
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Content      string    `json:"content,omitempty"`
	SourceName   string    `json:"source_name"`
	SourceDomain string    `json:"source_domain"`
	URL          string    `json:"url,omitempty"`
	PublishedAt  time.Time `json:"published_at"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// GateConfig carries the gate thresholds. Defaults come from the audited
// parameter registry.
type GateConfig struct {
	CredibilityWeight   float64 `yaml:"credibility_weight"`
	RecencyWeight       float64 `yaml:"recency_weight"`
	MinCredibility      float64 `yaml:"min_credibility"`
	MinRecency          float64 `yaml:"min_recency"`
	MinCombined         float64 `yaml:"min_combined"`
	FreshThresholdHours float64 `yaml:"fresh_threshold_hours"`
	HalfLifeHours       float64 `yaml:"half_life_hours"`
	MaxAgeHours         float64 `yaml:"max_age_hours"`
}

// DefaultGateConfig loads the registry defaults.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		CredibilityWeight:   registry.MustParam("news_credibility_weight").Value,
		RecencyWeight:       registry.MustParam("news_recency_weight").Value,
		MinCredibility:      registry.MustParam("news_min_credibility").Value,
		MinRecency:          registry.MustParam("news_min_recency").Value,
		MinCombined:         registry.MustParam("news_min_combined").Value,
		FreshThresholdHours: registry.MustParam("news_fresh_hours").Value,
		HalfLifeHours:       registry.MustParam("news_half_life_hours").Value,
		MaxAgeHours:         registry.MustParam("news_max_age_hours").Value,
	}
}

// QualityScore is the full gate verdict for one article.
type QualityScore struct {
	Credibility     float64  `json:"credibility"`
	Recency         float64  `json:"recency"`
	Relevance       float64  `json:"relevance"`
	Combined        float64  `json:"combined"`
	Sentiment       float64  `json:"sentiment"`
	Tags            []string `json:"tags,omitempty"`
	MatchedTopics   []string `json:"matched_topics,omitempty"`
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
	DedupeHash      string   `json:"dedupe_hash"`
	IsDuplicate     bool     `json:"is_duplicate"`
	PassedGate      bool     `json:"passed_gate"`
	RejectionReason string   `json:"rejection_reason,omitempty"`
}

// Rejection reasons, fail-closed in priority order.
const (
	ReasonLowCredibility = "Source credibility below minimum"
	ReasonStale          = "Article too stale"
	ReasonLowCombined    = "Combined quality score below minimum"
	ReasonDuplicate      = "Duplicate article"
	ReasonNoTopics       = "No relevant topics matched"
)

// QualityGate evaluates articles against a reference time. The dedupe
// cache is per-gate state: construct one gate per batch or call
// ResetDedupeCache between batches. Not safe for concurrent use.
type QualityGate struct {
	cfg      GateConfig
	seen     map[string]struct{}
	tagRes   map[string]*regexp.Regexp
	tokenRe  *regexp.Regexp
	positive map[string]struct{}
	negative map[string]struct{}
}

// NewQualityGate compiles the fixed tag patterns and sentiment lexicon.
func NewQualityGate(cfg GateConfig) *QualityGate {
	g := &QualityGate{
		cfg:      cfg,
		seen:     make(map[string]struct{}),
		tagRes:   make(map[string]*regexp.Regexp, 8),
		tokenRe:  regexp.MustCompile(`\b\w+\b`),
		positive: make(map[string]struct{}),
		negative: make(map[string]struct{}),
	}
	for tag, pattern := range registry.TagPatterns() {
		g.tagRes[tag] = regexp.MustCompile(pattern)
	}
	for _, w := range registry.PositiveWords() {
		g.positive[w] = struct{}{}
	}
	for _, w := range registry.NegativeWords() {
		g.negative[w] = struct{}{}
	}
	return g
}

// ResetDedupeCache clears the seen set. Call at the start of each batch
// or replay.
func (g *QualityGate) ResetDedupeCache() {
	g.seen = make(map[string]struct{})
}

// Evaluate scores an article against referenceTime (the processing
// context time, never the wall clock).
func (g *QualityGate) Evaluate(a Article, referenceTime time.Time) QualityScore {
	score := QualityScore{
		Credibility: registry.CredibilityFor(a.SourceDomain),
		Recency:     g.recencyScore(a.PublishedAt, referenceTime),
		DedupeHash:  DedupeHash(a.Title, a.SourceDomain),
	}
	score.Relevance, score.MatchedTopics, score.MatchedKeywords = g.topicRelevance(a)
	score.Sentiment = g.sentiment(a)
	score.Tags = g.extractTags(a)
	score.Combined = score.Credibility*g.cfg.CredibilityWeight + score.Recency*g.cfg.RecencyWeight

	switch {
	case score.Credibility < g.cfg.MinCredibility:
		score.RejectionReason = ReasonLowCredibility
	case score.Recency < g.cfg.MinRecency:
		score.RejectionReason = ReasonStale
	case score.Combined < g.cfg.MinCombined:
		score.RejectionReason = ReasonLowCombined
	default:
		if _, dup := g.seen[score.DedupeHash]; dup {
			score.IsDuplicate = true
			score.RejectionReason = ReasonDuplicate
			break
		}
		g.seen[score.DedupeHash] = struct{}{}
		if score.Relevance < 0.1 {
			score.RejectionReason = ReasonNoTopics
		}
	}

	score.PassedGate = score.RejectionReason == ""
	return score
}

// recencyScore decays exponentially: 1.0 up to the fresh threshold, half
// of the remaining weight every half-life, hard zero past max age.
func (g *QualityGate) recencyScore(publishedAt, referenceTime time.Time) float64 {
	ageHours := referenceTime.Sub(publishedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	switch {
	case ageHours > g.cfg.MaxAgeHours:
		return 0.0
	case ageHours <= g.cfg.FreshThresholdHours:
		return 1.0
	default:
		decay := math.Exp(-math.Ln2 * ageHours / g.cfg.HalfLifeHours)
		return math.Round(decay*10000) / 10000
	}
}

// topicRelevance counts whole-word topic keyword hits over the
// concatenated text. A topic matches when at least one primary keyword
// hits; secondary hits only add weight.
func (g *QualityGate) topicRelevance(a Article) (float64, []string, []string) {
	text := strings.ToLower(a.Title + " " + a.Description + " " + a.Content)

	var matchedTopics []string
	matchedKeywords := map[string]struct{}{}
	totalHits := 0

	for _, topic := range registry.Topics() {
		primaryHits := 0
		secondaryHits := 0
		for _, kw := range topic.Primary {
			if n := textmatch.CountWord(text, kw); n > 0 {
				primaryHits += n
				matchedKeywords[kw] = struct{}{}
			}
		}
		if primaryHits == 0 {
			continue
		}
		for _, kw := range topic.Secondary {
			if n := textmatch.CountWord(text, kw); n > 0 {
				secondaryHits += n
				matchedKeywords[kw] = struct{}{}
			}
		}
		matchedTopics = append(matchedTopics, topic.Name)
		totalHits += primaryHits + secondaryHits
	}

	keywords := make([]string, 0, len(matchedKeywords))
	for kw := range matchedKeywords {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)
	sort.Strings(matchedTopics)

	var relevance float64
	switch {
	case len(matchedTopics) == 0:
		relevance = 0.0
	case len(matchedTopics) == 1:
		relevance = 0.5 + math.Min(float64(totalHits)*0.1, 0.3)
	default:
		relevance = 0.8 + math.Min(float64(len(matchedTopics))*0.05, 0.2)
	}
	return math.Min(relevance, 1.0), matchedTopics, keywords
}

// sentiment is (positive − negative) / total lexicon hits, rounded to
// two decimals. No hits scores neutral zero.
func (g *QualityGate) sentiment(a Article) float64 {
	text := strings.ToLower(a.Title + " " + a.Description)
	var pos, neg int
	for _, token := range g.tokenRe.FindAllString(text, -1) {
		if _, ok := g.positive[token]; ok {
			pos++
		}
		if _, ok := g.negative[token]; ok {
			neg++
		}
	}
	total := pos + neg
	if total == 0 {
		return 0.0
	}
	return math.Round(float64(pos-neg)/float64(total)*100) / 100
}

func (g *QualityGate) extractTags(a Article) []string {
	text := strings.ToLower(a.Title + " " + a.Description)
	var tags []string
	for tag, re := range g.tagRes {
		if re.MatchString(text) {
			tags = append(tags, tag)
		}
	}
	sort.Strings(tags)
	return tags
}

var (
	punctRe = regexp.MustCompile(`[^\w\s]`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// DedupeHash fingerprints an article by normalized title and source
// domain: SHA-256 truncated to 16 hex chars.
func DedupeHash(title, sourceDomain string) string {
	norm := strings.ToLower(title)
	norm = punctRe.ReplaceAllString(norm, "")
	norm = strings.TrimSpace(spaceRe.ReplaceAllString(norm, " "))
	sum := sha256.Sum256([]byte(norm + "|" + strings.ToLower(sourceDomain)))
	return hex.EncodeToString(sum[:])[:16]
}
