package pipeline

import (
	"fmt"
	"sort"

	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/registry"
)

// Probability provenance labels carried on emitted signals.
const (
	ProbabilityFromMarket   = "market_yes_price"
	ProbabilityFromDetector = "detector_mapping"
	ProbabilityFallback     = "fallback_default"
)

// GeneratorConfig selects the signal id form. Live ids are reserved for
// the background fetch cycle.
type GeneratorConfig struct {
	Live bool `yaml:"live"`
}

// Generator projects a validated, enriched signal into the final
// OmenSignal. All fields derive from the inputs and the processing
// context; two runs over the same inputs produce identical signals.
type Generator struct {
	cfg GeneratorConfig
}

// NewGenerator builds a generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	return &Generator{cfg: cfg}
}

// Generate builds the OmenSignal and completes its explanation chain.
// A signal whose chain cannot complete is not emitted.
func (g *Generator) Generate(signal *domain.ValidatedSignal, enrichment Enrichment, pctx domain.ProcessingContext) (domain.OmenSignal, error) {
	if signal.Explanation == nil {
		return domain.OmenSignal{}, fmt.Errorf("generate %s: %w", signal.Event.EventID, domain.ErrNoExplanationChain)
	}

	confidence := meanFactors(enrichment.ConfidenceFactors)
	signalID := domain.SignalIDFromTrace(signal.TraceID)
	if g.cfg.Live {
		signalID = domain.LiveSignalIDFromTrace(signal.TraceID)
	}

	signal.Explanation.Append(pctx, domain.ExplanationStep{
		RuleName:               "signal_generation",
		RuleVersion:            "1.0.0",
		InputSummary:           inputSummary(signal.Event),
		OutputSummary:          "GENERATED " + signalID,
		Reasoning:              fmt.Sprintf("confidence %.4f from %d factors; relevance %.2f", confidence, len(enrichment.ConfidenceFactors), enrichment.RelevanceScore),
		ConfidenceContribution: confidence,
	})
	signal.Explanation.Complete(pctx)
	if !signal.Explanation.IsComplete() {
		return domain.OmenSignal{}, fmt.Errorf("generate %s: %w", signal.Event.EventID, domain.ErrNoExplanationChain)
	}

	event := signal.Event
	return domain.OmenSignal{
		SignalID:          signalID,
		SourceEventID:     event.EventID,
		TraceID:           signal.TraceID,
		InputEventHash:    event.InputEventHash,
		Title:             event.Title,
		Description:       event.Description,
		Probability:       event.Probability,
		ProbabilitySource: probabilitySource(event),
		ConfidenceScore:   confidence,
		ConfidenceLevel:   domain.ConfidenceLevelFor(confidence),
		Category:          signal.Category,
		Tags:              buildTags(event, enrichment),
		Geographic: domain.GeographicContext{
			Regions:     enrichment.MatchedRegions,
			Chokepoints: signal.AffectedChokepoints,
		},
		Temporal:       temporalContext(event),
		Evidence:       buildEvidence(event),
		RulesetVersion: signal.RulesetVersion,
		Explanation:    signal.Explanation,
		GeneratedAt:    pctx.ProcessingTime,
	}, nil
}

func meanFactors(factors map[string]float64) float64 {
	if len(factors) == 0 {
		return 0
	}
	var sum float64
	for _, v := range factors {
		sum += v
	}
	return sum / float64(len(factors))
}

func probabilitySource(event domain.RawSignalEvent) string {
	switch {
	case event.ProbabilityIsFallback:
		return ProbabilityFallback
	case registry.IsMarketSource(event.Market.Source):
		return ProbabilityFromMarket
	default:
		return ProbabilityFromDetector
	}
}

// buildTags returns the sorted union of event keywords, matched keyword
// categories and the source class.
func buildTags(event domain.RawSignalEvent, enrichment Enrichment) []string {
	seen := map[string]struct{}{}
	for _, kw := range event.Keywords {
		seen[kw] = struct{}{}
	}
	for _, cat := range enrichment.Categories() {
		seen[cat] = struct{}{}
	}
	seen[sourceClass(event.Market.Source)] = struct{}{}

	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// sourceClass names the feed class for tags and evidence. Prediction
// markets share one class; detector feeds are classed by source name.
func sourceClass(source string) string {
	if registry.IsMarketSource(source) {
		return "prediction_market"
	}
	return source
}

func temporalContext(event domain.RawSignalEvent) domain.TemporalContext {
	// Markets price a future outcome; detector feeds report a present
	// condition.
	horizon := "immediate"
	if registry.IsMarketSource(event.Market.Source) {
		horizon = "forecast"
	}
	return domain.TemporalContext{EventHorizon: horizon}
}

func buildEvidence(event domain.RawSignalEvent) []domain.EvidenceItem {
	return []domain.EvidenceItem{{
		SourceName:  event.Market.Source,
		SourceType:  sourceClass(event.Market.Source),
		URL:         event.Market.URL,
		Description: event.Title,
	}}
}
