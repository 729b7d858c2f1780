package pipeline

import (
	"strings"

	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/registry"
	"github.com/omenworks/omen/internal/textmatch"
)

// categoryIndicators maps a signal category to the whole-word indicators
// that select it. Checked in the order of categoryOrder; the first
// category with a match wins, so conflict-driven events classify as
// geopolitical even when they also mention ports or canals.
var categoryIndicators = map[domain.SignalCategory][]string{
	domain.CategoryGeopolitical: {
		"war", "conflict", "missile", "drone", "attack", "houthi", "sanctions",
		"blockade", "invasion", "military", "red sea", "geopolitical",
	},
	domain.CategoryLabor: {
		"strike", "union", "dockworkers", "longshoremen", "walkout", "labor dispute",
	},
	domain.CategoryClimate: {
		"hurricane", "typhoon", "cyclone", "storm", "drought", "flood",
		"el nino", "monsoon", "wave height",
	},
	domain.CategoryRegulatory: {
		"tariff", "embargo", "export ban", "import ban", "regulation", "quota", "customs",
	},
	domain.CategoryInfrastructure: {
		"canal", "port closure", "terminal", "congestion", "blockage", "grounding",
		"collision", "bridge", "lock", "drydock", "deviation", "reroute",
	},
	domain.CategoryEconomic: {
		"freight rate", "spot rate", "price", "index", "inflation", "demand",
		"recession", "anomaly",
	},
}

var categoryOrder = []domain.SignalCategory{
	domain.CategoryGeopolitical,
	domain.CategoryLabor,
	domain.CategoryClimate,
	domain.CategoryRegulatory,
	domain.CategoryInfrastructure,
	domain.CategoryEconomic,
}

// inferCategory classifies a passed event from its text. Events that
// cleared the semantic rule without hitting any indicator fall back to
// OTHER rather than UNKNOWN: they are relevant, just unclassified.
func inferCategory(event domain.RawSignalEvent) domain.SignalCategory {
	text := eventText(event)
	for _, cat := range categoryOrder {
		for _, indicator := range categoryIndicators[cat] {
			if textmatch.ContainsWord(text, indicator) {
				return cat
			}
		}
	}
	return domain.CategoryOther
}

// ExtractChokepoints returns the canonical names of every chokepoint
// whose aliases or keywords appear in the event text, in registry table
// order. Deduplicated; may be empty for signals that passed on proximity
// or logistics grounds alone.
func ExtractChokepoints(event domain.RawSignalEvent) []string {
	text := eventText(event)
	var names []string
	for _, cp := range registry.Chokepoints() {
		terms := append(append([]string{}, cp.Aliases...), cp.Keywords...)
		for _, term := range terms {
			if textmatch.ContainsWord(text, term) {
				names = append(names, cp.Name)
				break
			}
		}
	}
	return names
}

func eventText(event domain.RawSignalEvent) string {
	parts := make([]string, 0, 2+len(event.Keywords))
	parts = append(parts, event.Title, event.Description)
	parts = append(parts, event.Keywords...)
	return strings.Join(parts, " ")
}
