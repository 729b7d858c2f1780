package registry

import "strings"

// Credibility tiers for news source domains. Lookup normalises the
// leading "www." prefix; unknown domains score the default.
var credibilityTiers = map[string]float64{
	// Tier 1: global wire services and papers of record.
	"reuters.com":   1.0,
	"apnews.com":    1.0,
	"bloomberg.com": 1.0,
	"bbc.com":       1.0,
	"bbc.co.uk":     1.0,
	"ft.com":        1.0,
	"wsj.com":       1.0,

	// Tier 2: major internationals.
	"nytimes.com":     0.85,
	"theguardian.com": 0.85,
	"cnbc.com":        0.85,
	"aljazeera.com":   0.85,
	"dw.com":          0.85,
	"economist.com":   0.85,

	// Tier 3: maritime and trade press.
	"maritime-executive.com": 0.7,
	"lloydslist.com":         0.7,
	"tradewindsnews.com":     0.7,
	"splash247.com":          0.7,
	"gcaptain.com":           0.7,
	"joc.com":                0.7,

	// Tier 4: regional outlets.
	"straitstimes.com":  0.5,
	"arabnews.com":      0.5,
	"hurriyetdailynews": 0.5,
	"egypttoday.com":    0.5,
}

// DefaultCredibility is the score for domains outside the tier map.
const DefaultCredibility = 0.3

// CredibilityFor scores a source domain.
func CredibilityFor(domain string) float64 {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "www.")
	if score, ok := credibilityTiers[d]; ok {
		return score
	}
	return DefaultCredibility
}

// Topic is a named relevance topic with primary and secondary keyword
// lists for the news gate.
type Topic struct {
	Name      string
	Primary   []string
	Secondary []string
}

var topics = []Topic{
	{
		Name:      "shipping_disruption",
		Primary:   []string{"shipping", "vessel", "maritime", "canal", "strait", "freight"},
		Secondary: []string{"container", "cargo", "tanker", "route", "chokepoint", "rerouting"},
	},
	{
		Name:      "port_operations",
		Primary:   []string{"port", "dockworkers", "terminal", "berth"},
		Secondary: []string{"congestion", "queue", "anchorage", "throughput", "backlog"},
	},
	{
		Name:      "geopolitical_conflict",
		Primary:   []string{"war", "conflict", "sanctions", "missile", "blockade", "houthi"},
		Secondary: []string{"military", "escalation", "navy", "ceasefire", "militia"},
	},
	{
		Name:      "labor_action",
		Primary:   []string{"strike", "union", "walkout", "lockout"},
		Secondary: []string{"wages", "negotiation", "contract", "picket"},
	},
	{
		Name:      "commodity_market",
		Primary:   []string{"oil", "crude", "brent", "wheat", "lng", "gas"},
		Secondary: []string{"price", "futures", "barrel", "supply", "opec"},
	},
	{
		Name:      "weather_event",
		Primary:   []string{"hurricane", "typhoon", "cyclone", "storm", "flood"},
		Secondary: []string{"forecast", "landfall", "evacuation", "damage"},
	},
}

// Topics returns a copy of the topic table.
func Topics() []Topic {
	out := make([]Topic, len(topics))
	for i, tp := range topics {
		cp := Topic{Name: tp.Name}
		cp.Primary = append(cp.Primary, tp.Primary...)
		cp.Secondary = append(cp.Secondary, tp.Secondary...)
		out[i] = cp
	}
	return out
}

// Sentiment lexicon for the rule-based scorer. No ML anywhere.
var (
	positiveWords = []string{
		"resolve", "resolved", "agreement", "recovery", "stable",
		"improve", "improved", "deal", "reopen", "reopened",
		"progress", "growth", "gain", "eased", "easing",
	}
	negativeWords = []string{
		"war", "strike", "crisis", "disruption", "blockade", "attack",
		"sanctions", "shortage", "delay", "collapse", "conflict",
		"damage", "halt", "halted", "closure", "escalation",
	}
)

// PositiveWords returns a copy of the positive lexicon.
func PositiveWords() []string {
	out := make([]string, len(positiveWords))
	copy(out, positiveWords)
	return out
}

// NegativeWords returns a copy of the negative lexicon.
func NegativeWords() []string {
	out := make([]string, len(negativeWords))
	copy(out, negativeWords)
	return out
}

// TagPatterns is the fixed regex table the news gate extracts tags from.
// Keys are the tag names; values are the patterns.
var tagPatterns = map[string]string{
	"strike":    `\bstrikes?\b|\bwalkouts?\b|\bindustrial action\b`,
	"lockdown":  `\blockdowns?\b|\bcurfews?\b`,
	"blockage":  `\bblock(?:ed|age|ade|ades)\b|\bobstruct(?:ed|ion)?\b`,
	"sanctions": `\bsanctions?\b|\bembargo(?:es)?\b`,
	"cyber":     `\bcyber ?attacks?\b|\bransomware\b|\bhack(?:ed|ing|ers)?\b`,
	"weather":   `\bhurricanes?\b|\btyphoons?\b|\bcyclones?\b|\bstorms?\b|\bflood(?:s|ing)?\b`,
	"conflict":  `\bwars?\b|\bmissiles?\b|\battacks?\b|\bconflicts?\b|\binvasions?\b`,
}

// TagPatterns returns a copy of the tag regex table.
func TagPatterns() map[string]string {
	out := make(map[string]string, len(tagPatterns))
	for k, v := range tagPatterns {
		out[k] = v
	}
	return out
}
