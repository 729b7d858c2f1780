package registry

// Logistics vocabulary: keyword → category. Used by the market adapter to
// tag events, by the enricher for relevance scoring, and by the
// geographic rule as its logistics fallback.
var logisticsKeywords = map[string]string{
	"shipping":      "routes",
	"shipping lane": "routes",
	"sea route":     "routes",
	"trade route":   "routes",
	"maritime":      "routes",
	"vessel":        "routes",
	"tanker":        "routes",
	"container":     "routes",
	"cargo":         "routes",
	"freight":       "routes",
	"port":          "routes",
	"canal":         "routes",
	"strait":        "routes",
	"chokepoint":    "routes",
	"transit":       "routes",
	"rerouting":     "routes",

	"war":        "geopolitical",
	"conflict":   "geopolitical",
	"houthi":     "geopolitical",
	"militia":    "geopolitical",
	"blockade":   "geopolitical",
	"missile":    "geopolitical",
	"drone":      "geopolitical",
	"attack":     "geopolitical",
	"escalation": "geopolitical",
	"navy":       "geopolitical",
	"piracy":     "geopolitical",
	"red sea":    "geopolitical",

	"strike":       "labor",
	"union":        "labor",
	"walkout":      "labor",
	"lockout":      "labor",
	"dockworkers":  "labor",
	"longshoremen": "labor",

	"hurricane": "climate",
	"typhoon":   "climate",
	"cyclone":   "climate",
	"drought":   "climate",
	"flood":     "climate",
	"storm":     "climate",
	"el nino":   "climate",

	"pipeline":   "infrastructure",
	"terminal":   "infrastructure",
	"crane":      "infrastructure",
	"rail":       "infrastructure",
	"bridge":     "infrastructure",
	"outage":     "infrastructure",
	"disruption": "infrastructure",
	"closure":    "infrastructure",

	"tariff":     "regulatory",
	"embargo":    "regulatory",
	"sanctions":  "regulatory",
	"customs":    "regulatory",
	"regulation": "regulatory",
	"quota":      "regulatory",
}

// LogisticsCategory returns the category for a keyword, or "" when the
// keyword is not in the vocabulary.
func LogisticsCategory(keyword string) string {
	return logisticsKeywords[keyword]
}

// LogisticsKeywords returns a copy of the vocabulary.
func LogisticsKeywords() map[string]string {
	out := make(map[string]string, len(logisticsKeywords))
	for k, v := range logisticsKeywords {
		out[k] = v
	}
	return out
}

// Risk keywords for the semantic relevance rule, grouped into its six
// fixed categories.
var riskKeywords = map[string][]string{
	"conflict":       {"war", "invasion", "missile", "drone", "attack", "houthi", "militia", "hostilities", "escalation", "navy"},
	"sanctions":      {"sanctions", "embargo", "blacklist", "export controls", "asset freeze"},
	"labor":          {"strike", "walkout", "lockout", "union", "dockworkers", "longshoremen", "industrial action"},
	"infrastructure": {"disruption", "closure", "blockage", "outage", "collapse", "grounding", "breakdown", "congestion"},
	"climate":        {"hurricane", "typhoon", "cyclone", "drought", "flood", "storm surge", "heatwave"},
	"regulatory":     {"tariff", "ban", "quota", "restriction", "inspection regime", "customs"},
}

// RiskKeywords returns a copy of the semantic risk vocabulary.
func RiskKeywords() map[string][]string {
	out := make(map[string][]string, len(riskKeywords))
	for cat, kws := range riskKeywords {
		cp := make([]string, len(kws))
		copy(cp, kws)
		out[cat] = cp
	}
	return out
}

// Off-topic phrases that short-circuit the semantic rule. Whole-word
// matched, so "sport" here can never fire on "transport".
var offTopicPhrases = []string{
	"sport", "sports", "football", "premier league", "nba", "nfl",
	"world cup", "olympics", "celebrity", "box office", "movie",
	"album", "grammy", "oscars", "tv series", "playoff",
}

// OffTopicPhrases returns a copy of the blocklist.
func OffTopicPhrases() []string {
	out := make([]string, len(offTopicPhrases))
	copy(out, offTopicPhrases)
	return out
}
