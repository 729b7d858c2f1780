package registry

// Per-source reliability constants, one of the three confidence factors
// the generator averages.
var sourceReliability = map[string]float64{
	"polymarket":    0.80,
	"kalshi":        0.80,
	"metaculus":     0.75,
	"news":          0.70,
	"gdelt":         0.70,
	"ais":           0.90,
	"marinetraffic": 0.90,
	"commodity":     0.85,
	"freight":       0.80,
	"weather":       0.75,
}

// DefaultSourceReliability applies to sources outside the table.
const DefaultSourceReliability = 0.6

// SourceReliability returns the reliability constant for a source name.
func SourceReliability(source string) float64 {
	if v, ok := sourceReliability[source]; ok {
		return v
	}
	return DefaultSourceReliability
}

// Prediction-market sources. Events from these run the full market rule
// chain; events from other sources already passed a source-specific gate
// and skip the market-only rules.
var marketSources = map[string]bool{
	"polymarket": true,
	"kalshi":     true,
	"metaculus":  true,
}

// IsMarketSource reports whether the named source is a prediction market.
func IsMarketSource(source string) bool {
	return marketSources[source]
}
