// Package registry ships the immutable reference tables the pipeline
// evaluates against: chokepoints, logistics vocabulary, rule parameters,
// news credibility tiers and topic lists. Tables are compiled into the
// binary; accessors return copies and never mutate.
package registry

import "fmt"

// Param is one audited rule parameter. Citation names where the value
// comes from so explanation chains can cite it verbatim.
type Param struct {
	Name     string
	Value    float64
	Unit     string
	Citation string
	Min      float64
	Max      float64
}

// Cite renders the parameter for an explanation step.
func (p Param) Cite() string {
	return fmt.Sprintf("%g %s (%s)", p.Value, p.Unit, p.Citation)
}

// InBounds reports whether v is inside the parameter's audited bounds.
func (p Param) InBounds(v float64) bool {
	return v >= p.Min && v <= p.Max
}

var params = map[string]Param{
	"min_liquidity_usd":        {Name: "min_liquidity_usd", Value: 1000, Unit: "USD", Citation: "ruleset v1 market liquidity baseline", Min: 0, Max: 1e7},
	"min_volume_usd":           {Name: "min_volume_usd", Value: 10000, Unit: "USD", Citation: "ruleset v1 market volume baseline", Min: 0, Max: 1e9},
	"extreme_probability_low":  {Name: "extreme_probability_low", Value: 0.05, Unit: "probability", Citation: "ruleset v1 anomaly bounds", Min: 0, Max: 0.5},
	"extreme_probability_high": {Name: "extreme_probability_high", Value: 0.95, Unit: "probability", Citation: "ruleset v1 anomaly bounds", Min: 0.5, Max: 1},
	"max_probability_change":   {Name: "max_probability_change", Value: 0.30, Unit: "probability/window", Citation: "ruleset v1 anomaly bounds", Min: 0, Max: 1},
	"min_trader_count":         {Name: "min_trader_count", Value: 10, Unit: "traders", Citation: "ruleset v1 manipulation heuristic", Min: 0, Max: 1e6},
	"wash_volume_threshold":    {Name: "wash_volume_threshold", Value: 100000, Unit: "USD", Citation: "ruleset v1 manipulation heuristic", Min: 0, Max: 1e9},
	"manipulation_risk_max":    {Name: "manipulation_risk_max", Value: 0.5, Unit: "score", Citation: "ruleset v1 manipulation heuristic", Min: 0, Max: 1},
	"semantic_min_score":       {Name: "semantic_min_score", Value: 0.3, Unit: "score", Citation: "ruleset v1 semantic relevance floor", Min: 0, Max: 1},
	"proximity_threshold_km":   {Name: "proximity_threshold_km", Value: 500, Unit: "km", Citation: "ruleset v1 chokepoint proximity radius", Min: 1, Max: 5000},
	"news_credibility_weight":  {Name: "news_credibility_weight", Value: 0.6, Unit: "weight", Citation: "ruleset v1 news gate weights", Min: 0, Max: 1},
	"news_recency_weight":      {Name: "news_recency_weight", Value: 0.4, Unit: "weight", Citation: "ruleset v1 news gate weights", Min: 0, Max: 1},
	"news_min_credibility":     {Name: "news_min_credibility", Value: 0.5, Unit: "score", Citation: "ruleset v1 news gate floors", Min: 0, Max: 1},
	"news_min_recency":         {Name: "news_min_recency", Value: 0.2, Unit: "score", Citation: "ruleset v1 news gate floors", Min: 0, Max: 1},
	"news_min_combined":        {Name: "news_min_combined", Value: 0.5, Unit: "score", Citation: "ruleset v1 news gate floors", Min: 0, Max: 1},
	"news_fresh_hours":         {Name: "news_fresh_hours", Value: 6, Unit: "hours", Citation: "ruleset v1 news recency curve", Min: 0, Max: 168},
	"news_half_life_hours":     {Name: "news_half_life_hours", Value: 24, Unit: "hours", Citation: "ruleset v1 news recency curve", Min: 1, Max: 720},
	"news_max_age_hours":       {Name: "news_max_age_hours", Value: 72, Unit: "hours", Citation: "ruleset v1 news recency curve", Min: 1, Max: 2160},
	"spike_threshold_pct":      {Name: "spike_threshold_pct", Value: 10, Unit: "percent", Citation: "ruleset v1 commodity spike bands", Min: 0, Max: 100},
	"spike_threshold_z":        {Name: "spike_threshold_z", Value: 2.5, Unit: "sigma", Citation: "ruleset v1 commodity spike bands", Min: 0, Max: 10},
	"spike_moderate_pct":       {Name: "spike_moderate_pct", Value: 15, Unit: "percent", Citation: "ruleset v1 commodity spike bands", Min: 0, Max: 100},
	"spike_major_pct":          {Name: "spike_major_pct", Value: 25, Unit: "percent", Citation: "ruleset v1 commodity spike bands", Min: 0, Max: 100},
	"spike_min_data_points":    {Name: "spike_min_data_points", Value: 10, Unit: "observations", Citation: "ruleset v1 commodity spike bands", Min: 2, Max: 10000},
	"spike_smoothing_window":   {Name: "spike_smoothing_window", Value: 3, Unit: "observations", Citation: "ruleset v1 commodity spike bands", Min: 1, Max: 100},
	"congestion_ratio_min":     {Name: "congestion_ratio_min", Value: 1.5, Unit: "ratio", Citation: "ruleset v1 port congestion bands", Min: 1, Max: 10},
	"delay_ratio_min":          {Name: "delay_ratio_min", Value: 1.5, Unit: "ratio", Citation: "ruleset v1 chokepoint delay bands", Min: 1, Max: 10},
	"blockage_ratio":           {Name: "blockage_ratio", Value: 3.0, Unit: "ratio", Citation: "ruleset v1 chokepoint delay bands", Min: 1, Max: 10},
	"blockage_queue_min":       {Name: "blockage_queue_min", Value: 50, Unit: "vessels", Citation: "ruleset v1 chokepoint delay bands", Min: 0, Max: 10000},
	"route_deviation_km":       {Name: "route_deviation_km", Value: 50, Unit: "km", Citation: "ruleset v1 route deviation bands", Min: 1, Max: 20000},
	"deviation_reroute_km":     {Name: "deviation_reroute_km", Value: 500, Unit: "km", Citation: "ruleset v1 route deviation bands", Min: 1, Max: 20000},
	"zscore_flag_sigma":        {Name: "zscore_flag_sigma", Value: 3.0, Unit: "sigma", Citation: "ruleset v1 statistical anomaly bands", Min: 0, Max: 10},
	"zscore_price_sigma":       {Name: "zscore_price_sigma", Value: 2.5, Unit: "sigma", Citation: "ruleset v1 statistical anomaly bands", Min: 0, Max: 10},
	"zscore_window_max":        {Name: "zscore_window_max", Value: 1000, Unit: "observations", Citation: "ruleset v1 statistical anomaly bands", Min: 10, Max: 100000},
	"zscore_min_observations":  {Name: "zscore_min_observations", Value: 10, Unit: "observations", Citation: "ruleset v1 statistical anomaly bands", Min: 2, Max: 1000},
	"zscore_clamp":             {Name: "zscore_clamp", Value: 10, Unit: "sigma", Citation: "JSON safety bound", Min: 1, Max: 100},

	"min_confidence_for_output": {Name: "min_confidence_for_output", Value: 0.3, Unit: "score", Citation: "ruleset v1 output confidence floor", Min: 0, Max: 1},
}

// ParamByName returns the audited parameter and whether it exists.
func ParamByName(name string) (Param, bool) {
	p, ok := params[name]
	return p, ok
}

// MustParam returns the parameter value or panics on an unknown name.
// Unknown names are programmer errors, not runtime conditions.
func MustParam(name string) Param {
	p, ok := params[name]
	if !ok {
		panic("registry: unknown parameter " + name)
	}
	return p
}

// ParamNames lists every registered parameter, for audit dumps.
func ParamNames() []string {
	names := make([]string, 0, len(params))
	for n := range params {
		names = append(names, n)
	}
	return names
}
