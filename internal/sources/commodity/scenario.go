package commodity

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"
)

// ScenarioClient serves fixed price histories. Brent and TTF end on
// sharp jumps with seed-jittered noise in their history; WTI and wheat
// stay exactly flat so they can never spike. Demo runs therefore show
// both the spike and the quiet path, and the same seed and base always
// produce the same batch.
type ScenarioClient struct {
	seed int64
	base time.Time
}

// NewScenarioClient builds a deterministic price feed. base is the
// processing context time; series end the day before it.
func NewScenarioClient(seed int64, base time.Time) *ScenarioClient {
	return &ScenarioClient{seed: seed, base: base.UTC()}
}

type seriesSpec struct {
	symbol    string
	name      string
	unit      string
	level     float64
	noisePct  float64
	finalJump float64
	days      int
}

var seriesSpecs = []seriesSpec{
	{symbol: "BRENT", name: "Brent Crude Oil", unit: "USD/bbl", level: 80, noisePct: 0.002, finalJump: 0.16, days: 30},
	{symbol: "WTI", name: "WTI Crude Oil", unit: "USD/bbl", level: 76, days: 30},
	{symbol: "WHEAT", name: "Chicago Wheat", unit: "USD/bu", level: 6.2, days: 30},
	{symbol: "TTF", name: "Dutch TTF Natural Gas", unit: "EUR/MWh", level: 34, noisePct: 0.002, finalJump: -0.28, days: 30},
}

// ListSeries implements Client with deterministic noise on the daily
// closes.
func (c *ScenarioClient) ListSeries(_ context.Context, limit int) ([]PriceTimeSeries, []byte, error) {
	rng := rand.New(rand.NewSource(c.seed))
	end := c.base.Truncate(24 * time.Hour)

	n := len(seriesSpecs)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]PriceTimeSeries, 0, n)
	for _, spec := range seriesSpecs[:n] {
		points := make([]PricePoint, 0, spec.days)
		for d := spec.days - 1; d >= 0; d-- {
			price := spec.level * (1 + spec.noisePct*(2*rng.Float64()-1))
			if d == 0 && spec.finalJump != 0 {
				price = spec.level * (1 + spec.finalJump)
			}
			points = append(points, PricePoint{
				Date:  end.AddDate(0, 0, -d),
				Price: price,
			})
		}
		out = append(out, PriceTimeSeries{
			Symbol: spec.symbol,
			Name:   spec.name,
			Unit:   spec.unit,
			Points: points,
		})
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, nil, err
	}
	return out, raw, nil
}
