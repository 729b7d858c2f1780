package market

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"
)

// ScenarioClient serves a fixed table of logistics scenarios with
// seed-jittered volumes. The same seed always produces the same batch,
// which keeps demo runs and tests replayable.
type ScenarioClient struct {
	seed int64
}

// NewScenarioClient builds a deterministic scenario feed. Callers derive
// the seed from the processing context, never from the wall clock.
func NewScenarioClient(seed int64) *ScenarioClient {
	return &ScenarioClient{seed: seed}
}

type scenario struct {
	id          string
	question    string
	description string
	probability float64
	liquidity   float64
	volume      float64
}

var scenarios = []scenario{
	{
		id:          "scenario-redsea-001",
		question:    "Red Sea shipping disruption escalates this quarter",
		description: "Attacks near Bab el-Mandeb force carriers to reroute around the Cape of Good Hope",
		probability: 0.75, liquidity: 50000, volume: 500000,
	},
	{
		id:          "scenario-suez-002",
		question:    "Suez Canal closure lasting more than 48 hours",
		description: "Grounding or blockage halts canal transit in both directions",
		probability: 0.18, liquidity: 32000, volume: 210000,
	},
	{
		id:          "scenario-panama-003",
		question:    "Panama Canal drought restrictions cut daily transits below 24",
		description: "Low reservoir levels force draft limits and slot reductions",
		probability: 0.41, liquidity: 27000, volume: 180000,
	},
	{
		id:          "scenario-port-strike-004",
		question:    "US East Coast port strike before year end",
		description: "Dockworkers union walkout closes container terminals",
		probability: 0.33, liquidity: 45000, volume: 390000,
	},
	{
		id:          "scenario-hormuz-005",
		question:    "Strait of Hormuz tanker transit disrupted",
		description: "Naval escalation threatens crude oil shipping lanes",
		probability: 0.22, liquidity: 61000, volume: 720000,
	},
}

// ListMarkets implements Client with deterministic jitter on volume and
// trader counts.
func (c *ScenarioClient) ListMarkets(_ context.Context, limit int) ([]RawMarket, []byte, error) {
	rng := rand.New(rand.NewSource(c.seed))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	n := len(scenarios)
	if limit > 0 && limit < n {
		n = limit
	}

	markets := make([]RawMarket, 0, n)
	for _, sc := range scenarios[:n] {
		created := base.Add(time.Duration(rng.Intn(240)) * time.Hour)
		markets = append(markets, RawMarket{
			ID:          sc.id,
			Question:    sc.question,
			Description: sc.description,
			BestAsk:     sc.probability,
			Volume:      sc.volume * (0.9 + 0.2*rng.Float64()),
			Liquidity:   sc.liquidity,
			CreatedAt:   &created,
			TraderCount: 50 + rng.Intn(500),
		})
	}

	raw, err := json.Marshal(markets)
	if err != nil {
		return nil, nil, err
	}
	return markets, raw, nil
}
