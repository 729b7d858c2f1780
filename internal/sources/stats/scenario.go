package stats

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/omenworks/omen/internal/domain"
)

// ScenarioClient serves fixed metric backfills. Each feed returns a
// time-ordered history per metric so a fresh window activates within one
// fetch; anomalous feeds end on an extreme reading while quiet feeds stay
// flat. The same seed and base always produce the same batch.
type ScenarioClient struct {
	seed  int64
	base  time.Time
	specs []readingSpec
}

type readingSpec struct {
	metric   string
	name     string
	unit     string
	kind     string
	level    float64
	noisePct float64
	final    float64
	points   int
	keywords []string
	location *domain.Location
}

// NewFreightScenarioClient builds a deterministic freight-rate feed: the
// Shanghai-Rotterdam container rate ends on a sharp jump, the global
// composite stays flat.
func NewFreightScenarioClient(seed int64, base time.Time) *ScenarioClient {
	return &ScenarioClient{
		seed: seed,
		base: base.UTC(),
		specs: []readingSpec{
			{
				metric: "wci-shanghai-rotterdam", name: "WCI Shanghai-Rotterdam container rate", unit: "USD/FEU",
				kind: KindLevel, level: 2800, noisePct: 0.01, final: 5900, points: 30,
				keywords: []string{"freight", "container", "shipping"},
			},
			{
				metric: "fbx-global", name: "FBX global container index", unit: "USD/FEU",
				kind: KindLevel, level: 2400, points: 30,
				keywords: []string{"freight", "container", "shipping"},
			},
		},
	}
}

// NewWeatherScenarioClient builds a deterministic marine-weather feed: a
// storm drives Arabian Sea wave heights to an extreme while the Malacca
// reading stays calm.
func NewWeatherScenarioClient(seed int64, base time.Time) *ScenarioClient {
	return &ScenarioClient{
		seed: seed,
		base: base.UTC(),
		specs: []readingSpec{
			{
				metric: "wave-height-arabian-sea", name: "Arabian Sea significant wave height", unit: "m",
				kind: KindLevel, level: 2.1, noisePct: 0.02, final: 7.8, points: 30,
				keywords: []string{"storm", "cyclone", "maritime", "shipping"},
				location: &domain.Location{Latitude: 14.0, Longitude: 62.0, Name: "Arabian Sea", Region: "Middle East"},
			},
			{
				metric: "wave-height-malacca", name: "Malacca Strait significant wave height", unit: "m",
				kind: KindLevel, level: 1.2, points: 30,
				keywords: []string{"storm", "maritime", "shipping"},
				location: &domain.Location{Latitude: 4.2, Longitude: 99.9, Name: "Strait of Malacca", Region: "Southeast Asia"},
			},
		},
	}
}

// ListReadings implements Client with deterministic noise on the hourly
// history.
func (c *ScenarioClient) ListReadings(_ context.Context, limit int) ([]Reading, []byte, error) {
	rng := rand.New(rand.NewSource(c.seed))
	end := c.base.Truncate(time.Hour)

	specs := c.specs
	if limit > 0 && limit < len(specs) {
		specs = specs[:limit]
	}

	var out []Reading
	for _, spec := range specs {
		for i := spec.points - 1; i >= 0; i-- {
			value := spec.level * (1 + spec.noisePct*(2*rng.Float64()-1))
			if i == 0 && spec.final != 0 {
				value = spec.final
			}
			out = append(out, Reading{
				Metric:     spec.metric,
				Name:       spec.name,
				Unit:       spec.unit,
				Kind:       spec.kind,
				Value:      value,
				Keywords:   spec.keywords,
				Location:   spec.location,
				ObservedAt: end.Add(-time.Duration(i) * time.Hour),
			})
		}
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, nil, err
	}
	return out, raw, nil
}
