// Package commodity detects price spikes in commodity time series and
// adapts them into raw signal events. Detection is pure arithmetic over
// the series; the z-score is clamped so no NaN or Inf can ever reach a
// JSON encoder.
package commodity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/omenworks/omen/internal/registry"
)

// ErrInsufficientData rejects series shorter than the configured minimum.
var ErrInsufficientData = errors.New("commodity: not enough observations for spike detection")

// Severity bands for a detected spike, classified from |pct_change|.
const (
	SeverityMinor    = "minor"
	SeverityModerate = "moderate"
	SeverityMajor    = "major"
)

// Directions of a detected spike.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// PricePoint is one dated observation.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Price float64   `json:"price"`
}

// PriceTimeSeries is a commodity's observation history. Points may
// arrive unordered; the detector sorts by date before analysis.
type PriceTimeSeries struct {
	Symbol string       `json:"symbol"`
	Name   string       `json:"name"`
	Unit   string       `json:"unit"`
	Points []PricePoint `json:"points"`
}

// SpikeConfig carries the detection thresholds.
type SpikeConfig struct {
	MinDataPoints   int     `yaml:"min_data_points"`
	SmoothingWindow int     `yaml:"smoothing_window"`
	ThresholdPct    float64 `yaml:"threshold_pct"`
	ThresholdZ      float64 `yaml:"threshold_z"`
	ModeratePct     float64 `yaml:"moderate_pct"`
	MajorPct        float64 `yaml:"major_pct"`
	ZScoreClamp     float64 `yaml:"zscore_clamp"`
}

// DefaultSpikeConfig loads the registry defaults.
func DefaultSpikeConfig() SpikeConfig {
	return SpikeConfig{
		MinDataPoints:   int(registry.MustParam("spike_min_data_points").Value),
		SmoothingWindow: int(registry.MustParam("spike_smoothing_window").Value),
		ThresholdPct:    registry.MustParam("spike_threshold_pct").Value,
		ThresholdZ:      registry.MustParam("spike_threshold_z").Value,
		ModeratePct:     registry.MustParam("spike_moderate_pct").Value,
		MajorPct:        registry.MustParam("spike_major_pct").Value,
		ZScoreClamp:     registry.MustParam("zscore_clamp").Value,
	}
}

// SpikeResult is the verdict for one series.
type SpikeResult struct {
	Symbol      string    `json:"symbol"`
	IsSpike     bool      `json:"is_spike"`
	Direction   string    `json:"direction"`
	Severity    string    `json:"severity"`
	PctChange   float64   `json:"pct_change"`
	ZScore      float64   `json:"zscore"`
	Baseline    float64   `json:"baseline"`
	LatestPrice float64   `json:"latest_price"`
	LatestDate  time.Time `json:"latest_date"`
	EventID     string    `json:"event_id,omitempty"`
}

// Detector classifies price series against fixed thresholds.
type Detector struct {
	cfg SpikeConfig
}

// NewDetector builds a spike detector.
func NewDetector(cfg SpikeConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Detect analyses a series. The baseline is a simple moving average over
// every observation except the most recent smoothing window, so the
// latest move cannot dilute its own reference point.
func (d *Detector) Detect(series PriceTimeSeries) (SpikeResult, error) {
	if len(series.Points) < d.cfg.MinDataPoints {
		return SpikeResult{}, fmt.Errorf("%w: %s has %d of %d", ErrInsufficientData, series.Symbol, len(series.Points), d.cfg.MinDataPoints)
	}

	points := make([]PricePoint, len(series.Points))
	copy(points, series.Points)
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })

	latest := points[len(points)-1]

	window := d.cfg.SmoothingWindow
	if window >= len(points) {
		window = len(points) - 1
	}
	baselinePoints := points[:len(points)-window]
	baseline := meanPrice(baselinePoints)

	var pctChange float64
	if baseline != 0 {
		pctChange = (latest.Price - baseline) / baseline * 100
	}

	mean := meanPrice(points)
	stddev := stddevPrice(points, mean)
	var z float64
	if stddev > 0 {
		z = (latest.Price - mean) / stddev
	} else if latest.Price != mean {
		z = d.cfg.ZScoreClamp
	}
	z = clamp(z, -d.cfg.ZScoreClamp, d.cfg.ZScoreClamp)

	result := SpikeResult{
		Symbol:      series.Symbol,
		PctChange:   round2(pctChange),
		ZScore:      round2(z),
		Baseline:    round2(baseline),
		LatestPrice: latest.Price,
		LatestDate:  latest.Date.UTC(),
	}

	if math.Abs(pctChange) < d.cfg.ThresholdPct && math.Abs(z) < d.cfg.ThresholdZ {
		return result, nil
	}

	result.IsSpike = true
	result.Direction = DirectionDown
	if pctChange > 0 {
		result.Direction = DirectionUp
	}
	result.Severity = d.severity(math.Abs(pctChange))
	result.EventID = spikeEventID(series.Symbol, result.Direction, result.Severity, result.LatestDate)
	return result, nil
}

func (d *Detector) severity(absPct float64) string {
	switch {
	case absPct >= d.cfg.MajorPct:
		return SeverityMajor
	case absPct >= d.cfg.ModeratePct:
		return SeverityModerate
	default:
		return SeverityMinor
	}
}

// spikeEventID is stable for a given symbol, direction, date and
// severity: re-detection of the same spike never mints a new identity.
func spikeEventID(symbol, direction, severity string, date time.Time) string {
	day := date.UTC().Format("20060102")
	sum := sha256.Sum256([]byte(symbol + "|" + direction + "|" + day + "|" + severity))
	return fmt.Sprintf("commodity-%s-%s-%s-%s", symbol, direction, day, hex.EncodeToString(sum[:])[:8])
}

func meanPrice(points []PricePoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range points {
		sum += p.Price
	}
	return sum / float64(len(points))
}

func stddevPrice(points []PricePoint, mean float64) float64 {
	if len(points) < 2 {
		return 0
	}
	var sum float64
	for _, p := range points {
		d := p.Price - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(points)))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
