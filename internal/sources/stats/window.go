package stats

import (
	"math"
	"sync"

	"github.com/omenworks/omen/internal/registry"
)

// Flag reasons.
const (
	ReasonSigmaExceeded = "sigma_exceeded"
	ReasonOutOfBounds   = "out_of_bounds"
)

// WindowConfig holds the rolling z-score thresholds. MinValid/MaxValid
// are hard plausibility bounds; readings outside them flag regardless of
// window state and never enter the baseline.
type WindowConfig struct {
	MaxSize         int      `yaml:"max_size"`
	MinObservations int      `yaml:"min_observations"`
	FlagSigma       float64  `yaml:"flag_sigma"`
	Clamp           float64  `yaml:"clamp"`
	MinValid        *float64 `yaml:"min_valid,omitempty"`
	MaxValid        *float64 `yaml:"max_valid,omitempty"`
}

// DefaultWindowConfig loads the registry defaults for level metrics.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		MaxSize:         int(registry.MustParam("zscore_window_max").Value),
		MinObservations: int(registry.MustParam("zscore_min_observations").Value),
		FlagSigma:       registry.MustParam("zscore_flag_sigma").Value,
		Clamp:           registry.MustParam("zscore_clamp").Value,
	}
}

// PriceChangeWindowConfig is the tighter variant for price-change
// magnitudes.
func PriceChangeWindowConfig() WindowConfig {
	cfg := DefaultWindowConfig()
	cfg.FlagSigma = registry.MustParam("zscore_price_sigma").Value
	return cfg
}

// WithBounds returns a copy with hard plausibility bounds set.
func (c WindowConfig) WithBounds(min, max float64) WindowConfig {
	c.MinValid = &min
	c.MaxValid = &max
	return c
}

// Flag is the verdict for one observed value.
type Flag struct {
	Value   float64 `json:"value"`
	ZScore  float64 `json:"zscore"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stddev"`
	Flagged bool    `json:"flagged"`
	Active  bool    `json:"active"`
	Reason  string  `json:"reason,omitempty"`
}

// Window is a bounded rolling series that scores each new value against
// the observations before it. It stays passive until it has seen the
// minimum number of in-bounds values.
type Window struct {
	cfg WindowConfig

	mu     sync.Mutex
	values []float64
}

// NewWindow builds a window with the given thresholds.
func NewWindow(cfg WindowConfig) *Window {
	return &Window{cfg: cfg, values: make([]float64, 0, cfg.MaxSize)}
}

// Observe scores v against the prior window, then admits it. Out-of-bounds
// readings flag with a clamped z-score and are not admitted.
func (w *Window) Observe(v float64) Flag {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cfg.MinValid != nil && v < *w.cfg.MinValid {
		return Flag{Value: v, ZScore: -w.cfg.Clamp, Flagged: true, Active: true, Reason: ReasonOutOfBounds}
	}
	if w.cfg.MaxValid != nil && v > *w.cfg.MaxValid {
		return Flag{Value: v, ZScore: w.cfg.Clamp, Flagged: true, Active: true, Reason: ReasonOutOfBounds}
	}

	flag := Flag{Value: v}
	if len(w.values) >= w.cfg.MinObservations {
		flag.Active = true
		flag.Mean, flag.StdDev = meanStdDev(w.values)
		flag.ZScore = w.zscore(v, flag.Mean, flag.StdDev)
		if math.Abs(flag.ZScore) >= w.cfg.FlagSigma {
			flag.Flagged = true
			flag.Reason = ReasonSigmaExceeded
		}
	}

	w.values = append(w.values, v)
	if len(w.values) > w.cfg.MaxSize {
		w.values = w.values[1:]
	}
	return flag
}

// Len reports how many values the window currently holds.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.values)
}

// Reset clears the window.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.values = w.values[:0]
}

// zscore clamps so a flat baseline cannot produce NaN or Inf.
func (w *Window) zscore(v, mean, std float64) float64 {
	if std == 0 {
		if v == mean {
			return 0
		}
		if v > mean {
			return w.cfg.Clamp
		}
		return -w.cfg.Clamp
	}
	z := (v - mean) / std
	if z > w.cfg.Clamp {
		return w.cfg.Clamp
	}
	if z < -w.cfg.Clamp {
		return -w.cfg.Clamp
	}
	return z
}

func meanStdDev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}
