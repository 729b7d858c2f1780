package ais

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/omenworks/omen/internal/registry"
)

// Congestion severity bands, keyed off the waiting/normal ratio.
const (
	CongestionLow      = "low"
	CongestionMedium   = "medium"
	CongestionHigh     = "high"
	CongestionCritical = "critical"
)

// Transit disruption kinds.
const (
	TransitDelay    = "delay"
	TransitBlockage = "blockage"
)

// Deviation kinds.
const (
	DeviationMinor   = "minor"
	DeviationReroute = "reroute"
)

const earthRadiusKM = 6371.0

// Position is a point in decimal degrees.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PortObservation is one congestion reading for a port: how many vessels
// are waiting at anchor against the port's normal level.
type PortObservation struct {
	Port           string    `json:"port"`
	Country        string    `json:"country"`
	Position       Position  `json:"position"`
	WaitingVessels int       `json:"waiting_vessels"`
	NormalWaiting  float64   `json:"normal_waiting"`
	ObservedAt     time.Time `json:"observed_at"`
}

// ChokepointTransit is one transit-time reading for a named chokepoint,
// with the queue of vessels holding outside it.
type ChokepointTransit struct {
	Chokepoint   string    `json:"chokepoint"`
	TransitHours float64   `json:"transit_hours"`
	NormalHours  float64   `json:"normal_hours"`
	QueueLength  int       `json:"queue_length"`
	ObservedAt   time.Time `json:"observed_at"`
}

// VesselTrack is a vessel position against the waypoints of its declared
// route.
type VesselTrack struct {
	VesselID   string     `json:"vessel_id"`
	VesselName string     `json:"vessel_name"`
	Route      string     `json:"route"`
	Waypoints  []Position `json:"waypoints"`
	Position   Position   `json:"position"`
	ObservedAt time.Time  `json:"observed_at"`
}

// DetectorConfig holds the disruption thresholds.
type DetectorConfig struct {
	CongestionRatioMin float64 `yaml:"congestion_ratio_min"`
	DelayRatioMin      float64 `yaml:"delay_ratio_min"`
	BlockageRatio      float64 `yaml:"blockage_ratio"`
	BlockageQueueMin   int     `yaml:"blockage_queue_min"`
	DeviationKM        float64 `yaml:"route_deviation_km"`
	RerouteKM          float64 `yaml:"deviation_reroute_km"`
}

// DefaultDetectorConfig loads the registry defaults.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		CongestionRatioMin: registry.MustParam("congestion_ratio_min").Value,
		DelayRatioMin:      registry.MustParam("delay_ratio_min").Value,
		BlockageRatio:      registry.MustParam("blockage_ratio").Value,
		BlockageQueueMin:   int(registry.MustParam("blockage_queue_min").Value),
		DeviationKM:        registry.MustParam("route_deviation_km").Value,
		RerouteKM:          registry.MustParam("deviation_reroute_km").Value,
	}
}

// CongestionResult is the verdict for one port observation.
type CongestionResult struct {
	Port     string  `json:"port"`
	Ratio    float64 `json:"ratio"`
	Severity string  `json:"severity"`
	EventID  string  `json:"event_id"`
}

// TransitResult is the verdict for one chokepoint transit reading.
type TransitResult struct {
	Chokepoint string  `json:"chokepoint"`
	Ratio      float64 `json:"ratio"`
	Kind       string  `json:"kind"`
	EventID    string  `json:"event_id"`
}

// DeviationResult is the verdict for one vessel track.
type DeviationResult struct {
	VesselID   string  `json:"vessel_id"`
	DistanceKM float64 `json:"distance_km"`
	Kind       string  `json:"kind"`
	EventID    string  `json:"event_id"`
}

// Detector classifies AIS observations against the configured thresholds.
type Detector struct {
	cfg DetectorConfig
}

// NewDetector builds a detector with explicit thresholds.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg}
}

// DetectCongestion returns a result when the port's waiting/normal ratio
// crosses the minimum band. Ports with no normal baseline are quiet.
func (d *Detector) DetectCongestion(obs PortObservation) (CongestionResult, bool) {
	if obs.NormalWaiting <= 0 {
		return CongestionResult{}, false
	}
	ratio := float64(obs.WaitingVessels) / obs.NormalWaiting
	if ratio < d.cfg.CongestionRatioMin {
		return CongestionResult{}, false
	}
	severity := CongestionLow
	switch {
	case ratio >= 3.0:
		severity = CongestionCritical
	case ratio >= 2.5:
		severity = CongestionHigh
	case ratio >= 2.0:
		severity = CongestionMedium
	}
	return CongestionResult{
		Port:     obs.Port,
		Ratio:    ratio,
		Severity: severity,
		EventID:  eventID("congestion", slug(obs.Port), severity, obs.ObservedAt),
	}, true
}

// DetectTransit returns a result when transit time runs at delay_ratio_min
// or above normal. Blockage needs both the blockage ratio and a queue
// above the vessel minimum; anything else at threshold is a delay.
func (d *Detector) DetectTransit(t ChokepointTransit) (TransitResult, bool) {
	if t.NormalHours <= 0 {
		return TransitResult{}, false
	}
	ratio := t.TransitHours / t.NormalHours
	if ratio < d.cfg.DelayRatioMin {
		return TransitResult{}, false
	}
	kind := TransitDelay
	if ratio >= d.cfg.BlockageRatio && t.QueueLength > d.cfg.BlockageQueueMin {
		kind = TransitBlockage
	}
	return TransitResult{
		Chokepoint: t.Chokepoint,
		Ratio:      ratio,
		Kind:       kind,
		EventID:    eventID(kind, slug(t.Chokepoint), kind, t.ObservedAt),
	}, true
}

// DetectDeviation returns a result when the vessel's minimum distance to
// its route waypoints exceeds the deviation threshold. Tracks without
// waypoints are quiet.
func (d *Detector) DetectDeviation(track VesselTrack) (DeviationResult, bool) {
	if len(track.Waypoints) == 0 {
		return DeviationResult{}, false
	}
	min := math.Inf(1)
	for _, wp := range track.Waypoints {
		if dist := Haversine(track.Position, wp); dist < min {
			min = dist
		}
	}
	if min <= d.cfg.DeviationKM {
		return DeviationResult{}, false
	}
	kind := DeviationMinor
	if min > d.cfg.RerouteKM {
		kind = DeviationReroute
	}
	return DeviationResult{
		VesselID:   track.VesselID,
		DistanceKM: min,
		Kind:       kind,
		EventID:    eventID("deviation", slug(track.VesselID), kind, track.ObservedAt),
	}, true
}

// Haversine returns the great-circle distance between two positions in
// kilometres.
func Haversine(a, b Position) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// eventID buckets AIS anomalies by hour so repeated polls within the same
// hour collapse onto one event.
func eventID(kind, subject, detail string, at time.Time) string {
	hour := at.UTC().Format("2006010215")
	sum := sha256.Sum256([]byte(kind + "|" + subject + "|" + detail + "|" + hour))
	return fmt.Sprintf("ais-%s-%s-%s-%s", kind, subject, hour, hex.EncodeToString(sum[:])[:8])
}

func slug(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "-")
}
