package ais

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testObservedAt = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestDetectCongestion_SeverityBands(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())

	tests := []struct {
		name     string
		waiting  int
		normal   float64
		want     string
		detected bool
	}{
		{name: "below threshold", waiting: 14, normal: 10, detected: false},
		{name: "just under threshold", waiting: 29, normal: 20, detected: false},
		{name: "low at threshold", waiting: 15, normal: 10, want: CongestionLow, detected: true},
		{name: "medium", waiting: 22, normal: 10, want: CongestionMedium, detected: true},
		{name: "high", waiting: 27, normal: 10, want: CongestionHigh, detected: true},
		{name: "critical at band edge", waiting: 30, normal: 10, want: CongestionCritical, detected: true},
		{name: "critical far above", waiting: 80, normal: 10, want: CongestionCritical, detected: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, ok := d.DetectCongestion(PortObservation{
				Port:           "Rotterdam",
				WaitingVessels: tt.waiting,
				NormalWaiting:  tt.normal,
				ObservedAt:     testObservedAt,
			})
			require.Equal(t, tt.detected, ok)
			if tt.detected {
				assert.Equal(t, tt.want, result.Severity)
				assert.InDelta(t, float64(tt.waiting)/tt.normal, result.Ratio, 1e-9)
			}
		})
	}
}

func TestDetectCongestion_NoBaseline(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())
	_, ok := d.DetectCongestion(PortObservation{Port: "Unknown", WaitingVessels: 100, NormalWaiting: 0})
	assert.False(t, ok, "ports without a normal level stay quiet")
}

func TestDetectTransit_DelayAndBlockage(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())

	tests := []struct {
		name     string
		hours    float64
		normal   float64
		queue    int
		want     string
		detected bool
	}{
		{name: "normal crossing", hours: 14, normal: 14, detected: false},
		{name: "under delay threshold", hours: 20, normal: 14, detected: false},
		{name: "delay at threshold", hours: 21, normal: 14, want: TransitDelay, detected: true},
		{name: "high ratio short queue stays delay", hours: 48, normal: 14, queue: 50, want: TransitDelay, detected: true},
		{name: "blockage needs ratio and queue", hours: 48, normal: 14, queue: 51, want: TransitBlockage, detected: true},
		{name: "long queue below ratio stays delay", hours: 28, normal: 14, queue: 200, want: TransitDelay, detected: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, ok := d.DetectTransit(ChokepointTransit{
				Chokepoint:   "Suez Canal",
				TransitHours: tt.hours,
				NormalHours:  tt.normal,
				QueueLength:  tt.queue,
				ObservedAt:   testObservedAt,
			})
			require.Equal(t, tt.detected, ok)
			if tt.detected {
				assert.Equal(t, tt.want, result.Kind)
			}
		})
	}
}

func TestDetectDeviation_DistanceBands(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())
	suez := Position{Latitude: 30.45, Longitude: 32.35}

	onRoute := VesselTrack{
		VesselID:  "IMO1",
		Waypoints: []Position{suez},
		Position:  Position{Latitude: 30.40, Longitude: 32.30},
	}
	_, ok := d.DetectDeviation(onRoute)
	assert.False(t, ok, "a few km off the waypoint is on route")

	minor := VesselTrack{
		VesselID:   "IMO2",
		Waypoints:  []Position{suez},
		Position:   Position{Latitude: 31.5, Longitude: 33.5},
		ObservedAt: testObservedAt,
	}
	result, ok := d.DetectDeviation(minor)
	require.True(t, ok)
	assert.Equal(t, DeviationMinor, result.Kind)
	assert.Greater(t, result.DistanceKM, 50.0)

	capeOfGoodHope := VesselTrack{
		VesselID:   "IMO3",
		Waypoints:  []Position{suez, {Latitude: 12.58, Longitude: 43.33}},
		Position:   Position{Latitude: -34.36, Longitude: 18.47},
		ObservedAt: testObservedAt,
	}
	result, ok = d.DetectDeviation(capeOfGoodHope)
	require.True(t, ok)
	assert.Equal(t, DeviationReroute, result.Kind)
	assert.Greater(t, result.DistanceKM, 500.0)
}

func TestDetectDeviation_NoWaypoints(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())
	_, ok := d.DetectDeviation(VesselTrack{VesselID: "IMO4", Position: Position{Latitude: 0, Longitude: 0}})
	assert.False(t, ok)
}

func TestHaversine_KnownDistances(t *testing.T) {
	suez := Position{Latitude: 30.45, Longitude: 32.35}
	mandeb := Position{Latitude: 12.58, Longitude: 43.33}

	assert.InDelta(t, 0, Haversine(suez, suez), 1e-9)
	assert.InDelta(t, Haversine(suez, mandeb), Haversine(mandeb, suez), 1e-9)
	// Suez to Bab el-Mandeb is roughly 2,280 km great-circle.
	assert.InDelta(t, 2280, Haversine(suez, mandeb), 60)
}

func TestEventID_HourBucketing(t *testing.T) {
	early := time.Date(2026, 3, 14, 12, 5, 0, 0, time.UTC)
	late := time.Date(2026, 3, 14, 12, 55, 0, 0, time.UTC)
	nextHour := time.Date(2026, 3, 14, 13, 5, 0, 0, time.UTC)

	a := eventID("congestion", "rotterdam", CongestionCritical, early)
	b := eventID("congestion", "rotterdam", CongestionCritical, late)
	c := eventID("congestion", "rotterdam", CongestionCritical, nextHour)

	assert.Equal(t, a, b, "same hour collapses to one event")
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "ais-congestion-rotterdam-2026031412-")
}
