package ais

import (
	"context"
	"encoding/json"
	"time"
)

// ScenarioClient serves a fixed AIS snapshot: a critically congested
// Rotterdam, a normal Singapore, a Suez blockage, a mild Panama delay
// below threshold, and a vessel rerouting around the Cape of Good Hope.
// Demo runs therefore exercise every detector branch, and the same base
// time always produces the same batch.
type ScenarioClient struct {
	base time.Time
}

// NewScenarioClient builds a deterministic AIS feed anchored to the
// processing context time.
func NewScenarioClient(base time.Time) *ScenarioClient {
	return &ScenarioClient{base: base.UTC()}
}

// FetchSnapshot implements Client.
func (c *ScenarioClient) FetchSnapshot(_ context.Context, _ int) (Snapshot, []byte, error) {
	at := c.base.Truncate(time.Hour)

	snapshot := Snapshot{
		Ports: []PortObservation{
			{
				Port: "Rotterdam", Country: "Netherlands",
				Position:       Position{Latitude: 51.95, Longitude: 4.14},
				WaitingVessels: 64, NormalWaiting: 20,
				ObservedAt: at,
			},
			{
				Port: "Singapore", Country: "Singapore",
				Position:       Position{Latitude: 1.26, Longitude: 103.84},
				WaitingVessels: 22, NormalWaiting: 25,
				ObservedAt: at,
			},
		},
		Transits: []ChokepointTransit{
			{
				Chokepoint:   "Suez Canal",
				TransitHours: 48, NormalHours: 14, QueueLength: 156,
				ObservedAt: at,
			},
			{
				Chokepoint:   "Panama Canal",
				TransitHours: 11, NormalHours: 10, QueueLength: 12,
				ObservedAt: at,
			},
		},
		Tracks: []VesselTrack{
			{
				VesselID: "IMO9811000", VesselName: "MSC Aurelia", Route: "Asia-Europe via Suez",
				Waypoints: []Position{
					{Latitude: 30.45, Longitude: 32.35},
					{Latitude: 12.58, Longitude: 43.33},
				},
				Position:   Position{Latitude: -34.36, Longitude: 18.47},
				ObservedAt: at,
			},
			{
				VesselID: "IMO9400000", VesselName: "Ever Calm", Route: "Asia-Europe via Suez",
				Waypoints: []Position{
					{Latitude: 30.45, Longitude: 32.35},
					{Latitude: 12.58, Longitude: 43.33},
				},
				Position:   Position{Latitude: 30.40, Longitude: 32.30},
				ObservedAt: at,
			},
		},
	}

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return Snapshot{}, nil, err
	}
	return snapshot, raw, nil
}
