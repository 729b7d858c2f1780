package ais

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/registry"
	"github.com/omenworks/omen/internal/sources"
)

// Snapshot is one AIS poll: port readings, chokepoint transit readings
// and vessel tracks, all taken at the same time.
type Snapshot struct {
	Ports    []PortObservation   `json:"ports"`
	Transits []ChokepointTransit `json:"transits"`
	Tracks   []VesselTrack       `json:"tracks"`
}

// Client fetches an AIS snapshot, returning the raw response body for
// attestation.
type Client interface {
	FetchSnapshot(ctx context.Context, limit int) (Snapshot, []byte, error)
}

// Detection strength per anomaly class. Observed facts, not market odds.
var (
	congestionProbability = map[string]float64{
		CongestionLow:      0.60,
		CongestionMedium:   0.70,
		CongestionHigh:     0.80,
		CongestionCritical: 0.90,
	}
	transitProbability = map[string]float64{
		TransitDelay:    0.70,
		TransitBlockage: 0.90,
	}
	deviationProbability = map[string]float64{
		DeviationMinor:   0.60,
		DeviationReroute: 0.80,
	}
)

// Adapter runs the disruption detectors over each fetched snapshot and
// emits one raw signal event per anomaly. Quiet readings produce nothing.
type Adapter struct {
	name       string
	sourceType domain.SourceType
	client     Client
	detector   *Detector
	replay     *sources.ReplayCache
	clock      func() time.Time
	logger     zerolog.Logger

	mu           sync.Mutex
	lastRespHash string
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithClock injects the time source, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(a *Adapter) { a.clock = clock }
}

// NewAdapter builds an AIS adapter with the given disruption thresholds.
func NewAdapter(name string, sourceType domain.SourceType, client Client, cfg DetectorConfig, logger zerolog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		name:       name,
		sourceType: sourceType,
		client:     client,
		detector:   NewDetector(cfg),
		replay:     sources.NewReplayCache(),
		clock:      time.Now,
		logger:     logger.With().Str("source", name).Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements sources.Source.
func (a *Adapter) Name() string { return a.name }

// Type implements sources.Source.
func (a *Adapter) Type() domain.SourceType { return a.sourceType }

// LastResponseHash implements sources.Attester.
func (a *Adapter) LastResponseHash() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastRespHash
}

// FetchEvents implements sources.Source. Readings that fail to map are
// skipped, never fatal.
func (a *Adapter) FetchEvents(ctx context.Context, limit int, asOf *time.Time) ([]domain.RawSignalEvent, error) {
	if asOf != nil {
		if batch, ok := a.replay.Get(*asOf); ok {
			return batch, nil
		}
	}

	snapshot, raw, err := a.client.FetchSnapshot(ctx, limit)
	if err != nil {
		return nil, &domain.SourceUnavailableError{Source: a.name, Err: err}
	}

	a.mu.Lock()
	a.lastRespHash = domain.HashHex(raw)
	a.mu.Unlock()

	var events []domain.RawSignalEvent
	for _, obs := range snapshot.Ports {
		result, ok := a.detector.DetectCongestion(obs)
		if !ok {
			continue
		}
		ev, err := a.congestionEvent(obs, result)
		if err != nil {
			a.logger.Warn().Err(err).Str("port", obs.Port).Msg("skipping port reading")
			continue
		}
		events = append(events, ev)
	}
	for _, t := range snapshot.Transits {
		result, ok := a.detector.DetectTransit(t)
		if !ok {
			continue
		}
		ev, err := a.transitEvent(t, result)
		if err != nil {
			a.logger.Warn().Err(err).Str("chokepoint", t.Chokepoint).Msg("skipping transit reading")
			continue
		}
		events = append(events, ev)
	}
	for _, track := range snapshot.Tracks {
		result, ok := a.detector.DetectDeviation(track)
		if !ok {
			continue
		}
		ev, err := a.deviationEvent(track, result)
		if err != nil {
			a.logger.Warn().Err(err).Str("vessel", track.VesselID).Msg("skipping vessel track")
			continue
		}
		events = append(events, ev)
	}

	if asOf != nil {
		a.replay.Put(*asOf, events)
	}
	return events, nil
}

func (a *Adapter) congestionEvent(obs PortObservation, result CongestionResult) (domain.RawSignalEvent, error) {
	raw, err := json.Marshal(obs)
	if err != nil {
		return domain.RawSignalEvent{}, fmt.Errorf("port %s: %w", obs.Port, err)
	}

	keywords := []string{"ais", "port congestion", "shipping", slug(obs.Port), result.Severity}
	sort.Strings(keywords)

	return domain.NewRawSignalEvent(domain.RawSignalEvent{
		EventID:     result.EventID,
		Title:       fmt.Sprintf("Port congestion at %s: %d vessels waiting (%.1fx normal)", obs.Port, obs.WaitingVessels, result.Ratio),
		Description: fmt.Sprintf("%s, %s reports %d vessels at anchor against a normal level of %.0f, classified %s congestion", obs.Port, obs.Country, obs.WaitingVessels, obs.NormalWaiting, result.Severity),
		Probability: congestionProbability[result.Severity],
		Keywords:    keywords,
		InferredLocations: []domain.Location{{
			Latitude:  obs.Position.Latitude,
			Longitude: obs.Position.Longitude,
			Name:      obs.Port,
			Region:    obs.Country,
		}},
		Market: domain.MarketMetadata{
			Source:   a.name,
			MarketID: "port-" + slug(obs.Port),
		},
		ObservedAt: obs.ObservedAt,
		SourceMetrics: map[string]float64{
			"waiting_vessels":  float64(obs.WaitingVessels),
			"normal_waiting":   obs.NormalWaiting,
			"congestion_ratio": result.Ratio,
		},
		RawPayload: raw,
	})
}

func (a *Adapter) transitEvent(t ChokepointTransit, result TransitResult) (domain.RawSignalEvent, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return domain.RawSignalEvent{}, fmt.Errorf("chokepoint %s: %w", t.Chokepoint, err)
	}

	keywords := []string{"ais", "shipping", "transit " + result.Kind, slug(t.Chokepoint)}
	var locations []domain.Location
	if cp, ok := registry.ChokepointByAlias(t.Chokepoint); ok {
		keywords = append(keywords, cp.Keywords...)
		locations = append(locations, domain.Location{
			Latitude:  cp.Latitude,
			Longitude: cp.Longitude,
			Name:      cp.Name,
			Region:    cp.Region,
		})
	}
	sort.Strings(keywords)

	title := fmt.Sprintf("Transit delay at %s: %.1fx normal crossing time", t.Chokepoint, result.Ratio)
	if result.Kind == TransitBlockage {
		title = fmt.Sprintf("Suspected blockage at %s: %.1fx crossing time, %d vessels queued", t.Chokepoint, result.Ratio, t.QueueLength)
	}

	return domain.NewRawSignalEvent(domain.RawSignalEvent{
		EventID:           result.EventID,
		Title:             title,
		Description:       fmt.Sprintf("Crossing %s currently takes %.1f hours against a normal %.1f, with %d vessels holding", t.Chokepoint, t.TransitHours, t.NormalHours, t.QueueLength),
		Probability:       transitProbability[result.Kind],
		Keywords:          keywords,
		InferredLocations: locations,
		Market: domain.MarketMetadata{
			Source:   a.name,
			MarketID: "chokepoint-" + slug(t.Chokepoint),
		},
		ObservedAt: t.ObservedAt,
		SourceMetrics: map[string]float64{
			"transit_hours": t.TransitHours,
			"normal_hours":  t.NormalHours,
			"queue_length":  float64(t.QueueLength),
			"delay_ratio":   result.Ratio,
		},
		RawPayload: raw,
	})
}

func (a *Adapter) deviationEvent(track VesselTrack, result DeviationResult) (domain.RawSignalEvent, error) {
	raw, err := json.Marshal(track)
	if err != nil {
		return domain.RawSignalEvent{}, fmt.Errorf("vessel %s: %w", track.VesselID, err)
	}

	keywords := []string{"ais", "shipping", "route deviation", slug(track.Route)}
	if result.Kind == DeviationReroute {
		keywords = append(keywords, "reroute")
	}
	sort.Strings(keywords)

	title := fmt.Sprintf("Vessel %s off route: %.0f km from %s corridor", track.VesselName, result.DistanceKM, track.Route)
	if result.Kind == DeviationReroute {
		title = fmt.Sprintf("Vessel %s rerouting: %.0f km from %s corridor", track.VesselName, result.DistanceKM, track.Route)
	}

	return domain.NewRawSignalEvent(domain.RawSignalEvent{
		EventID:     result.EventID,
		Title:       title,
		Description: fmt.Sprintf("%s (%s) tracked %.0f km from the nearest waypoint of its declared %s route", track.VesselName, track.VesselID, result.DistanceKM, track.Route),
		Probability: deviationProbability[result.Kind],
		Keywords:    keywords,
		InferredLocations: []domain.Location{{
			Latitude:  track.Position.Latitude,
			Longitude: track.Position.Longitude,
			Name:      track.VesselName,
		}},
		Market: domain.MarketMetadata{
			Source:   a.name,
			MarketID: "vessel-" + slug(track.VesselID),
		},
		ObservedAt: track.ObservedAt,
		SourceMetrics: map[string]float64{
			"deviation_km": result.DistanceKM,
			"waypoints":    float64(len(track.Waypoints)),
		},
		RawPayload: raw,
	})
}
