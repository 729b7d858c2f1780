package ais

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omenworks/omen/internal/domain"
)

type stubClient struct {
	snapshot Snapshot
	raw      []byte
	err      error
	calls    int
}

func (c *stubClient) FetchSnapshot(context.Context, int) (Snapshot, []byte, error) {
	c.calls++
	return c.snapshot, c.raw, c.err
}

func TestAdapter_FetchEvents_EmitsOnlyAnomalies(t *testing.T) {
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	client := &stubClient{
		snapshot: Snapshot{
			Ports: []PortObservation{
				{Port: "Rotterdam", Country: "Netherlands", Position: Position{Latitude: 51.95, Longitude: 4.14}, WaitingVessels: 64, NormalWaiting: 20, ObservedAt: at},
				{Port: "Singapore", Country: "Singapore", WaitingVessels: 22, NormalWaiting: 25, ObservedAt: at},
			},
			Transits: []ChokepointTransit{
				{Chokepoint: "Suez Canal", TransitHours: 48, NormalHours: 14, QueueLength: 156, ObservedAt: at},
				{Chokepoint: "Panama Canal", TransitHours: 11, NormalHours: 10, QueueLength: 12, ObservedAt: at},
			},
		},
		raw: []byte(`ais-feed-body`),
	}
	a := NewAdapter("ais", domain.SourceReal, client, DefaultDetectorConfig(), zerolog.Nop())

	events, err := a.FetchEvents(context.Background(), 10, nil)
	require.NoError(t, err)
	require.Len(t, events, 2, "quiet readings emit nothing")

	byMarket := map[string]domain.RawSignalEvent{}
	for _, ev := range events {
		byMarket[ev.Market.MarketID] = ev
	}

	congestion, ok := byMarket["port-rotterdam"]
	require.True(t, ok)
	assert.Contains(t, congestion.EventID, "ais-congestion-rotterdam-")
	assert.Equal(t, 0.90, congestion.Probability, "critical congestion probability")
	assert.Contains(t, congestion.Keywords, "port congestion")
	assert.Contains(t, congestion.Keywords, "critical")
	assert.IsIncreasing(t, congestion.Keywords)
	assert.InDelta(t, 3.2, congestion.SourceMetrics["congestion_ratio"], 0.01)
	require.Len(t, congestion.InferredLocations, 1)
	assert.Equal(t, "Rotterdam", congestion.InferredLocations[0].Name)

	blockage, ok := byMarket["chokepoint-suez-canal"]
	require.True(t, ok)
	assert.Contains(t, blockage.EventID, "ais-blockage-suez-canal-")
	assert.Equal(t, 0.90, blockage.Probability)
	assert.Contains(t, blockage.Title, "blockage")
	assert.Contains(t, blockage.Keywords, "suez")
	require.Len(t, blockage.InferredLocations, 1)
	assert.Equal(t, "Suez Canal", blockage.InferredLocations[0].Name)
	assert.Equal(t, "Middle East", blockage.InferredLocations[0].Region)

	assert.Equal(t, domain.HashHex(client.raw), a.LastResponseHash())
}

func TestAdapter_ReplaySemantics(t *testing.T) {
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	client := &stubClient{
		snapshot: Snapshot{
			Ports: []PortObservation{{Port: "Rotterdam", WaitingVessels: 64, NormalWaiting: 20, ObservedAt: at}},
		},
		raw: []byte(`one`),
	}
	a := NewAdapter("ais", domain.SourceReal, client, DefaultDetectorConfig(), zerolog.Nop())

	asOf := time.Date(2026, 3, 14, 13, 0, 0, 0, time.UTC)
	first, err := a.FetchEvents(context.Background(), 10, &asOf)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := a.FetchEvents(context.Background(), 10, &asOf)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, client.calls, "same as-of must replay the cached batch")
}

func TestAdapter_UpstreamFailure(t *testing.T) {
	client := &stubClient{err: errors.New("ais feed down")}
	a := NewAdapter("ais", domain.SourceReal, client, DefaultDetectorConfig(), zerolog.Nop())

	_, err := a.FetchEvents(context.Background(), 10, nil)
	var unavailable *domain.SourceUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "ais", unavailable.Source)
}

func TestScenarioClient_CoversEveryDetector(t *testing.T) {
	base := time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC)
	a := NewAdapter("ais-scenario", domain.SourceMock, NewScenarioClient(base), DefaultDetectorConfig(), zerolog.Nop())

	events, err := a.FetchEvents(context.Background(), 0, nil)
	require.NoError(t, err)
	require.Len(t, events, 3, "one congestion, one blockage, one reroute")

	kinds := map[string]bool{}
	for _, ev := range events {
		switch {
		case ev.Market.MarketID == "port-rotterdam":
			kinds["congestion"] = true
		case ev.Market.MarketID == "chokepoint-suez-canal":
			kinds["blockage"] = true
			assert.Contains(t, ev.Title, "blockage")
		case ev.Market.MarketID == "vessel-imo9811000":
			kinds["reroute"] = true
			assert.Contains(t, ev.Keywords, "reroute")
		}
		assert.NotEmpty(t, ev.InputEventHash)
	}
	assert.Len(t, kinds, 3)

	again, err := NewAdapter("ais-scenario", domain.SourceMock, NewScenarioClient(base), DefaultDetectorConfig(), zerolog.Nop()).
		FetchEvents(context.Background(), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, events, again, "same base time reproduces the batch")
}
