package commodity

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
	series []PriceTimeSeries
	raw    []byte
	err    error
	calls  int
}

func (c *stubClient) ListSeries(context.Context, int) ([]PriceTimeSeries, []byte, error) {
	c.calls++
	return c.series, c.raw, c.err
}

func TestAdapter_FetchEvents_EmitsOnlySpikes(t *testing.T) {
	client := &stubClient{
		series: []PriceTimeSeries{
			withFinal(flatSeries("BRENT", 80, 30), 92),
			flatSeries("WTI", 76, 30),
			flatSeries("SHORT", 80, 4),
		},
		raw: []byte(`feed-body`),
	}
	a := NewAdapter("commodity", domain.SourceReal, client, DefaultSpikeConfig(), zerolog.Nop())

	events, err := a.FetchEvents(context.Background(), 10, nil)
	require.NoError(t, err)
	require.Len(t, events, 1, "quiet and too-short series emit nothing")

	ev := events[0]
	assert.Contains(t, ev.EventID, "commodity-BRENT-up-")
	assert.Equal(t, 0.75, ev.Probability, "moderate severity probability")
	assert.False(t, ev.ProbabilityIsFallback)
	assert.Equal(t, "commodity", ev.Market.Source)
	assert.Equal(t, "BRENT", ev.Market.MarketID)
	assert.Contains(t, ev.Keywords, "brent")
	assert.Contains(t, ev.Keywords, "price spike")
	assert.Contains(t, ev.Keywords, "moderate")
	assert.IsIncreasing(t, ev.Keywords)
	assert.InDelta(t, 15.0, ev.SourceMetrics["pct_change"], 0.01)
	assert.LessOrEqual(t, ev.SourceMetrics["zscore"], 10.0)
	assert.NotEmpty(t, ev.InputEventHash)
	assert.Equal(t, domain.HashHex(client.raw), a.LastResponseHash())
}

func TestAdapter_ReplaySemantics(t *testing.T) {
	client := &stubClient{
		series: []PriceTimeSeries{withFinal(flatSeries("BRENT", 80, 30), 92)},
		raw:    []byte(`one`),
	}
	a := NewAdapter("commodity", domain.SourceReal, client, DefaultSpikeConfig(), zerolog.Nop())

	asOf := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	first, err := a.FetchEvents(context.Background(), 10, &asOf)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := a.FetchEvents(context.Background(), 10, &asOf)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, client.calls, "same as-of must replay the cached batch")
}

func TestAdapter_UpstreamFailure(t *testing.T) {
	client := &stubClient{err: errors.New("price feed down")}
	a := NewAdapter("commodity", domain.SourceReal, client, DefaultSpikeConfig(), zerolog.Nop())

	_, err := a.FetchEvents(context.Background(), 10, nil)
	var unavailable *domain.SourceUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "commodity", unavailable.Source)
}

func TestScenarioClient_Deterministic(t *testing.T) {
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	s1, raw1, err := NewScenarioClient(42, base).ListSeries(context.Background(), 0)
	require.NoError(t, err)
	s2, raw2, err := NewScenarioClient(42, base).ListSeries(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
	assert.Equal(t, raw1, raw2)

	s3, _, err := NewScenarioClient(43, base).ListSeries(context.Background(), 0)
	require.NoError(t, err)
	assert.NotEqual(t, s1, s3)
}

func TestScenarioClient_SpikeAndQuietPaths(t *testing.T) {
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	a := NewAdapter("commodity-scenario", domain.SourceMock, NewScenarioClient(7, base), DefaultSpikeConfig(), zerolog.Nop())

	events, err := a.FetchEvents(context.Background(), 0, nil)
	require.NoError(t, err)
	require.Len(t, events, 2, "only the jump series spike")

	bySymbol := map[string]domain.RawSignalEvent{}
	for _, ev := range events {
		bySymbol[ev.Market.MarketID] = ev
	}

	brent, ok := bySymbol["BRENT"]
	require.True(t, ok)
	assert.Contains(t, brent.Keywords, "up")
	assert.Contains(t, brent.Keywords, "moderate")

	ttf, ok := bySymbol["TTF"]
	require.True(t, ok)
	assert.Contains(t, ttf.Keywords, "down")
	assert.Contains(t, ttf.Keywords, "major")
}
