package news

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
	articles []Article
	raw      []byte
	err      error
	calls    int
}

func (c *stubClient) ListArticles(context.Context, int) ([]Article, []byte, error) {
	c.calls++
	return c.articles, c.raw, c.err
}

func TestAdapter_FetchEvents_GatesAndMaps(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	client := &stubClient{
		articles: []Article{
			{
				Title:        "Houthi attack disrupts Red Sea shipping",
				Description:  "Carriers reroute vessels as war risk surges",
				SourceDomain: "reuters.com",
				URL:          "https://reuters.com/story/1",
				PublishedAt:  fixed.Add(-2 * time.Hour),
			},
			{
				Title:        "Celebrity couple announces surprise wedding",
				SourceDomain: "reuters.com",
				PublishedAt:  fixed.Add(-time.Hour),
			},
		},
		raw: []byte(`[{"title":"..."}]`),
	}
	a := NewAdapter("newsapi", domain.SourceReal, client, DefaultGateConfig(), zerolog.Nop(),
		WithClock(func() time.Time { return fixed }))

	events, err := a.FetchEvents(context.Background(), 10, nil)
	require.NoError(t, err)
	require.Len(t, events, 1, "gossip article must be gated out")

	ev := events[0]
	assert.Equal(t, "news-"+DedupeHash("Houthi attack disrupts Red Sea shipping", "reuters.com"), ev.EventID)
	assert.Equal(t, 0.5, ev.Probability)
	assert.True(t, ev.ProbabilityIsFallback)
	assert.Equal(t, "newsapi", ev.Market.Source)
	assert.Equal(t, fixed.Add(-2*time.Hour), ev.ObservedAt)
	assert.Contains(t, ev.Keywords, "houthi")
	assert.Contains(t, ev.Keywords, "conflict")
	assert.IsIncreasing(t, ev.Keywords)
	assert.Equal(t, 1.0, ev.SourceMetrics["credibility"])
	assert.NotEmpty(t, ev.InputEventHash)
	assert.Equal(t, domain.HashHex(client.raw), a.LastResponseHash())

	rejects := a.LastRejections()
	require.Len(t, rejects, 1)
	assert.Equal(t, ReasonNoTopics, rejects[0].RejectionReason)
}

func TestAdapter_ReplaySemantics(t *testing.T) {
	asOf := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	client := &stubClient{
		articles: []Article{{
			Title:        "Port strike halts shipping",
			SourceDomain: "reuters.com",
			PublishedAt:  asOf.Add(-time.Hour),
		}},
		raw: []byte(`one`),
	}
	a := NewAdapter("newsapi", domain.SourceReal, client, DefaultGateConfig(), zerolog.Nop())

	first, err := a.FetchEvents(context.Background(), 10, &asOf)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, client.calls)

	second, err := a.FetchEvents(context.Background(), 10, &asOf)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, client.calls, "same as-of must replay the cached batch")
}

func TestAdapter_UpstreamFailure(t *testing.T) {
	client := &stubClient{err: errors.New("503 from aggregator")}
	a := NewAdapter("newsapi", domain.SourceReal, client, DefaultGateConfig(), zerolog.Nop())

	_, err := a.FetchEvents(context.Background(), 10, nil)
	var unavailable *domain.SourceUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "newsapi", unavailable.Source)
}

func TestScenarioClient_Deterministic(t *testing.T) {
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	a1, raw1, err := NewScenarioClient(42, base).ListArticles(context.Background(), 0)
	require.NoError(t, err)
	a2, raw2, err := NewScenarioClient(42, base).ListArticles(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
	assert.Equal(t, raw1, raw2)

	a3, _, err := NewScenarioClient(43, base).ListArticles(context.Background(), 0)
	require.NoError(t, err)
	assert.NotEqual(t, a1, a3)

	limited, _, err := NewScenarioClient(42, base).ListArticles(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestScenarioClient_ExercisesRejectionPath(t *testing.T) {
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	client := NewScenarioClient(7, base)
	a := NewAdapter("news-scenario", domain.SourceMock, client, DefaultGateConfig(), zerolog.Nop(),
		WithClock(func() time.Time { return base }))

	events, err := a.FetchEvents(context.Background(), 0, nil)
	require.NoError(t, err)
	assert.Len(t, events, 4, "gossip and unverified-feed entries are gated out")

	reasons := make(map[string]int)
	for _, r := range a.LastRejections() {
		reasons[r.RejectionReason]++
	}
	assert.Equal(t, 1, reasons[ReasonNoTopics])
	assert.Equal(t, 1, reasons[ReasonLowCredibility])
}
