package http

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omenworks/omen/internal/activity"
	"github.com/omenworks/omen/internal/attest"
	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/metrics"
)

type healthProbe struct {
	Status        string                          `json:"status"`
	UptimeSeconds float64                         `json:"uptime_seconds"`
	Store         string                          `json:"store"`
	LiveGate      attest.GateDecision             `json:"live_gate"`
	Sources       *attest.RegistrySnapshot        `json:"sources"`
	SourceHealth  map[string]metrics.SourceHealth `json:"source_health"`
	Stream        *streamHealth                   `json:"stream"`
	DLQ           dlqHealth                       `json:"dlq"`
}

func TestHealth_BlockedGateStillHealthy(t *testing.T) {
	env := blockedEnv(t, polymarketSource())

	resp, body := env.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out healthProbe
	decodeJSON(t, body, &out)
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, "ok", out.Store)
	assert.Equal(t, attest.GateBlocked, out.LiveGate.Status)
	assert.Contains(t, out.LiveGate.Reasons, attest.ReasonMasterSwitchOff)
	require.NotNil(t, out.Sources)
	assert.Equal(t, 1, out.Sources.Total)
	assert.Equal(t, 1, out.Sources.Real)
	require.NotNil(t, out.Stream)
	assert.GreaterOrEqual(t, out.UptimeSeconds, 0.0)
}

func TestHealth_AllowedGateReportsRatio(t *testing.T) {
	env := liveEnv(t, polymarketSource())

	_, body := env.get(t, "/health")
	var out healthProbe
	decodeJSON(t, body, &out)
	assert.Equal(t, attest.GateAllowed, out.LiveGate.Status)
	assert.InDelta(t, 1.0, out.LiveGate.RealSourceRatio, 1e-9)
}

func TestHealth_UnhealthySourceDegrades(t *testing.T) {
	down := &testSource{name: "gdelt", typ: domain.SourceReal, healthy: false}
	env := blockedEnv(t, down)

	_, body := env.get(t, "/health")
	var out healthProbe
	decodeJSON(t, body, &out)
	assert.Equal(t, "degraded", out.Status)
}

func TestStats_AggregatesPipelineActivity(t *testing.T) {
	env := blockedEnv(t, &testSource{name: "polymarket", typ: domain.SourceMock, healthy: true})

	env.post(t, "/signals/batch", batchRequest{
		Events: []domain.RawSignalEvent{
			shippingEvent(t, "evt-stats-ok"),
			thinMarketEvent(t, "evt-stats-thin"),
		},
	})

	resp, body := env.get(t, "/signals/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out statsResponse
	decodeJSON(t, body, &out)
	assert.Equal(t, 1, out.SignalsTotal)
	assert.Equal(t, 1, out.SignalsLast24h)
	require.NotNil(t, out.Pipeline)
	assert.Equal(t, 1, out.Pipeline.Batches)
	assert.Equal(t, 2, out.Pipeline.EventsReceived)
	assert.Equal(t, 1, out.Pipeline.EventsRejected)
	require.NotNil(t, out.Rejections)
	assert.Equal(t, 1, out.Rejections.Rates.Passed)
	assert.Equal(t, 1, out.Rejections.Rates.Rejected)
	assert.Equal(t, 1, out.Attestations)
	assert.Zero(t, out.DLQ.Size)
}

func TestActivity_FeedShowsSignalsAndRejections(t *testing.T) {
	env := blockedEnv(t)

	env.post(t, "/signals/batch", batchRequest{
		Events: []domain.RawSignalEvent{
			shippingEvent(t, "evt-act-ok"),
			thinMarketEvent(t, "evt-act-thin"),
		},
	})

	resp, body := env.get(t, "/activity")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Count   int              `json:"count"`
		Entries []activity.Entry `json:"entries"`
	}
	decodeJSON(t, body, &out)
	require.GreaterOrEqual(t, out.Count, 3, "signal, rejection and batch entries")

	kinds := map[string]bool{}
	for _, e := range out.Entries {
		kinds[e.Kind] = true
	}
	assert.True(t, kinds[activity.KindSignal])
	assert.True(t, kinds[activity.KindValidation])
	assert.True(t, kinds[activity.KindSystem])
}

func TestActivity_LimitCapsEntries(t *testing.T) {
	env := blockedEnv(t)

	env.post(t, "/signals/batch", batchRequest{
		Events: []domain.RawSignalEvent{
			shippingEvent(t, "evt-lim-1"),
			shippingEvent(t, "evt-lim-2"),
		},
	})

	_, body := env.get(t, "/activity?limit=1")
	var out struct {
		Count int `json:"count"`
	}
	decodeJSON(t, body, &out)
	assert.Equal(t, 1, out.Count)
}

func TestRejections_ReportsRuleAndStage(t *testing.T) {
	env := blockedEnv(t)

	env.post(t, "/signals/batch", batchRequest{
		Events: []domain.RawSignalEvent{thinMarketEvent(t, "evt-rej-1")},
	})

	resp, body := env.get(t, "/rejections")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Rates       activity.Rates         `json:"rates"`
		StageCounts map[string]int         `json:"stage_counts"`
		TopReasons  []activity.ReasonCount `json:"top_reasons"`
		Recent      []activity.Rejection   `json:"recent"`
	}
	decodeJSON(t, body, &out)
	assert.Equal(t, 1, out.Rates.Rejected)
	assert.Equal(t, 1, out.StageCounts[activity.StageValidation])
	require.NotEmpty(t, out.Recent)
	assert.Equal(t, "liquidity_validation", out.Recent[0].Rule)
	assert.Equal(t, "evt-rej-1", out.Recent[0].EventID)
	require.NotEmpty(t, out.TopReasons)
}

func TestOpsEndpointsWithoutCollaborators(t *testing.T) {
	// A server with only the core deps degrades the optional endpoints.
	env := newBareEnv(t)

	resp, body := env.get(t, "/activity")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var errResp ErrorResponse
	decodeJSON(t, body, &errResp)
	assert.Equal(t, "activity_unavailable", errResp.Code)

	resp, body = env.get(t, "/rejections")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	decodeJSON(t, body, &errResp)
	assert.Equal(t, "rejections_unavailable", errResp.Code)

	// Health still answers without registry, collector or hub.
	resp, body = env.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out healthProbe
	decodeJSON(t, body, &out)
	assert.Equal(t, "ok", out.Status)
	assert.Nil(t, out.Sources)
	assert.Nil(t, out.Stream)

	// Stats answers with the store totals alone.
	resp, body = env.get(t, "/signals/stats")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var stats statsResponse
	decodeJSON(t, body, &stats)
	assert.Nil(t, stats.Pipeline)
	assert.Nil(t, stats.Rejections)
}
