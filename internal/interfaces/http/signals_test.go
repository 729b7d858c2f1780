package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omenworks/omen/internal/attest"
	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/pipeline"
)

type batchResultProbe struct {
	Success         bool                   `json:"success"`
	Cached          bool                   `json:"cached"`
	Validated       bool                   `json:"validated"`
	Dropped         bool                   `json:"dropped"`
	RejectionReason string                 `json:"rejection_reason"`
	RejectedRule    string                 `json:"rejected_rule"`
	Signal          map[string]interface{} `json:"signal"`
}

type batchProbe struct {
	Mode      string              `json:"mode"`
	Requested string              `json:"requested_mode"`
	Reasons   []string            `json:"downgrade_reasons"`
	Stats     pipeline.BatchStats `json:"stats"`
	Results   []batchResultProbe  `json:"results"`
}

// liveEnv builds an environment whose gate allows live mode: master
// switch on, one healthy REAL source covering the ratio floor.
func liveEnv(t *testing.T, srcs ...*testSource) *testEnv {
	return newTestEnv(t, attest.GateConfig{
		AllowLiveMode:      true,
		MinRealSourceRatio: 0.80,
	}, srcs...)
}

func polymarketSource(events ...domain.RawSignalEvent) *testSource {
	return &testSource{
		name:     "polymarket",
		typ:      domain.SourceReal,
		healthy:  true,
		respHash: "a3c2" + strings.Repeat("0", 60),
		events:   events,
	}
}

func TestBatch_DemoEndToEnd(t *testing.T) {
	env := blockedEnv(t)

	resp, body := env.post(t, "/signals/batch", batchRequest{
		Events: []domain.RawSignalEvent{shippingEvent(t, "evt-demo-1")},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)
	assert.Equal(t, "DEMO", resp.Header.Get(ModeHeader))

	var out batchProbe
	decodeJSON(t, body, &out)
	assert.Equal(t, "DEMO", out.Mode)
	assert.Equal(t, "DEMO", out.Requested)
	assert.Equal(t, 1, out.Stats.SignalsGenerated)
	require.Len(t, out.Results, 1)

	res := out.Results[0]
	require.True(t, res.Success)
	assert.True(t, res.Validated)
	assert.False(t, res.Cached)
	require.NotNil(t, res.Signal)
	assert.Regexp(t, `^OMEN-[0-9A-F]{12}$`, res.Signal["signal_id"])

	// Batch responses carry the standard detail level: no explanation
	// chain on the wire.
	_, hasExplanation := res.Signal["explanation_chain"]
	assert.False(t, hasExplanation)
}

func TestBatch_ResubmitReturnsCachedSignal(t *testing.T) {
	env := blockedEnv(t)
	payload := batchRequest{Events: []domain.RawSignalEvent{shippingEvent(t, "evt-idem-1")}}

	_, body := env.post(t, "/signals/batch", payload)
	var first batchProbe
	decodeJSON(t, body, &first)
	require.Len(t, first.Results, 1)
	firstID := first.Results[0].Signal["signal_id"]

	_, body = env.post(t, "/signals/batch", payload)
	var second batchProbe
	decodeJSON(t, body, &second)
	require.Len(t, second.Results, 1)
	assert.True(t, second.Results[0].Cached)
	assert.Equal(t, firstID, second.Results[0].Signal["signal_id"])
	assert.Equal(t, 1, second.Stats.EventsDeduplicated)

	n, err := env.repo.Count(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "resubmission must not store a second row")
}

func TestBatch_RejectionIsHandledNotFailed(t *testing.T) {
	env := blockedEnv(t)

	resp, body := env.post(t, "/signals/batch", batchRequest{
		Events: []domain.RawSignalEvent{thinMarketEvent(t, "evt-thin-1")},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out batchProbe
	decodeJSON(t, body, &out)
	require.Len(t, out.Results, 1)
	res := out.Results[0]
	assert.True(t, res.Success, "a rejection is a handled outcome")
	assert.False(t, res.Validated)
	assert.Equal(t, "liquidity_validation", res.RejectedRule)
	assert.NotEmpty(t, res.RejectionReason)
	assert.Equal(t, 1, out.Stats.EventsRejected)
	assert.Zero(t, out.Stats.SignalsGenerated)
}

func TestBatch_BadRequests(t *testing.T) {
	env := blockedEnv(t)

	resp, body := env.post(t, "/signals/batch", map[string]string{"events": "nope"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var errResp ErrorResponse
	decodeJSON(t, body, &errResp)
	assert.Equal(t, "invalid_body", errResp.Code)
	assert.NotEmpty(t, errResp.RequestID)

	resp, body = env.post(t, "/signals/batch", batchRequest{})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	decodeJSON(t, body, &errResp)
	assert.Equal(t, "empty_batch", errResp.Code)

	resp, body = env.post(t, "/signals/batch", batchRequest{
		Events: []domain.RawSignalEvent{{EventID: "evt-no-title", Probability: 0.5}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	decodeJSON(t, body, &errResp)
	assert.Equal(t, "invalid_event", errResp.Code)
}

func TestBatch_LiveModeEmitsLiveSignals(t *testing.T) {
	env := liveEnv(t, polymarketSource())

	resp, body := env.post(t, "/signals/batch?mode=live", batchRequest{
		Events: []domain.RawSignalEvent{shippingEvent(t, "evt-live-1")},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)
	assert.Equal(t, "LIVE", resp.Header.Get(ModeHeader))

	var out batchProbe
	decodeJSON(t, body, &out)
	assert.Equal(t, "LIVE", out.Mode)
	assert.Equal(t, "LIVE", out.Requested)
	assert.Empty(t, out.Reasons)
	require.Len(t, out.Results, 1)
	assert.Regexp(t, `^OMEN-LIVE[0-9A-F]{8}$`, out.Results[0].Signal["signal_id"])
}

func TestRefresh_MasterSwitchOffRunsDemo(t *testing.T) {
	env := blockedEnv(t, polymarketSource(shippingEvent(t, "evt-refresh-1")))

	resp, body := env.post(t, "/signals/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)
	assert.Equal(t, "DEMO", resp.Header.Get(ModeHeader))
	assert.Contains(t, resp.Header.Get(ModeReasonsHeader), attest.ReasonMasterSwitchOff)

	var out refreshResponse
	decodeJSON(t, body, &out)
	assert.Equal(t, attest.ModeDemo, out.Mode)
	assert.Equal(t, attest.ModeLive, out.Requested)
	assert.Contains(t, out.Reasons, attest.ReasonMasterSwitchOff)
	require.Len(t, out.Sources, 1)
	assert.Equal(t, "polymarket", out.Sources[0].Source)
	assert.Equal(t, 1, out.Sources[0].Fetched)
	require.NotNil(t, out.Sources[0].Stats)
	assert.Equal(t, 1, out.Sources[0].Stats.SignalsGenerated)

	// Everything generated under the downgrade is demo-prefixed.
	signals, err := env.repo.FindRecent(context.Background(), 10, 0, nil)
	require.NoError(t, err)
	require.NotEmpty(t, signals)
	for _, s := range signals {
		assert.False(t, s.IsLive(), "signal %s must not carry the live prefix", s.SignalID)
	}
}

func TestRefresh_LiveAllowedEmitsLivePrefix(t *testing.T) {
	env := liveEnv(t, polymarketSource(shippingEvent(t, "evt-refresh-live-1")))

	resp, body := env.post(t, "/signals/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)
	assert.Equal(t, "LIVE", resp.Header.Get(ModeHeader))
	assert.Empty(t, resp.Header.Get(ModeReasonsHeader))

	var out refreshResponse
	decodeJSON(t, body, &out)
	assert.Equal(t, attest.ModeLive, out.Mode)

	signals, err := env.repo.FindRecent(context.Background(), 10, 0, nil)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.True(t, signals[0].IsLive())
	assert.Regexp(t, `^OMEN-LIVE[0-9A-F]{8}$`, signals[0].SignalID)
}

func TestRefresh_ModeFilterSplitsLiveAndDemo(t *testing.T) {
	env := liveEnv(t, polymarketSource(shippingEvent(t, "evt-mixed-live")))

	// One live signal via refresh, one demo signal via batch.
	env.post(t, "/signals/refresh", nil)
	env.post(t, "/signals/batch", batchRequest{
		Events: []domain.RawSignalEvent{shippingEvent(t, "evt-mixed-demo")},
	})

	_, body := env.get(t, "/signals?mode=live")
	var liveList listResponse
	decodeJSON(t, body, &liveList)
	assert.Equal(t, 1, liveList.Count)

	_, body = env.get(t, "/signals?mode=demo")
	var demoList listResponse
	decodeJSON(t, body, &demoList)
	assert.Equal(t, 1, demoList.Count)
	assert.Equal(t, 2, demoList.Total)

	_, body = env.get(t, "/signals?mode=all")
	var allList listResponse
	decodeJSON(t, body, &allList)
	assert.Equal(t, 2, allList.Count)
}

func TestRefresh_SourceFailureIsReportedPerSource(t *testing.T) {
	broken := &testSource{
		name:    "gdelt",
		typ:     domain.SourceReal,
		healthy: true,
		err:     errors.New("upstream 502"),
	}
	env := blockedEnv(t, polymarketSource(shippingEvent(t, "evt-ok-1")), broken)

	resp, body := env.post(t, "/signals/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out refreshResponse
	decodeJSON(t, body, &out)
	require.Len(t, out.Sources, 2)

	bySource := map[string]refreshOutcome{}
	for _, o := range out.Sources {
		bySource[o.Source] = o
	}
	assert.Equal(t, 1, bySource["polymarket"].Fetched)
	assert.Empty(t, bySource["polymarket"].Error)
	assert.Contains(t, bySource["gdelt"].Error, "upstream 502")
}

func TestRefresh_SourceSelection(t *testing.T) {
	env := blockedEnv(t, polymarketSource(shippingEvent(t, "evt-sel-1")))

	resp, body := env.post(t, "/signals/refresh?source=polymarket", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out refreshResponse
	decodeJSON(t, body, &out)
	require.Len(t, out.Sources, 1)

	resp, body = env.post(t, "/signals/refresh?source=missing", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var errResp ErrorResponse
	decodeJSON(t, body, &errResp)
	assert.Equal(t, "unknown_source", errResp.Code)
}

func TestRefresh_WithoutSourcesIsUnavailable(t *testing.T) {
	env := blockedEnv(t)

	resp, body := env.post(t, "/signals/refresh", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var errResp ErrorResponse
	decodeJSON(t, body, &errResp)
	assert.Equal(t, "no_sources", errResp.Code)
}

func TestListSignals_Pagination(t *testing.T) {
	env := blockedEnv(t)
	for i := 1; i <= 3; i++ {
		env.post(t, "/signals/batch", batchRequest{
			Events: []domain.RawSignalEvent{shippingEvent(t, fmt.Sprintf("evt-page-%d", i))},
		})
	}

	_, body := env.get(t, "/signals?limit=2")
	var page listResponse
	decodeJSON(t, body, &page)
	assert.Equal(t, 2, page.Count)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.Limit)

	_, body = env.get(t, "/signals?limit=2&offset=2")
	decodeJSON(t, body, &page)
	assert.Equal(t, 1, page.Count)
	assert.Equal(t, 2, page.Offset)
}

func TestListSignals_BadParameters(t *testing.T) {
	env := blockedEnv(t)

	resp, body := env.get(t, "/signals?since=yesterday")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var errResp ErrorResponse
	decodeJSON(t, body, &errResp)
	assert.Equal(t, "invalid_since", errResp.Code)

	resp, body = env.get(t, "/signals?detail_level=verbose")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	decodeJSON(t, body, &errResp)
	assert.Equal(t, "invalid_detail_level", errResp.Code)

	resp, body = env.get(t, "/signals?mode=hybrid")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	decodeJSON(t, body, &errResp)
	assert.Equal(t, "invalid_mode", errResp.Code)
}

func TestGetSignal_DetailLevels(t *testing.T) {
	env := blockedEnv(t, &testSource{name: "polymarket", typ: domain.SourceMock, healthy: true})

	_, body := env.post(t, "/signals/batch", batchRequest{
		Events: []domain.RawSignalEvent{shippingEvent(t, "evt-detail-1")},
	})
	var out batchProbe
	decodeJSON(t, body, &out)
	require.Len(t, out.Results, 1)
	id := out.Results[0].Signal["signal_id"].(string)

	var probe struct {
		Signal      map[string]interface{}    `json:"signal"`
		Attestation *domain.SignalAttestation `json:"attestation"`
		Live        bool                      `json:"live"`
		DetailLevel DetailLevel               `json:"detail_level"`
	}

	_, body = env.get(t, "/signals/"+id+"?detail_level=minimal")
	decodeJSON(t, body, &probe)
	assert.Equal(t, DetailMinimal, probe.DetailLevel)
	assert.Equal(t, id, probe.Signal["signal_id"])
	assert.NotEmpty(t, probe.Signal["title"])
	_, hasTrace := probe.Signal["trace_id"]
	assert.False(t, hasTrace, "minimal view must not expose pipeline internals")

	_, body = env.get(t, "/signals/"+id)
	decodeJSON(t, body, &probe)
	assert.Equal(t, DetailStandard, probe.DetailLevel)
	assert.NotEmpty(t, probe.Signal["trace_id"])
	_, hasExplanation := probe.Signal["explanation_chain"]
	assert.False(t, hasExplanation)
	assert.Nil(t, probe.Attestation)

	_, body = env.get(t, "/signals/"+id+"?detail_level=full")
	decodeJSON(t, body, &probe)
	assert.Equal(t, DetailFull, probe.DetailLevel)
	assert.NotEmpty(t, probe.Signal["explanation_chain"])
	require.NotNil(t, probe.Attestation, "full view includes the provenance attestation")
	assert.Equal(t, id, probe.Attestation.SignalID)
	assert.Equal(t, domain.SourceMock, probe.Attestation.SourceType)
	assert.False(t, probe.Live)

	resp, _ := env.get(t, "/signals/"+id+"?detail_level=everything")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestGetSignal_NotFound(t *testing.T) {
	env := blockedEnv(t)

	resp, body := env.get(t, "/signals/OMEN-DOESNOTEXIST")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var errResp ErrorResponse
	decodeJSON(t, body, &errResp)
	assert.Equal(t, "signal_not_found", errResp.Code)
	assert.Equal(t, http.StatusText(http.StatusNotFound), errResp.Error)
	assert.NotEmpty(t, errResp.RequestID)
}
