package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/omenworks/omen/internal/attest"
	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/pipeline"
)

// maxBatchBody bounds the ingest payload at 4 MiB.
const maxBatchBody = 4 << 20

type batchRequest struct {
	Source string                  `json:"source,omitempty"`
	Events []domain.RawSignalEvent `json:"events"`
}

type batchResultView struct {
	Success         bool        `json:"success"`
	Cached          bool        `json:"cached"`
	Validated       bool        `json:"validated"`
	Dropped         bool        `json:"dropped"`
	RejectionReason string      `json:"rejection_reason,omitempty"`
	RejectedRule    string      `json:"rejected_rule,omitempty"`
	Error           string      `json:"error,omitempty"`
	Signal          interface{} `json:"signal,omitempty"`
}

type batchResponse struct {
	Mode      attest.Mode         `json:"mode"`
	Requested attest.Mode         `json:"requested_mode"`
	Reasons   []string            `json:"downgrade_reasons,omitempty"`
	Stats     pipeline.BatchStats `json:"stats"`
	Results   []batchResultView   `json:"results"`
}

// Batch ingests a batch of raw events through the pipeline. The mode
// decision made by the gate middleware picks the orchestrator; signals
// in the response carry the standard detail level.
func (h *handlers) Batch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBatchBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusUnprocessableEntity, "invalid_body",
			"Request body must be JSON with an events array: "+err.Error())
		return
	}
	if len(req.Events) == 0 {
		h.writeError(w, r, http.StatusUnprocessableEntity, "empty_batch",
			"The events array must not be empty")
		return
	}

	// Seal every event before processing so downstream hashing and
	// idempotency see normalized input.
	events := make([]domain.RawSignalEvent, 0, len(req.Events))
	for _, raw := range req.Events {
		sealed, err := domain.NewRawSignalEvent(raw)
		if err != nil {
			h.writeError(w, r, http.StatusUnprocessableEntity, "invalid_event", err.Error())
			return
		}
		events = append(events, sealed)
	}

	decision := ModeFromContext(r.Context())
	orch := h.orchestratorFor(decision.Effective)

	var result pipeline.BatchResult
	if req.Source != "" {
		result = orch.ProcessSourceBatch(r.Context(), req.Source, events, nil)
	} else {
		result = orch.ProcessBatch(r.Context(), events, nil)
	}

	views := make([]batchResultView, 0, len(result.Results))
	for _, res := range result.Results {
		view := batchResultView{
			Success:         res.Success,
			Cached:          res.Cached,
			Validated:       res.Validated,
			Dropped:         res.Dropped,
			RejectionReason: res.RejectionReason,
			RejectedRule:    res.RejectedRule,
			Error:           res.Error,
		}
		if res.Signal != nil {
			view.Signal = signalView(*res.Signal, DetailStandard)
		}
		views = append(views, view)
	}

	h.writeJSON(w, http.StatusOK, batchResponse{
		Mode:      decision.Effective,
		Requested: decision.Requested,
		Reasons:   decision.Reasons,
		Stats:     result.Stats,
		Results:   views,
	})
}

type refreshOutcome struct {
	Source  string               `json:"source"`
	Fetched int                  `json:"fetched"`
	Stats   *pipeline.BatchStats `json:"stats,omitempty"`
	Error   string               `json:"error,omitempty"`
}

type refreshResponse struct {
	Mode        attest.Mode      `json:"mode"`
	Requested   attest.Mode      `json:"requested_mode"`
	Reasons     []string         `json:"downgrade_reasons,omitempty"`
	RefreshedAt time.Time        `json:"refreshed_at"`
	Sources     []refreshOutcome `json:"sources"`
}

// Refresh fetches fresh events from the registered sources and runs
// them through the pipeline. A refresh is an implicit live request; the
// gate decides whether it actually runs live, and the response says
// which mode the caller got.
func (h *handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	if len(h.deps.Sources) == 0 {
		h.writeError(w, r, http.StatusServiceUnavailable, "no_sources",
			"No event sources are configured")
		return
	}

	decision := h.deps.Gate.EffectiveMode(r.Context(), attest.ModeLive)
	w.Header().Set(ModeHeader, string(decision.Effective))
	if decision.Downgraded() {
		w.Header().Set(ModeReasonsHeader, strings.Join(decision.Reasons, ","))
	}
	orch := h.orchestratorFor(decision.Effective)

	limit := queryInt(r, "limit", 50, 500)
	filter := r.URL.Query().Get("source")

	outcomes := make([]refreshOutcome, 0, len(h.deps.Sources))
	for _, src := range h.deps.Sources {
		if filter != "" && src.Name() != filter {
			continue
		}

		events, err := src.FetchEvents(r.Context(), limit, nil)
		if err != nil {
			outcomes = append(outcomes, refreshOutcome{Source: src.Name(), Error: err.Error()})
			continue
		}

		result := orch.ProcessSourceBatch(r.Context(), src.Name(), events, nil)
		outcomes = append(outcomes, refreshOutcome{
			Source:  src.Name(),
			Fetched: len(events),
			Stats:   &result.Stats,
		})
	}
	if filter != "" && len(outcomes) == 0 {
		h.writeError(w, r, http.StatusUnprocessableEntity, "unknown_source",
			"No configured source is named "+filter)
		return
	}

	h.writeJSON(w, http.StatusOK, refreshResponse{
		Mode:        decision.Effective,
		Requested:   decision.Requested,
		Reasons:     decision.Reasons,
		RefreshedAt: time.Now().UTC(),
		Sources:     outcomes,
	})
}

type listResponse struct {
	Signals     []interface{} `json:"signals"`
	Count       int           `json:"count"`
	Total       int           `json:"total"`
	Limit       int           `json:"limit"`
	Offset      int           `json:"offset"`
	DetailLevel DetailLevel   `json:"detail_level"`
	ModeFilter  string        `json:"mode_filter,omitempty"`
}

// ListSignals pages through stored signals, newest first. The mode
// parameter filters by signal id prefix; live and demo signals share
// the store and differ only in their ids.
func (h *handlers) ListSignals(w http.ResponseWriter, r *http.Request) {
	level, err := ParseDetailLevel(r.URL.Query().Get("detail_level"))
	if err != nil {
		h.writeError(w, r, http.StatusUnprocessableEntity, "invalid_detail_level", err.Error())
		return
	}
	since, err := queryTime(r, "since")
	if err != nil {
		h.writeError(w, r, http.StatusUnprocessableEntity, "invalid_since",
			"since must be RFC 3339: "+err.Error())
		return
	}

	modeFilter := strings.ToLower(r.URL.Query().Get("mode"))
	switch modeFilter {
	case "all":
		modeFilter = ""
	case "", "live", "demo":
	default:
		h.writeError(w, r, http.StatusUnprocessableEntity, "invalid_mode",
			"mode must be live, demo or all")
		return
	}

	limit := queryInt(r, "limit", 50, 200)
	offset := queryInt(r, "offset", 0, 0)

	signals, err := h.deps.Repo.FindRecent(r.Context(), limit, offset, since)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if modeFilter != "" {
		wantLive := modeFilter == "live"
		kept := make([]domain.OmenSignal, 0, len(signals))
		for _, s := range signals {
			if s.IsLive() == wantLive {
				kept = append(kept, s)
			}
		}
		signals = kept
	}

	total, err := h.deps.Repo.Count(r.Context(), since)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, listResponse{
		Signals:     signalViews(signals, level),
		Count:       len(signals),
		Total:       total,
		Limit:       limit,
		Offset:      offset,
		DetailLevel: level,
		ModeFilter:  modeFilter,
	})
}

type signalResponse struct {
	Signal      interface{}               `json:"signal"`
	Attestation *domain.SignalAttestation `json:"attestation,omitempty"`
	Live        bool                      `json:"live"`
	DetailLevel DetailLevel               `json:"detail_level"`
}

// GetSignal returns one signal by id. The full detail level adds the
// explanation chain and, when an attestation store is wired, the
// signal's provenance attestation.
func (h *handlers) GetSignal(w http.ResponseWriter, r *http.Request) {
	level, err := ParseDetailLevel(r.URL.Query().Get("detail_level"))
	if err != nil {
		h.writeError(w, r, http.StatusUnprocessableEntity, "invalid_detail_level", err.Error())
		return
	}

	signalID := mux.Vars(r)["signal_id"]
	signal, err := h.deps.Repo.FindBySignalID(r.Context(), signalID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	resp := signalResponse{
		Signal:      signalView(signal, level),
		Live:        signal.IsLive(),
		DetailLevel: level,
	}
	if level == DetailFull && h.deps.Attests != nil {
		if att, ok := h.deps.Attests.FindBySignalID(signal.SignalID); ok {
			resp.Attestation = &att
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// Generate triggers one generator sweep outside the schedule.
func (h *handlers) Generate(w http.ResponseWriter, r *http.Request) {
	if h.deps.Loop == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "generator_unavailable",
			"The generator loop is not running")
		return
	}

	outcomes := h.deps.Loop.Sweep(r.Context())
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"swept_at": time.Now().UTC(),
		"outcomes": outcomes,
	})
}

// GeneratorStatus reports the loop's scheduling state.
func (h *handlers) GeneratorStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Loop == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "generator_unavailable",
			"The generator loop is not running")
		return
	}
	h.writeJSON(w, http.StatusOK, h.deps.Loop.Status())
}

// orchestratorFor picks the pipeline for the effective mode. Live mode
// without a live orchestrator falls back to demo.
func (h *handlers) orchestratorFor(mode attest.Mode) *pipeline.Orchestrator {
	if mode == attest.ModeLive && h.deps.Live != nil {
		return h.deps.Live
	}
	return h.deps.Demo
}
