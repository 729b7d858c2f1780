package http

import (
	"net/http"
	"time"

	"github.com/omenworks/omen/internal/activity"
	"github.com/omenworks/omen/internal/attest"
	"github.com/omenworks/omen/internal/metrics"
)

type dlqHealth struct {
	Size    int `json:"size"`
	Dropped int `json:"dropped"`
}

type streamHealth struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

type sourceCircuit struct {
	State   string `json:"state"`
	Healthy bool   `json:"healthy"`
}

type healthResponse struct {
	Status        string                          `json:"status"`
	Timestamp     time.Time                       `json:"timestamp"`
	UptimeSeconds float64                         `json:"uptime_seconds"`
	Store         string                          `json:"store"`
	LiveGate      attest.GateDecision             `json:"live_gate"`
	Sources       *attest.RegistrySnapshot        `json:"sources,omitempty"`
	SourceHealth  map[string]metrics.SourceHealth `json:"source_health,omitempty"`
	Circuits      map[string]sourceCircuit        `json:"circuits,omitempty"`
	DLQ           dlqHealth                       `json:"dlq"`
	Stream        *streamHealth                   `json:"stream,omitempty"`
}

// breakerSource is what a guarded source exposes for health reporting.
type breakerSource interface {
	Name() string
	BreakerState() string
	Healthy() bool
}

// Health reports service liveness plus the gate decision, source
// provenance and circuit states. Degraded means the service answers but
// some dependency is unhappy; the status code stays 200 so probes can
// tell degraded from down.
func (h *handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: h.uptime().Seconds(),
		Store:         "ok",
		LiveGate:      h.deps.Gate.Evaluate(r.Context()),
		DLQ:           h.dlqHealth(),
	}

	if _, err := h.deps.Repo.Count(r.Context(), nil); err != nil {
		resp.Store = "unavailable"
		resp.Status = "degraded"
	}

	if h.deps.Registry != nil {
		snap := h.deps.Registry.Snapshot()
		resp.Sources = &snap
		for _, src := range snap.Sources {
			if !src.Healthy {
				resp.Status = "degraded"
				break
			}
		}
		if h.deps.Collector != nil {
			resp.SourceHealth = make(map[string]metrics.SourceHealth, len(snap.Sources))
			for _, src := range snap.Sources {
				if health, ok := h.deps.Collector.SourceHealthFor(src.Name); ok {
					resp.SourceHealth[src.Name] = health
				}
			}
			if len(resp.SourceHealth) == 0 {
				resp.SourceHealth = nil
			}
		}
	}

	circuits := make(map[string]sourceCircuit)
	for _, src := range h.deps.Sources {
		if guarded, ok := src.(breakerSource); ok {
			circuits[guarded.Name()] = sourceCircuit{
				State:   guarded.BreakerState(),
				Healthy: guarded.Healthy(),
			}
		}
	}
	if len(circuits) > 0 {
		resp.Circuits = circuits
	}

	if h.deps.Hub != nil {
		published, dropped := h.deps.Hub.Stats()
		resp.Stream = &streamHealth{
			Subscribers: h.deps.Hub.SubscriberCount(),
			Published:   published,
			Dropped:     dropped,
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type rejectionSummary struct {
	Rates       activity.Rates         `json:"rates"`
	StageCounts map[string]int         `json:"stage_counts,omitempty"`
	TopReasons  []activity.ReasonCount `json:"top_reasons,omitempty"`
}

type statsResponse struct {
	SignalsTotal     int               `json:"signals_total"`
	SignalsLast24h   int               `json:"signals_last_24h"`
	Pipeline         *metrics.Snapshot `json:"pipeline,omitempty"`
	Rejections       *rejectionSummary `json:"rejections,omitempty"`
	DLQ              dlqHealth         `json:"dlq"`
	Attestations     int               `json:"attestations"`
	LedgerPartitions int               `json:"ledger_partitions"`
	GeneratedAt      time.Time         `json:"generated_at"`
}

// Stats aggregates store totals, the rolling pipeline window and the
// rejection picture into one operational view.
func (h *handlers) Stats(w http.ResponseWriter, r *http.Request) {
	total, err := h.deps.Repo.Count(r.Context(), nil)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	dayAgo := time.Now().UTC().Add(-24 * time.Hour)
	last24, err := h.deps.Repo.Count(r.Context(), &dayAgo)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	resp := statsResponse{
		SignalsTotal:   total,
		SignalsLast24h: last24,
		DLQ:            h.dlqHealth(),
		GeneratedAt:    time.Now().UTC(),
	}

	if h.deps.Collector != nil {
		snap := h.deps.Collector.Snapshot()
		resp.Pipeline = &snap
	}
	if h.deps.Rejections != nil {
		resp.Rejections = &rejectionSummary{
			Rates:       h.deps.Rejections.Rates(),
			StageCounts: h.deps.Rejections.StageCounts(),
			TopReasons:  h.deps.Rejections.TopReasons(5),
		}
	}
	if h.deps.Attests != nil {
		resp.Attestations = h.deps.Attests.Count()
	}
	if h.deps.Ledger != nil {
		if partitions, err := h.deps.Ledger.Partitions(); err == nil {
			resp.LedgerPartitions = len(partitions)
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// Activity returns the recent activity feed, newest first.
func (h *handlers) Activity(w http.ResponseWriter, r *http.Request) {
	if h.deps.Activity == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "activity_unavailable",
			"The activity feed is not configured")
		return
	}

	limit := queryInt(r, "limit", 50, 500)
	entries := h.deps.Activity.Recent(limit)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"entries": entries,
	})
}

// Rejections returns the validation rejection picture: recent
// rejections plus the lifetime stage and reason counters.
func (h *handlers) Rejections(w http.ResponseWriter, r *http.Request) {
	if h.deps.Rejections == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "rejections_unavailable",
			"Rejection tracking is not configured")
		return
	}

	limit := queryInt(r, "limit", 50, 500)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"rates":        h.deps.Rejections.Rates(),
		"stage_counts": h.deps.Rejections.StageCounts(),
		"top_reasons":  h.deps.Rejections.TopReasons(10),
		"recent":       h.deps.Rejections.Recent(limit),
	})
}

// dlqHealth sums DLQ pressure across the wired orchestrators.
func (h *handlers) dlqHealth() dlqHealth {
	var out dlqHealth
	if h.deps.Demo != nil && h.deps.Demo.DLQ() != nil {
		out.Size += h.deps.Demo.DLQ().Size()
		out.Dropped += h.deps.Demo.DLQ().Dropped()
	}
	if h.deps.Live != nil && h.deps.Live != h.deps.Demo && h.deps.Live.DLQ() != nil {
		out.Size += h.deps.Live.DLQ().Size()
		out.Dropped += h.deps.Live.DLQ().Dropped()
	}
	return out
}
