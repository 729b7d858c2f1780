package pipeline

import (
	"time"

	"github.com/omenworks/omen/internal/domain"
)

// BatchStats summarizes one ProcessBatch run. Latencies are cumulative
// across the batch; AvgConfidence covers generated signals only.
type BatchStats struct {
	Source             string         `json:"source,omitempty"`
	EventsReceived     int            `json:"events_received"`
	EventsDeduplicated int            `json:"events_deduplicated"`
	EventsValidated    int            `json:"events_validated"`
	EventsRejected     int            `json:"events_rejected_validation"`
	EventsDropped      int            `json:"events_dropped_low_confidence"`
	SignalsGenerated   int            `json:"signals_generated"`
	Failures           int            `json:"failures"`
	ValidateLatencyMS  float64        `json:"validate_latency_ms"`
	EnrichLatencyMS    float64        `json:"enrich_latency_ms"`
	GenerateLatencyMS  float64        `json:"generate_latency_ms"`
	PersistLatencyMS   float64        `json:"persist_latency_ms"`
	LedgerLatencyMS    float64        `json:"ledger_latency_ms"`
	PublishLatencyMS   float64        `json:"publish_latency_ms"`
	AvgConfidence      float64        `json:"avg_confidence"`
	RejectionReasons   map[string]int `json:"rejection_reasons,omitempty"`
	ObservedAt         time.Time      `json:"observed_at"`
}

// Monitor receives pipeline lifecycle callbacks. Implementations must be
// cheap and non-blocking; the pipeline calls them inline.
type Monitor interface {
	BatchObserved(stats BatchStats)
	SignalGenerated(signal domain.OmenSignal, cached bool)
	EventRejected(event domain.RawSignalEvent, rule, ruleVersion, reason string)
	EventFailed(event domain.RawSignalEvent, err error)
}

// NopMonitor discards all callbacks.
type NopMonitor struct{}

func (NopMonitor) BatchObserved(BatchStats)                                    {}
func (NopMonitor) SignalGenerated(domain.OmenSignal, bool)                     {}
func (NopMonitor) EventRejected(domain.RawSignalEvent, string, string, string) {}
func (NopMonitor) EventFailed(domain.RawSignalEvent, error)                    {}

// MultiMonitor fans callbacks out to several monitors in order.
type MultiMonitor []Monitor

func (m MultiMonitor) BatchObserved(stats BatchStats) {
	for _, mon := range m {
		mon.BatchObserved(stats)
	}
}

func (m MultiMonitor) SignalGenerated(signal domain.OmenSignal, cached bool) {
	for _, mon := range m {
		mon.SignalGenerated(signal, cached)
	}
}

func (m MultiMonitor) EventRejected(event domain.RawSignalEvent, rule, ruleVersion, reason string) {
	for _, mon := range m {
		mon.EventRejected(event, rule, ruleVersion, reason)
	}
}

func (m MultiMonitor) EventFailed(event domain.RawSignalEvent, err error) {
	for _, mon := range m {
		mon.EventFailed(event, err)
	}
}
