package activity

import (
	"fmt"

	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/pipeline"
)

// Monitor bridges pipeline callbacks into the activity feed and the
// rejection tracker, so every stage outcome shows up on the activity
// endpoints without the pipeline knowing about either ring.
type Monitor struct {
	log     *Log
	tracker *Tracker
}

var _ pipeline.Monitor = (*Monitor)(nil)

// NewMonitor wires a monitor over the feed and the tracker. Either may
// be nil to opt out of that side.
func NewMonitor(log *Log, tracker *Tracker) *Monitor {
	return &Monitor{log: log, tracker: tracker}
}

// BatchObserved implements pipeline.Monitor.
func (m *Monitor) BatchObserved(stats pipeline.BatchStats) {
	if m.log == nil {
		return
	}
	m.log.Record(KindSystem, "batch processed", map[string]string{
		"source":    stats.Source,
		"received":  fmt.Sprint(stats.EventsReceived),
		"generated": fmt.Sprint(stats.SignalsGenerated),
		"rejected":  fmt.Sprint(stats.EventsRejected),
		"failures":  fmt.Sprint(stats.Failures),
	})
}

// SignalGenerated implements pipeline.Monitor. Cache replays show up in
// the feed but do not move the pass counter; the original emission
// already did.
func (m *Monitor) SignalGenerated(signal domain.OmenSignal, cached bool) {
	if m.log != nil {
		m.log.Record(KindSignal, signal.Title, map[string]string{
			"signal_id":  signal.SignalID,
			"category":   string(signal.Category),
			"confidence": fmt.Sprintf("%.4f", signal.ConfidenceScore),
			"cached":     fmt.Sprint(cached),
		})
	}
	if m.tracker != nil && !cached {
		m.tracker.Passed()
	}
}

// EventRejected implements pipeline.Monitor. The confidence-floor drop
// happens after validation, in signal generation; everything else is a
// validation-stage rejection.
func (m *Monitor) EventRejected(event domain.RawSignalEvent, rule, ruleVersion, reason string) {
	stage := StageValidation
	if rule == "signal_generation" {
		stage = StageGeneration
	}
	if m.log != nil {
		m.log.Record(KindValidation, "event rejected", map[string]string{
			"event_id": event.EventID,
			"stage":    stage,
			"rule":     rule,
			"reason":   reason,
		})
	}
	if m.tracker != nil {
		m.tracker.Rejected(stage, event.EventID, rule, ruleVersion, reason)
	}
}

// EventFailed implements pipeline.Monitor. Failures are drops too: the
// event reached no signal, so the tracker files it under the pipeline
// stage.
func (m *Monitor) EventFailed(event domain.RawSignalEvent, err error) {
	if m.log != nil {
		m.log.Record(KindError, "pipeline failure", map[string]string{
			"event_id": event.EventID,
			"error":    err.Error(),
		})
	}
	if m.tracker != nil {
		m.tracker.Rejected(StagePipeline, event.EventID, "", "", err.Error())
	}
}
