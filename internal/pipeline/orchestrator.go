package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/registry"
)

// SignalStore is the slice of the repository the orchestrator needs:
// the idempotency probe and the upsert.
type SignalStore interface {
	Save(ctx context.Context, signal domain.OmenSignal) error
	FindByHash(ctx context.Context, inputEventHash string) (domain.OmenSignal, error)
}

// Publisher delivers an emitted signal downstream.
type Publisher interface {
	Publish(ctx context.Context, signal domain.OmenSignal) error
}

// MultiPublisher fans one emission out to every publisher. All of them
// run; the first error is the one reported.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, signal domain.OmenSignal) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, signal); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Ledgerer durably appends an emitted signal's envelope and returns it
// stamped with its ledger coordinates.
type Ledgerer interface {
	Append(ev domain.SignalEvent) (domain.SignalEvent, error)
}

// OrchestratorConfig sets the run-level policies.
type OrchestratorConfig struct {
	RulesetVersion     string  `yaml:"ruleset_version"`
	MinConfidence      float64 `yaml:"min_confidence_for_output"`
	MaxRetries         int     `yaml:"max_retries"`
	FailOnPersistError bool    `yaml:"fail_on_persist_error"`
	FailOnPublishError bool    `yaml:"fail_on_publish_error"`
}

// DefaultOrchestratorConfig takes the confidence floor from the registry
// and fails closed on persistence errors.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		RulesetVersion:     "v1.0.0",
		MinConfidence:      registry.MustParam("min_confidence_for_output").Value,
		MaxRetries:         3,
		FailOnPersistError: true,
		FailOnPublishError: false,
	}
}

// Timings records per-stage wall time for one event. Observability only;
// nothing derived from these reaches a signal.
type Timings struct {
	ValidateMS float64 `json:"validate_ms"`
	EnrichMS   float64 `json:"enrich_ms"`
	GenerateMS float64 `json:"generate_ms"`
	PersistMS  float64 `json:"persist_ms"`
	LedgerMS   float64 `json:"ledger_ms"`
	PublishMS  float64 `json:"publish_ms"`
}

// PipelineResult is the outcome of processing one event. Success means
// the pipeline handled the event, including handled rejections and
// drops; only the failure path clears it.
type PipelineResult struct {
	Success         bool                `json:"success"`
	Cached          bool                `json:"cached"`
	Validated       bool                `json:"validated"`
	Dropped         bool                `json:"dropped"`
	Signal          *domain.OmenSignal  `json:"signal,omitempty"`
	Event           *domain.SignalEvent `json:"event,omitempty"`
	RejectionReason string              `json:"rejection_reason,omitempty"`
	RejectedRule    string              `json:"rejected_rule,omitempty"`
	Error           string              `json:"error,omitempty"`
	Timings         Timings             `json:"timings"`
}

// BatchResult is ProcessBatch's outcome: one result per event, in input
// order, plus the aggregated stats handed to the monitor.
type BatchResult struct {
	Results []PipelineResult `json:"results"`
	Stats   BatchStats       `json:"stats"`
}

// DLQReport summarizes one ReprocessDLQ run.
type DLQReport struct {
	Popped    int `json:"popped"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Discarded int `json:"discarded"`
}

// Orchestrator drives one event through validate → enrich → generate →
// persist → publish, with idempotency, DLQ capture and monitoring. A
// single event is never concurrent across stages; different events may
// be processed by independent orchestrator calls.
type Orchestrator struct {
	cfg       OrchestratorConfig
	validator *Validator
	enricher  *Enricher
	generator *Generator
	store     SignalStore
	ledger    Ledgerer
	publisher Publisher
	dlq       *DLQ
	monitor   Monitor
	logger    zerolog.Logger
	now       func() time.Time
}

// OrchestratorOption customizes an orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithPublisher attaches a downstream publisher.
func WithPublisher(p Publisher) OrchestratorOption {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithLedger attaches the durable ledger; fresh emissions are appended
// after persist and before publish, and the stamped envelope lands on
// the result.
func WithLedger(l Ledgerer) OrchestratorOption {
	return func(o *Orchestrator) { o.ledger = l }
}

// WithDLQ replaces the default dead-letter queue. Passing nil disables
// DLQ capture.
func WithDLQ(q *DLQ) OrchestratorOption {
	return func(o *Orchestrator) { o.dlq = q }
}

// WithMonitor attaches a pipeline monitor.
func WithMonitor(m Monitor) OrchestratorOption {
	return func(o *Orchestrator) { o.monitor = m }
}

// WithValidator replaces the default validator.
func WithValidator(v *Validator) OrchestratorOption {
	return func(o *Orchestrator) { o.validator = v }
}

// WithGenerator replaces the default generator; the background fetch
// cycle uses this to switch to live signal ids.
func WithGenerator(g *Generator) OrchestratorOption {
	return func(o *Orchestrator) { o.generator = g }
}

// WithLogger sets the orchestrator logger.
func WithLogger(l zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// WithNow overrides the wall clock used for fallback contexts and stage
// timings, for tests.
func WithNow(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator wires a pipeline around a signal store.
func NewOrchestrator(cfg OrchestratorConfig, store SignalStore, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		validator: NewValidator(DefaultValidatorConfig()),
		enricher:  NewEnricher(),
		generator: NewGenerator(GeneratorConfig{}),
		store:     store,
		dlq:       NewDLQ(DefaultDLQConfig()),
		monitor:   NopMonitor{},
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DLQ exposes the queue for inspection endpoints.
func (o *Orchestrator) DLQ() *DLQ { return o.dlq }

// ProcessSingle runs one event through the pipeline. A nil pctx gets a
// fresh context stamped with the current time; passing an explicit
// context makes the run fully deterministic.
func (o *Orchestrator) ProcessSingle(ctx context.Context, event domain.RawSignalEvent, pctx *domain.ProcessingContext) PipelineResult {
	resolved := o.resolveContext(pctx)
	res, err := o.guarded(ctx, event, resolved)
	if err != nil {
		o.capture(event, err, resolved)
	}
	return res
}

// ProcessBatch wraps each event independently; one failure never aborts
// the batch. All events share one processing context.
func (o *Orchestrator) ProcessBatch(ctx context.Context, events []domain.RawSignalEvent, pctx *domain.ProcessingContext) BatchResult {
	return o.ProcessSourceBatch(ctx, "", events, pctx)
}

// ProcessSourceBatch is ProcessBatch with the originating source named
// in the batch stats, for per-source health tracking.
func (o *Orchestrator) ProcessSourceBatch(ctx context.Context, source string, events []domain.RawSignalEvent, pctx *domain.ProcessingContext) BatchResult {
	resolved := o.resolveContext(pctx)
	batch := BatchResult{
		Results: make([]PipelineResult, 0, len(events)),
		Stats: BatchStats{
			Source:           source,
			EventsReceived:   len(events),
			RejectionReasons: map[string]int{},
			ObservedAt:       o.now(),
		},
	}

	var confidenceSum float64
	for _, event := range events {
		res, err := o.guarded(ctx, event, resolved)
		if err != nil {
			o.capture(event, err, resolved)
		}
		batch.Results = append(batch.Results, res)

		stats := &batch.Stats
		stats.ValidateLatencyMS += res.Timings.ValidateMS
		stats.EnrichLatencyMS += res.Timings.EnrichMS
		stats.GenerateLatencyMS += res.Timings.GenerateMS
		stats.PersistLatencyMS += res.Timings.PersistMS
		stats.LedgerLatencyMS += res.Timings.LedgerMS
		stats.PublishLatencyMS += res.Timings.PublishMS

		switch {
		case !res.Success:
			stats.Failures++
		case res.Cached:
			stats.EventsDeduplicated++
		case res.Dropped:
			stats.EventsValidated++
			stats.EventsDropped++
			stats.RejectionReasons["DROPPED_LOW_CONFIDENCE"]++
		case res.RejectionReason != "":
			stats.EventsRejected++
			stats.RejectionReasons[res.RejectionReason]++
		case res.Signal != nil:
			stats.EventsValidated++
			stats.SignalsGenerated++
			confidenceSum += res.Signal.ConfidenceScore
		}
	}
	if batch.Stats.SignalsGenerated > 0 {
		batch.Stats.AvgConfidence = confidenceSum / float64(batch.Stats.SignalsGenerated)
	}

	o.monitor.BatchObserved(batch.Stats)
	return batch
}

// ReprocessDLQ pops up to max entries and reruns them. Safe to repeat:
// the idempotency probe short-circuits anything already processed.
// Entries that exhausted their retries are discarded.
func (o *Orchestrator) ReprocessDLQ(ctx context.Context, max int) DLQReport {
	report := DLQReport{}
	for report.Popped < max {
		entry, ok := o.dlq.Pop()
		if !ok {
			break
		}
		report.Popped++

		if o.cfg.MaxRetries > 0 && entry.RetryCount >= o.cfg.MaxRetries {
			report.Discarded++
			o.logger.Error().
				Str("event_id", entry.Event.EventID).
				Int("retry_count", entry.RetryCount).
				Str("last_error", entry.Error).
				Msg("dlq entry exhausted retries, discarding")
			continue
		}

		resolved := o.resolveContext(nil)
		_, err := o.guarded(ctx, entry.Event, resolved)
		if err != nil {
			report.Failed++
			o.logger.Warn().Err(err).
				Str("event_id", entry.Event.EventID).
				Int("retry_count", entry.RetryCount+1).
				Msg("dlq reprocess failed, re-queued")
			o.dlq.AddRetry(entry, err, resolved.ProcessingTime)
			o.monitor.EventFailed(entry.Event, err)
			continue
		}
		report.Succeeded++
	}
	return report
}

func (o *Orchestrator) resolveContext(pctx *domain.ProcessingContext) domain.ProcessingContext {
	if pctx != nil {
		return *pctx
	}
	return domain.NewProcessingContext(o.now(), o.cfg.RulesetVersion)
}

// guarded runs process under a panic shield. A non-nil error marks the
// failure path; the caller decides how to park the event.
func (o *Orchestrator) guarded(ctx context.Context, event domain.RawSignalEvent, pctx domain.ProcessingContext) (res PipelineResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
			res = PipelineResult{Error: err.Error()}
		}
	}()
	return o.process(ctx, event, pctx)
}

func (o *Orchestrator) process(ctx context.Context, event domain.RawSignalEvent, pctx domain.ProcessingContext) (PipelineResult, error) {
	res := PipelineResult{}

	cached, err := o.store.FindByHash(ctx, event.InputEventHash)
	switch {
	case err == nil:
		res.Success = true
		res.Cached = true
		res.Signal = &cached
		o.monitor.SignalGenerated(cached, true)
		o.logger.Debug().
			Str("event_id", event.EventID).
			Str("signal_id", cached.SignalID).
			Msg("event already processed, returning cached signal")
		return res, nil
	case !errors.Is(err, domain.ErrSignalNotFound):
		res.Error = err.Error()
		return res, fmt.Errorf("idempotency probe for %s: %w", event.EventID, err)
	}

	start := o.now()
	outcome := o.validator.Validate(event, pctx)
	res.Timings.ValidateMS = o.sinceMS(start)
	if !outcome.Passed {
		rule, status := outcome.FirstRejection()
		reason := string(status)
		res.Success = true
		res.RejectionReason = reason
		res.RejectedRule = rule
		o.monitor.EventRejected(event, rule, ruleVersionFor(outcome.Results, rule), reason)
		o.logger.Debug().
			Str("event_id", event.EventID).
			Str("rule", rule).
			Str("reason", reason).
			Msg("event rejected by validation")
		return res, nil
	}
	res.Validated = true

	start = o.now()
	enrichment := o.enricher.Enrich(outcome.Signal, pctx)
	res.Timings.EnrichMS = o.sinceMS(start)

	start = o.now()
	signal, err := o.generator.Generate(outcome.Signal, enrichment, pctx)
	res.Timings.GenerateMS = o.sinceMS(start)
	if err != nil {
		res.Error = err.Error()
		return res, fmt.Errorf("generate signal for %s: %w", event.EventID, err)
	}
	if signal.ConfidenceScore < o.cfg.MinConfidence {
		res.Success = true
		res.Dropped = true
		reason := fmt.Sprintf("confidence %.4f below output floor %.2f", signal.ConfidenceScore, o.cfg.MinConfidence)
		o.monitor.EventRejected(event, "signal_generation", "1.0.0", reason)
		o.logger.Debug().
			Str("event_id", event.EventID).
			Float64("confidence", signal.ConfidenceScore).
			Msg("signal below confidence floor, dropped")
		return res, nil
	}

	start = o.now()
	err = o.store.Save(ctx, signal)
	res.Timings.PersistMS = o.sinceMS(start)
	if err != nil {
		o.logger.Error().Err(err).
			Str("event_id", event.EventID).
			Str("signal_id", signal.SignalID).
			Msg("persist failed")
		if o.cfg.FailOnPersistError {
			res.Error = err.Error()
			return res, fmt.Errorf("persist signal %s: %w", signal.SignalID, err)
		}
	}

	if o.ledger != nil {
		start = o.now()
		stamped, err := o.appendLedger(signal, event, pctx)
		res.Timings.LedgerMS = o.sinceMS(start)
		if err != nil {
			o.logger.Error().Err(err).
				Str("event_id", event.EventID).
				Str("signal_id", signal.SignalID).
				Msg("ledger append failed")
			if o.cfg.FailOnPersistError {
				res.Error = err.Error()
				return res, fmt.Errorf("ledger append %s: %w", signal.SignalID, err)
			}
		} else {
			res.Event = &stamped
		}
	}

	if o.publisher != nil {
		start = o.now()
		err = o.publisher.Publish(ctx, signal)
		res.Timings.PublishMS = o.sinceMS(start)
		if err != nil {
			o.logger.Warn().Err(err).
				Str("event_id", event.EventID).
				Str("signal_id", signal.SignalID).
				Msg("publish failed")
			if o.cfg.FailOnPublishError {
				res.Error = err.Error()
				return res, fmt.Errorf("publish signal %s: %w", signal.SignalID, err)
			}
		}
	}

	res.Success = true
	res.Signal = &signal
	o.monitor.SignalGenerated(signal, false)
	o.logger.Info().
		Str("event_id", event.EventID).
		Str("signal_id", signal.SignalID).
		Str("category", string(signal.Category)).
		Float64("confidence", signal.ConfidenceScore).
		Msg("signal generated")
	return res, nil
}

func (o *Orchestrator) appendLedger(signal domain.OmenSignal, event domain.RawSignalEvent, pctx domain.ProcessingContext) (domain.SignalEvent, error) {
	ev, err := domain.NewSignalEvent(signal, event.ObservedAt, pctx.ProcessingTime)
	if err != nil {
		return domain.SignalEvent{}, err
	}
	return o.ledger.Append(ev)
}

// capture parks a failed event in the DLQ, when one is attached.
func (o *Orchestrator) capture(event domain.RawSignalEvent, err error, pctx domain.ProcessingContext) {
	o.logger.Error().Err(err).
		Str("event_id", event.EventID).
		Msg("pipeline failure")
	if o.dlq != nil {
		o.dlq.Add(event, err, pctx.ProcessingTime)
	}
	o.monitor.EventFailed(event, err)
}

func (o *Orchestrator) sinceMS(start time.Time) float64 {
	return float64(o.now().Sub(start)) / float64(time.Millisecond)
}

func ruleVersionFor(results []domain.ValidationResult, rule string) string {
	for _, res := range results {
		if res.RuleName == rule {
			return res.RuleVersion
		}
	}
	return ""
}
