// Package reconcile heals divergence between the ledger and a
// downstream processor. The ledger is the source of truth: anything it
// holds that the downstream has not processed gets replayed, anything
// the downstream holds that the ledger never wrote is an invariant
// violation and is only ever logged.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/ledger"
)

// Status of one partition reconciliation.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusPartial   Status = "PARTIAL"
	StatusFailed    Status = "FAILED"
	StatusSkipped   Status = "SKIPPED"
)

// PartitionState is the persisted per-partition bookkeeping.
type PartitionState struct {
	Partition         string    `json:"partition"`
	LastHighwater     int64     `json:"last_highwater"`
	ManifestRevision  int64     `json:"manifest_revision"`
	LedgerRecordCount int64     `json:"ledger_record_count"`
	ProcessedCount    int       `json:"processed_count"`
	MissingCount      int       `json:"missing_count"`
	ReplayedCount     int       `json:"replayed_count"`
	Status            Status    `json:"status"`
	DurationMS        float64   `json:"duration_ms"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Ledger is the slice of the ledger the reconciler reads.
type Ledger interface {
	Partitions() ([]string, error)
	Manifest(name string) (ledger.Manifest, error)
	SignalIDs(name string) ([]string, error)
	FindRecord(name, signalID string) (domain.LedgerRecord, error)
}

// Downstream is the processor being healed. Replay must be idempotent;
// the downstream dedups on signal id.
type Downstream interface {
	ListProcessedIDs(ctx context.Context, partition string) ([]string, error)
	Replay(ctx context.Context, rec domain.LedgerRecord) error
}

// Config sets the reconcile policy. An empty DownstreamURL selects the
// local file-backed downstream; empty directories are derived from the
// ledger base path by the caller.
type Config struct {
	LookbackDays      int           `yaml:"lookback_days"`
	MaxReplayBatch    int           `yaml:"max_replay_batch"`
	Schedule          string        `yaml:"schedule"`
	StateDir          string        `yaml:"state_dir"`
	DownstreamURL     string        `yaml:"downstream_url"`
	DownstreamTimeout time.Duration `yaml:"downstream_timeout"`
}

// DefaultConfig reconciles the last week every five minutes, replaying
// at most 100 records per partition per pass.
func DefaultConfig() Config {
	return Config{
		LookbackDays:      7,
		MaxReplayBatch:    100,
		Schedule:          "@every 300s",
		DownstreamTimeout: 10 * time.Second,
	}
}

// PartitionReport is one partition's outcome within a run.
type PartitionReport struct {
	Partition string `json:"partition"`
	Status    Status `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Missing   int    `json:"missing"`
	Replayed  int    `json:"replayed"`
	Failed    int    `json:"failed"`
	Extras    int    `json:"extras"`
}

// Report is the outcome of one reconcile run.
type Report struct {
	StartedAt  time.Time         `json:"started_at"`
	Partitions []PartitionReport `json:"partitions"`
}

// Failed reports whether any partition failed; the one-shot CLI exits
// non-zero on it.
func (r Report) Failed() bool {
	for _, p := range r.Partitions {
		if p.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Reconciler drives the heal loop.
type Reconciler struct {
	cfg    Config
	ledger Ledger
	state  StateStore
	down   Downstream
	logger zerolog.Logger
	clock  func() time.Time
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithClock injects the time source, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Reconciler) { r.clock = clock }
}

// New wires a reconciler over a ledger, a state store and a downstream.
func New(cfg Config, led Ledger, state StateStore, down Downstream, logger zerolog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		cfg:    cfg,
		ledger: led,
		state:  state,
		down:   down,
		logger: logger,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reconciles every eligible partition once: partitions observed in
// the lookback window, sealed for main partitions, any state for -late
// ones.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	report := Report{StartedAt: r.clock().UTC()}

	names, err := r.ledger.Partitions()
	if err != nil {
		return report, fmt.Errorf("list partitions: %w", err)
	}
	for _, name := range names {
		if !r.inWindow(name, report.StartedAt) {
			continue
		}
		report.Partitions = append(report.Partitions, r.reconcilePartition(ctx, name))
	}
	return report, nil
}

// Loop runs on the configured cron schedule until ctx is cancelled,
// then waits for an in-flight run to finish.
func (r *Reconciler) Loop(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(r.cfg.Schedule, func() {
		report, err := r.Run(ctx)
		if err != nil {
			r.logger.Error().Err(err).Msg("reconcile run failed")
			return
		}
		if report.Failed() {
			r.logger.Warn().Int("partitions", len(report.Partitions)).Msg("reconcile run had failed partitions")
		}
	})
	if err != nil {
		return fmt.Errorf("reconcile schedule %q: %w", r.cfg.Schedule, err)
	}

	c.Start()
	r.logger.Info().Str("schedule", r.cfg.Schedule).Msg("reconcile loop started")
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (r *Reconciler) inWindow(name string, now time.Time) bool {
	day, err := time.Parse("2006-01-02", strings.TrimSuffix(name, ledger.LateSuffix))
	if err != nil {
		return false
	}
	return now.Sub(day) <= time.Duration(r.cfg.LookbackDays)*24*time.Hour
}

func (r *Reconciler) reconcilePartition(ctx context.Context, name string) PartitionReport {
	start := r.clock()
	pr := PartitionReport{Partition: name}

	manifest, err := r.ledger.Manifest(name)
	if err != nil {
		return r.failed(pr, "load manifest", err)
	}
	if !ledger.IsLate(name) && !manifest.Sealed() {
		pr.Status = StatusSkipped
		pr.Reason = "unsealed"
		return pr
	}

	prev, found, err := r.state.Load(name)
	if err != nil {
		return r.failed(pr, "load state", err)
	}
	switch {
	case !found:
		pr.Reason = "never_processed"
	case manifest.HighwaterSequence > prev.LastHighwater || manifest.ManifestRevision != prev.ManifestRevision:
		pr.Reason = "highwater_increased"
	case prev.Status != StatusCompleted:
		pr.Reason = "retry_incomplete"
	default:
		pr.Status = StatusSkipped
		pr.Reason = "up_to_date"
		return pr
	}

	ledgerIDs, err := r.ledger.SignalIDs(name)
	if err != nil {
		return r.failed(pr, "read ledger ids", err)
	}
	processed, err := r.processedIDs(ctx, name)
	if err != nil {
		return r.failed(pr, "list processed ids", err)
	}

	// Missing keeps ledger append order so replay order is stable.
	ledgerSet := make(map[string]struct{}, len(ledgerIDs))
	var missing []string
	for _, id := range ledgerIDs {
		ledgerSet[id] = struct{}{}
		if _, ok := processed[id]; !ok {
			missing = append(missing, id)
		}
	}
	var extras []string
	for id := range processed {
		if _, ok := ledgerSet[id]; !ok {
			extras = append(extras, id)
		}
	}
	if len(extras) > 0 {
		r.logger.Error().
			Str("partition", name).
			Int("extras", len(extras)).
			Str("invariant", "downstream_superset").
			Msg("downstream has records the ledger never wrote")
	}

	replayed, failed := r.replay(ctx, name, missing)

	status := StatusCompleted
	switch {
	case failed > 0:
		status = StatusFailed
	case replayed < len(missing):
		status = StatusPartial
	}

	state := PartitionState{
		Partition:         name,
		LastHighwater:     manifest.HighwaterSequence,
		ManifestRevision:  manifest.ManifestRevision,
		LedgerRecordCount: int64(len(ledgerIDs)),
		ProcessedCount:    len(processed),
		MissingCount:      len(missing),
		ReplayedCount:     replayed,
		Status:            status,
		DurationMS:        float64(r.clock().Sub(start)) / float64(time.Millisecond),
		UpdatedAt:         r.clock().UTC(),
	}
	if err := r.state.Store(state); err != nil {
		return r.failed(pr, "persist state", err)
	}

	pr.Status = status
	pr.Missing = len(missing)
	pr.Replayed = replayed
	pr.Failed = failed
	pr.Extras = len(extras)

	event := r.logger.Info()
	if status != StatusCompleted {
		event = r.logger.Warn()
	}
	event.
		Str("partition", name).
		Str("status", string(status)).
		Str("reason", pr.Reason).
		Int64("highwater", manifest.HighwaterSequence).
		Int("ledger_records", len(ledgerIDs)).
		Int("processed", len(processed)).
		Int("missing", len(missing)).
		Int("replayed", replayed).
		Int("failed", failed).
		Int("extras", len(extras)).
		Float64("duration_ms", state.DurationMS).
		Msg("partition reconciled")
	return pr
}

// processedIDs returns the downstream's set for the partition; a -late
// partition also counts everything processed under its main sibling.
func (r *Reconciler) processedIDs(ctx context.Context, name string) (map[string]struct{}, error) {
	ids, err := r.down.ListProcessedIDs(ctx, name)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	if ledger.IsLate(name) {
		mainIDs, err := r.down.ListProcessedIDs(ctx, strings.TrimSuffix(name, ledger.LateSuffix))
		if err != nil {
			return nil, err
		}
		for _, id := range mainIDs {
			set[id] = struct{}{}
		}
	}
	return set, nil
}

func (r *Reconciler) replay(ctx context.Context, name string, missing []string) (replayed, failed int) {
	for i, id := range missing {
		if r.cfg.MaxReplayBatch > 0 && i >= r.cfg.MaxReplayBatch {
			break
		}
		rec, err := r.ledger.FindRecord(name, id)
		if err != nil {
			failed++
			r.logger.Error().Err(err).Str("partition", name).Str("signal_id", id).Msg("replay read failed")
			continue
		}
		if err := r.down.Replay(ctx, rec); err != nil {
			failed++
			r.logger.Error().Err(err).Str("partition", name).Str("signal_id", id).Msg("replay delivery failed")
			continue
		}
		replayed++
	}
	return replayed, failed
}

func (r *Reconciler) failed(pr PartitionReport, stage string, err error) PartitionReport {
	r.logger.Error().Err(err).Str("partition", pr.Partition).Msg("reconcile " + stage + " failed")
	pr.Status = StatusFailed
	pr.Reason = stage
	return pr
}
