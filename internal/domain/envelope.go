package domain

import (
	"fmt"
	"hash/crc32"
	"time"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is the wire schema of the SignalEvent envelope.
const SchemaVersion = "1.0.0"

// SignalEvent wraps an OmenSignal for the ledger and for transport. All
// timestamps are timezone-aware UTC; the ledger fields are stamped by the
// ledger writer and absent before the event is durably appended.
type SignalEvent struct {
	SchemaVersion   string     `json:"schema_version"`
	SignalID        string     `json:"signal_id"`
	TraceID         string     `json:"trace_id"`
	InputEventHash  string     `json:"input_event_hash"`
	SourceEventID   string     `json:"source_event_id"`
	RulesetVersion  string     `json:"ruleset_version"`
	ObservedAt      time.Time  `json:"observed_at"`
	EmittedAt       time.Time  `json:"emitted_at"`
	LedgerWrittenAt *time.Time `json:"ledger_written_at,omitempty"`
	LedgerPartition string     `json:"ledger_partition,omitempty"`
	LedgerSequence  int64      `json:"ledger_sequence,omitempty"`
	Signal          OmenSignal `json:"signal"`
}

// NewSignalEvent builds the envelope for a signal. observedAt is the
// source observation time and drives ledger partitioning; emittedAt comes
// from the processing context.
func NewSignalEvent(signal OmenSignal, observedAt, emittedAt time.Time) (SignalEvent, error) {
	if observedAt.IsZero() {
		return SignalEvent{}, fmt.Errorf("signal event %s: %w", signal.SignalID, ErrObservedAtRequired)
	}
	if _, err := semver.NewVersion(SchemaVersion); err != nil {
		return SignalEvent{}, fmt.Errorf("signal event %s: %w", signal.SignalID, ErrSchemaVersionInvalid)
	}
	return SignalEvent{
		SchemaVersion:  SchemaVersion,
		SignalID:       signal.SignalID,
		TraceID:        signal.TraceID,
		InputEventHash: signal.InputEventHash,
		SourceEventID:  signal.SourceEventID,
		RulesetVersion: signal.RulesetVersion,
		ObservedAt:     observedAt.UTC(),
		EmittedAt:      emittedAt.UTC(),
		Signal:         signal,
	}, nil
}

// LedgerRecord is one durable ledger line: the envelope plus a CRC32
// checksum and byte length of its canonical serialization.
type LedgerRecord struct {
	Checksum string      `json:"checksum"`
	Length   int         `json:"length"`
	Signal   SignalEvent `json:"signal"`
}

// NewLedgerRecord computes the checksum over the canonical JSON of the
// envelope with empty fields elided.
func NewLedgerRecord(ev SignalEvent) (LedgerRecord, error) {
	body, err := CanonicalJSON(ev)
	if err != nil {
		return LedgerRecord{}, fmt.Errorf("ledger record %s: %w", ev.SignalID, err)
	}
	return LedgerRecord{
		Checksum: fmt.Sprintf("crc32:%08x", crc32.ChecksumIEEE(body)),
		Length:   len(body),
		Signal:   ev,
	}, nil
}

// Verify recomputes the checksum and length from the embedded envelope.
func (r LedgerRecord) Verify() error {
	body, err := CanonicalJSON(r.Signal)
	if err != nil {
		return fmt.Errorf("ledger record %s: %w", r.Signal.SignalID, err)
	}
	want := fmt.Sprintf("crc32:%08x", crc32.ChecksumIEEE(body))
	if r.Checksum != want {
		return fmt.Errorf("ledger record %s: have %s, want %s: %w", r.Signal.SignalID, r.Checksum, want, ErrChecksumMismatch)
	}
	if r.Length != len(body) {
		return fmt.Errorf("ledger record %s: length %d, want %d: %w", r.Signal.SignalID, r.Length, len(body), ErrChecksumMismatch)
	}
	return nil
}
