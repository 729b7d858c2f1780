package attest

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/pipeline"
)

// compositeSource is satisfied by adapters that derive events from
// several underlying feeds and can enumerate them.
type compositeSource interface {
	InputSources() []domain.InputSource
}

// Builder constructs attestations at signal-emission time, resolving
// provenance through the source registry.
type Builder struct {
	registry *Registry
}

// NewBuilder binds a builder to the registry.
func NewBuilder(registry *Registry) *Builder {
	return &Builder{registry: registry}
}

// Attest builds the provenance record for one emitted signal. REAL
// sources must expose the hash of the upstream response the signal came
// from; construction fails without it. A HYBRID source that cannot
// enumerate its inputs is attested MOCK, which routes identically.
func (b *Builder) Attest(signalID, sourceName string, attestedAt time.Time) (domain.SignalAttestation, error) {
	src, ok := b.registry.Lookup(sourceName)
	if !ok {
		return domain.SignalAttestation{}, fmt.Errorf("attest %s from %q: %w", signalID, sourceName, domain.ErrUnknownSource)
	}

	switch src.Type() {
	case domain.SourceReal:
		return domain.NewRealAttestation(signalID, sourceName, responseHash(src), attestedAt)
	case domain.SourceHybrid:
		if c, ok := src.(compositeSource); ok {
			return domain.NewHybridAttestation(signalID, c.InputSources(), attestedAt)
		}
		return domain.NewMockAttestation(signalID, sourceName, attestedAt), nil
	default:
		return domain.NewMockAttestation(signalID, sourceName, attestedAt), nil
	}
}

func responseHash(src DataSource) string {
	if h, ok := src.(responseHasher); ok {
		return h.LastResponseHash()
	}
	return ""
}

// Store keeps the attestation record for every emitted signal, plus the
// append-only verification history. Save is an upsert by signal id so a
// replayed emission never produces a second record.
type Store struct {
	mu            sync.RWMutex
	bySignal      map[string]domain.SignalAttestation
	verifications map[string][]domain.AttestationVerification
}

// NewStore returns an empty attestation store.
func NewStore() *Store {
	return &Store{
		bySignal:      make(map[string]domain.SignalAttestation),
		verifications: make(map[string][]domain.AttestationVerification),
	}
}

// Save validates and stores the attestation, replacing any prior record
// for the same signal.
func (s *Store) Save(att domain.SignalAttestation) error {
	if err := att.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySignal[att.SignalID] = att
	return nil
}

// FindBySignalID returns the attestation recorded for a signal.
func (s *Store) FindBySignalID(signalID string) (domain.SignalAttestation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	att, ok := s.bySignal[signalID]
	return att, ok
}

// Count reports how many signals carry an attestation.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bySignal)
}

// AddVerification appends one re-verification record. The original
// attestation is never mutated.
func (s *Store) AddVerification(v domain.AttestationVerification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifications[v.AttestationID] = append(s.verifications[v.AttestationID], v)
}

// Verifications returns the re-verification history for an attestation,
// oldest first.
func (s *Store) Verifications(attestationID string) []domain.AttestationVerification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AttestationVerification, len(s.verifications[attestationID]))
	copy(out, s.verifications[attestationID])
	return out
}

// Recorder attests every newly generated signal as the pipeline emits
// it. It plugs in as a pipeline monitor so emission and attestation
// cannot drift apart. Attestation failures are logged, leaving the
// signal with no attestation on record, which routes to demo.
type Recorder struct {
	pipeline.NopMonitor

	builder *Builder
	store   *Store
	logger  zerolog.Logger
}

// NewRecorder wires a recorder over the builder and store.
func NewRecorder(builder *Builder, store *Store, logger zerolog.Logger) *Recorder {
	return &Recorder{builder: builder, store: store, logger: logger}
}

// SignalGenerated implements pipeline.Monitor. Cached signals were
// attested when first emitted and are skipped.
func (r *Recorder) SignalGenerated(signal domain.OmenSignal, cached bool) {
	if cached {
		return
	}
	if _, ok := r.store.FindBySignalID(signal.SignalID); ok {
		return
	}

	att, err := r.builder.Attest(signal.SignalID, signalSource(signal), signal.GeneratedAt)
	if err != nil {
		r.logger.Error().Err(err).
			Str("signal_id", signal.SignalID).
			Msg("attestation failed, signal stays demo-routed")
		return
	}
	if err := r.store.Save(att); err != nil {
		r.logger.Error().Err(err).
			Str("signal_id", signal.SignalID).
			Str("attestation_id", att.ID).
			Msg("attestation rejected by store")
	}
}

func signalSource(signal domain.OmenSignal) string {
	if len(signal.Evidence) > 0 {
		return signal.Evidence[0].SourceName
	}
	return ""
}
