package attest

import (
	"sort"
	"sync"

	"github.com/omenworks/omen/internal/domain"
)

// DataSource is the registry's view of one upstream feed: identity and
// provenance class. Guarded adapters additionally expose health and the
// hash of their last upstream response; both are detected at runtime.
type DataSource interface {
	Name() string
	Type() domain.SourceType
}

// healthReporter is satisfied by guarded sources. Bare adapters with no
// breaker report healthy.
type healthReporter interface {
	Healthy() bool
}

// responseHasher is satisfied by adapters that hash the raw body of
// their last upstream response.
type responseHasher interface {
	LastResponseHash() string
}

// Registry tracks every source the service runs with. The live gate's
// service checks and the attestation builder both resolve provenance
// through it.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]DataSource
}

// NewRegistry returns an empty source registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]DataSource)}
}

// Register adds or replaces the source under its name.
func (r *Registry) Register(src DataSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[src.Name()] = src
}

// Lookup returns the source registered under name.
func (r *Registry) Lookup(name string) (DataSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[name]
	return src, ok
}

// SourceStatus is one registry entry as seen by health reporting.
type SourceStatus struct {
	Name    string            `json:"name"`
	Type    domain.SourceType `json:"type"`
	Healthy bool              `json:"healthy"`
}

// RegistrySnapshot is a point-in-time view of the registry, ordered by
// source name.
type RegistrySnapshot struct {
	Total   int            `json:"total_sources"`
	Real    int            `json:"real_sources"`
	Ratio   float64        `json:"real_source_ratio"`
	Sources []SourceStatus `json:"sources,omitempty"`
}

// Snapshot reports every registered source with its provenance and
// health, plus the real-source ratio the gate's service checks read.
func (r *Registry) Snapshot() RegistrySnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := RegistrySnapshot{Sources: make([]SourceStatus, 0, len(r.sources))}
	for _, src := range r.sources {
		st := SourceStatus{Name: src.Name(), Type: src.Type(), Healthy: sourceHealthy(src)}
		snap.Sources = append(snap.Sources, st)
		snap.Total++
		if st.Type == domain.SourceReal {
			snap.Real++
		}
	}
	sort.Slice(snap.Sources, func(i, j int) bool { return snap.Sources[i].Name < snap.Sources[j].Name })
	if snap.Total > 0 {
		snap.Ratio = float64(snap.Real) / float64(snap.Total)
	}
	return snap
}

func sourceHealthy(src DataSource) bool {
	if h, ok := src.(healthReporter); ok {
		return h.Healthy()
	}
	return true
}
