package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/omenworks/omen/internal/domain"
)

// Memory is the reference repository: multi-index maps guarded by a
// single RWMutex. Probes take the read lock, saves the write lock.
type Memory struct {
	mu      sync.RWMutex
	byID    map[string]domain.OmenSignal
	byHash  map[string]string
	byEvent map[string][]string
	ordered []string // signal ids, generated_at descending, id ascending on ties
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		byID:    make(map[string]domain.OmenSignal),
		byHash:  make(map[string]string),
		byEvent: make(map[string][]string),
	}
}

// Save implements Repository as an upsert by signal id. A different
// signal claiming an already-stored input_event_hash is refused, which
// mirrors the unique index the Postgres backend carries.
func (m *Memory) Save(_ context.Context, signal domain.OmenSignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if owner, ok := m.byHash[signal.InputEventHash]; ok && owner != signal.SignalID {
		return fmt.Errorf("input hash %s already owned by %s: %w", signal.InputEventHash, owner, domain.ErrDuplicateSignal)
	}

	if prev, ok := m.byID[signal.SignalID]; ok {
		m.unindex(prev)
	}
	m.byID[signal.SignalID] = signal
	m.byHash[signal.InputEventHash] = signal.SignalID
	m.byEvent[signal.SourceEventID] = append(m.byEvent[signal.SourceEventID], signal.SignalID)
	m.insertOrdered(signal)
	return nil
}

// FindByHash implements Repository.
func (m *Memory) FindByHash(_ context.Context, inputEventHash string) (domain.OmenSignal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byHash[inputEventHash]
	if !ok {
		return domain.OmenSignal{}, domain.ErrSignalNotFound
	}
	return m.byID[id], nil
}

// FindBySignalID implements Repository.
func (m *Memory) FindBySignalID(_ context.Context, signalID string) (domain.OmenSignal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	signal, ok := m.byID[signalID]
	if !ok {
		return domain.OmenSignal{}, domain.ErrSignalNotFound
	}
	return signal, nil
}

// FindByEventID implements Repository. An event that never produced a
// signal yields an empty slice, not an error.
func (m *Memory) FindByEventID(_ context.Context, sourceEventID string) ([]domain.OmenSignal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byEvent[sourceEventID]
	out := make([]domain.OmenSignal, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.byID[id])
	}
	sort.Slice(out, func(i, j int) bool { return comesBefore(out[i], out[j]) })
	return out, nil
}

// FindRecent implements Repository. limit <= 0 means no limit.
func (m *Memory) FindRecent(_ context.Context, limit, offset int, since *time.Time) ([]domain.OmenSignal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.OmenSignal
	skipped := 0
	for _, id := range m.ordered {
		signal := m.byID[id]
		if since != nil && signal.GeneratedAt.Before(*since) {
			break // ordered is descending, everything after is older
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, signal)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Count implements Repository.
func (m *Memory) Count(_ context.Context, since *time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if since == nil {
		return len(m.byID), nil
	}
	n := 0
	for _, signal := range m.byID {
		if !signal.GeneratedAt.Before(*since) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) unindex(prev domain.OmenSignal) {
	delete(m.byHash, prev.InputEventHash)

	ids := m.byEvent[prev.SourceEventID]
	for i, id := range ids {
		if id == prev.SignalID {
			m.byEvent[prev.SourceEventID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(m.byEvent[prev.SourceEventID]) == 0 {
		delete(m.byEvent, prev.SourceEventID)
	}

	for i, id := range m.ordered {
		if id == prev.SignalID {
			m.ordered = append(m.ordered[:i], m.ordered[i+1:]...)
			break
		}
	}
}

func (m *Memory) insertOrdered(signal domain.OmenSignal) {
	i := sort.Search(len(m.ordered), func(i int) bool {
		return comesBefore(signal, m.byID[m.ordered[i]])
	})
	m.ordered = append(m.ordered, "")
	copy(m.ordered[i+1:], m.ordered[i:])
	m.ordered[i] = signal.SignalID
}

func comesBefore(a, b domain.OmenSignal) bool {
	if !a.GeneratedAt.Equal(b.GeneratedAt) {
		return a.GeneratedAt.After(b.GeneratedAt)
	}
	return a.SignalID < b.SignalID
}
