package sources

import (
	"sync"
	"time"

	"github.com/omenworks/omen/internal/domain"
)

// ReplayCache stores fetched batches keyed by their as-of instant so a
// later replay of the same instant yields the identical batch. This is
// how deterministic replay works over non-deterministic upstream APIs.
type ReplayCache struct {
	mu      sync.RWMutex
	batches map[string][]domain.RawSignalEvent
}

// NewReplayCache returns an empty cache.
func NewReplayCache() *ReplayCache {
	return &ReplayCache{batches: make(map[string][]domain.RawSignalEvent)}
}

func replayKey(asOf time.Time) string {
	return asOf.UTC().Format(time.RFC3339Nano)
}

// Get returns the cached batch for asOf, if any.
func (c *ReplayCache) Get(asOf time.Time) ([]domain.RawSignalEvent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	batch, ok := c.batches[replayKey(asOf)]
	if !ok {
		return nil, false
	}
	out := make([]domain.RawSignalEvent, len(batch))
	copy(out, batch)
	return out, true
}

// Put stores a batch under asOf. The stored copy is detached from the
// caller's slice.
func (c *ReplayCache) Put(asOf time.Time, batch []domain.RawSignalEvent) {
	stored := make([]domain.RawSignalEvent, len(batch))
	copy(stored, batch)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches[replayKey(asOf)] = stored
}

// Len reports how many distinct as-of batches are cached.
func (c *ReplayCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.batches)
}
