package pipeline

import (
	"sync"
	"time"

	"github.com/omenworks/omen/internal/domain"
)

// DLQEntry is one failed event parked for later reprocessing.
type DLQEntry struct {
	Event      domain.RawSignalEvent `json:"event"`
	Error      string                `json:"error"`
	FailedAt   time.Time             `json:"failed_at"`
	RetryCount int                   `json:"retry_count"`
}

// DLQConfig bounds the queue.
type DLQConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// DefaultDLQConfig holds the last thousand failures.
func DefaultDLQConfig() DLQConfig {
	return DLQConfig{MaxEntries: 1000}
}

// DLQ is a bounded FIFO of failed events. At capacity the oldest entry
// is evicted so the queue always holds the most recent failures.
type DLQ struct {
	mu      sync.Mutex
	max     int
	entries []DLQEntry
	dropped int
}

// NewDLQ builds an empty queue.
func NewDLQ(cfg DLQConfig) *DLQ {
	max := cfg.MaxEntries
	if max <= 0 {
		max = DefaultDLQConfig().MaxEntries
	}
	return &DLQ{max: max}
}

// Add parks a fresh failure with a zero retry count.
func (q *DLQ) Add(event domain.RawSignalEvent, err error, failedAt time.Time) {
	q.push(DLQEntry{Event: event, Error: err.Error(), FailedAt: failedAt})
}

// AddRetry re-parks an entry after a failed reprocess, bumping its
// retry count so replayers can bound their attempts.
func (q *DLQ) AddRetry(entry DLQEntry, err error, failedAt time.Time) {
	entry.Error = err.Error()
	entry.FailedAt = failedAt
	entry.RetryCount++
	q.push(entry)
}

func (q *DLQ) push(entry DLQEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= q.max {
		q.entries = q.entries[1:]
		q.dropped++
	}
	q.entries = append(q.entries, entry)
}

// Pop removes and returns the oldest entry.
func (q *DLQ) Pop() (DLQEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return DLQEntry{}, false
	}
	entry := q.entries[0]
	q.entries = q.entries[1:]
	return entry, true
}

// Peek returns up to n oldest entries without removing them.
func (q *DLQ) Peek(n int) []DLQEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.entries) {
		n = len(q.entries)
	}
	out := make([]DLQEntry, n)
	copy(out, q.entries[:n])
	return out
}

// Size returns the number of parked entries.
func (q *DLQ) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Dropped returns how many entries were evicted at capacity.
func (q *DLQ) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear empties the queue and returns how many entries were removed.
func (q *DLQ) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.entries)
	q.entries = nil
	return n
}

// GetByEventID returns the oldest parked entry for an event id.
func (q *DLQ) GetByEventID(eventID string) (DLQEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, entry := range q.entries {
		if entry.Event.EventID == eventID {
			return entry, true
		}
	}
	return DLQEntry{}, false
}
