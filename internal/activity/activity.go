// Package activity keeps a bounded in-memory feed of engine events and
// a tracker for pipeline rejections. Both are fixed-capacity rings:
// writers never block and never grow memory, the oldest entries fall
// off once the ring is full. HTTP handlers read them to serve the
// activity and rejection endpoints without touching the ledger.
package activity

import (
	"sync"
	"time"
)

// DefaultCapacity bounds the activity ring.
const DefaultCapacity = 1000

// Entry kinds.
const (
	KindSignal     = "signal"
	KindValidation = "validation"
	KindRule       = "rule"
	KindAlert      = "alert"
	KindSource     = "source"
	KindError      = "error"
	KindSystem     = "system"
)

// Entry is one activity feed item. Seq increases monotonically for the
// life of the process, so consumers can detect gaps after ring
// wrap-around.
type Entry struct {
	Seq     uint64            `json:"seq"`
	Kind    string            `json:"kind"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	At      time.Time         `json:"at"`
}

// Log is a fixed-capacity ring of entries.
type Log struct {
	mu   sync.Mutex
	ring []Entry
	next int
	size int
	seq  uint64
	now  func() time.Time
}

// LogOption customizes a Log.
type LogOption func(*Log)

// WithLogClock overrides the log clock.
func WithLogClock(now func() time.Time) LogOption {
	return func(l *Log) { l.now = now }
}

// NewLog builds a ring with the given capacity; zero or negative means
// DefaultCapacity.
func NewLog(capacity int, opts ...LogOption) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Log{ring: make([]Entry, capacity), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends an entry, overwriting the oldest once full. The
// fields map is copied so callers may reuse theirs.
func (l *Log) Record(kind, message string, fields map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	e := Entry{Seq: l.seq, Kind: kind, Message: message, At: l.now()}
	if len(fields) > 0 {
		e.Fields = make(map[string]string, len(fields))
		for k, v := range fields {
			e.Fields[k] = v
		}
	}
	l.ring[l.next] = e
	l.next = (l.next + 1) % len(l.ring)
	if l.size < len(l.ring) {
		l.size++
	}
}

// Recent returns up to n entries, newest first. n <= 0 returns
// everything the ring holds.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > l.size {
		n = l.size
	}
	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.ring)) % len(l.ring)
		out = append(out, l.ring[idx])
	}
	return out
}

// Len reports how many entries the ring currently holds.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}
