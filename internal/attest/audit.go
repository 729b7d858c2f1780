package attest

import (
	"sync"

	"github.com/rs/zerolog"
)

// AuditLog writes every computed gate decision to the log from a
// background goroutine, so auditing never sits on the request path. On a
// full buffer entries are counted as dropped instead of blocking.
type AuditLog struct {
	ch     chan GateDecision
	logger zerolog.Logger
	done   chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewAuditLog starts the drain goroutine. Close releases it.
func NewAuditLog(logger zerolog.Logger, buffer int) *AuditLog {
	if buffer <= 0 {
		buffer = 64
	}
	l := &AuditLog{
		ch:     make(chan GateDecision, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
	go l.drain()
	return l
}

// Record enqueues one decision without blocking.
func (l *AuditLog) Record(d GateDecision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		l.dropped++
		return
	}
	select {
	case l.ch <- d:
	default:
		l.dropped++
	}
}

// Dropped reports how many entries were lost to a full buffer.
func (l *AuditLog) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Close flushes queued entries and stops the drain goroutine. Records
// arriving after Close are dropped.
func (l *AuditLog) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	close(l.ch)
	<-l.done
}

func (l *AuditLog) drain() {
	defer close(l.done)
	for d := range l.ch {
		evt := l.logger.Info()
		if d.Status == GateBlocked {
			evt = l.logger.Warn()
		}
		evt.Str("status", string(d.Status)).
			Strs("reasons", d.Reasons).
			Int("real_sources", d.RealSources).
			Int("total_sources", d.TotalSources).
			Float64("real_source_ratio", d.RealSourceRatio).
			Time("checked_at", d.CheckedAt).
			Msg("live gate decision")
	}
}
