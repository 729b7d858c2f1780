package activity

import (
	"sort"
	"sync"
	"time"
)

// Pipeline stages a rejection can be attributed to.
const (
	StageValidation = "validation"
	StageGeneration = "generation"
	StagePipeline   = "pipeline"
)

// Rejection records one dropped event: where it fell out, which rule
// decided, and why.
type Rejection struct {
	Seq         uint64    `json:"seq"`
	Stage       string    `json:"stage"`
	EventID     string    `json:"event_id"`
	Rule        string    `json:"rule,omitempty"`
	RuleVersion string    `json:"rule_version,omitempty"`
	Reason      string    `json:"reason"`
	At          time.Time `json:"at"`
}

// ReasonCount is one bucket of the rejection-reason histogram.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// Rates summarizes how events fared across the tracker's lifetime.
type Rates struct {
	Passed   int     `json:"passed"`
	Rejected int     `json:"rejected"`
	PassRate float64 `json:"pass_rate"`
	FailRate float64 `json:"fail_rate"`
}

// Tracker keeps the recent rejections in a bounded ring plus lifetime
// counters per stage and per reason. The counters survive ring
// wrap-around, so rates stay accurate however busy the pipeline gets.
type Tracker struct {
	mu     sync.Mutex
	ring   []Rejection
	next   int
	size   int
	seq    uint64
	now    func() time.Time
	stages map[string]int
	reason map[string]int
	passed int
	total  int
}

// TrackerOption customizes a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerClock overrides the tracker clock.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker builds a ring with the given capacity; zero or negative
// means DefaultCapacity.
func NewTracker(capacity int, opts ...TrackerOption) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	t := &Tracker{
		ring:   make([]Rejection, capacity),
		now:    time.Now,
		stages: make(map[string]int),
		reason: make(map[string]int),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Passed counts an event that survived the whole pipeline.
func (t *Tracker) Passed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.passed++
	t.total++
}

// Rejected records one dropped event, overwriting the oldest ring entry
// once full.
func (t *Tracker) Rejected(stage, eventID, rule, ruleVersion, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	t.ring[t.next] = Rejection{
		Seq:         t.seq,
		Stage:       stage,
		EventID:     eventID,
		Rule:        rule,
		RuleVersion: ruleVersion,
		Reason:      reason,
		At:          t.now(),
	}
	t.next = (t.next + 1) % len(t.ring)
	if t.size < len(t.ring) {
		t.size++
	}
	t.stages[stage]++
	t.reason[reason]++
	t.total++
}

// Recent returns up to n rejections, newest first. n <= 0 returns
// everything the ring holds.
func (t *Tracker) Recent(n int) []Rejection {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n <= 0 || n > t.size {
		n = t.size
	}
	out := make([]Rejection, 0, n)
	for i := 1; i <= n; i++ {
		idx := (t.next - i + len(t.ring)) % len(t.ring)
		out = append(out, t.ring[idx])
	}
	return out
}

// StageCounts returns lifetime rejections per stage.
func (t *Tracker) StageCounts() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.stages))
	for stage, n := range t.stages {
		out[stage] = n
	}
	return out
}

// TopReasons returns the n most frequent rejection reasons, descending
// by count with reason text breaking ties.
func (t *Tracker) TopReasons(n int) []ReasonCount {
	t.mu.Lock()
	counts := make([]ReasonCount, 0, len(t.reason))
	for reason, c := range t.reason {
		counts = append(counts, ReasonCount{Reason: reason, Count: c})
	}
	t.mu.Unlock()

	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Reason < counts[j].Reason
	})
	if n > 0 && n < len(counts) {
		counts = counts[:n]
	}
	return counts
}

// Rates reports lifetime pass and fail fractions. An idle tracker
// reports zero rates rather than NaN.
func (t *Tracker) Rates() Rates {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := Rates{Passed: t.passed, Rejected: t.total - t.passed}
	if t.total > 0 {
		r.PassRate = float64(r.Passed) / float64(t.total)
		r.FailRate = float64(r.Rejected) / float64(t.total)
	}
	return r
}
