// Package stream fans emitted signals and pipeline activity out to
// connected SSE and WebSocket clients. Delivery is best-effort: a
// subscriber that cannot keep up is dropped rather than allowed to
// stall the pipeline.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/omenworks/omen/internal/domain"
)

// Event kinds pushed through the hub.
const (
	EventSignal   = "signal"
	EventBatch    = "batch"
	EventHealth   = "health"
	EventActivity = "activity"
)

const defaultBuffer = 64

// Event is one frame pushed to every subscriber.
type Event struct {
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// NewEvent wraps a payload for fan-out.
func NewEvent(kind string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("stream event %s: %w", kind, err)
	}
	return Event{Type: kind, At: time.Now().UTC(), Data: raw}, nil
}

// Subscriber receives hub events on C until its channel is closed.
type Subscriber struct {
	ch  chan Event
	hub *Hub
}

// C is the subscriber's receive channel.
func (s *Subscriber) C() <-chan Event { return s.ch }

// Close detaches the subscriber. Safe to call more than once and after
// the hub has already dropped it.
func (s *Subscriber) Close() { s.hub.unsubscribe(s) }

// Hub fans events out to subscribers. Publish never blocks: a
// subscriber whose buffer is full is closed and removed on the spot.
type Hub struct {
	logger zerolog.Logger

	mu        sync.Mutex
	subs      map[*Subscriber]struct{}
	closed    bool
	published uint64
	dropped   uint64
}

// NewHub builds an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[*Subscriber]struct{}),
	}
}

// Subscribe attaches a new subscriber; buffer <= 0 uses the default.
// Subscribing to a closed hub returns a subscriber whose channel is
// already closed.
func (h *Hub) Subscribe(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	sub := &Subscriber{ch: make(chan Event, buffer), hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Publish delivers ev to every subscriber, dropping the slow ones.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.published++
	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			h.dropped++
			h.removeLocked(sub)
			h.logger.Warn().
				Str("event", ev.Type).
				Int("subscribers", len(h.subs)).
				Msg("dropped slow stream subscriber")
		}
	}
}

// Broadcast marshals payload and publishes it. Marshal failures only
// log; fan-out never fails a caller.
func (h *Hub) Broadcast(kind string, payload any) {
	ev, err := NewEvent(kind, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", kind).Msg("stream payload marshal failed")
		return
	}
	h.Publish(ev)
}

// SubscriberCount reports currently attached subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Stats returns lifetime published and dropped counters.
func (h *Hub) Stats() (published, dropped uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.published, h.dropped
}

// Close drops every subscriber and rejects future publishes.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

func (h *Hub) unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscriber) {
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// Publisher adapts the hub to the pipeline's publish port. Delivery is
// best-effort and never fails the caller.
type Publisher struct {
	hub *Hub
}

// Publisher returns the pipeline-facing adapter.
func (h *Hub) Publisher() *Publisher { return &Publisher{hub: h} }

// Publish broadcasts the signal as an EventSignal frame.
func (p *Publisher) Publish(_ context.Context, signal domain.OmenSignal) error {
	p.hub.Broadcast(EventSignal, signal)
	return nil
}
