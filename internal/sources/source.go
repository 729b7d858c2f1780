// Package sources defines the adapter contract every upstream feed
// implements, plus the guards (circuit breaker, rate limiter, replay
// cache) that front each adapter.
package sources

import (
	"context"
	"time"

	"github.com/omenworks/omen/internal/domain"
)

// Source is one upstream feed normalized into RawSignalEvents.
//
// FetchEvents honors replay semantics: when asOf is non-nil and the
// adapter holds a cached batch for it, the cached batch is returned
// unchanged; otherwise the adapter fetches live, caches under asOf, and
// returns. Adapters absorb per-item errors and return what they have.
type Source interface {
	// Name identifies the source ("polymarket", "news", "ais", ...).
	Name() string

	// Type is the provenance class used for attestation.
	Type() domain.SourceType

	// FetchEvents returns up to limit normalized events.
	FetchEvents(ctx context.Context, limit int, asOf *time.Time) ([]domain.RawSignalEvent, error)
}

// Attester is implemented by adapters that can vouch for their last
// upstream response. REAL attestations require the hash; adapters that
// cannot produce one stay MOCK.
type Attester interface {
	LastResponseHash() string
}
