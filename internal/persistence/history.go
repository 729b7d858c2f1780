package persistence

import (
	"encoding/json"
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/omenworks/omen/internal/domain"
)

// probEntry is one stored observation.
type probEntry struct {
	Probability float64   `json:"probability"`
	ObservedAt  time.Time `json:"observed_at"`
}

// History keeps the last probability observed per market so adapters
// can compute movement when the upstream feed carries no change field
// of its own. Entries expire after the window.
type History struct {
	db     *badger.DB
	window time.Duration
	logger zerolog.Logger
}

// OpenHistory opens the store at path, or an in-memory store when path
// is empty.
func OpenHistory(path string, window time.Duration, logger zerolog.Logger) (*History, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, &domain.StoreUnavailableError{Store: "history", Err: err}
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &History{db: db, window: window, logger: logger}, nil
}

// Close releases the store.
func (h *History) Close() error { return h.db.Close() }

// Observe records the probability and returns the movement since the
// previous observation inside the window, or nil on first sight and on
// an unchanged probability. Store failures are logged and yield nil;
// movement is best-effort context, never a reason to fail a fetch.
func (h *History) Observe(source, marketID string, probability float64, at time.Time) *domain.ProbabilityMovement {
	key := []byte("prob|" + source + "|" + marketID)

	var prev *probEntry
	err := h.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var e probEntry
			if err := json.Unmarshal(val, &e); err != nil {
				return err
			}
			prev = &e
			return nil
		})
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("source", source).Str("market_id", marketID).Msg("probability history read failed")
	}

	entry, err := json.Marshal(probEntry{Probability: probability, ObservedAt: at.UTC()})
	if err == nil {
		err = h.db.Update(func(txn *badger.Txn) error {
			return txn.SetEntry(badger.NewEntry(key, entry).WithTTL(h.window))
		})
	}
	if err != nil {
		h.logger.Warn().Err(err).Str("source", source).Str("market_id", marketID).Msg("probability history write failed")
	}

	// Badger TTL expiry is wall-clock; the window check below keeps the
	// semantics exact for backdated observations too.
	if prev == nil || at.Sub(prev.ObservedAt) > h.window {
		return nil
	}
	if prev.Probability == probability {
		return nil
	}
	return &domain.ProbabilityMovement{
		Current:     probability,
		Previous:    prev.Probability,
		Delta:       probability - prev.Probability,
		WindowHours: h.window.Hours(),
	}
}
