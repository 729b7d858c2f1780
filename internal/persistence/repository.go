// Package persistence stores emitted signals. The in-memory repository
// is the reference implementation; Postgres carries the same contract
// for production deployments and is selected by DSN.
package persistence

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/omenworks/omen/internal/domain"
)

// Repository is the signal store. Save is an UPSERT by signal_id so a
// replayed emission never produces a second row; FindByHash is the
// idempotency probe and returns domain.ErrSignalNotFound on a miss.
// Listings order by generated_at descending, signal_id ascending on
// ties.
type Repository interface {
	Save(ctx context.Context, signal domain.OmenSignal) error
	FindByHash(ctx context.Context, inputEventHash string) (domain.OmenSignal, error)
	FindBySignalID(ctx context.Context, signalID string) (domain.OmenSignal, error)
	FindByEventID(ctx context.Context, sourceEventID string) ([]domain.OmenSignal, error)
	FindRecent(ctx context.Context, limit, offset int, since *time.Time) ([]domain.OmenSignal, error)
	Count(ctx context.Context, since *time.Time) (int, error)
}

// Open selects the backend: Postgres when a DSN is configured, process
// memory otherwise.
func Open(pgDSN string, timeout time.Duration) (Repository, error) {
	if pgDSN == "" {
		return NewMemory(), nil
	}
	db, err := sqlx.Connect("postgres", pgDSN)
	if err != nil {
		return nil, &domain.StoreUnavailableError{Store: "postgres", Err: err}
	}
	return NewPostgres(db, timeout), nil
}
