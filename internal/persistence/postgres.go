package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/omenworks/omen/internal/domain"
)

// Signals live as canonical JSON alongside the indexed columns. The
// unique index on input_event_hash backs the idempotency invariant
// even when two writers race the probe.
const (
	schemaSignals = `
		CREATE TABLE IF NOT EXISTS signals (
			signal_id        TEXT PRIMARY KEY,
			source_event_id  TEXT NOT NULL,
			trace_id         TEXT NOT NULL,
			input_event_hash TEXT NOT NULL,
			generated_at     TIMESTAMPTZ NOT NULL,
			payload          JSONB NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
	schemaHashIndex = `
		CREATE UNIQUE INDEX IF NOT EXISTS signals_input_event_hash_key
		ON signals (input_event_hash)`
	schemaEventIndex = `
		CREATE INDEX IF NOT EXISTS signals_source_event_idx
		ON signals (source_event_id, generated_at DESC)`

	queryUpsert = `
		INSERT INTO signals (signal_id, source_event_id, trace_id, input_event_hash, generated_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (signal_id) DO UPDATE SET
			source_event_id  = EXCLUDED.source_event_id,
			trace_id         = EXCLUDED.trace_id,
			input_event_hash = EXCLUDED.input_event_hash,
			generated_at     = EXCLUDED.generated_at,
			payload          = EXCLUDED.payload`

	queryByHash      = `SELECT payload FROM signals WHERE input_event_hash = $1`
	queryBySignal    = `SELECT payload FROM signals WHERE signal_id = $1`
	queryByEvent     = `SELECT payload FROM signals WHERE source_event_id = $1 ORDER BY generated_at DESC, signal_id ASC`
	queryRecent      = `SELECT payload FROM signals ORDER BY generated_at DESC, signal_id ASC LIMIT $1 OFFSET $2`
	queryRecentSince = `SELECT payload FROM signals WHERE generated_at >= $1 ORDER BY generated_at DESC, signal_id ASC LIMIT $2 OFFSET $3`
	queryCount       = `SELECT COUNT(*) FROM signals`
	queryCountSince  = `SELECT COUNT(*) FROM signals WHERE generated_at >= $1`
)

// Postgres implements Repository over sqlx.
type Postgres struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgres wraps an open connection pool. timeout bounds every call.
func NewPostgres(db *sqlx.DB, timeout time.Duration) *Postgres {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Postgres{db: db, timeout: timeout}
}

// Migrate creates the signals table and its indices.
func (r *Postgres) Migrate(ctx context.Context) error {
	for _, ddl := range []string{schemaSignals, schemaHashIndex, schemaEventIndex} {
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return &domain.StoreUnavailableError{Store: "postgres", Err: err}
		}
	}
	return nil
}

// Ping reports connectivity.
func (r *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.db.PingContext(ctx)
}

// Save implements Repository. A conflicting input_event_hash held by a
// different signal surfaces as domain.ErrDuplicateSignal.
func (r *Postgres) Save(ctx context.Context, signal domain.OmenSignal) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := domain.CanonicalJSON(signal)
	if err != nil {
		return fmt.Errorf("encode signal %s: %w", signal.SignalID, err)
	}

	_, err = r.db.ExecContext(ctx, queryUpsert,
		signal.SignalID, signal.SourceEventID, signal.TraceID,
		signal.InputEventHash, signal.GeneratedAt, payload)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("signal %s: %w", signal.SignalID, domain.ErrDuplicateSignal)
		}
		return fmt.Errorf("save signal %s: %w", signal.SignalID, err)
	}
	return nil
}

// FindByHash implements Repository.
func (r *Postgres) FindByHash(ctx context.Context, inputEventHash string) (domain.OmenSignal, error) {
	return r.findOne(ctx, queryByHash, inputEventHash)
}

// FindBySignalID implements Repository.
func (r *Postgres) FindBySignalID(ctx context.Context, signalID string) (domain.OmenSignal, error) {
	return r.findOne(ctx, queryBySignal, signalID)
}

// FindByEventID implements Repository.
func (r *Postgres) FindByEventID(ctx context.Context, sourceEventID string) ([]domain.OmenSignal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, queryByEvent, sourceEventID)
	if err != nil {
		return nil, fmt.Errorf("query signals by event: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

// FindRecent implements Repository. limit <= 0 means no limit.
func (r *Postgres) FindRecent(ctx context.Context, limit, offset int, since *time.Time) ([]domain.OmenSignal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		rows *sqlx.Rows
		err  error
	)
	if since != nil {
		rows, err = r.db.QueryxContext(ctx, queryRecentSince, since.UTC(), limitArg(limit), offset)
	} else {
		rows, err = r.db.QueryxContext(ctx, queryRecent, limitArg(limit), offset)
	}
	if err != nil {
		return nil, fmt.Errorf("query recent signals: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

// Count implements Repository.
func (r *Postgres) Count(ctx context.Context, since *time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		n   int
		err error
	)
	if since != nil {
		err = r.db.QueryRowxContext(ctx, queryCountSince, since.UTC()).Scan(&n)
	} else {
		err = r.db.QueryRowxContext(ctx, queryCount).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count signals: %w", err)
	}
	return n, nil
}

func (r *Postgres) findOne(ctx context.Context, query, key string) (domain.OmenSignal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var payload []byte
	if err := r.db.QueryRowxContext(ctx, query, key).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OmenSignal{}, domain.ErrSignalNotFound
		}
		return domain.OmenSignal{}, fmt.Errorf("query signal: %w", err)
	}
	return decodeSignal(payload)
}

func scanSignals(rows *sqlx.Rows) ([]domain.OmenSignal, error) {
	var out []domain.OmenSignal
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan signal payload: %w", err)
		}
		signal, err := decodeSignal(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, signal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signals: %w", err)
	}
	return out, nil
}

func decodeSignal(payload []byte) (domain.OmenSignal, error) {
	var signal domain.OmenSignal
	if err := json.Unmarshal(payload, &signal); err != nil {
		return domain.OmenSignal{}, fmt.Errorf("decode signal payload: %w", err)
	}
	return signal, nil
}

// Postgres LIMIT NULL means no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
