package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/ledger"
)

var _ Ledger = (*ledger.Ledger)(nil)

var reconcileNoon = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

type reconcileClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *reconcileClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func reconcileRecord(t *testing.T, id, partition string, seq int64) domain.LedgerRecord {
	t.Helper()
	sig := domain.OmenSignal{
		SignalID:       id,
		SourceEventID:  "evt-" + id,
		TraceID:        "trace-" + id,
		InputEventHash: "hash-" + id,
		Title:          "Signal " + id,
		RulesetVersion: "v1.0.0",
		GeneratedAt:    reconcileNoon.Add(time.Minute),
	}
	ev, err := domain.NewSignalEvent(sig, reconcileNoon, reconcileNoon.Add(time.Minute))
	require.NoError(t, err)
	written := reconcileNoon.Add(time.Minute)
	ev.LedgerPartition = partition
	ev.LedgerSequence = seq
	ev.LedgerWrittenAt = &written
	rec, err := domain.NewLedgerRecord(ev)
	require.NoError(t, err)
	return rec
}

type stubLedger struct {
	partitions []string
	manifests  map[string]ledger.Manifest
	ids        map[string][]string
	records    map[string]map[string]domain.LedgerRecord
}

func newStubLedger() *stubLedger {
	return &stubLedger{
		manifests: map[string]ledger.Manifest{},
		ids:       map[string][]string{},
		records:   map[string]map[string]domain.LedgerRecord{},
	}
}

func (s *stubLedger) add(t *testing.T, partition string, sealed bool, ids ...string) {
	t.Helper()
	s.partitions = append(s.partitions, partition)
	man := ledger.Manifest{
		Partition:         partition,
		HighwaterSequence: int64(len(ids)),
		ManifestRevision:  int64(len(ids)),
		UpdatedAt:         reconcileNoon,
	}
	if sealed {
		sealedAt := reconcileNoon.Add(26 * time.Hour)
		man.SealedAt = &sealedAt
		man.ManifestRevision++
	}
	s.manifests[partition] = man
	s.ids[partition] = ids
	recs := map[string]domain.LedgerRecord{}
	for i, id := range ids {
		recs[id] = reconcileRecord(t, id, partition, int64(i+1))
	}
	s.records[partition] = recs
}

func (s *stubLedger) Partitions() ([]string, error) { return s.partitions, nil }

func (s *stubLedger) Manifest(name string) (ledger.Manifest, error) {
	man, ok := s.manifests[name]
	if !ok {
		return ledger.Manifest{}, ledger.ErrPartitionNotFound
	}
	return man, nil
}

func (s *stubLedger) SignalIDs(name string) ([]string, error) { return s.ids[name], nil }

func (s *stubLedger) FindRecord(name, signalID string) (domain.LedgerRecord, error) {
	rec, ok := s.records[name][signalID]
	if !ok {
		return domain.LedgerRecord{}, domain.ErrSignalNotFound
	}
	return rec, nil
}

type stubDownstream struct {
	mu        sync.Mutex
	processed map[string][]string
	replayed  []string
	listCalls []string
	listErr   error
	replayErr error
}

func newStubDownstream() *stubDownstream {
	return &stubDownstream{processed: map[string][]string{}}
}

func (s *stubDownstream) ListProcessedIDs(_ context.Context, partition string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls = append(s.listCalls, partition)
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]string(nil), s.processed[partition]...), nil
}

func (s *stubDownstream) Replay(_ context.Context, rec domain.LedgerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replayErr != nil {
		return s.replayErr
	}
	s.replayed = append(s.replayed, rec.Signal.SignalID)
	s.processed[rec.Signal.LedgerPartition] = append(s.processed[rec.Signal.LedgerPartition], rec.Signal.SignalID)
	return nil
}

func newTestReconciler(t *testing.T, led Ledger, down Downstream) (*Reconciler, *FileStateStore) {
	t.Helper()
	states, err := NewFileStateStore(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	clock := &reconcileClock{now: reconcileNoon}
	return New(DefaultConfig(), led, states, down, zerolog.Nop(), WithClock(clock.Now)), states
}

func TestReconciler_ReplaysMissingInLedgerOrder(t *testing.T) {
	led := newStubLedger()
	led.add(t, "2026-03-14", true, "OMEN-AAA111", "OMEN-BBB222", "OMEN-CCC333")
	down := newStubDownstream()
	down.processed["2026-03-14"] = []string{"OMEN-AAA111"}
	r, states := newTestReconciler(t, led, down)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Partitions, 1)

	pr := report.Partitions[0]
	assert.Equal(t, StatusCompleted, pr.Status)
	assert.Equal(t, "never_processed", pr.Reason)
	assert.Equal(t, 2, pr.Missing)
	assert.Equal(t, 2, pr.Replayed)
	assert.Equal(t, []string{"OMEN-BBB222", "OMEN-CCC333"}, down.replayed)
	assert.False(t, report.Failed())

	state, found, err := states.Load("2026-03-14")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(3), state.LastHighwater)
	assert.Equal(t, int64(3), state.LedgerRecordCount)
	assert.Equal(t, 1, state.ProcessedCount)
	assert.Equal(t, 2, state.MissingCount)
	assert.Equal(t, 2, state.ReplayedCount)
	assert.Equal(t, StatusCompleted, state.Status)
}

func TestReconciler_SkipsWhenStateMatchesManifest(t *testing.T) {
	led := newStubLedger()
	led.add(t, "2026-03-14", true, "OMEN-AAA111")
	down := newStubDownstream()
	r, states := newTestReconciler(t, led, down)

	man := led.manifests["2026-03-14"]
	require.NoError(t, states.Store(PartitionState{
		Partition:        "2026-03-14",
		LastHighwater:    man.HighwaterSequence,
		ManifestRevision: man.ManifestRevision,
		Status:           StatusCompleted,
	}))

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Partitions, 1)
	assert.Equal(t, StatusSkipped, report.Partitions[0].Status)
	assert.Equal(t, "up_to_date", report.Partitions[0].Reason)
	assert.Empty(t, down.listCalls)
}

func TestReconciler_HighwaterIncreaseRetriggers(t *testing.T) {
	led := newStubLedger()
	led.add(t, "2026-03-14", true, "OMEN-AAA111", "OMEN-BBB222")
	down := newStubDownstream()
	down.processed["2026-03-14"] = []string{"OMEN-AAA111"}
	r, states := newTestReconciler(t, led, down)

	require.NoError(t, states.Store(PartitionState{
		Partition:        "2026-03-14",
		LastHighwater:    1,
		ManifestRevision: 1,
		Status:           StatusCompleted,
	}))

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Partitions, 1)
	assert.Equal(t, "highwater_increased", report.Partitions[0].Reason)
	assert.Equal(t, []string{"OMEN-BBB222"}, down.replayed)
}

func TestReconciler_UnsealedMainSkipped(t *testing.T) {
	led := newStubLedger()
	led.add(t, "2026-03-14", false, "OMEN-AAA111")
	down := newStubDownstream()
	r, states := newTestReconciler(t, led, down)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Partitions, 1)
	assert.Equal(t, StatusSkipped, report.Partitions[0].Status)
	assert.Equal(t, "unsealed", report.Partitions[0].Reason)

	_, found, err := states.Load("2026-03-14")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReconciler_LatePartitionCountsMainProcessed(t *testing.T) {
	led := newStubLedger()
	led.add(t, "2026-03-14-late", false, "OMEN-LATE111")
	down := newStubDownstream()
	down.processed["2026-03-14"] = []string{"OMEN-LATE111"}
	r, _ := newTestReconciler(t, led, down)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Partitions, 1)

	// Unsealed late partitions still reconcile, and ids already handled
	// under the main partition are not re-replayed.
	pr := report.Partitions[0]
	assert.Equal(t, StatusCompleted, pr.Status)
	assert.Equal(t, 0, pr.Missing)
	assert.Empty(t, down.replayed)
	assert.Equal(t, []string{"2026-03-14-late", "2026-03-14"}, down.listCalls)
}

func TestReconciler_ExtrasAreLoggedNotFailed(t *testing.T) {
	led := newStubLedger()
	led.add(t, "2026-03-14", true, "OMEN-AAA111")
	down := newStubDownstream()
	down.processed["2026-03-14"] = []string{"OMEN-AAA111", "OMEN-GHOST99"}

	var buf bytes.Buffer
	states, err := NewFileStateStore(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	clock := &reconcileClock{now: reconcileNoon}
	r := New(DefaultConfig(), led, states, down, zerolog.New(&buf), WithClock(clock.Now))

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Partitions, 1)
	assert.Equal(t, StatusCompleted, report.Partitions[0].Status)
	assert.Equal(t, 1, report.Partitions[0].Extras)
	assert.Contains(t, buf.String(), "downstream_superset")
}

func TestReconciler_ReplayBatchCapThenRetry(t *testing.T) {
	led := newStubLedger()
	led.add(t, "2026-03-14", true, "OMEN-AAA111", "OMEN-BBB222", "OMEN-CCC333")
	down := newStubDownstream()
	states, err := NewFileStateStore(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	clock := &reconcileClock{now: reconcileNoon}
	cfg := DefaultConfig()
	cfg.MaxReplayBatch = 2
	r := New(cfg, led, states, down, zerolog.Nop(), WithClock(clock.Now))

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Partitions, 1)
	assert.Equal(t, StatusPartial, report.Partitions[0].Status)
	assert.Equal(t, 2, report.Partitions[0].Replayed)

	// The manifest has not moved, but a partial state must retrigger.
	report, err = r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Partitions, 1)
	assert.Equal(t, "retry_incomplete", report.Partitions[0].Reason)
	assert.Equal(t, StatusCompleted, report.Partitions[0].Status)
	assert.Equal(t, []string{"OMEN-AAA111", "OMEN-BBB222", "OMEN-CCC333"}, down.replayed)
}

func TestReconciler_ReplayFailureMarksFailed(t *testing.T) {
	led := newStubLedger()
	led.add(t, "2026-03-14", true, "OMEN-AAA111")
	down := newStubDownstream()
	down.replayErr = errors.New("downstream down")
	r, states := newTestReconciler(t, led, down)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Partitions, 1)
	assert.Equal(t, StatusFailed, report.Partitions[0].Status)
	assert.Equal(t, 1, report.Partitions[0].Failed)
	assert.True(t, report.Failed())

	state, found, err := states.Load("2026-03-14")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StatusFailed, state.Status)
}

func TestReconciler_ListErrorMarksFailed(t *testing.T) {
	led := newStubLedger()
	led.add(t, "2026-03-14", true, "OMEN-AAA111")
	down := newStubDownstream()
	down.listErr = errors.New("connection refused")
	r, states := newTestReconciler(t, led, down)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Partitions, 1)
	assert.Equal(t, StatusFailed, report.Partitions[0].Status)
	assert.Equal(t, "list processed ids", report.Partitions[0].Reason)
	assert.True(t, report.Failed())

	_, found, err := states.Load("2026-03-14")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReconciler_LookbackWindowExcludesOldPartitions(t *testing.T) {
	led := newStubLedger()
	led.add(t, "2026-03-01", true, "OMEN-OLD0001")
	led.add(t, "2026-03-14", true, "OMEN-AAA111")
	down := newStubDownstream()
	r, _ := newTestReconciler(t, led, down)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Partitions, 1)
	assert.Equal(t, "2026-03-14", report.Partitions[0].Partition)
}

func TestReconciler_EndToEndWithLedgerAndLocalStore(t *testing.T) {
	clock := &reconcileClock{now: reconcileNoon}
	cfg := ledger.DefaultConfig()
	cfg.BasePath = t.TempDir()
	led, err := ledger.New(cfg, zerolog.Nop(), ledger.WithClock(clock.Now))
	require.NoError(t, err)
	defer led.Close()

	for _, id := range []string{"OMEN-AAA111", "OMEN-BBB222"} {
		sig := domain.OmenSignal{
			SignalID:       id,
			SourceEventID:  "evt-" + id,
			TraceID:        "trace-" + id,
			InputEventHash: "hash-" + id,
			Title:          "Signal " + id,
			RulesetVersion: "v1.0.0",
			GeneratedAt:    reconcileNoon,
		}
		ev, err := domain.NewSignalEvent(sig, reconcileNoon, reconcileNoon.Add(time.Minute))
		require.NoError(t, err)
		_, err = led.Append(ev)
		require.NoError(t, err)
	}
	require.NoError(t, led.Seal("2026-03-14"))

	states, err := NewFileStateStore(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	down, err := NewLocalStore(filepath.Join(t.TempDir(), "downstream"))
	require.NoError(t, err)
	r := New(DefaultConfig(), led, states, down, zerolog.Nop(), WithClock(clock.Now))

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Partitions, 1)
	assert.Equal(t, StatusCompleted, report.Partitions[0].Status)
	assert.Equal(t, 2, report.Partitions[0].Replayed)

	ids, err := down.ListProcessedIDs(context.Background(), "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, []string{"OMEN-AAA111", "OMEN-BBB222"}, ids)

	report, err = r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Partitions, 1)
	assert.Equal(t, StatusSkipped, report.Partitions[0].Status)
	assert.Equal(t, "up_to_date", report.Partitions[0].Reason)
}

func TestFileStateStore_RoundTrip(t *testing.T) {
	states, err := NewFileStateStore(t.TempDir())
	require.NoError(t, err)

	_, found, err := states.Load("2026-03-14")
	require.NoError(t, err)
	assert.False(t, found)

	want := PartitionState{
		Partition:         "2026-03-14",
		LastHighwater:     7,
		ManifestRevision:  9,
		LedgerRecordCount: 7,
		ProcessedCount:    5,
		MissingCount:      2,
		ReplayedCount:     2,
		Status:            StatusCompleted,
		DurationMS:        12.5,
		UpdatedAt:         reconcileNoon,
	}
	require.NoError(t, states.Store(want))

	got, found, err := states.Load("2026-03-14")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, got)
}

func TestLocalStore_ReplayIsIdempotent(t *testing.T) {
	down, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ids, err := down.ListProcessedIDs(ctx, "2026-03-14")
	require.NoError(t, err)
	assert.Empty(t, ids)

	rec := reconcileRecord(t, "OMEN-AAA111", "2026-03-14", 1)
	require.NoError(t, down.Replay(ctx, rec))
	require.NoError(t, down.Replay(ctx, rec))

	ids, err = down.ListProcessedIDs(ctx, "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, []string{"OMEN-AAA111"}, ids)
}

func TestLocalStore_ReplayRequiresPartitionStamp(t *testing.T) {
	down, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	rec := reconcileRecord(t, "OMEN-AAA111", "2026-03-14", 1)
	rec.Signal.LedgerPartition = ""
	err = down.Replay(context.Background(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no ledger partition stamp")
}

func TestHTTPDownstream_ListAndReplay(t *testing.T) {
	var replayedID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/partitions/2026-03-14/processed":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"signal_ids":["OMEN-AAA111","OMEN-BBB222"]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/replay":
			var rec domain.LedgerRecord
			if assert.NoError(t, json.NewDecoder(r.Body).Decode(&rec)) {
				assert.NoError(t, rec.Verify())
				replayedID = rec.Signal.SignalID
			}
			w.WriteHeader(http.StatusAccepted)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	down := NewHTTPDownstream(srv.URL+"/", 5*time.Second)
	ctx := context.Background()

	ids, err := down.ListProcessedIDs(ctx, "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, []string{"OMEN-AAA111", "OMEN-BBB222"}, ids)

	rec := reconcileRecord(t, "OMEN-CCC333", "2026-03-14", 3)
	require.NoError(t, down.Replay(ctx, rec))
	assert.Equal(t, "OMEN-CCC333", replayedID)
}

func TestHTTPDownstream_SurfacesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	down := NewHTTPDownstream(srv.URL, 5*time.Second)

	_, err := down.ListProcessedIDs(context.Background(), "2026-03-14")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")

	err = down.Replay(context.Background(), reconcileRecord(t, "OMEN-AAA111", "2026-03-14", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}
