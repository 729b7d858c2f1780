package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/pipeline"
)

var _ pipeline.SignalStore = (*Memory)(nil)
var _ Repository = (*Memory)(nil)

var repoTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func storedSignal(id, hash, eventID string, at time.Time) domain.OmenSignal {
	return domain.OmenSignal{
		SignalID:       id,
		SourceEventID:  eventID,
		TraceID:        "trace-" + id,
		InputEventHash: hash,
		Title:          "Signal " + id,
		GeneratedAt:    at,
	}
}

func TestMemory_SaveIsUpsert(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	first := storedSignal("OMEN-AAA111", "hash-1", "evt-1", repoTime)
	require.NoError(t, repo.Save(ctx, first))

	updated := first
	updated.Title = "Signal OMEN-AAA111 (revised)"
	require.NoError(t, repo.Save(ctx, updated))

	n, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.FindBySignalID(ctx, "OMEN-AAA111")
	require.NoError(t, err)
	assert.Equal(t, "Signal OMEN-AAA111 (revised)", got.Title)
}

func TestMemory_FindByHashProbe(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	_, err := repo.FindByHash(ctx, "hash-1")
	require.ErrorIs(t, err, domain.ErrSignalNotFound)

	signal := storedSignal("OMEN-AAA111", "hash-1", "evt-1", repoTime)
	require.NoError(t, repo.Save(ctx, signal))

	got, err := repo.FindByHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, signal, got)
}

func TestMemory_DuplicateHashRefused(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, storedSignal("OMEN-AAA111", "hash-1", "evt-1", repoTime)))

	err := repo.Save(ctx, storedSignal("OMEN-BBB222", "hash-1", "evt-2", repoTime.Add(time.Minute)))
	require.ErrorIs(t, err, domain.ErrDuplicateSignal)

	// The original owner is untouched.
	got, err := repo.FindByHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "OMEN-AAA111", got.SignalID)
}

func TestMemory_UpsertReleasesOldHash(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	first := storedSignal("OMEN-AAA111", "hash-1", "evt-1", repoTime)
	require.NoError(t, repo.Save(ctx, first))

	rehashed := first
	rehashed.InputEventHash = "hash-2"
	require.NoError(t, repo.Save(ctx, rehashed))

	_, err := repo.FindByHash(ctx, "hash-1")
	assert.ErrorIs(t, err, domain.ErrSignalNotFound, "stale hash index entry must be dropped")

	got, err := repo.FindByHash(ctx, "hash-2")
	require.NoError(t, err)
	assert.Equal(t, "OMEN-AAA111", got.SignalID)
}

func TestMemory_FindByEventIDNewestFirst(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, storedSignal("OMEN-AAA111", "hash-1", "evt-1", repoTime)))
	require.NoError(t, repo.Save(ctx, storedSignal("OMEN-BBB222", "hash-2", "evt-1", repoTime.Add(2*time.Hour))))
	require.NoError(t, repo.Save(ctx, storedSignal("OMEN-CCC333", "hash-3", "evt-2", repoTime.Add(time.Hour))))

	got, err := repo.FindByEventID(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "OMEN-BBB222", got[0].SignalID)
	assert.Equal(t, "OMEN-AAA111", got[1].SignalID)

	none, err := repo.FindByEventID(ctx, "evt-unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemory_FindRecent(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	for i, id := range []string{"OMEN-AAA111", "OMEN-BBB222", "OMEN-CCC333", "OMEN-DDD444", "OMEN-EEE555"} {
		signal := storedSignal(id, "hash-"+id, "evt-"+id, repoTime.Add(time.Duration(i)*time.Hour))
		require.NoError(t, repo.Save(ctx, signal))
	}

	ids := func(signals []domain.OmenSignal) []string {
		out := make([]string, 0, len(signals))
		for _, s := range signals {
			out = append(out, s.SignalID)
		}
		return out
	}

	page, err := repo.FindRecent(ctx, 2, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"OMEN-EEE555", "OMEN-DDD444"}, ids(page))

	page, err = repo.FindRecent(ctx, 2, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"OMEN-CCC333", "OMEN-BBB222"}, ids(page))

	since := repoTime.Add(3 * time.Hour)
	page, err = repo.FindRecent(ctx, 0, 0, &since)
	require.NoError(t, err)
	assert.Equal(t, []string{"OMEN-EEE555", "OMEN-DDD444"}, ids(page))

	all, err := repo.FindRecent(ctx, 0, 0, nil)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestMemory_FindRecentTieBreak(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	// Same generated_at resolves by ascending signal id.
	require.NoError(t, repo.Save(ctx, storedSignal("OMEN-BBB222", "hash-1", "evt-1", repoTime)))
	require.NoError(t, repo.Save(ctx, storedSignal("OMEN-AAA111", "hash-2", "evt-2", repoTime)))

	page, err := repo.FindRecent(ctx, 0, 0, nil)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "OMEN-AAA111", page[0].SignalID)
	assert.Equal(t, "OMEN-BBB222", page[1].SignalID)
}

func TestMemory_CountSince(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, storedSignal("OMEN-AAA111", "hash-1", "evt-1", repoTime)))
	require.NoError(t, repo.Save(ctx, storedSignal("OMEN-BBB222", "hash-2", "evt-2", repoTime.Add(time.Hour))))

	since := repoTime.Add(30 * time.Minute)
	n, err := repo.Count(ctx, &since)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpen_EmptyDSNUsesMemory(t *testing.T) {
	repo, err := Open("", time.Second)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, repo)
}
