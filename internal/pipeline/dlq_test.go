package pipeline

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omenworks/omen/internal/domain"
)

func dlqEvent(id string) domain.RawSignalEvent {
	return domain.RawSignalEvent{EventID: id, Title: "t-" + id}
}

func TestDLQ_FIFO(t *testing.T) {
	q := NewDLQ(DefaultDLQConfig())
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	q.Add(dlqEvent("a"), errors.New("boom-a"), at)
	q.Add(dlqEvent("b"), errors.New("boom-b"), at.Add(time.Minute))
	require.Equal(t, 2, q.Size())

	first, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", first.Event.EventID)
	assert.Equal(t, "boom-a", first.Error)
	assert.Equal(t, at, first.FailedAt)
	assert.Zero(t, first.RetryCount)

	second, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "b", second.Event.EventID)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestDLQ_EvictsOldestAtCapacity(t *testing.T) {
	q := NewDLQ(DLQConfig{MaxEntries: 3})
	at := time.Now().UTC()
	for i := 0; i < 5; i++ {
		q.Add(dlqEvent(fmt.Sprintf("e%d", i)), errors.New("x"), at)
	}

	assert.Equal(t, 3, q.Size())
	assert.Equal(t, 2, q.Dropped())

	entry, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "e2", entry.Event.EventID, "two oldest evicted")
}

func TestDLQ_PeekDoesNotRemove(t *testing.T) {
	q := NewDLQ(DefaultDLQConfig())
	at := time.Now().UTC()
	q.Add(dlqEvent("a"), errors.New("x"), at)
	q.Add(dlqEvent("b"), errors.New("x"), at)
	q.Add(dlqEvent("c"), errors.New("x"), at)

	peeked := q.Peek(2)
	require.Len(t, peeked, 2)
	assert.Equal(t, "a", peeked[0].Event.EventID)
	assert.Equal(t, "b", peeked[1].Event.EventID)
	assert.Equal(t, 3, q.Size())

	assert.Len(t, q.Peek(10), 3, "peek clamps to size")
}

func TestDLQ_GetByEventID(t *testing.T) {
	q := NewDLQ(DefaultDLQConfig())
	at := time.Now().UTC()
	q.Add(dlqEvent("a"), errors.New("first"), at)
	q.Add(dlqEvent("b"), errors.New("second"), at)

	entry, ok := q.GetByEventID("b")
	require.True(t, ok)
	assert.Equal(t, "second", entry.Error)
	assert.Equal(t, 2, q.Size(), "lookup does not remove")

	_, ok = q.GetByEventID("missing")
	assert.False(t, ok)
}

func TestDLQ_Clear(t *testing.T) {
	q := NewDLQ(DefaultDLQConfig())
	at := time.Now().UTC()
	q.Add(dlqEvent("a"), errors.New("x"), at)
	q.Add(dlqEvent("b"), errors.New("x"), at)

	assert.Equal(t, 2, q.Clear())
	assert.Zero(t, q.Size())
	assert.Zero(t, q.Clear())
}

func TestDLQ_AddRetryBumpsCount(t *testing.T) {
	q := NewDLQ(DefaultDLQConfig())
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	q.Add(dlqEvent("a"), errors.New("first failure"), at)

	entry, ok := q.Pop()
	require.True(t, ok)

	q.AddRetry(entry, errors.New("second failure"), at.Add(time.Hour))
	retried, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, retried.RetryCount)
	assert.Equal(t, "second failure", retried.Error)
	assert.Equal(t, at.Add(time.Hour), retried.FailedAt)
}
