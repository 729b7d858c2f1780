package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewProcessingContext_Deterministic(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	a := NewProcessingContext(ts, "v1.0.0")
	b := NewProcessingContext(ts, "v1.0.0")
	assert.Equal(t, a.TraceID, b.TraceID)
	assert.Equal(t, a.ScenarioSeed(), b.ScenarioSeed())

	c := NewProcessingContext(ts, "v1.1.0")
	assert.NotEqual(t, a.TraceID, c.TraceID)

	d := NewProcessingContext(ts.Add(time.Nanosecond), "v1.0.0")
	assert.NotEqual(t, a.TraceID, d.TraceID)
}

func TestSignalIDFormats(t *testing.T) {
	trace := TraceIDFor("abc123", "v1.0.0")

	id := SignalIDFromTrace(trace)
	assert.True(t, strings.HasPrefix(id, "OMEN-"))
	assert.Len(t, id, len("OMEN-")+12)
	assert.Equal(t, strings.ToUpper(id), id)

	live := LiveSignalIDFromTrace(trace)
	assert.True(t, strings.HasPrefix(live, LiveSignalPrefix))
	assert.Len(t, live, len(LiveSignalPrefix)+8)

	assert.True(t, OmenSignal{SignalID: live}.IsLive())
	assert.False(t, OmenSignal{SignalID: id}.IsLive())
}

func TestConfidenceLevelFor(t *testing.T) {
	tests := []struct {
		score float64
		want  ConfidenceLevel
	}{
		{0.0, ConfidenceLow},
		{0.39, ConfidenceLow},
		{0.4, ConfidenceMedium},
		{0.69, ConfidenceMedium},
		{0.7, ConfidenceHigh},
		{1.0, ConfidenceHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ConfidenceLevelFor(tt.score), "score %.2f", tt.score)
	}
}
