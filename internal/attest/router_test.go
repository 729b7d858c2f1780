package attest

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omenworks/omen/internal/domain"
)

func hashlessRealAttestation() domain.SignalAttestation {
	return domain.SignalAttestation{
		ID:         "att-hashless",
		SignalID:   "OMEN-CCC333DDD444",
		SourceID:   "polymarket",
		SourceType: domain.SourceReal,
		Method:     domain.MethodAPIResponseHash,
		Status:     domain.AttestationVerified,
		Confidence: 1.0,
		AttestedAt: gateTime,
	}
}

func TestRouter_Table(t *testing.T) {
	verified, err := domain.NewRealAttestation("OMEN-AAA111BBB222", "polymarket", "deadbeef", gateTime)
	require.NoError(t, err)

	expired := verified
	expired.Status = domain.AttestationExpired

	mock := domain.NewMockAttestation("OMEN-EEE555FFF666", "news-scenario", gateTime)

	hybrid, err := domain.NewHybridAttestation("OMEN-GGG777HHH888", []domain.InputSource{
		{SourceID: "polymarket", SourceType: domain.SourceReal, Confidence: 0.9},
		{SourceID: "news-scenario", SourceType: domain.SourceMock, Confidence: 0.8},
	}, gateTime)
	require.NoError(t, err)

	router := NewRouter(zerolog.Nop())

	cases := []struct {
		name   string
		status GateStatus
		att    domain.SignalAttestation
		want   Schema
	}{
		{"blocked gate demotes verified real", GateBlocked, verified, SchemaDemo},
		{"allowed mock stays demo", GateAllowed, mock, SchemaDemo},
		{"allowed hybrid stays demo", GateAllowed, hybrid, SchemaDemo},
		{"allowed real without hash stays demo", GateAllowed, hashlessRealAttestation(), SchemaDemo},
		{"allowed expired real stays demo", GateAllowed, expired, SchemaDemo},
		{"allowed verified real goes live", GateAllowed, verified, SchemaLive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, router.Route(tc.status, tc.att))
		})
	}
}

func TestRouter_WarnsOnHashlessReal(t *testing.T) {
	var buf bytes.Buffer
	router := NewRouter(zerolog.New(&buf))

	got := router.Route(GateAllowed, hashlessRealAttestation())
	assert.Equal(t, SchemaDemo, got)
	assert.Contains(t, buf.String(), "missing api_response_hash")
	assert.Contains(t, buf.String(), `"signal_id":"OMEN-CCC333DDD444"`)
}
