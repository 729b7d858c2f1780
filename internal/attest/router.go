package attest

import (
	"github.com/rs/zerolog"

	"github.com/omenworks/omen/internal/domain"
)

// Schema is a storage routing target.
type Schema string

const (
	SchemaDemo Schema = "demo"
	SchemaLive Schema = "live"
)

// Router maps gate status and attestation provenance onto the target
// schema. MOCK and HYBRID provenance always lands in demo; REAL reaches
// live only through an ALLOWED gate with a verified response hash.
type Router struct {
	logger zerolog.Logger
}

// NewRouter builds a schema router.
func NewRouter(logger zerolog.Logger) *Router {
	return &Router{logger: logger}
}

// Route decides the schema for one signal under the given gate status.
// A REAL attestation with no response hash is a provenance defect: it is
// routed to demo and logged, never promoted.
func (r *Router) Route(status GateStatus, att domain.SignalAttestation) Schema {
	if status != GateAllowed {
		return SchemaDemo
	}
	if att.SourceType != domain.SourceReal {
		return SchemaDemo
	}
	if att.APIResponseHash == "" {
		r.logger.Warn().
			Str("signal_id", att.SignalID).
			Str("attestation_id", att.ID).
			Str("source_id", att.SourceID).
			Msg("REAL attestation missing api_response_hash, routing to demo")
		return SchemaDemo
	}
	if !att.VerifiedReal() {
		return SchemaDemo
	}
	return SchemaLive
}
