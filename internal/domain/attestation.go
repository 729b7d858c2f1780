package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SourceType is the provenance class of a data source.
type SourceType string

const (
	SourceReal   SourceType = "REAL"
	SourceMock   SourceType = "MOCK"
	SourceHybrid SourceType = "HYBRID"
)

// VerificationMethod names how an attestation was established.
type VerificationMethod string

const (
	MethodAPIResponseHash       VerificationMethod = "API_RESPONSE_HASH"
	MethodCertificateChain      VerificationMethod = "CERTIFICATE_CHAIN"
	MethodSignatureVerification VerificationMethod = "SIGNATURE_VERIFICATION"
	MethodTimestampValidation   VerificationMethod = "TIMESTAMP_VALIDATION"
	MethodMockSourceRegistry    VerificationMethod = "MOCK_SOURCE_REGISTRY"
	MethodManualOverride        VerificationMethod = "MANUAL_OVERRIDE"
)

// AttestationStatus is the lifecycle state of an attestation.
type AttestationStatus string

const (
	AttestationPending  AttestationStatus = "PENDING"
	AttestationVerified AttestationStatus = "VERIFIED"
	AttestationFailed   AttestationStatus = "FAILED"
	AttestationExpired  AttestationStatus = "EXPIRED"
)

// InputSource is one constituent of a hybrid attestation.
type InputSource struct {
	SourceID   string     `json:"source_id"`
	SourceType SourceType `json:"source_type"`
	Confidence float64    `json:"confidence"`
}

// SignalAttestation records the provenance of one emitted signal. Every
// signal has exactly one; re-verification appends AttestationVerification
// records and never mutates the original.
type SignalAttestation struct {
	ID              string             `json:"id"`
	SignalID        string             `json:"signal_id"`
	SourceID        string             `json:"source_id"`
	SourceType      SourceType         `json:"source_type"`
	Method          VerificationMethod `json:"verification_method"`
	Status          AttestationStatus  `json:"status"`
	APIResponseHash string             `json:"api_response_hash,omitempty"`
	Confidence      float64            `json:"confidence"`
	AttestedAt      time.Time          `json:"attested_at"`
	InputSources    []InputSource      `json:"input_sources,omitempty"`
}

// NewRealAttestation builds a REAL attestation. Construction fails
// without the canonical hash of the upstream API response.
func NewRealAttestation(signalID, sourceID, apiResponseHash string, attestedAt time.Time) (SignalAttestation, error) {
	if apiResponseHash == "" {
		return SignalAttestation{}, fmt.Errorf("attest %s from %s: %w", signalID, sourceID, ErrMissingResponseHash)
	}
	return SignalAttestation{
		ID:              uuid.NewString(),
		SignalID:        signalID,
		SourceID:        sourceID,
		SourceType:      SourceReal,
		Method:          MethodAPIResponseHash,
		Status:          AttestationVerified,
		APIResponseHash: apiResponseHash,
		Confidence:      1.0,
		AttestedAt:      attestedAt.UTC(),
	}, nil
}

// NewMockAttestation builds a MOCK attestation established by registry
// lookup.
func NewMockAttestation(signalID, sourceID string, attestedAt time.Time) SignalAttestation {
	return SignalAttestation{
		ID:         uuid.NewString(),
		SignalID:   signalID,
		SourceID:   sourceID,
		SourceType: SourceMock,
		Method:     MethodMockSourceRegistry,
		Status:     AttestationVerified,
		Confidence: 1.0,
		AttestedAt: attestedAt.UTC(),
	}
}

// NewHybridAttestation collapses the input sources: all-REAL collapses to
// REAL, all-MOCK to MOCK, mixed stays HYBRID. Confidence is the minimum
// across inputs. Routing treats HYBRID exactly like MOCK.
func NewHybridAttestation(signalID string, inputs []InputSource, attestedAt time.Time) (SignalAttestation, error) {
	if len(inputs) == 0 {
		return SignalAttestation{}, fmt.Errorf("attest %s: %w", signalID, ErrNoInputSources)
	}

	collapsed := inputs[0].SourceType
	minConfidence := inputs[0].Confidence
	for _, in := range inputs[1:] {
		if in.SourceType != collapsed {
			collapsed = SourceHybrid
		}
		if in.Confidence < minConfidence {
			minConfidence = in.Confidence
		}
	}

	return SignalAttestation{
		ID:           uuid.NewString(),
		SignalID:     signalID,
		SourceID:     inputs[0].SourceID,
		SourceType:   collapsed,
		Method:       MethodMockSourceRegistry,
		Status:       AttestationVerified,
		Confidence:   minConfidence,
		AttestedAt:   attestedAt.UTC(),
		InputSources: inputs,
	}, nil
}

// Validate enforces the provenance invariants.
func (a SignalAttestation) Validate() error {
	if a.SourceType == SourceReal {
		if a.APIResponseHash == "" {
			return fmt.Errorf("attestation %s: %w", a.ID, ErrMissingResponseHash)
		}
		if a.Method == MethodMockSourceRegistry {
			return fmt.Errorf("attestation %s: %w", a.ID, ErrRealViaMockRegistry)
		}
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("attestation %s: confidence %.4f outside [0,1]", a.ID, a.Confidence)
	}
	return nil
}

// VerifiedReal reports whether the attestation may route to the live
// schema: REAL, verified, with the response hash present.
func (a SignalAttestation) VerifiedReal() bool {
	return a.SourceType == SourceReal && a.Status == AttestationVerified && a.APIResponseHash != ""
}

// AttestationVerification is an append-only re-verification record.
type AttestationVerification struct {
	ID            string             `json:"id"`
	AttestationID string             `json:"attestation_id"`
	Method        VerificationMethod `json:"verification_method"`
	Status        AttestationStatus  `json:"status"`
	Detail        string             `json:"detail,omitempty"`
	CheckedAt     time.Time          `json:"checked_at"`
}

// NewAttestationVerification records one re-check of an attestation.
func NewAttestationVerification(attestationID string, method VerificationMethod, status AttestationStatus, detail string, checkedAt time.Time) AttestationVerification {
	return AttestationVerification{
		ID:            uuid.NewString(),
		AttestationID: attestationID,
		Method:        method,
		Status:        status,
		Detail:        detail,
		CheckedAt:     checkedAt.UTC(),
	}
}
