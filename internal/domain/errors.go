package domain

import (
	"errors"
	"fmt"
	"time"
)

// Construction errors.
var (
	ErrEventIDRequired       = errors.New("event_id is required")
	ErrTitleRequired         = errors.New("title is required")
	ErrProbabilityOutOfRange = errors.New("probability outside [0,1]")
	ErrNegativeMarketValue   = errors.New("market volume and liquidity must be non-negative")
	ErrObservedAtRequired    = errors.New("observed_at is required")
)

// Persistence errors.
var (
	ErrSignalNotFound   = errors.New("signal not found")
	ErrDuplicateSignal  = errors.New("duplicate signal")
	ErrChecksumMismatch = errors.New("ledger checksum mismatch")
)

// Attestation errors.
var (
	ErrMissingResponseHash  = errors.New("REAL attestation requires api_response_hash")
	ErrRealViaMockRegistry  = errors.New("REAL attestation cannot use MOCK_SOURCE_REGISTRY")
	ErrUnknownSource        = errors.New("source not registered")
	ErrVerificationFailed   = errors.New("attestation verification failed")
	ErrVerificationExpired  = errors.New("attestation verification expired")
	ErrNoInputSources       = errors.New("hybrid attestation requires input sources")
	ErrNoExplanationChain   = errors.New("signal has no explanation chain")
	ErrSchemaVersionInvalid = errors.New("schema version is not valid semver")
)

// SourceUnavailableError reports an upstream source that could not be
// reached or returned an unusable response.
type SourceUnavailableError struct {
	Source string
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// RateLimitError propagates typed so the orchestrator can back off
// instead of hammering the source.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("source %s rate limited, retry after %s", e.Source, e.RetryAfter)
}

// AuthError reports failed authentication against an upstream source.
type AuthError struct {
	Source string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("source %s authentication failed", e.Source)
}

// RuleExecutionError marks a validation rule that raised, as opposed to a
// rule that rejected. Rejection is a normal outcome; this is not.
type RuleExecutionError struct {
	Rule string
	Err  error
}

func (e *RuleExecutionError) Error() string {
	return fmt.Sprintf("rule %s execution failed: %v", e.Rule, e.Err)
}

func (e *RuleExecutionError) Unwrap() error { return e.Err }

// StoreUnavailableError reports a backing store that could not serve a
// read or write.
type StoreUnavailableError struct {
	Store string
	Err   error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store %s unavailable: %v", e.Store, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// PublishError reports a webhook delivery that exhausted its retries.
type PublishError struct {
	Attempts int
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// ConfigError reports an invalid configuration value detected at load time.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}
