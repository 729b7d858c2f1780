package domain

import "time"

// ProcessingContext fixes the timestamps and ruleset for one pipeline
// invocation. Every explanation step, validation result and emitted
// signal takes its timestamp from here, never from the wall clock. This
// is the determinism contract: replaying with the same context yields
// byte-identical output.
type ProcessingContext struct {
	ProcessingTime time.Time `json:"processing_time"`
	RulesetVersion string    `json:"ruleset_version"`
	TraceID        string    `json:"trace_id"`
}

// NewProcessingContext derives the run trace id from the processing time
// and ruleset version.
func NewProcessingContext(processingTime time.Time, rulesetVersion string) ProcessingContext {
	ts := processingTime.UTC()
	return ProcessingContext{
		ProcessingTime: ts,
		RulesetVersion: rulesetVersion,
		TraceID:        HashHex([]byte(ts.Format(time.RFC3339Nano) + rulesetVersion)),
	}
}

// ScenarioSeed yields a stable seed for any pseudo-random scenario data
// generated under this context, so mock fixtures replay deterministically.
func (c ProcessingContext) ScenarioSeed() int64 {
	return c.ProcessingTime.UnixNano()
}
