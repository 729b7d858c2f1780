package domain

import "time"

// ExplanationStep records one rule or stage contribution to a signal.
// ParametersUsed maps parameter name to a rendered "value unit (source)"
// citation so the step is auditable without the registry at hand.
type ExplanationStep struct {
	StepID                 int               `json:"step_id"`
	RuleName               string            `json:"rule_name"`
	RuleVersion            string            `json:"rule_version"`
	InputSummary           string            `json:"input_summary"`
	OutputSummary          string            `json:"output_summary"`
	ParametersUsed         map[string]string `json:"parameters_used,omitempty"`
	Reasoning              string            `json:"reasoning"`
	ConfidenceContribution float64           `json:"confidence_contribution"`
	Timestamp              time.Time         `json:"timestamp"`
}

// ExplanationChain is the ordered reasoning record carried by every
// emitted signal. A signal that cannot produce a complete chain must not
// be emitted.
type ExplanationChain struct {
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Steps       []ExplanationStep `json:"steps"`
}

// NewExplanationChain starts a chain stamped from the processing context.
func NewExplanationChain(pctx ProcessingContext) *ExplanationChain {
	return &ExplanationChain{StartedAt: pctx.ProcessingTime}
}

// Append adds a step, assigning the next 1-based step id and the context
// timestamp.
func (c *ExplanationChain) Append(pctx ProcessingContext, step ExplanationStep) {
	step.StepID = len(c.Steps) + 1
	step.Timestamp = pctx.ProcessingTime
	c.Steps = append(c.Steps, step)
}

// Complete stamps the chain finished. Idempotent.
func (c *ExplanationChain) Complete(pctx ProcessingContext) {
	c.CompletedAt = pctx.ProcessingTime
}

// IsComplete reports whether the chain has at least one step and has been
// completed.
func (c *ExplanationChain) IsComplete() bool {
	return c != nil && len(c.Steps) > 0 && !c.CompletedAt.IsZero()
}
