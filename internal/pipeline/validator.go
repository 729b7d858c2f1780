// Package pipeline turns raw signal events into audited OmenSignals:
// validation rule chain, enrichment, deterministic generation and the
// orchestrator that ties them to persistence and publishing. Everything
// here is clock-free; timestamps come from the ProcessingContext.
package pipeline

import (
	"fmt"

	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/pipeline/rules"
	"github.com/omenworks/omen/internal/registry"
)

// ValidatorConfig controls the rule-error policy. With FailOnRuleError a
// rule failure rejects the event outright; without it the failure is
// recorded as a result and the chain continues.
type ValidatorConfig struct {
	FailOnRuleError bool `yaml:"fail_on_rule_error"`
}

// DefaultValidatorConfig fails closed.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{FailOnRuleError: true}
}

// Validator runs the rule chain in its fixed order. Rules never log;
// everything they conclude arrives in the outcome.
type Validator struct {
	cfg         ValidatorConfig
	marketChain []rules.Rule
	gatedChain  []rules.Rule
}

// DefaultMarketChain is the full chain for prediction-market events,
// cheapest filter first. The order is part of the contract.
func DefaultMarketChain() []rules.Rule {
	return []rules.Rule{
		rules.NewLiquidityRule(rules.DefaultLiquidityConfig()),
		rules.NewAnomalyRule(rules.DefaultAnomalyConfig()),
		rules.NewSemanticRule(rules.DefaultSemanticConfig()),
		rules.NewGeographicRule(rules.DefaultGeographicConfig()),
	}
}

// DefaultGatedChain applies to events that already cleared a
// source-specific quality gate (news, AIS, commodity, stats). They carry
// no order book, so the market-microstructure rules are skipped.
func DefaultGatedChain() []rules.Rule {
	return []rules.Rule{
		rules.NewSemanticRule(rules.DefaultSemanticConfig()),
		rules.NewGeographicRule(rules.DefaultGeographicConfig()),
	}
}

// NewValidator builds a validator with the default chains.
func NewValidator(cfg ValidatorConfig) *Validator {
	return &Validator{
		cfg:         cfg,
		marketChain: DefaultMarketChain(),
		gatedChain:  DefaultGatedChain(),
	}
}

// NewValidatorWithChains injects explicit chains, for callers that tune
// individual rules.
func NewValidatorWithChains(cfg ValidatorConfig, marketChain, gatedChain []rules.Rule) *Validator {
	return &Validator{cfg: cfg, marketChain: marketChain, gatedChain: gatedChain}
}

// Validate runs the applicable chain and assembles the outcome. The
// chain stops at the first rejection; on a clean pass it returns the
// validated signal with its explanation chain started.
func (v *Validator) Validate(event domain.RawSignalEvent, pctx domain.ProcessingContext) domain.ValidationOutcome {
	chain := v.gatedChain
	if registry.IsMarketSource(event.Market.Source) {
		chain = v.marketChain
	}

	outcome := domain.ValidationOutcome{}
	explanation := domain.NewExplanationChain(pctx)
	liquidityScore := event.Probability

	for _, rule := range chain {
		res, err := safeEvaluate(rule, event, pctx)
		if err != nil {
			res = domain.ValidationResult{
				RuleName:    rule.Name(),
				RuleVersion: rule.Version(),
				Status:      domain.StatusRejectedRuleError,
				Reason:      err.Error(),
			}
			outcome.Results = append(outcome.Results, res)
			if v.cfg.FailOnRuleError {
				outcome.RejectionReason = string(domain.StatusRejectedRuleError)
				return outcome
			}
			continue
		}

		outcome.Results = append(outcome.Results, res)
		explanation.Append(pctx, domain.ExplanationStep{
			RuleName:               res.RuleName,
			RuleVersion:            res.RuleVersion,
			InputSummary:           inputSummary(event),
			OutputSummary:          string(res.Status),
			ParametersUsed:         rule.Params(),
			Reasoning:              res.Reason,
			ConfidenceContribution: res.Score,
		})

		if res.Status.Rejected() {
			outcome.RejectionReason = string(res.Status)
			return outcome
		}
		if res.RuleName == rules.LiquidityRuleName {
			liquidityScore = res.Score
		}
	}

	if len(outcome.Results) == 0 {
		outcome.RejectionReason = string(domain.StatusRejectedRuleError)
		return outcome
	}

	var sum float64
	for _, res := range outcome.Results {
		sum += res.Score
	}
	overall := sum / float64(len(outcome.Results))

	outcome.Passed = true
	outcome.Signal = &domain.ValidatedSignal{
		Event:               event,
		Category:            inferCategory(event),
		RelevantLocations:   event.InferredLocations,
		AffectedChokepoints: ExtractChokepoints(event),
		Results:             outcome.Results,
		OverallScore:        overall,
		SignalStrength:      overall * event.Probability,
		LiquidityScore:      liquidityScore,
		RulesetVersion:      pctx.RulesetVersion,
		Explanation:         explanation,
		TraceID:             domain.TraceIDFor(event.InputEventHash, pctx.RulesetVersion),
	}
	return outcome
}

// safeEvaluate shields the chain from a panicking rule; the panic
// surfaces as a rule-execution error.
func safeEvaluate(rule rules.Rule, event domain.RawSignalEvent, pctx domain.ProcessingContext) (res domain.ValidationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.RuleExecutionError{Rule: rule.Name(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	res, err = rule.Evaluate(event, pctx)
	if err != nil {
		err = &domain.RuleExecutionError{Rule: rule.Name(), Err: err}
	}
	return res, err
}

func inputSummary(event domain.RawSignalEvent) string {
	title := event.Title
	if len(title) > 80 {
		title = title[:77] + "..."
	}
	return fmt.Sprintf("event %s: %q", event.EventID, title)
}
