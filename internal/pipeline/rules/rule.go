// Package rules holds the deterministic validation rule chain. Rules
// never log and never read the clock: everything they need arrives in
// the event and the processing context, and everything they conclude
// leaves through the ValidationResult.
package rules

import (
	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/registry"
)

// Rule is one check in the chain. Evaluate returns a result for both
// passes and rejections; an error means the rule itself failed to run,
// which the validator converts into REJECTED_RULE_ERROR per its policy.
// Params returns the rendered parameter citations the rule evaluates
// against, for the explanation chain.
type Rule interface {
	Name() string
	Version() string
	Params() map[string]string
	Evaluate(event domain.RawSignalEvent, pctx domain.ProcessingContext) (domain.ValidationResult, error)
}

// citeParam renders a configured value against the registry's citation
// for the named parameter, so explanation steps stay auditable even when
// the deployment overrides the default.
func citeParam(name string, value float64) string {
	p := registry.MustParam(name)
	p.Value = value
	return p.Cite()
}

// result is a small helper so every rule stamps its identity the same way.
func result(r Rule, status domain.ValidationStatus, score float64, reason string) domain.ValidationResult {
	return domain.ValidationResult{
		RuleName:    r.Name(),
		RuleVersion: r.Version(),
		Status:      status,
		Score:       score,
		Reason:      reason,
	}
}
