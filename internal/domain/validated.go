package domain

// SignalCategory classifies the real-world domain of a signal.
type SignalCategory string

const (
	CategoryGeopolitical   SignalCategory = "GEOPOLITICAL"
	CategoryClimate        SignalCategory = "CLIMATE"
	CategoryLabor          SignalCategory = "LABOR"
	CategoryRegulatory     SignalCategory = "REGULATORY"
	CategoryInfrastructure SignalCategory = "INFRASTRUCTURE"
	CategoryEconomic       SignalCategory = "ECONOMIC"
	CategoryOther          SignalCategory = "OTHER"
	CategoryUnknown        SignalCategory = "UNKNOWN"
)

// ValidationStatus is the outcome of one rule evaluation.
type ValidationStatus string

const (
	StatusPassed               ValidationStatus = "PASSED"
	StatusRejectedLowLiquidity ValidationStatus = "REJECTED_LOW_LIQUIDITY"
	StatusRejectedManipulation ValidationStatus = "REJECTED_MANIPULATION_SUSPECTED"
	StatusRejectedSemantic     ValidationStatus = "REJECTED_IRRELEVANT_SEMANTIC"
	StatusRejectedGeography    ValidationStatus = "REJECTED_IRRELEVANT_GEOGRAPHY"
	StatusRejectedRuleError    ValidationStatus = "REJECTED_RULE_ERROR"
)

// Rejected reports whether the status is any rejection.
func (s ValidationStatus) Rejected() bool { return s != StatusPassed }

// ValidationResult is one rule's verdict on an event.
type ValidationResult struct {
	RuleName    string           `json:"rule_name"`
	RuleVersion string           `json:"rule_version"`
	Status      ValidationStatus `json:"status"`
	Score       float64          `json:"score"`
	Reason      string           `json:"reason"`
}

// ValidatedSignal is the event after it cleared the rule chain, carrying
// the full evaluation record. Immutable.
type ValidatedSignal struct {
	Event               RawSignalEvent     `json:"event"`
	Category            SignalCategory     `json:"category"`
	RelevantLocations   []Location         `json:"relevant_locations,omitempty"`
	AffectedChokepoints []string           `json:"affected_chokepoints,omitempty"`
	Results             []ValidationResult `json:"validation_results"`
	OverallScore        float64            `json:"overall_validation_score"`
	SignalStrength      float64            `json:"signal_strength"`
	LiquidityScore      float64            `json:"liquidity_score"`
	RulesetVersion      string             `json:"ruleset_version"`
	Explanation         *ExplanationChain  `json:"explanation_chain,omitempty"`
	TraceID             string             `json:"trace_id"`
}

// ValidationOutcome is what the validator returns: either a validated
// signal or the rejection that stopped the chain, plus every rule result
// evaluated along the way.
type ValidationOutcome struct {
	Passed          bool               `json:"passed"`
	Signal          *ValidatedSignal   `json:"signal,omitempty"`
	RejectionReason string             `json:"rejection_reason,omitempty"`
	Results         []ValidationResult `json:"results"`
}

// FirstRejection returns the rule name and status of the first failing
// result, or empty strings when everything passed.
func (o ValidationOutcome) FirstRejection() (rule string, status ValidationStatus) {
	for _, r := range o.Results {
		if r.Status.Rejected() {
			return r.RuleName, r.Status
		}
	}
	return "", ""
}
