package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omenworks/omen/internal/domain"
	"github.com/omenworks/omen/internal/pipeline/rules"
)

var testCtx = domain.NewProcessingContext(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC), "v1.0.0")

func redSeaEvent(t *testing.T) domain.RawSignalEvent {
	t.Helper()
	ev, err := domain.NewRawSignalEvent(domain.RawSignalEvent{
		EventID:     "evt-red-sea-1",
		Title:       "Will Red Sea shipping attacks continue?",
		Description: "Houthi attacks on vessels near the Bab el-Mandeb strait",
		Probability: 0.75,
		Keywords:    []string{"red sea", "shipping"},
		Market: domain.MarketMetadata{
			Source:              "polymarket",
			MarketID:            "mkt-red-sea",
			URL:                 "https://polymarket.com/mkt-red-sea",
			CurrentLiquidityUSD: 50000,
			TotalVolumeUSD:      500000,
		},
		ObservedAt: time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return ev
}

func aisEvent(t *testing.T) domain.RawSignalEvent {
	t.Helper()
	ev, err := domain.NewRawSignalEvent(domain.RawSignalEvent{
		EventID:     "ais-congestion-rotterdam-2026031411-deadbeef",
		Title:       "Severe congestion at Port of Rotterdam",
		Description: "64 vessels waiting against a normal 20",
		Probability: 0.90,
		Keywords:    []string{"congestion", "port", "rotterdam", "shipping"},
		InferredLocations: []domain.Location{
			{Latitude: 51.95, Longitude: 4.14, Name: "Port of Rotterdam", Region: "Europe"},
		},
		Market: domain.MarketMetadata{
			Source:   "ais",
			MarketID: "port-rotterdam",
		},
		ObservedAt: time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return ev
}

func TestValidator_MarketChainPasses(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())
	ev := redSeaEvent(t)

	outcome := v.Validate(ev, testCtx)
	require.True(t, outcome.Passed)
	require.NotNil(t, outcome.Signal)
	require.Len(t, outcome.Results, 4)

	names := make([]string, 0, 4)
	for _, res := range outcome.Results {
		names = append(names, res.RuleName)
		assert.Equal(t, domain.StatusPassed, res.Status)
	}
	assert.Equal(t, []string{
		rules.LiquidityRuleName,
		rules.AnomalyRuleName,
		rules.SemanticRuleName,
		rules.GeographicRuleName,
	}, names)

	sig := outcome.Signal
	// liquidity 1.0, anomaly 1.0, semantic 0.3 (houthi alone), geographic 1.0
	assert.InDelta(t, 0.825, sig.OverallScore, 1e-9)
	assert.InDelta(t, 0.825*0.75, sig.SignalStrength, 1e-9)
	assert.InDelta(t, 1.0, sig.LiquidityScore, 1e-9)
	assert.Equal(t, domain.CategoryGeopolitical, sig.Category)
	assert.Equal(t, []string{"Red Sea", "Bab el-Mandeb"}, sig.AffectedChokepoints)
	assert.Equal(t, domain.TraceIDFor(ev.InputEventHash, "v1.0.0"), sig.TraceID)
	assert.Equal(t, "v1.0.0", sig.RulesetVersion)

	require.NotNil(t, sig.Explanation)
	require.Len(t, sig.Explanation.Steps, 4)
	assert.Equal(t, 1, sig.Explanation.Steps[0].StepID)
	assert.Equal(t, testCtx.ProcessingTime, sig.Explanation.Steps[0].Timestamp)
	assert.NotEmpty(t, sig.Explanation.Steps[0].ParametersUsed)
}

func TestValidator_GatedChainSkipsMarketRules(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())
	ev := aisEvent(t)

	outcome := v.Validate(ev, testCtx)
	require.True(t, outcome.Passed)
	require.Len(t, outcome.Results, 2, "detector events carry no order book")
	assert.Equal(t, rules.SemanticRuleName, outcome.Results[0].RuleName)
	assert.Equal(t, rules.GeographicRuleName, outcome.Results[1].RuleName)

	// Without a liquidity rule the detection strength stands in.
	assert.InDelta(t, 0.90, outcome.Signal.LiquidityScore, 1e-9)
	assert.Equal(t, domain.CategoryInfrastructure, outcome.Signal.Category)
}

func TestValidator_ShortCircuitsOnFirstRejection(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())
	ev := redSeaEvent(t)
	ev.Market.CurrentLiquidityUSD = 100

	outcome := v.Validate(ev, testCtx)
	assert.False(t, outcome.Passed)
	assert.Nil(t, outcome.Signal)
	assert.Equal(t, string(domain.StatusRejectedLowLiquidity), outcome.RejectionReason)
	require.Len(t, outcome.Results, 1, "later rules must not run")

	rule, status := outcome.FirstRejection()
	assert.Equal(t, rules.LiquidityRuleName, rule)
	assert.Equal(t, domain.StatusRejectedLowLiquidity, status)
}

type stubRule struct {
	name   string
	result domain.ValidationResult
	err    error
	panics bool
}

func (r *stubRule) Name() string              { return r.name }
func (r *stubRule) Version() string           { return "0.0.1" }
func (r *stubRule) Params() map[string]string { return nil }
func (r *stubRule) Evaluate(domain.RawSignalEvent, domain.ProcessingContext) (domain.ValidationResult, error) {
	if r.panics {
		panic("stub rule blew up")
	}
	if r.err != nil {
		return domain.ValidationResult{}, r.err
	}
	res := r.result
	res.RuleName = r.name
	res.RuleVersion = "0.0.1"
	return res, nil
}

func passingStub(name string, score float64) *stubRule {
	return &stubRule{name: name, result: domain.ValidationResult{Status: domain.StatusPassed, Score: score}}
}

func TestValidator_RuleErrorFailsClosed(t *testing.T) {
	chain := []rules.Rule{
		passingStub("first", 1.0),
		&stubRule{name: "second", err: errors.New("upstream lookup failed")},
		passingStub("third", 1.0),
	}
	v := NewValidatorWithChains(ValidatorConfig{FailOnRuleError: true}, chain, chain)

	outcome := v.Validate(redSeaEvent(t), testCtx)
	assert.False(t, outcome.Passed)
	assert.Equal(t, string(domain.StatusRejectedRuleError), outcome.RejectionReason)
	require.Len(t, outcome.Results, 2, "third rule must not run")
	assert.Equal(t, domain.StatusRejectedRuleError, outcome.Results[1].Status)
	assert.Contains(t, outcome.Results[1].Reason, "upstream lookup failed")
}

func TestValidator_RuleErrorRecordedAndChainContinues(t *testing.T) {
	chain := []rules.Rule{
		passingStub("first", 1.0),
		&stubRule{name: "second", err: errors.New("upstream lookup failed")},
		passingStub("third", 0.5),
	}
	v := NewValidatorWithChains(ValidatorConfig{FailOnRuleError: false}, chain, chain)

	outcome := v.Validate(redSeaEvent(t), testCtx)
	require.True(t, outcome.Passed)
	require.Len(t, outcome.Results, 3)
	assert.Equal(t, domain.StatusRejectedRuleError, outcome.Results[1].Status)
	// Mean over all recorded results, the errored rule contributing zero.
	assert.InDelta(t, 1.5/3, outcome.Signal.OverallScore, 1e-9)
}

func TestValidator_PanickingRuleBecomesRuleError(t *testing.T) {
	chain := []rules.Rule{&stubRule{name: "volatile", panics: true}}
	v := NewValidatorWithChains(ValidatorConfig{FailOnRuleError: true}, chain, chain)

	outcome := v.Validate(redSeaEvent(t), testCtx)
	assert.False(t, outcome.Passed)
	require.Len(t, outcome.Results, 1)
	assert.Equal(t, domain.StatusRejectedRuleError, outcome.Results[0].Status)
	assert.Contains(t, outcome.Results[0].Reason, "panic")
}

func TestInferCategory(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  domain.SignalCategory
	}{
		{name: "houthi maps to geopolitical", title: "Houthi forces threaten vessels", want: domain.CategoryGeopolitical},
		{name: "red sea outranks infrastructure", title: "Red Sea shipping disruption escalates this quarter", want: domain.CategoryGeopolitical},
		{name: "dockworkers map to labor", title: "Dockworkers strike spreads to terminals", want: domain.CategoryLabor},
		{name: "typhoon maps to climate", title: "Typhoon bears down on container hub", want: domain.CategoryClimate},
		{name: "tariff maps to regulatory", title: "New tariff schedule on imports", want: domain.CategoryRegulatory},
		{name: "congestion maps to infrastructure", title: "Severe congestion at Port of Rotterdam", want: domain.CategoryInfrastructure},
		{name: "freight rate maps to economic", title: "Freight rate index jumps", want: domain.CategoryEconomic},
		{name: "no indicator falls back to other", title: "Unspecified shipping disturbance reported", want: domain.CategoryOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := domain.RawSignalEvent{Title: tt.title}
			assert.Equal(t, tt.want, inferCategory(ev))
		})
	}
}

func TestExtractChokepoints(t *testing.T) {
	ev := domain.RawSignalEvent{
		Title:       "Carriers weigh Suez Canal transit against the Cape route",
		Description: "Insurers price Red Sea passages higher",
	}
	got := ExtractChokepoints(ev)
	assert.Equal(t, []string{"Suez Canal", "Red Sea", "Cape of Good Hope"}, got, "registry table order")

	assert.Empty(t, ExtractChokepoints(domain.RawSignalEvent{Title: "Rates unchanged"}))
}
