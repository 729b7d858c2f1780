package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omenworks/omen/internal/domain"
)

var testCtx = domain.NewProcessingContext(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC), "v1.0.0")

func marketEvent(liquidity, volume float64) domain.RawSignalEvent {
	return domain.RawSignalEvent{
		EventID:     "evt-1",
		Title:       "Will Red Sea shipping attacks continue?",
		Description: "Houthi attacks on vessels near the Bab el-Mandeb strait",
		Probability: 0.75,
		Keywords:    []string{"red sea", "shipping"},
		Market: domain.MarketMetadata{
			Source:              "polymarket",
			MarketID:            "mkt-1",
			CurrentLiquidityUSD: liquidity,
			TotalVolumeUSD:      volume,
		},
		ObservedAt: time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC),
	}
}

func TestLiquidityRule(t *testing.T) {
	rule := NewLiquidityRule(DefaultLiquidityConfig())

	tests := []struct {
		name      string
		liquidity float64
		status    domain.ValidationStatus
		score     float64
	}{
		{name: "below minimum rejects", liquidity: 100, status: domain.StatusRejectedLowLiquidity, score: 0},
		{name: "just below minimum rejects", liquidity: 999.99, status: domain.StatusRejectedLowLiquidity, score: 0},
		{name: "exactly minimum passes at 0.1", liquidity: 1000, status: domain.StatusPassed, score: 0.1},
		{name: "mid range scales linearly", liquidity: 5000, status: domain.StatusPassed, score: 0.5},
		{name: "ten times minimum saturates", liquidity: 10000, status: domain.StatusPassed, score: 1.0},
		{name: "above saturation stays capped", liquidity: 50000, status: domain.StatusPassed, score: 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := rule.Evaluate(marketEvent(tt.liquidity, 0), testCtx)
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.Status)
			assert.InDelta(t, tt.score, res.Score, 1e-9)
			assert.Equal(t, LiquidityRuleName, res.RuleName)
		})
	}
}

func TestAnomalyRule_CleanEventPasses(t *testing.T) {
	rule := NewAnomalyRule(DefaultAnomalyConfig())

	res, err := rule.Evaluate(marketEvent(50000, 500000), testCtx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPassed, res.Status)
	assert.Equal(t, 1.0, res.Score)
	assert.Equal(t, "no anomalies detected", res.Reason)
}

func TestAnomalyRule_SingleHeuristicPassesWithNote(t *testing.T) {
	rule := NewAnomalyRule(DefaultAnomalyConfig())

	ev := marketEvent(50000, 500000)
	ev.Probability = 0.98

	res, err := rule.Evaluate(ev, testCtx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPassed, res.Status, "one heuristic stays below the risk maximum")
	assert.Contains(t, res.Reason, "extreme probability")
	assert.InDelta(t, 0.7, res.Score, 1e-9)
}

func TestAnomalyRule_AccumulatedRiskRejects(t *testing.T) {
	rule := NewAnomalyRule(DefaultAnomalyConfig())

	ev := marketEvent(50000, 500000)
	ev.Probability = 0.98
	ev.Movement = &domain.ProbabilityMovement{Current: 0.98, Previous: 0.55, Delta: 0.43, WindowHours: 24}

	res, err := rule.Evaluate(ev, testCtx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejectedManipulation, res.Status)
	assert.Contains(t, res.Reason, "manipulation risk 0.60")
}

func TestAnomalyRule_WashTradingRejectsAlone(t *testing.T) {
	rule := NewAnomalyRule(DefaultAnomalyConfig())

	ev := marketEvent(50000, 500000)
	ev.Market.TraderCount = 3

	res, err := rule.Evaluate(ev, testCtx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejectedManipulation, res.Status)
	assert.Contains(t, res.Reason, "3 traders moved 500000 USD volume")
}

func TestAnomalyRule_UnreportedTraderCountIsNotSuspicious(t *testing.T) {
	rule := NewAnomalyRule(DefaultAnomalyConfig())

	ev := marketEvent(50000, 500000)
	ev.Market.TraderCount = 0

	res, err := rule.Evaluate(ev, testCtx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPassed, res.Status)
}

func TestAnomalyRule_ZScoreFlagsAddRisk(t *testing.T) {
	rule := NewAnomalyRule(DefaultAnomalyConfig())

	ev := marketEvent(50000, 500000)
	ev.SourceMetrics = map[string]float64{
		"probability_zscore": 4.1,
		"volume_zscore":      -3.6,
		"change_zscore":      1.2,
	}

	res, err := rule.Evaluate(ev, testCtx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPassed, res.Status, "two z-flags total 0.4, below the maximum")
	assert.Contains(t, res.Reason, "probability_zscore")
	assert.Contains(t, res.Reason, "volume_zscore")
	assert.NotContains(t, res.Reason, "change_zscore")
}

func TestSemanticRule_OffTopicPhraseRejects(t *testing.T) {
	rule := NewSemanticRule(DefaultSemanticConfig())

	ev := marketEvent(50000, 0)
	ev.Title = "Premier League strike force dominates the playoff"
	ev.Description = ""
	ev.Keywords = nil

	res, err := rule.Evaluate(ev, testCtx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejectedSemantic, res.Status)
	assert.Contains(t, res.Reason, "off-topic phrase")
}

func TestSemanticRule_WholeWordBoundaries(t *testing.T) {
	rule := NewSemanticRule(DefaultSemanticConfig())

	// "striker" must not match "strike", and "transport" must not match
	// "sport": the event has no real risk keyword, so it rejects on the
	// score floor, never on the blocklist.
	ev := marketEvent(50000, 0)
	ev.Title = "Star striker transported to new club"
	ev.Description = ""
	ev.Keywords = nil

	res, err := rule.Evaluate(ev, testCtx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejectedSemantic, res.Status)
	assert.NotContains(t, res.Reason, "off-topic")
	assert.Contains(t, res.Reason, "below")
}

func TestSemanticRule_RiskKeywordsPass(t *testing.T) {
	rule := NewSemanticRule(DefaultSemanticConfig())

	ev := marketEvent(50000, 0)
	ev.Title = "Missile attack forces tanker rerouting"
	ev.Description = "Drone and missile strikes reported near shipping lanes"

	res, err := rule.Evaluate(ev, testCtx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPassed, res.Status)
	assert.GreaterOrEqual(t, res.Score, 0.3)
	assert.Contains(t, res.Reason, "conflict")
}

func TestSemanticRule_SingleCategoryPasses(t *testing.T) {
	rule := NewSemanticRule(DefaultSemanticConfig())

	ev := marketEvent(50000, 0)
	ev.Title = "Dockworkers union votes on wage offer"
	ev.Description = ""
	ev.Keywords = nil

	res, err := rule.Evaluate(ev, testCtx)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPassed, res.Status)
	assert.InDelta(t, 0.4, res.Score, 1e-9, "one category and two keywords")
}

func TestGeographicRule_ChokepointKeywordScoresFull(t *testing.T) {
	rule := NewGeographicRule(DefaultGeographicConfig())

	res, err := rule.Evaluate(marketEvent(50000, 0), testCtx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPassed, res.Status)
	assert.Equal(t, 1.0, res.Score)
	assert.Contains(t, res.Reason, "Red Sea")
}

func TestGeographicRule_SportDoesNotMatchPort(t *testing.T) {
	rule := NewGeographicRule(DefaultGeographicConfig())

	ev := marketEvent(50000, 0)
	ev.Title = "Sport climbing world records"
	ev.Description = "A sport event with no transport angle"
	ev.Keywords = nil

	res, err := rule.Evaluate(ev, testCtx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejectedGeography, res.Status)
}

func TestGeographicRule_ProximityMatch(t *testing.T) {
	rule := NewGeographicRule(DefaultGeographicConfig())

	ev := marketEvent(50000, 0)
	ev.Title = "Vessels holding off Egyptian coast"
	ev.Description = "Anchorage building up"
	ev.Keywords = nil
	ev.InferredLocations = []domain.Location{{Latitude: 31.26, Longitude: 32.3, Name: "Port Said"}}

	res, err := rule.Evaluate(ev, testCtx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPassed, res.Status)
	assert.Equal(t, 0.9, res.Score)
	assert.Contains(t, res.Reason, "Suez Canal")
	assert.Contains(t, res.Reason, "Port Said")
}

func TestGeographicRule_LogisticsFallback(t *testing.T) {
	rule := NewGeographicRule(DefaultGeographicConfig())

	ev := marketEvent(50000, 0)
	ev.Title = "Global freight rates jump as container capacity tightens"
	ev.Description = "Shipping demand surges"
	ev.Keywords = nil

	res, err := rule.Evaluate(ev, testCtx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPassed, res.Status)
	// freight + container + shipping = 3 matches in the routes category.
	assert.InDelta(t, 0.65, res.Score, 1e-9)
	assert.Contains(t, res.Reason, "freight")
}

func TestGeographicRule_NoMatchRejects(t *testing.T) {
	rule := NewGeographicRule(DefaultGeographicConfig())

	ev := marketEvent(50000, 0)
	ev.Title = "Central bank leaves interest rates unchanged"
	ev.Description = "Committee cites stable outlook"
	ev.Keywords = nil
	ev.InferredLocations = nil

	res, err := rule.Evaluate(ev, testCtx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejectedGeography, res.Status)
	assert.Equal(t, 0.0, res.Score)
}
