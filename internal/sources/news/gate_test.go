package news

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var reference = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func article(title, domain string, age time.Duration) Article {
	return Article{
		Title:        title,
		SourceName:   domain,
		SourceDomain: domain,
		PublishedAt:  reference.Add(-age),
		FetchedAt:    reference,
	}
}

func TestRecencyBoundaries(t *testing.T) {
	g := NewQualityGate(DefaultGateConfig())

	tests := []struct {
		name string
		age  time.Duration
		want float64
	}{
		{"brand new", 0, 1.0},
		{"exactly at fresh threshold", 6 * time.Hour, 1.0},
		{"at half life", 24 * time.Hour, 0.5},
		{"just past max age", 72*time.Hour + time.Minute, 0.0},
		{"published in the future", -time.Hour, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.recencyScore(reference.Add(-tt.age), reference)
			assert.InDelta(t, tt.want, got, 0.1)
		})
	}
}

func TestEvaluate_CelebrityGossipRejected(t *testing.T) {
	g := NewQualityGate(DefaultGateConfig())

	// Tier-1 source, one hour old: credibility and recency both pass, so
	// the rejection must come from topic relevance.
	score := g.Evaluate(article("Celebrity couple announces surprise wedding", "reuters.com", time.Hour), reference)

	assert.False(t, score.PassedGate)
	assert.Equal(t, ReasonNoTopics, score.RejectionReason)
	assert.Equal(t, 1.0, score.Credibility)
	assert.Equal(t, 1.0, score.Recency)
	assert.Zero(t, score.Relevance)
}

func TestEvaluate_RelevantArticlePasses(t *testing.T) {
	g := NewQualityGate(DefaultGateConfig())

	a := article("Houthi missile attack disrupts Red Sea shipping lanes", "reuters.com", 2*time.Hour)
	a.Description = "Carriers reroute vessels around the Cape as war risk premiums surge"
	score := g.Evaluate(a, reference)

	require.True(t, score.PassedGate, "reason: %s", score.RejectionReason)
	assert.GreaterOrEqual(t, score.Relevance, 0.1)
	assert.Contains(t, score.MatchedTopics, "shipping_disruption")
	assert.Contains(t, score.MatchedTopics, "geopolitical_conflict")
	assert.Contains(t, score.Tags, "conflict")
	assert.Negative(t, score.Sentiment)
}

func TestEvaluate_FailClosedPriority(t *testing.T) {
	cfg := DefaultGateConfig()
	g := NewQualityGate(cfg)

	// Unknown domain scores default credibility 0.3 < 0.5 minimum, and the
	// credibility reason wins even though the article is also stale.
	score := g.Evaluate(article("Shipping strike halts port", "obscure-blog.example", 100*time.Hour), reference)
	assert.Equal(t, ReasonLowCredibility, score.RejectionReason)

	// Credible but stale: recency reason wins over combined.
	score = g.Evaluate(article("Shipping strike halts port", "reuters.com", 80*time.Hour), reference)
	assert.Equal(t, ReasonStale, score.RejectionReason)
}

func TestEvaluate_DedupeWithinBatch(t *testing.T) {
	g := NewQualityGate(DefaultGateConfig())

	a := article("Port strike halts container shipping!", "reuters.com", time.Hour)
	first := g.Evaluate(a, reference)
	require.True(t, first.PassedGate, "reason: %s", first.RejectionReason)

	// Same title modulo punctuation and case from the same outlet.
	b := article("PORT STRIKE halts container shipping", "reuters.com", 2*time.Hour)
	second := g.Evaluate(b, reference)
	assert.True(t, second.IsDuplicate)
	assert.Equal(t, ReasonDuplicate, second.RejectionReason)
	assert.Equal(t, first.DedupeHash, second.DedupeHash)

	// Same title from a different outlet is not a duplicate.
	c := article("Port strike halts container shipping", "bbc.com", time.Hour)
	third := g.Evaluate(c, reference)
	assert.False(t, third.IsDuplicate)

	g.ResetDedupeCache()
	again := g.Evaluate(a, reference)
	assert.False(t, again.IsDuplicate)
}

func TestPassedGateInvariant(t *testing.T) {
	cfg := DefaultGateConfig()
	g := NewQualityGate(cfg)

	articles := []Article{
		article("Houthi attack disrupts Red Sea shipping", "reuters.com", time.Hour),
		article("Dockworkers strike shuts down port terminal", "gcaptain.com", 10*time.Hour),
		article("Celebrity gossip roundup", "reuters.com", time.Hour),
		article("Shipping rates spike", "random-blog.example", time.Hour),
		article("Old canal story", "reuters.com", 200*time.Hour),
	}
	for _, a := range articles {
		score := g.Evaluate(a, reference)
		if score.PassedGate {
			assert.GreaterOrEqual(t, score.Credibility, cfg.MinCredibility)
			assert.GreaterOrEqual(t, score.Recency, cfg.MinRecency)
			assert.GreaterOrEqual(t, score.Combined, cfg.MinCombined)
			assert.False(t, score.IsDuplicate)
			assert.GreaterOrEqual(t, score.Relevance, 0.1)
		}
	}
}

func TestDedupeHash(t *testing.T) {
	a := DedupeHash("Port Strike: Halts Shipping!", "Reuters.com")
	b := DedupeHash("port strike halts   shipping", "reuters.com")
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)

	c := DedupeHash("port strike halts shipping", "bbc.com")
	assert.NotEqual(t, a, c)
}

func TestSentiment(t *testing.T) {
	g := NewQualityGate(DefaultGateConfig())

	neg := g.sentiment(Article{Title: "War and crisis cause shipping disruption"})
	assert.Negative(t, neg)

	pos := g.sentiment(Article{Title: "Agreement reached, port to reopen as tensions ease"})
	assert.Positive(t, pos)

	neutral := g.sentiment(Article{Title: "Quarterly container throughput report published"})
	assert.Zero(t, neutral)
}
