package news

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"
)

// ScenarioClient serves a fixed table of headlines with seed-jittered
// publish offsets. Two entries are deliberately below the gate floors so
// demo runs exercise the rejection path. The same seed and base always
// produce the same batch.
type ScenarioClient struct {
	seed int64
	base time.Time
}

// NewScenarioClient builds a deterministic headline feed. base is the
// processing context time; articles publish shortly before it so the
// recency check stays meaningful.
func NewScenarioClient(seed int64, base time.Time) *ScenarioClient {
	return &ScenarioClient{seed: seed, base: base.UTC()}
}

type headline struct {
	title       string
	description string
	source      string
	domain      string
	ageHours    int
}

var headlines = []headline{
	{
		title:       "Houthi missile strikes force carriers to suspend Red Sea transits",
		description: "War risk premiums surge as container lines reroute vessels around the Cape of Good Hope",
		source:      "Reuters",
		domain:      "reuters.com",
		ageHours:    2,
	},
	{
		title:       "Dockworkers union announces strike at US East Coast ports",
		description: "Terminal operators warn of container backlog as contract negotiation stalls",
		source:      "gCaptain",
		domain:      "gcaptain.com",
		ageHours:    5,
	},
	{
		title:       "Panama Canal cuts daily transits as drought lowers reservoir",
		description: "Draft limits push bulk cargo toward longer Suez routings",
		source:      "Bloomberg",
		domain:      "bloomberg.com",
		ageHours:    9,
	},
	{
		title:       "Typhoon forces closure of container terminals in southern Taiwan",
		description: "Port authority suspends vessel movements ahead of forecast landfall",
		source:      "Lloyd's List",
		domain:      "lloydslist.com",
		ageHours:    3,
	},
	{
		title:       "Celebrity chef opens waterfront restaurant",
		description: "A-list guests attend the harbor-side launch party",
		source:      "Reuters",
		domain:      "reuters.com",
		ageHours:    1,
	},
	{
		title:       "Oil tanker seized near Strait of Hormuz amid sanctions dispute",
		description: "Crude futures climb as naval escalation threatens shipping lanes",
		source:      "unverified-feed.example",
		domain:      "unverified-feed.example",
		ageHours:    2,
	},
}

// ListArticles implements Client with deterministic minute jitter on the
// publish times.
func (c *ScenarioClient) ListArticles(_ context.Context, limit int) ([]Article, []byte, error) {
	rng := rand.New(rand.NewSource(c.seed))

	n := len(headlines)
	if limit > 0 && limit < n {
		n = limit
	}

	articles := make([]Article, 0, n)
	for i, h := range headlines[:n] {
		published := c.base.Add(-time.Duration(h.ageHours)*time.Hour - time.Duration(rng.Intn(30))*time.Minute)
		articles = append(articles, Article{
			Title:        h.title,
			Description:  h.description,
			SourceName:   h.source,
			SourceDomain: h.domain,
			URL:          fmt.Sprintf("https://%s/story/%d", h.domain, i+1),
			PublishedAt:  published,
			FetchedAt:    c.base,
		})
	}

	raw, err := json.Marshal(articles)
	if err != nil {
		return nil, nil, err
	}
	return articles, raw, nil
}
