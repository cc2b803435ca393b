package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/brandbeacon/mentions-pipeline/internal/config"
	"github.com/brandbeacon/mentions-pipeline/internal/fetch"
	"github.com/brandbeacon/mentions-pipeline/internal/model"
)

// hnLookback restricts search results to the trailing week.
const hnLookback = 7 * 24 * time.Hour

// HackerNewsSource queries the public Algolia Hacker News search API. It is
// always enabled: the API needs no credentials.
type HackerNewsSource struct {
	client *fetch.Client
	cfg    config.HackerNewsConfig
	pacer  *rate.Limiter // fixed delay between per-term queries
}

// NewHackerNews creates the Hacker News adapter.
func NewHackerNews(client *fetch.Client, cfg config.HackerNewsConfig) *HackerNewsSource {
	delay := time.Duration(cfg.QueryDelayMs) * time.Millisecond
	if delay <= 0 {
		delay = time.Second
	}
	return &HackerNewsSource{
		client: client,
		cfg:    cfg,
		pacer:  rate.NewLimiter(rate.Every(delay), 1),
	}
}

func (s *HackerNewsSource) Name() model.Platform { return model.PlatformHackerNews }

func (s *HackerNewsSource) Enabled(model.TrackedBrand) bool { return true }

type hnHit struct {
	ObjectID    string  `json:"objectID"`
	CreatedAtI  int64   `json:"created_at_i"`
	Title       string  `json:"title"`
	StoryTitle  string  `json:"story_title"`
	CommentText string  `json:"comment_text"`
	Author      string  `json:"author"`
	URL         string  `json:"url"`
	StoryURL    string  `json:"story_url"`
	Points      float64 `json:"points"`
}

type hnResponse struct {
	Hits []hnHit `json:"hits"`
}

// FetchMentions issues one query per brand term (capped), pacing between
// queries on top of the shared per-source limiter, and deduplicates its own
// result set by upstream id. A 429 stops further terms but keeps what was
// already collected.
func (s *HackerNewsSource) FetchMentions(ctx context.Context, brand model.TrackedBrand) ([]model.RawMention, error) {
	cutoff := time.Now().Add(-hnLookback).Unix()
	seen := make(map[string]struct{})
	var mentions []model.RawMention

	for _, term := range brand.Terms(maxQueryTerms) {
		if err := s.pacer.Wait(ctx); err != nil {
			return mentions, eris.Wrap(err, "hackernews: pacer")
		}

		q := url.Values{
			"query":          {fmt.Sprintf("%q", term)},
			"tags":           {"(story,comment)"},
			"numericFilters": {fmt.Sprintf("created_at_i>%d", cutoff)},
			"hitsPerPage":    {"50"},
		}
		endpoint := fmt.Sprintf("%s/search_by_date?%s", s.cfg.BaseURL, q.Encode())

		var resp hnResponse
		if err := s.client.GetJSON(ctx, endpoint, &resp); err != nil {
			if fetch.IsStatus(err, http.StatusTooManyRequests) {
				zap.L().Warn("hackernews rate limited, skipping remaining terms",
					zap.String("brand", brand.Name),
					zap.String("term", term),
				)
				break
			}
			return mentions, eris.Wrapf(err, "hackernews: search %q", term)
		}

		for _, hit := range resp.Hits {
			if hit.ObjectID == "" {
				continue
			}
			if _, dup := seen[hit.ObjectID]; dup {
				continue
			}
			seen[hit.ObjectID] = struct{}{}

			text := fallback(hit.Title, fallback(hit.CommentText, hit.StoryTitle))
			link := fallback(hit.URL, fallback(hit.StoryURL,
				"https://news.ycombinator.com/item?id="+hit.ObjectID))

			ts := hit.CreatedAtI * 1000
			if ts <= 0 {
				ts = nowMs()
			}

			score := hit.Points
			raw, _ := json.Marshal(hit)
			mentions = append(mentions, model.RawMention{
				ID:        hit.ObjectID,
				Timestamp: ts,
				Text:      text,
				Author:    fallback(hit.Author, "unknown"),
				URL:       link,
				Platform:  model.PlatformHackerNews,
				Raw:       raw,
				Score:     &score,
			})
		}
	}

	zap.L().Debug("hackernews fetch complete",
		zap.String("brand", brand.Name),
		zap.Int("mentions", len(mentions)),
	)
	return mentions, nil
}
