package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brandbeacon/mentions-pipeline/internal/config"
	"github.com/brandbeacon/mentions-pipeline/internal/fetch"
	"github.com/brandbeacon/mentions-pipeline/internal/model"
)

// RedditSource queries the public Reddit search JSON API, surfacing the
// upstream score for downstream influence ranking.
type RedditSource struct {
	client *fetch.Client
	cfg    config.RedditConfig
}

// NewReddit creates the Reddit adapter.
func NewReddit(client *fetch.Client, cfg config.RedditConfig) *RedditSource {
	return &RedditSource{client: client, cfg: cfg}
}

func (s *RedditSource) Name() model.Platform { return model.PlatformReddit }

func (s *RedditSource) Enabled(model.TrackedBrand) bool { return true }

type redditPost struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Title      string  `json:"title"`
	SelfText   string  `json:"selftext"`
	Author     string  `json:"author"`
	Permalink  string  `json:"permalink"`
	CreatedUTC float64 `json:"created_utc"`
	Score      float64 `json:"score"`
	Subreddit  string  `json:"subreddit"`
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// FetchMentions runs one quoted OR-query over the brand terms with a fixed
// one-week recency window.
func (s *RedditSource) FetchMentions(ctx context.Context, brand model.TrackedBrand) ([]model.RawMention, error) {
	q := url.Values{
		"q":        {orQuery(brand.Terms(0))},
		"sort":     {"new"},
		"t":        {"week"},
		"limit":    {"50"},
		"raw_json": {"1"},
	}
	endpoint := fmt.Sprintf("%s/search.json?%s", s.cfg.BaseURL, q.Encode())

	var listing redditListing
	if err := s.client.GetJSON(ctx, endpoint, &listing); err != nil {
		return nil, eris.Wrapf(err, "reddit: search %q", brand.Name)
	}

	mentions := make([]model.RawMention, 0, len(listing.Data.Children))
	for i, child := range listing.Data.Children {
		post := child.Data

		id := fallback(post.Name, post.ID)
		if id == "" {
			continue
		}

		ts := int64(post.CreatedUTC * 1000)
		if ts <= 0 {
			ts = fallbackTimestamp(i)
		}

		text := post.Title
		if post.SelfText != "" {
			text = post.Title + " - " + post.SelfText
		}

		score := post.Score
		raw, _ := json.Marshal(post)
		mentions = append(mentions, model.RawMention{
			ID:        id,
			Timestamp: ts,
			Text:      text,
			Author:    fallback(post.Author, "unknown"),
			URL:       s.cfg.BaseURL + post.Permalink,
			Platform:  model.PlatformReddit,
			Raw:       raw,
			Score:     &score,
		})
	}

	zap.L().Debug("reddit fetch complete",
		zap.String("brand", brand.Name),
		zap.Int("mentions", len(mentions)),
	)
	return mentions, nil
}
