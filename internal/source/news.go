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

// NewsSource queries a keyed news search API (NewsAPI-compatible).
type NewsSource struct {
	client *fetch.Client
	cfg    config.NewsConfig
}

// NewNews creates the news adapter.
func NewNews(client *fetch.Client, cfg config.NewsConfig) *NewsSource {
	return &NewsSource{client: client, cfg: cfg}
}

func (s *NewsSource) Name() model.Platform { return model.PlatformNews }

// Enabled requires a configured API key.
func (s *NewsSource) Enabled(model.TrackedBrand) bool { return s.cfg.APIKey != "" }

type newsArticle struct {
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
}

type newsResponse struct {
	Status   string        `json:"status"`
	Articles []newsArticle `json:"articles"`
}

// FetchMentions runs one OR-query over the brand name and aliases.
func (s *NewsSource) FetchMentions(ctx context.Context, brand model.TrackedBrand) ([]model.RawMention, error) {
	q := url.Values{
		"q":        {orQuery(brand.Terms(0))},
		"sortBy":   {"publishedAt"},
		"pageSize": {"50"},
		"language": {"en"},
		"apiKey":   {s.cfg.APIKey},
	}
	endpoint := fmt.Sprintf("%s/everything?%s", s.cfg.BaseURL, q.Encode())

	var resp newsResponse
	if err := s.client.GetJSON(ctx, endpoint, &resp); err != nil {
		return nil, eris.Wrapf(err, "news: search %q", brand.Name)
	}

	mentions := make([]model.RawMention, 0, len(resp.Articles))
	for i, a := range resp.Articles {
		if a.URL == "" && a.Title == "" {
			continue
		}

		ts, ok := parseMentionTime(a.PublishedAt)
		if !ok {
			ts = fallbackTimestamp(i)
		}

		text := a.Title
		if a.Description != "" {
			text = a.Title + " - " + a.Description
		}

		raw, _ := json.Marshal(a)
		mentions = append(mentions, model.RawMention{
			ID:        hashID(fallback(a.URL, a.Title)),
			Timestamp: ts,
			Text:      text,
			Author:    fallback(a.Author, fallback(a.Source.Name, "unknown")),
			URL:       a.URL,
			Platform:  model.PlatformNews,
			Raw:       raw,
		})
	}

	zap.L().Debug("news fetch complete",
		zap.String("brand", brand.Name),
		zap.Int("mentions", len(mentions)),
	)
	return mentions, nil
}
