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

// WebSearchSource queries a programmable web search API (Google Custom
// Search compatible).
type WebSearchSource struct {
	client *fetch.Client
	cfg    config.WebSearchConfig
}

// NewWebSearch creates the web search adapter.
func NewWebSearch(client *fetch.Client, cfg config.WebSearchConfig) *WebSearchSource {
	return &WebSearchSource{client: client, cfg: cfg}
}

func (s *WebSearchSource) Name() model.Platform { return model.PlatformWebSearch }

// Enabled requires both an API key and a search engine id.
func (s *WebSearchSource) Enabled(model.TrackedBrand) bool {
	return s.cfg.APIKey != "" && s.cfg.EngineID != ""
}

type webSearchItem struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Snippet     string `json:"snippet"`
	DisplayLink string `json:"displayLink"`
}

type webSearchResponse struct {
	Items []webSearchItem `json:"items"`
}

// FetchMentions runs one OR-query over the brand terms. The web search
// payload carries no timestamps, so result ordinals get the deterministic
// fallback instead.
func (s *WebSearchSource) FetchMentions(ctx context.Context, brand model.TrackedBrand) ([]model.RawMention, error) {
	q := url.Values{
		"key":  {s.cfg.APIKey},
		"cx":   {s.cfg.EngineID},
		"q":    {orQuery(brand.Terms(0))},
		"num":  {"10"},
		"sort": {"date"},
	}
	endpoint := fmt.Sprintf("%s?%s", s.cfg.BaseURL, q.Encode())

	var resp webSearchResponse
	if err := s.client.GetJSON(ctx, endpoint, &resp); err != nil {
		return nil, eris.Wrapf(err, "websearch: search %q", brand.Name)
	}

	mentions := make([]model.RawMention, 0, len(resp.Items))
	for i, item := range resp.Items {
		if item.Link == "" {
			continue
		}

		text := item.Title
		if item.Snippet != "" {
			text = item.Title + " - " + item.Snippet
		}

		raw, _ := json.Marshal(item)
		mentions = append(mentions, model.RawMention{
			ID:        hashID(item.Link),
			Timestamp: fallbackTimestamp(i),
			Text:      text,
			Author:    fallback(item.DisplayLink, "unknown"),
			URL:       item.Link,
			Platform:  model.PlatformWebSearch,
			Raw:       raw,
		})
	}

	zap.L().Debug("websearch fetch complete",
		zap.String("brand", brand.Name),
		zap.Int("mentions", len(mentions)),
	)
	return mentions, nil
}
