package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/brandbeacon/mentions-pipeline/internal/config"
	"github.com/brandbeacon/mentions-pipeline/internal/fetch"
	"github.com/brandbeacon/mentions-pipeline/internal/model"
)

// WebScrapeSource searches social/video platforms through a public HTML
// search endpoint with a site-restricted query. It is strictly best-effort:
// a blocked, unavailable or unparsable response yields an empty result set,
// never an error.
type WebScrapeSource struct {
	client    *fetch.Client
	cfg       config.WebScrapeConfig
	userAgent string

	robotsOnce sync.Once
	robots     *robotstxt.Group
}

// NewWebScrape creates the scrape adapter.
func NewWebScrape(client *fetch.Client, cfg config.WebScrapeConfig, userAgent string) *WebScrapeSource {
	return &WebScrapeSource{client: client, cfg: cfg, userAgent: userAgent}
}

func (s *WebScrapeSource) Name() model.Platform { return model.PlatformWebScrape }

func (s *WebScrapeSource) Enabled(model.TrackedBrand) bool { return s.cfg.SearchURL != "" }

// FetchMentions posts a site-restricted query and parses the result list
// structurally. Every failure mode is swallowed: this source being down is
// a degraded state, not a cycle error.
func (s *WebScrapeSource) FetchMentions(ctx context.Context, brand model.TrackedBrand) ([]model.RawMention, error) {
	if !s.allowedByRobots(ctx) {
		zap.L().Warn("webscrape disallowed by robots.txt, returning empty",
			zap.String("search_url", s.cfg.SearchURL),
		)
		return nil, nil
	}

	sites := make([]string, len(s.cfg.Sites))
	for i, site := range s.cfg.Sites {
		sites[i] = "site:" + site
	}
	query := fmt.Sprintf("%q (%s)", brand.Name, strings.Join(sites, " OR "))

	body, err := s.client.PostForm(ctx, s.cfg.SearchURL, url.Values{"q": {query}})
	if err != nil {
		zap.L().Warn("webscrape search unavailable, returning empty",
			zap.String("brand", brand.Name),
			zap.Error(err),
		)
		return nil, nil
	}

	results := parseSearchResults(body)
	mentions := make([]model.RawMention, 0, len(results))
	for _, r := range results {
		text := r.title
		if r.snippet != "" {
			text = r.title + " - " + r.snippet
		}
		mentions = append(mentions, model.RawMention{
			ID:        hashID(r.href),
			Timestamp: nowMs(),
			Text:      text,
			Author:    "unknown",
			URL:       r.href,
			Platform:  model.PlatformWebScrape,
		})
	}

	zap.L().Debug("webscrape fetch complete",
		zap.String("brand", brand.Name),
		zap.Int("mentions", len(mentions)),
	)
	return mentions, nil
}

// allowedByRobots checks the search endpoint's robots.txt once per process.
// Fetch failures count as permission: the search POST itself is already
// best-effort.
func (s *WebScrapeSource) allowedByRobots(ctx context.Context) bool {
	s.robotsOnce.Do(func() {
		u, err := url.Parse(s.cfg.SearchURL)
		if err != nil {
			return
		}
		robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
		body, err := s.client.Get(ctx, robotsURL, nil)
		if err != nil {
			if fetch.IsStatus(err, http.StatusNotFound) {
				return // no robots.txt, everything allowed
			}
			return
		}
		data, err := robotstxt.FromBytes(body)
		if err != nil {
			return
		}
		s.robots = data.FindGroup(s.userAgent)
	})

	if s.robots == nil {
		return true
	}
	u, err := url.Parse(s.cfg.SearchURL)
	if err != nil {
		return true
	}
	return s.robots.Test(u.Path)
}

type searchResult struct {
	href    string
	title   string
	snippet string
}

// parseSearchResults walks the HTML result list. Result anchors carry a
// "result__a" class and snippets a "result__snippet" class (the stable
// structure of the HTML search endpoint); anything else is ignored.
func parseSearchResults(body []byte) []searchResult {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var results []searchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" && hasClass(n, "result__a") {
			href := attr(n, "href")
			if href != "" && strings.HasPrefix(href, "http") {
				results = append(results, searchResult{
					href:  href,
					title: nodeText(n),
				})
			}
		}
		if n.Type == html.ElementNode && hasClass(n, "result__snippet") && len(results) > 0 {
			if results[len(results)-1].snippet == "" {
				results[len(results)-1].snippet = nodeText(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
