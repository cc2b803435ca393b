package source

import (
	"context"
	"encoding/xml"
	"fmt"

	"go.uber.org/zap"

	"github.com/brandbeacon/mentions-pipeline/internal/fetch"
	"github.com/brandbeacon/mentions-pipeline/internal/model"
)

// RSSSource fetches the brand's configured feeds. Each feed is parsed
// independently; one broken feed never aborts the others.
type RSSSource struct {
	client *fetch.Client
}

// NewRSS creates the feed adapter.
func NewRSS(client *fetch.Client) *RSSSource {
	return &RSSSource{client: client}
}

func (s *RSSSource) Name() model.Platform { return model.PlatformRSS }

// Enabled requires at least one configured feed URL on the brand.
func (s *RSSSource) Enabled(brand model.TrackedBrand) bool {
	return len(brand.RSSFeeds) > 0
}

// rssDocument covers RSS 2.0 and, via the entry list, Atom.
type rssDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	PubDate     string `xml:"pubDate"`
	Description string `xml:"description"`
	Creator     string `xml:"creator"`
	Author      string `xml:"author"`
}

type atomDocument struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string `xml:"title"`
	ID        string `xml:"id"`
	Updated   string `xml:"updated"`
	Published string `xml:"published"`
	Summary   string `xml:"summary"`
	Author    struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Links []struct {
		Rel  string `xml:"rel,attr"`
		Href string `xml:"href,attr"`
	} `xml:"link"`
}

// FetchMentions parses every configured feed, accumulating results across
// feeds and logging per-feed failures without aborting.
func (s *RSSSource) FetchMentions(ctx context.Context, brand model.TrackedBrand) ([]model.RawMention, error) {
	var mentions []model.RawMention

	for _, feedURL := range brand.RSSFeeds {
		items, err := s.fetchFeed(ctx, feedURL)
		if err != nil {
			zap.L().Warn("rss feed failed, continuing with remaining feeds",
				zap.String("brand", brand.Name),
				zap.String("feed", feedURL),
				zap.Error(err),
			)
			continue
		}
		mentions = append(mentions, items...)
	}

	zap.L().Debug("rss fetch complete",
		zap.String("brand", brand.Name),
		zap.Int("feeds", len(brand.RSSFeeds)),
		zap.Int("mentions", len(mentions)),
	)
	return mentions, nil
}

func (s *RSSSource) fetchFeed(ctx context.Context, feedURL string) ([]model.RawMention, error) {
	body, err := s.client.Get(ctx, feedURL, nil)
	if err != nil {
		return nil, err
	}

	var rss rssDocument
	if err := xml.Unmarshal(body, &rss); err == nil && len(rss.Channel.Items) > 0 {
		return s.fromRSSItems(feedURL, rss.Channel.Items), nil
	}

	var atom atomDocument
	if err := xml.Unmarshal(body, &atom); err == nil && len(atom.Entries) > 0 {
		return s.fromAtomEntries(feedURL, atom.Entries), nil
	}

	return nil, fmt.Errorf("rss: no items parsed from %s", feedURL)
}

func (s *RSSSource) fromRSSItems(feedURL string, items []rssItem) []model.RawMention {
	mentions := make([]model.RawMention, 0, len(items))
	for i, item := range items {
		id := item.GUID
		if id == "" && item.Link != "" {
			id = hashID(item.Link)
		}
		if id == "" {
			// deterministic: same feed and position yield the same id
			id = hashID(fmt.Sprintf("%s#%d", feedURL, i))
		}

		ts, ok := parseMentionTime(item.PubDate)
		if !ok {
			ts = nowMs()
		}

		text := item.Title
		if item.Description != "" {
			text = item.Title + " - " + stripHTML(item.Description)
		}

		mentions = append(mentions, model.RawMention{
			ID:        id,
			Timestamp: ts,
			Text:      text,
			Author:    fallback(item.Creator, fallback(item.Author, "unknown")),
			URL:       fallback(item.Link, feedURL),
			Platform:  model.PlatformRSS,
		})
	}
	return mentions
}

func (s *RSSSource) fromAtomEntries(feedURL string, entries []atomEntry) []model.RawMention {
	mentions := make([]model.RawMention, 0, len(entries))
	for i, e := range entries {
		link := ""
		for _, l := range e.Links {
			if l.Rel == "" || l.Rel == "alternate" {
				link = l.Href
				break
			}
		}

		id := e.ID
		if id == "" && link != "" {
			id = hashID(link)
		}
		if id == "" {
			id = hashID(fmt.Sprintf("%s#%d", feedURL, i))
		}

		ts, ok := parseMentionTime(fallback(e.Published, e.Updated))
		if !ok {
			ts = nowMs()
		}

		text := e.Title
		if e.Summary != "" {
			text = e.Title + " - " + stripHTML(e.Summary)
		}

		mentions = append(mentions, model.RawMention{
			ID:        id,
			Timestamp: ts,
			Text:      text,
			Author:    fallback(e.Author.Name, "unknown"),
			URL:       fallback(link, feedURL),
			Platform:  model.PlatformRSS,
		})
	}
	return mentions
}
