package model

import (
	"encoding/json"
	"fmt"
)

// Platform identifies an external mention source.
type Platform string

// Known platforms. The set is closed: adapters register under exactly one tag.
const (
	PlatformNews       Platform = "news"
	PlatformWebSearch  Platform = "websearch"
	PlatformHackerNews Platform = "hackernews"
	PlatformMastodon   Platform = "mastodon"
	PlatformWebScrape  Platform = "webscrape"
	PlatformRSS        Platform = "rss"
	PlatformReddit     Platform = "reddit"
	PlatformTwitter    Platform = "twitter"
)

// AllPlatforms returns every known platform tag in a stable order.
func AllPlatforms() []Platform {
	return []Platform{
		PlatformNews, PlatformWebSearch, PlatformHackerNews, PlatformMastodon,
		PlatformWebScrape, PlatformRSS, PlatformReddit, PlatformTwitter,
	}
}

// ParsePlatform converts a string into a Platform.
func ParsePlatform(s string) (Platform, error) {
	for _, p := range AllPlatforms() {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform: %q", s)
}

// RawMention is a single adapter result before cross-source normalization.
// ID is source-local and may collide across platforms; it must be stable for
// the same upstream item so repeated fetches deduplicate. Adapters that lack
// an upstream id synthesize one deterministically (URL hash, or feed URL plus
// ordinal index) so retries are idempotent.
type RawMention struct {
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"` // epoch milliseconds
	Text      string          `json:"text"`
	Author    string          `json:"author"`
	URL       string          `json:"url"`
	Platform  Platform        `json:"platform"`
	Raw       json.RawMessage `json:"raw,omitempty"` // original payload, kept for audit
	Score     *float64        `json:"score,omitempty"`
}

// Metadata carries the audit fields of a normalized mention plus an open
// extension map for downstream stages.
type Metadata struct {
	Author string            `json:"author"`
	URL    string            `json:"url"`
	Raw    json.RawMessage   `json:"raw,omitempty"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// NormalizedMention is the canonical cross-source mention record. ID is
// globally unique (namespaced by platform). EnhancedAnalysis is populated by
// the downstream analysis worker, never by this pipeline.
type NormalizedMention struct {
	ID               string          `json:"id"`
	Brand            string          `json:"brand"`
	Text             string          `json:"text"`
	Timestamp        int64           `json:"timestamp"` // epoch milliseconds, > 0
	Source           Platform        `json:"source"`
	Metadata         *Metadata       `json:"metadata"`
	Score            *float64        `json:"score,omitempty"`
	EnhancedAnalysis json.RawMessage `json:"enhancedAnalysis,omitempty"`
}

// MentionID namespaces a source-local id by its platform.
func MentionID(p Platform, rawID string) string {
	return fmt.Sprintf("%s:%s", p, rawID)
}

// Normalize converts a RawMention fetched for the given brand into the
// canonical record.
func Normalize(brand string, raw RawMention) NormalizedMention {
	return NormalizedMention{
		ID:        MentionID(raw.Platform, raw.ID),
		Brand:     brand,
		Text:      raw.Text,
		Timestamp: raw.Timestamp,
		Source:    raw.Platform,
		Metadata: &Metadata{
			Author: raw.Author,
			URL:    raw.URL,
			Raw:    raw.Raw,
		},
		Score: raw.Score,
	}
}
