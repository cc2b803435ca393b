package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// TrackedBrand is a brand definition read from the registry. The registry is
// owned elsewhere; the pipeline only reads these records.
type TrackedBrand struct {
	Name        string   `json:"name" yaml:"name"`
	Aliases     []string `json:"aliases,omitempty" yaml:"aliases"`
	Keywords    []string `json:"keywords,omitempty" yaml:"keywords"`
	RSSFeeds    []string `json:"rss_feeds,omitempty" yaml:"rss_feeds"`
	Competitors []string `json:"competitors,omitempty" yaml:"competitors"`
}

// Terms returns the brand name plus aliases, deduplicated and capped at max.
// A max of 0 means no cap.
func (b TrackedBrand) Terms(max int) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, t := range append([]string{b.Name}, b.Aliases...) {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		terms = append(terms, t)
		if max > 0 && len(terms) >= max {
			break
		}
	}
	return terms
}

// Slug returns the brand's storage key namespace.
func (b TrackedBrand) Slug() string {
	return Slug(b.Name)
}

// BrandMeta is the per-brand side-channel record the queue writer maintains
// so brand existence can be answered without scanning mention lists.
type BrandMeta struct {
	Slug      string   `json:"slug"`
	Name      string   `json:"name"`
	Aliases   []string `json:"aliases,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`
	RSSFeeds  []string `json:"rss_feeds,omitempty"`
	UpdatedAt int64    `json:"updated_at"` // epoch milliseconds
}

var slugFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slug derives the deterministic storage slug for a brand name: diacritics
// folded, lowercased, spaces to hyphens, every other non-alphanumeric rune
// dropped.
func Slug(name string) string {
	folded, _, err := transform.String(slugFolder, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(strings.TrimSpace(folded)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case r == ' ' || r == '-':
			if !lastHyphen {
				b.WriteRune('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
