package source

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// maxQueryTerms caps how many brand terms the per-term adapters fan out over.
const maxQueryTerms = 3

// hashID derives a stable identifier from upstream data (usually a URL) so
// refetches of the same item deduplicate.
func hashID(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// orQuery joins terms into a quoted OR expression: `"Acme" OR "Acme Inc"`.
func orQuery(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = fmt.Sprintf("%q", t)
	}
	return strings.Join(quoted, " OR ")
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// fallbackTimestamp synthesizes a timestamp for results whose payload omits
// one: now minus one minute per ordinal, so ordering is preserved and
// retries produce the same relative sequence.
func fallbackTimestamp(index int) int64 {
	return time.Now().Add(-time.Duration(index) * time.Minute).UnixMilli()
}

// mentionTimeFormats lists the timestamp layouts seen across upstream feeds.
var mentionTimeFormats = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
}

// parseMentionTime parses an upstream timestamp string, returning epoch
// milliseconds and whether any known layout matched.
func parseMentionTime(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, layout := range mentionTimeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}

// fallback returns s, or def when s is blank.
func fallback(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
