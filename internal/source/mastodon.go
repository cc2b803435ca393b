package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/brandbeacon/mentions-pipeline/internal/config"
	"github.com/brandbeacon/mentions-pipeline/internal/fetch"
	"github.com/brandbeacon/mentions-pipeline/internal/model"
)

// MastodonSource queries the public search API of a single Mastodon
// instance. Like the Hacker News adapter it needs no credentials.
type MastodonSource struct {
	client *fetch.Client
	cfg    config.MastodonConfig
	pacer  *rate.Limiter
	host   string
}

// NewMastodon creates the Mastodon adapter.
func NewMastodon(client *fetch.Client, cfg config.MastodonConfig) *MastodonSource {
	delay := time.Duration(cfg.QueryDelayMs) * time.Millisecond
	if delay <= 0 {
		delay = time.Second
	}
	host := "mastodon"
	if u, err := url.Parse(cfg.InstanceURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return &MastodonSource{
		client: client,
		cfg:    cfg,
		pacer:  rate.NewLimiter(rate.Every(delay), 1),
		host:   host,
	}
}

func (s *MastodonSource) Name() model.Platform { return model.PlatformMastodon }

func (s *MastodonSource) Enabled(model.TrackedBrand) bool { return true }

type mastodonStatus struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	Content   string `json:"content"`
	URL       string `json:"url"`
	Account   struct {
		Acct string `json:"acct"`
	} `json:"account"`
}

type mastodonSearchResponse struct {
	Statuses []mastodonStatus `json:"statuses"`
}

// FetchMentions issues one status search per brand term (capped), with
// fixed pacing between terms and adapter-local dedupe by status id. Status
// ids are namespaced by instance host since they are only instance-unique.
func (s *MastodonSource) FetchMentions(ctx context.Context, brand model.TrackedBrand) ([]model.RawMention, error) {
	seen := make(map[string]struct{})
	var mentions []model.RawMention

	for _, term := range brand.Terms(maxQueryTerms) {
		if err := s.pacer.Wait(ctx); err != nil {
			return mentions, eris.Wrap(err, "mastodon: pacer")
		}

		q := url.Values{
			"q":     {term},
			"type":  {"statuses"},
			"limit": {"20"},
		}
		endpoint := fmt.Sprintf("%s/api/v2/search?%s", s.cfg.InstanceURL, q.Encode())

		var resp mastodonSearchResponse
		if err := s.client.GetJSON(ctx, endpoint, &resp); err != nil {
			if fetch.IsStatus(err, http.StatusTooManyRequests) {
				zap.L().Warn("mastodon rate limited, skipping remaining terms",
					zap.String("brand", brand.Name),
					zap.String("term", term),
				)
				break
			}
			return mentions, eris.Wrapf(err, "mastodon: search %q", term)
		}

		for _, st := range resp.Statuses {
			if st.ID == "" {
				continue
			}
			id := s.host + ":" + st.ID
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			ts, ok := parseMentionTime(st.CreatedAt)
			if !ok {
				ts = nowMs()
			}

			raw, _ := json.Marshal(st)
			mentions = append(mentions, model.RawMention{
				ID:        id,
				Timestamp: ts,
				Text:      stripHTML(st.Content),
				Author:    fallback(st.Account.Acct, "unknown"),
				URL:       st.URL,
				Platform:  model.PlatformMastodon,
				Raw:       raw,
			})
		}
	}

	zap.L().Debug("mastodon fetch complete",
		zap.String("brand", brand.Name),
		zap.Int("mentions", len(mentions)),
	)
	return mentions, nil
}

// stripHTML flattens status HTML into plain text.
func stripHTML(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt == html.TextToken {
			b.WriteString(z.Token().Data)
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
