package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandbeacon/mentions-pipeline/internal/config"
	"github.com/brandbeacon/mentions-pipeline/internal/fetch"
	"github.com/brandbeacon/mentions-pipeline/internal/model"
)

type fakeSource struct {
	name    model.Platform
	enabled bool
}

func (f *fakeSource) Name() model.Platform                 { return f.name }
func (f *fakeSource) Enabled(model.TrackedBrand) bool      { return f.enabled }
func (f *fakeSource) FetchMentions(context.Context, model.TrackedBrand) ([]model.RawMention, error) {
	return nil, nil
}

func TestRegistry_OrderAndLookup(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeSource{name: model.PlatformRSS, enabled: true})
	reg.Register(&fakeSource{name: model.PlatformNews, enabled: false})
	reg.Register(&fakeSource{name: model.PlatformReddit, enabled: true})

	all := reg.All()
	require.Len(t, all, 3)
	assert.Equal(t, model.PlatformRSS, all[0].Name())
	assert.Equal(t, model.PlatformNews, all[1].Name())
	assert.Equal(t, model.PlatformReddit, all[2].Name())

	s, err := reg.Get(model.PlatformNews)
	require.NoError(t, err)
	assert.Equal(t, model.PlatformNews, s.Name())

	_, err = reg.Get(model.PlatformTwitter)
	assert.Error(t, err)
}

func TestRegistry_EnabledFor(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeSource{name: model.PlatformRSS, enabled: true})
	reg.Register(&fakeSource{name: model.PlatformNews, enabled: false})

	enabled := reg.EnabledFor(model.TrackedBrand{Name: "Acme"})
	require.Len(t, enabled, 1)
	assert.Equal(t, model.PlatformRSS, enabled[0].Name())
}

func TestRegistry_ReplaceKeepsPosition(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeSource{name: model.PlatformRSS, enabled: false})
	reg.Register(&fakeSource{name: model.PlatformNews, enabled: false})
	reg.Register(&fakeSource{name: model.PlatformRSS, enabled: true})

	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, model.PlatformRSS, all[0].Name())
	assert.True(t, all[0].Enabled(model.TrackedBrand{}))
}

func TestBuildRegistry(t *testing.T) {
	cfg := &config.Config{
		RateLimit: config.RateLimitConfig{Requests: 5, WindowMs: 1000},
		Retry:     config.RetryConfig{MaxRetries: 1, BackoffMs: 1},
		HTTP:      config.HTTPConfig{UserAgent: "test", TimeoutSecs: 5},
		Sources: config.SourcesConfig{
			WebScrape: config.WebScrapeConfig{SearchURL: "https://example.com/html/"},
		},
	}

	reg, err := BuildRegistry(cfg)
	require.NoError(t, err)
	assert.Len(t, reg.All(), 8)

	brand := model.TrackedBrand{Name: "Acme"}
	var enabledNames []model.Platform
	for _, s := range reg.EnabledFor(brand) {
		enabledNames = append(enabledNames, s.Name())
	}
	// public sources and the configured scrape endpoint; no keys, no feeds,
	// no bearer token
	assert.Equal(t, []model.Platform{
		model.PlatformHackerNews, model.PlatformMastodon,
		model.PlatformWebScrape, model.PlatformReddit,
	}, enabledNames)
}

func TestBuildRegistry_BadRateLimit(t *testing.T) {
	cfg := &config.Config{
		RateLimit: config.RateLimitConfig{Requests: 0, WindowMs: 1000},
	}
	_, err := BuildRegistry(cfg)
	assert.Error(t, err)
}

func TestTwitterStub(t *testing.T) {
	s := NewTwitter(config.TwitterConfig{})
	assert.False(t, s.Enabled(model.TrackedBrand{Name: "Acme"}))

	s = NewTwitter(config.TwitterConfig{BearerToken: "tok"})
	assert.True(t, s.Enabled(model.TrackedBrand{Name: "Acme"}))

	mentions, err := s.FetchMentions(context.Background(), model.TrackedBrand{Name: "Acme"})
	require.NoError(t, err)
	assert.Empty(t, mentions)
}

func newUnlimitedClient() *fetch.Client {
	return fetch.New(fetch.Options{MaxRetries: 1, Backoff: time.Millisecond})
}

func TestRetryPolicy(t *testing.T) {
	for code, want := range map[int]bool{
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusBadGateway:          true,
		http.StatusUnauthorized:        false,
		http.StatusForbidden:           false,
		http.StatusNotFound:            false,
	} {
		got := retryPolicy(&fetch.StatusError{Code: code, URL: "https://example.com"})
		assert.Equal(t, want, got, "status %d", code)
	}

	assert.False(t, retryPolicy(eris.New("unexpected payload shape")))
	assert.True(t, retryPolicy(eris.New("read tcp: connection reset by peer")))
}

func TestFleetClientRetriesOnlyTransientStatuses(t *testing.T) {
	var forbidden, failing atomic.Int32

	forbiddenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forbidden.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer forbiddenSrv.Close()

	failingSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		failing.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failingSrv.Close()

	c := fetch.New(fetch.Options{
		MaxRetries:  2,
		Backoff:     time.Millisecond,
		ShouldRetry: retryPolicy,
	})
	ctx := context.Background()

	_, err := c.Get(ctx, forbiddenSrv.URL, nil)
	require.Error(t, err)
	assert.True(t, fetch.IsStatus(err, http.StatusForbidden))
	assert.Equal(t, int32(1), forbidden.Load(), "4xx must fail without re-attempts")

	_, err = c.Get(ctx, failingSrv.URL, nil)
	require.Error(t, err)
	assert.True(t, fetch.IsStatus(err, http.StatusServiceUnavailable))
	assert.Equal(t, int32(3), failing.Load(), "5xx retries until the budget is spent")
}
