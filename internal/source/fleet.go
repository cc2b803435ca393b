package source

import (
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/brandbeacon/mentions-pipeline/internal/config"
	"github.com/brandbeacon/mentions-pipeline/internal/fetch"
	"github.com/brandbeacon/mentions-pipeline/internal/ratelimit"
	"github.com/brandbeacon/mentions-pipeline/internal/resilience"
)

// retryPolicy decides which fetch failures are worth a delayed re-attempt.
// Rate limits and server-side failures retry; auth and not-found responses
// fail the attempt immediately so a misconfigured adapter surfaces fast.
func retryPolicy(err error) bool {
	var se *fetch.StatusError
	if errors.As(err, &se) {
		return resilience.IsTransientHTTPStatus(se.Code)
	}
	return resilience.IsTransient(err)
}

// BuildRegistry constructs the full adapter fleet from configuration. Each
// adapter gets its own HTTP client gated by its own sliding-window limiter:
// the request budget is scoped per source, never shared across sources.
func BuildRegistry(cfg *config.Config) (*Registry, error) {
	newClient := func() (*fetch.Client, error) {
		lim, err := ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window())
		if err != nil {
			return nil, eris.Wrap(err, "source: build limiter")
		}
		return fetch.New(fetch.Options{
			UserAgent:   cfg.HTTP.UserAgent,
			Timeout:     time.Duration(cfg.HTTP.TimeoutSecs) * time.Second,
			MaxRetries:  cfg.Retry.MaxRetries,
			Backoff:     cfg.Retry.Backoff(),
			Limiter:     lim,
			ShouldRetry: retryPolicy,
		}), nil
	}

	reg := NewRegistry()
	for _, build := range []func(*fetch.Client) Source{
		func(c *fetch.Client) Source { return NewNews(c, cfg.Sources.News) },
		func(c *fetch.Client) Source { return NewWebSearch(c, cfg.Sources.WebSearch) },
		func(c *fetch.Client) Source { return NewHackerNews(c, cfg.Sources.HackerNews) },
		func(c *fetch.Client) Source { return NewMastodon(c, cfg.Sources.Mastodon) },
		func(c *fetch.Client) Source { return NewWebScrape(c, cfg.Sources.WebScrape, cfg.HTTP.UserAgent) },
		func(c *fetch.Client) Source { return NewRSS(c) },
		func(c *fetch.Client) Source { return NewReddit(c, cfg.Sources.Reddit) },
	} {
		client, err := newClient()
		if err != nil {
			return nil, err
		}
		reg.Register(build(client))
	}
	reg.Register(NewTwitter(cfg.Sources.Twitter))

	return reg, nil
}
