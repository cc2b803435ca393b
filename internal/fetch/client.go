// Package fetch provides the outbound HTTP client shared by all source
// adapters: one logical request, transparently retried with exponential
// backoff, with an optional sliding-window limiter acquired before every
// attempt including retries.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/brandbeacon/mentions-pipeline/internal/ratelimit"
	"github.com/brandbeacon/mentions-pipeline/internal/resilience"
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d from %s", e.Code, e.URL)
}

// IsStatus reports whether err carries the given HTTP status code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Options configures a Client.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	// MaxRetries is the number of delayed re-attempts after a failed
	// request. Zero disables retries; negative values are clamped to zero.
	MaxRetries int
	Backoff    time.Duration
	// Limiter, when set, is acquired before every attempt.
	Limiter *ratelimit.Limiter
	// ShouldRetry restricts which errors are retried; nil retries everything.
	ShouldRetry func(err error) bool
}

// Client issues GET/POST requests with retry and rate limiting.
type Client struct {
	hc   *http.Client
	opts Options
}

// New creates a Client with the given options.
func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff == 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "mentions-pipeline/1.0"
	}
	return &Client{
		hc: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts: opts,
	}
}

// Get fetches rawURL and returns the response body.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		return req, nil
	})
}

// GetJSON fetches rawURL and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) error {
	body, err := c.Get(ctx, rawURL, http.Header{"Accept": []string{"application/json"}})
	if err != nil {
		return err
	}
	if err := decodeJSON(body, out); err != nil {
		return eris.Wrapf(err, "fetch: decode %s", rawURL)
	}
	return nil
}

// PostForm posts form-encoded values to rawURL and returns the response body.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values) ([]byte, error) {
	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
}

// do runs one logical request through the retry executor. The request is
// rebuilt per attempt so bodies are safe to resend.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error)) ([]byte, error) {
	cfg := resilience.RetryConfig{
		MaxRetries:  c.opts.MaxRetries,
		Backoff:     c.opts.Backoff,
		ShouldRetry: c.opts.ShouldRetry,
		OnRetry:     resilience.RetryLogger("fetch", "request"),
	}

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		if c.opts.Limiter != nil {
			if err := c.opts.Limiter.Acquire(ctx); err != nil {
				return nil, eris.Wrap(err, "fetch: rate limiter")
			}
		}

		req, err := build()
		if err != nil {
			return nil, eris.Wrap(err, "fetch: build request")
		}
		req.Header.Set("User-Agent", c.opts.UserAgent)

		resp, err := c.hc.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "fetch: do request")
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "fetch: read body")
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &StatusError{Code: resp.StatusCode, URL: req.URL.String()}
		}

		return body, nil
	})
}
