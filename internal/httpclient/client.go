// Package httpclient executes proxy-routed GET requests against upstream
// JSON APIs. Every attempt uses a fresh transport and a fresh User-Agent so
// consecutive attempts do not share a server-side fingerprint.
package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/onnwee/social-harvest/backend/internal/config"
	"github.com/onnwee/social-harvest/backend/internal/logger"
	"github.com/onnwee/social-harvest/backend/internal/metrics"
	"github.com/onnwee/social-harvest/backend/internal/store"
	"github.com/onnwee/social-harvest/backend/internal/useragent"
)

// Kind classifies the outcome of a request.
type Kind int

const (
	KindOK Kind = iota
	KindNotFound
	KindForbidden
	KindBanned
	KindRateLimited
	KindTimeout
	KindNetwork
	KindProxyExhausted
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindBanned:
		return "banned"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindProxyExhausted:
		return "proxy_exhausted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the outcome is terminal for the current entity:
// retrying the same URL cannot change it.
func (k Kind) Terminal() bool {
	return k == KindNotFound || k == KindForbidden || k == KindBanned
}

// StatsUpdater receives one success/error report per request.
type StatsUpdater interface {
	UpdateStats(ctx context.Context, px store.Proxy, success bool)
}

// Client issues classified GET requests through rotating proxies.
type Client struct {
	platform   string
	ua         *useragent.Generator
	stats      StatsUpdater
	log        *logger.Harvester
	maxRetries int
	retryBase  time.Duration
	timeout    time.Duration
	headers    map[string]string

	// transport is rebuilt per attempt; tests swap the factory to reach an
	// httptest server without a real proxy.
	transport func(px store.Proxy) http.RoundTripper
}

// New builds a client for one platform ("reddit" or "instagram").
func New(platform string, ua *useragent.Generator, stats StatsUpdater, log *logger.Harvester) *Client {
	cfg := config.Load()
	c := &Client{
		platform:   platform,
		ua:         ua,
		stats:      stats,
		log:        log,
		maxRetries: cfg.HTTPMaxRetries,
		retryBase:  cfg.HTTPRetryBase,
		timeout:    cfg.HTTPTimeout,
	}
	c.transport = c.proxyTransport
	return c
}

// SetHeaders installs extra headers sent on every request (API keys).
func (c *Client) SetHeaders(h map[string]string) {
	c.headers = h
}

// GetJSON performs a GET via the given proxy and returns the parsed body and
// an outcome kind. On non-OK kinds the body is nil.
func (c *Client) GetJSON(ctx context.Context, rawURL string, px store.Proxy) (json.RawMessage, Kind) {
	start := time.Now()
	body, kind := c.do(ctx, rawURL, px)
	elapsed := time.Since(start)

	metrics.HTTPRequests.WithLabelValues(c.platform, kind.String()).Inc()
	metrics.HTTPRequestDuration.WithLabelValues(c.platform).Observe(elapsed.Seconds())
	if c.stats != nil {
		c.stats.UpdateStats(ctx, px, kind == KindOK)
	}
	c.log.Debug("http request", map[string]any{
		"endpoint":   endpointFor(rawURL),
		"status":     kind.String(),
		"elapsed_ms": elapsed.Milliseconds(),
	})
	return body, kind
}

func (c *Client) do(ctx context.Context, rawURL string, px store.Proxy) (json.RawMessage, Kind) {
	last := KindNetwork
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, KindTimeout
		}

		body, kind := c.attempt(ctx, rawURL, px)
		switch {
		case kind == KindOK:
			return body, KindOK
		case kind.Terminal():
			return nil, kind
		case kind == KindRateLimited:
			last = kind
			if attempt == c.maxRetries {
				return nil, kind
			}
			wait := time.Duration(min(5+2*attempt, 30)) * time.Second
			if !sleepCtx(ctx, wait) {
				return nil, KindTimeout
			}
		default: // timeout / network
			last = kind
			if attempt == c.maxRetries {
				return nil, kind
			}
			metrics.HTTPRetries.Inc()
			jitter := time.Duration(rand.Int63n(int64(c.retryBase)))
			if !sleepCtx(ctx, c.retryBase+jitter) {
				return nil, KindTimeout
			}
		}
	}
	return nil, last
}

func (c *Client) attempt(ctx context.Context, rawURL string, px store.Proxy) (json.RawMessage, Kind) {
	client := &http.Client{
		Timeout:   c.timeout,
		Transport: c.transport(px),
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, KindNetwork
	}
	req.Header.Set("User-Agent", c.ua.Random())
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, KindTimeout
		}
		return nil, KindNetwork
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, KindNetwork
		}
		if !json.Valid(body) {
			return nil, KindNetwork
		}
		return body, KindOK
	case http.StatusNotFound:
		body, _ := io.ReadAll(resp.Body)
		var sentinel struct {
			Reason string `json:"reason"`
		}
		if json.Unmarshal(body, &sentinel) == nil && sentinel.Reason == "banned" {
			return nil, KindBanned
		}
		return nil, KindNotFound
	case http.StatusForbidden:
		return nil, KindForbidden
	case http.StatusTooManyRequests:
		return nil, KindRateLimited
	default:
		return nil, KindNetwork
	}
}

func (c *Client) proxyTransport(px store.Proxy) http.RoundTripper {
	t := &http.Transport{
		DisableKeepAlives: true,
	}
	if px.URL != "" {
		if proxyURL, err := url.Parse(px.URL); err == nil {
			if px.Username != "" {
				proxyURL.User = url.UserPassword(px.Username, px.Password)
			}
			t.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return t
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// endpointFor trims query parameters so log lines group by endpoint.
func endpointFor(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		return u.Path
	}
	return rawURL
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
