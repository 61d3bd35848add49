// Package proxy owns the rotating proxy pool: loading active proxies from the
// store, probing them in parallel at startup, and handing them out round-robin.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/social-harvest/backend/internal/logger"
	"github.com/onnwee/social-harvest/backend/internal/metrics"
	"github.com/onnwee/social-harvest/backend/internal/secrets"
	"github.com/onnwee/social-harvest/backend/internal/store"
)

// ErrNoProxies is returned when zero active proxies exist or zero pass probing.
var ErrNoProxies = errors.New("no working proxies available")

// probeURL is a lightweight endpoint that proves a proxy can reach the
// public internet. Any of the expected statuses counts as reachable.
const probeURL = "https://www.reddit.com/robots.txt"

const probeAttempts = 3

// Store is the slice of the store the pool needs.
type Store interface {
	ListActiveProxies(ctx context.Context) ([]store.Proxy, error)
	BumpProxyStats(ctx context.Context, id int64, success bool) error
}

// Pool rotates over active proxies. The rotation counter is a single atomic;
// concurrent updates may skip a slot, which is harmless for round-robin.
type Pool struct {
	st      Store
	log     *logger.Harvester
	proxies []store.Proxy
	next    atomic.Uint64

	// probe is swapped in tests.
	probe func(ctx context.Context, p store.Proxy) bool
}

// NewPool creates an empty pool; call Load before Next.
func NewPool(st Store, log *logger.Harvester) *Pool {
	pool := &Pool{st: st, log: log}
	pool.probe = pool.probeOnce
	return pool
}

// Load reads all active proxies ordered by priority. Fails on zero results.
func (p *Pool) Load(ctx context.Context) error {
	proxies, err := p.st.ListActiveProxies(ctx)
	if err != nil {
		return fmt.Errorf("load proxies: %w", err)
	}
	if len(proxies) == 0 {
		return ErrNoProxies
	}
	p.proxies = proxies
	p.next.Store(0)
	p.log.Info("proxies loaded", map[string]any{"count": len(proxies)})
	return nil
}

// TestAll probes every loaded proxy concurrently and keeps only the ones that
// respond. Each proxy gets up to three attempts with early exit on the first
// success. Returns the number that passed; zero is a startup failure.
func (p *Pool) TestAll(ctx context.Context) (int, error) {
	if len(p.proxies) == 0 {
		return 0, ErrNoProxies
	}

	type result struct {
		proxy store.Proxy
		ok    bool
	}
	results := make(chan result, len(p.proxies))
	var wg sync.WaitGroup
	for _, px := range p.proxies {
		wg.Add(1)
		go func(px store.Proxy) {
			defer wg.Done()
			ok := false
			for attempt := 0; attempt < probeAttempts && !ok; attempt++ {
				if ctx.Err() != nil {
					break
				}
				ok = p.probe(ctx, px)
			}
			results <- result{proxy: px, ok: ok}
		}(px)
	}
	wg.Wait()
	close(results)

	var passed []store.Proxy
	for r := range results {
		if r.ok {
			passed = append(passed, r.proxy)
		} else {
			p.log.Warn("proxy failed probe", map[string]any{
				"proxy": secrets.MaskProxyURL(r.proxy.URL),
				"name":  r.proxy.DisplayName,
			})
		}
	}
	if len(passed) == 0 {
		return 0, ErrNoProxies
	}
	p.proxies = passed
	p.next.Store(0)
	metrics.ProxiesActive.Set(float64(len(passed)))
	p.log.Info("proxy probe complete", map[string]any{"passed": len(passed)})
	return len(passed), nil
}

// Next returns the next proxy round-robin. Concurrent callers receive
// distinct successive proxies.
func (p *Pool) Next() store.Proxy {
	n := p.next.Add(1) - 1
	metrics.ProxyRotations.Inc()
	return p.proxies[n%uint64(len(p.proxies))]
}

// Size returns the number of usable proxies.
func (p *Pool) Size() int {
	return len(p.proxies)
}

// UpdateStats bumps the success or error counter for a proxy in the store.
// Best-effort: failures are logged at debug and swallowed.
func (p *Pool) UpdateStats(ctx context.Context, px store.Proxy, success bool) {
	if err := p.st.BumpProxyStats(ctx, px.ID, success); err != nil {
		p.log.Debug("proxy stat update failed", map[string]any{
			"proxy": px.DisplayName, "error": err.Error(),
		})
	}
}

func (p *Pool) probeOnce(ctx context.Context, px store.Proxy) bool {
	proxyURL, err := url.Parse(px.URL)
	if err != nil {
		return false
	}
	if px.Username != "" {
		proxyURL.User = url.UserPassword(px.Username, px.Password)
	}
	client := &http.Client{
		Timeout:   10 * time.Second,
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	// 401/403 still prove the proxy itself is reachable and forwarding.
	switch resp.StatusCode {
	case http.StatusOK, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}
