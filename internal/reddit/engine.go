// Package reddit implements the Reddit harvester: a cycle-based state machine
// that refreshes curated subreddits, expands through post authors, and
// discovers new subreddits, all through rotating proxies.
package reddit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/social-harvest/backend/internal/cache"
	"github.com/onnwee/social-harvest/backend/internal/config"
	"github.com/onnwee/social-harvest/backend/internal/httpclient"
	"github.com/onnwee/social-harvest/backend/internal/logger"
	"github.com/onnwee/social-harvest/backend/internal/metrics"
	"github.com/onnwee/social-harvest/backend/internal/redditapi"
	"github.com/onnwee/social-harvest/backend/internal/store"
	"github.com/onnwee/social-harvest/backend/internal/tracing"
	"github.com/onnwee/social-harvest/backend/internal/utils"
)

// Store is the read surface the engine needs.
type Store interface {
	CacheStore
	GetSubredditMeta(ctx context.Context, name string) (store.SubredditMeta, bool, error)
}

// Sink receives rows for batched persistence. The batched writer satisfies
// this; flushing applies tables in FK order (subreddits, users, posts).
type Sink interface {
	AddSubreddits(rows ...store.Subreddit)
	AddUsers(rows ...store.RedditUser)
	AddPosts(rows ...store.Post)
	FlushAll(ctx context.Context) error
}

// Fetcher is the slice of the API facade the engine calls.
type Fetcher interface {
	GetSubredditInfo(ctx context.Context, name string, px store.Proxy) (*redditapi.AboutData, httpclient.Kind)
	GetSubredditRules(ctx context.Context, name string, px store.Proxy) ([]redditapi.Rule, httpclient.Kind)
	GetSubredditTopPosts(ctx context.Context, name, window string, limit int, px store.Proxy) ([]redditapi.PostData, httpclient.Kind)
	GetUserPosts(ctx context.Context, username string, limit int, px store.Proxy) ([]redditapi.PostData, httpclient.Kind)
}

// ProxyPool hands out proxies for the engine's requests.
type ProxyPool interface {
	Load(ctx context.Context) error
	TestAll(ctx context.Context) (int, error)
	Next() store.Proxy
}

const fieldRetryAttempts = 3

// Engine drives the Reddit harvest cycle.
type Engine struct {
	st     Store
	api    Fetcher
	pool   ProxyPool
	sink   Sink
	caches *Caches
	meta   *cache.MetaCache
	log    *logger.Harvester
	cfg    *config.Config
}

func NewEngine(st Store, api Fetcher, pool ProxyPool, sink Sink, meta *cache.MetaCache, log *logger.Harvester) *Engine {
	cfg := config.Load()
	return &Engine{
		st:     st,
		api:    api,
		pool:   pool,
		sink:   sink,
		caches: NewCaches(cfg.RedditCacheTTL, cfg.RedditStaleness),
		meta:   meta,
		log:    log,
		cfg:    cfg,
	}
}

// Run loops cycles until the context is cancelled. A cycle-level failure
// (no proxies, cache load failure) is returned to the supervisor.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := e.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if !utils.SleepCtx(ctx.Done(), e.cfg.RedditCycleCooldown) {
			return ctx.Err()
		}
	}
}

// RunCycle executes one full pass: proxy checks, cache loads, Pass A over the
// "Ok" list with discovery, Pass B over the "No Seller" list.
func (e *Engine) RunCycle(ctx context.Context) error {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "reddit.cycle")
	defer span.End()
	defer func() {
		metrics.CycleDuration.WithLabelValues("reddit").Observe(time.Since(start).Seconds())
	}()

	if err := e.pool.Load(ctx); err != nil {
		return fmt.Errorf("proxy load: %w", err)
	}
	if _, err := e.pool.TestAll(ctx); err != nil {
		return fmt.Errorf("proxy test: %w", err)
	}

	if err := e.caches.ResetSession(ctx, e.st); err != nil {
		return err
	}
	if err := e.caches.EnsureFresh(ctx, e.st); err != nil {
		return err
	}

	okList, err := e.st.ListSubredditNamesByReview(ctx, store.ReviewOk)
	if err != nil {
		return fmt.Errorf("load ok list: %w", err)
	}
	noSellerList, err := e.st.ListSubredditNamesByReview(ctx, store.ReviewNoSeller)
	if err != nil {
		return fmt.Errorf("load no-seller list: %w", err)
	}
	okList = utils.ShuffleStrings(okList)
	noSellerList = utils.ShuffleStrings(noSellerList)

	e.log.Info("cycle starting", map[string]any{
		"ok": len(okList), "no_seller": len(noSellerList),
	})

	if err := e.runPassA(ctx, okList); err != nil {
		return err
	}
	if err := e.runPassB(ctx, noSellerList); err != nil {
		return err
	}

	if err := e.sink.FlushAll(ctx); err != nil {
		e.log.Error("end-of-cycle flush", map[string]any{"error": err.Error()})
	}
	e.log.Op("cycle complete", map[string]any{
		"ok": len(okList), "no_seller": len(noSellerList),
	}, time.Since(start), len(okList)+len(noSellerList))
	return nil
}

// runPassA processes the Ok list in staggered batches, handling discovery
// after each batch.
func (e *Engine) runPassA(ctx context.Context, names []string) error {
	batchSize := e.cfg.RedditOkBatchSize
	for i := 0; i < len(names); i += batchSize {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		end := i + batchSize
		if end > len(names) {
			end = len(names)
		}
		batch := names[i:end]

		discovered := e.processBatch(ctx, batch, processOpts{ProcessUsers: true, AllowDiscovery: true},
			e.cfg.RedditOkStagger, e.cfg.RedditOkStaggerJitter)

		e.handleDiscovery(ctx, discovered)

		if err := e.sink.FlushAll(ctx); err != nil {
			e.log.Error("batch flush", map[string]any{"error": err.Error()})
		}
	}
	return nil
}

// runPassB refreshes metrics for No Seller subreddits sequentially. No user
// expansion, no discovery.
func (e *Engine) runPassB(ctx context.Context, names []string) error {
	for _, name := range names {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := e.processSubreddit(ctx, name, processOpts{}); err != nil {
			e.log.Warn("no-seller refresh failed", map[string]any{
				"subreddit": name, "error": err.Error(),
			})
		}
		metrics.SubredditsProcessed.WithLabelValues("no_seller").Inc()
	}
	return nil
}

// processBatch runs one staggered concurrent wave and unions the per-task
// discovery sets.
func (e *Engine) processBatch(ctx context.Context, names []string, opts processOpts, gap, jitter time.Duration) map[string]struct{} {
	var (
		mu         sync.Mutex
		discovered = make(map[string]struct{})
		wg         sync.WaitGroup
	)
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			if !utils.SleepCtx(ctx.Done(), utils.StaggerDelay(i, gap, jitter)) {
				return
			}
			found, err := e.processSubreddit(ctx, name, opts)
			if err != nil {
				e.log.Warn("subreddit failed", map[string]any{
					"subreddit": name, "error": err.Error(),
				})
				metrics.SubredditsProcessed.WithLabelValues("error").Inc()
				return
			}
			metrics.SubredditsProcessed.WithLabelValues("ok").Inc()
			mu.Lock()
			for n := range found {
				discovered[n] = struct{}{}
			}
			mu.Unlock()
		}(i, name)
	}
	wg.Wait()
	return discovered
}

// handleDiscovery filters a batch's discovered names against the caches,
// persists user-feed subs directly, and scrapes the rest in a second wave
// with users and discovery disabled.
func (e *Engine) handleDiscovery(ctx context.Context, discovered map[string]struct{}) {
	if len(discovered) == 0 || ctx.Err() != nil {
		return
	}
	// Claim everything up front so concurrent batches cannot double-schedule.
	all := make([]string, 0, len(discovered))
	for n := range discovered {
		all = append(all, n)
	}
	survivors := e.caches.FilterDiscovered(discovered)
	e.caches.MarkProcessed(all...)
	if len(survivors) == 0 {
		return
	}
	metrics.SubredditsDiscovered.Add(float64(len(survivors)))

	var userFeeds, regular []string
	for _, n := range survivors {
		if strings.HasPrefix(n, "u_") {
			userFeeds = append(userFeeds, n)
		} else {
			regular = append(regular, n)
		}
	}

	if len(userFeeds) > 0 {
		rows := make([]store.Subreddit, len(userFeeds))
		for i, n := range userFeeds {
			rows[i] = store.Subreddit{
				Name:   n,
				Review: nullString(store.ReviewUserFeed),
			}
		}
		e.sink.AddSubreddits(rows...)
		e.caches.AddKnown(store.ReviewUserFeed, userFeeds...)
	}

	if len(regular) > 0 {
		regular = utils.ShuffleStrings(regular)
		e.processBatch(ctx, regular, processOpts{},
			e.cfg.RedditDiscoveryStagger, e.cfg.RedditDiscoveryJitter)
	}
}
