package reddit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/onnwee/social-harvest/backend/internal/store"
	"github.com/onnwee/social-harvest/backend/internal/utils"
)

// Caches holds the per-cycle and cross-cycle name sets the engine consults on
// the hot path. All discovery filtering happens against these sets with zero
// store round-trips. One mutex guards everything; the sets are small.
type Caches struct {
	mu sync.Mutex

	// Per-cycle: reset at the top of every cycle.
	sessionProcessed    map[string]struct{}
	sessionFetchedUsers map[string]struct{}
	allSubreddits       map[string]struct{}
	stale               map[string]struct{}

	// Cross-cycle skip caches, refreshed when older than ttl.
	byReview   map[string]map[string]struct{}
	nullReview map[string]struct{}
	loadedAt   time.Time
	ttl        time.Duration
	staleness  time.Duration
}

// skipReviews are the review states loaded into skip caches.
var skipReviews = []string{
	store.ReviewOk,
	store.ReviewNoSeller,
	store.ReviewNonRelated,
	store.ReviewUserFeed,
	store.ReviewBanned,
}

func NewCaches(ttl, staleness time.Duration) *Caches {
	return &Caches{
		sessionProcessed:    make(map[string]struct{}),
		sessionFetchedUsers: make(map[string]struct{}),
		allSubreddits:       make(map[string]struct{}),
		stale:               make(map[string]struct{}),
		byReview:            make(map[string]map[string]struct{}),
		nullReview:          make(map[string]struct{}),
		ttl:                 ttl,
		staleness:           staleness,
	}
}

// CacheStore is the read surface the caches refresh from.
type CacheStore interface {
	ListAllSubredditNames(ctx context.Context) ([]string, error)
	ListSubredditNamesByReview(ctx context.Context, review string) ([]string, error)
	ListNullReviewSubredditNames(ctx context.Context) ([]string, error)
	StaleSubredditNames(ctx context.Context, olderThan time.Duration) ([]string, error)
}

// ResetSession clears the per-cycle sets and reloads the full name set plus the
// stale set (rows past the staleness window, including never-scraped stubs).
// Called at the top of every cycle.
func (c *Caches) ResetSession(ctx context.Context, st CacheStore) error {
	names, err := st.ListAllSubredditNames(ctx)
	if err != nil {
		return fmt.Errorf("load all subreddit names: %w", err)
	}
	staleNames, err := st.StaleSubredditNames(ctx, c.staleness)
	if err != nil {
		return fmt.Errorf("load stale subreddit names: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionProcessed = make(map[string]struct{})
	c.sessionFetchedUsers = make(map[string]struct{})
	c.allSubreddits = make(map[string]struct{}, len(names))
	for _, n := range names {
		c.allSubreddits[utils.NormalizeName(n)] = struct{}{}
	}
	c.stale = make(map[string]struct{}, len(staleNames))
	for _, n := range staleNames {
		c.stale[utils.NormalizeName(n)] = struct{}{}
	}
	return nil
}

// EnsureFresh reloads the skip caches if they are older than ttl.
func (c *Caches) EnsureFresh(ctx context.Context, st CacheStore) error {
	c.mu.Lock()
	stale := time.Since(c.loadedAt) >= c.ttl
	c.mu.Unlock()
	if !stale {
		return nil
	}

	byReview := make(map[string]map[string]struct{}, len(skipReviews))
	for _, review := range skipReviews {
		names, err := st.ListSubredditNamesByReview(ctx, review)
		if err != nil {
			return fmt.Errorf("load %q skip cache: %w", review, err)
		}
		set := make(map[string]struct{}, len(names))
		for _, n := range names {
			set[utils.NormalizeName(n)] = struct{}{}
		}
		byReview[review] = set
	}
	nullNames, err := st.ListNullReviewSubredditNames(ctx)
	if err != nil {
		return fmt.Errorf("load null-review skip cache: %w", err)
	}
	nullSet := make(map[string]struct{}, len(nullNames))
	for _, n := range nullNames {
		nullSet[utils.NormalizeName(n)] = struct{}{}
	}

	c.mu.Lock()
	c.byReview = byReview
	c.nullReview = nullSet
	c.loadedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// MarkProcessed adds names to the session set. Monotonic: names never leave
// within a cycle.
func (c *Caches) MarkProcessed(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range names {
		c.sessionProcessed[utils.NormalizeName(n)] = struct{}{}
	}
}

func (c *Caches) IsProcessed(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessionProcessed[utils.NormalizeName(name)]
	return ok
}

// MarkUserFetched records a username whose posts were pulled this cycle.
// Returns false if the user was already fetched, claiming it atomically.
func (c *Caches) MarkUserFetched(username string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := utils.NormalizeName(username)
	if _, ok := c.sessionFetchedUsers[key]; ok {
		return false
	}
	c.sessionFetchedUsers[key] = struct{}{}
	return true
}

// AddKnown records names that now exist in the store, optionally under a
// review bucket so later discovery filtering skips them.
func (c *Caches) AddKnown(review string, names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range names {
		key := utils.NormalizeName(n)
		c.allSubreddits[key] = struct{}{}
		if review == "" {
			c.nullReview[key] = struct{}{}
			continue
		}
		set := c.byReview[review]
		if set == nil {
			set = make(map[string]struct{})
			c.byReview[review] = set
		}
		set[key] = struct{}{}
	}
}

// FilterDiscovered subtracts everything already known, already processed this
// cycle, or sitting in a review skip cache. Pure set math, no store calls.
// A known row past the staleness window survives the known/null-review checks
// so discovery re-scrapes it; reviewed rows are never re-entered this way.
func (c *Caches) FilterDiscovered(names map[string]struct{}) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for n := range names {
		key := utils.NormalizeName(n)
		if _, ok := c.sessionProcessed[key]; ok {
			continue
		}
		if c.inReviewSkipLocked(key) {
			continue
		}
		if _, ok := c.stale[key]; ok {
			out = append(out, key)
			continue
		}
		if _, ok := c.allSubreddits[key]; ok {
			continue
		}
		if _, ok := c.nullReview[key]; ok {
			continue
		}
		out = append(out, key)
	}
	return out
}

func (c *Caches) inReviewSkipLocked(key string) bool {
	for _, set := range c.byReview {
		if _, ok := set[key]; ok {
			return true
		}
	}
	return false
}
