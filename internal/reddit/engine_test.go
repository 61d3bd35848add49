package reddit

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/social-harvest/backend/internal/cache"
	"github.com/onnwee/social-harvest/backend/internal/config"
	"github.com/onnwee/social-harvest/backend/internal/httpclient"
	"github.com/onnwee/social-harvest/backend/internal/logger"
	"github.com/onnwee/social-harvest/backend/internal/redditapi"
	"github.com/onnwee/social-harvest/backend/internal/store"
)

type fakeStore struct {
	mu       sync.Mutex
	names    []string
	stale    []string
	byReview map[string][]string
	meta     map[string]store.SubredditMeta
}

func (f *fakeStore) ListAllSubredditNames(ctx context.Context) ([]string, error) {
	return f.names, nil
}

func (f *fakeStore) ListSubredditNamesByReview(ctx context.Context, review string) ([]string, error) {
	return f.byReview[review], nil
}

func (f *fakeStore) ListNullReviewSubredditNames(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (f *fakeStore) StaleSubredditNames(ctx context.Context, olderThan time.Duration) ([]string, error) {
	return f.stale, nil
}

func (f *fakeStore) GetSubredditMeta(ctx context.Context, name string) (store.SubredditMeta, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meta[name]
	return m, ok, nil
}

type fakeAPI struct {
	info      map[string]*redditapi.AboutData
	rules     map[string][]redditapi.Rule
	topPosts  map[string][]redditapi.PostData
	userPosts map[string][]redditapi.PostData
	banned    map[string]bool
}

func (f *fakeAPI) GetSubredditInfo(ctx context.Context, name string, px store.Proxy) (*redditapi.AboutData, httpclient.Kind) {
	if f.banned[name] {
		return nil, httpclient.KindBanned
	}
	if info, ok := f.info[name]; ok {
		return info, httpclient.KindOK
	}
	return nil, httpclient.KindNotFound
}

func (f *fakeAPI) GetSubredditRules(ctx context.Context, name string, px store.Proxy) ([]redditapi.Rule, httpclient.Kind) {
	return f.rules[name], httpclient.KindOK
}

func (f *fakeAPI) GetSubredditTopPosts(ctx context.Context, name, window string, limit int, px store.Proxy) ([]redditapi.PostData, httpclient.Kind) {
	return f.topPosts[name], httpclient.KindOK
}

func (f *fakeAPI) GetUserPosts(ctx context.Context, username string, limit int, px store.Proxy) ([]redditapi.PostData, httpclient.Kind) {
	return f.userPosts[username], httpclient.KindOK
}

type fakePool struct{}

func (fakePool) Load(ctx context.Context) error           { return nil }
func (fakePool) TestAll(ctx context.Context) (int, error) { return 1, nil }
func (fakePool) Next() store.Proxy                        { return store.Proxy{ID: 1} }

type fakeSink struct {
	mu         sync.Mutex
	subreddits []store.Subreddit
	users      []store.RedditUser
	posts      []store.Post
	flushes    int
}

func (f *fakeSink) AddSubreddits(rows ...store.Subreddit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subreddits = append(f.subreddits, rows...)
}

func (f *fakeSink) AddUsers(rows ...store.RedditUser) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, rows...)
}

func (f *fakeSink) AddPosts(rows ...store.Post) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, rows...)
}

func (f *fakeSink) FlushAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

func (f *fakeSink) findSubreddit(name string) (store.Subreddit, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subreddits {
		if s.Name == name {
			return s, true
		}
	}
	return store.Subreddit{}, false
}

func newTestEngine(t *testing.T, st *fakeStore, api *fakeAPI, sink *fakeSink) *Engine {
	t.Helper()
	t.Setenv("REDDIT_OK_STAGGER_MS", "1")
	t.Setenv("REDDIT_OK_STAGGER_JITTER_MS", "1")
	t.Setenv("REDDIT_DISCOVERY_STAGGER_MS", "1")
	t.Setenv("REDDIT_DISCOVERY_JITTER_MS", "1")
	t.Setenv("REDDIT_USER_STAGGER_MS", "1")
	t.Setenv("REDDIT_USER_JITTER_MS", "1")
	config.ResetForTest()
	t.Cleanup(config.ResetForTest)

	meta, err := cache.NewMeta(1000, time.Hour)
	if err != nil {
		t.Fatalf("meta cache: %v", err)
	}
	log := logger.NewHarvester("reddit", "test", "error", nil)
	return NewEngine(st, api, fakePool{}, sink, meta, log)
}

func TestOkSubredditHappyPath(t *testing.T) {
	st := &fakeStore{
		names:    []string{"foo"},
		byReview: map[string][]string{store.ReviewOk: {"foo"}},
		meta:     map[string]store.SubredditMeta{"foo": metaWithReview(store.ReviewOk)},
	}
	api := &fakeAPI{
		info: map[string]*redditapi.AboutData{
			"foo": {DisplayName: "foo", Subscribers: 1000, PublicDescription: "welcome", AllowImages: true},
		},
		topPosts: map[string][]redditapi.PostData{
			"foo": {{
				ID: "p1", Subreddit: "foo", Author: "alice",
				Score: 10, NumComments: 2, CreatedUTC: 1_700_000_000, IsSelf: true,
			}},
		},
	}
	sink := &fakeSink{}
	e := newTestEngine(t, st, api, sink)

	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	sub, ok := sink.findSubreddit("foo")
	if !ok {
		t.Fatal("foo not upserted")
	}
	if sub.AvgUpvotesPerPost != 10.0 {
		t.Errorf("avg upvotes = %v, want 10", sub.AvgUpvotesPerPost)
	}
	if math.Abs(sub.Engagement-0.2) > 1e-9 {
		t.Errorf("engagement = %v, want 0.2", sub.Engagement)
	}
	if math.Abs(sub.SubredditScore-math.Sqrt(2000)) > 1e-6 {
		t.Errorf("score = %v, want sqrt(2000)", sub.SubredditScore)
	}
	if !sub.AllowImages {
		t.Error("allow_images from about.json was not carried into the row")
	}

	if len(sink.users) != 1 || sink.users[0].Username != "alice" {
		t.Errorf("users = %+v, want minimal alice row", sink.users)
	}
	if len(sink.posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(sink.posts))
	}
	p := sink.posts[0]
	if p.RedditID != "p1" || p.ContentType != "text" {
		t.Errorf("post = %+v", p)
	}
	if p.SubPrimaryCategory.Valid {
		t.Error("sub_primary_category should be NULL")
	}
}

func TestAutoClassificationOnNullReview(t *testing.T) {
	st := &fakeStore{
		byReview: map[string][]string{store.ReviewOk: {"new"}},
		meta:     map[string]store.SubredditMeta{},
	}
	api := &fakeAPI{
		info:  map[string]*redditapi.AboutData{"new": {DisplayName: "new"}},
		rules: map[string][]redditapi.Rule{"new": {{ShortName: "content", Description: "hentai only"}}},
	}
	sink := &fakeSink{}
	e := newTestEngine(t, st, api, sink)

	if _, err := e.processSubreddit(context.Background(), "new", processOpts{}); err != nil {
		t.Fatalf("process: %v", err)
	}
	sub, ok := sink.findSubreddit("new")
	if !ok {
		t.Fatal("new not upserted")
	}
	if !sub.Review.Valid || sub.Review.String != store.ReviewNonRelated {
		t.Errorf("review = %+v, want Non Related", sub.Review)
	}
}

func TestManualCurationPreserved(t *testing.T) {
	okReview := store.ReviewOk
	category := "fitness"
	st := &fakeStore{
		meta: map[string]store.SubredditMeta{
			"bar": {Review: &okReview, PrimaryCategory: &category, Tags: []string{"foo"}},
		},
	}
	api := &fakeAPI{
		info:  map[string]*redditapi.AboutData{"bar": {DisplayName: "bar"}},
		rules: map[string][]redditapi.Rule{"bar": {{Description: "no hentai reposts"}}},
	}
	sink := &fakeSink{}
	e := newTestEngine(t, st, api, sink)

	if _, err := e.processSubreddit(context.Background(), "bar", processOpts{}); err != nil {
		t.Fatalf("process: %v", err)
	}
	sub, ok := sink.findSubreddit("bar")
	if !ok {
		t.Fatal("bar not upserted")
	}
	// The classifier must not fire over a human verdict.
	if sub.Review.String != store.ReviewOk {
		t.Errorf("review = %q, want Ok", sub.Review.String)
	}
	if sub.PrimaryCategory.String != "fitness" {
		t.Errorf("primary_category = %q, want fitness", sub.PrimaryCategory.String)
	}
	if len(sub.Tags) != 1 || sub.Tags[0] != "foo" {
		t.Errorf("tags = %v, want [foo]", sub.Tags)
	}
}

func TestBannedSubreddit(t *testing.T) {
	st := &fakeStore{meta: map[string]store.SubredditMeta{}}
	api := &fakeAPI{banned: map[string]bool{"baz": true}}
	sink := &fakeSink{}
	e := newTestEngine(t, st, api, sink)

	discovered, err := e.processSubreddit(context.Background(), "baz", processOpts{ProcessUsers: true, AllowDiscovery: true})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(discovered) != 0 {
		t.Errorf("discovered = %v, want empty", discovered)
	}
	sub, ok := sink.findSubreddit("baz")
	if !ok {
		t.Fatal("baz not upserted")
	}
	if sub.Review.String != store.ReviewBanned {
		t.Errorf("review = %q, want Banned", sub.Review.String)
	}
	if len(sink.posts) != 0 || len(sink.users) != 0 {
		t.Error("no posts or users should be written for a banned subreddit")
	}
}

func TestDiscoveryThroughAuthors(t *testing.T) {
	st := &fakeStore{
		names:    []string{"foo"},
		byReview: map[string][]string{store.ReviewOk: {"foo"}},
		meta:     map[string]store.SubredditMeta{"foo": metaWithReview(store.ReviewOk)},
	}
	api := &fakeAPI{
		info: map[string]*redditapi.AboutData{
			"foo":        {DisplayName: "foo"},
			"discovered": {DisplayName: "discovered"},
		},
		topPosts: map[string][]redditapi.PostData{
			"foo": {{ID: "p1", Subreddit: "foo", Author: "alice", Score: 5}},
		},
		userPosts: map[string][]redditapi.PostData{
			"alice": {{ID: "p2", Subreddit: "discovered", Author: "alice", Score: 1}},
		},
	}
	sink := &fakeSink{}
	e := newTestEngine(t, st, api, sink)

	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if _, ok := sink.findSubreddit("discovered"); !ok {
		t.Error("discovered subreddit was not scraped in the second wave")
	}
	// Second-wave targets must not trigger further author expansion.
	for _, u := range sink.users {
		if u.Username != "alice" {
			t.Errorf("unexpected user row %q from discovery wave", u.Username)
		}
	}
}

func TestNoIntraCycleRepeat(t *testing.T) {
	c := NewCaches(time.Hour, 24*time.Hour)
	c.MarkProcessed("foo")
	survivors := c.FilterDiscovered(map[string]struct{}{"foo": {}, "bar": {}})
	if len(survivors) != 1 || survivors[0] != "bar" {
		t.Errorf("survivors = %v, want [bar]", survivors)
	}
	// Monotonic: once marked, never re-scheduled.
	c.MarkProcessed("bar")
	if got := c.FilterDiscovered(map[string]struct{}{"bar": {}}); len(got) != 0 {
		t.Errorf("bar re-scheduled: %v", got)
	}
}

func TestStubRowForUnknownSubreddit(t *testing.T) {
	st := &fakeStore{meta: map[string]store.SubredditMeta{"foo": metaWithReview(store.ReviewOk)}}
	api := &fakeAPI{
		info: map[string]*redditapi.AboutData{"foo": {DisplayName: "foo"}},
		topPosts: map[string][]redditapi.PostData{
			"foo": {{ID: "p1", Subreddit: "foo", Author: "alice", Score: 3}},
		},
		userPosts: map[string][]redditapi.PostData{
			"alice": {{ID: "p2", Subreddit: "u_alice", Author: "alice", Score: 1}},
		},
	}
	sink := &fakeSink{}
	e := newTestEngine(t, st, api, sink)

	if _, err := e.processSubreddit(context.Background(), "foo", processOpts{ProcessUsers: true, AllowDiscovery: true}); err != nil {
		t.Fatalf("process: %v", err)
	}
	stub, ok := sink.findSubreddit("u_alice")
	if !ok {
		t.Fatal("stub row for u_alice missing")
	}
	if stub.Review.String != store.ReviewUserFeed {
		t.Errorf("stub review = %q, want User Feed", stub.Review.String)
	}
	if stub.LastScrapedAt.Valid {
		t.Error("stub row must have no last_scraped_at")
	}
}

// A known but stale subreddit (including a never-scraped stub) must survive
// discovery filtering and get a full re-scrape; a fresh one must not.
func TestStaleStubRescrapedByDiscovery(t *testing.T) {
	st := &fakeStore{
		names:    []string{"foo", "oldstub", "freshsub"},
		stale:    []string{"oldstub"},
		byReview: map[string][]string{store.ReviewOk: {"foo"}},
		meta: map[string]store.SubredditMeta{
			"foo":      metaWithReview(store.ReviewOk),
			"oldstub":  {},
			"freshsub": {},
		},
	}
	api := &fakeAPI{
		info: map[string]*redditapi.AboutData{
			"foo":     {DisplayName: "foo"},
			"oldstub": {DisplayName: "oldstub"},
		},
		topPosts: map[string][]redditapi.PostData{
			"foo": {{ID: "p1", Subreddit: "foo", Author: "alice", Score: 5}},
		},
		userPosts: map[string][]redditapi.PostData{
			"alice": {
				{ID: "p2", Subreddit: "oldstub", Author: "alice", Score: 1},
				{ID: "p3", Subreddit: "freshsub", Author: "alice", Score: 1},
			},
		},
	}
	sink := &fakeSink{}
	e := newTestEngine(t, st, api, sink)

	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	stub, ok := sink.findSubreddit("oldstub")
	if !ok {
		t.Fatal("stale stub was not re-scraped by discovery")
	}
	if !stub.LastScrapedAt.Valid {
		t.Error("re-scrape must set last_scraped_at")
	}
	if _, ok := sink.findSubreddit("freshsub"); ok {
		t.Error("recently scraped subreddit re-entered discovery")
	}
}

// A metadata-only refresh still writes posts, so it must also write the
// author rows those posts reference.
func TestNoSellerRefreshWritesAuthorRows(t *testing.T) {
	st := &fakeStore{meta: map[string]store.SubredditMeta{"quiet": metaWithReview(store.ReviewNoSeller)}}
	api := &fakeAPI{
		info: map[string]*redditapi.AboutData{"quiet": {DisplayName: "quiet"}},
		topPosts: map[string][]redditapi.PostData{
			"quiet": {{ID: "p9", Subreddit: "quiet", Author: "carol", Score: 4, CreatedUTC: 1_700_000_000}},
		},
	}
	sink := &fakeSink{}
	e := newTestEngine(t, st, api, sink)

	if _, err := e.processSubreddit(context.Background(), "quiet", processOpts{}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(sink.posts) != 1 || sink.posts[0].AuthorUsername != "carol" {
		t.Fatalf("posts = %+v, want one post by carol", sink.posts)
	}
	if len(sink.users) != 1 || sink.users[0].Username != "carol" {
		t.Errorf("users = %+v, want minimal carol row for the post author", sink.users)
	}
}

func metaWithReview(review string) store.SubredditMeta {
	return store.SubredditMeta{Review: &review}
}
