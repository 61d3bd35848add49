package instagram

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/social-harvest/backend/internal/config"
	"github.com/onnwee/social-harvest/backend/internal/logger"
	"github.com/onnwee/social-harvest/backend/internal/store"
)

type fakeIGStore struct {
	mu            sync.Mutex
	creators      []store.Creator
	counts        map[string][2]int
	existing      map[string]store.MediaURLs
	history       []store.FollowerHistory
	profileWrites []store.Creator
	reelWrites    [][]store.Media
	postWrites    [][]store.Media
	analytics     map[string]store.CreatorAnalytics
}

func (f *fakeIGStore) ListApprovedCreators(ctx context.Context) ([]store.Creator, error) {
	return f.creators, nil
}

func (f *fakeIGStore) CreatorContentCounts(ctx context.Context, id string) (int, int, error) {
	c := f.counts[id]
	return c[0], c[1], nil
}

func (f *fakeIGStore) UpdateCreatorProfile(ctx context.Context, c store.Creator) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileWrites = append(f.profileWrites, c)
	return nil
}

func (f *fakeIGStore) UpdateCreatorAnalytics(ctx context.Context, id string, a store.CreatorAnalytics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.analytics == nil {
		f.analytics = make(map[string]store.CreatorAnalytics)
	}
	f.analytics[id] = a
	return nil
}

func (f *fakeIGStore) UpsertReels(ctx context.Context, reels []store.Media) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reelWrites = append(f.reelWrites, reels)
	return nil
}

func (f *fakeIGStore) UpsertIGPosts(ctx context.Context, posts []store.Media) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postWrites = append(f.postWrites, posts)
	return nil
}

func (f *fakeIGStore) ExistingMediaURLs(ctx context.Context, table string, pks []string) (map[string]store.MediaURLs, error) {
	out := make(map[string]store.MediaURLs)
	for _, pk := range pks {
		if u, ok := f.existing[pk]; ok {
			out[pk] = u
		}
	}
	return out, nil
}

func (f *fakeIGStore) InsertFollowerHistory(ctx context.Context, h store.FollowerHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, h)
	return nil
}

func (f *fakeIGStore) FollowerHistorySince(ctx context.Context, id string, since time.Time) ([]store.FollowerHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.FollowerHistory
	for _, h := range f.history {
		if h.CreatorID == id && !h.RecordedAt.Before(since) {
			out = append(out, h)
		}
	}
	return out, nil
}

type fakeFetcher struct {
	profile *Profile
	reels   []MediaItem
	posts   []MediaItem
	err     error
}

func (f *fakeFetcher) GetProfile(ctx context.Context, username string) (*Profile, error) {
	return f.profile, f.err
}

func (f *fakeFetcher) GetReels(ctx context.Context, userID string, count int) ([]MediaItem, error) {
	if count < len(f.reels) {
		return f.reels[:count], f.err
	}
	return f.reels, f.err
}

func (f *fakeFetcher) GetPosts(ctx context.Context, userID string, count int) ([]MediaItem, error) {
	if count < len(f.posts) {
		return f.posts[:count], f.err
	}
	return f.posts, f.err
}

func newIGEngine(t *testing.T, st *fakeIGStore, api *fakeFetcher) *Engine {
	t.Helper()
	config.ResetForTest()
	t.Cleanup(config.ResetForTest)
	return NewEngine(st, api, logger.NewHarvester("instagram", "test", "error", nil))
}

func TestCDNURLPreserved(t *testing.T) {
	st := &fakeIGStore{
		counts: map[string][2]int{"c1": {5, 5}},
		existing: map[string]store.MediaURLs{
			"42": {VideoURL: sql.NullString{String: "https://cdn.example.com/42.mp4", Valid: true}},
		},
	}
	api := &fakeFetcher{
		profile: &Profile{Username: "creator", FollowerCount: 1000},
		reels: []MediaItem{{
			Pk:      json.Number("42"),
			TakenAt: 1_700_000_000,
			VideoVersions: []struct {
				URL string `json:"url"`
			}{{URL: "https://reels-source/xyz.mp4"}},
		}},
	}
	e := newIGEngine(t, st, api)

	if err := e.processCreator(context.Background(), store.Creator{IGUserID: "c1", Username: "creator"}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(st.reelWrites) != 1 || len(st.reelWrites[0]) != 1 {
		t.Fatalf("reel writes = %+v", st.reelWrites)
	}
	got := st.reelWrites[0][0]
	if got.VideoURL.String != "https://cdn.example.com/42.mp4" {
		t.Errorf("video_url = %q, want preserved CDN URL", got.VideoURL.String)
	}
}

// With a CDN prefix configured, only rewritten URLs are preserved; a stored
// upstream URL has expired and must be refreshed from the new scrape.
func TestExpiredSourceURLRefreshed(t *testing.T) {
	t.Setenv("IG_CDN_URL_PREFIX", "https://cdn.example.com/")
	st := &fakeIGStore{
		counts: map[string][2]int{"c1": {5, 5}},
		existing: map[string]store.MediaURLs{
			"42": {VideoURL: sql.NullString{String: "https://cdn.example.com/42.mp4", Valid: true}},
			"43": {VideoURL: sql.NullString{String: "https://reels-source/old-43.mp4", Valid: true}},
		},
	}
	api := &fakeFetcher{
		profile: &Profile{Username: "creator", FollowerCount: 1000},
		reels: []MediaItem{
			{
				Pk:      json.Number("42"),
				TakenAt: 1_700_000_000,
				VideoVersions: []struct {
					URL string `json:"url"`
				}{{URL: "https://reels-source/new-42.mp4"}},
			},
			{
				Pk:      json.Number("43"),
				TakenAt: 1_700_000_100,
				VideoVersions: []struct {
					URL string `json:"url"`
				}{{URL: "https://reels-source/new-43.mp4"}},
			},
		},
	}
	e := newIGEngine(t, st, api)

	if err := e.processCreator(context.Background(), store.Creator{IGUserID: "c1", Username: "creator"}); err != nil {
		t.Fatalf("process: %v", err)
	}
	byPK := make(map[string]store.Media)
	for _, m := range st.reelWrites[0] {
		byPK[m.MediaPK] = m
	}
	if got := byPK["42"].VideoURL.String; got != "https://cdn.example.com/42.mp4" {
		t.Errorf("video_url for 42 = %q, want preserved CDN URL", got)
	}
	if got := byPK["43"].VideoURL.String; got != "https://reels-source/new-43.mp4" {
		t.Errorf("video_url for 43 = %q, want refreshed source URL", got)
	}
}

func TestNewCreatorGetsDeepFetch(t *testing.T) {
	st := &fakeIGStore{counts: map[string][2]int{"c1": {0, 0}}}
	reels := make([]MediaItem, 120)
	for i := range reels {
		reels[i] = MediaItem{Pk: json.Number(jsonPk(i)), TakenAt: 1_700_000_000 + int64(i)}
	}
	api := &fakeFetcher{
		profile: &Profile{Username: "creator", FollowerCount: 10},
		reels:   reels,
	}
	e := newIGEngine(t, st, api)

	if err := e.processCreator(context.Background(), store.Creator{IGUserID: "c1", Username: "creator"}); err != nil {
		t.Fatalf("process: %v", err)
	}
	// New creators pull the deep reel depth (90), not the incremental 30.
	if len(st.reelWrites[0]) != 90 {
		t.Errorf("stored %d reels, want 90", len(st.reelWrites[0]))
	}
}

func TestProfileUpdateRecordsHistoryAndGrowth(t *testing.T) {
	st := &fakeIGStore{counts: map[string][2]int{"c1": {1, 1}}}
	st.history = []store.FollowerHistory{{
		CreatorID: "c1", RecordedAt: time.Now().Add(-12 * time.Hour), Followers: 1000,
	}}
	api := &fakeFetcher{
		profile: &Profile{
			Username:      "creator",
			FollowerCount: 1100,
			ExternalURL:   "https://onlyfans.com/creator",
		},
	}
	e := newIGEngine(t, st, api)

	if err := e.processCreator(context.Background(), store.Creator{IGUserID: "c1", Username: "creator"}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(st.profileWrites) != 1 {
		t.Fatalf("profile writes = %d, want 1", len(st.profileWrites))
	}
	p := st.profileWrites[0]
	if !p.DailyGrowthRate.Valid || p.DailyGrowthRate.Float64 != 10.0 {
		t.Errorf("daily growth = %+v, want 10%%", p.DailyGrowthRate)
	}
	if p.ExternalURLType.String != "onlyfans" {
		t.Errorf("external_url_type = %q, want onlyfans", p.ExternalURLType.String)
	}
	if len(st.history) != 2 {
		t.Errorf("history rows = %d, want 2", len(st.history))
	}
}

// A creator with no prior history rows has nothing to derive growth from:
// the rates must be NULL, not 0%, and must not see the sample recorded in
// the same pass.
func TestFirstHistorySampleYieldsNullGrowth(t *testing.T) {
	st := &fakeIGStore{counts: map[string][2]int{"c1": {1, 1}}}
	api := &fakeFetcher{
		profile: &Profile{Username: "creator", FollowerCount: 500},
	}
	e := newIGEngine(t, st, api)

	if err := e.processCreator(context.Background(), store.Creator{IGUserID: "c1", Username: "creator"}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(st.profileWrites) != 1 {
		t.Fatalf("profile writes = %d, want 1", len(st.profileWrites))
	}
	p := st.profileWrites[0]
	if p.DailyGrowthRate.Valid || p.WeeklyGrowthRate.Valid {
		t.Errorf("growth = %+v / %+v, want NULL on first sample", p.DailyGrowthRate, p.WeeklyGrowthRate)
	}
	if len(st.history) != 1 {
		t.Errorf("history rows = %d, want 1", len(st.history))
	}
}

func TestCreatorNotFoundIsNotFatal(t *testing.T) {
	st := &fakeIGStore{counts: map[string][2]int{"c1": {0, 0}}}
	api := &fakeFetcher{err: ErrUserNotFound}
	e := newIGEngine(t, st, api)

	if err := e.processCreator(context.Background(), store.Creator{IGUserID: "c1", Username: "gone"}); err != nil {
		t.Fatalf("vanished creator should not error the cycle: %v", err)
	}
	if len(st.profileWrites) != 0 {
		t.Error("no profile write expected for a vanished creator")
	}
}

func TestHashtagAndMentionExtraction(t *testing.T) {
	caption := "new drop #fitness #Gym with @partner and #fitness again"
	item := MediaItem{Pk: json.Number("7"), Caption: &struct {
		Text string `json:"text"`
	}{Text: caption}}
	row := toMediaRow(item, "c1")
	if len(row.Hashtags) != 2 {
		t.Errorf("hashtags = %v, want [fitness Gym]", row.Hashtags)
	}
	if len(row.Mentions) != 1 || row.Mentions[0] != "partner" {
		t.Errorf("mentions = %v, want [partner]", row.Mentions)
	}
}

func jsonPk(i int) string {
	return strconv.Itoa(1000 + i)
}
