package instagram

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"
	"time"
)

var testOpts = AnalyticsOptions{ViralMinViews: 50000, ViralMultiplier: 5.0}

func item(pk string, taken int64, likes, comments, plays int64) MediaItem {
	return MediaItem{
		Pk:           json.Number(pk),
		TakenAt:      taken,
		LikeCount:    likes,
		CommentCount: comments,
		PlayCount:    plays,
	}
}

func TestAnalyticsEmptyContent(t *testing.T) {
	res := ComputeAnalytics(nil, nil, 1000, time.Now(), testOpts)
	if res.AvgReelViews != 0 || res.AvgEngagement != 0 || res.EngagementRate != 0 {
		t.Errorf("expected zeros, got %+v", res.CreatorAnalytics)
	}
	if res.ViralContentCount != 0 {
		t.Error("no content can be viral")
	}
	if res.BestContentType != "unknown" {
		t.Errorf("best_content_type = %q, want unknown", res.BestContentType)
	}
}

func TestAnalyticsAverages(t *testing.T) {
	reels := []MediaItem{
		item("1", 1_700_000_000, 100, 10, 1000),
		item("2", 1_700_086_400, 200, 30, 3000),
	}
	res := ComputeAnalytics(reels, nil, 10000, time.Unix(1_700_200_000, 0), testOpts)
	if res.AvgReelViews != 2000 {
		t.Errorf("avg views = %v, want 2000", res.AvgReelViews)
	}
	if res.AvgReelLikes != 150 {
		t.Errorf("avg likes = %v, want 150", res.AvgReelLikes)
	}
	// avg engagement = (110+230)/2 = 170; rate = 170/10000*100 = 1.7
	if math.Abs(res.EngagementRate-1.7) > 1e-9 {
		t.Errorf("engagement rate = %v, want 1.7", res.EngagementRate)
	}
	if res.BestContentType != "reels" {
		t.Errorf("best = %q, want reels", res.BestContentType)
	}
}

func TestViralDetection(t *testing.T) {
	reels := []MediaItem{
		item("small", 0, 0, 0, 100),
		item("big", 0, 0, 0, 1_000_000),
	}
	res := ComputeAnalytics(reels, nil, 0, time.Now(), testOpts)
	// avg views ≈ 500050; big has 1e6 < avg*5 so NOT viral despite the floor.
	if _, ok := res.ViralPKs["big"]; ok {
		t.Error("big should not be viral at 5x multiplier")
	}

	res = ComputeAnalytics(reels, nil, 0, time.Now(), AnalyticsOptions{ViralMinViews: 50000, ViralMultiplier: 1.5})
	if _, ok := res.ViralPKs["big"]; !ok {
		t.Error("big should be viral at 1.5x multiplier")
	}
	if _, ok := res.ViralPKs["small"]; ok {
		t.Error("small is under the views floor")
	}
}

// Raising the multiplier can only shrink the viral set, and raising the
// follower count can only lower the engagement rate.
func TestViralAndEngagementMonotonicity(t *testing.T) {
	reels := []MediaItem{
		item("1", 0, 10, 1, 60000),
		item("2", 0, 20, 2, 200000),
		item("3", 0, 5, 0, 1_000_000),
	}
	prevViral := math.MaxInt
	for _, mult := range []float64{1.0, 2.0, 5.0, 10.0} {
		res := ComputeAnalytics(reels, nil, 1000, time.Now(), AnalyticsOptions{ViralMinViews: 50000, ViralMultiplier: mult})
		if res.ViralContentCount > prevViral {
			t.Errorf("viral count grew from %d to %d at multiplier %v", prevViral, res.ViralContentCount, mult)
		}
		prevViral = res.ViralContentCount
	}

	prevRate := math.MaxFloat64
	for _, followers := range []int64{100, 1000, 10000, 100000} {
		res := ComputeAnalytics(reels, nil, followers, time.Now(), testOpts)
		if res.EngagementRate > prevRate {
			t.Errorf("engagement rate grew to %v at %d followers", res.EngagementRate, followers)
		}
		prevRate = res.EngagementRate
	}
}

func TestAnalyticsDeterministic(t *testing.T) {
	reels := []MediaItem{
		item("1", 1_700_000_000, 10, 1, 500),
		item("2", 1_700_100_000, 20, 2, 700),
	}
	posts := []MediaItem{
		item("3", 1_700_050_000, 50, 5, 0),
	}
	now := time.Unix(1_700_200_000, 0)
	a := ComputeAnalytics(reels, posts, 5000, now, testOpts)
	b := ComputeAnalytics(reels, posts, 5000, now, testOpts)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("analytics not deterministic:\n%+v\n%+v", a, b)
	}
}

func TestPostingCadence(t *testing.T) {
	// Three posts exactly one week apart: frequency ~1.5/week over the 2-week
	// span, perfectly consistent.
	week := int64(7 * 24 * 3600)
	base := int64(1_700_000_000)
	posts := []MediaItem{
		item("1", base, 1, 0, 0),
		item("2", base+week, 1, 0, 0),
		item("3", base+2*week, 1, 0, 0),
	}
	now := time.Unix(base+2*week+int64(24*3600), 0).UTC()
	res := ComputeAnalytics(nil, posts, 100, now, testOpts)
	if math.Abs(res.PostingFrequencyPerWeek-1.5) > 1e-9 {
		t.Errorf("frequency = %v, want 1.5", res.PostingFrequencyPerWeek)
	}
	if res.PostingConsistency != 100 {
		t.Errorf("consistency = %v, want 100", res.PostingConsistency)
	}
	if math.Abs(res.DaysSinceLastPost-1) > 1e-9 {
		t.Errorf("days since last = %v, want 1", res.DaysSinceLastPost)
	}
}

func TestBestContentTypeDominance(t *testing.T) {
	reel := item("r", 0, 150, 0, 0)
	post := item("p", 0, 100, 0, 0)
	res := ComputeAnalytics([]MediaItem{reel}, []MediaItem{post}, 0, time.Now(), testOpts)
	// 150 vs 100 is under the 1.5x dominance bar only at equality; 150 >= 150.
	if res.BestContentType != "reels" {
		t.Errorf("best = %q, want reels at exactly 1.5x", res.BestContentType)
	}

	res = ComputeAnalytics([]MediaItem{item("r", 0, 120, 0, 0)}, []MediaItem{post}, 0, time.Now(), testOpts)
	if res.BestContentType != "mixed" {
		t.Errorf("best = %q, want mixed under dominance bar", res.BestContentType)
	}
}
