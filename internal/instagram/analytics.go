package instagram

import (
	"math"
	"sort"
	"time"

	"github.com/onnwee/social-harvest/backend/internal/store"
)

// AnalyticsOptions are the viral-detection thresholds.
type AnalyticsOptions struct {
	ViralMinViews   int64
	ViralMultiplier float64
}

// AnalyticsResult is the computed analytics block plus the set of media PKs
// flagged viral, so storage can mark individual rows.
type AnalyticsResult struct {
	store.CreatorAnalytics
	ViralPKs map[string]struct{}
}

// ComputeAnalytics derives the creator analytics from fetched content and the
// current follower count. Pure and deterministic: no I/O, the clock is an
// argument.
func ComputeAnalytics(reels, posts []MediaItem, followers int64, now time.Time, opts AnalyticsOptions) AnalyticsResult {
	res := AnalyticsResult{ViralPKs: make(map[string]struct{})}

	var (
		reelViews, reelLikes, reelComments    int64
		postLikes, postComments               int64
		totalLikes, totalComments, totalSaves int64
		totalEngagement                       int64
		reelEngagement, postEngagement        int64
	)
	for _, r := range reels {
		reelViews += r.PlayCount
		reelLikes += r.LikeCount
		reelComments += r.CommentCount
		reelEngagement += engagementOf(r)
	}
	for _, p := range posts {
		postLikes += p.LikeCount
		postComments += p.CommentCount
		postEngagement += engagementOf(p)
	}
	totalLikes = reelLikes + postLikes
	totalComments = reelComments + postComments
	for _, m := range append(append([]MediaItem{}, reels...), posts...) {
		totalSaves += m.SaveCount
	}
	totalEngagement = reelEngagement + postEngagement

	nReels, nPosts := len(reels), len(posts)
	nAll := nReels + nPosts

	if nReels > 0 {
		res.AvgReelViews = float64(reelViews) / float64(nReels)
		res.AvgReelLikes = float64(reelLikes) / float64(nReels)
		res.AvgReelComments = float64(reelComments) / float64(nReels)
	}
	if nPosts > 0 {
		res.AvgPostLikes = float64(postLikes) / float64(nPosts)
		res.AvgPostComments = float64(postComments) / float64(nPosts)
	}
	if nAll > 0 {
		res.AvgEngagement = float64(totalEngagement) / float64(nAll)
	}
	if followers > 0 {
		res.EngagementRate = (res.AvgEngagement / float64(followers)) * 100
	}
	if totalLikes > 0 {
		res.CommentToLikeRatio = float64(totalComments) / float64(totalLikes)
		res.SaveToLikeRatio = float64(totalSaves) / float64(totalLikes)
	}

	var avgReelEng, avgPostEng float64
	if nReels > 0 {
		avgReelEng = float64(reelEngagement) / float64(nReels)
	}
	if nPosts > 0 {
		avgPostEng = float64(postEngagement) / float64(nPosts)
	}
	if avgPostEng > 0 {
		res.ReelsVsPostsPerformance = avgReelEng / avgPostEng
	}
	res.BestContentType = bestContentType(nReels, nPosts, avgReelEng, avgPostEng)

	// Viral detection: reels by views against both floor and ratio; posts by
	// engagement ratio alone.
	for _, r := range reels {
		if float64(r.PlayCount) >= float64(opts.ViralMinViews) &&
			res.AvgReelViews > 0 &&
			float64(r.PlayCount) >= res.AvgReelViews*opts.ViralMultiplier {
			res.ViralPKs[r.Pk.String()] = struct{}{}
		}
	}
	for _, p := range posts {
		if avgPostEng > 0 && float64(engagementOf(p)) >= avgPostEng*opts.ViralMultiplier {
			res.ViralPKs[p.Pk.String()] = struct{}{}
		}
	}
	res.ViralContentCount = len(res.ViralPKs)

	computeCadence(&res.CreatorAnalytics, reels, posts, now)
	return res
}

func engagementOf(m MediaItem) int64 {
	return m.LikeCount + m.CommentCount + m.SaveCount + m.ShareCount
}

// bestContentType applies a 1.5x dominance rule on per-item engagement.
func bestContentType(nReels, nPosts int, avgReelEng, avgPostEng float64) string {
	switch {
	case nReels == 0 && nPosts == 0:
		return "unknown"
	case nPosts == 0:
		return "reels"
	case nReels == 0:
		return "posts"
	case avgReelEng >= avgPostEng*1.5:
		return "reels"
	case avgPostEng >= avgReelEng*1.5:
		return "posts"
	default:
		return "mixed"
	}
}

func computeCadence(a *store.CreatorAnalytics, reels, posts []MediaItem, now time.Time) {
	var times []time.Time
	for _, m := range append(append([]MediaItem{}, reels...), posts...) {
		if m.TakenAt > 0 {
			times = append(times, time.Unix(m.TakenAt, 0).UTC())
		}
	}
	if len(times) == 0 {
		return
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	last := times[len(times)-1]
	a.DaysSinceLastPost = now.Sub(last).Hours() / 24
	if a.DaysSinceLastPost < 0 {
		a.DaysSinceLastPost = 0
	}

	dayCounts := make(map[string]int)
	hourCounts := make(map[int]int)
	for _, t := range times {
		dayCounts[t.Weekday().String()]++
		hourCounts[t.Hour()]++
	}
	a.MostActiveDay = histogramModeDay(dayCounts)
	a.MostActiveHour = histogramModeHour(hourCounts)

	if len(times) < 2 {
		return
	}
	span := times[len(times)-1].Sub(times[0])
	if span > 0 {
		weeks := span.Hours() / (24 * 7)
		a.PostingFrequencyPerWeek = float64(len(times)) / weeks
	}

	intervals := make([]float64, 0, len(times)-1)
	var sum float64
	for i := 1; i < len(times); i++ {
		iv := times[i].Sub(times[i-1]).Hours()
		intervals = append(intervals, iv)
		sum += iv
	}
	avg := sum / float64(len(intervals))
	if avg <= 0 {
		return
	}
	var variance float64
	for _, iv := range intervals {
		variance += (iv - avg) * (iv - avg)
	}
	stddev := math.Sqrt(variance / float64(len(intervals)))
	score := 100 - (stddev/avg)*100
	if score < 0 {
		score = 0
	}
	a.PostingConsistency = score
}

// histogramModeDay breaks ties by weekday order so results stay deterministic.
func histogramModeDay(counts map[string]int) string {
	days := []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}
	best, bestCount := "", -1
	for _, d := range days {
		if counts[d] > bestCount {
			best, bestCount = d, counts[d]
		}
	}
	return best
}

func histogramModeHour(counts map[int]int) int {
	best, bestCount := 0, -1
	for h := 0; h < 24; h++ {
		if counts[h] > bestCount {
			best, bestCount = h, counts[h]
		}
	}
	return best
}
