package reddit

import (
	"math"
	"strings"

	"github.com/onnwee/social-harvest/backend/internal/redditapi"
)

// SubredditMetrics are the derived numbers written on every subreddit upsert.
type SubredditMetrics struct {
	AvgUpvotesPerPost float64
	Engagement        float64
	SubredditScore    float64
}

// verificationTerms flag communities that require poster verification.
var verificationTerms = []string{"verification", "verified", "verify"}

// ComputeMetrics derives the engagement numbers from the top-weekly posts.
// All divisions are zero-safe: an empty or zero-score week produces zeros.
func ComputeMetrics(posts []redditapi.PostData) SubredditMetrics {
	if len(posts) == 0 {
		return SubredditMetrics{}
	}
	var totalScore, totalComments int64
	for _, p := range posts {
		totalScore += p.Score
		totalComments += p.NumComments
	}
	m := SubredditMetrics{
		AvgUpvotesPerPost: float64(totalScore) / float64(len(posts)),
	}
	if totalScore > 0 {
		m.Engagement = float64(totalComments) / float64(totalScore)
	}
	m.SubredditScore = math.Sqrt(m.Engagement * m.AvgUpvotesPerPost * 1000)
	return m
}

// RequiresVerification reports whether the combined rules+description text
// mentions poster verification.
func RequiresVerification(text string) bool {
	lower := strings.ToLower(text)
	for _, term := range verificationTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// ContentType derives the post content type. Order matters: gallery beats
// video beats selftext beats image-extension beats plain link.
func ContentType(p redditapi.PostData) string {
	switch {
	case p.IsGallery:
		return "gallery"
	case p.IsVideo:
		return "video"
	case p.IsSelf:
		return "text"
	case hasImageExtension(p.URL):
		return "image"
	default:
		return "link"
	}
}

func hasImageExtension(url string) bool {
	lower := strings.ToLower(url)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif", ".webp"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
