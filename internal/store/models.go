package store

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

// Review values for the manually curated subreddit field. A NULL review means
// "newly discovered, awaiting a human verdict".
const (
	ReviewOk         = "Ok"
	ReviewNoSeller   = "No Seller"
	ReviewNonRelated = "Non Related"
	ReviewUserFeed   = "User Feed"
	ReviewBanned     = "Banned"
)

// Proxy is a row in the proxies table. The harvester only ever bumps the
// success/error counters; activation is a human concern.
type Proxy struct {
	ID           int64
	Service      string
	URL          string
	Username     string
	Password     string
	DisplayName  string
	Priority     int
	MaxThreads   int
	IsActive     bool
	SuccessCount int64
	ErrorCount   int64
}

// SubredditMeta carries the manually curated fields that every upsert must
// preserve. Review is nil for rows still awaiting human review.
type SubredditMeta struct {
	Review          *string  `json:"review"`
	PrimaryCategory *string  `json:"primary_category"`
	Tags            []string `json:"tags"`
	Over18          *bool    `json:"over18"`
}

// Subreddit is a row in reddit_subreddits, keyed by lowercase name.
type Subreddit struct {
	Name                 string
	Title                sql.NullString
	Description          sql.NullString
	RulesText            sql.NullString
	Subscribers          int64
	CreatedUTC           sql.NullTime
	AllowImages          bool
	Over18               sql.NullBool
	AvgUpvotesPerPost    float64
	Engagement           float64
	SubredditScore       float64
	VerificationRequired bool
	Review               sql.NullString
	PrimaryCategory      sql.NullString
	Tags                 pq.StringArray
	LastScrapedAt        sql.NullTime
}

// Meta extracts the curated fields from a subreddit row.
func (s Subreddit) Meta() SubredditMeta {
	m := SubredditMeta{Tags: []string(s.Tags)}
	if s.Review.Valid {
		v := s.Review.String
		m.Review = &v
	}
	if s.PrimaryCategory.Valid {
		v := s.PrimaryCategory.String
		m.PrimaryCategory = &v
	}
	if s.Over18.Valid {
		v := s.Over18.Bool
		m.Over18 = &v
	}
	return m
}

// ApplyMeta merges preserved curated fields into the row, store values taking
// precedence over anything derived in the current scrape.
func (s *Subreddit) ApplyMeta(m SubredditMeta) {
	if m.Review != nil {
		s.Review = sql.NullString{String: *m.Review, Valid: true}
	}
	if m.PrimaryCategory != nil {
		s.PrimaryCategory = sql.NullString{String: *m.PrimaryCategory, Valid: true}
	}
	if len(m.Tags) > 0 {
		s.Tags = pq.StringArray(m.Tags)
	}
	if m.Over18 != nil {
		s.Over18 = sql.NullBool{Bool: *m.Over18, Valid: true}
	}
}

// RedditUser is a row in reddit_users, keyed by lowercase username. A minimal
// record (username + last_scraped_at only) satisfies the post author FK.
type RedditUser struct {
	Username      string
	LinkKarma     sql.NullInt64
	CommentKarma  sql.NullInt64
	AccountAgeUTC sql.NullTime
	IsSuspended   sql.NullBool
	LastScrapedAt time.Time
}

// Post is a row in reddit_posts, keyed by reddit_id.
type Post struct {
	RedditID             string
	SubredditName        string
	AuthorUsername       string
	Title                string
	Selftext             sql.NullString
	URL                  sql.NullString
	Score                int64
	NumComments          int64
	CreatedUTC           time.Time
	IsSelf               bool
	IsVideo              bool
	IsGallery            bool
	PostLength           int
	PostingHour          int
	PostingDay           string
	CommentToUpvoteRatio float64
	ContentType          string
	SubPrimaryCategory   sql.NullString
	SubTags              pq.StringArray
	SubOver18            sql.NullBool
	ScrapedAt            time.Time
}

// Creator is a row in instagram_creators, keyed by ig_user_id.
type Creator struct {
	IGUserID             string
	Username             string
	FullName             sql.NullString
	Biography            sql.NullString
	Followers            int64
	Following            int64
	MediaCount           int64
	IsVerified           bool
	IsBusiness           bool
	IsProfessional       bool
	IsPrivate            bool
	ExternalURL          sql.NullString
	ExternalURLType      sql.NullString
	BioLinks             pqtype.NullRawMessage
	ReviewStatus         sql.NullString
	FollowersLastUpdated sql.NullTime
	DailyGrowthRate      sql.NullFloat64
	WeeklyGrowthRate     sql.NullFloat64
}

// CreatorAnalytics is the cached analytics block written atomically at the end
// of a successful creator pass.
type CreatorAnalytics struct {
	AvgReelViews            float64
	AvgReelLikes            float64
	AvgReelComments         float64
	AvgPostLikes            float64
	AvgPostComments         float64
	AvgEngagement           float64
	EngagementRate          float64
	CommentToLikeRatio      float64
	SaveToLikeRatio         float64
	ReelsVsPostsPerformance float64
	ViralContentCount       int
	BestContentType         string
	PostingFrequencyPerWeek float64
	PostingConsistency      float64
	MostActiveDay           string
	MostActiveHour          int
	DaysSinceLastPost       float64
}

// Media is a reel or an Instagram post row, keyed by media_pk. VideoURL and
// ImageURLs may have been rewritten to a CDN path by the media uploader; a
// re-scrape must preserve the rewritten value.
type Media struct {
	MediaPK            string
	CreatorID          string
	Caption            sql.NullString
	Hashtags           pq.StringArray
	Mentions           pq.StringArray
	LikeCount          int64
	CommentCount       int64
	PlayCount          int64
	SaveCount          int64
	ShareCount         int64
	TakenAt            time.Time
	IsVideo            bool
	CarouselMediaCount int
	VideoURL           sql.NullString
	ImageURLs          pq.StringArray
	ThumbnailURL       sql.NullString
	IsViral            bool
}

// MediaURLs is the subset of a stored media row consulted by the re-scrape
// dedup check.
type MediaURLs struct {
	VideoURL     sql.NullString
	ImageURLs    pq.StringArray
	ThumbnailURL sql.NullString
}

// FollowerHistory is an append-only sample of creator audience counts.
type FollowerHistory struct {
	CreatorID  string
	RecordedAt time.Time
	Followers  int64
	Following  int64
	MediaCount int64
}

// ControlRow is the per-script control-plane row.
type ControlRow struct {
	ScriptName    string
	Enabled       bool
	Status        string
	PID           sql.NullInt32
	LastHeartbeat sql.NullTime
	StartedAt     sql.NullTime
	StoppedAt     sql.NullTime
	LastError     sql.NullString
	Config        pqtype.NullRawMessage
}

// LogEntry is an append-only structured log row.
type LogEntry struct {
	Timestamp      time.Time
	Source         string
	ScriptName     string
	Level          string
	Message        string
	Context        map[string]any
	DurationMS     sql.NullInt64
	ItemsProcessed sql.NullInt64
}
