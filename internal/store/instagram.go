package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// ListApprovedCreators returns creators with review_status='ok' and a known
// ig_user_id, the work-list for one Instagram cycle.
func (s *Store) ListApprovedCreators(ctx context.Context) ([]Creator, error) {
	const q = `SELECT ig_user_id, username, full_name, biography, followers, following, media_count,
                      is_verified, is_business, is_professional, is_private,
                      external_url, external_url_type, bio_links, review_status,
                      followers_last_updated, daily_growth_rate, weekly_growth_rate
               FROM instagram_creators
               WHERE review_status = 'ok' AND ig_user_id IS NOT NULL AND ig_user_id <> ''`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Creator
	for rows.Next() {
		var c Creator
		if err := rows.Scan(&c.IGUserID, &c.Username, &c.FullName, &c.Biography, &c.Followers,
			&c.Following, &c.MediaCount, &c.IsVerified, &c.IsBusiness, &c.IsProfessional,
			&c.IsPrivate, &c.ExternalURL, &c.ExternalURLType, &c.BioLinks, &c.ReviewStatus,
			&c.FollowersLastUpdated, &c.DailyGrowthRate, &c.WeeklyGrowthRate); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreatorContentCounts returns how many reels and posts the store already
// holds for a creator. Zero on both sides marks the creator as new.
func (s *Store) CreatorContentCounts(ctx context.Context, igUserID string) (reels, posts int, err error) {
	const q = `SELECT
        (SELECT count(*) FROM instagram_reels WHERE creator_id = $1),
        (SELECT count(*) FROM instagram_posts WHERE creator_id = $1)`
	err = s.db.QueryRowContext(ctx, q, igUserID).Scan(&reels, &posts)
	return reels, posts, err
}

// UpdateCreatorProfile writes the profile snapshot fields for a creator.
// Review status is human-curated and never touched here.
func (s *Store) UpdateCreatorProfile(ctx context.Context, c Creator) error {
	const stmt = `UPDATE instagram_creators SET
        username=$2, full_name=$3, biography=$4, followers=$5, following=$6, media_count=$7,
        is_verified=$8, is_business=$9, is_professional=$10, is_private=$11,
        external_url=$12, external_url_type=$13, bio_links=$14,
        followers_last_updated=$15, daily_growth_rate=$16, weekly_growth_rate=$17
        WHERE ig_user_id=$1`
	_, err := s.db.ExecContext(ctx, stmt, c.IGUserID, c.Username, c.FullName, c.Biography,
		c.Followers, c.Following, c.MediaCount, c.IsVerified, c.IsBusiness, c.IsProfessional,
		c.IsPrivate, c.ExternalURL, c.ExternalURLType, c.BioLinks, c.FollowersLastUpdated,
		c.DailyGrowthRate, c.WeeklyGrowthRate)
	return err
}

// UpdateCreatorAnalytics writes the cached analytics block in one statement,
// so a partially computed pass never leaves mixed values behind.
func (s *Store) UpdateCreatorAnalytics(ctx context.Context, igUserID string, a CreatorAnalytics) error {
	const stmt = `UPDATE instagram_creators SET
        avg_reel_views=$2, avg_reel_likes=$3, avg_reel_comments=$4,
        avg_post_likes=$5, avg_post_comments=$6, avg_engagement=$7,
        engagement_rate=$8, comment_to_like_ratio=$9, save_to_like_ratio=$10,
        reels_vs_posts_performance=$11, viral_content_count=$12, best_content_type=$13,
        posting_frequency_per_week=$14, posting_consistency_score=$15,
        most_active_day=$16, most_active_hour=$17, days_since_last_post=$18,
        analytics_updated_at=now()
        WHERE ig_user_id=$1`
	_, err := s.db.ExecContext(ctx, stmt, igUserID, a.AvgReelViews, a.AvgReelLikes, a.AvgReelComments,
		a.AvgPostLikes, a.AvgPostComments, a.AvgEngagement, a.EngagementRate, a.CommentToLikeRatio,
		a.SaveToLikeRatio, a.ReelsVsPostsPerformance, a.ViralContentCount, a.BestContentType,
		a.PostingFrequencyPerWeek, a.PostingConsistency, a.MostActiveDay, a.MostActiveHour, a.DaysSinceLastPost)
	return err
}

func (s *Store) upsertMedia(ctx context.Context, table string, items []Media) error {
	if len(items) == 0 {
		return nil
	}
	const cols = 17
	var sb strings.Builder
	fmt.Fprintf(&sb, `INSERT INTO %s
        (media_pk, creator_id, caption, hashtags, mentions, like_count, comment_count, play_count,
         save_count, share_count, taken_at, is_video, carousel_media_count, video_url, image_urls,
         thumbnail_url, is_viral) VALUES `, table)
	args := make([]any, 0, len(items)*cols)
	for i, m := range items {
		if i > 0 {
			sb.WriteByte(',')
		}
		idx := i*cols + 1
		sb.WriteByte('(')
		for j := 0; j < cols; j++ {
			if j > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "$%d", idx+j)
		}
		sb.WriteByte(')')
		args = append(args, m.MediaPK, m.CreatorID, m.Caption, m.Hashtags, m.Mentions, m.LikeCount,
			m.CommentCount, m.PlayCount, m.SaveCount, m.ShareCount, m.TakenAt, m.IsVideo,
			m.CarouselMediaCount, m.VideoURL, m.ImageURLs, m.ThumbnailURL, m.IsViral)
	}
	fmt.Fprintf(&sb, ` ON CONFLICT (media_pk) DO UPDATE SET
        caption=EXCLUDED.caption,
        hashtags=EXCLUDED.hashtags,
        mentions=EXCLUDED.mentions,
        like_count=EXCLUDED.like_count,
        comment_count=EXCLUDED.comment_count,
        play_count=EXCLUDED.play_count,
        save_count=EXCLUDED.save_count,
        share_count=EXCLUDED.share_count,
        carousel_media_count=EXCLUDED.carousel_media_count,
        video_url=EXCLUDED.video_url,
        image_urls=EXCLUDED.image_urls,
        thumbnail_url=EXCLUDED.thumbnail_url,
        is_viral=EXCLUDED.is_viral`)
	_, err := s.db.ExecContext(ctx, sb.String(), args...)
	return err
}

// UpsertReels upserts reels by media_pk. Callers are responsible for having
// resolved CDN-migrated URLs first (see ExistingMediaURLs).
func (s *Store) UpsertReels(ctx context.Context, reels []Media) error {
	return s.upsertMedia(ctx, "instagram_reels", reels)
}

// UpsertIGPosts upserts Instagram posts by media_pk.
func (s *Store) UpsertIGPosts(ctx context.Context, posts []Media) error {
	return s.upsertMedia(ctx, "instagram_posts", posts)
}

// ExistingMediaURLs returns the stored URL fields for the given media PKs.
// table must be instagram_reels or instagram_posts.
func (s *Store) ExistingMediaURLs(ctx context.Context, table string, pks []string) (map[string]MediaURLs, error) {
	out := make(map[string]MediaURLs, len(pks))
	if len(pks) == 0 {
		return out, nil
	}
	q := fmt.Sprintf(`SELECT media_pk, video_url, image_urls, thumbnail_url FROM %s WHERE media_pk = ANY($1)`, table)
	rows, err := s.db.QueryContext(ctx, q, pq.Array(pks))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var pk string
		var u MediaURLs
		if err := rows.Scan(&pk, &u.VideoURL, &u.ImageURLs, &u.ThumbnailURL); err != nil {
			return nil, err
		}
		out[pk] = u
	}
	return out, rows.Err()
}

// InsertFollowerHistory appends one audience sample. Rows are never mutated.
func (s *Store) InsertFollowerHistory(ctx context.Context, h FollowerHistory) error {
	const stmt = `INSERT INTO follower_history (creator_id, recorded_at, followers, following, media_count)
                  VALUES ($1, $2, $3, $4, $5)`
	_, err := s.db.ExecContext(ctx, stmt, h.CreatorID, h.RecordedAt, h.Followers, h.Following, h.MediaCount)
	return err
}

// FollowerHistorySince returns samples for a creator recorded at or after
// the cutoff, oldest first.
func (s *Store) FollowerHistorySince(ctx context.Context, creatorID string, since time.Time) ([]FollowerHistory, error) {
	const q = `SELECT creator_id, recorded_at, followers, following, media_count
               FROM follower_history WHERE creator_id=$1 AND recorded_at >= $2 ORDER BY recorded_at ASC`
	rows, err := s.db.QueryContext(ctx, q, creatorID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FollowerHistory
	for rows.Next() {
		var h FollowerHistory
		if err := rows.Scan(&h.CreatorID, &h.RecordedAt, &h.Followers, &h.Following, &h.MediaCount); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
