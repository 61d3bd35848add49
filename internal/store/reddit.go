package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ListActiveProxies returns all proxies with is_active=true ordered by
// priority descending.
func (s *Store) ListActiveProxies(ctx context.Context) ([]Proxy, error) {
	const q = `SELECT id, service, url, username, password, display_name, priority, max_threads, is_active, success_count, error_count
               FROM proxies WHERE is_active = true ORDER BY priority DESC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Proxy
	for rows.Next() {
		var p Proxy
		if err := rows.Scan(&p.ID, &p.Service, &p.URL, &p.Username, &p.Password, &p.DisplayName,
			&p.Priority, &p.MaxThreads, &p.IsActive, &p.SuccessCount, &p.ErrorCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// BumpProxyStats increments the success or error counter for a proxy.
// Best-effort telemetry; callers swallow the returned error.
func (s *Store) BumpProxyStats(ctx context.Context, id int64, success bool) error {
	col := "error_count"
	if success {
		col = "success_count"
	}
	stmt := fmt.Sprintf(`UPDATE proxies SET %s = %s + 1 WHERE id = $1`, col, col)
	_, err := s.db.ExecContext(ctx, stmt, id)
	return err
}

// UpsertSubreddits performs a multi-row upsert keyed by name. The manually
// curated columns (review, primary_category, tags, over18) only ever move
// from NULL to a value: an existing non-NULL store value always wins over the
// incoming row.
func (s *Store) UpsertSubreddits(ctx context.Context, subs []Subreddit) error {
	if len(subs) == 0 {
		return nil
	}
	const cols = 16
	var sb strings.Builder
	sb.WriteString(`INSERT INTO reddit_subreddits
        (name, title, description, rules_text, subscribers, created_utc, allow_images, over18,
         avg_upvotes_per_post, engagement, subreddit_score, verification_required,
         review, primary_category, tags, last_scraped_at) VALUES `)
	args := make([]any, 0, len(subs)*cols)
	for i, r := range subs {
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
		args = append(args, r.Name, r.Title, r.Description, r.RulesText, r.Subscribers, r.CreatedUTC,
			r.AllowImages, r.Over18, r.AvgUpvotesPerPost, r.Engagement, r.SubredditScore,
			r.VerificationRequired, r.Review, r.PrimaryCategory, r.Tags, r.LastScrapedAt)
	}
	sb.WriteString(` ON CONFLICT (name) DO UPDATE SET
        title=EXCLUDED.title,
        description=EXCLUDED.description,
        rules_text=EXCLUDED.rules_text,
        subscribers=EXCLUDED.subscribers,
        created_utc=EXCLUDED.created_utc,
        allow_images=EXCLUDED.allow_images,
        avg_upvotes_per_post=EXCLUDED.avg_upvotes_per_post,
        engagement=EXCLUDED.engagement,
        subreddit_score=EXCLUDED.subreddit_score,
        verification_required=EXCLUDED.verification_required,
        review=COALESCE(reddit_subreddits.review, EXCLUDED.review),
        primary_category=COALESCE(reddit_subreddits.primary_category, EXCLUDED.primary_category),
        tags=COALESCE(reddit_subreddits.tags, EXCLUDED.tags),
        over18=COALESCE(reddit_subreddits.over18, EXCLUDED.over18),
        last_scraped_at=COALESCE(EXCLUDED.last_scraped_at, reddit_subreddits.last_scraped_at)`)
	_, err := s.db.ExecContext(ctx, sb.String(), args...)
	return err
}

// GetSubredditMeta fetches the curated fields for one subreddit. The second
// return value is false when the row does not exist.
func (s *Store) GetSubredditMeta(ctx context.Context, name string) (SubredditMeta, bool, error) {
	const q = `SELECT review, primary_category, tags, over18 FROM reddit_subreddits WHERE name = $1`
	var r Subreddit
	err := s.db.QueryRowContext(ctx, q, name).Scan(&r.Review, &r.PrimaryCategory, &r.Tags, &r.Over18)
	if err == sql.ErrNoRows {
		return SubredditMeta{}, false, nil
	}
	if err != nil {
		return SubredditMeta{}, false, err
	}
	return r.Meta(), true, nil
}

// hardPageLimit bounds a single range-select page. The actual page size is
// discovered from the first response rather than assumed.
const hardPageLimit = 10000

// listNamesPaged runs a paged name scan. The server may return fewer rows than
// requested; the first page's length becomes the page size and the scan stops
// on the first short page.
func (s *Store) listNamesPaged(ctx context.Context, where string, args ...any) ([]string, error) {
	var all []string
	offset := 0
	pageSize := hardPageLimit
	for {
		q := fmt.Sprintf(`SELECT name FROM reddit_subreddits %s ORDER BY name LIMIT %d OFFSET %d`,
			where, hardPageLimit, offset)
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, err
		}
		var page []string
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				rows.Close()
				return nil, err
			}
			page = append(page, n)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
		all = append(all, page...)
		if offset == 0 && len(page) > 0 {
			pageSize = len(page)
		}
		if len(page) < pageSize || len(page) == 0 {
			return all, nil
		}
		offset += len(page)
	}
}

// ListAllSubredditNames returns every subreddit name in the store.
func (s *Store) ListAllSubredditNames(ctx context.Context) ([]string, error) {
	return s.listNamesPaged(ctx, "")
}

// ListSubredditNamesByReview returns names with the given review value.
func (s *Store) ListSubredditNamesByReview(ctx context.Context, review string) ([]string, error) {
	return s.listNamesPaged(ctx, "WHERE review = $1", review)
}

// ListNullReviewSubredditNames returns names still awaiting a human verdict.
func (s *Store) ListNullReviewSubredditNames(ctx context.Context) ([]string, error) {
	return s.listNamesPaged(ctx, "WHERE review IS NULL")
}

// UpsertRedditUsers performs a multi-row upsert keyed by username. Minimal
// rows never blank out a previously stored full record.
func (s *Store) UpsertRedditUsers(ctx context.Context, users []RedditUser) error {
	if len(users) == 0 {
		return nil
	}
	const cols = 6
	var sb strings.Builder
	sb.WriteString(`INSERT INTO reddit_users
        (username, link_karma, comment_karma, account_age_utc, is_suspended, last_scraped_at) VALUES `)
	args := make([]any, 0, len(users)*cols)
	for i, u := range users {
		if i > 0 {
			sb.WriteByte(',')
		}
		idx := i*cols + 1
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d)", idx, idx+1, idx+2, idx+3, idx+4, idx+5)
		args = append(args, u.Username, u.LinkKarma, u.CommentKarma, u.AccountAgeUTC, u.IsSuspended, u.LastScrapedAt)
	}
	sb.WriteString(` ON CONFLICT (username) DO UPDATE SET
        link_karma=COALESCE(EXCLUDED.link_karma, reddit_users.link_karma),
        comment_karma=COALESCE(EXCLUDED.comment_karma, reddit_users.comment_karma),
        account_age_utc=COALESCE(EXCLUDED.account_age_utc, reddit_users.account_age_utc),
        is_suspended=COALESCE(EXCLUDED.is_suspended, reddit_users.is_suspended),
        last_scraped_at=EXCLUDED.last_scraped_at`)
	_, err := s.db.ExecContext(ctx, sb.String(), args...)
	return err
}

// UpsertRedditPosts performs a multi-row upsert keyed by reddit_id. Callers
// must have written the subreddit and user rows first.
func (s *Store) UpsertRedditPosts(ctx context.Context, posts []Post) error {
	if len(posts) == 0 {
		return nil
	}
	const cols = 21
	var sb strings.Builder
	sb.WriteString(`INSERT INTO reddit_posts
        (reddit_id, subreddit_name, author_username, title, selftext, url, score, num_comments,
         created_utc, is_self, is_video, is_gallery, post_length, posting_hour, posting_day,
         comment_to_upvote_ratio, content_type, sub_primary_category, sub_tags, sub_over18,
         scraped_at) VALUES `)
	args := make([]any, 0, len(posts)*cols)
	for i, p := range posts {
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
		args = append(args, p.RedditID, p.SubredditName, p.AuthorUsername, p.Title, p.Selftext, p.URL,
			p.Score, p.NumComments, p.CreatedUTC, p.IsSelf, p.IsVideo, p.IsGallery, p.PostLength,
			p.PostingHour, p.PostingDay, p.CommentToUpvoteRatio, p.ContentType,
			p.SubPrimaryCategory, p.SubTags, p.SubOver18, p.ScrapedAt)
	}
	sb.WriteString(` ON CONFLICT (reddit_id) DO UPDATE SET
        score=EXCLUDED.score,
        num_comments=EXCLUDED.num_comments,
        comment_to_upvote_ratio=EXCLUDED.comment_to_upvote_ratio,
        sub_primary_category=EXCLUDED.sub_primary_category,
        sub_tags=EXCLUDED.sub_tags,
        sub_over18=EXCLUDED.sub_over18,
        scraped_at=EXCLUDED.scraped_at`)
	_, err := s.db.ExecContext(ctx, sb.String(), args...)
	return err
}

// StaleSubredditNames returns names whose last_scraped_at is older than the
// cutoff, including stub rows that were never scraped.
func (s *Store) StaleSubredditNames(ctx context.Context, olderThan time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-olderThan)
	return s.listNamesPaged(ctx, "WHERE last_scraped_at IS NULL OR last_scraped_at < $1", cutoff)
}
