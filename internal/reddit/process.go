package reddit

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/social-harvest/backend/internal/httpclient"
	"github.com/onnwee/social-harvest/backend/internal/redditapi"
	"github.com/onnwee/social-harvest/backend/internal/store"
	"github.com/onnwee/social-harvest/backend/internal/tracing"
	"github.com/onnwee/social-harvest/backend/internal/utils"
)

// processOpts controls how deep a single subreddit pass goes. The zero value
// is a metadata-and-posts-only refresh.
type processOpts struct {
	ProcessUsers   bool
	AllowDiscovery bool
}

var errInfoUnavailable = errors.New("subreddit info unavailable")

// emptyRetryDelays backs off author-post refetches when a listing comes back
// empty (often a transient proxy artifact).
var emptyRetryDelays = []time.Duration{100 * time.Millisecond, 300 * time.Millisecond}

// processSubreddit runs the full per-subreddit flow and returns newly
// discovered subreddit names (only when opts.AllowDiscovery).
func (e *Engine) processSubreddit(ctx context.Context, name string, opts processOpts) (map[string]struct{}, error) {
	name = utils.NormalizeName(name)
	ctx, span := tracing.StartSpan(ctx, "reddit.subreddit")
	span.SetAttributes(attribute.String("subreddit", name))
	defer span.End()

	// Preload curated metadata so the upsert and the classifier both see the
	// human verdict even on a cold cache.
	meta, ok := e.meta.Get(name)
	if !ok {
		m, found, err := e.st.GetSubredditMeta(ctx, name)
		if err != nil {
			e.log.Warn("metadata preload failed", map[string]any{
				"subreddit": name, "error": err.Error(),
			})
		} else if found {
			meta = m
			e.meta.Set(name, m)
		}
	}

	info, rules, topPosts, kind, err := e.fetchSubreddit(ctx, name)
	if err != nil {
		return nil, err
	}
	if kind.Terminal() {
		// Banned, forbidden or deleted: record the verdict and stop.
		e.markBanned(name)
		return nil, nil
	}

	rulesText := combineRulesText(info, rules)

	if meta.Review == nil {
		if kw, hit := ClassifyNonRelated(rulesText); hit {
			review := store.ReviewNonRelated
			meta.Review = &review
			e.log.Info("auto-classified non related", map[string]any{
				"subreddit": name, "keyword": kw,
			})
		}
	}

	m := ComputeMetrics(topPosts)
	row := store.Subreddit{
		Name:                 name,
		Title:                nullStringOk(info.Title),
		Description:          nullStringOk(info.PublicDescription),
		RulesText:            nullStringOk(rulesText),
		Subscribers:          info.Subscribers,
		CreatedUTC:           nullTimeFromUTC(info.CreatedUTC),
		AllowImages:          info.AllowImages,
		Over18:               sql.NullBool{Bool: info.Over18, Valid: true},
		AvgUpvotesPerPost:    m.AvgUpvotesPerPost,
		Engagement:           m.Engagement,
		SubredditScore:       m.SubredditScore,
		VerificationRequired: RequiresVerification(rulesText),
		LastScrapedAt:        sql.NullTime{Time: time.Now().UTC(), Valid: true},
	}
	row.ApplyMeta(meta)
	e.sink.AddSubreddits(row)
	e.meta.Set(name, row.Meta())
	review := ""
	if meta.Review != nil {
		review = *meta.Review
	}
	e.caches.AddKnown(review, name)

	discovered := make(map[string]struct{})
	var authorPosts []redditapi.PostData

	if opts.ProcessUsers {
		authorPosts = e.expandAuthors(ctx, extractAuthors(topPosts), discovered)
	}

	e.savePosts(ctx, name, topPosts, authorPosts)

	e.caches.MarkProcessed(name)
	if !opts.AllowDiscovery {
		return nil, nil
	}
	out := make(map[string]struct{}, len(discovered))
	for n := range discovered {
		if !e.caches.IsProcessed(n) {
			out[n] = struct{}{}
		}
	}
	return out, nil
}

// fetchSubreddit performs the parallel API fan-out under one aggregate
// timeout. Info is required; rules and top posts degrade to empty.
func (e *Engine) fetchSubreddit(ctx context.Context, name string) (*redditapi.AboutData, []redditapi.Rule, []redditapi.PostData, httpclient.Kind, error) {
	fanCtx, cancel := context.WithTimeout(ctx, e.cfg.RedditSubreddTimeout)
	defer cancel()

	var (
		wg       sync.WaitGroup
		info     *redditapi.AboutData
		infoKind httpclient.Kind
		rules    []redditapi.Rule
		posts    []redditapi.PostData
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		for attempt := 0; attempt < fieldRetryAttempts; attempt++ {
			if fanCtx.Err() != nil {
				return
			}
			info, infoKind = e.api.GetSubredditInfo(fanCtx, name, e.pool.Next())
			if infoKind == httpclient.KindOK || infoKind.Terminal() {
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for attempt := 0; attempt < fieldRetryAttempts; attempt++ {
			if fanCtx.Err() != nil {
				return
			}
			r, kind := e.api.GetSubredditRules(fanCtx, name, e.pool.Next())
			if kind == httpclient.KindOK {
				rules = r
				return
			}
			if kind.Terminal() {
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for attempt := 0; attempt < fieldRetryAttempts; attempt++ {
			if fanCtx.Err() != nil {
				return
			}
			p, kind := e.api.GetSubredditTopPosts(fanCtx, name, "week", e.cfg.RedditTopPostLimit, e.pool.Next())
			if kind == httpclient.KindOK {
				posts = p
				return
			}
			if kind.Terminal() {
				return
			}
		}
	}()
	wg.Wait()

	if fanCtx.Err() != nil && ctx.Err() == nil {
		e.log.Warn("subreddit fan-out timed out", map[string]any{"subreddit": name})
		return nil, nil, nil, httpclient.KindTimeout, errInfoUnavailable
	}
	if infoKind.Terminal() {
		return nil, nil, nil, infoKind, nil
	}
	if info == nil {
		return nil, nil, nil, infoKind, errInfoUnavailable
	}
	return info, rules, posts, httpclient.KindOK, nil
}

// markBanned records a banned/forbidden/deleted subreddit and poisons the
// caches so discovery never revisits it.
func (e *Engine) markBanned(name string) {
	e.sink.AddSubreddits(store.Subreddit{
		Name:          name,
		Review:        nullString(store.ReviewBanned),
		LastScrapedAt: sql.NullTime{Time: time.Now().UTC(), Valid: true},
	})
	banned := store.ReviewBanned
	e.meta.Set(name, store.SubredditMeta{Review: &banned})
	e.caches.AddKnown(store.ReviewBanned, name)
	e.caches.MarkProcessed(name)
	e.log.Info("subreddit banned", map[string]any{"subreddit": name})
}

// expandAuthors fetches each author's recent submissions with staggered
// concurrency and aggregates the subreddits they post in.
func (e *Engine) expandAuthors(ctx context.Context, authors []string, discovered map[string]struct{}) []redditapi.PostData {
	var (
		mu    sync.Mutex
		posts []redditapi.PostData
		wg    sync.WaitGroup
	)
	launched := 0
	for _, author := range authors {
		if !e.caches.MarkUserFetched(author) {
			continue
		}
		wg.Add(1)
		go func(i int, author string) {
			defer wg.Done()
			if !utils.SleepCtx(ctx.Done(), utils.StaggerDelay(i, e.cfg.RedditUserStagger, e.cfg.RedditUserJitter)) {
				return
			}
			userPosts := e.fetchUserPosts(ctx, author)
			mu.Lock()
			defer mu.Unlock()
			posts = append(posts, userPosts...)
			for _, p := range userPosts {
				if p.Subreddit != "" {
					discovered[utils.NormalizeName(p.Subreddit)] = struct{}{}
				}
			}
		}(launched, author)
		launched++
	}
	wg.Wait()
	return posts
}

// fetchUserPosts pulls one user's submissions, retrying empty listings a
// couple of times before accepting them as genuinely empty.
func (e *Engine) fetchUserPosts(ctx context.Context, author string) []redditapi.PostData {
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		posts, kind := e.api.GetUserPosts(ctx, author, e.cfg.RedditUserPostLimit, e.pool.Next())
		if kind.Terminal() {
			return nil
		}
		if kind == httpclient.KindOK && len(posts) > 0 {
			return posts
		}
		if attempt >= len(emptyRetryDelays) {
			return posts
		}
		if !utils.SleepCtx(ctx.Done(), emptyRetryDelays[attempt]) {
			return nil
		}
	}
}

// saveAuthors enqueues minimal user rows in fixed-size batches.
func (e *Engine) saveAuthors(authors []string) {
	now := time.Now().UTC()
	batchSize := e.cfg.RedditAuthorBatchSize
	for i := 0; i < len(authors); i += batchSize {
		end := i + batchSize
		if end > len(authors) {
			end = len(authors)
		}
		rows := make([]store.RedditUser, 0, end-i)
		for _, a := range authors[i:end] {
			rows = append(rows, store.RedditUser{
				Username:      utils.NormalizeName(a),
				LastScrapedAt: now,
			})
		}
		e.sink.AddUsers(rows...)
	}
}

// savePosts converts the fetched listings to rows, inserting stub subreddit
// rows for author posts in subreddits the store has never seen. Minimal user
// rows are enqueued for every post author so the author FK holds even on
// passes that skip user expansion.
func (e *Engine) savePosts(ctx context.Context, current string, topPosts, authorPosts []redditapi.PostData) {
	now := time.Now().UTC()
	seen := make(map[string]struct{}, len(topPosts)+len(authorPosts))
	var rows []store.Post
	var authors []string
	for _, p := range append(append([]redditapi.PostData{}, topPosts...), authorPosts...) {
		if p.ID == "" || !utils.IsValidAuthor(p.Author) {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}

		sub := utils.NormalizeName(p.Subreddit)
		if sub == "" {
			sub = current
		}
		meta := e.ensureSubredditRow(ctx, sub)
		row := buildPost(p, sub, meta, now)
		authors = append(authors, row.AuthorUsername)
		rows = append(rows, row)
	}
	if len(rows) > 0 {
		e.saveAuthors(utils.UniqueStrings(authors))
		e.sink.AddPosts(rows...)
	}
}

// ensureSubredditRow returns curated metadata for a post's subreddit,
// inserting a stub row (no last_scraped_at, so a later cycle fully scrapes
// it) when the name is unknown.
func (e *Engine) ensureSubredditRow(ctx context.Context, name string) store.SubredditMeta {
	if meta, ok := e.meta.Get(name); ok {
		return meta
	}
	meta, found, err := e.st.GetSubredditMeta(ctx, name)
	if err == nil && found {
		e.meta.Set(name, meta)
		return meta
	}

	stub := store.Subreddit{Name: name}
	if strings.HasPrefix(name, "u_") {
		stub.Review = nullString(store.ReviewUserFeed)
		// User feeds are terminal: never scheduled for a full scrape.
		e.caches.AddKnown(store.ReviewUserFeed, name)
	}
	// Regular stubs stay out of the skip caches so this cycle's discovery
	// wave (or a later cycle, via the missing last_scraped_at) upgrades them
	// to a full scrape.
	e.sink.AddSubreddits(stub)
	meta = stub.Meta()
	e.meta.Set(name, meta)
	return meta
}

func buildPost(p redditapi.PostData, sub string, meta store.SubredditMeta, scrapedAt time.Time) store.Post {
	created := time.Unix(int64(p.CreatedUTC), 0).UTC()
	row := store.Post{
		RedditID:       p.ID,
		SubredditName:  sub,
		AuthorUsername: utils.NormalizeName(p.Author),
		Title:          p.Title,
		Selftext:       nullStringOk(p.Selftext),
		URL:            nullStringOk(p.URL),
		Score:          p.Score,
		NumComments:    p.NumComments,
		CreatedUTC:     created,
		IsSelf:         p.IsSelf,
		IsVideo:        p.IsVideo,
		IsGallery:      p.IsGallery,
		PostLength:     len(p.Title) + len(p.Selftext),
		PostingHour:    created.Hour(),
		PostingDay:     created.Weekday().String(),
		ContentType:    ContentType(p),
		ScrapedAt:      scrapedAt,
	}
	if p.Score > 0 {
		row.CommentToUpvoteRatio = float64(p.NumComments) / float64(p.Score)
	}
	if meta.PrimaryCategory != nil {
		row.SubPrimaryCategory = sql.NullString{String: *meta.PrimaryCategory, Valid: true}
	}
	if len(meta.Tags) > 0 {
		row.SubTags = meta.Tags
	}
	if meta.Over18 != nil {
		row.SubOver18 = sql.NullBool{Bool: *meta.Over18, Valid: true}
	}
	return row
}

func extractAuthors(posts []redditapi.PostData) []string {
	var authors []string
	for _, p := range posts {
		if utils.IsValidAuthor(p.Author) {
			authors = append(authors, p.Author)
		}
	}
	return utils.UniqueStrings(authors)
}

func combineRulesText(info *redditapi.AboutData, rules []redditapi.Rule) string {
	var b strings.Builder
	for _, r := range rules {
		b.WriteString(r.ShortName)
		b.WriteString("\n")
		b.WriteString(r.Description)
		b.WriteString("\n")
	}
	if info != nil {
		b.WriteString(info.PublicDescription)
		b.WriteString("\n")
		b.WriteString(info.Description)
	}
	return strings.TrimSpace(b.String())
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

func nullStringOk(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTimeFromUTC(ts float64) sql.NullTime {
	if ts <= 0 {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: time.Unix(int64(ts), 0).UTC(), Valid: true}
}
