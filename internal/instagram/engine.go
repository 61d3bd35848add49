package instagram

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/social-harvest/backend/internal/circuitbreaker"
	"github.com/onnwee/social-harvest/backend/internal/config"
	"github.com/onnwee/social-harvest/backend/internal/logger"
	"github.com/onnwee/social-harvest/backend/internal/metrics"
	"github.com/onnwee/social-harvest/backend/internal/store"
	"github.com/onnwee/social-harvest/backend/internal/tracing"
	"github.com/onnwee/social-harvest/backend/internal/utils"
)

const launchStagger = 50 * time.Millisecond

// Store is the persistence surface the engine needs.
type Store interface {
	ListApprovedCreators(ctx context.Context) ([]store.Creator, error)
	CreatorContentCounts(ctx context.Context, igUserID string) (reels, posts int, err error)
	UpdateCreatorProfile(ctx context.Context, c store.Creator) error
	UpdateCreatorAnalytics(ctx context.Context, igUserID string, a store.CreatorAnalytics) error
	UpsertReels(ctx context.Context, reels []store.Media) error
	UpsertIGPosts(ctx context.Context, posts []store.Media) error
	ExistingMediaURLs(ctx context.Context, table string, pks []string) (map[string]store.MediaURLs, error)
	InsertFollowerHistory(ctx context.Context, h store.FollowerHistory) error
	FollowerHistorySince(ctx context.Context, creatorID string, since time.Time) ([]store.FollowerHistory, error)
}

// Fetcher is the slice of the API facade the engine calls.
type Fetcher interface {
	GetProfile(ctx context.Context, username string) (*Profile, error)
	GetReels(ctx context.Context, userID string, count int) ([]MediaItem, error)
	GetPosts(ctx context.Context, userID string, count int) ([]MediaItem, error)
}

// Engine drives one Instagram harvest cycle per wake-up.
type Engine struct {
	st      Store
	api     Fetcher
	log     *logger.Harvester
	cfg     *config.Config
	breaker *circuitbreaker.CircuitBreaker
}

func NewEngine(st Store, api Fetcher, log *logger.Harvester) *Engine {
	return &Engine{
		st:  st,
		api: api,
		log: log,
		cfg: config.Load(),
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:             "instagram_api",
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          60 * time.Second,
		}),
	}
}

// Run loops cycles with the configured cooldown until cancelled.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := e.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if !utils.SleepCtx(ctx.Done(), e.cfg.IGCycleCooldown) {
			return ctx.Err()
		}
	}
}

// RunCycle processes every approved creator once through a bounded pool.
func (e *Engine) RunCycle(ctx context.Context) error {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "instagram.cycle")
	defer span.End()
	defer func() {
		metrics.CycleDuration.WithLabelValues("instagram").Observe(time.Since(start).Seconds())
	}()

	creators, err := e.st.ListApprovedCreators(ctx)
	if err != nil {
		return fmt.Errorf("list creators: %w", err)
	}
	if len(creators) == 0 {
		e.log.Warn("no approved creators", nil)
		return nil
	}
	shuffled := make([]store.Creator, len(creators))
	copy(shuffled, creators)
	names := make([]string, len(shuffled))
	for i, c := range shuffled {
		names[i] = c.IGUserID
	}
	order := utils.ShuffleStrings(names)
	byID := make(map[string]store.Creator, len(shuffled))
	for _, c := range shuffled {
		byID[c.IGUserID] = c
	}

	e.log.Info("cycle starting", map[string]any{"creators": len(order)})

	sem := make(chan struct{}, e.cfg.IGConcurrentCreators)
	var wg sync.WaitGroup
	for _, id := range order {
		if ctx.Err() != nil {
			break
		}
		c := byID[id]
		sem <- struct{}{}
		wg.Add(1)
		go func(c store.Creator) {
			defer wg.Done()
			defer func() { <-sem }()
			if !utils.SleepCtx(ctx.Done(), launchStagger) {
				return
			}
			taskCtx, cancel := context.WithTimeout(ctx, e.cfg.IGPerCreatorTimeout)
			defer cancel()
			if err := e.processCreator(taskCtx, c); err != nil {
				metrics.CreatorsProcessed.WithLabelValues("error").Inc()
				e.log.Error("creator failed", map[string]any{
					"username": c.Username, "error": err.Error(),
				})
				return
			}
			metrics.CreatorsProcessed.WithLabelValues("ok").Inc()
		}(c)
	}
	wg.Wait()

	e.log.Op("cycle complete", map[string]any{"creators": len(order)}, time.Since(start), len(order))
	return nil
}

// processCreator runs the per-creator flow: profile, reels, posts, analytics,
// storage. The control context is consulted between every major step.
func (e *Engine) processCreator(ctx context.Context, c store.Creator) error {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "instagram.creator")
	span.SetAttributes(attribute.String("username", c.Username))
	defer span.End()
	reelsCount, postsCount, err := e.st.CreatorContentCounts(ctx, c.IGUserID)
	if err != nil {
		return fmt.Errorf("content counts: %w", err)
	}
	isNew := reelsCount == 0 && postsCount == 0
	reelsDepth, postsDepth := e.cfg.IGExistingCreatorReels, e.cfg.IGExistingCreatorPosts
	if isNew {
		reelsDepth, postsDepth = e.cfg.IGNewCreatorReels, e.cfg.IGNewCreatorPosts
	}

	var profile *Profile
	if err := e.breaker.Call(func() error {
		var err error
		profile, err = e.api.GetProfile(ctx, c.Username)
		return err
	}); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.log.Warn("creator not found upstream", map[string]any{"username": c.Username})
			return nil
		}
		return fmt.Errorf("profile: %w", err)
	}
	if err := e.updateProfile(ctx, &c, profile); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var reels []MediaItem
	if err := e.breaker.Call(func() error {
		var err error
		reels, err = e.api.GetReels(ctx, c.IGUserID, reelsDepth)
		return err
	}); err != nil {
		return fmt.Errorf("reels: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var posts []MediaItem
	if err := e.breaker.Call(func() error {
		var err error
		posts, err = e.api.GetPosts(ctx, c.IGUserID, postsDepth)
		return err
	}); err != nil {
		return fmt.Errorf("posts: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	res := ComputeAnalytics(reels, posts, profile.FollowerCount, time.Now().UTC(), AnalyticsOptions{
		ViralMinViews:   e.cfg.IGViralMinViews,
		ViralMultiplier: e.cfg.IGViralMultiplier,
	})

	if err := e.storeMedia(ctx, c.IGUserID, "instagram_reels", reels, res.ViralPKs, e.st.UpsertReels); err != nil {
		return fmt.Errorf("store reels: %w", err)
	}
	if err := e.storeMedia(ctx, c.IGUserID, "instagram_posts", posts, res.ViralPKs, e.st.UpsertIGPosts); err != nil {
		return fmt.Errorf("store posts: %w", err)
	}
	if err := e.st.UpdateCreatorAnalytics(ctx, c.IGUserID, res.CreatorAnalytics); err != nil {
		return fmt.Errorf("store analytics: %w", err)
	}

	e.log.Op("creator complete", map[string]any{
		"username": c.Username, "is_new": isNew,
		"reels": len(reels), "posts": len(posts),
		"engagement_rate": res.EngagementRate,
	}, time.Since(start), len(reels)+len(posts))
	return nil
}

// updateProfile derives growth rates from prior history samples, records a
// new follower-history sample, and writes the profile snapshot. Growth is
// computed before the insert so a creator's first sample yields NULL rather
// than a spurious 0%.
func (e *Engine) updateProfile(ctx context.Context, c *store.Creator, p *Profile) error {
	now := time.Now().UTC()
	daily := e.growthRate(ctx, c.IGUserID, p.FollowerCount, now.Add(-24*time.Hour))
	weekly := e.growthRate(ctx, c.IGUserID, p.FollowerCount, now.Add(-7*24*time.Hour))

	if err := e.st.InsertFollowerHistory(ctx, store.FollowerHistory{
		CreatorID:  c.IGUserID,
		RecordedAt: now,
		Followers:  p.FollowerCount,
		Following:  p.FollowingCount,
		MediaCount: p.MediaCount,
	}); err != nil {
		return fmt.Errorf("follower history: %w", err)
	}

	updated := store.Creator{
		IGUserID:             c.IGUserID,
		Username:             p.Username,
		FullName:             nullString(p.FullName),
		Biography:            nullString(p.Biography),
		Followers:            p.FollowerCount,
		Following:            p.FollowingCount,
		MediaCount:           p.MediaCount,
		IsVerified:           p.IsVerified,
		IsBusiness:           p.IsBusiness,
		IsProfessional:       p.IsProfessional,
		IsPrivate:            p.IsPrivate,
		ExternalURL:          nullString(p.ExternalURL),
		ExternalURLType:      nullString(ClassifyExternalURL(p.ExternalURL)),
		FollowersLastUpdated: sql.NullTime{Time: now, Valid: true},
		DailyGrowthRate:      daily,
		WeeklyGrowthRate:     weekly,
	}
	if len(p.BioLinks) > 0 {
		if raw, err := json.Marshal(p.BioLinks); err == nil {
			updated.BioLinks = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
		}
	}
	if err := e.st.UpdateCreatorProfile(ctx, updated); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// growthRate compares the current follower count against the oldest sample in
// the lookback window. Best-effort: missing history yields NULL.
func (e *Engine) growthRate(ctx context.Context, creatorID string, current int64, since time.Time) sql.NullFloat64 {
	history, err := e.st.FollowerHistorySince(ctx, creatorID, since)
	if err != nil || len(history) == 0 {
		return sql.NullFloat64{}
	}
	base := history[0].Followers
	if base <= 0 {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{
		Float64: (float64(current-base) / float64(base)) * 100,
		Valid:   true,
	}
}

type upsertFn func(ctx context.Context, items []store.Media) error

// storeMedia converts items to rows, preserves already-migrated CDN URLs, and
// upserts the batch.
func (e *Engine) storeMedia(ctx context.Context, creatorID, table string, items []MediaItem, viral map[string]struct{}, upsert upsertFn) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([]store.Media, 0, len(items))
	pks := make([]string, 0, len(items))
	for _, item := range items {
		row := toMediaRow(item, creatorID)
		if _, ok := viral[row.MediaPK]; ok {
			row.IsViral = true
		}
		rows = append(rows, row)
		pks = append(pks, row.MediaPK)
	}

	// Re-scrapes must not clobber URLs the media pipeline already rewrote to
	// our own CDN. Non-migrated stored URLs expire upstream and are refreshed
	// from the fresh scrape instead.
	existing, err := e.st.ExistingMediaURLs(ctx, table, pks)
	if err != nil {
		e.log.Warn("dedup lookup failed", map[string]any{
			"table": table, "error": err.Error(),
		})
	} else {
		for i := range rows {
			prev, ok := existing[rows[i].MediaPK]
			if !ok {
				continue
			}
			if prev.VideoURL.Valid && e.migratedURL(prev.VideoURL.String) {
				rows[i].VideoURL = prev.VideoURL
			}
			if len(prev.ImageURLs) > 0 && e.migratedURL(prev.ImageURLs[0]) {
				rows[i].ImageURLs = prev.ImageURLs
			}
			if prev.ThumbnailURL.Valid && e.migratedURL(prev.ThumbnailURL.String) {
				rows[i].ThumbnailURL = prev.ThumbnailURL
			}
		}
	}
	return upsert(ctx, rows)
}

// migratedURL reports whether a stored URL was rewritten by the media
// pipeline. Without a configured CDN prefix every stored URL counts as
// migrated, trading staleness for never clobbering a rewrite.
func (e *Engine) migratedURL(u string) bool {
	if u == "" {
		return false
	}
	if e.cfg.IGCDNPrefix == "" {
		return true
	}
	return strings.HasPrefix(u, e.cfg.IGCDNPrefix)
}

var (
	hashtagRe = regexp.MustCompile(`#(\w+)`)
	mentionRe = regexp.MustCompile(`@(\w+)`)
)

func toMediaRow(item MediaItem, creatorID string) store.Media {
	caption := item.CaptionText()
	row := store.Media{
		MediaPK:      item.Pk.String(),
		CreatorID:    creatorID,
		Caption:      nullString(caption),
		Hashtags:     pq.StringArray(captureGroups(hashtagRe, caption)),
		Mentions:     pq.StringArray(captureGroups(mentionRe, caption)),
		LikeCount:    item.LikeCount,
		CommentCount: item.CommentCount,
		PlayCount:    item.PlayCount,
		SaveCount:    item.SaveCount,
		ShareCount:   item.ShareCount,
		TakenAt:      time.Unix(item.TakenAt, 0).UTC(),
		IsVideo:      item.MediaType == 2 || len(item.VideoVersions) > 0,
	}
	if len(item.VideoVersions) > 0 {
		row.VideoURL = nullString(item.VideoVersions[0].URL)
	}
	var images []string
	for _, c := range item.ImageVersions.Candidates {
		images = append(images, c.URL)
		break // highest resolution candidate first
	}
	for _, cm := range item.CarouselMedia {
		if len(cm.ImageVersions.Candidates) > 0 {
			images = append(images, cm.ImageVersions.Candidates[0].URL)
		}
	}
	row.CarouselMediaCount = len(item.CarouselMedia)
	if len(images) > 0 {
		row.ImageURLs = pq.StringArray(utils.UniqueStrings(images))
		row.ThumbnailURL = nullString(images[0])
	}
	return row
}

func captureGroups(re *regexp.Regexp, text string) []string {
	matches := re.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return utils.UniqueStrings(out)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
