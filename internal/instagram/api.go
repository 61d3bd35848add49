// Package instagram implements the Instagram harvester: profile refresh,
// reels/posts collection through a proxying HTTP API, and the derived
// creator analytics.
package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/onnwee/social-harvest/backend/internal/config"
	"github.com/onnwee/social-harvest/backend/internal/httpclient"
	"github.com/onnwee/social-harvest/backend/internal/logger"
	"github.com/onnwee/social-harvest/backend/internal/metrics"
	"github.com/onnwee/social-harvest/backend/internal/store"
	"github.com/onnwee/social-harvest/backend/internal/utils"
)

var (
	ErrUserNotFound = errors.New("instagram user not found")
	ErrRateLimited  = errors.New("instagram rate limited")
	ErrUnavailable  = errors.New("instagram api unavailable")
)

// emptyPageDelays back off re-fetches of a suspiciously empty page.
var emptyPageDelays = []time.Duration{2 * time.Second, 5 * time.Second, 12500 * time.Millisecond}

// Profile is the upstream profile payload.
type Profile struct {
	Pk             json.Number `json:"pk"`
	Username       string      `json:"username"`
	FullName       string      `json:"full_name"`
	Biography      string      `json:"biography"`
	FollowerCount  int64       `json:"follower_count"`
	FollowingCount int64       `json:"following_count"`
	MediaCount     int64       `json:"media_count"`
	IsVerified     bool        `json:"is_verified"`
	IsPrivate      bool        `json:"is_private"`
	IsBusiness     bool        `json:"is_business"`
	IsProfessional bool        `json:"is_professional_account"`
	ExternalURL    string      `json:"external_url"`
	BioLinks       []BioLink   `json:"bio_links"`
}

// BioLink is one entry of a profile's link list.
type BioLink struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// MediaItem is one reel or post as returned upstream. Some endpoints wrap the
// real item in a "media" field; Unwrap resolves that.
type MediaItem struct {
	Pk           json.Number `json:"pk"`
	ID           string      `json:"id"`
	TakenAt      int64       `json:"taken_at"`
	MediaType    int         `json:"media_type"`
	LikeCount    int64       `json:"like_count"`
	CommentCount int64       `json:"comment_count"`
	PlayCount    int64       `json:"play_count"`
	SaveCount    int64       `json:"save_count"`
	ShareCount   int64       `json:"reshare_count"`
	Caption      *struct {
		Text string `json:"text"`
	} `json:"caption"`
	VideoVersions []struct {
		URL string `json:"url"`
	} `json:"video_versions"`
	ImageVersions struct {
		Candidates []struct {
			URL string `json:"url"`
		} `json:"candidates"`
	} `json:"image_versions2"`
	CarouselMedia []MediaItem `json:"carousel_media"`
	Media         *MediaItem  `json:"media"`
}

// Unwrap resolves the nested "media" envelope some list endpoints use.
func (m MediaItem) Unwrap() MediaItem {
	if m.Media != nil {
		return *m.Media
	}
	return m
}

// CaptionText returns the caption body, empty when absent.
func (m MediaItem) CaptionText() string {
	if m.Caption == nil {
		return ""
	}
	return m.Caption.Text
}

type listResponse struct {
	Items      []MediaItem `json:"items"`
	PagingInfo struct {
		MoreAvailable bool   `json:"more_available"`
		MaxID         string `json:"max_id"`
	} `json:"paging_info"`
}

// API is the typed facade over the Instagram proxy service. All requests
// share one rate limiter so the global RPS cap holds across creator tasks.
type API struct {
	client   *httpclient.Client
	limiter  *rate.Limiter
	baseURL  string
	pageSize int
	log      *logger.Harvester
}

// NewAPI wires the facade from config: API host, key and the global RPS cap.
func NewAPI(client *httpclient.Client, log *logger.Harvester) *API {
	cfg := config.Load()
	client.SetHeaders(map[string]string{
		"x-rapidapi-key":  cfg.IGAPIKey,
		"x-rapidapi-host": cfg.IGAPIHost,
	})
	return &API{
		client:   client,
		limiter:  rate.NewLimiter(rate.Limit(cfg.IGRequestsPerSecond), 1),
		baseURL:  "https://" + cfg.IGAPIHost,
		pageSize: cfg.IGReelsPageSize,
		log:      log,
	}
}

// GetProfile fetches a creator profile by username.
func (a *API) GetProfile(ctx context.Context, username string) (*Profile, error) {
	body, err := a.get(ctx, fmt.Sprintf("%s/instagram/user/get_info?username=%s", a.baseURL, url.QueryEscape(username)))
	if err != nil {
		return nil, err
	}
	var payload struct {
		User *Profile `json:"user"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.User == nil {
		return nil, fmt.Errorf("%w: decode profile for %s", ErrUnavailable, username)
	}
	return payload.User, nil
}

// GetReels pages through a creator's reels until count items are collected or
// the upstream reports no more pages.
func (a *API) GetReels(ctx context.Context, userID string, count int) ([]MediaItem, error) {
	return a.getPaged(ctx, userID, count, "get_clips")
}

// GetPosts pages through a creator's feed posts.
func (a *API) GetPosts(ctx context.Context, userID string, count int) ([]MediaItem, error) {
	return a.getPaged(ctx, userID, count, "get_media")
}

func (a *API) getPaged(ctx context.Context, userID string, count int, endpoint string) ([]MediaItem, error) {
	var out []MediaItem
	maxID := ""
	for len(out) < count {
		page, err := a.fetchPage(ctx, userID, endpoint, maxID)
		if err != nil {
			return out, err
		}
		for _, item := range page.Items {
			out = append(out, item.Unwrap())
			if len(out) == count {
				break
			}
		}
		if !page.PagingInfo.MoreAvailable || page.PagingInfo.MaxID == "" {
			break
		}
		maxID = page.PagingInfo.MaxID
	}
	return out, nil
}

// fetchPage fetches one page, retrying empty responses a few times before
// accepting them as genuinely empty (the upstream occasionally returns an
// empty items list under load).
func (a *API) fetchPage(ctx context.Context, userID, endpoint, maxID string) (*listResponse, error) {
	retries := config.Load().IGRetryEmptyResponse
	for attempt := 0; ; attempt++ {
		u := fmt.Sprintf("%s/instagram/user/%s?id=%s&count=%d", a.baseURL, endpoint, url.QueryEscape(userID), a.pageSize)
		if maxID != "" {
			u += "&max_id=" + url.QueryEscape(maxID)
		}
		body, err := a.get(ctx, u)
		if err != nil {
			return nil, err
		}
		var page listResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("%w: decode %s page", ErrUnavailable, endpoint)
		}
		if len(page.Items) > 0 || attempt >= retries || attempt >= len(emptyPageDelays) {
			return &page, nil
		}
		a.log.Debug("empty page, retrying", map[string]any{
			"endpoint": endpoint, "user_id": userID, "attempt": attempt + 1,
		})
		if !utils.SleepCtx(ctx.Done(), emptyPageDelays[attempt]) {
			return nil, ctx.Err()
		}
	}
}

func (a *API) get(ctx context.Context, u string) (json.RawMessage, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	metrics.RateLimitWaits.WithLabelValues("instagram").Inc()
	body, kind := a.client.GetJSON(ctx, u, store.Proxy{})
	switch kind {
	case httpclient.KindOK:
		return body, nil
	case httpclient.KindNotFound, httpclient.KindBanned:
		return nil, ErrUserNotFound
	case httpclient.KindRateLimited:
		return nil, ErrRateLimited
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, kind)
	}
}
