// Package redditapi is a typed facade over Reddit's public JSON endpoints.
// Callers supply the proxy for each call so retry policy stays with the engine.
package redditapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/onnwee/social-harvest/backend/internal/httpclient"
	"github.com/onnwee/social-harvest/backend/internal/store"
)

// baseURL is a var so tests can point the facade at a local server.
var baseURL = "https://www.reddit.com"

// AboutData is the payload of /r/{name}/about.json.
type AboutData struct {
	DisplayName       string  `json:"display_name"`
	Title             string  `json:"title"`
	PublicDescription string  `json:"public_description"`
	Description       string  `json:"description"`
	Subscribers       int64   `json:"subscribers"`
	ActiveUserCount   int64   `json:"active_user_count"`
	AllowImages       bool    `json:"allow_images"`
	Over18            bool    `json:"over18"`
	CreatedUTC        float64 `json:"created_utc"`
	URL               string  `json:"url"`
	SubredditType     string  `json:"subreddit_type"`
}

// Rule is one entry of /r/{name}/about/rules.json.
type Rule struct {
	ShortName   string `json:"short_name"`
	Description string `json:"description"`
	Kind        string `json:"kind"`
}

// PostData is the payload of one listing child.
type PostData struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Title         string          `json:"title"`
	Selftext      string          `json:"selftext"`
	Author        string          `json:"author"`
	Subreddit     string          `json:"subreddit"`
	Score         int64           `json:"score"`
	NumComments   int64           `json:"num_comments"`
	UpvoteRatio   float64         `json:"upvote_ratio"`
	Permalink     string          `json:"permalink"`
	URL           string          `json:"url"`
	Domain        string          `json:"domain"`
	CreatedUTC    float64         `json:"created_utc"`
	IsVideo       bool            `json:"is_video"`
	IsGallery     bool            `json:"is_gallery"`
	IsSelf        bool            `json:"is_self"`
	Over18        bool            `json:"over_18"`
	PostHint      string          `json:"post_hint"`
	LinkFlairText string          `json:"link_flair_text"`
	Thumbnail     string          `json:"thumbnail"`
	Media         json.RawMessage `json:"media"`
	GalleryData   json.RawMessage `json:"gallery_data"`
}

// UserData is the payload of /user/{name}/about.json.
type UserData struct {
	Name             string  `json:"name"`
	LinkKarma        int64   `json:"link_karma"`
	CommentKarma     int64   `json:"comment_karma"`
	TotalKarma       int64   `json:"total_karma"`
	CreatedUTC       float64 `json:"created_utc"`
	IsSuspended      bool    `json:"is_suspended"`
	Verified         bool    `json:"verified"`
	HasVerifiedEmail bool    `json:"has_verified_email"`
}

// thing is Reddit's universal envelope.
type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type listing struct {
	Data struct {
		Children []thing `json:"children"`
		After    string  `json:"after"`
	} `json:"data"`
}

// API wraps the HTTP client with Reddit's endpoint shapes.
type API struct {
	client *httpclient.Client
}

func New(client *httpclient.Client) *API {
	return &API{client: client}
}

// GetSubredditInfo fetches /r/{name}/about.json.
func (a *API) GetSubredditInfo(ctx context.Context, name string, px store.Proxy) (*AboutData, httpclient.Kind) {
	body, kind := a.client.GetJSON(ctx, fmt.Sprintf("%s/r/%s/about.json", baseURL, url.PathEscape(name)), px)
	if kind != httpclient.KindOK {
		return nil, kind
	}
	var t thing
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, httpclient.KindNetwork
	}
	var about AboutData
	if err := json.Unmarshal(t.Data, &about); err != nil {
		return nil, httpclient.KindNetwork
	}
	return &about, httpclient.KindOK
}

// GetSubredditRules fetches /r/{name}/about/rules.json.
func (a *API) GetSubredditRules(ctx context.Context, name string, px store.Proxy) ([]Rule, httpclient.Kind) {
	body, kind := a.client.GetJSON(ctx, fmt.Sprintf("%s/r/%s/about/rules.json", baseURL, url.PathEscape(name)), px)
	if kind != httpclient.KindOK {
		return nil, kind
	}
	var payload struct {
		Rules []Rule `json:"rules"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, httpclient.KindNetwork
	}
	return payload.Rules, httpclient.KindOK
}

// GetSubredditHotPosts fetches /r/{name}/hot.json with the given limit.
func (a *API) GetSubredditHotPosts(ctx context.Context, name string, limit int, px store.Proxy) ([]PostData, httpclient.Kind) {
	u := fmt.Sprintf("%s/r/%s/hot.json?limit=%d", baseURL, url.PathEscape(name), limit)
	return a.getListing(ctx, u, px)
}

// GetSubredditTopPosts fetches /r/{name}/top.json for one time window
// ("day", "week", "month", "year", "all").
func (a *API) GetSubredditTopPosts(ctx context.Context, name, window string, limit int, px store.Proxy) ([]PostData, httpclient.Kind) {
	u := fmt.Sprintf("%s/r/%s/top.json?t=%s&limit=%d", baseURL, url.PathEscape(name), url.QueryEscape(window), limit)
	return a.getListing(ctx, u, px)
}

// GetUserInfo fetches /user/{name}/about.json.
func (a *API) GetUserInfo(ctx context.Context, username string, px store.Proxy) (*UserData, httpclient.Kind) {
	body, kind := a.client.GetJSON(ctx, fmt.Sprintf("%s/user/%s/about.json", baseURL, url.PathEscape(username)), px)
	if kind != httpclient.KindOK {
		return nil, kind
	}
	var t thing
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, httpclient.KindNetwork
	}
	var user UserData
	if err := json.Unmarshal(t.Data, &user); err != nil {
		return nil, httpclient.KindNetwork
	}
	return &user, httpclient.KindOK
}

// GetUserPosts fetches /user/{name}/submitted.json.
func (a *API) GetUserPosts(ctx context.Context, username string, limit int, px store.Proxy) ([]PostData, httpclient.Kind) {
	u := fmt.Sprintf("%s/user/%s/submitted.json?limit=%d", baseURL, url.PathEscape(username), limit)
	return a.getListing(ctx, u, px)
}

func (a *API) getListing(ctx context.Context, u string, px store.Proxy) ([]PostData, httpclient.Kind) {
	body, kind := a.client.GetJSON(ctx, u, px)
	if kind != httpclient.KindOK {
		return nil, kind
	}
	var l listing
	if err := json.Unmarshal(body, &l); err != nil {
		return nil, httpclient.KindNetwork
	}
	posts := make([]PostData, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		// Listings can interleave comments (t1) with links (t3).
		if child.Kind != "" && child.Kind != "t3" {
			continue
		}
		var p PostData
		if err := json.Unmarshal(child.Data, &p); err != nil {
			continue
		}
		posts = append(posts, p)
	}
	return posts, httpclient.KindOK
}
