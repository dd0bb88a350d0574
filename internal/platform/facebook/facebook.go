// Package facebook reads page post comments and replies to them through
// the Graph API.
package facebook

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/replyd/internal/domain"
	"github.com/kalambet/replyd/internal/platform"
)

const (
	defaultBaseURL = "https://graph.facebook.com/v18.0"
	postsFields    = "id,message,created_time,comments.limit(100){id,message,from,created_time,like_count,comments{id,message,from,created_time,like_count}}"
)

// Config holds the page and its access token.
type Config struct {
	PageID      string
	AccessToken string
	BaseURL     string
}

// Adapter implements platform.Adapter for Facebook pages.
type Adapter struct {
	cfg    Config
	client *platform.HTTPClient
}

var _ platform.Adapter = (*Adapter)(nil)

// New creates an Adapter. A nil client gets the default limits.
func New(cfg Config, client *platform.HTTPClient) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = platform.NewHTTPClient(platform.WithRateLimit(100, time.Minute))
	}
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Platform() domain.Platform { return domain.Facebook }

type author struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type graphComment struct {
	ID          string `json:"id"`
	Message     string `json:"message"`
	From        author `json:"from"`
	CreatedTime string `json:"created_time"`
	LikeCount   int    `json:"like_count"`
	Comments    struct {
		Data []graphComment `json:"data"`
	} `json:"comments"`
}

type postsResponse struct {
	Data []struct {
		ID       string `json:"id"`
		Message  string `json:"message"`
		Comments struct {
			Data []graphComment `json:"data"`
		} `json:"comments"`
	} `json:"data"`
}

// FetchSince reads the page's recent posts with two levels of comments.
func (a *Adapter) FetchSince(ctx context.Context, since time.Time) ([]domain.Comment, error) {
	q := url.Values{
		"fields":       {postsFields},
		"limit":        {"25"},
		"access_token": {a.cfg.AccessToken},
	}
	var resp postsResponse
	if err := a.client.Do(ctx, platform.Request{
		Method: http.MethodGet,
		URL:    a.cfg.BaseURL + "/" + url.PathEscape(a.cfg.PageID) + "/posts?" + q.Encode(),
	}, &resp); err != nil {
		return nil, fmt.Errorf("facebook: listing posts: %w", err)
	}

	var out []domain.Comment
	for _, post := range resp.Data {
		postCtx := platform.PostContext("Facebook post", post.Message)
		for _, c := range post.Comments.Data {
			if dc, ok := normalize(c, post.ID, "", postCtx, since); ok {
				out = append(out, dc)
			}
			for _, r := range c.Comments.Data {
				if dc, ok := normalize(r, post.ID, c.ID, postCtx, since); ok {
					out = append(out, dc)
				}
			}
		}
	}
	return out, nil
}

func normalize(c graphComment, postID, parentID, postCtx string, since time.Time) (domain.Comment, bool) {
	at, err := platform.ParseTime(c.CreatedTime)
	if err != nil || at.Before(since) {
		return domain.Comment{}, false
	}
	return domain.Comment{
		Platform:    domain.Facebook,
		ID:          c.ID,
		Text:        c.Message,
		AuthorName:  c.From.Name,
		AuthorID:    c.From.ID,
		PublishedAt: at,
		ParentID:    parentID,
		PostID:      postID,
		PostContext: postCtx,
		LikeCount:   c.LikeCount,
	}, true
}

// PostReply comments on the given comment.
func (a *Adapter) PostReply(ctx context.Context, commentID, text string) (platform.PostResult, error) {
	q := url.Values{"access_token": {a.cfg.AccessToken}}
	var resp struct {
		ID string `json:"id"`
	}
	if err := a.client.Do(ctx, platform.Request{
		Method: http.MethodPost,
		URL:    a.cfg.BaseURL + "/" + url.PathEscape(commentID) + "/comments?" + q.Encode(),
		Body:   map[string]string{"message": text},
	}, &resp); err != nil {
		return platform.PostResult{}, fmt.Errorf("facebook: posting reply: %w", err)
	}
	return platform.PostResult{ExternalID: resp.ID}, nil
}
