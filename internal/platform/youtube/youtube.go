// Package youtube reads comment threads for a channel and replies to them
// through the YouTube Data API v3.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/replyd/internal/domain"
	"github.com/kalambet/replyd/internal/platform"
)

const (
	defaultBaseURL = "https://www.googleapis.com/youtube/v3"
	maxPages       = 10
)

// Config holds the channel and credentials. Reads use APIKey; posting
// requires OAuthToken. Parents, when set, returns the stored parent of a
// comment ("" for a top-level one).
type Config struct {
	ChannelID  string
	APIKey     string
	OAuthToken string
	BaseURL    string
	Parents    func(commentID string) (string, error)
}

// Adapter implements platform.Adapter for YouTube.
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
		client = platform.NewHTTPClient(platform.WithRateLimit(60, time.Minute))
	}
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Platform() domain.Platform { return domain.YouTube }

type commentSnippet struct {
	VideoID           string `json:"videoId"`
	TextDisplay       string `json:"textDisplay"`
	TextOriginal      string `json:"textOriginal"`
	AuthorDisplayName string `json:"authorDisplayName"`
	AuthorChannelID   struct {
		Value string `json:"value"`
	} `json:"authorChannelId"`
	LikeCount   int    `json:"likeCount"`
	PublishedAt string `json:"publishedAt"`
	ParentID    string `json:"parentId"`
}

type comment struct {
	ID      string         `json:"id"`
	Snippet commentSnippet `json:"snippet"`
}

type threadsResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		ID      string `json:"id"`
		Snippet struct {
			VideoID         string  `json:"videoId"`
			TopLevelComment comment `json:"topLevelComment"`
		} `json:"snippet"`
		Replies struct {
			Comments []comment `json:"comments"`
		} `json:"replies"`
	} `json:"items"`
}

type videosResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
	} `json:"items"`
}

// FetchSince pages through the channel's comment threads, newest first,
// until it reaches threads older than since.
func (a *Adapter) FetchSince(ctx context.Context, since time.Time) ([]domain.Comment, error) {
	var out []domain.Comment
	pageToken := ""

	for page := 0; page < maxPages; page++ {
		q := url.Values{
			"part":                         {"snippet,replies"},
			"allThreadsRelatedToChannelId": {a.cfg.ChannelID},
			"order":                        {"time"},
			"maxResults":                   {"100"},
			"key":                          {a.cfg.APIKey},
		}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var resp threadsResponse
		if err := a.client.Do(ctx, platform.Request{
			Method: http.MethodGet,
			URL:    a.cfg.BaseURL + "/commentThreads?" + q.Encode(),
		}, &resp); err != nil {
			return nil, fmt.Errorf("youtube: listing comment threads: %w", err)
		}

		reachedOld := false
		for _, item := range resp.Items {
			top := item.Snippet.TopLevelComment
			topAt, err := platform.ParseTime(top.Snippet.PublishedAt)
			if err != nil {
				continue
			}
			if !topAt.Before(since) {
				out = append(out, normalize(top, topAt, "", videoOf(item.Snippet.VideoID, top)))
			} else {
				reachedOld = true
			}
			for _, r := range item.Replies.Comments {
				at, err := platform.ParseTime(r.Snippet.PublishedAt)
				if err != nil || at.Before(since) {
					continue
				}
				out = append(out, normalize(r, at, item.ID, videoOf(item.Snippet.VideoID, r)))
			}
		}

		if reachedOld || resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	if err := a.attachTitles(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func videoOf(threadVideo string, c comment) string {
	if c.Snippet.VideoID != "" {
		return c.Snippet.VideoID
	}
	return threadVideo
}

func normalize(c comment, at time.Time, parentID, videoID string) domain.Comment {
	text := c.Snippet.TextOriginal
	if text == "" {
		text = c.Snippet.TextDisplay
	}
	if parentID == "" {
		parentID = c.Snippet.ParentID
	}
	return domain.Comment{
		Platform:    domain.YouTube,
		ID:          c.ID,
		Text:        text,
		AuthorName:  c.Snippet.AuthorDisplayName,
		AuthorID:    c.Snippet.AuthorChannelID.Value,
		PublishedAt: at,
		ParentID:    parentID,
		PostID:      videoID,
		LikeCount:   c.Snippet.LikeCount,
	}
}

// attachTitles fills PostContext with the video title, one batched lookup
// for up to 50 videos.
func (a *Adapter) attachTitles(ctx context.Context, comments []domain.Comment) error {
	seen := map[string]bool{}
	var ids []string
	for _, c := range comments {
		if c.PostID != "" && !seen[c.PostID] && len(ids) < 50 {
			seen[c.PostID] = true
			ids = append(ids, c.PostID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	q := url.Values{"part": {"snippet"}, "id": {strings.Join(ids, ",")}, "key": {a.cfg.APIKey}}
	var resp videosResponse
	if err := a.client.Do(ctx, platform.Request{
		Method: http.MethodGet,
		URL:    a.cfg.BaseURL + "/videos?" + q.Encode(),
	}, &resp); err != nil {
		return fmt.Errorf("youtube: listing videos: %w", err)
	}

	titles := make(map[string]string, len(resp.Items))
	for _, v := range resp.Items {
		titles[v.ID] = v.Snippet.Title
	}
	for i := range comments {
		comments[i].PostContext = "YouTube video: " + titles[comments[i].PostID]
	}
	return nil
}

// threadOf returns the top-level comment a reply to commentID must be
// attached to. The API rejects reply IDs as parentId.
func (a *Adapter) threadOf(commentID string) string {
	if a.cfg.Parents != nil {
		if parent, err := a.cfg.Parents(commentID); err == nil && parent != "" {
			return parent
		}
	}
	// Reply IDs are "<thread>.<suffix>".
	if i := strings.IndexByte(commentID, '.'); i > 0 {
		return commentID[:i]
	}
	return commentID
}

// PostReply answers a comment. Replies to a reply go to its thread.
func (a *Adapter) PostReply(ctx context.Context, commentID, text string) (platform.PostResult, error) {
	if a.cfg.OAuthToken == "" {
		return platform.PostResult{}, errors.New("youtube: posting requires an OAuth token")
	}
	body := map[string]any{
		"snippet": map[string]string{
			"parentId":     a.threadOf(commentID),
			"textOriginal": text,
		},
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := a.client.Do(ctx, platform.Request{
		Method:  http.MethodPost,
		URL:     a.cfg.BaseURL + "/comments?part=snippet",
		Body:    body,
		Headers: platform.Bearer(a.cfg.OAuthToken),
	}, &resp); err != nil {
		return platform.PostResult{}, fmt.Errorf("youtube: posting reply: %w", err)
	}
	return platform.PostResult{ExternalID: resp.ID}, nil
}
