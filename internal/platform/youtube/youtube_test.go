package youtube

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kalambet/replyd/internal/domain"
	"github.com/kalambet/replyd/internal/platform"
)

const threadsPage1 = `{
  "nextPageToken": "p2",
  "items": [{
    "id": "thread-1",
    "snippet": {
      "videoId": "vid-1",
      "topLevelComment": {"id": "c1", "snippet": {"videoId": "vid-1", "textOriginal": "Loved this!", "authorDisplayName": "Ann", "authorChannelId": {"value": "UC-ann"}, "likeCount": 3, "publishedAt": "2026-01-02T10:00:00Z"}}
    },
    "replies": {"comments": [
      {"id": "c1.r1", "snippet": {"videoId": "vid-1", "textOriginal": "Me too", "authorDisplayName": "Bob", "publishedAt": "2026-01-02T11:00:00Z", "parentId": "c1"}},
      {"id": "c1.r0", "snippet": {"videoId": "vid-1", "textOriginal": "old reply", "authorDisplayName": "Cy", "publishedAt": "2025-12-01T11:00:00Z", "parentId": "c1"}}
    ]}
  }]
}`

const threadsPage2 = `{
  "items": [{
    "id": "thread-2",
    "snippet": {"videoId": "vid-1", "topLevelComment": {"id": "c2", "snippet": {"textOriginal": "ancient", "authorDisplayName": "Dee", "publishedAt": "2025-06-01T00:00:00Z"}}}
  }]
}`

func newTestAdapter(t *testing.T, handler http.HandlerFunc, token string) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{ChannelID: "UC-me", APIKey: "key", OAuthToken: token, BaseURL: srv.URL},
		platform.NewHTTPClient(platform.WithRetries(1, time.Millisecond)))
}

func TestFetchSince(t *testing.T) {
	var pages []string
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/commentThreads":
			if r.URL.Query().Get("allThreadsRelatedToChannelId") != "UC-me" || r.URL.Query().Get("key") != "key" {
				t.Errorf("unexpected query %s", r.URL.RawQuery)
			}
			pages = append(pages, r.URL.Query().Get("pageToken"))
			if r.URL.Query().Get("pageToken") == "p2" {
				w.Write([]byte(threadsPage2))
				return
			}
			w.Write([]byte(threadsPage1))
		case "/videos":
			if r.URL.Query().Get("id") != "vid-1" {
				t.Errorf("unexpected video ids %q", r.URL.Query().Get("id"))
			}
			w.Write([]byte(`{"items":[{"id":"vid-1","snippet":{"title":"Morning Routine"}}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}, "")

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := a.FetchSince(context.Background(), since)
	if err != nil {
		t.Fatalf("FetchSince: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d comments, want 2: %+v", len(got), got)
	}
	if len(pages) != 2 {
		t.Errorf("expected two pages, got %v", pages)
	}

	top := got[0]
	if top.ID != "c1" || top.Platform != domain.YouTube || top.AuthorID != "UC-ann" || top.LikeCount != 3 {
		t.Errorf("unexpected top comment %+v", top)
	}
	if top.PostContext != "YouTube video: Morning Routine" {
		t.Errorf("post context = %q", top.PostContext)
	}
	if got[1].ParentID != "thread-1" || got[1].Text != "Me too" {
		t.Errorf("unexpected reply %+v", got[1])
	}
}

func TestFetchSince_Error(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusForbidden)
	}, "")
	if _, err := a.FetchSince(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error")
	}
}

func TestPostReply(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/comments" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer oauth" {
			t.Errorf("missing oauth token")
		}
		var body struct {
			Snippet struct {
				ParentID     string `json:"parentId"`
				TextOriginal string `json:"textOriginal"`
			} `json:"snippet"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Snippet.ParentID != "c1" || body.Snippet.TextOriginal != "Thanks!" {
			t.Errorf("unexpected body %+v", body)
		}
		w.Write([]byte(`{"id":"reply-9"}`))
	}, "oauth")

	res, err := a.PostReply(context.Background(), "c1", "Thanks!")
	if err != nil {
		t.Fatalf("PostReply: %v", err)
	}
	if res.ExternalID != "reply-9" {
		t.Errorf("external id = %q", res.ExternalID)
	}
}

func TestPostReply_ReplyGoesToThread(t *testing.T) {
	var parents []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Snippet struct {
				ParentID string `json:"parentId"`
			} `json:"snippet"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		parents = append(parents, body.Snippet.ParentID)
		w.Write([]byte(`{"id":"reply-x"}`))
	}))
	t.Cleanup(srv.Close)

	stored := map[string]string{"Ugx-reply": "Ugx-top"}
	a := New(Config{
		OAuthToken: "oauth",
		BaseURL:    srv.URL,
		Parents:    func(id string) (string, error) { return stored[id], nil },
	}, platform.NewHTTPClient(platform.WithRetries(1, time.Millisecond)))

	for _, id := range []string{"Ugx-reply", "c1.r1", "c1"} {
		if _, err := a.PostReply(context.Background(), id, "Thanks!"); err != nil {
			t.Fatalf("PostReply(%s): %v", id, err)
		}
	}
	want := []string{"Ugx-top", "c1", "c1"}
	if len(parents) != len(want) {
		t.Fatalf("parentIds = %v, want %v", parents, want)
	}
	for i := range want {
		if parents[i] != want[i] {
			t.Errorf("parentId for post %d = %q, want %q", i, parents[i], want[i])
		}
	}
}

func TestPostReply_RequiresOAuth(t *testing.T) {
	a := New(Config{APIKey: "key"}, nil)
	if _, err := a.PostReply(context.Background(), "c1", "hi"); err == nil {
		t.Fatal("expected error without oauth token")
	}
}
