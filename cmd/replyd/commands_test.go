package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/replyd/internal/config"
	"github.com/kalambet/replyd/internal/crm"
	"github.com/kalambet/replyd/internal/domain"
	"github.com/kalambet/replyd/internal/scheduler"
	"github.com/kalambet/replyd/internal/storage"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		base:  ts.server.URL,
		token: "test-token",
		hc:    ts.server.Client(),
	}
}

var ctx = context.Background()

func TestListComments(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /comments": `[{
			"platform":"youtube","comment_id":"c1","text":"How much is coaching?",
			"author_name":"Ana","published_at":"2026-10-01T10:00:00Z","status":"processed",
			"classification":{"category":"lead","confidence":0.9,"reasoning":"","rule_based":true},
			"reply":{"id":"0123456789abcdef","platform":"youtube","comment_id":"c1","text":"Thanks Ana, I'll DM you.","status":"pending"}
		}]`,
	})

	var out bytes.Buffer
	if err := listComments(ctx, ts.client(), &out, "youtube", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Path != "/comments?limit=5&platform=youtube" {
		t.Errorf("path = %q", r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	got := out.String()
	for _, want := range []string{"youtube:c1", "lead", "Ana: How much is coaching?", "[pending 01234567]"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestListComments_Empty(t *testing.T) {
	ts := newTestServer(t, map[string]string{"GET /comments": `[]`})

	var out bytes.Buffer
	if err := listComments(ctx, ts.client(), &out, "", 20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "No comments found.") {
		t.Errorf("output = %q", out.String())
	}
	if ts.requests[0].Path != "/comments?limit=20" {
		t.Errorf("path = %q, want no platform filter", ts.requests[0].Path)
	}
}

func TestListPending(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /replies/pending": `[{
			"id":"r1","platform":"facebook","comment_id":"c9","text":"Happy to help!",
			"category":"question","confidence":0.72,"status":"pending",
			"triggers":{"tags":["pricing_inquiry"],"workflows":["sales_follow_up"]}
		}]`,
	})

	var out bytes.Buffer
	if err := listPending(ctx, ts.client(), &out, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := out.String()
	for _, want := range []string{"r1", "facebook:c9", "question", "0.72", "workflows: sales_follow_up"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if ts.requests[0].Path != "/replies/pending?limit=10" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestApproveReplies_Single(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /replies/r1/approve": `{"id":"r1","status":"approved"}`,
	})

	if err := approveReplies(ctx, ts.client(), []string{"r1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ts.requests) != 1 || ts.requests[0].Path != "/replies/r1/approve" {
		t.Errorf("requests = %+v", ts.requests)
	}
}

func TestApproveReplies_BulkReportsFailures(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /replies/bulk-approve": `{"results":[{"id":"r1","status":"approved"},{"id":"r2","error":"not found"}]}`,
	})

	err := approveReplies(ctx, ts.client(), []string{"r1", "r2"})
	if err == nil {
		t.Fatal("expected error when one approval fails")
	}
	if !strings.Contains(err.Error(), "1 of 2") {
		t.Errorf("error = %q", err.Error())
	}

	var body struct {
		IDs []string `json:"ids"`
	}
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if len(body.IDs) != 2 || body.IDs[0] != "r1" || body.IDs[1] != "r2" {
		t.Errorf("ids = %v", body.IDs)
	}
}

func TestApproveReplies_Conflict(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"message":"invalid status transition","type":"conflict"}}`))
	}))
	defer ts.Close()

	client := &apiClient{base: ts.URL, token: "t", hc: ts.Client()}
	err := approveReplies(ctx, client, []string{"r1"})
	if err == nil {
		t.Fatal("expected error for 409")
	}
	if !strings.Contains(err.Error(), "409: invalid status transition") {
		t.Errorf("error = %q, want the envelope message", err.Error())
	}
}

func TestOwnerActivity(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /owner/activity":  `{"active":false}`,
		"POST /owner/activity": `{"active":true}`,
	})
	client := ts.client()

	active, err := ownerActivity(ctx, client, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if active {
		t.Error("status should report away")
	}

	on := true
	active, err = ownerActivity(ctx, client, &on)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !active {
		t.Error("set should report active")
	}
	if ts.requests[1].Method != "POST" || ts.requests[1].Body != `{"active":true}` {
		t.Errorf("request = %+v", ts.requests[1])
	}
}

func TestImportVoice(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /voice/import": `{"format":"markdown","fields":["guidelines"],"chars":11,"truncated":false}`,
	})

	path := filepath.Join(t.TempDir(), "brand.md")
	if err := os.WriteFile(path, []byte("# Be kind\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := importVoice(ctx, ts.client(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Format != "markdown" || len(res.Fields) != 1 {
		t.Errorf("result = %+v", res)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["filename"] != "brand.md" {
		t.Errorf("filename = %q, want brand.md", body["filename"])
	}
	data, err := base64.StdEncoding.DecodeString(body["content"])
	if err != nil {
		t.Fatalf("content is not base64: %v", err)
	}
	if string(data) != "# Be kind\n" {
		t.Errorf("content = %q", data)
	}
}

func TestImportVoice_MissingFile(t *testing.T) {
	ts := newTestServer(t, nil)
	if _, err := importVoice(ctx, ts.client(), filepath.Join(t.TempDir(), "nope.md")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if len(ts.requests) != 0 {
		t.Error("no request should be sent for a missing file")
	}
}

func TestPrintCycleReport(t *testing.T) {
	rep := scheduler.CycleReport{
		OwnerActive: true,
		Platforms: []scheduler.PlatformReport{
			{Platform: domain.YouTube, Fetched: 3, Processed: 3, Posted: 1},
			{Platform: domain.Twitter, Error: "rate limited"},
			{Platform: domain.Facebook, Skipped: true, Error: "disabled"},
		},
	}

	var out bytes.Buffer
	printCycleReport(&out, rep)
	got := out.String()
	for _, want := range []string{"owner active", "fetched 3, processed 3, posted 1, failed 0", "rate limited", "skipped disabled"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestPrintDraftsAndLibrary(t *testing.T) {
	var out bytes.Buffer
	printDrafts(&out, []storage.Draft{
		{ID: "d1-aaaaaaaa", Type: "devotional", Series: "Rest Weekly Series", DayNumber: 2, SeriesTitle: "Rest - Day 2", Content: "Be still."},
		{ID: "d2-bbbbbbbb", Type: "social_caption", Series: "Monday Hope", Content: "Rise up."},
	})
	got := out.String()
	for _, want := range []string{"Rest - Day 2", "Be still.", "series: Monday Hope"} {
		if !strings.Contains(got, want) {
			t.Errorf("drafts output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "series: Rest Weekly Series") {
		t.Errorf("series name printed alongside day title:\n%s", got)
	}

	out.Reset()
	printLibrary(&out, map[string]storage.Draft{
		"fitness": {Content: "#gym"},
		"faith":   {Content: "#faith"},
	})
	got = out.String()
	if i, j := strings.Index(got, "faith"), strings.Index(got, "fitness"); i < 0 || j < 0 || i > j {
		t.Errorf("library not sorted by category:\n%s", got)
	}

	out.Reset()
	printLibrary(&out, nil)
	if !strings.Contains(out.String(), "No hashtag sets") {
		t.Errorf("empty library output = %q", out.String())
	}
}

func TestCommandArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"replies", "send", "youtube", "c1"}, "requires at least 3 arg(s)"},
		{[]string{"replies", "send", "myspace", "c1", "hi"}, "unknown platform"},
		{[]string{"comments", "reprocess", "youtube"}, "accepts 2 arg(s)"},
		{[]string{"owner", "maybe"}, "unknown argument"},
		{[]string{"content", "generate"}, "--type is required"},
		{[]string{"content", "series"}, "accepts 1 arg(s)"},
		{[]string{"content", "hashtags"}, "requires at least 1 arg(s)"},
	}
	for _, tt := range tests {
		rootCmd.SetArgs(tt.args)
		err := rootCmd.Execute()
		if err == nil {
			t.Errorf("%v: expected error", tt.args)
			continue
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%v: error = %q, want it to contain %q", tt.args, err.Error(), tt.want)
		}
	}
}

func TestNewRegistry_OnlyConfiguredPlatforms(t *testing.T) {
	var cfg config.Config
	cfg.YouTube.ChannelID = "UC1"
	cfg.YouTube.APIKey = "key"
	cfg.Facebook.PageID = "page" // no token
	cfg.Twitter.UserID = "42"
	cfg.Twitter.BearerToken = "bearer"

	reg := newRegistry(cfg, nil)
	var got []domain.Platform
	for _, a := range reg.List() {
		got = append(got, a.Platform())
	}
	if len(got) != 2 {
		t.Fatalf("platforms = %v, want youtube and twitter", got)
	}
	if _, ok := reg.Get(domain.Facebook); ok {
		t.Error("facebook registered without an access token")
	}
	if _, ok := reg.Get(domain.Twitter); !ok {
		t.Error("twitter not registered")
	}
}

func TestNewCRMClient(t *testing.T) {
	var cfg config.Config

	c, err := newCRMClient(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.(*crm.LogClient); !ok {
		t.Errorf("client = %T, want *crm.LogClient without an API key", c)
	}

	cfg.CRM.APIKey = "k"
	cfg.CRM.WorkflowIDs = "sales_follow_up=wf-1"
	c, err = newCRMClient(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.(*crm.HighLevel); !ok {
		t.Errorf("client = %T, want *crm.HighLevel", c)
	}

	cfg.CRM.WorkflowIDs = "broken"
	if _, err := newCRMClient(cfg); err == nil {
		t.Error("expected error for invalid workflow mapping")
	}
}

func TestSchedulerConfig(t *testing.T) {
	var cfg config.Config
	cfg.Scheduler.FetchInterval = 2 * time.Minute
	cfg.Scheduler.Parallel = true
	cfg.Scheduler.ErrorThreshold = 5

	sc := schedulerConfig(cfg)
	if sc.FetchInterval != 2*time.Minute || !sc.Parallel || sc.ErrorThreshold != 5 {
		t.Errorf("scheduler config = %+v", sc)
	}
}

func TestCall_ServerDown(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	ts.Close()

	client := &apiClient{base: ts.URL, token: "t", hc: http.DefaultClient}
	err := client.call(ctx, http.MethodGet, "/stats", nil, nil)
	if !errors.Is(err, errServerDown) {
		t.Errorf("err = %v, want errServerDown", err)
	}
}

func TestCall_PlainTextError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer ts.Close()

	client := &apiClient{base: ts.URL, token: "t", hc: ts.Client()}
	err := client.call(ctx, http.MethodGet, "/stats", nil, nil)
	if err == nil || err.Error() != "server returned 502: bad gateway" {
		t.Errorf("err = %v", err)
	}
}
