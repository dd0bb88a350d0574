package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalambet/replyd/internal/content"
	"github.com/kalambet/replyd/internal/domain"
	"github.com/kalambet/replyd/internal/engine"
	"github.com/kalambet/replyd/internal/events"
	"github.com/kalambet/replyd/internal/operator"
	"github.com/kalambet/replyd/internal/pipeline"
	"github.com/kalambet/replyd/internal/scheduler"
	"github.com/kalambet/replyd/internal/storage"
	"github.com/kalambet/replyd/internal/voice"
)

const testToken = "test-token-12345"

type stubProcessor struct{ calls int }

func (p *stubProcessor) Process(_ context.Context, c domain.Comment, _ pipeline.Mode) (pipeline.Outcome, error) {
	p.calls++
	return pipeline.Outcome{Key: c.Key(), Status: domain.CommentProcessed}, nil
}

type stubRunner struct {
	cycles int
	sweeps int
}

func (r *stubRunner) RunCycle(context.Context) (scheduler.CycleReport, error) {
	r.cycles++
	return scheduler.CycleReport{Platforms: []scheduler.PlatformReport{{Platform: domain.YouTube, Fetched: 2}}}, nil
}

func (r *stubRunner) Sweep(context.Context) (scheduler.SweepReport, error) {
	r.sweeps++
	return scheduler.SweepReport{Delivered: 1}, nil
}

type stubEngine struct{ out string }

func (e *stubEngine) Complete(context.Context, engine.Request) (string, error) { return e.out, nil }
func (e *stubEngine) IsRunning(context.Context) bool                           { return true }
func (e *stubEngine) Name() string                                             { return "stub" }

type testApp struct {
	handler http.Handler
	store   *storage.Store
	proc    *stubProcessor
	runner  *stubRunner
	hub     *events.Hub
}

func setupApp(t *testing.T) *testApp {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	hub := events.NewHub()
	proc := &stubProcessor{}
	runner := &stubRunner{}
	voiceMgr := voice.NewManager(store)

	handler := NewAppHandler(AppDeps{
		Operator: operator.New(store, proc, nil, hub),
		Runner:   runner,
		Voice:    voiceMgr,
		Content:  content.NewGenerator(&stubEngine{out: "Rise and shine #faith"}, voiceMgr, store),
		Store:    store,
		Hub:      hub,
		Token:    testToken,
	})
	return &testApp{handler: handler, store: store, proc: proc, runner: runner, hub: hub}
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func (a *testApp) do(t *testing.T, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, authReq(method, url, body, testToken))
	return rr
}

func (a *testApp) seedComment(t *testing.T, id string) {
	t.Helper()
	c := domain.Comment{Platform: domain.YouTube, ID: id, Text: "how much is the course?", AuthorName: "viewer", PublishedAt: time.Now().UTC()}
	if _, err := a.store.UpsertComment(c); err != nil {
		t.Fatalf("UpsertComment: %v", err)
	}
}

func (a *testApp) seedPending(t *testing.T, commentID string) domain.Reply {
	t.Helper()
	r, err := a.store.InsertReply(domain.Reply{Platform: domain.YouTube, CommentID: commentID, Text: "DM me!", NeedsApproval: true, Category: domain.Lead})
	if err != nil {
		t.Fatalf("InsertReply: %v", err)
	}
	return r
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body.Error.Type
}

func TestHealth_NoAuth(t *testing.T) {
	app := setupApp(t)
	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestAuth_Rejects(t *testing.T) {
	app := setupApp(t)
	for _, token := range []string{"", "wrong"} {
		rr := httptest.NewRecorder()
		app.handler.ServeHTTP(rr, authReq(http.MethodGet, "/stats", "", token))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, rr.Code)
		}
		if got := errorType(t, rr); got != "authentication_error" {
			t.Errorf("token %q: error type = %q", token, got)
		}
	}

	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stats?token="+testToken, nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("query token on /stats: status = %d, want 401", rr.Code)
	}
}

func TestListComments(t *testing.T) {
	app := setupApp(t)
	app.seedComment(t, "c1")
	r := app.seedPending(t, "c1")

	rr := app.do(t, http.MethodGet, "/comments?limit=5&platform=youtube", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var views []operator.CommentView
	if err := json.NewDecoder(rr.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0].Reply == nil || views[0].Reply.ID != r.ID {
		t.Errorf("views = %+v", views)
	}

	rr = app.do(t, http.MethodGet, "/comments?platform=myspace", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown platform: status = %d, want 400", rr.Code)
	}
}

func TestReprocess(t *testing.T) {
	app := setupApp(t)
	app.seedComment(t, "c1")
	app.seedComment(t, "c2")
	app.seedPending(t, "c2")

	if rr := app.do(t, http.MethodPost, "/comments/youtube/c1/reprocess", ""); rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if app.proc.calls != 1 {
		t.Errorf("processor calls = %d, want 1", app.proc.calls)
	}
	if rr := app.do(t, http.MethodPost, "/comments/youtube/c2/reprocess", ""); rr.Code != http.StatusConflict {
		t.Errorf("replied comment: status = %d, want 409", rr.Code)
	}
	if rr := app.do(t, http.MethodPost, "/comments/youtube/nope/reprocess", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing comment: status = %d, want 404", rr.Code)
	}
	if rr := app.do(t, http.MethodPost, "/comments/orkut/c1/reprocess", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad platform: status = %d, want 400", rr.Code)
	}
}

func TestReplies_SubmitApproveReject(t *testing.T) {
	app := setupApp(t)
	app.seedComment(t, "c1")
	app.seedComment(t, "c2")
	pending := app.seedPending(t, "c2")

	rr := app.do(t, http.MethodPost, "/replies", `{"platform":"youtube","comment_id":"c1","text":"Thanks!"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("submit status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var submitted domain.Reply
	json.NewDecoder(rr.Body).Decode(&submitted)
	if submitted.Status != domain.ReplyApproved || submitted.Source != domain.SourceOwner {
		t.Errorf("submitted = %+v", submitted)
	}

	if rr := app.do(t, http.MethodPost, "/replies", `{"platform":"youtube","comment_id":"c1","text":"  "}`); rr.Code != http.StatusBadRequest {
		t.Errorf("empty text: status = %d, want 400", rr.Code)
	}
	if rr := app.do(t, http.MethodPost, "/replies", `{"platform":"youtube","comment_id":"zzz","text":"hi"}`); rr.Code != http.StatusNotFound {
		t.Errorf("unknown comment: status = %d, want 404", rr.Code)
	}

	rr = app.do(t, http.MethodGet, "/replies/pending", "")
	var queue []domain.Reply
	json.NewDecoder(rr.Body).Decode(&queue)
	if len(queue) != 1 || queue[0].ID != pending.ID {
		t.Fatalf("pending = %+v, want only %s", queue, pending.ID)
	}

	rr = app.do(t, http.MethodPost, "/replies/"+pending.ID+"/approve", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("approve status = %d; body = %s", rr.Code, rr.Body.String())
	}
	rr = app.do(t, http.MethodPost, "/replies/"+pending.ID+"/reject", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("reject approved status = %d; body = %s", rr.Code, rr.Body.String())
	}
	rr = app.do(t, http.MethodPost, "/replies/"+pending.ID+"/approve", "")
	if rr.Code != http.StatusConflict {
		t.Errorf("approve rejected: status = %d, want 409", rr.Code)
	}
	if got := errorType(t, rr); got != "conflict" {
		t.Errorf("error type = %q, want conflict", got)
	}
	if rr := app.do(t, http.MethodPost, "/replies/nope/approve", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown reply: status = %d, want 404", rr.Code)
	}
}

func TestBulkApprove(t *testing.T) {
	app := setupApp(t)
	app.seedComment(t, "c1")
	r := app.seedPending(t, "c1")

	rr := app.do(t, http.MethodPost, "/replies/bulk-approve", `{"ids":["`+r.ID+`","missing"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Results []operator.BulkResult `json:"results"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.Results) != 2 || resp.Results[0].Status != domain.ReplyApproved || resp.Results[1].Error == "" {
		t.Errorf("results = %+v", resp.Results)
	}

	if rr := app.do(t, http.MethodPost, "/replies/bulk-approve", `{"ids":[]}`); rr.Code != http.StatusBadRequest {
		t.Errorf("empty ids: status = %d, want 400", rr.Code)
	}
}

func TestOwnerActivity(t *testing.T) {
	app := setupApp(t)

	if rr := app.do(t, http.MethodPost, "/owner/activity", `{}`); rr.Code != http.StatusBadRequest {
		t.Errorf("missing active: status = %d, want 400", rr.Code)
	}
	if rr := app.do(t, http.MethodPost, "/owner/activity", `{"active":true}`); rr.Code != http.StatusOK {
		t.Fatalf("set status = %d", rr.Code)
	}
	rr := app.do(t, http.MethodGet, "/owner/activity", "")
	var resp map[string]bool
	json.NewDecoder(rr.Body).Decode(&resp)
	if !resp["active"] {
		t.Errorf("active = false, want true")
	}
}

func TestStatsCycleSweep(t *testing.T) {
	app := setupApp(t)

	rr := app.do(t, http.MethodGet, "/stats", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("stats status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var st operator.Stats
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if st.Platforms == nil {
		t.Error("platforms should be an empty list, not null")
	}

	rr = app.do(t, http.MethodPost, "/cycle", "")
	if rr.Code != http.StatusOK || app.runner.cycles != 1 {
		t.Errorf("cycle status = %d, cycles = %d", rr.Code, app.runner.cycles)
	}
	rr = app.do(t, http.MethodPost, "/sweep", "")
	if rr.Code != http.StatusOK || app.runner.sweeps != 1 {
		t.Errorf("sweep status = %d, sweeps = %d", rr.Code, app.runner.sweeps)
	}
}

func TestVoice_GetAndPatch(t *testing.T) {
	app := setupApp(t)

	rr := app.do(t, http.MethodGet, "/voice", "")
	var v voice.Voice
	json.NewDecoder(rr.Body).Decode(&v)
	if v.Tone != voice.Default().Tone {
		t.Errorf("tone = %q, want default", v.Tone)
	}

	rr = app.do(t, http.MethodPatch, "/voice", `{"tone":"playful","values":["joy","family"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("patch status = %d; body = %s", rr.Code, rr.Body.String())
	}
	json.NewDecoder(rr.Body).Decode(&v)
	if v.Tone != "playful" || len(v.Values) != 2 || v.Values[1] != "family" {
		t.Errorf("voice = %+v", v)
	}

	if rr := app.do(t, http.MethodPatch, "/voice", `{"mood":"grumpy"}`); rr.Code != http.StatusBadRequest {
		t.Errorf("unknown field: status = %d, want 400", rr.Code)
	}
	if rr := app.do(t, http.MethodPatch, "/voice", `{"tone":42}`); rr.Code != http.StatusBadRequest {
		t.Errorf("numeric value: status = %d, want 400", rr.Code)
	}
}

func TestVoiceImport_JSON(t *testing.T) {
	app := setupApp(t)
	doc := base64.StdEncoding.EncodeToString([]byte("# Guidelines\nAlways thank people by name."))

	rr := app.do(t, http.MethodPost, "/voice/import", `{"filename":"brand.md","content":"`+doc+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var res voice.ImportResult
	json.NewDecoder(rr.Body).Decode(&res)
	if len(res.Fields) != 1 || res.Fields[0] != voice.FieldGuidelines {
		t.Errorf("result = %+v", res)
	}

	if rr := app.do(t, http.MethodPost, "/voice/import", `{"filename":"brand.md","content":"***"}`); rr.Code != http.StatusBadRequest {
		t.Errorf("bad base64: status = %d, want 400", rr.Code)
	}
}

func TestVoiceImport_Multipart(t *testing.T) {
	app := setupApp(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "brand.html")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write([]byte("<html><body><p>Warm and direct.</p><script>x()</script></body></html>"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/voice/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	v, err := voice.NewManager(app.store).Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !strings.Contains(v.Guidelines, "Warm and direct.") || strings.Contains(v.Guidelines, "x()") {
		t.Errorf("guidelines = %q", v.Guidelines)
	}
}

func TestContent_GenerateAndList(t *testing.T) {
	app := setupApp(t)

	rr := app.do(t, http.MethodPost, "/content/generate", `{"type":"social_caption","topic":"mornings","count":2}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var drafts []storage.Draft
	json.NewDecoder(rr.Body).Decode(&drafts)
	if len(drafts) != 2 || drafts[0].Content != "Rise and shine #faith" {
		t.Errorf("drafts = %+v", drafts)
	}

	if rr := app.do(t, http.MethodPost, "/content/generate", `{"type":"novel"}`); rr.Code != http.StatusBadRequest {
		t.Errorf("unknown type: status = %d, want 400", rr.Code)
	}

	rr = app.do(t, http.MethodGet, "/content?type=social_caption", "")
	json.NewDecoder(rr.Body).Decode(&drafts)
	if len(drafts) != 2 {
		t.Errorf("listed %d drafts, want 2", len(drafts))
	}
	rr = app.do(t, http.MethodGet, "/content?type=devotional", "")
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("empty list body = %s", rr.Body.String())
	}
}

func TestContent_BatchRoutes(t *testing.T) {
	app := setupApp(t)

	rr := app.do(t, http.MethodPost, "/content/captions/bulk", `{"topics":["faith","mornings"],"series":"Weekly Inspiration"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("bulk: status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var drafts []storage.Draft
	json.NewDecoder(rr.Body).Decode(&drafts)
	if len(drafts) != 6 || drafts[0].Series != "Weekly Inspiration" {
		t.Errorf("bulk drafts = %+v", drafts)
	}

	rr = app.do(t, http.MethodPost, "/content/devotionals/series", `{"theme":"Rest","days":3}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("series: status = %d; body = %s", rr.Code, rr.Body.String())
	}
	drafts = nil
	json.NewDecoder(rr.Body).Decode(&drafts)
	if len(drafts) != 3 || drafts[2].DayNumber != 3 || drafts[2].SeriesTitle != "Rest - Day 3" {
		t.Errorf("series drafts = %+v", drafts)
	}

	rr = app.do(t, http.MethodPost, "/content/hashtags/library", `{"categories":["faith","fitness"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("library: status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var library map[string]storage.Draft
	json.NewDecoder(rr.Body).Decode(&library)
	if len(library) != 2 || library["fitness"].Type != "hashtag_set" {
		t.Errorf("library = %+v", library)
	}

	for path, body := range map[string]string{
		"/content/captions/bulk":      `{"topics":[]}`,
		"/content/devotionals/series": `{"theme":""}`,
		"/content/hashtags/library":   `{"categories":[" "]}`,
	} {
		if rr := app.do(t, http.MethodPost, path, body); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rr.Code)
		}
	}
}

func TestEvents_WebSocketQueryToken(t *testing.T) {
	app := setupApp(t)
	srv := httptest.NewServer(app.handler)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Fatal("dial without token succeeded")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial without token: resp = %v, err = %v", resp, err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+testToken, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for app.hub.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	app.hub.Publish(events.OwnerActivity, map[string]bool{"active": true})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.Type != string(events.OwnerActivity) {
		t.Errorf("event type = %q", ev.Type)
	}
}
