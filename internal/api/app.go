package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/replyd/internal/content"
	"github.com/kalambet/replyd/internal/domain"
	"github.com/kalambet/replyd/internal/events"
	"github.com/kalambet/replyd/internal/operator"
	"github.com/kalambet/replyd/internal/scheduler"
	"github.com/kalambet/replyd/internal/storage"
	"github.com/kalambet/replyd/internal/voice"
)

const maxImportSize = 10 << 20 // 10MB

// Runner triggers scheduler work on demand.
type Runner interface {
	RunCycle(ctx context.Context) (scheduler.CycleReport, error)
	Sweep(ctx context.Context) (scheduler.SweepReport, error)
}

// AppDeps holds everything the operator API needs.
type AppDeps struct {
	Operator *operator.Service
	Runner   Runner
	Voice    *voice.Manager
	Content  *content.Generator
	Store    *storage.Store
	Hub      *events.Hub
	Token    string
}

// NewAppHandler returns the operator API. Everything except /health needs
// the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.With(BearerOrQueryAuth(deps.Token)).Get("/events", events.HandleWebSocket(deps.Hub))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/comments", handleListComments(deps))
		r.Post("/comments/{platform}/{id}/reprocess", handleReprocess(deps))

		r.Get("/replies/pending", handleListPending(deps))
		r.Post("/replies", handleSubmitReply(deps))
		r.Post("/replies/bulk-approve", handleBulkApprove(deps))
		r.Post("/replies/{id}/approve", handleDecide(deps, deps.Operator.Approve))
		r.Post("/replies/{id}/reject", handleDecide(deps, deps.Operator.Reject))

		r.Get("/owner/activity", handleGetOwnerActivity(deps))
		r.Post("/owner/activity", handleSetOwnerActivity(deps))

		r.Get("/stats", handleStats(deps))
		r.Post("/cycle", handleCycle(deps))
		r.Post("/sweep", handleSweep(deps))

		r.Get("/voice", handleGetVoice(deps))
		r.Patch("/voice", handlePatchVoice(deps))
		r.Post("/voice/import", handleImportVoice(deps))

		r.Post("/content/generate", handleGenerateContent(deps))
		r.Post("/content/captions/bulk", handleBulkCaptions(deps))
		r.Post("/content/devotionals/series", handleDevotionalSeries(deps))
		r.Post("/content/hashtags/library", handleHashtagLibrary(deps))
		r.Get("/content", handleListContent(deps))
	})

	return r
}

func handleListComments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 200)

		var p domain.Platform
		if raw := r.URL.Query().Get("platform"); raw != "" {
			var err error
			if p, err = domain.ParsePlatform(raw); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
		}

		comments, err := deps.Operator.ListComments(limit, p)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list comments: %v", err)
			return
		}
		writeJSON(w, comments)
	}
}

func handleReprocess(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := domain.ParsePlatform(chi.URLParam(r, "platform"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		out, err := deps.Operator.Reprocess(r.Context(), p, chi.URLParam(r, "id"))
		if err != nil {
			opError(w, err)
			return
		}
		writeJSON(w, out)
	}
}

func handleListPending(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		replies, err := deps.Operator.ListPending(parseIntParam(r, "limit", 20, 200))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list pending replies: %v", err)
			return
		}
		writeJSON(w, replies)
	}
}

type submitReplyRequest struct {
	Platform  string `json:"platform"`
	CommentID string `json:"comment_id"`
	Text      string `json:"text"`
}

func handleSubmitReply(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitReplyRequest
		if !decodeBody(w, r, &req) {
			return
		}
		p, err := domain.ParsePlatform(req.Platform)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		reply, err := deps.Operator.SubmitReply(p, req.CommentID, req.Text)
		if err != nil {
			opError(w, err)
			return
		}
		writeJSONStatus(w, http.StatusCreated, reply)
	}
}

func handleDecide(deps AppDeps, decide func(string) (domain.Reply, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply, err := decide(chi.URLParam(r, "id"))
		if err != nil {
			opError(w, err)
			return
		}
		writeJSON(w, reply)
	}
}

func handleBulkApprove(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IDs []string `json:"ids"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.IDs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "ids is required")
			return
		}
		writeJSON(w, map[string]any{"results": deps.Operator.BulkApprove(req.IDs)})
	}
}

func handleGetOwnerActivity(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active, err := deps.Operator.OwnerActivity()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, map[string]bool{"active": active})
	}
}

func handleSetOwnerActivity(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Active *bool `json:"active"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Active == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "active is required")
			return
		}
		if err := deps.Operator.SetOwnerActivity(*req.Active); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, map[string]bool{"active": *req.Active})
	}
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Operator.Stats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to collect stats: %v", err)
			return
		}
		writeJSON(w, st)
	}
}

func handleCycle(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := deps.Runner.RunCycle(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "cycle failed: %v", err)
			return
		}
		writeJSON(w, rep)
	}
}

func handleSweep(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := deps.Runner.Sweep(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "sweep failed: %v", err)
			return
		}
		writeJSON(w, rep)
	}
}

func handleGetVoice(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := deps.Voice.Get()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get voice: %v", err)
			return
		}
		writeJSON(w, v)
	}
}

func handlePatchVoice(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var fields map[string]any
		if !decodeBody(w, r, &fields) {
			return
		}

		for key, value := range fields {
			raw, err := fieldValue(value)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "field %q: %v", key, err)
				return
			}
			if err := deps.Voice.Set(key, raw); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to set field %q: %v", key, err)
				return
			}
		}

		v, err := deps.Voice.Get()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get voice: %v", err)
			return
		}
		writeJSON(w, v)
	}
}

// fieldValue turns a JSON value into the string form voice.Manager.Set
// accepts. Arrays are passed through as JSON.
func fieldValue(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []any:
		b, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("expected string or array, got %T", v)
	}
}

type importRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

func handleImportVoice(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportSize)
		defer r.Body.Close()

		name, data, err := readImport(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		res, err := deps.Voice.Import(name, data)
		if err != nil {
			httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "import failed: %v", err)
			return
		}
		writeJSON(w, res)
	}
}

// readImport accepts either a multipart upload in the "file" field or a JSON
// body with a base64 encoded document.
func readImport(r *http.Request) (string, []byte, error) {
	if err := r.ParseMultipartForm(maxImportSize); err == nil {
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", nil, fmt.Errorf("file field is required: %w", err)
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return "", nil, fmt.Errorf("reading upload: %w", err)
		}
		return header.Filename, data, nil
	} else if !errors.Is(err, http.ErrNotMultipart) {
		return "", nil, fmt.Errorf("invalid multipart body: %w", err)
	}

	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", nil, fmt.Errorf("invalid request body: %w", err)
	}
	if req.Filename == "" || req.Content == "" {
		return "", nil, errors.New("filename and content are required")
	}
	data, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		return "", nil, errors.New("invalid base64 content")
	}
	return req.Filename, data, nil
}

func handleGenerateContent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req content.Request
		if !decodeBody(w, r, &req) {
			return
		}

		drafts, err := deps.Content.Generate(r.Context(), req)
		if errors.Is(err, content.ErrUnknownType) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v (valid: %v)", err, content.Types())
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "content generation failed after %d drafts: %v", len(drafts), err)
			return
		}
		writeJSON(w, drafts)
	}
}

func handleBulkCaptions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req content.BulkCaptionsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		drafts, err := deps.Content.BulkCaptions(r.Context(), req)
		if batchFailed(w, len(drafts), err) {
			return
		}
		writeJSON(w, drafts)
	}
}

func handleDevotionalSeries(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req content.SeriesRequest
		if !decodeBody(w, r, &req) {
			return
		}
		drafts, err := deps.Content.DevotionalSeries(r.Context(), req)
		if batchFailed(w, len(drafts), err) {
			return
		}
		writeJSON(w, drafts)
	}
}

func handleHashtagLibrary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req content.LibraryRequest
		if !decodeBody(w, r, &req) {
			return
		}
		library, err := deps.Content.HashtagLibrary(r.Context(), req)
		if batchFailed(w, len(library), err) {
			return
		}
		writeJSON(w, library)
	}
}

// batchFailed writes the error response for a batch generation call and
// reports whether it did.
func batchFailed(w http.ResponseWriter, done int, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, content.ErrInvalidBatch):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	default:
		httpError(w, http.StatusBadGateway, "api_error", "content generation failed after %d drafts: %v", done, err)
	}
	return true
}

func handleListContent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		drafts, err := deps.Store.ListDrafts(r.URL.Query().Get("type"), parseIntParam(r, "limit", 20, 100))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list drafts: %v", err)
			return
		}
		if drafts == nil {
			drafts = []storage.Draft{}
		}
		writeJSON(w, drafts)
	}
}
