package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kalambet/replyd/internal/content"
	"github.com/kalambet/replyd/internal/operator"
	"github.com/kalambet/replyd/internal/storage"
)

// maxRequestBodySize caps JSON bodies; voice imports arrive base64 encoded
// and fit comfortably.
const maxRequestBodySize = 1 << 20

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api: writing response", "error", err)
	}
}

// httpError writes the {"error":{"message","type"}} envelope.
func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	var body errorBody
	body.Error.Message = fmt.Sprintf(format, args...)
	body.Error.Type = errType
	writeJSONStatus(w, code, body)
}

// opError maps operator and storage sentinels to HTTP statuses.
func opError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, storage.ErrInvalidTransition), errors.Is(err, operator.ErrAlreadyReplied):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	case errors.Is(err, operator.ErrInvalidInput), errors.Is(err, content.ErrUnknownType):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
