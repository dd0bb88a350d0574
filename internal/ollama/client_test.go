package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeServer routes by path; unknown paths get Ollama's 404 body.
func fakeServer(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := routes[r.URL.Path]; ok {
			h(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func tags(names ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models := make([]map[string]string, 0, len(names))
		for _, n := range names {
			models = append(models, map[string]string{"name": n})
		}
		json.NewEncoder(w).Encode(map[string]any{"models": models})
	}
}

func TestVersionAndIsRunning(t *testing.T) {
	srv := fakeServer(t, map[string]http.HandlerFunc{
		"/api/version": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"version":"0.6.2"}`))
		},
	})

	c := New(srv.URL + "/")
	v, err := c.Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != "0.6.2" {
		t.Errorf("Version = %q", v)
	}
	if !c.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
}

func TestIsRunning_Down(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	if New(srv.URL).IsRunning(context.Background()) {
		t.Error("IsRunning() = true for a closed server")
	}
}

func TestHasModel(t *testing.T) {
	srv := fakeServer(t, map[string]http.HandlerFunc{
		"/api/tags": tags("llama3.1:8b", "qwen2.5:latest"),
	})
	c := New(srv.URL)

	names, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(names) != 2 || names[1] != "qwen2.5:latest" {
		t.Errorf("ListModels = %v", names)
	}

	cases := map[string]bool{
		"llama3.1:8b":  true,
		"llama3.1":     true,
		"qwen2.5":      true,
		"llama3.1:70b": false,
		"llama3":       false,
	}
	for name, want := range cases {
		if got := c.HasModel(context.Background(), name); got != want {
			t.Errorf("HasModel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestChat_SendsRequest(t *testing.T) {
	var got ChatRequest
	srv := fakeServer(t, map[string]http.HandlerFunc{
		"/api/chat": func(w http.ResponseWriter, r *http.Request) {
			json.NewDecoder(r.Body).Decode(&got)
			w.Write([]byte(`{"message":{"role":"assistant","content":"{\"category\":\"praise\"}"},"done":true}`))
		},
	})

	schema := map[string]any{"type": "object"}
	out, err := New(srv.URL).Chat(context.Background(), ChatRequest{
		Model: "llama3.1:8b",
		Messages: []Message{
			{Role: "system", Content: "classify"},
			{Role: "user", Content: "love this"},
		},
		Stream:  true,
		Format:  schema,
		Options: &Options{Temperature: 0.2, NumPredict: 150},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != `{"category":"praise"}` {
		t.Errorf("content = %q", out)
	}
	if got.Stream {
		t.Error("Chat must force stream=false")
	}
	if f, ok := got.Format.(map[string]any); !ok || f["type"] != "object" {
		t.Errorf("format = %v", got.Format)
	}
	if got.Options == nil || got.Options.NumPredict != 150 {
		t.Errorf("options = %+v", got.Options)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestChat_APIError(t *testing.T) {
	srv := fakeServer(t, map[string]http.HandlerFunc{
		"/api/chat": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"model \"nope\" not found, try pulling it first"}`))
		},
	})

	_, err := New(srv.URL).Chat(context.Background(), ChatRequest{Model: "nope"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusNotFound {
		t.Errorf("Status = %d", apiErr.Status)
	}
	if !strings.Contains(apiErr.Message, "try pulling it first") {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestChat_PlainErrorBody(t *testing.T) {
	srv := fakeServer(t, map[string]http.HandlerFunc{
		"/api/chat": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream exploded", http.StatusBadGateway)
		},
	})

	_, err := New(srv.URL).Chat(context.Background(), ChatRequest{Model: "m"})
	if err == nil || !strings.Contains(err.Error(), "502: upstream exploded") {
		t.Errorf("err = %v", err)
	}
}

func TestPullModel_StreamsProgress(t *testing.T) {
	var model string
	srv := fakeServer(t, map[string]http.HandlerFunc{
		"/api/pull": func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			model, _ = body["model"].(string)
			w.Write([]byte("{\"status\":\"pulling manifest\"}\n\n"))
			w.Write([]byte("{\"status\":\"downloading\",\"total\":100,\"completed\":40}\n"))
			w.Write([]byte("{\"status\":\"success\"}\n"))
		},
	})

	var seen []PullProgress
	err := New(srv.URL).PullModel(context.Background(), "llama3.1:8b", func(p PullProgress) {
		seen = append(seen, p)
	})
	if err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if model != "llama3.1:8b" {
		t.Errorf("pulled %q", model)
	}
	if len(seen) != 3 {
		t.Fatalf("progress lines = %d, want 3", len(seen))
	}
	if seen[1].Completed != 40 || seen[1].Total != 100 {
		t.Errorf("progress = %+v", seen[1])
	}
}

func TestPullModel_StreamError(t *testing.T) {
	srv := fakeServer(t, map[string]http.HandlerFunc{
		"/api/pull": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{\"status\":\"pulling manifest\"}\n"))
			w.Write([]byte("{\"error\":\"pull model manifest: file does not exist\"}\n"))
		},
	})

	var calls int
	err := New(srv.URL).PullModel(context.Background(), "ghost", func(PullProgress) { calls++ })
	if err == nil || !strings.Contains(err.Error(), "file does not exist") {
		t.Fatalf("err = %v, want stream error", err)
	}
	if calls != 1 {
		t.Errorf("progress calls = %d, want 1", calls)
	}
}
