package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/replyd/internal/config"
)

// apiClient talks to the local operator API of a running server.
type apiClient struct {
	base  string
	token string
	hc    *http.Client
}

// newAPIClient is a variable so tests can point commands at httptest.
var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	token, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return nil, fmt.Errorf("reading API token: %w", err)
	}
	return &apiClient{
		base:  "http://127.0.0.1:" + strconv.Itoa(cfg.Server.Port),
		token: token,
		// Cycles and content generation wait on the model.
		hc: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

// errServerDown wraps transport failures so commands print one hint.
var errServerDown = errors.New("replyd server not reachable; start it with `replyd start`")

// call sends in as JSON (when non-nil) and decodes the reply into out
// (when non-nil). Non-2xx replies become errors carrying the server's
// message.
func (c *apiClient) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w (%v)", errServerDown, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return responseError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &env) == nil && env.Error.Message != "" {
		msg = env.Error.Message
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
}
