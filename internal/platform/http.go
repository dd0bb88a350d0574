package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 500 * time.Millisecond
	maxBackoff            = 30 * time.Second
	maxErrorBody          = 512
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if repeated.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRateLimited reports whether err wraps a 429 response.
func IsRateLimited(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests
}

// Request is one JSON call.
type Request struct {
	Method  string
	URL     string
	Body    any
	Headers map[string]string
}

// HTTPClient sends JSON requests with retries and an outbound rate limit.
type HTTPClient struct {
	http           *http.Client
	limiter        *Limiter
	maxAttempts    int
	initialBackoff time.Duration
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithRateLimit caps outbound requests to rate per window.
func WithRateLimit(rate int, window time.Duration) Option {
	return func(c *HTTPClient) { c.limiter = NewLimiter(rate, window) }
}

// WithRetries sets the total attempt count and the first backoff delay.
func WithRetries(attempts int, initial time.Duration) Option {
	return func(c *HTTPClient) {
		c.maxAttempts = attempts
		c.initialBackoff = initial
	}
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.http = hc }
}

// NewHTTPClient creates an HTTPClient.
func NewHTTPClient(opts ...Option) *HTTPClient {
	c := &HTTPClient{
		http:           &http.Client{Timeout: defaultTimeout},
		maxAttempts:    defaultMaxAttempts,
		initialBackoff: defaultInitialBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}
	return c
}

// Do sends req and decodes a JSON response into out when out is non-nil.
// 429 and 5xx responses are retried with exponential backoff.
func (c *HTTPClient) Do(ctx context.Context, req Request, out any) error {
	var body []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = b
	}

	var lastErr error
	for attempt := range c.maxAttempts {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		err := c.do(ctx, req, body, out)
		if err == nil {
			return nil
		}
		lastErr = err

		var se *StatusError
		if !errors.As(err, &se) || !se.Retryable() {
			return err
		}
		if attempt == c.maxAttempts-1 {
			break
		}

		backoff := time.Duration(float64(c.initialBackoff) * math.Pow(2, float64(attempt)))
		if se.RetryAfter > backoff {
			backoff = se.RetryAfter
		}
		backoff = min(backoff, maxBackoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *HTTPClient) do(ctx context.Context, req Request, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, rdr)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			StatusCode: resp.StatusCode,
			Body:       string(b),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Bearer returns an Authorization header map for token.
func Bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}
