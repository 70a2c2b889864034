// Copyright (c) 2025 Opsline Labs
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/opsline/infrachat/internal/model"
)

// Configuration defaults for the client.
const (
	// DefaultMaxRetries is the number of retry attempts beyond the first try.
	DefaultMaxRetries = 3

	// DefaultBaseDelay seeds the exponential backoff.
	DefaultBaseDelay = 500 * time.Millisecond

	// DefaultTimeout is the per-attempt deadline.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize caps response bodies to prevent memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024
)

// sharedHTTPClient pools connections across all clients. Per-attempt
// deadlines come from request contexts, not a client-level timeout.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
}

// =============================================================================
// CLIENT
// =============================================================================

// Client executes logical API operations as one or more physical HTTP
// attempts, applying bounded exponential backoff with jitter driven by
// error classification. Configuration is immutable after construction;
// the client holds no per-call state, so concurrent logical calls are
// fully independent.
type Client struct {
	baseURL    string
	maxRetries int
	baseDelay  time.Duration
	timeout    time.Duration
	headers    map[string]string

	httpClient *http.Client
	logger     *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewClient creates a client for the API rooted at baseURL. Trailing
// slashes are stripped so operation paths can always start with "/".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		timeout:    DefaultTimeout,
		httpClient: sharedHTTPClient,
		logger:     slog.Default(),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithMaxRetries sets the number of retry attempts beyond the first try.
// Negative values are treated as zero.
func (c *Client) WithMaxRetries(maxRetries int) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	c.maxRetries = maxRetries
	return c
}

// WithBaseDelay sets the backoff seed delay.
func (c *Client) WithBaseDelay(baseDelay time.Duration) *Client {
	c.baseDelay = baseDelay
	return c
}

// WithTimeout sets the per-attempt deadline.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.timeout = timeout
	return c
}

// WithLogger sets the logger used for retry warnings.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// WithHeader adds a header sent on every attempt, such as a bearer token
// for an authenticated endpoint.
func (c *Client) WithHeader(key, value string) *Client {
	if c.headers == nil {
		c.headers = make(map[string]string)
	}
	c.headers[key] = value
	return c
}

// WithHTTPClient sets a custom HTTP client (used in tests).
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// REQUEST / RESPONSE
// =============================================================================

// Request describes one logical operation. Callers must only submit
// requests that are safe to issue up to maxRetries+1 times against the
// transport.
type Request struct {
	Method string
	Path   string
	Body   any
}

// Response is a completed HTTP exchange with a success status.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode interprets the response body. A declared JSON content type is
// unmarshaled into v; a malformed body degrades to leaving v zero rather
// than raising, and non-JSON bodies are ignored (use Text for the raw
// form). The leniency keeps a bad body from masking a successful status.
func (r *Response) Decode(v any) {
	if !isJSONContentType(r.Header.Get("Content-Type")) {
		return
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		// Degrade to the zero value; do not surface a parse error.
		zero(v)
	}
}

// Text returns the raw response body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// zero resets *v to its zero value, discarding anything a failed decode
// may have partially populated.
func zero(v any) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv.Elem().Set(reflect.Zero(rv.Elem().Type()))
	}
}

// =============================================================================
// EXECUTE
// =============================================================================

// Execute runs one logical call: an attempt loop from 0 to maxRetries
// inclusive. Terminal HTTP errors return immediately; retryable failures
// back off and try again, and when attempts are exhausted the last
// observed error is returned. Errors from the exchange itself are always
// one of *APIError, *NetworkError, or *TimeoutError; a request body that
// cannot be encoded is a caller defect and fails before any attempt with
// a plain error.
func (c *Client) Execute(ctx context.Context, req Request) (*Response, error) {
	var payload []byte
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		payload = data
	}

	st := retryState{kind: stateAttempting}

	for !st.done() {
		resp, class, attemptErr := c.attempt(ctx, req, payload)

		prev := st.attempt
		st = transition(prev, c.maxRetries, class, attemptErr)

		if st.kind == stateSuccess {
			return resp, nil
		}
		if st.kind != stateAttempting {
			break
		}

		delay := c.nextDelay(prev)
		c.logger.Warn("retrying request",
			"method", req.Method,
			"path", req.Path,
			"attempt", prev,
			"delay", delay,
			"cause", attemptErr)

		select {
		case <-ctx.Done():
			return nil, &NetworkError{Cause: ctx.Err()}
		case <-time.After(delay):
		}
	}

	return nil, st.err
}

// attempt performs one physical HTTP exchange with a fresh per-attempt
// deadline. It returns the response on success, and otherwise the
// classification and the error describing the failure.
func (c *Client) attempt(ctx context.Context, req Request, payload []byte) (*Response, classification, Error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	// Always disarm the attempt timer, on success and failure paths alike.
	defer cancel()

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, c.baseURL+req.Path, bodyReader)
	if err != nil {
		return nil, classTerminal, &NetworkError{Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for key, value := range c.headers {
		httpReq.Header.Set(key, value)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// The deadline elapsing is a timeout; everything else that keeps
		// the exchange from completing is a connectivity failure. Parent
		// context cancellation is not retried.
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, classRetryable, &TimeoutError{Timeout: c.timeout}
		}
		if ctx.Err() != nil {
			return nil, classTerminal, &NetworkError{Cause: ctx.Err()}
		}
		return nil, classRetryable, &NetworkError{Cause: err}
	}
	defer httpResp.Body.Close()

	body, err := readBody(httpResp)
	if err != nil {
		// The attempt timer can also fire mid-body, after headers have
		// already arrived. That is still a timeout, not a network fault.
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, classRetryable, &TimeoutError{Timeout: c.timeout}
		}
		return nil, classRetryable, &NetworkError{Cause: err}
	}

	class := classifyStatus(httpResp.StatusCode)
	if class == classSuccess {
		return &Response{
			StatusCode: httpResp.StatusCode,
			Header:     httpResp.Header,
			Body:       body,
		}, classSuccess, nil
	}

	// Both terminal and retryable HTTP errors carry the full response
	// context; for retryable statuses this becomes the surfaced error if
	// this turns out to be the final attempt.
	return nil, class, newAPIError(httpResp.StatusCode, httpResp.Header.Get("Content-Type"), body)
}

// nextDelay computes the backoff delay after a failed attempt.
func (c *Client) nextDelay(attempt int) time.Duration {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return backoffDelay(c.baseDelay, attempt, c.rng)
}

// readBody reads a response body under the size cap.
func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", int64(MaxResponseSize))
	}
	return body, nil
}

// =============================================================================
// LOGICAL OPERATIONS
// =============================================================================

// CreateSession creates a new conversation session. An empty title lets
// the server apply its default.
func (c *Client) CreateSession(ctx context.Context, title string) (*model.Session, error) {
	resp, err := c.Execute(ctx, Request{
		Method: http.MethodPost,
		Path:   "/api/sessions",
		Body:   model.SessionCreateRequest{Title: title},
	})
	if err != nil {
		return nil, err
	}
	var session model.Session
	resp.Decode(&session)
	return &session, nil
}

// ListSessions lists all sessions, most recently active first.
func (c *Client) ListSessions(ctx context.Context) (*model.SessionListResponse, error) {
	resp, err := c.Execute(ctx, Request{
		Method: http.MethodGet,
		Path:   "/api/sessions",
	})
	if err != nil {
		return nil, err
	}
	var list model.SessionListResponse
	resp.Decode(&list)
	return &list, nil
}

// SendMessage sends an operator message and returns the assistant reply.
func (c *Client) SendMessage(ctx context.Context, sessionID, content string) (*model.Message, error) {
	resp, err := c.Execute(ctx, Request{
		Method: http.MethodPost,
		Path:   "/api/sessions/" + url.PathEscape(sessionID) + "/messages",
		Body:   model.MessageRequest{Content: content},
	})
	if err != nil {
		return nil, err
	}
	var reply model.Message
	resp.Decode(&reply)
	return &reply, nil
}

// GetHistory fetches the message history of a session, oldest first.
func (c *Client) GetHistory(ctx context.Context, sessionID string) (*model.MessageHistoryResponse, error) {
	resp, err := c.Execute(ctx, Request{
		Method: http.MethodGet,
		Path:   "/api/sessions/" + url.PathEscape(sessionID) + "/messages",
	})
	if err != nil {
		return nil, err
	}
	var history model.MessageHistoryResponse
	resp.Decode(&history)
	return &history, nil
}

// Health fetches the service health report.
func (c *Client) Health(ctx context.Context) (*model.HealthResponse, error) {
	resp, err := c.Execute(ctx, Request{
		Method: http.MethodGet,
		Path:   "/health",
	})
	if err != nil {
		return nil, err
	}
	var health model.HealthResponse
	resp.Decode(&health)
	return &health, nil
}
