// Package client provides a small typed JSON client for the tpmjs HTTP API.
// Authentication is layered on through the Doer, so the same client code
// serves session, API-key and cron callers.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tpmjs/tests/integration/internal/sse"
)

const maxResponseBytes = 2 * 1024 * 1024

// Doer executes a single HTTP request. *http.Client satisfies it, and
// auth decorators wrap one Doer in another.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DoerFunc adapts a function to the Doer interface.
type DoerFunc func(req *http.Request) (*http.Response, error)

func (f DoerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

// Result is the outcome of a completed HTTP exchange. OK mirrors whether
// the status was 2xx; Error carries the server's error text for non-2xx
// responses. Transport failures are reported as a separate Go error and
// never as a Result.
type Result[T any] struct {
	OK     bool
	Status int
	Data   T
	Error  string
	Header http.Header
}

// SSEResult is the outcome of a streaming request. Events is populated only
// on success; a non-2xx status yields OK == false with the body unread.
type SSEResult struct {
	OK     bool
	Status int
	Events []sse.Event
}

// Options carries the per-request knobs. A nil Body sends no payload and
// no Content-Type header; absent Query keys are simply not encoded.
type Options struct {
	Query  map[string]string
	Header map[string]string
	Body   interface{}
}

// SSEOptions carries the per-stream knobs. MaxEvents and Timeout are passed
// through to the collector, zero meaning its defaults.
type SSEOptions struct {
	Header    map[string]string
	MaxEvents int
	Timeout   time.Duration
}

type Client struct {
	baseURL string
	doer    Doer
}

// New builds a client rooted at baseURL. Trailing slashes are stripped so
// paths always join with exactly one separator. A nil doer falls back to a
// fresh http.Client.
func New(baseURL string, doer Doer) *Client {
	if doer == nil {
		doer = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		doer:    doer,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) newRequest(ctx context.Context, method, path string, opts Options) (*http.Request, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target := c.baseURL + path
	if len(opts.Query) > 0 {
		query := url.Values{}
		for key, value := range opts.Query {
			query.Set(key, value)
		}
		target += "?" + query.Encode()
	}

	var body io.Reader
	if opts.Body != nil {
		payload, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("client: encode %s %s body: %w", method, path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("client: build %s %s request: %w", method, path, err)
	}
	if opts.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range opts.Header {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		req.Header.Set(key, value)
	}
	return req, nil
}

// Do executes a JSON request and decodes the response into T. Non-2xx
// statuses are not Go errors; they come back as Result.OK == false with
// the error text the server sent.
func Do[T any](ctx context.Context, c *Client, method, path string, opts Options) (Result[T], error) {
	req, err := c.newRequest(ctx, method, path, opts)
	if err != nil {
		return Result[T]{}, err
	}
	resp, err := c.doer.Do(req)
	if err != nil {
		return Result[T]{}, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result[T]{}, fmt.Errorf("client: read %s %s response: %w", method, path, err)
	}

	result := Result[T]{Status: resp.StatusCode, Header: resp.Header.Clone()}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		result.Error = errorMessage(body, resp.StatusCode)
		return result, nil
	}

	result.OK = true
	if len(body) == 0 {
		return result, nil
	}
	if isJSONContentType(resp.Header.Get("Content-Type")) {
		// A malformed JSON success body leaves Data at its zero value.
		_ = json.Unmarshal(body, &result.Data)
	} else if text, ok := interface{}(&result.Data).(*string); ok {
		*text = string(body)
	}
	return result, nil
}

func Get[T any](ctx context.Context, c *Client, path string, opts Options) (Result[T], error) {
	return Do[T](ctx, c, http.MethodGet, path, opts)
}

func Post[T any](ctx context.Context, c *Client, path string, opts Options) (Result[T], error) {
	return Do[T](ctx, c, http.MethodPost, path, opts)
}

func Patch[T any](ctx context.Context, c *Client, path string, opts Options) (Result[T], error) {
	return Do[T](ctx, c, http.MethodPatch, path, opts)
}

func Put[T any](ctx context.Context, c *Client, path string, opts Options) (Result[T], error) {
	return Do[T](ctx, c, http.MethodPut, path, opts)
}

func Delete[T any](ctx context.Context, c *Client, path string, opts Options) (Result[T], error) {
	return Do[T](ctx, c, http.MethodDelete, path, opts)
}

// Raw executes a request and hands back the unconsumed response. The caller
// owns the body.
func (c *Client) Raw(ctx context.Context, method, path string, opts Options) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, opts)
	if err != nil {
		return nil, err
	}
	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	return resp, nil
}

// SSE issues a streaming request, POST when a body is given and GET
// otherwise, and collects the event stream. A non-2xx status closes the
// body unread and reports OK == false; collector failures (no body,
// timeout) surface as Go errors.
func (c *Client) SSE(ctx context.Context, path string, body interface{}, opts SSEOptions) (SSEResult, error) {
	method := http.MethodGet
	if body != nil {
		method = http.MethodPost
	}
	req, err := c.newRequest(ctx, method, path, Options{Header: opts.Header, Body: body})
	if err != nil {
		return SSEResult{}, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.doer.Do(req)
	if err != nil {
		return SSEResult{}, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		resp.Body.Close()
		return SSEResult{Status: resp.StatusCode}, nil
	}

	events, err := sse.Collect(resp, sse.CollectOptions{MaxEvents: opts.MaxEvents, Timeout: opts.Timeout})
	if err != nil {
		return SSEResult{}, err
	}
	return SSEResult{OK: true, Status: resp.StatusCode, Events: events}, nil
}

// errorMessage pulls the error text out of a JSON error body, looking at
// the flat error and message fields the API uses, and falls back to the
// bare status when the body is not parseable.
func errorMessage(body []byte, status int) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return fmt.Sprintf("HTTP %d", status)
}

func isJSONContentType(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "application/json")
}
