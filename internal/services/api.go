// JSON-over-HTTP transport shared by the Stash and Whisparr clients
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"

	"github.com/desertthunder/whisparr-sync/internal/metrics"
	"github.com/desertthunder/whisparr-sync/internal/shared"
)

const (
	defaultRetryMax   = 3
	maxRetryAttempts  = 5
	defaultRetryDelay = 500 * time.Millisecond
	defaultMaxLogBody = 1000
)

// Request describes one call through the transport.
//
// GET and HEAD requests are retried on transient failures. Other methods are
// sent exactly once unless Idempotent is set, which read-only POST APIs such as
// GraphQL queries use to opt in.
type Request struct {
	Method     string
	Path       string
	Query      url.Values
	Body       any
	Idempotent bool
}

func (r Request) retryable() bool {
	return r.Method == http.MethodGet || r.Method == http.MethodHead || r.Idempotent
}

// APIResponse represents a raw API response with status and body.
type APIResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// APIService performs JSON requests against a single base URL with bounded
// retry and uniform error translation.
type APIService struct {
	name       string
	baseURL    string
	httpClient *http.Client
	headers    http.Header
	retryMax   int
	retryDelay time.Duration
	maxLogBody int
	logger     *log.Logger
}

// APIOption configures an [APIService].
type APIOption func(*APIService)

// WithHeader adds a header to every request, typically the API key.
func WithHeader(key, value string) APIOption {
	return func(a *APIService) {
		if value != "" {
			a.headers.Set(key, value)
		}
	}
}

// WithRetry sets the attempt cap and initial backoff for retryable requests.
// The cap is clamped to [1, 5].
func WithRetry(attempts int, delay time.Duration) APIOption {
	return func(a *APIService) {
		a.retryMax = min(max(attempts, 1), maxRetryAttempts)
		a.retryDelay = max(delay, 0)
	}
}

// WithMaxLogBody bounds how much of each body is written to debug logs.
func WithMaxLogBody(n int) APIOption {
	return func(a *APIService) { a.maxLogBody = n }
}

// WithAPILogger sets the logger used for request tracing.
func WithAPILogger(l *log.Logger) APIOption {
	return func(a *APIService) { a.logger = l }
}

// NewAPIService creates a transport for baseURL. name labels logs and metrics.
func NewAPIService(name, baseURL string, client *http.Client, opts ...APIOption) *APIService {
	if client == nil {
		client = http.DefaultClient
	}

	a := &APIService{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
		headers:    make(http.Header),
		retryMax:   defaultRetryMax,
		retryDelay: defaultRetryDelay,
		maxLogBody: defaultMaxLogBody,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = log.New(io.Discard)
	}
	return a
}

// Do sends req and decodes a successful JSON body into result when result is non-nil.
//
// Non-2xx responses and network failures surface as [*shared.TransportError].
func (a *APIService) Do(ctx context.Context, req Request, result any) (*APIResponse, error) {
	var payload []byte
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to encode request body: %v", shared.ErrInvalidInput, err)
		}
		payload = data
	}

	attempts := 1
	if req.retryable() {
		attempts = a.retryMax
	}

	delay := a.retryDelay
	for attempt := 1; ; attempt++ {
		resp, err := a.send(ctx, req, payload)
		if err == nil {
			if err := a.decode(req, resp, result); err != nil {
				return resp, err
			}
			return resp, nil
		}

		if attempt >= attempts || !IsTransient(err) || ctx.Err() != nil {
			return resp, err
		}

		a.logger.Warn("retrying request", "client", a.name, "method", req.Method, "path", req.Path,
			"attempt", attempt, "of", attempts, "delay", delay, "err", err)
		metrics.HTTPRetries.WithLabelValues(a.name).Inc()

		select {
		case <-ctx.Done():
			return resp, err
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// Get is shorthand for a GET request.
func (a *APIService) Get(ctx context.Context, path string, query url.Values, result any) error {
	_, err := a.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query}, result)
	return err
}

// Post is shorthand for a single-shot POST request.
func (a *APIService) Post(ctx context.Context, path string, body, result any) error {
	_, err := a.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body}, result)
	return err
}

func (a *APIService) endpoint(req Request) string {
	u := a.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	return u
}

func (a *APIService) send(ctx context.Context, req Request, payload []byte) (*APIResponse, error) {
	fullURL := a.endpoint(req)

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range a.headers {
		httpReq.Header[k] = v
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	a.logger.Debug("request", "client", a.name, "method", req.Method, "url", fullURL,
		"body", shared.PreviewBody(payload, a.maxLogBody))

	start := time.Now()
	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		metrics.RecordHTTPRequest(a.name, req.Method, 0, time.Since(start))
		return nil, &shared.TransportError{Method: req.Method, URL: fullURL, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	metrics.RecordHTTPRequest(a.name, req.Method, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, &shared.TransportError{Method: req.Method, URL: fullURL, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	preview := shared.PreviewBody(data, a.maxLogBody)
	a.logger.Debug("response", "client", a.name, "status", resp.StatusCode, "url", fullURL, "body", preview)

	apiResp := &APIResponse{StatusCode: resp.StatusCode, Headers: resp.Header, Body: data}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiResp, &shared.TransportError{
			Method:      req.Method,
			URL:         fullURL,
			StatusCode:  resp.StatusCode,
			BodyPreview: preview,
		}
	}
	return apiResp, nil
}

func (a *APIService) decode(req Request, resp *APIResponse, result any) error {
	if result == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, result); err != nil {
		return fmt.Errorf("%w: failed to decode %s %s response: %v", shared.ErrAPIRequest, req.Method, req.Path, err)
	}
	return nil
}

// IsTransient reports whether err is a retryable transport failure.
func IsTransient(err error) bool {
	var te *shared.TransportError
	return errors.As(err, &te) && te.Transient()
}
