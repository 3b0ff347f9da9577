// Package client provides the Atlassian request executor: local throttling,
// retry on 429 driven by Retry-After, response validation and a typed error
// taxonomy. GraphQL and Jira REST helpers are layered on top of Execute.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/atlassian-client/pkg/logging"
	"github.com/Sternrassler/atlassian-client/pkg/ratelimit"
	"github.com/rs/zerolog"
)

// Defaults applied by New.
const (
	DefaultUserAgent     = "atlassian-client-go/0.1.0"
	DefaultTimeout       = 30 * time.Second
	DefaultMaxRetries429 = 2
	DefaultMaxWait       = 60 * time.Second
)

// Authenticator attaches credentials to outgoing requests.
// Apply mutates headers; Cookies returns additional cookie credentials (may be nil).
type Authenticator interface {
	Apply(ctx context.Context, header http.Header) error
	Cookies() map[string]string
}

// Doer issues HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client executes Atlassian API operations.
type Client struct {
	httpClient Doer
	bucket     *ratelimit.TokenBucket
	config     Config
	observer   Observer
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the GraphQL gateway, e.g. https://api.atlassian.com or
	// https://<site>.atlassian.net/gateway/api. "/graphql" is appended unless present.
	BaseURL string

	// RESTBaseURL is the Jira REST base, e.g. https://<site>.atlassian.net.
	RESTBaseURL string

	// UserAgent header (default DefaultUserAgent).
	UserAgent string

	// Timeout for the default HTTP client (default 30s). Ignored when HTTPClient is set.
	Timeout time.Duration

	// MaxRetries429 is the number of retries after a 429. Zero selects the
	// default; a negative value disables retries.
	MaxRetries429 int

	// MaxWait caps both a single Retry-After wait and a local throttle wait (default 60s).
	MaxWait time.Duration

	// EnableLocalThrottling routes every attempt through a token bucket.
	// Bucket is used when set, otherwise a default in-memory bucket is created.
	EnableLocalThrottling bool
	Bucket                *ratelimit.TokenBucket

	// Strict turns GraphQL error lists into GraphQLOperationError.
	Strict bool

	// ExperimentalAPIs are sent as X-ExperimentalApi headers on every GraphQL call.
	ExperimentalAPIs []string

	Auth       Authenticator
	HTTPClient Doer

	// Now and Sleep are injectable for deterministic tests.
	Now   func() time.Time
	Sleep ratelimit.Sleeper

	// Observer receives attempt and rate limit events. Defaults to logging plus metrics.
	Observer Observer
	Logger   *zerolog.Logger
}

// DefaultConfig returns a configuration with the documented defaults.
func DefaultConfig(baseURL string, auth Authenticator) Config {
	return Config{
		BaseURL:       baseURL,
		UserAgent:     DefaultUserAgent,
		Timeout:       DefaultTimeout,
		MaxRetries429: DefaultMaxRetries429,
		MaxWait:       DefaultMaxWait,
		Auth:          auth,
	}
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" && strings.TrimSpace(cfg.RESTBaseURL) == "" {
		return nil, errors.New("base URL is required")
	}
	if cfg.UserAgent = strings.TrimSpace(cfg.UserAgent); cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	switch {
	case cfg.MaxRetries429 == 0:
		cfg.MaxRetries429 = DefaultMaxRetries429
	case cfg.MaxRetries429 < 0:
		cfg.MaxRetries429 = 0
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = ratelimit.SleepContext
	}

	logger := logging.NewLogger(logging.ComponentClient)
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	bucket := cfg.Bucket
	if cfg.EnableLocalThrottling && bucket == nil {
		var err error
		bucket, err = ratelimit.NewTokenBucket(ratelimit.BucketConfig{
			Now:    cfg.Now,
			Sleep:  cfg.Sleep,
			Logger: &logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create token bucket: %w", err)
		}
	}
	if !cfg.EnableLocalThrottling {
		bucket = nil
	}

	observer := cfg.Observer
	if observer == nil {
		observer = MultiObserver{LogObserver{Logger: logger}, MetricsObserver{}}
	}

	return &Client{
		httpClient: httpClient,
		bucket:     bucket,
		config:     cfg,
		observer:   observer,
		logger:     logger,
	}, nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.config
}

// Operation is one logical request. It is not modified by Execute.
type Operation struct {
	// Name identifies the operation in diagnostics and metrics.
	Name string

	Method string
	URL    string
	Params url.Values

	// Body is JSON-encoded when non-nil.
	Body any

	// Header holds extra request headers.
	Header http.Header

	// Cost is the token bucket cost (default 1).
	Cost float64
}

// Response is the outcome of a successful operation.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// Execute runs op through the local throttle and the 429 retry loop.
//
// Transport failures and statuses other than 2xx and 429 fail immediately
// with *TransportError. A 429 is retried after the Retry-After delay while
// both the retry budget and MaxWait allow it, otherwise *RateLimitError is
// returned. A 2xx body that is not JSON fails with *SerializationError.
func (c *Client) Execute(ctx context.Context, op Operation) (*Response, error) {
	if op.Method == "" {
		op.Method = http.MethodGet
	}
	if op.Cost <= 0 {
		op.Cost = 1
	}
	name := operationLabel(op.Name, op.URL)

	target, err := url.Parse(op.URL)
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	if len(op.Params) > 0 {
		q := target.Query()
		for k, values := range op.Params {
			if strings.TrimSpace(k) == "" {
				continue
			}
			q.Del(k)
			for _, v := range values {
				q.Add(k, v)
			}
		}
		target.RawQuery = q.Encode()
	}

	var payload []byte
	if op.Body != nil {
		payload, err = json.Marshal(op.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	for attempt := 1; ; attempt++ {
		if err := c.throttle(ctx, name, op.Cost); err != nil {
			return nil, err
		}

		status, header, body, err := c.attempt(ctx, op, name, target, payload, attempt)
		if err != nil {
			return nil, err
		}

		switch {
		case status == http.StatusTooManyRequests:
			wait, err := c.rateLimited(name, header, body, attempt)
			if err != nil {
				return nil, err
			}
			if wait > 0 {
				if err := c.config.Sleep(ctx, wait); err != nil {
					return nil, err
				}
			}
			continue

		case status < http.StatusOK || status >= http.StatusMultipleChoices:
			return nil, &TransportError{Operation: name, StatusCode: status, BodySnippet: Snippet(body)}
		}

		if len(bytes.TrimSpace(body)) > 0 && !json.Valid(body) {
			return nil, NewSerializationError(name, "response body is not valid JSON (status %d)", status)
		}

		return &Response{StatusCode: status, Header: header, Body: body, Attempts: attempt}, nil
	}
}

// throttle applies the local token bucket, if any.
func (c *Client) throttle(ctx context.Context, name string, cost float64) error {
	if c.bucket == nil {
		return nil
	}
	waited, err := c.bucket.Consume(ctx, cost, c.config.MaxWait)
	c.observer.OnThrottle(ThrottleEvent{Operation: name, Cost: cost, Wait: waited, Err: err})
	return err
}

// attempt issues a single HTTP exchange and reads the whole body.
func (c *Client) attempt(ctx context.Context, op Operation, name string, target *url.URL, payload []byte, attempt int) (int, http.Header, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, op.Method, target.String(), reqBody)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("build request: %w", err)
	}

	for k, values := range op.Header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.config.Auth != nil {
		if err := c.config.Auth.Apply(ctx, req.Header); err != nil {
			return 0, nil, nil, fmt.Errorf("apply auth: %w", err)
		}
		for cookieName, value := range c.config.Auth.Cookies() {
			req.AddCookie(&http.Cookie{Name: cookieName, Value: value})
		}
	}

	event := AttemptEvent{
		Operation: name,
		Method:    op.Method,
		Path:      target.Path,
		Attempt:   attempt,
		Headers:   RedactHeaders(req.Header),
	}

	start := c.config.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		event.Duration = c.config.Now().Sub(start)
		event.Err = err
		c.observer.OnAttempt(event)
		return 0, nil, nil, &TransportError{Operation: name, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	event.Duration = c.config.Now().Sub(start)
	event.Status = resp.StatusCode
	event.RequestID = requestID(resp.Header, nil)
	if err != nil {
		event.Err = err
		c.observer.OnAttempt(event)
		return 0, nil, nil, &TransportError{Operation: name, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	c.observer.OnAttempt(event)

	return resp.StatusCode, resp.Header, body, nil
}

// rateLimited decides what to do after a 429. It returns the time to sleep
// before the next attempt, or the error that ends the operation.
func (c *Client) rateLimited(name string, header http.Header, body []byte, attempt int) (time.Duration, error) {
	raw := header.Get("Retry-After")
	event := RateLimitEvent{
		Operation:   name,
		Attempt:     attempt,
		HeaderValue: raw,
		MaxWait:     c.config.MaxWait,
		RequestID:   requestID(header, body),
	}

	now := c.config.Now()
	retryAt, variant, err := ratelimit.ParseRetryAfter(raw, now)
	if err != nil {
		c.logger.Debug().Str("retry_after", raw).Str("operation", name).Msg("Retry-After parsing failed")
		event.Decision = DecisionMalformed
		c.observer.OnRateLimit(event)
		return 0, &RateLimitError{Operation: name, Attempts: attempt, HeaderValue: raw, Err: err}
	}
	c.logger.Debug().
		Str("retry_after", raw).
		Str("variant", string(variant)).
		Time("retry_at", retryAt).
		Str("operation", name).
		Msg("Parsed Retry-After header")

	computed := retryAt.Sub(now)
	wait := computed
	if wait < 0 {
		wait = 0
	}
	event.Variant = variant
	event.RetryAt = retryAt
	event.ComputedWait = computed
	event.Wait = wait

	rlErr := &RateLimitError{
		Operation:   name,
		Attempts:    attempt,
		HeaderValue: raw,
		RetryAt:     retryAt,
		Wait:        computed,
	}

	switch {
	case computed > c.config.MaxWait:
		event.Decision = DecisionWaitCap
		c.observer.OnRateLimit(event)
		rlErr.MaxWait = c.config.MaxWait
		rlErr.WaitCapExceeded = true
		return 0, rlErr

	case attempt-1 >= c.config.MaxRetries429:
		event.Decision = DecisionRetriesExhausted
		c.observer.OnRateLimit(event)
		return 0, rlErr
	}

	event.Decision = DecisionRetry
	event.Retrying = true
	c.observer.OnRateLimit(event)
	return wait, nil
}

// requestID extracts a request identifier from the response headers or a
// GraphQL extensions block.
func requestID(header http.Header, body []byte) string {
	for _, name := range []string{"Atl-Traceid", "X-Request-Id"} {
		if v := header.Get(name); v != "" {
			return v
		}
	}
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Extensions map[string]any `json:"extensions"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, key := range []string{"requestId", "request_id", "requestid"} {
		if s, ok := payload.Extensions[key].(string); ok {
			return s
		}
	}
	return ""
}
