// Package testutil provides testing utilities for the Atlassian client.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"
)

// MockResponse defines one scripted response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is a request as the mock server saw it.
type RecordedRequest struct {
	Method        string
	Path          string
	Query         url.Values
	Header        http.Header
	Body          []byte
	OperationName string
	Variables     map[string]any
}

// MockAtlassian is a scripted mock of the Atlassian GraphQL gateway and Jira
// REST API. Responses are queued per route and served in order; a route is
// either a URL path or "graphql:<operationName>" for GraphQL POSTs.
type MockAtlassian struct {
	server   *httptest.Server
	mu       sync.Mutex
	queues   map[string][]MockResponse
	sticky   map[string]MockResponse
	handlers map[string]http.HandlerFunc
	requests []RecordedRequest
}

// NewMockAtlassian creates and starts a new mock server.
func NewMockAtlassian() *MockAtlassian {
	mock := &MockAtlassian{
		queues:   make(map[string][]MockResponse),
		sticky:   make(map[string]MockResponse),
		handlers: make(map[string]http.HandlerFunc),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.serveHTTP))
	return mock
}

// GraphQLRoute returns the route key for a GraphQL operation name.
func GraphQLRoute(operationName string) string {
	return "graphql:" + operationName
}

// URL returns the mock server URL.
func (m *MockAtlassian) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAtlassian) Close() {
	m.server.Close()
}

// Reset clears scripted responses and recorded requests.
func (m *MockAtlassian) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues = make(map[string][]MockResponse)
	m.sticky = make(map[string]MockResponse)
	m.handlers = make(map[string]http.HandlerFunc)
	m.requests = nil
}

// Enqueue appends responses to a route's queue.
func (m *MockAtlassian) Enqueue(route string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[route] = append(m.queues[route], responses...)
}

// SetResponse configures the response served once a route's queue is empty.
func (m *MockAtlassian) SetResponse(route string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sticky[route] = resp
}

// SetHandler sets a custom handler for a route. Handlers take precedence over queues.
func (m *MockAtlassian) SetHandler(route string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[route] = handler
}

// Requests returns a copy of all recorded requests.
func (m *MockAtlassian) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// RequestCount returns the number of requests made to the server.
func (m *MockAtlassian) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockAtlassian) serveHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))

	rec := RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   body,
	}
	if r.Method == http.MethodPost && len(body) > 0 {
		var payload struct {
			OperationName string         `json:"operationName"`
			Variables     map[string]any `json:"variables"`
		}
		if err := json.Unmarshal(body, &payload); err == nil {
			rec.OperationName = payload.OperationName
			rec.Variables = payload.Variables
		}
	}

	routes := []string{r.URL.Path}
	if rec.OperationName != "" {
		routes = []string{GraphQLRoute(rec.OperationName), r.URL.Path}
	}

	m.mu.Lock()
	m.requests = append(m.requests, rec)
	var (
		handler http.HandlerFunc
		resp    MockResponse
		found   bool
	)
	for _, route := range routes {
		if h, ok := m.handlers[route]; ok {
			handler, found = h, true
			break
		}
		if queue := m.queues[route]; len(queue) > 0 {
			resp, found = queue[0], true
			m.queues[route] = queue[1:]
			break
		}
		if s, ok := m.sticky[route]; ok {
			resp, found = s, true
			break
		}
	}
	m.mu.Unlock()

	if handler != nil {
		handler(w, r)
		return
	}
	if !found {
		resp = MockResponse{
			StatusCode: http.StatusNotFound,
			Body:       `{"errorMessages":["no scripted response"]}`,
		}
	}
	writeMockResponse(w, resp)
}

func writeMockResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	w.Header().Set("Content-Type", "application/json")
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewJSONResponse creates a 200 OK response with the given JSON body.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{StatusCode: http.StatusOK, Body: body}
}

// NewGraphQLResponse wraps data in a GraphQL envelope.
func NewGraphQLResponse(data string) MockResponse {
	return MockResponse{StatusCode: http.StatusOK, Body: `{"data":` + data + `}`}
}

// NewRateLimitResponse creates a 429 response with the given Retry-After value.
// An empty value omits the header.
func NewRateLimitResponse(retryAfter string) MockResponse {
	resp := MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"errors":[{"message":"rate limited"}],"extensions":{"requestId":"req-429"}}`,
		Headers:    map[string]string{},
	}
	if retryAfter != "" {
		resp.Headers["Retry-After"] = retryAfter
	}
	return resp
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"errorMessages":["Internal server error"]}`,
	}
}
