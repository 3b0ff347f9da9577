package client

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// maxSnippetRunes bounds the response body excerpt carried by TransportError.
const maxSnippetRunes = 200

// TransportError is returned when the HTTP exchange failed (StatusCode 0) or
// the server answered with a status other than 2xx or 429. It is never retried.
type TransportError struct {
	Operation   string
	StatusCode  int
	BodySnippet string
	Err         error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: transport failure: %v", e.Operation, e.Err)
	}
	if e.BodySnippet != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Operation, e.StatusCode, e.BodySnippet)
	}
	return fmt.Sprintf("%s: HTTP %d", e.Operation, e.StatusCode)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// RateLimitError is returned when the server kept answering 429.
//
// WaitCapExceeded tells the two give-up reasons apart: true means the server
// asked for a wait longer than MaxWait; false means the retry budget was spent
// and MaxWait is left zero. A Retry-After value that could not be parsed
// leaves RetryAt zero and wraps ratelimit.ErrMalformedRetryAfter.
type RateLimitError struct {
	Operation       string
	Attempts        int
	HeaderValue     string
	RetryAt         time.Time
	Wait            time.Duration
	MaxWait         time.Duration
	WaitCapExceeded bool
	Err             error
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: rate limited after %d attempt(s): Retry-After %q: %v",
			e.Operation, e.Attempts, e.HeaderValue, e.Err)
	case e.WaitCapExceeded:
		return fmt.Sprintf("%s: rate limited after %d attempt(s): wait %.3fs exceeds max_wait %.3fs",
			e.Operation, e.Attempts, e.Wait.Seconds(), e.MaxWait.Seconds())
	default:
		return fmt.Sprintf("%s: rate limited after %d attempt(s): retries exhausted",
			e.Operation, e.Attempts)
	}
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// SerializationError is returned when a response body does not decode or its
// shape fails a structural expectation. Pagination loops surface as this error too.
type SerializationError struct {
	Operation string
	Message   string
	Err       error
}

// NewSerializationError creates a SerializationError with a formatted message.
func NewSerializationError(operation, format string, args ...any) *SerializationError {
	return &SerializationError{Operation: operation, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *SerializationError) Error() string {
	msg := e.Message
	if e.Operation != "" {
		msg = e.Operation + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *SerializationError) Unwrap() error {
	return e.Err
}

// GraphQLError is one entry of a GraphQL "errors" array.
type GraphQLError struct {
	Message    string          `json:"message"`
	Path       []any           `json:"path,omitempty"`
	Extensions json.RawMessage `json:"extensions,omitempty"`
}

// GraphQLOperationError is returned in strict mode when a GraphQL response
// carried errors. Data holds whatever partial data came back.
type GraphQLOperationError struct {
	Operation string
	Errors    []GraphQLError
	Data      json.RawMessage
}

// Error implements the error interface.
func (e *GraphQLOperationError) Error() string {
	messages := make([]string, 0, len(e.Errors))
	for _, gqlErr := range e.Errors {
		if gqlErr.Message != "" {
			messages = append(messages, gqlErr.Message)
		}
	}
	if len(messages) == 0 {
		return fmt.Sprintf("%s: GraphQL returned %d error(s)", e.Operation, len(e.Errors))
	}
	return fmt.Sprintf("%s: GraphQL errors: %s", e.Operation, strings.Join(messages, "; "))
}

// Snippet trims body to at most maxSnippetRunes runes, the excerpt carried by
// TransportError.BodySnippet.
func Snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	runes := []rune(s)
	if len(runes) <= maxSnippetRunes {
		return s
	}
	return string(runes[:maxSnippetRunes])
}
