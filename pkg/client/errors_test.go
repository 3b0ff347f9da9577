package client

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestTransportError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *TransportError
		expected string
	}{
		{
			name:     "transport failure",
			err:      &TransportError{Operation: "Ping", Err: errors.New("connection refused")},
			expected: "Ping: transport failure: connection refused",
		},
		{
			name:     "status with snippet",
			err:      &TransportError{Operation: "Ping", StatusCode: 500, BodySnippet: "boom"},
			expected: "Ping: HTTP 500: boom",
		},
		{
			name:     "status without body",
			err:      &TransportError{Operation: "Ping", StatusCode: 401},
			expected: "Ping: HTTP 401",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestTransportError_Unwrap(t *testing.T) {
	underlying := errors.New("dial tcp: timeout")
	err := &TransportError{Operation: "Ping", Err: underlying}

	if !errors.Is(err, underlying) {
		t.Error("errors.Is should find the wrapped error")
	}
	if (&TransportError{StatusCode: 500}).Unwrap() != nil {
		t.Error("Unwrap() should be nil without a wrapped error")
	}
}

func TestSerializationError(t *testing.T) {
	err := NewSerializationError("JiraProjectsPage", "pagination loop detected: cursor %q repeated", "c1")
	want := `JiraProjectsPage: pagination loop detected: cursor "c1" repeated`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	cause := &json.SyntaxError{}
	wrapped := &SerializationError{Message: "decode", Err: cause}
	var target *json.SyntaxError
	if !errors.As(wrapped, &target) {
		t.Error("errors.As should find the wrapped syntax error")
	}
	if !strings.HasPrefix(wrapped.Error(), "decode: ") {
		t.Errorf("Error() = %q", wrapped.Error())
	}
}

func TestGraphQLOperationError_Error(t *testing.T) {
	err := &GraphQLOperationError{
		Operation: "JiraProjectsPage",
		Errors: []GraphQLError{
			{Message: "Field 'x' is not enabled"},
			{Message: ""},
			{Message: "Not permitted"},
		},
	}
	want := "JiraProjectsPage: GraphQL errors: Field 'x' is not enabled; Not permitted"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	empty := &GraphQLOperationError{Operation: "Ping", Errors: []GraphQLError{{}}}
	if empty.Error() != "Ping: GraphQL returned 1 error(s)" {
		t.Errorf("Error() = %q", empty.Error())
	}
}

func TestSnippet(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "short", body: "  short body  ", want: len("short body")},
		{name: "exact", body: strings.Repeat("a", 200), want: 200},
		{name: "long", body: strings.Repeat("a", 1000), want: 200},
		{name: "multibyte", body: strings.Repeat("ü", 300), want: 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Snippet([]byte(tt.body))
			if n := len([]rune(got)); n != tt.want {
				t.Errorf("snippet length = %d runes, want %d", n, tt.want)
			}
		})
	}
}
