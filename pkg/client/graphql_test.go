package client

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/Sternrassler/atlassian-client/internal/testutil"
)

func TestGraphQLURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{base: "https://api.atlassian.com", want: "https://api.atlassian.com/graphql"},
		{base: "https://api.atlassian.com/", want: "https://api.atlassian.com/graphql"},
		{base: "https://example.atlassian.net/gateway/api", want: "https://example.atlassian.net/gateway/api/graphql"},
		{base: "https://example.atlassian.net/gateway/api/graphql", want: "https://example.atlassian.net/gateway/api/graphql"},
	}

	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			c, err := New(Config{BaseURL: tt.base})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			got, err := c.GraphQLURL()
			if err != nil {
				t.Fatalf("GraphQLURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("GraphQLURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGraphQL_RequestShape(t *testing.T) {
	mock := testutil.NewMockAtlassian()
	defer mock.Close()
	mock.Enqueue(testutil.GraphQLRoute("Ping"), testutil.NewGraphQLResponse(`{"me":{"accountId":"abc"}}`))

	c, _ := newTestClient(t, mock, newTestClock(), func(cfg *Config) {
		cfg.ExperimentalAPIs = []string{"JiraProjectsBeta"}
	})

	_, err := c.GraphQL(context.Background(), GraphQLRequest{
		Query:            testQuery,
		OperationName:    "Ping",
		Variables:        map[string]any{"cloudId": "cloud-1"},
		ExperimentalAPIs: []string{"OpsgenieBeta", "  "},
	})
	if err != nil {
		t.Fatalf("GraphQL() error = %v", err)
	}

	req := mock.Requests()[0]
	if req.Path != "/graphql" || req.Method != "POST" {
		t.Errorf("request = %s %s", req.Method, req.Path)
	}
	if req.OperationName != "Ping" {
		t.Errorf("operationName = %q", req.OperationName)
	}
	if req.Variables["cloudId"] != "cloud-1" {
		t.Errorf("variables = %v", req.Variables)
	}
	betas := req.Header.Values("X-ExperimentalApi")
	if len(betas) != 2 || betas[0] != "JiraProjectsBeta" || betas[1] != "OpsgenieBeta" {
		t.Errorf("X-ExperimentalApi = %v", betas)
	}
}

func TestGraphQL_ErrorsLenientAndStrict(t *testing.T) {
	body := `{"data":{"me":null},"errors":[{"message":"Not permitted","path":["me"]}]}`

	t.Run("lenient", func(t *testing.T) {
		mock := testutil.NewMockAtlassian()
		defer mock.Close()
		mock.Enqueue("/graphql", testutil.NewJSONResponse(body))

		c, _ := newTestClient(t, mock, newTestClock(), nil)
		result, err := c.GraphQL(context.Background(), GraphQLRequest{Query: testQuery})
		if err != nil {
			t.Fatalf("GraphQL() error = %v", err)
		}
		if len(result.Errors) != 1 || result.Errors[0].Message != "Not permitted" {
			t.Errorf("Errors = %+v", result.Errors)
		}
		if !result.HasData() {
			t.Error("HasData() = false, want true")
		}
	})

	t.Run("strict", func(t *testing.T) {
		mock := testutil.NewMockAtlassian()
		defer mock.Close()
		mock.Enqueue("/graphql", testutil.NewJSONResponse(body))

		c, _ := newTestClient(t, mock, newTestClock(), func(cfg *Config) { cfg.Strict = true })
		_, err := c.GraphQL(context.Background(), GraphQLRequest{Query: testQuery, OperationName: "Ping"})

		var gqlErr *GraphQLOperationError
		if !errors.As(err, &gqlErr) {
			t.Fatalf("GraphQL() error = %v, want *GraphQLOperationError", err)
		}
		if string(gqlErr.Data) != `{"me":null}` {
			t.Errorf("Data = %s", gqlErr.Data)
		}
	})
}

func TestGraphQL_EmptyQuery(t *testing.T) {
	c, err := New(Config{BaseURL: "https://api.atlassian.com"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.GraphQL(context.Background(), GraphQLRequest{Query: "  "}); err == nil {
		t.Error("GraphQL() expected error for empty query")
	}
}

func TestGraphQL_NullData(t *testing.T) {
	mock := testutil.NewMockAtlassian()
	defer mock.Close()
	mock.Enqueue("/graphql", testutil.NewJSONResponse(`{"data":null}`))

	c, _ := newTestClient(t, mock, newTestClock(), nil)
	result, err := c.GraphQL(context.Background(), GraphQLRequest{Query: testQuery})
	if err != nil {
		t.Fatalf("GraphQL() error = %v", err)
	}
	if result.HasData() {
		t.Error("HasData() = true, want false")
	}
}

func TestGetJSON(t *testing.T) {
	mock := testutil.NewMockAtlassian()
	defer mock.Close()
	mock.Enqueue("/rest/api/3/project/search", testutil.NewJSONResponse(`{"values":[{"key":"ABC"}],"isLast":true}`))

	c, _ := newTestClient(t, mock, newTestClock(), nil)

	var out struct {
		Values []struct {
			Key string `json:"key"`
		} `json:"values"`
		IsLast bool `json:"isLast"`
	}
	params := url.Values{"startAt": {"0"}, "maxResults": {"50"}}
	if err := c.GetJSON(context.Background(), "rest/api/3/project/search", params, &out); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if len(out.Values) != 1 || out.Values[0].Key != "ABC" || !out.IsLast {
		t.Errorf("decoded = %+v", out)
	}
	if q := mock.Requests()[0].Query; q.Get("maxResults") != "50" || q.Get("startAt") != "0" {
		t.Errorf("query = %v", q)
	}
}

func TestGetJSON_NonObject(t *testing.T) {
	mock := testutil.NewMockAtlassian()
	defer mock.Close()
	mock.Enqueue("/rest/api/3/project", testutil.NewJSONResponse(`[{"key":"ABC"}]`))

	c, _ := newTestClient(t, mock, newTestClock(), nil)

	var out map[string]any
	err := c.GetJSON(context.Background(), "/rest/api/3/project", nil, &out)

	var serErr *SerializationError
	if !errors.As(err, &serErr) {
		t.Fatalf("GetJSON() error = %v, want *SerializationError", err)
	}
}

func TestRESTURL_RequiresBase(t *testing.T) {
	c, err := New(Config{BaseURL: "https://api.atlassian.com"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.RESTURL("/rest/api/3/myself"); err == nil {
		t.Error("RESTURL() expected error without REST base URL")
	}
}
