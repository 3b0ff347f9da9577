package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// GraphQLRequest is one GraphQL operation.
type GraphQLRequest struct {
	Query         string
	Variables     map[string]any
	OperationName string

	// ExperimentalAPIs are added to the client-wide opt-ins for this call.
	ExperimentalAPIs []string

	// Cost is the estimated points cost for local throttling (default 1).
	Cost float64
}

// GraphQLResult is a decoded GraphQL response envelope.
type GraphQLResult struct {
	Data       json.RawMessage `json:"data"`
	Errors     []GraphQLError  `json:"errors,omitempty"`
	Extensions map[string]any  `json:"extensions,omitempty"`
}

// HasData reports whether the response carried a non-null data object.
func (r *GraphQLResult) HasData() bool {
	trimmed := strings.TrimSpace(string(r.Data))
	return trimmed != "" && trimmed != "null"
}

type graphQLPayload struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

// GraphQLURL returns the GraphQL endpoint derived from BaseURL.
func (c *Client) GraphQLURL() (string, error) {
	base := strings.TrimRight(strings.TrimSpace(c.config.BaseURL), "/")
	if base == "" {
		return "", errors.New("GraphQL base URL is not configured")
	}
	if strings.HasSuffix(base, "/graphql") {
		return base, nil
	}
	return base + "/graphql", nil
}

// GraphQL POSTs a GraphQL operation and decodes the response envelope.
// In strict mode a non-empty error list fails with *GraphQLOperationError.
func (c *Client) GraphQL(ctx context.Context, req GraphQLRequest) (*GraphQLResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.New("query must be provided")
	}
	endpoint, err := c.GraphQLURL()
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	for _, list := range [][]string{c.config.ExperimentalAPIs, req.ExperimentalAPIs} {
		for _, api := range list {
			if api = strings.TrimSpace(api); api != "" {
				header.Add("X-ExperimentalApi", api)
			}
		}
	}

	name := req.OperationName
	if name == "" {
		name = "graphql"
	}

	resp, err := c.Execute(ctx, Operation{
		Name:   name,
		Method: http.MethodPost,
		URL:    endpoint,
		Body: graphQLPayload{
			Query:         req.Query,
			Variables:     req.Variables,
			OperationName: req.OperationName,
		},
		Header: header,
		Cost:   req.Cost,
	})
	if err != nil {
		return nil, err
	}

	var result GraphQLResult
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &result); err != nil {
			return nil, &SerializationError{Operation: name, Message: "decode GraphQL response", Err: err}
		}
	}

	if c.config.Strict && len(result.Errors) > 0 {
		return nil, &GraphQLOperationError{Operation: name, Errors: result.Errors, Data: result.Data}
	}
	return &result, nil
}
