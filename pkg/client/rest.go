package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// RESTURL joins path onto RESTBaseURL.
func (c *Client) RESTURL(path string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(c.config.RESTBaseURL), "/")
	if base == "" {
		return "", errors.New("REST base URL is not configured")
	}
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path, nil
}

// GetJSON GETs a REST resource and decodes the JSON object into out.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values, out any) error {
	return c.GetJSONAs(ctx, path, path, params, out)
}

// GetJSONAs is GetJSON with an explicit operation name, so paths carrying
// identifiers do not leak into metric labels.
func (c *Client) GetJSONAs(ctx context.Context, name, path string, params url.Values, out any) error {
	endpoint, err := c.RESTURL(path)
	if err != nil {
		return err
	}

	resp, err := c.Execute(ctx, Operation{
		Name:   name,
		Method: http.MethodGet,
		URL:    endpoint,
		Params: params,
	})
	if err != nil {
		return err
	}

	trimmed := strings.TrimSpace(string(resp.Body))
	if !strings.HasPrefix(trimmed, "{") {
		return NewSerializationError(name, "expected JSON object response")
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &SerializationError{Operation: name, Message: "decode response", Err: err}
	}
	return nil
}
