// Package auth provides the credential variants accepted by the Atlassian
// client: static or dynamic bearer tokens, basic email + API token, browser
// session cookies and OAuth 2.0 (3LO) refresh-token bearer auth.
//
// Every variant implements client.Authenticator.
package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strings"

	"github.com/Sternrassler/atlassian-client/pkg/client"
)

// Compile-time interface checks.
var (
	_ client.Authenticator = BearerAuth{}
	_ client.Authenticator = BasicAuth{}
	_ client.Authenticator = CookieAuth{}
	_ client.Authenticator = (*RefreshingBearerAuth)(nil)
)

// ErrMissingCredentials is returned when a variant lacks the values it needs.
var ErrMissingCredentials = errors.New("missing credentials")

// BearerAuth sends "Authorization: Bearer <token>". The token is fetched on
// every request; a leading "Bearer " is stripped.
type BearerAuth struct {
	TokenFunc func(ctx context.Context) (string, error)
}

// StaticBearer returns a BearerAuth for a fixed token.
func StaticBearer(token string) BearerAuth {
	return BearerAuth{TokenFunc: func(context.Context) (string, error) { return token, nil }}
}

// Apply implements client.Authenticator.
func (a BearerAuth) Apply(ctx context.Context, h http.Header) error {
	if a.TokenFunc == nil {
		return fmt.Errorf("%w: token func is required", ErrMissingCredentials)
	}
	token, err := a.TokenFunc(ctx)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}
	token = stripBearer(token)
	if token == "" {
		return fmt.Errorf("%w: empty bearer token", ErrMissingCredentials)
	}
	h.Set("Authorization", "Bearer "+token)
	return nil
}

// Cookies implements client.Authenticator.
func (BearerAuth) Cookies() map[string]string { return nil }

// BasicAuth authenticates with an Atlassian account email and API token.
type BasicAuth struct {
	Email    string
	APIToken string
}

// Apply implements client.Authenticator.
func (a BasicAuth) Apply(_ context.Context, h http.Header) error {
	email, token := strings.TrimSpace(a.Email), strings.TrimSpace(a.APIToken)
	if email == "" || token == "" {
		return fmt.Errorf("%w: email and API token are required for basic auth", ErrMissingCredentials)
	}
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(email+":"+token)))
	return nil
}

// Cookies implements client.Authenticator.
func (BasicAuth) Cookies() map[string]string { return nil }

// CookieAuth authenticates with browser session cookies, e.g. tenant.session.token.
type CookieAuth struct {
	Values map[string]string
}

// Apply implements client.Authenticator. Cookies are attached by the client.
func (a CookieAuth) Apply(_ context.Context, _ http.Header) error {
	if len(a.Values) == 0 {
		return fmt.Errorf("%w: cookies are required for cookie auth", ErrMissingCredentials)
	}
	return nil
}

// Cookies implements client.Authenticator.
func (a CookieAuth) Cookies() map[string]string {
	return maps.Clone(a.Values)
}

func stripBearer(token string) string {
	token = strings.TrimSpace(token)
	if len(token) >= len("bearer ") && strings.EqualFold(token[:len("bearer ")], "bearer ") {
		token = strings.TrimSpace(token[len("bearer "):])
	}
	return token
}
