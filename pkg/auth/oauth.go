package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/atlassian-client/pkg/client"
	"github.com/Sternrassler/atlassian-client/pkg/logging"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Atlassian OAuth 2.0 (3LO) endpoints.
const (
	AuthorizeEndpoint           = "https://auth.atlassian.com/authorize"
	TokenEndpoint               = "https://auth.atlassian.com/oauth/token"
	AccessibleResourcesEndpoint = "https://api.atlassian.com/oauth/token/accessible-resources"
	DefaultAudience             = "api.atlassian.com"

	// DefaultRefreshMargin refreshes access tokens this long before they expire.
	DefaultRefreshMargin = 60 * time.Second

	defaultOAuthTimeout = 30 * time.Second
	maxTokenResponse    = 128 * 1024
)

// Token is an OAuth token response as Atlassian sends it.
type Token struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// AccessibleResource is a site the token grants access to.
type AccessibleResource struct {
	ID        string   `json:"id"`
	URL       string   `json:"url"`
	Name      string   `json:"name"`
	Scopes    []string `json:"scopes"`
	AvatarURL string   `json:"avatarUrl,omitempty"`
}

// OAuthOptions overrides endpoints and transport for the OAuth helpers.
type OAuthOptions struct {
	TokenURL               string
	AccessibleResourcesURL string
	HTTPClient             *http.Client
	Timeout                time.Duration
}

const opOAuthToken = "oauth_token"

func (o OAuthOptions) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = defaultOAuthTimeout
	}
	return &http.Client{Timeout: timeout}
}

// config returns the oauth2 configuration for Atlassian's endpoints.
func (o OAuthOptions) config(clientID, clientSecret, redirectURI string, scopes []string) *oauth2.Config {
	tokenURL := strings.TrimSpace(o.TokenURL)
	if tokenURL == "" {
		tokenURL = TokenEndpoint
	}
	return &oauth2.Config{
		ClientID:     strings.TrimSpace(clientID),
		ClientSecret: strings.TrimSpace(clientSecret),
		RedirectURL:  strings.TrimSpace(redirectURI),
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   AuthorizeEndpoint,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// tokenContext carries the HTTP client oauth2 uses for the token endpoint.
// The returned recorder keeps the transport failure, if any, so it can be
// told apart from a response that did not decode.
func (o OAuthOptions) tokenContext(ctx context.Context) (context.Context, *transportRecorder) {
	hc := *o.httpClient()
	rec := &transportRecorder{base: hc.Transport}
	if rec.base == nil {
		rec.base = http.DefaultTransport
	}
	hc.Transport = rec
	return context.WithValue(ctx, oauth2.HTTPClient, &hc), rec
}

type transportRecorder struct {
	base http.RoundTripper
	mu   sync.Mutex
	err  error
}

func (r *transportRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := r.base.RoundTrip(req)
	if err != nil {
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
	}
	return resp, err
}

func (r *transportRecorder) failure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// AuthorizeURL builds the consent URL a user visits to grant access.
func AuthorizeURL(clientID, redirectURI string, scopes []string, state string) (string, error) {
	if strings.TrimSpace(clientID) == "" {
		return "", errors.New("client ID is required")
	}
	if strings.TrimSpace(redirectURI) == "" {
		return "", errors.New("redirect URI is required")
	}
	var cleaned []string
	for _, s := range scopes {
		if v := strings.TrimSpace(s); v != "" {
			cleaned = append(cleaned, v)
		}
	}
	if len(cleaned) == 0 {
		return "", errors.New("scopes must be non-empty")
	}

	cfg := OAuthOptions{}.config(clientID, "", redirectURI, cleaned)
	return cfg.AuthCodeURL(strings.TrimSpace(state),
		oauth2.SetAuthURLParam("audience", DefaultAudience),
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

// ExchangeAuthorizationCode trades an authorization code for tokens.
func ExchangeAuthorizationCode(ctx context.Context, clientID, clientSecret, code, redirectURI string, opts OAuthOptions) (*Token, error) {
	if err := requireFields(map[string]string{
		"client_id":     clientID,
		"client_secret": clientSecret,
		"code":          code,
		"redirect_uri":  redirectURI,
	}); err != nil {
		return nil, err
	}

	cfg := opts.config(clientID, clientSecret, redirectURI, nil)
	tctx, rec := opts.tokenContext(ctx)
	tok, err := cfg.Exchange(tctx, strings.TrimSpace(code))
	if err != nil {
		return nil, tokenError(err, rec)
	}
	return tokenFromOAuth2(tok)
}

// RefreshAccessToken runs the refresh_token grant. Atlassian rotates refresh
// tokens; callers must persist Token.RefreshToken.
func RefreshAccessToken(ctx context.Context, clientID, clientSecret, refreshToken string, opts OAuthOptions) (*Token, error) {
	if err := requireFields(map[string]string{
		"client_id":     clientID,
		"client_secret": clientSecret,
		"refresh_token": refreshToken,
	}); err != nil {
		return nil, err
	}

	cfg := opts.config(clientID, clientSecret, "", nil)
	tctx, rec := opts.tokenContext(ctx)
	tok, err := cfg.TokenSource(tctx, &oauth2.Token{RefreshToken: strings.TrimSpace(refreshToken)}).Token()
	if err != nil {
		return nil, tokenError(err, rec)
	}
	return tokenFromOAuth2(tok)
}

func requireFields(fields map[string]string) error {
	var missing []string
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return fmt.Errorf("%s is required", strings.Join(missing, ", "))
}

// tokenError maps oauth2 failures onto the client error taxonomy.
func tokenError(err error, rec *transportRecorder) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return &client.TransportError{Operation: opOAuthToken, StatusCode: status, BodySnippet: client.Snippet(retrieveErr.Body)}
	}
	if tErr := rec.failure(); tErr != nil {
		return &client.TransportError{Operation: opOAuthToken, Err: tErr}
	}
	return &client.SerializationError{Operation: opOAuthToken, Message: "decode token response", Err: err}
}

func tokenFromOAuth2(t *oauth2.Token) (*Token, error) {
	tok := &Token{
		AccessToken:  strings.TrimSpace(t.AccessToken),
		TokenType:    strings.TrimSpace(t.TokenType),
		ExpiresIn:    expiresIn(t),
		RefreshToken: strings.TrimSpace(t.RefreshToken),
	}
	if scope, ok := t.Extra("scope").(string); ok {
		tok.Scope = scope
	}
	switch {
	case tok.AccessToken == "":
		return nil, client.NewSerializationError(opOAuthToken, "token response missing access_token")
	case tok.TokenType == "":
		return nil, client.NewSerializationError(opOAuthToken, "token response missing token_type")
	case tok.ExpiresIn == 0:
		return nil, client.NewSerializationError(opOAuthToken, "token response missing expires_in")
	}
	return tok, nil
}

// expiresIn reads the raw expires_in field; oauth2 turns it into an absolute
// expiry against the wall clock.
func expiresIn(t *oauth2.Token) int {
	switch v := t.Extra("expires_in").(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

// AccessibleResources lists the sites (cloud IDs) an access token can reach.
func AccessibleResources(ctx context.Context, accessToken string, opts OAuthOptions) ([]AccessibleResource, error) {
	token := stripBearer(accessToken)
	if token == "" {
		return nil, errors.New("access token is required")
	}
	endpoint := strings.TrimSpace(opts.AccessibleResourcesURL)
	if endpoint == "" {
		endpoint = AccessibleResourcesEndpoint
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build accessible-resources request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	hctx := context.WithValue(ctx, oauth2.HTTPClient, opts.httpClient())
	hc := oauth2.NewClient(hctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))

	resp, err := hc.Do(req)
	if err != nil {
		return nil, &client.TransportError{Operation: "accessible_resources", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		return nil, &client.TransportError{Operation: "accessible_resources", StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &client.TransportError{Operation: "accessible_resources", StatusCode: resp.StatusCode, BodySnippet: client.Snippet(body)}
	}

	var resources []AccessibleResource
	if err := json.Unmarshal(body, &resources); err != nil {
		return nil, &client.SerializationError{Operation: "accessible_resources", Message: "decode response", Err: err}
	}
	return resources, nil
}

// RefreshingBearerAuth keeps an OAuth access token fresh using a refresh
// token. It is safe for concurrent use: one refresh runs at a time and the
// cached token and expiry are updated together.
type RefreshingBearerAuth struct {
	ClientID      string
	ClientSecret  string
	RefreshMargin time.Duration
	Options       OAuthOptions
	Now           func() time.Time

	// OnRotate is called with the new refresh token whenever Atlassian rotates it.
	OnRotate func(refreshToken string)

	mu           sync.Mutex
	refreshToken string
	accessToken  string
	expiresAt    time.Time
	logger       zerolog.Logger
}

// NewRefreshingBearerAuth creates an authenticator from OAuth client credentials
// and a refresh token.
func NewRefreshingBearerAuth(clientID, clientSecret, refreshToken string) *RefreshingBearerAuth {
	return &RefreshingBearerAuth{
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		RefreshMargin: DefaultRefreshMargin,
		refreshToken:  strings.TrimSpace(refreshToken),
		logger:        logging.NewLogger(logging.ComponentOAuth),
	}
}

// Apply implements client.Authenticator.
func (a *RefreshingBearerAuth) Apply(ctx context.Context, h http.Header) error {
	token, err := a.AccessToken(ctx)
	if err != nil {
		return err
	}
	h.Set("Authorization", "Bearer "+token)
	return nil
}

// Cookies implements client.Authenticator.
func (a *RefreshingBearerAuth) Cookies() map[string]string { return nil }

// RefreshToken returns the current, possibly rotated, refresh token.
func (a *RefreshingBearerAuth) RefreshToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshToken
}

// AccessToken returns a valid access token, refreshing it when it is missing
// or within RefreshMargin of expiry.
func (a *RefreshingBearerAuth) AccessToken(ctx context.Context) (string, error) {
	if strings.TrimSpace(a.ClientID) == "" || strings.TrimSpace(a.ClientSecret) == "" {
		return "", fmt.Errorf("%w: OAuth client ID and secret are required", ErrMissingCredentials)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.refreshToken == "" {
		return "", fmt.Errorf("%w: refresh token is required", ErrMissingCredentials)
	}

	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	margin := a.RefreshMargin
	if margin <= 0 {
		margin = DefaultRefreshMargin
	}

	if a.accessToken != "" && !a.expiresAt.IsZero() && now().Before(a.expiresAt.Add(-margin)) {
		return a.accessToken, nil
	}

	tok, err := RefreshAccessToken(ctx, a.ClientID, a.ClientSecret, a.refreshToken, a.Options)
	if err != nil {
		return "", fmt.Errorf("refresh access token: %w", err)
	}

	expiresIn := tok.ExpiresIn
	if expiresIn < 0 {
		expiresIn = 0
	}
	a.accessToken = strings.TrimSpace(tok.AccessToken)
	a.expiresAt = now().Add(time.Duration(expiresIn) * time.Second)

	rotated := false
	if next := strings.TrimSpace(tok.RefreshToken); next != "" && next != a.refreshToken {
		a.refreshToken = next
		rotated = true
		if a.OnRotate != nil {
			a.OnRotate(next)
		}
	}

	a.logger.Debug().
		Time("expires_at", a.expiresAt).
		Bool("refresh_token_rotated", rotated).
		Msg("Access token refreshed")

	return a.accessToken, nil
}
