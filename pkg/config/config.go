// Package config loads client settings from ATLASSIAN_* environment
// variables and an optional YAML file.
//
// Config is a plain struct; Load is one way to fill it. Library users may
// build it by hand and call NewClient.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/atlassian-client/pkg/auth"
	"github.com/Sternrassler/atlassian-client/pkg/client"
	"github.com/Sternrassler/atlassian-client/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment variable.
	EnvPrefix = "ATLASSIAN"

	// DefaultGatewayURL is the GraphQL gateway used with OAuth credentials.
	DefaultGatewayURL = "https://api.atlassian.com"

	// DefaultRedisBucket names the shared bucket key.
	DefaultRedisBucket = "atlassian-graphql"
)

// ErrNoCredentials is returned when no auth variant is configured.
var ErrNoCredentials = errors.New("no Atlassian credentials configured: set ATLASSIAN_OAUTH_ACCESS_TOKEN, " +
	"or ATLASSIAN_OAUTH_REFRESH_TOKEN + ATLASSIAN_CLIENT_ID + ATLASSIAN_CLIENT_SECRET, " +
	"or ATLASSIAN_EMAIL + ATLASSIAN_API_TOKEN, or ATLASSIAN_COOKIES_JSON")

// Config holds client settings.
type Config struct {
	GraphQLBaseURL string
	JiraBaseURL    string
	CloudID        string

	OAuthAccessToken  string
	OAuthRefreshToken string
	ClientID          string
	ClientSecret      string
	Email             string
	APIToken          string
	CookiesJSON       string

	UserAgent        string
	Timeout          time.Duration
	MaxRetries429    int
	MaxWait          time.Duration
	Strict           bool
	ExperimentalAPIs []string

	LocalThrottling  bool
	BucketCapacity   float64
	BucketRefillRate float64

	// RedisAddr enables a bucket shared through Redis under RedisBucket.
	RedisAddr   string
	RedisBucket string

	LogLevel  string
	LogPretty bool
}

// Options controls Load.
type Options struct {
	// ConfigFile is an optional YAML file. Environment variables override it.
	ConfigFile string
}

// keys maps config keys to their environment variables.
var keys = map[string][]string{
	"gql_base_url":          {"ATLASSIAN_GQL_BASE_URL"},
	"jira_base_url":         {"ATLASSIAN_JIRA_BASE_URL"},
	"cloud_id":              {"ATLASSIAN_CLOUD_ID", "ATLASSIAN_JIRA_CLOUD_ID"},
	"oauth_access_token":    {"ATLASSIAN_OAUTH_ACCESS_TOKEN"},
	"oauth_refresh_token":   {"ATLASSIAN_OAUTH_REFRESH_TOKEN"},
	"client_id":             {"ATLASSIAN_CLIENT_ID"},
	"client_secret":         {"ATLASSIAN_CLIENT_SECRET"},
	"email":                 {"ATLASSIAN_EMAIL"},
	"api_token":             {"ATLASSIAN_API_TOKEN"},
	"cookies_json":          {"ATLASSIAN_COOKIES_JSON"},
	"user_agent":            {"ATLASSIAN_USER_AGENT"},
	"timeout":               {"ATLASSIAN_TIMEOUT"},
	"max_retries_429":       {"ATLASSIAN_MAX_RETRIES_429"},
	"max_wait":              {"ATLASSIAN_MAX_WAIT"},
	"strict":                {"ATLASSIAN_STRICT"},
	"gql_experimental_apis": {"ATLASSIAN_GQL_EXPERIMENTAL_APIS"},
	"local_throttling":      {"ATLASSIAN_LOCAL_THROTTLING"},
	"bucket_capacity":       {"ATLASSIAN_BUCKET_CAPACITY"},
	"bucket_refill_rate":    {"ATLASSIAN_BUCKET_REFILL_RATE"},
	"redis_addr":            {"ATLASSIAN_REDIS_ADDR"},
	"redis_bucket":          {"ATLASSIAN_REDIS_BUCKET"},
	"log_level":             {"ATLASSIAN_LOG_LEVEL"},
	"log_pretty":            {"ATLASSIAN_LOG_PRETTY"},
}

// Load reads configuration from the environment and, if given, a YAML file.
func Load(opts Options) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)

	v.SetDefault("user_agent", client.DefaultUserAgent)
	v.SetDefault("timeout", client.DefaultTimeout)
	v.SetDefault("max_retries_429", client.DefaultMaxRetries429)
	v.SetDefault("max_wait", client.DefaultMaxWait)
	v.SetDefault("bucket_capacity", ratelimit.DefaultCapacity)
	v.SetDefault("bucket_refill_rate", ratelimit.DefaultRefillRate)
	v.SetDefault("redis_bucket", DefaultRedisBucket)
	v.SetDefault("log_level", "info")

	for key, envs := range keys {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		GraphQLBaseURL:    trimURL(v.GetString("gql_base_url")),
		JiraBaseURL:       trimURL(v.GetString("jira_base_url")),
		CloudID:           strings.TrimSpace(v.GetString("cloud_id")),
		OAuthAccessToken:  strings.TrimSpace(v.GetString("oauth_access_token")),
		OAuthRefreshToken: strings.TrimSpace(v.GetString("oauth_refresh_token")),
		ClientID:          strings.TrimSpace(v.GetString("client_id")),
		ClientSecret:      strings.TrimSpace(v.GetString("client_secret")),
		Email:             strings.TrimSpace(v.GetString("email")),
		APIToken:          strings.TrimSpace(v.GetString("api_token")),
		CookiesJSON:       strings.TrimSpace(v.GetString("cookies_json")),
		UserAgent:         v.GetString("user_agent"),
		Timeout:           v.GetDuration("timeout"),
		MaxRetries429:     v.GetInt("max_retries_429"),
		MaxWait:           v.GetDuration("max_wait"),
		Strict:            v.GetBool("strict"),
		ExperimentalAPIs:  splitList(v.Get("gql_experimental_apis")),
		LocalThrottling:   v.GetBool("local_throttling"),
		BucketCapacity:    v.GetFloat64("bucket_capacity"),
		BucketRefillRate:  v.GetFloat64("bucket_refill_rate"),
		RedisAddr:         strings.TrimSpace(v.GetString("redis_addr")),
		RedisBucket:       strings.TrimSpace(v.GetString("redis_bucket")),
		LogLevel:          v.GetString("log_level"),
		LogPretty:         v.GetBool("log_pretty"),
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %v", cfg.Timeout)
	}
	if cfg.MaxWait < 0 {
		return nil, fmt.Errorf("max_wait must not be negative, got %v", cfg.MaxWait)
	}
	return cfg, nil
}

// UsesOAuth reports whether OAuth credentials are configured.
func (c *Config) UsesOAuth() bool {
	return c.OAuthAccessToken != "" || c.OAuthRefreshToken != ""
}

// GraphQLURL returns the GraphQL base URL, defaulting to the public gateway
// when OAuth is in use.
func (c *Config) GraphQLURL() string {
	if c.GraphQLBaseURL != "" {
		return c.GraphQLBaseURL
	}
	if c.UsesOAuth() {
		return DefaultGatewayURL
	}
	return ""
}

// JiraRESTURL resolves the Jira REST base URL: an explicit value, then the
// OAuth API route for the cloud ID, then the site derived from the GraphQL
// base URL. It returns "" when none applies.
func (c *Config) JiraRESTURL() string {
	if c.JiraBaseURL != "" {
		return c.JiraBaseURL
	}
	if c.UsesOAuth() {
		if c.CloudID == "" {
			return ""
		}
		return DefaultGatewayURL + "/ex/jira/" + c.CloudID
	}
	return siteFromGraphQLURL(c.GraphQLBaseURL)
}

func siteFromGraphQLURL(base string) string {
	candidate := trimURL(base)
	for _, suffix := range []string{"/gateway/api/graphql", "/gateway/api", "/graphql"} {
		if strings.HasSuffix(candidate, suffix) {
			return strings.TrimRight(strings.TrimSuffix(candidate, suffix), "/")
		}
	}
	return ""
}

// Authenticator selects the auth variant. Precedence: refresh-token OAuth,
// static bearer token, basic email + API token, cookies. It returns
// ErrNoCredentials when nothing is configured.
func (c *Config) Authenticator() (client.Authenticator, error) {
	if c.OAuthRefreshToken != "" && c.ClientID != "" && c.ClientSecret != "" {
		return auth.NewRefreshingBearerAuth(c.ClientID, c.ClientSecret, c.OAuthRefreshToken), nil
	}
	if c.OAuthAccessToken != "" {
		if c.ClientSecret != "" && c.OAuthAccessToken == c.ClientSecret {
			return nil, errors.New("ATLASSIAN_OAUTH_ACCESS_TOKEN appears to be set to ATLASSIAN_CLIENT_SECRET; set an OAuth access token instead")
		}
		return auth.StaticBearer(c.OAuthAccessToken), nil
	}
	if c.Email != "" && c.APIToken != "" {
		return auth.BasicAuth{Email: c.Email, APIToken: c.APIToken}, nil
	}
	if c.CookiesJSON != "" {
		var cookies map[string]string
		if err := json.Unmarshal([]byte(c.CookiesJSON), &cookies); err != nil {
			return nil, fmt.Errorf("parse ATLASSIAN_COOKIES_JSON: %w", err)
		}
		if len(cookies) == 0 {
			return nil, ErrNoCredentials
		}
		return auth.CookieAuth{Values: cookies}, nil
	}
	return nil, ErrNoCredentials
}

// ClientConfig converts the settings into a client.Config without a bucket.
func (c *Config) ClientConfig(authenticator client.Authenticator) client.Config {
	return client.Config{
		BaseURL:               c.GraphQLURL(),
		RESTBaseURL:           c.JiraRESTURL(),
		UserAgent:             c.UserAgent,
		Timeout:               c.Timeout,
		MaxRetries429:         c.MaxRetries429,
		MaxWait:               c.MaxWait,
		EnableLocalThrottling: c.LocalThrottling,
		Strict:                c.Strict,
		ExperimentalAPIs:      c.ExperimentalAPIs,
		Auth:                  authenticator,
	}
}

// NewClient builds a client from the settings. With RedisAddr set and local
// throttling on, the token bucket state lives in Redis so every process
// using the same RedisBucket shares one quota. The returned close function
// releases the Redis connection.
func (c *Config) NewClient(ctx context.Context, logger zerolog.Logger) (*client.Client, func() error, error) {
	authenticator, err := c.Authenticator()
	if err != nil {
		return nil, nil, err
	}
	cc := c.ClientConfig(authenticator)
	cc.Logger = &logger
	closeFn := func() error { return nil }

	if c.LocalThrottling {
		bucketCfg := ratelimit.BucketConfig{
			Capacity:   c.BucketCapacity,
			RefillRate: c.BucketRefillRate,
		}
		if c.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
			if err := rdb.Ping(ctx).Err(); err != nil {
				rdb.Close()
				return nil, nil, fmt.Errorf("connect to redis at %s: %w", c.RedisAddr, err)
			}
			bucketCfg.Store = ratelimit.NewRedisStore(rdb, c.RedisBucket, logger.With().Str("component", "bucket-store").Logger())
			closeFn = rdb.Close
		}
		bucket, err := ratelimit.NewTokenBucket(bucketCfg)
		if err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("create token bucket: %w", err)
		}
		cc.Bucket = bucket
	}

	cl, err := client.New(cc)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return cl, closeFn, nil
}

func trimURL(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "/")
}

// splitList accepts a YAML list or a comma-separated string.
func splitList(raw any) []string {
	var parts []string
	switch v := raw.(type) {
	case string:
		parts = strings.Split(v, ",")
	case []string:
		parts = v
	case []any:
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
	}
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
