// Package jira fetches Jira projects, issues, worklogs and changelogs through
// the Atlassian GraphQL gateway and the Jira REST API.
//
// Every listing is a lazy pagination.Sequence: pages are requested one at a
// time as the caller advances, and abandoning a sequence early is fine. The
// List… variants collect a whole sequence into a slice.
package jira

import (
	"errors"
	"strings"

	"github.com/Sternrassler/atlassian-client/pkg/client"
	"github.com/Sternrassler/atlassian-client/pkg/logging"
	"github.com/rs/zerolog"
)

// Operation names used for diagnostics, errors and metric labels.
const (
	OpProjectsPage       = "JiraProjectsPage"
	OpOpsgenieTeamsPage  = "JiraProjectOpsgenieTeamsPage"
	OpProjectSearch      = "jira.project.search"
	OpIssueSearch        = "jira.issue.search"
	OpIssueWorklogs      = "jira.issue.worklogs"
	OpIssueChangelog     = "jira.issue.changelog"
	DefaultPageSize      = 50
	DefaultIssuePageSize = 100
)

// Client issues Jira requests for one Atlassian site (cloud ID).
type Client struct {
	api     *client.Client
	cloudID string
	logger  zerolog.Logger
}

// New creates a Jira client on top of a configured Atlassian client.
func New(api *client.Client, cloudID string) (*Client, error) {
	if api == nil {
		return nil, errors.New("atlassian client is required")
	}
	cloud := strings.TrimSpace(cloudID)
	if cloud == "" {
		return nil, errors.New("cloud ID is required")
	}
	return &Client{
		api:     api,
		cloudID: cloud,
		logger:  logging.NewLogger(logging.ComponentJira).With().Str("cloud_id", cloud).Logger(),
	}, nil
}

// WithLogger returns a copy of the client logging through logger.
func (c *Client) WithLogger(logger zerolog.Logger) *Client {
	cp := *c
	cp.logger = logger
	return &cp
}

// CloudID returns the site the client is bound to.
func (c *Client) CloudID() string {
	return c.cloudID
}

// ProjectsQuery selects projects by type.
type ProjectsQuery struct {
	// ProjectTypes are matched after normalization, e.g. "software" and
	// "SOFTWARE" are the same type. At least one is required.
	ProjectTypes []string

	// PageSize is the page size for both the project connection and the
	// nested Opsgenie team connections (default 50).
	PageSize int
}

// normalizeProjectType upper-cases a project type key and replaces dashes
// and spaces with underscores.
func normalizeProjectType(value string) string {
	clean := strings.TrimSpace(value)
	clean = strings.ReplaceAll(clean, "-", "_")
	clean = strings.ReplaceAll(clean, " ", "_")
	return strings.ToUpper(clean)
}

func normalizeProjectTypes(values []string) ([]string, error) {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, raw := range values {
		v := normalizeProjectType(raw)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, errors.New("project types must be non-empty")
	}
	return out, nil
}

// setOperation names the operation on a SerializationError that has none.
func setOperation(err error, operation string) error {
	var serErr *client.SerializationError
	if errors.As(err, &serErr) && serErr.Operation == "" {
		serErr.Operation = operation
	}
	return err
}
