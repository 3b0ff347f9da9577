package jira

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/Sternrassler/atlassian-client/pkg/pagination"
)

// DefaultSearchFields are the issue fields requested by Issues.
var DefaultSearchFields = []string{
	"project",
	"issuetype",
	"status",
	"created",
	"updated",
	"resolutiondate",
	"assignee",
	"reporter",
	"labels",
	"components",
}

// offsetPage is a decoded REST page: its raw items and paging hints.
type offsetPage[R any] interface {
	page() (items []R, total *int, isLast *bool)
}

type projectSearchPage struct {
	Values []restProject `json:"values"`
	Total  *int          `json:"total"`
	IsLast *bool         `json:"isLast"`
}

func (p projectSearchPage) page() ([]restProject, *int, *bool) { return p.Values, p.Total, p.IsLast }

type issueSearchPage struct {
	Issues []restIssue `json:"issues"`
	Total  *int        `json:"total"`
}

func (p issueSearchPage) page() ([]restIssue, *int, *bool) { return p.Issues, p.Total, nil }

type worklogPage struct {
	Worklogs []restWorklog `json:"worklogs"`
	Total    *int          `json:"total"`
}

func (p worklogPage) page() ([]restWorklog, *int, *bool) { return p.Worklogs, p.Total, nil }

type changelogPage struct {
	Values []restChangelog `json:"values"`
	Total  *int            `json:"total"`
	IsLast *bool           `json:"isLast"`
}

func (p changelogPage) page() ([]restChangelog, *int, *bool) { return p.Values, p.Total, p.IsLast }

// restOffset walks an offset-paginated REST resource, mapping every raw
// item as its page arrives. A negative total is treated as absent.
func restOffset[R any, P offsetPage[R], T any](c *Client, operation, path string, params url.Values, pageSize int, mapItem func(R) (T, error)) *pagination.Iterator[int, T] {
	return pagination.NewOffset(pageSize, func(ctx context.Context, startAt, maxResults int) (pagination.OffsetResult[T], error) {
		q := url.Values{}
		for k, v := range params {
			q[k] = v
		}
		q.Set("startAt", strconv.Itoa(startAt))
		q.Set("maxResults", strconv.Itoa(maxResults))

		var page P
		if err := c.api.GetJSONAs(ctx, operation, path, q, &page); err != nil {
			return pagination.OffsetResult[T]{}, err
		}
		raw, total, isLast := page.page()
		if total != nil && *total < 0 {
			total = nil
		}

		items := make([]T, 0, len(raw))
		for _, r := range raw {
			item, err := mapItem(r)
			if err != nil {
				return pagination.OffsetResult[T]{}, setOperation(err, operation)
			}
			items = append(items, item)
		}
		return pagination.OffsetResult[T]{Items: items, Total: total, IsLast: isLast}, nil
	}, pagination.Options{Operation: operation, Logger: &c.logger})
}

// Projects lists projects via /rest/api/3/project/search, keeping those
// whose normalized type is one of q.ProjectTypes. Projects without a type
// are skipped.
func (c *Client) Projects(ctx context.Context, q ProjectsQuery) (pagination.Sequence[Project], error) {
	types, err := normalizeProjectTypes(q.ProjectTypes)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(types))
	for _, t := range types {
		wanted[t] = struct{}{}
	}

	it := restOffset[restProject, projectSearchPage](c, OpProjectSearch, "/rest/api/3/project/search", nil, q.PageSize,
		func(p restProject) (Project, error) { return mapProject(c.cloudID, p) })

	return pagination.Filter[Project](it, func(p Project) bool {
		if p.Type == nil {
			return false
		}
		_, ok := wanted[*p.Type]
		return ok
	}), nil
}

// ListProjects collects Projects.
func (c *Client) ListProjects(ctx context.Context, q ProjectsQuery) ([]Project, error) {
	seq, err := c.Projects(ctx, q)
	if err != nil {
		return nil, err
	}
	return pagination.Collect(ctx, seq)
}

// IssuesQuery is a JQL issue search.
type IssuesQuery struct {
	JQL      string
	PageSize int

	// Fields overrides DefaultSearchFields.
	Fields []string
}

// Issues searches issues via /rest/api/3/search.
func (c *Client) Issues(ctx context.Context, q IssuesQuery) (pagination.Sequence[Issue], error) {
	jql := strings.TrimSpace(q.JQL)
	if jql == "" {
		return nil, errors.New("jql is required")
	}
	fields := q.Fields
	if len(fields) == 0 {
		fields = DefaultSearchFields
	}
	params := url.Values{}
	params.Set("jql", jql)
	params.Set("fields", strings.Join(fields, ","))

	return restOffset[restIssue, issueSearchPage](c, OpIssueSearch, "/rest/api/3/search", params, q.PageSize,
		func(i restIssue) (Issue, error) { return mapIssue(c.cloudID, i) }), nil
}

// ListIssues collects Issues.
func (c *Client) ListIssues(ctx context.Context, q IssuesQuery) ([]Issue, error) {
	seq, err := c.Issues(ctx, q)
	if err != nil {
		return nil, err
	}
	return pagination.Collect(ctx, seq)
}

// IssueWorklogs lists the worklogs of one issue (default page size 100).
func (c *Client) IssueWorklogs(ctx context.Context, issueKey string, pageSize int) (pagination.Sequence[Worklog], error) {
	key := strings.TrimSpace(issueKey)
	if key == "" {
		return nil, errors.New("issue key is required")
	}
	if pageSize <= 0 {
		pageSize = DefaultIssuePageSize
	}
	path := "/rest/api/3/issue/" + url.PathEscape(key) + "/worklog"

	return restOffset[restWorklog, worklogPage](c, OpIssueWorklogs, path, nil, pageSize,
		func(w restWorklog) (Worklog, error) { return mapWorklog(key, w) }), nil
}

// ListIssueWorklogs collects IssueWorklogs.
func (c *Client) ListIssueWorklogs(ctx context.Context, issueKey string, pageSize int) ([]Worklog, error) {
	seq, err := c.IssueWorklogs(ctx, issueKey, pageSize)
	if err != nil {
		return nil, err
	}
	return pagination.Collect(ctx, seq)
}

// IssueChangelog lists the changelog of one issue (default page size 100).
func (c *Client) IssueChangelog(ctx context.Context, issueKey string, pageSize int) (pagination.Sequence[ChangelogEvent], error) {
	key := strings.TrimSpace(issueKey)
	if key == "" {
		return nil, errors.New("issue key is required")
	}
	if pageSize <= 0 {
		pageSize = DefaultIssuePageSize
	}
	path := "/rest/api/3/issue/" + url.PathEscape(key) + "/changelog"

	return restOffset[restChangelog, changelogPage](c, OpIssueChangelog, path, nil, pageSize,
		func(cl restChangelog) (ChangelogEvent, error) { return mapChangelog(key, cl) }), nil
}

// ListIssueChangelog collects IssueChangelog.
func (c *Client) ListIssueChangelog(ctx context.Context, issueKey string, pageSize int) ([]ChangelogEvent, error) {
	seq, err := c.IssueChangelog(ctx, issueKey, pageSize)
	if err != nil {
		return nil, err
	}
	return pagination.Collect(ctx, seq)
}
