package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Sternrassler/atlassian-client/pkg/client"
	"github.com/Sternrassler/atlassian-client/pkg/pagination"
)

type graphTeamsConnection = pagination.Connection[graphTeamNode]

// projectsPageQuery lists projects of the given types with the first page of
// their linkable Opsgenie teams. %s is replaced with the project type enums.
const projectsPageQuery = `query JiraProjectsPage($cloudId: ID!, $first: Int, $after: String, $opsFirst: Int) {
  jira {
    projects: allJiraProjects(cloudId: $cloudId, filter: { types: [%s] }, first: $first, after: $after) {
      pageInfo { hasNextPage endCursor }
      edges {
        cursor
        node {
          id
          key
          name
          opsgenieTeams: opsgenieTeamsAvailableToLinkWith(first: $opsFirst) {
            pageInfo { hasNextPage endCursor }
            edges {
              cursor
              node { id name }
            }
          }
        }
      }
    }
  }
}`

// opsgenieTeamsPageQuery refetches one project's Opsgenie teams after a cursor.
const opsgenieTeamsPageQuery = `query JiraProjectOpsgenieTeamsPage($cloudId: ID!, $projectKey: String!, $first: Int, $after: String) {
  jira {
    project: jiraProjectByKey(cloudId: $cloudId, key: $projectKey) {
      opsgenieTeams: opsgenieTeamsAvailableToLinkWith(first: $first, after: $after) {
        pageInfo { hasNextPage endCursor }
        edges {
          cursor
          node { id name }
        }
      }
    }
  }
}`

type projectsPageData struct {
	Jira *struct {
		Projects *pagination.Connection[graphProjectNode] `json:"projects"`
	} `json:"jira"`
}

type opsgenieTeamsPageData struct {
	Jira *struct {
		Project *struct {
			OpsgenieTeams *graphTeamsConnection `json:"opsgenieTeams"`
		} `json:"project"`
	} `json:"jira"`
}

// buildProjectsPageQuery inlines the project type enum values. Only
// identifier characters are accepted so the values cannot alter the query.
func buildProjectsPageQuery(types []string) (string, error) {
	for _, t := range types {
		for _, r := range t {
			if !(r == '_' || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
				return "", fmt.Errorf("invalid project type %q", t)
			}
		}
	}
	return fmt.Sprintf(projectsPageQuery, strings.Join(types, ", ")), nil
}

// ProjectsWithOpsgenieTeams lists projects of the requested types together
// with all Opsgenie teams they can be linked with.
//
// Projects are yielded in server order. When a project's embedded team
// connection has more pages, they are fetched with separate
// JiraProjectOpsgenieTeamsPage requests before that project is yielded.
// Requests are strictly sequential.
func (c *Client) ProjectsWithOpsgenieTeams(ctx context.Context, q ProjectsQuery) (pagination.Sequence[ProjectWithOpsgenieTeams], error) {
	types, err := normalizeProjectTypes(q.ProjectTypes)
	if err != nil {
		return nil, err
	}
	query, err := buildProjectsPageQuery(types)
	if err != nil {
		return nil, err
	}
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	projects := pagination.NewCursor("", func(ctx context.Context, after *string) (pagination.Connection[graphProjectNode], error) {
		result, err := c.api.GraphQL(ctx, client.GraphQLRequest{
			Query:         query,
			OperationName: OpProjectsPage,
			Variables: map[string]any{
				"cloudId":  c.cloudID,
				"first":    pageSize,
				"after":    after,
				"opsFirst": pageSize,
			},
		})
		if err != nil {
			return pagination.Connection[graphProjectNode]{}, err
		}

		var data projectsPageData
		if err := decodeData(result, OpProjectsPage, &data); err != nil {
			return pagination.Connection[graphProjectNode]{}, err
		}
		if data.Jira == nil || data.Jira.Projects == nil {
			return pagination.Connection[graphProjectNode]{}, missingData(result, OpProjectsPage, "data.jira.projects")
		}
		return *data.Jira.Projects, nil
	}, pagination.Options{Operation: OpProjectsPage, Logger: &c.logger})

	return pagination.Map[graphProjectNode, ProjectWithOpsgenieTeams](projects, func(ctx context.Context, node graphProjectNode) (ProjectWithOpsgenieTeams, error) {
		teams, err := c.allOpsgenieTeams(ctx, node, pageSize)
		if err != nil {
			return ProjectWithOpsgenieTeams{}, err
		}
		record, err := mapProjectWithTeams(c.cloudID, node, teams)
		return record, setOperation(err, OpProjectsPage)
	}), nil
}

// ListProjectsWithOpsgenieTeams collects ProjectsWithOpsgenieTeams.
func (c *Client) ListProjectsWithOpsgenieTeams(ctx context.Context, q ProjectsQuery) ([]ProjectWithOpsgenieTeams, error) {
	seq, err := c.ProjectsWithOpsgenieTeams(ctx, q)
	if err != nil {
		return nil, err
	}
	return pagination.Collect(ctx, seq)
}

// allOpsgenieTeams returns the embedded teams of a project plus every
// further page. The nested walk has its own seen-cursor set.
func (c *Client) allOpsgenieTeams(ctx context.Context, node graphProjectNode, pageSize int) ([]graphTeamNode, error) {
	if node.OpsgenieTeams == nil {
		return nil, nil
	}
	teams := node.OpsgenieTeams.Nodes()

	next, done, err := pagination.NextCursor(node.OpsgenieTeams.PageInfo, node.OpsgenieTeams.Cursors())
	if err != nil {
		return nil, setOperation(err, OpProjectsPage)
	}
	if done {
		return teams, nil
	}

	key := strings.TrimSpace(node.Key)
	if key == "" {
		return nil, client.NewSerializationError(OpOpsgenieTeamsPage, "project key is required for opsgenie team pagination")
	}

	c.logger.Debug().
		Str("project_key", key).
		Int("embedded_teams", len(teams)).
		Msg("Draining nested opsgenie team pages")

	more, err := pagination.Collect[graphTeamNode](ctx, pagination.NewCursor(next, func(ctx context.Context, after *string) (graphTeamsConnection, error) {
		result, err := c.api.GraphQL(ctx, client.GraphQLRequest{
			Query:         opsgenieTeamsPageQuery,
			OperationName: OpOpsgenieTeamsPage,
			Variables: map[string]any{
				"cloudId":    c.cloudID,
				"projectKey": key,
				"first":      pageSize,
				"after":      after,
			},
		})
		if err != nil {
			return graphTeamsConnection{}, err
		}

		var data opsgenieTeamsPageData
		if err := decodeData(result, OpOpsgenieTeamsPage, &data); err != nil {
			return graphTeamsConnection{}, err
		}
		if data.Jira == nil || data.Jira.Project == nil || data.Jira.Project.OpsgenieTeams == nil {
			return graphTeamsConnection{}, missingData(result, OpOpsgenieTeamsPage, "data.jira.project.opsgenieTeams")
		}
		return *data.Jira.Project.OpsgenieTeams, nil
	}, pagination.Options{Operation: OpOpsgenieTeamsPage, Logger: &c.logger}))
	if err != nil {
		return nil, err
	}
	return append(teams, more...), nil
}

// decodeData unmarshals the data root of a GraphQL result.
func decodeData(result *client.GraphQLResult, operation string, out any) error {
	if !result.HasData() {
		return missingData(result, operation, "data")
	}
	if err := json.Unmarshal(result.Data, out); err != nil {
		if len(result.Errors) > 0 {
			return &client.GraphQLOperationError{Operation: operation, Errors: result.Errors, Data: result.Data}
		}
		return &client.SerializationError{Operation: operation, Message: "decode data", Err: err}
	}
	return nil
}

// missingData reports an absent root. GraphQL errors in the same payload
// explain the absence better than a shape error.
func missingData(result *client.GraphQLResult, operation, path string) error {
	if len(result.Errors) > 0 {
		return &client.GraphQLOperationError{Operation: operation, Errors: result.Errors, Data: result.Data}
	}
	return client.NewSerializationError(operation, "missing %s in response", path)
}
