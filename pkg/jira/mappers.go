package jira

import (
	"strconv"
	"strings"

	"github.com/Sternrassler/atlassian-client/pkg/client"
)

// Wire shapes decoded from the GraphQL gateway and the REST API. Fields the
// mappers validate are pointers so a missing value can be told from an empty one.

type graphProjectNode struct {
	ID            *string               `json:"id,omitempty"`
	Key           string                `json:"key"`
	Name          string                `json:"name"`
	OpsgenieTeams *graphTeamsConnection `json:"opsgenieTeams"`
}

type graphTeamNode struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type restUser struct {
	AccountID    *string `json:"accountId"`
	DisplayName  *string `json:"displayName"`
	EmailAddress *string `json:"emailAddress"`
}

type restProject struct {
	Key            string  `json:"key"`
	Name           string  `json:"name"`
	ProjectTypeKey *string `json:"projectTypeKey"`
}

type restNamed struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

type restIssueFields struct {
	Project        *restNamed  `json:"project"`
	IssueType      *restNamed  `json:"issuetype"`
	Status         *restNamed  `json:"status"`
	Created        string      `json:"created"`
	Updated        string      `json:"updated"`
	ResolutionDate *string     `json:"resolutiondate"`
	Assignee       *restUser   `json:"assignee"`
	Reporter       *restUser   `json:"reporter"`
	Labels         []string    `json:"labels"`
	Components     []restNamed `json:"components"`
}

type restIssue struct {
	Key    *string          `json:"key"`
	Fields *restIssueFields `json:"fields"`
}

type restWorklog struct {
	ID               *string   `json:"id"`
	Author           *restUser `json:"author"`
	Started          *string   `json:"started"`
	TimeSpentSeconds *int      `json:"timeSpentSeconds"`
	Created          *string   `json:"created"`
	Updated          *string   `json:"updated"`
}

type restChangelogItem struct {
	Field      *string `json:"field"`
	From       *string `json:"from"`
	To         *string `json:"to"`
	FromString *string `json:"fromString"`
	ToString   *string `json:"toString"`
}

type restChangelog struct {
	ID      *string             `json:"id"`
	Author  *restUser           `json:"author"`
	Created *string             `json:"created"`
	Items   []restChangelogItem `json:"items"`
}

func invalid(format string, args ...any) error {
	return client.NewSerializationError("", format, args...)
}

// required returns the trimmed value or an error naming path.
func required(value *string, path string) (string, error) {
	if value == nil {
		return "", invalid("%s is required", path)
	}
	clean := strings.TrimSpace(*value)
	if clean == "" {
		return "", invalid("%s is required", path)
	}
	return clean, nil
}

// optional returns nil for a missing or blank value.
func optional(value *string) *string {
	if value == nil {
		return nil
	}
	clean := strings.TrimSpace(*value)
	if clean == "" {
		return nil
	}
	return &clean
}

func mapUser(u *restUser, path string) (*User, error) {
	if u == nil {
		return nil, nil
	}
	accountID, err := required(u.AccountID, path+".accountId")
	if err != nil {
		return nil, err
	}
	displayName, err := required(u.DisplayName, path+".displayName")
	if err != nil {
		return nil, err
	}
	return &User{AccountID: accountID, DisplayName: displayName, Email: optional(u.EmailAddress)}, nil
}

// mapProjectWithTeams builds the canonical record from a project node and
// every team collected for it. Teams are deduplicated by ID keeping the
// first occurrence.
func mapProjectWithTeams(cloudID string, node graphProjectNode, teams []graphTeamNode) (ProjectWithOpsgenieTeams, error) {
	key, err := required(&node.Key, "project.key")
	if err != nil {
		return ProjectWithOpsgenieTeams{}, err
	}
	name, err := required(&node.Name, "project.name")
	if err != nil {
		return ProjectWithOpsgenieTeams{}, err
	}

	seen := make(map[string]struct{}, len(teams))
	refs := make([]OpsgenieTeamRef, 0, len(teams))
	for i, t := range teams {
		id, err := required(&t.ID, "project["+key+"].opsgenieTeams["+strconv.Itoa(i)+"].id")
		if err != nil {
			return ProjectWithOpsgenieTeams{}, err
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		teamName, err := required(&t.Name, "project["+key+"].opsgenieTeams["+strconv.Itoa(i)+"].name")
		if err != nil {
			return ProjectWithOpsgenieTeams{}, err
		}
		refs = append(refs, OpsgenieTeamRef{ID: id, Name: teamName})
	}

	return ProjectWithOpsgenieTeams{
		Project:       Project{CloudID: cloudID, Key: key, Name: name},
		OpsgenieTeams: refs,
	}, nil
}

func mapProject(cloudID string, p restProject) (Project, error) {
	key, err := required(&p.Key, "project.key")
	if err != nil {
		return Project{}, err
	}
	name, err := required(&p.Name, "project.name")
	if err != nil {
		return Project{}, err
	}
	var projectType *string
	if t := optional(p.ProjectTypeKey); t != nil {
		normalized := normalizeProjectType(*t)
		projectType = &normalized
	}
	return Project{CloudID: cloudID, Key: key, Name: name, Type: projectType}, nil
}

func mapIssue(cloudID string, issue restIssue) (Issue, error) {
	key, err := required(issue.Key, "issue.key")
	if err != nil {
		return Issue{}, err
	}
	f := issue.Fields
	if f == nil {
		return Issue{}, invalid("issue[%s].fields is required", key)
	}
	path := "issue[" + key + "].fields"

	if f.Project == nil {
		return Issue{}, invalid("%s.project is required", path)
	}
	projectKey, err := required(&f.Project.Key, path+".project.key")
	if err != nil {
		return Issue{}, err
	}
	if f.IssueType == nil {
		return Issue{}, invalid("%s.issuetype is required", path)
	}
	issueType, err := required(&f.IssueType.Name, path+".issuetype.name")
	if err != nil {
		return Issue{}, err
	}
	if f.Status == nil {
		return Issue{}, invalid("%s.status is required", path)
	}
	status, err := required(&f.Status.Name, path+".status.name")
	if err != nil {
		return Issue{}, err
	}
	created, err := required(&f.Created, path+".created")
	if err != nil {
		return Issue{}, err
	}
	updated, err := required(&f.Updated, path+".updated")
	if err != nil {
		return Issue{}, err
	}

	labels := make([]string, 0, len(f.Labels))
	for i, l := range f.Labels {
		clean, err := required(&l, path+".labels["+strconv.Itoa(i)+"]")
		if err != nil {
			return Issue{}, err
		}
		labels = append(labels, clean)
	}
	components := make([]string, 0, len(f.Components))
	for i, c := range f.Components {
		name, err := required(&c.Name, path+".components["+strconv.Itoa(i)+"].name")
		if err != nil {
			return Issue{}, err
		}
		components = append(components, name)
	}

	assignee, err := mapUser(f.Assignee, path+".assignee")
	if err != nil {
		return Issue{}, err
	}
	reporter, err := mapUser(f.Reporter, path+".reporter")
	if err != nil {
		return Issue{}, err
	}

	return Issue{
		CloudID:    cloudID,
		Key:        key,
		ProjectKey: projectKey,
		IssueType:  issueType,
		Status:     status,
		CreatedAt:  created,
		UpdatedAt:  updated,
		ResolvedAt: optional(f.ResolutionDate),
		Assignee:   assignee,
		Reporter:   reporter,
		Labels:     labels,
		Components: components,
	}, nil
}

func mapWorklog(issueKey string, w restWorklog) (Worklog, error) {
	id, err := required(w.ID, "worklog.id")
	if err != nil {
		return Worklog{}, err
	}
	path := "worklog[" + id + "]"
	started, err := required(w.Started, path+".started")
	if err != nil {
		return Worklog{}, err
	}
	if w.TimeSpentSeconds == nil || *w.TimeSpentSeconds < 0 {
		return Worklog{}, invalid("%s.timeSpentSeconds is required and must be >= 0", path)
	}
	created, err := required(w.Created, path+".created")
	if err != nil {
		return Worklog{}, err
	}
	updated, err := required(w.Updated, path+".updated")
	if err != nil {
		return Worklog{}, err
	}
	author, err := mapUser(w.Author, path+".author")
	if err != nil {
		return Worklog{}, err
	}
	return Worklog{
		IssueKey:         issueKey,
		WorklogID:        id,
		Author:           author,
		StartedAt:        started,
		TimeSpentSeconds: *w.TimeSpentSeconds,
		CreatedAt:        created,
		UpdatedAt:        updated,
	}, nil
}

func mapChangelog(issueKey string, cl restChangelog) (ChangelogEvent, error) {
	id, err := required(cl.ID, "changelog.id")
	if err != nil {
		return ChangelogEvent{}, err
	}
	path := "changelog[" + id + "]"
	created, err := required(cl.Created, path+".created")
	if err != nil {
		return ChangelogEvent{}, err
	}
	if len(cl.Items) == 0 {
		return ChangelogEvent{}, invalid("%s.items is required", path)
	}
	items := make([]ChangelogItem, 0, len(cl.Items))
	for i, it := range cl.Items {
		field, err := required(it.Field, path+".items["+strconv.Itoa(i)+"].field")
		if err != nil {
			return ChangelogEvent{}, err
		}
		items = append(items, ChangelogItem{
			Field:      field,
			From:       optional(it.From),
			To:         optional(it.To),
			FromString: optional(it.FromString),
			ToString:   optional(it.ToString),
		})
	}
	author, err := mapUser(cl.Author, path+".author")
	if err != nil {
		return ChangelogEvent{}, err
	}
	return ChangelogEvent{
		IssueKey:  issueKey,
		EventID:   id,
		Author:    author,
		CreatedAt: created,
		Items:     items,
	}, nil
}
