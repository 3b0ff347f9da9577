package jira

// User is a Jira account reference.
type User struct {
	AccountID   string  `json:"accountId"`
	DisplayName string  `json:"displayName"`
	Email       *string `json:"email,omitempty"`
}

// Project is a Jira project.
type Project struct {
	CloudID string  `json:"cloudId"`
	Key     string  `json:"key"`
	Name    string  `json:"name"`
	Type    *string `json:"type,omitempty"`
}

// OpsgenieTeamRef is an Opsgenie team a project can be linked with.
type OpsgenieTeamRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ProjectWithOpsgenieTeams is a project together with every linkable
// Opsgenie team, across all nested pages.
type ProjectWithOpsgenieTeams struct {
	Project       Project           `json:"project"`
	OpsgenieTeams []OpsgenieTeamRef `json:"opsgenieTeams"`
}

// Issue is a Jira issue with the default search fields.
type Issue struct {
	CloudID    string   `json:"cloudId"`
	Key        string   `json:"key"`
	ProjectKey string   `json:"projectKey"`
	IssueType  string   `json:"issueType"`
	Status     string   `json:"status"`
	CreatedAt  string   `json:"createdAt"`
	UpdatedAt  string   `json:"updatedAt"`
	ResolvedAt *string  `json:"resolvedAt,omitempty"`
	Assignee   *User    `json:"assignee,omitempty"`
	Reporter   *User    `json:"reporter,omitempty"`
	Labels     []string `json:"labels"`
	Components []string `json:"components"`
}

// Worklog is one time-tracking entry on an issue.
type Worklog struct {
	IssueKey         string `json:"issueKey"`
	WorklogID        string `json:"worklogId"`
	Author           *User  `json:"author,omitempty"`
	StartedAt        string `json:"startedAt"`
	TimeSpentSeconds int    `json:"timeSpentSeconds"`
	CreatedAt        string `json:"createdAt"`
	UpdatedAt        string `json:"updatedAt"`
}

// ChangelogItem is a single field change.
type ChangelogItem struct {
	Field      string  `json:"field"`
	From       *string `json:"from,omitempty"`
	To         *string `json:"to,omitempty"`
	FromString *string `json:"fromString,omitempty"`
	ToString   *string `json:"toString,omitempty"`
}

// ChangelogEvent groups the field changes made by one edit.
type ChangelogEvent struct {
	IssueKey  string          `json:"issueKey"`
	EventID   string          `json:"eventId"`
	Author    *User           `json:"author,omitempty"`
	CreatedAt string          `json:"createdAt"`
	Items     []ChangelogItem `json:"items"`
}
