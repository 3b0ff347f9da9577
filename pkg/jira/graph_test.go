package jira

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/atlassian-client/internal/testutil"
	"github.com/Sternrassler/atlassian-client/pkg/client"
	"github.com/Sternrassler/atlassian-client/pkg/pagination"
	"github.com/rs/zerolog"
)

func newTestJira(t *testing.T, mock *testutil.MockAtlassian) *Client {
	t.Helper()
	logger := zerolog.Nop()
	api, err := client.New(client.Config{
		BaseURL:     mock.URL(),
		RESTBaseURL: mock.URL(),
		Sleep:       func(context.Context, time.Duration) error { return nil },
		Logger:      &logger,
	})
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	c, err := New(api, "cloud-1")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c.WithLogger(logger)
}

// projectsPage renders a JiraProjectsPage data payload.
func projectsPage(hasNext bool, endCursor string, nodes ...string) string {
	return `{"jira":{"projects":{"pageInfo":{"hasNextPage":` + boolJSON(hasNext) + `,"endCursor":` + cursorJSON(endCursor) + `},"edges":[` +
		strings.Join(nodes, ",") + `]}}}`
}

// projectEdge renders one project edge with its embedded team connection.
func projectEdge(key string, teamsHasNext bool, teamsEnd string, teams ...string) string {
	return `{"cursor":"edge-` + key + `","node":{"id":"id-` + key + `","key":"` + key + `","name":"Project ` + key + `",` +
		`"opsgenieTeams":` + teamsConnection(teamsHasNext, teamsEnd, teams...) + `}}`
}

func teamsConnection(hasNext bool, endCursor string, teams ...string) string {
	edges := make([]string, 0, len(teams))
	for _, id := range teams {
		edges = append(edges, `{"cursor":"c-`+id+`","node":{"id":"`+id+`","name":"Team `+id+`"}}`)
	}
	return `{"pageInfo":{"hasNextPage":` + boolJSON(hasNext) + `,"endCursor":` + cursorJSON(endCursor) + `},"edges":[` +
		strings.Join(edges, ",") + `]}`
}

func teamsPage(hasNext bool, endCursor string, teams ...string) string {
	return `{"jira":{"project":{"opsgenieTeams":` + teamsConnection(hasNext, endCursor, teams...) + `}}}`
}

func boolJSON(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func cursorJSON(c string) string {
	if c == "" {
		return "null"
	}
	return `"` + c + `"`
}

func teamIDs(teams []OpsgenieTeamRef) []string {
	ids := make([]string, 0, len(teams))
	for _, t := range teams {
		ids = append(ids, t.ID)
	}
	return ids
}

func TestProjectsWithOpsgenieTeams_DrainsNestedTeams(t *testing.T) {
	mock := testutil.NewMockAtlassian()
	defer mock.Close()

	mock.Enqueue(testutil.GraphQLRoute(OpProjectsPage),
		testutil.NewGraphQLResponse(projectsPage(true, "p1",
			projectEdge("A", true, "ta1", "t1"),
			projectEdge("B", false, ""),
		)),
		testutil.NewGraphQLResponse(projectsPage(false, "",
			projectEdge("C", false, ""),
		)),
	)
	mock.Enqueue(testutil.GraphQLRoute(OpOpsgenieTeamsPage),
		testutil.NewGraphQLResponse(teamsPage(true, "ta2", "t2")),
		testutil.NewGraphQLResponse(teamsPage(false, "", "t3", "t1")),
	)

	c := newTestJira(t, mock)
	got, err := c.ListProjectsWithOpsgenieTeams(context.Background(), ProjectsQuery{ProjectTypes: []string{"software"}, PageSize: 2})
	if err != nil {
		t.Fatalf("ListProjectsWithOpsgenieTeams() error = %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("got %d projects, want 3", len(got))
	}
	want := []struct {
		key   string
		teams string
	}{
		{"A", "t1,t2,t3"},
		{"B", ""},
		{"C", ""},
	}
	for i, w := range want {
		if got[i].Project.Key != w.key {
			t.Errorf("project[%d] = %s, want %s", i, got[i].Project.Key, w.key)
		}
		if ids := strings.Join(teamIDs(got[i].OpsgenieTeams), ","); ids != w.teams {
			t.Errorf("project %s teams = %q, want %q", w.key, ids, w.teams)
		}
		if got[i].Project.CloudID != "cloud-1" {
			t.Errorf("project %s cloudId = %q", w.key, got[i].Project.CloudID)
		}
	}

	requests := mock.Requests()
	var ops []string
	for _, r := range requests {
		ops = append(ops, r.OperationName)
	}
	wantOps := []string{OpProjectsPage, OpOpsgenieTeamsPage, OpOpsgenieTeamsPage, OpProjectsPage}
	if strings.Join(ops, ",") != strings.Join(wantOps, ",") {
		t.Fatalf("request order = %v, want %v", ops, wantOps)
	}

	if v := requests[0].Variables; v["after"] != nil || v["cloudId"] != "cloud-1" || v["first"] != float64(2) || v["opsFirst"] != float64(2) {
		t.Errorf("first projects page variables = %v", v)
	}
	if v := requests[1].Variables; v["after"] != "ta1" || v["projectKey"] != "A" || v["cloudId"] != "cloud-1" {
		t.Errorf("first teams page variables = %v", v)
	}
	if v := requests[2].Variables; v["after"] != "ta2" {
		t.Errorf("second teams page after = %v, want ta2", v["after"])
	}
	if v := requests[3].Variables; v["after"] != "p1" {
		t.Errorf("second projects page after = %v, want p1", v["after"])
	}
}

func TestProjectsWithOpsgenieTeams_Lazy(t *testing.T) {
	mock := testutil.NewMockAtlassian()
	defer mock.Close()

	mock.Enqueue(testutil.GraphQLRoute(OpProjectsPage),
		testutil.NewGraphQLResponse(projectsPage(true, "p1",
			projectEdge("A", true, "ta1", "t1"),
			projectEdge("B", true, "tb1", "t9"),
		)),
	)
	mock.Enqueue(testutil.GraphQLRoute(OpOpsgenieTeamsPage),
		testutil.NewGraphQLResponse(teamsPage(false, "", "t2")),
	)

	c := newTestJira(t, mock)
	seq, err := c.ProjectsWithOpsgenieTeams(context.Background(), ProjectsQuery{ProjectTypes: []string{"SOFTWARE"}})
	if err != nil {
		t.Fatalf("ProjectsWithOpsgenieTeams() error = %v", err)
	}
	if mock.RequestCount() != 0 {
		t.Fatalf("requests before first Next = %d, want 0", mock.RequestCount())
	}

	if !seq.Next(context.Background()) {
		t.Fatalf("Next() = false, err = %v", seq.Err())
	}
	if seq.Item().Project.Key != "A" {
		t.Errorf("first project = %s, want A", seq.Item().Project.Key)
	}
	// Project B's nested teams and the next projects page are not requested yet.
	if mock.RequestCount() != 2 {
		t.Errorf("requests after first project = %d, want 2", mock.RequestCount())
	}
}

func TestProjectsWithOpsgenieTeams_RepeatedProjectCursor(t *testing.T) {
	mock := testutil.NewMockAtlassian()
	defer mock.Close()

	mock.SetResponse(testutil.GraphQLRoute(OpProjectsPage),
		testutil.NewGraphQLResponse(projectsPage(true, "p1", projectEdge("A", false, ""))))

	c := newTestJira(t, mock)
	got, err := c.ListProjectsWithOpsgenieTeams(context.Background(), ProjectsQuery{ProjectTypes: []string{"software"}})

	var serErr *client.SerializationError
	if !errors.As(err, &serErr) {
		t.Fatalf("error = %v, want *client.SerializationError", err)
	}
	if serErr.Operation != OpProjectsPage {
		t.Errorf("Operation = %q, want %q", serErr.Operation, OpProjectsPage)
	}
	if got != nil {
		t.Errorf("got = %v, want nil on error", got)
	}
	if mock.RequestCount() != 2 {
		t.Errorf("requests = %d, want 2 (no request after the repeat)", mock.RequestCount())
	}
}

func TestProjectsWithOpsgenieTeams_RepeatedTeamCursor(t *testing.T) {
	mock := testutil.NewMockAtlassian()
	defer mock.Close()

	mock.Enqueue(testutil.GraphQLRoute(OpProjectsPage),
		testutil.NewGraphQLResponse(projectsPage(false, "", projectEdge("A", true, "ta1", "t1"))))
	// The refetch points back at the cursor embedded in the projects page.
	mock.SetResponse(testutil.GraphQLRoute(OpOpsgenieTeamsPage),
		testutil.NewGraphQLResponse(teamsPage(true, "ta1", "t2")))

	c := newTestJira(t, mock)
	_, err := c.ListProjectsWithOpsgenieTeams(context.Background(), ProjectsQuery{ProjectTypes: []string{"software"}})

	var serErr *client.SerializationError
	if !errors.As(err, &serErr) {
		t.Fatalf("error = %v, want *client.SerializationError", err)
	}
	if serErr.Operation != OpOpsgenieTeamsPage {
		t.Errorf("Operation = %q, want %q", serErr.Operation, OpOpsgenieTeamsPage)
	}
	if mock.RequestCount() != 2 {
		t.Errorf("requests = %d, want 2", mock.RequestCount())
	}
}

func TestProjectsWithOpsgenieTeams_MissingCursor(t *testing.T) {
	mock := testutil.NewMockAtlassian()
	defer mock.Close()

	mock.Enqueue(testutil.GraphQLRoute(OpProjectsPage),
		testutil.NewGraphQLResponse(`{"jira":{"projects":{"pageInfo":{"hasNextPage":true},"edges":[{"node":{"key":"A","name":"A"}}]}}}`))

	c := newTestJira(t, mock)
	_, err := c.ListProjectsWithOpsgenieTeams(context.Background(), ProjectsQuery{ProjectTypes: []string{"software"}})

	var serErr *client.SerializationError
	if !errors.As(err, &serErr) {
		t.Fatalf("error = %v, want *client.SerializationError", err)
	}
}

func TestProjectsWithOpsgenieTeams_MissingData(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantGraph bool
	}{
		{name: "null data with errors", body: `{"data":null,"errors":[{"message":"not permitted"}]}`, wantGraph: true},
		{name: "null data", body: `{"data":null}`},
		{name: "missing projects root", body: `{"data":{"jira":{}}}`},
		{name: "missing root with errors", body: `{"data":{"jira":null},"errors":[{"message":"partial"}]}`, wantGraph: true},
		{name: "wrong shape", body: `{"data":{"jira":{"projects":[]}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockAtlassian()
			defer mock.Close()
			mock.Enqueue(testutil.GraphQLRoute(OpProjectsPage), testutil.NewJSONResponse(tt.body))

			c := newTestJira(t, mock)
			_, err := c.ListProjectsWithOpsgenieTeams(context.Background(), ProjectsQuery{ProjectTypes: []string{"software"}})

			var gqlErr *client.GraphQLOperationError
			var serErr *client.SerializationError
			switch {
			case tt.wantGraph && !errors.As(err, &gqlErr):
				t.Errorf("error = %v, want *client.GraphQLOperationError", err)
			case !tt.wantGraph && !errors.As(err, &serErr):
				t.Errorf("error = %v, want *client.SerializationError", err)
			}
		})
	}
}

func TestProjectsWithOpsgenieTeams_QueryAndValidation(t *testing.T) {
	mock := testutil.NewMockAtlassian()
	defer mock.Close()
	c := newTestJira(t, mock)

	if _, err := c.ProjectsWithOpsgenieTeams(context.Background(), ProjectsQuery{ProjectTypes: []string{" ", ""}}); err == nil {
		t.Error("expected error for empty project types")
	}
	if _, err := c.ProjectsWithOpsgenieTeams(context.Background(), ProjectsQuery{ProjectTypes: []string{"soft]ware"}}); err == nil {
		t.Error("expected error for project type outside the enum alphabet")
	}

	mock.Enqueue(testutil.GraphQLRoute(OpProjectsPage), testutil.NewGraphQLResponse(projectsPage(false, "")))
	got, err := c.ListProjectsWithOpsgenieTeams(context.Background(), ProjectsQuery{ProjectTypes: []string{"software", "service-desk", "Software"}})
	if err != nil {
		t.Fatalf("ListProjectsWithOpsgenieTeams() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d projects, want 0", len(got))
	}

	var payload struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(mock.Requests()[0].Body, &payload); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
	if !strings.Contains(payload.Query, "types: [SOFTWARE, SERVICE_DESK]") {
		t.Errorf("query does not carry normalized types:\n%s", payload.Query)
	}
}

func TestProjectsWithOpsgenieTeams_InvalidTeam(t *testing.T) {
	mock := testutil.NewMockAtlassian()
	defer mock.Close()

	mock.Enqueue(testutil.GraphQLRoute(OpProjectsPage),
		testutil.NewGraphQLResponse(`{"jira":{"projects":{"pageInfo":{"hasNextPage":false},"edges":[`+
			`{"node":{"key":"A","name":"A","opsgenieTeams":{"pageInfo":{"hasNextPage":false},"edges":[{"node":{"id":"t1","name":" "}}]}}}]}}}`))

	c := newTestJira(t, mock)
	seq, err := c.ProjectsWithOpsgenieTeams(context.Background(), ProjectsQuery{ProjectTypes: []string{"software"}})
	if err != nil {
		t.Fatalf("ProjectsWithOpsgenieTeams() error = %v", err)
	}
	got, err := pagination.Collect(context.Background(), seq)
	var serErr *client.SerializationError
	if !errors.As(err, &serErr) {
		t.Fatalf("error = %v, want *client.SerializationError", err)
	}
	if !strings.Contains(serErr.Error(), "name is required") {
		t.Errorf("error = %q", serErr.Error())
	}
	if got != nil {
		t.Errorf("got = %v, want nil", got)
	}
}
