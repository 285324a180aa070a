package groupsyncsdk_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupsync/internal/config"
	"groupsync/internal/engine"
	"groupsync/internal/logging"
	"groupsync/internal/server"
	groupsyncsdk "groupsync/sdk/go"
)

func newClient(t *testing.T) *groupsyncsdk.Client {
	t.Helper()
	e := engine.New(config.Default(), logging.Discard())
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) }
	handler, err := server.New(server.Config{Engine: e, BasePath: "/v0", Logger: logging.Discard()})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := groupsyncsdk.New(srv.URL)
	c.ActorID = "sdk"
	return c
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	require.NoError(t, c.Health(ctx))

	initRes, err := c.InitProject(ctx, groupsyncsdk.InitRequest{
		Title:     "Essay",
		FileBytes: []byte("- Research (10h)\n- Write report [after: Research] (10h)\n"),
		MimeType:  "text/markdown",
		Deadline:  "2024-01-29",
	}, false)
	require.NoError(t, err)
	require.Len(t, initRes.Tasks, 2)
	assert.Equal(t, "2024-01-01", initRes.Project.StartDate)

	team, err := c.SetTeam(ctx, []groupsyncsdk.TeamMember{{ID: "ana", Name: "Ana", WeeklyHours: 40}})
	require.NoError(t, err)
	require.Len(t, team.WeeklyPlan, 4)
	assert.Empty(t, team.Unassignable)

	a := initRes.Tasks[0].ID
	batch, err := c.SubmitCheckIns(ctx, 0, []groupsyncsdk.CheckIn{
		{MemberID: "ana", TaskID: a, PercentComplete: 40},
		{MemberID: "bo", TaskID: a, PercentComplete: 40},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", batch.Phase)
	assert.Equal(t, 1, batch.Accepted)
	require.Len(t, batch.Results, 2)
	assert.True(t, batch.Results[0].OK)
	require.NotNil(t, batch.Results[1].Error)
	assert.Equal(t, "unknown_assignment", batch.Results[1].Error.Code)
	require.NotNil(t, batch.Snapshot)

	snap, err := c.WeekSummary(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, batch.Snapshot.Revision, snap.Revision)

	_, err = c.WeekSummary(ctx, 2)
	var apiErr *groupsyncsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "no snapshot", apiErr.Message)

	moved, err := c.ReassignTask(ctx, initRes.Tasks[1].ID, "ana")
	require.NoError(t, err)
	assert.Equal(t, "ana", moved.Tasks[1].Assignee)

	logs, err := c.RunLogs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 4)
	for _, l := range logs {
		assert.Equal(t, "sdk", l.Actor)
	}

	st, err := c.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, "EMPTY", st.Phase)
}

func TestClientErrorCodes(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	_, err := c.SetTeam(ctx, []groupsyncsdk.TeamMember{{Name: "Ana", WeeklyHours: 10}})
	assert.True(t, groupsyncsdk.IsCode(err, "invalid_state_transition"), "got %v", err)

	_, err = c.InitProject(ctx, groupsyncsdk.InitRequest{FileBytes: []byte("%PDF-1.7"), MimeType: "application/pdf", Deadline: "2024-02-01"}, false)
	assert.True(t, groupsyncsdk.IsCode(err, "unsupported_format"), "got %v", err)

	_, err = c.EventsPage(ctx, groupsyncsdk.EventQuery{})
	var apiErr *groupsyncsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode, "journal endpoints are off without a repo")
}
