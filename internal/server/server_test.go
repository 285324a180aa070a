package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"groupsync/internal/config"
	"groupsync/internal/db"
	"groupsync/internal/domain"
	"groupsync/internal/engine"
	"groupsync/internal/events"
	"groupsync/internal/logging"
	"groupsync/internal/migrate"
	"groupsync/internal/repo"
)

const chainBrief = `# Report
- Research (10h)
- Write report [after: Research] (10h)
`

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, authCfg AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(config.Default(), logging.Discard())
	e.Journal = events.Writer{DB: conn}
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) }
	handler, err := New(Config{Engine: e, Repo: &repo.Repo{DB: conn}, BasePath: "/v0", Auth: authCfg, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error
}

func planChain(t *testing.T, srv *testServer) TeamResponse {
	t.Helper()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/project/init", map[string]any{
		"title":      "Essay",
		"brief_text": chainBrief,
		"deadline":   "2024-01-29",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("init status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/project/team", map[string]any{
		"team_members": []map[string]any{
			{"id": "ana", "name": "Ana", "skills": []string{"research", "writing"}, "weekly_hours": 40},
		},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("team status %d: %s", res.StatusCode, string(data))
	}
	var team TeamResponse
	if err := json.Unmarshal(data, &team); err != nil {
		t.Fatalf("unmarshal team: %v", err)
	}
	return team
}

func TestHealthAndDocs(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK || !bytes.Contains(data, []byte(`"ok"`)) {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK || !bytes.Contains(data, []byte("/v0/checkins/{week_index}")) {
		t.Fatalf("openapi: %d", res.StatusCode)
	}
}

func TestOpenAPIServedConcurrently(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	const n = 8
	bodies := make([][]byte, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := client.Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				errs[i] = err
				return
			}
			defer res.Body.Close()
			bodies[i], errs[i] = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("fetch %d: %v", i, errs[i])
		}
		if len(bodies[i]) == 0 || !bytes.Equal(bodies[i], bodies[0]) {
			t.Fatalf("fetch %d returned a different document", i)
		}
	}
}

func TestProjectLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	team := planChain(t, srv)
	if len(team.WeeklyPlan) != 4 || len(team.Tasks) != 2 {
		t.Fatalf("unexpected plan: %+v", team)
	}
	a, b := team.Tasks[0].ID, team.Tasks[1].ID

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/checkins/1", map[string]any{
		"checkins": []map[string]any{
			{"member_id": "ana", "task_id": a, "percent_complete": 100},
			{"member_id": "ana", "task_id": b, "percent_complete": 10},
			{"member_id": "ana", "task_id": b, "percent_complete": 20},
			{"member_id": "ana", "task_id": b, "percent_complete": 120},
		},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("checkins status %d: %s", res.StatusCode, string(data))
	}
	var batch CheckInBatchResponse
	if err := json.Unmarshal(data, &batch); err != nil {
		t.Fatalf("unmarshal batch: %v", err)
	}
	if batch.Phase != domain.PhaseActive || batch.Accepted != 2 || len(batch.Results) != 4 {
		t.Fatalf("unexpected batch: %+v", batch)
	}
	if batch.Results[2].OK || batch.Results[2].Error.Code != "duplicate_checkin" {
		t.Fatalf("expected duplicate rejection: %+v", batch.Results[2])
	}
	if batch.Results[3].OK || batch.Results[3].Error.Code != "bad_request" {
		t.Fatalf("expected range rejection: %+v", batch.Results[3])
	}
	if batch.Snapshot == nil || batch.Snapshot.Flag != domain.FlagCritical {
		t.Fatalf("expected critical snapshot: %+v", batch.Snapshot)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/week/1/summary", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("summary status %d: %s", res.StatusCode, string(data))
	}
	var snap domain.RiskSnapshot
	_ = json.Unmarshal(data, &snap)
	if snap.Week != 1 || snap.Revision != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/week/0/summary", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
	if e := decodeError(t, data); e.Code != "not_found" || e.Message != "no snapshot" {
		t.Fatalf("unexpected error %+v", e)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/checkins/1?recompute=true", map[string]any{}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("recompute status %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &batch)
	if batch.Reused || batch.Snapshot.Revision != 2 {
		t.Fatalf("expected revision 2: %+v", batch.Snapshot)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/project/state", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("state status %d", res.StatusCode)
	}
	var st domain.State
	_ = json.Unmarshal(data, &st)
	if st.Phase != domain.PhaseActive || len(st.CheckIns) != 2 || len(st.RiskSnapshots) != 2 {
		t.Fatalf("unexpected state: phase %s, %d check-ins, %d snapshots", st.Phase, len(st.CheckIns), len(st.RiskSnapshots))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/runlogs?limit=2", nil, nil)
	var logs RunLogsResponse
	_ = json.Unmarshal(data, &logs)
	if res.StatusCode != http.StatusOK || len(logs.Items) != 2 || logs.Items[1].Action != engine.ActionSubmitCheckIns {
		t.Fatalf("unexpected run logs: %d %+v", res.StatusCode, logs)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/project/reset", nil, nil)
	_ = json.Unmarshal(data, &st)
	if res.StatusCode != http.StatusOK || st.Phase != domain.PhaseEmpty || len(st.Tasks) != 0 {
		t.Fatalf("reset: %d %+v", res.StatusCode, st)
	}
}

func TestReassignEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	team := planChain(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+team.Tasks[1].ID+"/assignee", map[string]any{"member_id": "ghost"}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown member, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+team.Tasks[1].ID+"/assignee", map[string]any{"member_id": "ana"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reassign status %d: %s", res.StatusCode, string(data))
	}
	var out TeamResponse
	_ = json.Unmarshal(data, &out)
	if len(out.WeeklyPlan) != 4 || out.Tasks[1].Assignee != "ana" {
		t.Fatalf("unexpected reassign result %+v", out)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/project/team", map[string]any{
		"team_members": []map[string]any{{"name": "Ana", "weekly_hours": 10}},
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	if e := decodeError(t, data); e.Code != "invalid_state_transition" || e.Details["phase"] != "EMPTY" {
		t.Fatalf("unexpected error %+v", e)
	}

	cases := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{"pdf", map[string]any{"deadline": "2024-02-01", "file_bytes": []byte("%PDF-1.4"), "mime_type": "application/pdf"}, http.StatusUnsupportedMediaType, "unsupported_format"},
		{"corrupt", map[string]any{"deadline": "2024-02-01", "file_bytes": []byte{0xff, 0x00}, "mime_type": "text/plain"}, http.StatusBadRequest, "corrupt_document"},
		{"cycle", map[string]any{"deadline": "2024-02-01", "brief_text": "tasks:\n  - {id: a, title: A, dependencies: [b]}\n  - {id: b, title: B, dependencies: [a]}\n"}, http.StatusUnprocessableEntity, "invalid_task_graph"},
		{"no brief", map[string]any{"deadline": "2024-02-01"}, http.StatusBadRequest, "bad_request"},
		{"no deadline", map[string]any{"brief_text": "- A"}, http.StatusBadRequest, "bad_request"},
	}
	for _, tc := range cases {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/project/init", tc.body, nil)
		if res.StatusCode != tc.status {
			t.Fatalf("%s: expected %d, got %d %s", tc.name, tc.status, res.StatusCode, string(data))
		}
		if e := decodeError(t, data); e.Code != tc.code {
			t.Fatalf("%s: expected code %s, got %+v", tc.name, tc.code, e)
		}
	}
	if phase := srv.Engine.State().Phase; phase != domain.PhaseEmpty {
		t.Fatalf("failed inits moved phase to %s", phase)
	}
}

func TestSnapshotGapStatus(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	team := planChain(t, srv)
	a := team.Tasks[0].ID
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/checkins/0", map[string]any{
		"checkins": []map[string]any{{"member_id": "ana", "task_id": a, "percent_complete": 40}},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("week 0: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/checkins/3", map[string]any{}, nil)
	if res.StatusCode != http.StatusConflict || decodeError(t, data).Code != "snapshot_gap" {
		t.Fatalf("expected snapshot_gap, got %d %s", res.StatusCode, string(data))
	}
}

func TestJWTAuth(t *testing.T) {
	secret := "test-secret"
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: secret})
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should stay open, got %d", res.StatusCode)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/project/state", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || decodeError(t, data).Code != "unauthorized" {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/project/state", nil, map[string]string{"X-Actor-Id": "mallory"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("actor header must not bypass auth, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/project/state", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected invalid credentials, got %d", res.StatusCode)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "lead"}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/project/init", map[string]any{
		"brief_text": chainBrief,
		"deadline":   "2024-01-29",
	}, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("init status %d: %s", res.StatusCode, string(data))
	}
	logs := srv.Engine.RunLogs(0)
	if len(logs) != 1 || logs[0].Actor != "lead" {
		t.Fatalf("expected run log by lead, got %+v", logs)
	}
}

func TestOpenModeIgnoresBearerToken(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/project/state", nil, map[string]string{"Authorization": "Bearer whatever"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("open API rejected a bearer header: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/project/init", map[string]any{
		"brief_text": chainBrief,
		"deadline":   "2024-01-29",
	}, map[string]string{"Authorization": "Basic abc", "X-Actor-Id": "ana"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("init status %d: %s", res.StatusCode, string(data))
	}
	logs := srv.Engine.RunLogs(0)
	if len(logs) != 1 || logs[0].Actor != "ana" {
		t.Fatalf("expected run log by ana, got %+v", logs)
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	headers := map[string]string{"X-Actor-Id": "ana"}
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/project/team", map[string]any{
		"team_members": []map[string]any{{"name": "Ana", "weekly_hours": 10}},
	}, headers)
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/project/init", map[string]any{"brief_text": chainBrief, "deadline": "2024-01-29"}, headers)
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/project/reset", nil, headers)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?limit=2", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].Type != engine.ActionReset || page.Items[1].Type != engine.ActionInit || page.NextCursor == "" {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Items[1].ActorID != "ana" || len(page.Items[1].Components) == 0 {
		t.Fatalf("unexpected init event %+v", page.Items[1])
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?outcome=error", nil, nil)
	_ = json.Unmarshal(data, &page)
	if res.StatusCode != http.StatusOK || len(page.Items) != 1 || page.Items[0].Type != engine.ActionSetTeam {
		t.Fatalf("unexpected error events %+v", page)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events/"+page.Items[0].RunID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get event status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events/missing", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}
