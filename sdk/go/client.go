package groupsyncsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal GroupSync HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

type Project struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Deadline    string `json:"deadline"`
	StartDate   string `json:"start_date,omitempty"`
}

type TeamMember struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Skills      []string `json:"skills,omitempty"`
	WeeklyHours float64  `json:"weekly_hours"`
}

type Task struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Package        string   `json:"package,omitempty"`
	EstimatedHours float64  `json:"estimated_hours"`
	Dependencies   []string `json:"dependencies,omitempty"`
	Skills         []string `json:"skills,omitempty"`
	Assignee       string   `json:"assignee,omitempty"`
	Status         string   `json:"status"`
}

type WeeklyPlanEntry struct {
	Week          int                `json:"week_index"`
	TaskIDs       []string           `json:"task_ids"`
	MemberHours   map[string]float64 `json:"member_hours"`
	Overcommitted []string           `json:"overcommitted,omitempty"`
}

type CheckIn struct {
	ID              string    `json:"id,omitempty"`
	Week            int       `json:"week_index,omitempty"`
	MemberID        string    `json:"member_id"`
	TaskID          string    `json:"task_id"`
	PercentComplete float64   `json:"percent_complete"`
	Blocker         string    `json:"blocker,omitempty"`
	SubmittedAt     time.Time `json:"submitted_at,omitempty"`
}

type TaskRisk struct {
	TaskID    string  `json:"task_id"`
	Assignee  string  `json:"assignee,omitempty"`
	Week      int     `json:"scheduled_week"`
	Expected  float64 `json:"expected"`
	Actual    float64 `json:"actual"`
	Deviation float64 `json:"deviation"`
	Flag      string  `json:"flag"`
	Blocker   string  `json:"blocker,omitempty"`
}

type CorrectiveAction struct {
	TaskID      string `json:"task_id"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Candidate   string `json:"candidate,omitempty"`
}

type RiskSnapshot struct {
	Week      int                `json:"week_index"`
	Revision  int                `json:"revision"`
	Tasks     []TaskRisk         `json:"tasks"`
	Members   map[string]float64 `json:"members"`
	Flag      string             `json:"flag"`
	Actions   []CorrectiveAction `json:"actions"`
	CreatedAt time.Time          `json:"created_at"`
}

type RunLog struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action"`
	Components []string  `json:"components"`
	Outcome    string    `json:"outcome"`
	Actor      string    `json:"actor,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

type State struct {
	Version       uint64            `json:"version"`
	Phase         string            `json:"phase"`
	Project       Project           `json:"project"`
	Team          []TeamMember      `json:"team"`
	Tasks         []Task            `json:"tasks"`
	Plan          []WeeklyPlanEntry `json:"weekly_plan"`
	Unassignable  []string          `json:"unassignable"`
	Overcommitted []string          `json:"overcommitted"`
	Blocked       []string          `json:"blocked"`
	CheckIns      []CheckIn         `json:"checkins"`
	RiskSnapshots []RiskSnapshot    `json:"risk_snapshots"`
	RunLogs       []RunLog          `json:"run_logs"`
}

// InitRequest scopes a project. Set BriefText or FileBytes.
type InitRequest struct {
	Deadline  string `json:"deadline"`
	Title     string `json:"title,omitempty"`
	BriefText string `json:"brief_text,omitempty"`
	FileBytes []byte `json:"file_bytes,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
}

type InitResponse struct {
	Project Project `json:"project"`
	Tasks   []Task  `json:"tasks"`
}

type TeamResponse struct {
	Tasks         []Task            `json:"tasks"`
	WeeklyPlan    []WeeklyPlanEntry `json:"weekly_plan"`
	Unassignable  []string          `json:"unassignable"`
	Overcommitted []string          `json:"overcommitted"`
	Blocked       []string          `json:"blocked"`
}

// ErrorBody is the error envelope payload.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type CheckInResult struct {
	Index   int        `json:"index"`
	OK      bool       `json:"ok"`
	CheckIn *CheckIn   `json:"checkin,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

type CheckInBatch struct {
	Phase    string          `json:"phase"`
	Accepted int             `json:"accepted"`
	Results  []CheckInResult `json:"results"`
	Snapshot *RiskSnapshot   `json:"snapshot,omitempty"`
	Reused   bool            `json:"reused"`
}

// Event is a journaled run log entry.
type Event struct {
	ID         int64    `json:"id"`
	TS         string   `json:"ts"`
	Type       string   `json:"type"`
	RunID      string   `json:"run_id"`
	ActorID    string   `json:"actor_id,omitempty"`
	Outcome    string   `json:"outcome"`
	Components []string `json:"components"`
	Detail     string   `json:"detail,omitempty"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// EventQuery filters EventsPage. Zero values match everything.
type EventQuery struct {
	Type    string
	Outcome string
	ActorID string
	Limit   int
	Cursor  string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given error code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

// InitProject scopes a new project. reset discards the current one first.
func (c *Client) InitProject(ctx context.Context, in InitRequest, reset bool) (InitResponse, error) {
	endpoint := "project/init"
	if reset {
		endpoint += "?reset=true"
	}
	var resp InitResponse
	err := c.do(ctx, http.MethodPost, endpoint, in, &resp)
	return resp, err
}

func (c *Client) SetTeam(ctx context.Context, members []TeamMember) (TeamResponse, error) {
	var resp TeamResponse
	err := c.do(ctx, http.MethodPost, "project/team", map[string]any{"team_members": members}, &resp)
	return resp, err
}

func (c *Client) State(ctx context.Context) (State, error) {
	var resp State
	err := c.do(ctx, http.MethodGet, "project/state", nil, &resp)
	return resp, err
}

func (c *Client) Reset(ctx context.Context) (State, error) {
	var resp State
	err := c.do(ctx, http.MethodPost, "project/reset", nil, &resp)
	return resp, err
}

// SubmitCheckIns sends a week's batch. recompute forces a new snapshot revision.
func (c *Client) SubmitCheckIns(ctx context.Context, week int, checkIns []CheckIn, recompute bool) (CheckInBatch, error) {
	endpoint := fmt.Sprintf("checkins/%d", week)
	if recompute {
		endpoint += "?recompute=true"
	}
	items := make([]map[string]any, 0, len(checkIns))
	for _, ci := range checkIns {
		item := map[string]any{"member_id": ci.MemberID, "task_id": ci.TaskID, "percent_complete": ci.PercentComplete}
		if ci.Blocker != "" {
			item["blocker"] = ci.Blocker
		}
		items = append(items, item)
	}
	var resp CheckInBatch
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"checkins": items}, &resp)
	return resp, err
}

func (c *Client) WeekSummary(ctx context.Context, week int) (RiskSnapshot, error) {
	var resp RiskSnapshot
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("week/%d/summary", week), nil, &resp)
	return resp, err
}

func (c *Client) ReassignTask(ctx context.Context, taskID, memberID string) (TeamResponse, error) {
	var resp TeamResponse
	endpoint := fmt.Sprintf("tasks/%s/assignee", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"member_id": memberID}, &resp)
	return resp, err
}

// RunLogs returns the newest limit entries, oldest first. limit 0 returns all.
func (c *Client) RunLogs(ctx context.Context, limit int) ([]RunLog, error) {
	var resp struct {
		Items []RunLog `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "runlogs?limit="+strconv.Itoa(limit), nil, &resp)
	return resp.Items, err
}

// EventsPage returns a page of journaled entries, newest first.
func (c *Client) EventsPage(ctx context.Context, q EventQuery) (PaginatedEvents, error) {
	params := url.Values{}
	if q.Type != "" {
		params.Set("type", q.Type)
	}
	if q.Outcome != "" {
		params.Set("outcome", q.Outcome)
	}
	if q.ActorID != "" {
		params.Set("actor_id", q.ActorID)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}
	endpoint := "events"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error ErrorBody `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
