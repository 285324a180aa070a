package server

import (
	"encoding/json"

	"groupsync/internal/domain"
	"groupsync/internal/engine"
	"groupsync/internal/ledger"
)

type InitProjectRequest struct {
	Deadline  string `json:"deadline" format:"date" doc:"project deadline, YYYY-MM-DD"`
	Title     string `json:"title,omitempty"`
	BriefText string `json:"brief_text,omitempty" doc:"plain text or markdown outline"`
	FileBytes []byte `json:"file_bytes,omitempty" doc:"base64 document, used instead of brief_text"`
	MimeType  string `json:"mime_type,omitempty" example:"text/markdown"`
}

type TeamMemberRequest struct {
	ID          string   `json:"id,omitempty" doc:"derived from the name when empty"`
	Name        string   `json:"name" minLength:"1"`
	Skills      []string `json:"skills,omitempty"`
	WeeklyHours float64  `json:"weekly_hours" minimum:"0"`
}

func (m TeamMemberRequest) member() domain.TeamMember {
	return domain.TeamMember{ID: m.ID, Name: m.Name, Skills: m.Skills, WeeklyHours: m.WeeklyHours}
}

type SetTeamRequest struct {
	TeamMembers []TeamMemberRequest `json:"team_members" minItems:"1"`
}

// CheckInRequest fields are optional at the schema level so a bad item is
// rejected on its own instead of failing the whole batch.
type CheckInRequest struct {
	MemberID        string  `json:"member_id,omitempty"`
	TaskID          string  `json:"task_id,omitempty"`
	PercentComplete float64 `json:"percent_complete,omitempty" doc:"0..100"`
	Blocker         string  `json:"blocker,omitempty"`
}

func (c CheckInRequest) input() ledger.Input {
	return ledger.Input{MemberID: c.MemberID, TaskID: c.TaskID, PercentComplete: c.PercentComplete, Blocker: c.Blocker}
}

type CheckInBatchRequest struct {
	CheckIns []CheckInRequest `json:"checkins,omitempty"`
}

type ReassignRequest struct {
	MemberID string `json:"member_id" minLength:"1"`
}

type InitProjectResponse struct {
	Project domain.Project `json:"project"`
	Tasks   []domain.Task  `json:"tasks"`
}

type TeamResponse struct {
	Tasks         []domain.Task            `json:"tasks"`
	WeeklyPlan    []domain.WeeklyPlanEntry `json:"weekly_plan"`
	Unassignable  []string                 `json:"unassignable"`
	Overcommitted []string                 `json:"overcommitted"`
	Blocked       []string                 `json:"blocked"`
}

type CheckInResult struct {
	Index   int             `json:"index"`
	OK      bool            `json:"ok"`
	CheckIn *domain.CheckIn `json:"checkin,omitempty"`
	Error   *apiErrorBody   `json:"error,omitempty"`
}

type CheckInBatchResponse struct {
	Phase    domain.Phase         `json:"phase"`
	Accepted int                  `json:"accepted"`
	Results  []CheckInResult      `json:"results"`
	Snapshot *domain.RiskSnapshot `json:"snapshot,omitempty"`
	Reused   bool                 `json:"reused" doc:"the stored snapshot was returned without recomputing"`
}

type RunLogsResponse struct {
	Items []domain.RunLog `json:"items"`
}

type EventResponse struct {
	ID         int64    `json:"id"`
	TS         string   `json:"ts" format:"date-time"`
	Type       string   `json:"type"`
	RunID      string   `json:"run_id"`
	ActorID    string   `json:"actor_id,omitempty"`
	Outcome    string   `json:"outcome"`
	Components []string `json:"components"`
	Detail     string   `json:"detail,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func teamResponse(r engine.TeamResult) TeamResponse {
	return TeamResponse{
		Tasks:         nonNilSlice(r.Tasks),
		WeeklyPlan:    nonNilSlice(r.Plan),
		Unassignable:  nonNilSlice(r.Unassignable),
		Overcommitted: nonNilSlice(r.Overcommitted),
		Blocked:       nonNilSlice(r.Blocked),
	}
}

func checkInBatchResponse(r engine.SubmitResult) CheckInBatchResponse {
	out := CheckInBatchResponse{
		Phase:    r.Phase,
		Accepted: ledger.Accepted(r.Results),
		Results:  make([]CheckInResult, 0, len(r.Results)),
		Snapshot: r.Snapshot,
		Reused:   r.Reused,
	}
	for _, item := range r.Results {
		res := CheckInResult{Index: item.Index, OK: item.Err == nil, CheckIn: item.CheckIn}
		if item.Err != nil {
			_, body := classify(item.Err)
			res.Error = &body
		}
		out.Results = append(out.Results, res)
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	out := EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		RunID:      e.RunID,
		ActorID:    e.ActorID,
		Outcome:    e.Outcome,
		Components: []string{},
	}
	var payload struct {
		Components []string `json:"components"`
		Detail     string   `json:"detail"`
	}
	if e.Payload != "" && json.Unmarshal([]byte(e.Payload), &payload) == nil {
		out.Components = nonNilSlice(payload.Components)
		out.Detail = payload.Detail
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
