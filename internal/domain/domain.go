package domain

import "time"

// DateLayout is the wire format for deadlines and start dates.
const DateLayout = "2006-01-02"

type Phase string

const (
	PhaseEmpty        Phase = "EMPTY"
	PhaseScoped       Phase = "SCOPED"
	PhaseTeamAssigned Phase = "TEAM_ASSIGNED"
	PhasePlanned      Phase = "PLANNED"
	PhaseActive       Phase = "ACTIVE"
)

type TaskStatus string

const (
	TaskUnassigned TaskStatus = "unassigned"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
)

// Flag is a risk level. Higher values are worse.
type Flag string

const (
	FlagOnTrack  Flag = "on_track"
	FlagAtRisk   Flag = "at_risk"
	FlagCritical Flag = "critical"
)

func (f Flag) Severity() int {
	switch f {
	case FlagAtRisk:
		return 1
	case FlagCritical:
		return 2
	default:
		return 0
	}
}

type ActionKind string

const (
	ActionReassign            ActionKind = "reassign"
	ActionRenegotiateDeadline ActionKind = "renegotiate_deadline"
	ActionEscalate            ActionKind = "escalate"
)

type Project struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Deadline    string `json:"deadline" format:"date"`
	StartDate   string `json:"start_date,omitempty" format:"date"`
}

type TeamMember struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Skills      []string `json:"skills,omitempty"`
	WeeklyHours float64  `json:"weekly_hours"`
}

type Task struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Package        string     `json:"package,omitempty"`
	EstimatedHours float64    `json:"estimated_hours"`
	Dependencies   []string   `json:"dependencies,omitempty"`
	Skills         []string   `json:"skills,omitempty"`
	Assignee       string     `json:"assignee,omitempty"`
	Status         TaskStatus `json:"status" enum:"unassigned,assigned,in_progress,done"`
}

type WeeklyPlanEntry struct {
	Week          int                `json:"week_index"`
	TaskIDs       []string           `json:"task_ids"`
	MemberHours   map[string]float64 `json:"member_hours"`
	Overcommitted []string           `json:"overcommitted,omitempty"`
}

type CheckIn struct {
	ID              string    `json:"id"`
	Week            int       `json:"week_index"`
	MemberID        string    `json:"member_id"`
	TaskID          string    `json:"task_id"`
	PercentComplete float64   `json:"percent_complete"`
	Blocker         string    `json:"blocker,omitempty"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

type TaskRisk struct {
	TaskID    string  `json:"task_id"`
	Assignee  string  `json:"assignee,omitempty"`
	Week      int     `json:"scheduled_week"`
	Expected  float64 `json:"expected"`
	Actual    float64 `json:"actual"`
	Deviation float64 `json:"deviation"`
	Flag      Flag    `json:"flag" enum:"on_track,at_risk,critical"`
	Blocker   string  `json:"blocker,omitempty"`
}

type CorrectiveAction struct {
	TaskID      string     `json:"task_id"`
	Kind        ActionKind `json:"kind" enum:"reassign,renegotiate_deadline,escalate"`
	Description string     `json:"description"`
	Candidate   string     `json:"candidate,omitempty"`
}

type RiskSnapshot struct {
	Week      int                `json:"week_index"`
	Revision  int                `json:"revision"`
	Tasks     []TaskRisk         `json:"tasks"`
	Members   map[string]float64 `json:"members"`
	Flag      Flag               `json:"flag" enum:"on_track,at_risk,critical"`
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

// State is everything known about the single active project.
type State struct {
	Version       uint64            `json:"version"`
	Phase         Phase             `json:"phase" enum:"EMPTY,SCOPED,TEAM_ASSIGNED,PLANNED,ACTIVE"`
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

// NewState returns the empty state a fresh or reset project starts from.
func NewState() State {
	return State{
		Phase:         PhaseEmpty,
		Team:          []TeamMember{},
		Tasks:         []Task{},
		Plan:          []WeeklyPlanEntry{},
		Unassignable:  []string{},
		Overcommitted: []string{},
		Blocked:       []string{},
		CheckIns:      []CheckIn{},
		RiskSnapshots: []RiskSnapshot{},
		RunLogs:       []RunLog{},
	}
}

// IsEmpty reports whether s holds no project data, ignoring Version.
func (s State) IsEmpty() bool {
	return s.Phase == PhaseEmpty && s.Project == (Project{}) &&
		len(s.Team) == 0 && len(s.Tasks) == 0 && len(s.Plan) == 0 &&
		len(s.Unassignable) == 0 && len(s.Overcommitted) == 0 && len(s.Blocked) == 0 &&
		len(s.CheckIns) == 0 && len(s.RiskSnapshots) == 0 && len(s.RunLogs) == 0
}

func (s State) Task(id string) (Task, bool) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

func (s State) Member(id string) (TeamMember, bool) {
	for _, m := range s.Team {
		if m.ID == id {
			return m, true
		}
	}
	return TeamMember{}, false
}

// ScheduledWeek returns the plan week holding taskID, or -1.
func (s State) ScheduledWeek(taskID string) int {
	for _, e := range s.Plan {
		for _, id := range e.TaskIDs {
			if id == taskID {
				return e.Week
			}
		}
	}
	return -1
}

// Clone returns a deep copy so a mutation never aliases a committed state.
func (s State) Clone() State {
	out := s
	out.Team = make([]TeamMember, len(s.Team))
	for i, m := range s.Team {
		m.Skills = cloneStrings(m.Skills)
		out.Team[i] = m
	}
	out.Tasks = make([]Task, len(s.Tasks))
	for i, t := range s.Tasks {
		t.Dependencies = cloneStrings(t.Dependencies)
		t.Skills = cloneStrings(t.Skills)
		out.Tasks[i] = t
	}
	out.Plan = make([]WeeklyPlanEntry, len(s.Plan))
	for i, e := range s.Plan {
		e.TaskIDs = cloneStrings(e.TaskIDs)
		e.Overcommitted = cloneStrings(e.Overcommitted)
		e.MemberHours = cloneFloats(e.MemberHours)
		out.Plan[i] = e
	}
	out.Unassignable = cloneStrings(s.Unassignable)
	out.Overcommitted = cloneStrings(s.Overcommitted)
	out.Blocked = cloneStrings(s.Blocked)
	out.CheckIns = append([]CheckIn{}, s.CheckIns...)
	out.RiskSnapshots = make([]RiskSnapshot, len(s.RiskSnapshots))
	for i, r := range s.RiskSnapshots {
		r.Tasks = append([]TaskRisk{}, r.Tasks...)
		r.Actions = append([]CorrectiveAction{}, r.Actions...)
		r.Members = cloneFloats(r.Members)
		out.RiskSnapshots[i] = r
	}
	out.RunLogs = make([]RunLog, len(s.RunLogs))
	for i, l := range s.RunLogs {
		l.Components = cloneStrings(l.Components)
		out.RunLogs[i] = l
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}

func cloneFloats(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Event is a journaled run log row.
type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	RunID   string `json:"run_id"`
	ActorID string `json:"actor_id,omitempty"`
	Outcome string `json:"outcome"`
	Payload string `json:"payload_json"`
}
