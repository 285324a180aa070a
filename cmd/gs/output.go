package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"groupsync/internal/domain"
	groupsyncsdk "groupsync/sdk/go"
)

func newTable(title string, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	if title != "" {
		t.SetTitle(title)
	}
	t.AppendHeader(header)
	return t
}

func printTasks(tasks []groupsyncsdk.Task) {
	t := newTable("Tasks", table.Row{"ID", "Title", "Hours", "Depends on", "Assignee", "Status"})
	for _, task := range tasks {
		t.AppendRow(table.Row{task.ID, task.Title, task.EstimatedHours, strings.Join(task.Dependencies, ","), task.Assignee, task.Status})
	}
	t.Render()
}

func printPlan(plan []groupsyncsdk.WeeklyPlanEntry) {
	t := newTable("Weekly plan", table.Row{"Week", "Tasks", "Member hours", "Overcommitted"})
	for _, e := range plan {
		t.AppendRow(table.Row{e.Week, strings.Join(e.TaskIDs, ","), formatHours(e.MemberHours), strings.Join(e.Overcommitted, ",")})
	}
	t.Render()
}

func printIssues(res groupsyncsdk.TeamResponse) {
	if len(res.Unassignable) > 0 {
		fmt.Printf("Unassignable: %s\n", strings.Join(res.Unassignable, ", "))
	}
	if len(res.Overcommitted) > 0 {
		fmt.Printf("Overcommitted: %s\n", strings.Join(res.Overcommitted, ", "))
	}
	if len(res.Blocked) > 0 {
		fmt.Printf("Blocked by unscheduled dependencies: %s\n", strings.Join(res.Blocked, ", "))
	}
}

func printCheckInResults(res groupsyncsdk.CheckInBatch) {
	t := newTable(fmt.Sprintf("Check-ins (%d accepted, phase %s)", res.Accepted, res.Phase), table.Row{"#", "Member", "Task", "%", "Result"})
	for _, r := range res.Results {
		if r.OK && r.CheckIn != nil {
			t.AppendRow(table.Row{r.Index, r.CheckIn.MemberID, r.CheckIn.TaskID, r.CheckIn.PercentComplete, "accepted"})
			continue
		}
		msg := "rejected"
		if r.Error != nil {
			msg = r.Error.Code + ": " + r.Error.Message
		}
		t.AppendRow(table.Row{r.Index, "", "", "", msg})
	}
	t.Render()
}

func printSnapshot(s groupsyncsdk.RiskSnapshot) {
	t := newTable(fmt.Sprintf("Week %d, revision %d: %s", s.Week, s.Revision, s.Flag), table.Row{"Task", "Assignee", "Week", "Expected", "Actual", "Deviation", "Flag", "Blocker"})
	for _, r := range s.Tasks {
		t.AppendRow(table.Row{r.TaskID, r.Assignee, r.Week, pct(r.Expected), pct(r.Actual), pct(r.Deviation), r.Flag, r.Blocker})
	}
	t.Render()
	if len(s.Actions) == 0 {
		return
	}
	a := newTable("Corrective actions", table.Row{"Task", "Action", "Candidate", "Description"})
	for _, act := range s.Actions {
		a.AppendRow(table.Row{act.TaskID, act.Kind, act.Candidate, act.Description})
	}
	a.Render()
}

func printRunLogs(logs []groupsyncsdk.RunLog) {
	t := newTable("Run log", table.Row{"Time", "Action", "Outcome", "Actor", "Detail"})
	for _, l := range logs {
		t.AppendRow(table.Row{l.Timestamp.Format("2006-01-02 15:04:05"), l.Action, l.Outcome, l.Actor, l.Detail})
	}
	t.Render()
}

func printEvents(evts []domain.Event) {
	t := newTable("Journal", table.Row{"ID", "Time", "Action", "Outcome", "Actor", "Run"})
	for _, e := range evts {
		t.AppendRow(table.Row{e.ID, e.TS, e.Type, e.Outcome, e.ActorID, e.RunID})
	}
	t.Render()
}

func formatHours(hours map[string]float64) string {
	ids := make([]string, 0, len(hours))
	for id := range hours {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s=%g", id, hours[id]))
	}
	return strings.Join(parts, " ")
}

func pct(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 0, 64) + "%"
}

type yamlMember struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Skills      []string `yaml:"skills"`
	WeeklyHours float64  `yaml:"weekly_hours"`
}

// loadTeamFile reads either a team_members mapping or a bare list.
func loadTeamFile(path string) ([]groupsyncsdk.TeamMember, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var wrapped struct {
		TeamMembers []yamlMember `yaml:"team_members"`
	}
	var list []yamlMember
	if err := yaml.Unmarshal(data, &wrapped); err == nil && len(wrapped.TeamMembers) > 0 {
		list = wrapped.TeamMembers
	} else if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("team file %s: %w", path, err)
	}
	out := make([]groupsyncsdk.TeamMember, 0, len(list))
	for _, m := range list {
		out = append(out, groupsyncsdk.TeamMember{ID: m.ID, Name: m.Name, Skills: m.Skills, WeeklyHours: m.WeeklyHours})
	}
	return out, nil
}

type yamlCheckIn struct {
	MemberID        string  `yaml:"member_id"`
	TaskID          string  `yaml:"task_id"`
	PercentComplete float64 `yaml:"percent_complete"`
	Blocker         string  `yaml:"blocker"`
}

// loadCheckInFile reads either a checkins mapping or a bare list.
func loadCheckInFile(path string) ([]groupsyncsdk.CheckIn, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var wrapped struct {
		CheckIns []yamlCheckIn `yaml:"checkins"`
	}
	var list []yamlCheckIn
	if err := yaml.Unmarshal(data, &wrapped); err == nil && len(wrapped.CheckIns) > 0 {
		list = wrapped.CheckIns
	} else if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("check-in file %s: %w", path, err)
	}
	out := make([]groupsyncsdk.CheckIn, 0, len(list))
	for _, c := range list {
		out = append(out, groupsyncsdk.CheckIn{MemberID: c.MemberID, TaskID: c.TaskID, PercentComplete: c.PercentComplete, Blocker: c.Blocker})
	}
	return out, nil
}

// parseMemberFlag parses "name:hours" or "name:hours:skill1,skill2".
func parseMemberFlag(raw string) (groupsyncsdk.TeamMember, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" {
		return groupsyncsdk.TeamMember{}, fmt.Errorf("invalid --member %q: want name:hours[:skills]", raw)
	}
	hours, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return groupsyncsdk.TeamMember{}, fmt.Errorf("invalid --member %q: hours: %w", raw, err)
	}
	m := groupsyncsdk.TeamMember{Name: strings.TrimSpace(parts[0]), WeeklyHours: hours}
	if len(parts) == 3 {
		for _, s := range strings.Split(parts[2], ",") {
			if s = strings.TrimSpace(s); s != "" {
				m.Skills = append(m.Skills, s)
			}
		}
	}
	return m, nil
}

func mimeFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return "text/markdown"
	case ".yml", ".yaml":
		return "application/yaml"
	case ".json":
		return "application/json"
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "text/plain"
	}
}
