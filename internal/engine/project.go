package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"groupsync/internal/domain"
	"groupsync/internal/match"
	"groupsync/internal/plan"
)

// InitOptions describe a new project. Exactly one of Brief and Document
// should be set; a document is converted to text first.
type InitOptions struct {
	Title    string
	Brief    string
	Document []byte
	MimeType string
	Deadline string
	// Reset discards any existing project first.
	Reset bool
}

type InitResult struct {
	Project domain.Project
	Tasks   []domain.Task
}

// Init scopes a new project: EMPTY -> SCOPED. Any failure leaves the
// project EMPTY.
func (e Engine) Init(ctx context.Context, opts InitOptions) (InitResult, error) {
	if opts.Reset {
		e.Reset(ctx)
	}
	components := []string{ComponentExtractor, ComponentStore}
	if s := e.Store.Load(); s.Phase != domain.PhaseEmpty {
		return InitResult{}, e.fail(ctx, ActionInit, components, domain.TransitionError{Action: ActionInit, From: s.Phase})
	}

	start := dateOnly(e.now())
	deadline, err := time.Parse(domain.DateLayout, strings.TrimSpace(opts.Deadline))
	if err != nil {
		return InitResult{}, e.fail(ctx, ActionInit, components, domain.Invalidf("deadline %q must be a %s date", opts.Deadline, domain.DateLayout))
	}
	if deadline.Before(start) {
		return InitResult{}, e.fail(ctx, ActionInit, components, domain.Invalidf("deadline %s is before today (%s)", opts.Deadline, start.Format(domain.DateLayout)))
	}

	brief := opts.Brief
	if len(opts.Document) > 0 {
		if e.Documents == nil {
			return InitResult{}, e.fail(ctx, ActionInit, components, fmt.Errorf("%w: no document extractor configured", domain.ErrUnsupportedFormat))
		}
		brief, err = e.Documents.ExtractText(opts.Document, opts.MimeType)
		if err != nil {
			return InitResult{}, e.fail(ctx, ActionInit, components, err)
		}
	}
	if strings.TrimSpace(brief) == "" {
		return InitResult{}, e.fail(ctx, ActionInit, components, domain.Invalidf("brief_text or file_bytes is required"))
	}

	tasks, err := e.Extractor.Extract(ctx, brief, deadline)
	if err != nil {
		return InitResult{}, e.fail(ctx, ActionInit, components, err)
	}

	title := strings.TrimSpace(opts.Title)
	if title == "" {
		title = e.Config.Project.DefaultTitle
	}
	project := domain.Project{
		Title:       title,
		Description: truncateRunes(brief, e.Config.Project.DescriptionLimit),
		Deadline:    deadline.Format(domain.DateLayout),
		StartDate:   start.Format(domain.DateLayout),
	}
	s, err := e.run(ctx, ActionInit, components, func(s *domain.State) (string, error) {
		if err := requirePhase(s, ActionInit, domain.PhaseEmpty); err != nil {
			return "", err
		}
		s.Project = project
		s.Tasks = append([]domain.Task{}, tasks...)
		s.Phase = domain.PhaseScoped
		return fmt.Sprintf("scoped %d tasks, deadline %s", len(tasks), project.Deadline), nil
	})
	if err != nil {
		return InitResult{}, err
	}
	return InitResult{Project: s.Project, Tasks: s.Tasks}, nil
}

// TeamResult is the assignment and plan produced by SetTeam or ReassignTask.
type TeamResult struct {
	Tasks         []domain.Task
	Plan          []domain.WeeklyPlanEntry
	Unassignable  []string
	Overcommitted []string
	Blocked       []string
}

func teamResult(s domain.State) TeamResult {
	return TeamResult{
		Tasks:         s.Tasks,
		Plan:          s.Plan,
		Unassignable:  s.Unassignable,
		Overcommitted: s.Overcommitted,
		Blocked:       s.Blocked,
	}
}

// SetTeam stores the roster, matches tasks and builds the plan in one step:
// SCOPED -> TEAM_ASSIGNED -> PLANNED.
func (e Engine) SetTeam(ctx context.Context, members []domain.TeamMember) (TeamResult, error) {
	components := []string{ComponentMatcher, ComponentPlanner, ComponentStore}
	team, err := normalizeTeam(members)
	if err != nil {
		return TeamResult{}, e.fail(ctx, ActionSetTeam, components, err)
	}
	s, err := e.run(ctx, ActionSetTeam, components, func(s *domain.State) (string, error) {
		if err := requirePhase(s, ActionSetTeam, domain.PhaseScoped); err != nil {
			return "", err
		}
		s.Team = team
		s.Phase = domain.PhaseTeamAssigned
		weeks, err := horizon(s.Project)
		if err != nil {
			return "", err
		}
		matched, err := match.Match(s.Tasks, s.Team, weeks)
		if err != nil {
			return "", err
		}
		s.Tasks = matched.Tasks
		s.Unassignable = matched.Unassignable
		if err := replan(s, weeks); err != nil {
			return "", err
		}
		s.Phase = domain.PhasePlanned
		return fmt.Sprintf("assigned %d of %d tasks over %d weeks, %d overcommitted",
			len(matched.Assigned), len(s.Tasks), weeks, len(s.Overcommitted)), nil
	})
	if err != nil {
		return TeamResult{}, err
	}
	return teamResult(s), nil
}

// ReassignTask moves a task to another member and rebuilds the plan. It is
// how a recommended corrective action gets applied. Check-ins already
// recorded for the task stay as history under the member who submitted them;
// later check-ins must come from the new assignee.
func (e Engine) ReassignTask(ctx context.Context, taskID, memberID string) (TeamResult, error) {
	components := []string{ComponentPlanner, ComponentStore}
	taskID, memberID = strings.TrimSpace(taskID), strings.TrimSpace(memberID)
	s, err := e.run(ctx, ActionReassignTask, components, func(s *domain.State) (string, error) {
		if err := requirePhase(s, ActionReassignTask, domain.PhasePlanned, domain.PhaseActive); err != nil {
			return "", err
		}
		if _, ok := s.Member(memberID); !ok {
			return "", fmt.Errorf("member %s: %w", memberID, domain.ErrNotFound)
		}
		idx := -1
		for i, t := range s.Tasks {
			if t.ID == taskID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return "", fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
		}
		task := &s.Tasks[idx]
		if task.Status == domain.TaskDone {
			return "", domain.Invalidf("task %s is already done", taskID)
		}
		from := task.Assignee
		task.Assignee = memberID
		if task.Status == domain.TaskUnassigned {
			task.Status = domain.TaskAssigned
		}
		s.Unassignable = without(s.Unassignable, taskID)
		if err := replan(s, len(s.Plan)); err != nil {
			return "", err
		}
		if from == "" {
			from = "nobody"
		}
		return fmt.Sprintf("moved %s from %s to %s", taskID, from, memberID), nil
	})
	if err != nil {
		return TeamResult{}, err
	}
	return teamResult(s), nil
}

func replan(s *domain.State, weeks int) error {
	built, err := plan.Build(s.Tasks, s.Team, weeks)
	if err != nil {
		return err
	}
	s.Plan = built.Entries
	s.Overcommitted = built.Overcommitted
	s.Blocked = built.Blocked
	return nil
}

func horizon(p domain.Project) (int, error) {
	start, err := time.Parse(domain.DateLayout, p.StartDate)
	if err != nil {
		return 0, domain.Invalidf("project start date %q: %v", p.StartDate, err)
	}
	deadline, err := time.Parse(domain.DateLayout, p.Deadline)
	if err != nil {
		return 0, domain.Invalidf("project deadline %q: %v", p.Deadline, err)
	}
	return plan.Weeks(start, deadline), nil
}

// normalizeTeam validates a roster and fills in missing ids. A member
// without an id gets one derived from the name, so resubmitting the same
// roster yields the same ids.
func normalizeTeam(members []domain.TeamMember) ([]domain.TeamMember, error) {
	if len(members) == 0 {
		return nil, domain.Invalidf("team_members must not be empty")
	}
	out := make([]domain.TeamMember, len(members))
	seen := make(map[string]bool, len(members))
	for i, m := range members {
		m.Name = strings.TrimSpace(m.Name)
		m.ID = strings.TrimSpace(m.ID)
		if m.Name == "" {
			return nil, domain.Invalidf("team member %d has no name", i+1)
		}
		if m.WeeklyHours < 0 || math.IsNaN(m.WeeklyHours) || math.IsInf(m.WeeklyHours, 0) {
			return nil, domain.Invalidf("team member %s has invalid weekly_hours %v", m.Name, m.WeeklyHours)
		}
		if m.ID == "" {
			m.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.ToLower(m.Name))).String()
		}
		if seen[m.ID] {
			return nil, domain.Invalidf("duplicate team member id %s", m.ID)
		}
		seen[m.ID] = true
		var skills []string
		for _, sk := range m.Skills {
			if sk = strings.TrimSpace(sk); sk != "" {
				skills = append(skills, sk)
			}
		}
		m.Skills = skills
		out[i] = m
	}
	return out, nil
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
