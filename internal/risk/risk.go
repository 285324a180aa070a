// Package risk compares reported progress with the plan and recommends
// corrective actions.
package risk

import (
	"fmt"
	"math"
	"time"

	"groupsync/internal/domain"
)

type Thresholds struct {
	// OnTrackMax is the largest deviation still flagged on_track.
	OnTrackMax float64
	// AtRiskMax is the largest deviation flagged at_risk; above it is critical.
	AtRiskMax float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{OnTrackMax: 0.15, AtRiskMax: 0.35}
}

func (t Thresholds) Flag(deviation float64) domain.Flag {
	switch {
	case deviation <= t.OnTrackMax:
		return domain.FlagOnTrack
	case deviation <= t.AtRiskMax:
		return domain.FlagAtRisk
	default:
		return domain.FlagCritical
	}
}

type Analyzer struct {
	Thresholds Thresholds
	Now        func() time.Time
}

func New(t Thresholds) Analyzer {
	return Analyzer{Thresholds: t, Now: time.Now}
}

// Outcome is the result of Analyze. Reused is true when an existing snapshot
// was returned instead of computing a new one.
type Outcome struct {
	Snapshot domain.RiskSnapshot
	Reused   bool
}

// Evaluate scores every task scheduled at or before week. It reads s only
// and leaves Revision and CreatedAt unset.
func (a Analyzer) Evaluate(s domain.State, week int) domain.RiskSnapshot {
	snap := domain.RiskSnapshot{
		Week:    week,
		Tasks:   []domain.TaskRisk{},
		Members: map[string]float64{},
		Flag:    domain.FlagOnTrack,
		Actions: []domain.CorrectiveAction{},
	}
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, t := range s.Tasks {
		scheduled := s.ScheduledWeek(t.ID)
		if scheduled < 0 || scheduled > week {
			continue
		}
		member, _ := s.Member(t.Assignee)
		expected := clamp(float64(week-scheduled+1) / float64(allottedWeeks(t.EstimatedHours, member.WeeklyHours)))
		actual, blocker := latestProgress(s.CheckIns, t.ID, week)
		if t.Status == domain.TaskDone {
			actual = 1
		}
		deviation := round(expected - actual)
		tr := domain.TaskRisk{
			TaskID:    t.ID,
			Assignee:  t.Assignee,
			Week:      scheduled,
			Expected:  round(expected),
			Actual:    round(actual),
			Deviation: deviation,
			Flag:      a.Thresholds.Flag(deviation),
			Blocker:   blocker,
		}
		snap.Tasks = append(snap.Tasks, tr)
		if tr.Flag.Severity() > snap.Flag.Severity() {
			snap.Flag = tr.Flag
		}
		if t.Assignee != "" {
			sums[t.Assignee] += deviation
			counts[t.Assignee]++
		}
	}
	for id, n := range counts {
		snap.Members[id] = round(sums[id] / float64(n))
	}
	snap.Actions = a.actions(s, snap.Tasks)
	return snap
}

// Analyze evaluates week and appends the snapshot to s. An existing snapshot
// for week is returned unchanged unless force is set, in which case a new
// revision is appended and the old one kept. Once analysis has started, weeks
// must stay contiguous.
func (a Analyzer) Analyze(s *domain.State, week int, force bool) (Outcome, error) {
	if week < 0 || week >= len(s.Plan) {
		return Outcome{}, domain.Invalidf("week %d is outside the plan (0..%d)", week, len(s.Plan)-1)
	}
	if len(s.RiskSnapshots) > 0 {
		first, last := weekRange(s.RiskSnapshots)
		if week < first || week > last+1 {
			return Outcome{}, fmt.Errorf("%w: week %d, analyzed weeks are %d..%d", domain.ErrSnapshotGap, week, first, last)
		}
	}
	prev, exists := Latest(*s, week)
	if exists && !force {
		return Outcome{Snapshot: prev, Reused: true}, nil
	}
	snap := a.Evaluate(*s, week)
	snap.Revision = prev.Revision + 1
	snap.CreatedAt = a.now()
	s.RiskSnapshots = append(s.RiskSnapshots, snap)
	return Outcome{Snapshot: snap}, nil
}

// Latest returns the newest revision for week.
func Latest(s domain.State, week int) (domain.RiskSnapshot, bool) {
	for i := len(s.RiskSnapshots) - 1; i >= 0; i-- {
		if s.RiskSnapshots[i].Week == week {
			return s.RiskSnapshots[i], true
		}
	}
	return domain.RiskSnapshot{}, false
}

func (a Analyzer) actions(s domain.State, risks []domain.TaskRisk) []domain.CorrectiveAction {
	out := []domain.CorrectiveAction{}
	spare := spareCapacity(s)
	for _, r := range risks {
		switch {
		case r.Flag == domain.FlagCritical:
			task, _ := s.Task(r.TaskID)
			remaining := task.EstimatedHours * (1 - r.Actual)
			if id, ok := pickCandidate(s.Team, spare, r.Assignee, remaining); ok {
				spare[id] -= remaining
				out = append(out, domain.CorrectiveAction{
					TaskID:      r.TaskID,
					Kind:        domain.ActionReassign,
					Description: fmt.Sprintf("reassign %s to %s (%.1fh remaining)", r.TaskID, id, remaining),
					Candidate:   id,
				})
				continue
			}
			out = append(out, domain.CorrectiveAction{
				TaskID:      r.TaskID,
				Kind:        domain.ActionRenegotiateDeadline,
				Description: fmt.Sprintf("no teammate can absorb %.1fh for %s; renegotiate the deadline", remaining, r.TaskID),
			})
		case r.Flag == domain.FlagAtRisk && r.Blocker != "":
			out = append(out, domain.CorrectiveAction{
				TaskID:      r.TaskID,
				Kind:        domain.ActionEscalate,
				Description: fmt.Sprintf("escalate blocker on %s: %s", r.TaskID, r.Blocker),
			})
		}
	}
	return out
}

// spareCapacity is each member's hours over the whole plan minus the hours
// of their unfinished tasks.
func spareCapacity(s domain.State) map[string]float64 {
	weeks := float64(max(len(s.Plan), 1))
	spare := make(map[string]float64, len(s.Team))
	for _, m := range s.Team {
		spare[m.ID] = m.WeeklyHours * weeks
	}
	for _, t := range s.Tasks {
		if t.Assignee != "" && t.Status != domain.TaskDone {
			spare[t.Assignee] -= t.EstimatedHours
		}
	}
	return spare
}

func pickCandidate(team []domain.TeamMember, spare map[string]float64, current string, need float64) (string, bool) {
	best := ""
	for _, m := range team {
		if m.ID == current || spare[m.ID] < need {
			continue
		}
		if best == "" || spare[m.ID] > spare[best] {
			best = m.ID
		}
	}
	return best, best != ""
}

// latestProgress returns the most recent report for task at or before week
// as a fraction, with its blocker.
func latestProgress(checkIns []domain.CheckIn, taskID string, week int) (float64, string) {
	var latest *domain.CheckIn
	for i := range checkIns {
		c := &checkIns[i]
		if c.TaskID != taskID || c.Week > week {
			continue
		}
		if latest == nil || c.Week > latest.Week || (c.Week == latest.Week && !c.SubmittedAt.Before(latest.SubmittedAt)) {
			latest = c
		}
	}
	if latest == nil {
		return 0, ""
	}
	return latest.PercentComplete / 100, latest.Blocker
}

func allottedWeeks(effort, weeklyHours float64) int {
	if weeklyHours <= 0 || effort <= 0 {
		return 1
	}
	return max(1, int(math.Ceil(effort/weeklyHours)))
}

func weekRange(snaps []domain.RiskSnapshot) (int, int) {
	first, last := snaps[0].Week, snaps[0].Week
	for _, s := range snaps[1:] {
		first = min(first, s.Week)
		last = max(last, s.Week)
	}
	return first, last
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func (a Analyzer) now() time.Time {
	if a.Now == nil {
		return time.Now().UTC()
	}
	return a.Now().UTC()
}
