// Package plan places assigned tasks into weeks before the deadline.
package plan

import (
	"fmt"
	"math"
	"time"

	"groupsync/internal/domain"
	"groupsync/internal/taskgraph"
)

type Result struct {
	Entries []domain.WeeklyPlanEntry
	// Overcommitted lists tasks forced into the final week.
	Overcommitted []string
	// Blocked lists scheduled tasks waiting on a dependency that has no
	// assignee and therefore no week.
	Blocked []string
}

// Weeks returns the whole weeks between start and deadline, at least 1.
func Weeks(start, deadline time.Time) int {
	days := math.Floor(deadline.Sub(start).Hours() / 24)
	weeks := int(days) / 7
	if weeks < 1 {
		return 1
	}
	return weeks
}

// Build schedules every task that has an assignee on the team. Tasks are
// walked in dependency order and land in the earliest week after all their
// scheduled dependencies where the assignee still has room. A task that fits
// nowhere goes into the final week and is reported overcommitted. A
// dependency on an id missing from tasks is an unresolved dependency; one on
// an unassigned task leaves the dependent scheduled but Blocked.
func Build(tasks []domain.Task, team []domain.TeamMember, weeks int) (Result, error) {
	if weeks < 1 {
		return Result{}, domain.Invalidf("plan needs at least one week, got %d", weeks)
	}
	hours := make(map[string]float64, len(team))
	for _, m := range team {
		hours[m.ID] = m.WeeklyHours
	}

	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if !known[dep] {
				return Result{}, domain.TaskGraphError{TaskID: t.ID, Dependency: dep}
			}
		}
	}

	var placeable []domain.Task
	for _, t := range tasks {
		if t.Assignee == "" {
			continue
		}
		if _, ok := hours[t.Assignee]; !ok {
			return Result{}, fmt.Errorf("task %s: assignee %q is not on the team: %w", t.ID, t.Assignee, domain.ErrInvalidInput)
		}
		placeable = append(placeable, t)
	}
	ordered, err := taskgraph.Order(placeable)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Entries:       make([]domain.WeeklyPlanEntry, weeks),
		Overcommitted: []string{},
		Blocked:       []string{},
	}
	for w := range res.Entries {
		load := make(map[string]float64, len(team))
		for _, m := range team {
			load[m.ID] = 0
		}
		res.Entries[w] = domain.WeeklyPlanEntry{Week: w, TaskIDs: []string{}, MemberHours: load}
	}

	placed := make(map[string]int, len(ordered))
	last := weeks - 1
	for _, t := range ordered {
		earliest := 0
		blocked := false
		for _, dep := range t.Dependencies {
			w, ok := placed[dep]
			if !ok {
				blocked = true
				continue
			}
			if w+1 > earliest {
				earliest = w + 1
			}
		}
		if blocked {
			res.Blocked = append(res.Blocked, t.ID)
		}

		week := -1
		for w := earliest; w <= last; w++ {
			if res.Entries[w].MemberHours[t.Assignee]+t.EstimatedHours <= hours[t.Assignee] {
				week = w
				break
			}
		}
		if week < 0 {
			week = last
			res.Entries[last].Overcommitted = append(res.Entries[last].Overcommitted, t.ID)
			res.Overcommitted = append(res.Overcommitted, t.ID)
		}
		entry := &res.Entries[week]
		entry.TaskIDs = append(entry.TaskIDs, t.ID)
		entry.MemberHours[t.Assignee] += t.EstimatedHours
		placed[t.ID] = entry.Week
	}
	return res, nil
}
