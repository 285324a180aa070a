package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupsync/internal/domain"
)

func task(id string, hours float64, deps ...string) domain.Task {
	return domain.Task{ID: id, Title: id, EstimatedHours: hours, Dependencies: deps, Status: domain.TaskUnassigned}
}

func TestMatchSingleMemberTakesChain(t *testing.T) {
	team := []domain.TeamMember{{ID: "m1", Name: "Ana", Skills: []string{"writing"}, WeeklyHours: 40}}
	res, err := Match([]domain.Task{task("a", 10), task("b", 10, "a")}, team, 4)
	require.NoError(t, err)
	assert.Empty(t, res.Unassignable)
	for _, tk := range res.Tasks {
		assert.Equal(t, "m1", tk.Assignee)
		assert.Equal(t, domain.TaskAssigned, tk.Status)
	}
	assert.Equal(t, map[string]string{"a": "m1", "b": "m1"}, res.Assigned)
}

func TestMatchPrefersSkillOverlap(t *testing.T) {
	team := []domain.TeamMember{
		{ID: "gen", Name: "Generalist", WeeklyHours: 40},
		{ID: "dev", Name: "Dev", Skills: []string{"Data Analysis"}, WeeklyHours: 5},
	}
	tk := task("a", 4)
	tk.Title = "Run the data analysis"
	res, err := Match([]domain.Task{tk}, team, 1)
	require.NoError(t, err)
	assert.Equal(t, "dev", res.Tasks[0].Assignee)

	tk.Title = "Write intro"
	tk.Skills = []string{"data analysis"}
	res, err = Match([]domain.Task{tk}, team, 1)
	require.NoError(t, err)
	assert.Equal(t, "dev", res.Tasks[0].Assignee)
}

func TestMatchBalancesOnCapacityThenLoad(t *testing.T) {
	team := []domain.TeamMember{
		{ID: "m1", Name: "A", WeeklyHours: 10},
		{ID: "m2", Name: "B", WeeklyHours: 10},
	}
	res, err := Match([]domain.Task{task("a", 3), task("b", 3), task("c", 3)}, team, 1)
	require.NoError(t, err)
	assert.Equal(t, "m1", res.Tasks[0].Assignee)
	assert.Equal(t, "m2", res.Tasks[1].Assignee)
	assert.Equal(t, "m1", res.Tasks[2].Assignee)
}

func TestMatchNeverExceedsCapacity(t *testing.T) {
	team := []domain.TeamMember{{ID: "m1", Name: "A", WeeklyHours: 10}}
	res, err := Match([]domain.Task{task("big", 25), task("small", 8), task("other", 14)}, team, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"big", "other"}, res.Unassignable)
	assert.Equal(t, domain.TaskUnassigned, res.Tasks[0].Status)
	assert.Equal(t, "m1", res.Tasks[1].Assignee)
	assert.Empty(t, res.Tasks[2].Assignee)

	total := 0.0
	for _, tk := range res.Tasks {
		if tk.Assignee == "m1" {
			total += tk.EstimatedHours
		}
	}
	assert.LessOrEqual(t, total, 20.0)
}

func TestMatchRejectsTaskLargerThanWeeklyHours(t *testing.T) {
	team := []domain.TeamMember{{ID: "m1", Name: "A", WeeklyHours: 40}}
	res, err := Match([]domain.Task{task("big", 50), task("fits", 40)}, team, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"big"}, res.Unassignable)
	assert.Empty(t, res.Tasks[0].Assignee)
	assert.Equal(t, domain.TaskUnassigned, res.Tasks[0].Status)
	assert.Equal(t, "m1", res.Tasks[1].Assignee)
}

func TestMatchVisitsInDependencyOrder(t *testing.T) {
	team := []domain.TeamMember{{ID: "m1", Name: "A", WeeklyHours: 10}}
	// "b" comes first in the list but depends on "a", so "a" claims the hours.
	res, err := Match([]domain.Task{task("b", 6, "a"), task("a", 6)}, team, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, res.Unassignable)
	assert.Equal(t, "m1", res.Tasks[1].Assignee)
}

func TestMatchKeepsExistingAssignments(t *testing.T) {
	team := []domain.TeamMember{
		{ID: "m1", Name: "A", WeeklyHours: 10},
		{ID: "m2", Name: "B", WeeklyHours: 10},
	}
	done := task("a", 8)
	done.Assignee = "m1"
	done.Status = domain.TaskInProgress
	res, err := Match([]domain.Task{done, task("b", 5)}, team, 1)
	require.NoError(t, err)
	assert.Equal(t, "m1", res.Tasks[0].Assignee)
	assert.Equal(t, domain.TaskInProgress, res.Tasks[0].Status)
	assert.Equal(t, "m2", res.Tasks[1].Assignee)
	assert.NotContains(t, res.Assigned, "a")
}

func TestMatchEmptyTeam(t *testing.T) {
	res, err := Match([]domain.Task{task("a", 1)}, nil, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.Unassignable)
}

func TestMatchDoesNotMutateInput(t *testing.T) {
	in := []domain.Task{task("a", 1)}
	_, err := Match(in, []domain.TeamMember{{ID: "m1", WeeklyHours: 5}}, 1)
	require.NoError(t, err)
	assert.Empty(t, in[0].Assignee)
}
