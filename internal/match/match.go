// Package match assigns team members to unassigned tasks.
package match

import (
	"strings"
	"unicode"

	"groupsync/internal/domain"
	"groupsync/internal/taskgraph"
)

// Result is the outcome of one matching pass.
type Result struct {
	// Tasks is the full task list in input order with new assignees applied.
	Tasks []domain.Task
	// Assigned maps task id to member id for tasks matched in this pass.
	Assigned map[string]string
	// Unassignable lists tasks no member had room for, in visit order.
	Unassignable []string
}

type candidate struct {
	member    domain.TeamMember
	index     int
	remaining float64
	assigned  int
}

// Match greedily assigns every unassigned task to a member whose weekly
// hours and remaining capacity over horizonWeeks both cover the task's
// effort. Tasks are visited in dependency order. Candidates rank by skill
// overlap, then remaining capacity, then fewer assigned tasks, then roster
// order. Tasks that already have an assignee keep it and count against that
// member's capacity.
func Match(tasks []domain.Task, team []domain.TeamMember, horizonWeeks int) (Result, error) {
	if horizonWeeks < 1 {
		horizonWeeks = 1
	}
	res := Result{
		Tasks:        append([]domain.Task{}, tasks...),
		Assigned:     map[string]string{},
		Unassignable: []string{},
	}

	pool := make([]*candidate, len(team))
	byID := make(map[string]*candidate, len(team))
	for i, m := range team {
		c := &candidate{member: m, index: i, remaining: m.WeeklyHours * float64(horizonWeeks)}
		pool[i] = c
		byID[m.ID] = c
	}
	for _, t := range res.Tasks {
		if t.Assignee == "" {
			continue
		}
		if c, ok := byID[t.Assignee]; ok {
			c.remaining -= t.EstimatedHours
			c.assigned++
		}
	}

	ordered, err := taskgraph.Order(res.Tasks)
	if err != nil {
		return Result{}, err
	}
	position := make(map[string]int, len(res.Tasks))
	for i, t := range res.Tasks {
		position[t.ID] = i
	}

	for _, t := range ordered {
		if t.Status != domain.TaskUnassigned || t.Assignee != "" {
			continue
		}
		words := taskWords(t)
		var best *candidate
		bestOverlap := -1
		for _, c := range pool {
			if c.member.WeeklyHours < t.EstimatedHours || c.remaining < t.EstimatedHours {
				continue
			}
			overlap := skillOverlap(c.member.Skills, t.Skills, words)
			if best == nil || better(c, overlap, best, bestOverlap) {
				best, bestOverlap = c, overlap
			}
		}
		if best == nil {
			res.Unassignable = append(res.Unassignable, t.ID)
			continue
		}
		best.remaining -= t.EstimatedHours
		best.assigned++
		i := position[t.ID]
		res.Tasks[i].Assignee = best.member.ID
		res.Tasks[i].Status = domain.TaskAssigned
		res.Assigned[t.ID] = best.member.ID
	}
	return res, nil
}

func better(c *candidate, overlap int, best *candidate, bestOverlap int) bool {
	if overlap != bestOverlap {
		return overlap > bestOverlap
	}
	if c.remaining != best.remaining {
		return c.remaining > best.remaining
	}
	if c.assigned != best.assigned {
		return c.assigned < best.assigned
	}
	return c.index < best.index
}

// skillOverlap counts member skills that the task asks for explicitly or
// whose words all appear in the task text.
func skillOverlap(memberSkills, taskSkills []string, words map[string]bool) int {
	explicit := make(map[string]bool, len(taskSkills))
	for _, s := range taskSkills {
		explicit[normalize(s)] = true
	}
	n := 0
	for _, s := range memberSkills {
		key := normalize(s)
		if key == "" {
			continue
		}
		if explicit[key] {
			n++
			continue
		}
		all := true
		for _, w := range tokenize(key) {
			if !words[w] {
				all = false
				break
			}
		}
		if all {
			n++
		}
	}
	return n
}

func taskWords(t domain.Task) map[string]bool {
	words := map[string]bool{}
	for _, text := range append([]string{t.Package, t.Title, t.Description}, t.Skills...) {
		for _, w := range tokenize(text) {
			words[w] = true
		}
	}
	return words
}

func normalize(s string) string {
	return strings.Join(tokenize(s), " ")
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
