// Package taskgraph validates task dependency graphs and orders them.
package taskgraph

import (
	"strconv"

	"groupsync/internal/domain"
)

const (
	white = iota
	gray
	black
)

// Validate rejects duplicate ids, dependencies outside the batch and cycles.
func Validate(tasks []domain.Task) error {
	index := make(map[string]int, len(tasks))
	for i, t := range tasks {
		if t.ID == "" {
			return domain.TaskGraphError{TaskID: "#" + strconv.Itoa(i+1), Reason: "missing id"}
		}
		if _, dup := index[t.ID]; dup {
			return domain.TaskGraphError{TaskID: t.ID, Reason: "duplicate id"}
		}
		index[t.ID] = i
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, ok := index[dep]; !ok {
				return domain.TaskGraphError{TaskID: t.ID, Dependency: dep}
			}
		}
	}

	color := make(map[string]int, len(tasks))
	var stack []string
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range tasks[index[id]].Dependencies {
			switch color[dep] {
			case gray:
				return domain.TaskGraphError{TaskID: id, Path: cyclePath(stack, dep)}
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}
	for _, t := range tasks {
		if color[t.ID] == white {
			if err := visit(t.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func cyclePath(stack []string, start string) []string {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == start {
			path := append([]string{}, stack[i:]...)
			return append(path, start)
		}
	}
	return []string{start, start}
}

// Order returns tasks so that every task follows its dependencies. Ties keep
// the input order. Dependencies on ids outside tasks are ignored, so a subset
// of a valid graph can be ordered. A cycle yields an invalid task graph error.
func Order(tasks []domain.Task) ([]domain.Task, error) {
	index := make(map[string]int, len(tasks))
	for i, t := range tasks {
		index[t.ID] = i
	}
	pending := make([]int, len(tasks))
	dependents := make([][]int, len(tasks))
	for i, t := range tasks {
		for _, dep := range t.Dependencies {
			j, ok := index[dep]
			if !ok {
				continue
			}
			pending[i]++
			dependents[j] = append(dependents[j], i)
		}
	}
	done := make([]bool, len(tasks))
	out := make([]domain.Task, 0, len(tasks))
	for len(out) < len(tasks) {
		next := -1
		for i := range tasks {
			if !done[i] && pending[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			for i := range tasks {
				if !done[i] {
					return nil, domain.TaskGraphError{TaskID: tasks[i].ID, Reason: "dependency cycle"}
				}
			}
		}
		done[next] = true
		out = append(out, tasks[next])
		for _, d := range dependents[next] {
			pending[d]--
		}
	}
	return out, nil
}
