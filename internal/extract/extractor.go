// Package extract turns a brief into a validated initial task list.
//
// Reading documents and proposing tasks are external concerns behind the
// TextExtractor and Proposer interfaces; this package owns the resulting
// schema and its validation.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"groupsync/internal/domain"
	"groupsync/internal/taskgraph"
)

// Proposal is one task suggested by a Proposer.
type Proposal struct {
	ID             string   `yaml:"id" json:"id,omitempty"`
	Title          string   `yaml:"title" json:"title"`
	Description    string   `yaml:"description" json:"description,omitempty"`
	Package        string   `yaml:"package" json:"package,omitempty"`
	EstimatedHours float64  `yaml:"estimated_hours" json:"estimated_hours"`
	Dependencies   []string `yaml:"dependencies" json:"dependencies,omitempty"`
	Skills         []string `yaml:"skills" json:"skills,omitempty"`
}

// Proposer suggests tasks for a brief. Implementations wrap their failures in
// domain.ErrExtractionFailed.
type Proposer interface {
	ProposeTasks(ctx context.Context, brief string, deadline time.Time) ([]Proposal, error)
}

// ProposerFunc adapts a function to Proposer.
type ProposerFunc func(ctx context.Context, brief string, deadline time.Time) ([]Proposal, error)

func (f ProposerFunc) ProposeTasks(ctx context.Context, brief string, deadline time.Time) ([]Proposal, error) {
	return f(ctx, brief, deadline)
}

type Extractor struct {
	Proposer     Proposer
	DefaultHours float64
}

func New(p Proposer, defaultHours float64) Extractor {
	if p == nil {
		p = BriefProposer{DefaultHours: defaultHours}
	}
	return Extractor{Proposer: p, DefaultHours: defaultHours}
}

// Extract proposes tasks for the brief and validates them as one batch. The
// result keeps proposal order; every task starts unassigned.
func (x Extractor) Extract(ctx context.Context, brief string, deadline time.Time) ([]domain.Task, error) {
	if x.Proposer == nil {
		return nil, fmt.Errorf("%w: no proposer configured", domain.ErrExtractionFailed)
	}
	proposals, err := x.Proposer.ProposeTasks(ctx, brief, deadline)
	if err != nil {
		if errors.Is(err, domain.ErrExtractionFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
	}
	if len(proposals) == 0 {
		return nil, fmt.Errorf("%w: no tasks proposed", domain.ErrExtractionFailed)
	}
	return x.FromProposals(proposals)
}

// FromProposals converts and validates proposals without calling the proposer.
func (x Extractor) FromProposals(proposals []Proposal) ([]domain.Task, error) {
	defaultHours := x.DefaultHours
	if defaultHours <= 0 {
		defaultHours = 2
	}
	taken := make(map[string]bool, len(proposals))
	for _, p := range proposals {
		if id := strings.TrimSpace(p.ID); id != "" {
			taken[id] = true
		}
	}
	tasks := make([]domain.Task, len(proposals))
	next := 1
	for i, p := range proposals {
		title := strings.TrimSpace(p.Title)
		if title == "" {
			return nil, domain.Invalidf("task %d has no title", i+1)
		}
		if p.EstimatedHours < 0 {
			return nil, domain.Invalidf("task %q has negative estimated hours", title)
		}
		id := strings.TrimSpace(p.ID)
		if id == "" {
			for taken["task_"+strconv.Itoa(next)] {
				next++
			}
			id = "task_" + strconv.Itoa(next)
			taken[id] = true
			next++
		}
		hours := p.EstimatedHours
		if hours == 0 {
			hours = defaultHours
		}
		tasks[i] = domain.Task{
			ID:             id,
			Title:          title,
			Description:    strings.TrimSpace(p.Description),
			Package:        strings.TrimSpace(p.Package),
			EstimatedHours: hours,
			Skills:         trimAll(p.Skills),
			Status:         domain.TaskUnassigned,
		}
	}
	for i, p := range proposals {
		tasks[i].Dependencies = resolveDependencies(tasks, p.Dependencies)
	}
	if err := taskgraph.Validate(tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// resolveDependencies maps references to task ids. A reference that is not
// an id but matches exactly one title is taken as that task; anything else is
// kept verbatim so validation reports it.
func resolveDependencies(tasks []domain.Task, refs []string) []string {
	if len(refs) == 0 {
		return nil
	}
	out := make([]string, 0, len(refs))
	seen := map[string]bool{}
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		id := ref
		if !hasID(tasks, ref) {
			if match, ok := titleMatch(tasks, ref); ok {
				id = match
			}
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func hasID(tasks []domain.Task, id string) bool {
	for _, t := range tasks {
		if t.ID == id {
			return true
		}
	}
	return false
}

func titleMatch(tasks []domain.Task, title string) (string, bool) {
	found := ""
	for _, t := range tasks {
		if strings.EqualFold(t.Title, title) {
			if found != "" {
				return "", false
			}
			found = t.ID
		}
	}
	return found, found != ""
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
