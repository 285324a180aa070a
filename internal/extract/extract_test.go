package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupsync/internal/domain"
)

var deadline = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func fixed(proposals ...Proposal) Proposer {
	return ProposerFunc(func(context.Context, string, time.Time) ([]Proposal, error) {
		return proposals, nil
	})
}

func TestExtractAssignsIDsAndDefaults(t *testing.T) {
	x := New(fixed(
		Proposal{Title: "Research", Package: "Planning", EstimatedHours: 4},
		Proposal{Title: "Write", Dependencies: []string{"task_1"}},
	), 3)
	tasks, err := x.Extract(context.Background(), "brief", deadline)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "task_1", tasks[0].ID)
	assert.Equal(t, "task_2", tasks[1].ID)
	assert.Equal(t, 3.0, tasks[1].EstimatedHours)
	assert.Equal(t, []string{"task_1"}, tasks[1].Dependencies)
	for _, tk := range tasks {
		assert.Equal(t, domain.TaskUnassigned, tk.Status)
		assert.Empty(t, tk.Assignee)
	}
}

func TestExtractGeneratedIDsSkipExplicitOnes(t *testing.T) {
	x := New(fixed(Proposal{ID: "task_1", Title: "A"}, Proposal{Title: "B"}), 2)
	tasks, err := x.Extract(context.Background(), "", deadline)
	require.NoError(t, err)
	assert.Equal(t, "task_1", tasks[0].ID)
	assert.Equal(t, "task_2", tasks[1].ID)
}

func TestExtractResolvesDependenciesByTitle(t *testing.T) {
	x := New(fixed(Proposal{ID: "a", Title: "Research"}, Proposal{ID: "b", Title: "Write", Dependencies: []string{"research"}}), 2)
	tasks, err := x.Extract(context.Background(), "", deadline)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, tasks[1].Dependencies)
}

func TestExtractRejectsInvalidGraphs(t *testing.T) {
	cyclic := New(fixed(Proposal{ID: "a", Title: "A", Dependencies: []string{"b"}}, Proposal{ID: "b", Title: "B", Dependencies: []string{"a"}}), 2)
	_, err := cyclic.Extract(context.Background(), "", deadline)
	require.ErrorIs(t, err, domain.ErrInvalidTaskGraph)

	dangling := New(fixed(Proposal{ID: "a", Title: "A", Dependencies: []string{"nope"}}), 2)
	_, err = dangling.Extract(context.Background(), "", deadline)
	require.ErrorIs(t, err, domain.ErrUnresolvedDependency)

	dup := New(fixed(Proposal{ID: "a", Title: "A"}, Proposal{ID: "a", Title: "B"}), 2)
	_, err = dup.Extract(context.Background(), "", deadline)
	require.ErrorIs(t, err, domain.ErrInvalidTaskGraph)
}

func TestExtractRejectsBadProposals(t *testing.T) {
	_, err := New(fixed(Proposal{Title: " "}), 2).Extract(context.Background(), "", deadline)
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = New(fixed(Proposal{Title: "x", EstimatedHours: -1}), 2).Extract(context.Background(), "", deadline)
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = New(fixed(), 2).Extract(context.Background(), "", deadline)
	require.ErrorIs(t, err, domain.ErrExtractionFailed)
}

func TestExtractWrapsProposerFailure(t *testing.T) {
	failing := ProposerFunc(func(context.Context, string, time.Time) ([]Proposal, error) {
		return nil, errors.New("model unavailable")
	})
	_, err := New(failing, 2).Extract(context.Background(), "", deadline)
	require.ErrorIs(t, err, domain.ErrExtractionFailed)
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestBriefProposerOutline(t *testing.T) {
	brief := `# Research
- Literature review (6h)
- Interview users [after: Literature review] (3h)

## Writing
1. Draft report [after: Interview users]
2) Final edit`
	x := New(BriefProposer{DefaultHours: 2}, 2)
	tasks, err := x.Extract(context.Background(), brief, deadline)
	require.NoError(t, err)
	require.Len(t, tasks, 4)

	assert.Equal(t, "Literature review", tasks[0].Title)
	assert.Equal(t, "Research", tasks[0].Package)
	assert.Equal(t, 6.0, tasks[0].EstimatedHours)

	assert.Equal(t, "Interview users", tasks[1].Title)
	assert.Equal(t, 3.0, tasks[1].EstimatedHours)
	assert.Equal(t, []string{tasks[0].ID}, tasks[1].Dependencies)

	assert.Equal(t, "Writing", tasks[2].Package)
	assert.Equal(t, 2.0, tasks[2].EstimatedHours)
	assert.Equal(t, []string{tasks[1].ID}, tasks[2].Dependencies)
	assert.Equal(t, "Final edit", tasks[3].Title)
}

func TestBriefProposerYAML(t *testing.T) {
	brief := `tasks:
  - id: a
    title: Plan
    package: Planning
    estimated_hours: 5
    skills: [planning]
  - id: b
    title: Build
    dependencies: [a]
`
	props, err := BriefProposer{}.ProposeTasks(context.Background(), brief, deadline)
	require.NoError(t, err)
	require.Len(t, props, 2)
	assert.Equal(t, []string{"planning"}, props[0].Skills)
	assert.Equal(t, []string{"a"}, props[1].Dependencies)
}

func TestBriefProposerPlaceholder(t *testing.T) {
	props, err := BriefProposer{}.ProposeTasks(context.Background(), "Write an essay about rivers.", deadline)
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, "Read the brief", props[0].Title)
	assert.Equal(t, "Planning", props[0].Package)
	assert.Equal(t, 2.0, props[0].EstimatedHours)
}

func TestPlainTextExtractor(t *testing.T) {
	var x PlainText
	text, err := x.ExtractText([]byte("\xef\xbb\xbf  hello\r\nworld  "), "text/plain; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", text)

	_, err = x.ExtractText([]byte("%PDF-1.7 ..."), "application/pdf")
	require.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	_, err = x.ExtractText([]byte("%PDF-1.7 ..."), "")
	require.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	_, err = x.ExtractText([]byte{0xff, 0xfe, 0x00}, "text/plain")
	require.ErrorIs(t, err, domain.ErrCorruptDocument)

	_, err = x.ExtractText([]byte("   "), "text/markdown")
	require.ErrorIs(t, err, domain.ErrCorruptDocument)
}
