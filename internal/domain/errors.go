package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrInvalidTaskGraph       = errors.New("invalid task graph")
	ErrUnresolvedDependency   = errors.New("unresolved dependency")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrConflict indicates a concurrent modification won the optimistic commit.
	ErrConflict          = errors.New("conflict: state was modified by another request")
	ErrDuplicateCheckIn  = errors.New("duplicate check-in")
	ErrUnknownAssignment = errors.New("unknown assignment")
	ErrSnapshotGap       = errors.New("risk snapshot gap")
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrCorruptDocument   = errors.New("corrupt document")
	ErrExtractionFailed  = errors.New("task extraction failed")
)

// TaskGraphError reports a structural problem with a task batch.
type TaskGraphError struct {
	TaskID     string
	Dependency string
	Path       []string
	Reason     string
}

func (e TaskGraphError) Error() string {
	switch {
	case len(e.Path) > 0:
		return fmt.Sprintf("invalid task graph: cycle %s", strings.Join(e.Path, " -> "))
	case e.Dependency != "":
		return fmt.Sprintf("invalid task graph: task %s depends on unknown task %s", e.TaskID, e.Dependency)
	default:
		return fmt.Sprintf("invalid task graph: task %s: %s", e.TaskID, e.Reason)
	}
}

func (e TaskGraphError) Is(target error) bool {
	if target == ErrInvalidTaskGraph {
		return true
	}
	return target == ErrUnresolvedDependency && e.Dependency != ""
}

// TransitionError is returned when an operation is not allowed in the current phase.
type TransitionError struct {
	Action string
	From   Phase
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s not allowed in phase %s", e.Action, e.From)
}

func (e TransitionError) Is(target error) bool { return target == ErrInvalidStateTransition }

// CheckInError carries the rejected (week, member, task) triple.
type CheckInError struct {
	Kind     error
	Week     int
	MemberID string
	TaskID   string
}

func (e CheckInError) Error() string {
	return fmt.Sprintf("%v: week %d member %s task %s", e.Kind, e.Week, e.MemberID, e.TaskID)
}

func (e CheckInError) Unwrap() error { return e.Kind }

// Invalidf builds an ErrInvalidInput with a message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
