// Package ledger records weekly progress check-ins.
package ledger

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"groupsync/internal/domain"
)

// Input is one member's report on one task.
type Input struct {
	MemberID        string  `json:"member_id"`
	TaskID          string  `json:"task_id"`
	PercentComplete float64 `json:"percent_complete"`
	Blocker         string  `json:"blocker,omitempty"`
}

// ItemResult is the outcome of one batch item. Exactly one of CheckIn and
// Err is set.
type ItemResult struct {
	Index   int
	CheckIn *domain.CheckIn
	Err     error
}

type Ledger struct {
	Now   func() time.Time
	NewID func() string
}

func New() Ledger {
	return Ledger{Now: time.Now, NewID: uuid.NewString}
}

// Record validates a check-in against s and appends it. It also moves the
// task forward: any progress makes it in_progress and 100% makes it done.
// Status never moves backwards.
func (l Ledger) Record(s *domain.State, week int, in Input) (domain.CheckIn, error) {
	in.MemberID = strings.TrimSpace(in.MemberID)
	in.TaskID = strings.TrimSpace(in.TaskID)
	if week < 0 || week >= len(s.Plan) {
		return domain.CheckIn{}, domain.Invalidf("week %d is outside the plan (0..%d)", week, len(s.Plan)-1)
	}
	if math.IsNaN(in.PercentComplete) || in.PercentComplete < 0 || in.PercentComplete > 100 {
		return domain.CheckIn{}, domain.Invalidf("percent_complete %v must be within 0..100", in.PercentComplete)
	}
	if in.MemberID == "" || in.TaskID == "" {
		return domain.CheckIn{}, domain.Invalidf("member_id and task_id are required")
	}

	idx := -1
	for i, t := range s.Tasks {
		if t.ID == in.TaskID {
			idx = i
			break
		}
	}
	if idx < 0 || s.Tasks[idx].Assignee != in.MemberID {
		return domain.CheckIn{}, domain.CheckInError{Kind: domain.ErrUnknownAssignment, Week: week, MemberID: in.MemberID, TaskID: in.TaskID}
	}
	for _, c := range s.CheckIns {
		if c.Week == week && c.MemberID == in.MemberID && c.TaskID == in.TaskID {
			return domain.CheckIn{}, domain.CheckInError{Kind: domain.ErrDuplicateCheckIn, Week: week, MemberID: in.MemberID, TaskID: in.TaskID}
		}
	}

	c := domain.CheckIn{
		ID:              l.newID(),
		Week:            week,
		MemberID:        in.MemberID,
		TaskID:          in.TaskID,
		PercentComplete: in.PercentComplete,
		Blocker:         strings.TrimSpace(in.Blocker),
		SubmittedAt:     l.now(),
	}
	s.CheckIns = append(s.CheckIns, c)
	s.Tasks[idx].Status = advance(s.Tasks[idx].Status, in.PercentComplete)
	return c, nil
}

// RecordBatch records each item independently; a rejected item does not
// affect the others. Duplicates within the batch are rejected after the
// first occurrence.
func (l Ledger) RecordBatch(s *domain.State, week int, items []Input) []ItemResult {
	out := make([]ItemResult, len(items))
	for i, in := range items {
		c, err := l.Record(s, week, in)
		if err != nil {
			out[i] = ItemResult{Index: i, Err: err}
			continue
		}
		out[i] = ItemResult{Index: i, CheckIn: &c}
	}
	return out
}

// Accepted counts the successful items.
func Accepted(results []ItemResult) int {
	n := 0
	for _, r := range results {
		if r.Err == nil {
			n++
		}
	}
	return n
}

func advance(current domain.TaskStatus, percent float64) domain.TaskStatus {
	next := current
	switch {
	case percent >= 100:
		next = domain.TaskDone
	case percent > 0:
		next = domain.TaskInProgress
	}
	if rank(next) < rank(current) {
		return current
	}
	return next
}

func rank(s domain.TaskStatus) int {
	switch s {
	case domain.TaskAssigned:
		return 1
	case domain.TaskInProgress:
		return 2
	case domain.TaskDone:
		return 3
	default:
		return 0
	}
}

func (l Ledger) now() time.Time {
	if l.Now == nil {
		return time.Now().UTC()
	}
	return l.Now().UTC()
}

func (l Ledger) newID() string {
	if l.NewID == nil {
		return uuid.NewString()
	}
	return l.NewID()
}
