// Package repo reads the run log journal.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"groupsync/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const eventColumns = `id,ts,type,run_id,actor_id,outcome,payload_json`

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	Type    string
	Outcome string
	ActorID string
	// Before pages backwards: only events with a smaller id are returned.
	Before int64
	Limit  int
}

// ListEvents returns the newest matching events first.
func (r Repo) ListEvents(ctx context.Context, f EventFilter) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Outcome != "" {
		clauses = append(clauses, "outcome=?")
		args = append(args, f.Outcome)
	}
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, f.ActorID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id DESC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with ids greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, eventColumns)
	return r.queryEvents(ctx, query, cursor, limit)
}

// GetEvent looks an entry up by its run log id.
func (r Repo) GetEvent(ctx context.Context, runID string) (domain.Event, error) {
	events, err := r.queryEvents(ctx, fmt.Sprintf(`SELECT %s FROM events WHERE run_id=?`, eventColumns), runID)
	if err != nil {
		return domain.Event{}, err
	}
	if len(events) == 0 {
		return domain.Event{}, ErrNotFound
	}
	return events[0], nil
}

// LatestEventID returns the most recent event id, 0 for an empty journal.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// CountByOutcome tallies journaled entries per outcome.
func (r Repo) CountByOutcome(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM events GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		out[outcome] = n
	}
	return out, rows.Err()
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var actor, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RunID, &actor, &e.Outcome, &payload); err != nil {
			return nil, err
		}
		e.ActorID = actor.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}
