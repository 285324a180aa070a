// Package events journals run log entries to sqlite.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"groupsync/internal/domain"
)

type Writer struct {
	DB *sql.DB
}

// Payload is the JSON body stored with each journaled entry.
type Payload struct {
	Components []string `json:"components"`
	Detail     string   `json:"detail,omitempty"`
}

// Append writes one run log entry and returns its journal id. Appending the
// same run id twice is a no-op that returns the existing id.
func (w Writer) Append(ctx context.Context, entry domain.RunLog) (int64, error) {
	if w.DB == nil {
		return 0, errors.New("journal not open")
	}
	components := entry.Components
	if components == nil {
		components = []string{}
	}
	data, err := json.Marshal(Payload{Components: components, Detail: entry.Detail})
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	res, err := w.DB.ExecContext(ctx, `INSERT OR IGNORE INTO events(ts,type,run_id,actor_id,outcome,payload_json) VALUES (?,?,?,?,?,?)`,
		ts.UTC().Format(time.RFC3339Nano), entry.Action, entry.ID, nullable(entry.Actor), entry.Outcome, string(data))
	if err != nil {
		return 0, fmt.Errorf("journal %s: %w", entry.Action, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var id int64
		err := w.DB.QueryRowContext(ctx, `SELECT id FROM events WHERE run_id=?`, entry.ID).Scan(&id)
		return id, err
	}
	return res.LastInsertId()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
