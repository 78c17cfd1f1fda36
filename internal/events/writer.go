package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes an audit event inside the caller's transaction. A zero
// projectID records a NULL project reference.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType string, projectID int64, entityKind, entityID, actorID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	var pid any
	if projectID != 0 {
		pid = projectID
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, pid, entityKind, entityID, actorID, string(data))
	return err
}
