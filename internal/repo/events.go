package repo

import (
	"context"
	"database/sql"
	"strings"

	"taxline/internal/domain"
)

const eventColumns = `id,ts,type,project_id,entity_kind,entity_id,actor_id,payload`

func scanEvent(row rowScanner) (domain.Event, error) {
	var e domain.Event
	var pid sql.NullInt64
	err := row.Scan(&e.ID, &e.TS, &e.Type, &pid, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if pid.Valid {
		e.ProjectID = pid.Int64
	}
	return e, err
}

// EventsAfter returns up to limit audit events newer than afterID,
// oldest first. A zero projectID means firm-wide.
func (r Repo) EventsAfter(ctx context.Context, limit int, afterID, projectID int64) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id>?`
	args := []any{afterID}
	if projectID != 0 {
		query += ` AND project_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the highest event id, or 0 when empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// ListEvents returns recent audit events newest first, optionally
// filtered by project and type.
func (r Repo) ListEvents(ctx context.Context, projectID int64, evtType string, limit int) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events`
	var (
		conds []string
		args  []any
	)
	if projectID != 0 {
		conds = append(conds, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		conds = append(conds, "type=?")
		args = append(args, evtType)
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
