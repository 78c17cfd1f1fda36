package repo

import (
	"context"
	"database/sql"

	"taxline/internal/domain"
)

// InsertCommentTx appends a comment; comments are never updated.
func (r Repo) InsertCommentTx(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO project_comments(id,project_id,author_id,author_name,body,created_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.ProjectID, c.AuthorID, c.AuthorName, c.Body, c.CreatedAt)
	return err
}

// ListComments returns a project's comments oldest first.
func (r Repo) ListComments(ctx context.Context, projectID int64) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,author_id,author_name,body,created_at FROM project_comments WHERE project_id=? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.AuthorID, &c.AuthorName, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
