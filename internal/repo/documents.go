package repo

import (
	"context"
	"database/sql"

	"taxline/internal/domain"
)

const documentColumns = `id,project_id,file_name,category,size_bytes,version,object_key,content_type,uploaded_by,uploaded_at`

func scanDocument(row rowScanner) (domain.Document, error) {
	var d domain.Document
	err := row.Scan(&d.ID, &d.ProjectID, &d.FileName, &d.Category, &d.SizeBytes, &d.Version, &d.ObjectKey, &d.ContentType, &d.UploadedBy, &d.UploadedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) InsertDocumentTx(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO project_documents(`+documentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.ProjectID, d.FileName, d.Category, d.SizeBytes, d.Version, d.ObjectKey, d.ContentType, d.UploadedBy, d.UploadedAt)
	return err
}

func (r Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	return scanDocument(r.DB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM project_documents WHERE id=?`, id))
}

func (r Repo) ListDocuments(ctx context.Context, projectID int64) ([]domain.Document, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+documentColumns+` FROM project_documents WHERE project_id=? ORDER BY uploaded_at DESC, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// NextDocumentVersion returns 1 + the highest stored version of a file
// name within a project.
func (r Repo) NextDocumentVersion(ctx context.Context, tx *sql.Tx, projectID int64, fileName string) (int, error) {
	var v int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version),0) FROM project_documents WHERE project_id=? AND file_name=?`, projectID, fileName).Scan(&v)
	if err != nil {
		return 0, err
	}
	return v + 1, nil
}

func (r Repo) DeleteDocument(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM project_documents WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
