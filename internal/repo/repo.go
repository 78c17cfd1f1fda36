package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"taxline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const projectColumns = `project_id,project_name,client_id,client_name,engagement_type,year_end,services_required,
date_in,date_completed,due_date,preparer,reviewer,
status,client_status,preparer_status,reviewer_status,to_do_or_update,is_locked,archived_at,
invoice_number,amount,hst_amount,amount_received,outstanding,approximated_actual_time_used,date_of_efile_mail,
notes,created_at,updated_at,created_by,last_modified_by`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (domain.Project, error) {
	var (
		p         domain.Project
		services  string
		preparers string
		locked    int
	)
	err := row.Scan(&p.ProjectID, &p.ProjectName, &p.ClientID, &p.ClientName, &p.EngagementType, &p.YearEnd, &services,
		&p.DateIn, &p.DateCompleted, &p.DueDate, &preparers, &p.Reviewer,
		&p.Status, &p.ClientStatus, &p.PreparerStatus, &p.ReviewerStatus, &p.ToDoOrUpdate, &locked, &p.ArchivedAt,
		&p.InvoiceNumber, &p.Amount, &p.HSTAmount, &p.AmountReceived, &p.Outstanding, &p.TimeUsed, &p.DateOfEfile,
		&p.Notes, &p.CreatedAt, &p.UpdatedAt, &p.CreatedBy, &p.LastModifiedBy)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Services = unmarshalList(services)
	p.Preparer = unmarshalList(preparers)
	p.IsLocked = locked != 0
	return p, nil
}

const insertProjectSQL = `INSERT INTO projects(project_name,client_id,client_name,engagement_type,year_end,services_required,
date_in,date_completed,due_date,preparer,reviewer,
status,client_status,preparer_status,reviewer_status,to_do_or_update,is_locked,archived_at,
invoice_number,amount,hst_amount,amount_received,outstanding,approximated_actual_time_used,date_of_efile_mail,
notes,created_at,updated_at,created_by,last_modified_by) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`

func insertProjectArgs(p domain.Project) []any {
	return []any{
		p.ProjectName, p.ClientID, p.ClientName, p.EngagementType, p.YearEnd, marshalList(p.Services),
		p.DateIn, p.DateCompleted, p.DueDate, marshalList(p.Preparer), p.Reviewer,
		p.Status, p.ClientStatus, p.PreparerStatus, p.ReviewerStatus, p.ToDoOrUpdate, boolInt(p.IsLocked), p.ArchivedAt,
		p.InvoiceNumber, p.Amount, p.HSTAmount, p.AmountReceived, p.Outstanding, p.TimeUsed, p.DateOfEfile,
		p.Notes, p.CreatedAt, p.UpdatedAt, p.CreatedBy, p.LastModifiedBy,
	}
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) (int64, error) {
	res, err := r.DB.ExecContext(ctx, insertProjectSQL, insertProjectArgs(p)...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) (int64, error) {
	res, err := tx.ExecContext(ctx, insertProjectSQL, insertProjectArgs(p)...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE project_id=?`, id))
}

// GetProjectTx reads a project inside a transaction so workflow
// preconditions and the following patch see the same row.
func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Project, error) {
	return scanProject(tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE project_id=?`, id))
}

// ProjectFilter narrows ListProjects. Zero values mean no filtering.
type ProjectFilter struct {
	Archived *bool
	Status   string
	ClientID int64
	Preparer string
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilter) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	var (
		conds []string
		args  []any
	)
	if f.Archived != nil {
		if *f.Archived {
			conds = append(conds, "archived_at IS NOT NULL")
		} else {
			conds = append(conds, "archived_at IS NULL")
		}
	}
	if f.Status != "" {
		conds = append(conds, "status=?")
		args = append(args, f.Status)
	}
	if f.ClientID != 0 {
		conds = append(conds, "client_id=?")
		args = append(args, f.ClientID)
	}
	if f.Preparer != "" {
		conds = append(conds, "preparer LIKE ?")
		args = append(args, "%"+escapeJSON(f.Preparer)+"%")
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) DeleteProject(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM projects WHERE project_id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ProjectPatch lists updatable project fields. Nil pointers are left
// untouched; ClearNote nulls to_do_or_update regardless of ToDoOrUpdate.
type ProjectPatch struct {
	ProjectName    *string
	ClientID       *int64
	ClientName     *string
	EngagementType *string
	YearEnd        *string
	Services       *[]string
	DateIn         *string
	DateCompleted  *string
	DueDate        *string
	Preparer       *[]string
	Reviewer       *string
	Status         *string
	ClientStatus   *string
	PreparerStatus *string
	ReviewerStatus *string
	ToDoOrUpdate   *string
	ClearNote      bool
	IsLocked       *bool
	ArchivedAt     *string
	InvoiceNumber  *string
	Amount         *float64
	HSTAmount      *float64
	AmountReceived *float64
	Outstanding    *float64
	TimeUsed       *float64
	DateOfEfile    *string
	Notes          *string
}

// UpdateProjectTx applies a patch as a single UPDATE. updated_at and
// last_modified_by are always stamped.
func (r Repo) UpdateProjectTx(ctx context.Context, tx *sql.Tx, id int64, patch ProjectPatch, updatedAt, actorID string) error {
	fields := []string{"updated_at=?", "last_modified_by=?"}
	args := []any{updatedAt, actorID}
	set := func(col string, v any) {
		fields = append(fields, col+"=?")
		args = append(args, v)
	}
	if patch.ProjectName != nil {
		set("project_name", *patch.ProjectName)
	}
	if patch.ClientID != nil {
		set("client_id", *patch.ClientID)
	}
	if patch.ClientName != nil {
		set("client_name", *patch.ClientName)
	}
	if patch.EngagementType != nil {
		set("engagement_type", *patch.EngagementType)
	}
	if patch.YearEnd != nil {
		set("year_end", *patch.YearEnd)
	}
	if patch.Services != nil {
		set("services_required", marshalList(*patch.Services))
	}
	if patch.DateIn != nil {
		set("date_in", *patch.DateIn)
	}
	if patch.DateCompleted != nil {
		set("date_completed", *patch.DateCompleted)
	}
	if patch.DueDate != nil {
		set("due_date", *patch.DueDate)
	}
	if patch.Preparer != nil {
		set("preparer", marshalList(*patch.Preparer))
	}
	if patch.Reviewer != nil {
		set("reviewer", *patch.Reviewer)
	}
	if patch.Status != nil {
		set("status", *patch.Status)
	}
	if patch.ClientStatus != nil {
		set("client_status", *patch.ClientStatus)
	}
	if patch.PreparerStatus != nil {
		set("preparer_status", *patch.PreparerStatus)
	}
	if patch.ReviewerStatus != nil {
		set("reviewer_status", *patch.ReviewerStatus)
	}
	if patch.ClearNote {
		fields = append(fields, "to_do_or_update=NULL")
	} else if patch.ToDoOrUpdate != nil {
		set("to_do_or_update", *patch.ToDoOrUpdate)
	}
	if patch.IsLocked != nil {
		set("is_locked", boolInt(*patch.IsLocked))
	}
	if patch.ArchivedAt != nil {
		set("archived_at", *patch.ArchivedAt)
	}
	if patch.InvoiceNumber != nil {
		set("invoice_number", *patch.InvoiceNumber)
	}
	if patch.Amount != nil {
		set("amount", *patch.Amount)
	}
	if patch.HSTAmount != nil {
		set("hst_amount", *patch.HSTAmount)
	}
	if patch.AmountReceived != nil {
		set("amount_received", *patch.AmountReceived)
	}
	if patch.Outstanding != nil {
		set("outstanding", *patch.Outstanding)
	}
	if patch.TimeUsed != nil {
		set("approximated_actual_time_used", *patch.TimeUsed)
	}
	if patch.DateOfEfile != nil {
		set("date_of_efile_mail", *patch.DateOfEfile)
	}
	if patch.Notes != nil {
		set("notes", *patch.Notes)
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE project_id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func unmarshalList(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	return items
}

func escapeJSON(s string) string {
	data, err := json.Marshal(s)
	if err != nil {
		return s
	}
	return strings.Trim(string(data), `"`)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
