package repo

import (
	"context"
	"database/sql"
	"strings"

	"taxline/internal/domain"
)

const clientColumns = `id,title,first_name,middle_name,last_name,company,phone_numbers,mobile,email,bill_address,ship_address,status,notes,created_at,updated_at`

func scanClient(row rowScanner) (domain.Client, error) {
	var c domain.Client
	err := row.Scan(&c.ID, &c.Title, &c.FirstName, &c.MiddleName, &c.LastName, &c.Company, &c.Phone, &c.Mobile,
		&c.Email, &c.BillAddress, &c.ShipAddress, &c.Status, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) InsertClient(ctx context.Context, c domain.Client) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO clients(title,first_name,middle_name,last_name,company,phone_numbers,mobile,email,bill_address,ship_address,status,notes,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.Title, c.FirstName, c.MiddleName, c.LastName, c.Company, c.Phone, c.Mobile,
		c.Email, c.BillAddress, c.ShipAddress, c.Status, c.Notes, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetClient(ctx context.Context, id int64) (domain.Client, error) {
	return scanClient(r.DB.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id=?`, id))
}

// ListClients returns clients, optionally filtered by a case-insensitive
// name or company search term.
func (r Repo) ListClients(ctx context.Context, search string) ([]domain.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients`
	var args []any
	if search = strings.TrimSpace(search); search != "" {
		query += ` WHERE LOWER(first_name || ' ' || last_name) LIKE ? OR LOWER(company) LIKE ? OR LOWER(email) LIKE ?`
		term := "%" + strings.ToLower(search) + "%"
		args = append(args, term, term, term)
	}
	query += ` ORDER BY last_name, first_name, company`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ClientPatch lists updatable client fields; nil means keep.
type ClientPatch struct {
	Title       *string
	FirstName   *string
	MiddleName  *string
	LastName    *string
	Company     *string
	Phone       *string
	Mobile      *string
	Email       *string
	BillAddress *string
	ShipAddress *string
	Status      *string
	Notes       *string
}

func (r Repo) UpdateClient(ctx context.Context, id int64, patch ClientPatch, updatedAt string) error {
	fields := []string{"updated_at=?"}
	args := []any{updatedAt}
	set := func(col string, v *string) {
		if v != nil {
			fields = append(fields, col+"=?")
			args = append(args, *v)
		}
	}
	set("title", patch.Title)
	set("first_name", patch.FirstName)
	set("middle_name", patch.MiddleName)
	set("last_name", patch.LastName)
	set("company", patch.Company)
	set("phone_numbers", patch.Phone)
	set("mobile", patch.Mobile)
	set("email", patch.Email)
	set("bill_address", patch.BillAddress)
	set("ship_address", patch.ShipAddress)
	set("status", patch.Status)
	set("notes", patch.Notes)
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, `UPDATE clients SET `+strings.Join(fields, ",")+` WHERE id=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteClient(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM clients WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
