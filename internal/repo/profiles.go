package repo

import (
	"context"
	"database/sql"
	"strings"

	"taxline/internal/domain"
)

const profileColumns = `id,first_name,last_name,email,role,created_at,updated_at`

func scanProfile(row rowScanner) (domain.Profile, error) {
	var p domain.Profile
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.Role, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

// UpsertProfile inserts or replaces a staff profile by id.
func (r Repo) UpsertProfile(ctx context.Context, p domain.Profile) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO profiles(id,first_name,last_name,email,role,created_at,updated_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET first_name=excluded.first_name, last_name=excluded.last_name, email=excluded.email, role=excluded.role, updated_at=excluded.updated_at`,
		p.ID, p.FirstName, p.LastName, p.Email, p.Role, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	return scanProfile(r.DB.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id=?`, id))
}

func (r Repo) GetProfileByEmail(ctx context.Context, email string) (domain.Profile, error) {
	return scanProfile(r.DB.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE email=?`, strings.ToLower(strings.TrimSpace(email))))
}

// GetProfiles resolves a set of profile ids. Unknown ids are skipped.
func (r Repo) GetProfiles(ctx context.Context, ids []string) ([]domain.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY last_name, first_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) DeleteProfile(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM profiles WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
