package repo

import (
	"context"

	"taxline/internal/config"
)

// SeedRBAC replaces the stored role/permission mappings with the ones
// from config. The config file is the source of truth.
func (r Repo) SeedRBAC(ctx context.Context, cfg *config.Config) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions`); err != nil {
		return err
	}
	for role, def := range cfg.RBAC.Roles {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO roles(name) VALUES (?)`, role); err != nil {
			return err
		}
		for _, perm := range def.Permissions {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO permissions(name) VALUES (?)`, perm); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO role_permissions(role, permission) VALUES (?,?)`, role, perm); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// ActorHasPermission checks a staff member's role against the stored
// permission grants.
func (r Repo) ActorHasPermission(ctx context.Context, actorID, permission string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM role_permissions rp
JOIN profiles p ON p.role = rp.role
WHERE p.id=? AND rp.permission=?`, actorID, permission).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) PermissionsForRole(ctx context.Context, role string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT permission FROM role_permissions WHERE role=? ORDER BY permission`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
