package auth

import (
	"context"
	"database/sql"
	"fmt"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service provides RBAC helpers backed by SQL. A staff member's role
// lives on their profile; grants live in role_permissions.
type Service struct {
	DB *sql.DB
}

func (s Service) ActorHasPermission(ctx context.Context, actorID, perm string) (bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT 1 FROM profiles p
JOIN role_permissions rp ON rp.role=p.role
WHERE p.id=? AND rp.permission=? LIMIT 1`,
		actorID, perm)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s Service) ActorRole(ctx context.Context, actorID string) (string, error) {
	var role string
	err := s.DB.QueryRowContext(ctx, `SELECT role FROM profiles WHERE id=?`, actorID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return role, err
}

func (s Service) ActorPermissions(ctx context.Context, actorID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT DISTINCT rp.permission
FROM profiles p
JOIN role_permissions rp ON rp.role=p.role
WHERE p.id=?
ORDER BY rp.permission`, actorID)
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
