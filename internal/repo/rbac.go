package repo

import (
	"context"
	"database/sql"
	"errors"

	"teamtacles/internal/domain"
)

// EnsureRole inserts the singleton record for a role name if it is missing.
func (r Repo) EnsureRole(ctx context.Context, tx *sql.Tx, name domain.RoleName) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO roles(name) VALUES (?)`, string(name))
	return err
}

func (r Repo) GetRoleByName(ctx context.Context, tx *sql.Tx, name domain.RoleName) (domain.Role, error) {
	var role domain.Role
	var raw string
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,name FROM roles WHERE name=?`, string(name)).Scan(&role.ID, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return role, ErrNotFound
	}
	role.Name = domain.RoleName(raw)
	return role, err
}

// SetUserRoles replaces the user's whole role set.
func (r Repo) SetUserRoles(ctx context.Context, tx *sql.Tx, userID int64, roles []domain.Role) error {
	q := r.q(tx)
	if _, err := q.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id=?`, userID); err != nil {
		return err
	}
	for _, role := range roles {
		if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO user_roles(user_id, role_id) VALUES (?,?)`, userID, role.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) userRoles(ctx context.Context, q querier, userID int64) ([]domain.Role, error) {
	rows, err := q.QueryContext(ctx, `
SELECT ro.id, ro.name FROM user_roles ur
JOIN roles ro ON ro.id=ur.role_id
WHERE ur.user_id=?
ORDER BY ro.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	roles := []domain.Role{}
	for rows.Next() {
		var role domain.Role
		var raw string
		if err := rows.Scan(&role.ID, &raw); err != nil {
			return nil, err
		}
		role.Name = domain.RoleName(raw)
		roles = append(roles, role)
	}
	return roles, rows.Err()
}
