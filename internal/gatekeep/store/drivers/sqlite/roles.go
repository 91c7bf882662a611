package sqlite

import (
	"context"
	"fmt"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
)

type rolesRepo struct {
	q DBTX
}

const roleColumns = `id, workspace_id, name, description, permissions, parents, created_at, updated_at`

func scanRole(sc scanner) (domain.Role, error) {
	var (
		r                  domain.Role
		perms, parents     string
		created, updatedAt int64
	)
	if err := sc.Scan(&r.ID, &r.WorkspaceID, &r.Name, &r.Description, &perms, &parents, &created, &updatedAt); err != nil {
		return domain.Role{}, err
	}
	if err := decodeJSON(perms, &r.Permissions); err != nil {
		return domain.Role{}, fmt.Errorf("role %s permissions: %w", r.ID, err)
	}
	if err := decodeJSON(parents, &r.Parents); err != nil {
		return domain.Role{}, fmt.Errorf("role %s parents: %w", r.ID, err)
	}
	r.CreatedAt = fromNanos(created)
	r.UpdatedAt = fromNanos(updatedAt)
	return r, nil
}

func (r *rolesRepo) CreateRole(ctx context.Context, role domain.Role) error {
	perms, err := encodeJSON(nonNil(role.Permissions))
	if err != nil {
		return err
	}
	parents, err := encodeJSON(nonNil(role.Parents))
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx,
		`INSERT INTO roles (`+roleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		role.ID, role.WorkspaceID, role.Name, role.Description, perms, parents,
		toNanos(role.CreatedAt), toNanos(role.UpdatedAt),
	)
	return mapConstraint(err)
}

func (r *rolesRepo) GetRole(ctx context.Context, id string) (domain.Role, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = ?`, id)
	role, err := scanRole(row)
	if err != nil {
		return domain.Role{}, mapNotFound(err)
	}
	return role, nil
}

func (r *rolesRepo) GetRoleByName(ctx context.Context, workspaceID, name string) (domain.Role, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE workspace_id = ? AND name = ?`, workspaceID, name)
	role, err := scanRole(row)
	if err != nil {
		return domain.Role{}, mapNotFound(err)
	}
	return role, nil
}

func (r *rolesRepo) ListRoles(ctx context.Context, workspaceID string) ([]domain.Role, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE workspace_id = ? OR workspace_id = '' ORDER BY id`, workspaceID)
	return collect(rows, err, scanRole)
}

func (r *rolesRepo) UpdateRole(ctx context.Context, role domain.Role) error {
	perms, err := encodeJSON(nonNil(role.Permissions))
	if err != nil {
		return err
	}
	parents, err := encodeJSON(nonNil(role.Parents))
	if err != nil {
		return err
	}

	res, err := r.q.ExecContext(ctx,
		`UPDATE roles SET name = ?, description = ?, permissions = ?, parents = ?, updated_at = ? WHERE id = ?`,
		role.Name, role.Description, perms, parents, toNanos(role.UpdatedAt), role.ID,
	)
	return requireOne(res, mapConstraint(err))
}

func (r *rolesRepo) DeleteRole(ctx context.Context, id string) error {
	return requireOne(r.q.ExecContext(ctx, `DELETE FROM roles WHERE id = ?`, id))
}

func (r *rolesRepo) IsEmpty(ctx context.Context) (bool, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM roles`).Scan(&n); err != nil {
		return false, err
	}
	return n == 0, nil
}
