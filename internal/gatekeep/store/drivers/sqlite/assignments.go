package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/pkg/condx"
)

type assignmentsRepo struct {
	q DBTX
}

const assignmentColumns = `id, user_id, role_id, workspace_id, assigned_by, assigned_at, expires_at, conditions`

func scanAssignment(sc scanner) (domain.RoleAssignment, error) {
	var (
		a          domain.RoleAssignment
		assignedAt int64
		expiresAt  sql.NullInt64
		conditions sql.NullString
	)
	if err := sc.Scan(&a.ID, &a.UserID, &a.RoleID, &a.WorkspaceID, &a.AssignedBy, &assignedAt, &expiresAt, &conditions); err != nil {
		return domain.RoleAssignment{}, err
	}
	a.AssignedAt = fromNanos(assignedAt)
	a.ExpiresAt = mapNullTimePtr(expiresAt)

	if conditions.Valid && conditions.String != "" {
		var n condx.Node
		if err := decodeJSON(conditions.String, &n); err != nil {
			return domain.RoleAssignment{}, fmt.Errorf("assignment %s conditions: %w", a.ID, err)
		}
		a.Conditions = &n
	}
	return a, nil
}

func (r *assignmentsRepo) CreateAssignment(ctx context.Context, a domain.RoleAssignment) error {
	var conditions sql.NullString
	if a.Conditions != nil {
		s, err := encodeJSON(a.Conditions)
		if err != nil {
			return err
		}
		conditions = sql.NullString{String: s, Valid: true}
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO role_assignments (`+assignmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.RoleID, a.WorkspaceID, a.AssignedBy, toNanos(a.AssignedAt),
		mapOptionalTime(a.ExpiresAt), conditions,
	)
	return mapConstraint(err)
}

func (r *assignmentsRepo) GetAssignment(ctx context.Context, id string) (domain.RoleAssignment, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM role_assignments WHERE id = ?`, id)
	a, err := scanAssignment(row)
	if err != nil {
		return domain.RoleAssignment{}, mapNotFound(err)
	}
	return a, nil
}

func (r *assignmentsRepo) ListAssignmentsForUser(ctx context.Context, userID, workspaceID string) ([]domain.RoleAssignment, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+assignmentColumns+` FROM role_assignments
		 WHERE user_id = ? AND (workspace_id = ? OR workspace_id = '')
		 ORDER BY id`, userID, workspaceID)
	return collect(rows, err, scanAssignment)
}

func (r *assignmentsRepo) ListAssignments(ctx context.Context, workspaceID string) ([]domain.RoleAssignment, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+assignmentColumns+` FROM role_assignments WHERE workspace_id = ? ORDER BY id`, workspaceID)
	return collect(rows, err, scanAssignment)
}

func (r *assignmentsRepo) DeleteAssignment(ctx context.Context, id string) error {
	return requireOne(r.q.ExecContext(ctx, `DELETE FROM role_assignments WHERE id = ?`, id))
}
