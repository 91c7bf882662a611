package sqlite

import (
	"context"
	"fmt"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
)

type membersRepo struct {
	q DBTX
}

func scanMember(sc scanner) (domain.Member, error) {
	var (
		m       domain.Member
		attrs   string
		created int64
	)
	if err := sc.Scan(&m.WorkspaceID, &m.UserID, &attrs, &created); err != nil {
		return domain.Member{}, err
	}
	if err := decodeJSON(attrs, &m.Attributes); err != nil {
		return domain.Member{}, fmt.Errorf("member %s/%s attributes: %w", m.WorkspaceID, m.UserID, err)
	}
	m.CreatedAt = fromNanos(created)
	return m, nil
}

func (r *membersRepo) PutMember(ctx context.Context, m domain.Member) error {
	attrs := m.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	enc, err := encodeJSON(attrs)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx,
		`INSERT INTO workspace_members (workspace_id, user_id, attributes, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (workspace_id, user_id) DO UPDATE SET attributes = excluded.attributes`,
		m.WorkspaceID, m.UserID, enc, toNanos(m.CreatedAt),
	)
	return err
}

func (r *membersRepo) GetMember(ctx context.Context, workspaceID, userID string) (domain.Member, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT workspace_id, user_id, attributes, created_at FROM workspace_members
		 WHERE workspace_id = ? AND user_id = ?`, workspaceID, userID)
	m, err := scanMember(row)
	if err != nil {
		return domain.Member{}, mapNotFound(err)
	}
	return m, nil
}

func (r *membersRepo) ListMembers(ctx context.Context, workspaceID string) ([]domain.Member, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT workspace_id, user_id, attributes, created_at FROM workspace_members
		 WHERE workspace_id = ? ORDER BY user_id`, workspaceID)
	return collect(rows, err, scanMember)
}

func (r *membersRepo) DeleteMember(ctx context.Context, workspaceID, userID string) error {
	return requireOne(r.q.ExecContext(ctx,
		`DELETE FROM workspace_members WHERE workspace_id = ? AND user_id = ?`, workspaceID, userID))
}
