package sqlite

import (
	"context"
	"fmt"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store"
)

type policiesRepo struct {
	q DBTX
}

const policyColumns = `id, workspace_id, name, description, timezone, resources, actions, rules, version, created_at, updated_at`

func scanPolicy(sc scanner) (domain.Policy, error) {
	var (
		p                         domain.Policy
		resources, actions, rules string
		created, updatedAt        int64
	)
	if err := sc.Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.Description, &p.Timezone,
		&resources, &actions, &rules, &p.Version, &created, &updatedAt); err != nil {
		return domain.Policy{}, err
	}
	if err := decodeJSON(resources, &p.Resources); err != nil {
		return domain.Policy{}, fmt.Errorf("policy %s resources: %w", p.ID, err)
	}
	if err := decodeJSON(actions, &p.Actions); err != nil {
		return domain.Policy{}, fmt.Errorf("policy %s actions: %w", p.ID, err)
	}
	if err := decodeJSON(rules, &p.Rules); err != nil {
		return domain.Policy{}, fmt.Errorf("policy %s rules: %w", p.ID, err)
	}
	p.CreatedAt = fromNanos(created)
	p.UpdatedAt = fromNanos(updatedAt)
	return p, nil
}

type policyJSON struct {
	resources, actions, rules string
}

func encodePolicy(p domain.Policy) (policyJSON, error) {
	var (
		out policyJSON
		err error
	)
	if out.resources, err = encodeJSON(nonNil(p.Resources)); err != nil {
		return out, err
	}
	if out.actions, err = encodeJSON(nonNil(p.Actions)); err != nil {
		return out, err
	}
	if out.rules, err = encodeJSON(nonNil(p.Rules)); err != nil {
		return out, err
	}
	return out, nil
}

func (r *policiesRepo) CreatePolicy(ctx context.Context, p domain.Policy) error {
	enc, err := encodePolicy(p)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx,
		`INSERT INTO policies (`+policyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.WorkspaceID, p.Name, p.Description, p.Timezone,
		enc.resources, enc.actions, enc.rules, p.Version,
		toNanos(p.CreatedAt), toNanos(p.UpdatedAt),
	)
	return mapConstraint(err)
}

func (r *policiesRepo) GetPolicy(ctx context.Context, id string) (domain.Policy, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM policies WHERE id = ?`, id)
	p, err := scanPolicy(row)
	if err != nil {
		return domain.Policy{}, mapNotFound(err)
	}
	return p, nil
}

func (r *policiesRepo) ListPolicies(ctx context.Context, workspaceID string) ([]domain.Policy, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE workspace_id = ? OR workspace_id = '' ORDER BY id`, workspaceID)
	return collect(rows, err, scanPolicy)
}

func (r *policiesRepo) UpdatePolicy(ctx context.Context, p domain.Policy) error {
	enc, err := encodePolicy(p)
	if err != nil {
		return err
	}

	ok, err := changed(r.q.ExecContext(ctx,
		`UPDATE policies
		 SET name = ?, description = ?, timezone = ?, resources = ?, actions = ?, rules = ?,
		     version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		p.Name, p.Description, p.Timezone, enc.resources, enc.actions, enc.rules,
		toNanos(p.UpdatedAt), p.ID, p.Version,
	))
	if err != nil {
		return mapConstraint(err)
	}
	if ok {
		return nil
	}

	// Distinguish a stale version from a missing row
	var exists int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM policies WHERE id = ?`, p.ID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

func (r *policiesRepo) DeletePolicy(ctx context.Context, id string) error {
	return requireOne(r.q.ExecContext(ctx, `DELETE FROM policies WHERE id = ?`, id))
}
