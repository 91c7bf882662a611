package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store"
	"github.com/aussiebroadwan/gatekeep/pkg/condx"
	"github.com/aussiebroadwan/gatekeep/pkg/idx"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

var ErrAlreadyBootstrapped = errors.New("store already bootstrapped")

// BootstrapService loads seed roles, members, assignments and policies into
// an empty store.
type BootstrapService struct {
	Store store.Store
	Now   func() time.Time
}

// LoadSeedFile reads seed data from a YAML file.
func LoadSeedFile(path string) (domain.SeedData, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.SeedData{}, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return DecodeSeed(f)
}

// DecodeSeed parses seed YAML. Unknown keys are rejected so a typo does not
// silently drop a policy.
func DecodeSeed(r io.Reader) (domain.SeedData, error) {
	var seed domain.SeedData
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && !errors.Is(err, io.EOF) {
		return domain.SeedData{}, fmt.Errorf("decode seed: %w", err)
	}
	return seed, nil
}

// IsBootstrapped reports whether any role exists.
func (s *BootstrapService) IsBootstrapped(ctx context.Context) (bool, error) {
	empty, err := s.Store.Roles().IsEmpty(ctx)
	if err != nil {
		return false, err
	}
	return !empty, nil
}

// Bootstrap writes seed in one transaction. Roles are created in file order
// and may only inherit roles defined earlier in the same workspace or
// globally. It returns ErrAlreadyBootstrapped if the store has roles.
func (s *BootstrapService) Bootstrap(ctx context.Context, seed domain.SeedData) error {
	l := slogx.FromContext(ctx)

	done, err := s.IsBootstrapped(ctx)
	if err != nil {
		return storeErr(err)
	}
	if done {
		l.Info("skipping bootstrap, store already has roles")
		return ErrAlreadyBootstrapped
	}

	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}

	type roleKey struct{ workspace, name string }
	ids := make(map[roleKey]string, len(seed.Roles))
	lookup := func(workspace, name string) (string, bool) {
		if id, ok := ids[roleKey{workspace, name}]; ok {
			return id, true
		}
		id, ok := ids[roleKey{"", name}]
		return id, ok
	}
	// role ids whose permissions, own or inherited, include a global one
	grantsGlobal := make(map[string]bool, len(seed.Roles))

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		for _, sr := range seed.Roles {
			r := domain.Role{
				ID:          idx.NewAt(now).String(),
				WorkspaceID: sr.WorkspaceID,
				Name:        sr.Name,
				Description: sr.Description,
				Permissions: domain.SortPermissions(sr.Permissions),
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			for _, parent := range sr.Inherits {
				id, ok := lookup(sr.WorkspaceID, parent)
				if !ok {
					return fmt.Errorf("role %q inherits unknown role %q", sr.Name, parent)
				}
				if sr.WorkspaceID == "" && ids[roleKey{"", parent}] != id {
					return fmt.Errorf("global role %q cannot inherit workspace role %q", sr.Name, parent)
				}
				if sr.WorkspaceID != "" && grantsGlobal[id] {
					return fmt.Errorf("workspace role %q cannot inherit global permissions from %q", sr.Name, parent)
				}
				r.Parents = append(r.Parents, id)
				grantsGlobal[r.ID] = grantsGlobal[r.ID] || grantsGlobal[id]
			}
			if err := r.Validate(); err != nil {
				return fmt.Errorf("role %q: %w", sr.Name, err)
			}
			grantsGlobal[r.ID] = grantsGlobal[r.ID] || r.GrantsGlobal()
			if err := tx.Roles().CreateRole(ctx, r); err != nil {
				return fmt.Errorf("create role %q: %w", sr.Name, err)
			}
			ids[roleKey{sr.WorkspaceID, sr.Name}] = r.ID
		}

		for _, sm := range seed.Members {
			if sm.WorkspaceID == "" || sm.UserID == "" {
				return errors.New("members need both workspace and user")
			}
			if err := tx.Members().PutMember(ctx, domain.Member{
				WorkspaceID: sm.WorkspaceID,
				UserID:      sm.UserID,
				Attributes:  sm.Attributes,
				CreatedAt:   now,
			}); err != nil {
				return fmt.Errorf("add member %s/%s: %w", sm.WorkspaceID, sm.UserID, err)
			}
		}

		for _, sa := range seed.Assignments {
			roleID, ok := lookup(sa.WorkspaceID, sa.Role)
			if !ok {
				return fmt.Errorf("assignment for %q names unknown role %q", sa.UserID, sa.Role)
			}
			a := domain.RoleAssignment{
				ID:          idx.NewAt(now).String(),
				UserID:      sa.UserID,
				RoleID:      roleID,
				WorkspaceID: sa.WorkspaceID,
				AssignedBy:  "bootstrap",
				AssignedAt:  now,
				Conditions:  sa.Conditions,
			}
			if err := a.Validate(); err != nil {
				return fmt.Errorf("assignment for %q: %w", sa.UserID, err)
			}
			if err := tx.Assignments().CreateAssignment(ctx, a); err != nil {
				return fmt.Errorf("assign %q to %q: %w", sa.Role, sa.UserID, err)
			}
		}

		for _, sp := range seed.Policies {
			p := domain.Policy{
				ID:          idx.NewAt(now).String(),
				WorkspaceID: sp.WorkspaceID,
				Name:        sp.Name,
				Description: sp.Description,
				Timezone:    sp.Timezone,
				Resources:   sp.Resources,
				Actions:     sp.Actions,
				Rules:       sp.Rules,
				Version:     1,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := p.Validate(condx.DefaultLimits); err != nil {
				return fmt.Errorf("policy %q: %w", sp.Name, err)
			}
			if err := tx.Policies().CreatePolicy(ctx, p); err != nil {
				return fmt.Errorf("create policy %q: %w", sp.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		l.Error("bootstrap failed", slog.Any("error", err))
		return err
	}

	l.Info("bootstrapped store",
		slog.Int("roles", len(seed.Roles)),
		slog.Int("members", len(seed.Members)),
		slog.Int("assignments", len(seed.Assignments)),
		slog.Int("policies", len(seed.Policies)),
	)
	return nil
}
