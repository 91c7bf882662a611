package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/audit"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store"
	"github.com/aussiebroadwan/gatekeep/pkg/condx"
	"github.com/aussiebroadwan/gatekeep/pkg/idx"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// DefaultCacheTTL bounds how stale a cached role graph or assignment list
// may be when the write happened on another instance.
const DefaultCacheTTL = 500 * time.Millisecond

// RBACService resolves what a user may do in a workspace from role
// assignments and role inheritance.
//
// Reads come from per-workspace role graph and per-user assignment
// snapshots. Every write on this instance bumps a generation counter that
// invalidates all snapshots; CacheTTL covers writes made elsewhere. Expiry
// and conditions are evaluated on every call, never cached.
type RBACService struct {
	Store    store.Store
	Audit    audit.Emitter
	CacheTTL time.Duration
	Now      func() time.Time

	gen     atomic.Uint64
	graphs  sync.Map // workspace id -> *cached[map[string]domain.Role]
	assigns sync.Map // user|workspace -> *cached[[]domain.RoleAssignment]
	eval    condx.Evaluator
}

type cached[T any] struct {
	gen    uint64
	loaded time.Time
	value  T
}

func (s *RBACService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *RBACService) fresh(gen uint64, loaded time.Time) bool {
	ttl := s.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return gen == s.gen.Load() && time.Since(loaded) < ttl
}

// Invalidate drops every cached snapshot.
func (s *RBACService) Invalidate() { s.gen.Add(1) }

func (s *RBACService) emit(ctx context.Context, ev audit.Event) {
	if s.Audit == nil {
		return
	}
	_ = s.Audit.Emit(ctx, ev)
}

func (s *RBACService) roleGraph(ctx context.Context, workspaceID string) (map[string]domain.Role, error) {
	if v, ok := s.graphs.Load(workspaceID); ok {
		c := v.(*cached[map[string]domain.Role])
		if s.fresh(c.gen, c.loaded) {
			return c.value, nil
		}
	}

	gen := s.gen.Load()
	roles, err := s.Store.Roles().ListRoles(ctx, workspaceID)
	if err != nil {
		return nil, storeErr(err)
	}
	graph := make(map[string]domain.Role, len(roles))
	for _, r := range roles {
		graph[r.ID] = r
	}
	s.graphs.Store(workspaceID, &cached[map[string]domain.Role]{gen: gen, loaded: time.Now(), value: graph})
	return graph, nil
}

func (s *RBACService) assignments(ctx context.Context, userID, workspaceID string) ([]domain.RoleAssignment, error) {
	key := userID + "|" + workspaceID
	if v, ok := s.assigns.Load(key); ok {
		c := v.(*cached[[]domain.RoleAssignment])
		if s.fresh(c.gen, c.loaded) {
			return c.value, nil
		}
	}

	gen := s.gen.Load()
	list, err := s.Store.Assignments().ListAssignmentsForUser(ctx, userID, workspaceID)
	if err != nil {
		return nil, storeErr(err)
	}
	s.assigns.Store(key, &cached[[]domain.RoleAssignment]{gen: gen, loaded: time.Now(), value: list})
	return list, nil
}

// ResolveOption tunes a resolution.
type ResolveOption func(*resolveOptions)

type resolveOptions struct {
	attrs condx.Attributes
	at    time.Time
}

// WithAttributes supplies the subject/environment attributes assignment
// conditions are evaluated against.
func WithAttributes(attrs condx.Attributes) ResolveOption {
	return func(o *resolveOptions) { o.attrs = attrs }
}

// WithTime resolves as of t instead of now.
func WithTime(t time.Time) ResolveOption {
	return func(o *resolveOptions) { o.at = t }
}

// Resolution is the outcome of resolving a user's roles.
type Resolution struct {
	Roles       []string
	Permissions []domain.Permission
}

// Resolve returns the closure of roles reachable from the user's live
// assignments and the union of their permissions.
func (s *RBACService) Resolve(ctx context.Context, userID, workspaceID string, opts ...ResolveOption) (Resolution, error) {
	o := resolveOptions{at: s.now()}
	for _, opt := range opts {
		opt(&o)
	}

	assigned, err := s.assignments(ctx, userID, workspaceID)
	if err != nil {
		return Resolution{}, err
	}
	graph, err := s.roleGraph(ctx, workspaceID)
	if err != nil {
		return Resolution{}, err
	}

	attrs := conditionAttributes(o.attrs, o.at)

	visited := make(map[string]bool)
	var queue []string
	for _, a := range assigned {
		if a.Expired(o.at) {
			continue
		}
		if a.Conditions != nil && !s.eval.Eval(*a.Conditions, attrs, time.UTC) {
			continue
		}
		queue = append(queue, a.RoleID)
	}

	var (
		names []string
		perms []domain.Permission
	)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		role, ok := graph[id]
		if !ok {
			slogx.FromContext(ctx).Debug("assigned role not visible in workspace", "role_id", id, "workspace_id", workspaceID)
			continue
		}
		names = append(names, role.Name)
		perms = append(perms, role.Permissions...)
		queue = append(queue, role.Parents...)
	}

	slices.Sort(names)
	return Resolution{
		Roles:       slices.Compact(names),
		Permissions: domain.SortPermissions(perms),
	}, nil
}

// conditionAttributes copies attrs and stamps environment.time unless the
// caller provided one.
func conditionAttributes(attrs condx.Attributes, at time.Time) condx.Attributes {
	out := condx.Attributes{}
	maps.Copy(out, attrs)
	if _, ok := out.Lookup("environment.time"); !ok {
		env := map[string]any{}
		switch e := out[condx.RootEnvironment].(type) {
		case map[string]any:
			maps.Copy(env, e)
		case condx.Attributes:
			maps.Copy(env, e)
		}
		env["time"] = at
		out[condx.RootEnvironment] = env
	}
	return out
}

// ResolvePermissions returns the user's effective permissions, sorted and
// free of duplicates.
func (s *RBACService) ResolvePermissions(ctx context.Context, userID, workspaceID string, opts ...ResolveOption) ([]domain.Permission, error) {
	r, err := s.Resolve(ctx, userID, workspaceID, opts...)
	if err != nil {
		return nil, err
	}
	return r.Permissions, nil
}

// ResolveRoles returns the names of the user's effective roles, inherited
// ones included.
func (s *RBACService) ResolveRoles(ctx context.Context, userID, workspaceID string, opts ...ResolveOption) ([]string, error) {
	r, err := s.Resolve(ctx, userID, workspaceID, opts...)
	if err != nil {
		return nil, err
	}
	return r.Roles, nil
}

// HasPermission reports whether any effective permission grants check.
func (s *RBACService) HasPermission(ctx context.Context, userID, workspaceID string, check domain.PermissionCheck, opts ...ResolveOption) (bool, error) {
	perms, err := s.ResolvePermissions(ctx, userID, workspaceID, opts...)
	if err != nil {
		return false, err
	}
	return domain.AnyGrants(perms, workspaceID, check), nil
}

// AssignRole grants a role. The role must be global or belong to the
// assignment's workspace.
func (s *RBACService) AssignRole(ctx context.Context, a domain.RoleAssignment) (domain.RoleAssignment, error) {
	now := s.now()
	if a.AssignedAt.IsZero() {
		a.AssignedAt = now
	}
	if err := a.Validate(); err != nil {
		return domain.RoleAssignment{}, err
	}
	if a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
		return domain.RoleAssignment{}, &domain.ValidationError{
			Code:   domain.CodeInvalidRole,
			Fields: []domain.FieldError{{Field: "expires_at", Message: "must be in the future"}},
		}
	}

	role, err := s.Store.Roles().GetRole(ctx, a.RoleID)
	if err != nil {
		return domain.RoleAssignment{}, storeErr(err)
	}
	if role.WorkspaceID != "" && role.WorkspaceID != a.WorkspaceID {
		return domain.RoleAssignment{}, domain.WithMessage(domain.ErrInvalidRole, "role belongs to another workspace")
	}

	if a.ID == "" {
		a.ID = idx.NewAt(now).String()
	}
	if err := s.Store.Assignments().CreateAssignment(ctx, a); err != nil {
		return domain.RoleAssignment{}, storeErr(err)
	}
	s.Invalidate()

	s.emit(ctx, audit.New(audit.KindRoleAssigned, a.AssignedBy, a.WorkspaceID).
		With("assignment_id", a.ID).
		With("user_id", a.UserID).
		With("role", role.Name))
	return a, nil
}

// RevokeRole removes an assignment. Revoking one that is already gone is
// not an error.
func (s *RBACService) RevokeRole(ctx context.Context, assignmentID, actor string) error {
	a, err := s.Store.Assignments().GetAssignment(ctx, assignmentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return storeErr(err)
	}

	if err := s.Store.Assignments().DeleteAssignment(ctx, assignmentID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return storeErr(err)
	}
	s.Invalidate()

	s.emit(ctx, audit.New(audit.KindRoleRevoked, actor, a.WorkspaceID).
		With("assignment_id", a.ID).
		With("user_id", a.UserID).
		With("role_id", a.RoleID))
	return nil
}

// GetAssignment returns one assignment.
func (s *RBACService) GetAssignment(ctx context.Context, id string) (domain.RoleAssignment, error) {
	a, err := s.Store.Assignments().GetAssignment(ctx, id)
	return a, storeErr(err)
}

// ListAssignments returns every assignment made in a workspace.
func (s *RBACService) ListAssignments(ctx context.Context, workspaceID string) ([]domain.RoleAssignment, error) {
	list, err := s.Store.Assignments().ListAssignments(ctx, workspaceID)
	if err != nil {
		return nil, storeErr(err)
	}
	return list, nil
}

// ListRoles returns the roles visible in a workspace.
func (s *RBACService) ListRoles(ctx context.Context, workspaceID string) ([]domain.Role, error) {
	roles, err := s.Store.Roles().ListRoles(ctx, workspaceID)
	if err != nil {
		return nil, storeErr(err)
	}
	return roles, nil
}

// GetRole returns one role.
func (s *RBACService) GetRole(ctx context.Context, id string) (domain.Role, error) {
	r, err := s.Store.Roles().GetRole(ctx, id)
	return r, storeErr(err)
}

// CreateRole stores a new role after checking its parents exist and are
// visible from its workspace.
func (s *RBACService) CreateRole(ctx context.Context, r domain.Role, actor string) (domain.Role, error) {
	now := s.now()
	if r.ID == "" {
		r.ID = idx.NewAt(now).String()
	}
	r.Permissions = domain.SortPermissions(r.Permissions)
	if err := r.Validate(); err != nil {
		return domain.Role{}, err
	}

	graph, err := s.Store.Roles().ListRoles(ctx, r.WorkspaceID)
	if err != nil {
		return domain.Role{}, storeErr(err)
	}
	if err := checkRoleGraph(r, graph); err != nil {
		return domain.Role{}, err
	}

	r.CreatedAt, r.UpdatedAt = now, now
	if err := s.Store.Roles().CreateRole(ctx, r); err != nil {
		return domain.Role{}, storeErr(err)
	}
	s.Invalidate()

	s.emit(ctx, audit.New(audit.KindRoleChanged, actor, r.WorkspaceID).
		With("role_id", r.ID).
		With("role", r.Name).
		With("change", "created"))
	return r, nil
}

// UpdateRole replaces a role's name, description, permissions and parents.
// The workspace a role belongs to never changes.
func (s *RBACService) UpdateRole(ctx context.Context, r domain.Role, actor string) (domain.Role, error) {
	existing, err := s.Store.Roles().GetRole(ctx, r.ID)
	if err != nil {
		return domain.Role{}, storeErr(err)
	}
	r.WorkspaceID = existing.WorkspaceID
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = s.now()
	r.Permissions = domain.SortPermissions(r.Permissions)
	if err := r.Validate(); err != nil {
		return domain.Role{}, err
	}

	graph, err := s.Store.Roles().ListRoles(ctx, r.WorkspaceID)
	if err != nil {
		return domain.Role{}, storeErr(err)
	}
	if err := checkRoleGraph(r, graph); err != nil {
		return domain.Role{}, err
	}

	if err := s.Store.Roles().UpdateRole(ctx, r); err != nil {
		return domain.Role{}, storeErr(err)
	}
	s.Invalidate()

	s.emit(ctx, audit.New(audit.KindRoleChanged, actor, r.WorkspaceID).
		With("role_id", r.ID).
		With("role", r.Name).
		With("change", "updated"))
	return r, nil
}

// DeleteRole removes a role and its assignments. Roles inheriting from it
// simply stop receiving its permissions.
func (s *RBACService) DeleteRole(ctx context.Context, id, actor string) error {
	r, err := s.Store.Roles().GetRole(ctx, id)
	if err != nil {
		return storeErr(err)
	}
	if err := s.Store.Roles().DeleteRole(ctx, id); err != nil {
		return storeErr(err)
	}
	s.Invalidate()

	s.emit(ctx, audit.New(audit.KindRoleChanged, actor, r.WorkspaceID).
		With("role_id", r.ID).
		With("role", r.Name).
		With("change", "deleted"))
	return nil
}

// checkRoleGraph verifies r's parents are visible roles and that r does not
// reach itself through them. visible is every role r's workspace can see.
func checkRoleGraph(r domain.Role, visible []domain.Role) error {
	graph := make(map[string]domain.Role, len(visible)+1)
	for _, v := range visible {
		graph[v.ID] = v
	}
	graph[r.ID] = r

	ve := &domain.ValidationError{Code: domain.CodeInvalidRole}
	for i, p := range r.Parents {
		if _, ok := graph[p]; !ok || p == r.ID {
			ve.Add(fmt.Sprintf("parents[%d]", i), fmt.Sprintf("unknown role %q", p))
		}
	}
	if err := ve.Err(); err != nil {
		return err
	}

	// Workspace roles may not pick up global permissions through inheritance
	if r.WorkspaceID != "" {
		for i, p := range r.Parents {
			if inheritsGlobal(graph, p) {
				ve.Add(fmt.Sprintf("parents[%d]", i), fmt.Sprintf("role %q carries global permissions", graph[p].Name))
			}
		}
		if err := ve.Err(); err != nil {
			return err
		}
	}

	// Depth first from r; reaching r again is a cycle
	visited := make(map[string]bool)
	stack := slices.Clone(r.Parents)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == r.ID {
			return domain.WithMessage(domain.ErrRoleCycle, fmt.Sprintf("role %q would inherit from itself", r.Name))
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		stack = append(stack, graph[id].Parents...)
	}
	return nil
}

// inheritsGlobal reports whether id or any of its ancestors in graph
// carries a global-scope permission.
func inheritsGlobal(graph map[string]domain.Role, id string) bool {
	visited := make(map[string]bool)
	stack := []string{id}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true
		role := graph[id]
		if role.GrantsGlobal() {
			return true
		}
		stack = append(stack, role.Parents...)
	}
	return false
}

// PutMember adds a user to a workspace or replaces their attributes.
func (s *RBACService) PutMember(ctx context.Context, m domain.Member, actor string) (domain.Member, error) {
	if m.WorkspaceID == "" || m.UserID == "" {
		return domain.Member{}, domain.WithMessage(domain.ErrInvalidRequest, "workspace_id and user_id are required")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	if err := s.Store.Members().PutMember(ctx, m); err != nil {
		return domain.Member{}, storeErr(err)
	}
	s.emit(ctx, audit.New(audit.KindMemberChanged, actor, m.WorkspaceID).
		With("user_id", m.UserID).
		With("change", "put"))
	return m, nil
}

// GetMember returns one membership.
func (s *RBACService) GetMember(ctx context.Context, workspaceID, userID string) (domain.Member, error) {
	m, err := s.Store.Members().GetMember(ctx, workspaceID, userID)
	return m, storeErr(err)
}

func (s *RBACService) ListMembers(ctx context.Context, workspaceID string) ([]domain.Member, error) {
	list, err := s.Store.Members().ListMembers(ctx, workspaceID)
	if err != nil {
		return nil, storeErr(err)
	}
	return list, nil
}

// RemoveMember removes a user from a workspace. Their refresh chains are
// revoked the next time they are presented.
func (s *RBACService) RemoveMember(ctx context.Context, workspaceID, userID, actor string) error {
	err := s.Store.Members().DeleteMember(ctx, workspaceID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return storeErr(err)
	}
	s.emit(ctx, audit.New(audit.KindMemberChanged, actor, workspaceID).
		With("user_id", userID).
		With("change", "removed"))
	return nil
}
