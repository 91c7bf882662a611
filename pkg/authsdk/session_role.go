package authsdk

import (
	"context"
	"net/http"
)

// ListRoles returns the roles visible in the caller's workspace, global
// roles included.
// Requires: roles:manage
func (s *Session) ListRoles(ctx context.Context) ([]Role, error) {
	var out ListRolesResponse
	if err := s.doAuthJSON(ctx, http.MethodGet, "/v1/roles", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Roles, nil
}

// CreateRole creates a role in the caller's workspace, or a global role when
// req.Global is set.
// Requires: roles:manage (global:roles:manage for global roles)
func (s *Session) CreateRole(ctx context.Context, req RoleRequest) (*Role, error) {
	var out Role
	if err := s.doAuthJSON(ctx, http.MethodPost, "/v1/roles", req, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateRole replaces a role's description, permissions and parents.
// Requires: roles:manage
func (s *Session) UpdateRole(ctx context.Context, id string, req RoleRequest) (*Role, error) {
	var out Role
	if err := s.doAuthJSON(ctx, http.MethodPut, "/v1/roles/"+pathEscape(id), req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteRole deletes a role and every assignment of it.
// Requires: roles:manage
func (s *Session) DeleteRole(ctx context.Context, id string) error {
	return s.doAuthJSON(ctx, http.MethodDelete, "/v1/roles/"+pathEscape(id), nil, nil, http.StatusNoContent)
}

// ListAssignments returns the role assignments in the caller's workspace.
// Requires: roles:manage
func (s *Session) ListAssignments(ctx context.Context) ([]Assignment, error) {
	var out ListAssignmentsResponse
	if err := s.doAuthJSON(ctx, http.MethodGet, "/v1/assignments", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Assignments, nil
}

// AssignRole grants a role to a user.
// Requires: roles:manage
func (s *Session) AssignRole(ctx context.Context, req AssignRequest) (*Assignment, error) {
	var out Assignment
	if err := s.doAuthJSON(ctx, http.MethodPost, "/v1/assignments", req, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// RevokeAssignment removes a role assignment. Removing it twice succeeds.
// Requires: roles:manage
func (s *Session) RevokeAssignment(ctx context.Context, id string) error {
	return s.doAuthJSON(ctx, http.MethodDelete, "/v1/assignments/"+pathEscape(id), nil, nil, http.StatusNoContent)
}
