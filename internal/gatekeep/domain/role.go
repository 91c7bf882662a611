package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/gatekeep/pkg/condx"
)

// Role is a named, ordered set of permissions. Parents lists the ids of
// roles whose permissions this role inherits. A role with an empty
// WorkspaceID is global and may be assigned in any workspace.
type Role struct {
	ID          string       `json:"id"`
	WorkspaceID string       `json:"workspace_id,omitempty"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions"`
	Parents     []string     `json:"parents,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Validate checks the role's own fields. Inheritance cycles need the whole
// graph and are checked by the RBAC service.
func (r Role) Validate() error {
	ve := &ValidationError{Code: CodeInvalidRole}

	switch name := strings.TrimSpace(r.Name); {
	case name == "":
		ve.Add("name", "is required")
	case len(name) > 64:
		ve.Add("name", "must be at most 64 characters")
	case strings.ContainsAny(name, " \t\n"):
		ve.Add("name", "may not contain whitespace")
	}

	for i, p := range r.Permissions {
		if err := p.Validate(); err != nil {
			ve.Add(fmt.Sprintf("permissions[%d]", i), err.Error())
			continue
		}
		if p.Scope == ScopeGlobal && r.WorkspaceID != "" {
			ve.Add(fmt.Sprintf("permissions[%d]", i), "global permissions need a global role")
		}
	}

	seen := make(map[string]bool, len(r.Parents))
	for i, parent := range r.Parents {
		switch {
		case parent == "":
			ve.Add(fmt.Sprintf("parents[%d]", i), "is empty")
		case r.ID != "" && parent == r.ID:
			ve.Add(fmt.Sprintf("parents[%d]", i), "a role cannot inherit from itself")
		case seen[parent]:
			ve.Add(fmt.Sprintf("parents[%d]", i), "duplicate parent")
		}
		seen[parent] = true
	}

	return ve.Err()
}

// GrantsGlobal reports whether the role itself carries a global-scope
// permission. Inherited permissions are not considered.
func (r Role) GrantsGlobal() bool {
	for _, p := range r.Permissions {
		if p.Scope == ScopeGlobal {
			return true
		}
	}
	return false
}

// RoleAssignment grants a role to a user inside a workspace. An empty
// WorkspaceID grants it in every workspace. Expiry and conditions are checked
// at resolution time, never by a sweeper.
type RoleAssignment struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	RoleID      string      `json:"role_id"`
	WorkspaceID string      `json:"workspace_id,omitempty"`
	AssignedBy  string      `json:"assigned_by,omitempty"`
	AssignedAt  time.Time   `json:"assigned_at"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
	Conditions  *condx.Node `json:"conditions,omitempty"`
}

// Expired reports whether the assignment no longer applies at now.
func (a RoleAssignment) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !now.Before(*a.ExpiresAt)
}

// Validate checks the assignment is well formed.
func (a RoleAssignment) Validate() error {
	ve := &ValidationError{Code: CodeInvalidRole}
	if a.UserID == "" {
		ve.Add("user_id", "is required")
	}
	if a.RoleID == "" {
		ve.Add("role_id", "is required")
	}
	if a.ExpiresAt != nil && !a.AssignedAt.IsZero() && !a.ExpiresAt.After(a.AssignedAt) {
		ve.Add("expires_at", "must be after assigned_at")
	}
	if a.Conditions != nil {
		if err := condx.Validate(*a.Conditions, condx.Limits{}); err != nil {
			ve.Add("conditions", err.Error())
		}
	}
	return ve.Err()
}
