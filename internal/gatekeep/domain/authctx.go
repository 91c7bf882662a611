package domain

import (
	"slices"
	"time"
)

// AuthContext is the verified view of a request's caller, built from an
// access token. It is never persisted.
type AuthContext struct {
	UserID      string         `json:"user_id"`
	WorkspaceID string         `json:"workspace_id"`
	Roles       []string       `json:"roles"`
	Permissions []Permission   `json:"permissions"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	SessionID   string         `json:"session_id"`
	MFAVerified bool           `json:"mfa_verified"`
	TokenID     string         `json:"token_id"`
	IssuedAt    time.Time      `json:"issued_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

func (a AuthContext) HasRole(name string) bool {
	return slices.Contains(a.Roles, name)
}

// Can checks the permissions carried in the token. This is a snapshot from
// issuance; authoritative checks go through the authorizer.
func (a AuthContext) Can(check PermissionCheck) bool {
	return AnyGrants(a.Permissions, a.WorkspaceID, check)
}

// Identity is a verified assertion from the identity provider. Only its
// freshness is checked here.
type Identity struct {
	Subject     string         `json:"subject"`
	Email       string         `json:"email,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
	Provider    string         `json:"provider,omitempty"`
	IssuedAt    time.Time      `json:"issued_at"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Member records that a user belongs to a workspace, along with subject
// attributes used by policies.
type Member struct {
	WorkspaceID string         `json:"workspace_id"`
	UserID      string         `json:"user_id"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
