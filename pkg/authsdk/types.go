package authsdk

import (
	"time"

	"github.com/aussiebroadwan/gatekeep/pkg/condx"
	"github.com/aussiebroadwan/gatekeep/pkg/jwtx"
)

// ============================================================================
// Authentication Types
// ============================================================================

// Identity is a verified assertion from the identity provider. Gatekeep
// only checks that IssuedAt is recent.
type Identity struct {
	Subject     string         `json:"subject"`
	Email       string         `json:"email,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
	Provider    string         `json:"provider,omitempty"`
	IssuedAt    time.Time      `json:"issued_at"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Device describes the client a session is opened from.
type Device struct {
	Fingerprint string `json:"fingerprint,omitempty"`
	IP          string `json:"ip,omitempty"`
	Country     string `json:"country,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
}

// AuthenticateRequest is the body of POST /v1/sessions.
type AuthenticateRequest struct {
	Identity    Identity `json:"identity"`
	WorkspaceID string   `json:"workspace_id"`
	Device      Device   `json:"device"`
	MFAVerified bool     `json:"mfa_verified"`
}

// ============================================================================
// Token Types
// ============================================================================

// TokenResponse is returned by authentication and refresh.
type TokenResponse struct {
	// AccessToken is the JWT to send as a bearer token.
	AccessToken string `json:"access_token"`

	// RefreshToken is opaque and single use; every refresh returns a new one.
	RefreshToken string `json:"refresh_token"`

	// TokenType is always "Bearer".
	TokenType string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64 `json:"expires_in"`

	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`

	// Roles and Permissions are the resolved claims at issuance. Only
	// authentication fills them.
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// RefreshRequest is the body of POST /v1/tokens/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RevokeRequest is the body of POST /v1/tokens/revoke. Exactly one field is
// set: an access token id (jti) or refresh record id, or an opaque refresh
// token.
type RevokeRequest struct {
	TokenID      string `json:"token_id,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// IntrospectRequest is the body of POST /v1/tokens/introspect.
type IntrospectRequest struct {
	Token string `json:"token"`
}

// IntrospectResponse describes a token. Inactive tokens carry only Active
// false, in the manner of RFC 7662.
type IntrospectResponse struct {
	Active      bool           `json:"active"`
	UserID      string         `json:"user_id,omitempty"`
	WorkspaceID string         `json:"workspace_id,omitempty"`
	Roles       []string       `json:"roles,omitempty"`
	Permissions []string       `json:"permissions,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	MFAVerified bool           `json:"mfa_verified,omitempty"`
	TokenID     string         `json:"token_id,omitempty"`
	IssuedAt    *time.Time     `json:"issued_at,omitempty"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
}

// ============================================================================
// Session Types
// ============================================================================

// SessionInfo is one of the caller's sessions.
type SessionInfo struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	WorkspaceID       string    `json:"workspace_id"`
	DeviceFingerprint string    `json:"device_fingerprint,omitempty"`
	IP                string    `json:"ip,omitempty"`
	Country           string    `json:"country,omitempty"`
	UserAgent         string    `json:"user_agent,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	Status            string    `json:"status"`
	MFAVerified       bool      `json:"mfa_verified"`
	RiskScore         int       `json:"risk_score"`
	Flagged           bool      `json:"flagged"`
	TerminatedReason  string    `json:"terminated_reason,omitempty"`

	// Current marks the session the request was made with.
	Current bool `json:"current"`
}

type ListSessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

type TerminateOthersResponse struct {
	Terminated int `json:"terminated"`
}

// ============================================================================
// Authorization Types
// ============================================================================

// ResourceRef identifies the resource an action targets. WorkspaceID
// defaults to the caller's workspace.
type ResourceRef struct {
	Type        string         `json:"type"`
	ID          string         `json:"id,omitempty"`
	WorkspaceID string         `json:"workspace_id,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// AuthorizeRequest is the body of POST /v1/authorize.
type AuthorizeRequest struct {
	Resource    ResourceRef    `json:"resource"`
	Action      string         `json:"action"`
	Environment map[string]any `json:"environment,omitempty"`
}

// AuthorizeResponse is a decision. Denials are not errors. Reason and
// PolicyID are only filled for callers allowed to read audit detail.
type AuthorizeResponse struct {
	Allowed  bool   `json:"allowed"`
	Reason   string `json:"reason,omitempty"`
	PolicyID string `json:"policy_id,omitempty"`
}

// ============================================================================
// Role Types
// ============================================================================

// Role is a named permission set. Permissions are canonical strings such as
// "document:read" or "global:audit:read".
type Role struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
	Parents     []string  `json:"parents,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleRequest creates or replaces a role. Global creates a role usable in
// every workspace and needs a global permission.
type RoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
	Parents     []string `json:"parents,omitempty"`
	Global      bool     `json:"global,omitempty"`
}

type ListRolesResponse struct {
	Roles []Role `json:"roles"`
}

// Assignment grants a role to a user.
type Assignment struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	RoleID      string      `json:"role_id"`
	WorkspaceID string      `json:"workspace_id,omitempty"`
	AssignedBy  string      `json:"assigned_by,omitempty"`
	AssignedAt  time.Time   `json:"assigned_at"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
	Conditions  *condx.Node `json:"conditions,omitempty"`
}

// AssignRequest is the body of POST /v1/assignments.
type AssignRequest struct {
	UserID     string      `json:"user_id"`
	RoleID     string      `json:"role_id"`
	ExpiresAt  *time.Time  `json:"expires_at,omitempty"`
	Conditions *condx.Node `json:"conditions,omitempty"`
	Global     bool        `json:"global,omitempty"`
}

type ListAssignmentsResponse struct {
	Assignments []Assignment `json:"assignments"`
}

// ============================================================================
// Member Types
// ============================================================================

// Member is a user's membership of a workspace. Attributes feed policy
// conditions as subject.* values.
type Member struct {
	WorkspaceID string         `json:"workspace_id"`
	UserID      string         `json:"user_id"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// MemberRequest is the body of PUT /v1/members/{user}.
type MemberRequest struct {
	Attributes map[string]any `json:"attributes,omitempty"`
}

type ListMembersResponse struct {
	Members []Member `json:"members"`
}

// ============================================================================
// Policy Types
// ============================================================================

// Rule is a condition and the effect ("ALLOW" or "DENY") it produces.
type Rule struct {
	Effect      string     `json:"effect"`
	Condition   condx.Node `json:"condition"`
	Description string     `json:"description,omitempty"`
}

type Policy struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Timezone    string    `json:"timezone,omitempty"`
	Resources   []string  `json:"resources,omitempty"`
	Actions     []string  `json:"actions,omitempty"`
	Rules       []Rule    `json:"rules"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PolicyRequest creates or updates a policy. On update Version must be the
// version being replaced.
type PolicyRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Timezone    string   `json:"timezone,omitempty"`
	Resources   []string `json:"resources,omitempty"`
	Actions     []string `json:"actions,omitempty"`
	Rules       []Rule   `json:"rules"`
	Version     int      `json:"version,omitempty"`
	Global      bool     `json:"global,omitempty"`
}

type ListPoliciesResponse struct {
	Policies []Policy `json:"policies"`
}

// ============================================================================
// Health Types
// ============================================================================

// HealthResponse is returned by /livez and /readyz (readyz adds Checks).
type HealthResponse struct {
	// Status is "ok" or "degraded".
	Status string `json:"status"`

	// Uptime is the service uptime (e.g., "1h23m45s").
	Uptime string `json:"uptime,omitempty"`

	Version string `json:"version,omitempty"`

	Checks *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports each critical dependency.
type HealthChecks struct {
	Database  string `json:"database"`
	Signer    string `json:"signer"`
	Blacklist string `json:"blacklist"`
}

// ============================================================================
// Key Types
// ============================================================================

// JWKSResponse is the public key set from /.well-known/jwks.json.
type JWKSResponse jwtx.JWKS

// RotateKeyRequest controls a rotation. With RetireExisting false the new key
// signs alongside the current ones.
type RotateKeyRequest struct {
	RetireExisting bool `json:"retire_existing"`
}

// SigningKeyInfo describes a signing key. Private material is never sent.
type SigningKeyInfo struct {
	ID        string     `json:"id,omitempty"`
	Kid       string     `json:"kid"`
	Algorithm string     `json:"alg"`
	CreatedAt time.Time  `json:"created_at,omitzero"`
	RetiredAt *time.Time `json:"retired_at,omitempty"`
	ExpiresAt time.Time  `json:"expires_at,omitzero"`
}

type ListKeysResponse struct {
	Keys []SigningKeyInfo `json:"keys"`
}

type RotateKeyResponse struct {
	NewKey      SigningKeyInfo   `json:"new_key"`
	RetiredKeys []SigningKeyInfo `json:"retired_keys,omitempty"`
	ActiveKeys  int              `json:"active_keys"`
}
