package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token lifetimes. Access tokens stay short because they are only
// revocable through the blacklist.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// TokenTypeAccess is the only value of the "typ" claim we sign. Anything
// else presented as an access token is rejected.
const TokenTypeAccess = "access"

// Claims are the access-token claims. Additive changes only, resource
// services decode these too.
type Claims struct {
	jwt.RegisteredClaims

	// Workspace (tenant) the token is scoped to
	WorkspaceID string `json:"wid"`

	// Session ID
	SID string `json:"sid,omitempty"`

	// Role names effective at issuance
	Roles []string `json:"roles,omitempty"`

	// Canonical permission strings, e.g. "workspace:document:read"
	Perms []string `json:"perms,omitempty"`

	// Subject attributes forwarded for ABAC
	Attrs map[string]any `json:"attrs,omitempty"`

	// Second factor satisfied for this session
	MFA bool `json:"mfa,omitempty"`

	Type string `json:"typ"`
}

// AccessClaimsParams collects the inputs of NewAccessClaims.
type AccessClaimsParams struct {
	Subject     string
	WorkspaceID string
	SessionID   string
	Issuer      string
	Audience    []string
	Roles       []string
	Perms       []string
	Attrs       map[string]any
	MFA         bool
	TTL         time.Duration

	// JTI defaults to NewJTI() when empty.
	JTI string

	Now time.Time
}

// NewAccessClaims builds minimally-correct access claims.
func NewAccessClaims(p AccessClaimsParams) Claims {
	jti := p.JTI
	if jti == "" {
		jti = NewJTI()
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}

	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.Issuer,
			Subject:   p.Subject,
			Audience:  jwt.ClaimStrings(p.Audience),
			IssuedAt:  jwt.NewNumericDate(p.Now),
			NotBefore: jwt.NewNumericDate(p.Now),
			ExpiresAt: jwt.NewNumericDate(p.Now.Add(ttl)),
			ID:        jti,
		},
		WorkspaceID: p.WorkspaceID,
		SID:         p.SessionID,
		Roles:       p.Roles,
		Perms:       p.Perms,
		Attrs:       p.Attrs,
		MFA:         p.MFA,
		Type:        TokenTypeAccess,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil
	}
	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}
	return ErrAudience
}

// ExpiresAtTime returns the exp claim or the zero time.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// IssuedAtTime returns the iat claim or the zero time.
func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}
