package domain

import "time"

// TokenPair is what issuance and refresh return: a short-lived access token
// (JWT) and an opaque refresh token.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"` // seconds
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
}

// RefreshStatus is the lifecycle state of a refresh record.
type RefreshStatus string

const (
	RefreshActive  RefreshStatus = "ACTIVE"
	RefreshRotated RefreshStatus = "ROTATED"
	RefreshRevoked RefreshStatus = "REVOKED"
)

// RefreshToken models the stored refresh record. The opaque value itself is
// never stored, only its fingerprint. Every record in a rotation chain
// shares the ChainID of the first one.
type RefreshToken struct {
	ID              string
	TokenHash       string
	ChainID         string
	ParentID        string
	UserID          string
	WorkspaceID     string
	SessionID       string
	AccessTokenID   string
	AccessExpiresAt time.Time
	MFAVerified     bool
	Status          RefreshStatus
	IssuedAt        time.Time
	ExpiresAt       time.Time
	RotatedAt       *time.Time
	RevokedAt       *time.Time
	RevokeReason    string
}

func (t RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// BlacklistEntry marks an access token id as revoked until it would have
// expired anyway.
type BlacklistEntry struct {
	TokenID   string
	Until     time.Time
	Reason    string
	CreatedAt time.Time
}

// Revocation reasons recorded on refresh records, blacklist entries and
// sessions.
const (
	ReasonLogout        = "logout"
	ReasonReuseDetected = "reuse_detected"
	ReasonEvicted       = "evicted"
	ReasonAnomaly       = "anomaly"
	ReasonRotated       = "rotated"
	ReasonAdmin         = "admin"
	ReasonUser          = "user"
	ReasonExpired       = "expired"
)
