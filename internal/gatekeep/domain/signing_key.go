package domain

import "time"

// SigningKey is a JWT signing key stored sealed at rest. Retired keys stop
// signing but keep verifying until ExpiresAt.
type SigningKey struct {
	ID                  string     `json:"id,omitempty"`
	Kid                 string     `json:"kid"`
	Algorithm           string     `json:"alg"`
	PrivateKeyEncrypted []byte     `json:"-"` // sealed private key PEM
	CreatedAt           time.Time  `json:"created_at,omitzero"`
	RetiredAt           *time.Time `json:"retired_at,omitempty"` // nil while signing
	ExpiresAt           time.Time  `json:"expires_at,omitzero"`  // removed after this
}

// IsActive reports whether the key still signs.
func (k *SigningKey) IsActive() bool {
	return k.RetiredAt == nil
}

// IsExpired reports whether a retired key has left its grace period.
func (k *SigningKey) IsExpired(now time.Time) bool {
	return k.RetiredAt != nil && !now.Before(k.ExpiresAt)
}
