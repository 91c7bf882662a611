package jwtx

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// KeyManager owns the signing keys of an instance and the KeySet used to
// verify and publish them. Signing picks a random active key; retired keys
// stay in the KeySet until dropped.
type KeyManager struct {
	Verifier Verifier
	KeySet   *KeySet

	algorithm string

	mu      sync.RWMutex
	signers []Signer
}

// KeyManagerOptions configures the KeyManager.
type KeyManagerOptions struct {
	// Algorithm for new keys: "RS256", "ES256" or "EdDSA".
	Algorithm string

	// Issuer is both stamped and enforced.
	Issuer string

	// Audience enforced on verification. Empty means no check.
	Audience []string

	// Leeway for exp/nbf clock skew.
	Leeway time.Duration

	// RSABits for RS256 keys, defaults to 4096, minimum 2048.
	RSABits int

	// NumKeys active signing keys, defaults to 3, capped at 10.
	NumKeys int
}

func (o *KeyManagerOptions) normalise() error {
	if o.Issuer == "" {
		return errors.New("jwtx: Issuer is required")
	}
	if _, err := keyTypeFor(o.Algorithm); err != nil {
		return err
	}
	if o.NumKeys <= 0 {
		o.NumKeys = 3
	}
	if o.NumKeys > 10 {
		o.NumKeys = 10
	}
	return nil
}

func newKeyManager(opts KeyManagerOptions) *KeyManager {
	keys := NewKeySet()
	return &KeyManager{
		Verifier: NewVerifier(keys, VerifyOptions{
			Issuer:   opts.Issuer,
			Audience: opts.Audience,
			Leeway:   opts.Leeway,
		}),
		KeySet:    keys,
		algorithm: opts.Algorithm,
	}
}

// NewEphemeralKeyManager generates NumKeys in memory. Nothing is persisted,
// so every token dies with the process.
func NewEphemeralKeyManager(opts KeyManagerOptions) (*KeyManager, error) {
	if err := opts.normalise(); err != nil {
		return nil, err
	}

	km := newKeyManager(opts)
	for i := range opts.NumKeys {
		_, s, err := GenerateSigner(opts.Algorithm, opts.RSABits)
		if err != nil {
			return nil, fmt.Errorf("jwtx: generate signer %d: %w", i+1, err)
		}
		if err := km.AddSigner(s); err != nil {
			return nil, err
		}
	}

	return km, nil
}

// Algorithm returns the algorithm used for new keys.
func (km *KeyManager) Algorithm() string { return km.algorithm }

// IsReady returns true if the KeyManager can verify anything.
func (km *KeyManager) IsReady() bool { return km.KeySet.IsReady() }

// GetSigner returns a randomly selected active signer, or nil.
func (km *KeyManager) GetSigner() Signer {
	km.mu.RLock()
	defer km.mu.RUnlock()

	switch len(km.signers) {
	case 0:
		return nil
	case 1:
		return km.signers[0]
	default:
		return km.signers[rand.IntN(len(km.signers))]
	}
}

// Sign signs claims with a random active key.
func (km *KeyManager) Sign(c Claims) (string, error) {
	s := km.GetSigner()
	if s == nil {
		return "", errors.New("jwtx: no active signing key")
	}
	return s.Sign(c)
}

// NumSigners returns the number of active signing keys.
func (km *KeyManager) NumSigners() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return len(km.signers)
}

// AddSigner makes s available for both signing and verification.
func (km *KeyManager) AddSigner(s Signer) error {
	if s == nil {
		return errors.New("jwtx: signer cannot be nil")
	}

	km.mu.Lock()
	defer km.mu.Unlock()

	if err := km.KeySet.AddSigner(s); err != nil {
		return fmt.Errorf("jwtx: add signer to keyset: %w", err)
	}
	km.signers = append(km.signers, s)
	return nil
}

// RetireSignerByKid stops signing with kid. The key keeps verifying until
// DropKey is called. The last active key cannot be retired.
func (km *KeyManager) RetireSignerByKid(kid string) error {
	km.mu.Lock()
	defer km.mu.Unlock()

	if len(km.signers) <= 1 {
		return errors.New("jwtx: cannot retire the last signing key")
	}

	for i, s := range km.signers {
		if s.KID() == kid {
			km.signers = append(km.signers[:i:i], km.signers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("jwtx: signer with kid %q not found", kid)
}

// DropKey removes kid from verification entirely. Used once a retired key's
// grace period is over.
func (km *KeyManager) DropKey(kid string) bool {
	km.mu.RLock()
	for _, s := range km.signers {
		if s.KID() == kid {
			km.mu.RUnlock()
			return false
		}
	}
	km.mu.RUnlock()

	return km.KeySet.Remove(kid)
}

// GetSigners returns a copy of the active signers.
func (km *KeyManager) GetSigners() []Signer {
	km.mu.RLock()
	defer km.mu.RUnlock()

	out := make([]Signer, len(km.signers))
	copy(out, km.signers)
	return out
}
