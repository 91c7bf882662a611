package jwtx

import (
	"crypto"
	"errors"
	"slices"
	"sync"
)

var ErrNoKey = errors.New("jwtx: key not found")

type keyEntry struct {
	jwk JWK
	pub crypto.PublicKey
}

// KeySet holds the public verification keys in memory. It is shared between
// the verifier and the JWKS endpoint.
type KeySet struct {
	mu    sync.RWMutex
	keys  map[string]keyEntry
	order []string
}

// NewKeySet returns an empty KeySet.
func NewKeySet() *KeySet {
	return &KeySet{keys: make(map[string]keyEntry)}
}

// AddSigner registers a Signer's public JWK.
func (k *KeySet) AddSigner(s Signer) error {
	return k.AddJWK(s.PublicJWK())
}

// AddJWK adds (or replaces) a JWK by kid.
func (k *KeySet) AddJWK(j JWK) error {
	pub, err := j.PublicKey()
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.keys[j.Kid]; !ok {
		k.order = append(k.order, j.Kid)
	}
	k.keys[j.Kid] = keyEntry{jwk: j, pub: pub}
	return nil
}

// Remove drops a key so tokens signed with it no longer verify. Reports
// whether the kid was present.
func (k *KeySet) Remove(kid string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.keys[kid]; !ok {
		return false
	}
	delete(k.keys, kid)
	k.order = slices.DeleteFunc(k.order, func(s string) bool { return s == kid })
	return true
}

// Get returns the public key and its declared algorithm for kid.
func (k *KeySet) Get(kid string) (crypto.PublicKey, string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	e, ok := k.keys[kid]
	if !ok {
		return nil, "", ErrNoKey
	}
	return e.pub, e.jwk.Alg, nil
}

// PublicJWKS returns a snapshot in insertion order for HTTP serving.
func (k *KeySet) PublicJWKS() JWKS {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := JWKS{Keys: make([]JWK, 0, len(k.order))}
	for _, kid := range k.order {
		out.Keys = append(out.Keys, k.keys[kid].jwk)
	}
	return out
}

// IsReady returns true if at least one key is loaded.
func (k *KeySet) IsReady() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys) > 0
}
