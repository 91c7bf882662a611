package jwtx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/gatekeep/pkg/idx"
)

// SigningKeyRecord is a signing key as persisted. Kept here rather than in a
// domain package so jwtx stays free of service imports.
type SigningKeyRecord struct {
	ID                  string
	Kid                 string
	Algorithm           string
	PrivateKeyEncrypted []byte
	CreatedAt           time.Time
	RetiredAt           *time.Time
	ExpiresAt           time.Time
}

// KeyStore is the persistence the persistent KeyManager needs.
type KeyStore interface {
	// ListAllSigningKeys returns every key still inside its grace period.
	ListAllSigningKeys(ctx context.Context) ([]SigningKeyRecord, error)

	// ListActiveSigningKeys returns keys that have not been retired.
	ListActiveSigningKeys(ctx context.Context) ([]SigningKeyRecord, error)

	CreateSigningKey(ctx context.Context, key SigningKeyRecord) error
}

// KeySealer encrypts private key material at rest.
type KeySealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// PersistentKeyManagerOptions configures a KeyManager backed by a KeyStore.
type PersistentKeyManagerOptions struct {
	KeyManagerOptions

	Store  KeyStore
	Sealer KeySealer

	// GracePeriod a retired key keeps verifying. Defaults to 30 days.
	GracePeriod time.Duration
}

// NewPersistentKeyManager loads keys from the store, verifying with all of
// them and signing with the active ones, then tops up to NumKeys active keys.
func NewPersistentKeyManager(ctx context.Context, opts PersistentKeyManagerOptions) (*KeyManager, error) {
	if opts.Store == nil {
		return nil, errors.New("jwtx: Store is required for persistent key manager")
	}
	if opts.Sealer == nil {
		return nil, errors.New("jwtx: Sealer is required for persistent key manager")
	}
	if err := opts.normalise(); err != nil {
		return nil, err
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 30 * 24 * time.Hour
	}

	all, err := opts.Store.ListAllSigningKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("jwtx: load keys: %w", err)
	}

	km := newKeyManager(opts.KeyManagerOptions)

	// 1. Every stored key verifies, only unretired ones sign
	for _, rec := range all {
		s, err := opts.openSigner(rec)
		if err != nil {
			return nil, err
		}
		if rec.RetiredAt == nil {
			if err := km.AddSigner(s); err != nil {
				return nil, err
			}
			continue
		}
		if err := km.KeySet.AddSigner(s); err != nil {
			return nil, fmt.Errorf("jwtx: add retired key %s: %w", rec.Kid, err)
		}
	}

	// 2. Top up to the target number of active keys
	for km.NumSigners() < opts.NumKeys {
		rec, s, err := NewSigningKeyRecord(opts.Algorithm, opts.RSABits, opts.GracePeriod, opts.Sealer, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		if err := opts.Store.CreateSigningKey(ctx, rec); err != nil {
			return nil, fmt.Errorf("jwtx: store new key: %w", err)
		}
		if err := km.AddSigner(s); err != nil {
			return nil, err
		}
	}

	return km, nil
}

func (o PersistentKeyManagerOptions) openSigner(rec SigningKeyRecord) (Signer, error) {
	pemData, err := o.Sealer.Open(rec.PrivateKeyEncrypted)
	if err != nil {
		return nil, fmt.Errorf("jwtx: decrypt key %s: %w", rec.Kid, err)
	}
	s, err := NewSigner(rec.Algorithm, rec.Kid, pemData)
	if err != nil {
		return nil, fmt.Errorf("jwtx: load key %s: %w", rec.Kid, err)
	}
	return s, nil
}

// NewSigningKeyRecord generates a key and the sealed record to persist it.
// ExpiresAt is provisional and gets pushed out when the key is retired.
func NewSigningKeyRecord(alg string, rsaBits int, grace time.Duration, sealer KeySealer, now time.Time) (SigningKeyRecord, Signer, error) {
	pemData, s, err := GenerateSigner(alg, rsaBits)
	if err != nil {
		return SigningKeyRecord{}, nil, err
	}

	sealed, err := sealer.Seal(pemData)
	if err != nil {
		return SigningKeyRecord{}, nil, fmt.Errorf("jwtx: encrypt new key: %w", err)
	}

	return SigningKeyRecord{
		ID:                  idx.New().String(),
		Kid:                 s.KID(),
		Algorithm:           alg,
		PrivateKeyEncrypted: sealed,
		CreatedAt:           now,
		ExpiresAt:           now.Add(grace),
	}, s, nil
}
