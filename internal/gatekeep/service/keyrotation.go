package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/audit"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store"
	"github.com/aussiebroadwan/gatekeep/pkg/jwtx"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// DefaultKeyGracePeriod is how long a retired key keeps verifying. It must
// outlive the longest access token signed with it.
const DefaultKeyGracePeriod = 30 * 24 * time.Hour

// KeyRotationService rotates JWT signing keys at runtime.
//
// With a Store, new keys are sealed and persisted and retired keys keep
// verifying for GracePeriod, across restarts. Without one, keys only live in
// the KeyManager and retired keys verify until the process exits.
type KeyRotationService struct {
	Store       store.Store // nil for ephemeral keys
	Sealer      jwtx.KeySealer
	KeyManager  *jwtx.KeyManager
	Audit       audit.Emitter
	RSABits     int
	GracePeriod time.Duration
	Now         func() time.Time
}

type RotateKeyRequest struct {
	// RetireExisting retires every current signing key once the new one is
	// in place. Otherwise the new key signs alongside them.
	RetireExisting bool `json:"retire_existing"`
}

type RotateKeyResponse struct {
	NewKey      domain.SigningKey   `json:"new_key"`
	RetiredKeys []domain.SigningKey `json:"retired_keys,omitempty"`
	ActiveKeys  int                 `json:"active_keys"`
}

func (s *KeyRotationService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *KeyRotationService) grace() time.Duration {
	if s.GracePeriod > 0 {
		return s.GracePeriod
	}
	return DefaultKeyGracePeriod
}

// RotateKey generates a signing key with the KeyManager's algorithm and
// optionally retires the others.
func (s *KeyRotationService) RotateKey(ctx context.Context, req RotateKeyRequest, actor string) (*RotateKeyResponse, error) {
	if s.KeyManager == nil {
		return nil, errors.New("key manager is required")
	}

	now := s.now()
	alg := s.KeyManager.Algorithm()
	grace := s.grace()

	var (
		newKey  domain.SigningKey
		signer  jwtx.Signer
		retired []domain.SigningKey
	)

	if s.Store != nil {
		if s.Sealer == nil {
			return nil, errors.New("sealer is required for persistent keys")
		}
		rec, sg, err := jwtx.NewSigningKeyRecord(alg, s.RSABits, grace, s.Sealer, now)
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		newKey, signer = store.FromRecord(rec), sg

		err = s.Store.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.SigningKeys().CreateSigningKey(ctx, newKey); err != nil {
				return err
			}
			if !req.RetireExisting {
				return nil
			}
			active, err := tx.SigningKeys().ListActiveSigningKeys(ctx)
			if err != nil {
				return err
			}
			for _, k := range active {
				if k.Kid == newKey.Kid {
					continue
				}
				if err := tx.SigningKeys().RetireSigningKey(ctx, k.Kid, now, now.Add(grace)); err != nil {
					return fmt.Errorf("retire key %s: %w", k.Kid, err)
				}
				k.RetiredAt = &now
				k.ExpiresAt = now.Add(grace)
				k.PrivateKeyEncrypted = nil
				retired = append(retired, k)
			}
			return nil
		})
		if err != nil {
			return nil, storeErr(err)
		}
		newKey.PrivateKeyEncrypted = nil
	} else {
		_, sg, err := jwtx.GenerateSigner(alg, s.RSABits)
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		signer = sg
		newKey = domain.SigningKey{Kid: sg.KID(), Algorithm: alg, CreatedAt: now}

		if req.RetireExisting {
			for _, cur := range s.KeyManager.GetSigners() {
				retired = append(retired, domain.SigningKey{
					Kid:       cur.KID(),
					Algorithm: alg,
					RetiredAt: &now,
				})
			}
		}
	}

	// Add first so retiring never hits the last-key guard
	if err := s.KeyManager.AddSigner(signer); err != nil {
		return nil, fmt.Errorf("add signer: %w", err)
	}
	l := slogx.FromContext(ctx)
	for _, k := range retired {
		if err := s.KeyManager.RetireSignerByKid(k.Kid); err != nil {
			l.Warn("retire signer in key manager", "kid", k.Kid, "error", err)
		}
	}

	l.Info("signing key rotated", "kid", newKey.Kid, "retired", len(retired))
	if s.Audit != nil {
		_ = s.Audit.Emit(ctx, audit.New(audit.KindSigningKeyRotated, actor, "").
			With("kid", newKey.Kid).
			With("algorithm", alg).
			With("retired", strconv.Itoa(len(retired))))
	}

	return &RotateKeyResponse{
		NewKey:      newKey,
		RetiredKeys: retired,
		ActiveKeys:  s.KeyManager.NumSigners(),
	}, nil
}

// ListSigningKeys returns stored keys still usable for verification, or the
// KeyManager's active signers when keys are ephemeral. Private material is
// never returned.
func (s *KeyRotationService) ListSigningKeys(ctx context.Context) ([]domain.SigningKey, error) {
	if s.Store != nil {
		keys, err := s.Store.SigningKeys().ListAllSigningKeys(ctx)
		if err != nil {
			return nil, storeErr(err)
		}
		for i := range keys {
			keys[i].PrivateKeyEncrypted = nil
		}
		return keys, nil
	}

	if s.KeyManager == nil {
		return nil, errors.New("key manager is required")
	}
	signers := s.KeyManager.GetSigners()
	keys := make([]domain.SigningKey, len(signers))
	for i, sg := range signers {
		keys[i] = domain.SigningKey{Kid: sg.KID(), Algorithm: s.KeyManager.Algorithm()}
	}
	return keys, nil
}

// RetireKey stops kid signing without generating a replacement. The last
// active key cannot be retired.
func (s *KeyRotationService) RetireKey(ctx context.Context, kid, actor string) error {
	if s.KeyManager == nil {
		return errors.New("key manager is required")
	}

	if err := s.KeyManager.RetireSignerByKid(kid); err != nil {
		return domain.WithMessage(domain.ErrConflict, err.Error())
	}

	if s.Store != nil {
		now := s.now()
		if err := s.Store.SigningKeys().RetireSigningKey(ctx, kid, now, now.Add(s.grace())); err != nil {
			return storeErr(err)
		}
	}

	slogx.FromContext(ctx).Info("signing key retired", "kid", kid)
	if s.Audit != nil {
		_ = s.Audit.Emit(ctx, audit.New(audit.KindSigningKeyRotated, actor, "").
			With("kid", kid).
			With("change", "retired"))
	}
	return nil
}
