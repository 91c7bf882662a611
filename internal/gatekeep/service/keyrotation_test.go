package service

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/audit"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store/drivers/sqlite"
	"github.com/aussiebroadwan/gatekeep/pkg/cryptox"
	"github.com/aussiebroadwan/gatekeep/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func jwksKids(km *jwtx.KeyManager) []string {
	var kids []string
	for _, k := range km.KeySet.PublicJWKS().Keys {
		kids = append(kids, k.Kid)
	}
	return kids
}

func TestKeyRotation_EphemeralKeepsOldTokensValid(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	seedViewer(t, e)

	before := e.login(t, "alice", "ws1", domain.Device{})
	oldKid := e.keys.GetSigners()[0].KID()

	svc := &KeyRotationService{KeyManager: e.keys, Audit: e.audit}
	resp, err := svc.RotateKey(ctx, RotateKeyRequest{RetireExisting: true}, "admin")
	require.NoError(t, err)
	require.NotEqual(t, oldKid, resp.NewKey.Kid)
	require.Equal(t, 1, resp.ActiveKeys)
	require.Len(t, resp.RetiredKeys, 1)
	require.Equal(t, oldKid, resp.RetiredKeys[0].Kid)

	require.Equal(t, resp.NewKey.Kid, e.keys.GetSigners()[0].KID())
	require.ElementsMatch(t, []string{oldKid, resp.NewKey.Kid}, jwksKids(e.keys))

	// Tokens signed before the rotation still verify
	_, err = e.tokens.Validate(ctx, before.Tokens.AccessToken)
	require.NoError(t, err)

	after := e.login(t, "alice", "ws1", domain.Device{})
	_, err = e.tokens.Validate(ctx, after.Tokens.AccessToken)
	require.NoError(t, err)

	keys, err := svc.ListSigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	require.ErrorIs(t, svc.RetireKey(ctx, resp.NewKey.Kid, "admin"), domain.ErrConflict)
	require.Len(t, e.audit.OfKind(audit.KindSigningKeyRotated), 1)
}

func persistentKeys(t *testing.T, st *sqlite.Store, sealer *cryptox.Sealer) *jwtx.KeyManager {
	t.Helper()
	km, err := jwtx.NewPersistentKeyManager(context.Background(), jwtx.PersistentKeyManagerOptions{
		KeyManagerOptions: jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmES256, Issuer: testIssuer, NumKeys: 1},
		Store:             store.NewKeyStoreAdapter(st),
		Sealer:            sealer,
	})
	require.NoError(t, err)
	return km
}

func TestKeyRotation_PersistentSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	sealer, err := cryptox.NewSealer([]byte("master-key-for-tests"))
	require.NoError(t, err)

	km := persistentKeys(t, e.store, sealer)
	oldKid := km.GetSigners()[0].KID()

	svc := &KeyRotationService{Store: e.store, Sealer: sealer, KeyManager: km, Audit: e.audit, GracePeriod: time.Hour}
	resp, err := svc.RotateKey(ctx, RotateKeyRequest{RetireExisting: true}, "admin")
	require.NoError(t, err)
	require.Nil(t, resp.NewKey.PrivateKeyEncrypted)
	require.Len(t, resp.RetiredKeys, 1)
	require.Equal(t, oldKid, resp.RetiredKeys[0].Kid)
	require.NotNil(t, resp.RetiredKeys[0].RetiredAt)

	listed, err := svc.ListSigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	for _, k := range listed {
		require.Nil(t, k.PrivateKeyEncrypted)
		require.Equal(t, k.Kid == resp.NewKey.Kid, k.IsActive())
	}

	// A restarted process signs with the new key and still verifies the old
	restarted := persistentKeys(t, e.store, sealer)
	require.Equal(t, 1, restarted.NumSigners())
	require.Equal(t, resp.NewKey.Kid, restarted.GetSigners()[0].KID())
	require.ElementsMatch(t, []string{oldKid, resp.NewKey.Kid}, jwksKids(restarted))
}

func TestKeyRotation_AddWithoutRetiring(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	sealer, err := cryptox.NewSealer([]byte("master-key-for-tests"))
	require.NoError(t, err)
	km := persistentKeys(t, e.store, sealer)

	svc := &KeyRotationService{Store: e.store, Sealer: sealer, KeyManager: km}
	resp, err := svc.RotateKey(ctx, RotateKeyRequest{}, "admin")
	require.NoError(t, err)
	require.Empty(t, resp.RetiredKeys)
	require.Equal(t, 2, resp.ActiveKeys)

	first := km.GetSigners()[0].KID()
	require.NoError(t, svc.RetireKey(ctx, first, "admin"))
	require.Equal(t, 1, km.NumSigners())

	active, err := e.store.SigningKeys().ListActiveSigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, resp.NewKey.Kid, active[0].Kid)

	require.ErrorIs(t, svc.RetireKey(ctx, "unknown", "admin"), domain.ErrConflict)

	_, err = (&KeyRotationService{Store: e.store, KeyManager: km}).RotateKey(ctx, RotateKeyRequest{}, "admin")
	require.Error(t, err)
}
