package jwtx_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeep/pkg/cryptox"
	"github.com/aussiebroadwan/gatekeep/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

type memKeyStore struct {
	mu   sync.Mutex
	keys []jwtx.SigningKeyRecord
}

func (m *memKeyStore) ListAllSigningKeys(context.Context) ([]jwtx.SigningKeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]jwtx.SigningKeyRecord(nil), m.keys...), nil
}

func (m *memKeyStore) ListActiveSigningKeys(context.Context) ([]jwtx.SigningKeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []jwtx.SigningKeyRecord
	for _, k := range m.keys {
		if k.RetiredAt == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memKeyStore) CreateSigningKey(_ context.Context, k jwtx.SigningKeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, k)
	return nil
}

func TestPersistentKeyManager_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	ks := &memKeyStore{}
	sealer, err := cryptox.NewSealer([]byte("master"))
	require.NoError(t, err)

	opts := jwtx.PersistentKeyManagerOptions{
		KeyManagerOptions: jwtx.KeyManagerOptions{
			Algorithm: jwtx.AlgorithmES256,
			Issuer:    "test-issuer",
			NumKeys:   2,
		},
		Store:  ks,
		Sealer: sealer,
	}

	km1, err := jwtx.NewPersistentKeyManager(ctx, opts)
	require.NoError(t, err)
	require.Equal(t, 2, km1.NumSigners())
	require.Len(t, ks.keys, 2)

	token, err := km1.Sign(testClaims(time.Now().UTC()))
	require.NoError(t, err)

	// A second instance loads the same keys instead of generating new ones
	km2, err := jwtx.NewPersistentKeyManager(ctx, opts)
	require.NoError(t, err)
	require.Len(t, ks.keys, 2)

	_, err = km2.Verifier.Verify(token)
	require.NoError(t, err)
}

func TestPersistentKeyManager_RetiredKeysVerifyOnly(t *testing.T) {
	ctx := context.Background()
	ks := &memKeyStore{}
	sealer, err := cryptox.NewSealer([]byte("master"))
	require.NoError(t, err)

	rec, signer, err := jwtx.NewSigningKeyRecord(jwtx.AlgorithmEdDSA, 0, time.Hour, sealer, time.Now().UTC())
	require.NoError(t, err)
	retired := time.Now().UTC()
	rec.RetiredAt = &retired
	require.NoError(t, ks.CreateSigningKey(ctx, rec))

	token, err := signer.Sign(testClaims(time.Now().UTC()))
	require.NoError(t, err)

	km, err := jwtx.NewPersistentKeyManager(ctx, jwtx.PersistentKeyManagerOptions{
		KeyManagerOptions: jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmEdDSA, Issuer: "test-issuer", NumKeys: 1},
		Store:             ks,
		Sealer:            sealer,
	})
	require.NoError(t, err)

	// One new active key was minted; the retired one still verifies
	require.Equal(t, 1, km.NumSigners())
	require.NotEqual(t, rec.Kid, km.GetSigner().KID())
	_, err = km.Verifier.Verify(token)
	require.NoError(t, err)
}

func TestPersistentKeyManager_WrongMasterKey(t *testing.T) {
	ctx := context.Background()
	ks := &memKeyStore{}
	a, _ := cryptox.NewSealer([]byte("a"))
	b, _ := cryptox.NewSealer([]byte("b"))

	base := jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmEdDSA, Issuer: "i", NumKeys: 1}
	_, err := jwtx.NewPersistentKeyManager(ctx, jwtx.PersistentKeyManagerOptions{KeyManagerOptions: base, Store: ks, Sealer: a})
	require.NoError(t, err)

	_, err = jwtx.NewPersistentKeyManager(ctx, jwtx.PersistentKeyManagerOptions{KeyManagerOptions: base, Store: ks, Sealer: b})
	require.Error(t, err)
}

func TestPersistentKeyManager_RequiresDeps(t *testing.T) {
	_, err := jwtx.NewPersistentKeyManager(context.Background(), jwtx.PersistentKeyManagerOptions{})
	require.Error(t, err)
}
