//go:build e2e

package gatekeep_test

import (
	"testing"

	"github.com/aussiebroadwan/gatekeep/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestKeyRotationKeepsOldTokensValid rotates with retirement and checks a
// token signed by the retired key still introspects as active.
func TestKeyRotationKeepsOldTokensValid(t *testing.T) {
	client := newGatewayClient(setupContainer(t, map[string]string{
		"GATEKEEP_KEY_STORAGE_MODE": "persistent",
		"GATEKEEP_MASTER_KEY":       "e2e-master-key-0123456789abcdef",
	}))
	ctx := t.Context()

	admin := login(t, client, "admin")
	victor := login(t, client, "victor")
	oldToken := victor.AccessToken()

	keys, err := admin.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	rotated, err := admin.RotateKey(ctx, authsdk.RotateKeyRequest{RetireExisting: true})
	require.NoError(t, err)
	require.Equal(t, 1, rotated.ActiveKeys)
	require.Len(t, rotated.RetiredKeys, 1)
	require.Equal(t, keys[0].Kid, rotated.RetiredKeys[0].Kid)

	jwks, err := client.GetJWKS(ctx)
	require.NoError(t, err)
	require.Len(t, jwks.Keys, 2, "retired key keeps verifying")

	info, err := admin.Introspect(ctx, oldToken)
	require.NoError(t, err)
	require.True(t, info.Active)

	require.ErrorIs(t, admin.RetireKey(ctx, rotated.NewKey.Kid), authsdk.ErrConflict, "last signing key cannot be retired")
}
