package jwtx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeep/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func testClaims(now time.Time) jwtx.Claims {
	return jwtx.NewAccessClaims(jwtx.AccessClaimsParams{
		Subject:     "user-123",
		WorkspaceID: "ws-1",
		SessionID:   "session-abc",
		Issuer:      "test-issuer",
		Audience:    []string{"test-audience"},
		Roles:       []string{"editor"},
		Perms:       []string{"workspace:document:read"},
		Attrs:       map[string]any{"department": "eng"},
		MFA:         true,
		TTL:         5 * time.Minute,
		Now:         now,
	})
}

func TestNewEphemeralKeyManager_AllAlgorithms(t *testing.T) {
	tests := []struct {
		name      string
		algorithm string
		rsaBits   int
	}{
		{"RS256 with 2048 bits", jwtx.AlgorithmRS256, 2048},
		{"ES256", jwtx.AlgorithmES256, 0},
		{"EdDSA", jwtx.AlgorithmEdDSA, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
				Algorithm: tt.algorithm,
				Issuer:    "test-issuer",
				Audience:  []string{"test-audience"},
				RSABits:   tt.rsaBits,
				NumKeys:   1,
			})
			require.NoError(t, err)
			require.Equal(t, tt.algorithm, km.Algorithm())
			require.True(t, km.IsReady())
			require.Equal(t, 1, km.NumSigners())

			// Round trip through the shared verifier
			claims := testClaims(time.Now().UTC())
			token, err := km.Sign(claims)
			require.NoError(t, err)

			parsed, err := km.Verifier.Verify(token)
			require.NoError(t, err)
			require.Equal(t, claims.Subject, parsed.Subject)
			require.Equal(t, claims.ID, parsed.ID)
			require.Equal(t, "ws-1", parsed.WorkspaceID)
			require.Equal(t, "session-abc", parsed.SID)
			require.Equal(t, []string{"editor"}, parsed.Roles)
			require.Equal(t, []string{"workspace:document:read"}, parsed.Perms)
			require.Equal(t, "eng", parsed.Attrs["department"])
			require.True(t, parsed.MFA)
			require.Equal(t, jwtx.TokenTypeAccess, parsed.Type)
		})
	}
}

func TestNewEphemeralKeyManager_ErrorCases(t *testing.T) {
	tests := []struct {
		name        string
		opts        jwtx.KeyManagerOptions
		expectedErr string
	}{
		{"missing Issuer", jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmRS256}, "Issuer is required"},
		{"unsupported algorithm", jwtx.KeyManagerOptions{Algorithm: "HS256", Issuer: "i"}, "unsupported algorithm"},
		{"RSA bits too small", jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmRS256, Issuer: "i", RSABits: 1024, NumKeys: 1}, "at least 2048 bits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			km, err := jwtx.NewEphemeralKeyManager(tt.opts)
			require.Error(t, err)
			require.Nil(t, km)
			require.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}

func TestKeyManager_CustomNumKeys(t *testing.T) {
	tests := []struct {
		name     string
		numKeys  int
		expected int
	}{
		{"explicit 2 keys", 2, 2},
		{"max capped at 10", 15, 10},
		{"zero defaults to 3", 0, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
				Algorithm: jwtx.AlgorithmEdDSA,
				Issuer:    "test-issuer",
				NumKeys:   tt.numKeys,
			})
			require.NoError(t, err)
			require.Equal(t, tt.expected, km.NumSigners())
			require.Len(t, km.KeySet.PublicJWKS().Keys, tt.expected)
		})
	}
}

func TestKeyManager_RetireAndDrop(t *testing.T) {
	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: jwtx.AlgorithmEdDSA,
		Issuer:    "test-issuer",
		NumKeys:   2,
	})
	require.NoError(t, err)

	signers := km.GetSigners()
	old := signers[0]

	token, err := old.Sign(testClaims(time.Now().UTC()))
	require.NoError(t, err)

	// Cannot drop a key that still signs
	require.False(t, km.DropKey(old.KID()))

	require.NoError(t, km.RetireSignerByKid(old.KID()))
	require.Equal(t, 1, km.NumSigners())

	// Retired keys keep verifying
	_, err = km.Verifier.Verify(token)
	require.NoError(t, err)

	// The last key stays put
	require.Error(t, km.RetireSignerByKid(signers[1].KID()))
	require.Error(t, km.RetireSignerByKid("missing"))

	// Dropping ends verification
	require.True(t, km.DropKey(old.KID()))
	_, err = km.Verifier.Verify(token)
	require.ErrorIs(t, err, jwtx.ErrInvalidSig)
}
