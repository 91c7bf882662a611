package jwtx_test

import (
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeep/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, alg string) *jwtx.KeyManager {
	t.Helper()
	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: alg,
		Issuer:    "test-issuer",
		Audience:  []string{"test-audience"},
		RSABits:   2048,
		NumKeys:   1,
	})
	require.NoError(t, err)
	return km
}

func TestVerify_Failures(t *testing.T) {
	km := newTestManager(t, jwtx.AlgorithmEdDSA)
	now := time.Now().UTC()

	t.Run("malformed", func(t *testing.T) {
		_, err := km.Verifier.Verify("not.a.jwt")
		require.ErrorIs(t, err, jwtx.ErrMalformed)

		_, err = km.Verifier.Verify("")
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})

	t.Run("expired", func(t *testing.T) {
		c := testClaims(now.Add(-time.Hour))
		token, err := km.Sign(c)
		require.NoError(t, err)

		_, err = km.Verifier.Verify(token)
		require.ErrorIs(t, err, jwtx.ErrExpired)
	})

	t.Run("tampered payload", func(t *testing.T) {
		token, err := km.Sign(testClaims(now))
		require.NoError(t, err)

		parts := strings.Split(token, ".")
		other, err := km.Sign(jwtx.NewAccessClaims(jwtx.AccessClaimsParams{
			Subject: "attacker", Issuer: "test-issuer", Audience: []string{"test-audience"}, Now: now,
		}))
		require.NoError(t, err)
		parts[1] = strings.Split(other, ".")[1]

		_, err = km.Verifier.Verify(strings.Join(parts, "."))
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	})

	t.Run("expired and forged reports signature first", func(t *testing.T) {
		foreign := newTestManager(t, jwtx.AlgorithmEdDSA)
		token, err := foreign.Sign(testClaims(now.Add(-time.Hour)))
		require.NoError(t, err)

		_, err = km.Verifier.Verify(token)
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
		require.NotErrorIs(t, err, jwtx.ErrExpired)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		c := testClaims(now)
		c.Issuer = "someone-else"
		token, err := km.Sign(c)
		require.NoError(t, err)

		_, err = km.Verifier.Verify(token)
		require.ErrorIs(t, err, jwtx.ErrIssuer)
	})

	t.Run("wrong audience", func(t *testing.T) {
		c := testClaims(now)
		c.Audience = jwt.ClaimStrings{"admin"}
		token, err := km.Sign(c)
		require.NoError(t, err)

		_, err = km.Verifier.Verify(token)
		require.ErrorIs(t, err, jwtx.ErrAudience)
	})

	t.Run("unsigned none alg", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodNone, testClaims(now))
		tok.Header["kid"] = km.GetSigner().KID()
		s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = km.Verifier.Verify(s)
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	})
}

func TestVerify_AlgorithmMismatchRejected(t *testing.T) {
	ed := newTestManager(t, jwtx.AlgorithmEdDSA)
	es := newTestManager(t, jwtx.AlgorithmES256)

	// Register the ES256 key under the EdDSA verifier with its true alg, then
	// forge a header that claims the key is something else.
	esSigner := es.GetSigner()
	require.NoError(t, ed.KeySet.AddSigner(esSigner))

	token, err := esSigner.Sign(testClaims(time.Now().UTC()))
	require.NoError(t, err)

	// Legit: alg matches the registered key
	_, err = ed.Verifier.Verify(token)
	require.NoError(t, err)

	// Swap the kid to point at an Ed25519 key while the alg stays ES256
	parts := strings.Split(token, ".")
	hdr := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{})
	hdr.Header["kid"] = ed.GetSigner().KID()
	seg, err := hdr.SigningString()
	require.NoError(t, err)
	parts[0] = strings.Split(seg, ".")[0]

	_, err = ed.Verifier.Verify(strings.Join(parts, "."))
	require.ErrorIs(t, err, jwtx.ErrInvalidSig)
}
