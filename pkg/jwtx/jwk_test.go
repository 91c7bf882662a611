package jwtx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJWK_RoundTrip(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	edPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	tests := []struct {
		name string
		alg  string
		pub  any
		kty  string
	}{
		{"RSA", AlgorithmRS256, &rsaKey.PublicKey, "RSA"},
		{"EC", AlgorithmES256, &ecKey.PublicKey, "EC"},
		{"OKP", AlgorithmEdDSA, edPub, "OKP"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, err := NewJWK("kid-1", tt.alg, tt.pub)
			require.NoError(t, err)
			require.Equal(t, tt.kty, j.Kty)
			require.Equal(t, "sig", j.Use)

			back, err := j.PublicKey()
			require.NoError(t, err)

			// PKIX encodings match when the key survived the trip
			want, err := x509.MarshalPKIXPublicKey(tt.pub)
			require.NoError(t, err)
			got, err := x509.MarshalPKIXPublicKey(back)
			require.NoError(t, err)
			require.Equal(t, want, got)

			pemStr, err := j.PEM()
			require.NoError(t, err)
			block, _ := pem.Decode([]byte(pemStr))
			require.NotNil(t, block)
			require.Equal(t, "PUBLIC KEY", block.Type)
		})
	}
}

func TestJWK_Unsupported(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	_, err = NewJWK("kid", AlgorithmES256, &ecKey.PublicKey)
	require.Error(t, err)

	_, err = JWK{Kty: "oct"}.PublicKey()
	require.Error(t, err)

	_, err = JWK{Kty: "OKP", Crv: "X25519"}.PublicKey()
	require.Error(t, err)
}

func TestKeySet_AddGetRemove(t *testing.T) {
	ks := NewKeySet()
	require.False(t, ks.IsReady())

	_, s, err := GenerateSigner(AlgorithmEdDSA, 0)
	require.NoError(t, err)
	require.NoError(t, ks.AddSigner(s))
	require.True(t, ks.IsReady())

	_, alg, err := ks.Get(s.KID())
	require.NoError(t, err)
	require.Equal(t, AlgorithmEdDSA, alg)

	// Re-adding the same kid does not duplicate JWKS entries
	require.NoError(t, ks.AddSigner(s))
	require.Len(t, ks.PublicJWKS().Keys, 1)

	require.True(t, ks.Remove(s.KID()))
	require.False(t, ks.Remove(s.KID()))
	_, _, err = ks.Get(s.KID())
	require.ErrorIs(t, err, ErrNoKey)
	require.Empty(t, ks.PublicJWKS().Keys)
}

func TestNewSigner_KeyTypeMismatch(t *testing.T) {
	pemKey, _, err := GenerateSigner(AlgorithmEdDSA, 0)
	require.NoError(t, err)

	_, err = NewSigner(AlgorithmES256, "kid", pemKey)
	require.Error(t, err)
	_, err = NewSigner(AlgorithmRS256, "kid", pemKey)
	require.Error(t, err)
	_, err = NewSigner("HS256", "kid", pemKey)
	require.Error(t, err)
}
