package jwtx

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"

	"github.com/aussiebroadwan/gatekeep/pkg/cryptox"
	"github.com/golang-jwt/jwt/v5"
)

// Supported JWT signing algorithms
const (
	AlgorithmRS256 = "RS256"
	AlgorithmES256 = "ES256"
	AlgorithmEdDSA = "EdDSA"
)

// Signer is anything that can sign access tokens.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)
	PublicJWK() JWK
}

type keySigner struct {
	kid    string
	method jwt.SigningMethod
	key    crypto.Signer
	jwk    JWK
}

func (s *keySigner) Alg() string    { return s.method.Alg() }
func (s *keySigner) KID() string    { return s.kid }
func (s *keySigner) PublicJWK() JWK { return s.jwk }

// Sign turns claims into a compact JWS with the kid header set.
func (s *keySigner) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(s.method, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

// NewSigner loads a PEM private key and checks it suits alg.
func NewSigner(alg, kid string, pemKey []byte) (Signer, error) {
	raw, err := cryptox.ParsePrivateKey(pemKey)
	if err != nil {
		return nil, fmt.Errorf("jwtx: %w", err)
	}

	var method jwt.SigningMethod
	switch alg {
	case AlgorithmRS256:
		if _, ok := raw.(*rsa.PrivateKey); !ok {
			return nil, fmt.Errorf("jwtx: %s requires an RSA key, got %T", alg, raw)
		}
		method = jwt.SigningMethodRS256
	case AlgorithmES256:
		k, ok := raw.(*ecdsa.PrivateKey)
		if !ok || k.Curve != elliptic.P256() {
			return nil, fmt.Errorf("jwtx: %s requires a P-256 key", alg)
		}
		method = jwt.SigningMethodES256
	case AlgorithmEdDSA:
		if _, ok := raw.(ed25519.PrivateKey); !ok {
			return nil, fmt.Errorf("jwtx: %s requires an Ed25519 key, got %T", alg, raw)
		}
		method = jwt.SigningMethodEdDSA
	default:
		return nil, fmt.Errorf("jwtx: unsupported algorithm %q (supported: RS256, ES256, EdDSA)", alg)
	}

	key := raw.(crypto.Signer)
	jwk, err := NewJWK(kid, alg, key.Public())
	if err != nil {
		return nil, err
	}

	return &keySigner{kid: kid, method: method, key: key, jwk: jwk}, nil
}

// GenerateSigner mints a fresh key pair for alg under a random kid and returns
// the PEM private key alongside the signer so callers can persist it.
func GenerateSigner(alg string, rsaBits int) ([]byte, Signer, error) {
	kt, err := keyTypeFor(alg)
	if err != nil {
		return nil, nil, err
	}

	pemKey, err := cryptox.GeneratePrivateKey(kt, rsaBits)
	if err != nil {
		return nil, nil, err
	}

	kid, err := NewKeyID()
	if err != nil {
		return nil, nil, err
	}

	s, err := NewSigner(alg, kid, pemKey)
	if err != nil {
		return nil, nil, err
	}
	return pemKey, s, nil
}

// NewKeyID returns a random "gk-" prefixed key identifier.
func NewKeyID() (string, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", fmt.Errorf("jwtx: generate key id: %w", err)
	}
	return "gk-" + token, nil
}

func keyTypeFor(alg string) (cryptox.KeyType, error) {
	switch alg {
	case AlgorithmRS256:
		return cryptox.KeyTypeRSA, nil
	case AlgorithmES256:
		return cryptox.KeyTypeP256, nil
	case AlgorithmEdDSA:
		return cryptox.KeyTypeEd25519, nil
	default:
		return "", fmt.Errorf("jwtx: unsupported algorithm %q (supported: RS256, ES256, EdDSA)", alg)
	}
}
