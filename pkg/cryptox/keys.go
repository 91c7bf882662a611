package cryptox

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// KeyType names the asymmetric key families we can mint for token signing.
type KeyType string

const (
	KeyTypeRSA     KeyType = "rsa"
	KeyTypeP256    KeyType = "p256"
	KeyTypeEd25519 KeyType = "ed25519"
)

// MinRSABits is the smallest RSA modulus we are willing to generate.
const MinRSABits = 2048

// ErrUnsupportedKeyType is returned for key families we do not generate.
var ErrUnsupportedKeyType = errors.New("cryptox: unsupported key type")

// GeneratePrivateKey creates a new private key and returns it PEM encoded in
// PKCS8 form. rsaBits is only consulted for KeyTypeRSA and defaults to 4096.
func GeneratePrivateKey(kt KeyType, rsaBits int) ([]byte, error) {
	var (
		priv any
		err  error
	)

	switch kt {
	case KeyTypeRSA:
		if rsaBits == 0 {
			rsaBits = 4096
		}
		if rsaBits < MinRSABits {
			return nil, fmt.Errorf("cryptox: RSA key size must be at least %d bits", MinRSABits)
		}
		priv, err = rsa.GenerateKey(rand.Reader, rsaBits)

	case KeyTypeP256:
		priv, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	case KeyTypeEd25519:
		_, priv, err = ed25519.GenerateKey(rand.Reader)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKeyType, kt)
	}
	if err != nil {
		return nil, fmt.Errorf("cryptox: generate %s key: %w", kt, err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("cryptox: marshal PKCS8: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// ParsePrivateKey decodes a PEM private key. PKCS8 is preferred but PKCS1 RSA
// and SEC1 EC blocks are accepted for keys produced by other tooling.
func ParsePrivateKey(pemKey []byte) (any, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("cryptox: invalid PEM block")
	}

	switch block.Type {
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("cryptox: parse PKCS8: %w", err)
		}
		return key, nil
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("cryptox: parse PKCS1: %w", err)
		}
		return key, nil
	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("cryptox: parse EC: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("cryptox: unexpected PEM type %q", block.Type)
	}
}
