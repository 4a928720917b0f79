// Package crypto signs and verifies the tokens exchanged between the portal
// and the trusted backend, and manages their RSA signing keys.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// keyBits is the RSA modulus size of generated signing keys.
const keyBits = 2048

const pemBlockType = "PRIVATE KEY"

// SigningKey is one RSA key of a KeyRing. Minted tokens carry its Kid, and
// the public half stays in the JWKS until the key is pruned.
type SigningKey struct {
	Kid     string    `json:"kid"`
	Created time.Time `json:"created"`
	// RetiresAt is zero while the key signs. A rotated-out key keeps
	// verifying until then.
	RetiresAt time.Time `json:"retires_at"`
	// PEM is the PKCS#8 encoded private key.
	PEM []byte `json:"pem"`

	private *rsa.PrivateKey
}

// NewSigningKey generates a fresh signing key.
func NewSigningKey() (*SigningKey, error) {
	private, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(private)
	if err != nil {
		return nil, fmt.Errorf("failed to encode RSA key: %w", err)
	}

	return &SigningKey{
		Kid:     uuid.NewString(),
		Created: time.Now().UTC(),
		PEM:     pem.EncodeToMemory(&pem.Block{Type: pemBlockType, Bytes: der}),
		private: private,
	}, nil
}

// decode restores the RSA key of a SigningKey read back from storage.
func (k *SigningKey) decode() error {
	if k.private != nil {
		return nil
	}

	block, _ := pem.Decode(k.PEM)
	if block == nil || block.Type != pemBlockType {
		return errors.New("signing key PEM is missing or malformed")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse signing key %s: %w", k.Kid, err)
	}
	private, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("signing key %s is not an RSA key", k.Kid)
	}
	k.private = private
	return nil
}

// PublicKey returns the key's public half. The key must come from a KeyRing
// or NewSigningKey.
func (k *SigningKey) PublicKey() *rsa.PublicKey {
	return &k.private.PublicKey
}

// Signs reports whether the key still signs new tokens.
func (k *SigningKey) Signs() bool {
	return k.RetiresAt.IsZero()
}

// Retired reports whether the key stopped verifying at now.
func (k *SigningKey) Retired(now time.Time) bool {
	return !k.Signs() && !now.Before(k.RetiresAt)
}
