// Package pkce generates Proof Key for Code Exchange pairs (RFC 7636).
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/sosi/kosningakerfi/internal/domain"
)

const (
	// VerifierBytes is the amount of entropy in a verifier (256 bits).
	VerifierBytes = 32
	// MethodS256 is the only challenge method this package produces.
	MethodS256 = "S256"
)

// Generate returns a fresh verifier and its S256 challenge. An error means
// the secure random source is unavailable and the caller must not continue.
func Generate() (domain.PKCEPair, error) {
	return GenerateFrom(rand.Reader)
}

// GenerateFrom builds a pair from VerifierBytes read off r.
func GenerateFrom(r io.Reader) (domain.PKCEPair, error) {
	buf := make([]byte, VerifierBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return domain.PKCEPair{}, fmt.Errorf("failed to read random bytes: %w", err)
	}

	verifier := base64.RawURLEncoding.EncodeToString(buf)
	return domain.PKCEPair{
		Verifier:  verifier,
		Challenge: Challenge(verifier),
	}, nil
}

// Challenge derives the S256 code challenge for a verifier.
func Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// Verify checks a verifier against an S256 challenge.
func Verify(verifier, challenge string) bool {
	if verifier == "" || challenge == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(Challenge(verifier)), []byte(challenge)) == 1
}
