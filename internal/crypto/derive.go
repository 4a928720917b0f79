package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Key purposes derived from the cookie secret.
const (
	PurposeCSRF       = "kosningakerfi/csrf"
	PurposeState      = "kosningakerfi/oauth-state"
	PurposeFlowCookie = "kosningakerfi/flow-cookie"
)

// DeriveKey expands secret into a 32-byte key bound to purpose.
func DeriveKey(secret, purpose string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("empty secret")
	}
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// StateSigner binds an OAuth state parameter to a value (a flow ID) with an
// HMAC, so a callback can prove which flow it belongs to.
type StateSigner struct {
	key []byte
}

// NewStateSigner creates a StateSigner with the given key.
func NewStateSigner(key []byte) *StateSigner {
	return &StateSigner{key: key}
}

// Sign returns value with its signature appended.
func (s *StateSigner) Sign(value string) string {
	return value + "." + s.mac(value)
}

// Verify returns the value carried by a signed state.
func (s *StateSigner) Verify(state string) (string, error) {
	i := strings.LastIndexByte(state, '.')
	if i <= 0 || i == len(state)-1 {
		return "", fmt.Errorf("invalid state format")
	}
	value, sig := state[:i], state[i+1:]
	if !hmac.Equal([]byte(sig), []byte(s.mac(value))) {
		return "", fmt.Errorf("invalid state signature")
	}
	return value, nil
}

func (s *StateSigner) mac(value string) string {
	m := hmac.New(sha256.New, s.key)
	m.Write([]byte(value))
	return base64.RawURLEncoding.EncodeToString(m.Sum(nil))
}
