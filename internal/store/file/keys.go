package file

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/sosi/kosningakerfi/internal/crypto"
	apperrors "github.com/sosi/kosningakerfi/internal/errors"
)

// keyRingFile holds a service's signing keys, private halves included.
const keyRingFile = "signing_keys.json"

// KeyStore keeps a crypto.KeyRing in one file. Writes go to a temporary file
// renamed over the old one, so a rotation is never half written.
type KeyStore struct {
	path string
	mu   sync.Mutex
}

type keyRingDocument struct {
	Keys []*crypto.SigningKey `json:"keys"`
}

// NewKeyStore creates a KeyStore under dataDir.
func NewKeyStore(dataDir string) *KeyStore {
	return &KeyStore{path: filepath.Join(dataDir, keyRingFile)}
}

// Load returns the stored keys; none before the first Store.
func (s *KeyStore) Load(ctx context.Context) ([]*crypto.SigningKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal("failed to read signing keys", err)
	}

	var doc keyRingDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.Internal("failed to decode signing keys", err)
	}
	return doc.Keys, nil
}

// Store replaces the stored keys.
func (s *KeyStore) Store(ctx context.Context, keys []*crypto.SigningKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(keyRingDocument{Keys: keys}, "", "  ")
	if err != nil {
		return apperrors.Internal("failed to encode signing keys", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), keyRingFile+".*")
	if err != nil {
		return apperrors.Internal("failed to write signing keys", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperrors.Internal("failed to write signing keys", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Internal("failed to write signing keys", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return apperrors.Internal("failed to replace signing keys", err)
	}
	return nil
}
