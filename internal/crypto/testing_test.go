package crypto

import (
	"context"
	"sync"
	"testing"
)

// memoryKeyStore is an in-memory KeyStore for tests.
type memoryKeyStore struct {
	mu     sync.Mutex
	keys   []*SigningKey
	stores int
}

func (s *memoryKeyStore) Load(ctx context.Context) ([]*SigningKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*SigningKey(nil), s.keys...), nil
}

func (s *memoryKeyStore) Store(ctx context.Context, keys []*SigningKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append([]*SigningKey(nil), keys...)
	s.stores++
	return nil
}

func newTestKeyRing(t *testing.T) (*KeyRing, *SigningKey) {
	t.Helper()
	ring := NewKeyRing(&memoryKeyStore{})
	key, err := ring.Active(context.Background())
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	return ring, key
}
