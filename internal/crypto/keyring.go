package crypto

import (
	"context"
	"fmt"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"

	apperrors "github.com/sosi/kosningakerfi/internal/errors"
)

// DefaultRetirement is how long a rotated-out key keeps verifying. It must
// outlive every token the key signed and the peers' JWKS caches.
const DefaultRetirement = 24 * time.Hour

// KeyStore persists a key ring as one unit, so a rotation lands whole.
type KeyStore interface {
	Load(ctx context.Context) ([]*SigningKey, error)
	Store(ctx context.Context, keys []*SigningKey) error
}

// KeyRing holds a service's signing keys: the one that signs new tokens and
// those rotated out but still verifying.
type KeyRing struct {
	store      KeyStore
	retirement time.Duration
	now        func() time.Time
	mu         sync.Mutex
}

// KeyRingOption configures a KeyRing.
type KeyRingOption func(*KeyRing)

// WithRetirement sets how long rotated-out keys keep verifying.
func WithRetirement(d time.Duration) KeyRingOption {
	return func(r *KeyRing) {
		r.retirement = d
	}
}

// NewKeyRing creates a KeyRing over store.
func NewKeyRing(store KeyStore, opts ...KeyRingOption) *KeyRing {
	r := &KeyRing{
		store:      store,
		retirement: DefaultRetirement,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// load reads and decodes the ring. Callers hold mu.
func (r *KeyRing) load(ctx context.Context) ([]*SigningKey, error) {
	keys, err := r.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing keys: %w", err)
	}
	for _, k := range keys {
		if err := k.decode(); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// signing returns the newest key that still signs, or nil.
func signing(keys []*SigningKey) *SigningKey {
	var newest *SigningKey
	for _, k := range keys {
		if k.Signs() && (newest == nil || k.Created.After(newest.Created)) {
			newest = k
		}
	}
	return newest
}

// Active returns the key that signs new tokens. An empty ring gets its first
// key.
func (r *KeyRing) Active(ctx context.Context) (*SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	if k := signing(keys); k != nil {
		return k, nil
	}

	k, err := NewSigningKey()
	if err != nil {
		return nil, err
	}
	if err := r.store.Store(ctx, append(keys, k)); err != nil {
		return nil, fmt.Errorf("failed to store signing key: %w", err)
	}
	return k, nil
}

// Lookup returns the key a token names in its kid header, as long as that
// key still verifies.
func (r *KeyRing) Lookup(ctx context.Context, kid string) (*SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if k.Kid == kid && !k.Retired(r.now()) {
			return k, nil
		}
	}
	return nil, apperrors.NotFound("signing key", kid)
}

// Rotate retires the signing key and starts signing with a new one. The
// retired key keeps verifying for the retirement period.
func (r *KeyRing) Rotate(ctx context.Context) (*SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys, err := r.load(ctx)
	if err != nil {
		return nil, err
	}

	next, err := NewSigningKey()
	if err != nil {
		return nil, err
	}
	retiresAt := r.now().Add(r.retirement).UTC()
	for _, k := range keys {
		if k.Signs() {
			k.RetiresAt = retiresAt
		}
	}
	if err := r.store.Store(ctx, append(keys, next)); err != nil {
		return nil, fmt.Errorf("failed to store rotated keys: %w", err)
	}
	return next, nil
}

// Prune drops keys past their retirement and reports how many went.
func (r *KeyRing) Prune(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys, err := r.load(ctx)
	if err != nil {
		return 0, err
	}

	now := r.now()
	kept := keys[:0:0]
	for _, k := range keys {
		if !k.Retired(now) {
			kept = append(kept, k)
		}
	}
	pruned := len(keys) - len(kept)
	if pruned == 0 {
		return 0, nil
	}
	if err := r.store.Store(ctx, kept); err != nil {
		return 0, fmt.Errorf("failed to store pruned keys: %w", err)
	}
	return pruned, nil
}

// JWKS returns the public halves of every key that still verifies.
func (r *KeyRing) JWKS(ctx context.Context) (jose.JSONWebKeySet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys, err := r.load(ctx)
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}

	now := r.now()
	set := jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(keys))}
	for _, k := range keys {
		if k.Retired(now) {
			continue
		}
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       k.PublicKey(),
			KeyID:     k.Kid,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		})
	}
	return set, nil
}
