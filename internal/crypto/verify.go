package crypto

import (
	"context"
	stdcrypto "crypto"
	"crypto/rsa"

	gooidc "github.com/coreos/go-oidc/v3/oidc"

	apperrors "github.com/sosi/kosningakerfi/internal/errors"
)

// Verifier checks tokens minted by a peer service against its published
// JWKS.
type Verifier struct {
	verifier *gooidc.IDTokenVerifier
}

// NewRemoteVerifier verifies tokens from issuer using the keys served at
// jwksURL. Keys are fetched lazily and cached; ctx bounds the key set's
// lifetime, not a single verification.
func NewRemoteVerifier(ctx context.Context, issuer, jwksURL, audience string) *Verifier {
	keySet := gooidc.NewRemoteKeySet(ctx, jwksURL)
	return &Verifier{
		verifier: gooidc.NewVerifier(issuer, keySet, &gooidc.Config{ClientID: audience}),
	}
}

// NewStaticVerifier verifies tokens from issuer against a fixed set of keys.
func NewStaticVerifier(issuer, audience string, keys ...*rsa.PublicKey) *Verifier {
	pub := make([]stdcrypto.PublicKey, 0, len(keys))
	for _, k := range keys {
		pub = append(pub, k)
	}
	keySet := &gooidc.StaticKeySet{PublicKeys: pub}
	return &Verifier{
		verifier: gooidc.NewVerifier(issuer, keySet, &gooidc.Config{ClientID: audience}),
	}
}

// Verify checks signature, issuer, audience and expiry, then decodes the
// claims.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	token, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeTokenInvalid, "token verification failed")
	}

	var claims Claims
	if err := token.Claims(&claims); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeTokenInvalid, "failed to decode token claims")
	}
	return &claims, nil
}
