package crypto

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sosi/kosningakerfi/internal/domain"
)

// Claims are carried by custom tokens (backend to portal) and by the
// portal's own ID tokens (portal to backend).
type Claims struct {
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Picture    string `json:"picture,omitempty"`
	NationalID string `json:"national_id,omitempty"`

	// Custom claims
	IsAdmin bool `json:"isAdmin,omitempty"`
	Bypass  bool `json:"bypass,omitempty"`

	jwt.RegisteredClaims
}

// Role derives the account role from the claims.
func (c *Claims) Role() domain.Role {
	if c.IsAdmin {
		return domain.RoleAdmin
	}
	return domain.RoleVoter
}

// Signer mints and parses RS256 tokens with the active key of a KeyRing.
type Signer struct {
	keys     *KeyRing
	issuer   string
	audience string
}

// NewSigner creates a Signer for tokens with the given issuer and audience.
func NewSigner(keys *KeyRing, issuer, audience string) *Signer {
	return &Signer{
		keys:     keys,
		issuer:   issuer,
		audience: audience,
	}
}

// Issuer returns the iss claim of minted tokens.
func (s *Signer) Issuer() string {
	return s.issuer
}

// Mint signs a token for subject that expires after ttl.
func (s *Signer) Mint(ctx context.Context, subject string, ttl time.Duration, claims *Claims) (string, time.Time, error) {
	key, err := s.keys.Active(ctx)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to get signing key: %w", err)
	}

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	if claims == nil {
		claims = &Claims{}
	}
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{s.audience},
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Minute)), // Clock skew tolerance
		ID:        uuid.New().String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = key.Kid

	signed, err := token.SignedString(key.private)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// Parse validates a token minted by this signer (any key of the ring that
// has not retired, so rotated keys keep verifying) and returns its claims.
func (s *Signer) Parse(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing key ID in token header")
		}

		key, err := s.keys.Lookup(ctx, kid)
		if err != nil {
			return nil, fmt.Errorf("unknown or retired key ID: %s", kid)
		}
		return key.PublicKey(), nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	return claims, nil
}
