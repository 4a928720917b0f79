// Package backend is the trusted side of registration. It alone can redeem
// Kenni.is authorization codes, and it mints the session credentials and
// owns the voter profiles.
package backend

import (
	"context"
	"log/slog"
	"time"

	"github.com/sosi/kosningakerfi/internal/crypto"
	"github.com/sosi/kosningakerfi/internal/domain"
	apperrors "github.com/sosi/kosningakerfi/internal/errors"
	"github.com/sosi/kosningakerfi/internal/metrics"
	"github.com/sosi/kosningakerfi/internal/ssn"
	"github.com/sosi/kosningakerfi/internal/store"
)

// IdentityExchanger redeems a Kenni.is authorization code.
type IdentityExchanger interface {
	Exchange(ctx context.Context, code, verifier string) (*KenniIdentity, error)
}

// TokenVerifier verifies portal ID tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*crypto.Claims, error)
}

// Service implements the backend operations.
type Service struct {
	kenni    IdentityExchanger
	profiles store.ProfileRepository
	tokens   *crypto.Signer
	portal   TokenVerifier
	tokenTTL time.Duration
	logger   *slog.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithTokenTTL sets the lifetime of minted custom tokens.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.tokenTTL = ttl
	}
}

// NewService creates a Service. tokens mints custom tokens; portal verifies
// the portal's ID tokens on profile updates.
func NewService(kenni IdentityExchanger, profiles store.ProfileRepository, tokens *crypto.Signer, portal TokenVerifier, opts ...Option) *Service {
	s := &Service{
		kenni:    kenni,
		profiles: profiles,
		tokens:   tokens,
		portal:   portal,
		tokenTTL: 10 * time.Minute,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CreateVerifiedUser redeems code, records the verified person's profile and
// returns a custom token naming them.
func (s *Service) CreateVerifiedUser(ctx context.Context, code, verifier string) (string, error) {
	if code == "" || verifier == "" {
		return "", apperrors.InvalidInput("kenniAuthCode and pkceCodeVerifier are required")
	}

	person, err := s.kenni.Exchange(ctx, code, verifier)
	if err != nil {
		s.logger.Warn("kenni code redemption failed", "error", err)
		return "", apperrors.Wrap(err, apperrors.CodeUnauthorized, "Invalid Kenni.is authorization code")
	}

	nationalID := ssn.Normalize(person.NationalID)
	if !ssn.Validate(nationalID) {
		return "", apperrors.Unauthorized("Kenni.is token carries no valid national ID")
	}

	profile, err := s.profiles.Upsert(ctx, &domain.Profile{
		UserID:    nationalID,
		Kennitala: nationalID,
		FullName:  person.Name,
		Email:     person.Email,
	})
	if err != nil {
		return "", apperrors.Internal("failed to store profile", err)
	}

	token, _, err := s.tokens.Mint(ctx, nationalID, s.tokenTTL, &crypto.Claims{
		Name:       profile.FullName,
		NationalID: nationalID,
		IsAdmin:    profile.Role == domain.RoleAdmin,
	})
	if err != nil {
		return "", apperrors.Internal("failed to mint custom token", err)
	}

	metrics.RecordCustomTokenIssued()
	s.logger.Info("verified user", "user_id", nationalID, "role", profile.Role)
	return token, nil
}

// UpdateUserProfile stores enrichment data for the caller of idToken.
func (s *Service) UpdateUserProfile(ctx context.Context, idToken, email, photoURL string) error {
	claims, err := s.portal.Verify(ctx, idToken)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeUnauthorized, "invalid ID token")
	}

	profile, err := s.profiles.GetByUserID(ctx, claims.Subject)
	if err != nil {
		return err
	}

	if email != "" {
		profile.Email = email
	}
	if photoURL != "" {
		profile.PhotoURL = photoURL
	}
	profile.UpdatedAt = time.Now().UTC()
	return s.profiles.Update(ctx, profile)
}

// SetRole changes the role of the profile with the given national ID. It
// takes effect at the user's next sign-in.
func (s *Service) SetRole(ctx context.Context, kennitala string, role domain.Role) (*domain.Profile, error) {
	profile, err := s.profiles.FindByKennitala(ctx, ssn.Normalize(kennitala))
	if err != nil {
		return nil, err
	}
	profile.Role = role
	profile.UpdatedAt = time.Now().UTC()
	if err := s.profiles.Update(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}
