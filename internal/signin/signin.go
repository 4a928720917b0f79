// Package signin lets a registered voter return with the Google account
// linked during registration, without going through Kenni.is again.
package signin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sosi/kosningakerfi/internal/consent"
	"github.com/sosi/kosningakerfi/internal/crypto"
	"github.com/sosi/kosningakerfi/internal/domain"
	apperrors "github.com/sosi/kosningakerfi/internal/errors"
	"github.com/sosi/kosningakerfi/internal/identity"
	"github.com/sosi/kosningakerfi/internal/metrics"
	"github.com/sosi/kosningakerfi/internal/pkce"
)

// KeyVerifier is the flow-scoped key holding a pending sign-in's verifier.
const KeyVerifier = "signin_verifier"

// statePrefix keeps sign-in state apart from registration and consent state
// signed with the same key.
const statePrefix = "signin:"

// ErrNoPendingSignIn is returned when a callback matches no sign-in this
// browser started, or the sign-in was already used.
var ErrNoPendingSignIn = errors.New("no pending sign-in for this browser")

// Store keeps a pending sign-in's verifier until the callback takes it.
type Store interface {
	Put(ctx context.Context, flowID, key, value string, ttl time.Duration) error
	Take(ctx context.Context, flowID, key string) (string, bool, error)
	Clear(ctx context.Context, flowID string) error
}

// Platform establishes sessions from linked credentials.
type Platform interface {
	SignInWithLinkedIdentity(ctx context.Context, cred domain.SecondaryCredential, meta identity.ClientMeta) (*domain.Session, error)
}

// Callback is what the provider's redirect carries.
type Callback struct {
	State string
	Code  string
	Error string
	Meta  identity.ClientMeta
}

// Service runs the sign-in redirect round trip for one provider.
type Service struct {
	provider consent.Provider
	store    Store
	states   *crypto.StateSigner
	platform Platform
	ttl      time.Duration
	logger   *slog.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithTTL bounds how long a started sign-in waits for its callback.
func WithTTL(d time.Duration) Option {
	return func(s *Service) {
		s.ttl = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// NewService creates a Service. provider must redirect back to the sign-in
// callback, not to the consent popup callback.
func NewService(provider consent.Provider, store Store, states *crypto.StateSigner, platform Platform, opts ...Option) *Service {
	s := &Service{
		provider: provider,
		store:    store,
		states:   states,
		platform: platform,
		ttl:      10 * time.Minute,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Provider returns the provider's identifier.
func (s *Service) Provider() string {
	return s.provider.ID()
}

// Begin stores a fresh verifier and returns the pending sign-in's ID, which
// the browser must present on the callback, and the provider URL.
func (s *Service) Begin(ctx context.Context) (string, string, error) {
	pair, err := pkce.Generate()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate pkce pair: %w", err)
	}

	id := uuid.NewString()
	if err := s.store.Put(ctx, id, KeyVerifier, pair.Verifier, s.ttl); err != nil {
		return "", "", fmt.Errorf("failed to store verifier: %w", err)
	}

	return id, s.provider.AuthURL(s.states.Sign(statePrefix+id), pair.Challenge), nil
}

// Finish completes the sign-in pendingID with the provider's callback. The
// verifier is consumed whatever the outcome, so a callback works once.
func (s *Service) Finish(ctx context.Context, pendingID string, cb Callback) (*domain.Session, error) {
	session, err := s.finish(ctx, pendingID, cb)
	switch {
	case err == nil:
		metrics.RecordSignIn(s.Provider(), "ok")
	case errors.Is(err, ErrNoPendingSignIn):
		metrics.RecordSignIn(s.Provider(), "no_pending")
	case consent.IsCancelled(err):
		metrics.RecordSignIn(s.Provider(), "cancelled")
	default:
		metrics.RecordSignIn(s.Provider(), apperrors.CodeOf(err))
	}
	return session, err
}

func (s *Service) finish(ctx context.Context, pendingID string, cb Callback) (*domain.Session, error) {
	if pendingID == "" {
		return nil, ErrNoPendingSignIn
	}
	value, err := s.states.Verify(cb.State)
	if err != nil || value != statePrefix+pendingID {
		s.logger.Warn("sign-in callback state does not match this browser", "error", err)
		return nil, ErrNoPendingSignIn
	}

	verifier, ok, err := s.store.Take(ctx, pendingID, KeyVerifier)
	if err != nil {
		s.logger.Error("failed to read sign-in data", "error", err)
	}
	if err := s.store.Clear(ctx, pendingID); err != nil {
		s.logger.Error("failed to clear sign-in data", "error", err)
	}
	if !ok || verifier == "" {
		return nil, ErrNoPendingSignIn
	}

	if cb.Error != "" {
		return nil, fmt.Errorf("%w: %s", consent.ErrAccessDenied, cb.Error)
	}
	if cb.Code == "" {
		return nil, apperrors.InvalidInput("missing authorization code")
	}

	cred, err := s.provider.Exchange(ctx, cb.Code, verifier)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeTokenInvalid, "provider sign-in failed")
	}

	session, err := s.platform.SignInWithLinkedIdentity(ctx, *cred, cb.Meta)
	if err != nil {
		s.logger.Info("linked sign-in refused", "provider", cred.Provider, "error", err)
		return nil, err
	}
	return session, nil
}
