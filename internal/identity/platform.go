// Package identity is the portal's identity platform. It turns backend
// session credentials into platform sessions, binds secondary provider
// credentials to accounts and tells subscribers when a session changes.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sosi/kosningakerfi/internal/auth"
	"github.com/sosi/kosningakerfi/internal/crypto"
	"github.com/sosi/kosningakerfi/internal/domain"
	apperrors "github.com/sosi/kosningakerfi/internal/errors"
	"github.com/sosi/kosningakerfi/internal/store"
)

// ChangeKind describes what happened to a session.
type ChangeKind string

const (
	SignedIn      ChangeKind = "signed_in"
	SignedOut     ChangeKind = "signed_out"
	ClaimsChanged ChangeKind = "claims_changed"
)

// Change is delivered to subscribers. SessionID is empty for claim changes,
// which apply to every session of UserID.
type Change struct {
	Kind      ChangeKind
	SessionID string
	UserID    string
}

// ClientMeta describes the browser a session is created for.
type ClientMeta struct {
	UserAgent string
	IPAddress string
}

// TokenVerifier checks a session credential minted by the backend.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*crypto.Claims, error)
}

// Platform is the identity platform.
type Platform struct {
	accounts   store.AccountRepository
	identities store.IdentityRepository
	sessions   *auth.SessionService
	verifier   TokenVerifier
	idTokens   *crypto.Signer
	idTokenTTL time.Duration
	logger     *slog.Logger

	mu        sync.Mutex
	listeners map[uint64]func(Change)
	nextID    uint64
}

// Option configures the Platform.
type Option func(*Platform)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Platform) {
		p.logger = logger
	}
}

// WithIDTokenTTL sets the lifetime of minted ID tokens.
func WithIDTokenTTL(ttl time.Duration) Option {
	return func(p *Platform) {
		p.idTokenTTL = ttl
	}
}

// NewPlatform creates a Platform. verifier checks backend custom tokens;
// idTokens mints the platform's own ID tokens.
func NewPlatform(s store.Store, sessions *auth.SessionService, verifier TokenVerifier, idTokens *crypto.Signer, opts ...Option) *Platform {
	p := &Platform{
		accounts:   s.Accounts(),
		identities: s.Identities(),
		sessions:   sessions,
		verifier:   verifier,
		idTokens:   idTokens,
		idTokenTTL: time.Hour,
		logger:     slog.Default(),
		listeners:  make(map[uint64]func(Change)),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// SignInWithCustomToken verifies cred and establishes a session for the
// primary user it names, creating the account on first sign-in.
func (p *Platform) SignInWithCustomToken(ctx context.Context, cred domain.SessionCredential, meta ClientMeta) (*domain.Session, error) {
	claims, err := p.verifier.Verify(ctx, cred.Token)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, apperrors.New(apperrors.CodeTokenInvalid, "session credential has no subject")
	}

	account, err := p.upsertAccount(ctx, claims.Subject, func(a *domain.Account) {
		if claims.Name != "" {
			a.DisplayName = claims.Name
		}
		a.Claims[domain.ClaimIsAdmin] = claims.IsAdmin
		delete(a.Claims, domain.ClaimBypass)
	})
	if err != nil {
		return nil, err
	}

	return p.startSession(ctx, account, meta)
}

// SignInWithEligibility establishes a session from a registry answer alone.
// It is the development bypass: the account carries the bypass claim.
func (p *Platform) SignInWithEligibility(ctx context.Context, record *domain.EligibilityRecord, meta ClientMeta) (*domain.Session, error) {
	if record == nil || !record.Valid || !record.Eligible || record.NationalID == "" {
		return nil, apperrors.New(apperrors.CodeForbidden, "not an eligible voter")
	}

	account, err := p.upsertAccount(ctx, record.NationalID, func(a *domain.Account) {
		if record.MemberName != "" {
			a.DisplayName = record.MemberName
		}
		a.Claims[domain.ClaimBypass] = true
	})
	if err != nil {
		return nil, err
	}

	return p.startSession(ctx, account, meta)
}

// SignInWithLinkedIdentity establishes a session for the account cred is
// linked to. It is how a registered voter returns: the linked credential
// stands in for a fresh Kenni.is verification, and the account keeps the
// claims of its last verified sign-in.
func (p *Platform) SignInWithLinkedIdentity(ctx context.Context, cred domain.SecondaryCredential, meta ClientMeta) (*domain.Session, error) {
	linked, err := p.identities.Get(ctx, cred.Provider, cred.Subject)
	if apperrors.IsCode(err, apperrors.CodeNotFound) {
		return nil, apperrors.New(apperrors.CodeUnauthorized, fmt.Sprintf("no account is linked to this %s credential", cred.Provider))
	}
	if err != nil {
		return nil, err
	}

	account, err := p.accounts.GetByID(ctx, linked.UserID)
	if err != nil {
		return nil, err
	}
	if account.Disabled {
		return nil, apperrors.New(apperrors.CodeForbidden, "account is disabled")
	}
	if account.Claims[domain.ClaimBypass] == true {
		return nil, apperrors.New(apperrors.CodeForbidden, "account was never verified")
	}

	return p.startSession(ctx, account, meta)
}

func (p *Platform) upsertAccount(ctx context.Context, uid string, apply func(*domain.Account)) (*domain.Account, error) {
	account, err := p.accounts.GetByID(ctx, uid)
	switch {
	case apperrors.IsCode(err, apperrors.CodeNotFound):
		now := time.Now().UTC()
		account = &domain.Account{
			ID:        uid,
			Claims:    map[string]any{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		apply(account)
		if err := p.accounts.Create(ctx, account); err != nil {
			return nil, err
		}
		return account, nil
	case err != nil:
		return nil, err
	}

	if account.Disabled {
		return nil, apperrors.New(apperrors.CodeForbidden, "account is disabled")
	}
	if account.Claims == nil {
		account.Claims = map[string]any{}
	}
	apply(account)
	account.UpdatedAt = time.Now().UTC()
	if err := p.accounts.Update(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

func (p *Platform) startSession(ctx context.Context, account *domain.Account, meta ClientMeta) (*domain.Session, error) {
	session, err := p.sessions.CreateSession(ctx, account.ID, meta.UserAgent, meta.IPAddress)
	if err != nil {
		return nil, err
	}

	p.logger.Info("session established", "user_id", account.ID, "admin", account.IsAdmin())
	p.notify(Change{Kind: SignedIn, SessionID: session.ID, UserID: account.ID})
	return session, nil
}

// Session returns a live session.
func (p *Platform) Session(ctx context.Context, sessionID string) (*domain.Session, error) {
	return p.sessions.GetSession(ctx, sessionID)
}

// CurrentUser returns the account behind a live session.
func (p *Platform) CurrentUser(ctx context.Context, sessionID string) (*domain.Account, error) {
	session, err := p.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return p.accounts.GetByID(ctx, session.UserID)
}

// LinkCredential binds cred to the user of sessionID. A credential already
// bound to a different user fails with a conflict error.
func (p *Platform) LinkCredential(ctx context.Context, sessionID string, cred domain.SecondaryCredential) (*domain.LinkedIdentity, error) {
	account, err := p.CurrentUser(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	identity := &domain.LinkedIdentity{
		Provider: cred.Provider,
		Subject:  cred.Subject,
		UserID:   account.ID,
		Email:    cred.Email,
		PhotoURL: cred.PhotoURL,
		LinkedAt: time.Now().UTC(),
	}
	if err := p.identities.Bind(ctx, identity); err != nil {
		return nil, err
	}

	changed := false
	if account.Email == "" && cred.Email != "" {
		account.Email = cred.Email
		changed = true
	}
	if account.PhotoURL == "" && cred.PhotoURL != "" {
		account.PhotoURL = cred.PhotoURL
		changed = true
	}
	if changed {
		account.UpdatedAt = time.Now().UTC()
		if err := p.accounts.Update(ctx, account); err != nil {
			p.logger.Warn("failed to copy linked profile to account", "user_id", account.ID, "error", err)
		}
	}

	return identity, nil
}

// LinkedIdentities lists the credentials bound to a user.
func (p *Platform) LinkedIdentities(ctx context.Context, userID string) ([]*domain.LinkedIdentity, error) {
	return p.identities.ListByUserID(ctx, userID)
}

// SignOut ends a session.
func (p *Platform) SignOut(ctx context.Context, sessionID string) error {
	session, err := p.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := p.sessions.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	p.notify(Change{Kind: SignedOut, SessionID: sessionID, UserID: session.UserID})
	return nil
}

// SetCustomClaims merges claims into a user's account and tells subscribers
// so that role-bearing views refresh.
func (p *Platform) SetCustomClaims(ctx context.Context, userID string, claims map[string]any) error {
	account, err := p.accounts.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if account.Claims == nil {
		account.Claims = map[string]any{}
	}
	for k, v := range claims {
		account.Claims[k] = v
	}
	account.UpdatedAt = time.Now().UTC()
	if err := p.accounts.Update(ctx, account); err != nil {
		return err
	}

	p.notify(Change{Kind: ClaimsChanged, UserID: userID})
	return nil
}

// IDToken mints a fresh platform ID token for the user of sessionID.
func (p *Platform) IDToken(ctx context.Context, sessionID string) (string, error) {
	account, err := p.CurrentUser(ctx, sessionID)
	if err != nil {
		return "", err
	}

	bypass, _ := account.Claims[domain.ClaimBypass].(bool)
	token, _, err := p.idTokens.Mint(ctx, account.ID, p.idTokenTTL, &crypto.Claims{
		Name:       account.DisplayName,
		Email:      account.Email,
		Picture:    account.PhotoURL,
		NationalID: account.ID,
		IsAdmin:    account.IsAdmin(),
		Bypass:     bypass,
	})
	if err != nil {
		return "", fmt.Errorf("failed to mint id token: %w", err)
	}
	return token, nil
}

// FreshClaims mints a new ID token for sessionID and returns its decoded
// claims, so callers always see the account's current custom claims.
func (p *Platform) FreshClaims(ctx context.Context, sessionID string) (*crypto.Claims, error) {
	token, err := p.IDToken(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return p.idTokens.Parse(ctx, token)
}

// Subscribe registers fn for session changes. fn runs on the goroutine that
// caused the change and must not block. The returned func unsubscribes.
func (p *Platform) Subscribe(fn func(Change)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

func (p *Platform) notify(c Change) {
	p.mu.Lock()
	fns := make([]func(Change), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}
