package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/sosi/kosningakerfi/internal/crypto"
	"github.com/sosi/kosningakerfi/internal/domain"
	apperrors "github.com/sosi/kosningakerfi/internal/errors"
	"github.com/sosi/kosningakerfi/internal/store"
)

const (
	// SessionCookieName is the name of the session cookie.
	SessionCookieName = "kosning_session"
	// FlowCookieName carries the signed ID of the browser's registration flow.
	FlowCookieName = "kosning_flow"
	// SignInCookieName carries the signed ID of a pending Google sign-in.
	SignInCookieName = "kosning_signin"
	// SessionTokenLength is the length of the session token in bytes.
	SessionTokenLength = 32
)

// SessionService manages platform sessions and the cookies that carry them.
type SessionService struct {
	sessions     store.SessionRepository
	cookieSecure bool
	cookieDomain string
	sessionTTL   time.Duration
	flowTTL      time.Duration
	flowKey      []byte
	flowCookies  *crypto.StateSigner
}

// SessionServiceOption configures the SessionService.
type SessionServiceOption func(*SessionService)

// WithCookieSecure sets whether cookies should be secure (HTTPS only).
func WithCookieSecure(secure bool) SessionServiceOption {
	return func(s *SessionService) {
		s.cookieSecure = secure
	}
}

// WithCookieDomain sets the cookie domain.
func WithCookieDomain(domain string) SessionServiceOption {
	return func(s *SessionService) {
		s.cookieDomain = domain
	}
}

// WithSessionTTL sets the session duration.
func WithSessionTTL(ttl time.Duration) SessionServiceOption {
	return func(s *SessionService) {
		s.sessionTTL = ttl
	}
}

// WithFlowTTL sets how long the flow cookie lives.
func WithFlowTTL(ttl time.Duration) SessionServiceOption {
	return func(s *SessionService) {
		s.flowTTL = ttl
	}
}

// WithFlowKey sets the key that signs flow cookies. It must differ from the
// key that signs OAuth state, which carries the same flow ID in the clear.
// Without it a random key is used and flow cookies do not survive a restart.
func WithFlowKey(key []byte) SessionServiceOption {
	return func(s *SessionService) {
		s.flowKey = key
	}
}

// NewSessionService creates a new SessionService.
func NewSessionService(sessions store.SessionRepository, opts ...SessionServiceOption) *SessionService {
	s := &SessionService{
		sessions:   sessions,
		sessionTTL: 24 * time.Hour,
		flowTTL:    10 * time.Minute,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.flowKey == nil {
		s.flowKey = make([]byte, 32)
		if _, err := rand.Read(s.flowKey); err != nil {
			panic(fmt.Sprintf("failed to generate flow cookie key: %v", err))
		}
	}
	s.flowCookies = crypto.NewStateSigner(s.flowKey)

	return s
}

// TTL returns the session duration.
func (s *SessionService) TTL() time.Duration {
	return s.sessionTTL
}

// CreateSession creates a new session for a user.
func (s *SessionService) CreateSession(ctx context.Context, userID, userAgent, ipAddress string) (*domain.Session, error) {
	token, err := randomToken(SessionTokenLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := time.Now()
	session := &domain.Session{
		ID:        token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
		UserAgent: userAgent,
		IPAddress: ipAddress,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// GetSession retrieves a session by token.
func (s *SessionService) GetSession(ctx context.Context, token string) (*domain.Session, error) {
	session, err := s.sessions.GetByID(ctx, token)
	if err != nil {
		return nil, err
	}

	if session.IsExpired() {
		_ = s.sessions.Delete(ctx, token)
		return nil, apperrors.New(apperrors.CodeSessionExpired, "session expired")
	}

	return session, nil
}

// DeleteSession deletes a session.
func (s *SessionService) DeleteSession(ctx context.Context, token string) error {
	return s.sessions.Delete(ctx, token)
}

// DeleteExpired removes every expired session.
func (s *SessionService) DeleteExpired(ctx context.Context) error {
	return s.sessions.DeleteExpired(ctx)
}

// SetSessionCookie sets the session cookie on the response.
func (s *SessionService) SetSessionCookie(w http.ResponseWriter, token string) {
	s.setCookie(w, SessionCookieName, token, int(s.sessionTTL.Seconds()))
}

// ClearSessionCookie clears the session cookie.
func (s *SessionService) ClearSessionCookie(w http.ResponseWriter) {
	s.setCookie(w, SessionCookieName, "", -1)
}

// SetFlowCookie binds the browser to a registration flow. Only a browser
// holding the signed cookie can follow the flow.
func (s *SessionService) SetFlowCookie(w http.ResponseWriter, flowID string) {
	s.setCookie(w, FlowCookieName, s.flowCookies.Sign(flowID), int(s.flowTTL.Seconds()))
}

// ClearFlowCookie clears the flow cookie.
func (s *SessionService) ClearFlowCookie(w http.ResponseWriter) {
	s.setCookie(w, FlowCookieName, "", -1)
}

// FlowID returns the registration flow the request's cookie is bound to.
func (s *SessionService) FlowID(r *http.Request) (string, bool) {
	return s.signedCookie(r, FlowCookieName)
}

// SetSignInCookie binds the browser to a pending Google sign-in.
func (s *SessionService) SetSignInCookie(w http.ResponseWriter, id string) {
	s.setCookie(w, SignInCookieName, s.flowCookies.Sign(id), int(s.flowTTL.Seconds()))
}

// ClearSignInCookie clears the sign-in cookie.
func (s *SessionService) ClearSignInCookie(w http.ResponseWriter) {
	s.setCookie(w, SignInCookieName, "", -1)
}

// SignInID returns the pending sign-in the request's cookie is bound to.
func (s *SessionService) SignInID(r *http.Request) (string, bool) {
	return s.signedCookie(r, SignInCookieName)
}

func (s *SessionService) signedCookie(r *http.Request, name string) (string, bool) {
	cookie, err := r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	id, err := s.flowCookies.Verify(cookie.Value)
	if err != nil {
		return "", false
	}
	return id, true
}

func (s *SessionService) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   s.cookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// GetSessionFromRequest retrieves the session from request cookies.
func (s *SessionService) GetSessionFromRequest(ctx context.Context, r *http.Request) (*domain.Session, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeUnauthorized, "no session cookie")
	}

	return s.GetSession(ctx, cookie.Value)
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
