// Package registration drives one voter registration: redirect to Kenni.is
// with PKCE, resume on the callback, exchange the code for a session
// credential, establish the primary session, link a Google account and
// finalize the profile.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"

	"github.com/sosi/kosningakerfi/internal/crypto"
	"github.com/sosi/kosningakerfi/internal/domain"
	apperrors "github.com/sosi/kosningakerfi/internal/errors"
	"github.com/sosi/kosningakerfi/internal/identity"
	"github.com/sosi/kosningakerfi/internal/linking"
	"github.com/sosi/kosningakerfi/internal/metrics"
	"github.com/sosi/kosningakerfi/internal/pkce"
)

// KeyVerifier is the flow-scoped storage key of the PKCE verifier.
const KeyVerifier = "pkce_verifier"

// Exchanger trades an authorization code and verifier for a credential.
type Exchanger interface {
	Exchange(ctx context.Context, code, verifier string) (domain.SessionCredential, error)
}

// SessionEstablisher signs the primary user in and out.
type SessionEstablisher interface {
	SignInWithCustomToken(ctx context.Context, cred domain.SessionCredential, meta identity.ClientMeta) (*domain.Session, error)
	SignOut(ctx context.Context, sessionID string) error
}

// SecondaryLinker links a secondary provider to the primary session.
type SecondaryLinker interface {
	LinkSecondary(ctx context.Context, primary *domain.Session, provider string) (*domain.LinkedCredentialInfo, error)
}

// ProfileEnricher copies linked profile data to the primary profile.
type ProfileEnricher interface {
	EnrichProfile(ctx context.Context, primary *domain.Session, info *domain.LinkedCredentialInfo) error
}

// FlowStore holds flow-scoped values across the provider redirect.
type FlowStore interface {
	Put(ctx context.Context, flowID, key, value string, ttl time.Duration) error
	Take(ctx context.Context, flowID, key string) (string, bool, error)
	Clear(ctx context.Context, flowID string) error
}

// Deps are the collaborators of a Machine.
type Deps struct {
	Exchanger Exchanger
	Sessions  SessionEstablisher
	Linker    SecondaryLinker
	Enricher  ProfileEnricher
	Store     FlowStore
	States    *crypto.StateSigner
}

// ProviderConfig describes the Kenni.is authorization endpoint.
type ProviderConfig struct {
	AuthURL     string
	ClientID    string
	RedirectURI string
	Scopes      []string
}

// Callback is what the provider redirect delivers.
type Callback struct {
	Code string
	Meta identity.ClientMeta
}

type settings struct {
	secondary string
	flowTTL   time.Duration
	logger    *slog.Logger
}

// Option configures machines.
type Option func(*settings)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// WithFlowTTL sets how long flow-scoped data survives the redirect.
func WithFlowTTL(d time.Duration) Option {
	return func(s *settings) {
		s.flowTTL = d
	}
}

// WithSecondaryProvider sets the provider linked after sign-in.
func WithSecondaryProvider(provider string) Option {
	return func(s *settings) {
		s.secondary = provider
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		secondary: domain.ProviderGoogle,
		flowTTL:   10 * time.Minute,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Machine is the state machine of one registration flow.
type Machine struct {
	id       string
	deps     Deps
	oauth    oauth2.Config
	settings settings
	logger   *slog.Logger

	begun   atomic.Bool
	resumed atomic.Bool

	mu      sync.RWMutex
	state   State
	changed chan struct{}
}

// NewMachine creates a Machine for flowID in the Idle state.
func NewMachine(flowID string, deps Deps, provider ProviderConfig, opts ...Option) *Machine {
	s := newSettings(opts)
	return &Machine{
		id:   flowID,
		deps: deps,
		oauth: oauth2.Config{
			ClientID:    provider.ClientID,
			RedirectURL: provider.RedirectURI,
			Scopes:      provider.Scopes,
			Endpoint:    oauth2.Endpoint{AuthURL: provider.AuthURL},
		},
		settings: s,
		logger:   s.logger.With("flow_id", flowID),
		state: State{
			FlowID:    flowID,
			Step:      StepIdle,
			UpdatedAt: time.Now().UTC(),
		},
		changed: make(chan struct{}),
	}
}

// ID returns the flow ID.
func (m *Machine) ID() string {
	return m.id
}

// State returns a snapshot of the flow.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Wait blocks until the flow leaves step after, or ctx ends, and returns the
// current snapshot.
func (m *Machine) Wait(ctx context.Context, after Step) (State, error) {
	for {
		m.mu.RLock()
		st, ch := m.state, m.changed
		m.mu.RUnlock()

		if st.Step != after || st.Step.Terminal() {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// Begin stores a fresh PKCE verifier and returns the Kenni.is authorization
// URL the browser must navigate to.
func (m *Machine) Begin(ctx context.Context) (string, error) {
	if !m.begun.CompareAndSwap(false, true) {
		return "", apperrors.New(apperrors.CodeConflict, "flow already started")
	}

	pair, err := pkce.Generate()
	if err != nil {
		m.fail(ctx, ReasonFlowStart, "")
		return "", fmt.Errorf("failed to generate pkce pair: %w", err)
	}

	if err := m.deps.Store.Put(ctx, m.ID(), KeyVerifier, pair.Verifier, m.settings.flowTTL); err != nil {
		m.fail(ctx, ReasonFlowStart, "")
		return "", fmt.Errorf("failed to store verifier: %w", err)
	}

	authURL := m.oauth.AuthCodeURL(m.deps.States.Sign(m.ID()),
		oauth2.SetAuthURLParam("code_challenge", pair.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", pkce.MethodS256),
	)

	m.transition(StepAwaitingProviderRedirect)
	return authURL, nil
}

// Resume runs the post-redirect flow to a terminal state. It runs at most
// once per Machine; later calls return false without doing anything.
func (m *Machine) Resume(ctx context.Context, cb Callback) bool {
	if !m.resumed.CompareAndSwap(false, true) {
		m.logger.Warn("duplicate resume ignored")
		return false
	}

	m.transition(StepResumedWithCode)

	verifier, ok, err := m.deps.Store.Take(ctx, m.ID(), KeyVerifier)
	if err != nil {
		m.logger.Error("failed to read flow data", "error", err)
	}
	if cb.Code == "" || !ok || verifier == "" {
		m.fail(ctx, ReasonMissingFlowData, "")
		return true
	}

	m.transition(StepExchangingIdentity)
	cred, err := m.deps.Exchanger.Exchange(ctx, cb.Code, verifier)
	if err != nil {
		m.fail(ctx, ReasonExchange, detail(err))
		return true
	}

	m.transition(StepEstablishingPrimarySession)
	session, err := m.deps.Sessions.SignInWithCustomToken(ctx, cred, cb.Meta)
	if err != nil {
		m.logger.Error("session establishment failed", "error", err)
		m.fail(ctx, ReasonSessionEstablishment, "")
		return true
	}

	m.mu.Lock()
	m.state.SessionID = session.ID
	m.mu.Unlock()

	m.transition(StepLinkingSecondary)
	info, err := m.deps.Linker.LinkSecondary(ctx, session, m.settings.secondary)
	if err != nil {
		m.abandonSession(session)
		switch linking.KindOf(err) {
		case linking.KindAlreadyLinked:
			m.fail(ctx, ReasonAlreadyLinked, "")
		case linking.KindUserCancelled:
			m.fail(ctx, ReasonLinkCancelled, "")
		default:
			m.fail(ctx, ReasonLinkFailed, detail(err))
		}
		return true
	}

	m.transition(StepFinalizingProfile)
	if err := m.deps.Enricher.EnrichProfile(ctx, session, info); err != nil {
		m.logger.Warn("profile enrichment failed", "user_id", session.UserID, "error", err)
	}

	m.complete(ctx, info)
	return true
}

// abandonSession signs out a primary session whose registration failed, so
// no half-registered session outlives the flow.
func (m *Machine) abandonSession(session *domain.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.deps.Sessions.SignOut(ctx, session.ID); err != nil {
		m.logger.Warn("failed to sign out abandoned session", "error", err)
	}
	m.mu.Lock()
	m.state.SessionID = ""
	m.mu.Unlock()
}

func (m *Machine) transition(step Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(step, progress[step])
}

func (m *Machine) setLocked(step Step, message string) {
	m.state.Step = step
	m.state.Message = message
	m.state.UpdatedAt = time.Now().UTC()
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *Machine) fail(ctx context.Context, reason Reason, detail string) {
	m.clearFlowData(ctx)

	f := newFailure(reason, detail)
	m.mu.Lock()
	m.state.Failure = f
	m.setLocked(StepFailed, f.Message)
	m.mu.Unlock()

	metrics.RecordFlowOutcome(string(StepFailed), string(reason))
	m.logger.Warn("registration failed", "reason", reason, "action", f.Action)
}

func (m *Machine) complete(ctx context.Context, info *domain.LinkedCredentialInfo) {
	m.clearFlowData(ctx)

	m.mu.Lock()
	m.state.Linked = info
	m.setLocked(StepComplete, progress[StepComplete])
	m.mu.Unlock()

	metrics.RecordFlowOutcome(string(StepComplete), "")
	m.logger.Info("registration complete")
}

func (m *Machine) clearFlowData(ctx context.Context) {
	// The flow context may already be done; clearing must still happen.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := m.deps.Store.Clear(ctx, m.ID()); err != nil {
		m.logger.Error("failed to clear flow data", "error", err)
	}
}

// detail extracts a user-presentable message from an upstream error.
func detail(err error) string {
	var coded *apperrors.Error
	if errors.As(err, &coded) {
		return coded.Message
	}
	var f *linking.Failure
	if errors.As(err, &f) && f.Err != nil {
		return f.Err.Error()
	}
	return err.Error()
}
