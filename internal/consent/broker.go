// Package consent runs interactive provider consent prompts (popups) on
// behalf of a signed-in session and hands the resulting credential back to
// the goroutine waiting for it.
package consent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sosi/kosningakerfi/internal/crypto"
	"github.com/sosi/kosningakerfi/internal/domain"
	apperrors "github.com/sosi/kosningakerfi/internal/errors"
	"github.com/sosi/kosningakerfi/internal/pkce"
)

// Ways a prompt ends without a credential because of the user.
var (
	ErrPopupClosed           = errors.New("consent popup closed by user")
	ErrCancelledPopupRequest = errors.New("consent popup superseded by a newer request")
	ErrAccessDenied          = errors.New("consent denied at provider")
	ErrPromptTimeout         = errors.New("consent prompt timed out")
)

// ErrUnknownPrompt is returned for callbacks that match no pending prompt.
var ErrUnknownPrompt = errors.New("unknown or expired consent prompt")

// IsCancelled reports whether err means the user did not finish the prompt.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrPopupClosed) ||
		errors.Is(err, ErrCancelledPopupRequest) ||
		errors.Is(err, ErrAccessDenied) ||
		errors.Is(err, ErrPromptTimeout)
}

// Provider is a secondary identity provider reachable through a popup.
type Provider interface {
	ID() string
	AuthURL(state, challenge string) string
	Exchange(ctx context.Context, code, verifier string) (*domain.SecondaryCredential, error)
}

type result struct {
	cred *domain.SecondaryCredential
	err  error
}

type prompt struct {
	id        string
	sessionID string
	provider  Provider
	verifier  string
	authURL   string
	done      chan result
	once      sync.Once
}

func (p *prompt) finish(r result) {
	p.once.Do(func() {
		p.done <- r
	})
}

// Broker tracks at most one pending prompt per session.
type Broker struct {
	providers map[string]Provider
	states    *crypto.StateSigner
	timeout   time.Duration
	logger    *slog.Logger

	mu        sync.Mutex
	bySession map[string]*prompt
	byID      map[string]*prompt
}

// Option configures the Broker.
type Option func(*Broker)

// WithProvider registers a provider.
func WithProvider(p Provider) Option {
	return func(b *Broker) {
		b.providers[p.ID()] = p
	}
}

// WithTimeout bounds how long a prompt waits for the user.
func WithTimeout(d time.Duration) Option {
	return func(b *Broker) {
		b.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) {
		b.logger = l
	}
}

// NewBroker creates a Broker. states signs the OAuth state of each prompt.
func NewBroker(states *crypto.StateSigner, opts ...Option) *Broker {
	b := &Broker{
		providers: make(map[string]Provider),
		states:    states,
		timeout:   3 * time.Minute,
		logger:    slog.Default(),
		bySession: make(map[string]*prompt),
		byID:      make(map[string]*prompt),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Prompt opens a consent prompt for sessionID and blocks until the user
// completes it, dismisses it, a newer prompt supersedes it, it times out or
// ctx ends.
func (b *Broker) Prompt(ctx context.Context, sessionID, providerID string) (*domain.SecondaryCredential, error) {
	provider, ok := b.providers[providerID]
	if !ok {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown provider: %s", providerID))
	}

	pair, err := pkce.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate pkce pair: %w", err)
	}

	p := &prompt{
		id:        uuid.NewString(),
		sessionID: sessionID,
		provider:  provider,
		verifier:  pair.Verifier,
		done:      make(chan result, 1),
	}
	p.authURL = provider.AuthURL(b.states.Sign(p.id), pair.Challenge)

	b.mu.Lock()
	if old, ok := b.bySession[sessionID]; ok {
		delete(b.byID, old.id)
		old.finish(result{err: ErrCancelledPopupRequest})
	}
	b.bySession[sessionID] = p
	b.byID[p.id] = p
	b.mu.Unlock()

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case r := <-p.done:
		return r.cred, r.err
	case <-timer.C:
		b.remove(p)
		return nil, ErrPromptTimeout
	case <-ctx.Done():
		b.remove(p)
		return nil, ctx.Err()
	}
}

// Pending returns the authorization URL the popup for sessionID should open.
func (b *Broker) Pending(sessionID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.bySession[sessionID]
	if !ok {
		return "", false
	}
	return p.authURL, true
}

// Complete handles the provider's redirect back to the popup. errParam is
// the provider's error query parameter, if any.
func (b *Broker) Complete(ctx context.Context, providerID, state, code, errParam string) error {
	id, err := b.states.Verify(state)
	if err != nil {
		return ErrUnknownPrompt
	}

	b.mu.Lock()
	p, ok := b.byID[id]
	if ok && p.provider.ID() == providerID {
		delete(b.byID, id)
		delete(b.bySession, p.sessionID)
	}
	b.mu.Unlock()
	if !ok || p.provider.ID() != providerID {
		return ErrUnknownPrompt
	}

	switch {
	case errParam == "access_denied":
		p.finish(result{err: ErrAccessDenied})
		return ErrAccessDenied
	case errParam != "":
		err := fmt.Errorf("provider returned error: %s", errParam)
		p.finish(result{err: err})
		return err
	case code == "":
		err := apperrors.InvalidInput("missing authorization code")
		p.finish(result{err: err})
		return err
	}

	cred, err := p.provider.Exchange(ctx, code, p.verifier)
	if err != nil {
		b.logger.Warn("consent code exchange failed", "provider", providerID, "error", err)
		p.finish(result{err: err})
		return err
	}

	p.finish(result{cred: cred})
	return nil
}

// Dismiss ends the pending prompt of sessionID as closed by the user.
func (b *Broker) Dismiss(sessionID string) bool {
	b.mu.Lock()
	p, ok := b.bySession[sessionID]
	if ok {
		delete(b.bySession, sessionID)
		delete(b.byID, p.id)
	}
	b.mu.Unlock()

	if ok {
		p.finish(result{err: ErrPopupClosed})
	}
	return ok
}

func (b *Broker) remove(p *prompt) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.bySession[p.sessionID]; ok && cur == p {
		delete(b.bySession, p.sessionID)
	}
	delete(b.byID, p.id)
}
