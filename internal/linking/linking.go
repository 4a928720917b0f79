// Package linking attaches a secondary provider credential to a signed-in
// primary user.
package linking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sosi/kosningakerfi/internal/consent"
	"github.com/sosi/kosningakerfi/internal/domain"
	apperrors "github.com/sosi/kosningakerfi/internal/errors"
	"github.com/sosi/kosningakerfi/internal/metrics"
)

// Kind classifies a linking failure.
type Kind int

const (
	// KindOther is any failure not listed below.
	KindOther Kind = iota
	// KindAlreadyLinked means the credential belongs to another user.
	KindAlreadyLinked
	// KindUserCancelled means the user closed or declined the prompt.
	KindUserCancelled
)

func (k Kind) String() string {
	switch k {
	case KindAlreadyLinked:
		return "already_linked"
	case KindUserCancelled:
		return "user_cancelled"
	default:
		return "other"
	}
}

// Failure is the error returned by LinkSecondary.
type Failure struct {
	Kind     Kind
	Provider string
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("link %s: %s: %v", f.Provider, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// KindOf returns the Kind of a linking error, or KindOther.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindOther
}

// Prompter runs an interactive consent prompt for a session.
type Prompter interface {
	Prompt(ctx context.Context, sessionID, providerID string) (*domain.SecondaryCredential, error)
}

// Binder binds a credential to the user of a session.
type Binder interface {
	LinkCredential(ctx context.Context, sessionID string, cred domain.SecondaryCredential) (*domain.LinkedIdentity, error)
}

// Linker runs a consent prompt and binds its credential.
type Linker struct {
	prompter Prompter
	binder   Binder
	logger   *slog.Logger
}

// NewLinker creates a Linker.
func NewLinker(prompter Prompter, binder Binder, logger *slog.Logger) *Linker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Linker{prompter: prompter, binder: binder, logger: logger}
}

// LinkSecondary links the provider's credential to the primary session's
// user. Errors are always *Failure.
func (l *Linker) LinkSecondary(ctx context.Context, primary *domain.Session, provider string) (*domain.LinkedCredentialInfo, error) {
	cred, err := l.prompter.Prompt(ctx, primary.ID, provider)
	if err != nil {
		return nil, l.fail(provider, classify(err), err)
	}

	if _, err := l.binder.LinkCredential(ctx, primary.ID, *cred); err != nil {
		return nil, l.fail(provider, classify(err), err)
	}

	metrics.RecordLink(provider, "linked")
	l.logger.Info("secondary credential linked", "user_id", primary.UserID, "provider", provider)

	return &domain.LinkedCredentialInfo{
		Provider:    cred.Provider,
		Subject:     cred.Subject,
		Email:       cred.Email,
		DisplayName: cred.DisplayName,
		PhotoURL:    cred.PhotoURL,
	}, nil
}

func (l *Linker) fail(provider string, kind Kind, err error) error {
	metrics.RecordLink(provider, kind.String())
	l.logger.Warn("secondary link failed", "provider", provider, "kind", kind.String(), "error", err)
	return &Failure{Kind: kind, Provider: provider, Err: err}
}

func classify(err error) Kind {
	switch {
	case apperrors.IsCode(err, apperrors.CodeConflict):
		return KindAlreadyLinked
	case consent.IsCancelled(err),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindUserCancelled
	default:
		return KindOther
	}
}
