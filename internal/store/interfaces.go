// Package store defines repository interfaces for persistence.
package store

import (
	"context"

	"github.com/sosi/kosningakerfi/internal/domain"
)

// AccountRepository defines operations for platform account persistence.
type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	Update(ctx context.Context, account *domain.Account) error
	List(ctx context.Context) ([]*domain.Account, error)
}

// IdentityRepository defines operations for linked identity persistence.
type IdentityRepository interface {
	// Bind links identity to its UserID. Binding a (provider, subject) pair
	// that already belongs to another user fails with a conflict error;
	// rebinding it to the same user is a no-op. A user holds at most one
	// credential per provider; binding a second one also fails with a
	// conflict error.
	Bind(ctx context.Context, identity *domain.LinkedIdentity) error
	Get(ctx context.Context, provider, subject string) (*domain.LinkedIdentity, error)
	ListByUserID(ctx context.Context, userID string) ([]*domain.LinkedIdentity, error)
	Unbind(ctx context.Context, provider, subject string) error
}

// SessionRepository defines operations for session persistence.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteByUserID(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context) error
}

// ProfileRepository defines operations for user profile persistence.
type ProfileRepository interface {
	// Upsert creates the profile or refreshes the identity fields of an
	// existing one, keeping its role and enrichment fields.
	Upsert(ctx context.Context, profile *domain.Profile) (*domain.Profile, error)
	GetByUserID(ctx context.Context, userID string) (*domain.Profile, error)
	FindByKennitala(ctx context.Context, kennitala string) (*domain.Profile, error)
	Update(ctx context.Context, profile *domain.Profile) error
}

// Store aggregates all repositories.
type Store interface {
	Accounts() AccountRepository
	Identities() IdentityRepository
	Sessions() SessionRepository
	Profiles() ProfileRepository
	Close() error
}
