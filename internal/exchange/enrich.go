package exchange

import (
	"context"
	"fmt"

	"github.com/sosi/kosningakerfi/internal/domain"
)

// IDTokenSource mints the platform ID token of a session.
type IDTokenSource interface {
	IDToken(ctx context.Context, sessionID string) (string, error)
}

// ProfileEnricher forwards a linked credential's email and photo to the
// backend on behalf of the primary session.
type ProfileEnricher struct {
	client *Client
	tokens IDTokenSource
}

// NewProfileEnricher creates a ProfileEnricher.
func NewProfileEnricher(client *Client, tokens IDTokenSource) *ProfileEnricher {
	return &ProfileEnricher{client: client, tokens: tokens}
}

// EnrichProfile updates the primary user's profile from info.
func (e *ProfileEnricher) EnrichProfile(ctx context.Context, primary *domain.Session, info *domain.LinkedCredentialInfo) error {
	if info == nil || (info.Email == "" && info.PhotoURL == "") {
		return nil
	}

	idToken, err := e.tokens.IDToken(ctx, primary.ID)
	if err != nil {
		return fmt.Errorf("failed to get id token: %w", err)
	}

	return e.client.UpdateUserProfile(ctx, idToken, ProfileUpdate{
		Email:    info.Email,
		PhotoURL: info.PhotoURL,
	})
}
