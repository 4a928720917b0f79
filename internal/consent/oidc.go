package consent

import (
	"context"
	"fmt"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/sosi/kosningakerfi/internal/domain"
	"github.com/sosi/kosningakerfi/internal/pkce"
)

// GoogleIssuer is Google's OpenID Connect issuer.
const GoogleIssuer = "https://accounts.google.com"

// OIDCProvider is a Provider backed by an OpenID Connect issuer.
type OIDCProvider struct {
	id       string
	config   oauth2.Config
	verifier *gooidc.IDTokenVerifier
}

// NewOIDCProvider discovers issuer and returns a Provider registered as id.
func NewOIDCProvider(ctx context.Context, id, issuer, clientID, clientSecret, redirectURL string) (*OIDCProvider, error) {
	provider, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %s: %w", issuer, err)
	}

	return &OIDCProvider{
		id: id,
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{gooidc.ScopeOpenID, "profile", "email"},
		},
		verifier: provider.Verifier(&gooidc.Config{ClientID: clientID}),
	}, nil
}

// NewGoogleProvider returns the Google provider.
func NewGoogleProvider(ctx context.Context, issuer, clientID, clientSecret, redirectURL string) (*OIDCProvider, error) {
	if issuer == "" {
		issuer = GoogleIssuer
	}
	return NewOIDCProvider(ctx, domain.ProviderGoogle, issuer, clientID, clientSecret, redirectURL)
}

// ID returns the provider identifier.
func (p *OIDCProvider) ID() string {
	return p.id
}

// AuthURL returns the URL the popup opens.
func (p *OIDCProvider) AuthURL(state, challenge string) string {
	return p.config.AuthCodeURL(state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", pkce.MethodS256),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

// Exchange redeems code and returns the verified identity.
func (p *OIDCProvider) Exchange(ctx context.Context, code, verifier string) (*domain.SecondaryCredential, error) {
	token, err := p.config.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", verifier))
	if err != nil {
		return nil, fmt.Errorf("code exchange: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("no id_token in token response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}

	var claims struct {
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode id_token claims: %w", err)
	}

	return &domain.SecondaryCredential{
		Provider:    p.id,
		Subject:     idToken.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
		PhotoURL:    claims.Picture,
	}, nil
}
