package backend

import (
	"context"
	"fmt"
	"net/http"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// KenniIdentity is the verified person behind a Kenni.is authorization code.
type KenniIdentity struct {
	NationalID string
	Name       string
	Email      string
}

// KenniClient redeems Kenni.is authorization codes. It holds the client
// secret, which is why code redemption happens here and not in the portal.
type KenniClient struct {
	config     oauth2.Config
	verifier   *gooidc.IDTokenVerifier
	httpClient *http.Client
	timeout    time.Duration
}

// KenniOption configures the KenniClient.
type KenniOption func(*KenniClient)

// WithKenniTimeout bounds each code redemption.
func WithKenniTimeout(d time.Duration) KenniOption {
	return func(c *KenniClient) {
		c.timeout = d
	}
}

// NewKenniClient discovers issuer and returns a client for it.
func NewKenniClient(ctx context.Context, issuer, clientID, clientSecret, redirectURI string, opts ...KenniOption) (*KenniClient, error) {
	c := &KenniClient{
		httpClient: &http.Client{},
		timeout:    15 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	provider, err := gooidc.NewProvider(gooidc.ClientContext(ctx, c.httpClient), issuer)
	if err != nil {
		return nil, fmt.Errorf("kenni discovery: %w", err)
	}

	c.config = oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{gooidc.ScopeOpenID, "profile", "national_id"},
	}
	c.verifier = provider.Verifier(&gooidc.Config{ClientID: clientID})
	return c, nil
}

// Exchange redeems code with the PKCE verifier and returns the verified
// identity from the ID token.
func (c *KenniClient) Exchange(ctx context.Context, code, verifier string) (*KenniIdentity, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx = gooidc.ClientContext(ctx, c.httpClient)

	token, err := c.config.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", verifier))
	if err != nil {
		return nil, fmt.Errorf("code exchange: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("no id_token in token response")
	}

	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}

	var claims struct {
		NationalID string `json:"national_id"`
		Name       string `json:"name"`
		Email      string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode id_token claims: %w", err)
	}

	return &KenniIdentity{
		NationalID: claims.NationalID,
		Name:       claims.Name,
		Email:      claims.Email,
	}, nil
}
