// Package exchange is the portal's client for the trusted backend: it trades
// a Kenni.is authorization code and PKCE verifier for a session credential
// and forwards profile enrichment.
package exchange

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sosi/kosningakerfi/internal/domain"
	apperrors "github.com/sosi/kosningakerfi/internal/errors"
	"github.com/sosi/kosningakerfi/internal/upstream"
)

// ServiceName labels backend calls in errors and metrics.
const ServiceName = "backend"

// Backend endpoint paths.
const (
	PathCreateVerifiedUser = "/createVerifiedUser"
	PathUpdateUserProfile  = "/update_user_profile"
)

// Request is the body of a createVerifiedUser call.
type Request struct {
	Code     string `json:"kenniAuthCode"`
	Verifier string `json:"pkceCodeVerifier"`
}

// ProfileUpdate is the body of an update_user_profile call.
type ProfileUpdate struct {
	Email    string `json:"email,omitempty"`
	PhotoURL string `json:"photoURL,omitempty"`
}

// Client talks to the trusted backend.
type Client struct {
	baseURL string
	http    *upstream.Client
	logger  *slog.Logger
}

// Option configures the Client.
type Option func(*clientOptions)

type clientOptions struct {
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// WithTimeout bounds each backend call.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = l
	}
}

// NewClient creates a Client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	o := &clientOptions{timeout: upstream.DefaultTimeout}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	upOpts := []upstream.Option{upstream.WithTimeout(o.timeout)}
	if o.httpClient != nil {
		upOpts = append(upOpts, upstream.WithHTTPClient(o.httpClient))
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    upstream.New(ServiceName, upOpts...),
		logger:  o.logger,
	}
}

// Exchange trades code and verifier for a session credential. A non-2xx
// answer is returned as an upstream_status error whose message is the
// response body; a 2xx answer without a token is a malformed response.
func (c *Client) Exchange(ctx context.Context, code, verifier string) (domain.SessionCredential, error) {
	c.logger.Debug("exchanging identity",
		"code", Redact(code),
		"verifier", Redact(verifier),
	)

	var cred domain.SessionCredential
	err := c.http.PostJSON(ctx, c.baseURL+PathCreateVerifiedUser, nil,
		Request{Code: code, Verifier: verifier}, &cred)
	if err != nil {
		c.logger.Warn("identity exchange failed",
			"code", Redact(code),
			"error_code", apperrors.CodeOf(err),
			"error", err,
		)
		return domain.SessionCredential{}, err
	}

	if cred.Token == "" {
		return domain.SessionCredential{}, apperrors.MalformedResponse("malformed backend response", nil)
	}
	return cred, nil
}

// UpdateUserProfile sends enrichment data for the user identified by idToken.
func (c *Client) UpdateUserProfile(ctx context.Context, idToken string, update ProfileUpdate) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+idToken)
	return c.http.PostJSON(ctx, c.baseURL+PathUpdateUserProfile, header, update, nil)
}

// Redact shortens a secret to a form safe for logs.
func Redact(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "[redacted]"
	}
	return s[:4] + "..." + "[redacted]"
}
