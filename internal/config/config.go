// Package config handles application configuration via environment variables.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// EnvProduction is the deployment environment name that disables development
// conveniences.
const EnvProduction = "production"

// Portal holds configuration for the voter-facing service.
type Portal struct {
	// Server settings
	Host      string `env:"PORTAL_HOST" env-default:"0.0.0.0"`
	Port      int    `env:"PORTAL_PORT" env-default:"8080"`
	Env       string `env:"PORTAL_ENV" env-default:"development"`
	PublicURL string `env:"PORTAL_PUBLIC_URL" env-default:"http://localhost:8080"`

	// Storage settings
	DataDir  string `env:"PORTAL_DATA_DIR" env-default:"./data"`
	RedisURL string `env:"PORTAL_REDIS_URL" env-default:""` // empty keeps flow data in memory

	// Session settings
	SessionDuration time.Duration `env:"PORTAL_SESSION_DURATION" env-default:"24h"`
	IDTokenTTL      time.Duration `env:"PORTAL_ID_TOKEN_TTL" env-default:"1h"`
	IDTokenAudience string        `env:"PORTAL_ID_TOKEN_AUDIENCE" env-default:"kosningakerfi-portal"`
	KeyRotation     time.Duration `env:"PORTAL_KEY_ROTATION" env-default:"0"` // 0 disables scheduled rotation
	CookieSecret    string        `env:"PORTAL_COOKIE_SECRET"`
	CookieSecure    bool          `env:"PORTAL_COOKIE_SECURE" env-default:"false"`
	CookieDomain    string        `env:"PORTAL_COOKIE_DOMAIN" env-default:""`

	// Registration flow
	FlowTTL        time.Duration `env:"PORTAL_FLOW_TTL" env-default:"10m"`
	FlowTimeout    time.Duration `env:"PORTAL_FLOW_TIMEOUT" env-default:"5m"`
	ConsentTimeout time.Duration `env:"PORTAL_CONSENT_TIMEOUT" env-default:"3m"`

	// Kenni.is (primary identity provider)
	KenniAuthURL     string `env:"PORTAL_KENNI_AUTH_URL" env-default:"https://idp.kenni.is/oidc/auth"`
	KenniClientID    string `env:"PORTAL_KENNI_CLIENT_ID" env-default:""`
	KenniRedirectURI string `env:"PORTAL_KENNI_REDIRECT_URI" env-default:"http://localhost:8080/auth/callback"`
	KenniScopes      string `env:"PORTAL_KENNI_SCOPES" env-default:"openid profile national_id"`

	// Google (secondary credential)
	GoogleIssuer       string `env:"PORTAL_GOOGLE_ISSUER" env-default:"https://accounts.google.com"`
	GoogleClientID     string `env:"PORTAL_GOOGLE_CLIENT_ID" env-default:""`
	GoogleClientSecret string `env:"PORTAL_GOOGLE_CLIENT_SECRET" env-default:""`
	GoogleRedirectURI  string `env:"PORTAL_GOOGLE_REDIRECT_URI" env-default:"http://localhost:8080/auth/popup/google.com/callback"`

	// Returning voters signing in with their linked Google account
	GoogleSignInRedirectURI string `env:"PORTAL_GOOGLE_SIGNIN_REDIRECT_URI" env-default:""` // defaults to PublicURL + /auth/google/callback

	// Trusted backend
	BackendURL          string `env:"PORTAL_BACKEND_URL" env-default:"http://localhost:8081"`
	BackendIssuer       string `env:"PORTAL_BACKEND_ISSUER" env-default:"http://localhost:8081"`
	CustomTokenAudience string `env:"PORTAL_CUSTOM_TOKEN_AUDIENCE" env-default:"kosningakerfi"`

	// Membership registry
	EligibilityURL   string `env:"PORTAL_ELIGIBILITY_URL" env-default:""`
	EligibilityToken string `env:"PORTAL_ELIGIBILITY_TOKEN" env-default:""`

	// Upstream calls
	UpstreamTimeout time.Duration `env:"PORTAL_UPSTREAM_TIMEOUT" env-default:"15s"`

	// Rate limiting
	StartRateLimit       int `env:"PORTAL_START_RATE_LIMIT" env-default:"10"`       // flow starts per minute
	EligibilityRateLimit int `env:"PORTAL_ELIGIBILITY_RATE_LIMIT" env-default:"10"` // lookups per minute

	// Lookup lockout
	LockoutMaxAttempts int           `env:"PORTAL_LOCKOUT_MAX_ATTEMPTS" env-default:"5"`
	LockoutDuration    time.Duration `env:"PORTAL_LOCKOUT_DURATION" env-default:"15m"`

	// Development eligibility-only sign-in. Ignored in production.
	DevBypass bool `env:"PORTAL_DEV_BYPASS" env-default:"false"`

	// Logging
	LogLevel  string `env:"PORTAL_LOG_LEVEL" env-default:"info"`
	LogFormat string `env:"PORTAL_LOG_FORMAT" env-default:"json"` // json or text

	// Internal flags (not from env)
	CookieSecretGenerated bool `env:"-"` // True if secret was auto-generated
}

// Backend holds configuration for the trusted identity exchange service.
type Backend struct {
	// Server settings
	Host           string `env:"EXCHANGE_HOST" env-default:"0.0.0.0"`
	Port           int    `env:"EXCHANGE_PORT" env-default:"8081"`
	IssuerURL      string `env:"EXCHANGE_ISSUER_URL" env-default:"http://localhost:8081"`
	AllowedOrigins string `env:"EXCHANGE_ALLOWED_ORIGINS" env-default:"http://localhost:8080"`

	// Storage settings
	DataDir string `env:"EXCHANGE_DATA_DIR" env-default:"./data"`

	// Custom tokens
	CustomTokenTTL      time.Duration `env:"EXCHANGE_CUSTOM_TOKEN_TTL" env-default:"10m"`
	CustomTokenAudience string        `env:"EXCHANGE_CUSTOM_TOKEN_AUDIENCE" env-default:"kosningakerfi"`
	KeyRotation         time.Duration `env:"EXCHANGE_KEY_ROTATION" env-default:"720h"` // 0 disables scheduled rotation

	// Kenni.is token exchange
	KenniIssuer       string `env:"EXCHANGE_KENNI_ISSUER" env-default:"https://idp.kenni.is"`
	KenniClientID     string `env:"EXCHANGE_KENNI_CLIENT_ID" env-default:""`
	KenniClientSecret string `env:"EXCHANGE_KENNI_CLIENT_SECRET" env-default:""`
	KenniRedirectURI  string `env:"EXCHANGE_KENNI_REDIRECT_URI" env-default:"http://localhost:8080/auth/callback"`

	// Portal ID tokens presented to update_user_profile
	PortalIssuer   string `env:"EXCHANGE_PORTAL_ISSUER" env-default:"http://localhost:8080"`
	PortalAudience string `env:"EXCHANGE_PORTAL_AUDIENCE" env-default:"kosningakerfi-portal"`

	// Upstream calls
	UpstreamTimeout time.Duration `env:"EXCHANGE_UPSTREAM_TIMEOUT" env-default:"15s"`

	// Rate limiting
	ExchangeRateLimit int `env:"EXCHANGE_RATE_LIMIT" env-default:"30"` // exchanges per minute per IP

	// Logging
	LogLevel  string `env:"EXCHANGE_LOG_LEVEL" env-default:"info"`
	LogFormat string `env:"EXCHANGE_LOG_FORMAT" env-default:"json"` // json or text
}

// LoadPortal reads the portal configuration from the environment, after
// applying an optional .env file.
func LoadPortal() (*Portal, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	var cfg Portal
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Generate random cookie secret if not provided
	if cfg.CookieSecret == "" {
		secret, err := generateRandomSecret(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate cookie secret: %w", err)
		}
		cfg.CookieSecret = secret
		cfg.CookieSecretGenerated = true
	}

	return &cfg, nil
}

// LoadBackend reads the backend configuration from the environment, after
// applying an optional .env file.
func LoadBackend() (*Backend, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	var cfg Backend
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Addr returns the server address in host:port format.
func (c *Portal) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsProduction reports whether the portal runs in production.
func (c *Portal) IsProduction() bool {
	return c.Env == EnvProduction
}

// BypassEnabled reports whether the development eligibility-only sign-in is
// available. It is never available in production.
func (c *Portal) BypassEnabled() bool {
	return c.DevBypass && !c.IsProduction()
}

// SignInRedirectURI returns where Google sends a returning voter back to.
func (c *Portal) SignInRedirectURI() string {
	if c.GoogleSignInRedirectURI != "" {
		return c.GoogleSignInRedirectURI
	}
	return strings.TrimSuffix(c.PublicURL, "/") + "/auth/google/callback"
}

// Scopes returns the Kenni.is scopes as a list.
func (c *Portal) Scopes() []string {
	return strings.Fields(c.KenniScopes)
}

// Addr returns the server address in host:port format.
func (c *Backend) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Origins returns the allowed CORS origins as a list.
func (c *Backend) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// envFile is the dotenv file consulted at startup; a variable for tests.
var envFile = ".env"

// loadDotEnv applies envFile without overriding variables already set.
func loadDotEnv() error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	return nil
}

// generateRandomSecret generates a cryptographically secure random string.
func generateRandomSecret(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
