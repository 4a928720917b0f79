package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnvVars removes PORTAL_ and EXCHANGE_ variables for the duration of a
// test and points the dotenv lookup at a file that does not exist.
func clearEnvVars(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "PORTAL_") || strings.HasPrefix(key, "EXCHANGE_") {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}

	prev := envFile
	envFile = filepath.Join(t.TempDir(), "missing.env")
	t.Cleanup(func() { envFile = prev })
}

func TestLoadPortalDefaults(t *testing.T) {
	clearEnvVars(t)

	cfg, err := LoadPortal()
	if err != nil {
		t.Fatalf("LoadPortal failed: %v", err)
	}

	if cfg.Host != "0.0.0.0" {
		t.Errorf("Expected default host '0.0.0.0', got '%s'", cfg.Host)
	}
	if cfg.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Port)
	}
	if cfg.UpstreamTimeout != 15*time.Second {
		t.Errorf("Expected default upstream timeout 15s, got %v", cfg.UpstreamTimeout)
	}
	if cfg.KenniRedirectURI != "http://localhost:8080/auth/callback" {
		t.Errorf("Unexpected default redirect URI '%s'", cfg.KenniRedirectURI)
	}
	if cfg.LockoutMaxAttempts != 5 {
		t.Errorf("Expected default lockout max attempts 5, got %d", cfg.LockoutMaxAttempts)
	}
	if cfg.RedisURL != "" {
		t.Errorf("Expected no redis by default, got '%s'", cfg.RedisURL)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("Expected default log format 'json', got '%s'", cfg.LogFormat)
	}
	if cfg.DevBypass {
		t.Error("Dev bypass should be off by default")
	}
}

func TestLoadPortalFromEnv(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("PORTAL_HOST", "127.0.0.1")
	t.Setenv("PORTAL_PORT", "9090")
	t.Setenv("PORTAL_COOKIE_SECRET", "my-secret-key")
	t.Setenv("PORTAL_COOKIE_SECURE", "true")
	t.Setenv("PORTAL_UPSTREAM_TIMEOUT", "20s")
	t.Setenv("PORTAL_KENNI_SCOPES", "openid national_id")
	t.Setenv("PORTAL_LOG_LEVEL", "debug")

	cfg, err := LoadPortal()
	if err != nil {
		t.Fatalf("LoadPortal failed: %v", err)
	}

	if cfg.Addr() != "127.0.0.1:9090" {
		t.Errorf("Expected addr '127.0.0.1:9090', got '%s'", cfg.Addr())
	}
	if cfg.CookieSecret != "my-secret-key" {
		t.Errorf("Expected cookie secret 'my-secret-key', got '%s'", cfg.CookieSecret)
	}
	if cfg.CookieSecretGenerated {
		t.Error("CookieSecretGenerated should be false when a secret is provided")
	}
	if !cfg.CookieSecure {
		t.Error("Expected cookie secure to be true")
	}
	if cfg.UpstreamTimeout != 20*time.Second {
		t.Errorf("Expected upstream timeout 20s, got %v", cfg.UpstreamTimeout)
	}
	if scopes := cfg.Scopes(); len(scopes) != 2 || scopes[1] != "national_id" {
		t.Errorf("Unexpected scopes %v", scopes)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected log level 'debug', got '%s'", cfg.LogLevel)
	}
}

func TestCookieSecretAutoGeneration(t *testing.T) {
	clearEnvVars(t)

	cfg, err := LoadPortal()
	if err != nil {
		t.Fatalf("LoadPortal failed: %v", err)
	}

	if cfg.CookieSecret == "" {
		t.Error("Cookie secret should be auto-generated")
	}
	if !cfg.CookieSecretGenerated {
		t.Error("CookieSecretGenerated flag should be true")
	}

	cfg2, _ := LoadPortal()
	if cfg.CookieSecret == cfg2.CookieSecret {
		t.Error("Different loads should generate different secrets")
	}
}

func TestBypassEnabled(t *testing.T) {
	tests := []struct {
		name      string
		env       string
		devBypass bool
		want      bool
	}{
		{"off in development", "development", false, false},
		{"on in development", "development", true, true},
		{"never in production", EnvProduction, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Portal{Env: tt.env, DevBypass: tt.devBypass}
			if got := cfg.BypassEnabled(); got != tt.want {
				t.Errorf("BypassEnabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadBackendDefaults(t *testing.T) {
	clearEnvVars(t)

	cfg, err := LoadBackend()
	if err != nil {
		t.Fatalf("LoadBackend failed: %v", err)
	}

	if cfg.Addr() != "0.0.0.0:8081" {
		t.Errorf("Expected addr '0.0.0.0:8081', got '%s'", cfg.Addr())
	}
	if cfg.CustomTokenTTL != 10*time.Minute {
		t.Errorf("Expected custom token TTL 10m, got %v", cfg.CustomTokenTTL)
	}
	if cfg.PortalAudience != "kosningakerfi-portal" {
		t.Errorf("Unexpected portal audience '%s'", cfg.PortalAudience)
	}
	if cfg.KeyRotation != 30*24*time.Hour {
		t.Errorf("Expected key rotation every 720h, got %v", cfg.KeyRotation)
	}
}

func TestSignInRedirectURI(t *testing.T) {
	tests := []struct {
		name string
		cfg  Portal
		want string
	}{
		{"derived from public URL", Portal{PublicURL: "https://kjosa.example.is/"}, "https://kjosa.example.is/auth/google/callback"},
		{"explicit", Portal{PublicURL: "https://kjosa.example.is", GoogleSignInRedirectURI: "https://login.example.is/cb"}, "https://login.example.is/cb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.SignInRedirectURI(); got != tt.want {
				t.Errorf("SignInRedirectURI() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBackendOrigins(t *testing.T) {
	cfg := &Backend{AllowedOrigins: " https://a.example.com ,https://b.example.com,, "}

	origins := cfg.Origins()
	if len(origins) != 2 {
		t.Fatalf("Expected 2 origins, got %d: %v", len(origins), origins)
	}
	if origins[0] != "https://a.example.com" {
		t.Errorf("Expected trimmed origin, got '%s'", origins[0])
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	clearEnvVars(t)

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("EXCHANGE_PORT=9191\nEXCHANGE_KENNI_CLIENT_ID=from-dotenv\n"), 0600); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}
	envFile = path
	t.Cleanup(func() {
		os.Unsetenv("EXCHANGE_PORT")
		os.Unsetenv("EXCHANGE_KENNI_CLIENT_ID")
	})

	cfg, err := LoadBackend()
	if err != nil {
		t.Fatalf("LoadBackend failed: %v", err)
	}

	if cfg.Port != 9191 {
		t.Errorf("Expected port from .env 9191, got %d", cfg.Port)
	}
	if cfg.KenniClientID != "from-dotenv" {
		t.Errorf("Expected client ID from .env, got '%s'", cfg.KenniClientID)
	}
}

func TestDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	clearEnvVars(t)

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("EXCHANGE_PORT=9191\n"), 0600); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}
	envFile = path
	t.Setenv("EXCHANGE_PORT", "7070")

	cfg, err := LoadBackend()
	if err != nil {
		t.Fatalf("LoadBackend failed: %v", err)
	}

	if cfg.Port != 7070 {
		t.Errorf("Expected environment to win over .env, got %d", cfg.Port)
	}
}
