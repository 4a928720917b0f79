// Package main is the entry point for the voter-facing portal.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sosi/kosningakerfi/internal/auth"
	"github.com/sosi/kosningakerfi/internal/config"
	"github.com/sosi/kosningakerfi/internal/consent"
	"github.com/sosi/kosningakerfi/internal/crypto"
	"github.com/sosi/kosningakerfi/internal/eligibility"
	"github.com/sosi/kosningakerfi/internal/exchange"
	"github.com/sosi/kosningakerfi/internal/flowstore"
	kosninghttp "github.com/sosi/kosningakerfi/internal/http"
	"github.com/sosi/kosningakerfi/internal/identity"
	"github.com/sosi/kosningakerfi/internal/linking"
	"github.com/sosi/kosningakerfi/internal/observer"
	"github.com/sosi/kosningakerfi/internal/registration"
	"github.com/sosi/kosningakerfi/internal/signin"
	"github.com/sosi/kosningakerfi/internal/store/file"
)

func main() {
	// Load configuration
	cfg, err := config.LoadPortal()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.CookieSecretGenerated {
		logger.Warn("PORTAL_COOKIE_SECRET not set, using a generated secret; flows and CSRF tokens will not survive a restart")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize file store and signing keys
	store, err := file.NewStore(cfg.DataDir)
	if err != nil {
		logger.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	keys := crypto.NewKeyRing(file.NewKeyStore(cfg.DataDir))
	if _, err := keys.Active(ctx); err != nil {
		logger.Error("failed to ensure signing key", "error", err)
		os.Exit(1)
	}

	logger.Info("initialized file store", "data_dir", cfg.DataDir)

	stateKey, err := crypto.DeriveKey(cfg.CookieSecret, crypto.PurposeState)
	if err != nil {
		logger.Error("failed to derive state key", "error", err)
		os.Exit(1)
	}
	csrfKey, err := crypto.DeriveKey(cfg.CookieSecret, crypto.PurposeCSRF)
	if err != nil {
		logger.Error("failed to derive csrf key", "error", err)
		os.Exit(1)
	}
	flowKey, err := crypto.DeriveKey(cfg.CookieSecret, crypto.PurposeFlowCookie)
	if err != nil {
		logger.Error("failed to derive flow cookie key", "error", err)
		os.Exit(1)
	}
	states := crypto.NewStateSigner(stateKey)

	sessions := auth.NewSessionService(store.Sessions(),
		auth.WithFlowKey(flowKey),
		auth.WithCookieSecure(cfg.CookieSecure),
		auth.WithCookieDomain(cfg.CookieDomain),
		auth.WithSessionTTL(cfg.SessionDuration),
		auth.WithFlowTTL(cfg.FlowTTL),
	)

	platform := identity.NewPlatform(store, sessions,
		crypto.NewRemoteVerifier(ctx, cfg.BackendIssuer, cfg.BackendURL+kosninghttp.JWKSPath, cfg.CustomTokenAudience),
		crypto.NewSigner(keys, cfg.PublicURL, cfg.IDTokenAudience),
		identity.WithLogger(logger),
		identity.WithIDTokenTTL(cfg.IDTokenTTL),
	)

	// Flow-scoped storage
	var flowData registration.FlowStore
	var readiness kosninghttp.ReadinessCheck
	if cfg.RedisURL != "" {
		rdb, err := flowstore.Dial(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		flowData, readiness = rdb, rdb.Ping
		logger.Info("flow data kept in redis")
	} else {
		mem := flowstore.NewMemory()
		go sweep(ctx, time.Minute, func() { mem.Sweep() })
		flowData = mem
		logger.Warn("PORTAL_REDIS_URL not set, flow data kept in memory")
	}

	// Secondary provider
	if cfg.GoogleClientID == "" {
		logger.Error("PORTAL_GOOGLE_CLIENT_ID is required")
		os.Exit(1)
	}
	google, err := consent.NewGoogleProvider(ctx, cfg.GoogleIssuer, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURI)
	if err != nil {
		logger.Error("failed to initialize google provider", "error", err)
		os.Exit(1)
	}
	googleSignIn, err := consent.NewGoogleProvider(ctx, cfg.GoogleIssuer, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.SignInRedirectURI())
	if err != nil {
		logger.Error("failed to initialize google sign-in provider", "error", err)
		os.Exit(1)
	}
	broker := consent.NewBroker(states,
		consent.WithProvider(google),
		consent.WithTimeout(cfg.ConsentTimeout),
		consent.WithLogger(logger),
	)

	backend := exchange.NewClient(cfg.BackendURL,
		exchange.WithTimeout(cfg.UpstreamTimeout),
		exchange.WithLogger(logger),
	)

	registry := registration.NewFlows(registration.Deps{
		Exchanger: backend,
		Sessions:  platform,
		Linker:    linking.NewLinker(broker, platform, logger),
		Enricher:  exchange.NewProfileEnricher(backend, platform),
		Store:     flowData,
		States:    states,
	}, registration.ProviderConfig{
		AuthURL:     cfg.KenniAuthURL,
		ClientID:    cfg.KenniClientID,
		RedirectURI: cfg.KenniRedirectURI,
		Scopes:      cfg.Scopes(),
	}, cfg.FlowTTL+cfg.FlowTimeout,
		registration.WithLogger(logger),
		registration.WithFlowTTL(cfg.FlowTTL),
	)
	go registry.Run(ctx, time.Minute)

	obs := observer.New(platform, logger)
	obs.Start(ctx)
	defer obs.Stop()

	checker := eligibility.NewClient(cfg.EligibilityURL, cfg.EligibilityToken,
		eligibility.WithTimeout(cfg.UpstreamTimeout),
		eligibility.WithLogger(logger),
	)

	deps := kosninghttp.PortalDeps{
		Flows:       registry,
		Sessions:    sessions,
		CSRF:        auth.NewCSRFService(csrfKey, cfg.CookieSecure, cfg.CookieDomain),
		Lockout:     auth.NewLockoutService(cfg.LockoutMaxAttempts, cfg.LockoutDuration),
		States:      states,
		Consent:     broker,
		Platform:    platform,
		Observer:    obs,
		Eligibility: checker,
		SignIn: signin.NewService(googleSignIn, flowData, states, platform,
			signin.WithTTL(cfg.FlowTTL),
			signin.WithLogger(logger),
		),
	}
	if cfg.BypassEnabled() {
		deps.Bypass = registration.NewBypass(checker, platform, logger)
		logger.Warn("development eligibility sign-in is enabled")
	}

	go sweep(ctx, 10*time.Minute, func() {
		if err := sessions.DeleteExpired(ctx); err != nil {
			logger.Error("failed to delete expired sessions", "error", err)
		}
		if n, err := keys.Prune(ctx); err != nil {
			logger.Error("failed to prune signing keys", "error", err)
		} else if n > 0 {
			logger.Info("pruned retired signing keys", "count", n)
		}
	})
	if cfg.KeyRotation > 0 {
		go sweep(ctx, cfg.KeyRotation, func() {
			key, err := keys.Rotate(ctx)
			if err != nil {
				logger.Error("failed to rotate signing key", "error", err)
				return
			}
			logger.Info("rotated signing key", "kid", key.Kid)
		})
	}

	// Create HTTP server
	server := kosninghttp.NewServer(cfg.Addr(), kosninghttp.WithLogger(logger))
	if readiness != nil {
		server.Health().AddCheck("flowstore", readiness)
	}
	kosninghttp.MountPortal(server.Router(),
		kosninghttp.NewPortalHandler(deps, cfg.FlowTimeout, logger),
		kosninghttp.NewJWKSHandler(keys, logger),
		kosninghttp.PortalRoutesConfig{
			StartRateLimit:       cfg.StartRateLimit,
			EligibilityRateLimit: cfg.EligibilityRateLimit,
		},
	)

	// Start server in goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("portal started", "addr", cfg.Addr(), "public_url", cfg.PublicURL, "env", cfg.Env)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// sweep runs fn every interval until ctx ends.
func sweep(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func newLogger(format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
