// Package main is the entry point for the trusted identity exchange backend.
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

	"github.com/sosi/kosningakerfi/internal/backend"
	"github.com/sosi/kosningakerfi/internal/config"
	"github.com/sosi/kosningakerfi/internal/crypto"
	kosninghttp "github.com/sosi/kosningakerfi/internal/http"
	"github.com/sosi/kosningakerfi/internal/store/file"
)

func main() {
	// Load configuration
	cfg, err := config.LoadBackend()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	if cfg.KenniClientID == "" || cfg.KenniClientSecret == "" {
		logger.Error("EXCHANGE_KENNI_CLIENT_ID and EXCHANGE_KENNI_CLIENT_SECRET are required")
		os.Exit(1)
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

	kenni, err := backend.NewKenniClient(ctx, cfg.KenniIssuer, cfg.KenniClientID, cfg.KenniClientSecret, cfg.KenniRedirectURI,
		backend.WithKenniTimeout(cfg.UpstreamTimeout),
	)
	if err != nil {
		logger.Error("failed to initialize kenni client", "error", err)
		os.Exit(1)
	}

	service := backend.NewService(kenni, store.Profiles(),
		crypto.NewSigner(keys, cfg.IssuerURL, cfg.CustomTokenAudience),
		crypto.NewRemoteVerifier(ctx, cfg.PortalIssuer, cfg.PortalIssuer+kosninghttp.JWKSPath, cfg.PortalAudience),
		backend.WithLogger(logger),
		backend.WithTokenTTL(cfg.CustomTokenTTL),
	)

	// Create HTTP server
	server := kosninghttp.NewServer(cfg.Addr(), kosninghttp.WithLogger(logger))
	kosninghttp.MountBackend(server.Router(),
		kosninghttp.NewBackendHandler(service, logger),
		kosninghttp.NewJWKSHandler(keys, logger),
		kosninghttp.BackendRoutesConfig{
			AllowedOrigins: cfg.Origins(),
			RateLimit:      cfg.ExchangeRateLimit,
		},
	)

	go maintainKeys(ctx, keys, cfg.KeyRotation, logger)

	// Start server in goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("exchange started", "addr", cfg.Addr(), "issuer", cfg.IssuerURL)

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

// maintainKeys prunes retired signing keys hourly and, when rotation is
// non-zero, rotates the signing key on that schedule. Portals pick up the new
// key from the JWKS the next time they see an unknown kid.
func maintainKeys(ctx context.Context, keys *crypto.KeyRing, rotation time.Duration, logger *slog.Logger) {
	prune := time.NewTicker(time.Hour)
	defer prune.Stop()

	var rotate <-chan time.Time
	if rotation > 0 {
		t := time.NewTicker(rotation)
		defer t.Stop()
		rotate = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-prune.C:
			if n, err := keys.Prune(ctx); err != nil {
				logger.Error("failed to prune signing keys", "error", err)
			} else if n > 0 {
				logger.Info("pruned retired signing keys", "count", n)
			}
		case <-rotate:
			key, err := keys.Rotate(ctx)
			if err != nil {
				logger.Error("failed to rotate signing key", "error", err)
				continue
			}
			logger.Info("rotated signing key", "kid", key.Kid)
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
