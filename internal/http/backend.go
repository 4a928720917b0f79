package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/sosi/kosningakerfi/internal/errors"
	"github.com/sosi/kosningakerfi/internal/exchange"
)

// BackendService is what the backend routes call.
type BackendService interface {
	CreateVerifiedUser(ctx context.Context, code, verifier string) (string, error)
	UpdateUserProfile(ctx context.Context, idToken, email, photoURL string) error
}

// BackendHandler serves the trusted identity exchange endpoints.
type BackendHandler struct {
	service BackendService
	logger  *slog.Logger
}

// NewBackendHandler creates a new BackendHandler.
func NewBackendHandler(service BackendService, logger *slog.Logger) *BackendHandler {
	return &BackendHandler{
		service: service,
		logger:  logger,
	}
}

// BackendRoutesConfig configures MountBackend.
type BackendRoutesConfig struct {
	AllowedOrigins []string
	RateLimit      int
}

// MountBackend registers the backend routes on r.
func MountBackend(r chi.Router, h *BackendHandler, jwks *JWKSHandler, cfg BackendRoutesConfig) {
	r.Get(JWKSPath, jwks.JWKS)

	r.Group(func(r chi.Router) {
		r.Use(CORSMiddleware(DefaultCORSConfig(cfg.AllowedOrigins...)))
		r.Use(RateLimit("exchange", cfg.RateLimit))
		r.Post(exchange.PathCreateVerifiedUser, h.CreateVerifiedUser)
		r.Options(exchange.PathCreateVerifiedUser, noContent)
		r.Post(exchange.PathUpdateUserProfile, h.UpdateUserProfile)
		r.Options(exchange.PathUpdateUserProfile, noContent)
	})
}

// CreateVerifiedUser handles POST /createVerifiedUser.
func (h *BackendHandler) CreateVerifiedUser(w http.ResponseWriter, r *http.Request) {
	var req exchange.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}

	token, err := h.service.CreateVerifiedUser(r.Context(), req.Code, req.Verifier)
	if err != nil {
		h.logger.Info("createVerifiedUser failed", "code", exchange.Redact(req.Code), "error", err)
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"customToken": token})
}

// UpdateUserProfile handles POST /update_user_profile.
func (h *BackendHandler) UpdateUserProfile(w http.ResponseWriter, r *http.Request) {
	idToken, ok := bearerToken(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		writeError(w, http.StatusUnauthorized, apperrors.CodeUnauthorized, "missing bearer token")
		return
	}

	var req exchange.ProfileUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}

	if err := h.service.UpdateUserProfile(r.Context(), idToken, req.Email, req.PhotoURL); err != nil {
		h.logger.Info("update_user_profile failed", "error", err)
		writeAppError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

func noContent(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
