package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sosi/kosningakerfi/internal/crypto"
)

// JWKSPath is where both services publish their signing keys.
const JWKSPath = "/.well-known/jwks.json"

// JWKSHandler serves the public half of a service's signing keys, so the
// peer service can verify the tokens it mints.
type JWKSHandler struct {
	keys   *crypto.KeyRing
	logger *slog.Logger
}

// NewJWKSHandler creates a new JWKSHandler.
func NewJWKSHandler(keys *crypto.KeyRing, logger *slog.Logger) *JWKSHandler {
	return &JWKSHandler{
		keys:   keys,
		logger: logger,
	}
}

// JWKS handles GET /.well-known/jwks.json.
func (h *JWKSHandler) JWKS(w http.ResponseWriter, r *http.Request) {
	jwks, err := h.keys.JWKS(r.Context())
	if err != nil {
		h.logger.Error("failed to get JWKS", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")

	if err := json.NewEncoder(w).Encode(jwks); err != nil {
		h.logger.Error("failed to encode JWKS", "error", err)
	}
}
