// Package fakeidp runs an in-process OpenID Connect provider for tests:
// discovery, JWKS and an authorization-code token endpoint that enforces
// PKCE.
package fakeidp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"

	"github.com/sosi/kosningakerfi/internal/crypto"
	"github.com/sosi/kosningakerfi/internal/pkce"
	"github.com/sosi/kosningakerfi/internal/store/file"
)

// Grant is what an authorization code redeems to.
type Grant struct {
	Subject   string
	Claims    crypto.Claims
	Challenge string
}

// Server is a fake identity provider.
type Server struct {
	*httptest.Server
	ClientID string

	signer *crypto.Signer
	keys   *crypto.KeyRing

	mu       sync.Mutex
	codes    map[string]Grant
	redeemed int
}

// New starts a provider that issues ID tokens for clientID. It is closed
// when the test ends.
func New(t testing.TB, clientID string) *Server {
	t.Helper()

	s := &Server{
		ClientID: clientID,
		keys:     crypto.NewKeyRing(file.NewKeyStore(t.TempDir())),
		codes:    make(map[string]Grant),
	}
	if _, err := s.keys.Active(context.Background()); err != nil {
		t.Fatalf("fakeidp: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", s.handleDiscovery)
	mux.HandleFunc("/jwks", s.handleJWKS)
	mux.HandleFunc("/token", s.handleToken)
	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "interactive login is not simulated", http.StatusNotImplemented)
	})

	s.Server = httptest.NewServer(mux)
	s.signer = crypto.NewSigner(s.keys, s.URL, clientID)
	t.Cleanup(s.Close)
	return s
}

// Issue registers a one-time authorization code for grant.
func (s *Server) Issue(grant Grant) string {
	code := uuid.NewString()
	s.mu.Lock()
	s.codes[code] = grant
	s.mu.Unlock()
	return code
}

// Redeemed returns how many codes were exchanged successfully.
func (s *Server) Redeemed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redeemed
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                s.URL,
		"authorization_endpoint":                s.URL + "/authorize",
		"token_endpoint":                        s.URL + "/token",
		"jwks_uri":                              s.URL + "/jwks",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{string(jose.RS256)},
		"code_challenge_methods_supported":      []string{pkce.MethodS256},
	})
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	jwks, err := s.keys.JWKS(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, jwks)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauthError(w, "invalid_request")
		return
	}
	if r.PostForm.Get("grant_type") != "authorization_code" {
		oauthError(w, "unsupported_grant_type")
		return
	}

	code := r.PostForm.Get("code")
	s.mu.Lock()
	grant, ok := s.codes[code]
	delete(s.codes, code)
	s.mu.Unlock()
	if !ok {
		oauthError(w, "invalid_grant")
		return
	}

	if grant.Challenge != "" && !pkce.Verify(r.PostForm.Get("code_verifier"), grant.Challenge) {
		oauthError(w, "invalid_grant")
		return
	}

	claims := grant.Claims
	idToken, _, err := s.signer.Mint(r.Context(), grant.Subject, 5*time.Minute, &claims)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.redeemed++
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": uuid.NewString(),
		"token_type":   "Bearer",
		"expires_in":   300,
		"id_token":     idToken,
	})
}

func oauthError(w http.ResponseWriter, code string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
