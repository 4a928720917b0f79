package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sosi/kosningakerfi/internal/domain"
	apperrors "github.com/sosi/kosningakerfi/internal/errors"
)

func backend(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestExchange(t *testing.T) {
	srv := backend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathCreateVerifiedUser, r.URL.Path)

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "abc123", req.Code)
		assert.Equal(t, "verifier-V", req.Verifier)

		json.NewEncoder(w).Encode(map[string]string{"customToken": "tok-xyz"})
	})

	cred, err := NewClient(srv.URL).Exchange(context.Background(), "abc123", "verifier-V")
	require.NoError(t, err)
	assert.Equal(t, "tok-xyz", cred.Token)
}

func TestExchangeSurfacesBackendBody(t *testing.T) {
	srv := backend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Invalid authorization code", http.StatusBadRequest)
	})

	_, err := NewClient(srv.URL).Exchange(context.Background(), "abc123", "verifier-V")
	require.Error(t, err)

	var coded *apperrors.Error
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, apperrors.CodeUpstreamStatus, coded.Code)
	assert.Equal(t, http.StatusBadRequest, coded.Status)
	assert.Equal(t, "Invalid authorization code", coded.Message)
}

func TestExchangeMissingToken(t *testing.T) {
	for _, body := range []string{`{}`, `{"customToken":""}`} {
		srv := backend(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})

		_, err := NewClient(srv.URL).Exchange(context.Background(), "abc123", "verifier-V")
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.CodeMalformedResponse))
		assert.Contains(t, err.Error(), "malformed backend response")
	}
}

func TestExchangeTimeout(t *testing.T) {
	srv := backend(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	})

	_, err := NewClient(srv.URL, WithTimeout(50*time.Millisecond)).
		Exchange(context.Background(), "abc123", "verifier-V")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeTimeout), "got %v", err)
}

func TestExchangeNeverLogsSecrets(t *testing.T) {
	srv := backend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	})

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	code := "authcode-0123456789"
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	_, err := NewClient(srv.URL, WithLogger(logger)).Exchange(context.Background(), code, verifier)
	require.Error(t, err)

	out := buf.String()
	assert.NotEmpty(t, out)
	assert.False(t, strings.Contains(out, code), "log leaked the authorization code")
	assert.False(t, strings.Contains(out, verifier), "log leaked the verifier")
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "", Redact(""))
	assert.Equal(t, "[redacted]", Redact("short"))
	assert.Equal(t, "dBjf...[redacted]", Redact("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))
}

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) IDToken(ctx context.Context, sessionID string) (string, error) {
	return s.token, s.err
}

func TestProfileEnricher(t *testing.T) {
	var got ProfileUpdate
	srv := backend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathUpdateUserProfile, r.URL.Path)
		assert.Equal(t, "Bearer id-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})

	e := NewProfileEnricher(NewClient(srv.URL), staticTokens{token: "id-token"})
	err := e.EnrichProfile(context.Background(),
		&domain.Session{ID: "s1", UserID: "0101302989"},
		&domain.LinkedCredentialInfo{Email: "jon@example.is", PhotoURL: "https://example.is/p.png"},
	)
	require.NoError(t, err)
	assert.Equal(t, "jon@example.is", got.Email)
	assert.Equal(t, "https://example.is/p.png", got.PhotoURL)
}

func TestProfileEnricherNothingToSend(t *testing.T) {
	e := NewProfileEnricher(NewClient("http://127.0.0.1:1"), staticTokens{err: errors.New("unused")})
	err := e.EnrichProfile(context.Background(), &domain.Session{ID: "s1"}, &domain.LinkedCredentialInfo{})
	assert.NoError(t, err)
}

func TestProfileEnricherBackendError(t *testing.T) {
	srv := backend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
	})

	e := NewProfileEnricher(NewClient(srv.URL), staticTokens{token: "id-token"})
	err := e.EnrichProfile(context.Background(), &domain.Session{ID: "s1"},
		&domain.LinkedCredentialInfo{Email: "jon@example.is"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeUpstreamStatus))
}
