package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	// CSRFCookieName is the name of the CSRF cookie.
	CSRFCookieName = "kosning_csrf"
	// CSRFTokenLength is the length of the CSRF token in bytes.
	CSRFTokenLength = 32
	// CSRFFormField is the form field name for CSRF token.
	CSRFFormField = "csrf_token"
	// CSRFHeader carries the token on fetch requests.
	CSRFHeader = "X-CSRF-Token"
	// CSRFTTL is how long CSRF tokens are valid.
	CSRFTTL = 1 * time.Hour
)

// CSRFService provides double-submit CSRF protection with signed tokens.
type CSRFService struct {
	key          []byte
	cookieSecure bool
	cookieDomain string
}

// NewCSRFService creates a new CSRFService. key should be derived for this
// purpose only (see crypto.DeriveKey).
func NewCSRFService(key []byte, cookieSecure bool, cookieDomain string) *CSRFService {
	return &CSRFService{
		key:          key,
		cookieSecure: cookieSecure,
		cookieDomain: cookieDomain,
	}
}

// GenerateToken generates a new CSRF token and sets it as a cookie.
func (s *CSRFService) GenerateToken(w http.ResponseWriter) (string, error) {
	nonce, err := randomToken(CSRFTokenLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate CSRF token: %w", err)
	}

	data := fmt.Sprintf("%d:%s", time.Now().Unix(), nonce)
	token := data + "." + s.sign(data)

	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		Domain:   s.cookieDomain,
		MaxAge:   int(CSRFTTL.Seconds()),
		HttpOnly: false, // JavaScript needs to read this for AJAX
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})

	return token, nil
}

// ValidateToken validates a CSRF token from form data against the cookie.
func (s *CSRFService) ValidateToken(r *http.Request) error {
	formToken := r.Header.Get(CSRFHeader)
	if formToken == "" {
		formToken = r.FormValue(CSRFFormField)
	}
	if formToken == "" {
		return fmt.Errorf("missing CSRF token")
	}

	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil {
		return fmt.Errorf("missing CSRF cookie")
	}

	if formToken != cookie.Value {
		return fmt.Errorf("CSRF token mismatch")
	}

	return s.validateTokenFormat(formToken)
}

func (s *CSRFService) validateTokenFormat(token string) error {
	i := strings.LastIndexByte(token, '.')
	if i <= 0 || i == len(token)-1 {
		return fmt.Errorf("invalid CSRF token format")
	}
	data, signature := token[:i], token[i+1:]

	if !hmac.Equal([]byte(signature), []byte(s.sign(data))) {
		return fmt.Errorf("invalid CSRF token signature")
	}

	var timestamp int64
	if _, err := fmt.Sscanf(data, "%d:", &timestamp); err != nil {
		return fmt.Errorf("invalid CSRF token timestamp")
	}

	if time.Since(time.Unix(timestamp, 0)) > CSRFTTL {
		return fmt.Errorf("CSRF token expired")
	}

	return nil
}

func (s *CSRFService) sign(data string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// ClearToken clears the CSRF cookie.
func (s *CSRFService) ClearToken(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    "",
		Path:     "/",
		Domain:   s.cookieDomain,
		MaxAge:   -1,
		HttpOnly: false,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}
