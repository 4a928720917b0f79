// Package domain defines the core types for voter identity and registration.
package domain

import (
	"time"
)

// Role is the privilege level derived from an account's claims.
type Role string

const (
	RoleVoter Role = "voter"
	RoleAdmin Role = "admin"
)

// Well-known provider identifiers.
const (
	ProviderKenni  = "kenni.is"
	ProviderGoogle = "google.com"
)

// PKCEPair is a PKCE code verifier and its S256 challenge.
type PKCEPair struct {
	Verifier  string
	Challenge string
}

// SessionCredential is the opaque token the trusted backend mints after a
// successful identity exchange. Presenting it to the identity platform
// establishes a session for the primary user.
type SessionCredential struct {
	Token string `json:"customToken"`
}

// Account is the platform's primary user record. Its ID is the national ID
// of the verified person.
type Account struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name,omitempty"`
	Email       string         `json:"email,omitempty"`
	PhotoURL    string         `json:"photo_url,omitempty"`
	Claims      map[string]any `json:"claims,omitempty"`
	Disabled    bool           `json:"disabled"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// IsAdmin reports whether the account carries the admin custom claim.
func (a *Account) IsAdmin() bool {
	v, ok := a.Claims[ClaimIsAdmin].(bool)
	return ok && v
}

// Custom claim names stored on accounts.
const (
	ClaimIsAdmin = "isAdmin"
	ClaimBypass  = "bypass"
)

// LinkedIdentity binds a secondary provider identity to an account.
// A (Provider, Subject) pair is bound to at most one account.
type LinkedIdentity struct {
	Provider string    `json:"provider"`
	Subject  string    `json:"subject"`
	UserID   string    `json:"user_id"`
	Email    string    `json:"email,omitempty"`
	PhotoURL string    `json:"photo_url,omitempty"`
	LinkedAt time.Time `json:"linked_at"`
}

// SecondaryCredential is what an interactive consent prompt yields for a
// secondary provider.
type SecondaryCredential struct {
	Provider    string
	Subject     string
	Email       string
	DisplayName string
	PhotoURL    string
}

// LinkedCredentialInfo is the profile of a successfully linked credential.
type LinkedCredentialInfo struct {
	Provider    string `json:"provider"`
	Subject     string `json:"subject"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	PhotoURL    string `json:"photo_url,omitempty"`
}

// Session represents an authenticated user session on the platform.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	UserAgent string    `json:"user_agent,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
}

// IsExpired checks if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// EligibilityRecord is the membership registry's answer for one national ID.
// It is fetched fresh on every check and never persisted.
type EligibilityRecord struct {
	NationalID string `json:"-"`
	Valid      bool   `json:"valid"`
	Eligible   bool   `json:"eligible"`
	MemberID   string `json:"member_id,omitempty"`
	MemberName string `json:"member_name,omitempty"`
}

// Profile is the user document kept by the trusted backend.
type Profile struct {
	UserID    string    `json:"user_id"`
	Kennitala string    `json:"kennitala"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email,omitempty"`
	PhotoURL  string    `json:"photo_url,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
