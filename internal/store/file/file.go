// Package file implements file-based storage using JSON files.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sosi/kosningakerfi/internal/domain"
	apperrors "github.com/sosi/kosningakerfi/internal/errors"
	"github.com/sosi/kosningakerfi/internal/store"
)

// Store implements store.Store using JSON files for persistence.
type Store struct {
	dataDir string
	mu      sync.RWMutex

	accounts   *accountRepository
	identities *identityRepository
	sessions   *sessionRepository
	profiles   *profileRepository
}

// Option configures the Store.
type Option func(*Store)

// NewStore creates a new file-based store.
func NewStore(dataDir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Store{
		dataDir: dataDir,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.accounts = &accountRepository{store: s}
	s.identities = &identityRepository{store: s}
	s.sessions = &sessionRepository{store: s}
	s.profiles = &profileRepository{store: s}

	return s, nil
}

func (s *Store) Accounts() store.AccountRepository { return s.accounts }
func (s *Store) Identities() store.IdentityRepository { return s.identities }
func (s *Store) Sessions() store.SessionRepository { return s.sessions }
func (s *Store) Profiles() store.ProfileRepository { return s.profiles }
func (s *Store) Close() error { return nil }

// Helper methods for file operations

func (s *Store) filePath(name string) string {
	return filepath.Join(s.dataDir, name+".json")
}

func (s *Store) readFile(name string, v any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.filePath(name))
	if os.IsNotExist(err) {
		return nil // Empty collection
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *Store) writeFile(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.filePath(name), data, 0600)
}

// Account Repository

type accountRepository struct {
	store *Store
	// tx serializes load-modify-save cycles.
	tx sync.Mutex
}

type accountsData struct {
	Accounts []*domain.Account `json:"accounts"`
}

func (r *accountRepository) load() (*accountsData, error) {
	var data accountsData
	if err := r.store.readFile("accounts", &data); err != nil {
		return nil, err
	}
	if data.Accounts == nil {
		data.Accounts = []*domain.Account{}
	}
	return &data, nil
}

func (r *accountRepository) save(data *accountsData) error {
	return r.store.writeFile("accounts", data)
}

func (r *accountRepository) Create(ctx context.Context, account *domain.Account) error {
	r.tx.Lock()
	defer r.tx.Unlock()

	data, err := r.load()
	if err != nil {
		return apperrors.Internal("failed to load accounts", err)
	}

	for _, a := range data.Accounts {
		if a.ID == account.ID {
			return apperrors.AlreadyExists("account", account.ID)
		}
	}

	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now
	data.Accounts = append(data.Accounts, account)

	return r.save(data)
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	data, err := r.load()
	if err != nil {
		return nil, apperrors.Internal("failed to load accounts", err)
	}

	for _, a := range data.Accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, apperrors.NotFound("account", id)
}

func (r *accountRepository) Update(ctx context.Context, account *domain.Account) error {
	r.tx.Lock()
	defer r.tx.Unlock()

	data, err := r.load()
	if err != nil {
		return apperrors.Internal("failed to load accounts", err)
	}

	for i, a := range data.Accounts {
		if a.ID == account.ID {
			account.UpdatedAt = time.Now()
			data.Accounts[i] = account
			return r.save(data)
		}
	}
	return apperrors.NotFound("account", account.ID)
}

func (r *accountRepository) List(ctx context.Context) ([]*domain.Account, error) {
	data, err := r.load()
	if err != nil {
		return nil, apperrors.Internal("failed to load accounts", err)
	}
	return data.Accounts, nil
}

// Identity Repository

type identityRepository struct {
	store *Store
	tx    sync.Mutex
}

type identitiesData struct {
	Identities []*domain.LinkedIdentity `json:"identities"`
}

func (r *identityRepository) load() (*identitiesData, error) {
	var data identitiesData
	if err := r.store.readFile("identities", &data); err != nil {
		return nil, err
	}
	if data.Identities == nil {
		data.Identities = []*domain.LinkedIdentity{}
	}
	return &data, nil
}

func (r *identityRepository) save(data *identitiesData) error {
	return r.store.writeFile("identities", data)
}

func (r *identityRepository) Bind(ctx context.Context, identity *domain.LinkedIdentity) error {
	r.tx.Lock()
	defer r.tx.Unlock()

	data, err := r.load()
	if err != nil {
		return apperrors.Internal("failed to load identities", err)
	}

	for i, li := range data.Identities {
		if li.Provider != identity.Provider || li.Subject != identity.Subject {
			continue
		}
		if li.UserID != identity.UserID {
			return apperrors.Conflict(fmt.Sprintf("%s credential is already linked to another account", identity.Provider))
		}
		// Same owner: refresh profile fields only.
		identity.LinkedAt = li.LinkedAt
		data.Identities[i] = identity
		return r.save(data)
	}

	for _, li := range data.Identities {
		if li.Provider == identity.Provider && li.UserID == identity.UserID {
			return apperrors.Conflict(fmt.Sprintf("account already has a linked %s credential", identity.Provider))
		}
	}

	identity.LinkedAt = time.Now()
	data.Identities = append(data.Identities, identity)

	return r.save(data)
}

func (r *identityRepository) Get(ctx context.Context, provider, subject string) (*domain.LinkedIdentity, error) {
	data, err := r.load()
	if err != nil {
		return nil, apperrors.Internal("failed to load identities", err)
	}

	for _, li := range data.Identities {
		if li.Provider == provider && li.Subject == subject {
			return li, nil
		}
	}
	return nil, apperrors.NotFound("linked identity", provider+"/"+subject)
}

func (r *identityRepository) ListByUserID(ctx context.Context, userID string) ([]*domain.LinkedIdentity, error) {
	data, err := r.load()
	if err != nil {
		return nil, apperrors.Internal("failed to load identities", err)
	}

	var out []*domain.LinkedIdentity
	for _, li := range data.Identities {
		if li.UserID == userID {
			out = append(out, li)
		}
	}
	return out, nil
}

func (r *identityRepository) Unbind(ctx context.Context, provider, subject string) error {
	r.tx.Lock()
	defer r.tx.Unlock()

	data, err := r.load()
	if err != nil {
		return apperrors.Internal("failed to load identities", err)
	}

	for i, li := range data.Identities {
		if li.Provider == provider && li.Subject == subject {
			data.Identities = append(data.Identities[:i], data.Identities[i+1:]...)
			return r.save(data)
		}
	}
	return apperrors.NotFound("linked identity", provider+"/"+subject)
}

// Session Repository

type sessionRepository struct {
	store *Store
	tx    sync.Mutex
}

type sessionsData struct {
	Sessions []*domain.Session `json:"sessions"`
}

func (r *sessionRepository) load() (*sessionsData, error) {
	var data sessionsData
	if err := r.store.readFile("sessions", &data); err != nil {
		return nil, err
	}
	if data.Sessions == nil {
		data.Sessions = []*domain.Session{}
	}
	return &data, nil
}

func (r *sessionRepository) save(data *sessionsData) error {
	return r.store.writeFile("sessions", data)
}

func (r *sessionRepository) Create(ctx context.Context, session *domain.Session) error {
	r.tx.Lock()
	defer r.tx.Unlock()

	data, err := r.load()
	if err != nil {
		return apperrors.Internal("failed to load sessions", err)
	}

	session.CreatedAt = time.Now()
	data.Sessions = append(data.Sessions, session)

	return r.save(data)
}

func (r *sessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	data, err := r.load()
	if err != nil {
		return nil, apperrors.Internal("failed to load sessions", err)
	}

	for _, s := range data.Sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, apperrors.NotFound("session", id)
}

func (r *sessionRepository) Delete(ctx context.Context, id string) error {
	r.tx.Lock()
	defer r.tx.Unlock()

	data, err := r.load()
	if err != nil {
		return apperrors.Internal("failed to load sessions", err)
	}

	for i, s := range data.Sessions {
		if s.ID == id {
			data.Sessions = append(data.Sessions[:i], data.Sessions[i+1:]...)
			return r.save(data)
		}
	}
	return apperrors.NotFound("session", id)
}

func (r *sessionRepository) DeleteByUserID(ctx context.Context, userID string) error {
	r.tx.Lock()
	defer r.tx.Unlock()

	data, err := r.load()
	if err != nil {
		return apperrors.Internal("failed to load sessions", err)
	}

	filtered := make([]*domain.Session, 0, len(data.Sessions))
	for _, s := range data.Sessions {
		if s.UserID != userID {
			filtered = append(filtered, s)
		}
	}
	data.Sessions = filtered

	return r.save(data)
}

func (r *sessionRepository) DeleteExpired(ctx context.Context) error {
	r.tx.Lock()
	defer r.tx.Unlock()

	data, err := r.load()
	if err != nil {
		return apperrors.Internal("failed to load sessions", err)
	}

	now := time.Now()
	filtered := make([]*domain.Session, 0, len(data.Sessions))
	for _, s := range data.Sessions {
		if s.ExpiresAt.After(now) {
			filtered = append(filtered, s)
		}
	}
	data.Sessions = filtered

	return r.save(data)
}

// Profile Repository

type profileRepository struct {
	store *Store
	tx    sync.Mutex
}

type profilesData struct {
	Profiles []*domain.Profile `json:"profiles"`
}

func (r *profileRepository) load() (*profilesData, error) {
	var data profilesData
	if err := r.store.readFile("profiles", &data); err != nil {
		return nil, err
	}
	if data.Profiles == nil {
		data.Profiles = []*domain.Profile{}
	}
	return &data, nil
}

func (r *profileRepository) save(data *profilesData) error {
	return r.store.writeFile("profiles", data)
}

func (r *profileRepository) Upsert(ctx context.Context, profile *domain.Profile) (*domain.Profile, error) {
	r.tx.Lock()
	defer r.tx.Unlock()

	data, err := r.load()
	if err != nil {
		return nil, apperrors.Internal("failed to load profiles", err)
	}

	now := time.Now()
	for _, p := range data.Profiles {
		if p.UserID == profile.UserID {
			p.Kennitala = profile.Kennitala
			p.FullName = profile.FullName
			p.UpdatedAt = now
			return p, r.save(data)
		}
	}

	if profile.Role == "" {
		profile.Role = domain.RoleVoter
	}
	profile.CreatedAt = now
	profile.UpdatedAt = now
	data.Profiles = append(data.Profiles, profile)

	return profile, r.save(data)
}

func (r *profileRepository) GetByUserID(ctx context.Context, userID string) (*domain.Profile, error) {
	data, err := r.load()
	if err != nil {
		return nil, apperrors.Internal("failed to load profiles", err)
	}

	for _, p := range data.Profiles {
		if p.UserID == userID {
			return p, nil
		}
	}
	return nil, apperrors.NotFound("profile", userID)
}

func (r *profileRepository) FindByKennitala(ctx context.Context, kennitala string) (*domain.Profile, error) {
	data, err := r.load()
	if err != nil {
		return nil, apperrors.Internal("failed to load profiles", err)
	}

	for _, p := range data.Profiles {
		if p.Kennitala == kennitala {
			return p, nil
		}
	}
	return nil, apperrors.NotFound("profile with kennitala", kennitala)
}

func (r *profileRepository) Update(ctx context.Context, profile *domain.Profile) error {
	r.tx.Lock()
	defer r.tx.Unlock()

	data, err := r.load()
	if err != nil {
		return apperrors.Internal("failed to load profiles", err)
	}

	for i, p := range data.Profiles {
		if p.UserID == profile.UserID {
			profile.UpdatedAt = time.Now()
			data.Profiles[i] = profile
			return r.save(data)
		}
	}
	return apperrors.NotFound("profile", profile.UserID)
}
