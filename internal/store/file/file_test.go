package file

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/sosi/kosningakerfi/internal/crypto"
	"github.com/sosi/kosningakerfi/internal/domain"
	apperrors "github.com/sosi/kosningakerfi/internal/errors"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func fakeAccount() *domain.Account {
	return &domain.Account{
		ID:          gofakeit.Numerify("##########"),
		DisplayName: gofakeit.Name(),
		Email:       gofakeit.Email(),
	}
}

func TestNewStore(t *testing.T) {
	store := setupTestStore(t)

	if store.Accounts() == nil {
		t.Error("Accounts() should not return nil")
	}
	if store.Identities() == nil {
		t.Error("Identities() should not return nil")
	}
	if store.Sessions() == nil {
		t.Error("Sessions() should not return nil")
	}
	if store.Profiles() == nil {
		t.Error("Profiles() should not return nil")
	}
}

// Account Repository Tests

func TestAccountRepository_CRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	repo := store.Accounts()

	account := fakeAccount()
	if err := repo.Create(ctx, account); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if account.CreatedAt.IsZero() || account.UpdatedAt.IsZero() {
		t.Error("Timestamps should be set")
	}

	found, err := repo.GetByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if found.DisplayName != account.DisplayName {
		t.Errorf("Expected name '%s', got '%s'", account.DisplayName, found.DisplayName)
	}

	found.Claims = map[string]any{domain.ClaimIsAdmin: true}
	if err := repo.Update(ctx, found); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	updated, err := repo.GetByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !updated.IsAdmin() {
		t.Error("isAdmin claim should survive a round trip through the file")
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Expected 1 account, got %d", len(all))
	}
}

func TestAccountRepository_Duplicate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	account := fakeAccount()
	if err := store.Accounts().Create(ctx, account); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	dup := &domain.Account{ID: account.ID}
	err := store.Accounts().Create(ctx, dup)
	if !apperrors.IsCode(err, apperrors.CodeAlreadyExists) {
		t.Errorf("Expected already_exists, got %v", err)
	}
}

func TestAccountRepository_NotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Accounts().GetByID(ctx, "missing")
	if !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Errorf("Expected not_found, got %v", err)
	}

	err = store.Accounts().Update(ctx, &domain.Account{ID: "missing"})
	if !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Errorf("Expected not_found on update, got %v", err)
	}
}

// Identity Repository Tests

func TestIdentityRepository_Bind(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	repo := store.Identities()

	subject := gofakeit.UUID()
	identity := &domain.LinkedIdentity{
		Provider: domain.ProviderGoogle,
		Subject:  subject,
		UserID:   "0101901234",
		Email:    gofakeit.Email(),
	}

	if err := repo.Bind(ctx, identity); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if identity.LinkedAt.IsZero() {
		t.Error("LinkedAt should be set")
	}

	found, err := repo.Get(ctx, domain.ProviderGoogle, subject)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found.UserID != "0101901234" {
		t.Errorf("Expected user '0101901234', got '%s'", found.UserID)
	}

	// Rebinding to the same user refreshes fields
	newEmail := gofakeit.Email()
	if err := repo.Bind(ctx, &domain.LinkedIdentity{
		Provider: domain.ProviderGoogle,
		Subject:  subject,
		UserID:   "0101901234",
		Email:    newEmail,
	}); err != nil {
		t.Fatalf("Rebind to same user failed: %v", err)
	}

	list, err := repo.ListByUserID(ctx, "0101901234")
	if err != nil {
		t.Fatalf("ListByUserID failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("Expected 1 identity, got %d", len(list))
	}
	if list[0].Email != newEmail {
		t.Errorf("Expected refreshed email '%s', got '%s'", newEmail, list[0].Email)
	}
}

func TestIdentityRepository_BindConflict(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	repo := store.Identities()

	subject := gofakeit.UUID()
	if err := repo.Bind(ctx, &domain.LinkedIdentity{Provider: domain.ProviderGoogle, Subject: subject, UserID: "0101901234"}); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	err := repo.Bind(ctx, &domain.LinkedIdentity{Provider: domain.ProviderGoogle, Subject: subject, UserID: "0202901234"})
	if !apperrors.IsCode(err, apperrors.CodeConflict) {
		t.Errorf("Expected conflict, got %v", err)
	}

	found, _ := repo.Get(ctx, domain.ProviderGoogle, subject)
	if found.UserID != "0101901234" {
		t.Error("Conflicting bind must not change the owner")
	}
}

func TestIdentityRepository_BindSecondCredentialForUser(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	repo := store.Identities()

	first := gofakeit.UUID()
	if err := repo.Bind(ctx, &domain.LinkedIdentity{Provider: domain.ProviderGoogle, Subject: first, UserID: "0101901234"}); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	err := repo.Bind(ctx, &domain.LinkedIdentity{Provider: domain.ProviderGoogle, Subject: gofakeit.UUID(), UserID: "0101901234"})
	if !apperrors.IsCode(err, apperrors.CodeConflict) {
		t.Errorf("Expected conflict, got %v", err)
	}

	list, err := repo.ListByUserID(ctx, "0101901234")
	if err != nil {
		t.Fatalf("ListByUserID failed: %v", err)
	}
	if len(list) != 1 || list[0].Subject != first {
		t.Errorf("Expected only the first credential to stay linked, got %d", len(list))
	}

	// Once unbound, the user may link another credential.
	if err := repo.Unbind(ctx, domain.ProviderGoogle, first); err != nil {
		t.Fatalf("Unbind failed: %v", err)
	}
	if err := repo.Bind(ctx, &domain.LinkedIdentity{Provider: domain.ProviderGoogle, Subject: gofakeit.UUID(), UserID: "0101901234"}); err != nil {
		t.Errorf("Bind after unbind failed: %v", err)
	}
}

func TestIdentityRepository_ConcurrentBindOneWinner(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	repo := store.Identities()

	subject := gofakeit.UUID()
	users := []string{"0101901234", "0202901234", "0303901234", "0404901234"}

	var wg sync.WaitGroup
	errs := make([]error, len(users))
	for i, uid := range users {
		wg.Add(1)
		go func(i int, uid string) {
			defer wg.Done()
			errs[i] = repo.Bind(ctx, &domain.LinkedIdentity{Provider: domain.ProviderGoogle, Subject: subject, UserID: uid})
		}(i, uid)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else if !apperrors.IsCode(err, apperrors.CodeConflict) {
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("Expected exactly one successful bind, got %d", winners)
	}
}

func TestIdentityRepository_Unbind(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	repo := store.Identities()

	if err := repo.Bind(ctx, &domain.LinkedIdentity{Provider: domain.ProviderGoogle, Subject: "sub", UserID: "u"}); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if err := repo.Unbind(ctx, domain.ProviderGoogle, "sub"); err != nil {
		t.Fatalf("Unbind failed: %v", err)
	}
	if _, err := repo.Get(ctx, domain.ProviderGoogle, "sub"); !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Errorf("Expected not_found after unbind, got %v", err)
	}
	if err := repo.Unbind(ctx, domain.ProviderGoogle, "sub"); !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Errorf("Expected not_found on second unbind, got %v", err)
	}
}

// Session Repository Tests

func TestSessionRepository_CRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	repo := store.Sessions()

	session := &domain.Session{
		ID:        gofakeit.UUID(),
		UserID:    "0101901234",
		ExpiresAt: time.Now().Add(time.Hour),
		UserAgent: gofakeit.UserAgent(),
		IPAddress: gofakeit.IPv4Address(),
	}

	if err := repo.Create(ctx, session); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	found, err := repo.GetByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if found.UserID != "0101901234" {
		t.Errorf("Expected user '0101901234', got '%s'", found.UserID)
	}

	if err := repo.Delete(ctx, session.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := repo.GetByID(ctx, session.ID); !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Errorf("Expected not_found after delete, got %v", err)
	}
}

func TestSessionRepository_DeleteByUserID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	repo := store.Sessions()

	for _, uid := range []string{"a", "a", "b"} {
		if err := repo.Create(ctx, &domain.Session{ID: gofakeit.UUID(), UserID: uid, ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	if err := repo.DeleteByUserID(ctx, "a"); err != nil {
		t.Fatalf("DeleteByUserID failed: %v", err)
	}

	data, err := store.sessions.load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(data.Sessions) != 1 || data.Sessions[0].UserID != "b" {
		t.Errorf("Expected only user b's session to remain, got %d sessions", len(data.Sessions))
	}
}

func TestSessionRepository_DeleteExpired(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	repo := store.Sessions()

	live := &domain.Session{ID: "live", UserID: "u", ExpiresAt: time.Now().Add(time.Hour)}
	dead := &domain.Session{ID: "dead", UserID: "u", ExpiresAt: time.Now().Add(-time.Hour)}
	repo.Create(ctx, live)
	repo.Create(ctx, dead)

	if err := repo.DeleteExpired(ctx); err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}

	if _, err := repo.GetByID(ctx, "live"); err != nil {
		t.Errorf("Live session should remain: %v", err)
	}
	if _, err := repo.GetByID(ctx, "dead"); err == nil {
		t.Error("Expired session should be removed")
	}
}

// Profile Repository Tests

func TestProfileRepository_Upsert(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	repo := store.Profiles()

	created, err := repo.Upsert(ctx, &domain.Profile{
		UserID:    "0101901234",
		Kennitala: "0101901234",
		FullName:  gofakeit.Name(),
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if created.Role != domain.RoleVoter {
		t.Errorf("New profiles should default to voter, got %s", created.Role)
	}

	created.Role = domain.RoleAdmin
	created.Email = gofakeit.Email()
	if err := repo.Update(ctx, created); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	newName := gofakeit.Name()
	refreshed, err := repo.Upsert(ctx, &domain.Profile{
		UserID:    "0101901234",
		Kennitala: "0101901234",
		FullName:  newName,
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if refreshed.FullName != newName {
		t.Errorf("Expected name to refresh to '%s', got '%s'", newName, refreshed.FullName)
	}
	if refreshed.Role != domain.RoleAdmin {
		t.Error("Upsert must keep an existing role")
	}
	if refreshed.Email != created.Email {
		t.Error("Upsert must keep enrichment fields")
	}
}

func TestProfileRepository_FindByKennitala(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	repo := store.Profiles()

	for i := 0; i < 3; i++ {
		kt := gofakeit.Numerify("##########")
		if _, err := repo.Upsert(ctx, &domain.Profile{UserID: kt, Kennitala: kt, FullName: gofakeit.Name()}); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}
	if _, err := repo.Upsert(ctx, &domain.Profile{UserID: "2009783589", Kennitala: "2009783589", FullName: "Admin"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	found, err := repo.FindByKennitala(ctx, "2009783589")
	if err != nil {
		t.Fatalf("FindByKennitala failed: %v", err)
	}
	if found.FullName != "Admin" {
		t.Errorf("Expected 'Admin', got '%s'", found.FullName)
	}

	if _, err := repo.FindByKennitala(ctx, "0000000000"); !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Errorf("Expected not_found, got %v", err)
	}
}

// Key Store Tests

func TestKeyStore_Empty(t *testing.T) {
	keys, err := NewKeyStore(t.TempDir()).Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("Expected no keys before the first store, got %d", len(keys))
	}
}

func TestKeyStore_RingSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	ring := crypto.NewKeyRing(NewKeyStore(dir))
	old, err := ring.Active(ctx)
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	next, err := ring.Rotate(ctx)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	// A fresh ring over the same directory sees the rotation
	reloaded := crypto.NewKeyRing(NewKeyStore(dir))
	active, err := reloaded.Active(ctx)
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if active.Kid != next.Kid || !active.PublicKey().Equal(next.PublicKey()) {
		t.Errorf("Expected reloaded ring to sign with %s, got %s", next.Kid, active.Kid)
	}

	retired, err := reloaded.Lookup(ctx, old.Kid)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if retired.Signs() || retired.RetiresAt.IsZero() {
		t.Error("Rotated-out key should reload as retiring")
	}
}
