package adminauth

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type memAccountStore struct {
	accounts map[string]*Account
}

func newMemAccountStore() *memAccountStore {
	return &memAccountStore{accounts: make(map[string]*Account)}
}

func (s *memAccountStore) GetAccount(_ context.Context, username string) (*Account, error) {
	account, ok := s.accounts[username]
	if !ok {
		return nil, ErrNoAccount
	}
	cp := *account
	return &cp, nil
}

func (s *memAccountStore) PutAccount(_ context.Context, account *Account) error {
	cp := *account
	s.accounts[account.Username] = &cp
	return nil
}

func newTestAuthenticator(t *testing.T) (*Authenticator, *memAccountStore) {
	t.Helper()
	store := newMemAccountStore()
	// Low cost keeps the lockout tests fast.
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	store.accounts["admin"] = &Account{Username: "admin", PasswordHash: string(hash)}

	auth := NewAuthenticator(store, NewTokenIssuer("secret", time.Hour), slog.New(slog.DiscardHandler))
	return auth, store
}

func TestLoginSuccess(t *testing.T) {
	auth, _ := newTestAuthenticator(t)

	token, _, err := auth.Login(context.Background(), "admin", "correct-horse")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if err := auth.ValidateToken(token); err != nil {
		t.Errorf("issued token invalid: %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	auth, _ := newTestAuthenticator(t)

	if _, _, err := auth.Login(context.Background(), "admin", "nope"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("wrong password = %v, want ErrBadCredentials", err)
	}
	if _, _, err := auth.Login(context.Background(), "nobody", "x"); !errors.Is(err, ErrNoAccount) {
		t.Errorf("unknown account = %v, want ErrNoAccount", err)
	}
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	auth, _ := newTestAuthenticator(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, _, err := auth.Login(ctx, "admin", "nope"); !errors.Is(err, ErrBadCredentials) {
			t.Fatalf("attempt %d = %v, want ErrBadCredentials", i+1, err)
		}
	}

	// The sixth attempt fails on the lock even with the right password.
	var locked *AccountLockedError
	if _, _, err := auth.Login(ctx, "admin", "correct-horse"); !errors.As(err, &locked) {
		t.Fatalf("locked login = %v, want AccountLockedError", err)
	}
	if locked.RetryAfter <= 0 || locked.RetryAfter > time.Hour {
		t.Errorf("RetryAfter = %v, want within the lock hour", locked.RetryAfter)
	}
}

func TestLockExpires(t *testing.T) {
	auth, _ := newTestAuthenticator(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		auth.Login(ctx, "admin", "nope")
	}
	auth.now = func() time.Time { return time.Now().Add(61 * time.Minute) }

	if _, _, err := auth.Login(ctx, "admin", "correct-horse"); err != nil {
		t.Errorf("login after lock expiry = %v, want nil", err)
	}
}

func TestFailureWindowResets(t *testing.T) {
	auth, _ := newTestAuthenticator(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		auth.Login(ctx, "admin", "nope")
	}

	// The fifth failure lands outside the window, so no lock.
	auth.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	auth.Login(ctx, "admin", "nope")
	if _, _, err := auth.Login(ctx, "admin", "correct-horse"); err != nil {
		t.Errorf("login after window reset = %v, want nil", err)
	}
}

func TestSuccessResetsFailures(t *testing.T) {
	auth, store := newTestAuthenticator(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		auth.Login(ctx, "admin", "nope")
	}
	if _, _, err := auth.Login(ctx, "admin", "correct-horse"); err != nil {
		t.Fatal(err)
	}
	if got := store.accounts["admin"].FailedAttempts; got != 0 {
		t.Errorf("FailedAttempts after success = %d, want 0", got)
	}
}

func TestSeedPreservesLockState(t *testing.T) {
	auth, store := newTestAuthenticator(t)
	ctx := context.Background()

	lockedUntil := time.Now().Add(30 * time.Minute)
	store.accounts["admin"].LockedUntil = lockedUntil

	if err := auth.Seed(ctx, "admin", "new-password"); err != nil {
		t.Fatal(err)
	}
	if !store.accounts["admin"].LockedUntil.Equal(lockedUntil) {
		t.Error("Seed dropped the lock state")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(store.accounts["admin"].PasswordHash), []byte("new-password")); err != nil {
		t.Error("Seed did not update the password hash")
	}
}
