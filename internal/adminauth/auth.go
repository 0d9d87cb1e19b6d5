package adminauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrBadCredentials = errors.New("invalid admin credentials")
	ErrNoAccount      = errors.New("admin account not found")
)

const (
	// BcryptCost is deliberately above the library default.
	BcryptCost = 12

	maxFailures   = 5
	failureWindow = time.Hour
	lockDuration  = time.Hour
)

// AccountLockedError reports a lockout with the remaining wait, so handlers
// can surface a retry hint without leaking whether the password was right.
type AccountLockedError struct {
	RetryAfter time.Duration
}

func (e *AccountLockedError) Error() string {
	minutes := int(e.RetryAfter.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("account locked, retry in %d minutes", minutes)
}

// Account is the persisted lockout state for an admin identity.
type Account struct {
	Username       string
	PasswordHash   string
	FailedAttempts int
	FirstFailureAt time.Time
	LockedUntil    time.Time
}

// AccountStore persists admin accounts. Implemented by the session repo on
// top of postgres.
type AccountStore interface {
	GetAccount(ctx context.Context, username string) (*Account, error)
	PutAccount(ctx context.Context, account *Account) error
}

// Authenticator checks the admin password under the lockout policy and mints
// tokens on success.
type Authenticator struct {
	store  AccountStore
	tokens *TokenIssuer
	logger *slog.Logger
	now    func() time.Time
}

func NewAuthenticator(store AccountStore, tokens *TokenIssuer, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		store:  store,
		tokens: tokens,
		logger: logger,
		now:    time.Now,
	}
}

// Seed upserts the admin account with the configured password. Lockout state
// of an existing account is preserved across restarts.
func (a *Authenticator) Seed(ctx context.Context, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	account, err := a.store.GetAccount(ctx, username)
	if err != nil {
		account = &Account{Username: username}
	}
	account.PasswordHash = string(hash)
	if err := a.store.PutAccount(ctx, account); err != nil {
		return fmt.Errorf("failed to seed admin account: %w", err)
	}
	return nil
}

// Login validates the password and returns a token. The lock is checked
// before the password so a locked account rejects even the correct password.
func (a *Authenticator) Login(ctx context.Context, username, password string) (string, time.Time, error) {
	account, err := a.store.GetAccount(ctx, username)
	if err != nil {
		return "", time.Time{}, ErrNoAccount
	}

	now := a.now()
	if account.LockedUntil.After(now) {
		return "", time.Time{}, &AccountLockedError{RetryAfter: account.LockedUntil.Sub(now)}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		a.recordFailure(ctx, account, now)
		return "", time.Time{}, ErrBadCredentials
	}

	if account.FailedAttempts > 0 || !account.LockedUntil.IsZero() {
		account.FailedAttempts = 0
		account.FirstFailureAt = time.Time{}
		account.LockedUntil = time.Time{}
		if err := a.store.PutAccount(ctx, account); err != nil {
			a.logger.Warn("failed to reset admin failure state", "error", err)
		}
	}

	token, expiresAt, err := a.tokens.Issue()
	if err != nil {
		return "", time.Time{}, err
	}
	a.logger.Info("admin login succeeded", "username", username)
	return token, expiresAt, nil
}

func (a *Authenticator) recordFailure(ctx context.Context, account *Account, now time.Time) {
	if account.FirstFailureAt.IsZero() || now.Sub(account.FirstFailureAt) > failureWindow {
		account.FailedAttempts = 0
		account.FirstFailureAt = now
	}
	account.FailedAttempts++
	if account.FailedAttempts >= maxFailures {
		account.LockedUntil = now.Add(lockDuration)
		account.FailedAttempts = 0
		account.FirstFailureAt = time.Time{}
		a.logger.Warn("admin account locked after repeated failures", "username", account.Username)
	}
	if err := a.store.PutAccount(ctx, account); err != nil {
		a.logger.Warn("failed to persist admin failure state", "error", err)
	}
}

// ValidateToken delegates to the token issuer.
func (a *Authenticator) ValidateToken(token string) error {
	return a.tokens.Validate(token)
}
