// Package adminauth issues and validates stateless admin tokens and guards
// the admin password behind a lockout policy. Tokens are HMAC-signed and
// carry their own expiry, so validation needs no server-side state.
package adminauth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidToken = errors.New("invalid or expired admin token")

// DefaultTokenTTL matches the length of a working day with margin.
const DefaultTokenTTL = 8 * time.Hour

// TokenIssuer mints and checks admin tokens of the form
// b64url(expiry).b64url(nonce).b64url(hmac-sha256(secret, expiry.nonce)).
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (t *TokenIssuer) sign(expiry, nonce string) []byte {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(expiry + "." + nonce))
	return mac.Sum(nil)
}

// Issue returns a fresh token and its expiry time.
func (t *TokenIssuer) Issue() (string, time.Time, error) {
	nonceRaw := make([]byte, 16)
	if _, err := rand.Read(nonceRaw); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate token nonce: %w", err)
	}

	expiresAt := t.now().Add(t.ttl)
	expiry := strconv.FormatInt(expiresAt.Unix(), 10)
	nonce := base64.RawURLEncoding.EncodeToString(nonceRaw)

	enc := base64.RawURLEncoding.EncodeToString
	token := enc([]byte(expiry)) + "." + enc([]byte(nonce)) + "." + enc(t.sign(expiry, nonce))
	return token, expiresAt, nil
}

// Validate checks signature then expiry. The comparison is constant-time so a
// forged token leaks nothing about the expected MAC.
func (t *TokenIssuer) Validate(token string) error {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return ErrInvalidToken
	}

	dec := base64.RawURLEncoding.DecodeString
	expiryRaw, err := dec(parts[0])
	if err != nil {
		return ErrInvalidToken
	}
	nonceRaw, err := dec(parts[1])
	if err != nil {
		return ErrInvalidToken
	}
	sig, err := dec(parts[2])
	if err != nil {
		return ErrInvalidToken
	}

	expiry := string(expiryRaw)
	if !hmac.Equal(sig, t.sign(expiry, string(nonceRaw))) {
		return ErrInvalidToken
	}

	// A token is valid through its expiry second, invalid strictly after.
	expiresAt, err := strconv.ParseInt(expiry, 10, 64)
	if err != nil || t.now().Unix() > expiresAt {
		return ErrInvalidToken
	}
	return nil
}
