package adminauth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)

	token, expiresAt, err := issuer.Issue()
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if until := time.Until(expiresAt); until < 59*time.Minute || until > time.Hour {
		t.Errorf("expiry %v not about an hour out", expiresAt)
	}
	if err := issuer.Validate(token); err != nil {
		t.Errorf("fresh token rejected: %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	base := time.Now()
	issuer.now = func() time.Time { return base }

	token, expiresAt, err := issuer.Issue()
	if err != nil {
		t.Fatal(err)
	}

	// Valid at exactly the expiry instant, invalid one second past it.
	issuer.now = func() time.Time { return expiresAt }
	if err := issuer.Validate(token); err != nil {
		t.Errorf("token at expiry boundary = %v, want nil", err)
	}
	issuer.now = func() time.Time { return expiresAt.Add(time.Second) }
	if err := issuer.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("token past expiry = %v, want ErrInvalidToken", err)
	}
}

func TestTokenTampering(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	token, _, err := issuer.Issue()
	if err != nil {
		t.Fatal(err)
	}

	parts := strings.Split(token, ".")
	cases := map[string]string{
		"flipped signature": parts[0] + "." + parts[1] + "." + flip(parts[2]),
		"flipped expiry":    flip(parts[0]) + "." + parts[1] + "." + parts[2],
		"missing segment":   parts[0] + "." + parts[1],
		"empty":             "",
		"not base64":        "%%%.%%%.%%%",
	}
	for name, bad := range cases {
		if err := issuer.Validate(bad); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s accepted: %v", name, err)
		}
	}
}

func TestTokenWrongSecret(t *testing.T) {
	token, _, err := NewTokenIssuer("secret-a", time.Hour).Issue()
	if err != nil {
		t.Fatal(err)
	}
	if err := NewTokenIssuer("secret-b", time.Hour).Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("cross-secret token accepted: %v", err)
	}
}

func flip(s string) string {
	b := []byte(s)
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	return string(b)
}
