package adminauth

import (
	"net/http"
	"testing"
	"time"
)

func newAuth(t *testing.T, ttl time.Duration) *Authenticator {
	t.Helper()
	hash, err := HashPassword("open-sesame")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	a, err := New(Options{PasswordHash: hash, Secret: "test-secret", TTL: ttl})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestLoginAndValidate(t *testing.T) {
	a := newAuth(t, time.Hour)

	token, err := a.Login("open-sesame")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := a.Validate(token); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if _, err := a.Login("wrong"); err == nil {
		t.Fatalf("expected error for wrong password")
	}
	if err := a.Validate("not-a-token"); err == nil {
		t.Fatalf("expected error for garbage token")
	}
	if err := a.Validate(""); err == nil {
		t.Fatalf("expected error for empty token")
	}
}

func TestValidateRejectsForeignSecret(t *testing.T) {
	a := newAuth(t, time.Hour)
	hash, _ := HashPassword("open-sesame")
	other, err := New(Options{PasswordHash: hash, Secret: "other-secret"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	token, err := other.Login("open-sesame")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := a.Validate(token); err == nil {
		t.Fatalf("expected signature mismatch")
	}
}

func TestNewRequiresHashAndSecret(t *testing.T) {
	if _, err := New(Options{Secret: "s"}); err == nil {
		t.Fatalf("expected error without password hash")
	}
	if _, err := New(Options{PasswordHash: "h"}); err == nil {
		t.Fatalf("expected error without secret")
	}
}

func TestBearerToken(t *testing.T) {
	r, _ := http.NewRequest(http.MethodGet, "/", nil)
	if _, ok := BearerToken(r); ok {
		t.Fatalf("expected no token")
	}
	r.Header.Set("Authorization", "Bearer abc123")
	token, ok := BearerToken(r)
	if !ok || token != "abc123" {
		t.Fatalf("token = %q ok = %v", token, ok)
	}
	r.Header.Set("Authorization", "Basic abc123")
	if _, ok := BearerToken(r); ok {
		t.Fatalf("expected rejection of non-bearer scheme")
	}
}
