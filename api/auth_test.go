package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func signedHS256(t *testing.T, secret []byte, sub string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestUserIDFromAuthHeaderTestMode(t *testing.T) {
	secret := []byte("test-secret")
	auth := &Auth{TestMode: true, TestSecret: secret}

	signed := signedHS256(t, secret, "session-123")
	sub, err := auth.UserIDFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub != "session-123" {
		t.Fatalf("unexpected subject: %s", sub)
	}
}

func TestUserIDFromAuthHeaderMissing(t *testing.T) {
	auth := &Auth{TestMode: true, TestSecret: []byte("s")}
	if _, err := auth.UserIDFromAuthHeader(""); err == nil || err.Error() != "missing authorization header" {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestUserIDFromAuthHeaderMalformed(t *testing.T) {
	auth := &Auth{TestMode: true, TestSecret: []byte("s")}
	if _, err := auth.UserIDFromAuthHeader("Bearer not-a-jwt"); err == nil {
		t.Fatal("expected error for malformed token")
	}
	if _, err := auth.UserIDFromAuthHeader("Bearer " + strings.Repeat(".", 100)); err == nil {
		t.Fatal("expected error for degenerate token")
	}
}

func TestUserIDFromAuthHeaderWrongSecret(t *testing.T) {
	auth := &Auth{TestMode: true, TestSecret: []byte("right")}
	signed := signedHS256(t, []byte("wrong"), "session-123")
	if _, err := auth.UserIDFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatal("expected signature verification failure")
	}
}

func TestUserIDFromAuthHeaderMissingSub(t *testing.T) {
	secret := []byte("test-secret")
	auth := &Auth{TestMode: true, TestSecret: secret}

	claims := jwt.MapClaims{"exp": time.Now().Add(time.Minute).Unix()}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if _, err := auth.UserIDFromAuthHeader("Bearer " + signed); err == nil || err.Error() != "missing sub" {
		t.Fatalf("expected missing sub error, got %v", err)
	}
}
