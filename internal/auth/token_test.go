package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	claims := NewClaims("user-1", "Avery", "avery@example.com", "", time.Hour)
	issued, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	parsed, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if parsed.Subject != "user-1" || parsed.Email != "avery@example.com" || parsed.Role != "user" {
		t.Fatalf("unexpected claims: %+v", parsed)
	}
	if parsed.ID == "" || parsed.ID != claims.ID {
		t.Fatalf("expected jti to round-trip, got %q", parsed.ID)
	}
	if !parsed.Expiry().Equal(claims.Expiry()) {
		t.Fatalf("expected expiry to round-trip, got %v", parsed.Expiry())
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims("user-1", "Avery", "", "admin", -time.Minute))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsTamperedPayload(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims("user-1", "Avery", "", "user", time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	forged, err := IssueToken([]byte("other"), NewClaims("user-1", "Avery", "", "admin", time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	unsigned := forged[:strings.LastIndex(forged, ".")]
	signature := issued[strings.LastIndex(issued, ".")+1:]

	for _, token := range []string{unsigned + "." + signature, "garbage", issued + ".extra"} {
		if _, err := ParseToken(secret, token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken for %q, got %v", token, err)
		}
	}
}

func TestParseTokenRejectsOtherAlgorithms(t *testing.T) {
	claims := NewClaims("user-1", "Avery", "", "user", time.Hour)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	if _, err := ParseToken([]byte("secret"), unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestNewOpaqueTokenIsRandomAndHashStable(t *testing.T) {
	a, err := NewOpaqueToken()
	if err != nil {
		t.Fatalf("NewOpaqueToken() error = %v", err)
	}
	b, _ := NewOpaqueToken()
	if a == b || len(a) != 64 {
		t.Fatalf("unexpected tokens %q %q", a, b)
	}
	if HashToken(a) != HashToken(a) || HashToken(a) == HashToken(b) {
		t.Fatal("expected deterministic distinct hashes")
	}
}
