package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims("user-1", "Avery", "editor", time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Sub != "user-1" || claims.Name != "Avery" || claims.Role != "editor" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestNewClaimsDefaultsName(t *testing.T) {
	claims := NewClaims("ci-bot", "", "viewer", time.Minute)
	if claims.Name != "ci-bot" {
		t.Fatalf("expected name to default to subject, got %q", claims.Name)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims("user-1", "Avery", "editor", -time.Minute))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims("user-1", "Avery", "viewer", time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	cases := map[string]string{
		"wrong secret": issued,
		"no signature": strings.Split(issued, ".")[0],
		"extra part":   issued + ".x",
		"garbage":      "not-a-token",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			key := secret
			if name == "wrong secret" {
				key = []byte("other")
			}
			if _, err := ParseToken(key, token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	if _, err := IssueToken(nil, NewClaims("user-1", "", "viewer", time.Hour)); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
