package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"evcharge/internal/domain"
)

func TestJWTService_IssueParse(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)
	account := domain.Account{ID: "a1", Email: "user@example.com", Role: domain.RoleUser}

	token, expiresAt, err := svc.Issue(account, "s1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if token == "" || time.Until(expiresAt) <= 0 {
		t.Fatalf("expected token with future expiry")
	}

	claims, err := svc.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.AccountID != "a1" || claims.Role != domain.RoleUser || claims.SessionID != "s1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestJWTService_Expired(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := svc.Issue(domain.Account{ID: "a1", Role: domain.RoleUser}, "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	svc.now = time.Now
	if _, err := svc.Parse(token); !errors.Is(err, ErrJWTExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestJWTService_RejectsForeignTokens(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)
	other := NewJWTService("other-secret", time.Hour)
	token, _, _ := other.Issue(domain.Account{ID: "a1", Role: domain.RoleUser}, "")
	if _, err := svc.Parse(token); !errors.Is(err, ErrJWTInvalid) {
		t.Fatalf("expected invalid signature, got %v", err)
	}

	if _, err := svc.Parse("not-a-jwt"); !errors.Is(err, ErrJWTInvalid) {
		t.Fatalf("expected invalid, got %v", err)
	}

	// Algoritmo distinto de HS256.
	claims := Claims{
		AccountID: "a1",
		Role:      domain.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "evcharge",
			Subject:   "a1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := svc.Parse(none); !errors.Is(err, ErrJWTInvalid) {
		t.Fatalf("expected alg none to be rejected, got %v", err)
	}
}

func TestJWTService_RejectsUnknownRole(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)
	token, _, err := svc.Issue(domain.Account{ID: "a1", Role: domain.Role("root")}, "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.Parse(token); !errors.Is(err, ErrJWTInvalid) {
		t.Fatalf("expected invalid role to be rejected, got %v", err)
	}
}
