package auth

import (
	"testing"
	"time"
)

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword("correct horse battery staple", hash); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword("wrong password", hash); err != ErrMismatchedPassword {
		t.Fatalf("expected ErrMismatchedPassword, got %v", err)
	}
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	if err := VerifyPassword("anything", "not-a-hash"); err != ErrInvalidHash {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}

func TestHasPermission(t *testing.T) {
	admin := &User{Role: RoleSuperAdmin}
	if !admin.HasPermission(RoleOperator) {
		t.Fatal("super admin should satisfy any role requirement")
	}

	operator := &User{Role: RoleOperator}
	if operator.HasPermission(RoleSuperAdmin) {
		t.Fatal("operator should not satisfy super admin requirement")
	}
	if !operator.HasPermission(RoleOperator) {
		t.Fatal("operator should satisfy its own role requirement")
	}
}

func TestTokenGenerateAndVerify(t *testing.T) {
	tm, err := NewTokenManager(&TokenConfig{
		SymmetricKey: "01234567890123456789012345678901",
		Issuer:       "aggpay-admin-test",
		TokenTTL:     time.Hour,
	})
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}

	user := &User{ID: "u1", Email: "ops@example.com", Username: "ops", Role: RoleOperator}
	token, claims, err := tm.GenerateToken(user)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if claims.UserID != "u1" {
		t.Fatalf("expected UserID u1, got %s", claims.UserID)
	}

	verified, err := tm.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if verified.Email != "ops@example.com" || verified.Role != RoleOperator {
		t.Fatalf("unexpected verified claims: %+v", verified)
	}
}

func TestTokenRejectsExpired(t *testing.T) {
	tm, err := NewTokenManager(&TokenConfig{
		SymmetricKey: "01234567890123456789012345678901",
		Issuer:       "aggpay-admin-test",
		TokenTTL:     -time.Minute,
	})
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}

	token, _, err := tm.GenerateToken(&User{ID: "u1", Role: RoleOperator})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	if _, err := tm.VerifyToken(token); err != ErrExpiredToken {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestNewTokenManagerRejectsShortKey(t *testing.T) {
	if _, err := NewTokenManager(&TokenConfig{SymmetricKey: "too-short"}); err == nil {
		t.Fatal("expected error for non-32-byte key")
	}
}
