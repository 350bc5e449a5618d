// Package auth provides the platform admin authentication surface:
// Argon2id password hashing and PASETO v2.local session tokens. Issuing
// sessions (login, MFA, password reset) is out of scope; this package is
// the ambient verification surface a handler middleware calls into.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (OWASP recommended)
const (
	Argon2Memory      = 64 * 1024 // 64MB
	Argon2Iterations  = 3
	Argon2Parallelism = 4
	Argon2SaltLength  = 16
	Argon2KeyLength   = 32
)

// ErrInvalidHash is returned when the hash format is invalid.
var ErrInvalidHash = errors.New("invalid password hash format")

// ErrMismatchedPassword is returned when password doesn't match.
var ErrMismatchedPassword = errors.New("password does not match")

// HashPassword creates an Argon2id hash of the password.
func HashPassword(password string) (string, error) {
	salt := make([]byte, Argon2SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey(
		[]byte(password),
		salt,
		Argon2Iterations,
		Argon2Memory,
		Argon2Parallelism,
		Argon2KeyLength,
	)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	encoded := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		Argon2Memory,
		Argon2Iterations,
		Argon2Parallelism,
		b64Salt,
		b64Hash,
	)

	return encoded, nil
}

// VerifyPassword checks if a password matches the hash.
func VerifyPassword(password, encodedHash string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return ErrInvalidHash
	}

	if parts[1] != "argon2id" {
		return ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return ErrInvalidHash
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return ErrInvalidHash
	}

	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return ErrInvalidHash
	}

	computedHash := argon2.IDKey(
		[]byte(password),
		salt,
		iterations,
		memory,
		parallelism,
		uint32(len(expectedHash)),
	)

	if subtle.ConstantTimeCompare(expectedHash, computedHash) != 1 {
		return ErrMismatchedPassword
	}

	return nil
}

// Role is a platform admin role. Merchant-facing accounts authenticate by
// merchant number + signature (see the signer package), not through this
// package, so Role only covers the admin console's own RBAC.
type Role string

const (
	// RoleSuperAdmin can perform every admin operation, including
	// admin-channel (XChaCha20-Poly1305) order/refund/withdrawal actions.
	RoleSuperAdmin Role = "SUPER_ADMIN"
	// RoleOperator can review orders, refunds and withdrawals and action
	// withdrawal approvals, but not mutate merchant/channel configuration.
	RoleOperator Role = "OPERATOR"
)

// User represents an authenticated admin user.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	IsActive bool   `json:"is_active"`
}

// HasPermission checks if user has required role.
func (u *User) HasPermission(required Role) bool {
	if u.Role == RoleSuperAdmin {
		return true
	}
	return u.Role == required
}

// IsSuperAdmin returns true if user is a super admin.
func (u *User) IsSuperAdmin() bool {
	return u.Role == RoleSuperAdmin
}
