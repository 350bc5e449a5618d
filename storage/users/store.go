// Package users provides in-memory storage for admin console accounts
// with Argon2id password hashing. This can be upgraded to PostgreSQL
// persistence as needed.
package users

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plm/aggpay/auth"
)

// Common errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailExists        = errors.New("email already exists")
	ErrUsernameExists     = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// StoredUser represents an admin user with a hashed password.
type StoredUser struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         auth.Role `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ToUser converts StoredUser to auth.User (without the password hash).
func (su *StoredUser) ToUser() *auth.User {
	return &auth.User{
		ID:       su.ID,
		Email:    su.Email,
		Username: su.Username,
		Role:     su.Role,
		IsActive: su.IsActive,
	}
}

// UserWithToUser is an interface for types that can convert to auth.User.
type UserWithToUser interface {
	ToUser() *auth.User
}

// Store provides admin user storage operations.
type Store struct {
	mu      sync.RWMutex
	users   map[string]*StoredUser // by ID
	byEmail map[string]string      // email -> ID
	byName  map[string]string      // username -> ID
}

// generateSecurePassword creates a cryptographically secure random password.
func generateSecurePassword(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		log.Fatal("CRITICAL: failed to generate secure random password")
	}
	return base64.URLEncoding.EncodeToString(bytes)[:length]
}

// getPasswordFromEnv retrieves a password from the environment, or
// generates and logs a secure random one if unset.
func getPasswordFromEnv(envVar, userType string) string {
	if password := os.Getenv(envVar); password != "" {
		return password
	}
	generated := generateSecurePassword(32)
	log.Printf("WARNING: %s not set. Generated secure password for %s: %s", envVar, userType, generated)
	log.Printf("IMPORTANT: set %s in production!", envVar)
	return generated
}

// NewStore creates a new user store seeded with a default super-admin
// and a default operator account.
func NewStore() *Store {
	store := &Store{
		users:   make(map[string]*StoredUser),
		byEmail: make(map[string]string),
		byName:  make(map[string]string),
	}

	superAdminPassword := getPasswordFromEnv("ADMIN_PASSWORD", "admin@aggpay.local")
	operatorPassword := getPasswordFromEnv("OPERATOR_PASSWORD", "operator@aggpay.local")

	superAdminHash, _ := auth.HashPassword(superAdminPassword)
	now := time.Now()
	superAdmin := &StoredUser{
		ID:           "admin-default-001",
		Email:        "admin@aggpay.local",
		Username:     "admin",
		PasswordHash: superAdminHash,
		Role:         auth.RoleSuperAdmin,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	store.users[superAdmin.ID] = superAdmin
	store.byEmail[superAdmin.Email] = superAdmin.ID
	store.byName[superAdmin.Username] = superAdmin.ID

	operatorHash, _ := auth.HashPassword(operatorPassword)
	operator := &StoredUser{
		ID:           "operator-default-001",
		Email:        "operator@aggpay.local",
		Username:     "operator",
		PasswordHash: operatorHash,
		Role:         auth.RoleOperator,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	store.users[operator.ID] = operator
	store.byEmail[operator.Email] = operator.ID
	store.byName[operator.Username] = operator.ID

	return store
}

// CreateUser creates a new admin user with a hashed password.
func (s *Store) CreateUser(email, password, username string, role auth.Role) (UserWithToUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[email]; exists {
		return nil, ErrEmailExists
	}
	if _, exists := s.byName[username]; exists {
		return nil, ErrUsernameExists
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &StoredUser{
		ID:           uuid.New().String(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.users[user.ID] = user
	s.byEmail[user.Email] = user.ID
	s.byName[user.Username] = user.ID

	return user, nil
}

// GetByEmail retrieves a user by email.
func (s *Store) GetByEmail(email string) (UserWithToUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byEmail[email]
	if !exists {
		return nil, ErrUserNotFound
	}
	return s.users[id], nil
}

// GetByID retrieves a user by ID.
func (s *Store) GetByID(id string) (*StoredUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[id]
	if !exists {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// Authenticate verifies credentials and returns the user.
func (s *Store) Authenticate(email, password string) (UserWithToUser, error) {
	s.mu.RLock()
	id, exists := s.byEmail[email]
	if !exists {
		s.mu.RUnlock()
		return nil, ErrInvalidCredentials
	}
	user := s.users[id]
	s.mu.RUnlock()

	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := auth.VerifyPassword(password, user.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// ListUsers returns every admin user (for the admin console's own user list).
func (s *Store) ListUsers() []*auth.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*auth.User, 0, len(s.users))
	for _, u := range s.users {
		result = append(result, u.ToUser())
	}
	return result
}
