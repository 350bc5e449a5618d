package users

import (
	"testing"

	"github.com/plm/aggpay/auth"
)

func newTestStore(t *testing.T) *Store {
	t.Setenv("ADMIN_PASSWORD", "super-secret-admin")
	t.Setenv("OPERATOR_PASSWORD", "super-secret-operator")
	return NewStore()
}

func TestNewStoreSeedsDefaultAccounts(t *testing.T) {
	store := newTestStore(t)

	admin, err := store.Authenticate("admin@aggpay.local", "super-secret-admin")
	if err != nil {
		t.Fatalf("authenticate default super admin: %v", err)
	}
	if admin.ToUser().Role != auth.RoleSuperAdmin {
		t.Fatalf("expected super admin role, got %s", admin.ToUser().Role)
	}

	operator, err := store.Authenticate("operator@aggpay.local", "super-secret-operator")
	if err != nil {
		t.Fatalf("authenticate default operator: %v", err)
	}
	if operator.ToUser().Role != auth.RoleOperator {
		t.Fatalf("expected operator role, got %s", operator.ToUser().Role)
	}
}

func TestAuthenticateRejectsWrongPassword(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Authenticate("admin@aggpay.local", "wrong"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.CreateUser("admin@aggpay.local", "whatever", "someoneelse", auth.RoleOperator); err != ErrEmailExists {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	store := newTestStore(t)

	created, err := store.CreateUser("new-operator@aggpay.local", "hunter2hunter2", "new-operator", auth.RoleOperator)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if created.ToUser().Email != "new-operator@aggpay.local" {
		t.Fatalf("unexpected email on created user: %s", created.ToUser().Email)
	}

	if _, err := store.Authenticate("new-operator@aggpay.local", "hunter2hunter2"); err != nil {
		t.Fatalf("authenticate created user: %v", err)
	}
}

func TestListUsersIncludesSeededAccounts(t *testing.T) {
	store := newTestStore(t)

	users := store.ListUsers()
	if len(users) != 2 {
		t.Fatalf("expected 2 seeded users, got %d", len(users))
	}
}
