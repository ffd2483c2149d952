package authorization

import (
	"context"
	"errors"
	"fmt"
	"testing"

	jwt "github.com/appleboy/gin-jwt/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestAuthService(t *testing.T) *AuthService {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return &AuthService{users: &UserStore{db: db}}
}

func TestRegisterAndAuthenticate(t *testing.T) {
	service := newTestAuthService(t)
	ctx := context.Background()

	user, err := service.Register(ctx, "Alice@Example.com", "secret1", "Alice", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("Email = %q, want lowercased", user.Email)
	}
	if user.Role != RoleUser {
		t.Fatalf("Role = %q, want %q", user.Role, RoleUser)
	}

	auth, err := service.Authenticate(ctx, "alice@example.com", "secret1")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if auth.ID != user.ID || auth.Role != RoleUser {
		t.Fatalf("AuthenticatedUser = %+v", auth)
	}

	if _, err := service.Authenticate(ctx, "alice@example.com", "wrong"); !errors.Is(err, jwt.ErrFailedAuthentication) {
		t.Fatalf("Authenticate with bad password = %v", err)
	}
	if _, err := service.Authenticate(ctx, "nobody@example.com", "secret1"); !errors.Is(err, jwt.ErrFailedAuthentication) {
		t.Fatalf("Authenticate unknown user = %v", err)
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	service := newTestAuthService(t)
	ctx := context.Background()

	if _, err := service.Register(ctx, "not-an-email", "secret1", "", nil); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("Register bad email = %v", err)
	}
	if _, err := service.Register(ctx, "a@b.com", "short", "", nil); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("Register weak password = %v", err)
	}
	if _, err := service.Register(ctx, "", "secret1", "", nil); err == nil {
		t.Fatal("Register with empty email must fail")
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	service := newTestAuthService(t)
	ctx := context.Background()

	if _, err := service.Register(ctx, "dup@example.com", "secret1", "", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := service.Register(ctx, "dup@example.com", "secret2", "", nil); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("duplicate Register = %v, want ErrEmailTaken", err)
	}
}

func TestRegisterDerivesDisplayName(t *testing.T) {
	service := newTestAuthService(t)

	user, err := service.Register(context.Background(), "carol@example.com", "secret1", "  ", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.DisplayName != "carol" {
		t.Fatalf("DisplayName = %q, want local part of email", user.DisplayName)
	}
}
