package service

import (
	"context"

	"github.com/propside/be-pm-projects/internal/apperr"
	"github.com/propside/be-pm-projects/internal/auth"
	"github.com/propside/be-pm-projects/internal/repository"
)

// UserAccounts extends the user directory with login lookup.
type UserAccounts interface {
	UserDirectory
	GetByEmail(ctx context.Context, email string) (*repository.User, error)
	List(ctx context.Context) ([]*repository.User, error)
}

// UserService handles authentication against the user directory.
type UserService struct {
	users UserAccounts
	auth  *auth.Manager
}

// NewUserService creates a new user service.
func NewUserService(users UserAccounts, am *auth.Manager) *UserService {
	return &UserService{users: users, auth: am}
}

// Login verifies credentials and returns a signed bearer token plus the user.
// A wrong email and a wrong password are indistinguishable to the caller.
func (s *UserService) Login(ctx context.Context, email, password string) (string, *repository.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", nil, apperr.New(apperr.CodeUnauthorized, "invalid credentials")
	}
	if err := s.auth.ComparePassword(user.PasswordHash, password); err != nil {
		return "", nil, apperr.New(apperr.CodeUnauthorized, "invalid credentials")
	}

	token, err := s.auth.GenerateToken(user.ID)
	if err != nil {
		return "", nil, apperr.Wrap(err, apperr.CodeInternal, "failed to sign token")
	}
	return token, user, nil
}

// GetUser resolves a user by ID.
func (s *UserService) GetUser(ctx context.Context, id string) (*repository.User, error) {
	return s.users.GetByID(ctx, id)
}

// ListUsers returns all active users.
func (s *UserService) ListUsers(ctx context.Context) ([]*repository.User, error) {
	return s.users.List(ctx)
}
