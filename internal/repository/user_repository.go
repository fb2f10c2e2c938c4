package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/propside/be-pm-projects/internal/apperr"
	"github.com/propside/be-pm-projects/internal/database"
)

// UserRepository is the user directory consumed by the approval workflow.
// Users are soft-deleted (archived) so historical approver references stay
// resolvable.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `
	id, email, name, role, approval_level, permissions, is_archived,
	password_hash, created_at, updated_at`

// GetByID retrieves a user, archived or not.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	u, err := r.scanOne(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("user", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodePersistence, "failed to get user")
	}
	return u, nil
}

// GetByEmail retrieves an active user for login.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	u, err := r.scanOne(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1 AND NOT is_archived`, email))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("user", email)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodePersistence, "failed to get user")
	}
	return u, nil
}

// List returns all non-archived users.
func (r *UserRepository) List(ctx context.Context) ([]*User, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE NOT is_archived ORDER BY name`)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodePersistence, "failed to list users")
	}
	defer rows.Close()

	users := make([]*User, 0)
	for rows.Next() {
		u, err := r.scanOne(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodePersistence, "failed to scan user")
		}
		users = append(users, u)
	}
	return users, nil
}

type userScanner interface {
	Scan(dest ...any) error
}

func (r *UserRepository) scanOne(row userScanner) (*User, error) {
	u := &User{}
	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.Role, &u.ApprovalLevel,
		&u.Permissions, &u.IsArchived, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}
