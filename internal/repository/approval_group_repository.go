package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/propside/be-pm-projects/internal/apperr"
	"github.com/propside/be-pm-projects/internal/database"
)

// ApprovalGroupRepository handles approval group CRUD. Level uniqueness is
// backed by a unique index; violations surface as validation errors.
type ApprovalGroupRepository struct {
	db *database.DB
}

// NewApprovalGroupRepository creates a new approval group repository.
func NewApprovalGroupRepository(db *database.DB) *ApprovalGroupRepository {
	return &ApprovalGroupRepository{db: db}
}

// Create inserts a group.
func (r *ApprovalGroupRepository) Create(ctx context.Context, g *ApprovalGroup) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	query := `
		INSERT INTO approval_groups (id, name, level, user_ids)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, g.ID, g.Name, g.Level, g.UserIDs).
		Scan(&g.CreatedAt, &g.UpdatedAt)
	if isUniqueViolation(err) {
		return apperr.Newf(apperr.CodeValidation, "an approval group with level %d already exists", g.Level)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodePersistence, "failed to create approval group")
	}
	return nil
}

// Update replaces a group's name, level and membership.
func (r *ApprovalGroupRepository) Update(ctx context.Context, g *ApprovalGroup) error {
	query := `
		UPDATE approval_groups
		SET name = $2, level = $3, user_ids = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query, g.ID, g.Name, g.Level, g.UserIDs).Scan(&g.UpdatedAt)
	if err == pgx.ErrNoRows {
		return apperr.NotFound("approval_group", g.ID)
	}
	if isUniqueViolation(err) {
		return apperr.Newf(apperr.CodeValidation, "an approval group with level %d already exists", g.Level)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodePersistence, "failed to update approval group")
	}
	return nil
}

// GetByID retrieves a group.
func (r *ApprovalGroupRepository) GetByID(ctx context.Context, id string) (*ApprovalGroup, error) {
	query := `
		SELECT id, name, level, user_ids, created_at, updated_at
		FROM approval_groups
		WHERE id = $1
	`
	g := &ApprovalGroup{}
	err := r.db.QueryRow(ctx, query, id).
		Scan(&g.ID, &g.Name, &g.Level, &g.UserIDs, &g.CreatedAt, &g.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("approval_group", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodePersistence, "failed to get approval group")
	}
	return g, nil
}

// List returns all groups ordered by level.
func (r *ApprovalGroupRepository) List(ctx context.Context) ([]*ApprovalGroup, error) {
	query := `
		SELECT id, name, level, user_ids, created_at, updated_at
		FROM approval_groups
		ORDER BY level
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodePersistence, "failed to list approval groups")
	}
	defer rows.Close()

	groups := make([]*ApprovalGroup, 0)
	for rows.Next() {
		g := &ApprovalGroup{}
		if err := rows.Scan(&g.ID, &g.Name, &g.Level, &g.UserIDs, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, apperr.Wrap(err, apperr.CodePersistence, "failed to scan approval group")
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
