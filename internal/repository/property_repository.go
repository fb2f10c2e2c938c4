package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/propside/be-pm-projects/internal/apperr"
	"github.com/propside/be-pm-projects/internal/database"
)

// PropertyRepository is the read-only property directory consumed when
// creating projects.
type PropertyRepository struct {
	db *database.DB
}

// NewPropertyRepository creates a new property repository.
func NewPropertyRepository(db *database.DB) *PropertyRepository {
	return &PropertyRepository{db: db}
}

// GetByID retrieves a property.
func (r *PropertyRepository) GetByID(ctx context.Context, id string) (*Property, error) {
	query := `
		SELECT id, name, address, created_by, created_at, updated_at
		FROM properties
		WHERE id = $1
	`
	p := &Property{}
	err := r.db.QueryRow(ctx, query, id).
		Scan(&p.ID, &p.Name, &p.Address, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("property", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodePersistence, "failed to get property")
	}
	return p, nil
}

// List returns all properties.
func (r *PropertyRepository) List(ctx context.Context) ([]*Property, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, address, created_by, created_at, updated_at
		FROM properties
		ORDER BY name
	`)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodePersistence, "failed to list properties")
	}
	defer rows.Close()

	properties := make([]*Property, 0)
	for rows.Next() {
		p := &Property{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Address, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, apperr.Wrap(err, apperr.CodePersistence, "failed to scan property")
		}
		properties = append(properties, p)
	}
	return properties, nil
}
