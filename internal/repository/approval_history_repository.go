package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/propside/be-pm-projects/internal/apperr"
	"github.com/propside/be-pm-projects/internal/database"
)

// ApprovalHistoryRepository reads and appends the immutable audit log.
// Decision records are written transactionally by ProjectRepository's
// ApplyDecision; Append exists for standalone audit writes. The table has a
// trigger rejecting UPDATE and DELETE.
type ApprovalHistoryRepository struct {
	db *database.DB
}

// NewApprovalHistoryRepository creates a new approval history repository.
func NewApprovalHistoryRepository(db *database.DB) *ApprovalHistoryRepository {
	return &ApprovalHistoryRepository{db: db}
}

// Append inserts one audit entry.
func (r *ApprovalHistoryRepository) Append(ctx context.Context, entry *ApprovalHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	query := `
		INSERT INTO approval_history (id, project_id, approver_id, action, comments)
		VALUES ($1, $2, $3, $4::approval_action, $5)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		entry.ID, entry.ProjectID, entry.ApproverID, entry.Action, entry.Comments,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodePersistence, "failed to append approval history")
	}
	return nil
}

// ListByProject returns the full trail for a project, oldest first.
func (r *ApprovalHistoryRepository) ListByProject(ctx context.Context, projectID string) ([]*ApprovalHistoryEntry, error) {
	query := `
		SELECT id, project_id, approver_id, action, comments, created_at
		FROM approval_history
		WHERE project_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodePersistence, "failed to get approval history")
	}
	defer rows.Close()

	entries := make([]*ApprovalHistoryEntry, 0)
	for rows.Next() {
		e := &ApprovalHistoryEntry{}
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.ApproverID, &e.Action, &e.Comments, &e.CreatedAt); err != nil {
			return nil, apperr.Wrap(err, apperr.CodePersistence, "failed to scan approval history entry")
		}
		entries = append(entries, e)
	}
	return entries, nil
}
