package repository

import (
	"context"

	"github.com/propside/be-pm-projects/internal/apperr"
	"github.com/propside/be-pm-projects/internal/database"
)

// TaskRepository reads tasks for project progress. Task CRUD lives in the
// tasks service; this side only consumes counts and listings.
type TaskRepository struct {
	db *database.DB
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(db *database.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// CountByProject returns total and completed task counts for a project.
func (r *TaskRepository) CountByProject(ctx context.Context, projectID string) (total, done int, err error) {
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'done')
		FROM tasks
		WHERE project_id = $1
	`
	if err := r.db.QueryRow(ctx, query, projectID).Scan(&total, &done); err != nil {
		return 0, 0, apperr.Wrap(err, apperr.CodePersistence, "failed to count tasks")
	}
	return total, done, nil
}

// ListByProject returns a project's tasks ordered by due date.
func (r *TaskRepository) ListByProject(ctx context.Context, projectID string) ([]*Task, error) {
	query := `
		SELECT id, property_id, project_id, title, status, priority,
		       assigned_to, due_date::text, created_by, created_at, updated_at
		FROM tasks
		WHERE project_id = $1
		ORDER BY due_date NULLS LAST, created_at
	`
	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodePersistence, "failed to list tasks")
	}
	defer rows.Close()

	tasks := make([]*Task, 0)
	for rows.Next() {
		t := &Task{}
		if err := rows.Scan(
			&t.ID, &t.PropertyID, &t.ProjectID, &t.Title, &t.Status, &t.Priority,
			&t.AssignedTo, &t.DueDate, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, apperr.Wrap(err, apperr.CodePersistence, "failed to scan task")
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
