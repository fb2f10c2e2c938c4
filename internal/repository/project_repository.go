package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/propside/be-pm-projects/internal/apperr"
	"github.com/propside/be-pm-projects/internal/database"
)

// ProjectRepository handles project data operations. Multi-row writes
// (create with funding schedule, approval decisions) run in one transaction.
type ProjectRepository struct {
	db *database.DB
}

// NewProjectRepository creates a new project repository.
func NewProjectRepository(db *database.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

const projectColumns = `
	id, property_id, name, description, budget, status, priority,
	approval_type, approval_level, assigned_approver_id, assigned_approval_group_id,
	held_from_status, version, created_by, created_at, updated_at`

// Create inserts a project with its funding schedule and attachments.
func (r *ProjectRepository) Create(ctx context.Context, p *Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO projects (id, property_id, name, description, budget, status, priority,
			                      approval_type, approval_level,
			                      assigned_approver_id, assigned_approval_group_id, created_by)
			VALUES ($1, $2, $3, $4, $5, $6::project_status, $7,
			        $8::approval_type, $9, $10, $11, $12)
			RETURNING version, created_at, updated_at
		`
		err := tx.QueryRow(ctx, query,
			p.ID,
			p.PropertyID,
			p.Name,
			p.Description,
			p.Budget,
			p.Status,
			p.Priority,
			p.ApprovalType,
			p.ApprovalLevel,
			p.AssignedApproverID,
			p.AssignedApprovalGroupID,
			p.CreatedBy,
		).Scan(&p.Version, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.CodePersistence, "failed to create project")
		}

		for _, fd := range p.FundingDetails {
			if err := insertFundingDetail(ctx, tx, p.ID, fd); err != nil {
				return err
			}
		}

		for _, a := range p.Attachments {
			if a.ID == "" {
				a.ID = uuid.NewString()
			}
			a.ProjectID = p.ID
			aq := `
				INSERT INTO attachments (id, project_id, file_name, file_url, type, uploaded_by)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING created_at
			`
			if err := tx.QueryRow(ctx, aq,
				a.ID, a.ProjectID, a.FileName, a.FileURL, a.Type, a.UploadedBy,
			).Scan(&a.CreatedAt); err != nil {
				return apperr.Wrap(err, apperr.CodePersistence, "failed to create attachment")
			}
		}

		return nil
	})
	return err
}

func insertFundingDetail(ctx context.Context, tx pgx.Tx, projectID string, fd *FundingDetail) error {
	if fd.ID == "" {
		fd.ID = uuid.NewString()
	}
	fd.ProjectID = projectID
	if fd.PaymentStatus == "" {
		fd.PaymentStatus = PaymentStatusUnpaid
	}
	query := `
		INSERT INTO funding_details (id, project_id, type, amount, due_date, payment_status)
		VALUES ($1, $2, $3::funding_type, $4, $5, $6::payment_status)
		RETURNING created_at, updated_at
	`
	err := tx.QueryRow(ctx, query,
		fd.ID, fd.ProjectID, fd.Type, fd.Amount, fd.DueDate, fd.PaymentStatus,
	).Scan(&fd.CreatedAt, &fd.UpdatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodePersistence, "failed to create funding detail")
	}
	return nil
}

// GetByID retrieves a project with its funding schedule and attachments.
func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`

	p, err := scanProject(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("project", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodePersistence, "failed to get project")
	}

	if p.FundingDetails, err = r.getFundingDetails(ctx, p.ID); err != nil {
		return nil, err
	}
	if p.Attachments, err = r.getAttachments(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *ProjectRepository) getFundingDetails(ctx context.Context, projectID string) ([]*FundingDetail, error) {
	// due_date is cast to text: pgx refuses to scan a binary DATE into a string
	query := `
		SELECT id, project_id, type, amount, due_date::text, payment_status,
		       paid_date, paid_by, created_at, updated_at
		FROM funding_details
		WHERE project_id = $1
		ORDER BY due_date, created_at
	`
	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodePersistence, "failed to get funding details")
	}
	defer rows.Close()

	details := make([]*FundingDetail, 0)
	for rows.Next() {
		fd := &FundingDetail{}
		if err := rows.Scan(
			&fd.ID, &fd.ProjectID, &fd.Type, &fd.Amount, &fd.DueDate,
			&fd.PaymentStatus, &fd.PaidDate, &fd.PaidBy, &fd.CreatedAt, &fd.UpdatedAt,
		); err != nil {
			return nil, apperr.Wrap(err, apperr.CodePersistence, "failed to scan funding detail")
		}
		details = append(details, fd)
	}
	return details, nil
}

func (r *ProjectRepository) getAttachments(ctx context.Context, projectID string) ([]*Attachment, error) {
	query := `
		SELECT id, project_id, file_name, file_url, type, uploaded_by, created_at
		FROM attachments
		WHERE project_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodePersistence, "failed to get attachments")
	}
	defer rows.Close()

	attachments := make([]*Attachment, 0)
	for rows.Next() {
		a := &Attachment{}
		if err := rows.Scan(
			&a.ID, &a.ProjectID, &a.FileName, &a.FileURL, &a.Type, &a.UploadedBy, &a.CreatedAt,
		); err != nil {
			return nil, apperr.Wrap(err, apperr.CodePersistence, "failed to scan attachment")
		}
		attachments = append(attachments, a)
	}
	return attachments, nil
}

// ListFilter narrows List results. Nil fields are ignored.
type ListFilter struct {
	PropertyID *string
	Status     *string
	FromDate   *string // created_at lower bound, YYYY-MM-DD
	ToDate     *string // created_at upper bound, YYYY-MM-DD
	Limit      int
	Offset     int
}

// List retrieves projects with filtering and pagination. Funding details and
// attachments are not loaded for list views.
func (r *ProjectRepository) List(ctx context.Context, f ListFilter) ([]*Project, int64, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM projects WHERE 1=1`

	args := []any{}
	argCount := 1

	if f.PropertyID != nil {
		cond := fmt.Sprintf(" AND property_id = $%d", argCount)
		query += cond
		countQuery += cond
		args = append(args, *f.PropertyID)
		argCount++
	}
	if f.Status != nil {
		cond := fmt.Sprintf(" AND status = $%d::project_status", argCount)
		query += cond
		countQuery += cond
		args = append(args, *f.Status)
		argCount++
	}
	if f.FromDate != nil {
		cond := fmt.Sprintf(" AND created_at >= $%d::date", argCount)
		query += cond
		countQuery += cond
		args = append(args, *f.FromDate)
		argCount++
	}
	if f.ToDate != nil {
		cond := fmt.Sprintf(" AND created_at < $%d::date + INTERVAL '1 day'", argCount)
		query += cond
		countQuery += cond
		args = append(args, *f.ToDate)
		argCount++
	}

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodePersistence, "failed to count projects")
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argCount, argCount+1)
	rows, err := r.db.Query(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodePersistence, "failed to list projects")
	}
	defer rows.Close()

	projects := make([]*Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, apperr.Wrap(err, apperr.CodePersistence, "failed to scan project")
		}
		projects = append(projects, p)
	}
	return projects, total, nil
}

// ListPendingApproval returns all projects awaiting an approval decision.
func (r *ProjectRepository) ListPendingApproval(ctx context.Context) ([]*Project, error) {
	status := StatusPendingApproval
	projects, _, err := r.List(ctx, ListFilter{Status: &status, Limit: 500})
	return projects, err
}

// SubmitForApproval moves a draft or pending project into pending_approval.
// The status predicate in the WHERE clause makes the transition race-safe.
func (r *ProjectRepository) SubmitForApproval(ctx context.Context, id string) error {
	query := `
		UPDATE projects
		SET status     = 'pending_approval'::project_status,
		    version    = version + 1,
		    updated_at = NOW()
		WHERE id = $1
		  AND status IN ('draft', 'pending')
		RETURNING id
	`
	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return r.stateOrNotFound(ctx, id, "project cannot be submitted from its current status")
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodePersistence, "failed to submit project")
	}
	return nil
}

// ApplyDecision atomically applies an approval decision: project status,
// acting approver and the history record are written in one transaction. The
// version predicate rejects a decision raced by another approver.
func (r *ProjectRepository) ApplyDecision(ctx context.Context, projectID string, version int, d ApprovalDecision) (*Project, *ApprovalHistoryEntry, error) {
	entry := &ApprovalHistoryEntry{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		ApproverID: d.ApproverID,
		Action:     d.Action,
		Comments:   d.Comments,
	}

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		update := `
			UPDATE projects
			SET status               = $3::project_status,
			    assigned_approver_id = $4,
			    version              = version + 1,
			    updated_at           = NOW()
			WHERE id = $1
			  AND version = $2
			  AND status = 'pending_approval'
			RETURNING id
		`
		var returnedID string
		err := tx.QueryRow(ctx, update, projectID, version, d.NewStatus, d.ApproverID).Scan(&returnedID)
		if err == pgx.ErrNoRows {
			return apperr.New(apperr.CodeInvalidState,
				"project is not pending approval or was modified concurrently")
		}
		if err != nil {
			return apperr.Wrap(err, apperr.CodePersistence, "failed to update project status")
		}

		insert := `
			INSERT INTO approval_history (id, project_id, approver_id, action, comments)
			VALUES ($1, $2, $3, $4::approval_action, $5)
			RETURNING created_at
		`
		err = tx.QueryRow(ctx, insert,
			entry.ID, entry.ProjectID, entry.ApproverID, entry.Action, entry.Comments,
		).Scan(&entry.CreatedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.CodePersistence, "failed to append approval history")
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	p, err := r.GetByID(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	return p, entry, nil
}

// ReplaceFundingSchedule swaps a project's entire funding schedule. Only
// draft and pending projects may be edited; the caller validates the totals.
func (r *ProjectRepository) ReplaceFundingSchedule(ctx context.Context, projectID string, entries []*FundingDetail) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		guard := `
			UPDATE projects
			SET version = version + 1, updated_at = NOW()
			WHERE id = $1 AND status IN ('draft', 'pending')
			RETURNING id
		`
		var returnedID string
		err := tx.QueryRow(ctx, guard, projectID).Scan(&returnedID)
		if err == pgx.ErrNoRows {
			return apperr.New(apperr.CodeInvalidState,
				"funding schedule can only be edited on draft or pending projects")
		}
		if err != nil {
			return apperr.Wrap(err, apperr.CodePersistence, "failed to lock project for schedule edit")
		}

		if _, err := tx.Exec(ctx, `DELETE FROM funding_details WHERE project_id = $1`, projectID); err != nil {
			return apperr.Wrap(err, apperr.CodePersistence, "failed to clear funding schedule")
		}

		for _, fd := range entries {
			fd.ID = ""
			if err := insertFundingDetail(ctx, tx, projectID, fd); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateFundingPayment persists the payment fields of a single funding entry.
func (r *ProjectRepository) UpdateFundingPayment(ctx context.Context, fd *FundingDetail) error {
	query := `
		UPDATE funding_details
		SET payment_status = $3::payment_status,
		    paid_date      = $4,
		    paid_by        = $5,
		    updated_at     = NOW()
		WHERE id = $1 AND project_id = $2
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query,
		fd.ID, fd.ProjectID, fd.PaymentStatus, fd.PaidDate, fd.PaidBy,
	).Scan(&fd.UpdatedAt)
	if err == pgx.ErrNoRows {
		return apperr.NotFound("funding_detail", fd.ID)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodePersistence, "failed to update funding payment")
	}
	return nil
}

// UpdateBudget sets a new budget on an unsubmitted project. The allocation
// check against the funding total happens in the service layer.
func (r *ProjectRepository) UpdateBudget(ctx context.Context, id string, budget decimal.Decimal) error {
	query := `
		UPDATE projects
		SET budget     = $2,
		    version    = version + 1,
		    updated_at = NOW()
		WHERE id = $1
		  AND status IN ('draft', 'pending')
		RETURNING id
	`
	var returnedID string
	err := r.db.QueryRow(ctx, query, id, budget).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return r.stateOrNotFound(ctx, id, "budget can only be edited on draft or pending projects")
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodePersistence, "failed to update budget")
	}
	return nil
}

// Hold pauses an active project, remembering the status it came from.
func (r *ProjectRepository) Hold(ctx context.Context, id string) error {
	query := `
		UPDATE projects
		SET held_from_status = status,
		    status           = 'on_hold'::project_status,
		    version          = version + 1,
		    updated_at       = NOW()
		WHERE id = $1
		  AND status IN ('approved', 'planning', 'in_progress')
		RETURNING id
	`
	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return r.stateOrNotFound(ctx, id, "only approved, planning or in-progress projects can be put on hold")
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodePersistence, "failed to hold project")
	}
	return nil
}

// Resume returns an on-hold project to the status it held before the pause.
func (r *ProjectRepository) Resume(ctx context.Context, id string) error {
	query := `
		UPDATE projects
		SET status           = held_from_status::project_status,
		    held_from_status = NULL,
		    version          = version + 1,
		    updated_at       = NOW()
		WHERE id = $1
		  AND status = 'on_hold'
		  AND held_from_status IS NOT NULL
		RETURNING id
	`
	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return r.stateOrNotFound(ctx, id, "project is not on hold")
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodePersistence, "failed to resume project")
	}
	return nil
}

// Delete removes a draft project. Funding details and attachments go with it
// via ON DELETE CASCADE; approval history is retained by design.
func (r *ProjectRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM projects WHERE id = $1 AND status IN ('draft', 'pending')`, id)
	if err != nil {
		return apperr.Wrap(err, apperr.CodePersistence, "failed to delete project")
	}
	if tag.RowsAffected() == 0 {
		return r.stateOrNotFound(ctx, id, "cannot delete a submitted project")
	}
	return nil
}

// stateOrNotFound distinguishes a guarded update that matched no row because
// the project is missing from one that failed its status predicate.
func (r *ProjectRepository) stateOrNotFound(ctx context.Context, id, stateMsg string) error {
	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM projects WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return apperr.Wrap(err, apperr.CodePersistence, "failed to check project existence")
	}
	if !exists {
		return apperr.NotFound("project", id)
	}
	return apperr.New(apperr.CodeInvalidState, stateMsg)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type projectScanner interface {
	Scan(dest ...any) error
}

func scanProject(row projectScanner) (*Project, error) {
	p := &Project{}
	err := row.Scan(
		&p.ID,
		&p.PropertyID,
		&p.Name,
		&p.Description,
		&p.Budget,
		&p.Status,
		&p.Priority,
		&p.ApprovalType,
		&p.ApprovalLevel,
		&p.AssignedApproverID,
		&p.AssignedApprovalGroupID,
		&p.HeldFromStatus,
		&p.Version,
		&p.CreatedBy,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}
