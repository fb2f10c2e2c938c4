package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/propside/be-pm-projects/internal/apperr"
	"github.com/propside/be-pm-projects/internal/logger"
	"github.com/propside/be-pm-projects/internal/metrics"
	"github.com/propside/be-pm-projects/internal/repository"
)

// Store and directory interfaces. The Postgres repositories implement them;
// tests substitute in-memory fakes.

// ProjectStore is the persistence gateway for projects and their funding
// schedules. ApplyDecision must write the status transition and the history
// record atomically, both or neither.
type ProjectStore interface {
	Create(ctx context.Context, p *repository.Project) error
	GetByID(ctx context.Context, id string) (*repository.Project, error)
	List(ctx context.Context, f repository.ListFilter) ([]*repository.Project, int64, error)
	ListPendingApproval(ctx context.Context) ([]*repository.Project, error)
	SubmitForApproval(ctx context.Context, id string) error
	ApplyDecision(ctx context.Context, projectID string, version int, d repository.ApprovalDecision) (*repository.Project, *repository.ApprovalHistoryEntry, error)
	ReplaceFundingSchedule(ctx context.Context, projectID string, entries []*repository.FundingDetail) error
	UpdateFundingPayment(ctx context.Context, fd *repository.FundingDetail) error
	UpdateBudget(ctx context.Context, id string, budget decimal.Decimal) error
	Hold(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// UserDirectory resolves acting users and approver assignments.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*repository.User, error)
}

// GroupDirectory resolves approval groups.
type GroupDirectory interface {
	GetByID(ctx context.Context, id string) (*repository.ApprovalGroup, error)
}

// PropertyDirectory resolves the owning property of a project.
type PropertyDirectory interface {
	GetByID(ctx context.Context, id string) (*repository.Property, error)
}

// HistoryStore reads the append-only approval audit trail.
type HistoryStore interface {
	ListByProject(ctx context.Context, projectID string) ([]*repository.ApprovalHistoryEntry, error)
}

// TaskCounter feeds project progress from the task collection.
type TaskCounter interface {
	CountByProject(ctx context.Context, projectID string) (total, done int, err error)
}

// EventPublisher emits workflow events. Publishing is best-effort and must
// never fail an operation.
type EventPublisher interface {
	PublishProjectEvent(ctx context.Context, eventType, projectID, actorID string, payload map[string]any)
}

// ProjectService is the sole mutation entry point over projects, funding
// details and approval history. Per-project operations are serialized by an
// in-process mutex so two concurrent decisions cannot both observe
// pending_approval and both win; the store's version predicate backs this up
// across processes.
type ProjectService struct {
	store      ProjectStore
	users      UserDirectory
	groups     GroupDirectory
	properties PropertyDirectory
	history    HistoryStore
	tasks      TaskCounter
	events     EventPublisher
	log        *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewProjectService creates a new project workflow service.
func NewProjectService(
	store ProjectStore,
	users UserDirectory,
	groups GroupDirectory,
	properties PropertyDirectory,
	history HistoryStore,
	tasks TaskCounter,
	events EventPublisher,
	log *logger.Logger,
) *ProjectService {
	return &ProjectService{
		store:      store,
		users:      users,
		groups:     groups,
		properties: properties,
		history:    history,
		tasks:      tasks,
		events:     events,
		log:        log,
		locks:      make(map[string]*sync.Mutex),
	}
}

// lockProject serializes mutations per project ID.
func (s *ProjectService) lockProject(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// ── Requests ──────────────────────────────────────────────────────────────────

// FundingDetailRequest is one schedule entry in a create or schedule-edit
// request.
type FundingDetailRequest struct {
	Type    string          `json:"type"`
	Amount  decimal.Decimal `json:"amount"`
	DueDate string          `json:"due_date"`
}

// AttachmentRequest is one file reference on a create request.
type AttachmentRequest struct {
	FileName string `json:"file_name"`
	FileURL  string `json:"file_url"`
	Type     string `json:"type"`
}

// CreateProjectRequest carries a project draft.
type CreateProjectRequest struct {
	PropertyID      string                  `json:"property_id"`
	Name            string                  `json:"name"`
	Description     *string                 `json:"description"`
	Budget          decimal.Decimal         `json:"budget"`
	Status          string                  `json:"status"`
	Priority        string                  `json:"priority"`
	ApprovalType    string                  `json:"approval_type"`
	ApprovalLevel   int                     `json:"approval_level"`
	ApproverID      *string                 `json:"approver_id"`
	ApprovalGroupID *string                 `json:"approval_group_id"`
	FundingDetails  []*FundingDetailRequest `json:"funding_details"`
	Attachments     []*AttachmentRequest    `json:"attachments"`
	CreatedBy       string                  `json:"-"`
}

// ── Create ────────────────────────────────────────────────────────────────────

// CreateProject validates a draft and persists the fully formed project.
// All preconditions fail before any mutation.
func (s *ProjectService) CreateProject(ctx context.Context, req *CreateProjectRequest) (*repository.Project, error) {
	if req.Name == "" {
		return nil, apperr.InvalidInput("name", "name is required")
	}
	if req.Budget.LessThanOrEqual(decimal.Zero) {
		return nil, apperr.InvalidInput("budget", "budget must be positive")
	}
	if req.ApprovalLevel < 1 || req.ApprovalLevel > 3 {
		return nil, apperr.InvalidInput("approval_level", "approval level must be between 1 and 3")
	}

	status := req.Status
	if status == "" {
		status = repository.StatusPending
	}
	if status != repository.StatusDraft && status != repository.StatusPending {
		return nil, apperr.InvalidInput("status", "new projects must start as draft or pending")
	}

	if _, err := s.properties.GetByID(ctx, req.PropertyID); err != nil {
		return nil, err
	}

	if err := s.validateApproverAssignment(ctx, req); err != nil {
		return nil, err
	}

	entries := make([]*repository.FundingDetail, 0, len(req.FundingDetails))
	for _, fr := range req.FundingDetails {
		fd, err := buildFundingDetail(fr)
		if err != nil {
			return nil, err
		}
		entries = append(entries, fd)
	}

	check := ValidateSchedule(entries, req.Budget)
	if !check.Valid {
		if check.Excess.IsPositive() {
			return nil, apperr.Newf(apperr.CodeValidation,
				"Total funding ($%s) cannot exceed project budget ($%s)",
				check.TotalAllocated.StringFixed(2), req.Budget.StringFixed(2))
		}
		return nil, apperr.InvalidInput("funding_details", "every entry needs a positive amount and a due date")
	}

	priority := req.Priority
	if priority == "" {
		priority = "medium"
	}

	p := &repository.Project{
		PropertyID:              req.PropertyID,
		Name:                    req.Name,
		Description:             req.Description,
		Budget:                  req.Budget,
		Status:                  status,
		Priority:                priority,
		ApprovalType:            req.ApprovalType,
		ApprovalLevel:           req.ApprovalLevel,
		AssignedApproverID:      req.ApproverID,
		AssignedApprovalGroupID: req.ApprovalGroupID,
		CreatedBy:               req.CreatedBy,
		FundingDetails:          entries,
	}
	for _, ar := range req.Attachments {
		p.Attachments = append(p.Attachments, &repository.Attachment{
			FileName:   ar.FileName,
			FileURL:    ar.FileURL,
			Type:       ar.Type,
			UploadedBy: req.CreatedBy,
		})
	}

	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("project_id", p.ID).
		Str("property_id", p.PropertyID).
		Str("approval_type", p.ApprovalType).
		Msg("Project created")

	return p, nil
}

func (s *ProjectService) validateApproverAssignment(ctx context.Context, req *CreateProjectRequest) error {
	switch req.ApprovalType {
	case repository.ApprovalTypeSingle:
		if req.ApproverID == nil || req.ApprovalGroupID != nil {
			return apperr.InvalidInput("approver_id", "single approval requires exactly one assigned approver")
		}
		approver, err := s.users.GetByID(ctx, *req.ApproverID)
		if err != nil {
			return err
		}
		if approver.IsArchived {
			return apperr.InvalidInput("approver_id", "archived users cannot be assigned as approvers")
		}
	case repository.ApprovalTypeGroup:
		if req.ApprovalGroupID == nil || req.ApproverID != nil {
			return apperr.InvalidInput("approval_group_id", "group approval requires exactly one assigned group")
		}
		if _, err := s.groups.GetByID(ctx, *req.ApprovalGroupID); err != nil {
			return err
		}
	default:
		return apperr.InvalidInput("approval_type", "approval type must be single or group")
	}
	return nil
}

func buildFundingDetail(fr *FundingDetailRequest) (*repository.FundingDetail, error) {
	switch fr.Type {
	case repository.FundingTypeDeposit, repository.FundingTypeProgress,
		repository.FundingTypeFinal, repository.FundingTypeBudget:
	default:
		return nil, apperr.InvalidInput("funding_details.type", "invalid funding type")
	}
	if fr.DueDate != "" {
		if _, err := time.Parse("2006-01-02", fr.DueDate); err != nil {
			return nil, apperr.InvalidInput("funding_details.due_date", "invalid date format, expected YYYY-MM-DD")
		}
	}
	return &repository.FundingDetail{
		Type:          fr.Type,
		Amount:        fr.Amount,
		DueDate:       fr.DueDate,
		PaymentStatus: repository.PaymentStatusUnpaid,
	}, nil
}

// ── Submission and decisions ──────────────────────────────────────────────────

// SubmitForApproval moves a draft or pending project into pending_approval.
func (s *ProjectService) SubmitForApproval(ctx context.Context, projectID, submittedBy string) (*repository.Project, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	if err := s.store.SubmitForApproval(ctx, projectID); err != nil {
		return nil, err
	}

	p, err := s.store.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "project_submitted", projectID, submittedBy, nil)
	s.log.Info().Str("project_id", projectID).Str("submitted_by", submittedBy).Msg("Project submitted for approval")
	return p, nil
}

// SubmitDecision applies an approval action. Preconditions fail fast with
// typed errors before any mutation; the status transition and the history
// record are applied atomically by the store.
func (s *ProjectService) SubmitDecision(ctx context.Context, projectID, actingUserID, action, comments string) (*repository.Project, *repository.ApprovalHistoryEntry, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	newStatus, ok := ResolveTransition(action)
	if !ok {
		return nil, nil, apperr.InvalidInput("action", "action must be approved, rejected or changes_requested")
	}
	if action != repository.ActionApproved && strings.TrimSpace(comments) == "" {
		return nil, nil, apperr.InvalidInput("comments", "comments are required when rejecting or requesting changes")
	}

	p, err := s.store.GetByID(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	if p.Status != repository.StatusPendingApproval {
		return nil, nil, apperr.Newf(apperr.CodeInvalidState,
			"project is not pending approval (status: %s)", p.Status)
	}

	user, err := s.users.GetByID(ctx, actingUserID)
	if err != nil {
		return nil, nil, err
	}

	var group *repository.ApprovalGroup
	if p.ApprovalType == repository.ApprovalTypeGroup && p.AssignedApprovalGroupID != nil {
		if group, err = s.groups.GetByID(ctx, *p.AssignedApprovalGroupID); err != nil {
			return nil, nil, err
		}
	}

	if !CanAct(user, p, group) {
		metrics.ApprovalDecisionsTotal.WithLabelValues(action, "unauthorized").Inc()
		return nil, nil, apperr.New(apperr.CodeUnauthorized,
			"user is not authorized to act on this approval")
	}

	var commentsPtr *string
	if c := strings.TrimSpace(comments); c != "" {
		commentsPtr = &c
	}

	updated, entry, err := s.store.ApplyDecision(ctx, p.ID, p.Version, repository.ApprovalDecision{
		NewStatus:  newStatus,
		ApproverID: user.ID,
		Action:     action,
		Comments:   commentsPtr,
	})
	if err != nil {
		metrics.ApprovalDecisionsTotal.WithLabelValues(action, "failed").Inc()
		return nil, nil, err
	}

	metrics.ApprovalDecisionsTotal.WithLabelValues(action, "applied").Inc()
	s.publish(ctx, eventForAction(action), p.ID, user.ID, map[string]any{
		"new_status": newStatus,
	})
	s.log.Info().
		Str("project_id", p.ID).
		Str("approver_id", user.ID).
		Str("action", action).
		Str("new_status", newStatus).
		Msg("Approval decision applied")

	return updated, entry, nil
}

func eventForAction(action string) string {
	switch action {
	case repository.ActionApproved:
		return "project_approved"
	case repository.ActionRejected:
		return "project_rejected"
	default:
		return "changes_requested"
	}
}

// ── Funding ───────────────────────────────────────────────────────────────────

// UpdatePaymentStatus marks one funding entry paid or unpaid, leaving all
// sibling entries untouched.
func (s *ProjectService) UpdatePaymentStatus(ctx context.Context, projectID, fundingID, status, paidBy string) (*repository.Project, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	p, err := s.store.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var entry *repository.FundingDetail
	for _, fd := range p.FundingDetails {
		if fd.ID == fundingID {
			entry = fd
			break
		}
	}
	if entry == nil {
		return nil, apperr.NotFound("funding_detail", fundingID)
	}

	switch status {
	case repository.PaymentStatusPaid:
		if paidBy == "" {
			return nil, apperr.InvalidInput("paid_by", "paid_by is required when marking paid")
		}
		if err := MarkPaid(entry, paidBy, time.Now().UTC()); err != nil {
			return nil, err
		}
	case repository.PaymentStatusUnpaid:
		MarkUnpaid(entry)
	default:
		return nil, apperr.InvalidInput("status", "payment status must be paid or unpaid")
	}

	if err := s.store.UpdateFundingPayment(ctx, entry); err != nil {
		return nil, err
	}

	metrics.FundingPaymentsTotal.WithLabelValues(status).Inc()
	s.publish(ctx, "funding_"+status, projectID, paidBy, map[string]any{
		"funding_id": fundingID,
		"amount":     entry.Amount.StringFixed(2),
	})

	return p, nil
}

// ReplaceFundingSchedule swaps a draft project's funding schedule after
// re-validating it against the budget.
func (s *ProjectService) ReplaceFundingSchedule(ctx context.Context, projectID string, reqs []*FundingDetailRequest) (*repository.Project, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	p, err := s.store.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	entries := make([]*repository.FundingDetail, 0, len(reqs))
	for _, fr := range reqs {
		fd, err := buildFundingDetail(fr)
		if err != nil {
			return nil, err
		}
		entries = append(entries, fd)
	}

	check := ValidateSchedule(entries, p.Budget)
	if !check.Valid {
		if check.Excess.IsPositive() {
			return nil, apperr.Newf(apperr.CodeValidation,
				"Total funding ($%s) cannot exceed project budget ($%s)",
				check.TotalAllocated.StringFixed(2), p.Budget.StringFixed(2))
		}
		return nil, apperr.InvalidInput("funding_details", "every entry needs a positive amount and a due date")
	}

	if err := s.store.ReplaceFundingSchedule(ctx, projectID, entries); err != nil {
		return nil, err
	}
	return s.store.GetByID(ctx, projectID)
}

// UpdateBudget changes an unsubmitted project's budget. Lowering it below the
// already-allocated funding total is blocked rather than flagged.
func (s *ProjectService) UpdateBudget(ctx context.Context, projectID string, budget decimal.Decimal) (*repository.Project, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	if budget.LessThanOrEqual(decimal.Zero) {
		return nil, apperr.InvalidInput("budget", "budget must be positive")
	}

	p, err := s.store.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	check := ValidateSchedule(p.FundingDetails, budget)
	if check.Excess.IsPositive() {
		return nil, apperr.Newf(apperr.CodeValidation,
			"budget ($%s) cannot be lowered below allocated funding ($%s)",
			budget.StringFixed(2), check.TotalAllocated.StringFixed(2))
	}

	if err := s.store.UpdateBudget(ctx, projectID, budget); err != nil {
		return nil, err
	}
	return s.store.GetByID(ctx, projectID)
}

// ── Hold / resume / delete ────────────────────────────────────────────────────

// HoldProject pauses an active project.
func (s *ProjectService) HoldProject(ctx context.Context, projectID string) (*repository.Project, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	if err := s.store.Hold(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.GetByID(ctx, projectID)
}

// ResumeProject returns an on-hold project to the status recorded when it
// was paused.
func (s *ProjectService) ResumeProject(ctx context.Context, projectID string) (*repository.Project, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	if err := s.store.Resume(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.GetByID(ctx, projectID)
}

// DeleteProject removes an unsubmitted project.
func (s *ProjectService) DeleteProject(ctx context.Context, projectID string) error {
	unlock := s.lockProject(projectID)
	defer unlock()

	return s.store.Delete(ctx, projectID)
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetProject retrieves a project with funding schedule and attachments.
func (s *ProjectService) GetProject(ctx context.Context, id string) (*repository.Project, error) {
	return s.store.GetByID(ctx, id)
}

// ListProjects retrieves projects by property, status and date range.
func (s *ProjectService) ListProjects(ctx context.Context, f repository.ListFilter) ([]*repository.Project, int64, error) {
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 50
	}
	return s.store.List(ctx, f)
}

// GetApprovalHistory returns the audit trail for a project, oldest first.
func (s *ProjectService) GetApprovalHistory(ctx context.Context, projectID string) ([]*repository.ApprovalHistoryEntry, error) {
	if _, err := s.store.GetByID(ctx, projectID); err != nil {
		return nil, err
	}
	return s.history.ListByProject(ctx, projectID)
}

// GetPendingApprovals returns the pending-approval projects the given user
// may act on.
func (s *ProjectService) GetPendingApprovals(ctx context.Context, userID string) ([]*repository.Project, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	pending, err := s.store.ListPendingApproval(ctx)
	if err != nil {
		return nil, err
	}

	groupCache := make(map[string]*repository.ApprovalGroup)
	actionable := make([]*repository.Project, 0)
	for _, p := range pending {
		var group *repository.ApprovalGroup
		if p.ApprovalType == repository.ApprovalTypeGroup && p.AssignedApprovalGroupID != nil {
			gid := *p.AssignedApprovalGroupID
			if group = groupCache[gid]; group == nil {
				if group, err = s.groups.GetByID(ctx, gid); err != nil {
					continue // dangling group reference; skip rather than fail the listing
				}
				groupCache[gid] = group
			}
		}
		if CanAct(user, p, group) {
			actionable = append(actionable, p)
		}
	}
	return actionable, nil
}

// Progress summarizes task completion for a project.
type Progress struct {
	Total     int     `json:"total"`
	Completed int     `json:"completed"`
	Percent   float64 `json:"percent"`
}

// GetProgress computes completed/total tasks for a project.
func (s *ProjectService) GetProgress(ctx context.Context, projectID string) (*Progress, error) {
	if _, err := s.store.GetByID(ctx, projectID); err != nil {
		return nil, err
	}
	total, done, err := s.tasks.CountByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	pr := &Progress{Total: total, Completed: done}
	if total > 0 {
		pr.Percent = float64(done) / float64(total) * 100
	}
	return pr, nil
}

// publish emits an event when a publisher is configured.
func (s *ProjectService) publish(ctx context.Context, eventType, projectID, actorID string, payload map[string]any) {
	if s.events == nil {
		return
	}
	s.events.PublishProjectEvent(ctx, eventType, projectID, actorID, payload)
}
