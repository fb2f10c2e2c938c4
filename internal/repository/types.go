package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Project lifecycle ─────────────────────────────────────────────────────────

// Project statuses.
const (
	StatusDraft           = "draft"
	StatusPending         = "pending"
	StatusPendingApproval = "pending_approval"
	StatusApproved        = "approved"
	StatusPlanning        = "planning"
	StatusInProgress      = "in_progress"
	StatusCompleted       = "completed"
	StatusOnHold          = "on_hold"
	StatusRejected        = "rejected"
)

// Approval types.
const (
	ApprovalTypeSingle = "single"
	ApprovalTypeGroup  = "group"
)

// Approval actions recorded in the history log.
const (
	ActionApproved         = "approved"
	ActionRejected         = "rejected"
	ActionChangesRequested = "changes_requested"
)

// Funding entry types.
const (
	FundingTypeDeposit  = "deposit"
	FundingTypeProgress = "progress"
	FundingTypeFinal    = "final"
	FundingTypeBudget   = "budget"
)

// Funding payment statuses.
const (
	PaymentStatusPaid   = "paid"
	PaymentStatusUnpaid = "unpaid"
)

// ── Domain types ──────────────────────────────────────────────────────────────

// User is an entry in the user directory. Archived users keep their
// historical references but cannot take on new approval assignments.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	Role          string    `json:"role"` // admin | manager | user
	ApprovalLevel int       `json:"approval_level"`
	Permissions   []string  `json:"permissions"`
	IsArchived    bool      `json:"is_archived"`
	PasswordHash  string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Property is a read-only reference entity owning projects and tasks.
type Property struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   *string   `json:"address"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ApprovalGroup is a named, leveled cohort of users who may jointly satisfy
// a project's approval requirement. Level is unique across groups.
type ApprovalGroup struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Level     int       `json:"level"`
	UserIDs   []string  `json:"user_ids"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Project is the central entity. Once submitted for approval it is mutated
// only through the workflow service, never by direct field edits.
type Project struct {
	ID                      string           `json:"id"`
	PropertyID              string           `json:"property_id"`
	Name                    string           `json:"name"`
	Description             *string          `json:"description"`
	Budget                  decimal.Decimal  `json:"budget"`
	Status                  string           `json:"status"`
	Priority                string           `json:"priority"`
	ApprovalType            string           `json:"approval_type"` // single | group
	ApprovalLevel           int              `json:"approval_level"`
	AssignedApproverID      *string          `json:"assigned_approver_id"`
	AssignedApprovalGroupID *string          `json:"assigned_approval_group_id"`
	HeldFromStatus          *string          `json:"held_from_status,omitempty"` // status to return to when resumed from on_hold
	Version                 int              `json:"version"`                    // optimistic concurrency guard
	CreatedBy               string           `json:"created_by"`
	CreatedAt               time.Time        `json:"created_at"`
	UpdatedAt               time.Time        `json:"updated_at"`
	FundingDetails          []*FundingDetail `json:"funding_details"`
	Attachments             []*Attachment    `json:"attachments"`
}

// FundingDetail is one scheduled disbursement, owned by exactly one project.
// PaidDate and PaidBy are set together when the entry transitions to paid and
// cleared together on unpaid.
type FundingDetail struct {
	ID            string          `json:"id"`
	ProjectID     string          `json:"project_id"`
	Type          string          `json:"type"` // deposit | progress | final | budget
	Amount        decimal.Decimal `json:"amount"`
	DueDate       string          `json:"due_date"` // YYYY-MM-DD
	PaymentStatus string          `json:"payment_status"`
	PaidDate      *time.Time      `json:"paid_date"`
	PaidBy        *string         `json:"paid_by"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Attachment is a file reference owned by a project.
type Attachment struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	FileName   string    `json:"file_name"`
	FileURL    string    `json:"file_url"`
	Type       string    `json:"type"`
	UploadedBy string    `json:"uploaded_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// ApprovalHistoryEntry is one immutable record in the append-only audit log.
// The table rejects updates and deletes; Append is the only mutation.
type ApprovalHistoryEntry struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	ApproverID string    `json:"approver_id"`
	Action     string    `json:"action"` // approved | rejected | changes_requested
	Comments   *string   `json:"comments"`
	CreatedAt  time.Time `json:"created_at"`
}

// Task belongs to a property and optionally to a project. Completed/total
// counts feed project progress.
type Task struct {
	ID         string    `json:"id"`
	PropertyID string    `json:"property_id"`
	ProjectID  *string   `json:"project_id"`
	Title      string    `json:"title"`
	Status     string    `json:"status"` // todo | in_progress | done
	Priority   string    `json:"priority"`
	AssignedTo *string   `json:"assigned_to"`
	DueDate    *string   `json:"due_date"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ApprovalDecision captures the atomic outcome of an approval action: the
// project transition and the history record applied together.
type ApprovalDecision struct {
	NewStatus  string
	ApproverID string
	Action     string
	Comments   *string
}
