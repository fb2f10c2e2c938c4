package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propside/be-pm-projects/internal/apperr"
	"github.com/propside/be-pm-projects/internal/logger"
	"github.com/propside/be-pm-projects/internal/repository"
)

type serviceFixture struct {
	svc    *ProjectService
	store  *fakeStore
	users  fakeUsers
	groups fakeGroups
	events *fakeEvents
}

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()

	store := newFakeStore()
	users := fakeUsers{
		"creator":  {ID: "creator", Email: "creator@example.com", Name: "Creator", ApprovalLevel: 1},
		"lvl1":     {ID: "lvl1", Email: "l1@example.com", Name: "Level One", ApprovalLevel: 1},
		"lvl2":     {ID: "lvl2", Email: "l2@example.com", Name: "Level Two", ApprovalLevel: 2},
		"lvl3":     {ID: "lvl3", Email: "l3@example.com", Name: "Level Three", ApprovalLevel: 3},
		"archived": {ID: "archived", Email: "gone@example.com", Name: "Gone", ApprovalLevel: 3, IsArchived: true},
	}
	groups := fakeGroups{
		"g2": {ID: "g2", Name: "Managers", Level: 2, UserIDs: []string{"lvl1", "lvl2"}},
	}
	properties := fakeProperties{
		"prop1": {ID: "prop1", Name: "Riverside Complex"},
	}
	events := &fakeEvents{}
	log := logger.New(logger.Config{Level: "error", ServiceName: "test"})

	svc := NewProjectService(store, users, groups, properties, store, &fakeTasks{total: 4, done: 1}, events, log)
	return &serviceFixture{svc: svc, store: store, users: users, groups: groups, events: events}
}

func (f *serviceFixture) createProject(t *testing.T, req *CreateProjectRequest) *repository.Project {
	t.Helper()
	p, err := f.svc.CreateProject(context.Background(), req)
	require.NoError(t, err)
	return p
}

func singleApprovalRequest(level int) *CreateProjectRequest {
	return &CreateProjectRequest{
		PropertyID:    "prop1",
		Name:          "Roof replacement",
		Budget:        decimal.RequireFromString("10000"),
		Status:        repository.StatusDraft,
		ApprovalType:  repository.ApprovalTypeSingle,
		ApprovalLevel: level,
		ApproverID:    strPtr("lvl3"),
		CreatedBy:     "creator",
		FundingDetails: []*FundingDetailRequest{
			{Type: repository.FundingTypeDeposit, Amount: decimal.RequireFromString("3000"), DueDate: "2026-01-15"},
			{Type: repository.FundingTypeFinal, Amount: decimal.RequireFromString("4000"), DueDate: "2026-03-15"},
		},
	}
}

// submit moves a freshly created draft into pending_approval.
func (f *serviceFixture) submit(t *testing.T, projectID string) *repository.Project {
	t.Helper()
	p, err := f.svc.SubmitForApproval(context.Background(), projectID, "creator")
	require.NoError(t, err)
	require.Equal(t, repository.StatusPendingApproval, p.Status)
	return p
}

// ── Create ────────────────────────────────────────────────────────────────────

func TestCreateProjectValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("funding exceeds budget", func(t *testing.T) {
		f := newFixture(t)
		req := singleApprovalRequest(2)
		req.FundingDetails = append(req.FundingDetails, &FundingDetailRequest{
			Type: repository.FundingTypeProgress, Amount: decimal.RequireFromString("4000"), DueDate: "2026-02-15",
		})

		_, err := f.svc.CreateProject(ctx, req)
		require.Error(t, err)
		assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
		assert.Equal(t, "Total funding ($11000.00) cannot exceed project budget ($10000.00)", apperr.MessageOf(err))
		assert.Empty(t, f.store.projects, "nothing persisted on validation failure")
	})

	t.Run("single approval requires an approver", func(t *testing.T) {
		f := newFixture(t)
		req := singleApprovalRequest(2)
		req.ApproverID = nil

		_, err := f.svc.CreateProject(ctx, req)
		assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	})

	t.Run("archived approver rejected", func(t *testing.T) {
		f := newFixture(t)
		req := singleApprovalRequest(2)
		req.ApproverID = strPtr("archived")

		_, err := f.svc.CreateProject(ctx, req)
		assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	})

	t.Run("group approval resolves the group", func(t *testing.T) {
		f := newFixture(t)
		req := singleApprovalRequest(2)
		req.ApprovalType = repository.ApprovalTypeGroup
		req.ApproverID = nil
		req.ApprovalGroupID = strPtr("g2")

		p := f.createProject(t, req)
		assert.Equal(t, "g2", *p.AssignedApprovalGroupID)
		assert.Nil(t, p.AssignedApproverID)
	})

	t.Run("unknown property", func(t *testing.T) {
		f := newFixture(t)
		req := singleApprovalRequest(2)
		req.PropertyID = "nope"

		_, err := f.svc.CreateProject(ctx, req)
		assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
	})

	t.Run("approval level out of range", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateProject(ctx, singleApprovalRequest(4))
		assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	})

	t.Run("success assigns IDs and keeps schedule", func(t *testing.T) {
		f := newFixture(t)
		p := f.createProject(t, singleApprovalRequest(2))

		assert.NotEmpty(t, p.ID)
		assert.Equal(t, 1, p.Version)
		require.Len(t, p.FundingDetails, 2)
		for _, fd := range p.FundingDetails {
			assert.Equal(t, repository.PaymentStatusUnpaid, fd.PaymentStatus)
			assert.NotEmpty(t, fd.ID)
		}
	})
}

// ── Decisions ─────────────────────────────────────────────────────────────────

func TestSubmitDecisionAuthorization(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient level leaves project untouched", func(t *testing.T) {
		f := newFixture(t)
		p := f.createProject(t, singleApprovalRequest(3))
		f.submit(t, p.ID)

		_, _, err := f.svc.SubmitDecision(ctx, p.ID, "lvl2", repository.ActionApproved, "")
		require.Error(t, err)
		assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))

		got, _ := f.store.GetByID(ctx, p.ID)
		assert.Equal(t, repository.StatusPendingApproval, got.Status)
		assert.Empty(t, f.store.history[p.ID], "no history record for a refused decision")
	})

	t.Run("sufficient level approves", func(t *testing.T) {
		f := newFixture(t)
		p := f.createProject(t, singleApprovalRequest(3))
		f.submit(t, p.ID)

		updated, entry, err := f.svc.SubmitDecision(ctx, p.ID, "lvl3", repository.ActionApproved, "")
		require.NoError(t, err)
		assert.Equal(t, repository.StatusApproved, updated.Status)
		assert.Equal(t, "lvl3", entry.ApproverID)
		assert.Nil(t, entry.Comments)
	})

	t.Run("group member with low personal level may act", func(t *testing.T) {
		f := newFixture(t)
		req := singleApprovalRequest(2)
		req.ApprovalType = repository.ApprovalTypeGroup
		req.ApproverID = nil
		req.ApprovalGroupID = strPtr("g2")
		p := f.createProject(t, req)
		f.submit(t, p.ID)

		updated, _, err := f.svc.SubmitDecision(ctx, p.ID, "lvl1", repository.ActionApproved, "")
		require.NoError(t, err)
		assert.Equal(t, repository.StatusApproved, updated.Status)
	})

	t.Run("non-member outranking the group may not act", func(t *testing.T) {
		f := newFixture(t)
		req := singleApprovalRequest(2)
		req.ApprovalType = repository.ApprovalTypeGroup
		req.ApproverID = nil
		req.ApprovalGroupID = strPtr("g2")
		p := f.createProject(t, req)
		f.submit(t, p.ID)

		_, _, err := f.svc.SubmitDecision(ctx, p.ID, "lvl3", repository.ActionApproved, "")
		assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))
	})
}

func TestSubmitDecisionTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("reject records comments and status", func(t *testing.T) {
		f := newFixture(t)
		p := f.createProject(t, singleApprovalRequest(2))
		f.submit(t, p.ID)

		updated, entry, err := f.svc.SubmitDecision(ctx, p.ID, "lvl3", repository.ActionRejected, "budget unrealistic")
		require.NoError(t, err)
		assert.Equal(t, repository.StatusRejected, updated.Status)
		require.NotNil(t, entry.Comments)
		assert.Equal(t, "budget unrealistic", *entry.Comments)

		history, err := f.svc.GetApprovalHistory(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, repository.ActionRejected, history[0].Action)
	})

	t.Run("reject without comments refused", func(t *testing.T) {
		f := newFixture(t)
		p := f.createProject(t, singleApprovalRequest(2))
		f.submit(t, p.ID)

		_, _, err := f.svc.SubmitDecision(ctx, p.ID, "lvl3", repository.ActionRejected, "   ")
		assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

		got, _ := f.store.GetByID(ctx, p.ID)
		assert.Equal(t, repository.StatusPendingApproval, got.Status)
	})

	t.Run("changes requested keeps project actionable", func(t *testing.T) {
		f := newFixture(t)
		p := f.createProject(t, singleApprovalRequest(2))
		f.submit(t, p.ID)

		updated, _, err := f.svc.SubmitDecision(ctx, p.ID, "lvl3", repository.ActionChangesRequested, "split phase 2 out")
		require.NoError(t, err)
		assert.Equal(t, repository.StatusPendingApproval, updated.Status)

		// a second decision still goes through
		updated, _, err = f.svc.SubmitDecision(ctx, p.ID, "lvl3", repository.ActionApproved, "")
		require.NoError(t, err)
		assert.Equal(t, repository.StatusApproved, updated.Status)

		history, _ := f.svc.GetApprovalHistory(ctx, p.ID)
		assert.Len(t, history, 2)
	})

	t.Run("unknown action", func(t *testing.T) {
		f := newFixture(t)
		p := f.createProject(t, singleApprovalRequest(2))
		f.submit(t, p.ID)

		_, _, err := f.svc.SubmitDecision(ctx, p.ID, "lvl3", "escalated", "x")
		assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	})

	t.Run("decision on a non-pending project", func(t *testing.T) {
		f := newFixture(t)
		p := f.createProject(t, singleApprovalRequest(2))

		_, _, err := f.svc.SubmitDecision(ctx, p.ID, "lvl3", repository.ActionApproved, "")
		assert.Equal(t, apperr.CodeInvalidState, apperr.CodeOf(err))
	})

	t.Run("second decision loses", func(t *testing.T) {
		f := newFixture(t)
		p := f.createProject(t, singleApprovalRequest(2))
		f.submit(t, p.ID)

		_, _, err := f.svc.SubmitDecision(ctx, p.ID, "lvl2", repository.ActionApproved, "")
		require.NoError(t, err)

		_, _, err = f.svc.SubmitDecision(ctx, p.ID, "lvl3", repository.ActionRejected, "too late")
		assert.Equal(t, apperr.CodeInvalidState, apperr.CodeOf(err))

		history, _ := f.svc.GetApprovalHistory(ctx, p.ID)
		assert.Len(t, history, 1, "losing decision leaves no trace")
	})

	t.Run("approval publishes an event", func(t *testing.T) {
		f := newFixture(t)
		p := f.createProject(t, singleApprovalRequest(2))
		f.submit(t, p.ID)

		_, _, err := f.svc.SubmitDecision(ctx, p.ID, "lvl3", repository.ActionApproved, "")
		require.NoError(t, err)

		require.NotEmpty(t, f.events.events)
		last := f.events.events[len(f.events.events)-1]
		assert.Equal(t, "project_approved", last.EventType)
		assert.Equal(t, p.ID, last.ProjectID)
		assert.Equal(t, "lvl3", last.ActorID)
	})
}

func TestSubmitDecisionAtomicity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.createProject(t, singleApprovalRequest(2))
	f.submit(t, p.ID)

	f.store.failDecision = errors.New("connection reset")

	_, _, err := f.svc.SubmitDecision(ctx, p.ID, "lvl3", repository.ActionApproved, "")
	require.Error(t, err)

	got, _ := f.store.GetByID(ctx, p.ID)
	assert.Equal(t, repository.StatusPendingApproval, got.Status, "status not applied on store failure")
	assert.Empty(t, f.store.history[p.ID], "history not applied on store failure")

	// once the store recovers the same decision goes through cleanly
	f.store.failDecision = nil
	updated, entry, err := f.svc.SubmitDecision(ctx, p.ID, "lvl3", repository.ActionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusApproved, updated.Status)
	assert.NotNil(t, entry)
}

// ── Funding ───────────────────────────────────────────────────────────────────

func TestUpdatePaymentStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("mark paid stamps entry and spares siblings", func(t *testing.T) {
		f := newFixture(t)
		p := f.createProject(t, singleApprovalRequest(2))
		target, sibling := p.FundingDetails[0], p.FundingDetails[1]

		updated, err := f.svc.UpdatePaymentStatus(ctx, p.ID, target.ID, repository.PaymentStatusPaid, "lvl2")
		require.NoError(t, err)

		var got *repository.FundingDetail
		for _, fd := range updated.FundingDetails {
			if fd.ID == target.ID {
				got = fd
			}
		}
		require.NotNil(t, got)
		assert.Equal(t, repository.PaymentStatusPaid, got.PaymentStatus)
		require.NotNil(t, got.PaidDate)
		assert.Equal(t, "lvl2", *got.PaidBy)

		assert.Equal(t, repository.PaymentStatusUnpaid, sibling.PaymentStatus)
		assert.Nil(t, sibling.PaidDate)
	})

	t.Run("double pay rejected", func(t *testing.T) {
		f := newFixture(t)
		p := f.createProject(t, singleApprovalRequest(2))
		target := p.FundingDetails[0]

		_, err := f.svc.UpdatePaymentStatus(ctx, p.ID, target.ID, repository.PaymentStatusPaid, "lvl2")
		require.NoError(t, err)

		_, err = f.svc.UpdatePaymentStatus(ctx, p.ID, target.ID, repository.PaymentStatusPaid, "lvl3")
		assert.Equal(t, apperr.CodeInvalidState, apperr.CodeOf(err))
		assert.Equal(t, "lvl2", *target.PaidBy, "original stamp preserved")
	})

	t.Run("mark unpaid clears the stamp", func(t *testing.T) {
		f := newFixture(t)
		p := f.createProject(t, singleApprovalRequest(2))
		target := p.FundingDetails[0]

		_, err := f.svc.UpdatePaymentStatus(ctx, p.ID, target.ID, repository.PaymentStatusPaid, "lvl2")
		require.NoError(t, err)
		_, err = f.svc.UpdatePaymentStatus(ctx, p.ID, target.ID, repository.PaymentStatusUnpaid, "")
		require.NoError(t, err)

		assert.Equal(t, repository.PaymentStatusUnpaid, target.PaymentStatus)
		assert.Nil(t, target.PaidDate)
		assert.Nil(t, target.PaidBy)
	})

	t.Run("paid requires paid_by", func(t *testing.T) {
		f := newFixture(t)
		p := f.createProject(t, singleApprovalRequest(2))

		_, err := f.svc.UpdatePaymentStatus(ctx, p.ID, p.FundingDetails[0].ID, repository.PaymentStatusPaid, "")
		assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	})

	t.Run("unknown funding entry", func(t *testing.T) {
		f := newFixture(t)
		p := f.createProject(t, singleApprovalRequest(2))

		_, err := f.svc.UpdatePaymentStatus(ctx, p.ID, "missing", repository.PaymentStatusPaid, "lvl2")
		assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
	})
}

func TestReplaceFundingSchedule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.createProject(t, singleApprovalRequest(2))

	t.Run("new schedule over budget refused", func(t *testing.T) {
		_, err := f.svc.ReplaceFundingSchedule(ctx, p.ID, []*FundingDetailRequest{
			{Type: repository.FundingTypeBudget, Amount: decimal.RequireFromString("10001"), DueDate: "2026-06-01"},
		})
		assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	})

	t.Run("valid schedule replaces the old one", func(t *testing.T) {
		updated, err := f.svc.ReplaceFundingSchedule(ctx, p.ID, []*FundingDetailRequest{
			{Type: repository.FundingTypeBudget, Amount: decimal.RequireFromString("9000"), DueDate: "2026-06-01"},
		})
		require.NoError(t, err)
		require.Len(t, updated.FundingDetails, 1)
		assert.True(t, updated.FundingDetails[0].Amount.Equal(decimal.RequireFromString("9000")))
	})
}

func TestUpdateBudget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.createProject(t, singleApprovalRequest(2)) // 7000 allocated of 10000

	t.Run("lowering below allocation blocked", func(t *testing.T) {
		_, err := f.svc.UpdateBudget(ctx, p.ID, decimal.RequireFromString("6000"))
		require.Error(t, err)
		assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
		assert.Contains(t, apperr.MessageOf(err), "cannot be lowered below allocated funding")

		got, _ := f.store.GetByID(ctx, p.ID)
		assert.True(t, got.Budget.Equal(decimal.RequireFromString("10000")))
	})

	t.Run("lowering to the allocation is allowed", func(t *testing.T) {
		updated, err := f.svc.UpdateBudget(ctx, p.ID, decimal.RequireFromString("7000"))
		require.NoError(t, err)
		assert.True(t, updated.Budget.Equal(decimal.RequireFromString("7000")))
	})

	t.Run("non-positive budget refused", func(t *testing.T) {
		_, err := f.svc.UpdateBudget(ctx, p.ID, decimal.Zero)
		assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	})
}

// ── Hold / resume ─────────────────────────────────────────────────────────────

func TestHoldResume(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.createProject(t, singleApprovalRequest(2))
	f.submit(t, p.ID)
	_, _, err := f.svc.SubmitDecision(ctx, p.ID, "lvl3", repository.ActionApproved, "")
	require.NoError(t, err)

	held, err := f.svc.HoldProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusOnHold, held.Status)

	resumed, err := f.svc.ResumeProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusApproved, resumed.Status, "resume restores the pre-hold status")
	assert.Nil(t, resumed.HeldFromStatus)

	t.Run("draft cannot be held", func(t *testing.T) {
		draft := f.createProject(t, singleApprovalRequest(1))
		_, err := f.svc.HoldProject(ctx, draft.ID)
		assert.Equal(t, apperr.CodeInvalidState, apperr.CodeOf(err))
	})

	t.Run("resume requires on_hold", func(t *testing.T) {
		_, err := f.svc.ResumeProject(ctx, p.ID)
		assert.Equal(t, apperr.CodeInvalidState, apperr.CodeOf(err))
	})
}

// ── Queries ───────────────────────────────────────────────────────────────────

func TestGetPendingApprovals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	low := f.createProject(t, singleApprovalRequest(1))
	high := f.createProject(t, singleApprovalRequest(3))
	f.submit(t, low.ID)
	f.submit(t, high.ID)
	f.createProject(t, singleApprovalRequest(1)) // stays draft

	t.Run("level 2 sees only what it can act on", func(t *testing.T) {
		actionable, err := f.svc.GetPendingApprovals(ctx, "lvl2")
		require.NoError(t, err)
		require.Len(t, actionable, 1)
		assert.Equal(t, low.ID, actionable[0].ID)
	})

	t.Run("level 3 sees both", func(t *testing.T) {
		actionable, err := f.svc.GetPendingApprovals(ctx, "lvl3")
		require.NoError(t, err)
		assert.Len(t, actionable, 2)
	})
}

func TestGetProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.createProject(t, singleApprovalRequest(2))

	pr, err := f.svc.GetProgress(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, pr.Total)
	assert.Equal(t, 1, pr.Completed)
	assert.InDelta(t, 25.0, pr.Percent, 0.001)
}

func TestDeleteProject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("draft deletes", func(t *testing.T) {
		p := f.createProject(t, singleApprovalRequest(1))
		require.NoError(t, f.svc.DeleteProject(ctx, p.ID))

		_, err := f.svc.GetProject(ctx, p.ID)
		assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
	})

	t.Run("submitted project refuses deletion", func(t *testing.T) {
		p := f.createProject(t, singleApprovalRequest(1))
		f.submit(t, p.ID)

		err := f.svc.DeleteProject(ctx, p.ID)
		assert.Equal(t, apperr.CodeInvalidState, apperr.CodeOf(err))
	})
}
