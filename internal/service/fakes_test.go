package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/propside/be-pm-projects/internal/apperr"
	"github.com/propside/be-pm-projects/internal/repository"
)

// In-memory fakes for the store and directory interfaces. fakeStore honors
// the same atomicity contract as the Postgres repository: ApplyDecision
// either applies both the transition and the history record or neither.

type fakeStore struct {
	projects map[string]*repository.Project
	history  map[string][]*repository.ApprovalHistoryEntry
	nextID   int

	failDecision error // injected fault: ApplyDecision fails without mutating
	failPayment  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects: make(map[string]*repository.Project),
		history:  make(map[string][]*repository.ApprovalHistoryEntry),
	}
}

func (f *fakeStore) Create(_ context.Context, p *repository.Project) error {
	f.nextID++
	p.ID = fmt.Sprintf("p-%d", f.nextID)
	p.Version = 1
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	for i, fd := range p.FundingDetails {
		fd.ID = fmt.Sprintf("%s-fd-%d", p.ID, i+1)
		fd.ProjectID = p.ID
	}
	f.projects[p.ID] = p
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (*repository.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, apperr.NotFound("project", id)
	}
	return p, nil
}

func (f *fakeStore) List(_ context.Context, filter repository.ListFilter) ([]*repository.Project, int64, error) {
	out := make([]*repository.Project, 0)
	for _, p := range f.projects {
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		if filter.PropertyID != nil && p.PropertyID != *filter.PropertyID {
			continue
		}
		out = append(out, p)
	}
	return out, int64(len(out)), nil
}

func (f *fakeStore) ListPendingApproval(ctx context.Context) ([]*repository.Project, error) {
	status := repository.StatusPendingApproval
	out, _, err := f.List(ctx, repository.ListFilter{Status: &status})
	return out, err
}

func (f *fakeStore) SubmitForApproval(ctx context.Context, id string) error {
	p, err := f.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p.Status != repository.StatusDraft && p.Status != repository.StatusPending {
		return apperr.New(apperr.CodeInvalidState, "project cannot be submitted from its current status")
	}
	p.Status = repository.StatusPendingApproval
	p.Version++
	return nil
}

func (f *fakeStore) ApplyDecision(ctx context.Context, projectID string, version int, d repository.ApprovalDecision) (*repository.Project, *repository.ApprovalHistoryEntry, error) {
	if f.failDecision != nil {
		return nil, nil, f.failDecision
	}
	p, err := f.GetByID(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	if p.Status != repository.StatusPendingApproval || p.Version != version {
		return nil, nil, apperr.New(apperr.CodeInvalidState,
			"project is not pending approval or was modified concurrently")
	}

	p.Status = d.NewStatus
	p.AssignedApproverID = &d.ApproverID
	p.Version++

	entry := &repository.ApprovalHistoryEntry{
		ID:         fmt.Sprintf("%s-h-%d", projectID, len(f.history[projectID])+1),
		ProjectID:  projectID,
		ApproverID: d.ApproverID,
		Action:     d.Action,
		Comments:   d.Comments,
		CreatedAt:  time.Now(),
	}
	f.history[projectID] = append(f.history[projectID], entry)
	return p, entry, nil
}

func (f *fakeStore) ReplaceFundingSchedule(ctx context.Context, projectID string, entries []*repository.FundingDetail) error {
	p, err := f.GetByID(ctx, projectID)
	if err != nil {
		return err
	}
	if p.Status != repository.StatusDraft && p.Status != repository.StatusPending {
		return apperr.New(apperr.CodeInvalidState, "funding schedule can only be edited on draft or pending projects")
	}
	for i, fd := range entries {
		fd.ID = fmt.Sprintf("%s-fd-%d", projectID, i+1)
		fd.ProjectID = projectID
	}
	p.FundingDetails = entries
	p.Version++
	return nil
}

func (f *fakeStore) UpdateFundingPayment(ctx context.Context, fd *repository.FundingDetail) error {
	if f.failPayment != nil {
		return f.failPayment
	}
	p, err := f.GetByID(ctx, fd.ProjectID)
	if err != nil {
		return err
	}
	for _, existing := range p.FundingDetails {
		if existing.ID == fd.ID {
			return nil // entries are shared pointers in the fake
		}
	}
	return apperr.NotFound("funding_detail", fd.ID)
}

func (f *fakeStore) UpdateBudget(ctx context.Context, id string, budget decimal.Decimal) error {
	p, err := f.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p.Status != repository.StatusDraft && p.Status != repository.StatusPending {
		return apperr.New(apperr.CodeInvalidState, "budget can only be edited on draft or pending projects")
	}
	p.Budget = budget
	p.Version++
	return nil
}

func (f *fakeStore) Hold(ctx context.Context, id string) error {
	p, err := f.GetByID(ctx, id)
	if err != nil {
		return err
	}
	switch p.Status {
	case repository.StatusApproved, repository.StatusPlanning, repository.StatusInProgress:
		prior := p.Status
		p.HeldFromStatus = &prior
		p.Status = repository.StatusOnHold
		p.Version++
		return nil
	default:
		return apperr.New(apperr.CodeInvalidState, "only approved, planning or in-progress projects can be put on hold")
	}
}

func (f *fakeStore) Resume(ctx context.Context, id string) error {
	p, err := f.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p.Status != repository.StatusOnHold || p.HeldFromStatus == nil {
		return apperr.New(apperr.CodeInvalidState, "project is not on hold")
	}
	p.Status = *p.HeldFromStatus
	p.HeldFromStatus = nil
	p.Version++
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	p, err := f.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p.Status != repository.StatusDraft && p.Status != repository.StatusPending {
		return apperr.New(apperr.CodeInvalidState, "cannot delete a submitted project")
	}
	delete(f.projects, id)
	return nil
}

// ListByProject implements HistoryStore.
func (f *fakeStore) ListByProject(_ context.Context, projectID string) ([]*repository.ApprovalHistoryEntry, error) {
	return f.history[projectID], nil
}

// ── Directories ───────────────────────────────────────────────────────────────

type fakeUsers map[string]*repository.User

func (f fakeUsers) GetByID(_ context.Context, id string) (*repository.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, apperr.NotFound("user", id)
}

type fakeGroups map[string]*repository.ApprovalGroup

func (f fakeGroups) GetByID(_ context.Context, id string) (*repository.ApprovalGroup, error) {
	if g, ok := f[id]; ok {
		return g, nil
	}
	return nil, apperr.NotFound("approval_group", id)
}

type fakeProperties map[string]*repository.Property

func (f fakeProperties) GetByID(_ context.Context, id string) (*repository.Property, error) {
	if p, ok := f[id]; ok {
		return p, nil
	}
	return nil, apperr.NotFound("property", id)
}

type fakeTasks struct {
	total, done int
}

func (f *fakeTasks) CountByProject(context.Context, string) (int, int, error) {
	return f.total, f.done, nil
}

type recordedEvent struct {
	EventType string
	ProjectID string
	ActorID   string
}

type fakeEvents struct {
	events []recordedEvent
}

func (f *fakeEvents) PublishProjectEvent(_ context.Context, eventType, projectID, actorID string, _ map[string]any) {
	f.events = append(f.events, recordedEvent{eventType, projectID, actorID})
}
