package service

import (
	"context"

	"github.com/propside/be-pm-projects/internal/apperr"
	"github.com/propside/be-pm-projects/internal/logger"
	"github.com/propside/be-pm-projects/internal/repository"
)

// GroupStore is the persistence gateway for approval groups.
type GroupStore interface {
	Create(ctx context.Context, g *repository.ApprovalGroup) error
	Update(ctx context.Context, g *repository.ApprovalGroup) error
	GetByID(ctx context.Context, id string) (*repository.ApprovalGroup, error)
	List(ctx context.Context) ([]*repository.ApprovalGroup, error)
}

// GroupService manages approval groups: level bounds and membership rules are
// enforced here, level uniqueness by the store.
type GroupService struct {
	store GroupStore
	users UserDirectory
	log   *logger.Logger
}

// NewGroupService creates a new approval group service.
func NewGroupService(store GroupStore, users UserDirectory, log *logger.Logger) *GroupService {
	return &GroupService{store: store, users: users, log: log}
}

// GroupRequest carries a create or update payload.
type GroupRequest struct {
	Name    string   `json:"name"`
	Level   int      `json:"level"`
	UserIDs []string `json:"user_ids"`
}

// CreateGroup validates and persists a new approval group.
func (s *GroupService) CreateGroup(ctx context.Context, req *GroupRequest) (*repository.ApprovalGroup, error) {
	if err := s.validate(ctx, req); err != nil {
		return nil, err
	}

	g := &repository.ApprovalGroup{
		Name:    req.Name,
		Level:   req.Level,
		UserIDs: req.UserIDs,
	}
	if err := s.store.Create(ctx, g); err != nil {
		return nil, err
	}

	s.log.Info().Str("group_id", g.ID).Int("level", g.Level).Msg("Approval group created")
	return g, nil
}

// UpdateGroup validates and persists changes to an existing group.
// Historical references from projects and history records stay valid.
func (s *GroupService) UpdateGroup(ctx context.Context, id string, req *GroupRequest) (*repository.ApprovalGroup, error) {
	if err := s.validate(ctx, req); err != nil {
		return nil, err
	}

	g, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	g.Name = req.Name
	g.Level = req.Level
	g.UserIDs = req.UserIDs

	if err := s.store.Update(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// GetGroup retrieves a group by ID.
func (s *GroupService) GetGroup(ctx context.Context, id string) (*repository.ApprovalGroup, error) {
	return s.store.GetByID(ctx, id)
}

// ListGroups returns all groups ordered by level.
func (s *GroupService) ListGroups(ctx context.Context) ([]*repository.ApprovalGroup, error) {
	return s.store.List(ctx)
}

func (s *GroupService) validate(ctx context.Context, req *GroupRequest) error {
	if req.Name == "" {
		return apperr.InvalidInput("name", "name is required")
	}
	if req.Level < 1 || req.Level > 3 {
		return apperr.InvalidInput("level", "level must be between 1 and 3")
	}
	if len(req.UserIDs) == 0 {
		return apperr.InvalidInput("user_ids", "a group needs at least one member")
	}
	for _, id := range req.UserIDs {
		u, err := s.users.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if u.IsArchived {
			return apperr.Newf(apperr.CodeValidation, "user %q is archived and cannot be a group member", id)
		}
	}
	return nil
}
