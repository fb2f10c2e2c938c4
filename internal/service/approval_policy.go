package service

import (
	"github.com/propside/be-pm-projects/internal/repository"
)

// Approval policy: pure decision logic for who may act on a pending approval
// and what each action transitions the project to. No mutation, no errors:
// inadmissible combinations simply return false and are rejected by the
// workflow service before anything is applied.

// CanAct reports whether user may decide the pending approval on project.
// Single mode gates on the user's approval level meeting the project's
// minimum. Group mode gates on membership in the assigned group plus the
// group's level meeting the minimum; the group argument is ignored in single
// mode and may be nil.
func CanAct(user *repository.User, project *repository.Project, group *repository.ApprovalGroup) bool {
	if user == nil || project == nil {
		return false
	}
	if project.Status != repository.StatusPendingApproval {
		return false
	}
	if user.IsArchived {
		return false
	}

	switch project.ApprovalType {
	case repository.ApprovalTypeSingle:
		return user.ApprovalLevel >= project.ApprovalLevel
	case repository.ApprovalTypeGroup:
		if group == nil || project.AssignedApprovalGroupID == nil || group.ID != *project.AssignedApprovalGroupID {
			return false
		}
		if group.Level < project.ApprovalLevel {
			return false
		}
		for _, id := range group.UserIDs {
			if id == user.ID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// ResolveTransition maps an approval action to the resulting project status.
// changes_requested is an explicit loop-back: the project stays in
// pending_approval with the feedback recorded in the history log.
func ResolveTransition(action string) (string, bool) {
	switch action {
	case repository.ActionApproved:
		return repository.StatusApproved, true
	case repository.ActionRejected:
		return repository.StatusRejected, true
	case repository.ActionChangesRequested:
		return repository.StatusPendingApproval, true
	default:
		return "", false
	}
}
