// Package permission centralizes every authorization decision for the
// request workflow so role checks are not duplicated across handlers.
package permission

import "github.com/spec-kit/request-service/internal/domain"

// Action names a requested workflow operation.
type Action string

const (
	ActionEdit     Action = "edit"
	ActionSubmit   Action = "submit"
	ActionReview   Action = "review"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionComplete Action = "complete"
	ActionAssign   Action = "assign"
	ActionDelete   Action = "delete"
)

// RoleAllowed reports whether the actor could ever perform the action,
// independent of the request's current status. A false here is a Forbidden,
// never an InvalidTransition.
func RoleAllowed(role domain.Role, isCreator bool, action Action) bool {
	switch action {
	case ActionEdit, ActionSubmit:
		return isCreator
	case ActionReview:
		return role == domain.RoleStaff
	case ActionApprove, ActionReject, ActionComplete, ActionAssign, ActionDelete:
		return role == domain.RoleAdmin
	}
	return false
}

// Allow is the single decision function for workflow mutations. It is pure:
// no side effects, no I/O.
func Allow(role domain.Role, isCreator bool, status domain.RequestStatus, action Action) bool {
	if !RoleAllowed(role, isCreator, action) {
		return false
	}
	switch action {
	case ActionEdit, ActionSubmit:
		return status == domain.RequestStatusDraft
	case ActionReview:
		return status == domain.RequestStatusSubmitted
	case ActionApprove, ActionReject:
		return status == domain.RequestStatusInReview
	case ActionComplete:
		return status == domain.RequestStatusApproved
	case ActionAssign:
		return !status.IsTerminal()
	case ActionDelete:
		return true
	}
	return false
}

// ActionForTransition maps a target status onto the workflow action that
// produces it. The second return is false for statuses that are never a
// transition target (DRAFT is only reachable at creation).
func ActionForTransition(target domain.RequestStatus) (Action, bool) {
	switch target {
	case domain.RequestStatusSubmitted:
		return ActionSubmit, true
	case domain.RequestStatusInReview:
		return ActionReview, true
	case domain.RequestStatusApproved:
		return ActionApprove, true
	case domain.RequestStatusRejected:
		return ActionReject, true
	case domain.RequestStatusCompleted:
		return ActionComplete, true
	}
	return "", false
}
