package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/request-service/internal/domain"
	"github.com/spec-kit/request-service/internal/events"
	"github.com/spec-kit/request-service/internal/observability"
	"github.com/spec-kit/request-service/internal/permission"
	"github.com/spec-kit/request-service/internal/repository"
	apperrors "github.com/spec-kit/request-service/pkg/util"
)

// RequestService owns the request lifecycle state machine. Every successful
// transition is atomic with its audit entry and emits exactly one domain
// event.
type RequestService struct {
	requests   repository.RequestRepository
	history    repository.HistoryRepository
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	clock      func() time.Time
}

// RequestDependencies bundles collaborators for the request service.
type RequestDependencies struct {
	RequestRepo repository.RequestRepository
	HistoryRepo repository.HistoryRepository
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	Clock       func() time.Time
}

// RequestCreateInput describes request creation payload.
type RequestCreateInput struct {
	Title       string
	Description string
	Category    domain.RequestCategory
	Priority    domain.RequestPriority
}

// RequestEditInput describes a draft edit payload. Nil fields are unchanged.
type RequestEditInput struct {
	Title       *string
	Description *string
	Category    *domain.RequestCategory
	Priority    *domain.RequestPriority
}

// NewRequestService constructs the service.
func NewRequestService(deps RequestDependencies) *RequestService {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestService{
		requests:   deps.RequestRepo,
		history:    deps.HistoryRepo,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		clock:      clock,
	}
}

var allowedTransitions = map[domain.RequestStatus][]domain.RequestStatus{
	domain.RequestStatusDraft:     {domain.RequestStatusSubmitted},
	domain.RequestStatusSubmitted: {domain.RequestStatusInReview},
	domain.RequestStatusInReview:  {domain.RequestStatusApproved, domain.RequestStatusRejected},
	domain.RequestStatusApproved:  {domain.RequestStatusCompleted},
	domain.RequestStatusRejected:  {},
	domain.RequestStatusCompleted: {},
}

func isValidTransition(current, next domain.RequestStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// CreateRequest creates a draft owned by the actor.
func (s *RequestService) CreateRequest(ctx context.Context, actor *domain.User, input RequestCreateInput) (*domain.ServiceRequest, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("actor required")
	}
	category := input.Category
	if category == "" {
		category = domain.CategoryOther
	}
	if !domain.ValidCategory(category) {
		return nil, apperrors.NewValidationError("unknown category", map[string]any{"category": category})
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}
	if !domain.ValidPriority(priority) {
		return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": priority})
	}

	req := &domain.ServiceRequest{
		ID:          uuid.NewString(),
		ExternalKey: generateRequestKey(),
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Category:    category,
		Priority:    priority,
		Status:      domain.RequestStatusDraft,
		CreatedBy:   actor.ID,
	}
	entry := &domain.HistoryEntry{
		RequestID: req.ID,
		Action:    domain.ActionCreated,
		OldStatus: domain.RequestStatusDraft,
		NewStatus: domain.RequestStatusDraft,
		ActorID:   &actor.ID,
		Details:   map[string]any{"title": req.Title},
	}
	if err := s.requests.Create(ctx, req, entry); err != nil {
		return nil, err
	}
	s.logger.Info("request created",
		zap.String("request_id", req.ID),
		zap.String("external_key", req.ExternalKey),
		zap.String("created_by", actor.ID))
	return req, nil
}

// EditRequest mutates a draft in place. Creator-only while status = DRAFT.
func (s *RequestService) EditRequest(ctx context.Context, actor *domain.User, requestID string, input RequestEditInput) (*domain.ServiceRequest, error) {
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	isCreator := actor != nil && req.CreatedBy == actor.ID
	if !permission.Allow(actorRole(actor), isCreator, req.Status, permission.ActionEdit) {
		return nil, apperrors.NewForbidden("only the creator may edit a draft")
	}

	changed := map[string]any{}
	if input.Title != nil {
		req.Title = strings.TrimSpace(*input.Title)
		changed["title"] = req.Title
	}
	if input.Description != nil {
		req.Description = strings.TrimSpace(*input.Description)
		changed["description"] = true
	}
	if input.Category != nil {
		if !domain.ValidCategory(*input.Category) {
			return nil, apperrors.NewValidationError("unknown category", map[string]any{"category": *input.Category})
		}
		req.Category = *input.Category
		changed["category"] = req.Category
	}
	if input.Priority != nil {
		if !domain.ValidPriority(*input.Priority) {
			return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": *input.Priority})
		}
		req.Priority = *input.Priority
		changed["priority"] = req.Priority
	}
	if len(changed) == 0 {
		return req, nil
	}

	entry := &domain.HistoryEntry{
		RequestID: req.ID,
		Action:    domain.ActionEdited,
		OldStatus: req.Status,
		NewStatus: req.Status,
		ActorID:   &actor.ID,
		Details:   changed,
	}
	if err := s.requests.Update(ctx, req, entry); err != nil {
		return nil, apperrors.MapError(err)
	}
	return req, nil
}

// Transition advances the request through the workflow. Role capability is
// checked before reachability, so an actor who could never perform the action
// gets Forbidden regardless of status, while a capable actor at the wrong
// status gets InvalidTransition. Failures of either kind leave status and
// history untouched.
func (s *RequestService) Transition(ctx context.Context, actor *domain.User, requestID string, target domain.RequestStatus, notes string) (*domain.ServiceRequest, error) {
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	action, ok := permission.ActionForTransition(target)
	if !ok {
		return nil, apperrors.NewInvalidTransition(string(req.Status), string(target))
	}
	isCreator := actor != nil && req.CreatedBy == actor.ID
	if !permission.RoleAllowed(actorRole(actor), isCreator, action) {
		return nil, apperrors.NewForbidden("actor may not perform " + string(action))
	}
	if !isValidTransition(req.Status, target) {
		return nil, apperrors.NewInvalidTransition(string(req.Status), string(target))
	}

	oldStatus := req.Status
	req.Status = target
	if target.IsTerminal() {
		now := s.clock()
		req.ClosedAt = &now
	}

	entry := &domain.HistoryEntry{
		RequestID: req.ID,
		Action:    domain.ActionStatusChanged,
		OldStatus: oldStatus,
		NewStatus: target,
		ActorID:   actorIDPtr(actor),
		Details:   map[string]any{"notes": notes},
	}
	if err := s.requests.UpdateStatus(ctx, req, oldStatus, entry); err != nil {
		req.Status = oldStatus
		req.ClosedAt = nil
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewConflict("request was modified concurrently", nil)
		}
		return nil, apperrors.MapError(err)
	}

	s.metrics.RecordTransition(string(oldStatus), string(target))
	s.logger.Info("request transitioned",
		zap.String("request_id", req.ID),
		zap.String("old_status", string(oldStatus)),
		zap.String("new_status", string(target)))

	if target == domain.RequestStatusSubmitted {
		s.publishEvent(ctx, events.Event{
			Type:      events.EventRequestSubmitted,
			RequestID: req.ID,
			ActorID:   actorIDPtr(actor),
			Payload: events.RequestSubmittedPayload{
				Title:    req.Title,
				Category: req.Category,
				Priority: req.Priority,
			},
		})
	} else {
		s.publishEvent(ctx, events.Event{
			Type:      events.EventRequestStatusChanged,
			RequestID: req.ID,
			ActorID:   actorIDPtr(actor),
			Payload: events.RequestStatusChangedPayload{
				OldStatus: oldStatus,
				NewStatus: target,
				Notes:     notes,
			},
		})
	}
	return req, nil
}

// Assign changes the assignee. This is a side-channel mutation, not a status
// transition: admin-only, any non-terminal status, repeatable.
func (s *RequestService) Assign(ctx context.Context, actor *domain.User, requestID, assigneeID string) (*domain.ServiceRequest, error) {
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	isCreator := actor != nil && req.CreatedBy == actor.ID
	if !permission.Allow(actorRole(actor), isCreator, req.Status, permission.ActionAssign) {
		return nil, apperrors.NewForbidden("only an admin may assign a non-terminal request")
	}

	previous := req.AssigneeID
	req.AssigneeID = &assigneeID
	entry := &domain.HistoryEntry{
		RequestID: req.ID,
		Action:    domain.ActionAssigned,
		OldStatus: req.Status,
		NewStatus: req.Status,
		ActorID:   actorIDPtr(actor),
		Details:   map[string]any{"assignee_id": assigneeID, "previous_assignee_id": previous},
	}
	if err := s.requests.UpdateAssignee(ctx, req, entry); err != nil {
		req.AssigneeID = previous
		return nil, apperrors.MapError(err)
	}

	s.publishEvent(ctx, events.Event{
		Type:      events.EventRequestAssigned,
		RequestID: req.ID,
		ActorID:   actorIDPtr(actor),
		Payload: events.RequestAssignedPayload{
			AssigneeID: assigneeID,
			Previous:   previous,
		},
	})
	return req, nil
}

// Delete removes a request. Admin-only regardless of status. Jobs referencing
// the request keep running and no-op when they find it gone.
func (s *RequestService) Delete(ctx context.Context, actor *domain.User, requestID string) error {
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if !permission.Allow(actorRole(actor), false, req.Status, permission.ActionDelete) {
		return apperrors.NewForbidden("only an admin may delete a request")
	}
	if err := s.requests.Delete(ctx, requestID); err != nil {
		return apperrors.MapError(err)
	}
	// cascade removes the stored trail, so the deletion itself is only
	// recorded here
	s.logger.Info("request deleted",
		zap.String("request_id", requestID),
		zap.String("action", string(domain.ActionDeleted)),
		zap.String("actor_id", actor.ID))
	return nil
}

// GetRequest fetches one request with ownership scoping: creators see their
// own, staff and admin see all.
func (s *RequestService) GetRequest(ctx context.Context, actor *domain.User, requestID string) (*domain.ServiceRequest, error) {
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, req) {
		return nil, apperrors.NewForbidden("access denied")
	}
	return req, nil
}

// ListRequests applies the actor's scope to the filter.
func (s *RequestService) ListRequests(ctx context.Context, actor *domain.User, filter repository.RequestFilter) ([]domain.ServiceRequest, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("actor required")
	}
	if actor.Role == domain.RoleUser {
		filter.CreatedBy = &actor.ID
	}
	return s.requests.ListWithFilter(ctx, filter)
}

// ListHistory returns the ordered audit trail for a request.
func (s *RequestService) ListHistory(ctx context.Context, actor *domain.User, requestID string, limit, offset int) ([]domain.HistoryEntry, error) {
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, req) {
		return nil, apperrors.NewForbidden("access denied")
	}
	return s.history.ListByRequest(ctx, requestID, limit, offset)
}

func (s *RequestService) getRequest(ctx context.Context, id string) (*domain.ServiceRequest, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewNotFound("service request", map[string]any{"id": id})
		}
		return nil, apperrors.MapError(err)
	}
	return req, nil
}

func (s *RequestService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock()
	}
	_ = s.dispatcher.Publish(ctx, event)
}

func canView(actor *domain.User, req *domain.ServiceRequest) bool {
	if actor == nil {
		return false
	}
	if actor.Role == domain.RoleStaff || actor.Role == domain.RoleAdmin {
		return true
	}
	return req.CreatedBy == actor.ID
}

func actorRole(actor *domain.User) domain.Role {
	if actor == nil {
		return domain.RoleUser
	}
	return actor.Role
}

func actorIDPtr(actor *domain.User) *string {
	if actor == nil {
		return nil
	}
	return &actor.ID
}

func generateRequestKey() string {
	return "REQ-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
