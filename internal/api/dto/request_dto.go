package dto

import (
	"time"

	"github.com/spec-kit/request-service/internal/domain"
)

// CreateRequestRequest payload.
type CreateRequestRequest struct {
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Category    domain.RequestCategory `json:"category"`
	Priority    domain.RequestPriority `json:"priority"`
}

// EditRequestRequest payload. Omitted fields are unchanged.
type EditRequestRequest struct {
	Title       *string                 `json:"title"`
	Description *string                 `json:"description"`
	Category    *domain.RequestCategory `json:"category"`
	Priority    *domain.RequestPriority `json:"priority"`
}

// TransitionRequest payload.
type TransitionRequest struct {
	Status domain.RequestStatus `json:"status"`
	Notes  string               `json:"notes"`
}

// AssignRequest payload.
type AssignRequest struct {
	AssigneeID string `json:"assignee_id"`
}

// RequestSummary response.
type RequestSummary struct {
	ID          string                 `json:"id"`
	ExternalKey string                 `json:"external_key"`
	Title       string                 `json:"title"`
	Category    domain.RequestCategory `json:"category"`
	Priority    domain.RequestPriority `json:"priority"`
	Status      domain.RequestStatus   `json:"status"`
	AssigneeID  *string                `json:"assignee_id,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// RequestDetailResponse provides full request info.
type RequestDetailResponse struct {
	ID          string                 `json:"id"`
	ExternalKey string                 `json:"external_key"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Category    domain.RequestCategory `json:"category"`
	Priority    domain.RequestPriority `json:"priority"`
	Status      domain.RequestStatus   `json:"status"`
	CreatedBy   string                 `json:"created_by"`
	AssigneeID  *string                `json:"assignee_id,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ClosedAt    *time.Time             `json:"closed_at,omitempty"`
}

// HistoryEntryResponse represents one audit entry.
type HistoryEntryResponse struct {
	ID        string               `json:"id"`
	Action    domain.HistoryAction `json:"action"`
	OldStatus domain.RequestStatus `json:"old_status"`
	NewStatus domain.RequestStatus `json:"new_status"`
	ActorID   *string              `json:"actor_id,omitempty"`
	Details   map[string]any       `json:"details,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}
