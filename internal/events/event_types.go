package events

import (
	"time"

	"github.com/spec-kit/request-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventRequestSubmitted     EventType = "request_submitted"
	EventRequestStatusChanged EventType = "request_status_changed"
	EventRequestAssigned      EventType = "request_assigned"
	EventSLABreachDetected    EventType = "sla_breach_detected"
)

// Event represents a domain event emitted by services. Delivery downstream is
// at-least-once; consumers dedupe on DedupKey().
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	RequestID string      `json:"request_id"`
	ActorID   *string     `json:"actor_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// RequestSubmittedPayload payload.
type RequestSubmittedPayload struct {
	Title    string                 `json:"title"`
	Category domain.RequestCategory `json:"category"`
	Priority domain.RequestPriority `json:"priority"`
}

// RequestStatusChangedPayload payload.
type RequestStatusChangedPayload struct {
	OldStatus domain.RequestStatus `json:"old_status"`
	NewStatus domain.RequestStatus `json:"new_status"`
	Notes     string               `json:"notes,omitempty"`
}

// RequestAssignedPayload payload.
type RequestAssignedPayload struct {
	AssigneeID string  `json:"assignee_id"`
	Previous   *string `json:"previous_assignee_id,omitempty"`
}

// SLABreachDetectedPayload payload.
type SLABreachDetectedPayload struct {
	BreachType domain.BreachType `json:"breach_type"`
}
