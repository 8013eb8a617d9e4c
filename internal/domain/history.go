package domain

import "time"

// HistoryAction names the mutating action an audit entry records.
type HistoryAction string

const (
	ActionCreated       HistoryAction = "CREATED"
	ActionEdited        HistoryAction = "EDITED"
	ActionStatusChanged HistoryAction = "STATUS_CHANGED"
	ActionAssigned      HistoryAction = "ASSIGNED"
	ActionDeleted       HistoryAction = "DELETED"
)

// HistoryEntry is an immutable audit record for a single request mutation.
// Entries are append-only; the ordered sequence per request is the
// authoritative trail and reconstructs the status at any point in time.
type HistoryEntry struct {
	ID        string
	RequestID string
	Action    HistoryAction
	OldStatus RequestStatus
	NewStatus RequestStatus
	ActorID   *string
	Details   map[string]any
	CreatedAt time.Time
}
