package domain

import "time"

// RequestStatus enumerates lifecycle states for service requests.
type RequestStatus string

const (
	RequestStatusDraft     RequestStatus = "DRAFT"
	RequestStatusSubmitted RequestStatus = "SUBMITTED"
	RequestStatusInReview  RequestStatus = "IN_REVIEW"
	RequestStatusApproved  RequestStatus = "APPROVED"
	RequestStatusRejected  RequestStatus = "REJECTED"
	RequestStatusCompleted RequestStatus = "COMPLETED"
)

// IsTerminal reports whether no further status transition is permitted.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusRejected
}

// RequestCategory enumerates the closed category set.
type RequestCategory string

const (
	CategoryCompliance RequestCategory = "COMPLIANCE"
	CategorySupport    RequestCategory = "SUPPORT"
	CategoryInquiry    RequestCategory = "INQUIRY"
	CategoryComplaint  RequestCategory = "COMPLAINT"
	CategoryOther      RequestCategory = "OTHER"
)

// ValidCategory reports whether the category is part of the closed set.
func ValidCategory(c RequestCategory) bool {
	switch c {
	case CategoryCompliance, CategorySupport, CategoryInquiry, CategoryComplaint, CategoryOther:
		return true
	}
	return false
}

// RequestPriority enumerates SLA urgency.
type RequestPriority string

const (
	PriorityLow    RequestPriority = "LOW"
	PriorityNormal RequestPriority = "NORMAL"
	PriorityHigh   RequestPriority = "HIGH"
	PriorityUrgent RequestPriority = "URGENT"
)

// ValidPriority reports whether the priority is known.
func ValidPriority(p RequestPriority) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ServiceRequest is the aggregate root for the regulated workflow.
type ServiceRequest struct {
	ID          string
	ExternalKey string
	Title       string
	Description string
	Category    RequestCategory
	Priority    RequestPriority
	Status      RequestStatus
	CreatedBy   string
	AssigneeID  *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time
}
