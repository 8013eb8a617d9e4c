package dto

import (
	"time"

	"github.com/spec-kit/request-service/internal/domain"
)

// SLAMetricResponse is the derived breach status for one request.
type SLAMetricResponse struct {
	RequestID     string            `json:"request_id"`
	DefinitionID  *string           `json:"definition_id,omitempty"`
	HasObligation bool              `json:"has_obligation"`
	ResponseMet   bool              `json:"response_met"`
	ResolutionMet bool              `json:"resolution_met"`
	IsBreached    bool              `json:"is_breached"`
	BreachType    domain.BreachType `json:"breach_type"`
	EvaluatedAt   time.Time         `json:"evaluated_at"`
}

// GrantExemptionRequest payload.
type GrantExemptionRequest struct {
	Scope  domain.ExemptionScope `json:"scope"`
	Reason string                `json:"reason"`
	EndAt  *time.Time            `json:"end_at"`
}

// ExemptionResponse payload.
type ExemptionResponse struct {
	ID        string                `json:"id"`
	RequestID string                `json:"request_id"`
	Scope     domain.ExemptionScope `json:"scope"`
	Reason    string                `json:"reason"`
	StartAt   time.Time             `json:"start_at"`
	EndAt     *time.Time            `json:"end_at,omitempty"`
	GrantedBy *string               `json:"granted_by,omitempty"`
}

// UpsertDefinitionRequest payload. Budgets are in seconds.
type UpsertDefinitionRequest struct {
	Category                domain.RequestCategory `json:"category"`
	Priority                domain.RequestPriority `json:"priority"`
	ResponseBudgetSeconds   int64                  `json:"response_budget_seconds"`
	ResolutionBudgetSeconds int64                  `json:"resolution_budget_seconds"`
	Active                  *bool                  `json:"active"`
}

// DefinitionResponse payload.
type DefinitionResponse struct {
	ID                      string                 `json:"id"`
	Category                domain.RequestCategory `json:"category"`
	Priority                domain.RequestPriority `json:"priority"`
	ResponseBudgetSeconds   int64                  `json:"response_budget_seconds"`
	ResolutionBudgetSeconds int64                  `json:"resolution_budget_seconds"`
	Active                  bool                   `json:"active"`
}

// BreachStatsResponse aggregates sweep findings over a trailing window.
type BreachStatsResponse struct {
	PeriodDays         int                            `json:"period_days"`
	TotalBreaches      int                            `json:"total_breaches"`
	ResponseBreaches   int                            `json:"response_breaches"`
	ResolutionBreaches int                            `json:"resolution_breaches"`
	ByPriority         map[domain.RequestPriority]int `json:"by_priority,omitempty"`
}

// DeadLetterResponse payload.
type DeadLetterResponse struct {
	ID        string         `json:"id"`
	JobID     string         `json:"job_id"`
	Queue     string         `json:"queue"`
	Type      domain.JobType `json:"type"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"last_error"`
	CreatedAt time.Time      `json:"created_at"`
}
