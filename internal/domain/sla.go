package domain

import "time"

// DefaultSLACategory is the fallback bucket when no definition matches a
// request's own category.
const DefaultSLACategory RequestCategory = "DEFAULT"

// SLADefinition sets response/resolution budgets for a (category, priority)
// pair. At most one active definition exists per pair.
type SLADefinition struct {
	ID               string
	Category         RequestCategory
	Priority         RequestPriority
	ResponseBudget   time.Duration
	ResolutionBudget time.Duration
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// BreachType classifies which SLA dimension was missed.
type BreachType string

const (
	BreachNone       BreachType = "NONE"
	BreachResponse   BreachType = "RESPONSE"
	BreachResolution BreachType = "RESOLUTION"
)

// SLAMetric is the derived, recomputed-on-read breach classification for one
// request. It is never hand-edited.
type SLAMetric struct {
	RequestID     string
	DefinitionID  *string
	HasObligation bool
	ResponseMet   bool
	ResolutionMet bool
	IsBreached    bool
	BreachType    BreachType
	EvaluatedAt   time.Time
}

// BreachRecord is a persisted, deduplicated breach detection produced by the
// periodic sweep. One record exists per (request, breach type).
type BreachRecord struct {
	ID           string
	RequestID    string
	BreachType   BreachType
	DefinitionID *string
	BreachedAt   time.Time
	CreatedAt    time.Time
}

// ExemptionScope names the SLA dimension an exemption suppresses.
type ExemptionScope string

const (
	ExemptionScopeResponse   ExemptionScope = "RESPONSE"
	ExemptionScopeResolution ExemptionScope = "RESOLUTION"
	ExemptionScopeBoth       ExemptionScope = "BOTH"
)

// Covers reports whether the scope suppresses the given breach type.
func (s ExemptionScope) Covers(b BreachType) bool {
	switch s {
	case ExemptionScopeBoth:
		return b == BreachResponse || b == BreachResolution
	case ExemptionScopeResponse:
		return b == BreachResponse
	case ExemptionScopeResolution:
		return b == BreachResolution
	}
	return false
}

// Exemption is a time-bounded override suppressing breach classification for
// its scope. A nil EndAt means indefinite.
type Exemption struct {
	ID        string
	RequestID string
	Reason    string
	Scope     ExemptionScope
	StartAt   time.Time
	EndAt     *time.Time
	GrantedBy *string
	CreatedAt time.Time
}

// ActiveAt reports whether the exemption is in force at the given instant.
// Expiry is honored at evaluation time, not grant time.
func (e Exemption) ActiveAt(now time.Time) bool {
	if now.Before(e.StartAt) {
		return false
	}
	return e.EndAt == nil || now.Before(*e.EndAt)
}

// BreachStats aggregates sweep findings over a trailing window.
type BreachStats struct {
	TotalBreaches      int
	ResponseBreaches   int
	ResolutionBreaches int
	ByPriority         map[RequestPriority]int
	PeriodDays         int
}
