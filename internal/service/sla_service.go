package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/request-service/internal/domain"
	"github.com/spec-kit/request-service/internal/events"
	"github.com/spec-kit/request-service/internal/observability"
	"github.com/spec-kit/request-service/internal/repository"
	apperrors "github.com/spec-kit/request-service/pkg/util"
)

// SLAService computes breach status against response/resolution budgets and
// runs the periodic sweep. Evaluation is derived state: the same inputs and
// clock always produce the same metric.
type SLAService struct {
	requests   repository.RequestRepository
	history    repository.HistoryRepository
	sla        repository.SLARepository
	exemptions repository.ExemptionRepository
	dispatcher events.Dispatcher
	redis      breachCache
	metrics    *observability.Metrics
	logger     *zap.Logger
	clock      func() time.Time
}

// breachDedupTTL bounds how long a fast-path claim can outlive its insert.
const breachDedupTTL = 24 * time.Hour

// breachCache is the subset of the redis client the sweep uses as a dedup
// fast path.
type breachCache interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// SLADependencies bundles collaborators for the SLA service.
type SLADependencies struct {
	RequestRepo   repository.RequestRepository
	HistoryRepo   repository.HistoryRepository
	SLARepo       repository.SLARepository
	ExemptionRepo repository.ExemptionRepository
	Dispatcher    events.Dispatcher
	Redis         *redis.Client
	Metrics       *observability.Metrics
	Logger        *zap.Logger
	Clock         func() time.Time
}

// BreachFinding is one newly-detected breach reported by a sweep.
type BreachFinding struct {
	RequestID  string            `json:"request_id"`
	BreachType domain.BreachType `json:"breach_type"`
}

// NewSLAService constructs the service.
func NewSLAService(deps SLADependencies) *SLAService {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &SLAService{
		requests:   deps.RequestRepo,
		history:    deps.HistoryRepo,
		sla:        deps.SLARepo,
		exemptions: deps.ExemptionRepo,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		clock:      clock,
	}
	if deps.Redis != nil {
		svc.redis = deps.Redis
	}
	return svc
}

// Evaluate recomputes the SLA metric for one request. A missing definition is
// "no obligation", not an error.
func (s *SLAService) Evaluate(ctx context.Context, requestID string) (*domain.SLAMetric, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewNotFound("service request", map[string]any{"id": requestID})
		}
		return nil, apperrors.MapError(err)
	}
	return s.evaluateRequest(ctx, req)
}

func (s *SLAService) evaluateRequest(ctx context.Context, req *domain.ServiceRequest) (*domain.SLAMetric, error) {
	now := s.clock()
	metric := &domain.SLAMetric{
		RequestID:   req.ID,
		BreachType:  domain.BreachNone,
		EvaluatedAt: now,
	}

	def, err := s.resolveDefinition(ctx, req.Category, req.Priority)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if def == nil {
		// no active definition for the pair: no SLA obligation
		metric.ResponseMet = true
		metric.ResolutionMet = true
		return metric, nil
	}
	metric.HasObligation = true
	metric.DefinitionID = &def.ID

	exemptions, err := s.exemptions.ListByRequest(ctx, req.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	exempt := func(breachType domain.BreachType) bool {
		for _, e := range exemptions {
			if e.ActiveAt(now) && e.Scope.Covers(breachType) {
				return true
			}
		}
		return false
	}

	// Response: creation to first IN_REVIEW, or to now while still waiting.
	firstReview, err := s.history.FirstTransitionTo(ctx, req.ID, domain.RequestStatusInReview)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	responseEnd := now
	if firstReview != nil {
		responseEnd = *firstReview
	}
	responseOver := responseEnd.Sub(req.CreatedAt) > def.ResponseBudget
	metric.ResponseMet = !responseOver || exempt(domain.BreachResponse)

	// Resolution: creation to terminal status, or to now while open.
	resolutionEnd := now
	if req.Status.IsTerminal() {
		if req.ClosedAt != nil {
			resolutionEnd = *req.ClosedAt
		} else {
			resolutionEnd = req.UpdatedAt
		}
	}
	resolutionOver := resolutionEnd.Sub(req.CreatedAt) > def.ResolutionBudget
	metric.ResolutionMet = !resolutionOver || exempt(domain.BreachResolution)

	switch {
	case !metric.ResponseMet:
		metric.IsBreached = true
		metric.BreachType = domain.BreachResponse
	case !metric.ResolutionMet:
		metric.IsBreached = true
		metric.BreachType = domain.BreachResolution
	}
	return metric, nil
}

// resolveDefinition looks up (category, priority), falling back to the
// DEFAULT category bucket for the priority.
func (s *SLAService) resolveDefinition(ctx context.Context, category domain.RequestCategory, priority domain.RequestPriority) (*domain.SLADefinition, error) {
	def, err := s.sla.GetActiveDefinition(ctx, category, priority)
	if err != nil || def != nil {
		return def, err
	}
	return s.sla.GetActiveDefinition(ctx, domain.DefaultSLACategory, priority)
}

// Sweep re-evaluates every non-terminal request and reports breaches not seen
// by a previous sweep. A failure on one request never aborts the rest.
func (s *SLAService) Sweep(ctx context.Context) ([]BreachFinding, error) {
	open, err := s.requests.ListNonTerminal(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	var findings []BreachFinding
	for i := range open {
		req := &open[i]
		metric, err := s.evaluateRequest(ctx, req)
		if err != nil {
			s.logger.Warn("sla evaluation failed",
				zap.String("request_id", req.ID),
				zap.Error(err))
			continue
		}
		if !metric.IsBreached {
			continue
		}
		for _, breachType := range breachedTypes(metric) {
			inserted, err := s.recordBreach(ctx, req, metric, breachType)
			if err != nil {
				s.logger.Warn("breach record failed",
					zap.String("request_id", req.ID),
					zap.String("breach_type", string(breachType)),
					zap.Error(err))
				continue
			}
			if !inserted {
				continue
			}
			s.metrics.RecordBreach(string(breachType))
			findings = append(findings, BreachFinding{RequestID: req.ID, BreachType: breachType})
			s.publishBreach(ctx, req.ID, breachType)
		}
	}

	s.logger.Info("sla sweep completed",
		zap.Int("requests_checked", len(open)),
		zap.Int("new_breaches", len(findings)))
	return findings, nil
}

func breachedTypes(metric *domain.SLAMetric) []domain.BreachType {
	var types []domain.BreachType
	if !metric.ResponseMet {
		types = append(types, domain.BreachResponse)
	}
	if !metric.ResolutionMet {
		types = append(types, domain.BreachResolution)
	}
	return types
}

// recordBreach dedupes on (request, breach type). Redis provides a fast path
// with a bounded TTL; the unique constraint on sla_breaches is authoritative.
// A failed insert releases the fast-path claim so a later sweep retries it.
func (s *SLAService) recordBreach(ctx context.Context, req *domain.ServiceRequest, metric *domain.SLAMetric, breachType domain.BreachType) (bool, error) {
	var key string
	if s.redis != nil {
		key = "sla:breach:" + req.ID + ":" + string(breachType)
		set, err := s.redis.SetNX(ctx, key, 1, breachDedupTTL).Result()
		if err == nil && !set {
			return false, nil
		}
	}
	rec := &domain.BreachRecord{
		ID:           uuid.NewString(),
		RequestID:    req.ID,
		BreachType:   breachType,
		DefinitionID: metric.DefinitionID,
		BreachedAt:   metric.EvaluatedAt,
	}
	inserted, err := s.sla.RecordBreach(ctx, rec)
	if err != nil && key != "" {
		s.redis.Del(ctx, key)
	}
	return inserted, err
}

func (s *SLAService) publishBreach(ctx context.Context, requestID string, breachType domain.BreachType) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventSLABreachDetected,
		RequestID: requestID,
		Timestamp: s.clock(),
		Payload:   events.SLABreachDetectedPayload{BreachType: breachType},
	})
}

// GrantExemption records a time-bounded override. Staff and admin only.
func (s *SLAService) GrantExemption(ctx context.Context, actor *domain.User, requestID string, scope domain.ExemptionScope, reason string, endAt *time.Time) (*domain.Exemption, error) {
	if actor == nil || actor.Role == domain.RoleUser {
		return nil, apperrors.NewForbidden("staff role required to grant exemptions")
	}
	switch scope {
	case domain.ExemptionScopeResponse, domain.ExemptionScopeResolution, domain.ExemptionScopeBoth:
	default:
		return nil, apperrors.NewValidationError("unknown exemption scope", map[string]any{"scope": scope})
	}
	if _, err := s.requests.GetByID(ctx, requestID); err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NewNotFound("service request", map[string]any{"id": requestID})
		}
		return nil, apperrors.MapError(err)
	}

	exemption := &domain.Exemption{
		ID:        uuid.NewString(),
		RequestID: requestID,
		Reason:    reason,
		Scope:     scope,
		StartAt:   s.clock(),
		EndAt:     endAt,
		GrantedBy: &actor.ID,
	}
	if err := s.exemptions.Create(ctx, exemption); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.logger.Info("sla exemption granted",
		zap.String("request_id", requestID),
		zap.String("scope", string(scope)),
		zap.String("granted_by", actor.ID))
	return exemption, nil
}

// UpsertDefinition creates or updates the (category, priority) budgets.
func (s *SLAService) UpsertDefinition(ctx context.Context, actor *domain.User, def *domain.SLADefinition) error {
	if actor == nil || actor.Role != domain.RoleAdmin {
		return apperrors.NewForbidden("admin role required to manage SLA definitions")
	}
	if def.ResponseBudget <= 0 || def.ResolutionBudget <= 0 {
		return apperrors.NewValidationError("budgets must be positive", nil)
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	return apperrors.MapError(s.sla.UpsertDefinition(ctx, def))
}

// ListDefinitions returns all SLA definitions.
func (s *SLAService) ListDefinitions(ctx context.Context) ([]domain.SLADefinition, error) {
	return s.sla.ListDefinitions(ctx)
}

// BreachStats aggregates sweep findings over the trailing window.
func (s *SLAService) BreachStats(ctx context.Context, days int) (*domain.BreachStats, error) {
	if days <= 0 {
		days = 30
	}
	cutoff := s.clock().AddDate(0, 0, -days)
	stats, err := s.sla.BreachStatsSince(ctx, cutoff)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	stats.PeriodDays = days
	return stats, nil
}
