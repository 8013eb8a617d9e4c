package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/request-service/internal/api/dto"
	"github.com/spec-kit/request-service/internal/auth"
	"github.com/spec-kit/request-service/internal/domain"
	"github.com/spec-kit/request-service/internal/service"
	apperrors "github.com/spec-kit/request-service/pkg/util"
)

// SLAHandler exposes SLA evaluation, exemption, and definition endpoints.
type SLAHandler struct {
	service  *service.SLAService
	requests *service.RequestService
}

// NewSLAHandler constructs handler.
func NewSLAHandler(slaService *service.SLAService, requestService *service.RequestService) *SLAHandler {
	return &SLAHandler{service: slaService, requests: requestService}
}

// Evaluate GET /requests/:id/sla. Visibility follows the request itself:
// creators see their own, staff and admin see all.
func (h *SLAHandler) Evaluate(c *fiber.Ctx) error {
	actor := auth.UserFromContext(c)
	if actor == nil {
		return apperrors.NewUnauthorized("user required")
	}
	if _, err := h.requests.GetRequest(c.UserContext(), actor, c.Params("id")); err != nil {
		return err
	}
	metric, err := h.service.Evaluate(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": slaMetricResponse(metric)})
}

// GrantExemption POST /requests/:id/sla/exemptions.
func (h *SLAHandler) GrantExemption(c *fiber.Ctx) error {
	actor := auth.UserFromContext(c)
	if actor == nil {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.GrantExemptionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Reason == "" {
		return apperrors.NewValidationError("reason required", nil)
	}

	exemption, err := h.service.GrantExemption(c.UserContext(), actor, c.Params("id"), req.Scope, req.Reason, req.EndAt)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": exemptionResponse(exemption)})
}

// UpsertDefinition PUT /sla/definitions.
func (h *SLAHandler) UpsertDefinition(c *fiber.Ctx) error {
	actor := auth.UserFromContext(c)
	if actor == nil {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.UpsertDefinitionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	def := &domain.SLADefinition{
		Category:         req.Category,
		Priority:         req.Priority,
		ResponseBudget:   time.Duration(req.ResponseBudgetSeconds) * time.Second,
		ResolutionBudget: time.Duration(req.ResolutionBudgetSeconds) * time.Second,
		Active:           active,
	}
	if err := h.service.UpsertDefinition(c.UserContext(), actor, def); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": definitionResponse(def)})
}

// ListDefinitions GET /sla/definitions.
func (h *SLAHandler) ListDefinitions(c *fiber.Ctx) error {
	defs, err := h.service.ListDefinitions(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]dto.DefinitionResponse, 0, len(defs))
	for i := range defs {
		items = append(items, definitionResponse(&defs[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// BreachStats GET /sla/stats.
func (h *SLAHandler) BreachStats(c *fiber.Ctx) error {
	days := parseInt(c.Query("days"), 30)
	stats, err := h.service.BreachStats(c.UserContext(), days)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.BreachStatsResponse{
		PeriodDays:         stats.PeriodDays,
		TotalBreaches:      stats.TotalBreaches,
		ResponseBreaches:   stats.ResponseBreaches,
		ResolutionBreaches: stats.ResolutionBreaches,
		ByPriority:         stats.ByPriority,
	}})
}

func slaMetricResponse(metric *domain.SLAMetric) dto.SLAMetricResponse {
	return dto.SLAMetricResponse{
		RequestID:     metric.RequestID,
		DefinitionID:  metric.DefinitionID,
		HasObligation: metric.HasObligation,
		ResponseMet:   metric.ResponseMet,
		ResolutionMet: metric.ResolutionMet,
		IsBreached:    metric.IsBreached,
		BreachType:    metric.BreachType,
		EvaluatedAt:   metric.EvaluatedAt,
	}
}

func exemptionResponse(exemption *domain.Exemption) dto.ExemptionResponse {
	return dto.ExemptionResponse{
		ID:        exemption.ID,
		RequestID: exemption.RequestID,
		Scope:     exemption.Scope,
		Reason:    exemption.Reason,
		StartAt:   exemption.StartAt,
		EndAt:     exemption.EndAt,
		GrantedBy: exemption.GrantedBy,
	}
}

func definitionResponse(def *domain.SLADefinition) dto.DefinitionResponse {
	return dto.DefinitionResponse{
		ID:                      def.ID,
		Category:                def.Category,
		Priority:                def.Priority,
		ResponseBudgetSeconds:   int64(def.ResponseBudget / time.Second),
		ResolutionBudgetSeconds: int64(def.ResolutionBudget / time.Second),
		Active:                  def.Active,
	}
}
