package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/request-service/internal/api/dto"
	"github.com/spec-kit/request-service/internal/auth"
	"github.com/spec-kit/request-service/internal/domain"
	"github.com/spec-kit/request-service/internal/repository"
	"github.com/spec-kit/request-service/internal/service"
	apperrors "github.com/spec-kit/request-service/pkg/util"
)

// RequestsHandler manages service request endpoints.
type RequestsHandler struct {
	service *service.RequestService
}

// NewRequestsHandler constructs handler.
func NewRequestsHandler(requestService *service.RequestService) *RequestsHandler {
	return &RequestsHandler{service: requestService}
}

// Create POST /requests.
func (h *RequestsHandler) Create(c *fiber.Ctx) error {
	actor := auth.UserFromContext(c)
	if actor == nil {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.CreateRequestRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Title) == "" {
		return apperrors.NewValidationError("title required", nil)
	}

	created, err := h.service.CreateRequest(c.UserContext(), actor, service.RequestCreateInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Priority:    req.Priority,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": requestSummary(created)})
}

// Edit PATCH /requests/:id.
func (h *RequestsHandler) Edit(c *fiber.Ctx) error {
	actor := auth.UserFromContext(c)
	if actor == nil {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.EditRequestRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	updated, err := h.service.EditRequest(c.UserContext(), actor, c.Params("id"), service.RequestEditInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Priority:    req.Priority,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestDetail(updated)})
}

// Transition POST /requests/:id/transition.
func (h *RequestsHandler) Transition(c *fiber.Ctx) error {
	actor := auth.UserFromContext(c)
	if actor == nil {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Status == "" {
		return apperrors.NewValidationError("status required", nil)
	}

	updated, err := h.service.Transition(c.UserContext(), actor, c.Params("id"), req.Status, req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestDetail(updated)})
}

// Assign POST /requests/:id/assign.
func (h *RequestsHandler) Assign(c *fiber.Ctx) error {
	actor := auth.UserFromContext(c)
	if actor == nil {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.AssignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.AssigneeID == "" {
		return apperrors.NewValidationError("assignee_id required", nil)
	}

	updated, err := h.service.Assign(c.UserContext(), actor, c.Params("id"), req.AssigneeID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestDetail(updated)})
}

// Delete DELETE /requests/:id.
func (h *RequestsHandler) Delete(c *fiber.Ctx) error {
	actor := auth.UserFromContext(c)
	if actor == nil {
		return apperrors.NewUnauthorized("user required")
	}
	if err := h.service.Delete(c.UserContext(), actor, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Get GET /requests/:id.
func (h *RequestsHandler) Get(c *fiber.Ctx) error {
	actor := auth.UserFromContext(c)
	if actor == nil {
		return apperrors.NewUnauthorized("user required")
	}
	req, err := h.service.GetRequest(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestDetail(req)})
}

// List GET /requests.
func (h *RequestsHandler) List(c *fiber.Ctx) error {
	actor := auth.UserFromContext(c)
	if actor == nil {
		return apperrors.NewUnauthorized("user required")
	}
	items, err := h.service.ListRequests(c.UserContext(), actor, parseRequestQuery(c))
	if err != nil {
		return err
	}
	summaries := make([]dto.RequestSummary, 0, len(items))
	for i := range items {
		summaries = append(summaries, requestSummary(&items[i]))
	}
	return c.JSON(fiber.Map{"data": summaries})
}

// History GET /requests/:id/history.
func (h *RequestsHandler) History(c *fiber.Ctx) error {
	actor := auth.UserFromContext(c)
	if actor == nil {
		return apperrors.NewUnauthorized("user required")
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 50)
	entries, err := h.service.ListHistory(c.UserContext(), actor, c.Params("id"), pageSize, (page-1)*pageSize)
	if err != nil {
		return err
	}
	items := make([]dto.HistoryEntryResponse, 0, len(entries))
	for i := range entries {
		items = append(items, historyEntryResponse(&entries[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

func parseRequestQuery(c *fiber.Ctx) repository.RequestFilter {
	filter := repository.RequestFilter{}
	if statusStr := c.Query("status"); statusStr != "" {
		for _, part := range strings.Split(statusStr, ",") {
			filter.Statuses = append(filter.Statuses, domain.RequestStatus(strings.TrimSpace(part)))
		}
	}
	if categoryStr := c.Query("category"); categoryStr != "" {
		for _, part := range strings.Split(categoryStr, ",") {
			filter.Categories = append(filter.Categories, domain.RequestCategory(strings.TrimSpace(part)))
		}
	}
	if priorityStr := c.Query("priority"); priorityStr != "" {
		for _, part := range strings.Split(priorityStr, ",") {
			filter.Priorities = append(filter.Priorities, domain.RequestPriority(strings.TrimSpace(part)))
		}
	}
	if search := c.Query("q"); search != "" {
		filter.SearchTerm = &search
	}
	if assignee := c.Query("assignee_id"); assignee != "" {
		filter.AssigneeID = &assignee
	}
	if from := parseTime(c.Query("created_from")); from != nil {
		filter.CreatedFrom = from
	}
	if to := parseTime(c.Query("created_to")); to != nil {
		filter.CreatedTo = to
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	return filter
}

func parseTime(val string) *time.Time {
	if val == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return nil
	}
	return &t
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func requestSummary(req *domain.ServiceRequest) dto.RequestSummary {
	return dto.RequestSummary{
		ID:          req.ID,
		ExternalKey: req.ExternalKey,
		Title:       req.Title,
		Category:    req.Category,
		Priority:    req.Priority,
		Status:      req.Status,
		AssigneeID:  req.AssigneeID,
		CreatedAt:   req.CreatedAt,
		UpdatedAt:   req.UpdatedAt,
	}
}

func requestDetail(req *domain.ServiceRequest) dto.RequestDetailResponse {
	return dto.RequestDetailResponse{
		ID:          req.ID,
		ExternalKey: req.ExternalKey,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Priority:    req.Priority,
		Status:      req.Status,
		CreatedBy:   req.CreatedBy,
		AssigneeID:  req.AssigneeID,
		CreatedAt:   req.CreatedAt,
		UpdatedAt:   req.UpdatedAt,
		ClosedAt:    req.ClosedAt,
	}
}

func historyEntryResponse(entry *domain.HistoryEntry) dto.HistoryEntryResponse {
	return dto.HistoryEntryResponse{
		ID:        entry.ID,
		Action:    entry.Action,
		OldStatus: entry.OldStatus,
		NewStatus: entry.NewStatus,
		ActorID:   entry.ActorID,
		Details:   entry.Details,
		CreatedAt: entry.CreatedAt,
	}
}
