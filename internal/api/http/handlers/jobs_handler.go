package handlers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/request-service/internal/api/dto"
	"github.com/spec-kit/request-service/internal/domain"
	"github.com/spec-kit/request-service/internal/observability"
	"github.com/spec-kit/request-service/internal/repository"
	"github.com/spec-kit/request-service/internal/service"
	apperrors "github.com/spec-kit/request-service/pkg/util"
)

// JobsHandler exposes admin visibility into the background queue.
type JobsHandler struct {
	jobs     repository.JobRepository
	dispatch *service.DispatchService
	metrics  *observability.Metrics
}

// NewJobsHandler constructs handler.
func NewJobsHandler(jobs repository.JobRepository, dispatch *service.DispatchService, metrics *observability.Metrics) *JobsHandler {
	return &JobsHandler{jobs: jobs, dispatch: dispatch, metrics: metrics}
}

// ListDeadLetters GET /admin/jobs/dead-letters.
func (h *JobsHandler) ListDeadLetters(c *fiber.Ctx) error {
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 50)
	letters, err := h.jobs.ListDeadLetters(c.UserContext(), pageSize, (page-1)*pageSize)
	if err != nil {
		return apperrors.MapError(err)
	}
	items := make([]dto.DeadLetterResponse, 0, len(letters))
	for _, letter := range letters {
		items = append(items, dto.DeadLetterResponse{
			ID:        letter.ID,
			JobID:     letter.JobID,
			Queue:     letter.Queue,
			Type:      letter.Type,
			Attempts:  letter.Attempts,
			LastError: letter.LastError,
			CreatedAt: letter.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"data": items})
}

// QueueDepth GET /admin/jobs/queues.
func (h *JobsHandler) QueueDepth(c *fiber.Ctx) error {
	depths := fiber.Map{}
	for _, queueName := range []string{
		domain.QueueEmail,
		domain.QueueAnalytics,
		domain.QueueExports,
		domain.QueueBackup,
		domain.QueueMaintenance,
	} {
		count, err := h.jobs.CountPending(c.UserContext(), queueName)
		if err != nil {
			return apperrors.MapError(err)
		}
		depths[queueName] = count
	}
	return c.JSON(fiber.Map{"data": depths})
}

// TriggerExport POST /admin/jobs/exports.
func (h *JobsHandler) TriggerExport(c *fiber.Ctx) error {
	payload := json.RawMessage(c.Body())
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if !json.Valid(payload) {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := h.dispatch.Enqueue(c.UserContext(), domain.QueueExports, domain.JobExportRequests, payload); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// Metrics GET /admin/metrics.
func (h *JobsHandler) Metrics(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.metrics.Snapshot()})
}
