package worker

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/request-service/internal/config"
	"github.com/spec-kit/request-service/internal/domain"
	"github.com/spec-kit/request-service/internal/repository"
	"github.com/spec-kit/request-service/internal/service"
	apperrors "github.com/spec-kit/request-service/pkg/util"
)

// Handlers owns the per-job-type processing logic run by the pool.
type Handlers struct {
	requests repository.RequestRepository
	history  repository.HistoryRepository
	users    repository.UserRepository
	sla      *service.SLAService
	notifier service.Notifier
	logger   *zap.Logger
	clock    func() time.Time

	postgresDSN string
	backupDir   string
	exportDir   string
	historyDays int
}

// HandlerDependencies bundles the handlers' collaborators.
type HandlerDependencies struct {
	Requests repository.RequestRepository
	History  repository.HistoryRepository
	Users    repository.UserRepository
	SLA      *service.SLAService
	Notifier service.Notifier
	Logger   *zap.Logger
	Config   config.Config
	Clock    func() time.Time
}

// NewHandlers builds the handler set.
func NewHandlers(deps HandlerDependencies) *Handlers {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Handlers{
		requests:    deps.Requests,
		history:     deps.History,
		users:       deps.Users,
		sla:         deps.SLA,
		notifier:    deps.Notifier,
		logger:      deps.Logger,
		clock:       clock,
		postgresDSN: deps.Config.Postgres.DSN,
		backupDir:   deps.Config.Backup.Dir,
		exportDir:   deps.Config.Export.Dir,
		historyDays: deps.Config.Retention.HistoryDays,
	}
}

// RegisterAll wires every handler into the pool.
func (h *Handlers) RegisterAll(pool *Pool) {
	pool.Register(domain.JobNotifySubmitted, h.HandleNotify)
	pool.Register(domain.JobNotifyAssigned, h.HandleNotify)
	pool.Register(domain.JobNotifyStatusChange, h.HandleNotify)
	pool.Register(domain.JobNotifyBreach, h.HandleNotify)
	pool.Register(domain.JobSLASweep, h.HandleSLASweep)
	pool.Register(domain.JobExportRequests, h.HandleExportRequests)
	pool.Register(domain.JobBackupDatabase, h.HandleBackupDatabase)
	pool.Register(domain.JobRetentionCleanup, h.HandleRetentionCleanup)
}

// HandleNotify delivers an email for a request event plus a webhook mirror.
// Assignment mail goes to the assignee; everything else goes to the creator.
// A request deleted between dispatch and delivery acks the job instead of
// retrying: the work it was enqueued for no longer exists.
func (h *Handlers) HandleNotify(ctx context.Context, job *domain.Job) error {
	var payload service.NotifyPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode notify payload: %w", err)
	}

	req, err := h.requests.GetByID(ctx, payload.RequestID)
	if err != nil {
		if apperrors.IsCode(apperrors.MapError(err), apperrors.CodeNotFound) {
			h.logger.Info("notify skipped, request gone",
				zap.String("request_id", payload.RequestID),
				zap.String("job_type", string(job.Type)))
			return nil
		}
		return err
	}

	recipientID, ok := notifyRecipient(job.Type, req)
	if !ok {
		h.logger.Info("notify skipped, no recipient",
			zap.String("request_id", req.ID),
			zap.String("job_type", string(job.Type)))
		return h.notifier.SendWebhook(ctx, payload.EventType, job.Payload)
	}

	recipient, err := h.users.GetByID(ctx, recipientID)
	if err != nil {
		if apperrors.IsCode(apperrors.MapError(err), apperrors.CodeNotFound) {
			h.logger.Warn("notify recipient missing",
				zap.String("request_id", req.ID),
				zap.String("user_id", recipientID))
			return h.notifier.SendWebhook(ctx, payload.EventType, job.Payload)
		}
		return err
	}

	if recipient.Email != "" {
		subject := fmt.Sprintf("[%s] %s", req.ExternalKey, notifySubject(job.Type))
		body := fmt.Sprintf("Request %s (%q) is now %s.", req.ExternalKey, req.Title, req.Status)
		if sendErr := h.notifier.SendEmail(ctx, recipient.Email, subject, body); sendErr != nil {
			return sendErr
		}
	}

	return h.notifier.SendWebhook(ctx, payload.EventType, job.Payload)
}

// notifyRecipient resolves who a notification addresses: the assignee for
// assignment jobs, the request creator otherwise. An assignment job for a
// request with no assignee has nobody to mail.
func notifyRecipient(jobType domain.JobType, req *domain.ServiceRequest) (string, bool) {
	if jobType == domain.JobNotifyAssigned {
		if req.AssigneeID == nil {
			return "", false
		}
		return *req.AssigneeID, true
	}
	return req.CreatedBy, true
}

func notifySubject(jobType domain.JobType) string {
	switch jobType {
	case domain.JobNotifySubmitted:
		return "request submitted"
	case domain.JobNotifyAssigned:
		return "request assigned"
	case domain.JobNotifyBreach:
		return "SLA breached"
	default:
		return "request updated"
	}
}

// HandleSLASweep evaluates every open request for SLA breaches.
func (h *Handlers) HandleSLASweep(ctx context.Context, job *domain.Job) error {
	findings, err := h.sla.Sweep(ctx)
	if err != nil {
		return err
	}
	h.logger.Info("sla sweep finished", zap.Int("new_breaches", len(findings)))
	return nil
}

// ExportPayload narrows which requests an export covers. Zero values export
// everything.
type ExportPayload struct {
	Statuses   []domain.RequestStatus   `json:"statuses,omitempty"`
	Categories []domain.RequestCategory `json:"categories,omitempty"`
}

// HandleExportRequests writes matching requests as a CSV file into the export
// directory.
func (h *Handlers) HandleExportRequests(ctx context.Context, job *domain.Job) error {
	var payload ExportPayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("decode export payload: %w", err)
		}
	}

	items, err := h.requests.ListWithFilter(ctx, repository.RequestFilter{
		Statuses:   payload.Statuses,
		Categories: payload.Categories,
		Limit:      10000,
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(h.exportDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(h.exportDir, fmt.Sprintf("requests-%s.csv", h.clock().UTC().Format("20060102-150405")))
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{"id", "external_key", "title", "category", "priority", "status", "created_by", "assignee_id", "created_at", "closed_at"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, item := range items {
		assignee := ""
		if item.AssigneeID != nil {
			assignee = *item.AssigneeID
		}
		closedAt := ""
		if item.ClosedAt != nil {
			closedAt = item.ClosedAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			item.ID,
			item.ExternalKey,
			item.Title,
			string(item.Category),
			string(item.Priority),
			string(item.Status),
			item.CreatedBy,
			assignee,
			item.CreatedAt.UTC().Format(time.RFC3339),
			closedAt,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}

	h.logger.Info("export written", zap.String("path", path), zap.Int("rows", len(items)))
	return nil
}

// HandleBackupDatabase shells out to pg_dump and gzips the result into the
// backup directory.
func (h *Handlers) HandleBackupDatabase(ctx context.Context, job *domain.Job) error {
	if err := os.MkdirAll(h.backupDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(h.backupDir, fmt.Sprintf("backup-%s.sql.gz", h.clock().UTC().Format("20060102-150405")))
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	gz := gzip.NewWriter(file)
	cmd := exec.CommandContext(ctx, "pg_dump", "--dbname", h.postgresDSN)
	cmd.Stdout = gz
	if err := cmd.Run(); err != nil {
		gz.Close()
		os.Remove(path)
		return fmt.Errorf("pg_dump: %w", err)
	}
	if err := gz.Close(); err != nil {
		return err
	}

	h.logger.Info("database backup written", zap.String("path", path))
	return nil
}

// HandleRetentionCleanup prunes audit history past the retention window.
func (h *Handlers) HandleRetentionCleanup(ctx context.Context, job *domain.Job) error {
	cutoff := h.clock().AddDate(0, 0, -h.historyDays)
	deleted, err := h.history.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	h.logger.Info("history retention cleanup finished",
		zap.Int64("deleted", deleted),
		zap.String("cutoff", cutoff.UTC().Format(time.RFC3339)),
		zap.Int("retention_days", h.historyDays))
	return nil
}
