package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/request-service/internal/domain"
	"github.com/spec-kit/request-service/internal/events"
	"github.com/spec-kit/request-service/internal/queue"
	"github.com/spec-kit/request-service/internal/repository"
)

// dispatchDedupTTL bounds how long a dedup key is held. Event re-delivery
// beyond this window is not expected.
const dispatchDedupTTL = 24 * time.Hour

// DispatchService turns domain events into queued jobs. Event delivery is
// at-least-once, so dispatch dedupes per event key before enqueueing.
type DispatchService struct {
	jobs     repository.JobRepository
	policies queue.Policies
	redis    *redis.Client
	logger   *zap.Logger
	clock    func() time.Time
}

// NewDispatchService constructs the dispatcher.
func NewDispatchService(jobs repository.JobRepository, policies queue.Policies, redisClient *redis.Client, logger *zap.Logger, clock func() time.Time) *DispatchService {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchService{jobs: jobs, policies: policies, redis: redisClient, logger: logger, clock: clock}
}

// RegisterHandlers subscribes to events.
func (d *DispatchService) RegisterHandlers(dispatcher events.Dispatcher) {
	if dispatcher == nil {
		return
	}
	dispatcher.Subscribe(events.EventRequestSubmitted, d.handleSubmitted)
	dispatcher.Subscribe(events.EventRequestAssigned, d.handleAssigned)
	dispatcher.Subscribe(events.EventRequestStatusChanged, d.handleStatusChanged)
	dispatcher.Subscribe(events.EventSLABreachDetected, d.handleBreachDetected)
}

func (d *DispatchService) handleSubmitted(ctx context.Context, event events.Event) error {
	return d.enqueueOnce(ctx, event, domain.QueueEmail, domain.JobNotifySubmitted)
}

func (d *DispatchService) handleAssigned(ctx context.Context, event events.Event) error {
	return d.enqueueOnce(ctx, event, domain.QueueEmail, domain.JobNotifyAssigned)
}

func (d *DispatchService) handleStatusChanged(ctx context.Context, event events.Event) error {
	return d.enqueueOnce(ctx, event, domain.QueueEmail, domain.JobNotifyStatusChange)
}

func (d *DispatchService) handleBreachDetected(ctx context.Context, event events.Event) error {
	return d.enqueueOnce(ctx, event, domain.QueueEmail, domain.JobNotifyBreach)
}

// NotifyPayload is the job payload for all notification handlers.
type NotifyPayload struct {
	RequestID string          `json:"request_id"`
	EventType string          `json:"event_type"`
	ActorID   *string         `json:"actor_id,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
}

func (d *DispatchService) enqueueOnce(ctx context.Context, event events.Event, queueName string, jobType domain.JobType) error {
	if !d.claimDedup(ctx, event.DedupKey()) {
		d.logger.Debug("duplicate event dispatch suppressed",
			zap.String("dedup_key", event.DedupKey()),
			zap.String("request_id", event.RequestID))
		return nil
	}

	detail, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(NotifyPayload{
		RequestID: event.RequestID,
		EventType: string(event.Type),
		ActorID:   event.ActorID,
		Detail:    detail,
	})
	if err != nil {
		return err
	}
	return d.Enqueue(ctx, queueName, jobType, payload)
}

// Enqueue places one job on a named queue using that queue's retry ceiling.
func (d *DispatchService) Enqueue(ctx context.Context, queueName string, jobType domain.JobType, payload json.RawMessage) error {
	job := &domain.Job{
		ID:          uuid.NewString(),
		Queue:       queueName,
		Type:        jobType,
		Payload:     payload,
		MaxAttempts: d.policies.For(queueName).MaxAttempts,
		NextRunAt:   d.clock(),
	}
	if err := d.jobs.Enqueue(ctx, job); err != nil {
		d.logger.Error("enqueue failed",
			zap.String("queue", queueName),
			zap.String("job_type", string(jobType)),
			zap.Error(err))
		return err
	}
	d.logger.Info("job enqueued",
		zap.String("queue", queueName),
		zap.String("job_type", string(jobType)),
		zap.String("job_id", job.ID))
	return nil
}

// claimDedup reserves the event key. Without redis we fall back to dispatching
// every delivery: handlers are idempotent, so a duplicate email is cosmetic.
func (d *DispatchService) claimDedup(ctx context.Context, key string) bool {
	if d.redis == nil {
		return true
	}
	set, err := d.redis.SetNX(ctx, "dispatch:"+key, 1, dispatchDedupTTL).Result()
	if err != nil {
		d.logger.Warn("dedup check failed; dispatching anyway", zap.Error(err))
		return true
	}
	return set
}
