package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/request-service/internal/config"
	"github.com/spec-kit/request-service/internal/domain"
	"github.com/spec-kit/request-service/internal/observability"
	"github.com/spec-kit/request-service/internal/queue"
	"github.com/spec-kit/request-service/internal/repository"
)

// Handler processes one job attempt. A nil return acknowledges the job; an
// error schedules a retry or, when attempts are exhausted, dead-letters it.
type Handler func(ctx context.Context, job *domain.Job) error

// Pool runs a fixed set of worker goroutines that claim jobs from the durable
// queue. Each claim grants an exclusive lease, so a job is processed by at
// most one worker per attempt.
type Pool struct {
	jobs     repository.JobRepository
	policies queue.Policies
	handlers map[domain.JobType]Handler
	queues   []string
	logger   *zap.Logger
	metrics  *observability.Metrics
	clock    func() time.Time

	concurrency    int
	pollInterval   time.Duration
	lease          time.Duration
	handlerTimeout time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// PoolDependencies bundles the pool's collaborators.
type PoolDependencies struct {
	Jobs     repository.JobRepository
	Policies queue.Policies
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Config   config.WorkerConfig
	Clock    func() time.Time
}

// NewPool builds an idle pool. Register handlers before calling Start.
func NewPool(deps PoolDependencies) *Pool {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	policies := deps.Policies
	if policies == nil {
		policies = queue.DefaultPolicies()
	}
	concurrency := deps.Config.Workers
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Pool{
		jobs:           deps.Jobs,
		policies:       policies,
		handlers:       make(map[domain.JobType]Handler),
		queues:         policies.Names(),
		logger:         deps.Logger,
		metrics:        deps.Metrics,
		clock:          clock,
		concurrency:    concurrency,
		pollInterval:   deps.Config.PollInterval(),
		lease:          deps.Config.Lease(),
		handlerTimeout: deps.Config.HandlerTimeout(),
	}
}

// Register binds a handler to a job type. Last registration wins.
func (p *Pool) Register(jobType domain.JobType, handler Handler) {
	p.handlers[jobType] = handler
}

// Start launches the worker goroutines. It returns immediately; call Stop to
// drain.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.logger.Info("worker pool started",
		zap.Int("concurrency", p.concurrency),
		zap.Strings("queues", p.queues))
}

// Stop signals all workers and waits for in-flight attempts to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.jobs.Claim(ctx, p.queues, p.lease, p.clock())
		if err != nil {
			if errors.Is(err, repository.ErrNoJob) {
				p.sleep(ctx, p.pollInterval)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("job claim failed", zap.Int("worker", id), zap.Error(err))
			p.sleep(ctx, p.pollInterval)
			continue
		}

		p.process(ctx, job)
	}
}

// process runs one claimed attempt and resolves its lease.
func (p *Pool) process(ctx context.Context, job *domain.Job) {
	handler, ok := p.handlers[job.Type]
	if !ok {
		// No handler can ever succeed, so retrying is pointless.
		p.deadLetter(ctx, job, fmt.Sprintf("no handler registered for job type %q", job.Type))
		return
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.handlerTimeout)
	err := runHandler(attemptCtx, handler, job)
	cancel()

	if err == nil {
		if ackErr := p.jobs.MarkDone(ctx, job.ID); ackErr != nil {
			p.logger.Error("job ack failed", zap.String("job_id", job.ID), zap.Error(ackErr))
			return
		}
		p.metrics.RecordJob(job.Queue, "done")
		p.logger.Info("job done",
			zap.String("job_id", job.ID),
			zap.String("queue", job.Queue),
			zap.String("job_type", string(job.Type)),
			zap.Int("attempts", job.Attempts))
		return
	}

	if job.Attempts >= job.MaxAttempts {
		p.deadLetter(ctx, job, err.Error())
		return
	}

	nextRun := p.clock().Add(p.policies.For(job.Queue).Backoff(job.Attempts))
	if rescheduleErr := p.jobs.Reschedule(ctx, job, nextRun); rescheduleErr != nil {
		p.logger.Error("job reschedule failed", zap.String("job_id", job.ID), zap.Error(rescheduleErr))
		return
	}
	p.metrics.RecordJob(job.Queue, "retried")
	p.logger.Warn("job failed, retry scheduled",
		zap.String("job_id", job.ID),
		zap.String("queue", job.Queue),
		zap.String("job_type", string(job.Type)),
		zap.Int("attempts", job.Attempts),
		zap.Time("next_run_at", nextRun),
		zap.Error(err))
}

func (p *Pool) deadLetter(ctx context.Context, job *domain.Job, lastError string) {
	if err := p.jobs.MoveToDeadLetter(ctx, job, lastError); err != nil {
		p.logger.Error("dead-letter move failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	p.metrics.RecordJob(job.Queue, "dead_lettered")
	p.logger.Error("job dead-lettered",
		zap.String("job_id", job.ID),
		zap.String("queue", job.Queue),
		zap.String("job_type", string(job.Type)),
		zap.Int("attempts", job.Attempts),
		zap.String("last_error", lastError))
}

// runHandler converts a handler panic into a retryable error so one bad
// payload cannot take down a worker goroutine. The select lets the worker
// move on when the attempt deadline passes even if the handler ignores ctx.
func runHandler(ctx context.Context, handler Handler, job *domain.Job) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- handler(ctx, job)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
