package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/request-service/internal/config"
	"github.com/spec-kit/request-service/internal/domain"
)

// Enqueuer places a job on a named queue. Satisfied by the dispatch service.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, jobType domain.JobType, payload json.RawMessage) error
}

type entry struct {
	interval time.Duration
	queue    string
	jobType  domain.JobType
}

// Scheduler enqueues periodic maintenance jobs on fixed intervals. It only
// produces jobs; the worker pool executes them, so a slow run never delays
// the next tick.
type Scheduler struct {
	enqueuer Enqueuer
	logger   *zap.Logger
	entries  []entry

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a scheduler from the configured intervals. An interval of zero
// or less disables that entry.
func New(cfg config.SchedulerConfig, enqueuer Enqueuer, logger *zap.Logger) *Scheduler {
	var entries []entry
	if cfg.SLASweepMinutes > 0 {
		entries = append(entries, entry{
			interval: time.Duration(cfg.SLASweepMinutes) * time.Minute,
			queue:    domain.QueueAnalytics,
			jobType:  domain.JobSLASweep,
		})
	}
	if cfg.BackupHours > 0 {
		entries = append(entries, entry{
			interval: time.Duration(cfg.BackupHours) * time.Hour,
			queue:    domain.QueueBackup,
			jobType:  domain.JobBackupDatabase,
		})
	}
	if cfg.CleanupHours > 0 {
		entries = append(entries, entry{
			interval: time.Duration(cfg.CleanupHours) * time.Hour,
			queue:    domain.QueueMaintenance,
			jobType:  domain.JobRetentionCleanup,
		})
	}
	return &Scheduler{enqueuer: enqueuer, logger: logger, entries: entries}
}

// Start launches one ticker goroutine per entry.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, e := range s.entries {
		s.wg.Add(1)
		go s.run(ctx, e)
	}
	s.logger.Info("scheduler started", zap.Int("entries", len(s.entries)))
}

// Stop halts all tickers and waits for in-flight enqueues.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, e entry) {
	defer s.wg.Done()
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.enqueuer.Enqueue(ctx, e.queue, e.jobType, nil); err != nil {
				s.logger.Error("periodic enqueue failed",
					zap.String("queue", e.queue),
					zap.String("job_type", string(e.jobType)),
					zap.Error(err))
				continue
			}
			s.logger.Debug("periodic job enqueued",
				zap.String("queue", e.queue),
				zap.String("job_type", string(e.jobType)))
		}
	}
}
