package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/request-service/internal/config"
	"github.com/spec-kit/request-service/internal/domain"
)

type recordingEnqueuer struct {
	mu    sync.Mutex
	types []domain.JobType
}

func (r *recordingEnqueuer) Enqueue(ctx context.Context, queueName string, jobType domain.JobType, payload json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, jobType)
	return nil
}

func (r *recordingEnqueuer) count(jobType domain.JobType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.types {
		if t == jobType {
			n++
		}
	}
	return n
}

func TestSchedulerEntriesFromConfig(t *testing.T) {
	s := New(config.SchedulerConfig{SLASweepMinutes: 5, BackupHours: 24, CleanupHours: 24}, &recordingEnqueuer{}, zap.NewNop())
	if len(s.entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(s.entries))
	}

	s = New(config.SchedulerConfig{SLASweepMinutes: 5}, &recordingEnqueuer{}, zap.NewNop())
	if len(s.entries) != 1 {
		t.Fatalf("expected disabled intervals skipped, got %d entries", len(s.entries))
	}
	if s.entries[0].jobType != domain.JobSLASweep {
		t.Fatalf("unexpected entry %v", s.entries[0].jobType)
	}
}

func TestSchedulerEnqueuesOnTick(t *testing.T) {
	enq := &recordingEnqueuer{}
	s := &Scheduler{
		enqueuer: enq,
		logger:   zap.NewNop(),
		entries: []entry{{
			interval: 10 * time.Millisecond,
			queue:    domain.QueueAnalytics,
			jobType:  domain.JobSLASweep,
		}},
	}

	s.Start(context.Background())
	deadline := time.After(2 * time.Second)
	for enq.count(domain.JobSLASweep) < 2 {
		select {
		case <-deadline:
			t.Fatal("scheduler never enqueued twice")
		case <-time.After(5 * time.Millisecond):
		}
	}
	s.Stop()
}
