package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/request-service/internal/domain"
)

func newDeadLetterID() string {
	return uuid.NewString()
}

// ErrNoJob indicates no eligible job was available to claim.
var ErrNoJob = errors.New("no eligible job")

// JobRepository is the durable queue backing the worker pool. Claim grants an
// exclusive lease per attempt; MarkDone, Reschedule, and MoveToDeadLetter
// resolve it.
type JobRepository interface {
	Enqueue(ctx context.Context, job *domain.Job) error
	Claim(ctx context.Context, queues []string, lease time.Duration, now time.Time) (*domain.Job, error)
	MarkDone(ctx context.Context, jobID string) error
	Reschedule(ctx context.Context, job *domain.Job, nextRun time.Time) error
	MoveToDeadLetter(ctx context.Context, job *domain.Job, lastError string) error
	ListDeadLetters(ctx context.Context, limit, offset int) ([]domain.DeadLetter, error)
	CountPending(ctx context.Context, queue string) (int, error)
}

type jobRepository struct {
	pool *pgxpool.Pool
}

// NewJobRepository instantiates repository.
func NewJobRepository(pool *pgxpool.Pool) JobRepository {
	return &jobRepository{pool: pool}
}

func (r *jobRepository) Enqueue(ctx context.Context, job *domain.Job) error {
	const query = `
        INSERT INTO jobs (id, queue, job_type, payload, attempts, max_attempts, next_run_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		job.ID,
		job.Queue,
		job.Type,
		job.Payload,
		job.Attempts,
		job.MaxAttempts,
		job.NextRunAt,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

// Claim atomically selects one eligible job and pushes its next_run_at to the
// lease deadline, incrementing attempts. SKIP LOCKED guarantees a job is held
// by exactly one worker at a time; a crashed worker simply lets the lease
// lapse and the job becomes claimable again.
func (r *jobRepository) Claim(ctx context.Context, queues []string, lease time.Duration, now time.Time) (*domain.Job, error) {
	const query = `
        UPDATE jobs SET attempts = attempts + 1, next_run_at = $1, updated_at = NOW()
        WHERE id = (
            SELECT id FROM jobs
            WHERE queue = ANY($2) AND next_run_at <= $3
            ORDER BY next_run_at ASC
            LIMIT 1
            FOR UPDATE SKIP LOCKED
        )
        RETURNING id, queue, job_type, payload, attempts, max_attempts, next_run_at, created_at, updated_at`
	var job domain.Job
	err := r.pool.QueryRow(ctx, query, now.Add(lease), queues, now).Scan(
		&job.ID,
		&job.Queue,
		&job.Type,
		&job.Payload,
		&job.Attempts,
		&job.MaxAttempts,
		&job.NextRunAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepository) MarkDone(ctx context.Context, jobID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM jobs WHERE id=$1`, jobID)
	return err
}

func (r *jobRepository) Reschedule(ctx context.Context, job *domain.Job, nextRun time.Time) error {
	const query = `UPDATE jobs SET next_run_at=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.pool.Exec(ctx, query, nextRun, job.ID)
	if err == nil {
		job.NextRunAt = nextRun
	}
	return err
}

// MoveToDeadLetter archives the exhausted job and removes it from the active
// queue in one transaction. Dead letters are never retried automatically.
func (r *jobRepository) MoveToDeadLetter(ctx context.Context, job *domain.Job, lastError string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const insert = `
            INSERT INTO dead_letters (id, job_id, queue, job_type, payload, attempts, last_error)
            VALUES ($1,$2,$3,$4,$5,$6,$7)`
		if _, err := tx.Exec(ctx, insert,
			newDeadLetterID(),
			job.ID,
			job.Queue,
			job.Type,
			job.Payload,
			job.Attempts,
			lastError,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM jobs WHERE id=$1`, job.ID)
		return err
	})
}

func (r *jobRepository) ListDeadLetters(ctx context.Context, limit, offset int) ([]domain.DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	const query = `
        SELECT id, job_id, queue, job_type, payload, attempts, last_error, created_at
        FROM dead_letters ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.DeadLetter
	for rows.Next() {
		var letter domain.DeadLetter
		if err := rows.Scan(
			&letter.ID,
			&letter.JobID,
			&letter.Queue,
			&letter.Type,
			&letter.Payload,
			&letter.Attempts,
			&letter.LastError,
			&letter.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, letter)
	}
	return result, rows.Err()
}

func (r *jobRepository) CountPending(ctx context.Context, queue string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE queue=$1`, queue).Scan(&count)
	return count, err
}
