package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/request-service/internal/domain"
)

// HistoryRepository reads the append-only audit trail. Entries are only ever
// inserted (alongside their request mutation) and purged by retention.
type HistoryRepository interface {
	ListByRequest(ctx context.Context, requestID string, limit, offset int) ([]domain.HistoryEntry, error)
	FirstTransitionTo(ctx context.Context, requestID string, status domain.RequestStatus) (*time.Time, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type historyRepository struct {
	pool *pgxpool.Pool
}

// NewHistoryRepository builds repository.
func NewHistoryRepository(pool *pgxpool.Pool) HistoryRepository {
	return &historyRepository{pool: pool}
}

func (r *historyRepository) ListByRequest(ctx context.Context, requestID string, limit, offset int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	const query = `
        SELECT id, request_id, action, old_status, new_status, actor_id, details, created_at
        FROM request_history WHERE request_id=$1 ORDER BY created_at ASC, id ASC
        LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, requestID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.HistoryEntry
	for rows.Next() {
		var entry domain.HistoryEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.RequestID,
			&entry.Action,
			&entry.OldStatus,
			&entry.NewStatus,
			&entry.ActorID,
			&entry.Details,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

// FirstTransitionTo returns the timestamp of the earliest transition into the
// given status, or nil when the request never reached it.
func (r *historyRepository) FirstTransitionTo(ctx context.Context, requestID string, status domain.RequestStatus) (*time.Time, error) {
	const query = `
        SELECT created_at FROM request_history
        WHERE request_id=$1 AND action=$2 AND new_status=$3
        ORDER BY created_at ASC LIMIT 1`
	var ts time.Time
	err := r.pool.QueryRow(ctx, query, requestID, domain.ActionStatusChanged, status).Scan(&ts)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

func (r *historyRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM request_history WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
