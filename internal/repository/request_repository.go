package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/request-service/internal/domain"
)

// RequestFilter captures listing parameters.
type RequestFilter struct {
	CreatedBy   *string
	AssigneeID  *string
	Statuses    []domain.RequestStatus
	Categories  []domain.RequestCategory
	Priorities  []domain.RequestPriority
	SearchTerm  *string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

// RequestRepository encapsulates service request persistence. Mutations that
// change workflow state take the audit entry and commit both rows in one
// transaction: either the status change and its history entry persist, or
// neither does.
type RequestRepository interface {
	Create(ctx context.Context, req *domain.ServiceRequest, entry *domain.HistoryEntry) error
	Update(ctx context.Context, req *domain.ServiceRequest, entry *domain.HistoryEntry) error
	UpdateStatus(ctx context.Context, req *domain.ServiceRequest, from domain.RequestStatus, entry *domain.HistoryEntry) error
	UpdateAssignee(ctx context.Context, req *domain.ServiceRequest, entry *domain.HistoryEntry) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*domain.ServiceRequest, error)
	ListWithFilter(ctx context.Context, filter RequestFilter) ([]domain.ServiceRequest, error)
	ListNonTerminal(ctx context.Context) ([]domain.ServiceRequest, error)
}

type requestRepository struct {
	pool *pgxpool.Pool
}

// NewRequestRepository instantiates repository.
func NewRequestRepository(pool *pgxpool.Pool) RequestRepository {
	return &requestRepository{pool: pool}
}

const requestColumns = `id, external_key, title, description, category, priority, status,
               created_by, assignee_id, created_at, updated_at, closed_at`

func (r *requestRepository) Create(ctx context.Context, req *domain.ServiceRequest, entry *domain.HistoryEntry) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const query = `
        INSERT INTO service_requests (id, external_key, title, description, category, priority, status, created_by, assignee_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING created_at, updated_at`
		if err := tx.QueryRow(ctx, query,
			req.ID,
			req.ExternalKey,
			req.Title,
			req.Description,
			req.Category,
			req.Priority,
			req.Status,
			req.CreatedBy,
			req.AssigneeID,
		).Scan(&req.CreatedAt, &req.UpdatedAt); err != nil {
			return err
		}
		entry.RequestID = req.ID
		return insertHistory(ctx, tx, entry)
	})
}

func (r *requestRepository) Update(ctx context.Context, req *domain.ServiceRequest, entry *domain.HistoryEntry) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const query = `
        UPDATE service_requests SET title=$1, description=$2, category=$3, priority=$4, updated_at=NOW()
        WHERE id=$5`
		cmd, err := tx.Exec(ctx, query,
			req.Title,
			req.Description,
			req.Category,
			req.Priority,
			req.ID,
		)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return insertHistory(ctx, tx, entry)
	})
}

// UpdateStatus commits the transition only when the stored status still equals
// the status the caller observed. A concurrent transition makes the guarded
// UPDATE match zero rows, so no two concurrent attempts can both succeed.
func (r *requestRepository) UpdateStatus(ctx context.Context, req *domain.ServiceRequest, from domain.RequestStatus, entry *domain.HistoryEntry) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const query = `
        UPDATE service_requests SET status=$1, closed_at=$2, updated_at=NOW()
        WHERE id=$3 AND status=$4
        RETURNING updated_at`
		if err := tx.QueryRow(ctx, query,
			req.Status,
			req.ClosedAt,
			req.ID,
			from,
		).Scan(&req.UpdatedAt); err != nil {
			return err
		}
		return insertHistory(ctx, tx, entry)
	})
}

func (r *requestRepository) UpdateAssignee(ctx context.Context, req *domain.ServiceRequest, entry *domain.HistoryEntry) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const query = `
        UPDATE service_requests SET assignee_id=$1, updated_at=NOW()
        WHERE id=$2
        RETURNING updated_at`
		if err := tx.QueryRow(ctx, query, req.AssigneeID, req.ID).Scan(&req.UpdatedAt); err != nil {
			return err
		}
		return insertHistory(ctx, tx, entry)
	})
}

func (r *requestRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM service_requests WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *requestRepository) GetByID(ctx context.Context, id string) (*domain.ServiceRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM service_requests WHERE id=$1`, requestColumns)
	var req domain.ServiceRequest
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&req.ID,
		&req.ExternalKey,
		&req.Title,
		&req.Description,
		&req.Category,
		&req.Priority,
		&req.Status,
		&req.CreatedBy,
		&req.AssigneeID,
		&req.CreatedAt,
		&req.UpdatedAt,
		&req.ClosedAt,
	); err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) ListWithFilter(ctx context.Context, filter RequestFilter) ([]domain.ServiceRequest, error) {
	base := fmt.Sprintf(`SELECT %s FROM service_requests`, requestColumns)
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CreatedBy != nil {
		args = append(args, *filter.CreatedBy)
		clauses = append(clauses, fmt.Sprintf("created_by=$%d", len(args)))
	}
	if filter.AssigneeID != nil {
		args = append(args, *filter.AssigneeID)
		clauses = append(clauses, fmt.Sprintf("assignee_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Categories) > 0 {
		placeholders := make([]string, len(filter.Categories))
		for i, category := range filter.Categories {
			args = append(args, category)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("category IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Priorities) > 0 {
		placeholders := make([]string, len(filter.Priorities))
		for i, pr := range filter.Priorities {
			args = append(args, pr)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("priority IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CreatedFrom != nil {
		args = append(args, *filter.CreatedFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedTo != nil {
		args = append(args, *filter.CreatedTo)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		args = append(args, search)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(title) LIKE %s OR LOWER(description) LIKE %s)", placeholder, placeholder))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY updated_at DESC LIMIT %d OFFSET %d`,
		base, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (r *requestRepository) ListNonTerminal(ctx context.Context) ([]domain.ServiceRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM service_requests WHERE status NOT IN ($1,$2) ORDER BY created_at ASC`, requestColumns)
	rows, err := r.pool.Query(ctx, query, domain.RequestStatusCompleted, domain.RequestStatusRejected)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequests(rows)
}

func scanRequests(rows pgx.Rows) ([]domain.ServiceRequest, error) {
	var result []domain.ServiceRequest
	for rows.Next() {
		var req domain.ServiceRequest
		if err := rows.Scan(
			&req.ID,
			&req.ExternalKey,
			&req.Title,
			&req.Description,
			&req.Category,
			&req.Priority,
			&req.Status,
			&req.CreatedBy,
			&req.AssigneeID,
			&req.CreatedAt,
			&req.UpdatedAt,
			&req.ClosedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	return result, rows.Err()
}

func insertHistory(ctx context.Context, tx pgx.Tx, entry *domain.HistoryEntry) error {
	const query = `
        INSERT INTO request_history (request_id, action, old_status, new_status, actor_id, details)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at`
	return tx.QueryRow(ctx, query,
		entry.RequestID,
		entry.Action,
		entry.OldStatus,
		entry.NewStatus,
		entry.ActorID,
		entry.Details,
	).Scan(&entry.ID, &entry.CreatedAt)
}
