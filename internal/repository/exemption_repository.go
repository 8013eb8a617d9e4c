package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/request-service/internal/domain"
)

// ExemptionRepository stores time-bounded SLA overrides.
type ExemptionRepository interface {
	Create(ctx context.Context, exemption *domain.Exemption) error
	ListByRequest(ctx context.Context, requestID string) ([]domain.Exemption, error)
}

type exemptionRepository struct {
	pool *pgxpool.Pool
}

// NewExemptionRepository builds repository.
func NewExemptionRepository(pool *pgxpool.Pool) ExemptionRepository {
	return &exemptionRepository{pool: pool}
}

func (r *exemptionRepository) Create(ctx context.Context, exemption *domain.Exemption) error {
	const query = `
        INSERT INTO sla_exemptions (id, request_id, reason, scope, start_at, end_at, granted_by)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING created_at`
	return r.pool.QueryRow(ctx, query,
		exemption.ID,
		exemption.RequestID,
		exemption.Reason,
		exemption.Scope,
		exemption.StartAt,
		exemption.EndAt,
		exemption.GrantedBy,
	).Scan(&exemption.CreatedAt)
}

func (r *exemptionRepository) ListByRequest(ctx context.Context, requestID string) ([]domain.Exemption, error) {
	const query = `
        SELECT id, request_id, reason, scope, start_at, end_at, granted_by, created_at
        FROM sla_exemptions WHERE request_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Exemption
	for rows.Next() {
		var exemption domain.Exemption
		if err := rows.Scan(
			&exemption.ID,
			&exemption.RequestID,
			&exemption.Reason,
			&exemption.Scope,
			&exemption.StartAt,
			&exemption.EndAt,
			&exemption.GrantedBy,
			&exemption.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, exemption)
	}
	return result, rows.Err()
}
