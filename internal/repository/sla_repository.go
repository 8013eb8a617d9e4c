package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/request-service/internal/domain"
)

// SLARepository stores SLA definitions and deduplicated breach records.
type SLARepository interface {
	UpsertDefinition(ctx context.Context, def *domain.SLADefinition) error
	GetActiveDefinition(ctx context.Context, category domain.RequestCategory, priority domain.RequestPriority) (*domain.SLADefinition, error)
	ListDefinitions(ctx context.Context) ([]domain.SLADefinition, error)
	RecordBreach(ctx context.Context, rec *domain.BreachRecord) (bool, error)
	BreachStatsSince(ctx context.Context, cutoff time.Time) (*domain.BreachStats, error)
}

type slaRepository struct {
	pool *pgxpool.Pool
}

// NewSLARepository instantiates repository.
func NewSLARepository(pool *pgxpool.Pool) SLARepository {
	return &slaRepository{pool: pool}
}

// UpsertDefinition keeps at most one active definition per (category,
// priority) via the unique constraint.
func (r *slaRepository) UpsertDefinition(ctx context.Context, def *domain.SLADefinition) error {
	const query = `
        INSERT INTO sla_definitions (id, category, priority, response_budget_seconds, resolution_budget_seconds, active)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (category, priority) DO UPDATE
            SET response_budget_seconds=EXCLUDED.response_budget_seconds,
                resolution_budget_seconds=EXCLUDED.resolution_budget_seconds,
                active=EXCLUDED.active,
                updated_at=NOW()
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		def.ID,
		def.Category,
		def.Priority,
		int64(def.ResponseBudget.Seconds()),
		int64(def.ResolutionBudget.Seconds()),
		def.Active,
	).Scan(&def.ID, &def.CreatedAt, &def.UpdatedAt)
}

func (r *slaRepository) GetActiveDefinition(ctx context.Context, category domain.RequestCategory, priority domain.RequestPriority) (*domain.SLADefinition, error) {
	const query = `
        SELECT id, category, priority, response_budget_seconds, resolution_budget_seconds, active, created_at, updated_at
        FROM sla_definitions WHERE category=$1 AND priority=$2 AND active=TRUE`
	def, err := r.scanDefinition(r.pool.QueryRow(ctx, query, category, priority))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return def, err
}

func (r *slaRepository) ListDefinitions(ctx context.Context) ([]domain.SLADefinition, error) {
	const query = `
        SELECT id, category, priority, response_budget_seconds, resolution_budget_seconds, active, created_at, updated_at
        FROM sla_definitions ORDER BY category, priority`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.SLADefinition
	for rows.Next() {
		def, err := r.scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *def)
	}
	return result, rows.Err()
}

// RecordBreach inserts a breach detection, reporting false when the same
// (request, breach type) was already recorded. This is the sweep debounce.
func (r *slaRepository) RecordBreach(ctx context.Context, rec *domain.BreachRecord) (bool, error) {
	const query = `
        INSERT INTO sla_breaches (id, request_id, breach_type, definition_id, breached_at)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (request_id, breach_type) DO NOTHING
        RETURNING created_at`
	err := r.pool.QueryRow(ctx, query,
		rec.ID,
		rec.RequestID,
		rec.BreachType,
		rec.DefinitionID,
		rec.BreachedAt,
	).Scan(&rec.CreatedAt)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *slaRepository) BreachStatsSince(ctx context.Context, cutoff time.Time) (*domain.BreachStats, error) {
	stats := &domain.BreachStats{ByPriority: map[domain.RequestPriority]int{}}

	const totals = `
        SELECT breach_type, COUNT(*) FROM sla_breaches
        WHERE created_at >= $1 GROUP BY breach_type`
	rows, err := r.pool.Query(ctx, totals, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var breachType domain.BreachType
		var count int
		if err := rows.Scan(&breachType, &count); err != nil {
			return nil, err
		}
		stats.TotalBreaches += count
		switch breachType {
		case domain.BreachResponse:
			stats.ResponseBreaches = count
		case domain.BreachResolution:
			stats.ResolutionBreaches = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	const byPriority = `
        SELECT sr.priority, COUNT(*) FROM sla_breaches b
        JOIN service_requests sr ON sr.id = b.request_id
        WHERE b.created_at >= $1 GROUP BY sr.priority`
	prows, err := r.pool.Query(ctx, byPriority, cutoff)
	if err != nil {
		return nil, err
	}
	defer prows.Close()
	for prows.Next() {
		var priority domain.RequestPriority
		var count int
		if err := prows.Scan(&priority, &count); err != nil {
			return nil, err
		}
		stats.ByPriority[priority] = count
	}
	return stats, prows.Err()
}

func (r *slaRepository) scanDefinition(row pgx.Row) (*domain.SLADefinition, error) {
	var def domain.SLADefinition
	var responseSec, resolutionSec int64
	if err := row.Scan(
		&def.ID,
		&def.Category,
		&def.Priority,
		&responseSec,
		&resolutionSec,
		&def.Active,
		&def.CreatedAt,
		&def.UpdatedAt,
	); err != nil {
		return nil, err
	}
	def.ResponseBudget = time.Duration(responseSec) * time.Second
	def.ResolutionBudget = time.Duration(resolutionSec) * time.Second
	return &def, nil
}
