package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stridehq/stride-scheduler/internal/domain"
)

type ExecutionRepository struct {
	pool *pgxpool.Pool
}

func NewExecutionRepository(pool *pgxpool.Pool) *ExecutionRepository {
	return &ExecutionRepository{pool: pool}
}

// Save appends one execution record. There is intentionally no update path:
// history is append-only and survives task deletion (no FK cascade).
func (r *ExecutionRepository) Save(ctx context.Context, rec *domain.ExecutionRecord) (*domain.ExecutionRecord, error) {
	query := `
		INSERT INTO task_executions (
			task_id, execution_time, status, duration_ms, result, error, retry_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, task_id, execution_time, status, duration_ms, result, error, retry_count, created_at`

	row := r.pool.QueryRow(ctx, query,
		rec.TaskUUID, rec.ExecutionTime, rec.Status,
		rec.Duration.Milliseconds(), rec.Result, rec.Error, rec.RetryCount,
	)
	return scanExecution(row)
}

func (r *ExecutionRepository) FindByTaskUUID(ctx context.Context, taskUUID string, limit int) ([]*domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, task_id, execution_time, status, duration_ms, result, error, retry_count, created_at
		FROM task_executions
		WHERE task_id = $1
		ORDER BY execution_time DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, taskUUID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var records []*domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return records, nil
}

func scanExecution(row rowScanner) (*domain.ExecutionRecord, error) {
	var (
		rec        domain.ExecutionRecord
		durationMS int64
	)
	err := row.Scan(
		&rec.UUID, &rec.TaskUUID, &rec.ExecutionTime, &rec.Status,
		&durationMS, &rec.Result, &rec.Error, &rec.RetryCount, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	return &rec, nil
}
