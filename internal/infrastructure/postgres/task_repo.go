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

type rowScanner interface {
	Scan(dest ...any) error
}

type TaskRepository struct {
	pool *pgxpool.Pool
}

func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

const taskColumns = `
	id, account_id, name, description, tags, payload,
	source_module, source_entity_id,
	schedule_kind, cron_expr, timezone, interval_seconds, run_at,
	start_date, end_date, max_executions,
	max_retries, backoff, retry_base_seconds,
	enabled, status, next_run_at, last_run_at,
	execution_count, retry_count, created_at, updated_at`

// Save upserts the whole row. Last writer wins — no version column, a known
// race between the API and engine result callbacks.
func (r *TaskRepository) Save(ctx context.Context, t *domain.ScheduleTask) error {
	query := `
		INSERT INTO schedule_tasks (
			id, account_id, name, description, tags, payload,
			source_module, source_entity_id,
			schedule_kind, cron_expr, timezone, interval_seconds, run_at,
			start_date, end_date, max_executions,
			max_retries, backoff, retry_base_seconds,
			enabled, status, next_run_at, last_run_at,
			execution_count, retry_count, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27
		)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			tags = EXCLUDED.tags,
			payload = EXCLUDED.payload,
			schedule_kind = EXCLUDED.schedule_kind,
			cron_expr = EXCLUDED.cron_expr,
			timezone = EXCLUDED.timezone,
			interval_seconds = EXCLUDED.interval_seconds,
			run_at = EXCLUDED.run_at,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			max_executions = EXCLUDED.max_executions,
			max_retries = EXCLUDED.max_retries,
			backoff = EXCLUDED.backoff,
			retry_base_seconds = EXCLUDED.retry_base_seconds,
			enabled = EXCLUDED.enabled,
			status = EXCLUDED.status,
			next_run_at = EXCLUDED.next_run_at,
			last_run_at = EXCLUDED.last_run_at,
			execution_count = EXCLUDED.execution_count,
			retry_count = EXCLUDED.retry_count,
			updated_at = NOW()`

	var runAt *time.Time
	if !t.Schedule.RunAt.IsZero() {
		runAt = &t.Schedule.RunAt
	}

	_, err := r.pool.Exec(ctx, query,
		t.UUID, t.AccountUUID, t.Name, t.Description, t.Tags, t.Payload,
		t.SourceModule, t.SourceEntityID,
		t.Schedule.Kind, t.Schedule.CronExpr, t.Schedule.Timezone,
		int64(t.Schedule.Interval/time.Second), runAt,
		t.Schedule.StartDate, t.Schedule.EndDate, t.Schedule.MaxExecutions,
		t.Retry.MaxRetries, t.Retry.Backoff, int64(t.Retry.BaseDelay/time.Second),
		t.Enabled, t.Status, t.NextRunAt, t.LastRunAt,
		t.ExecutionCount, t.RetryCount, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (r *TaskRepository) FindByUUID(ctx context.Context, uuid string) (*domain.ScheduleTask, error) {
	query := `SELECT ` + taskColumns + ` FROM schedule_tasks WHERE id = $1`
	return scanTask(r.pool.QueryRow(ctx, query, uuid))
}

func (r *TaskRepository) FindByAccount(ctx context.Context, accountUUID string) ([]*domain.ScheduleTask, error) {
	query := `SELECT ` + taskColumns + `
		FROM schedule_tasks
		WHERE account_id = $1
		ORDER BY created_at DESC`
	return r.queryTasks(ctx, query, accountUUID)
}

func (r *TaskRepository) FindBySourceEntity(ctx context.Context, module domain.SourceModule, entityID string) ([]*domain.ScheduleTask, error) {
	query := `SELECT ` + taskColumns + `
		FROM schedule_tasks
		WHERE source_module = $1 AND source_entity_id = $2
		ORDER BY created_at ASC`
	return r.queryTasks(ctx, query, module, entityID)
}

func (r *TaskRepository) FindByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.ScheduleTask, error) {
	query := `SELECT ` + taskColumns + `
		FROM schedule_tasks
		WHERE status = $1
		ORDER BY created_at ASC`
	return r.queryTasks(ctx, query, status)
}

func (r *TaskRepository) FindDue(ctx context.Context, before time.Time, limit int) ([]*domain.ScheduleTask, error) {
	query := `SELECT ` + taskColumns + `
		FROM schedule_tasks
		WHERE enabled
		  AND status NOT IN ('completed', 'cancelled', 'failed')
		  AND next_run_at IS NOT NULL
		  AND next_run_at <= $1
		ORDER BY next_run_at ASC
		LIMIT $2`
	return r.queryTasks(ctx, query, before, limit)
}

func (r *TaskRepository) Delete(ctx context.Context, uuid string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM schedule_tasks WHERE id = $1`, uuid)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

func (r *TaskRepository) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.ScheduleTask, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.ScheduleTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

func scanTask(row rowScanner) (*domain.ScheduleTask, error) {
	var (
		t               domain.ScheduleTask
		intervalSeconds int64
		runAt           *time.Time
		retryBase       int64
	)
	err := row.Scan(
		&t.UUID, &t.AccountUUID, &t.Name, &t.Description, &t.Tags, &t.Payload,
		&t.SourceModule, &t.SourceEntityID,
		&t.Schedule.Kind, &t.Schedule.CronExpr, &t.Schedule.Timezone, &intervalSeconds, &runAt,
		&t.Schedule.StartDate, &t.Schedule.EndDate, &t.Schedule.MaxExecutions,
		&t.Retry.MaxRetries, &t.Retry.Backoff, &retryBase,
		&t.Enabled, &t.Status, &t.NextRunAt, &t.LastRunAt,
		&t.ExecutionCount, &t.RetryCount, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Schedule.Interval = time.Duration(intervalSeconds) * time.Second
	if runAt != nil {
		t.Schedule.RunAt = *runAt
	}
	t.Retry.BaseDelay = time.Duration(retryBase) * time.Second
	return &t, nil
}
