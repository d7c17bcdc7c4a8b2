package repository

import (
	"context"
	"time"

	"github.com/stridehq/stride-scheduler/internal/domain"
)

// Service depends on interfaces, not concrete implementations, so the storage
// engine can be swapped and tests can pass hand-rolled fakes.
type TaskRepository interface {
	// Save upserts the full task row. Last writer wins: there is no version
	// column, which is a known race between the API and engine callbacks.
	Save(ctx context.Context, task *domain.ScheduleTask) error

	FindByUUID(ctx context.Context, uuid string) (*domain.ScheduleTask, error)
	FindByAccount(ctx context.Context, accountUUID string) ([]*domain.ScheduleTask, error)
	FindBySourceEntity(ctx context.Context, module domain.SourceModule, entityID string) ([]*domain.ScheduleTask, error)
	FindByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.ScheduleTask, error)

	// FindDue returns enabled, non-terminal tasks with next_run_at <= before,
	// ordered ascending by next_run_at.
	FindDue(ctx context.Context, before time.Time, limit int) ([]*domain.ScheduleTask, error)

	Delete(ctx context.Context, uuid string) error
}
