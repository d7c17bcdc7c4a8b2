package provision

import (
	"fmt"
	"time"

	"github.com/stridehq/stride-scheduler/internal/domain"
	"github.com/stridehq/stride-scheduler/internal/usecase"
)

// TaskStrategy provisions a one-off reminder ahead of a todo task's due date.
type TaskStrategy struct{}

func (TaskStrategy) Module() domain.SourceModule { return domain.SourceTask }

func (TaskStrategy) Draft(entity map[string]any) (*usecase.CreateTaskInput, error) {
	reminder := sub(entity, "reminder")
	if reminder == nil || !boolean(reminder, "enabled") {
		return nil, fmt.Errorf("task %s: %w", str(entity, "uuid"), domain.ErrNoScheduleRequired)
	}
	dueAt, ok := timestamp(entity, "dueAt")
	if !ok {
		return nil, fmt.Errorf("task %s has no due date: %w", str(entity, "uuid"), domain.ErrNoScheduleRequired)
	}

	offset := time.Duration(integer(reminder, "offsetMinutes")) * time.Minute
	runAt := dueAt.Add(-offset)

	title := str(entity, "title")
	return &usecase.CreateTaskInput{
		Name:        fmt.Sprintf("Task reminder: %s", title),
		Description: fmt.Sprintf("One-off reminder for task %q due %s", title, dueAt.Format(time.RFC3339)),
		Tags:        []string{"task", "reminder"},
		Payload: map[string]any{
			"taskUuid": str(entity, "uuid"),
			"title":    title,
			"dueAt":    dueAt.Format(time.RFC3339),
		},
		SourceEntityID: str(entity, "uuid"),
		Schedule: domain.ScheduleConfig{
			Kind:  domain.ScheduleOnce,
			RunAt: runAt,
		},
	}, nil
}
