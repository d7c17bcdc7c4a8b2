package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/stridehq/stride-scheduler/internal/domain"
	"github.com/stridehq/stride-scheduler/internal/email"
	"github.com/stridehq/stride-scheduler/internal/engine"
	"github.com/stridehq/stride-scheduler/internal/event"
	"github.com/stridehq/stride-scheduler/internal/metrics"
	"github.com/stridehq/stride-scheduler/internal/repository"
)

// Engine is the execution backend the service keeps in sync with persistence.
// Persistence is the source of truth: engine failures are logged, not rolled
// back, and the reconciler repairs drift.
type Engine interface {
	Start(tasks []*domain.ScheduleTask) error
	Stop()
	Results() <-chan engine.Result
	AddTask(t *domain.ScheduleTask) error
	RemoveTask(id string)
	PauseTask(id string) error
	ResumeTask(id string) error
	RunTask(id string) error
	RunTaskIn(id string, delay time.Duration) error
	ListActive() []string
	IsRunning() bool
}

// TaskService is the use-case API over schedule tasks: it owns every lifecycle
// transition, persists first, then synchronizes engine registration and emits
// domain events.
type TaskService struct {
	tasks  repository.TaskRepository
	execs  repository.ExecutionRepository
	engine Engine
	bus    event.Bus
	sender email.Sender
	logger *slog.Logger

	alertEmail        string
	reconcileInterval time.Duration
}

func NewTaskService(
	tasks repository.TaskRepository,
	execs repository.ExecutionRepository,
	eng Engine,
	bus event.Bus,
	sender email.Sender,
	alertEmail string,
	reconcileInterval time.Duration,
	logger *slog.Logger,
) *TaskService {
	if reconcileInterval <= 0 {
		reconcileInterval = time.Minute
	}
	return &TaskService{
		tasks:             tasks,
		execs:             execs,
		engine:            eng,
		bus:               bus,
		sender:            sender,
		alertEmail:        alertEmail,
		reconcileInterval: reconcileInterval,
		logger:            logger.With("component", "task_service"),
	}
}

type CreateTaskInput struct {
	AccountUUID    string
	Name           string
	Description    string
	Tags           []string
	Payload        map[string]any
	SourceModule   domain.SourceModule
	SourceEntityID string
	Schedule       domain.ScheduleConfig
	Retry          *domain.RetryPolicy // nil means default
}

// CreateTask validates, persists a new task, activates it, and registers it
// with the engine.
func (s *TaskService) CreateTask(ctx context.Context, in CreateTaskInput) (*domain.ScheduleTask, error) {
	if in.AccountUUID == "" || in.Name == "" {
		return nil, &domain.CreationError{Step: "validate", Err: errors.New("account and name are required")}
	}
	if !in.SourceModule.Valid() {
		return nil, &domain.CreationError{Step: "validate", Err: fmt.Errorf("unknown source module %q", in.SourceModule)}
	}
	if err := in.Schedule.Validate(); err != nil {
		return nil, &domain.CreationError{Step: "validate", Err: err}
	}

	retry := domain.DefaultRetryPolicy()
	if in.Retry != nil {
		retry = *in.Retry
	}

	now := time.Now()
	next, err := in.Schedule.NextRun(now, nil)
	if err != nil {
		return nil, &domain.CreationError{Step: "validate", Err: err}
	}

	t := &domain.ScheduleTask{
		UUID:           uuid.NewString(),
		AccountUUID:    in.AccountUUID,
		Name:           in.Name,
		Description:    in.Description,
		Tags:           in.Tags,
		Payload:        in.Payload,
		SourceModule:   in.SourceModule,
		SourceEntityID: in.SourceEntityID,
		Schedule:       in.Schedule,
		Retry:          retry,
		Enabled:        true,
		Status:         domain.TaskPending,
		NextRunAt:      next,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.tasks.Save(ctx, t); err != nil {
		return nil, &domain.CreationError{Step: "persist", Err: err}
	}
	s.emit(ctx, domain.EventTaskCreated, t, map[string]any{
		"name":          t.Name,
		"source_module": string(t.SourceModule),
	})

	// A one-off whose date already passed never becomes active.
	if next == nil {
		if err := t.Complete(); err == nil {
			if err := s.tasks.Save(ctx, t); err != nil {
				return nil, &domain.CreationError{Step: "persist", Err: err}
			}
			s.emit(ctx, domain.EventTaskCompleted, t, nil)
		}
		return t, nil
	}

	if err := t.Activate(); err != nil {
		return nil, &domain.CreationError{Step: "persist", Err: err}
	}
	if err := s.tasks.Save(ctx, t); err != nil {
		return nil, &domain.CreationError{Step: "persist", Err: err}
	}
	metrics.TaskTransitionsTotal.WithLabelValues(string(domain.TaskActive)).Inc()

	if err := s.engine.AddTask(t); err != nil {
		s.logger.Error("engine registration failed, reconciler will retry",
			"task_uuid", t.UUID, "error", err)
	}
	return t, nil
}

// CreateTasksBatch creates tasks independently; one bad input does not abort
// the rest. The joined error reports every failure.
func (s *TaskService) CreateTasksBatch(ctx context.Context, inputs []CreateTaskInput) ([]*domain.ScheduleTask, error) {
	var (
		created []*domain.ScheduleTask
		errs    []error
	)
	for _, in := range inputs {
		t, err := s.CreateTask(ctx, in)
		if err != nil {
			errs = append(errs, fmt.Errorf("task %q: %w", in.Name, err))
			continue
		}
		created = append(created, t)
	}
	return created, errors.Join(errs...)
}

// GetTask returns the task if it exists and belongs to the account.
func (s *TaskService) GetTask(ctx context.Context, taskUUID, accountUUID string) (*domain.ScheduleTask, error) {
	t, err := s.tasks.FindByUUID(ctx, taskUUID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if t.AccountUUID != accountUUID {
		return nil, domain.ErrTaskNotFound
	}
	return t, nil
}

func (s *TaskService) GetTasksByAccount(ctx context.Context, accountUUID string) ([]*domain.ScheduleTask, error) {
	tasks, err := s.tasks.FindByAccount(ctx, accountUUID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (s *TaskService) GetTasksBySource(ctx context.Context, module domain.SourceModule, entityID string) ([]*domain.ScheduleTask, error) {
	tasks, err := s.tasks.FindBySourceEntity(ctx, module, entityID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by source: %w", err)
	}
	return tasks, nil
}

// FindDueTasksForExecution returns enabled, non-terminal tasks due on or
// before the given time, ascending by next run.
func (s *TaskService) FindDueTasksForExecution(ctx context.Context, before time.Time, limit int) ([]*domain.ScheduleTask, error) {
	if limit <= 0 {
		limit = 100
	}
	tasks, err := s.tasks.FindDue(ctx, before, limit)
	if err != nil {
		return nil, fmt.Errorf("find due tasks: %w", err)
	}
	return tasks, nil
}

// PauseTask suspends an active task and unregisters its trigger.
func (s *TaskService) PauseTask(ctx context.Context, taskUUID, accountUUID string) error {
	t, err := s.GetTask(ctx, taskUUID, accountUUID)
	if err != nil {
		return err
	}
	if err := t.Pause(); err != nil {
		return err
	}
	if err := s.tasks.Save(ctx, t); err != nil {
		return fmt.Errorf("pause task: %w", err)
	}
	metrics.TaskTransitionsTotal.WithLabelValues(string(domain.TaskPaused)).Inc()

	if err := s.engine.PauseTask(t.UUID); err != nil {
		s.logger.Error("engine pause failed", "task_uuid", t.UUID, "error", err)
	}
	s.emit(ctx, domain.EventTaskPaused, t, nil)
	return nil
}

// ResumeTask reactivates a paused task, recomputing the next run when the
// preserved one is stale, and re-registers it.
func (s *TaskService) ResumeTask(ctx context.Context, taskUUID, accountUUID string) error {
	t, err := s.GetTask(ctx, taskUUID, accountUUID)
	if err != nil {
		return err
	}
	if err := t.Resume(time.Now()); err != nil {
		return err
	}
	if err := s.tasks.Save(ctx, t); err != nil {
		return fmt.Errorf("resume task: %w", err)
	}
	metrics.TaskTransitionsTotal.WithLabelValues(string(domain.TaskActive)).Inc()

	// AddTask replaces any stale registration.
	if err := s.engine.AddTask(t); err != nil {
		s.logger.Error("engine re-registration failed, reconciler will retry",
			"task_uuid", t.UUID, "error", err)
	}
	s.emit(ctx, domain.EventTaskResumed, t, nil)
	return nil
}

// CompleteTask finishes a task and unregisters it.
func (s *TaskService) CompleteTask(ctx context.Context, taskUUID, accountUUID string) error {
	t, err := s.GetTask(ctx, taskUUID, accountUUID)
	if err != nil {
		return err
	}
	return s.finishTask(ctx, t, domain.TaskCompleted)
}

// CancelTask terminates a task irreversibly and unregisters it.
func (s *TaskService) CancelTask(ctx context.Context, taskUUID, accountUUID string) error {
	t, err := s.GetTask(ctx, taskUUID, accountUUID)
	if err != nil {
		return err
	}
	return s.finishTask(ctx, t, domain.TaskCancelled)
}

// FailTask marks a task permanently failed and unregisters it.
func (s *TaskService) FailTask(ctx context.Context, taskUUID, accountUUID string) error {
	t, err := s.GetTask(ctx, taskUUID, accountUUID)
	if err != nil {
		return err
	}
	return s.finishTask(ctx, t, domain.TaskFailed)
}

func (s *TaskService) finishTask(ctx context.Context, t *domain.ScheduleTask, to domain.TaskStatus) error {
	var (
		err       error
		eventType string
	)
	switch to {
	case domain.TaskCompleted:
		err, eventType = t.Complete(), domain.EventTaskCompleted
	case domain.TaskCancelled:
		err, eventType = t.Cancel(), domain.EventTaskCancelled
	case domain.TaskFailed:
		err, eventType = t.Fail(), domain.EventTaskFailed
	default:
		return fmt.Errorf("finish to %s: %w", to, domain.ErrInvalidTransition)
	}
	if err != nil {
		return err
	}
	if err := s.tasks.Save(ctx, t); err != nil {
		return fmt.Errorf("save %s task: %w", to, err)
	}
	metrics.TaskTransitionsTotal.WithLabelValues(string(to)).Inc()

	s.engine.RemoveTask(t.UUID)
	s.emit(ctx, eventType, t, nil)
	return nil
}

// DeleteTask removes the task after verifying ownership. A cross-account
// attempt fails loudly and deletes nothing.
func (s *TaskService) DeleteTask(ctx context.Context, taskUUID, accountUUID string) error {
	t, err := s.tasks.FindByUUID(ctx, taskUUID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if t.AccountUUID != accountUUID {
		return fmt.Errorf("delete task %s: %w", taskUUID, domain.ErrAccountMismatch)
	}
	if err := s.tasks.Delete(ctx, taskUUID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	s.engine.RemoveTask(taskUUID)
	return nil
}

// Batch lifecycle variants. Each task is handled independently; the joined
// error reports every failure.

func (s *TaskService) PauseTasksBatch(ctx context.Context, taskUUIDs []string, accountUUID string) error {
	return s.batch(taskUUIDs, func(id string) error { return s.PauseTask(ctx, id, accountUUID) })
}

func (s *TaskService) ResumeTasksBatch(ctx context.Context, taskUUIDs []string, accountUUID string) error {
	return s.batch(taskUUIDs, func(id string) error { return s.ResumeTask(ctx, id, accountUUID) })
}

func (s *TaskService) CompleteTasksBatch(ctx context.Context, taskUUIDs []string, accountUUID string) error {
	return s.batch(taskUUIDs, func(id string) error { return s.CompleteTask(ctx, id, accountUUID) })
}

func (s *TaskService) CancelTasksBatch(ctx context.Context, taskUUIDs []string, accountUUID string) error {
	return s.batch(taskUUIDs, func(id string) error { return s.CancelTask(ctx, id, accountUUID) })
}

func (s *TaskService) FailTasksBatch(ctx context.Context, taskUUIDs []string, accountUUID string) error {
	return s.batch(taskUUIDs, func(id string) error { return s.FailTask(ctx, id, accountUUID) })
}

func (s *TaskService) DeleteTasksBatch(ctx context.Context, taskUUIDs []string, accountUUID string) error {
	return s.batch(taskUUIDs, func(id string) error { return s.DeleteTask(ctx, id, accountUUID) })
}

func (s *TaskService) batch(ids []string, op func(id string) error) error {
	var errs []error
	for _, id := range ids {
		if err := op(id); err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// UpdateScheduleConfig replaces the schedule wholesale, recomputes the next
// run, and refreshes the engine registration. An exhausted new schedule
// completes the task.
func (s *TaskService) UpdateScheduleConfig(ctx context.Context, taskUUID, accountUUID string, cfg domain.ScheduleConfig) (*domain.ScheduleTask, error) {
	t, err := s.GetTask(ctx, taskUUID, accountUUID)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return nil, fmt.Errorf("update schedule of %s task: %w", t.Status, domain.ErrInvalidTransition)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	next, err := cfg.NextRun(time.Now(), t.LastRunAt)
	if err != nil {
		return nil, err
	}
	t.Schedule = cfg
	t.NextRunAt = next
	t.UpdatedAt = time.Now()

	if next == nil {
		if err := s.finishTask(ctx, t, domain.TaskCompleted); err != nil {
			return nil, err
		}
		return t, nil
	}

	if err := s.tasks.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	if t.Status == domain.TaskActive {
		if err := s.engine.AddTask(t); err != nil {
			s.logger.Error("engine re-registration failed, reconciler will retry",
				"task_uuid", t.UUID, "error", err)
		}
	}
	return t, nil
}

type UpdateMetadataInput struct {
	Name        *string
	Description *string
	Tags        []string
	Payload     map[string]any
}

// UpdateTaskMetadata updates descriptive fields without touching scheduling.
func (s *TaskService) UpdateTaskMetadata(ctx context.Context, taskUUID, accountUUID string, in UpdateMetadataInput) (*domain.ScheduleTask, error) {
	t, err := s.GetTask(ctx, taskUUID, accountUUID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		t.Name = *in.Name
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.Tags != nil {
		t.Tags = in.Tags
	}
	if in.Payload != nil {
		t.Payload = in.Payload
	}
	t.UpdatedAt = time.Now()

	if err := s.tasks.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("update metadata: %w", err)
	}
	// Payload changes must reach the execution context.
	if t.Status == domain.TaskActive && in.Payload != nil {
		if err := s.engine.AddTask(t); err != nil {
			s.logger.Error("engine re-registration failed, reconciler will retry",
				"task_uuid", t.UUID, "error", err)
		}
	}
	return t, nil
}

// RunTaskNow fires the task immediately, bypassing its schedule.
func (s *TaskService) RunTaskNow(ctx context.Context, taskUUID, accountUUID string) error {
	t, err := s.GetTask(ctx, taskUUID, accountUUID)
	if err != nil {
		return err
	}
	if err := s.engine.RunTask(t.UUID); err != nil {
		return fmt.Errorf("run task now: %w", err)
	}
	return nil
}

// GetExecutionHistory returns the task's most recent execution records.
func (s *TaskService) GetExecutionHistory(ctx context.Context, taskUUID, accountUUID string, limit int) ([]*domain.ExecutionRecord, error) {
	if _, err := s.GetTask(ctx, taskUUID, accountUUID); err != nil {
		return nil, err
	}
	records, err := s.execs.FindByTaskUUID(ctx, taskUUID, limit)
	if err != nil {
		return nil, fmt.Errorf("get execution history: %w", err)
	}
	return records, nil
}

// emit publishes a lifecycle event. Dispatch is fire-and-forget per listener.
func (s *TaskService) emit(ctx context.Context, eventType string, t *domain.ScheduleTask, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["status"] = string(t.Status)
	err := s.bus.Publish(ctx, event.Event{
		Type:        eventType,
		AggregateID: t.UUID,
		AccountUUID: t.AccountUUID,
		OccurredOn:  time.Now(),
		Payload:     payload,
	})
	if err != nil {
		s.logger.Error("publish event", "event_type", eventType, "task_uuid", t.UUID, "error", err)
	}
}
