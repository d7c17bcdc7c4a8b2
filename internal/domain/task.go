package domain

import (
	"fmt"
	"time"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskActive    TaskStatus = "active"
	TaskPaused    TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
	TaskCancelled TaskStatus = "cancelled"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskCancelled || s == TaskFailed
}

// ScheduleTask is one schedulable unit of background work, owned by a single
// account and provisioned either directly or from a collaborating module's
// entity (goal, task, reminder).
type ScheduleTask struct {
	UUID        string
	AccountUUID string

	Name        string
	Description string
	Tags        []string
	Payload     map[string]any

	SourceModule   SourceModule
	SourceEntityID string

	Schedule ScheduleConfig
	Retry    RetryPolicy

	Enabled        bool
	Status         TaskStatus
	NextRunAt      *time.Time
	LastRunAt      *time.Time
	ExecutionCount int
	RetryCount     int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// transition moves the task to a new status and keeps the enabled flag and
// next-run pointer consistent with it.
func (t *ScheduleTask) transition(to TaskStatus) {
	t.Status = to
	t.Enabled = to == TaskPending || to == TaskActive
	if to.Terminal() {
		t.NextRunAt = nil
	}
	t.UpdatedAt = time.Now()
}

// Activate moves a pending or paused task to active.
func (t *ScheduleTask) Activate() error {
	if t.Status != TaskPending && t.Status != TaskPaused {
		return fmt.Errorf("activate from %s: %w", t.Status, ErrInvalidTransition)
	}
	t.transition(TaskActive)
	return nil
}

// Pause suspends an active task. NextRunAt is preserved so Resume can decide
// whether a recomputation is needed.
func (t *ScheduleTask) Pause() error {
	if t.Status != TaskActive {
		return fmt.Errorf("pause from %s: %w", t.Status, ErrInvalidTransition)
	}
	next := t.NextRunAt
	t.transition(TaskPaused)
	t.NextRunAt = next
	return nil
}

// Resume reactivates a paused task, recomputing NextRunAt from now when the
// preserved value has already passed.
func (t *ScheduleTask) Resume(now time.Time) error {
	if t.Status != TaskPaused {
		return fmt.Errorf("resume from %s: %w", t.Status, ErrInvalidTransition)
	}
	t.transition(TaskActive)
	if t.NextRunAt == nil || t.NextRunAt.Before(now) {
		next, err := t.Schedule.NextRun(now, t.LastRunAt)
		if err != nil {
			return err
		}
		t.NextRunAt = next
	}
	return nil
}

// Complete finishes the task: max executions reached, one-off date passed, or
// an explicit caller decision.
func (t *ScheduleTask) Complete() error {
	if t.Status.Terminal() {
		return fmt.Errorf("complete from %s: %w", t.Status, ErrInvalidTransition)
	}
	t.transition(TaskCompleted)
	return nil
}

// Cancel terminates the task irreversibly.
func (t *ScheduleTask) Cancel() error {
	if t.Status.Terminal() {
		return fmt.Errorf("cancel from %s: %w", t.Status, ErrInvalidTransition)
	}
	t.transition(TaskCancelled)
	return nil
}

// Fail marks the task permanently failed after retries are exhausted.
func (t *ScheduleTask) Fail() error {
	if t.Status != TaskActive {
		return fmt.Errorf("fail from %s: %w", t.Status, ErrInvalidTransition)
	}
	t.transition(TaskFailed)
	return nil
}

// RecordRun updates execution bookkeeping after a successful firing.
// next is nil when the schedule is exhausted.
func (t *ScheduleTask) RecordRun(ranAt time.Time, next *time.Time) {
	t.LastRunAt = &ranAt
	t.ExecutionCount++
	t.RetryCount = 0
	t.NextRunAt = next
	t.UpdatedAt = time.Now()
}

// RecordFailure increments the retry counter and reports whether the retry
// budget is exhausted.
func (t *ScheduleTask) RecordFailure() (exhausted bool) {
	t.RetryCount++
	t.UpdatedAt = time.Now()
	return t.RetryCount > t.Retry.MaxRetries
}

// MaxExecutionsReached reports whether the schedule's execution cap is hit.
func (t *ScheduleTask) MaxExecutionsReached() bool {
	return t.Schedule.MaxExecutions != nil && t.ExecutionCount >= *t.Schedule.MaxExecutions
}
