package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTaskNotFound      = errors.New("schedule task not found")
	ErrInvalidCronExpr   = errors.New("invalid cron expression")
	ErrInvalidSchedule   = errors.New("invalid schedule config")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAccountMismatch   = errors.New("task is owned by a different account")

	// ErrStrategyNotFound means no provisioning strategy is registered for a
	// source module. Fatal for the event, logged and skipped.
	ErrStrategyNotFound = errors.New("no provisioning strategy for source module")

	// ErrNoScheduleRequired signals a documented no-op: the source entity
	// carries no schedule-relevant configuration.
	ErrNoScheduleRequired = errors.New("source entity requires no schedule")
)

// CreationError wraps a task-creation failure with the pipeline step that
// produced it (validate, persist, register).
type CreationError struct {
	Step string
	Err  error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("create schedule task (%s): %v", e.Step, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }
