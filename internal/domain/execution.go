package domain

import "time"

type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailure ExecutionStatus = "failure"
	ExecutionTimeout ExecutionStatus = "timeout"
)

// ExecutionRecord is one entry in a task's append-only execution history.
// Once written with a terminal status it is never mutated; records outlive
// their task so the audit trail survives deletion.
type ExecutionRecord struct {
	UUID          string
	TaskUUID      string
	ExecutionTime time.Time
	Status        ExecutionStatus
	Duration      time.Duration
	Result        map[string]any
	Error         *string // nil on success
	RetryCount    int     // task retry counter at execution time
	CreatedAt     time.Time
}
