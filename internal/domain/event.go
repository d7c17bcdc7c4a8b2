package domain

// Lifecycle and result events emitted by the scheduling subsystem.
const (
	EventTaskCreated   = "schedule.task.created"
	EventTaskPaused    = "schedule.task.paused"
	EventTaskResumed   = "schedule.task.resumed"
	EventTaskCompleted = "schedule.task.completed"
	EventTaskCancelled = "schedule.task.cancelled"
	EventTaskFailed    = "schedule.task.failed"

	EventExecutionSucceeded = "schedule.task.execution_succeeded"
	EventExecutionFailed    = "schedule.task.execution_failed"

	// EventTaskTriggered is published by the default execution handler so
	// delivery modules (notifications, email digests) can react to a firing.
	EventTaskTriggered = "schedule.task.triggered"
)
