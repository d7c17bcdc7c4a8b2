package handler

const (
	errInternalServer    = "Internal server error"
	errTaskNotFound      = "Task not found"
	errInvalidSchedule   = "Invalid schedule config"
	errInvalidTransition = "Transition not allowed from the task's current status"
)
