package engine

import "errors"

var (
	ErrAlreadyRunning    = errors.New("engine is already running")
	ErrNotRunning        = errors.New("engine is not running")
	ErrTaskNotRegistered = errors.New("task is not registered with the engine")
)
