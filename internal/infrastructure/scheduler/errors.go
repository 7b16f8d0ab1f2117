package scheduler

import "errors"

var (
	// ErrRunnerNotRunning is returned when stopping a runner that was never started
	ErrRunnerNotRunning = errors.New("scheduler: runner is not running")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("scheduler: invalid configuration")
)
