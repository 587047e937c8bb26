package compiler

import (
	"fmt"
	"time"
)

// TimeoutError reports a command killed at the wall-clock deadline.
type TimeoutError struct {
	Limit   time.Duration
	Command string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Command, e.Limit)
}

func (e *TimeoutError) ErrorCode() string { return "compiler_timeout" }

// OutputTooLargeError reports a command aborted because it produced more
// bytes than the cap allows. Observed counts what had been written when the
// cap tripped, so it is always at least Limit.
type OutputTooLargeError struct {
	Observed int64
	Limit    int64
	Command  string
}

func (e *OutputTooLargeError) Error() string {
	return fmt.Sprintf("%s produced %d bytes, limit is %d", e.Command, e.Observed, e.Limit)
}

func (e *OutputTooLargeError) ErrorCode() string { return "output_too_large" }

// SpawnError reports a command that could not be started at all.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *SpawnError) ErrorCode() string { return "spawn_failed" }
