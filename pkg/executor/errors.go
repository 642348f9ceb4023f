package executor

import (
	"errors"
	"fmt"
	"strings"

	"stagerun/pkg/models"
)

var (
	// ErrWaitTimeout is returned by WaitTimeout when the task is still in
	// flight at the deadline. The task itself keeps running.
	ErrWaitTimeout = errors.New("timed out waiting for task")

	// ErrPending is returned by Poll while the task has not finished.
	ErrPending = errors.New("task not finished")

	// ErrAlreadySubmitted rejects a second submission of the same task.
	ErrAlreadySubmitted = errors.New("task already submitted")
)

// UnknownResourceError is returned by Submit when the task targets a label
// that is not in the pool.
type UnknownResourceError struct {
	Resource string
	Known    []string
}

func (e *UnknownResourceError) Error() string {
	return fmt.Sprintf("unknown resource %q (known: %s)", e.Resource, strings.Join(e.Known, ", "))
}

// Direction of a staging transfer.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// StagingError reports the file reference whose transfer failed.
type StagingError struct {
	Task      string
	Direction Direction
	Ref       models.FileReference
	Err       error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("task %s: staging %s %s: %v", e.Task, e.Direction, e.Ref, e.Err)
}

func (e *StagingError) Unwrap() error { return e.Err }

// ExecutionError reports a command that exited non-zero or could not be run.
// Stdout and Stderr are the capture files on the resource.
type ExecutionError struct {
	Task     string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("task %s: exit code %d (stdout: %s, stderr: %s)", e.Task, e.ExitCode, e.Stdout, e.Stderr)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExecutionError) Unwrap() error { return e.Err }
