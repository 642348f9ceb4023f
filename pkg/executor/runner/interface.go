package runner

import (
	"context"
	"time"
)

// Spec describes one command launch on a resource.
type Spec struct {
	Command string // passed to the shell with -c
	WorkDir string
	Stdout  string // file receiving stdout; created or truncated
	Stderr  string // file receiving stderr; created or truncated
	Env     []string
}

// Result captures the outcome of a command execution.
type Result struct {
	ExitCode int
	Duration time.Duration
	Error    error // launch or transport failure, or the exit error
}

// Runner executes a single command.
type Runner interface {
	Run(ctx context.Context, spec Spec) Result
}
