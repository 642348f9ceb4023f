package resource

import (
	"context"
	"fmt"
	"os"

	"stagerun/pkg/executor/runner"
	"stagerun/pkg/staging"
)

// LocalTransport runs tasks on the submit host itself. Its working area is
// the local filesystem, so staging is a plain directory copy.
type LocalTransport struct {
	runner runner.Runner
	slots  chan struct{}
}

// NewLocalTransport caps concurrent commands at slots; zero or less uses the
// detected CPU count.
func NewLocalTransport(slots int) *LocalTransport {
	if slots <= 0 {
		slots = DetectHost().CPUs
	}
	return &LocalTransport{
		runner: runner.NewShellRunner(),
		slots:  make(chan struct{}, slots),
	}
}

func (l *LocalTransport) Push(ctx context.Context, src, dst string, mode staging.Mode) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return staging.Copy(src, dst, mode)
}

func (l *LocalTransport) Pull(ctx context.Context, src, dst string, mode staging.Mode) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return staging.Copy(src, dst, mode)
}

// Run waits for a free slot, then launches the command.
func (l *LocalTransport) Run(ctx context.Context, spec runner.Spec) runner.Result {
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return runner.Result{ExitCode: -1, Error: ctx.Err()}
	}
	defer func() { <-l.slots }()
	return l.runner.Run(ctx, spec)
}

func (l *LocalTransport) Stat(ctx context.Context, p string) error {
	_, err := os.Stat(p)
	return err
}

func (l *LocalTransport) MkdirAll(ctx context.Context, p string) error {
	if err := os.MkdirAll(p, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	return nil
}

func (l *LocalTransport) ReadFile(ctx context.Context, p string) ([]byte, error) {
	return os.ReadFile(p)
}

func (l *LocalTransport) Close() error { return nil }
