package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// DefaultShell runs task commands.
const DefaultShell = "/bin/sh"

// ShellRunner runs commands through a local shell, redirecting output to files.
type ShellRunner struct {
	Shell string
}

func NewShellRunner() *ShellRunner {
	return &ShellRunner{Shell: DefaultShell}
}

func (s *ShellRunner) Run(ctx context.Context, spec Spec) Result {
	start := time.Now()

	stdout, err := openOutput(spec.Stdout)
	if err != nil {
		return Result{ExitCode: -1, Error: fmt.Errorf("open stdout: %w", err)}
	}
	defer stdout.Close()

	stderr, err := openOutput(spec.Stderr)
	if err != nil {
		return Result{ExitCode: -1, Error: fmt.Errorf("open stderr: %w", err)}
	}
	defer stderr.Close()

	shell := s.Shell
	if shell == "" {
		shell = DefaultShell
	}
	cmd := exec.CommandContext(ctx, shell, "-c", spec.Command)
	cmd.Dir = spec.WorkDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	// Own process group so a killed context takes the whole tree with it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	err = cmd.Run()
	res := Result{Duration: time.Since(start), Error: err}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
	}
	return res
}

func openOutput(p string) (*os.File, error) {
	if p == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(p, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
}
