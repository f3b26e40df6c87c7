// internal/runner/executor.go
package runner

//go:generate mockgen -source executor.go -destination ../mocks/mock_executor.go -package mocks

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"time"
)

// Executor runs one external command to completion. argv[0] is the program.
// Implementations must stop the command when ctx is done.
type Executor interface {
	Run(ctx context.Context, argv []string, stdout, stderr io.Writer) error
}

// ExecExecutor runs commands as child processes.
type ExecExecutor struct {
	Dir string
	Env []string // nil inherits the parent environment

	// WaitDelay bounds how long to wait for output pipes after the process
	// is killed on cancellation.
	WaitDelay time.Duration
}

var _ Executor = ExecExecutor{}

func (e ExecExecutor) Run(ctx context.Context, argv []string, stdout, stderr io.Writer) error {
	if len(argv) == 0 {
		return errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = e.Dir
	cmd.Env = e.Env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = e.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}
	return cmd.Run()
}

// ExitCode extracts a process exit status from an Executor error:
// 0 for nil, the status for a normal non-zero exit, -1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	var ce interface{ ExitCode() int }
	if errors.As(err, &ce) {
		return ce.ExitCode()
	}
	return -1
}
