// Package appshell is the process entry shared by the binaries: it wires
// signals to a context and turns the run's result into an exit status.
package appshell

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// ExitInterrupted is the status after SIGINT or SIGTERM.
const ExitInterrupted = 130

// Main runs run with a context cancelled on SIGINT/SIGTERM and exits.
func Main(run func(context.Context, []string, io.Writer, io.Writer) int) {
	os.Exit(Exec(run, os.Args[1:], os.Stdout, os.Stderr))
}

// Exec is Main without os.Exit.
func Exec(run func(context.Context, []string, io.Writer, io.Writer) int, argv []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(argv) == 0 {
		argv = []string{"--help"}
	}

	code := run(ctx, argv, stdout, stderr)
	// Normalize cancellation exit code.
	if ctx.Err() != nil && code != ExitInterrupted {
		code = ExitInterrupted
	}
	return code
}
