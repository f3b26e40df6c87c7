// Package testutil provides a stand-in for the external annotation engine.
package testutil

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ExitError mimics a non-zero process exit.
type ExitError struct{ Code int }

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }
func (e *ExitError) ExitCode() int { return e.Code }

// FakeEngine reads the -i file and writes every line to the -o file,
// appending a field to data lines. It satisfies runner.Executor.
type FakeEngine struct {
	// Field is appended to each data line; defaults to "ANN=mock".
	Field string
	// Delay is slept per job; cancellation interrupts it.
	Delay time.Duration
	// Fail returns a non-zero exit code for an input, 0 to succeed.
	Fail func(input string, attempt int) int
	// NoOutput makes the engine exit 0 without writing its output.
	NoOutput func(input string) bool
	// Drop omits data lines from the output when it returns true.
	Drop func(input, line string) bool

	mu         sync.Mutex
	running    int
	maxRunning int
	calls      map[string]int
}

// MaxConcurrent is the highest number of overlapping Run calls seen.
func (f *FakeEngine) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxRunning
}

// Calls is how many times input was run.
func (f *FakeEngine) Calls(input string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[input]
}

// TotalCalls counts every Run.
func (f *FakeEngine) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func flagValue(argv []string, name string) string {
	for i := 0; i+1 < len(argv); i++ {
		if argv[i] == name {
			return argv[i+1]
		}
	}
	return ""
}

func (f *FakeEngine) Run(ctx context.Context, argv []string, stdout, stderr io.Writer) error {
	in, out := flagValue(argv, "-i"), flagValue(argv, "-o")

	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[in]++
	attempt := f.calls[in]
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.Fail != nil {
		if code := f.Fail(in, attempt); code != 0 {
			fmt.Fprintf(stderr, "fake engine: failing %s\n", in)
			return &ExitError{Code: code}
		}
	}
	if f.NoOutput != nil && f.NoOutput(in) {
		return nil
	}
	return f.annotate(in, out)
}

func (f *FakeEngine) annotate(in, out string) error {
	field := f.Field
	if field == "" {
		field = "ANN=mock"
	}
	src, err := os.Open(in)
	if err != nil {
		return &ExitError{Code: 2}
	}
	defer src.Close()
	dst, err := os.Create(out)
	if err != nil {
		return &ExitError{Code: 2}
	}
	w := bufio.NewWriter(dst)
	sc := bufio.NewScanner(src)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "#") {
			fmt.Fprintln(w, line)
			continue
		}
		if f.Drop != nil && f.Drop(in, line) {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", line, field)
	}
	if err := w.Flush(); err != nil {
		_ = dst.Close()
		return err
	}
	if err := sc.Err(); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}
