// Package runner executes annotation jobs on a bounded pool of child
// processes and reports one Result per job.
//
// A job succeeds only when its process exits 0 and its output file exists
// and is non-empty. The pool never infers success from the output file
// alone.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"

	"cwas/internal/job"
	"cwas/internal/logger"
	"cwas/internal/metrics"
)

// ErrNoOutput marks a job whose process exited cleanly but left no usable
// output file.
var ErrNoOutput = errors.New("engine produced no output")

// ErrNotStarted marks a job whose context was already done when its turn
// came, as after a fail-fast cancellation. It is always joined with the
// context's error.
var ErrNotStarted = errors.New("job not started")

// stderrTail is how many trailing stderr bytes a Result keeps.
const stderrTail = 4 << 10

// Config controls the pool.
type Config struct {
	Workers  int           // max concurrent jobs (>=1)
	Timeout  time.Duration // per attempt; 0 disables
	Retries  int           // extra attempts after a failure
	FailFast bool          // cancel remaining jobs on the first failure

	// RetryDelay is the initial backoff interval; 0 uses the backoff default.
	RetryDelay time.Duration
}

// Result is the outcome of one job.
type Result struct {
	Job      job.Job
	ExitCode int // -1 when the process never exited normally
	Attempts int
	Duration time.Duration
	Stderr   string // tail of the last attempt's stderr
	Err      error  // nil on success; *JobError otherwise
}

func (r Result) OK() bool { return r.Err == nil }

// JobError describes a failed job.
type JobError struct {
	Input    string
	Output   string
	ExitCode int
	Attempts int
	Stderr   string
	Err      error
}

func (e *JobError) Error() string {
	msg := fmt.Sprintf("annotation of %s failed (exit %d after %d attempt(s)): %v", e.Input, e.ExitCode, e.Attempts, e.Err)
	if last := lastLine(e.Stderr); last != "" {
		msg += ": " + last
	}
	return msg
}

func (e *JobError) Unwrap() error { return e.Err }

// Pool runs jobs through an Executor.
type Pool struct {
	cfg     Config
	exec    Executor
	log     logger.Logger
	metrics *metrics.Metrics
}

// New returns a Pool. A nil logger discards logs; nil metrics records nothing.
func New(cfg Config, exec Executor, log logger.Logger, m *metrics.Metrics) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &Pool{cfg: cfg, exec: exec, log: log, metrics: m}
}

// Run executes every job with at most Workers running at once and returns
// after all of them terminated. Results are in submission order regardless
// of completion order.
func (p *Pool) Run(ctx context.Context, jobs []job.Job) []Result {
	results := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return results
	}

	cp := pool.New().WithContext(ctx).WithMaxGoroutines(p.cfg.Workers)
	if p.cfg.FailFast {
		cp = cp.WithCancelOnError()
	}
	// The pool runs every task even after cancellation; runOne turns a done
	// context into ErrNotStarted.
	for i, j := range jobs {
		cp.Go(func(ctx context.Context) error {
			results[i] = p.runOne(ctx, j)
			return results[i].Err
		})
	}
	_ = cp.Wait()
	return results
}

func (p *Pool) runOne(ctx context.Context, j job.Job) (res Result) {
	log := p.log.With(zap.String("input", j.Input()))
	res = Result{Job: j, ExitCode: -1}
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		status := metrics.StatusSuccess
		switch {
		case res.Err == nil:
			log.Info("job finished", zap.Duration("took", res.Duration), zap.Int("attempts", res.Attempts))
		case errors.Is(res.Err, context.Canceled):
			status = metrics.StatusCancelled
			log.Warn("job cancelled", zap.Int("attempts", res.Attempts))
		default:
			status = metrics.StatusFailed
			log.Error("job failed", zap.Error(res.Err))
		}
		p.metrics.ObserveJob(status, res.Attempts, res.Duration)
	}()

	if err := ctx.Err(); err != nil {
		res.Err = &JobError{Input: j.Input(), Output: j.Output(), ExitCode: -1, Err: fmt.Errorf("%w: %w", ErrNotStarted, err)}
		return res
	}

	attempt := func() error {
		res.Attempts++
		// A stale file from an earlier attempt must not pass the output check.
		if err := os.Remove(j.Output()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return backoff.Permanent(fmt.Errorf("remove stale output: %w", err))
		}

		actx, cancel := ctx, context.CancelFunc(func() {})
		if p.cfg.Timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		}
		defer cancel()

		tail := &tailBuffer{max: stderrTail}
		outLog := &zapio.Writer{Log: log.Zap(), Level: zapcore.DebugLevel}
		errLog := &zapio.Writer{Log: log.Zap(), Level: zapcore.DebugLevel}
		log.Debug("job started", zap.Int("attempt", res.Attempts), zap.Stringer("cmd", j))

		err := p.exec.Run(actx, j.Argv(), outLog, io.MultiWriter(tail, errLog))
		_ = outLog.Close()
		_ = errLog.Close()
		res.Stderr = tail.String()
		res.ExitCode = ExitCode(err)

		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if errors.Is(actx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("timed out after %s: %w", p.cfg.Timeout, err)
			}
			return err
		}
		return checkOutput(j.Output())
	}

	exp := backoff.NewExponentialBackOff()
	if p.cfg.RetryDelay > 0 {
		exp.InitialInterval = p.cfg.RetryDelay
	}
	exp.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.cfg.Retries)), ctx)

	err := backoff.RetryNotify(attempt, bo, func(err error, wait time.Duration) {
		log.Warn("job attempt failed, retrying", zap.Int("attempt", res.Attempts), zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		res.Err = &JobError{
			Input:    j.Input(),
			Output:   j.Output(),
			ExitCode: res.ExitCode,
			Attempts: res.Attempts,
			Stderr:   res.Stderr,
			Err:      err,
		}
	}
	return res
}

func checkOutput(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s does not exist", ErrNoOutput, path)
		}
		return err
	}
	if fi.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", ErrNoOutput, path)
	}
	return nil
}

// Failed returns the results that did not succeed, in order.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}
