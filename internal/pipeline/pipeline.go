// internal/pipeline/pipeline.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"cwas/internal/annotsrc"
	"cwas/internal/cleanup"
	"cwas/internal/job"
	"cwas/internal/logger"
	"cwas/internal/merge"
	"cwas/internal/metrics"
	"cwas/internal/partition"
	"cwas/internal/runner"
	"cwas/internal/vcf"
)

// Options configure one run.
type Options struct {
	Input  string
	Output string
	Split  bool

	// WorkDir receives partition and per-job files.
	WorkDir string
	// RunID tags intermediate files; generated when empty.
	RunID string
	// Naming overrides the partition file naming policy.
	Naming partition.NamingPolicy

	Job     job.Options
	Sources []annotsrc.Source
	Runner  runner.Config

	KeepTemp bool
}

// Summary reports what a run did.
type Summary struct {
	RunID        string
	State        State
	Partitions   []partition.Partition
	Jobs         []job.Job
	Results      []runner.Result
	InputRecords int
	Merge        merge.Stats
	Cleanup      cleanup.Report
}

// ErrPathConflict means two intermediate files, or an intermediate file
// and the source or destination, would share a path.
var ErrPathConflict = errors.New("conflicting file paths")

// JobsFailedError is returned when at least one job failed. The merge is
// not attempted. Jobs stopped by fail-fast after the first failure are
// listed apart from the failures and are not unwrapped.
type JobsFailedError struct {
	Total     int
	Failures  []*runner.JobError
	Cancelled []*runner.JobError
}

func (e *JobsFailedError) Error() string {
	inputs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		inputs[i] = f.Input
	}
	msg := fmt.Sprintf("%d of %d annotation job(s) failed (%s)", len(e.Failures), e.Total, strings.Join(inputs, ", "))
	if n := len(e.Cancelled); n > 0 {
		msg += fmt.Sprintf(", %d cancelled", n)
	}
	if len(e.Failures) > 0 {
		msg += fmt.Sprintf("; first: %v", e.Failures[0])
	}
	return msg
}

func (e *JobsFailedError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f
	}
	return out
}

// Pipeline wires the stages together.
type Pipeline struct {
	opts    Options
	exec    runner.Executor
	log     logger.Logger
	metrics *metrics.Metrics
	state   State
}

// New returns a Pipeline. A nil logger discards logs; nil metrics records
// nothing.
func New(opts Options, exec runner.Executor, log logger.Logger, m *metrics.Metrics) *Pipeline {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	if opts.RunID == "" {
		opts.RunID = partition.NewRunID()
	}
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Dir(opts.Input)
	}
	return &Pipeline{opts: opts, exec: exec, log: log.With(zap.String("run", opts.RunID)), metrics: m}
}

// State is the state reached by the last Run.
func (p *Pipeline) State() State { return p.state }

func (p *Pipeline) transition(s State) {
	p.log.Info("stage", zap.Stringer("from", p.state), zap.Stringer("to", s))
	p.state = s
}

func (p *Pipeline) timed(stage string, start time.Time) {
	d := time.Since(start)
	p.metrics.ObserveStage(stage, d)
	p.log.Debug("stage timing", zap.String("stage", stage), zap.Duration("took", d))
}

// Run executes the whole pipeline once.
func (p *Pipeline) Run(ctx context.Context) (sum Summary, err error) {
	p.state = StateInit
	sum.RunID = p.opts.RunID
	reg := cleanup.New(p.log)

	defer func() {
		if err != nil {
			// Only a cancelled run gives up its files; failures keep them
			// for inspection.
			if ctx.Err() == nil {
				reg.Keep(err.Error())
			}
			if p.state != StateFailed {
				p.transition(StateFailed)
			}
		} else if p.opts.KeepTemp {
			reg.Keep("--keep-temp")
		}
		sum.Cleanup = reg.Release()
		if err == nil && p.state == StateMerged && sum.Cleanup.Err == nil && sum.Cleanup.Kept == 0 {
			p.transition(StateCleaned)
		}
		sum.State = p.state
	}()

	var inputs []string
	start := time.Now()
	if p.opts.Split {
		naming := p.opts.Naming
		if naming == nil {
			naming = partition.DefaultNaming(p.opts.WorkDir, p.opts.Input, p.opts.RunID)
		}
		parts, header, err := partition.Split(ctx, p.opts.Input, naming)
		if err != nil {
			return sum, fmt.Errorf("partition %s: %w", p.opts.Input, err)
		}
		sum.Partitions = parts
		inputs = partition.Paths(parts)
		reg.Add(inputs...)
		for _, pt := range parts {
			sum.InputRecords += pt.Records
		}
		p.metrics.SetPartitions(len(parts))
		p.metrics.AddRecords("partition", sum.InputRecords)
		p.timed("partition", start)
		p.transition(StatePartitioned)

		if len(parts) == 0 {
			p.log.Warn("input has no data records; writing header only", zap.String("input", p.opts.Input))
			st, err := merge.WriteHeaderOnly(header, p.opts.Output)
			if err != nil {
				return sum, fmt.Errorf("write %s: %w", p.opts.Output, err)
			}
			sum.Merge = st
			p.transition(StateMerged)
			return sum, nil
		}
		p.log.Info("partitioned input", zap.Int("partitions", len(parts)), zap.Int("records", sum.InputRecords))
	} else {
		_, n, err := vcf.CountData(p.opts.Input)
		if err != nil {
			return sum, fmt.Errorf("read %s: %w", p.opts.Input, err)
		}
		sum.InputRecords = n
		inputs = []string{p.opts.Input}
		p.transition(StatePartitioned)
	}

	jobOpts := p.opts.Job
	if jobOpts.NameOut == nil {
		jobOpts.NameOut = p.outputNamer(sum.Partitions)
	}
	jobs := job.NewBuilder(jobOpts, p.opts.Sources).BuildAll(inputs)
	sum.Jobs = jobs
	if err := p.checkPaths(jobs); err != nil {
		return sum, err
	}
	reg.Add(job.Outputs(jobs)...)
	p.transition(StateJobsBuilt)

	start = time.Now()
	p.transition(StateRunning)
	pool := runner.New(p.opts.Runner, p.exec, p.log, p.metrics)
	sum.Results = pool.Run(ctx, jobs)
	p.timed("annotate", start)

	if err := ctx.Err(); err != nil {
		return sum, err
	}
	if failed := runner.Failed(sum.Results); len(failed) > 0 {
		jerr := &JobsFailedError{Total: len(jobs)}
		for _, r := range failed {
			var je *runner.JobError
			if !errors.As(r.Err, &je) {
				je = &runner.JobError{Input: r.Job.Input(), Output: r.Job.Output(), ExitCode: r.ExitCode, Err: r.Err}
			}
			// The parent context is live here, so a cancelled job was
			// stopped by fail-fast.
			if errors.Is(je, context.Canceled) {
				jerr.Cancelled = append(jerr.Cancelled, je)
			} else {
				jerr.Failures = append(jerr.Failures, je)
			}
		}
		return sum, jerr
	}

	start = time.Now()
	st, err := merge.Merge(ctx, job.Outputs(jobs), p.opts.Output, merge.WithExpectedRecords(sum.InputRecords))
	if err != nil {
		return sum, fmt.Errorf("merge into %s: %w", p.opts.Output, err)
	}
	sum.Merge = st
	p.metrics.AddRecords("merge", st.DataLines)
	p.timed("merge", start)
	p.log.Info("merged output", zap.String("output", p.opts.Output), zap.Int("records", st.DataLines))
	p.transition(StateMerged)
	return sum, nil
}

// outputNamer places a partition's output beside it, named from its key
// under a "vep" segment where default partition names use "tmp", so no
// output can land on another partition's input. An unsplit source's output
// goes to the work directory.
func (p *Pipeline) outputNamer(parts []partition.Partition) job.OutputNamer {
	keys := make(map[string]string, len(parts))
	for _, pt := range parts {
		keys[pt.Path] = pt.Key
	}
	stem := partition.Stem(p.opts.Input)
	return func(input string) string {
		if key, ok := keys[input]; ok {
			name := fmt.Sprintf("%s.%s.vep.%s.vcf", stem, p.opts.RunID, partition.SanitizeKey(key))
			return filepath.Join(filepath.Dir(input), name)
		}
		if input == p.opts.Input {
			return filepath.Join(p.opts.WorkDir, fmt.Sprintf("%s.%s.vep.vcf", stem, p.opts.RunID))
		}
		return job.DefaultOutputNamer(input)
	}
}

// checkPaths rejects job sets where any input or output path repeats, or
// an output would overwrite the source or the destination.
func (p *Pipeline) checkPaths(jobs []job.Job) error {
	owner := map[string]string{
		filepath.Clean(p.opts.Input):  "source",
		filepath.Clean(p.opts.Output): "destination",
	}
	claim := func(path, role string) error {
		path = filepath.Clean(path)
		if prev, taken := owner[path]; taken {
			return fmt.Errorf("%w: %s is both %s and %s", ErrPathConflict, path, prev, role)
		}
		owner[path] = role
		return nil
	}
	for _, j := range jobs {
		// An unsplit job reads the source itself.
		if p.opts.Split {
			if err := claim(j.Input(), "input of "+j.Input()); err != nil {
				return err
			}
		}
		if err := claim(j.Output(), "output of "+j.Input()); err != nil {
			return err
		}
	}
	return nil
}
