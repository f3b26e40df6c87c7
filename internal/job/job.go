// Package job builds annotation engine invocations, one per partition.
package job

import (
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"cwas/internal/annotsrc"
)

// PickOrder is the tie-break order used when picking one consequence per gene.
var PickOrder = []string{"canonical", "appris", "tsl", "biotype", "ccds", "rank", "length"}

// Defaults for Options.
const (
	DefaultBinary   = "vep"
	DefaultAssembly = "GRCh38"
	DefaultDistance = 2000
)

// Job is one immutable engine invocation bound to an input/output file pair.
type Job struct {
	input  string
	output string
	argv   []string
}

// Input is the file the engine reads.
func (j Job) Input() string { return j.input }

// Output is the file the engine is expected to write.
func (j Job) Output() string { return j.output }

// Argv returns a copy of the full invocation, program first.
func (j Job) Argv() []string { return slices.Clone(j.argv) }

// String renders the invocation as a shell-like command line for logs.
func (j Job) String() string { return strings.Join(j.argv, " ") }

// OutputNamer derives a job's output path from its input path.
type OutputNamer func(input string) string

// DefaultOutputNamer turns x.vcf into x.vep.vcf and anything else into
// <input>.vep.vcf.
func DefaultOutputNamer(input string) string {
	dir, base := filepath.Split(input)
	trimmed := strings.TrimSuffix(strings.TrimSuffix(base, ".gz"), ".vcf")
	if trimmed == base {
		return input + ".vep.vcf"
	}
	return filepath.Join(dir, trimmed+".vep.vcf")
}

// Options are the fixed engine settings shared by every job.
type Options struct {
	Binary    string
	Assembly  string
	Distance  int
	ExtraArgs []string
	NameOut   OutputNamer
}

func (o Options) withDefaults() Options {
	if o.Binary == "" {
		o.Binary = DefaultBinary
	}
	if o.Assembly == "" {
		o.Assembly = DefaultAssembly
	}
	if o.Distance <= 0 {
		o.Distance = DefaultDistance
	}
	if o.NameOut == nil {
		o.NameOut = DefaultOutputNamer
	}
	return o
}

// Builder constructs Jobs. It is safe for concurrent use; its state is
// never mutated after NewBuilder.
type Builder struct {
	opts    Options
	sources []annotsrc.Source
}

// NewBuilder returns a Builder that emits one custom clause per source,
// in the given order.
func NewBuilder(opts Options, sources []annotsrc.Source) *Builder {
	return &Builder{opts: opts.withDefaults(), sources: slices.Clone(sources)}
}

// Build returns the invocation for input.
func (b *Builder) Build(input string) Job {
	out := b.opts.NameOut(input)

	argv := make([]string, 0, 32+2*len(b.sources)+len(b.opts.ExtraArgs))
	argv = append(argv,
		b.opts.Binary,
		"--assembly", b.opts.Assembly,
		"--cache",
		"--force_overwrite",
		"--format", "vcf",
		"-i", input,
		"-o", out,
		"--vcf",
		"--no_stats",
		"--polyphen", "p",
	)

	// Only the most severe consequence per gene.
	argv = append(argv,
		"--per_gene",
		"--pick",
		"--pick_order", strings.Join(PickOrder, ","),
	)

	argv = append(argv,
		"--distance", strconv.Itoa(b.opts.Distance),
		"--nearest", "symbol",
		"--symbol",
	)
	argv = append(argv, b.opts.ExtraArgs...)

	for _, s := range b.sources {
		argv = append(argv, "--custom", s.Clause())
	}
	return Job{input: input, output: out, argv: argv}
}

// BuildAll returns one job per input, in order.
func (b *Builder) BuildAll(inputs []string) []Job {
	jobs := make([]Job, len(inputs))
	for i, in := range inputs {
		jobs[i] = b.Build(in)
	}
	return jobs
}

// Outputs lists every job's output path, in order.
func Outputs(jobs []Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.output
	}
	return out
}
