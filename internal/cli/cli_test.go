package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cwas/internal/config"
	"cwas/internal/pipeline"
	"cwas/internal/runner"
	"cwas/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const sampleVCF = "##fileformat=VCFv4.2\n" +
	"#CHROM\tPOS\tID\tREF\tALT\n" +
	"chr1\t100\t.\tA\tG\n" +
	"chr2\t300\t.\tG\tA\n" +
	"chr1\t200\t.\tC\tT\n"

// recorder keeps the argv of every engine invocation.
type recorder struct {
	next runner.Executor

	mu    sync.Mutex
	argvs [][]string
}

func (r *recorder) Run(ctx context.Context, argv []string, stdout, stderr io.Writer) error {
	r.mu.Lock()
	r.argvs = append(r.argvs, append([]string(nil), argv...))
	r.mu.Unlock()
	return r.next.Run(ctx, argv, stdout, stderr)
}

type harness struct {
	dir     string
	in, out string
	engine  *testutil.FakeEngine
	rec     *recorder
	stdout  bytes.Buffer
	stderr  bytes.Buffer
	numCPU  int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{dir: t.TempDir(), engine: &testutil.FakeEngine{}, numCPU: 4}
	h.in = filepath.Join(h.dir, "sample.vcf")
	h.out = filepath.Join(h.dir, "sample.vep.vcf")
	h.rec = &recorder{next: h.engine}
	require.NoError(t, os.WriteFile(h.in, []byte(sampleVCF), 0o644))
	return h
}

func (h *harness) run(ctx context.Context, args ...string) int {
	return RunWith(ctx, args, &h.stdout, &h.stderr, Deps{
		Executor: h.rec,
		NumCPU:   func() int { return h.numCPU },
	})
}

func (h *harness) files(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestVersionCommand(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, ExitOK, h.run(context.Background(), "version"))
	require.Contains(t, h.stdout.String(), "cwas version dev")
}

func TestAnnotate_EndToEnd(t *testing.T) {
	h := newHarness(t)
	metricsFile := filepath.Join(t.TempDir(), "cwas.prom")

	code := h.run(context.Background(), "annotate",
		"-i", h.in, "-o", h.out, "-p", "2",
		"--log-level", "debug", "--metrics-file", metricsFile)
	require.Equal(t, ExitOK, code, h.stderr.String())

	got, err := os.ReadFile(h.out)
	require.NoError(t, err)
	require.Equal(t, "##fileformat=VCFv4.2\n"+
		"#CHROM\tPOS\tID\tREF\tALT\n"+
		"chr1\t100\t.\tA\tG\tANN=mock\n"+
		"chr1\t200\t.\tC\tT\tANN=mock\n"+
		"chr2\t300\t.\tG\tA\tANN=mock\n", string(got))
	require.Equal(t, []string{"sample.vcf", "sample.vep.vcf"}, h.files(t))
	require.Equal(t, 2, h.engine.TotalCalls())

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	require.Contains(t, string(prom), `cwas_annotate_jobs_total{status="success"} 2`)
	require.Contains(t, h.stderr.String(), "annotation complete")
}

func TestAnnotate_NoSplitRunsOneJob(t *testing.T) {
	h := newHarness(t)
	code := h.run(context.Background(), "annotate", "-i", h.in, "-o", h.out, "--no-split", "--log-level", "none")
	require.Equal(t, ExitOK, code, h.stderr.String())
	require.Equal(t, 1, h.engine.TotalCalls())
	require.Equal(t, 1, h.engine.Calls(h.in))
}

func TestAnnotate_EngineArguments(t *testing.T) {
	h := newHarness(t)
	custom := filepath.Join(h.dir, "custom.yaml")
	require.NoError(t, os.WriteFile(custom, []byte(
		"gnomad:\n  path: gnomad.vcf.gz\n  fields: [AF, AC]\n"+
			"phylop: cons/phylop.bw\n"), 0o644))

	code := h.run(context.Background(), "annotate", "-i", h.in, "-o", h.out,
		"--no-split", "--log-level", "none",
		"--custom-config", custom, "--custom-data-dir", "/data/vep",
		"--vep-bin", "/opt/vep/vep", "--assembly", "GRCh37", "--distance", "5000",
		"--vep-arg=--offline", "--vep-arg=--fork=4")
	require.Equal(t, ExitOK, code, h.stderr.String())
	require.NoError(t, os.Remove(custom))

	require.Len(t, h.rec.argvs, 1)
	argv := h.rec.argvs[0]
	require.Equal(t, "/opt/vep/vep", argv[0])
	joined := strings.Join(argv, " ")
	require.Contains(t, joined, "--assembly GRCh37")
	require.Contains(t, joined, "--distance 5000")
	require.Contains(t, joined, "--symbol --offline --fork=4 --custom")
	require.Contains(t, joined, "--custom /data/vep/gnomad.vcf.gz,gnomad,vcf,exact,0,AF,AC")
	require.Contains(t, joined, "--custom /data/vep/cons/phylop.bw,phylop,bigwig,overlap,0")
}

func TestAnnotate_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args func(h *harness) []string
		msg  string
	}{
		{
			name: "missing infile",
			args: func(h *harness) []string { return []string{"annotate", "-o", h.out} },
			msg:  "an input VCF file is required",
		},
		{
			name: "infile not found",
			args: func(h *harness) []string {
				return []string{"annotate", "-i", filepath.Join(h.dir, "nope.vcf"), "-o", h.out}
			},
			msg: "cannot be found",
		},
		{
			name: "too many processes",
			args: func(h *harness) []string { return []string{"annotate", "-i", h.in, "-o", h.out, "-p", "5"} },
			msg:  "it must be in the range [1, 4]",
		},
		{
			name: "zero processes",
			args: func(h *harness) []string { return []string{"annotate", "-i", h.in, "-o", h.out, "-p", "0"} },
			msg:  "invalid number of processes 0",
		},
		{
			name: "outfile directory missing",
			args: func(h *harness) []string {
				return []string{"annotate", "-i", h.in, "-o", filepath.Join(h.dir, "missing", "out.vcf")}
			},
			msg: "the outfile directory",
		},
		{
			name: "explicit custom config missing",
			args: func(h *harness) []string {
				return []string{"annotate", "-i", h.in, "-o", h.out, "--custom-config", filepath.Join(h.dir, "none.yaml")}
			},
			msg: "annotation source file",
		},
		{
			name: "unknown flag",
			args: func(h *harness) []string { return []string{"annotate", "--bogus"} },
			msg:  "unknown flag",
		},
		{
			name: "unknown log level",
			args: func(h *harness) []string { return []string{"annotate", "-i", h.in, "-o", h.out, "--log-level", "loud"} },
			msg:  "unknown log level",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			code := h.run(context.Background(), tt.args(h)...)
			require.Equal(t, ExitUsage, code)
			require.Contains(t, h.stderr.String(), tt.msg)
			require.Zero(t, h.engine.TotalCalls())
			require.Equal(t, []string{"sample.vcf"}, h.files(t))
		})
	}
}

func TestAnnotate_BadCustomConfig(t *testing.T) {
	h := newHarness(t)
	custom := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(custom, []byte("- not\n- a mapping\n"), 0o644))

	code := h.run(context.Background(), "annotate", "-i", h.in, "-o", h.out, "--custom-config", custom)
	require.Equal(t, ExitUsage, code)
	require.Zero(t, h.engine.TotalCalls())
}

func TestAnnotate_EnvironmentOverridesDefault(t *testing.T) {
	h := newHarness(t)
	t.Setenv("CWAS_NUM_PROC", "9")
	code := h.run(context.Background(), "annotate", "-i", h.in, "-o", h.out)
	require.Equal(t, ExitUsage, code)
	require.Contains(t, h.stderr.String(), "invalid number of processes 9")

	// The flag wins over the environment.
	h = newHarness(t)
	code = h.run(context.Background(), "annotate", "-i", h.in, "-o", h.out, "-p", "1", "--log-level", "none")
	require.Equal(t, ExitOK, code, h.stderr.String())
}

func TestAnnotate_ConfigFile(t *testing.T) {
	h := newHarness(t)
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(fmt.Sprintf(
		"infile: %s\noutfile: %s\nnum-proc: 2\nlog:\n  level: none\n", h.in, h.out)), 0o644))

	code := h.run(context.Background(), "annotate", "--config", cfgFile)
	require.Equal(t, ExitOK, code, h.stderr.String())
	require.Equal(t, 2, h.engine.TotalCalls())
	require.FileExists(t, h.out)
}

func TestAnnotate_JobFailure(t *testing.T) {
	h := newHarness(t)
	h.engine.Fail = func(input string, _ int) int {
		if strings.Contains(input, ".tmp.chr2.") {
			return 2
		}
		return 0
	}

	code := h.run(context.Background(), "annotate", "-i", h.in, "-o", h.out, "-p", "1", "--log-level", "none")
	require.Equal(t, ExitFailure, code)
	require.Contains(t, h.stderr.String(), "annotation job(s) failed")
	require.NoFileExists(t, h.out)
	// Fail-fast keeps the partitions and outputs for inspection.
	require.Len(t, h.files(t), 4)
}

func TestAnnotate_Cancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code := h.run(ctx, "annotate", "-i", h.in, "-o", h.out, "--log-level", "none")
	require.Equal(t, ExitCancelled, code)
	require.NoFileExists(t, h.out)
	require.Equal(t, []string{"sample.vcf"}, h.files(t))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{fmt.Errorf("wrap: %w", config.ErrInvalid), ExitUsage},
		{usageError{errors.New("bad flag")}, ExitUsage},
		{fmt.Errorf("split: %w", context.Canceled), ExitCancelled},
		{&pipeline.JobsFailedError{
			Total:     2,
			Failures:  []*runner.JobError{{Input: "a", Err: errors.New("exit status 1")}},
			Cancelled: []*runner.JobError{{Input: "b", Err: context.Canceled}},
		}, ExitFailure},
		{errors.New("merge: disk full"), ExitFailure},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, exitCode(tt.err), "%v", tt.err)
	}
}
