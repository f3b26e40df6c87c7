// Package cli builds the cwas command tree. Every flag can also come from
// a CWAS_-prefixed environment variable or a config.yaml, in that order of
// precedence below the flag itself.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"cwas/internal/config"
	"cwas/internal/pipeline"
	"cwas/internal/runner"
	"cwas/internal/version"
)

// Exit codes.
const (
	ExitOK        = 0
	ExitUsage     = 2
	ExitFailure   = 3
	ExitCancelled = 130
)

// Deps are the process-level collaborators of a command run.
type Deps struct {
	Executor runner.Executor
	NumCPU   func() int
}

func (d Deps) withDefaults() Deps {
	if d.Executor == nil {
		d.Executor = runner.ExecExecutor{}
	}
	if d.NumCPU == nil {
		d.NumCPU = runtime.NumCPU
	}
	return d
}

// usageError marks failures that happen before any work starts.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// newViper enables reading from CLI flags, environment variables prefixed
// with CWAS, or config.yaml (in that order).
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("CWAS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	configPaths := []string{"/etc/cwas", "$HOME/.cwas", "."}
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}
	return v
}

// readConfigFile loads an explicit --config file or searches the default
// paths. A missing default config is not an error.
func readConfigFile(v *viper.Viper, explicit string) error {
	if explicit != "" {
		v.SetConfigFile(explicit)
		return v.ReadInConfig()
	}
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if errors.As(err, &nf) {
			return nil
		}
		return err
	}
	return nil
}

// mustBindPFlag attempts to bind a specific key to a pflag (as used by cobra) and panics
// if the binding fails with a non-nil error.
func mustBindPFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}

// NewRootCommand returns the cwas command with all subcommands.
func NewRootCommand(deps Deps) *cobra.Command {
	deps = deps.withDefaults()
	root := &cobra.Command{
		Use:   "cwas",
		Short: "Category-wide association study pipeline steps",
		Long: `Category-wide association study pipeline steps.

annotate splits a variant file by chromosome, runs the annotation engine on
each part in parallel, and merges the results into one file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})
	root.AddCommand(NewAnnotateCommand(deps), NewVersionCommand())
	return root
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cwas version %s (commit %s)\n", version.Version, version.Commit)
		},
	}
}

// Run executes argv and maps the outcome to an exit code.
func Run(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	return RunWith(ctx, argv, stdout, stderr, Deps{})
}

// RunWith is Run with injected collaborators.
func RunWith(ctx context.Context, argv []string, stdout, stderr io.Writer, deps Deps) int {
	root := NewRootCommand(deps)
	root.SetArgs(argv)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	name := filepath.Base(os.Args[0])
	_, _ = fmt.Fprintf(stderr, "%s: error: %v\n", name, err)
	return exitCode(err)
}

func exitCode(err error) int {
	var ue usageError
	var jf *pipeline.JobsFailedError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &jf):
		// fail-fast marks unstarted jobs cancelled; the run still failed.
		return ExitFailure
	case errors.Is(err, context.Canceled):
		return ExitCancelled
	case errors.As(err, &ue), errors.Is(err, config.ErrInvalid):
		return ExitUsage
	case strings.HasPrefix(err.Error(), "unknown command"):
		return ExitUsage
	}
	return ExitFailure
}
