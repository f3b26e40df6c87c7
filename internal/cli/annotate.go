package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"cwas/internal/annotsrc"
	"cwas/internal/config"
	"cwas/internal/job"
	"cwas/internal/logger"
	"cwas/internal/metrics"
	"cwas/internal/pipeline"
	"cwas/internal/runner"
)

// NewAnnotateCommand returns the annotate subcommand.
func NewAnnotateCommand(deps Deps) *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:   "annotate",
		Short: "Annotate a VCF file with VEP, one chromosome per job",
		Example: `  cwas annotate -i sample.vcf.gz -o sample.vep.vcf -p 8
  CWAS_NUM_PROC=4 cwas annotate --infile sample.vcf --custom-config conf/custom.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnnotate(cmd, v, deps)
		},
	}
	bindAnnotateFlags(cmd, v)
	return cmd
}

func bindAnnotateFlags(cmd *cobra.Command, v *viper.Viper) {
	defaults := config.DefaultConfig()
	flags := cmd.Flags()

	flags.String("config", "", "config file (default: config.yaml in /etc/cwas, $HOME/.cwas or .)")

	flags.StringP("infile", "i", "", "input VCF file (.vcf or .vcf.gz)")
	mustBindPFlag(v, "infile", flags.Lookup("infile"))

	flags.StringP("outfile", "o", defaults.Output, "merged output VCF file")
	mustBindPFlag(v, "outfile", flags.Lookup("outfile"))

	flags.IntP("num-proc", "p", defaults.Workers, "number of annotation jobs to run at once")
	mustBindPFlag(v, "num-proc", flags.Lookup("num-proc"))

	flags.Bool("no-split", !defaults.Split, "annotate the input as a single job")
	mustBindPFlag(v, "no-split", flags.Lookup("no-split"))

	flags.String("custom-config", defaults.CustomConfig, "YAML file listing custom annotation sources")
	mustBindPFlag(v, "custom-config", flags.Lookup("custom-config"))

	flags.String("custom-data-dir", defaults.CustomDataDir, "directory relative source paths are resolved against")
	mustBindPFlag(v, "custom-data-dir", flags.Lookup("custom-data-dir"))

	flags.String("vep-bin", defaults.VEPBin, "VEP executable")
	mustBindPFlag(v, "vep-bin", flags.Lookup("vep-bin"))

	flags.String("assembly", defaults.Assembly, "genome assembly passed to VEP")
	mustBindPFlag(v, "assembly", flags.Lookup("assembly"))

	flags.Int("distance", defaults.Distance, "upstream/downstream distance for nearest-feature search")
	mustBindPFlag(v, "distance", flags.Lookup("distance"))

	flags.StringArray("vep-arg", nil, "extra argument passed to VEP verbatim (repeatable)")
	mustBindPFlag(v, "vep-arg", flags.Lookup("vep-arg"))

	flags.String("tmp-dir", "", "directory for intermediate files (default: the input's directory)")
	mustBindPFlag(v, "tmp-dir", flags.Lookup("tmp-dir"))

	flags.Duration("job-timeout", 0, "per-attempt time limit of one VEP job (0 = none)")
	mustBindPFlag(v, "job-timeout", flags.Lookup("job-timeout"))

	flags.Int("retries", defaults.Retries, "extra attempts for a failed VEP job")
	mustBindPFlag(v, "retries", flags.Lookup("retries"))

	flags.Bool("fail-fast", defaults.FailFast, "cancel outstanding jobs after the first failure")
	mustBindPFlag(v, "fail-fast", flags.Lookup("fail-fast"))

	flags.Bool("keep-temp", defaults.KeepTemp, "keep partition and per-job files")
	mustBindPFlag(v, "keep-temp", flags.Lookup("keep-temp"))

	flags.String("log-format", defaults.Log.Format, "log format: 'text' or 'json'")
	mustBindPFlag(v, "log.format", flags.Lookup("log-format"))

	flags.String("log-level", defaults.Log.Level, "log level: 'none', 'debug', 'info', 'warn' or 'error'")
	mustBindPFlag(v, "log.level", flags.Lookup("log-level"))

	flags.String("metrics-file", "", "write Prometheus text metrics to this file")
	mustBindPFlag(v, "metrics-file", flags.Lookup("metrics-file"))
}

// readConfig resolves the settings from flags, environment and config file.
func readConfig(cmd *cobra.Command, v *viper.Viper) (*config.Config, error) {
	explicit, _ := cmd.Flags().GetString("config")
	if err := readConfigFile(v, explicit); err != nil {
		return nil, usageError{fmt.Errorf("read config file: %w", err)}
	}

	cfg := config.DefaultConfig()
	cfg.Input = v.GetString("infile")
	cfg.Output = v.GetString("outfile")
	cfg.Workers = v.GetInt("num-proc")
	cfg.Split = !v.GetBool("no-split")
	cfg.CustomConfig = v.GetString("custom-config")
	cfg.CustomConfigOptional = !v.IsSet("custom-config")
	cfg.CustomDataDir = v.GetString("custom-data-dir")
	cfg.VEPBin = v.GetString("vep-bin")
	cfg.Assembly = v.GetString("assembly")
	cfg.Distance = v.GetInt("distance")
	cfg.VEPExtraArgs = v.GetStringSlice("vep-arg")
	cfg.TmpDir = v.GetString("tmp-dir")
	cfg.JobTimeout = v.GetDuration("job-timeout")
	cfg.Retries = v.GetInt("retries")
	cfg.FailFast = v.GetBool("fail-fast")
	cfg.KeepTemp = v.GetBool("keep-temp")
	cfg.Log.Format = v.GetString("log.format")
	cfg.Log.Level = v.GetString("log.level")
	cfg.MetricsFile = v.GetString("metrics-file")
	return cfg, nil
}

func loadSources(cfg *config.Config, log logger.Logger) ([]annotsrc.Source, error) {
	if cfg.CustomConfigOptional {
		if _, err := os.Stat(cfg.CustomConfig); errors.Is(err, fs.ErrNotExist) {
			log.Info("no custom annotation sources", zap.String("path", cfg.CustomConfig))
			return nil, nil
		}
	}
	srcs, err := annotsrc.Load(cfg.CustomConfig, cfg.CustomDataDir)
	if err != nil {
		return nil, usageError{err}
	}
	for _, s := range srcs {
		log.Info("custom annotation source",
			zap.String("name", s.Name),
			zap.String("format", string(s.Format)),
			zap.String("path", s.Path))
	}
	return srcs, nil
}

func runAnnotate(cmd *cobra.Command, v *viper.Viper, deps Deps) error {
	cfg, err := readConfig(cmd, v)
	if err != nil {
		return err
	}
	if err := cfg.Validate(deps.NumCPU()); err != nil {
		return err
	}

	log, err := logger.NewWriterLogger(cmd.ErrOrStderr(), cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return usageError{err}
	}
	defer log.Sync()

	log.Info("annotate settings",
		zap.String("infile", cfg.Input),
		zap.String("outfile", cfg.Output),
		zap.Int("num_proc", cfg.Workers),
		zap.Int("logical_cpus", runtime.NumCPU()),
		zap.Bool("split", cfg.Split),
		zap.String("vep_bin", cfg.VEPBin),
		zap.String("assembly", cfg.Assembly),
		zap.String("work_dir", cfg.WorkDir()))

	sources, err := loadSources(cfg, log)
	if err != nil {
		return err
	}

	m := metrics.New()
	p := pipeline.New(pipeline.Options{
		Input:   cfg.Input,
		Output:  cfg.Output,
		Split:   cfg.Split,
		WorkDir: cfg.WorkDir(),
		Job: job.Options{
			Binary:    cfg.VEPBin,
			Assembly:  cfg.Assembly,
			Distance:  cfg.Distance,
			ExtraArgs: cfg.VEPExtraArgs,
		},
		Sources: sources,
		Runner: runner.Config{
			Workers:  cfg.Workers,
			Timeout:  cfg.JobTimeout,
			Retries:  cfg.Retries,
			FailFast: cfg.FailFast,
		},
		KeepTemp: cfg.KeepTemp,
	}, deps.Executor, log, m)

	start := time.Now()
	sum, runErr := p.Run(cmd.Context())

	if cfg.MetricsFile != "" {
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			log.Warn("write metrics", zap.String("path", cfg.MetricsFile), zap.Error(err))
		}
	}
	if runErr != nil {
		return runErr
	}

	log.Info("annotation complete",
		zap.String("run_id", sum.RunID),
		zap.String("outfile", cfg.Output),
		zap.Int("jobs", len(sum.Jobs)),
		zap.Int("records", sum.Merge.DataLines),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}
