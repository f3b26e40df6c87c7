// Package config holds the settings of one annotate run and validates
// them before any file is touched.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cwas/internal/job"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

const (
	DefaultOutput        = "vep_output.vcf"
	DefaultCustomConfig  = "conf/vep_custom_annotations.yaml"
	DefaultCustomDataDir = "data/vep"
)

type LogConfig struct {
	Format string // text | json
	Level  string // none | debug | info | warn | error
}

type Config struct {
	Input   string
	Output  string
	Split   bool
	Workers int

	// CustomConfig declares the auxiliary annotation sources. When
	// CustomConfigOptional is set a missing file means no sources.
	CustomConfig         string
	CustomConfigOptional bool
	CustomDataDir        string

	VEPBin       string
	Assembly     string
	Distance     int
	VEPExtraArgs []string

	TmpDir     string // "" = the input's directory
	JobTimeout time.Duration
	Retries    int
	FailFast   bool
	KeepTemp   bool

	Log         LogConfig
	MetricsFile string
}

func DefaultConfig() *Config {
	return &Config{
		Output:               DefaultOutput,
		Split:                true,
		Workers:              1,
		CustomConfig:         DefaultCustomConfig,
		CustomConfigOptional: true,
		CustomDataDir:        DefaultCustomDataDir,
		VEPBin:               job.DefaultBinary,
		Assembly:             job.DefaultAssembly,
		Distance:             job.DefaultDistance,
		FailFast:             true,
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

func invalid(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, a...))
}

// Validate checks c against the host. ncpu is the available parallelism.
func (c *Config) Validate(ncpu int) error {
	if c.Input == "" {
		return invalid("an input VCF file is required")
	}
	fi, err := os.Stat(c.Input)
	if err != nil || !fi.Mode().IsRegular() {
		return invalid("the input VCF file %q cannot be found", c.Input)
	}
	if c.Output == "" {
		return invalid("the output path is empty")
	}
	if dir := filepath.Dir(c.Output); !isDir(dir) {
		return invalid("the outfile directory %q cannot be found", dir)
	}
	if c.Workers < 1 || c.Workers > ncpu {
		return invalid("invalid number of processes %d; it must be in the range [1, %d]", c.Workers, ncpu)
	}
	if c.TmpDir != "" && !isDir(c.TmpDir) {
		return invalid("the temporary directory %q cannot be found", c.TmpDir)
	}
	if !c.CustomConfigOptional {
		if fi, err := os.Stat(c.CustomConfig); err != nil || fi.IsDir() {
			return invalid("the annotation source file %q cannot be found", c.CustomConfig)
		}
	}
	if c.VEPBin == "" {
		return invalid("the annotation engine binary is empty")
	}
	if c.Distance < 1 {
		return invalid("invalid nearest-feature distance %d; it must be positive", c.Distance)
	}
	if c.Retries < 0 {
		return invalid("invalid retry count %d; it must be ≥ 0", c.Retries)
	}
	if c.JobTimeout < 0 {
		return invalid("invalid job timeout %s; it must be ≥ 0", c.JobTimeout)
	}
	return nil
}

// WorkDir is where intermediate files go.
func (c *Config) WorkDir() string {
	if c.TmpDir != "" {
		return c.TmpDir
	}
	return filepath.Dir(c.Input)
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}
