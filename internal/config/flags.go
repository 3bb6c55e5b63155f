package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cyclebench [workload.yaml]",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

func configureFlags(flags *pflag.FlagSet) {
	// Workload
	flags.String("workload", "", "Path to the workload YAML file (bindings and op templates)")
	flags.String("driver", DefaultDriver, "Driver that runs ops: diag or stdout")
	flags.String("alias", "", "Activity name used in logs and metrics")
	flags.String("tags", "", "Only run templates whose tags match, e.g. phase:main,name:read.*")
	flags.String("seq", "bucket", "Op sequencing by ratio: bucket, concat or interval")

	// Load control
	flags.String("cycles", "", "Cycles to run: N or A..B, with K/M/B multipliers")
	flags.StringP("threads", "t", DefaultThreads, "Worker count: N, auto or Nx (N per CPU)")
	flags.Int64("stride", 0, "Cycles claimed per segment (0 means one pass of the op sequence)")
	flags.String("cyclerate", "", "Cycle rate limit as rate[:burst[:verb]], e.g. 1K:1.1")
	flags.String("striderate", "", "Segment rate limit as rate[:burst[:verb]]")
	flags.DurationP("duration", "d", 0, "Stop after this long (e.g. 30s, 1m)")
	flags.Int("maxtries", DefaultMaxTries, "Attempts per cycle for retryable errors")
	flags.Duration("retry-delay", 0, "Pause between attempts of a retried cycle")
	flags.String("errors", "stop", "Error handling, e.g. 'Timeout.*:retry,warn;count'")

	// Results
	flags.String("results-file", "", "Write the result log to this file")
	flags.IntSlice("result-filter", nil, "Result codes left out of the result log")

	// Output
	flags.String("output", "", "Target for the stdout driver: stdout or a file path")
	flags.String("format", "", "Statement format for templates that list fields: assignments, csv or json")
	flags.Bool("json-output", false, "Emit the final report as JSON")
	flags.String("log-level", DefaultLogLevel, "Log level: debug, info, warning or error")
	flags.Duration("progress", DefaultProgress, "Progress report interval (0 disables)")
	flags.String("metrics-addr", "", "Listen address for Prometheus metrics and run control, e.g. :9090")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Threshold flags
	flags.StringSlice("threshold", nil, "Run assertions (repeatable, e.g. 'service_time:p99 < 5')")

	// Tracing
	flags.String("tracing-endpoint", "", "OTLP collector endpoint; tracing is off when empty")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.Bool("tracing-insecure", false, "Disable TLS to the OTLP collector")
	flags.String("tracing-service-name", "", "Service name reported on spans")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of ops traced (0.0 to 1.0)")
	flags.Bool("tracing-propagate", true, "Write trace context into per-worker variables")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n       cyclebench results <file>\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config,
// overriding values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	strs := map[string]*string{
		"workload":             &cfg.Workload,
		"driver":               &cfg.Driver,
		"alias":                &cfg.Alias,
		"tags":                 &cfg.Tags,
		"seq":                  &cfg.Sequencer,
		"cycles":               &cfg.Cycles,
		"threads":              &cfg.Threads,
		"cyclerate":            &cfg.CycleRate,
		"striderate":           &cfg.StrideRate,
		"errors":               &cfg.Errors,
		"results-file":         &cfg.ResultsFile,
		"output":               &cfg.Output,
		"format":               &cfg.Format,
		"log-level":            &cfg.LogLevel,
		"metrics-addr":         &cfg.MetricsAddr,
		"tracing-endpoint":     &cfg.Tracing.Endpoint,
		"tracing-protocol":     &cfg.Tracing.Protocol,
		"tracing-service-name": &cfg.Tracing.ServiceName,
	}
	for name, dst := range strs {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = strings.TrimSpace(val)
	}

	if fs.Changed("stride") {
		val, err := fs.GetInt64("stride")
		if err != nil {
			return err
		}
		cfg.Stride = val
	}
	if fs.Changed("maxtries") {
		val, err := fs.GetInt("maxtries")
		if err != nil {
			return err
		}
		cfg.MaxTries = val
	}
	if fs.Changed("duration") {
		val, err := fs.GetDuration("duration")
		if err != nil {
			return err
		}
		cfg.Duration = val
	}
	if fs.Changed("retry-delay") {
		val, err := fs.GetDuration("retry-delay")
		if err != nil {
			return err
		}
		cfg.RetryDelay = val
	}
	if fs.Changed("progress") {
		val, err := fs.GetDuration("progress")
		if err != nil {
			return err
		}
		cfg.Progress = val
	}
	if fs.Changed("result-filter") {
		val, err := fs.GetIntSlice("result-filter")
		if err != nil {
			return err
		}
		cfg.ResultFilter = val
	}
	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		cfg.Tracing.Propagate = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	return nil
}
