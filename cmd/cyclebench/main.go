package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/torosent/cyclebench/internal/activity"
	"github.com/torosent/cyclebench/internal/adapters"
	"github.com/torosent/cyclebench/internal/config"
	"github.com/torosent/cyclebench/internal/cycles"
	"github.com/torosent/cyclebench/internal/faults"
	"github.com/torosent/cyclebench/internal/feeder"
	"github.com/torosent/cyclebench/internal/metrics"
	"github.com/torosent/cyclebench/internal/ops"
	"github.com/torosent/cyclebench/internal/output"
	"github.com/torosent/cyclebench/internal/promexport"
	"github.com/torosent/cyclebench/internal/ratelimit"
	"github.com/torosent/cyclebench/internal/results"
	"github.com/torosent/cyclebench/internal/threshold"
	"github.com/torosent/cyclebench/internal/tracing"
)

const (
	shutdownTimeout = 5 * time.Second
	pollInterval    = time.Second
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return runContext(ctx, args)
}

// runContext executes one activity until it ends or ctx is cancelled.
func runContext(ctx context.Context, args []string) error {
	if len(args) > 0 && args[0] == "results" {
		return printResults(os.Stdout, args[1:])
	}

	cfg, err := config.NewLoader().Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := setLogLevel(cfg.LogLevel); err != nil {
		return err
	}

	plan, adapter, err := buildPlan(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := adapter.Close(); err != nil {
			grip.Warning(message.WrapError(err, message.Fields{
				"message": "closing driver",
				"driver":  adapter.Name(),
			}))
		}
	}()

	opts, err := buildOptions(cfg, plan, adapter)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	opts.Recorders = append(opts.Recorders, collector)

	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		grip.Warning(message.WrapError(provider.Shutdown(shutdownCtx), message.Fields{
			"message": "flushing spans",
		}))
	}()
	if provider.Enabled() {
		opts.Tracer = provider.Tracer()
		opts.Propagate = provider.ShouldPropagate()
	}

	var reg *prom.Registry
	if cfg.MetricsAddr != "" {
		reg = prom.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		exporter, err := promexport.NewExporter(opts.Name, reg, promexport.ExporterOptions{})
		if err != nil {
			return err
		}
		opts.Recorders = append(opts.Recorders, exporter)
	}

	act, err := activity.New(opts)
	if err != nil {
		return err
	}
	exec := activity.NewExecutor(act)

	if reg != nil {
		poller, err := promexport.NewSnapshotPoller(reg, "", pollInterval)
		if err != nil {
			return err
		}
		poller.AddActivity(act.Name, exec)
		poller.Start(ctx)
		defer poller.Stop()

		srv := serveControl(cfg.MetricsAddr, reg, exec)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			grip.Warning(message.WrapError(srv.Shutdown(shutdownCtx), message.Fields{
				"message": "stopping control server",
			}))
		}()
	}

	var progress *output.ProgressReporter
	if !cfg.JSONOutput && cfg.Progress > 0 {
		progress = output.NewProgressReporter(collector, exec, cfg.Progress, os.Stderr)
		progress.Start()
	}

	collector.Start()
	res := exec.Run(ctx)
	if progress != nil {
		progress.Stop()
	}
	stats := collector.Stats(res.Duration())

	catcher := grip.NewBasicCatcher()
	catcher.Add(res.Err)

	if cfg.ResultsFile != "" && res.Log != nil {
		// ctx may already be cancelled by the signal that ended the run.
		writeCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		catcher.Wrap(results.WriteFile(writeCtx, cfg.ResultsFile, res.Log), "writing result log")
		done()
	}

	var evaluated []threshold.Result
	if len(cfg.Thresholds) > 0 {
		parsed, err := threshold.ParseMultiple(cfg.Thresholds)
		if err != nil {
			return err
		}
		evaluated = threshold.NewEvaluator(parsed).Evaluate(stats)
		if !threshold.AllPassed(evaluated) {
			catcher.New("one or more thresholds failed")
		}
	}

	report := output.NewReport(res, stats, evaluated)
	if cfg.JSONOutput {
		catcher.Add(output.PrintJSONReport(os.Stdout, report))
	} else {
		output.PrintReport(os.Stdout, report)
	}
	return catcher.Resolve()
}

// setLogLevel sets grip's threshold by name.
func setLogLevel(name string) error {
	priority := level.FromString(name)
	if priority == level.Invalid {
		return errors.Errorf("unknown log level %q", name)
	}
	sender := grip.GetSender()
	lvl := sender.Level()
	lvl.Threshold = priority
	return sender.SetLevel(lvl)
}

// buildPlan loads the workload and compiles it for the configured driver.
func buildPlan(cfg *config.Config) (*ops.Plan, ops.Adapter, error) {
	workload, err := config.LoadWorkload(cfg.Workload)
	if err != nil {
		return nil, nil, err
	}

	var bindingOpts []ops.BindingOption
	for name, fc := range workload.Feeders {
		f, err := feeder.Load(fc.Path, fc.Type)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "feeder %s", name)
		}
		bindingOpts = append(bindingOpts, ops.WithFeeder(name, f))
	}
	bindings, err := ops.NewBindings(workload.Bindings, bindingOpts...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "compiling bindings")
	}

	filter, err := ops.ParseTagFilter(cfg.Tags)
	if err != nil {
		return nil, nil, err
	}
	templates := filter.Filter(workload.Templates())
	if len(templates) == 0 {
		return nil, nil, errors.Errorf("no op templates match tags %q", cfg.Tags)
	}
	kind, err := ops.ParseSequencerType(cfg.Sequencer)
	if err != nil {
		return nil, nil, err
	}

	adapter, err := adapters.New(cfg.Driver, adapters.Options{Output: cfg.Output, Format: cfg.Format})
	if err != nil {
		return nil, nil, err
	}
	plan, err := ops.Compile(templates, bindings, adapter, kind)
	if err != nil {
		_ = adapter.Close()
		return nil, nil, err
	}
	return plan, adapter, nil
}

// buildOptions turns settings into activity options. Without an explicit
// cycle range the activity runs one pass of the plan, or an unbounded
// range when a duration or schedule ends the run instead.
func buildOptions(cfg *config.Config, plan *ops.Plan, adapter ops.Adapter) (activity.Options, error) {
	opts := activity.Options{
		Name:   cfg.Alias,
		Stride: cfg.Stride,
		Plan:   plan,
		Retry: activity.RetryPolicy{
			MaxTries: cfg.MaxTries,
			Delay:    cfg.RetryDelay,
		},
		ResultLog: cfg.ResultsFile != "",
		Duration:  cfg.Duration,
		Schedule:  toActivityPhases(cfg.Schedule),
	}
	if opts.Name == "" {
		base := filepath.Base(cfg.Workload)
		opts.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	switch {
	case cfg.Cycles != "":
		rng, err := cycles.ParseRange(cfg.Cycles)
		if err != nil {
			return opts, err
		}
		opts.Cycles = rng
	case cfg.Duration > 0 || len(cfg.Schedule) > 0:
		opts.Cycles = cycles.Range{Start: 0, End: math.MaxInt64}
	default:
		opts.Cycles = cycles.Range{Start: 0, End: int64(plan.Len())}
	}

	threads, err := config.ParseThreads(cfg.Threads, runtime.NumCPU())
	if err != nil {
		return opts, err
	}
	opts.Threads = threads

	if cfg.CycleRate != "" {
		spec, err := ratelimit.ParseSpec(cfg.CycleRate)
		if err != nil {
			return opts, errors.Wrap(err, "cyclerate")
		}
		opts.CycleRate = &spec
	}
	if cfg.StrideRate != "" {
		spec, err := ratelimit.ParseSpec(cfg.StrideRate)
		if err != nil {
			return opts, errors.Wrap(err, "striderate")
		}
		opts.StrideRate = &spec
	}

	router, err := faults.Parse(cfg.Errors, faults.WithNamer(errorNamer(adapter)))
	if err != nil {
		return opts, err
	}
	opts.Router = router

	if len(cfg.ResultFilter) > 0 {
		opts.ResultFilter = results.ExcludeCodes(cfg.ResultFilter...)
	}
	return opts, nil
}

// errorNamer prefers the driver's own error names.
func errorNamer(adapter ops.Adapter) faults.Namer {
	namer, ok := adapter.(ops.ErrorNamer)
	if !ok {
		return faults.Name
	}
	return func(err error) string {
		if name := namer.ErrorName(err); name != "" {
			return name
		}
		return faults.Name(err)
	}
}

func toActivityPhases(phases []config.Phase) []activity.Phase {
	if len(phases) == 0 {
		return nil
	}
	out := make([]activity.Phase, 0, len(phases))
	for _, p := range phases {
		phase := activity.Phase{
			Name:     p.Name,
			Type:     activity.PhaseType(p.Type),
			FromRate: p.FromRate,
			ToRate:   p.ToRate,
			Rate:     p.Rate,
			Threads:  p.Threads,
			Duration: p.Duration,
		}
		if phase.Name == "" {
			phase.Name = string(p.Type)
		}
		for _, s := range p.Steps {
			phase.Steps = append(phase.Steps, activity.Step{
				Rate:     s.Rate,
				Threads:  s.Threads,
				Duration: s.Duration,
			})
		}
		out = append(out, phase)
	}
	return out
}

func serveControl(addr string, reg *prom.Registry, exec *activity.Executor) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promexport.NewMux(reg, exec),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		grip.Info(message.Fields{"message": "serving metrics and run control", "addr": addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			grip.Error(message.WrapError(err, message.Fields{
				"message": "control server failed",
				"addr":    addr,
			}))
		}
	}()
	return srv
}

// printResults implements "cyclebench results <file>".
func printResults(w io.Writer, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: cyclebench results <file>")
	}
	records, err := results.ReadFile(args[0], nil)
	if err != nil {
		return err
	}
	output.PrintRecords(w, records)
	return nil
}
