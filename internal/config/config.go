package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/mongodb/grip/level"
	"github.com/pkg/errors"

	"github.com/torosent/cyclebench/internal/cycles"
	"github.com/torosent/cyclebench/internal/faults"
	"github.com/torosent/cyclebench/internal/ops"
	"github.com/torosent/cyclebench/internal/ratelimit"
	"github.com/torosent/cyclebench/internal/threshold"
)

// Default settings applied before the config file and flags.
const (
	DefaultDriver   = "stdout"
	DefaultThreads  = "1"
	DefaultMaxTries = 10
	DefaultLogLevel = "info"
	DefaultProgress = time.Second
)

type Config struct {
	Workload     string        `mapstructure:"workload"`
	Driver       string        `mapstructure:"driver"`
	Alias        string        `mapstructure:"alias"`
	Cycles       string        `mapstructure:"cycles"`
	Threads      string        `mapstructure:"threads"`
	Stride       int64         `mapstructure:"stride"`
	CycleRate    string        `mapstructure:"cyclerate"`
	StrideRate   string        `mapstructure:"striderate"`
	MaxTries     int           `mapstructure:"maxtries"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	Errors       string        `mapstructure:"errors"`
	Sequencer    string        `mapstructure:"seq"`
	Tags         string        `mapstructure:"tags"`
	Duration     time.Duration `mapstructure:"duration"`
	ResultsFile  string        `mapstructure:"results_file"`
	ResultFilter []int         `mapstructure:"result_filter"`
	Output       string        `mapstructure:"output"`
	Format       string        `mapstructure:"format"`
	JSONOutput   bool          `mapstructure:"json_output"`
	LogLevel     string        `mapstructure:"log_level"`
	Progress     time.Duration `mapstructure:"progress"`
	MetricsAddr  string        `mapstructure:"metrics_addr"`
	Thresholds   []string      `mapstructure:"thresholds"`
	Schedule     []Phase       `mapstructure:"schedule"`
	Tracing      TracingConfig `mapstructure:"tracing"`
	ConfigFile   string        `mapstructure:"-"`
}

type PhaseType string

const (
	PhaseTypeRamp  PhaseType = "ramp"
	PhaseTypeStep  PhaseType = "step"
	PhaseTypeSpike PhaseType = "spike"
)

// Phase is one timed section of the run schedule. Rates are cycles per
// second; a zero Threads leaves the thread count alone.
type Phase struct {
	Name     string        `mapstructure:"name"`
	Type     PhaseType     `mapstructure:"type"`
	FromRate float64       `mapstructure:"from_rate"`
	ToRate   float64       `mapstructure:"to_rate"`
	Rate     float64       `mapstructure:"rate"`
	Threads  int           `mapstructure:"threads"`
	Duration time.Duration `mapstructure:"duration"`
	Steps    []Step        `mapstructure:"steps"`
}

type Step struct {
	Rate     float64       `mapstructure:"rate"`
	Threads  int           `mapstructure:"threads"`
	Duration time.Duration `mapstructure:"duration"`
}

// TracingConfig configures the OTLP span exporter.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Propagate   bool    `mapstructure:"propagate"`
}

// Enabled reports whether an exporter endpoint is configured, either
// directly or through OTEL_EXPORTER_OTLP_ENDPOINT.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate reports whether trace context is written into the
// per-worker variables.
func (t TracingConfig) ShouldPropagate() bool {
	return t.Enabled() && t.Propagate
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// ParseThreads resolves a thread setting: a count, "auto" (one per CPU)
// or "Nx" (N per CPU).
func ParseThreads(raw string, cpus int) (int, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if cpus <= 0 {
		cpus = runtime.NumCPU()
	}
	switch {
	case s == "":
		return 1, nil
	case s == "auto":
		return cpus, nil
	case strings.HasSuffix(s, "x"):
		n, err := strconv.Atoi(strings.TrimSuffix(s, "x"))
		if err != nil || n < 1 {
			return 0, errors.Errorf("threads %q: want a positive multiple such as 2x", raw)
		}
		return n * cpus, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Errorf("threads %q: want N, auto or Nx", raw)
	}
	if n < 0 {
		return 0, errors.Errorf("threads %q: must be >= 0", raw)
	}
	return n, nil
}

func (c Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.Workload) == "" {
		issues = append(issues, "workload is required (use --help for usage information)")
	}
	if c.Cycles != "" {
		if _, err := cycles.ParseRange(c.Cycles); err != nil {
			issues = append(issues, err.Error())
		}
	}
	if _, err := ParseThreads(c.Threads, runtime.NumCPU()); err != nil {
		issues = append(issues, err.Error())
	}
	if c.Stride < 0 {
		issues = append(issues, "stride must be >= 0")
	}
	for name, raw := range map[string]string{"cyclerate": c.CycleRate, "striderate": c.StrideRate} {
		if raw == "" {
			continue
		}
		if _, err := ratelimit.ParseSpec(raw); err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if c.MaxTries < 1 {
		issues = append(issues, "maxtries must be >= 1")
	}
	if c.RetryDelay < 0 {
		issues = append(issues, "retry_delay must be >= 0")
	}
	if _, err := faults.Parse(c.Errors); err != nil {
		issues = append(issues, err.Error())
	}
	if _, err := ops.ParseSequencerType(c.Sequencer); err != nil {
		issues = append(issues, err.Error())
	}
	if _, err := ops.ParseTagFilter(c.Tags); err != nil {
		issues = append(issues, err.Error())
	}
	if c.Duration < 0 {
		issues = append(issues, "duration must be >= 0")
	}
	if c.Progress < 0 {
		issues = append(issues, "progress must be >= 0")
	}
	for _, code := range c.ResultFilter {
		if code < -128 || code > 127 {
			issues = append(issues, fmt.Sprintf("result_filter: code %d is outside -128..127", code))
		}
	}
	if level.FromString(c.LogLevel) == level.Invalid {
		issues = append(issues, fmt.Sprintf("log_level %q is not a known level", c.LogLevel))
	}
	if _, err := threshold.ParseMultiple(c.Thresholds); err != nil {
		issues = append(issues, err.Error())
	}
	issues = append(issues, validateSchedule(c.Schedule)...)
	issues = append(issues, validateTracing(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateSchedule(phases []Phase) []string {
	var issues []string
	for idx, phase := range phases {
		typeLabel := strings.TrimSpace(string(phase.Type))
		if typeLabel == "" {
			issues = append(issues, fmt.Sprintf("schedule[%d]: type is required", idx))
			continue
		}
		if phase.Threads < 0 {
			issues = append(issues, fmt.Sprintf("schedule[%d]: threads must be >= 0", idx))
		}
		switch PhaseType(strings.ToLower(typeLabel)) {
		case PhaseTypeRamp:
			if phase.Duration <= 0 {
				issues = append(issues, fmt.Sprintf("schedule[%d]: duration must be > 0 for ramp", idx))
			}
			if phase.FromRate <= 0 || phase.ToRate <= 0 {
				issues = append(issues, fmt.Sprintf("schedule[%d]: from_rate and to_rate must be > 0", idx))
			}
		case PhaseTypeStep:
			if len(phase.Steps) == 0 {
				issues = append(issues, fmt.Sprintf("schedule[%d]: steps are required for step phase", idx))
			}
			for stepIdx, step := range phase.Steps {
				if step.Rate <= 0 {
					issues = append(issues, fmt.Sprintf("schedule[%d].steps[%d]: rate must be > 0", idx, stepIdx))
				}
				if step.Threads < 0 {
					issues = append(issues, fmt.Sprintf("schedule[%d].steps[%d]: threads must be >= 0", idx, stepIdx))
				}
				if step.Duration <= 0 {
					issues = append(issues, fmt.Sprintf("schedule[%d].steps[%d]: duration must be > 0", idx, stepIdx))
				}
			}
		case PhaseTypeSpike:
			if phase.Rate <= 0 {
				issues = append(issues, fmt.Sprintf("schedule[%d]: rate must be > 0 for spike", idx))
			}
			if phase.Duration <= 0 {
				issues = append(issues, fmt.Sprintf("schedule[%d]: duration must be > 0 for spike", idx))
			}
		default:
			issues = append(issues, fmt.Sprintf("schedule[%d]: unsupported type %q", idx, phase.Type))
		}
	}
	return issues
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing: sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: protocol must be 'grpc' or 'http', got %q", t.Protocol))
	}
	return issues
}
