package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Default returns a Config holding every default setting.
func Default() *Config {
	return &Config{
		Driver:   DefaultDriver,
		Threads:  DefaultThreads,
		MaxTries: DefaultMaxTries,
		Errors:   "stop",
		LogLevel: DefaultLogLevel,
		Progress: DefaultProgress,
		Tracing: TracingConfig{
			Protocol:   "grpc",
			SampleRate: 1.0,
			Propagate:  true,
		},
	}
}

// Load parses command-line arguments and the config file they name.
// Flags override file settings.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", configPath)
		}
	}

	cfg := Default()
	cfg.ConfigFile = configPath
	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	// A bare positional argument names the workload.
	if rest := flagSet.Args(); len(rest) > 0 && cfg.Workload == "" {
		cfg.Workload = rest[0]
	}
	cfg.Workload = strings.TrimSpace(cfg.Workload)
	cfg.Driver = strings.ToLower(strings.TrimSpace(cfg.Driver))
	return cfg, nil
}

// applyConfigSettings applies settings from a config file to cfg.
func applyConfigSettings(cfg *Config, settings map[string]any) error {
	if len(settings) == 0 {
		return nil
	}

	strs := []struct {
		keys []string
		dst  *string
	}{
		{[]string{"workload", "yaml"}, &cfg.Workload},
		{[]string{"driver"}, &cfg.Driver},
		{[]string{"alias"}, &cfg.Alias},
		{[]string{"cycles"}, &cfg.Cycles},
		{[]string{"threads"}, &cfg.Threads},
		{[]string{"cyclerate", "rate"}, &cfg.CycleRate},
		{[]string{"striderate"}, &cfg.StrideRate},
		{[]string{"errors"}, &cfg.Errors},
		{[]string{"seq", "sequencer"}, &cfg.Sequencer},
		{[]string{"tags"}, &cfg.Tags},
		{[]string{"results_file", "results-file"}, &cfg.ResultsFile},
		{[]string{"output"}, &cfg.Output},
		{[]string{"format"}, &cfg.Format},
		{[]string{"log_level", "log-level"}, &cfg.LogLevel},
		{[]string{"metrics_addr", "metrics-addr"}, &cfg.MetricsAddr},
	}
	for _, s := range strs {
		raw, ok := lookupSetting(settings, s.keys...)
		if !ok {
			continue
		}
		val, err := asString(raw)
		if err != nil {
			return errors.Wrap(err, s.keys[0])
		}
		*s.dst = strings.TrimSpace(val)
	}

	durations := []struct {
		keys []string
		dst  *time.Duration
	}{
		{[]string{"retry_delay", "retry-delay"}, &cfg.RetryDelay},
		{[]string{"duration"}, &cfg.Duration},
		{[]string{"progress"}, &cfg.Progress},
	}
	for _, d := range durations {
		raw, ok := lookupSetting(settings, d.keys...)
		if !ok {
			continue
		}
		val, err := asDuration(raw)
		if err != nil {
			return errors.Wrap(err, d.keys[0])
		}
		*d.dst = val
	}

	if raw, ok := lookupSetting(settings, "stride"); ok {
		val, err := asInt64(raw)
		if err != nil {
			return errors.Wrap(err, "stride")
		}
		cfg.Stride = val
	}

	if raw, ok := lookupSetting(settings, "maxtries", "max_tries"); ok {
		val, err := asInt(raw)
		if err != nil {
			return errors.Wrap(err, "maxtries")
		}
		cfg.MaxTries = val
	}

	if raw, ok := lookupSetting(settings, "result_filter", "result-filter"); ok {
		val, err := asIntSlice(raw)
		if err != nil {
			return errors.Wrap(err, "result_filter")
		}
		cfg.ResultFilter = val
	}

	if raw, ok := lookupSetting(settings, "json_output", "json-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return errors.Wrap(err, "json_output")
		}
		cfg.JSONOutput = val
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		thresholds, err := asStringSlice(raw)
		if err != nil {
			return errors.Wrap(err, "thresholds")
		}
		cfg.Thresholds = thresholds
	}

	if raw, ok := lookupSetting(settings, "schedule"); ok {
		phases, err := parseSchedule(raw)
		if err != nil {
			return errors.Wrap(err, "schedule")
		}
		cfg.Schedule = phases
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := applyTracingSettings(&cfg.Tracing, raw); err != nil {
			return errors.Wrap(err, "tracing")
		}
	}

	return nil
}

func parseSchedule(value any) ([]Phase, error) {
	if value == nil {
		return nil, nil
	}
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	phases := make([]Phase, 0, len(items))
	for idx, item := range items {
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, errors.Wrapf(err, "index %d", idx)
		}
		phase, err := buildPhase(entry)
		if err != nil {
			return nil, errors.Wrapf(err, "index %d", idx)
		}
		phases = append(phases, phase)
	}
	return phases, nil
}

func buildPhase(settings map[string]any) (Phase, error) {
	var phase Phase
	if raw, ok := lookupSetting(settings, "name"); ok {
		val, err := asString(raw)
		if err != nil {
			return Phase{}, errors.Wrap(err, "name")
		}
		phase.Name = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "type"); ok {
		val, err := asString(raw)
		if err != nil {
			return Phase{}, errors.Wrap(err, "type")
		}
		phase.Type = PhaseType(strings.ToLower(strings.TrimSpace(val)))
	}
	rates := []struct {
		keys []string
		dst  *float64
	}{
		{[]string{"from_rate", "from-rate", "fromrate"}, &phase.FromRate},
		{[]string{"to_rate", "to-rate", "torate"}, &phase.ToRate},
		{[]string{"rate"}, &phase.Rate},
	}
	for _, r := range rates {
		raw, ok := lookupSetting(settings, r.keys...)
		if !ok {
			continue
		}
		val, err := asFloat64(raw)
		if err != nil {
			return Phase{}, errors.Wrap(err, r.keys[0])
		}
		*r.dst = val
	}
	if raw, ok := lookupSetting(settings, "threads"); ok {
		val, err := asInt(raw)
		if err != nil {
			return Phase{}, errors.Wrap(err, "threads")
		}
		phase.Threads = val
	}
	if raw, ok := lookupSetting(settings, "duration"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return Phase{}, errors.Wrap(err, "duration")
		}
		phase.Duration = dur
	}
	if raw, ok := lookupSetting(settings, "steps"); ok {
		steps, err := parseSteps(raw)
		if err != nil {
			return Phase{}, errors.Wrap(err, "steps")
		}
		phase.Steps = steps
	}
	return phase, nil
}

func parseSteps(value any) ([]Step, error) {
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	steps := make([]Step, 0, len(items))
	for idx, item := range items {
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, errors.Wrapf(err, "index %d", idx)
		}
		var step Step
		if raw, ok := lookupSetting(entry, "rate"); ok {
			if step.Rate, err = asFloat64(raw); err != nil {
				return nil, errors.Wrapf(err, "index %d: rate", idx)
			}
		}
		if raw, ok := lookupSetting(entry, "threads"); ok {
			if step.Threads, err = asInt(raw); err != nil {
				return nil, errors.Wrapf(err, "index %d: threads", idx)
			}
		}
		if raw, ok := lookupSetting(entry, "duration"); ok {
			if step.Duration, err = asDuration(raw); err != nil {
				return nil, errors.Wrapf(err, "index %d: duration", idx)
			}
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func applyTracingSettings(t *TracingConfig, value any) error {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return errors.Wrap(err, "endpoint")
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return errors.Wrap(err, "protocol")
		}
		t.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "service_name", "service-name", "servicename"); ok {
		val, err := asString(raw)
		if err != nil {
			return errors.Wrap(err, "service_name")
		}
		t.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		if t.Insecure, err = asBool(raw); err != nil {
			return errors.Wrap(err, "insecure")
		}
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		if t.Propagate, err = asBool(raw); err != nil {
			return errors.Wrap(err, "propagate")
		}
	}
	if raw, ok := lookupSetting(settings, "sample_rate", "sample-rate", "samplerate"); ok {
		if t.SampleRate, err = asFloat64(raw); err != nil {
			return errors.Wrap(err, "sample_rate")
		}
	}
	return nil
}
