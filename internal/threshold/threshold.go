// Package threshold evaluates pass/fail assertions against the metrics of
// a finished run.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/torosent/cyclebench/internal/metrics"
)

// Threshold represents a performance assertion that can pass or fail.
type Threshold struct {
	Metric    string  // e.g., "service_time", "op_failed", "cycles"
	Op        string  // optional op template name, as in service_time[read]
	Aggregate string  // e.g., "p95", "p99", "avg", "max", "rate"
	Operator  string  // e.g., "<", "<=", ">", ">=", "=="
	Value     float64 // The threshold value to compare against
	Raw       string  // Original threshold string for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

// Evaluator evaluates thresholds against collected metrics.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Evaluate checks all thresholds against the provided stats.
func (e *Evaluator) Evaluate(stats metrics.Stats) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, e.evaluateOne(t, stats))
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func (e *Evaluator) evaluateOne(t Threshold, stats metrics.Stats) Result {
	actual, err := extractMetricValue(t, stats)
	if err != nil {
		return Result{
			Threshold: t,
			Actual:    0,
			Pass:      false,
			Message:   fmt.Sprintf("error: %v", err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	message := fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value)
	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   message,
	}
}

var thresholdPattern = regexp.MustCompile(`^([a-z_]+)(?:\[([^\]]+)\])?:([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
// - "service_time:p99 < 5"        (service time percentile in ms)
// - "service_time[read]:p50 < 2"  (one op template)
// - "wait_time:p99 < 100"         (admission lag in ms)
// - "op_failed:rate < 0.01"       (failure rate as decimal)
// - "op_failed:count < 10"        (failure count)
// - "cycles:rate > 100"           (cycles per second)
// - "retries:count <= 5"          (extra attempts)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, errors.New("empty threshold string")
	}

	matches := thresholdPattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, errors.Errorf("invalid threshold format: %q (expected format: metric:aggregate operator value, e.g., 'service_time:p99 < 5')", s)
	}

	metric, op, aggregate, operator, valueStr := matches[1], matches[2], matches[3], matches[4], matches[5]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, errors.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	aggregates, ok := supported[metric]
	if !ok {
		return Threshold{}, errors.Errorf("unsupported metric: %q (supported: %s)", metric, strings.Join(metricNames(), ", "))
	}
	if !slices.Contains(aggregates, aggregate) {
		return Threshold{}, errors.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(aggregates, ", "))
	}
	if op != "" && !slices.Contains(perOp[metric], aggregate) {
		return Threshold{}, errors.Errorf("%s:%s cannot be scoped to an op", metric, aggregate)
	}
	if !slices.Contains(operators, operator) {
		return Threshold{}, errors.Errorf("unsupported operator: %q (supported: %s)", operator, strings.Join(operators, ", "))
	}

	return Threshold{
		Metric:    metric,
		Op:        op,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

var (
	supported = map[string][]string{
		"service_time": {"p50", "p90", "p95", "p99", "p999", "avg", "mean", "min", "max"},
		"wait_time":    {"p99"},
		"op_failed":    {"rate", "count"},
		"cycles":       {"rate", "count"},
		"retries":      {"rate", "count"},
	}
	perOp = map[string][]string{
		"service_time": {"p50", "p99"},
		"op_failed":    {"rate", "count"},
		"cycles":       {"rate", "count"},
	}
	operators = []string{"<", "<=", ">", ">=", "=="}
)

func metricNames() []string {
	names := make([]string, 0, len(supported))
	for name := range supported {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var problems []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			problems = append(problems, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(problems) > 0 {
		return nil, errors.Errorf("threshold parsing errors: %s", strings.Join(problems, "; "))
	}

	return result, nil
}

func extractMetricValue(t Threshold, stats metrics.Stats) (float64, error) {
	if t.Op != "" {
		return extractOpMetric(t, stats)
	}
	switch t.Metric {
	case "service_time":
		return extractLatencyMetric(t.Aggregate, stats)
	case "wait_time":
		return stats.WaitP99Ms, nil
	case "op_failed":
		return ratio(t.Aggregate, stats.Failures, stats.Total), nil
	case "cycles":
		if t.Aggregate == "rate" {
			return stats.OpsPerSec, nil
		}
		return float64(stats.Total), nil
	case "retries":
		return ratio(t.Aggregate, stats.Retries, stats.Total), nil
	default:
		return 0, errors.Errorf("unknown metric: %s", t.Metric)
	}
}

func extractOpMetric(t Threshold, stats metrics.Stats) (float64, error) {
	op, ok := stats.Ops[t.Op]
	if !ok {
		return 0, errors.Errorf("no cycles recorded for op %q", t.Op)
	}
	switch t.Metric {
	case "service_time":
		if t.Aggregate == "p50" {
			return op.P50LatencyMs, nil
		}
		return op.P99LatencyMs, nil
	case "op_failed":
		return ratio(t.Aggregate, op.Failures, op.Total), nil
	case "cycles":
		if t.Aggregate == "rate" {
			return op.OpsPerSec, nil
		}
		return float64(op.Total), nil
	}
	return 0, errors.Errorf("unsupported metric %q for an op", t.Metric)
}

func ratio(aggregate string, n, total int64) float64 {
	if aggregate == "count" {
		return float64(n)
	}
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func extractLatencyMetric(aggregate string, stats metrics.Stats) (float64, error) {
	switch aggregate {
	case "p50":
		return stats.P50LatencyMs, nil
	case "p90":
		return stats.P90LatencyMs, nil
	case "p95":
		return stats.P95LatencyMs, nil
	case "p99":
		return stats.P99LatencyMs, nil
	case "p999":
		return stats.P999LatencyMs, nil
	case "avg", "mean":
		return stats.MeanLatencyMs, nil
	case "min":
		return stats.MinLatencyMs, nil
	case "max":
		return stats.MaxLatencyMs, nil
	default:
		return 0, errors.Errorf("unsupported aggregate %q for service_time", aggregate)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
