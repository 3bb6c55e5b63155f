package output

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/cheynewallace/tabby"

	"github.com/torosent/cyclebench/internal/activity"
	"github.com/torosent/cyclebench/internal/metrics"
	"github.com/torosent/cyclebench/internal/threshold"
)

// Report is the final summary of a run.
type Report struct {
	Activity    string             `json:"activity"`
	ID          string             `json:"id"`
	State       string             `json:"state"`
	Cycles      int64              `json:"cycles"`
	Recoverable int64              `json:"recoverable"`
	Retries     int64              `json:"retries"`
	Errored     int64              `json:"errored"`
	WaitTimeMs  float64            `json:"wait_time_ms"`
	Error       string             `json:"error,omitempty"`
	Stats       metrics.Stats      `json:"stats"`
	Thresholds  []ThresholdOutcome `json:"thresholds,omitempty"`
}

type ThresholdOutcome struct {
	Threshold string  `json:"threshold"`
	Actual    float64 `json:"actual"`
	Pass      bool    `json:"pass"`
	Message   string  `json:"message,omitempty"`
}

// NewReport combines the executor result with collected statistics.
func NewReport(res activity.Result, stats metrics.Stats, thresholds []threshold.Result) Report {
	r := Report{
		Activity:    res.Activity,
		ID:          res.ID.String(),
		State:       res.State.String(),
		Cycles:      res.Cycles,
		Recoverable: res.Recoverable,
		Retries:     res.Retries,
		Errored:     res.Errored,
		WaitTimeMs:  float64(res.WaitTime.Microseconds()) / 1000,
		Stats:       stats,
	}
	if res.Err != nil {
		r.Error = res.Err.Error()
	}
	for _, t := range thresholds {
		r.Thresholds = append(r.Thresholds, ThresholdOutcome{
			Threshold: t.Threshold.Raw,
			Actual:    t.Actual,
			Pass:      t.Pass,
			Message:   t.Message,
		})
	}
	return r
}

func newTable(w io.Writer) *tabby.Tabby {
	return tabby.NewCustom(tabwriter.NewWriter(w, 0, 0, 2, ' ', 0))
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r Report) {
	stats := r.Stats
	fmt.Fprintf(w, "\n--- Activity %s (%s) ---\n", r.Activity, r.ID)

	summary := newTable(w)
	summary.AddLine("State:", r.State)
	summary.AddLine("Cycles:", r.Cycles)
	summary.AddLine("Successful:", stats.Successes)
	summary.AddLine("Failed:", stats.Failures)
	summary.AddLine("Recoverable:", r.Recoverable)
	summary.AddLine("Retries:", r.Retries)
	summary.AddLine("Duration:", stats.Duration)
	summary.AddLine("Cycles/sec:", fmt.Sprintf("%.2f", stats.OpsPerSec))
	summary.AddLine("Admission wait:", fmt.Sprintf("%.2fms", r.WaitTimeMs))
	if r.Error != "" {
		summary.AddLine("Error:", r.Error)
	}
	summary.Print()

	fmt.Fprintln(w, "\nService time:")
	latency := newTable(w)
	latency.AddHeader("MIN", "MEAN", "P50", "P90", "P99", "P99.9", "MAX")
	latency.AddLine(stats.MinLatency, stats.MeanLatency, stats.P50Latency, stats.P90Latency,
		stats.P99Latency, stats.P999Latency, stats.MaxLatency)
	latency.Print()

	if len(stats.Ops) > 0 {
		fmt.Fprintln(w, "\nOps:")
		ops := newTable(w)
		ops.AddHeader("OP", "TOTAL", "SHARE", "OK", "FAILED", "OPS/S", "P50 MS", "P99 MS")
		for _, name := range stats.OpNames() {
			op := stats.Ops[name]
			share := 0.0
			if stats.Total > 0 {
				share = float64(op.Total) / float64(stats.Total) * 100
			}
			ops.AddLine(name, op.Total, fmt.Sprintf("%.1f%%", share), op.Successes, op.Failures,
				fmt.Sprintf("%.2f", op.OpsPerSec), fmt.Sprintf("%.2f", op.P50LatencyMs), fmt.Sprintf("%.2f", op.P99LatencyMs))
		}
		ops.Print()
	}

	if len(stats.ResultCodes) > 0 {
		fmt.Fprintln(w, "\nResult codes:")
		codes := newTable(w)
		codes.AddHeader("OP", "CODE", "COUNT")
		for _, row := range stats.ResultCodes {
			codes.AddLine(row.Op, row.Code, row.Count)
		}
		codes.Print()
	}

	if len(stats.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		errs := newTable(w)
		errs.AddHeader("ERROR", "NAME", "COUNT")
		for _, name := range sortedKeys(stats.Errors) {
			errs.AddLine(metrics.FriendlyErrorName(name), name, stats.Errors[name])
		}
		errs.Print()
	}

	if len(r.Thresholds) > 0 {
		fmt.Fprintln(w, "\nThresholds:")
		th := newTable(w)
		th.AddHeader("THRESHOLD", "ACTUAL", "RESULT")
		for _, t := range r.Thresholds {
			verdict := "PASS"
			if !t.Pass {
				verdict = "FAIL"
			}
			th.AddLine(t.Threshold, fmt.Sprintf("%.3f", t.Actual), verdict)
		}
		th.Print()
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
