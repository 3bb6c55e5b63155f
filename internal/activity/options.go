package activity

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/cyclebench/internal/cycles"
	"github.com/torosent/cyclebench/internal/faults"
	"github.com/torosent/cyclebench/internal/ops"
	"github.com/torosent/cyclebench/internal/ratelimit"
	"github.com/torosent/cyclebench/internal/results"
)

// DefaultMaxTries is the number of attempts per cycle when Options leaves
// MaxTries unset.
const DefaultMaxTries = 10

// Recorder receives per-cycle measurements. metrics.Collector and the
// Prometheus exporter both satisfy it.
type Recorder interface {
	RecordOp(op string, service time.Duration, code int, errName string)
	RecordRetry()
	RecordWait(wait time.Duration)
}

// Options configure an Activity.
type Options struct {
	Name    string
	Cycles  cycles.Range
	Threads int   // initial worker count; 0 means 1
	Stride  int64 // cycles per segment; 0 means one pass of the plan

	CycleRate  *ratelimit.Spec // nil means unlimited
	StrideRate *ratelimit.Spec // nil means unlimited

	// LimiterOptions are passed to every limiter the executor creates.
	LimiterOptions []ratelimit.Option

	Plan   *ops.Plan
	Router *faults.Router // nil means faults.DefaultSpec
	Retry  RetryPolicy

	Recorders []Recorder
	Tracer    trace.Tracer // nil disables spans
	Propagate bool         // inject trace context into per-worker variables

	ResultLog    bool // keep a per-cycle result log
	ResultFilter results.Filter

	Duration time.Duration // wall-clock cap; 0 means none
	Schedule []Phase
}

func (o *Options) normalize() {
	if o.Name == "" {
		o.Name = "default"
	}
	if o.Threads <= 0 {
		o.Threads = 1
	}
	if o.Retry.MaxTries <= 0 {
		o.Retry.MaxTries = DefaultMaxTries
	}
	if o.Stride <= 0 && o.Plan != nil {
		o.Stride = int64(o.Plan.Len())
	}
	if o.Stride <= 0 {
		o.Stride = 1
	}
}
