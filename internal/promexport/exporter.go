// Package promexport publishes activity measurements as Prometheus
// metrics and serves the run's HTTP control surface.
package promexport

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/torosent/cyclebench/internal/activity"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "cyclebench"

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	Namespace       string
	ServiceBuckets  []float64
	WaitTimeBuckets []float64
}

// Exporter records per-cycle outcomes of one activity into Prometheus
// collectors. It satisfies activity.Recorder.
type Exporter struct {
	activity string

	opsTotal       *prom.CounterVec
	resultCodes    *prom.CounterVec
	errorsTotal    *prom.CounterVec
	retriesTotal   *prom.CounterVec
	serviceSeconds *prom.HistogramVec
	waitSeconds    *prom.HistogramVec
}

var _ activity.Recorder = (*Exporter)(nil)

// NewExporter creates and registers the collectors. Collectors that are
// already registered on reg are shared.
func NewExporter(activityName string, reg prom.Registerer, opts ExporterOptions) (*Exporter, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	namespace := normalizeLabel(opts.Namespace, DefaultNamespace)
	serviceBuckets := opts.ServiceBuckets
	if len(serviceBuckets) == 0 {
		serviceBuckets = prom.ExponentialBuckets(0.0001, 2, 18)
	}
	waitBuckets := opts.WaitTimeBuckets
	if len(waitBuckets) == 0 {
		waitBuckets = prom.ExponentialBuckets(0.0001, 4, 10)
	}

	opsTotal := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "ops_total",
		Help:      "Cycles run to a verdict, by op and outcome.",
	}, []string{"activity", "op", "outcome"})
	resultCodes := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "result_codes_total",
		Help:      "Result codes recorded per op.",
	}, []string{"activity", "op", "code"})
	errorsTotal := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Counted op errors by error name.",
	}, []string{"activity", "error"})
	retriesTotal := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "retries_total",
		Help:      "Attempts repeated after a retryable error.",
	}, []string{"activity"})
	serviceSeconds := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "service_time_seconds",
		Help:      "Op service time in seconds.",
		Buckets:   serviceBuckets,
	}, []string{"activity", "op"})
	waitSeconds := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "admission_wait_seconds",
		Help:      "Time a worker spent blocked on the cycle limiter.",
		Buckets:   waitBuckets,
	}, []string{"activity"})

	var err error
	if opsTotal, err = registerCollector(reg, opsTotal); err != nil {
		return nil, err
	}
	if resultCodes, err = registerCollector(reg, resultCodes); err != nil {
		return nil, err
	}
	if errorsTotal, err = registerCollector(reg, errorsTotal); err != nil {
		return nil, err
	}
	if retriesTotal, err = registerCollector(reg, retriesTotal); err != nil {
		return nil, err
	}
	if serviceSeconds, err = registerCollector(reg, serviceSeconds); err != nil {
		return nil, err
	}
	if waitSeconds, err = registerCollector(reg, waitSeconds); err != nil {
		return nil, err
	}

	return &Exporter{
		activity:       normalizeLabel(activityName, "default"),
		opsTotal:       opsTotal,
		resultCodes:    resultCodes,
		errorsTotal:    errorsTotal,
		retriesTotal:   retriesTotal,
		serviceSeconds: serviceSeconds,
		waitSeconds:    waitSeconds,
	}, nil
}

func (e *Exporter) RecordOp(op string, service time.Duration, code int, errName string) {
	if e == nil {
		return
	}
	op = normalizeLabel(op, "unknown")
	outcome := "success"
	if errName != "" {
		outcome = "error"
		e.errorsTotal.WithLabelValues(e.activity, errName).Inc()
	}
	e.opsTotal.WithLabelValues(e.activity, op, outcome).Inc()
	e.resultCodes.WithLabelValues(e.activity, op, strconv.Itoa(code)).Inc()
	e.serviceSeconds.WithLabelValues(e.activity, op).Observe(service.Seconds())
}

func (e *Exporter) RecordRetry() {
	if e == nil {
		return
	}
	e.retriesTotal.WithLabelValues(e.activity).Inc()
}

func (e *Exporter) RecordWait(wait time.Duration) {
	if e == nil {
		return
	}
	e.waitSeconds.WithLabelValues(e.activity).Observe(wait.Seconds())
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, errors.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
