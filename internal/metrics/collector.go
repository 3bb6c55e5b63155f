package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Collector records per-cycle outcomes in a thread-safe manner.
type Collector struct {
	mu         sync.Mutex
	service    *hdrhistogram.Histogram
	wait       *hdrhistogram.Histogram
	successes  int64
	failures   int64
	retries    int64
	minLatency time.Duration
	maxLatency time.Duration
	sumLatency time.Duration
	errors     map[string]int64
	ops        map[string]*opCounters
	start      time.Time
}

type opCounters struct {
	hist      *hdrhistogram.Histogram
	successes int64
	failures  int64
	codes     map[int]int64
}

// Stats represents aggregated metrics.
type Stats struct {
	Total     int64 `json:"total"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
	Retries   int64 `json:"retries"`

	MinLatency  time.Duration `json:"-"`
	MaxLatency  time.Duration `json:"-"`
	MeanLatency time.Duration `json:"-"`
	P50Latency  time.Duration `json:"-"`
	P90Latency  time.Duration `json:"-"`
	P95Latency  time.Duration `json:"-"`
	P99Latency  time.Duration `json:"-"`
	P999Latency time.Duration `json:"-"`
	WaitP99     time.Duration `json:"-"`
	Duration    time.Duration `json:"-"`
	OpsPerSec   float64       `json:"ops_per_sec"`

	// JSON-friendly millisecond fields.
	MinLatencyMs  float64 `json:"min_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	MeanLatencyMs float64 `json:"mean_latency_ms"`
	P50LatencyMs  float64 `json:"p50_latency_ms"`
	P90LatencyMs  float64 `json:"p90_latency_ms"`
	P95LatencyMs  float64 `json:"p95_latency_ms"`
	P99LatencyMs  float64 `json:"p99_latency_ms"`
	P999LatencyMs float64 `json:"p999_latency_ms"`
	WaitP99Ms     float64 `json:"wait_p99_ms"`
	DurationMs    float64 `json:"duration_ms"`

	Errors      map[string]int     `json:"errors,omitempty"`
	Ops         map[string]OpStats `json:"ops,omitempty"`
	ResultCodes []ResultBucket     `json:"result_codes,omitempty"`
}

// OpStats summarizes one op template.
type OpStats struct {
	Total        int64   `json:"total"`
	Successes    int64   `json:"successes"`
	Failures     int64   `json:"failures"`
	P50LatencyMs float64 `json:"p50_latency_ms"`
	P99LatencyMs float64 `json:"p99_latency_ms"`
	OpsPerSec    float64 `json:"ops_per_sec"`
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{
		service: newHistogram(),
		wait:    newHistogram(),
		errors:  make(map[string]int64),
		ops:     make(map[string]*opCounters),
		start:   time.Now(),
	}
}

// Track latencies from 1µs up to 60s with 3 significant figures.
func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(1, 60_000_000, 3)
}

func recordClamped(h *hdrhistogram.Histogram, d time.Duration) {
	us := d.Microseconds()
	if us < h.LowestTrackableValue() {
		us = h.LowestTrackableValue()
	}
	if us > h.HighestTrackableValue() {
		us = h.HighestTrackableValue()
	}
	_ = h.RecordValue(us)
}

// Start resets the clock used for rates.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = time.Now()
}

// RecordOp records the final outcome of one cycle. errName is empty for
// a success.
func (c *Collector) RecordOp(op string, service time.Duration, code int, errName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	recordClamped(c.service, service)
	c.sumLatency += service
	if c.minLatency == 0 || service < c.minLatency {
		c.minLatency = service
	}
	if service > c.maxLatency {
		c.maxLatency = service
	}

	oc, ok := c.ops[op]
	if !ok {
		oc = &opCounters{hist: newHistogram(), codes: make(map[int]int64)}
		c.ops[op] = oc
	}
	recordClamped(oc.hist, service)
	oc.codes[code]++

	if errName == "" {
		c.successes++
		oc.successes++
		return
	}
	c.failures++
	oc.failures++
	c.errors[errName]++
}

// RecordRetry counts one extra attempt.
func (c *Collector) RecordRetry() {
	c.mu.Lock()
	c.retries++
	c.mu.Unlock()
}

// RecordWait records how far behind schedule the admission controller
// was when an op was admitted.
func (c *Collector) RecordWait(wait time.Duration) {
	if wait <= 0 {
		return
	}
	c.mu.Lock()
	recordClamped(c.wait, wait)
	c.mu.Unlock()
}

// Elapsed is the time since Start.
func (c *Collector) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.start)
}

// Total is the number of cycles recorded so far.
func (c *Collector) Total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.successes + c.failures
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.successes + c.failures
	stats := Stats{
		Total:      total,
		Successes:  c.successes,
		Failures:   c.failures,
		Retries:    c.retries,
		MinLatency: c.minLatency,
		MaxLatency: c.maxLatency,
	}
	if total > 0 {
		stats.MeanLatency = time.Duration(int64(c.sumLatency) / total)
	}
	if c.service.TotalCount() > 0 {
		stats.P50Latency = quantile(c.service, 50)
		stats.P90Latency = quantile(c.service, 90)
		stats.P95Latency = quantile(c.service, 95)
		stats.P99Latency = quantile(c.service, 99)
		stats.P999Latency = quantile(c.service, 99.9)
	}
	if c.wait.TotalCount() > 0 {
		stats.WaitP99 = quantile(c.wait, 99)
	}

	stats.MinLatencyMs = ms(stats.MinLatency)
	stats.MaxLatencyMs = ms(stats.MaxLatency)
	stats.MeanLatencyMs = ms(stats.MeanLatency)
	stats.P50LatencyMs = ms(stats.P50Latency)
	stats.P90LatencyMs = ms(stats.P90Latency)
	stats.P95LatencyMs = ms(stats.P95Latency)
	stats.P99LatencyMs = ms(stats.P99Latency)
	stats.P999LatencyMs = ms(stats.P999Latency)
	stats.WaitP99Ms = ms(stats.WaitP99)

	stats.Duration = elapsed
	stats.DurationMs = ms(elapsed)
	if elapsed > 0 && total > 0 {
		stats.OpsPerSec = float64(total) / elapsed.Seconds()
	}

	if len(c.errors) > 0 {
		stats.Errors = make(map[string]int, len(c.errors))
		for k, v := range c.errors {
			stats.Errors[k] = int(v)
		}
	}

	if len(c.ops) > 0 {
		stats.Ops = make(map[string]OpStats, len(c.ops))
		for name, oc := range c.ops {
			summary := OpStats{
				Total:        oc.successes + oc.failures,
				Successes:    oc.successes,
				Failures:     oc.failures,
				P50LatencyMs: ms(quantile(oc.hist, 50)),
				P99LatencyMs: ms(quantile(oc.hist, 99)),
			}
			if elapsed > 0 {
				summary.OpsPerSec = float64(summary.Total) / elapsed.Seconds()
			}
			stats.Ops[name] = summary
		}
		stats.ResultCodes = resultBuckets(c.ops)
	}
	return stats
}

// OpNames returns the recorded op names, sorted.
func (s Stats) OpNames() []string {
	names := make([]string, 0, len(s.Ops))
	for name := range s.Ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func quantile(h *hdrhistogram.Histogram, q float64) time.Duration {
	return time.Duration(h.ValueAtQuantile(q)) * time.Microsecond
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
