// Package output renders run progress and the final report.
package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"golang.org/x/time/rate"

	"github.com/torosent/cyclebench/internal/activity"
	"github.com/torosent/cyclebench/internal/metrics"
)

// SnapshotProvider exposes the executor's live state.
type SnapshotProvider interface {
	Snapshot() activity.Snapshot
}

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	collector *metrics.Collector
	snapshots SnapshotProvider
	interval  time.Duration
	ticker    *time.Ticker
	done      chan struct{}
	finished  chan struct{}
	writer    io.Writer
	active    int32
	start     time.Time

	// Owned by the run goroutine.
	opsRate    ewma.MovingAverage
	lastTotal  int64
	lastWait   time.Duration
	behindWarn rate.Sometimes
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
// snapshots may be nil.
func NewProgressReporter(collector *metrics.Collector, snapshots SnapshotProvider, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &ProgressReporter{
		collector:  collector,
		snapshots:  snapshots,
		interval:   interval,
		ticker:     time.NewTicker(interval),
		done:       make(chan struct{}),
		finished:   make(chan struct{}),
		writer:     writer,
		start:      time.Now(),
		opsRate:    ewma.NewMovingAverage(),
		behindWarn: rate.Sometimes{Interval: 10 * time.Second},
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		fmt.Fprintln(p.writer)
	} else {
		p.ticker.Stop()
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, p.line())
		case <-p.done:
			return
		}
	}
}

// line renders one progress update and advances the smoothed rate.
func (p *ProgressReporter) line() string {
	stats := p.collector.Stats(time.Since(p.start))
	delta := stats.Total - p.lastTotal
	p.lastTotal = stats.Total
	p.opsRate.Add(float64(delta) / p.interval.Seconds())

	line := fmt.Sprintf("\rCycles: %d | Errors: %d | ops/s: %.1f (avg %.1f) | p99: %.2fms",
		stats.Total, stats.Failures, p.opsRate.Value(), stats.OpsPerSec, stats.P99LatencyMs)
	if p.snapshots == nil {
		return line
	}

	snap := p.snapshots.Snapshot()
	line += fmt.Sprintf(" | Threads: %d/%d | Remaining: %d", snap.Threads, snap.Target, snap.Remaining)
	if snap.Rate > 0 {
		line += fmt.Sprintf(" | Target: %.0f/s", snap.Rate)
	}
	// Admission wait that keeps growing means the workers cannot keep up
	// with the configured rate.
	if snap.WaitTime > p.lastWait+p.interval {
		behind := snap.WaitTime
		p.behindWarn.Do(func() {
			grip.Warning(message.Fields{
				"message":   "activity is falling behind its cycle rate",
				"wait_time": behind.String(),
				"threads":   snap.Threads,
				"rate":      snap.Rate,
			})
		})
	}
	p.lastWait = snap.WaitTime
	return line
}
