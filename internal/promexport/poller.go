package promexport

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/torosent/cyclebench/internal/activity"
)

// SnapshotProvider provides executor snapshots. *activity.Executor
// satisfies it.
type SnapshotProvider interface {
	Snapshot() activity.Snapshot
}

var states = []activity.State{
	activity.StateCreated,
	activity.StateStarting,
	activity.StateRunning,
	activity.StateStopping,
	activity.StateStopped,
	activity.StateErrored,
}

// SnapshotPoller periodically exports executor snapshots into gauges.
type SnapshotPoller struct {
	interval time.Duration

	providersMu sync.RWMutex
	providers   map[string]SnapshotProvider

	threads     *prom.GaugeVec
	target      *prom.GaugeVec
	cycles      *prom.GaugeVec
	remaining   *prom.GaugeVec
	recoverable *prom.GaugeVec
	rate        *prom.GaugeVec
	waitSeconds *prom.GaugeVec
	state       *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, namespace string, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}
	namespace = normalizeLabel(namespace, DefaultNamespace)

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, append([]string{"activity"}, labels...))
	}
	p := &SnapshotPoller{
		interval:    interval,
		providers:   make(map[string]SnapshotProvider),
		threads:     gauge("threads", "Live workers that are not retiring."),
		target:      gauge("thread_target", "Requested worker count."),
		cycles:      gauge("cycles_completed", "Cycles run to a verdict so far."),
		remaining:   gauge("cycles_remaining", "Cycles not yet issued."),
		recoverable: gauge("recoverable_errors", "Counted errors that did not stop the run."),
		rate:        gauge("cycle_rate_target", "Configured cycles per second, 0 when unlimited."),
		waitSeconds: gauge("admission_wait_total_seconds", "Admission delay accumulated by the cycle limiter."),
		state:       gauge("state", "1 for the executor's current state.", "state"),
	}

	var err error
	for _, g := range []**prom.GaugeVec{&p.threads, &p.target, &p.cycles, &p.remaining, &p.recoverable, &p.rate, &p.waitSeconds, &p.state} {
		if *g, err = registerCollector(reg, *g); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// AddActivity adds or replaces a provider by activity name.
func (p *SnapshotPoller) AddActivity(name string, provider SnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "default")
	p.providersMu.Lock()
	p.providers[name] = provider
	p.providersMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops polling after one final collection; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	cancel()
	<-done

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()
	for {
		select {
		case <-ctx.Done():
			p.collectOnce()
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.providersMu.RLock()
	defer p.providersMu.RUnlock()
	for name, provider := range p.providers {
		snap := provider.Snapshot()
		p.threads.WithLabelValues(name).Set(float64(snap.Threads))
		p.target.WithLabelValues(name).Set(float64(snap.Target))
		p.cycles.WithLabelValues(name).Set(float64(snap.Cycles))
		p.remaining.WithLabelValues(name).Set(float64(snap.Remaining))
		p.recoverable.WithLabelValues(name).Set(float64(snap.Recoverable))
		p.rate.WithLabelValues(name).Set(snap.Rate)
		p.waitSeconds.WithLabelValues(name).Set(snap.WaitTime.Seconds())
		for _, s := range states {
			v := 0.0
			if s == snap.State {
				v = 1
			}
			p.state.WithLabelValues(name, s.String()).Set(v)
		}
	}
}
