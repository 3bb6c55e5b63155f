// Package ratelimit gates worker progress with a token economy: a bounded
// active pool that admissions draw from, and an unbounded waiting pool
// that banks time the active pool could not hold. A background filler
// converts elapsed wall-clock time into tokens.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/recovery"
	"github.com/pkg/errors"
)

const (
	maxActivePool = int64(1_000_000_000)
	maxPoolBound  = int64(math.MaxInt32)

	// DefaultRefillInterval is how often the filler converts elapsed time
	// into tokens.
	DefaultRefillInterval = 10 * time.Millisecond
)

// Clock supplies the current time. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithRefillInterval changes how often the filler runs.
func WithRefillInterval(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.refillInterval = d
		}
	}
}

// Limiter admits callers at a configured rate with burst allowance.
type Limiter struct {
	name           string
	clock          Clock
	refillInterval time.Duration

	// mu guards sizing, refill state and the filler lifecycle.
	mu            sync.Mutex
	spec          Spec
	unit          int64
	maxActive     int64
	maxOverActive int64
	burstPool     int64
	lastRefill    time.Time
	startTime     time.Time
	filler        *filler

	tokens         tokenPool
	ticksPerOp     atomic.Int64
	unitNanos      atomic.Int64
	waiting        atomic.Int64
	cumulativeWait atomic.Int64
	blocks         atomic.Int64
}

type filler struct {
	stop chan struct{}
	done chan struct{}
}

// New builds a limiter and applies spec to it. A start or restart verb
// launches the filler immediately.
func New(name string, spec Spec, opts ...Option) (*Limiter, error) {
	l := &Limiter{
		name:           name,
		clock:          systemClock{},
		refillInterval: DefaultRefillInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.Apply(spec); err != nil {
		return nil, err
	}
	return l, nil
}

// Name returns the limiter's label.
func (l *Limiter) Name() string { return l.name }

// Apply installs a new spec. The filler is stopped and joined before the
// pools are resized, and restarted afterwards when the verb asks for it.
func (l *Limiter) Apply(spec Spec) error {
	if spec.Verb == "" {
		spec.Verb = VerbStart
	}
	if err := spec.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopFillerLocked()
	if spec.Verb == VerbRestart {
		l.cumulativeWait.Store(0)
	}
	l.spec = spec
	l.sizeLocked()
	l.initPoolsLocked()
	if spec.Verb == VerbStart || spec.Verb == VerbRestart {
		l.startFillerLocked()
	}

	grip.Debug(message.Fields{
		"message":      "applied rate spec",
		"limiter":      l.name,
		"spec":         spec.String(),
		"tick_unit":    time.Duration(l.unit).String(),
		"ticks_per_op": l.ticksPerOp.Load(),
		"burst_pool":   l.burstPool,
	})
	return nil
}

// Stop halts the filler. Banked waiting time moves into the cumulative
// wait statistic, which stays readable afterwards.
func (l *Limiter) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopFillerLocked()
	l.spec.Verb = VerbStop
}

// Spec returns the spec currently in force.
func (l *Limiter) Spec() Spec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spec
}

// Block consumes one op worth of tokens, suspending until they are
// available or ctx ends. It returns the combined size of the active and
// waiting pools.
func (l *Limiter) Block(ctx context.Context) (int64, error) {
	l.blocks.Add(1)
	if err := l.tokens.acquire(ctx, l.ticksPerOp.Load()); err != nil {
		return 0, errors.Wrapf(err, "admission wait on %s interrupted", l.name)
	}
	return l.tokens.available() + l.waiting.Load(), nil
}

// Blocks counts calls to Block.
func (l *Limiter) Blocks() int64 { return l.blocks.Load() }

// WaitTime is the time currently banked in the waiting pool. A growing
// value means callers are not keeping up with the configured rate.
func (l *Limiter) WaitTime() time.Duration {
	return time.Duration(l.waiting.Load() * l.unitNanos.Load())
}

// TotalWaitTime adds the wait folded in by earlier stops to WaitTime.
func (l *Limiter) TotalWaitTime() time.Duration {
	return time.Duration(l.cumulativeWait.Load()) + l.WaitTime()
}

// Running reports whether the filler is active.
func (l *Limiter) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.filler != nil
}

func (l *Limiter) sizeLocked() {
	l.unit = int64(l.spec.TickUnit())
	l.unitNanos.Store(l.unit)
	l.maxActive = maxActivePool
	l.ticksPerOp.Store(min(l.spec.TicksPerOp(), l.maxActive))

	over := float64(l.maxActive) * l.spec.BurstRatio
	if over > float64(maxPoolBound) {
		over = float64(maxPoolBound)
	}
	l.maxOverActive = int64(over)
	l.burstPool = l.maxOverActive - l.maxActive
}

// initPoolsLocked empties the pools and releases one op worth of tokens
// so the first caller is admitted immediately.
func (l *Limiter) initPoolsLocked() {
	l.tokens.drain()
	l.tokens.release(l.ticksPerOp.Load())
	l.waiting.Store(0)
	now := l.clock.Now()
	l.lastRefill = now
	l.startTime = now
}

// refillLocked converts the time since the last refill into tokens and
// returns the combined pool size.
func (l *Limiter) refillLocked() int64 {
	now := l.clock.Now()
	delta := now.Sub(l.lastRefill).Nanoseconds()
	if delta < 0 {
		delta = 0
	}
	// Sub-tick remainders stay on the clock for the next refill.
	rem := delta % l.unit
	delta -= rem
	l.lastRefill = now.Add(-time.Duration(rem))

	bound := maxPoolBound - maxPoolBound%l.unit
	if delta > bound {
		l.waiting.Add((delta - bound) / l.unit)
		delta = bound
	}
	newTicks := delta / l.unit

	needed := max(l.maxActive-l.tokens.available(), 0)
	toActive := min(newTicks, needed)
	l.tokens.release(toActive)
	l.waiting.Add(newTicks - toActive)

	refillFactor := math.Min(float64(newTicks)/float64(l.maxActive), 1.0)
	burstAllowed := int64(refillFactor * float64(l.burstPool))
	burstAllowed = min(l.maxOverActive-l.tokens.available(), burstAllowed)
	recovery := max(0, min(burstAllowed, l.waiting.Load()))
	l.waiting.Add(-recovery)
	l.tokens.release(recovery)

	return l.tokens.available() + l.waiting.Load()
}

func (l *Limiter) startFillerLocked() {
	if l.filler != nil {
		return
	}
	f := &filler{stop: make(chan struct{}), done: make(chan struct{})}
	l.filler = f
	go l.fill(f)
}

func (l *Limiter) stopFillerLocked() {
	if f := l.filler; f != nil {
		close(f.stop)
		<-f.done
		l.filler = nil
	}
	l.cumulativeWait.Add(l.waiting.Swap(0) * l.unit)
}

func (l *Limiter) fill(f *filler) {
	defer close(f.done)
	defer recovery.LogStackTraceAndContinue("rate limiter filler", l.name)

	ticker := time.NewTicker(l.refillInterval)
	defer ticker.Stop()
	for {
		select {
		case <-f.stop:
			return
		case <-ticker.C:
			// Apply and Stop hold mu while joining the filler, so the
			// filler must never wait on it.
			if !l.mu.TryLock() {
				continue
			}
			l.refillLocked()
			l.mu.Unlock()
		}
	}
}
