package activity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"

	"github.com/torosent/cyclebench/internal/ratelimit"
	"github.com/torosent/cyclebench/internal/results"
)

// resultBufferRecords is the initial record capacity of a worker's
// result buffer. Buffers grow as needed.
const resultBufferRecords = 1024

// Result captures the outcome of a run.
type Result struct {
	ID       ulid.ULID
	Activity string
	State    State

	Cycles      int64 // cycles that ran to a verdict
	Recoverable int64 // counted errors that did not stop the run
	Retries     int64
	Errored     int64 // cycles that ended in a counted error
	Err         error

	Start    time.Time
	End      time.Time
	WaitTime time.Duration // admission delay accumulated by the cycle limiter
	Log      *results.Buffer
}

// Duration is the wall time of the run.
func (r Result) Duration() time.Duration { return r.End.Sub(r.Start) }

// Snapshot is a point-in-time view of a running executor.
type Snapshot struct {
	State       State
	Threads     int
	Target      int
	Cycles      int64
	Remaining   int64
	Recoverable int64
	Retries     int64
	Errored     int64
	WaitTime    time.Duration
	Rate        float64 // configured cycles per second; 0 when unlimited
}

// Executor owns the workers of one activity and supervises their count.
type Executor struct {
	act  *Activity
	opts Options

	state   atomic.Int32
	target  atomic.Int64
	limiter atomic.Pointer[ratelimit.Limiter]

	stopCtx    context.Context
	stopCancel context.CancelFunc

	wake   chan struct{}
	exited chan *worker

	mu      sync.Mutex
	slots   []*worker
	buffers []*results.Buffer
	errs    grip.Catcher

	cycles      atomic.Int64
	recoverable atomic.Int64
	retries     atomic.Int64
	errored     atomic.Int64
}

// NewExecutor returns an executor for act in state Created.
func NewExecutor(act *Activity) *Executor {
	stopCtx, stopCancel := context.WithCancel(context.Background())
	e := &Executor{
		act:        act,
		opts:       act.opts,
		stopCtx:    stopCtx,
		stopCancel: stopCancel,
		wake:       make(chan struct{}, 1),
		exited:     make(chan *worker),
		errs:       grip.NewBasicCatcher(),
	}
	e.target.Store(int64(act.opts.Threads))
	if act.cycleLimiter != nil {
		e.limiter.Store(act.cycleLimiter)
	}
	return e
}

// Activity returns the activity the executor drives.
func (e *Executor) Activity() *Activity { return e.act }

// State returns the current lifecycle state.
func (e *Executor) State() State { return State(e.state.Load()) }

func (e *Executor) casState(from, to State) bool {
	return e.state.CompareAndSwap(int32(from), int32(to))
}

// Threads is the number of live workers that are not retiring.
func (e *Executor) Threads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeLocked()
}

// Target is the requested worker count.
func (e *Executor) Target() int { return int(e.target.Load()) }

// Run drives the activity until its cycles are used up, Stop is called,
// ctx ends, the duration cap passes or a fatal error occurs. An executor
// runs once.
func (e *Executor) Run(ctx context.Context) Result {
	res := Result{ID: e.act.ID, Activity: e.act.Name, Start: time.Now()}
	if !e.casState(StateCreated, StateStarting) {
		res.State = e.State()
		res.End = res.Start
		res.Err = errors.Errorf("activity %s cannot run from state %s", e.act.Name, res.State)
		return res
	}
	defer e.stopCancel()

	// Ops never see the stop signal; admission waits and retry delays do.
	opCtx := context.WithoutCancel(ctx)
	go func() {
		select {
		case <-ctx.Done():
			e.Stop()
		case <-e.stopCtx.Done():
		}
	}()
	if e.opts.Duration > 0 {
		timer := time.AfterFunc(e.opts.Duration, e.Stop)
		defer timer.Stop()
	}

	if err := e.startLimiters(); err != nil {
		e.fail(err)
	}
	e.casState(StateStarting, StateRunning)

	grip.Info(message.Fields{
		"message":  "activity started",
		"activity": e.act.Name,
		"id":       e.act.ID.String(),
		"cycles":   e.act.seq.Range().String(),
		"threads":  e.Target(),
		"stride":   e.opts.Stride,
	})

	if e.act.sched != nil {
		go e.runSchedule(e.stopCtx, e.act.sched)
	}

	for {
		e.reconcile(opCtx)
		if e.finished() {
			break
		}
		select {
		case w := <-e.exited:
			e.release(w)
		case <-e.wake:
		}
	}

	// Stopping must be visible before the limiters stop so a concurrent
	// ApplyRate cannot restart one unseen.
	e.casState(StateRunning, StateStopping)
	e.stopLimiters()
	e.casState(StateStopping, StateStopped)

	res.End = time.Now()
	res.Cycles = e.cycles.Load()
	res.Recoverable = e.recoverable.Load()
	res.Retries = e.retries.Load()
	res.Errored = e.errored.Load()
	if l := e.limiter.Load(); l != nil {
		res.WaitTime = l.TotalWaitTime()
	}
	if e.opts.ResultLog {
		log, err := results.Merge(e.buffers...)
		if err != nil {
			e.fail(errors.Wrap(err, "merging result logs"))
		}
		res.Log = log
	}
	res.State = e.State()
	res.Err = e.errs.Resolve()

	grip.Info(message.Fields{
		"message":     "activity finished",
		"activity":    e.act.Name,
		"id":          e.act.ID.String(),
		"state":       res.State.String(),
		"cycles":      res.Cycles,
		"recoverable": res.Recoverable,
		"retries":     res.Retries,
		"duration":    res.Duration().String(),
	})
	return res
}

// Stop asks the run to end. Workers finish the op in flight and exit.
func (e *Executor) Stop() {
	for {
		switch s := e.State(); s {
		case StateCreated:
			if e.casState(s, StateStopped) {
				e.stopCancel()
				return
			}
		case StateStarting, StateRunning:
			if e.casState(s, StateStopping) {
				grip.Debug(message.Fields{
					"message":  "activity stopping",
					"activity": e.act.Name,
				})
				e.stopCancel()
				e.signal()
				return
			}
		default:
			return
		}
	}
}

// SetThreads changes the worker target. The supervisor converges on it
// asynchronously.
func (e *Executor) SetThreads(n int) error {
	if n < 0 {
		return errors.Errorf("thread count must be >= 0, got %d", n)
	}
	if s := e.State(); s != StateRunning {
		return errors.Errorf("cannot set threads while %s", s)
	}
	prev := e.target.Swap(int64(n))
	if prev != int64(n) {
		grip.Info(message.Fields{
			"message":  "thread target changed",
			"activity": e.act.Name,
			"from":     prev,
			"to":       n,
		})
	}
	e.signal()
	return nil
}

// ApplyRate installs spec on the cycle limiter, creating one if the
// activity started without a rate.
func (e *Executor) ApplyRate(spec ratelimit.Spec) error {
	if s := e.State(); s != StateRunning {
		return errors.Errorf("cannot apply rate while %s", s)
	}
	if spec.Verb == "" {
		spec.Verb = ratelimit.VerbStart
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	l := e.limiter.Load()
	if l == nil {
		fresh, err := ratelimit.New(e.act.Name+".cycles", spec, e.opts.LimiterOptions...)
		if err != nil {
			return err
		}
		if e.limiter.CompareAndSwap(nil, fresh) {
			return e.haltIfEnded(fresh)
		}
		fresh.Stop()
		l = e.limiter.Load()
	}
	if err := l.Apply(spec); err != nil {
		return err
	}
	return e.haltIfEnded(l)
}

// haltIfEnded stops l when the run began to wind down during ApplyRate,
// possibly after Run already stopped its limiters.
func (e *Executor) haltIfEnded(l *ratelimit.Limiter) error {
	if !e.stopping() {
		return nil
	}
	l.Stop()
	return errors.Errorf("activity %s stopped while applying rate", e.act.Name)
}

// Rate returns the cycle limiter's spec. ok is false when unlimited.
func (e *Executor) Rate() (spec ratelimit.Spec, ok bool) {
	if l := e.limiter.Load(); l != nil {
		return l.Spec(), true
	}
	return ratelimit.Spec{}, false
}

func (e *Executor) burstRatio() float64 {
	if spec, ok := e.Rate(); ok && spec.BurstRatio >= 1 {
		return spec.BurstRatio
	}
	return ratelimit.DefaultBurstRatio
}

// Snapshot reads the executor's counters without stopping it.
func (e *Executor) Snapshot() Snapshot {
	snap := Snapshot{
		State:       e.State(),
		Threads:     e.Threads(),
		Target:      e.Target(),
		Cycles:      e.cycles.Load(),
		Remaining:   e.act.seq.Remaining(),
		Recoverable: e.recoverable.Load(),
		Retries:     e.retries.Load(),
		Errored:     e.errored.Load(),
	}
	if l := e.limiter.Load(); l != nil {
		snap.WaitTime = l.TotalWaitTime()
		snap.Rate = l.Spec().OpsPerSec
	}
	return snap
}

func (e *Executor) startLimiters() error {
	for _, l := range []*ratelimit.Limiter{e.limiter.Load(), e.act.strideLimiter} {
		if l == nil {
			continue
		}
		spec := l.Spec()
		spec.Verb = ratelimit.VerbStart
		if err := l.Apply(spec); err != nil {
			return errors.Wrapf(err, "starting limiter %s", l.Name())
		}
	}
	return nil
}

func (e *Executor) stopLimiters() {
	for _, l := range []*ratelimit.Limiter{e.limiter.Load(), e.act.strideLimiter} {
		if l != nil {
			l.Stop()
		}
	}
}

// fail records a fatal error, halts issuance and wakes everything that
// waits on the stop signal.
func (e *Executor) fail(err error) {
	e.errs.Add(err)
	for {
		s := e.State()
		if s == StateErrored || s == StateStopped {
			break
		}
		if e.casState(s, StateErrored) {
			grip.Error(message.WrapError(err, message.Fields{
				"message":  "activity errored",
				"activity": e.act.Name,
				"from":     s.String(),
			}))
			break
		}
	}
	e.act.seq.Halt()
	e.stopCancel()
	e.signal()
}

func (e *Executor) stopping() bool {
	switch e.State() {
	case StateStopping, StateStopped, StateErrored:
		return true
	}
	return false
}

func (e *Executor) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Executor) activeLocked() int {
	n := 0
	for _, w := range e.slots {
		if w != nil && !w.retire.Load() {
			n++
		}
	}
	return n
}

// reconcile moves the live worker count toward the target. Surplus
// workers retire from the highest slots; new workers fill the lowest
// free slots, after any retiring workers have been reinstated.
func (e *Executor) reconcile(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	target := int(e.target.Load())
	active := e.activeLocked()
	for i := len(e.slots) - 1; i >= 0 && active > target; i-- {
		if w := e.slots[i]; w != nil && !w.retire.Load() {
			w.retire.Store(true)
			active--
		}
	}
	if e.State() != StateRunning || e.act.seq.Remaining() == 0 {
		return
	}
	for i := 0; i < len(e.slots) && active < target; i++ {
		if w := e.slots[i]; w != nil && w.retire.Load() {
			w.retire.Store(false)
			active++
		}
	}
	for slot := 0; active < target; slot++ {
		if slot == len(e.slots) {
			e.slots = append(e.slots, nil)
		}
		if e.slots[slot] != nil {
			continue
		}
		w := e.newWorkerLocked(slot)
		e.slots[slot] = w
		active++
		go w.run(ctx)
	}
}

func (e *Executor) newWorkerLocked(slot int) *worker {
	w := &worker{exec: e, slot: slot, vars: e.act.arena.Slot(slot)}
	if e.opts.ResultLog {
		w.buf = results.NewBuffer(resultBufferRecords, results.WithFilter(e.opts.ResultFilter))
		e.buffers = append(e.buffers, w.buf)
	}
	grip.Debug(message.Fields{
		"message":  "worker started",
		"activity": e.act.Name,
		"slot":     slot,
	})
	return w
}

func (e *Executor) release(w *worker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if w.slot < len(e.slots) && e.slots[w.slot] == w {
		e.slots[w.slot] = nil
	}
}

// finished reports whether no worker is left and none will be started.
// A zero thread target with cycles remaining pauses the run rather than
// ending it.
func (e *Executor) finished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, w := range e.slots {
		if w != nil {
			return false
		}
	}
	return e.stopping() || e.act.seq.Remaining() == 0
}
