package activity

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mongodb/grip/recovery"
	"github.com/pkg/errors"

	"github.com/torosent/cyclebench/internal/cycles"
	"github.com/torosent/cyclebench/internal/faults"
	"github.com/torosent/cyclebench/internal/ops"
	"github.com/torosent/cyclebench/internal/results"
	"github.com/torosent/cyclebench/internal/tracing"
	"github.com/torosent/cyclebench/internal/variables"
)

// worker runs cycles from the segments it claims. Its result buffer is
// written only by its own goroutine.
type worker struct {
	exec   *Executor
	slot   int
	retire atomic.Bool
	vars   variables.Store
	buf    *results.Buffer
}

func (w *worker) run(ctx context.Context) {
	e := w.exec
	defer func() { e.exited <- w }()
	defer func() {
		if err := recovery.HandlePanicWithError(recover(), nil, "activity worker"); err != nil {
			e.fail(errors.Wrapf(err, "worker %d", w.slot))
		}
	}()

	var seg cycles.Segment
	next := seg.End
	for {
		if e.stopping() {
			return
		}
		// A retiring worker still owns the rest of its segment.
		if next >= seg.End && w.retire.Load() {
			return
		}
		if !w.admit() {
			return
		}
		if next >= seg.End {
			var ok bool
			if seg, ok = w.claim(); !ok {
				return
			}
			next = seg.Start
		}
		w.runCycle(ctx, next)
		next++
	}
}

// admit blocks on the cycle limiter. An interrupted wait ends the worker,
// and is fatal unless the executor is already stopping.
func (w *worker) admit() bool {
	e := w.exec
	l := e.limiter.Load()
	if l == nil {
		return true
	}
	start := time.Now()
	if _, err := l.Block(e.stopCtx); err != nil {
		if !e.stopping() {
			e.fail(err)
		}
		return false
	}
	wait := time.Since(start)
	for _, r := range e.opts.Recorders {
		r.RecordWait(wait)
	}
	return true
}

func (w *worker) claim() (cycles.Segment, bool) {
	e := w.exec
	if e.act.seq.Remaining() == 0 {
		return cycles.Segment{}, false
	}
	if l := e.act.strideLimiter; l != nil {
		if _, err := l.Block(e.stopCtx); err != nil {
			if !e.stopping() {
				e.fail(err)
			}
			return cycles.Segment{}, false
		}
	}
	return e.act.seq.NextSegment(e.opts.Stride)
}

// runCycle dispenses the op for cycle and runs it to a verdict.
func (w *worker) runCycle(ctx context.Context, cycle int64) {
	e := w.exec
	compiled := e.opts.Plan.Select(cycle)
	op := compiled.Dispenser.Dispense(cycle)
	hooks, _ := op.(ops.Hooks)
	if hooks != nil {
		hooks.OnStart(cycle)
	}

	var (
		code    int
		service time.Duration
		err     error
		detail  faults.Detail
	)
	for attempt := 1; ; attempt++ {
		code, service, err = w.attempt(ctx, op, compiled.Name, cycle, attempt)
		if err == nil {
			break
		}
		detail = e.act.router.Handle(err, cycle, service)
		if !e.opts.Retry.shouldRetry(attempt, detail) || e.stopping() {
			break
		}
		e.retries.Add(1)
		for _, r := range e.opts.Recorders {
			r.RecordRetry()
		}
		if !e.opts.Retry.wait(e.stopCtx, attempt, compiled.Name) {
			break
		}
	}

	var errName string
	switch {
	case err == nil:
		if hooks != nil {
			hooks.OnSuccess(cycle, service)
		}
	case detail.Fatal:
		code = detail.ResultCode
		errName = detail.Name
		e.errored.Add(1)
		e.fail(errors.Wrapf(err, "cycle %d (%s)", cycle, compiled.Name))
	default:
		code = detail.ResultCode
		if detail.Counted {
			errName = detail.Name
			e.errored.Add(1)
			e.recoverable.Add(1)
		}
	}

	for _, r := range e.opts.Recorders {
		r.RecordOp(compiled.Name, service, code, errName)
	}
	e.cycles.Add(1)
	if w.buf != nil {
		if aerr := w.buf.Append(cycle, code); aerr != nil {
			e.fail(errors.Wrap(aerr, "recording result"))
		}
	}
}

func (w *worker) attempt(ctx context.Context, op ops.Op, name string, cycle int64, attempt int) (code int, service time.Duration, err error) {
	e := w.exec
	if tracer := e.opts.Tracer; tracer != nil {
		spanCtx, span := tracing.StartOpSpan(ctx, tracer, e.act.Name, name, cycle, attempt)
		ctx = spanCtx
		if e.opts.Propagate {
			tracing.InjectVariables(ctx, w.vars)
		}
		defer func() { tracing.EndSpan(span, err, code) }()
	}
	start := time.Now()
	code, err = op.Run(ctx, w.vars)
	return code, time.Since(start), err
}
