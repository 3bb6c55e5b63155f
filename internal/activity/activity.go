package activity

import (
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"

	"github.com/torosent/cyclebench/internal/cycles"
	"github.com/torosent/cyclebench/internal/faults"
	"github.com/torosent/cyclebench/internal/ratelimit"
	"github.com/torosent/cyclebench/internal/variables"
)

// State is the lifecycle stage of an executor.
type State int32

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Activity is one configured run of a plan. It is assembled by New and
// driven by an Executor.
type Activity struct {
	ID   ulid.ULID
	Name string

	opts   Options
	seq    *cycles.Sequencer
	router *faults.Router
	arena  *variables.Arena
	sched  *schedule

	// Limiters are sized here but their fillers start with the run.
	cycleLimiter  *ratelimit.Limiter
	strideLimiter *ratelimit.Limiter
}

// New validates opts and assembles the activity.
func New(opts Options) (*Activity, error) {
	opts.normalize()
	if opts.Plan == nil || opts.Plan.Len() == 0 {
		return nil, errors.New("activity needs a compiled plan")
	}
	if opts.Cycles.End < opts.Cycles.Start {
		return nil, errors.Errorf("cycle range %s is inverted", opts.Cycles)
	}

	router := opts.Router
	if router == nil {
		var err error
		if router, err = faults.Parse(faults.DefaultSpec); err != nil {
			return nil, errors.Wrap(err, "building default error router")
		}
	}

	act := &Activity{
		ID:     ulid.Make(),
		Name:   opts.Name,
		opts:   opts,
		seq:    cycles.NewSequencer(opts.Cycles),
		router: router,
		arena:  variables.NewArena(),
		sched:  compileSchedule(opts.Schedule),
	}

	var err error
	if opts.CycleRate != nil {
		if act.cycleLimiter, err = newIdleLimiter(opts.Name+".cycles", *opts.CycleRate, opts.LimiterOptions); err != nil {
			return nil, errors.Wrap(err, "cyclerate")
		}
	}
	if opts.StrideRate != nil {
		if act.strideLimiter, err = newIdleLimiter(opts.Name+".strides", *opts.StrideRate, opts.LimiterOptions); err != nil {
			return nil, errors.Wrap(err, "striderate")
		}
	}
	return act, nil
}

// newIdleLimiter sizes a limiter for spec without starting its filler.
func newIdleLimiter(name string, spec ratelimit.Spec, opts []ratelimit.Option) (*ratelimit.Limiter, error) {
	if spec.BurstRatio == 0 {
		spec.BurstRatio = ratelimit.DefaultBurstRatio
	}
	spec.Verb = ratelimit.VerbStop
	return ratelimit.New(name, spec, opts...)
}

// Options returns the normalized options the activity was built from.
func (a *Activity) Options() Options { return a.opts }

// Router returns the error router in use.
func (a *Activity) Router() *faults.Router { return a.router }

// Sequencer returns the cycle sequencer.
func (a *Activity) Sequencer() *cycles.Sequencer { return a.seq }

// Variables returns the per-slot variable arena.
func (a *Activity) Variables() *variables.Arena { return a.arena }
