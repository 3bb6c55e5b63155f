// Package diag is a driver that talks to nothing. Its ops sleep, fail or
// panic on command, which makes it useful for exercising the engine.
//
// Template fields:
//
//	sleep          service time per op (duration, bare numbers are ms)
//	code           result code, static or a numeric binding such as {code}
//	fail_every     fail cycles divisible by N
//	fail_attempts  fail the first N attempts of every cycle
//	error_name     name of the raised error (default DiagFault)
//	panic_every    panic on cycles divisible by N
//	set            "var={binding}" assignment stored in worker variables
//	space          space name, per cycle when it references a binding
//
// A template may also carry a one-line "diag" field such as
// "sleep=2ms fail_every=10", which is expanded into the fields above.
package diag

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"

	"github.com/torosent/cyclebench/internal/ops"
	"github.com/torosent/cyclebench/internal/pool"
	"github.com/torosent/cyclebench/internal/variables"
)

// Name is the driver name.
const Name = "diag"

// FaultError is raised by ops configured to fail.
type FaultError struct {
	Kind    string
	Cycle   int64
	Attempt int
}

func (e *FaultError) Error() string {
	return "diag fault " + e.Kind + " at cycle " + strconv.FormatInt(e.Cycle, 10)
}

// ErrorName is the name the error router matches.
func (e *FaultError) ErrorName() string { return e.Kind }

// Space counts the ops run against it.
type Space struct {
	name      string
	ops       atomic.Int64
	started   atomic.Int64
	succeeded atomic.Int64
}

// Ops is the number of attempts run in the space.
func (s *Space) Ops() int64 { return s.ops.Load() }

// Started and Succeeded count cycles as reported through op hooks.
func (s *Space) Started() int64   { return s.started.Load() }
func (s *Space) Succeeded() int64 { return s.succeeded.Load() }

func (s *Space) Close() error {
	grip.Debug(message.Fields{
		"message":   "closing diag space",
		"space":     s.name,
		"ops":       s.ops.Load(),
		"succeeded": s.succeeded.Load(),
	})
	return nil
}

// Adapter is the diag driver.
type Adapter struct {
	spaces *pool.Cache[*Space]
}

// New returns a diag adapter.
func New() *Adapter {
	return &Adapter{spaces: pool.NewCache(func(name string) (*Space, error) {
		return &Space{name: name}, nil
	})}
}

func (a *Adapter) Name() string         { return Name }
func (a *Adapter) Mapper() ops.OpMapper { return mapper{a} }
func (a *Adapter) Close() error         { return a.spaces.Close() }

// Space returns the space called name.
func (a *Adapter) Space(name string) (*Space, error) { return a.spaces.Get(name) }

// ErrorName names diag faults by kind.
func (a *Adapter) ErrorName(err error) string {
	var fault *FaultError
	if errors.As(err, &fault) {
		return fault.Kind
	}
	return ""
}

// Remappers expands the one-line "diag" field.
func (a *Adapter) Remappers() []ops.Remapper {
	return []ops.Remapper{expandShorthand}
}

func expandShorthand(fields map[string]any) (map[string]any, error) {
	raw, ok := fields["diag"]
	if !ok {
		return fields, nil
	}
	line, ok := raw.(string)
	if !ok {
		return nil, errors.Errorf("diag field must be a string, got %T", raw)
	}
	delete(fields, "diag")
	for _, word := range strings.Fields(line) {
		key, value, ok := strings.Cut(word, "=")
		if !ok || key == "" {
			return nil, errors.Errorf("diag setting %q must look like key=value", word)
		}
		if _, exists := fields[key]; exists {
			return nil, errors.Errorf("diag setting %q repeats field %s", word, key)
		}
		fields[key] = value
	}
	return fields, nil
}

type mapper struct{ a *Adapter }

func (m mapper) Map(p *ops.ParsedOp) (ops.Dispenser, error) {
	sleep, err := p.StaticDuration("sleep", 0)
	if err != nil {
		return nil, err
	}
	failEvery, err := p.StaticInt("fail_every", 0)
	if err != nil {
		return nil, err
	}
	failAttempts, err := p.StaticInt("fail_attempts", 0)
	if err != nil {
		return nil, err
	}
	panicEvery, err := p.StaticInt("panic_every", 0)
	if err != nil {
		return nil, err
	}
	errorName, err := p.StaticString("error_name", "DiagFault")
	if err != nil {
		return nil, err
	}
	if failEvery < 0 || failAttempts < 0 || panicEvery < 0 {
		return nil, errors.New("fail_every, fail_attempts and panic_every must not be negative")
	}

	code := func(int64) int64 { return 0 }
	if fn, ok, err := p.LongFunc("code"); err != nil {
		return nil, err
	} else if ok {
		code = fn
	}

	var setKey string
	var setValue func(int64) string
	if assign, ok := p.StringFunc("set"); ok {
		sample := assign(0)
		key, _, found := strings.Cut(sample, "=")
		if !found || key == "" {
			return nil, errors.Errorf("set %q must look like var=value", sample)
		}
		setKey = key
		setValue = func(c int64) string {
			_, v, _ := strings.Cut(assign(c), "=")
			return v
		}
	}

	space := func(int64) string { return "default" }
	if fn, ok := p.StringFunc("space"); ok {
		space = fn
	}
	if p.IsStatic("space") || !p.Has("space") {
		if _, err := m.a.spaces.Get(space(0)); err != nil {
			return nil, err
		}
	}

	base := diagOp{
		adapter:      m.a,
		sleep:        sleep,
		failEvery:    failEvery,
		failAttempts: int(failAttempts),
		panicEvery:   panicEvery,
		errorName:    errorName,
		setKey:       setKey,
	}
	return ops.DispenserFunc(func(cycle int64) ops.Op {
		op := base
		op.cycle = cycle
		op.code = int(code(cycle))
		op.space = space(cycle)
		if setValue != nil {
			op.setValue = setValue(cycle)
		}
		return &op
	}), nil
}

type diagOp struct {
	adapter      *Adapter
	cycle        int64
	code         int
	space        string
	sleep        time.Duration
	failEvery    int64
	failAttempts int
	panicEvery   int64
	errorName    string
	setKey       string
	setValue     string
	attempts     int
}

func (o *diagOp) Run(ctx context.Context, vars variables.Store) (int, error) {
	o.attempts++
	space, err := o.adapter.spaces.Get(o.space)
	if err != nil {
		return 0, err
	}
	space.ops.Add(1)

	if o.sleep > 0 {
		timer := time.NewTimer(o.sleep)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return 0, errors.Wrap(ctx.Err(), "diag sleep")
		}
	}
	if o.panicEvery > 0 && o.cycle%o.panicEvery == 0 {
		panic("diag panic at cycle " + strconv.FormatInt(o.cycle, 10))
	}
	if o.attempts <= o.failAttempts {
		return 0, &FaultError{Kind: o.errorName, Cycle: o.cycle, Attempt: o.attempts}
	}
	if o.failEvery > 0 && o.cycle%o.failEvery == 0 {
		return 0, &FaultError{Kind: o.errorName, Cycle: o.cycle, Attempt: o.attempts}
	}
	if o.setKey != "" && vars != nil {
		vars.Set(o.setKey, o.setValue)
	}
	return o.code, nil
}

func (o *diagOp) OnStart(int64) {
	if space, err := o.adapter.spaces.Get(o.space); err == nil {
		space.started.Add(1)
	}
}

func (o *diagOp) OnSuccess(int64, time.Duration) {
	if space, err := o.adapter.spaces.Get(o.space); err == nil {
		space.succeeded.Add(1)
	}
}
