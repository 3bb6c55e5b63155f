package diag

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/torosent/cyclebench/internal/ops"
	"github.com/torosent/cyclebench/internal/variables"
)

func compile(t *testing.T, a *Adapter, fields map[string]any) *ops.Plan {
	t.Helper()
	bindings, err := ops.NewBindings(map[string]string{"code": "Mod(3)", "tenant": "Mod(2); Format(t%d)"})
	if err != nil {
		t.Fatalf("NewBindings() error = %v", err)
	}
	plan, err := ops.Compile([]ops.Template{{Name: "diag", Ratio: 1, Fields: fields}}, bindings, a, ops.SequenceBucket)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return plan
}

func run(t *testing.T, plan *ops.Plan, cycle int64, vars variables.Store) (ops.Op, int, error) {
	t.Helper()
	op := plan.Select(cycle).Dispenser.Dispense(cycle)
	code, err := op.Run(context.Background(), vars)
	return op, code, err
}

func TestResultCodeFromBinding(t *testing.T) {
	a := New()
	plan := compile(t, a, map[string]any{"code": "{code}"})
	for cycle := int64(0); cycle < 6; cycle++ {
		_, code, err := run(t, plan, cycle, nil)
		if err != nil {
			t.Fatalf("Run(%d) error = %v", cycle, err)
		}
		if code != int(cycle%3) {
			t.Fatalf("Run(%d) code = %d, want %d", cycle, code, cycle%3)
		}
	}
	space, _ := a.Space("default")
	if space.Ops() != 6 {
		t.Fatalf("space ops = %d, want 6", space.Ops())
	}
}

func TestFailEveryAndAttempts(t *testing.T) {
	a := New()
	plan := compile(t, a, map[string]any{"diag": "fail_every=5 error_name=Flaky"})
	_, _, err := run(t, plan, 10, nil)
	var fault *FaultError
	if !errors.As(err, &fault) || fault.Kind != "Flaky" || a.ErrorName(err) != "Flaky" {
		t.Fatalf("Run(10) error = %v, want Flaky fault", err)
	}
	if _, _, err := run(t, plan, 11, nil); err != nil {
		t.Fatalf("Run(11) error = %v", err)
	}

	plan = compile(t, New(), map[string]any{"fail_attempts": 2})
	op := plan.Select(4).Dispenser.Dispense(4)
	for attempt := 1; attempt <= 3; attempt++ {
		_, err := op.Run(context.Background(), nil)
		if attempt <= 2 && err == nil {
			t.Fatalf("attempt %d should fail", attempt)
		}
		if attempt == 3 && err != nil {
			t.Fatalf("attempt 3 error = %v", err)
		}
	}
}

func TestPanicEvery(t *testing.T) {
	plan := compile(t, New(), map[string]any{"panic_every": 2})
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on cycle 0")
		}
	}()
	_, _, _ = run(t, plan, 0, nil)
}

func TestSleepHonoursContext(t *testing.T) {
	plan := compile(t, New(), map[string]any{"sleep": "1h"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	op := plan.Select(0).Dispenser.Dispense(0)
	if _, err := op.Run(ctx, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want deadline exceeded", err)
	}
}

func TestSetAndSpacesAndHooks(t *testing.T) {
	a := New()
	plan := compile(t, a, map[string]any{"set": "last={cycle}", "space": "{tenant}"})
	vars := variables.NewStore()
	for cycle := int64(0); cycle < 4; cycle++ {
		op, _, err := run(t, plan, cycle, vars)
		if err != nil {
			t.Fatalf("Run(%d) error = %v", cycle, err)
		}
		hooks, ok := op.(ops.Hooks)
		if !ok {
			t.Fatal("diag ops should implement hooks")
		}
		hooks.OnStart(cycle)
		hooks.OnSuccess(cycle, time.Millisecond)
	}
	if v, _ := vars.Get("last"); v != "3" {
		t.Fatalf("last = %q, want 3", v)
	}
	for _, name := range []string{"t0", "t1"} {
		space, err := a.Space(name)
		if err != nil {
			t.Fatalf("Space(%s) error = %v", name, err)
		}
		if space.Ops() != 2 || space.Started() != 2 || space.Succeeded() != 2 {
			t.Fatalf("space %s ops=%d started=%d succeeded=%d", name, space.Ops(), space.Started(), space.Succeeded())
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestMappingErrors(t *testing.T) {
	bad := []map[string]any{
		{"diag": "sleep"},
		{"diag": 5},
		{"fail_every": -1},
		{"code": "x{tenant}"},
		{"set": "novalue"},
		{"colour": "blue"},
	}
	for _, fields := range bad {
		_, err := ops.Compile([]ops.Template{{Name: "bad", Ratio: 1, Fields: fields}}, nil, New(), ops.SequenceBucket)
		if err == nil {
			t.Errorf("Compile(%v) expected error", fields)
		}
	}
}
