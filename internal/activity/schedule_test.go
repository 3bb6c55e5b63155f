package activity

import (
	"context"
	"testing"
	"time"

	"github.com/torosent/cyclebench/internal/cycles"
)

func TestCompileScheduleRamp(t *testing.T) {
	plan := compileSchedule([]Phase{
		{Name: "warmup", Type: PhaseTypeRamp, FromRate: 10, ToRate: 110, Duration: 10 * time.Second, Threads: 4},
	})
	if plan == nil {
		t.Fatalf("expected schedule")
	}
	if plan.totalDuration() != 10*time.Second {
		t.Fatalf("duration = %s", plan.totalDuration())
	}
	seg, rate, ok := plan.at(5 * time.Second)
	if !ok {
		t.Fatalf("at() returned false")
	}
	if rate < 60 || rate > 61 {
		t.Fatalf("ramp rate = %f, want about 60", rate)
	}
	if seg.threads != 4 || seg.name != "warmup" {
		t.Fatalf("segment = %+v", seg)
	}
	if _, _, ok := plan.at(10 * time.Second); ok {
		t.Fatalf("at() past the end should report false")
	}
}

func TestCompileScheduleStepAndSpike(t *testing.T) {
	plan := compileSchedule([]Phase{
		{
			Type:    PhaseTypeStep,
			Threads: 2,
			Steps: []Step{
				{Rate: 50, Duration: time.Second},
				{Rate: 100, Threads: 8, Duration: 2 * time.Second},
				{Rate: 75, Duration: 0},
			},
		},
		{Type: PhaseTypeSpike, Rate: 500, Duration: 500 * time.Millisecond},
	})
	if plan == nil {
		t.Fatalf("expected schedule")
	}
	if plan.maxRate != 500 {
		t.Fatalf("max rate = %f, want 500", plan.maxRate)
	}
	if plan.totalDuration() != 3500*time.Millisecond {
		t.Fatalf("duration = %s", plan.totalDuration())
	}

	tests := []struct {
		elapsed     time.Duration
		wantRate    float64
		wantThreads int
	}{
		{0, 50, 2},
		{1500 * time.Millisecond, 100, 8},
		{3200 * time.Millisecond, 500, 0},
	}
	for _, tt := range tests {
		seg, rate, ok := plan.at(tt.elapsed)
		if !ok {
			t.Fatalf("at(%s) returned false", tt.elapsed)
		}
		if rate != tt.wantRate || seg.threads != tt.wantThreads {
			t.Fatalf("at(%s) = rate %f threads %d, want %f and %d", tt.elapsed, rate, seg.threads, tt.wantRate, tt.wantThreads)
		}
	}
}

func TestCompileScheduleEmpty(t *testing.T) {
	if plan := compileSchedule(nil); plan != nil {
		t.Fatalf("expected nil schedule")
	}
	if plan := compileSchedule([]Phase{{Type: PhaseTypeRamp, FromRate: 1, ToRate: 2}}); plan != nil {
		t.Fatalf("zero-length phases should compile to nil")
	}
	var plan *schedule
	if _, _, ok := plan.at(0); ok {
		t.Fatalf("nil schedule should never be in force")
	}
}

func TestScheduleDrivesRun(t *testing.T) {
	e := newExecutor(t, Options{
		Cycles:  cycles.Range{Start: 0, End: 1 << 40},
		Threads: 1,
		Plan:    diagPlan(t, nil),
		Schedule: []Phase{{
			Name: "steps",
			Type: PhaseTypeStep,
			Steps: []Step{
				{Rate: 1000, Threads: 2, Duration: 150 * time.Millisecond},
				{Rate: 2000, Threads: 3, Duration: 150 * time.Millisecond},
			},
		}},
	})

	done := make(chan Result, 1)
	go func() { done <- e.Run(context.Background()) }()
	waitRunning(t, e)

	deadline := time.Now().Add(time.Second)
	for e.Target() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("thread target = %d, want 2", e.Target())
		}
		time.Sleep(time.Millisecond)
	}

	select {
	case res := <-done:
		if res.State != StateStopped || res.Err != nil {
			t.Fatalf("Run() = %s, %v", res.State, res.Err)
		}
		if res.Cycles == 0 || res.Cycles > 2000 {
			t.Fatalf("cycles = %d, want roughly 450", res.Cycles)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("schedule did not end the run")
	}
	if spec, ok := e.Rate(); !ok || spec.OpsPerSec != 2000 {
		t.Fatalf("final rate = %+v, %v", spec, ok)
	}
}
