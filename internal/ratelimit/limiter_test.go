package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newManualLimiter builds a limiter with no filler so tests drive refills.
func newManualLimiter(t *testing.T, rate, burst float64) (*Limiter, *manualClock) {
	t.Helper()
	clock := newManualClock()
	l, err := New("test", Spec{OpsPerSec: rate, BurstRatio: burst, Verb: VerbStop}, WithClock(clock))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l, clock
}

func (l *Limiter) refillNow() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refillLocked()
}

func TestFirstAdmissionIsImmediate(t *testing.T) {
	l, _ := newManualLimiter(t, 1000, 1.0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := l.Block(ctx); err != nil {
		t.Fatalf("first Block() error = %v", err)
	}
	if _, err := l.Block(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second Block() error = %v, want deadline exceeded", err)
	}
}

func TestRefillSplitsOversizedDelta(t *testing.T) {
	l, clock := newManualLimiter(t, 1000, 1.0)
	clock.Advance(3 * time.Second)

	total := l.refillNow()
	// 3s of nanosecond ticks plus the initial op worth.
	if want := int64(3_000_000_000 + 1_000_000); total != want {
		t.Fatalf("combined pools = %d, want %d", total, want)
	}
	if active := l.tokens.available(); active != maxActivePool {
		t.Fatalf("active = %d, want %d", active, maxActivePool)
	}
	if waiting := l.waiting.Load(); waiting != 2_001_000_000 {
		t.Fatalf("waiting = %d, want 2001000000", waiting)
	}
}

func TestBurstDrainsUpToBurstRatio(t *testing.T) {
	l, clock := newManualLimiter(t, 1000, 1.5)
	clock.Advance(3 * time.Second)
	l.refillNow()

	if active := l.tokens.available(); active != 1_500_000_000 {
		t.Fatalf("active after burst refill = %d, want 1500000000", active)
	}

	admitted := 0
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err := l.Block(ctx)
		cancel()
		if err != nil {
			break
		}
		admitted++
		if admitted > 2000 {
			t.Fatalf("burst was not bounded")
		}
	}
	// maxActive * B tokens at 1e6 ticks per op.
	if admitted != 1500 {
		t.Fatalf("admitted %d ops in one burst, want 1500", admitted)
	}
}

func TestBurstScalesWithRefillFraction(t *testing.T) {
	l, clock := newManualLimiter(t, 1000, 2.0)
	// Bank a large waiting pool, then drain the active pool.
	clock.Advance(3 * time.Second)
	l.refillNow()
	l.tokens.drain()
	before := l.waiting.Load()

	clock.Advance(100 * time.Millisecond)
	l.refillNow()

	// 1e8 new ticks go to active; the burst share is 10% of the 1e9
	// burst pool.
	wantBurst := int64(100_000_000)
	if active := l.tokens.available(); active != 100_000_000+wantBurst {
		t.Fatalf("active = %d, want %d", active, 100_000_000+wantBurst)
	}
	if waiting := l.waiting.Load(); waiting != before-wantBurst {
		t.Fatalf("waiting = %d, want %d", waiting, before-wantBurst)
	}
}

func TestStopFoldsWaitingIntoCumulative(t *testing.T) {
	l, clock := newManualLimiter(t, 1000, 1.0)
	clock.Advance(1500 * time.Millisecond)
	l.refillNow()
	banked := l.WaitTime()
	if banked <= 0 {
		t.Fatalf("expected banked wait time, got %s", banked)
	}
	l.Stop()
	if l.WaitTime() != 0 {
		t.Fatalf("wait time after stop = %s", l.WaitTime())
	}
	if l.TotalWaitTime() != banked {
		t.Fatalf("total wait = %s, want %s", l.TotalWaitTime(), banked)
	}

	if err := l.Apply(Spec{OpsPerSec: 10, BurstRatio: 1, Verb: VerbRestart}); err != nil {
		t.Fatalf("Apply(restart) error = %v", err)
	}
	defer l.Stop()
	if l.TotalWaitTime() != 0 {
		t.Fatalf("restart should clear cumulative wait, got %s", l.TotalWaitTime())
	}
	if !l.Running() {
		t.Fatalf("restart should start the filler")
	}
}

func TestApplyRejectsInvalidSpec(t *testing.T) {
	l, _ := newManualLimiter(t, 10, 1)
	if err := l.Apply(Spec{OpsPerSec: 10, BurstRatio: 0.5, Verb: VerbStart}); !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("Apply() error = %v, want ErrInvalidSpec", err)
	}
	if got := l.Spec().OpsPerSec; got != 10 {
		t.Fatalf("spec changed after rejected apply: %g", got)
	}
}

func TestTokenPoolFIFOAndCancel(t *testing.T) {
	var p tokenPool
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- p.acquire(ctx, 10) }()

	for p.queued() == 0 {
		time.Sleep(time.Millisecond)
	}
	p.release(5)
	cancel()
	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Fatalf("acquire error = %v, want canceled", err)
	}
	if p.available() != 5 || p.queued() != 0 {
		t.Fatalf("available=%d queued=%d after cancel", p.available(), p.queued())
	}
	if err := p.acquire(context.Background(), 5); err != nil {
		t.Fatalf("acquire error = %v", err)
	}
}
