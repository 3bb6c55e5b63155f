package activity

import (
	"context"
	"time"

	"github.com/torosent/cyclebench/internal/faults"
)

// RetryPolicy configures how a cycle is re-run after a retryable error.
type RetryPolicy struct {
	MaxTries  int                                          // total attempts including the first
	Delay     time.Duration                                // fixed delay between attempts (used if DelayFunc nil)
	DelayFunc func(attempt int, name string) time.Duration // attempt is 1-based
}

// shouldRetry reports whether another attempt follows attempt.
func (p RetryPolicy) shouldRetry(attempt int, d faults.Detail) bool {
	return d.Retryable && attempt < p.MaxTries
}

// wait pauses before the attempt after attempt. It returns false when ctx
// ends first.
func (p RetryPolicy) wait(ctx context.Context, attempt int, name string) bool {
	delay := p.Delay
	if p.DelayFunc != nil {
		delay = p.DelayFunc(attempt, name)
	}
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
