package activity

import (
	"context"
	"math"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/recovery"

	"github.com/torosent/cyclebench/internal/ratelimit"
)

// scheduleTick is how often the schedule controller re-applies targets.
const scheduleTick = 100 * time.Millisecond

// PhaseType selects how a phase moves the cycle rate.
type PhaseType string

const (
	PhaseTypeRamp  PhaseType = "ramp"
	PhaseTypeStep  PhaseType = "step"
	PhaseTypeSpike PhaseType = "spike"
)

// Phase is one timed section of a schedule. Rates are cycles per second.
// A zero Threads keeps the current thread target.
type Phase struct {
	Name     string
	Type     PhaseType
	FromRate float64
	ToRate   float64
	Rate     float64
	Threads  int
	Duration time.Duration
	Steps    []Step
}

// Step holds a rate and thread target for a fixed time.
type Step struct {
	Rate     float64
	Threads  int
	Duration time.Duration
}

type schedule struct {
	segments []scheduleSegment
	duration time.Duration
	maxRate  float64
}

type scheduleSegment struct {
	name     string
	start    time.Duration
	duration time.Duration
	fromRate float64
	toRate   float64
	threads  int
}

func compileSchedule(phases []Phase) *schedule {
	if len(phases) == 0 {
		return nil
	}

	plan := &schedule{}
	var offset time.Duration
	for _, phase := range phases {
		switch phase.Type {
		case PhaseTypeRamp:
			if phase.Duration <= 0 {
				continue
			}
			plan.appendSegment(scheduleSegment{
				name:     phase.Name,
				start:    offset,
				duration: phase.Duration,
				fromRate: phase.FromRate,
				toRate:   phase.ToRate,
				threads:  phase.Threads,
			})
			offset += phase.Duration
		case PhaseTypeStep:
			for _, step := range phase.Steps {
				if step.Duration <= 0 {
					continue
				}
				threads := step.Threads
				if threads == 0 {
					threads = phase.Threads
				}
				plan.appendSegment(scheduleSegment{
					name:     phase.Name,
					start:    offset,
					duration: step.Duration,
					fromRate: step.Rate,
					toRate:   step.Rate,
					threads:  threads,
				})
				offset += step.Duration
			}
		case PhaseTypeSpike:
			if phase.Duration <= 0 {
				continue
			}
			plan.appendSegment(scheduleSegment{
				name:     phase.Name,
				start:    offset,
				duration: phase.Duration,
				fromRate: phase.Rate,
				toRate:   phase.Rate,
				threads:  phase.Threads,
			})
			offset += phase.Duration
		}
	}

	if len(plan.segments) == 0 {
		return nil
	}
	plan.duration = offset
	return plan
}

func (p *schedule) appendSegment(seg scheduleSegment) {
	p.segments = append(p.segments, seg)
	p.maxRate = math.Max(p.maxRate, math.Max(seg.fromRate, seg.toRate))
}

// at returns the segment in force after elapsed and the rate it asks
// for. ok is false once the schedule has run out.
func (p *schedule) at(elapsed time.Duration) (seg scheduleSegment, rate float64, ok bool) {
	if p == nil {
		return scheduleSegment{}, 0, false
	}
	elapsed = max(elapsed, 0)
	for _, seg := range p.segments {
		end := seg.start + seg.duration
		if elapsed < seg.start || elapsed >= end {
			continue
		}
		if seg.fromRate == seg.toRate {
			return seg, seg.fromRate, true
		}
		progress := float64(elapsed-seg.start) / float64(seg.duration)
		progress = min(max(progress, 0), 1)
		return seg, seg.fromRate + (seg.toRate-seg.fromRate)*progress, true
	}
	return scheduleSegment{}, 0, false
}

func (p *schedule) totalDuration() time.Duration {
	if p == nil {
		return 0
	}
	return p.duration
}

// runSchedule drives the executor's rate and thread targets from the
// schedule, then stops the run when the schedule ends.
func (e *Executor) runSchedule(ctx context.Context, plan *schedule) {
	defer recovery.LogStackTraceAndContinue("activity schedule", e.act.Name)

	start := time.Now()
	lastRate, lastThreads, lastName := -1.0, -1, ""
	apply := func(elapsed time.Duration) bool {
		seg, rate, ok := plan.at(elapsed)
		if !ok {
			return false
		}
		if seg.name != lastName {
			lastName = seg.name
			grip.Info(message.Fields{
				"message":  "schedule phase",
				"activity": e.act.Name,
				"phase":    seg.name,
				"elapsed":  elapsed.String(),
			})
		}
		// Rates are re-applied only when they move by at least 0.1%.
		if rate > 0 && math.Abs(rate-lastRate) > lastRate*0.001 {
			spec := ratelimit.Spec{OpsPerSec: rate, BurstRatio: e.burstRatio(), Verb: ratelimit.VerbStart}
			if err := e.ApplyRate(spec); err != nil {
				grip.Warning(message.WrapError(err, message.Fields{
					"message":  "schedule could not apply rate",
					"activity": e.act.Name,
					"rate":     rate,
				}))
			}
			lastRate = rate
		}
		if seg.threads > 0 && seg.threads != lastThreads {
			if err := e.SetThreads(seg.threads); err != nil {
				grip.Warning(message.WrapError(err, message.Fields{
					"message":  "schedule could not set threads",
					"activity": e.act.Name,
					"threads":  seg.threads,
				}))
			}
			lastThreads = seg.threads
		}
		return true
	}

	apply(0)
	ticker := time.NewTicker(scheduleTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !apply(time.Since(start)) {
				grip.Info(message.Fields{
					"message":  "schedule complete",
					"activity": e.act.Name,
					"duration": plan.totalDuration().String(),
				})
				e.Stop()
				return
			}
		}
	}
}
