package ratelimit_test

import (
	"errors"
	"testing"
	"time"

	"github.com/torosent/cyclebench/internal/ratelimit"
)

func TestParseSpec(t *testing.T) {
	tests := []struct {
		in   string
		want ratelimit.Spec
	}{
		{"1000", ratelimit.Spec{OpsPerSec: 1000, BurstRatio: 1.1, Verb: ratelimit.VerbStart}},
		{"500:1.5", ratelimit.Spec{OpsPerSec: 500, BurstRatio: 1.5, Verb: ratelimit.VerbStart}},
		{"2K,1.0,restart", ratelimit.Spec{OpsPerSec: 2000, BurstRatio: 1.0, Verb: ratelimit.VerbRestart}},
		{"0.25;1.2;stop", ratelimit.Spec{OpsPerSec: 0.25, BurstRatio: 1.2, Verb: ratelimit.VerbStop}},
		{"3M::start", ratelimit.Spec{OpsPerSec: 3e6, BurstRatio: 1.1, Verb: ratelimit.VerbStart}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ratelimit.ParseSpec(tt.in)
			if err != nil {
				t.Fatalf("ParseSpec(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("ParseSpec(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseSpecRejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "0", "-5", "abc", "100:0.9", "100:1.1:pause", "1:2:3:4"} {
		if _, err := ratelimit.ParseSpec(in); !errors.Is(err, ratelimit.ErrInvalidSpec) {
			t.Errorf("ParseSpec(%q) error = %v, want ErrInvalidSpec", in, err)
		}
	}
	if _, err := ratelimit.NewSpec(10, 0.5); !errors.Is(err, ratelimit.ErrInvalidSpec) {
		t.Errorf("NewSpec burst 0.5 error = %v", err)
	}
}

func TestTickScaling(t *testing.T) {
	tests := []struct {
		rate  float64
		unit  time.Duration
		ticks int64
	}{
		{rate: 1000, unit: time.Nanosecond, ticks: 1_000_000},
		{rate: 10_000_000, unit: time.Nanosecond, ticks: 100},
		{rate: 5_000_000_000, unit: time.Nanosecond, ticks: 1},
		{rate: 1, unit: time.Microsecond, ticks: 1_000_000},
		{rate: 0.5, unit: time.Microsecond, ticks: 2_000_000},
		{rate: 0.0005, unit: time.Millisecond, ticks: 2_000_000},
		{rate: 0.0000001, unit: time.Second, ticks: 10_000_000},
	}
	for _, tt := range tests {
		spec := ratelimit.Spec{OpsPerSec: tt.rate, BurstRatio: 1}
		if got := spec.TickUnit(); got != tt.unit {
			t.Errorf("rate %g unit = %s, want %s", tt.rate, got, tt.unit)
		}
		if got := spec.TicksPerOp(); got != tt.ticks {
			t.Errorf("rate %g ticks per op = %d, want %d", tt.rate, got, tt.ticks)
		}
	}
}
