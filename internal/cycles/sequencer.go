// Package cycles hands out non-overlapping segments of cycle numbers to
// concurrent workers.
package cycles

import (
	"iter"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Range is the half-open interval of cycles [Start, End) an activity covers.
type Range struct {
	Start int64
	End   int64
}

// Len returns the number of cycles in the range.
func (r Range) Len() int64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

func (r Range) String() string {
	return strconv.FormatInt(r.Start, 10) + ".." + strconv.FormatInt(r.End, 10)
}

// ParseRange reads a cycle range. A single value N means 0..N. Values may
// carry a K, M or B multiplier.
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Range{}, errors.New("cycle range is empty")
	}

	var (
		start, end int64
		err        error
	)
	if lo, hi, ok := strings.Cut(s, ".."); ok {
		if start, err = parseCount(lo); err != nil {
			return Range{}, errors.Wrapf(err, "cycle range %q start", s)
		}
		if end, err = parseCount(hi); err != nil {
			return Range{}, errors.Wrapf(err, "cycle range %q end", s)
		}
	} else {
		if end, err = parseCount(s); err != nil {
			return Range{}, errors.Wrapf(err, "cycle range %q", s)
		}
	}

	if start < 0 || end < 0 {
		return Range{}, errors.Errorf("cycle range %q must be non-negative", s)
	}
	if end < start {
		return Range{}, errors.Errorf("cycle range %q ends before it starts", s)
	}
	return Range{Start: start, End: end}, nil
}

func parseCount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	mult := int64(1)
	if n := len(s); n > 0 {
		switch s[n-1] {
		case 'k', 'K':
			mult = 1_000
		case 'm', 'M':
			mult = 1_000_000
		case 'b', 'B', 'g', 'G':
			mult = 1_000_000_000
		}
		if mult != 1 {
			s = s[:n-1]
		}
	}
	v, err := strconv.ParseInt(strings.ReplaceAll(s, "_", ""), 10, 64)
	if err != nil {
		return 0, err
	}
	return v * mult, nil
}

// Segment is a contiguous block of cycles [Start, End) owned by one worker.
type Segment struct {
	Start int64
	End   int64
}

// Len returns the number of cycles in the segment.
func (s Segment) Len() int64 { return s.End - s.Start }

// Cycles yields every cycle of the segment in order.
func (s Segment) Cycles() iter.Seq[int64] {
	return func(yield func(int64) bool) {
		for c := s.Start; c < s.End; c++ {
			if !yield(c) {
				return
			}
		}
	}
}

// Sequencer issues every cycle of a Range exactly once across all callers.
type Sequencer struct {
	rng    Range
	cursor atomic.Int64
	halted atomic.Bool
}

// NewSequencer returns a sequencer positioned at the start of r.
func NewSequencer(r Range) *Sequencer {
	s := &Sequencer{rng: r}
	s.cursor.Store(r.Start)
	return s
}

// Range returns the range the sequencer covers.
func (s *Sequencer) Range() Range { return s.rng }

// NextSegment claims the next stride cycles. The final segment may be
// shorter. It returns false once the range is exhausted or the sequencer
// has been halted.
func (s *Sequencer) NextSegment(stride int64) (Segment, bool) {
	if stride < 1 {
		stride = 1
	}
	// The load guard keeps the cursor from creeping toward overflow once
	// the range is used up.
	if s.halted.Load() || s.cursor.Load() >= s.rng.End {
		return Segment{}, false
	}
	next := s.cursor.Add(stride)
	start := next - stride
	if start >= s.rng.End {
		return Segment{}, false
	}
	return Segment{Start: start, End: min(next, s.rng.End)}, true
}

// Halt stops issuance. Segments already handed out are unaffected.
func (s *Sequencer) Halt() { s.halted.Store(true) }

// Halted reports whether Halt was called.
func (s *Sequencer) Halted() bool { return s.halted.Load() }

// Issued returns how many cycles have been handed out so far.
func (s *Sequencer) Issued() int64 {
	return min(s.cursor.Load(), s.rng.End) - s.rng.Start
}

// Remaining returns how many cycles have not been handed out yet.
func (s *Sequencer) Remaining() int64 {
	if s.halted.Load() {
		return 0
	}
	return s.rng.Len() - s.Issued()
}
