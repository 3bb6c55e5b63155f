package ops

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// SequencerType decides how ops are interleaved according to their
// ratios.
type SequencerType string

const (
	// SequenceBucket takes one op from each template in turn until every
	// ratio is used up: ratios A=2, B=1 give A B A.
	SequenceBucket SequencerType = "bucket"
	// SequenceConcat repeats each template ratio times: A A B.
	SequenceConcat SequencerType = "concat"
	// SequenceInterval spreads each template evenly over the sequence.
	SequenceInterval SequencerType = "interval"
)

// ParseSequencerType accepts bucket, concat or interval. Empty means
// bucket.
func ParseSequencerType(s string) (SequencerType, error) {
	switch SequencerType(strings.ToLower(strings.TrimSpace(s))) {
	case "", SequenceBucket:
		return SequenceBucket, nil
	case SequenceConcat:
		return SequenceConcat, nil
	case SequenceInterval:
		return SequenceInterval, nil
	}
	return "", errors.Errorf("unknown sequencer %q (want bucket, concat or interval)", s)
}

// sequence returns the order of op indexes for one pass of the plan.
func sequence(kind SequencerType, ratios []int) []int {
	var out []int
	switch kind {
	case SequenceConcat:
		for i, r := range ratios {
			for range r {
				out = append(out, i)
			}
		}
	case SequenceInterval:
		total := 0
		for _, r := range ratios {
			total += r
		}
		type slot struct {
			pos float64
			op  int
		}
		slots := make([]slot, 0, total)
		for i, r := range ratios {
			for k := range r {
				slots = append(slots, slot{pos: float64(k) * float64(total) / float64(r), op: i})
			}
		}
		sort.SliceStable(slots, func(a, b int) bool { return slots[a].pos < slots[b].pos })
		for _, s := range slots {
			out = append(out, s.op)
		}
	default:
		remaining := append([]int(nil), ratios...)
		for {
			added := false
			for i := range remaining {
				if remaining[i] > 0 {
					out = append(out, i)
					remaining[i]--
					added = true
				}
			}
			if !added {
				break
			}
		}
	}
	return out
}
