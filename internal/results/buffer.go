// Package results keeps a compact run-length log of cycle result codes.
//
// Each run is stored as a 17-byte big-endian record: the first cycle of
// the run, the cycle after its last, and the result code as a signed
// byte. A Buffer is not safe for concurrent use; give each worker its own
// and Merge them afterwards.
package results

import (
	"encoding/binary"
	"iter"
	"math"

	"github.com/pkg/errors"
)

// RecordSize is the encoded size of one run.
const RecordSize = 17

var (
	// ErrResultRange is returned for result codes outside a signed byte.
	ErrResultRange = errors.New("result code does not fit a signed byte")
	// ErrNegativeCycle is returned for cycles below zero.
	ErrNegativeCycle = errors.New("cycle must be non-negative")
	// ErrCycleOverflow is returned for MaxInt64, whose run end would wrap.
	ErrCycleOverflow = errors.New("cycle must be below MaxInt64")
	// ErrClosed is returned when appending to a finalized buffer.
	ErrClosed = errors.New("result buffer is closed")
)

// Filter decides whether a result code is kept. Returning false drops it.
type Filter func(result int) bool

// ExcludeCodes returns a filter dropping the given codes.
func ExcludeCodes(codes ...int) Filter {
	drop := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		drop[c] = struct{}{}
	}
	return func(result int) bool {
		_, ok := drop[result]
		return !ok
	}
}

// Record is one run of equal results over [Min, NextMin).
type Record struct {
	Min     int64
	NextMin int64
	Result  int
}

// Len returns the number of cycles in the run.
func (r Record) Len() int64 { return r.NextMin - r.Min }

// Pairs yields each (cycle, result) of the run.
func (r Record) Pairs() iter.Seq2[int64, int] {
	return func(yield func(int64, int) bool) {
		for c := r.Min; c < r.NextMin; c++ {
			if !yield(c, r.Result) {
				return
			}
		}
	}
}

func (r Record) encode(dst []byte) {
	binary.BigEndian.PutUint64(dst[0:8], uint64(r.Min))
	binary.BigEndian.PutUint64(dst[8:16], uint64(r.NextMin))
	dst[16] = byte(int8(r.Result))
}

func decodeRecord(src []byte) Record {
	return Record{
		Min:     int64(binary.BigEndian.Uint64(src[0:8])),
		NextMin: int64(binary.BigEndian.Uint64(src[8:16])),
		Result:  int(int8(src[16])),
	}
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithFilter suppresses results the filter rejects.
func WithFilter(f Filter) Option {
	return func(b *Buffer) { b.filter = f }
}

// Buffer accumulates runs of (cycle, result) pairs.
type Buffer struct {
	data   []byte
	filter Filter

	open       bool
	runStart   int64
	lastCycle  int64
	lastResult int
	closed     bool
}

// NewBuffer returns a buffer with room for capacity records before it has
// to grow.
func NewBuffer(capacity int, opts ...Option) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	b := &Buffer{data: make([]byte, 0, capacity*RecordSize)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Append records the result of one cycle.
func (b *Buffer) Append(cycle int64, result int) error {
	if b.closed {
		return ErrClosed
	}
	if cycle < 0 {
		return errors.Wrapf(ErrNegativeCycle, "cycle %d", cycle)
	}
	if cycle == math.MaxInt64 {
		return errors.Wrapf(ErrCycleOverflow, "cycle %d", cycle)
	}
	if result < math.MinInt8 || result > math.MaxInt8 {
		return errors.Wrapf(ErrResultRange, "cycle %d result %d", cycle, result)
	}
	if b.filter != nil && !b.filter(result) {
		return nil
	}

	if b.open && cycle == b.lastCycle+1 && result == b.lastResult {
		b.lastCycle = cycle
		return nil
	}
	b.checkpoint()
	b.open = true
	b.runStart = cycle
	b.lastCycle = cycle
	b.lastResult = result
	return nil
}

func (b *Buffer) checkpoint() {
	if !b.open {
		return
	}
	b.appendRecord(Record{Min: b.runStart, NextMin: b.lastCycle + 1, Result: b.lastResult})
	b.open = false
}

func (b *Buffer) appendRecord(r Record) {
	if len(b.data)+RecordSize > cap(b.data) {
		grown := make([]byte, len(b.data), max(2*cap(b.data), RecordSize))
		copy(grown, b.data)
		b.data = grown
	}
	n := len(b.data)
	b.data = b.data[:n+RecordSize]
	r.encode(b.data[n:])
}

// Close flushes the open run. Further appends fail with ErrClosed.
func (b *Buffer) Close() error {
	if !b.closed {
		b.checkpoint()
		b.closed = true
	}
	return nil
}

// Closed reports whether the buffer was finalized.
func (b *Buffer) Closed() bool { return b.closed }

// Bytes finalizes the buffer and returns its encoded records.
func (b *Buffer) Bytes() []byte {
	_ = b.Close()
	return b.data
}

// Len is the number of flushed records. The open run is not counted
// until the buffer is closed.
func (b *Buffer) Len() int { return len(b.data) / RecordSize }

// Cap is the number of records the buffer holds before growing.
func (b *Buffer) Cap() int { return cap(b.data) / RecordSize }

// Reader finalizes the buffer and returns an iterator over its records.
func (b *Buffer) Reader(filter Filter) *Reader {
	return newBytesReader(b.Bytes(), filter)
}

// Records finalizes the buffer and returns all of its records.
func (b *Buffer) Records() []Record {
	out := make([]Record, 0, b.Len())
	r := b.Reader(nil)
	for r.Next() {
		out = append(out, r.Record())
	}
	return out
}
