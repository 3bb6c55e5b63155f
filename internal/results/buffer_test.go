package results_test

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/torosent/cyclebench/internal/results"
)

func TestRoundTripProducesTwoRuns(t *testing.T) {
	buf := results.NewBuffer(4)
	for c := int64(0); c < 10; c++ {
		if err := buf.Append(c, 0); err != nil {
			t.Fatalf("Append(%d) error = %v", c, err)
		}
	}
	for c := int64(10); c < 15; c++ {
		if err := buf.Append(c, 1); err != nil {
			t.Fatalf("Append(%d) error = %v", c, err)
		}
	}

	got := buf.Records()
	want := []results.Record{
		{Min: 0, NextMin: 10, Result: 0},
		{Min: 10, NextMin: 15, Result: 1},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("record %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if n := len(buf.Bytes()); n != 2*results.RecordSize {
		t.Fatalf("encoded size = %d, want %d", n, 2*results.RecordSize)
	}

	var next int64
	for _, rec := range got {
		for cycle, result := range rec.Pairs() {
			if cycle != next {
				t.Fatalf("pair cycle = %d, want %d", cycle, next)
			}
			wantResult := 0
			if cycle >= 10 {
				wantResult = 1
			}
			if result != wantResult {
				t.Fatalf("cycle %d result = %d, want %d", cycle, result, wantResult)
			}
			next++
		}
	}
	if next != 15 {
		t.Fatalf("iterated %d pairs, want 15", next)
	}
}

func TestGapStartsNewRun(t *testing.T) {
	buf := results.NewBuffer(1)
	_ = buf.Append(0, 5)
	_ = buf.Append(1, 5)
	_ = buf.Append(3, 5)
	got := buf.Records()
	if len(got) != 2 || got[0] != (results.Record{Min: 0, NextMin: 2, Result: 5}) || got[1] != (results.Record{Min: 3, NextMin: 4, Result: 5}) {
		t.Fatalf("unexpected records %+v", got)
	}
}

func TestBufferGrowsWithoutLosingRuns(t *testing.T) {
	buf := results.NewBuffer(1)
	for c := int64(0); c < 1000; c++ {
		if err := buf.Append(c, int(c%3)); err != nil {
			t.Fatalf("Append(%d) error = %v", c, err)
		}
	}
	got := buf.Records()
	if len(got) != 1000 {
		t.Fatalf("got %d records, want 1000", len(got))
	}
	if buf.Cap() < 1000 {
		t.Fatalf("capacity = %d, want >= 1000", buf.Cap())
	}
	for i, rec := range got {
		if rec.Min != int64(i) || rec.Len() != 1 || rec.Result != i%3 {
			t.Fatalf("record %d = %+v", i, rec)
		}
	}
}

func TestAppendValidation(t *testing.T) {
	buf := results.NewBuffer(2)
	if err := buf.Append(0, 128); !errors.Is(err, results.ErrResultRange) {
		t.Fatalf("Append(128) error = %v, want ErrResultRange", err)
	}
	if err := buf.Append(0, -129); !errors.Is(err, results.ErrResultRange) {
		t.Fatalf("Append(-129) error = %v, want ErrResultRange", err)
	}
	if err := buf.Append(-1, 0); !errors.Is(err, results.ErrNegativeCycle) {
		t.Fatalf("Append(-1) error = %v, want ErrNegativeCycle", err)
	}
	if err := buf.Append(math.MaxInt64, 0); !errors.Is(err, results.ErrCycleOverflow) {
		t.Fatalf("Append(MaxInt64) error = %v, want ErrCycleOverflow", err)
	}
	if err := buf.Append(0, -128); err != nil {
		t.Fatalf("Append(-128) error = %v", err)
	}
	_ = buf.Close()
	if err := buf.Append(1, 0); !errors.Is(err, results.ErrClosed) {
		t.Fatalf("Append after close error = %v, want ErrClosed", err)
	}
	if got := buf.Records(); len(got) != 1 || got[0].Result != -128 {
		t.Fatalf("records = %+v", got)
	}
}

func TestFilters(t *testing.T) {
	buf := results.NewBuffer(4, results.WithFilter(results.ExcludeCodes(0)))
	for c := int64(0); c < 6; c++ {
		code := 0
		if c == 2 || c == 3 {
			code = 7
		}
		_ = buf.Append(c, code)
	}
	got := buf.Records()
	if len(got) != 1 || got[0] != (results.Record{Min: 2, NextMin: 4, Result: 7}) {
		t.Fatalf("filtered records = %+v", got)
	}

	all := results.NewBuffer(4)
	_ = all.Append(0, 1)
	_ = all.Append(1, 2)
	_ = all.Append(2, 1)
	r := all.Reader(func(code int) bool { return code == 1 })
	count := 0
	for r.Next() {
		if r.Record().Result != 1 {
			t.Fatalf("reader filter leaked %+v", r.Record())
		}
		count++
	}
	if count != 2 || r.Err() != nil {
		t.Fatalf("count=%d err=%v", count, r.Err())
	}
}

func TestMergeCoalescesWorkerBuffers(t *testing.T) {
	a := results.NewBuffer(2)
	b := results.NewBuffer(2)
	for c := int64(0); c < 5; c++ {
		_ = a.Append(c, 0)
	}
	for c := int64(5); c < 10; c++ {
		_ = b.Append(c, 0)
	}
	for c := int64(10); c < 12; c++ {
		_ = a.Append(c, 3)
	}

	merged, err := results.Merge(b, a)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	got := merged.Records()
	want := []results.Record{{Min: 0, NextMin: 10, Result: 0}, {Min: 10, NextMin: 12, Result: 3}}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("merged = %+v, want %+v", got, want)
	}

	c := results.NewBuffer(1)
	d := results.NewBuffer(1)
	_ = c.Append(0, 0)
	_ = c.Append(1, 0)
	_ = d.Append(1, 0)
	if _, err := results.Merge(c, d); err == nil {
		t.Fatalf("expected overlap error")
	}
}

func TestWriteAndReadFile(t *testing.T) {
	buf := results.NewBuffer(2)
	for c := int64(100); c < 130; c++ {
		_ = buf.Append(c, int(c/10)%2)
	}
	path := filepath.Join(t.TempDir(), "results.rle")
	if err := results.WriteFile(context.Background(), path, buf); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	got, err := results.ReadFile(path, nil)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	want := buf.Records()
	if len(got) != 3 || len(got) != len(want) {
		t.Fatalf("read %d records, want 3 (%+v)", len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("record %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}
