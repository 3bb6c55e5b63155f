package results

import (
	"bytes"
	"context"
	"io"
	"os"
	"slices"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// Merge combines buffers written by different workers into one buffer
// ordered by cycle. Adjacent runs with the same result are coalesced.
// The inputs are finalized.
func Merge(bufs ...*Buffer) (*Buffer, error) {
	var all []Record
	for _, b := range bufs {
		if b == nil {
			continue
		}
		r := b.Reader(nil)
		for r.Next() {
			all = append(all, r.Record())
		}
		if err := r.Err(); err != nil {
			return nil, err
		}
	}
	slices.SortFunc(all, func(a, b Record) int {
		switch {
		case a.Min < b.Min:
			return -1
		case a.Min > b.Min:
			return 1
		default:
			return 0
		}
	})

	out := NewBuffer(max(len(all), 1))
	var prev Record
	have := false
	for _, rec := range all {
		if have && rec.Min < prev.NextMin {
			return nil, errors.Errorf("overlapping runs [%d,%d) and [%d,%d)", prev.Min, prev.NextMin, rec.Min, rec.NextMin)
		}
		if have && rec.Min == prev.NextMin && rec.Result == prev.Result {
			prev.NextMin = rec.NextMin
			continue
		}
		if have {
			out.appendRecord(prev)
		}
		prev, have = rec, true
	}
	if have {
		out.appendRecord(prev)
	}
	out.closed = true
	return out, nil
}

// WriteTo writes the finalized records to w.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	n, err := io.Copy(w, bytes.NewReader(b.Bytes()))
	return n, errors.Wrap(err, "writing result log")
}

// WriteFile dumps the buffer to path. An advisory lock on path+".lock"
// keeps concurrent runs from interleaving their dumps.
func WriteFile(ctx context.Context, path string, b *Buffer) error {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return errors.Wrapf(err, "locking %s", path)
	}
	if !locked {
		return errors.Errorf("could not lock %s", path)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	if _, err := b.WriteTo(f); err != nil {
		_ = f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "closing %s", path)
}

// ReadFile decodes every record stored in path.
func ReadFile(path string, filter Filter) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	var out []Record
	r := NewReader(f, filter)
	for r.Next() {
		out = append(out, r.Record())
	}
	return out, r.Err()
}
