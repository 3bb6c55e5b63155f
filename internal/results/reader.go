package results

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

// Reader walks encoded records front to back. It is not safe for
// concurrent use.
type Reader struct {
	src    *bufio.Reader
	data   []byte
	filter Filter
	cur    Record
	err    error
	buf    [RecordSize]byte
}

func newBytesReader(data []byte, filter Filter) *Reader {
	return &Reader{data: data, filter: filter}
}

// NewReader decodes records from r, such as a file written by WriteFile.
func NewReader(r io.Reader, filter Filter) *Reader {
	return &Reader{src: bufio.NewReader(r), filter: filter}
}

// Next advances to the next record the filter keeps.
func (r *Reader) Next() bool {
	for r.err == nil {
		rec, ok := r.read()
		if !ok {
			return false
		}
		if r.filter != nil && !r.filter(rec.Result) {
			continue
		}
		r.cur = rec
		return true
	}
	return false
}

func (r *Reader) read() (Record, bool) {
	if r.src == nil {
		if len(r.data) < RecordSize {
			if len(r.data) > 0 {
				r.err = errors.Errorf("trailing %d bytes do not form a record", len(r.data))
			}
			return Record{}, false
		}
		rec := decodeRecord(r.data[:RecordSize])
		r.data = r.data[RecordSize:]
		return rec, true
	}

	if _, err := io.ReadFull(r.src, r.buf[:]); err != nil {
		if err != io.EOF {
			r.err = errors.Wrap(err, "reading result record")
		}
		return Record{}, false
	}
	return decodeRecord(r.buf[:]), true
}

// Record returns the record Next stopped on.
func (r *Reader) Record() Record { return r.cur }

// Err returns the first decoding error.
func (r *Reader) Err() error { return r.err }
