// Package feeder loads tabular data sets that bindings read by cycle
// number.
package feeder

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Record represents a single row of data with named fields.
type Record map[string]string

// Feeder serves records indexed by cycle. Lookups wrap around the data
// set, so every cycle maps to a record and the same cycle always maps to
// the same one. Implementations are read-only after loading and safe for
// concurrent use.
type Feeder interface {
	// At returns the record for cycle.
	At(cycle int64) Record

	// Column returns a lookup of one field by cycle. It fails when no
	// record carries the field.
	Column(name string) (func(cycle int64) string, error)

	// Len returns the total number of records in the dataset.
	Len() int

	// Close releases any resources held by the feeder.
	Close() error
}

// ErrEmpty is returned when a data set has no records.
var ErrEmpty = errors.New("feeder data set is empty")

// Load opens path as a CSV or JSON feeder. An empty kind picks the format
// from the file extension.
func Load(path, kind string) (Feeder, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		kind = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	switch kind {
	case "csv":
		return NewCSVFeeder(path)
	case "json":
		return NewJSONFeeder(path)
	default:
		return nil, errors.Errorf("unsupported feeder type %q for %s", kind, path)
	}
}

// table is the in-memory form shared by the file-backed feeders.
type table struct {
	records []Record
	fields  map[string]struct{}
}

func newTable(records []Record) (*table, error) {
	if len(records) == 0 {
		return nil, ErrEmpty
	}
	fields := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec {
			fields[k] = struct{}{}
		}
	}
	return &table{records: records, fields: fields}, nil
}

func (t *table) index(cycle int64) int {
	n := int64(len(t.records))
	i := cycle % n
	if i < 0 {
		i += n
	}
	return int(i)
}

func (t *table) At(cycle int64) Record { return t.records[t.index(cycle)] }

func (t *table) Column(name string) (func(int64) string, error) {
	if _, ok := t.fields[name]; !ok {
		return nil, errors.Errorf("feeder has no field %q", name)
	}
	values := make([]string, len(t.records))
	for i, rec := range t.records {
		values[i] = rec[name]
	}
	return func(cycle int64) string { return values[t.index(cycle)] }, nil
}

func (t *table) Len() int { return len(t.records) }

func (t *table) Close() error { return nil }
