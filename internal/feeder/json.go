package feeder

import (
	"os"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// JSONFeeder serves the objects of a JSON array. Values are kept in their
// raw JSON text form, except strings which are unquoted.
type JSONFeeder struct {
	*table
}

// NewJSONFeeder creates a new JSON feeder from the given file path.
func NewJSONFeeder(path string) (*JSONFeeder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "open JSON file")
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.Errorf("%s is not valid JSON", path)
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, errors.Errorf("%s must contain a JSON array of objects", path)
	}

	var (
		records []Record
		bad     error
	)
	root.ForEach(func(_, value gjson.Result) bool {
		idx := len(records)
		if !value.IsObject() {
			bad = errors.Errorf("record %d is not an object", idx)
			return false
		}
		record := make(Record)
		value.ForEach(func(key, field gjson.Result) bool {
			record[key.String()] = field.String()
			return true
		})
		if len(record) == 0 {
			bad = errors.Errorf("record %d is empty", idx)
			return false
		}
		records = append(records, record)
		return true
	})
	if bad != nil {
		return nil, bad
	}

	t, err := newTable(records)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return &JSONFeeder{table: t}, nil
}
