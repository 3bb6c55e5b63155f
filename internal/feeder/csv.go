package feeder

import (
	"encoding/csv"
	"os"

	"github.com/pkg/errors"
)

// CSVFeeder serves rows of a CSV file. The first row names the fields.
type CSVFeeder struct {
	*table
}

// NewCSVFeeder creates a new CSV feeder from the given file path.
func NewCSVFeeder(path string) (*CSVFeeder, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open CSV file")
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "read CSV")
	}
	if len(rows) < 2 {
		return nil, errors.Wrapf(ErrEmpty, "%s needs a header row and at least one data row", path)
	}

	header := rows[0]
	records := make([]Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != len(header) {
			return nil, errors.Errorf("row %d has %d fields, expected %d", i+2, len(row), len(header))
		}
		record := make(Record, len(header))
		for j, field := range header {
			record[field] = row[j]
		}
		records = append(records, record)
	}

	t, err := newTable(records)
	if err != nil {
		return nil, err
	}
	return &CSVFeeder{table: t}, nil
}
