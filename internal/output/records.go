package output

import (
	"fmt"
	"io"
	"sort"

	"github.com/torosent/cyclebench/internal/results"
)

// PrintRecords writes decoded result log runs as a table.
func PrintRecords(w io.Writer, records []results.Record) {
	t := newTable(w)
	t.AddHeader("MIN", "NEXT", "CYCLES", "RESULT")
	var total int64
	for _, r := range records {
		t.AddLine(r.Min, r.NextMin, r.Len(), r.Result)
		total += r.Len()
	}
	t.Print()
	fmt.Fprintf(w, "%d runs covering %d cycles\n", len(records), total)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
