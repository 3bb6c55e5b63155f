package metrics

import (
	"cmp"
	"slices"
)

// ResultBucket is the number of cycles of one op that ended with a
// result code.
type ResultBucket struct {
	Op    string `json:"op"`
	Code  int    `json:"code"`
	Count int    `json:"count"`
}

// resultBuckets lists every op/code pair, most frequent first. Ties sort
// by op name and then code. Callers hold c.mu.
func resultBuckets(ops map[string]*opCounters) []ResultBucket {
	var rows []ResultBucket
	for name, oc := range ops {
		for code, n := range oc.codes {
			rows = append(rows, ResultBucket{Op: name, Code: code, Count: int(n)})
		}
	}
	slices.SortFunc(rows, func(a, b ResultBucket) int {
		return cmp.Or(
			cmp.Compare(b.Count, a.Count),
			cmp.Compare(a.Op, b.Op),
			cmp.Compare(a.Code, b.Code),
		)
	})
	return rows
}
