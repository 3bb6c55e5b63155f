// Package metrics aggregates per-cycle outcomes of an activity.
//
// The [Collector] records the service time, result code and error name of
// every cycle once its final attempt is done:
//
//	collector := metrics.NewCollector()
//	collector.Start()
//	collector.RecordOp("read", 3*time.Millisecond, 0, "")
//	stats := collector.Stats(elapsed)
//
// Service and admission wait times go to HDR histograms. [Stats] carries
// totals, latency percentiles, ops/s, error names, per-op summaries and
// result code buckets.
//
// The Collector is safe for concurrent use by every worker.
package metrics
