package promexport

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestExporterRecordMethods(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewExporter("main", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewExporter() error = %v", err)
	}

	exporter.RecordOp("read", 2*time.Millisecond, 0, "")
	exporter.RecordOp("read", 3*time.Millisecond, 127, "Timeout")
	exporter.RecordOp("write", time.Millisecond, 0, "")
	exporter.RecordRetry()
	exporter.RecordWait(50 * time.Microsecond)

	if got := testutil.ToFloat64(exporter.opsTotal.WithLabelValues("main", "read", "success")); got != 1 {
		t.Fatalf("read successes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.opsTotal.WithLabelValues("main", "read", "error")); got != 1 {
		t.Fatalf("read errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.errorsTotal.WithLabelValues("main", "Timeout")); got != 1 {
		t.Fatalf("Timeout errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.resultCodes.WithLabelValues("main", "read", "127")); got != 1 {
		t.Fatalf("code 127 = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.retriesTotal.WithLabelValues("main")); got != 1 {
		t.Fatalf("retries = %v, want 1", got)
	}
	if n := histogramSampleCount(t, exporter.serviceSeconds.WithLabelValues("main", "read")); n != 2 {
		t.Fatalf("read service samples = %d, want 2", n)
	}
	if n := histogramSampleCount(t, exporter.waitSeconds.WithLabelValues("main")); n != 1 {
		t.Fatalf("wait samples = %d, want 1", n)
	}
}

func TestExporterAlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewExporter("main", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("first NewExporter() error = %v", err)
	}
	second, err := NewExporter("main", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("second NewExporter() error = %v", err)
	}

	first.RecordRetry()
	second.RecordRetry()

	if got := testutil.ToFloat64(first.retriesTotal.WithLabelValues("main")); got != 2 {
		t.Fatalf("shared retry counter = %v, want 2", got)
	}
}

func TestNilExporterIsSafe(t *testing.T) {
	var e *Exporter
	e.RecordOp("x", time.Millisecond, 0, "")
	e.RecordRetry()
	e.RecordWait(time.Millisecond)
}

func histogramSampleCount(t *testing.T, observer prom.Observer) uint64 {
	t.Helper()
	collector, ok := observer.(prom.Collector)
	if !ok {
		t.Fatalf("observer %T is not a collector", observer)
	}
	metricCh := make(chan prom.Metric, 1)
	collector.Collect(metricCh)
	close(metricCh)
	for metric := range metricCh {
		msg := &dto.Metric{}
		if err := metric.Write(msg); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		return msg.GetHistogram().GetSampleCount()
	}
	return 0
}
