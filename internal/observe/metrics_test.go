package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches collected metrics by instrument name.
func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestMetrics_ResultCounter(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordResult(ctx, "ok")
	m.RecordResult(ctx, "ok")
	m.RecordResult(ctx, "dropped")

	rm := collect(t, reader)
	got, ok := findMetric(rm, "earshot.results")
	if !ok {
		t.Fatal("earshot.results not collected")
	}
	sum, ok := got.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", got.Data)
	}

	byStatus := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key("status")); ok {
			byStatus[v.AsString()] = dp.Value
		}
	}
	if byStatus["ok"] != 2 || byStatus["dropped"] != 1 {
		t.Errorf("results by status = %v, want ok=2 dropped=1", byStatus)
	}
}

func TestMetrics_TranscribeHistogram(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.TranscribeDuration.Record(ctx, 0.4)
	m.TranscribeDuration.Record(ctx, 1.2)

	rm := collect(t, reader)
	got, ok := findMetric(rm, "earshot.transcribe.duration")
	if !ok {
		t.Fatal("earshot.transcribe.duration not collected")
	}
	hist, ok := got.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", got.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 {
		t.Errorf("histogram datapoints = %+v, want one with count 2", hist.DataPoints)
	}
}

func TestMetrics_QueueDepthUpDown(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.QueueDepth.Add(ctx, 3, metric.WithAttributes())
	m.QueueDepth.Add(ctx, -1)

	rm := collect(t, reader)
	got, ok := findMetric(rm, "earshot.scheduler.queue_depth")
	if !ok {
		t.Fatal("earshot.scheduler.queue_depth not collected")
	}
	sum, ok := got.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", got.Data)
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 2 {
		t.Errorf("queue depth = %+v, want 2", sum.DataPoints)
	}
}
