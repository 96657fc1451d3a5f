package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
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

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// hasAttr reports whether set contains key=value.
func hasAttr(set attribute.Set, key, value string) bool {
	v, ok := set.Value(attribute.Key(key))
	return ok && v.AsString() == value
}

// sumFor returns the value of the int64 sum data point carrying key=value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" || hasAttr(dp.Attributes, key, value) {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordStage(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStage(ctx, "decode", 2*time.Millisecond)
	m.RecordStage(ctx, "decode", 3*time.Millisecond)
	m.RecordStage(ctx, "transform", 180*time.Millisecond)

	rm := collect(t, reader)
	met := findMetric(rm, "voxbridge.pipeline.stage.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		v, _ := dp.Attributes.Value("stage")
		counts[v.AsString()] = dp.Count
	}
	if counts["decode"] != 2 || counts["transform"] != 1 {
		t.Errorf("stage counts = %v", counts)
	}
}

func TestRecordTransform(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTransform(ctx, OutcomeTransformed, "", 120*time.Millisecond)
	m.RecordTransform(ctx, OutcomeTransformed, "", 90*time.Millisecond)
	m.RecordTransform(ctx, OutcomePassThrough, "backend_error", 30*time.Millisecond)
	m.RecordTransform(ctx, OutcomeSkipped, "", 0)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "voxbridge.transform.requests", "outcome", OutcomeTransformed); got != 2 {
		t.Errorf("transformed = %d, want 2", got)
	}
	if got := sumFor(t, rm, "voxbridge.transform.requests", "outcome", OutcomeSkipped); got != 1 {
		t.Errorf("skipped = %d, want 1", got)
	}
	if got := sumFor(t, rm, "voxbridge.transform.failures", "reason", "backend_error"); got != 1 {
		t.Errorf("failures = %d, want 1", got)
	}

	hist := findMetric(rm, "voxbridge.transform.duration").Data.(metricdata.Histogram[float64])
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 3 {
		t.Errorf("transform duration samples = %d, want 3 (skipped calls are not timed)", total)
	}
}

func TestRecordDrop(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDrop(ctx, "queue_overflow")
	m.RecordDrop(ctx, "queue_overflow")
	m.RecordDrop(ctx, "not_active")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "voxbridge.chunks.dropped", "reason", "queue_overflow"); got != 2 {
		t.Errorf("queue_overflow = %d, want 2", got)
	}
}

func TestCountersAndGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)
	m.ChunksForwarded.Add(ctx, 5)
	m.RecordCallerActivity(ctx, "start")
	m.RecordBreakerTransition(ctx, "elevenlabs", "open")

	rm := collect(t, reader)
	tests := []struct {
		name, key, value string
		want             int64
	}{
		{"voxbridge.active_sessions", "", "", 1},
		{"voxbridge.chunks.forwarded", "", "", 5},
		{"voxbridge.caller.activity", "transition", "start", 1},
		{"voxbridge.breaker.transitions", "backend", "elevenlabs", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := sumFor(t, rm, tc.name, tc.key, tc.value); got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestAudioProcessedAndQueueDepth(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.AudioProcessed.Add(ctx, 0.2)
	m.AudioProcessed.Add(ctx, 0.3)
	m.QueueDepth.Record(ctx, 3)

	rm := collect(t, reader)
	audio := findMetric(rm, "voxbridge.audio.processed").Data.(metricdata.Sum[float64])
	if got := audio.DataPoints[0].Value; got < 0.49 || got > 0.51 {
		t.Errorf("audio processed = %f, want 0.5", got)
	}
	depth := findMetric(rm, "voxbridge.session.queue_depth").Data.(metricdata.Histogram[int64])
	if got := depth.DataPoints[0].Count; got != 1 {
		t.Errorf("queue depth samples = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
