// Package observe provides the observability primitives of voxbridge:
// OpenTelemetry metrics and tracing, call-scoped structured logging and the
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// for Prometheus scraping via [InitProvider]. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxbridge metrics.
const meterName = "github.com/MrWong99/voxbridge"

// Outcomes of a transform call, used as the "outcome" attribute.
const (
	OutcomeTransformed = "transformed"
	OutcomePassThrough = "passthrough"
	OutcomeSkipped     = "skipped"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// StageDuration tracks per-chunk latency of each pipeline stage. Use
	// with attribute.String("stage", ...).
	StageDuration metric.Float64Histogram

	// TransformDuration tracks voice backend call latency by outcome.
	TransformDuration metric.Float64Histogram

	// TransformRequests counts gateway calls by outcome.
	TransformRequests metric.Int64Counter

	// TransformFailures counts pass-through fallbacks by reason.
	TransformFailures metric.Int64Counter

	// ChunksForwarded counts chunks delivered to the telephony side.
	ChunksForwarded metric.Int64Counter

	// ChunksDropped counts chunks discarded by reason.
	ChunksDropped metric.Int64Counter

	// QueueDepth samples a session's queue depth at every enqueue.
	QueueDepth metric.Int64Histogram

	// AudioProcessed accumulates the seconds of audio sent through the
	// gateway.
	AudioProcessed metric.Float64Counter

	// ActiveSessions tracks the number of registered call sessions.
	ActiveSessions metric.Int64UpDownCounter

	// CallerActivity counts caller speech start/stop transitions.
	CallerActivity metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes by backend
	// and target state.
	BreakerTransitions metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for the
// sub-second stages of the audio pipeline.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 1, 2.5,
}

var queueBuckets = []float64{0, 1, 2, 4, 8, 16, 32, 64}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("voxbridge.pipeline.stage.duration",
		metric.WithDescription("Per-chunk latency of each pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TransformDuration, err = m.Float64Histogram("voxbridge.transform.duration",
		metric.WithDescription("Latency of voice backend calls by outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TransformRequests, err = m.Int64Counter("voxbridge.transform.requests",
		metric.WithDescription("Total gateway transform calls by outcome."),
	); err != nil {
		return nil, err
	}
	if met.TransformFailures, err = m.Int64Counter("voxbridge.transform.failures",
		metric.WithDescription("Transform calls that fell back to pass-through, by reason."),
	); err != nil {
		return nil, err
	}
	if met.ChunksForwarded, err = m.Int64Counter("voxbridge.chunks.forwarded",
		metric.WithDescription("Audio chunks delivered to the telephony side."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("voxbridge.chunks.dropped",
		metric.WithDescription("Audio chunks discarded, by reason."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64Histogram("voxbridge.session.queue_depth",
		metric.WithDescription("Session queue depth observed at enqueue."),
		metric.WithExplicitBucketBoundaries(queueBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AudioProcessed, err = m.Float64Counter("voxbridge.audio.processed",
		metric.WithDescription("Seconds of audio sent through the transform gateway."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxbridge.active_sessions",
		metric.WithDescription("Number of registered call sessions."),
	); err != nil {
		return nil, err
	}
	if met.CallerActivity, err = m.Int64Counter("voxbridge.caller.activity",
		metric.WithDescription("Caller speech transitions detected on telephony audio."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("voxbridge.breaker.transitions",
		metric.WithDescription("Voice backend circuit breaker state changes."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxbridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records the duration of one pipeline stage for one chunk.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("stage", stage)))
}

// RecordTransform records a finished gateway call. reason is empty unless
// the outcome is [OutcomePassThrough].
func (m *Metrics) RecordTransform(ctx context.Context, outcome, reason string, d time.Duration) {
	m.TransformRequests.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
	if outcome != OutcomeSkipped {
		m.TransformDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("outcome", outcome)))
	}
	if reason != "" {
		m.TransformFailures.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
	}
}

// RecordDrop records a discarded chunk.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.ChunksDropped.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordCallerActivity records a caller speech transition ("start" or "stop").
func (m *Metrics) RecordCallerActivity(ctx context.Context, transition string) {
	m.CallerActivity.Add(ctx, 1, metric.WithAttributes(Attr("transition", transition)))
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, backend, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		Attr("backend", backend),
		Attr("state", to),
	))
}
