// Package observe provides application-wide observability primitives for
// earshot: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all earshot metrics.
const meterName = "github.com/voxhollow/earshot"

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TranscribeDuration tracks engine transcription latency.
	TranscribeDuration metric.Float64Histogram

	// SegmentAudioDuration tracks closed segments' audio length.
	SegmentAudioDuration metric.Float64Histogram

	// EmissionLag tracks the delay between a segment closing and its
	// ordered emission, the end-to-end latency the matcher sees.
	EmissionLag metric.Float64Histogram

	// FramesIngested counts audio frames consumed from the source.
	FramesIngested metric.Int64Counter

	// Segments counts segment lifecycle outcomes. Use with attribute:
	//   attribute.String("state", "closed"|"discarded")
	Segments metric.Int64Counter

	// Results counts terminal transcription results. Use with attribute:
	//   attribute.String("status", "ok"|"timeout"|"failed"|"dropped")
	Results metric.Int64Counter

	// Matches counts matcher outcomes. Use with attribute:
	//   attribute.String("kind", "transcript"|"command"|"ambiguous"|"suppressed")
	Matches metric.Int64Counter

	// Dispatches counts command invocations. Use with attributes:
	//   attribute.String("command", ...), attribute.String("status", ...)
	Dispatches metric.Int64Counter

	// ForcedReleases counts ordering-buffer force releases past the reorder
	// deadline.
	ForcedReleases metric.Int64Counter

	// QueueDepth tracks segments admitted for transcription and not yet
	// emitted in order.
	QueueDepth metric.Int64UpDownCounter

	// HTTPRequestDuration tracks observability-endpoint request time. Use
	// with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// speech-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscribeDuration, err = m.Float64Histogram("earshot.transcribe.duration",
		metric.WithDescription("Latency of engine transcription calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentAudioDuration, err = m.Float64Histogram("earshot.segment.audio_duration",
		metric.WithDescription("Audio length of closed segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmissionLag, err = m.Float64Histogram("earshot.ordering.emission_lag",
		metric.WithDescription("Delay between segment close and ordered emission."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.FramesIngested, err = m.Int64Counter("earshot.frames.ingested",
		metric.WithDescription("Total audio frames consumed from the source."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("earshot.segments",
		metric.WithDescription("Segment lifecycle outcomes by state."),
	); err != nil {
		return nil, err
	}
	if met.Results, err = m.Int64Counter("earshot.results",
		metric.WithDescription("Terminal transcription results by status."),
	); err != nil {
		return nil, err
	}
	if met.Matches, err = m.Int64Counter("earshot.matches",
		metric.WithDescription("Matcher outcomes by kind."),
	); err != nil {
		return nil, err
	}
	if met.Dispatches, err = m.Int64Counter("earshot.dispatches",
		metric.WithDescription("Command invocations by command and status."),
	); err != nil {
		return nil, err
	}
	if met.ForcedReleases, err = m.Int64Counter("earshot.ordering.forced_releases",
		metric.WithDescription("Ordering-buffer force releases past the reorder deadline."),
	); err != nil {
		return nil, err
	}

	if met.QueueDepth, err = m.Int64UpDownCounter("earshot.scheduler.queue_depth",
		metric.WithDescription("Segments admitted for transcription and not yet emitted."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
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

// RecordSegment records a segment lifecycle outcome.
func (m *Metrics) RecordSegment(ctx context.Context, state string) {
	m.Segments.Add(ctx, 1,
		metric.WithAttributes(attribute.String("state", state)),
	)
}

// RecordResult records a terminal transcription result.
func (m *Metrics) RecordResult(ctx context.Context, status string) {
	m.Results.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordMatch records a matcher outcome.
func (m *Metrics) RecordMatch(ctx context.Context, kind string) {
	m.Matches.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordDispatch records a command invocation outcome.
func (m *Metrics) RecordDispatch(ctx context.Context, command, status string) {
	m.Dispatches.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("status", status),
		),
	)
}
