// Package observe provides application-wide observability primitives for
// samwise: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all samwise metrics.
const meterName = "github.com/chandeldivyam/samwise"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Capture ---

	// CapturedPackets counts packets accepted into a capture queue. Use with
	// attribute.String("direction", ...).
	CapturedPackets metric.Int64Counter

	// DroppedPackets counts packets dropped because a capture queue was full.
	// Use with attribute.String("direction", ...).
	DroppedPackets metric.Int64Counter

	// StreamRebuilds counts device stream rebuilds by the health monitor. Use
	// with attributes:
	//   attribute.String("direction", ...), attribute.String("reason", ...)
	StreamRebuilds metric.Int64Counter

	// --- Segments and post-processing ---

	// SegmentFlushes counts segment writer flushes. Use with attributes:
	//   attribute.String("direction", ...), attribute.String("status", ...)
	SegmentFlushes metric.Int64Counter

	// SegmentFlushDuration tracks how long a segment flush takes.
	SegmentFlushDuration metric.Float64Histogram

	// PostProcessDuration tracks merge + superimpose + encode time per
	// recording. Use with attribute.String("status", ...).
	PostProcessDuration metric.Float64Histogram

	// --- Providers ---

	// ProviderRequests counts transcription/text-generation calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ProviderDuration tracks provider call latency. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderDuration metric.Float64Histogram

	// --- Gauges ---

	// ActiveRecordings tracks the number of live capture sessions.
	ActiveRecordings metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequests counts served API requests by method, route and status
	// class ("2xx", "4xx", ...).
	HTTPRequests metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for file
// flushes and remote provider calls.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// processingBuckets covers post-processing and transcription, which scale
// with recording length.
var processingBuckets = []float64{
	0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Capture counters.
	if met.CapturedPackets, err = m.Int64Counter("samwise.capture.packets",
		metric.WithDescription("Total captured audio packets by direction."),
	); err != nil {
		return nil, err
	}
	if met.DroppedPackets, err = m.Int64Counter("samwise.capture.dropped_packets",
		metric.WithDescription("Total audio packets dropped on a full capture queue by direction."),
	); err != nil {
		return nil, err
	}
	if met.StreamRebuilds, err = m.Int64Counter("samwise.capture.stream_rebuilds",
		metric.WithDescription("Total device stream rebuilds by direction and reason."),
	); err != nil {
		return nil, err
	}

	// Segments.
	if met.SegmentFlushes, err = m.Int64Counter("samwise.segment.flushes",
		metric.WithDescription("Total segment flushes by direction and status."),
	); err != nil {
		return nil, err
	}
	if met.SegmentFlushDuration, err = m.Float64Histogram("samwise.segment.flush.duration",
		metric.WithDescription("Latency of writing one segment file."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PostProcessDuration, err = m.Float64Histogram("samwise.postprocess.duration",
		metric.WithDescription("Latency of merging, mixing and encoding one recording."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(processingBuckets...),
	); err != nil {
		return nil, err
	}

	// Providers.
	if met.ProviderRequests, err = m.Int64Counter("samwise.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("samwise.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ProviderDuration, err = m.Float64Histogram("samwise.provider.duration",
		metric.WithDescription("Latency of transcription and text generation calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(processingBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRecordings, err = m.Int64UpDownCounter("samwise.active_recordings",
		metric.WithDescription("Number of live capture sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware.
	if met.HTTPRequests, err = m.Int64Counter("samwise.http.requests",
		metric.WithDescription("HTTP requests by method, route and status class."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("samwise.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordSegmentFlush records one segment flush with its outcome and latency.
func (m *Metrics) RecordSegmentFlush(ctx context.Context, direction, status string, seconds float64) {
	m.SegmentFlushes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("direction", direction),
			attribute.String("status", status),
		),
	)
	m.SegmentFlushDuration.Record(ctx, seconds)
}

// RecordStreamRebuild records a health-monitor stream rebuild.
func (m *Metrics) RecordStreamRebuild(ctx context.Context, direction, reason string) {
	m.StreamRebuilds.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("direction", direction),
			attribute.String("reason", reason),
		),
	)
}

// RecordQueueStats records packets accepted into and dropped from a capture
// queue since the previous report. Zero counts are skipped.
func (m *Metrics) RecordQueueStats(ctx context.Context, direction string, captured, dropped int64) {
	attrs := metric.WithAttributes(attribute.String("direction", direction))
	if captured > 0 {
		m.CapturedPackets.Add(ctx, captured, attrs)
	}
	if dropped > 0 {
		m.DroppedPackets.Add(ctx, dropped, attrs)
	}
}

// RecordPostProcess records one post-processing run with its outcome.
func (m *Metrics) RecordPostProcess(ctx context.Context, status string, seconds float64) {
	m.PostProcessDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordProviderCall records a finished transcription or text-generation
// call: the request counter, the error counter on failure and the latency.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, kind string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, kind)
	}
	m.RecordProviderRequest(ctx, provider, kind, status)
	m.ProviderDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
