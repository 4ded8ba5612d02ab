// Package observe provides application-wide observability primitives for
// radiogate: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all radiogate metrics.
const meterName = "github.com/MrWong99/radiogate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Routing ---

	// Confidence records every accepted classifier confidence value.
	Confidence metric.Float64Histogram

	// InvalidSamples counts classifier results that were dropped.
	InvalidSamples metric.Int64Counter

	// ModeTransitions counts mode changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...), attribute.String("reason", ...)
	ModeTransitions metric.Int64Counter

	// SecondaryActive is 1 while the substitute channel is routed, 0 otherwise.
	SecondaryActive metric.Int64UpDownCounter

	// --- Crossfade ---

	// FadeDuration tracks how long completed fades took. Use with attributes:
	//   attribute.String("channel", ...), attribute.String("direction", ...)
	FadeDuration metric.Float64Histogram

	// --- Error counters ---

	// PlaybackBlocked counts play requests refused by the player.
	PlaybackBlocked metric.Int64Counter

	// TransportErrors counts failed transport commands. Use with attributes:
	//   attribute.String("op", ...), attribute.String("channel", ...)
	TransportErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// confidenceBuckets splits [0, 1] so that both default thresholds fall on a
// bucket boundary.
var confidenceBuckets = []float64{
	0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1,
}

// fadeBuckets defines histogram bucket boundaries (in seconds) for full
// fades at typical step settings.
var fadeBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.Confidence, err = m.Float64Histogram("radiogate.confidence",
		metric.WithDescription("Classifier confidence of accepted samples."),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(confidenceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FadeDuration, err = m.Float64Histogram("radiogate.fade.duration",
		metric.WithDescription("Duration of completed volume fades."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(fadeBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.InvalidSamples, err = m.Int64Counter("radiogate.samples.invalid",
		metric.WithDescription("Total classifier results dropped as invalid."),
	); err != nil {
		return nil, err
	}
	if met.ModeTransitions, err = m.Int64Counter("radiogate.mode.transitions",
		metric.WithDescription("Total routing mode transitions by source mode, target mode, and reason."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.PlaybackBlocked, err = m.Int64Counter("radiogate.playback.blocked",
		metric.WithDescription("Total play requests refused by the player."),
	); err != nil {
		return nil, err
	}
	if met.TransportErrors, err = m.Int64Counter("radiogate.transport.errors",
		metric.WithDescription("Total failed transport commands by operation and channel."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.SecondaryActive, err = m.Int64UpDownCounter("radiogate.mode.secondary",
		metric.WithDescription("1 while the substitute channel is routed."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("radiogate.http.request.duration",
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

// RecordConfidence records one accepted confidence value.
func (m *Metrics) RecordConfidence(ctx context.Context, value float64) {
	m.Confidence.Record(ctx, value)
}

// RecordInvalidSample increments the dropped-sample counter.
func (m *Metrics) RecordInvalidSample(ctx context.Context) {
	m.InvalidSamples.Add(ctx, 1)
}

// RecordTransition records a mode change and keeps the SecondaryActive gauge
// in step with it.
func (m *Metrics) RecordTransition(ctx context.Context, from, to, reason string) {
	m.ModeTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
			attribute.String("reason", reason),
		),
	)
	switch {
	case to == "secondary" && from != "secondary":
		m.SecondaryActive.Add(ctx, 1)
	case from == "secondary" && to != "secondary":
		m.SecondaryActive.Add(ctx, -1)
	}
}

// RecordFade records the duration of a completed fade.
func (m *Metrics) RecordFade(ctx context.Context, channel, direction string, d time.Duration) {
	m.FadeDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("channel", channel),
			attribute.String("direction", direction),
		),
	)
}

// RecordPlaybackBlocked increments the refused-play counter.
func (m *Metrics) RecordPlaybackBlocked(ctx context.Context, channel string) {
	m.PlaybackBlocked.Add(ctx, 1,
		metric.WithAttributes(attribute.String("channel", channel)),
	)
}

// RecordTransportError increments the transport error counter.
func (m *Metrics) RecordTransportError(ctx context.Context, op, channel string) {
	m.TransportErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("channel", channel),
		),
	)
}
