// Package observe provides application-wide observability primitives for GPT
// Speaker: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all GPT Speaker metrics.
const meterName = "github.com/lugia19/GPT-Speaker"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// DialogDuration tracks end-to-end handling of one dialogue request,
	// from raw text to the last enqueued line.
	DialogDuration metric.Float64Histogram

	// ExtractionDuration tracks the LLM dialogue extraction call.
	ExtractionDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis of one line.
	TTSDuration metric.Float64Histogram

	// PlaybackDuration tracks how long one clip occupied the speaker.
	PlaybackDuration metric.Float64Histogram

	// --- Counters ---

	// DialogRequests counts dialogue requests. Use with attribute:
	//   attribute.String("status", ...)
	DialogRequests metric.Int64Counter

	// DialogLines counts extracted lines. Use with attribute:
	//   attribute.String("outcome", ...) (enqueued, silent, unresolved, dropped)
	DialogLines metric.Int64Counter

	// Resolutions counts speaker resolutions. Use with attribute:
	//   attribute.String("result", ...) (cached, fetched, no_voice, miss, fetch_error)
	Resolutions metric.Int64Counter

	// PlayoutJobs counts finished synthesis jobs. Use with attribute:
	//   attribute.String("status", ...) (played, failed, discarded)
	PlayoutJobs metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks jobs waiting in the synthesis queue.
	QueueDepth metric.Int64UpDownCounter

	// TranscriptSubscribers tracks connected transcript display surfaces.
	TranscriptSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// extraction and synthesis latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.DialogDuration, "gptspeaker.dialog.duration", "Latency of handling one dialogue request."},
		{&met.ExtractionDuration, "gptspeaker.extraction.duration", "Latency of LLM dialogue extraction."},
		{&met.TTSDuration, "gptspeaker.tts.duration", "Latency of text-to-speech synthesis of one line."},
		{&met.PlaybackDuration, "gptspeaker.playback.duration", "Time one clip occupied the audio output."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	// Counters.
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.DialogRequests, "gptspeaker.dialog.requests", "Total dialogue requests by status."},
		{&met.DialogLines, "gptspeaker.dialog.lines", "Total extracted dialogue lines by outcome."},
		{&met.Resolutions, "gptspeaker.resolve.total", "Total speaker resolutions by result."},
		{&met.PlayoutJobs, "gptspeaker.playout.jobs", "Total synthesis jobs by final status."},
		{&met.ProviderRequests, "gptspeaker.provider.requests", "Total provider API requests by provider, kind, and status."},
		{&met.ProviderErrors, "gptspeaker.provider.errors", "Total provider errors by provider and kind."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("gptspeaker.playout.queue_depth",
		metric.WithDescription("Number of synthesis jobs waiting to be played."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptSubscribers, err = m.Int64UpDownCounter("gptspeaker.transcript.subscribers",
		metric.WithDescription("Number of connected transcript subscribers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("gptspeaker.http.request.duration",
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

// RecordDialogRequest records one finished dialogue request.
func (m *Metrics) RecordDialogRequest(ctx context.Context, status string) {
	m.DialogRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordDialogLine records the outcome of one extracted line.
func (m *Metrics) RecordDialogLine(ctx context.Context, outcome string) {
	m.DialogLines.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordResolution records one speaker resolution.
func (m *Metrics) RecordResolution(ctx context.Context, result string) {
	m.Resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordPlayoutJob records one synthesis job leaving the queue.
func (m *Metrics) RecordPlayoutJob(ctx context.Context, status string) {
	m.PlayoutJobs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
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
