// Package observe provides application-wide observability primitives for
// Voxlead: OpenTelemetry metrics, request tracing, and HTTP middleware that
// ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all Voxlead metrics.
const meterName = "github.com/voxlead-ai/voxlead"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ProviderSendDuration tracks the latency of provider send operations.
	// Use with attribute: attribute.String("op", "audio"|"text")
	ProviderSendDuration metric.Float64Histogram

	// AudioFlushDuration tracks the wall time between buffer flushes per
	// client stream.
	AudioFlushDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// ConversationsStarted counts conversation starts.
	ConversationsStarted metric.Int64Counter

	// MessagesAppended counts messages appended to conversation history.
	// Use with attribute: attribute.String("role", ...)
	MessagesAppended metric.Int64Counter

	// LeadsEmitted counts lead snapshot emissions. Use with attribute:
	//   attribute.Bool("complete", ...)
	LeadsEmitted metric.Int64Counter

	// AudioChunks counts audio chunks accepted into the pipeline.
	AudioChunks metric.Int64Counter

	// ReconnectAttempts counts automatic provider reconnect attempts.
	ReconnectAttempts metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attribute:
	//   attribute.String("context", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of connected transport clients.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveConversations tracks the number of currently active conversations.
	ActiveConversations metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ProviderSendDuration, err = m.Float64Histogram("voxlead.provider.send.duration",
		metric.WithDescription("Latency of provider send operations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AudioFlushDuration, err = m.Float64Histogram("voxlead.audio.flush.duration",
		metric.WithDescription("Wall time between audio buffer flushes."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxlead.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ConversationsStarted, err = m.Int64Counter("voxlead.conversations.started",
		metric.WithDescription("Total conversations started."),
	); err != nil {
		return nil, err
	}
	if met.MessagesAppended, err = m.Int64Counter("voxlead.messages.appended",
		metric.WithDescription("Total messages appended to conversation history, by role."),
	); err != nil {
		return nil, err
	}
	if met.LeadsEmitted, err = m.Int64Counter("voxlead.leads.emitted",
		metric.WithDescription("Total lead snapshot emissions, by completeness."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunks, err = m.Int64Counter("voxlead.audio.chunks",
		metric.WithDescription("Total audio chunks accepted into the pipeline."),
	); err != nil {
		return nil, err
	}
	if met.ReconnectAttempts, err = m.Int64Counter("voxlead.provider.reconnects",
		metric.WithDescription("Total automatic provider reconnect attempts."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("voxlead.provider.errors",
		metric.WithDescription("Total provider errors by context tag."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxlead.active_sessions",
		metric.WithDescription("Number of connected transport clients."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConversations, err = m.Int64UpDownCounter("voxlead.active_conversations",
		metric.WithDescription("Number of currently active conversations."),
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

// RecordMessage records one appended message with its role attribute.
func (m *Metrics) RecordMessage(ctx context.Context, role string) {
	m.MessagesAppended.Add(ctx, 1,
		metric.WithAttributes(attribute.String("role", role)),
	)
}

// RecordLead records one lead emission, tagged with whether the snapshot had
// all of name, email and phone populated.
func (m *Metrics) RecordLead(ctx context.Context, complete bool) {
	m.LeadsEmitted.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("complete", complete)),
	)
}

// RecordProviderError records one provider error with its context tag.
func (m *Metrics) RecordProviderError(ctx context.Context, contextTag string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("context", contextTag)),
	)
}

// RecordProviderSend records the latency of one provider send operation,
// tagged with the operation kind ("audio" or "text").
func (m *Metrics) RecordProviderSend(ctx context.Context, op string, elapsed time.Duration) {
	m.ProviderSendDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("op", op)),
	)
}

// RecordAudioFlush records the wall time elapsed since the previous buffer
// flush of the same stream.
func (m *Metrics) RecordAudioFlush(ctx context.Context, sincePrev time.Duration) {
	m.AudioFlushDuration.Record(ctx, sincePrev.Seconds())
}

// RecordConversationStart counts one conversation start and raises the
// active-conversation gauge.
func (m *Metrics) RecordConversationStart(ctx context.Context) {
	m.ConversationsStarted.Add(ctx, 1)
	m.ActiveConversations.Add(ctx, 1)
}

// RecordConversationEnd lowers the active-conversation gauge.
func (m *Metrics) RecordConversationEnd(ctx context.Context) {
	m.ActiveConversations.Add(ctx, -1)
}

// RecordReconnectAttempt counts one scheduled provider reconnect attempt.
func (m *Metrics) RecordReconnectAttempt(ctx context.Context) {
	m.ReconnectAttempts.Add(ctx, 1)
}
