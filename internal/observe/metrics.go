// Package observe provides application-wide observability primitives for
// Lumen: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped from /metrics. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with their own [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Lumen metrics.
const meterName = "github.com/lumen-devotional/lumen"

// Metrics holds all OpenTelemetry instruments for the application. The
// underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Voice sessions ---

	// ConnectDuration tracks the time from StartVoiceChat to a joined room.
	ConnectDuration metric.Float64Histogram

	// SessionStarts counts start attempts. Attributes: character, status.
	SessionStarts metric.Int64Counter

	// SessionEnds counts finished sessions. Attributes: reason.
	SessionEnds metric.Int64Counter

	// AgentDispatches counts agent dispatch requests. Attributes: status.
	AgentDispatches metric.Int64Counter

	// RoomEvents counts room events received by the controller.
	// Attributes: event.
	RoomEvents metric.Int64Counter

	// ActiveSessions tracks the number of connected voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Audio chunker ---

	// ChunksDelivered counts raw chunks handed to the sink.
	ChunksDelivered metric.Int64Counter

	// ChunkBytes counts raw PCM bytes handed to the sink.
	ChunkBytes metric.Int64Counter

	// ChunkFailures counts failed chunker ticks. Attributes: stage.
	ChunkFailures metric.Int64Counter

	// ChunkTickDuration tracks how long one finalize/extract/restart tick takes.
	ChunkTickDuration metric.Float64Histogram

	// --- Credential backend ---

	// CredentialRequests counts backend calls. Attributes: op, status.
	CredentialRequests metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes.
	// Attributes: backend, state.
	BreakerTransitions metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time.
	// Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for room joins
// and chunk ticks.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ConnectDuration, err = m.Float64Histogram("lumen.voice.connect.duration",
		metric.WithDescription("Time from session start to a joined room."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionStarts, err = m.Int64Counter("lumen.voice.session.starts",
		metric.WithDescription("Voice session start attempts by character and status."),
	); err != nil {
		return nil, err
	}
	if met.SessionEnds, err = m.Int64Counter("lumen.voice.session.ends",
		metric.WithDescription("Finished voice sessions by reason."),
	); err != nil {
		return nil, err
	}
	if met.AgentDispatches, err = m.Int64Counter("lumen.voice.agent.dispatches",
		metric.WithDescription("Agent dispatch requests by status."),
	); err != nil {
		return nil, err
	}
	if met.RoomEvents, err = m.Int64Counter("lumen.voice.room.events",
		metric.WithDescription("Room events received by event type."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("lumen.voice.active_sessions",
		metric.WithDescription("Number of connected voice sessions."),
	); err != nil {
		return nil, err
	}

	if met.ChunksDelivered, err = m.Int64Counter("lumen.chunker.chunks",
		metric.WithDescription("Raw audio chunks delivered to the sink."),
	); err != nil {
		return nil, err
	}
	if met.ChunkBytes, err = m.Int64Counter("lumen.chunker.bytes",
		metric.WithDescription("Raw PCM bytes delivered to the sink."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.ChunkFailures, err = m.Int64Counter("lumen.chunker.failures",
		metric.WithDescription("Failed chunker ticks by stage."),
	); err != nil {
		return nil, err
	}
	if met.ChunkTickDuration, err = m.Float64Histogram("lumen.chunker.tick.duration",
		metric.WithDescription("Duration of one chunk finalize/extract/restart tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.CredentialRequests, err = m.Int64Counter("lumen.credential.requests",
		metric.WithDescription("Credential backend requests by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("lumen.credential.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by backend and new state."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("lumen.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Panics if instrument creation fails
// (should not happen with the global provider).
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Status returns "ok" for a nil error and "error" otherwise.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordSessionStart records one start attempt and, on success, the connect
// latency.
func (m *Metrics) RecordSessionStart(ctx context.Context, character, status string, took time.Duration) {
	m.SessionStarts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("character", character),
		attribute.String("status", status),
	))
	if status == "ok" {
		m.ConnectDuration.Record(ctx, took.Seconds(),
			metric.WithAttributes(attribute.String("character", character)))
	}
}

// RecordSessionEnd records a finished session.
func (m *Metrics) RecordSessionEnd(ctx context.Context, reason string) {
	m.SessionEnds.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRoomEvent counts one room event.
func (m *Metrics) RecordRoomEvent(ctx context.Context, event string) {
	m.RoomEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordAgentDispatch counts one agent dispatch.
func (m *Metrics) RecordAgentDispatch(ctx context.Context, err error) {
	m.AgentDispatches.Add(ctx, 1, metric.WithAttributes(attribute.String("status", Status(err))))
}

// RecordChunk records one delivered chunk of n bytes.
func (m *Metrics) RecordChunk(ctx context.Context, n int) {
	m.ChunksDelivered.Add(ctx, 1)
	m.ChunkBytes.Add(ctx, int64(n))
}

// RecordChunkFailure counts one failed tick at stage (finalize, read,
// restart, cleanup).
func (m *Metrics) RecordChunkFailure(ctx context.Context, stage string) {
	m.ChunkFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordCredentialRequest counts one credential backend call.
func (m *Metrics) RecordCredentialRequest(ctx context.Context, op string, err error) {
	m.CredentialRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", Status(err)),
	))
}

// RecordBreakerTransition counts a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, backend, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("state", state),
	))
}
