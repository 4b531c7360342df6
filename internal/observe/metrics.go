// Package observe provides application-wide observability primitives for the
// Zeni voice client: OpenTelemetry metrics and the Prometheus exporter
// bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Zeni metrics.
const meterName = "github.com/shankarsingh077/Zeni"

// Metrics holds all OpenTelemetry metric instruments for the client. All
// fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// ConnectDuration tracks how long the dial + session handshake takes.
	ConnectDuration metric.Float64Histogram

	// FirstAudioLatency tracks the delay between speech_finished being sent
	// and the first synthesized audio chunk arriving.
	FirstAudioLatency metric.Float64Histogram

	// AudioFramesSent counts outbound binary microphone frames.
	AudioFramesSent metric.Int64Counter

	// AudioChunksReceived counts inbound synthesized audio chunks.
	AudioChunksReceived metric.Int64Counter

	// EventsReceived counts inbound events. Use with attribute:
	//   attribute.String("kind", ...)
	EventsReceived metric.Int64Counter

	// DecodeFailures counts malformed inbound messages that were dropped.
	DecodeFailures metric.Int64Counter

	// Reconnects counts automatic reconnection attempts.
	Reconnects metric.Int64Counter

	// Interrupts counts barge-in interrupts sent to the server.
	Interrupts metric.Int64Counter

	// ActiveSessions tracks the number of live protocol sessions (0 or 1 per
	// client instance).
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for sub-second voice latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ConnectDuration, err = m.Float64Histogram("zeni.connect.duration",
		metric.WithDescription("Latency of socket dial plus session handshake."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FirstAudioLatency, err = m.Float64Histogram("zeni.response.first_audio",
		metric.WithDescription("Delay from speech_finished to the first synthesized audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.AudioFramesSent, err = m.Int64Counter("zeni.audio.frames_sent",
		metric.WithDescription("Outbound binary microphone frames."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunksReceived, err = m.Int64Counter("zeni.audio.chunks_received",
		metric.WithDescription("Inbound synthesized audio chunks."),
	); err != nil {
		return nil, err
	}
	if met.EventsReceived, err = m.Int64Counter("zeni.events.received",
		metric.WithDescription("Inbound events by kind."),
	); err != nil {
		return nil, err
	}
	if met.DecodeFailures, err = m.Int64Counter("zeni.events.decode_failures",
		metric.WithDescription("Malformed inbound messages dropped."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("zeni.connection.reconnects",
		metric.WithDescription("Automatic reconnection attempts."),
	); err != nil {
		return nil, err
	}
	if met.Interrupts, err = m.Int64Counter("zeni.session.interrupts",
		metric.WithDescription("Barge-in interrupts sent."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("zeni.active_sessions",
		metric.WithDescription("Number of live protocol sessions."),
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
			panic("observe: default metrics init: " + err.Error())
		}
	})
	return defaultMetrics
}
