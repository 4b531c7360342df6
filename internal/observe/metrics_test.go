package observe

import (
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	t.Parallel()

	mp := sdkmetric.NewMeterProvider()
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if m.ConnectDuration == nil {
		t.Error("ConnectDuration is nil")
	}
	if m.FirstAudioLatency == nil {
		t.Error("FirstAudioLatency is nil")
	}
	if m.AudioFramesSent == nil {
		t.Error("AudioFramesSent is nil")
	}
	if m.AudioChunksReceived == nil {
		t.Error("AudioChunksReceived is nil")
	}
	if m.EventsReceived == nil {
		t.Error("EventsReceived is nil")
	}
	if m.DecodeFailures == nil {
		t.Error("DecodeFailures is nil")
	}
	if m.Reconnects == nil {
		t.Error("Reconnects is nil")
	}
	if m.Interrupts == nil {
		t.Error("Interrupts is nil")
	}
	if m.ActiveSessions == nil {
		t.Error("ActiveSessions is nil")
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	t.Parallel()
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
