package observe

import (
	"context"
	"errors"
	"testing"
	"time"

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

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

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

// sumWhere returns the value of the int64 sum data point whose attribute key
// equals value, or -1 if there is none.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
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
		if key == "" {
			return dp.Value
		}
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	return -1
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordSessionStart(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSessionStart(ctx, "adina", "ok", 300*time.Millisecond)
	m.RecordSessionStart(ctx, "adina", "ok", 500*time.Millisecond)
	m.RecordSessionStart(ctx, "adina", "error", 0)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "lumen.voice.session.starts", "status", "ok"); got != 2 {
		t.Errorf("ok starts = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "lumen.voice.session.starts", "status", "error"); got != 1 {
		t.Errorf("error starts = %d, want 1", got)
	}

	met := findMetric(rm, "lumen.voice.connect.duration")
	if met == nil {
		t.Fatal("connect duration not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("connect duration has no histogram data")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("connect samples = %d, want 2 (failures are not timed)", got)
	}
}

func TestSessionCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSessionEnd(ctx, "user")
	m.RecordSessionEnd(ctx, "remote")
	m.RecordSessionEnd(ctx, "user")
	m.RecordRoomEvent(ctx, "connected")
	m.RecordAgentDispatch(ctx, nil)
	m.RecordAgentDispatch(ctx, errors.New("boom"))
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	tests := []struct {
		name, key, value string
		want             int64
	}{
		{"lumen.voice.session.ends", "reason", "user", 2},
		{"lumen.voice.room.events", "event", "connected", 1},
		{"lumen.voice.agent.dispatches", "status", "error", 1},
		{"lumen.voice.active_sessions", "", "", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := sumWhere(t, rm, tc.name, tc.key, tc.value); got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestChunkerMetrics(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordChunk(ctx, 32000)
	m.RecordChunk(ctx, 16000)
	m.RecordChunkFailure(ctx, "read")
	m.ChunkTickDuration.Record(ctx, 0.02)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "lumen.chunker.chunks", "", ""); got != 2 {
		t.Errorf("chunks = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "lumen.chunker.bytes", "", ""); got != 48000 {
		t.Errorf("bytes = %d, want 48000", got)
	}
	if got := sumWhere(t, rm, "lumen.chunker.failures", "stage", "read"); got != 1 {
		t.Errorf("failures = %d, want 1", got)
	}
	if findMetric(rm, "lumen.chunker.tick.duration") == nil {
		t.Error("tick duration not recorded")
	}
}

func TestCredentialMetrics(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCredentialRequest(ctx, "token", nil)
	m.RecordCredentialRequest(ctx, "token", errors.New("x"))
	m.RecordBreakerTransition(ctx, "primary", "open")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "lumen.credential.requests", "status", "ok"); got != 1 {
		t.Errorf("ok requests = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "lumen.credential.breaker.transitions", "state", "open"); got != 1 {
		t.Errorf("transitions = %d, want 1", got)
	}
}

func TestStatus(t *testing.T) {
	if Status(nil) != "ok" || Status(errors.New("x")) != "error" {
		t.Error("unexpected status strings")
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
