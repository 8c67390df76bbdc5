package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
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

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
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

// sumFor returns the value of the sum data point whose attributes contain
// every key/value in want.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name string, want ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want Sum[int64]", name, met.Data)
	}
	for _, dp := range sum.DataPoints {
		match := true
		for _, kv := range want {
			v, ok := dp.Attributes.Value(kv.Key)
			if !ok || v != kv.Value {
				match = false
				break
			}
		}
		if match {
			return dp.Value
		}
	}
	return 0
}

func histCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		return 0
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is %T, want Histogram[float64]", name, met.Data)
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	return n
}

func TestObserveCall(t *testing.T) {
	kind := func(v string) attribute.KeyValue { return attribute.String("kind", v) }
	status := func(v string) attribute.KeyValue { return attribute.String("status", v) }

	for _, k := range []string{"llm", "stt", "tts"} {
		t.Run(k, func(t *testing.T) {
			m, reader := newTestMetrics(t)
			ctx := context.Background()
			start := time.Now().Add(-200 * time.Millisecond)

			m.ObserveCall(ctx, k, "reply", start, nil)
			m.ObserveCall(ctx, k, "reply", start, errors.New("timeout"))

			rm := collect(t, reader)
			if got := histCount(t, rm, "eikaiwa.provider.duration"); got != 2 {
				t.Errorf("duration count = %d, want 2", got)
			}
			if got := sumFor(t, rm, "eikaiwa.provider.requests", kind(k), status("ok")); got != 1 {
				t.Errorf("ok requests = %d, want 1", got)
			}
			if got := sumFor(t, rm, "eikaiwa.provider.requests", kind(k), status("error"), attribute.String("op", "reply")); got != 1 {
				t.Errorf("error requests = %d, want 1", got)
			}
		})
	}
}

func TestObserveCall_LatencyValue(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.ObserveCall(context.Background(), "llm", "problem", time.Now().Add(-1500*time.Millisecond), nil)

	hist := findMetric(collect(t, reader), "eikaiwa.provider.duration").Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Sum < 1.5 || dp.Sum > 5 {
		t.Errorf("recorded latency = %.3fs, want about 1.5s", dp.Sum)
	}
	for key, want := range map[attribute.Key]string{"kind": "llm", "op": "problem", "status": "ok"} {
		if v, _ := dp.Attributes.Value(key); v.AsString() != want {
			t.Errorf("%s attribute = %q, want %q", key, v.AsString(), want)
		}
	}
}

func TestRecordTurnAndWarning(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "dictation")
	m.RecordTurn(ctx, "dictation")
	m.RecordTurn(ctx, "shadowing")
	m.RecordWarning(ctx, "short_audio")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "eikaiwa.turns", attribute.String("mode", "dictation")); got != 2 {
		t.Errorf("dictation turns = %d, want 2", got)
	}
	if got := sumFor(t, rm, "eikaiwa.turns", attribute.String("mode", "shadowing")); got != 1 {
		t.Errorf("shadowing turns = %d, want 1", got)
	}
	if got := sumFor(t, rm, "eikaiwa.warnings", attribute.String("kind", "short_audio")); got != 1 {
		t.Errorf("warnings = %d, want 1", got)
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 3)
	m.ActiveSessions.Add(ctx, -1)

	if got := sumFor(t, collect(t, reader), "eikaiwa.active_sessions"); got != 2 {
		t.Errorf("active sessions = %d, want 2", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	m1 := DefaultMetrics()
	m2 := DefaultMetrics()
	if m1 != m2 {
		t.Error("DefaultMetrics returned different instances")
	}
}
