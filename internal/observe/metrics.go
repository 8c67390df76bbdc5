// Package observe ties eikaiwa's telemetry together: OpenTelemetry metrics
// exported to Prometheus, tracing with a per-request correlation id,
// session-aware slog loggers and the HTTP middleware that starts it all.
//
// Instruments are created through the global meter provider, so [Init]
// must run before the first [DefaultMetrics] call for them to be exported.
// Tests build their own with [NewMetrics] and a ManualReader.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/kamihatanoadoresu/english-conversation"

// Metrics are the application's instruments. Every recording method is
// safe for concurrent use.
type Metrics struct {
	// ProviderDuration is the latency of one model call, labelled with kind
	// (llm, stt, tts), op (the pipeline step) and status (ok, error).
	ProviderDuration metric.Float64Histogram

	// ProviderRequests counts model calls with the same labels.
	ProviderRequests metric.Int64Counter

	// Turns counts committed practice turns per mode.
	Turns metric.Int64Counter

	// Warnings counts learner-facing warnings per kind.
	Warnings metric.Int64Counter

	// ActiveSessions is the number of logged-in sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration is recorded by [Middleware] per method and route.
	HTTPRequestDuration metric.Float64Histogram
}

// providerBuckets fit batch model calls: a transcription takes about a
// second, a synthesized paragraph can take ten.
var providerBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var errs error
	check := func(err error) { errs = errors.Join(errs, err) }

	var err error
	m.ProviderDuration, err = meter.Float64Histogram("eikaiwa.provider.duration",
		metric.WithDescription("Latency of model calls by kind, operation and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(providerBuckets...))
	check(err)
	m.ProviderRequests, err = meter.Int64Counter("eikaiwa.provider.requests",
		metric.WithDescription("Model calls by kind, operation and status."))
	check(err)
	m.Turns, err = meter.Int64Counter("eikaiwa.turns",
		metric.WithDescription("Committed practice turns by mode."))
	check(err)
	m.Warnings, err = meter.Int64Counter("eikaiwa.warnings",
		metric.WithDescription("Warnings shown to learners by kind."))
	check(err)
	m.ActiveSessions, err = meter.Int64UpDownCounter("eikaiwa.active_sessions",
		metric.WithDescription("Logged-in sessions."))
	check(err)
	m.HTTPRequestDuration, err = meter.Float64Histogram("eikaiwa.http.request.duration",
		metric.WithDescription("API request latency by method and route."),
		metric.WithUnit("s"))
	check(err)

	if errs != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", errs)
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide Metrics built on
// [otel.GetMeterProvider]. It panics if an instrument cannot be created.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// ObserveCall records one model call that began at start. kind is "llm",
// "stt" or "tts"; op names the pipeline step, e.g. "reply" or "evaluate".
func (m *Metrics) ObserveCall(ctx context.Context, kind, op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("op", op),
		attribute.String("status", status),
	)
	m.ProviderDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	m.ProviderRequests.Add(ctx, 1, attrs)
}

// RecordTurn counts one committed turn in mode.
func (m *Metrics) RecordTurn(ctx context.Context, mode string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordWarning counts one learner-facing warning.
func (m *Metrics) RecordWarning(ctx context.Context, kind string) {
	m.Warnings.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
