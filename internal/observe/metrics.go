// Package observe carries voicesim's telemetry: OpenTelemetry instruments,
// spans correlated with log lines, and the middleware for the diagnostics
// server.
//
// Instruments are created against any [metric.MeterProvider]. [Init] wires
// one that exports through Prometheus; tests pass an SDK provider with a
// manual reader to [NewMetrics]. [DefaultMetrics] binds to the global
// provider for callers that were not handed a [Metrics].
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/voicesim"

// Metrics holds the instruments recorded by the voice session, the REST
// client and the diagnostics server. Instruments are safe for concurrent use.
type Metrics struct {
	// FramesSent counts microphone frames uploaded to the service.
	FramesSent metric.Int64Counter
	// FramesSuppressed counts frames withheld while remote audio was playing.
	FramesSuppressed metric.Int64Counter
	// SegmentsReceived counts inbound audio segments queued for playback.
	SegmentsReceived metric.Int64Counter
	// SegmentsPlayed counts segments that finished playing.
	SegmentsPlayed metric.Int64Counter
	// SegmentsFailed counts segments skipped after a decode or playback error.
	SegmentsFailed metric.Int64Counter
	// StatusTransitions counts status changes, labelled "status".
	StatusTransitions metric.Int64Counter
	// ActiveSessions is the number of connected voice sessions.
	ActiveSessions metric.Int64UpDownCounter
	// ConnectDuration is the time from Connect to listening or failure.
	ConnectDuration metric.Float64Histogram

	// APIRequests counts REST calls, labelled "endpoint" and "status".
	APIRequests metric.Int64Counter
	// APIDuration is REST call latency, labelled "endpoint".
	APIDuration metric.Float64Histogram

	// HTTPRequestDuration is diagnostics request latency, labelled
	// "method", "route" and "status".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are the boundaries, in seconds, for connect and REST
// latency histograms.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// instruments creates instruments on one meter and collects their errors.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return c
}

func (b *instruments) seconds(name, desc string, buckets ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.errs = append(b.errs, err)
	return h
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(meterName)}

	m := &Metrics{
		FramesSent:        b.counter("voicesim.voice.frames_sent", "Microphone frames uploaded to the service."),
		FramesSuppressed:  b.counter("voicesim.voice.frames_suppressed", "Microphone frames withheld during remote playback."),
		SegmentsReceived:  b.counter("voicesim.voice.segments_received", "Remote audio segments queued for playback."),
		SegmentsPlayed:    b.counter("voicesim.voice.segments_played", "Remote audio segments played to completion."),
		SegmentsFailed:    b.counter("voicesim.voice.segments_failed", "Remote audio segments skipped after a decode or playback failure."),
		StatusTransitions: b.counter("voicesim.voice.status_transitions", "Voice session status changes by target status."),
		APIRequests:       b.counter("voicesim.api.requests", "REST API requests by endpoint and status."),

		ConnectDuration:     b.seconds("voicesim.voice.connect.duration", "Latency of device acquisition plus transport handshake.", latencyBuckets...),
		APIDuration:         b.seconds("voicesim.api.duration", "Latency of REST API requests.", latencyBuckets...),
		HTTPRequestDuration: b.seconds("voicesim.http.request.duration", "Diagnostics HTTP request latency by route."),
	}

	var err error
	m.ActiveSessions, err = b.meter.Int64UpDownCounter("voicesim.voice.active_sessions",
		metric.WithDescription("Number of connected voice sessions."))
	b.errs = append(b.errs, err)

	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] bound to
// [otel.GetMeterProvider] at the time of the first call.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStatus counts one transition into status.
func (m *Metrics) RecordStatus(ctx context.Context, status string) {
	m.StatusTransitions.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}

// RecordAPIRequest records one REST call with its outcome and latency.
func (m *Metrics) RecordAPIRequest(ctx context.Context, endpoint, status string, seconds float64) {
	m.APIRequests.Add(ctx, 1, metric.WithAttributes(Attr("endpoint", endpoint), Attr("status", status)))
	m.APIDuration.Record(ctx, seconds, metric.WithAttributes(Attr("endpoint", endpoint)))
}
