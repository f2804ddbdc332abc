// Package observe wires OpenTelemetry metrics and tracing into the proxy and
// the practice client, exposes them to Prometheus and adds the HTTP
// middleware that records request spans, durations and correlation IDs.
//
// Production code records through [DefaultMetrics] once [InitProvider] has
// installed the global meter provider; tests build a private [Metrics] with
// [NewMetrics] and an sdkmetric.ManualReader.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all scriptcoach metrics.
const meterName = "github.com/MrWong99/scriptcoach"

// Metrics holds every instrument the proxy and the practice client record.
// Attribute keys used with each are listed beside it.
type Metrics struct {
	// Latency histograms, seconds.
	DialogueDuration    metric.Float64Histogram // kind=reply|assessment
	TTSDuration         metric.Float64Histogram // voice lookup + synthesis of one reply
	CaptureDuration     metric.Float64Histogram // how long the agent spoke
	UpstreamDuration    metric.Float64Histogram // upstream, route
	HTTPRequestDuration metric.Float64Histogram // method, path

	ProviderRequests  metric.Int64Counter // provider, kind, status
	ProviderErrors    metric.Int64Counter // provider, kind
	Turns             metric.Int64Counter // role=user|assistant
	CircuitRejections metric.Int64Counter // upstream

	// ActiveSessions counts practice sessions between start and results.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets spans fast voice lookups to a slow one-minute model reply.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60}

// NewMetrics creates all instruments on mp. Tests pass their own provider to
// keep readings isolated.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var errs []error

	latency := func(name, desc string) metric.Float64Histogram {
		h, err := m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		errs = append(errs, err)
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}

	met := &Metrics{
		DialogueDuration: latency("scriptcoach.dialogue.duration", "Latency of dialogue model requests."),
		TTSDuration:      latency("scriptcoach.tts.duration", "Latency of voice selection and speech synthesis."),
		CaptureDuration:  latency("scriptcoach.capture.duration", "Length of speech recordings."),
		UpstreamDuration: latency("scriptcoach.proxy.upstream.duration", "Latency of proxied upstream API calls."),

		ProviderRequests:  counter("scriptcoach.provider.requests", "Provider API requests by provider, kind and status."),
		ProviderErrors:    counter("scriptcoach.provider.errors", "Provider errors by provider and kind."),
		Turns:             counter("scriptcoach.turns", "Committed conversation turns by role."),
		CircuitRejections: counter("scriptcoach.proxy.circuit_rejections", "Proxy requests rejected by an open circuit breaker."),
	}

	var err error
	met.HTTPRequestDuration, err = m.Float64Histogram("scriptcoach.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	)
	errs = append(errs, err)
	met.ActiveSessions, err = m.Int64UpDownCounter("scriptcoach.active_sessions",
		metric.WithDescription("Practice sessions in progress."),
	)
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] built on the global meter
// provider, so call it after [InitProvider]. It panics if the instruments
// cannot be created.
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

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError counts one failed provider call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTurn records one committed conversation turn.
func (m *Metrics) RecordTurn(ctx context.Context, role string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordCircuitRejection records a request refused by an open breaker.
func (m *Metrics) RecordCircuitRejection(ctx context.Context, upstream string) {
	m.CircuitRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("upstream", upstream)))
}
