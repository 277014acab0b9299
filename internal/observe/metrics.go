// Package observe provides the service's observability primitives:
// OpenTelemetry metrics, tracing helpers, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported for
// Prometheus scraping by [InitProvider]. [DefaultMetrics] returns a
// package-level instance bound to the global meter provider; tests should use
// [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every instrument.
const meterName = "github.com/b-aragu/organic-sphere"

// Metrics holds all metric instruments of the service. All fields are safe
// for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// ResponderDuration tracks how long a finished utterance waits for its
	// reply. Attribute: status.
	ResponderDuration metric.Float64Histogram

	// LLMDuration tracks language model completion latency.
	LLMDuration metric.Float64Histogram

	// RecognitionStartDuration tracks how long opening an STT stream takes.
	RecognitionStartDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts completed turns. Attribute: status (ok, empty, error).
	Turns metric.Int64Counter

	// RecognitionRestarts counts recognition restarts. Attribute: reason.
	RecognitionRestarts metric.Int64Counter

	// ProviderRequests counts provider calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes.
	// Attributes: provider, state.
	BreakerTransitions metric.Int64Counter

	// DroppedFrames counts captured frames that no consumer could take.
	DroppedFrames metric.Int64Counter

	// --- Gauges ---

	// TurnState reports the controller state (0 idle, 1 listening,
	// 2 awaiting response).
	TurnState metric.Int64Gauge

	// ActiveClients tracks connected browser clients.
	ActiveClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time.
	// Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Model replies take
// seconds, stream setup takes tens of milliseconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}
	if met.ResponderDuration, err = histogram("organicsphere.responder.duration",
		"Time from a finished utterance to its reply."); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = histogram("organicsphere.llm.duration",
		"Latency of language model completions."); err != nil {
		return nil, err
	}
	if met.RecognitionStartDuration, err = histogram("organicsphere.recognition.start.duration",
		"Latency of opening a speech recognition stream."); err != nil {
		return nil, err
	}

	if met.Turns, err = m.Int64Counter("organicsphere.turns",
		metric.WithDescription("Completed conversation turns by status."),
	); err != nil {
		return nil, err
	}
	if met.RecognitionRestarts, err = m.Int64Counter("organicsphere.recognition.restarts",
		metric.WithDescription("Speech recognition restarts by reason."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("organicsphere.provider.requests",
		metric.WithDescription("Provider requests by provider, kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("organicsphere.provider.errors",
		metric.WithDescription("Provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("organicsphere.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by provider and new state."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("organicsphere.audio.dropped_frames",
		metric.WithDescription("Captured audio frames dropped because a consumer was behind."),
	); err != nil {
		return nil, err
	}

	if met.TurnState, err = m.Int64Gauge("organicsphere.turn.state",
		metric.WithDescription("Turn controller state: 0 idle, 1 listening, 2 awaiting response."),
	); err != nil {
		return nil, err
	}
	if met.ActiveClients, err = m.Int64UpDownCounter("organicsphere.web.active_clients",
		metric.WithDescription("Connected browser clients."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("organicsphere.http.request.duration",
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
// first call from [otel.GetMeterProvider]. Call it after [InitProvider].
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

// RecordProviderRequest counts one provider call and, for a non-"ok"
// status, one provider error.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
		Attr("status", status),
	))
	if status != "ok" {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			Attr("provider", provider),
			Attr("kind", kind),
		))
	}
}

// RecordTurn counts a completed turn and its responder latency.
func (m *Metrics) RecordTurn(ctx context.Context, status string, seconds float64) {
	attrs := metric.WithAttributes(Attr("status", status))
	m.Turns.Add(ctx, 1, attrs)
	m.ResponderDuration.Record(ctx, seconds, attrs)
}

// RecordRestart counts a recognition restart.
func (m *Metrics) RecordRestart(ctx context.Context, reason string) {
	m.RecognitionRestarts.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordBreakerTransition counts a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("state", state),
	))
}
