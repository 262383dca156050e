// Package observe provides application-wide observability primitives for
// Rovel: OpenTelemetry metrics and the HTTP middleware that records them.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported via
// a Prometheus bridge (see [InitProvider]) so they can be scraped from the
// standard /metrics endpoint. Tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Rovel metrics.
const meterName = "github.com/netscane/rovel"

// latencyBuckets defines histogram bucket boundaries (in seconds). TTS
// synthesis of a short segment lands in the 0.5–10 s range on typical
// deployments; the low buckets catch cache hits.
var latencyBuckets = []float64{
	0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// Metrics holds all metric instruments for the application. All fields are
// safe for concurrent use — the underlying OTel types handle their own
// synchronisation.
type Metrics struct {
	// InferDuration tracks end-to-end per-task processing latency, from
	// dequeue to terminal state. Use with attribute.String("outcome", ...).
	InferDuration metric.Float64Histogram

	// TTSDuration tracks the external TTS call latency alone.
	TTSDuration metric.Float64Histogram

	// TasksSubmitted counts tasks accepted by SubmitInfer.
	TasksSubmitted metric.Int64Counter

	// TasksCancelled counts Pending tasks cancelled by seek, voice change,
	// and close operations.
	TasksCancelled metric.Int64Counter

	// CacheShortCircuits counts segment indices that SubmitInfer answered
	// directly from the cache without creating a task.
	CacheShortCircuits metric.Int64Counter

	// ActiveSessions tracks the number of live playback sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// NewMetrics creates a fully initialised [Metrics] using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.InferDuration, err = m.Float64Histogram("rovel.infer.duration",
		metric.WithDescription("End-to-end latency of one inference task."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("rovel.tts.duration",
		metric.WithDescription("Latency of the external TTS synthesis call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TasksSubmitted, err = m.Int64Counter("rovel.tasks.submitted",
		metric.WithDescription("Inference tasks created by SubmitInfer."),
	); err != nil {
		return nil, err
	}
	if met.TasksCancelled, err = m.Int64Counter("rovel.tasks.cancelled",
		metric.WithDescription("Pending tasks cancelled by session operations."),
	); err != nil {
		return nil, err
	}
	if met.CacheShortCircuits, err = m.Int64Counter("rovel.cache.short_circuits",
		metric.WithDescription("SubmitInfer segments answered from cache without a task."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("rovel.sessions.active",
		metric.WithDescription("Live playback sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("rovel.http.request.duration",
		metric.WithDescription("HTTP request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}
