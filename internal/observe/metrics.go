// Package observe provides the observability primitives of the tutor bot:
// OpenTelemetry metrics and tracing, trace-aware slog loggers, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported in
// Prometheus format by [InitProvider]. Tests should build their own [Metrics]
// with [NewMetrics] and a manual reader instead of touching [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/aulavoz/voicetutor"

// Drop reasons recorded on [Metrics.UtterancesDropped].
const (
	DropQueueFull  = "queue_full"
	DropSTTError   = "stt_error"
	DropSTTTimeout = "stt_timeout"
	DropShutdown   = "shutdown"
)

// Metrics holds every instrument the bot records. The OTel types handle
// their own synchronisation.
type Metrics struct {
	// FramesReceived counts PCM frames appended to a turn buffer.
	FramesReceived metric.Int64Counter

	// UtterancesFlushed counts turn boundaries that produced a container.
	UtterancesFlushed metric.Int64Counter

	// UtterancesDropped counts utterances that never produced a published
	// transcript. Attribute: reason.
	UtterancesDropped metric.Int64Counter

	// UtteranceDuration is the audio length of each flushed utterance.
	UtteranceDuration metric.Float64Histogram

	STTDuration metric.Float64Histogram
	LLMDuration metric.Float64Histogram
	TTSDuration metric.Float64Histogram

	// PublishSkipped counts data-channel publishes skipped because the room
	// had no local participant. Attribute: topic.
	PublishSkipped metric.Int64Counter

	// ProviderRequests counts provider calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ToolCalls counts tool invocations by the tutor. Attributes: tool, status.
	ToolCalls metric.Int64Counter

	// ActiveSessions is the number of live per-participant sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration is recorded by [Middleware]. Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets in seconds, tuned for provider round trips.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30}

// utteranceBuckets in seconds of speech.
var utteranceBuckets = []float64{0.5, 1, 2, 3, 5, 8, 13, 20, 30, 60}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.FramesReceived, "voicetutor.frames.received", "PCM frames appended to turn buffers."},
		{&met.UtterancesFlushed, "voicetutor.utterances.flushed", "Utterances flushed at a turn boundary."},
		{&met.UtterancesDropped, "voicetutor.utterances.dropped", "Utterances dropped before publishing, by reason."},
		{&met.PublishSkipped, "voicetutor.publish.skipped", "Data publishes skipped for lack of a local participant."},
		{&met.ProviderRequests, "voicetutor.provider.requests", "Provider calls by provider, kind and status."},
		{&met.ToolCalls, "voicetutor.tool.calls", "Tutor tool invocations by tool and status."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	histograms := []struct {
		dst     *metric.Float64Histogram
		name    string
		desc    string
		buckets []float64
	}{
		{&met.UtteranceDuration, "voicetutor.utterance.duration", "Audio length of flushed utterances.", utteranceBuckets},
		{&met.STTDuration, "voicetutor.stt.duration", "Latency of speech-to-text transcription.", latencyBuckets},
		{&met.LLMDuration, "voicetutor.llm.duration", "Latency of LLM completions.", latencyBuckets},
		{&met.TTSDuration, "voicetutor.tts.duration", "Latency of text-to-speech synthesis.", latencyBuckets},
		{&met.HTTPRequestDuration, "voicetutor.http.request.duration", "HTTP request latency by method and path.", nil},
	}
	for _, h := range histograms {
		opts := []metric.Float64HistogramOption{metric.WithDescription(h.desc), metric.WithUnit("s")}
		if h.buckets != nil {
			opts = append(opts, metric.WithExplicitBucketBoundaries(h.buckets...))
		}
		if *h.dst, err = m.Float64Histogram(h.name, opts...); err != nil {
			return nil, err
		}
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voicetutor.sessions.active",
		metric.WithDescription("Live per-participant sessions."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] built on
// [otel.GetMeterProvider] at first use. Call it after [InitProvider].
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

// RecordProviderRequest increments ProviderRequests.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordDrop increments UtterancesDropped for reason.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.UtterancesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordPublishSkipped increments PublishSkipped for topic.
func (m *Metrics) RecordPublishSkipped(ctx context.Context, topic string) {
	m.PublishSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

// RecordToolCall increments ToolCalls.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
}
