package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aulavoz/voicetutor/internal/observe"
	"github.com/aulavoz/voicetutor/pkg/audio"
)

// DefaultTopic is the data-channel topic transcripts are published on.
const DefaultTopic = "transcript"

// DataPublisher is the part of [audio.Connection] a [Publisher] needs.
type DataPublisher interface {
	PublishData(ctx context.Context, payload []byte, topic string) error
}

// Publisher forwards text to the room's reliable data channel on one topic.
type Publisher struct {
	dst     DataPublisher
	topic   string
	metrics *observe.Metrics
}

// NewPublisher returns a Publisher sending on topic through dst. An empty
// topic selects [DefaultTopic]; nil metrics selects [observe.DefaultMetrics].
func NewPublisher(dst DataPublisher, topic string, metrics *observe.Metrics) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Publisher{dst: dst, topic: topic, metrics: metrics}
}

// Topic returns the data-channel topic.
func (p *Publisher) Topic() string { return p.topic }

// Publish sends text as UTF-8. Empty text is sent as an empty payload.
//
// A missing local participant is not an error: the publish is skipped,
// logged as a warning and counted, and Publish returns nil.
func (p *Publisher) Publish(ctx context.Context, text string) error {
	ctx, span := observe.StartSpan(ctx, "pipeline.publish", trace.WithAttributes(
		attribute.String("topic", p.topic),
		attribute.Int("bytes", len(text)),
	))
	defer span.End()

	err := p.dst.PublishData(ctx, []byte(text), p.topic)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, audio.ErrNoLocalParticipant):
		observe.Logger(ctx).Warn("publish skipped: no local participant", "topic", p.topic)
		p.metrics.RecordPublishSkipped(ctx, p.topic)
		return nil
	default:
		span.RecordError(err)
		return fmt.Errorf("pipeline: publish on %q: %w", p.topic, err)
	}
}
