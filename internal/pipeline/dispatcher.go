package pipeline

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aulavoz/voicetutor/internal/observe"
	"github.com/aulavoz/voicetutor/pkg/audio/wav"
	"github.com/aulavoz/voicetutor/pkg/provider/stt"
	"github.com/aulavoz/voicetutor/pkg/types"
)

// DefaultQueueSize is the number of encoded utterances a session may hold
// while its worker is busy.
const DefaultQueueSize = 8

// Job is one encoded utterance waiting for transcription.
type Job struct {
	Participant string
	Seq         uint64
	Audio       wav.Container

	// Path is the spool file the container was written to. Empty when the
	// spool write failed or spooling is disabled.
	Path string

	FlushedAt time.Time

	// ctx carries the utterance's correlation ID and flush span.
	ctx context.Context
}

// Result is a transcript tagged with the sequence number of the utterance it
// came from. Results of one dispatcher are delivered in Seq order.
type Result struct {
	Participant string
	Seq         uint64
	Transcript  types.Transcript
	FlushedAt   time.Time
}

// ResultFunc receives each successful transcription on the worker goroutine.
type ResultFunc func(ctx context.Context, r Result)

// DispatcherOption configures a [Dispatcher].
type DispatcherOption func(*Dispatcher)

// WithQueueSize sets the queue capacity. Non-positive values are ignored.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.size = n
		}
	}
}

// WithSTTTimeout bounds each Transcribe call. Zero means no timeout.
func WithSTTTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = t }
}

// WithLanguage sets the language hint passed to the provider.
func WithLanguage(lang string) DispatcherOption {
	return func(d *Dispatcher) { d.language = lang }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher is a bounded queue of utterances drained by a single worker that
// sends each to an [stt.Provider]. One worker means transcriptions complete
// and are delivered in the order their turn boundaries fired.
//
// Failed transcriptions are logged, counted as dropped, and not retried.
type Dispatcher struct {
	stt      stt.Provider
	onResult ResultFunc

	size     int
	timeout  time.Duration
	language string
	metrics  *observe.Metrics

	queue chan Job
}

// NewDispatcher returns a Dispatcher that transcribes with p and hands every
// result to onResult.
func NewDispatcher(p stt.Provider, onResult ResultFunc, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		stt:      p,
		onResult: onResult,
		size:     DefaultQueueSize,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	d.queue = make(chan Job, d.size)
	return d
}

// Enqueue adds job without blocking. When the queue is full the job is
// dropped, counted with reason queue_full, and Enqueue returns false.
func (d *Dispatcher) Enqueue(job Job) bool {
	if job.ctx == nil {
		job.ctx = context.Background()
	}
	select {
	case d.queue <- job:
		return true
	default:
		d.metrics.RecordDrop(job.ctx, observe.DropQueueFull)
		observe.Logger(job.ctx).Warn("transcription queue full, dropping utterance",
			"participant", job.Participant,
			"seq", job.Seq,
			"capacity", d.size,
		)
		return false
	}
}

// Len returns the number of queued jobs.
func (d *Dispatcher) Len() int { return len(d.queue) }

// Run is the worker loop. It blocks until ctx is done, then discards whatever
// is still queued, counting each with reason shutdown.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			d.discard(ctx)
			return
		}
		select {
		case <-ctx.Done():
			d.discard(ctx)
			return
		case job := <-d.queue:
			d.process(ctx, job)
		}
	}
}

func (d *Dispatcher) discard(ctx context.Context) {
	for {
		select {
		case job := <-d.queue:
			d.metrics.RecordDrop(context.WithoutCancel(ctx), observe.DropShutdown)
			observe.Logger(job.ctx).Debug("discarding queued utterance at shutdown",
				"participant", job.Participant, "seq", job.Seq)
		default:
			return
		}
	}
}

// process transcribes one job. Every failure is contained here.
func (d *Dispatcher) process(ctx context.Context, job Job) {
	// Values (correlation ID, flush span) come from the job; cancellation
	// comes from the worker.
	jctx := mergeValues(ctx, job.ctx)
	jctx, span := observe.StartSpan(jctx, "pipeline.transcribe", trace.WithAttributes(
		attribute.String("participant", job.Participant),
		attribute.Int64("seq", int64(job.Seq)),
		attribute.Int("bytes", len(job.Audio)),
	))
	defer span.End()
	log := observe.Logger(jctx).With("participant", job.Participant, "seq", job.Seq)

	callCtx := jctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(jctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	tr, err := d.stt.Transcribe(callCtx, stt.Request{
		Audio:    job.Audio,
		Path:     job.Path,
		Language: d.language,
	})
	d.metrics.STTDuration.Record(jctx, time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		reason := observe.DropSTTError
		switch {
		case ctx.Err() != nil:
			reason = observe.DropShutdown
		case errors.Is(err, context.DeadlineExceeded):
			reason = observe.DropSTTTimeout
		}
		d.metrics.RecordDrop(context.WithoutCancel(jctx), reason)
		log.Error("transcription failed, dropping utterance", "reason", reason, "error", err)
		return
	}
	if tr.Duration == 0 {
		tr.Duration = job.Audio.Duration()
	}
	span.SetAttributes(attribute.Int("text_len", len(tr.Text)))
	log.Debug("utterance transcribed", "text_len", len(tr.Text), "language", tr.Language)

	if d.onResult != nil {
		d.onResult(jctx, Result{
			Participant: job.Participant,
			Seq:         job.Seq,
			Transcript:  tr,
			FlushedAt:   job.FlushedAt,
		})
	}
}

// valueCtx takes cancellation from one context and values from another.
type valueCtx struct {
	context.Context
	values context.Context
}

func (c valueCtx) Value(key any) any {
	if v := c.values.Value(key); v != nil {
		return v
	}
	return c.Context.Value(key)
}

func mergeValues(cancel, values context.Context) context.Context {
	if values == nil {
		return cancel
	}
	return valueCtx{Context: cancel, values: values}
}
