// Package pipeline turns a participant's live audio into published
// transcripts.
//
// A [Session] owns one participant's turn buffer, transcription queue and
// publisher. Frames are appended to a [turn.Buffer]; each turn boundary
// merges the pending frames, encodes them as a WAV container, writes the
// spool file and enqueues the container on a [Dispatcher]. The dispatcher's
// single worker transcribes utterances in boundary order and hands results to
// the [Publisher] and, when configured, to an [Answerer].
//
// Frame ingestion never waits on transcription: the flush path only encodes
// and enqueues.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/aulavoz/voicetutor/internal/observe"
	"github.com/aulavoz/voicetutor/internal/turn"
	"github.com/aulavoz/voicetutor/pkg/audio"
	"github.com/aulavoz/voicetutor/pkg/audio/wav"
	"github.com/aulavoz/voicetutor/pkg/provider/stt"
	"github.com/aulavoz/voicetutor/pkg/types"
)

// DefaultSpoolPath is where the most recent utterance container is written.
const DefaultSpoolPath = "/tmp/audio.wav"

// ParticipantPlaceholder in a spool path is replaced with the participant
// identity, giving each session its own spool file.
const ParticipantPlaceholder = "{participant}"

// Answerer reacts to a published transcript. The tutor implements it.
type Answerer interface {
	Answer(ctx context.Context, r Result) error
}

// Corrector rewrites a transcript, for example to fix misheard vocabulary.
type Corrector interface {
	Correct(ctx context.Context, tr types.Transcript) types.Transcript
}

// Config holds the dependencies and settings of a [Session].
type Config struct {
	// STT transcribes utterances. Required.
	STT stt.Provider

	// Publisher sends transcripts to the room. Required.
	Publisher *Publisher

	// Answerer, when non-nil, receives every non-empty transcript after it
	// was published.
	Answerer Answerer

	// Corrector, when non-nil, rewrites transcripts before they are
	// published.
	Corrector Corrector

	QuietInterval time.Duration
	Mode          turn.Mode

	// SampleRate is stamped on utterances whose frames carry none.
	SampleRate int

	QueueSize  int
	STTTimeout time.Duration
	Language   string

	// SpoolPath is the one-slot spool file, overwritten on every flush. It may
	// contain [ParticipantPlaceholder]. Empty disables spooling.
	SpoolPath string

	Metrics *observe.Metrics
}

// Session is the per-participant turn-taking pipeline.
type Session struct {
	participant string
	cfg         Config
	spoolPath   string
	metrics     *observe.Metrics

	buf        *turn.Buffer
	dispatcher *Dispatcher
	answers    chan Result

	mu      sync.Mutex
	baseCtx context.Context
	running bool
}

// NewSession builds the pipeline for participant. Call [Session.Run] to start
// it.
func NewSession(participant string, cfg Config) (*Session, error) {
	var errs []error
	if participant == "" {
		errs = append(errs, errors.New("participant identity is empty"))
	}
	if cfg.STT == nil {
		errs = append(errs, errors.New("stt provider is nil"))
	}
	if cfg.Publisher == nil {
		errs = append(errs, errors.New("publisher is nil"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("pipeline: new session: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	s := &Session{
		participant: participant,
		cfg:         cfg,
		spoolPath:   SpoolPath(cfg.SpoolPath, participant),
		metrics:     cfg.Metrics,
		baseCtx:     context.Background(),
	}
	s.buf = turn.New(s.flush,
		turn.WithQuietInterval(cfg.QuietInterval),
		turn.WithMode(cfg.Mode),
		turn.WithSampleRate(cfg.SampleRate),
	)
	s.dispatcher = NewDispatcher(cfg.STT, s.deliver,
		WithQueueSize(cfg.QueueSize),
		WithSTTTimeout(cfg.STTTimeout),
		WithLanguage(cfg.Language),
		WithMetrics(cfg.Metrics),
	)
	if cfg.Answerer != nil {
		s.answers = make(chan Result, cfg.QueueSize)
	}
	return s, nil
}

// SpoolPath expands [ParticipantPlaceholder] in tmpl with a file-name-safe
// form of participant.
func SpoolPath(tmpl, participant string) string {
	if !strings.Contains(tmpl, ParticipantPlaceholder) {
		return tmpl
	}
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, participant)
	return strings.ReplaceAll(tmpl, ParticipantPlaceholder, safe)
}

// Participant returns the identity the session transcribes.
func (s *Session) Participant() string { return s.participant }

// SetQuietInterval changes the turn boundary delay from the next arm on.
func (s *Session) SetQuietInterval(d time.Duration) { s.buf.SetQuietInterval(d) }

// SetMode changes the turn timer mode.
func (s *Session) SetMode(m turn.Mode) { s.buf.SetMode(m) }

// Append feeds one frame into the turn buffer. Run calls it for every frame
// read from its input; it is exported for transports that push frames.
func (s *Session) Append(frame audio.AudioFrame) {
	s.metrics.FramesReceived.Add(s.ctx(), 1)
	s.buf.Append(frame)
}

// Run reads frames until the channel is closed or ctx is done, while the
// transcription worker runs alongside. On return the turn timer is stopped
// and queued utterances are discarded. Run may be called only once.
func (s *Session) Run(ctx context.Context, frames <-chan audio.AudioFrame) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("pipeline: session %s already running", s.participant)
	}
	s.running = true
	s.baseCtx = ctx
	s.mu.Unlock()

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	log := observe.Logger(ctx).With("participant", s.participant)
	log.Info("pipeline session started", "spool", s.spoolPath, "queue", s.cfg.QueueSize)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	var g errgroup.Group
	g.Go(func() error {
		s.dispatcher.Run(workerCtx)
		return nil
	})
	if s.answers != nil {
		g.Go(func() error {
			s.answerLoop(workerCtx)
			return nil
		})
	}

	s.ingest(ctx, frames)

	// Close waits for a running flush, so its job is queued before the
	// workers stop.
	s.buf.Close()
	stopWorkers()
	_ = g.Wait()
	// The worker may have stopped on ctx before that flush enqueued.
	s.dispatcher.discard(ctx)
	log.Info("pipeline session stopped")
	return nil
}

func (s *Session) ingest(ctx context.Context, frames <-chan audio.AudioFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			s.Append(f)
		}
	}
}

func (s *Session) ctx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

// flush runs on the turn timer goroutine for every boundary: encode, spool,
// enqueue. It never blocks on transcription.
func (s *Session) flush(u turn.Utterance) {
	ctx := observe.WithCorrelationID(s.ctx(), "")
	ctx, span := observe.StartSpan(ctx, "pipeline.flush", trace.WithAttributes(
		attribute.String("participant", s.participant),
		attribute.Int64("seq", int64(u.Seq)),
		attribute.Int("samples", len(u.Samples)),
		attribute.Int("frames", u.Frames),
	))
	defer span.End()

	s.metrics.UtterancesFlushed.Add(ctx, 1)
	s.metrics.UtteranceDuration.Record(ctx, u.Duration().Seconds())

	container := wav.Encode(u.Samples, uint32(u.SampleRate))

	path := s.spoolPath
	if path != "" {
		if err := wav.WriteFile(path, container); err != nil {
			span.RecordError(err)
			observe.Logger(ctx).Error("spool write failed, transcribing from memory",
				"participant", s.participant, "seq", u.Seq, "path", path, "error", err)
			path = ""
		}
	}

	observe.Logger(ctx).Debug("utterance flushed",
		slog.String("participant", s.participant),
		slog.Uint64("seq", u.Seq),
		slog.Int("samples", len(u.Samples)),
		slog.Duration("duration", u.Duration()),
	)

	s.dispatcher.Enqueue(Job{
		Participant: s.participant,
		Seq:         u.Seq,
		Audio:       container,
		Path:        path,
		FlushedAt:   u.FlushedAt,
		ctx:         ctx,
	})
}

// deliver runs on the dispatcher worker for every transcript.
func (s *Session) deliver(ctx context.Context, r Result) {
	if s.cfg.Corrector != nil {
		r.Transcript = s.cfg.Corrector.Correct(ctx, r.Transcript)
	}
	if err := s.cfg.Publisher.Publish(ctx, r.Transcript.Text); err != nil {
		observe.Logger(ctx).Error("publish transcript failed",
			"participant", r.Participant, "seq", r.Seq, "error", err)
	}
	if s.answers == nil || strings.TrimSpace(r.Transcript.Text) == "" {
		return
	}
	select {
	case s.answers <- r:
	default:
		observe.Logger(ctx).Warn("answer queue full, skipping transcript",
			"participant", r.Participant, "seq", r.Seq)
	}
}

func (s *Session) answerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-s.answers:
			if err := s.cfg.Answerer.Answer(ctx, r); err != nil && ctx.Err() == nil {
				observe.Logger(ctx).Error("answer failed",
					"participant", r.Participant, "seq", r.Seq, "error", err)
			}
		}
	}
}
