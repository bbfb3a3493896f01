// Package app wires the room connection, the per-participant pipelines and
// the tutor into a running bot.
//
// New builds the shared dependencies, Run joins the room and blocks, and
// Shutdown tears everything down once. For tests, inject doubles through
// [Providers] and the functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aulavoz/voicetutor/internal/config"
	"github.com/aulavoz/voicetutor/internal/observe"
	"github.com/aulavoz/voicetutor/internal/pipeline"
	"github.com/aulavoz/voicetutor/internal/transcript"
	"github.com/aulavoz/voicetutor/internal/turn"
	"github.com/aulavoz/voicetutor/internal/tutor"
	"github.com/aulavoz/voicetutor/pkg/audio"
	"github.com/aulavoz/voicetutor/pkg/audio/livekit"
	"github.com/aulavoz/voicetutor/pkg/provider/llm"
	"github.com/aulavoz/voicetutor/pkg/provider/stt"
	"github.com/aulavoz/voicetutor/pkg/provider/tts"
	"github.com/aulavoz/voicetutor/pkg/types"
)

// outputBuffer is the number of synthesized frames held while the room
// connection drains them.
const outputBuffer = 64

// Providers holds one value per provider slot. Nil means not configured.
type Providers struct {
	STT   stt.Provider
	LLM   llm.Provider
	TTS   tts.Provider
	Audio audio.Platform
}

// Option configures an [App].
type Option func(*App)

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithCorrector enables vocabulary correction of transcripts.
func WithCorrector(c *transcript.Corrector) Option {
	return func(a *App) { a.corrector = c }
}

// WithDocuments sets the document source for the tutor's consult_document
// tool.
func WithDocuments(d tutor.DocumentSource) Option {
	return func(a *App) { a.docs = d }
}

// WithReconnector overrides the reconnection settings. Platform, RoomName
// and OnReconnect are always filled in by the App.
func WithReconnector(cfg ReconnectorConfig) Option {
	return func(a *App) { a.reconnectCfg = cfg }
}

// WithCloser registers fn to run during Shutdown, after the room is left.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// App owns the bot's subsystems.
type App struct {
	cfg          *config.Config
	providers    *Providers
	metrics      *observe.Metrics
	corrector    *transcript.Corrector
	docs         tutor.DocumentSource
	reconnectCfg ReconnectorConfig

	room       *Reconnector
	sessions   *SessionManager
	publisher  *pipeline.Publisher
	tutor      *tutor.Tutor
	output     chan audio.AudioFrame
	spoolPath  string
	sampleRate int

	mu      sync.Mutex
	runCtx  context.Context
	quiet   time.Duration
	mode    turn.Mode
	relayWG sync.WaitGroup
	quit    chan struct{}

	closers  []func() error
	stopOnce sync.Once
}

// New validates providers against cfg and builds the subsystems. It does
// not connect; call [App.Run].
func New(_ context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	var errs []error
	if providers.STT == nil {
		errs = append(errs, errors.New("stt provider is required"))
	}
	if providers.Audio == nil {
		errs = append(errs, errors.New("audio platform is required"))
	}
	if cfg.Tutor.Enabled && providers.LLM == nil {
		errs = append(errs, errors.New("tutor requires an llm provider"))
	}
	mode, err := turn.ParseMode(cfg.Pipeline.TimerMode)
	if err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a := &App{
		cfg:        cfg,
		providers:  providers,
		quiet:      cfg.Pipeline.QuietInterval,
		mode:       mode,
		sampleRate: cfg.Pipeline.SampleRate,
		spoolPath:  cfg.Pipeline.SpoolPath,
		runCtx:     context.Background(),
		quit:       make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.spoolPath == config.Disabled {
		a.spoolPath = ""
	}

	rc := a.reconnectCfg
	rc.Platform = providers.Audio
	rc.RoomName = cfg.Room.RoomName
	rc.OnReconnect = a.onReconnect
	a.room = NewReconnector(rc)

	relay := roomRelay{room: a.room}
	a.publisher = pipeline.NewPublisher(relay, cfg.Room.DataTopic, a.metrics)
	a.sessions = NewSessionManager(a.newSession)

	if cfg.Tutor.Enabled {
		if err := a.initTutor(relay); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *App) initTutor(relay roomRelay) error {
	tc := a.cfg.Tutor
	tcfg := tutor.Config{
		LLM:       a.providers.LLM,
		Publisher: pipeline.NewPublisher(relay, a.cfg.Room.AnswerTopic, a.metrics),
		Voice: types.VoiceProfile{
			ID:          tc.Voice.VoiceID,
			Name:        tc.Voice.Name,
			Provider:    a.cfg.Providers.TTS.Name,
			SpeedFactor: tc.Voice.SpeedFactor,
		},
		DefaultDocument: tc.DefaultDocument,
		Instructions:    tc.Instructions,
		MaxSentences:    tc.MaxSentences,
		HistoryTokens:   tc.HistoryTokens,
		Temperature:     tc.Temperature,
		Metrics:         a.metrics,
	}
	tcfg.Documents = a.docs
	if a.providers.TTS != nil {
		a.output = make(chan audio.AudioFrame, outputBuffer)
		tcfg.TTS = a.providers.TTS
		tcfg.Output = a.output
	}
	t, err := tutor.New(tcfg)
	if err != nil {
		return fmt.Errorf("app: init tutor: %w", err)
	}
	a.tutor = t
	return nil
}

// newSession is the [SessionFactory] for every participant.
func (a *App) newSession(participant string) (*pipeline.Session, error) {
	a.mu.Lock()
	quiet, mode := a.quiet, a.mode
	a.mu.Unlock()

	cfg := pipeline.Config{
		STT:           a.providers.STT,
		Publisher:     a.publisher,
		QuietInterval: quiet,
		Mode:          mode,
		SampleRate:    a.sampleRate,
		QueueSize:     a.cfg.Pipeline.QueueSize,
		STTTimeout:    a.cfg.Pipeline.STTTimeout,
		Language:      a.cfg.Pipeline.Language,
		SpoolPath:     a.spoolPath,
		Metrics:       a.metrics,
	}
	if a.corrector != nil {
		cfg.Corrector = a.corrector
	}
	if a.tutor != nil {
		cfg.Answerer = a.tutor
	}
	return pipeline.NewSession(participant, cfg)
}

// Run joins the room, starts a session for every participant with audio,
// and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	a.runCtx = ctx
	a.mu.Unlock()

	conn, err := a.room.Connect(ctx)
	if err != nil {
		return err
	}
	a.attach(ctx, conn)
	a.room.Monitor(ctx)

	if a.output != nil {
		a.relayWG.Add(1)
		go func() {
			defer a.relayWG.Done()
			a.relayOutput(ctx)
		}()
	}

	slog.Info("app running",
		"room", a.cfg.Room.RoomName,
		"participants", a.sessions.Count(),
		"tutor", a.tutor != nil,
	)
	<-ctx.Done()
	return ctx.Err()
}

// attach subscribes to conn's participant events and starts sessions for
// the streams already present.
func (a *App) attach(ctx context.Context, conn audio.Connection) {
	conn.OnParticipantChange(func(ev audio.Event) { a.handleEvent(ctx, conn, ev) })
	for id, frames := range conn.InputStreams() {
		a.startSession(ctx, id, frames)
	}
}

// handleEvent runs on the connection's goroutine and must not block.
func (a *App) handleEvent(ctx context.Context, conn audio.Connection, ev audio.Event) {
	if a.room.Connection() != conn {
		slog.Debug("ignoring event from stale connection", "type", ev.Type, "participant", ev.UserID)
		return
	}
	switch ev.Type {
	case audio.EventJoin:
		if a.tutor != nil {
			md, err := livekit.ParseMetadata(ev.Metadata)
			if err != nil {
				slog.Warn("ignoring participant metadata", "participant", ev.UserID, "error", err)
			}
			a.tutor.SetDocument(ev.UserID, md.DocumentID)
		}
		frames, ok := conn.InputStreams()[ev.UserID]
		if !ok {
			slog.Debug("join without audio stream", "participant", ev.UserID)
			return
		}
		go a.startSession(ctx, ev.UserID, frames)

	case audio.EventLeave:
		slog.Info("participant left", "participant", ev.UserID)
		go func() {
			a.sessions.Stop(ev.UserID)
			if a.tutor != nil {
				a.tutor.Forget(ev.UserID)
			}
		}()

	case audio.EventDisconnected:
		slog.Warn("room connection lost", "room", a.cfg.Room.RoomName)
		go func() {
			// Sessions of the lost connection end before the rejoin starts
			// new ones.
			a.sessions.StopAll()
			a.room.NotifyDisconnect()
		}()
	}
}

func (a *App) startSession(ctx context.Context, participant string, frames <-chan audio.AudioFrame) {
	if err := a.sessions.Start(ctx, participant, frames); err != nil {
		slog.Error("start pipeline session", "participant", participant, "error", err)
	}
}

func (a *App) onReconnect(conn audio.Connection) {
	a.mu.Lock()
	ctx := a.runCtx
	a.mu.Unlock()
	a.attach(ctx, conn)
}

// relayOutput forwards tutor speech to whichever connection is current.
// Frames produced while disconnected are dropped.
func (a *App) relayOutput(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.quit:
			return
		case f := <-a.output:
			conn := a.room.Connection()
			if conn == nil {
				continue
			}
			select {
			case conn.OutputStream() <- f:
			case <-ctx.Done():
				return
			case <-a.quit:
				return
			}
		}
	}
}

// Apply pushes the hot-reloadable parts of d into the running app.
func (a *App) Apply(d config.ConfigDiff, cfg *config.Config) {
	if d.TurnChanged {
		mode, err := turn.ParseMode(cfg.Pipeline.TimerMode)
		if err != nil {
			slog.Warn("ignoring timer mode change", "error", err)
			mode = a.currentMode()
		}
		a.mu.Lock()
		a.quiet, a.mode = cfg.Pipeline.QuietInterval, mode
		a.mu.Unlock()
		a.sessions.Each(func(s *pipeline.Session) {
			s.SetQuietInterval(cfg.Pipeline.QuietInterval)
			s.SetMode(mode)
		})
		slog.Info("turn settings updated", "quiet_interval", cfg.Pipeline.QuietInterval, "mode", mode)
	}
	if d.VocabularyChanged && a.corrector != nil {
		a.corrector.SetVocabulary(cfg.Pipeline.Vocabulary)
		slog.Info("vocabulary updated", "terms", len(cfg.Pipeline.Vocabulary))
	}
	if a.tutor != nil {
		if d.InstructionsChanged {
			a.tutor.SetInstructions(cfg.Tutor.Instructions)
		}
		if d.MaxSentencesChanged {
			a.tutor.SetMaxSentences(cfg.Tutor.MaxSentences)
		}
		if d.DefaultDocumentChanged {
			a.tutor.SetDefaultDocument(cfg.Tutor.DefaultDocument)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

func (a *App) currentMode() turn.Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// SessionCount returns the number of participants being transcribed.
func (a *App) SessionCount() int { return a.sessions.Count() }

// RoomCheck fails while the bot is not in the room.
func (a *App) RoomCheck(ctx context.Context) error { return a.room.Check(ctx) }

// Shutdown stops every session, leaves the room and runs the registered
// closers. Only the first call has effect.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.Count(), "closers", len(a.closers))

		stopped := make(chan struct{})
		go func() {
			a.sessions.StopAll()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded while stopping sessions")
			shutdownErr = ctx.Err()
			return
		}

		close(a.quit)
		a.relayWG.Wait()
		if err := a.room.Stop(); err != nil {
			slog.Warn("room disconnect error", "error", err)
		}

		var errs []error
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
				errs = append(errs, err)
			}
		}
		shutdownErr = errors.Join(errs...)
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// roomRelay publishes through the reconnector's current connection.
type roomRelay struct {
	room *Reconnector
}

func (r roomRelay) PublishData(ctx context.Context, payload []byte, topic string) error {
	conn := r.room.Connection()
	if conn == nil {
		return audio.ErrNoLocalParticipant
	}
	return conn.PublishData(ctx, payload, topic)
}
