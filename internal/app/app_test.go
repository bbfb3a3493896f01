package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aulavoz/voicetutor/internal/config"
	"github.com/aulavoz/voicetutor/internal/transcript"
	"github.com/aulavoz/voicetutor/pkg/audio"
	audiomock "github.com/aulavoz/voicetutor/pkg/audio/mock"
	"github.com/aulavoz/voicetutor/pkg/provider/llm"
	llmmock "github.com/aulavoz/voicetutor/pkg/provider/llm/mock"
	sttmock "github.com/aulavoz/voicetutor/pkg/provider/stt/mock"
	ttsmock "github.com/aulavoz/voicetutor/pkg/provider/tts/mock"
	"github.com/aulavoz/voicetutor/pkg/types"
)

// started runs a in the background and returns a stop function that
// cancels Run and shuts down.
func started(t *testing.T, a *App) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	var once bool
	stop := func() {
		if once {
			return
		}
		once = true
		cancel()
		if err := <-runErr; !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		if err := a.Shutdown(sctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	}
	t.Cleanup(stop)
	return stop
}

func receive(t *testing.T, ch <-chan audiomock.Published) audiomock.Published {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("nothing published")
		return audiomock.Published{}
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Tutor.Enabled = true

	_, err := New(context.Background(), cfg, &Providers{})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"stt", "audio", "llm"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}

func TestApp_TranscribesExistingParticipant(t *testing.T) {
	t.Parallel()
	conn := audiomock.NewConnection()
	conn.Notify = make(chan audiomock.Published, 4)
	in := conn.AddParticipant("alice")

	a, err := New(context.Background(), testConfig(), &Providers{
		STT:   &sttmock.Provider{Result: types.Transcript{Text: "hola"}},
		Audio: &audiomock.Platform{Conn: conn},
	}, WithMetrics(newTestMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := started(t, a)
	eventually(t, "session", func() bool { return a.SessionCount() == 1 })

	in <- frame()
	p := receive(t, conn.Notify)
	if p.Topic != "transcript" || string(p.Payload) != "hola" {
		t.Errorf("published %q on %q", p.Payload, p.Topic)
	}

	stop()
	if !conn.Closed() {
		t.Error("Shutdown did not leave the room")
	}
	if a.SessionCount() != 0 {
		t.Errorf("sessions after shutdown = %d", a.SessionCount())
	}
}

func TestApp_JoinAndLeave(t *testing.T) {
	t.Parallel()
	conn := audiomock.NewConnection()
	a, err := New(context.Background(), testConfig(), &Providers{
		STT:   &sttmock.Provider{},
		Audio: &audiomock.Platform{Conn: conn},
	}, WithMetrics(newTestMetrics(t)))
	if err != nil {
		t.Fatal(err)
	}
	started(t, a)
	eventually(t, "connected", func() bool { return a.RoomCheck(context.Background()) == nil })

	conn.AddParticipant("bob")
	conn.Emit(audio.Event{Type: audio.EventJoin, UserID: "bob", Metadata: `{"documentId":"tema1"}`})
	eventually(t, "bob's session", func() bool { return a.SessionCount() == 1 })

	// Join without a stream is ignored.
	conn.Emit(audio.Event{Type: audio.EventJoin, UserID: "carol"})

	conn.Emit(audio.Event{Type: audio.EventLeave, UserID: "bob"})
	eventually(t, "bob's session to stop", func() bool { return a.SessionCount() == 0 })
}

func TestApp_TutorAnswersAndSpeaks(t *testing.T) {
	t.Parallel()
	conn := audiomock.NewConnection()
	conn.Notify = make(chan audiomock.Published, 4)
	in := conn.AddParticipant("alice")

	cfg := testConfig()
	cfg.Tutor.Enabled = true
	cfg.Providers.LLM.Name = "mock"
	a, err := New(context.Background(), cfg, &Providers{
		STT:   &sttmock.Provider{Result: types.Transcript{Text: "¿Qué es la mitosis?"}},
		LLM:   &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: "Es una división celular."}}},
		TTS:   &ttsmock.Provider{Chunks: [][]byte{make([]byte, 640)}},
		Audio: &audiomock.Platform{Conn: conn},
	}, WithMetrics(newTestMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	started(t, a)
	eventually(t, "session", func() bool { return a.SessionCount() == 1 })

	in <- frame()
	got := map[string]string{}
	for range 2 {
		p := receive(t, conn.Notify)
		got[p.Topic] = string(p.Payload)
	}
	if got["transcript"] != "¿Qué es la mitosis?" {
		t.Errorf("transcript = %q", got["transcript"])
	}
	if got["answer"] != "Es una división celular." {
		t.Errorf("answer = %q", got["answer"])
	}
	select {
	case <-conn.Output():
	case <-time.After(2 * time.Second):
		t.Fatal("answer not spoken")
	}
}

func TestApp_CorrectsTranscripts(t *testing.T) {
	t.Parallel()
	conn := audiomock.NewConnection()
	conn.Notify = make(chan audiomock.Published, 4)
	in := conn.AddParticipant("alice")

	a, err := New(context.Background(), testConfig(), &Providers{
		STT:   &sttmock.Provider{Result: types.Transcript{Text: "la mitocondrya produce energía"}},
		Audio: &audiomock.Platform{Conn: conn},
	}, WithMetrics(newTestMetrics(t)), WithCorrector(transcript.NewCorrector([]string{"mitocondria"})))
	if err != nil {
		t.Fatal(err)
	}
	started(t, a)
	eventually(t, "session", func() bool { return a.SessionCount() == 1 })

	in <- frame()
	if p := receive(t, conn.Notify); string(p.Payload) != "la mitocondria produce energía" {
		t.Errorf("published %q", p.Payload)
	}
}

func TestApp_ReconnectsAfterDisconnect(t *testing.T) {
	t.Parallel()
	first, second := audiomock.NewConnection(), audiomock.NewConnection()
	first.AddParticipant("alice")
	in := second.AddParticipant("alice")
	second.Notify = make(chan audiomock.Published, 4)

	a, err := New(context.Background(), testConfig(), &Providers{
		STT:   &sttmock.Provider{Result: types.Transcript{Text: "sigo aquí"}},
		Audio: &seqPlatform{conns: []*audiomock.Connection{first, second}},
	}, WithMetrics(newTestMetrics(t)), WithReconnector(ReconnectorConfig{Backoff: time.Millisecond}))
	if err != nil {
		t.Fatal(err)
	}
	started(t, a)
	eventually(t, "first session", func() bool { return a.SessionCount() == 1 })

	_ = first.Disconnect()
	first.Emit(audio.Event{Type: audio.EventDisconnected})
	eventually(t, "reconnect", func() bool { return a.room.Connection() == audio.Connection(second) })

	in <- frame()
	if p := receive(t, second.Notify); string(p.Payload) != "sigo aquí" {
		t.Errorf("published %q after reconnect", p.Payload)
	}
	if len(first.Sent()) != 0 {
		t.Error("published through the stale connection")
	}
}

func TestApp_Apply(t *testing.T) {
	t.Parallel()
	corr := transcript.NewCorrector(nil)
	cfg := testConfig()
	cfg.Tutor.Enabled = true
	a, err := New(context.Background(), cfg, &Providers{
		STT:   &sttmock.Provider{},
		LLM:   &llmmock.Provider{},
		Audio: &audiomock.Platform{},
	}, WithMetrics(newTestMetrics(t)), WithCorrector(corr))
	if err != nil {
		t.Fatal(err)
	}

	next := testConfig()
	next.Tutor.Enabled = true
	next.Pipeline.QuietInterval = time.Second
	next.Pipeline.TimerMode = "reset_on_append"
	next.Pipeline.Vocabulary = []string{"fotosíntesis"}
	a.Apply(config.Diff(cfg, next), next)

	a.mu.Lock()
	quiet, mode := a.quiet, a.mode
	a.mu.Unlock()
	if quiet != time.Second || mode.String() != "reset_on_append" {
		t.Errorf("turn settings = %v/%v", quiet, mode)
	}
	if got, _ := corr.Apply("la fotosintesis"); got != "la fotosíntesis" {
		t.Errorf("corrector not updated: %q", got)
	}
}

func TestApp_ShutdownRunsClosersOnce(t *testing.T) {
	t.Parallel()
	var calls int
	errClose := errors.New("flush failed")
	a, err := New(context.Background(), testConfig(), &Providers{
		STT:   &sttmock.Provider{},
		Audio: &audiomock.Platform{},
	}, WithMetrics(newTestMetrics(t)), WithCloser(func() error { calls++; return errClose }))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Shutdown(context.Background()); !errors.Is(err, errClose) {
		t.Errorf("Shutdown = %v, want closer error", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown = %v", err)
	}
	if calls != 1 {
		t.Errorf("closer calls = %d, want 1", calls)
	}
}
