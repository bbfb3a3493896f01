package tutor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/aulavoz/voicetutor/internal/pipeline"
	"github.com/aulavoz/voicetutor/pkg/audio/mock"
	"github.com/aulavoz/voicetutor/pkg/provider/llm"
	llmmock "github.com/aulavoz/voicetutor/pkg/provider/llm/mock"
	ttsmock "github.com/aulavoz/voicetutor/pkg/provider/tts/mock"
	"github.com/aulavoz/voicetutor/pkg/types"
)

func result(participant, text string) pipeline.Result {
	return pipeline.Result{Participant: participant, Seq: 1, Transcript: types.Transcript{Text: text}}
}

func newTutor(t *testing.T, cfg Config) (*Tutor, *mock.Connection) {
	t.Helper()
	conn := mock.NewConnection()
	if cfg.Metrics == nil {
		cfg.Metrics, _ = newTestMetrics(t)
	}
	cfg.Publisher = pipeline.NewPublisher(conn, AnswerTopic, cfg.Metrics)
	tu, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tu, conn
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	m, _ := newTestMetrics(t)
	pub := pipeline.NewPublisher(mock.NewConnection(), AnswerTopic, m)
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no llm", Config{Publisher: pub}},
		{"no publisher", Config{LLM: &llmmock.Provider{}}},
		{"tts without output", Config{LLM: &llmmock.Provider{}, Publisher: pub, TTS: &ttsmock.Provider{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestAnswer_PublishesLimitedAnswer(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{Responses: []*llm.CompletionResponse{
		{Content: "Uno. Dos. Tres. Cuatro. Cinco."},
	}}
	tu, conn := newTutor(t, Config{LLM: p, Instructions: "Eres un tutor."})

	if err := tu.Answer(context.Background(), result("alice", "  ¿Qué es la mitosis? ")); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	sent := conn.Sent()
	if len(sent) != 1 {
		t.Fatalf("published %d messages, want 1", len(sent))
	}
	if sent[0].Topic != "answer" || string(sent[0].Payload) != "Uno. Dos. Tres. Cuatro." {
		t.Errorf("published %q on %q", sent[0].Payload, sent[0].Topic)
	}

	req := p.CompleteCalls()[0]
	if !strings.HasPrefix(req.SystemPrompt, "Eres un tutor.") || !strings.Contains(req.SystemPrompt, "como máximo 4 frases") {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if len(req.Tools) != 0 {
		t.Error("tools offered without a document source")
	}
	if last := req.Messages[len(req.Messages)-1]; last.Role != "user" || last.Content != "¿Qué es la mitosis?" {
		t.Errorf("last message = %+v", last)
	}
}

func TestAnswer_HistoryPerParticipant(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: "Respuesta."}}}
	tu, _ := newTutor(t, Config{LLM: p})
	ctx := context.Background()

	_ = tu.Answer(ctx, result("alice", "Primera."))
	_ = tu.Answer(ctx, result("alice", "Segunda."))
	_ = tu.Answer(ctx, result("bob", "Hola."))

	calls := p.CompleteCalls()
	if got := len(calls[1].Messages); got != 3 {
		t.Errorf("alice's second request has %d messages, want 3", got)
	}
	if got := len(calls[2].Messages); got != 1 {
		t.Errorf("bob's first request has %d messages, want 1", got)
	}

	tu.Forget("alice")
	_ = tu.Answer(ctx, result("alice", "Otra vez."))
	if got := len(p.CompleteCalls()[3].Messages); got != 1 {
		t.Errorf("after Forget alice's request has %d messages, want 1", got)
	}
}

func TestAnswer_EmptyTranscriptIsIgnored(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{}
	tu, conn := newTutor(t, Config{LLM: p})

	if err := tu.Answer(context.Background(), result("alice", "   ")); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(p.CompleteCalls()) != 0 || len(conn.Sent()) != 0 {
		t.Fatal("blank transcript reached the model")
	}
}

func TestAnswer_Failures(t *testing.T) {
	t.Parallel()
	errLLM := errors.New("rate limited")
	tests := []struct {
		name    string
		p       *llmmock.Provider
		wantErr error
	}{
		{"llm error", &llmmock.Provider{CompleteErr: errLLM}, errLLM},
		{"empty answer", &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: " "}}}, ErrEmptyAnswer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tu, conn := newTutor(t, Config{LLM: tt.p})
			err := tu.Answer(context.Background(), result("alice", "Hola."))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if len(conn.Sent()) != 0 {
				t.Error("failed answer was published")
			}
		})
	}
}

// scriptedLLM answers document questions with qa and tutor requests from
// turns in order.
type scriptedLLM struct {
	llmmock.Provider
	mu    sync.Mutex
	qa    string
	turns []*llm.CompletionResponse
	n     int
}

func newScriptedLLM(qa string, turns ...*llm.CompletionResponse) *scriptedLLM {
	s := &scriptedLLM{qa: qa, turns: turns}
	s.ModelCapabilities = types.ModelCapabilities{SupportsToolCalling: true}
	s.CompleteFunc = func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if req.SystemPrompt == documentQAPrompt {
			return &llm.CompletionResponse{Content: s.qa}, nil
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		r := s.turns[min(s.n, len(s.turns)-1)]
		s.n++
		return r, nil
	}
	return s
}

func (s *scriptedLLM) tutorCalls() []llm.CompletionRequest {
	var out []llm.CompletionRequest
	for _, c := range s.CompleteCalls() {
		if c.SystemPrompt != documentQAPrompt {
			out = append(out, c)
		}
	}
	return out
}

func TestAnswer_ConsultDocumentRoundTrip(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	p := newScriptedLLM("La mitosis tiene cuatro fases.",
		&llm.CompletionResponse{ToolCalls: []types.ToolCall{{
			ID: "call-1", Name: ConsultDocumentTool, Arguments: `{"question":"¿Cuántas fases tiene la mitosis?"}`,
		}}},
		&llm.CompletionResponse{Content: "Según tu documento, la mitosis tiene cuatro fases."},
	)
	tu, conn := newTutor(t, Config{
		LLM:       p,
		Documents: docs{"doc-1": "Resumen: la mitosis se divide en profase, metafase, anafase y telofase."},
		Metrics:   m,
	})
	tu.SetDocument("alice", "doc-1")

	if err := tu.Answer(context.Background(), result("alice", "¿Cuántas fases tiene la mitosis?")); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if got := string(conn.Sent()[0].Payload); got != "Según tu documento, la mitosis tiene cuatro fases." {
		t.Errorf("published %q", got)
	}

	calls := p.tutorCalls()
	if len(calls) != 2 {
		t.Fatalf("tutor completions = %d, want 2", len(calls))
	}
	if len(calls[0].Tools) != 1 || calls[0].Tools[0].Name != ConsultDocumentTool {
		t.Errorf("tools = %+v", calls[0].Tools)
	}
	msgs := calls[1].Messages
	call, reply := msgs[len(msgs)-2], msgs[len(msgs)-1]
	if call.Role != "assistant" || len(call.ToolCalls) != 1 {
		t.Errorf("assistant tool call message = %+v", call)
	}
	if reply.Role != "tool" || reply.ToolCallID != "call-1" || reply.Content != "La mitosis tiene cuatro fases." {
		t.Errorf("tool reply = %+v", reply)
	}

	for _, c := range p.CompleteCalls() {
		if c.SystemPrompt == documentQAPrompt && !strings.Contains(c.Messages[0].Content, "profase") {
			t.Errorf("document question missing the summary: %q", c.Messages[0].Content)
		}
	}
	if got := toolCalls(t, reader, "ok"); got != 1 {
		t.Errorf("tool.calls{status=ok} = %d, want 1", got)
	}
}

func TestAnswer_ToolRoundsAreBounded(t *testing.T) {
	t.Parallel()
	p := newScriptedLLM("dato", &llm.CompletionResponse{
		Content:   "Respuesta final.",
		ToolCalls: []types.ToolCall{{ID: "c", Name: ConsultDocumentTool, Arguments: `{"question":"x"}`}},
	})
	tu, conn := newTutor(t, Config{LLM: p, Documents: docs{"d": "s"}, DefaultDocument: "d"})

	if err := tu.Answer(context.Background(), result("alice", "Hola.")); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	calls := p.tutorCalls()
	if len(calls) != maxToolRounds+1 {
		t.Fatalf("tutor completions = %d, want %d", len(calls), maxToolRounds+1)
	}
	if len(calls[maxToolRounds].Tools) != 0 {
		t.Error("last round should not offer tools")
	}
	if got := string(conn.Sent()[0].Payload); got != "Respuesta final." {
		t.Errorf("published %q", got)
	}
}

func TestConsultDocument(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		args       string
		doc        string
		qaErr      error
		wantReply  string
		wantStatus string
	}{
		{"ok", `{"question":"¿Qué es?"}`, "doc-1", nil, "respuesta", "ok"},
		{"no document", `{"question":"¿Qué es?"}`, "", nil, replyNoDocument, "no_document"},
		{"unknown document", `{"question":"¿Qué es?"}`, "missing", nil, replyNotFound, "not_found"},
		{"model error", `{"question":"¿Qué es?"}`, "doc-1", errors.New("boom"), replyConsultError, "error"},
		{"missing question", `{}`, "doc-1", nil, "Falta la pregunta para consultar el documento.", "error"},
		{"malformed arguments", `{`, "doc-1", nil, "Falta la pregunta para consultar el documento.", "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, reader := newTestMetrics(t)
			p := &llmmock.Provider{
				Responses:   []*llm.CompletionResponse{{Content: "respuesta"}},
				CompleteErr: tt.qaErr,
			}
			tu, _ := newTutor(t, Config{LLM: p, Documents: docs{"doc-1": "resumen"}, Metrics: m})
			tu.SetDocument("alice", tt.doc)

			got := tu.consultDocument(context.Background(), "alice", types.ToolCall{ID: "1", Name: ConsultDocumentTool, Arguments: tt.args})
			if got != tt.wantReply {
				t.Errorf("reply = %q, want %q", got, tt.wantReply)
			}
			if n := toolCalls(t, reader, tt.wantStatus); n != 1 {
				t.Errorf("tool.calls{status=%s} = %d, want 1", tt.wantStatus, n)
			}
		})
	}
}

func TestDocumentFor_DefaultAndOverride(t *testing.T) {
	t.Parallel()
	tu, _ := newTutor(t, Config{LLM: &llmmock.Provider{}, DefaultDocument: "general"})

	if got := tu.documentFor("alice"); got != "general" {
		t.Errorf("default = %q", got)
	}
	tu.SetDocument("alice", "biologia")
	if got := tu.documentFor("alice"); got != "biologia" {
		t.Errorf("override = %q", got)
	}
	tu.SetDocument("alice", "")
	if got := tu.documentFor("alice"); got != "general" {
		t.Errorf("after clear = %q", got)
	}
	tu.SetDefaultDocument("quimica")
	if got := tu.documentFor("bob"); got != "quimica" {
		t.Errorf("new default = %q", got)
	}
}

func TestAnswer_Speaks(t *testing.T) {
	t.Parallel()
	conn := mock.NewConnection()
	m, _ := newTestMetrics(t)
	tts := &ttsmock.Provider{Chunks: [][]byte{make([]byte, 640)}}
	tu, err := New(Config{
		LLM:       &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: "Hola. Adiós."}}},
		Publisher: pipeline.NewPublisher(conn, AnswerTopic, m),
		TTS:       tts,
		Output:    conn.OutputStream(),
		Metrics:   m,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := tu.Answer(context.Background(), result("alice", "Hola.")); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	select {
	case f := <-conn.Output():
		if len(f.Samples) != 320 {
			t.Errorf("frame has %d samples, want 320", len(f.Samples))
		}
	default:
		t.Fatal("no audio written")
	}
	if got := tts.Texts(); len(got) != 2 {
		t.Errorf("synthesised %q, want two sentences", got)
	}
}
