// Package tutor answers students' transcribed questions.
//
// For each transcript the [Tutor] asks the LLM for a short pedagogical reply,
// offering a consult_document tool that answers against the summary of the
// student's study document. The reply is published on the answer topic and,
// when a TTS provider is configured, spoken into the room.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aulavoz/voicetutor/internal/observe"
	"github.com/aulavoz/voicetutor/internal/pipeline"
	"github.com/aulavoz/voicetutor/pkg/audio"
	"github.com/aulavoz/voicetutor/pkg/provider/llm"
	"github.com/aulavoz/voicetutor/pkg/provider/tts"
	"github.com/aulavoz/voicetutor/pkg/types"
)

// AnswerTopic is the default data-channel topic for answers.
const AnswerTopic = "answer"

// DefaultMaxSentences caps spoken answers.
const DefaultMaxSentences = 4

// maxToolRounds bounds tool-call round trips per answer.
const maxToolRounds = 3

// DefaultInstructions is the tutor's system prompt.
const DefaultInstructions = `Eres un tutor de estudio por voz conectado a una sala en vivo.
Tu función es ayudar a los estudiantes a comprender el contenido de sus documentos y prepararse para exámenes orales.

Estilo:
- Responde de forma clara, breve y pedagógica.
- Usa un tono motivador y profesional, como un profesor que toma una lección.
- Evita símbolos, emojis y formato: solo texto simple, porque tu respuesta se lee en voz alta.

Comportamiento:
- Cuando el estudiante pregunte sobre su documento, usa la herramienta consult_document.
- Si la respuesta no está en el documento, dilo y ofrece una explicación general.
- Haz preguntas de repaso cuando tenga sentido.
- Si el estudiante duda o responde mal, explícale con paciencia y con ejemplos.`

// ErrEmptyAnswer is returned when the model produced no text.
var ErrEmptyAnswer = errors.New("tutor: empty answer")

// Config holds the dependencies and settings of a [Tutor].
type Config struct {
	// LLM answers questions. Required.
	LLM llm.Provider

	// Publisher sends answers to the room. Required.
	Publisher *pipeline.Publisher

	// TTS and Output together enable spoken answers.
	TTS    tts.Provider
	Output chan<- audio.AudioFrame
	Voice  types.VoiceProfile

	// Documents resolves document IDs for the consult_document tool.
	Documents DocumentSource

	// DefaultDocument is used for students whose metadata names none.
	DefaultDocument string

	Instructions  string
	MaxSentences  int
	HistoryTokens int
	Temperature   float64

	Metrics *observe.Metrics
}

// Tutor implements [pipeline.Answerer]. It keeps one [History] per student.
type Tutor struct {
	llm       llm.Provider
	publisher *pipeline.Publisher
	tts       tts.Provider
	output    chan<- audio.AudioFrame
	voice     types.VoiceProfile
	docs      DocumentSource
	metrics   *observe.Metrics

	historyTokens int
	temperature   float64
	summariser    Summariser

	mu           sync.Mutex
	instructions string
	maxSentences int
	defaultDoc   string
	documents    map[string]string
	histories    map[string]*History
	speaking     sync.Mutex
}

var _ pipeline.Answerer = (*Tutor)(nil)

// New validates cfg and returns a Tutor.
func New(cfg Config) (*Tutor, error) {
	var errs []error
	if cfg.LLM == nil {
		errs = append(errs, errors.New("llm provider is nil"))
	}
	if cfg.Publisher == nil {
		errs = append(errs, errors.New("publisher is nil"))
	}
	if (cfg.TTS == nil) != (cfg.Output == nil) {
		errs = append(errs, errors.New("tts provider and output stream must be set together"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("tutor: %w", err)
	}
	if cfg.Instructions == "" {
		cfg.Instructions = DefaultInstructions
	}
	if cfg.MaxSentences <= 0 {
		cfg.MaxSentences = DefaultMaxSentences
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Tutor{
		llm:           cfg.LLM,
		publisher:     cfg.Publisher,
		tts:           cfg.TTS,
		output:        cfg.Output,
		voice:         cfg.Voice,
		docs:          cfg.Documents,
		metrics:       cfg.Metrics,
		historyTokens: cfg.HistoryTokens,
		temperature:   cfg.Temperature,
		summariser:    NewLLMSummariser(cfg.LLM),
		instructions:  cfg.Instructions,
		maxSentences:  cfg.MaxSentences,
		defaultDoc:    cfg.DefaultDocument,
		documents:     make(map[string]string),
		histories:     make(map[string]*History),
	}, nil
}

// SetInstructions replaces the system prompt for subsequent answers.
func (t *Tutor) SetInstructions(s string) {
	if s == "" {
		s = DefaultInstructions
	}
	t.mu.Lock()
	t.instructions = s
	t.mu.Unlock()
}

// SetMaxSentences changes the answer length cap.
func (t *Tutor) SetMaxSentences(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	t.maxSentences = n
	t.mu.Unlock()
}

// SetDocument links participant to a document ID. An empty id reverts to
// the default document.
func (t *Tutor) SetDocument(participant, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id == "" {
		delete(t.documents, participant)
		return
	}
	t.documents[participant] = id
}

// SetDefaultDocument changes the document used for students whose metadata
// names none.
func (t *Tutor) SetDefaultDocument(id string) {
	t.mu.Lock()
	t.defaultDoc = id
	t.mu.Unlock()
}

// Forget drops the participant's history and document link.
func (t *Tutor) Forget(participant string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.documents, participant)
	delete(t.histories, participant)
}

func (t *Tutor) documentFor(participant string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.documents[participant]; ok {
		return id
	}
	return t.defaultDoc
}

func (t *Tutor) historyFor(participant string) *History {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.histories[participant]
	if !ok {
		h = NewHistory(HistoryConfig{MaxTokens: t.historyTokens, Summariser: t.summariser})
		t.histories[participant] = h
	}
	return h
}

func (t *Tutor) settings() (instructions string, maxSentences int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.instructions, t.maxSentences
}

// Answer implements [pipeline.Answerer].
func (t *Tutor) Answer(ctx context.Context, r pipeline.Result) error {
	question := strings.TrimSpace(r.Transcript.Text)
	if question == "" {
		return nil
	}
	ctx, span := observe.StartSpan(ctx, "tutor.answer", trace.WithAttributes(
		attribute.String("participant", r.Participant),
		attribute.Int64("seq", int64(r.Seq)),
	))
	defer span.End()

	answer, err := t.complete(ctx, r.Participant, question)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if err := t.publisher.Publish(ctx, answer); err != nil {
		observe.Logger(ctx).Error("publish answer", "participant", r.Participant, "error", err)
	}

	hist := t.historyFor(r.Participant)
	if err := hist.Add(ctx,
		types.Message{Role: "user", Content: question},
		types.Message{Role: "assistant", Content: answer},
	); err != nil {
		observe.Logger(ctx).Warn("history not condensed", "participant", r.Participant, "error", err)
	}

	if t.tts == nil {
		return nil
	}
	// One voice: answers to different students are spoken one after another.
	t.speaking.Lock()
	defer t.speaking.Unlock()
	return t.speak(ctx, answer)
}

// complete runs the LLM with tool rounds and returns the trimmed answer.
func (t *Tutor) complete(ctx context.Context, participant, question string) (string, error) {
	instructions, maxSentences := t.settings()
	system := fmt.Sprintf("%s\n\nResponde en como máximo %d frases.", instructions, maxSentences)

	msgs := append(t.historyFor(participant).Messages(), types.Message{Role: "user", Content: question})
	var tools []types.ToolDefinition
	if t.docs != nil && t.llm.Capabilities().SupportsToolCalling {
		tools = []types.ToolDefinition{consultDocumentDefinition()}
	}

	for round := 0; ; round++ {
		req := llm.CompletionRequest{
			SystemPrompt: system,
			Messages:     msgs,
			Temperature:  t.temperature,
		}
		// The last round withholds tools so the model has to answer.
		if round < maxToolRounds {
			req.Tools = tools
		}

		start := time.Now()
		resp, err := t.llm.Complete(ctx, req)
		t.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			return "", fmt.Errorf("tutor: complete: %w", err)
		}

		if len(resp.ToolCalls) == 0 || round >= maxToolRounds {
			answer := LimitSentences(resp.Content, maxSentences)
			if answer == "" {
				return "", ErrEmptyAnswer
			}
			return answer, nil
		}

		msgs = append(msgs, types.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			var out string
			if call.Name == ConsultDocumentTool {
				out = t.consultDocument(ctx, participant, call)
			} else {
				t.metrics.RecordToolCall(ctx, call.Name, "unknown")
				out = fmt.Sprintf("Herramienta desconocida: %s", call.Name)
			}
			msgs = append(msgs, types.Message{Role: "tool", ToolCallID: call.ID, Name: call.Name, Content: out})
		}
	}
}
