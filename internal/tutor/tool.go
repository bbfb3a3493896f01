package tutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aulavoz/voicetutor/internal/observe"
	"github.com/aulavoz/voicetutor/pkg/provider/llm"
	"github.com/aulavoz/voicetutor/pkg/types"
)

// ConsultDocumentTool is the name of the tool that answers questions against
// the student's study document.
const ConsultDocumentTool = "consult_document"

const documentQAPrompt = "Eres un asistente experto en responder preguntas sobre documentos de estudio."

// Replies returned to the model when the tool cannot answer. They are
// phrased for the model, which relays them to the student.
const (
	replyNoDocument   = "No hay un documento vinculado a esta sesión."
	replyNotFound     = "No encontré el documento del estudiante."
	replyConsultError = "Hubo un error al consultar el documento."
	replyEmptyAnswer  = "No pude generar una respuesta a partir del documento."
)

// ErrDocumentNotFound is returned by a [DocumentSource] for unknown IDs.
var ErrDocumentNotFound = errors.New("tutor: document not found")

// DocumentSource resolves a document ID to its summary.
type DocumentSource interface {
	Summary(ctx context.Context, id string) (string, error)
}

func consultDocumentDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        ConsultDocumentTool,
		Description: "Consulta el resumen del documento de estudio del estudiante para responder dudas específicas sobre su contenido.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"question": map[string]any{
					"type":        "string",
					"description": "La pregunta del estudiante sobre el documento.",
				},
			},
			"required": []string{"question"},
		},
	}
}

type consultArgs struct {
	Question string `json:"question"`
}

// consultDocument runs the tool for participant. It always returns text for
// the model; failures are logged and counted, never returned.
func (t *Tutor) consultDocument(ctx context.Context, participant string, call types.ToolCall) string {
	log := observe.Logger(ctx).With("participant", participant, "tool", ConsultDocumentTool)
	status := "error"
	defer func() { t.metrics.RecordToolCall(ctx, ConsultDocumentTool, status) }()

	var args consultArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil || strings.TrimSpace(args.Question) == "" {
		log.Warn("tool call without a question", "arguments", call.Arguments)
		return "Falta la pregunta para consultar el documento."
	}

	docID := t.documentFor(participant)
	if docID == "" || t.docs == nil {
		status = "no_document"
		return replyNoDocument
	}

	summary, err := t.docs.Summary(ctx, docID)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			status = "not_found"
			log.Warn("document not found", "document", docID)
			return replyNotFound
		}
		log.Error("load document summary", "document", docID, "error", err)
		return replyConsultError
	}

	start := time.Now()
	resp, err := t.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: documentQAPrompt,
		Messages: []types.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Documento:\n%s\n\nPregunta: %s", summary, args.Question),
		}},
	})
	t.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		log.Error("consult document", "document", docID, "error", err)
		return replyConsultError
	}
	status = "ok"
	if answer := strings.TrimSpace(resp.Content); answer != "" {
		return answer
	}
	return replyEmptyAnswer
}
