package tutor

import (
	"context"
	"fmt"
	"strings"

	"github.com/aulavoz/voicetutor/pkg/provider/llm"
	"github.com/aulavoz/voicetutor/pkg/types"
)

const summarisationPrompt = `Resume la siguiente conversación entre un estudiante y su tutor.
Conserva las preguntas del estudiante, las explicaciones dadas, los errores que cometió
y los temas que quedaron pendientes de repaso. Sé conciso.`

// Summariser condenses a conversation segment.
type Summariser interface {
	Summarise(ctx context.Context, messages []types.Message) (string, error)
}

// LLMSummariser summarises with an LLM provider.
type LLMSummariser struct {
	llm llm.Provider
}

// NewLLMSummariser returns a [LLMSummariser] backed by p.
func NewLLMSummariser(p llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: p}
}

// Summarise formats messages as a transcript and asks the model for a
// summary.
func (s *LLMSummariser) Summarise(ctx context.Context, messages []types.Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, m := range messages {
		speaker := m.Role
		switch {
		case m.Name != "":
			speaker = m.Name
		case m.Role == "user":
			speaker = "estudiante"
		case m.Role == "assistant":
			speaker = "tutor"
		}
		fmt.Fprintf(&sb, "[%s]: %s\n", speaker, m.Content)
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarisationPrompt,
		Messages:     []types.Message{{Role: "user", Content: sb.String()}},
		Temperature:  0.3,
	})
	if err != nil {
		return "", fmt.Errorf("tutor: summarise: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}
