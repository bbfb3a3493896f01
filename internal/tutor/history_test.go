package tutor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aulavoz/voicetutor/pkg/provider/llm"
	llmmock "github.com/aulavoz/voicetutor/pkg/provider/llm/mock"
	"github.com/aulavoz/voicetutor/pkg/types"
)

type stubSummariser struct {
	summary string
	err     error
	got     [][]types.Message
}

func (s *stubSummariser) Summarise(_ context.Context, msgs []types.Message) (string, error) {
	s.got = append(s.got, msgs)
	return s.summary, s.err
}

// msg builds a message of exactly tokens estimated tokens.
func msg(role string, tokens int) types.Message {
	return types.Message{Role: role, Content: strings.Repeat("a", tokens*charsPerToken-len(role))}
}

func TestHistory_BelowThresholdKeepsEverything(t *testing.T) {
	t.Parallel()
	h := NewHistory(HistoryConfig{MaxTokens: 100})
	if err := h.Add(context.Background(), msg("user", 10), msg("assistant", 10)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := len(h.Messages()); got != 2 {
		t.Fatalf("len(Messages()) = %d, want 2", got)
	}
	if h.TokenEstimate() != 20 {
		t.Fatalf("TokenEstimate() = %d, want 20", h.TokenEstimate())
	}
}

func TestHistory_CondensesOldestHalf(t *testing.T) {
	t.Parallel()
	sum := &stubSummariser{summary: "hablaron de la célula"}
	h := NewHistory(HistoryConfig{MaxTokens: 100, Summariser: sum})

	ctx := context.Background()
	for range 4 {
		if err := h.Add(ctx, msg("user", 10), msg("assistant", 10)); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	// 80 tokens > 75: the oldest 4 messages were condensed.
	if len(sum.got) != 1 || len(sum.got[0]) != 4 {
		t.Fatalf("summariser calls = %v, want one call with 4 messages", sum.got)
	}

	got := h.Messages()
	if len(got) != 5 {
		t.Fatalf("len(Messages()) = %d, want 1 summary + 4 messages", len(got))
	}
	if got[0].Role != "system" || !strings.Contains(got[0].Content, "hablaron de la célula") {
		t.Errorf("first message = %+v, want summary", got[0])
	}
	if got[1].Role != "user" {
		t.Errorf("retained history starts with %q, want user", got[1].Role)
	}
	want := 40 + len("hablaron de la célula")/charsPerToken
	if h.TokenEstimate() != want {
		t.Errorf("TokenEstimate() = %d, want %d", h.TokenEstimate(), want)
	}
}

func TestHistory_KeepsPairsTogether(t *testing.T) {
	t.Parallel()
	sum := &stubSummariser{summary: "x"}
	h := NewHistory(HistoryConfig{MaxTokens: 40, Summariser: sum})

	// Three messages: half is 1, which would split the first pair.
	_ = h.Add(context.Background(), msg("user", 10), msg("assistant", 10), msg("user", 11))
	if len(sum.got) != 1 || len(sum.got[0]) != 2 {
		t.Fatalf("condensed %v, want the first user/assistant pair", sum.got)
	}
}

func TestHistory_SummariserFailureKeepsMessages(t *testing.T) {
	t.Parallel()
	errLLM := errors.New("llm down")
	h := NewHistory(HistoryConfig{MaxTokens: 10, Summariser: &stubSummariser{err: errLLM}})

	err := h.Add(context.Background(), msg("user", 10), msg("assistant", 10))
	if !errors.Is(err, errLLM) {
		t.Fatalf("err = %v, want %v", err, errLLM)
	}
	if len(h.Messages()) != 2 {
		t.Fatal("messages should be kept when condensation fails")
	}
}

func TestHistory_NoSummariserDrops(t *testing.T) {
	t.Parallel()
	h := NewHistory(HistoryConfig{MaxTokens: 20})
	_ = h.Add(context.Background(), msg("user", 5), msg("assistant", 5), msg("user", 10))

	got := h.Messages()
	if len(got) != 1 || got[0].Role != "user" {
		t.Fatalf("Messages() = %+v, want only the latest question", got)
	}
	if h.TokenEstimate() != 10 {
		t.Errorf("TokenEstimate() = %d, want 10", h.TokenEstimate())
	}
}

func TestHistory_Reset(t *testing.T) {
	t.Parallel()
	h := NewHistory(HistoryConfig{})
	_ = h.Add(context.Background(), msg("user", 3))
	h.Reset()
	if len(h.Messages()) != 0 || h.TokenEstimate() != 0 {
		t.Fatal("Reset left state behind")
	}
}

func TestLLMSummariser(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: "  resumen  "}}}
	s := NewLLMSummariser(p)

	got, err := s.Summarise(context.Background(), []types.Message{
		{Role: "user", Content: "¿Qué es un átomo?"},
		{Role: "assistant", Content: "La unidad de la materia."},
	})
	if err != nil {
		t.Fatalf("Summarise: %v", err)
	}
	if got != "resumen" {
		t.Errorf("summary = %q, want %q", got, "resumen")
	}

	calls := p.CompleteCalls()
	if len(calls) != 1 {
		t.Fatalf("Complete calls = %d, want 1", len(calls))
	}
	body := calls[0].Messages[0].Content
	for _, want := range []string{"[estudiante]: ¿Qué es un átomo?", "[tutor]: La unidad de la materia."} {
		if !strings.Contains(body, want) {
			t.Errorf("prompt %q missing %q", body, want)
		}
	}

	if got, _ := s.Summarise(context.Background(), nil); got != "" {
		t.Errorf("empty input summary = %q", got)
	}
	if len(p.CompleteCalls()) != 1 {
		t.Error("empty input should not call the model")
	}
}
