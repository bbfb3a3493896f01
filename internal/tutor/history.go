package tutor

import (
	"context"
	"fmt"
	"sync"

	"github.com/aulavoz/voicetutor/pkg/types"
)

// charsPerToken is the heuristic ratio used for token estimation. Spanish
// and English both average roughly four characters per token, which avoids a
// tokenizer dependency.
const charsPerToken = 4

// DefaultHistoryTokens bounds a participant's history when none is configured.
const DefaultHistoryTokens = 4000

// History is one student's conversation with the tutor, bounded by an
// estimated token budget.
//
// When the estimate exceeds thresholdRatio × maxTokens, the oldest half of
// the messages is condensed by the [Summariser] into a summary that is
// replayed ahead of the remaining messages. Without a summariser the oldest
// half is simply dropped.
//
// All methods are safe for concurrent use.
type History struct {
	maxTokens      int
	thresholdRatio float64
	summariser     Summariser

	mu            sync.Mutex
	currentTokens int
	messages      []types.Message
	summaries     []string
	condensing    bool
}

// HistoryConfig configures a [History].
type HistoryConfig struct {
	// MaxTokens is the token budget. Defaults to [DefaultHistoryTokens].
	MaxTokens int

	// ThresholdRatio is the fraction of MaxTokens at which the oldest half is
	// condensed. Defaults to 0.75.
	ThresholdRatio float64

	// Summariser condenses old messages. Nil drops them instead.
	Summariser Summariser
}

// NewHistory creates an empty [History].
func NewHistory(cfg HistoryConfig) *History {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultHistoryTokens
	}
	if cfg.ThresholdRatio <= 0 {
		cfg.ThresholdRatio = 0.75
	}
	return &History{
		maxTokens:      cfg.MaxTokens,
		thresholdRatio: cfg.ThresholdRatio,
		summariser:     cfg.Summariser,
	}
}

// Add appends msgs and condenses the oldest half once the budget threshold
// is crossed. On summariser failure the messages are kept and the error
// returned; the next Add tries again.
func (h *History) Add(ctx context.Context, msgs ...types.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, m := range msgs {
		h.messages = append(h.messages, m)
		h.currentTokens += estimateTokens(m)
	}

	threshold := int(float64(h.maxTokens) * h.thresholdRatio)
	if h.currentTokens > threshold && len(h.messages) > 1 && !h.condensing {
		if err := h.condenseOldest(ctx); err != nil {
			return fmt.Errorf("tutor: condense history: %w", err)
		}
	}
	return nil
}

// Messages returns summaries as system messages followed by the retained
// conversation, ready to prepend to a completion request.
func (h *History) Messages() []types.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]types.Message, 0, len(h.summaries)+len(h.messages))
	for _, s := range h.summaries {
		out = append(out, types.Message{
			Role:    "system",
			Content: "Resumen de la conversación anterior: " + s,
		})
	}
	return append(out, h.messages...)
}

// TokenEstimate returns the estimated size of the history.
func (h *History) TokenEstimate() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentTokens
}

// Reset forgets everything.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
	h.summaries = nil
	h.currentTokens = 0
}

// condenseOldest must be called with h.mu held. The lock is released during
// the summariser call.
func (h *History) condenseOldest(ctx context.Context) error {
	half := max(len(h.messages)/2, 1)

	// Keep user/assistant pairs together.
	if half < len(h.messages) && h.messages[half].Role == "assistant" {
		half++
	}

	old := make([]types.Message, half)
	copy(old, h.messages[:half])

	var summary string
	if h.summariser != nil {
		h.condensing = true
		h.mu.Unlock()
		s, err := h.summariser.Summarise(ctx, old)
		h.mu.Lock()
		h.condensing = false
		if err != nil {
			return err
		}
		summary = s
	}

	// Messages may have been appended while unlocked; only the prefix we
	// condensed is removed.
	removed := 0
	for _, m := range h.messages[:half] {
		removed += estimateTokens(m)
	}
	h.messages = h.messages[half:]
	h.currentTokens -= removed

	if summary != "" {
		h.summaries = append(h.summaries, summary)
		h.currentTokens += len(summary) / charsPerToken
	}
	return nil
}

func estimateTokens(m types.Message) int {
	chars := len(m.Content) + len(m.Role) + len(m.Name)
	for _, tc := range m.ToolCalls {
		chars += len(tc.Name) + len(tc.Arguments) + len(tc.ID)
	}
	tokens := chars / charsPerToken
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}
