// Package types defines the values shared between providers, the turn pipeline,
// and the tutor. Each package keeps its own domain types; only data that
// crosses package boundaries lives here to avoid import cycles.
package types

import "time"

// Transcript is the text a speech-to-text provider produced for one utterance.
type Transcript struct {
	// Text is the recognised speech. It is empty when the provider heard nothing.
	Text string

	// Language is the detected or requested language code (e.g. "es").
	// Empty when the provider does not report it.
	Language string

	// Confidence is the overall confidence score in [0, 1]. Zero means the
	// provider does not report confidence.
	Confidence float64

	// Words contains per-word timing when the provider returns it.
	Words []WordDetail

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// WordDetail holds per-word metadata from providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Message is one turn in an LLM conversation.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text of the message.
	Content string

	// Name optionally identifies the speaker of a user or assistant message.
	Name string

	// ToolCalls is set on assistant messages that request tool invocations.
	ToolCalls []ToolCall

	// ToolCallID links a "tool" message to the call it answers.
	ToolCallID string
}

// ToolCall is a single function invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ToolDefinition describes a function the model may call.
type ToolDefinition struct {
	Name        string
	Description string

	// Parameters is a JSON Schema object describing the arguments.
	Parameters map[string]any
}

// VoiceProfile selects a synthesis voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is a human-readable label.
	Name string

	// Provider names the TTS backend the voice belongs to.
	Provider string

	// SpeedFactor scales the speaking rate. 0 and 1.0 both mean default.
	SpeedFactor float64
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	ContextWindow       int
	MaxOutputTokens     int
	SupportsToolCalling bool
	SupportsStreaming   bool
}
