// Package llm defines the Provider interface for chat-completion backends used
// by the tutor and the document summariser.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion are closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/aulavoz/voicetutor/pkg/types"
)

// FinishReasonError marks a streamed Chunk that carries a mid-stream failure
// in its Text field.
const FinishReasonError = "error"

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
type CompletionRequest struct {
	// Messages is the ordered conversation. Must be non-empty.
	Messages []types.Message

	// Tools offered to the model. Ignored by providers whose model does not
	// support tool calling.
	Tools []types.ToolDefinition

	// Temperature in [0, 2]. Zero uses the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int

	// SystemPrompt is sent ahead of Messages with the "system" role.
	SystemPrompt string
}

// Chunk is one fragment of a streamed completion.
type Chunk struct {
	Text string

	// FinishReason is empty on intermediate chunks. "stop", "length",
	// "tool_calls" or FinishReasonError on the last one.
	FinishReason string

	ToolCalls []types.ToolCall
}

// CompletionResponse is the result of a non-streaming Complete call.
type CompletionResponse struct {
	// Content is empty when the model answered only with tool calls.
	Content   string
	ToolCalls []types.ToolCall
	Usage     Usage
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// StreamCompletion starts a streamed completion. Errors that happen after
	// the stream opened arrive as a Chunk with FinishReason FinishReasonError.
	// The returned channel is never nil when err is nil and callers must drain
	// it.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities reports static model metadata.
	Capabilities() types.ModelCapabilities
}
