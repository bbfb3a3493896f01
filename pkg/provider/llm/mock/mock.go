// Package mock provides a test double for llm.Provider.
//
// Complete answers from Responses in order, which lets tests script a tool
// call round trip:
//
//	p := &mock.Provider{Responses: []*llm.CompletionResponse{
//	    {ToolCalls: []types.ToolCall{{ID: "1", Name: "consult_document"}}},
//	    {Content: "La respuesta."},
//	}}
package mock

import (
	"context"
	"sync"

	"github.com/aulavoz/voicetutor/pkg/provider/llm"
	"github.com/aulavoz/voicetutor/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// Provider is a scripted llm.Provider. Set fields before the first call.
type Provider struct {
	mu sync.Mutex

	// StreamChunks is emitted by every StreamCompletion call.
	StreamChunks []llm.Chunk

	// StreamErr is returned by StreamCompletion instead of a channel.
	StreamErr error

	// Responses are consumed by Complete in order. Once exhausted the last
	// response is repeated. Nil entries yield an empty response.
	Responses []*llm.CompletionResponse

	// CompleteFunc, when set, overrides Responses and CompleteErr.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// CompleteErr is returned by Complete.
	CompleteErr error

	ModelCapabilities types.ModelCapabilities

	streamCalls   []llm.CompletionRequest
	completeCalls []llm.CompletionRequest
}

// StreamCompletion records req and emits StreamChunks.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.streamCalls = append(p.streamCalls, req)
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := append([]llm.Chunk(nil), p.StreamChunks...)
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Complete records req and returns the next scripted response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	n := len(p.completeCalls)
	p.completeCalls = append(p.completeCalls, req)
	fn := p.CompleteFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if len(p.Responses) == 0 {
		return &llm.CompletionResponse{}, nil
	}
	if n >= len(p.Responses) {
		n = len(p.Responses) - 1
	}
	if p.Responses[n] == nil {
		return &llm.CompletionResponse{}, nil
	}
	resp := *p.Responses[n]
	return &resp, nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() types.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// CompleteCalls returns a copy of the requests passed to Complete.
func (p *Provider) CompleteCalls() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.CompletionRequest(nil), p.completeCalls...)
}

// StreamCalls returns a copy of the requests passed to StreamCompletion.
func (p *Provider) StreamCalls() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.CompletionRequest(nil), p.streamCalls...)
}

// Reset clears recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streamCalls = nil
	p.completeCalls = nil
}
