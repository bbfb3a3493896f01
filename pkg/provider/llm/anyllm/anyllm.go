// Package anyllm provides an llm.Provider backed by
// github.com/mozilla-ai/any-llm-go, which fronts Anthropic, Gemini, Ollama,
// Mistral, Groq, DeepSeek and local llama.cpp servers behind one API.
//
//	p, err := anyllm.New("ollama", "llama3.1:8b", anyllmlib.WithBaseURL("http://gpu:11434"))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/aulavoz/voicetutor/pkg/provider/llm"
	"github.com/aulavoz/voicetutor/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// backends maps a configured provider name to its any-llm-go constructor.
var backends = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
}

// Backends lists the provider names New accepts, sorted.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Provider implements llm.Provider on top of an any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

// New creates a Provider for backend name and model. Without an API key
// option the backend falls back to its usual environment variable
// (ANTHROPIC_API_KEY, GEMINI_API_KEY, ...).
func New(name, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if name == "" {
		return nil, errors.New("anyllm: provider name must not be empty")
	}
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}
	ctor, ok := backends[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported provider %q; supported: %s", name, strings.Join(Backends(), ", "))
	}
	backend, err := ctor(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", name, err)
	}
	return &Provider{backend: backend, name: strings.ToLower(name), model: model}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s completion: no choices", p.name)
	}

	msg := resp.Choices[0].Message
	out := &llm.CompletionResponse{Content: msg.ContentString()}
	if resp.Usage != nil {
		out.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	chunks, errs := p.backend.CompletionStream(ctx, params)

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		send := func(c llm.Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var calls []*types.ToolCall
		for chunk := range chunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			for i, frag := range choice.Delta.ToolCalls {
				for len(calls) <= i {
					calls = append(calls, &types.ToolCall{})
				}
				if frag.ID != "" {
					calls[i].ID = frag.ID
				}
				if frag.Function.Name != "" {
					calls[i].Name = frag.Function.Name
				}
				calls[i].Arguments += frag.Function.Arguments
			}

			out := llm.Chunk{Text: choice.Delta.Content, FinishReason: choice.FinishReason}
			if out.FinishReason != "" {
				for _, tc := range calls {
					out.ToolCalls = append(out.ToolCalls, *tc)
				}
			}
			if !send(out) {
				return
			}
		}
		if err := <-errs; err != nil {
			send(llm.Chunk{FinishReason: llm.FinishReasonError, Text: err.Error()})
		}
	}()
	return ch, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return modelCapabilities(p.model)
}

func (p *Provider) buildParams(req llm.CompletionRequest) (anyllmlib.CompletionParams, error) {
	if len(req.Messages) == 0 {
		return anyllmlib.CompletionParams{}, errors.New("anyllm: request has no messages")
	}

	params := anyllmlib.CompletionParams{Model: p.model}
	if req.SystemPrompt != "" {
		params.Messages = append(params.Messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		params.Messages = append(params.Messages, convertMessage(m))
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		n := req.MaxTokens
		params.MaxTokens = &n
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, anyllmlib.Tool{
			Type: "function",
			Function: anyllmlib.Function{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}
	return params, nil
}

func convertMessage(m types.Message) anyllmlib.Message {
	msg := anyllmlib.Message{
		Role:       m.Role,
		Content:    m.Content,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, anyllmlib.ToolCall{
			ID:       tc.ID,
			Type:     "function",
			Function: anyllmlib.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
		})
	}
	return msg
}

// modelFamilies is checked in order; the first substring match wins.
var modelFamilies = []struct {
	match string
	caps  types.ModelCapabilities
}{
	{"gpt-4o", types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384, SupportsToolCalling: true, SupportsStreaming: true}},
	{"o1-mini", types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 65_536, SupportsStreaming: true}},
	{"claude-3-opus", types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 4_096, SupportsToolCalling: true, SupportsStreaming: true}},
	{"claude", types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 8_192, SupportsToolCalling: true, SupportsStreaming: true}},
	{"gemini-1.5-pro", types.ModelCapabilities{ContextWindow: 2_097_152, MaxOutputTokens: 8_192, SupportsToolCalling: true, SupportsStreaming: true}},
	{"gemini-2", types.ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192, SupportsToolCalling: true, SupportsStreaming: true}},
	{"gemini", types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 8_192, SupportsToolCalling: true, SupportsStreaming: true}},
	{"mistral", types.ModelCapabilities{ContextWindow: 32_000, MaxOutputTokens: 8_192, SupportsToolCalling: true, SupportsStreaming: true}},
}

func modelCapabilities(model string) types.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, f := range modelFamilies {
		if strings.Contains(lower, f.match) {
			return f.caps
		}
	}
	return types.ModelCapabilities{
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
		SupportsToolCalling: true,
		SupportsStreaming:   true,
	}
}
