// Package openai provides an STT provider backed by the OpenAI audio
// transcription endpoint (whisper-1, gpt-4o-transcribe) or a compatible
// server such as a self-hosted faster-whisper.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/aulavoz/voicetutor/pkg/provider/stt"
	"github.com/aulavoz/voicetutor/pkg/types"
)

const defaultLanguage = "es"

var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using openai-go.
type Provider struct {
	client   oai.Client
	model    oai.AudioModel
	language string
	prompt   string
}

// Option is a functional option for Provider.
type Option func(*Provider, *[]option.RequestOption)

// WithModel selects the transcription model. Defaults to "whisper-1".
func WithModel(model string) Option {
	return func(p *Provider, _ *[]option.RequestOption) { p.model = oai.AudioModel(model) }
}

// WithLanguage sets the default ISO-639-1 language hint. Defaults to "es".
func WithLanguage(lang string) Option {
	return func(p *Provider, _ *[]option.RequestOption) { p.language = lang }
}

// WithPrompt biases recognition towards vocabulary such as course names.
func WithPrompt(prompt string) Option {
	return func(p *Provider, _ *[]option.RequestOption) { p.prompt = prompt }
}

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(_ *Provider, ro *[]option.RequestOption) { *ro = append(*ro, option.WithBaseURL(url)) }
}

// WithRequestTimeout bounds each HTTP attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(_ *Provider, ro *[]option.RequestOption) { *ro = append(*ro, option.WithRequestTimeout(d)) }
}

// WithMaxRetries overrides the SDK retry count.
func WithMaxRetries(n int) Option {
	return func(_ *Provider, ro *[]option.RequestOption) { *ro = append(*ro, option.WithMaxRetries(n)) }
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	p := &Provider{model: oai.AudioModelWhisper1, language: defaultLanguage}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(p, &reqOpts)
	}
	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// Transcribe uploads req.Audio as audio.wav and returns the recognised text.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (types.Transcript, error) {
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(req.Audio), "audio.wav", "audio/wav"),
		Model: p.model,
	}
	if lang != "" && lang != "auto" {
		params.Language = oai.String(lang)
	}
	if p.prompt != "" {
		params.Prompt = oai.String(p.prompt)
	}

	start := time.Now()
	res, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("openai stt: transcribe: %w", err)
	}

	tr := types.Transcript{
		Text:     strings.TrimSpace(res.Text),
		Language: lang,
		Duration: req.Audio.Duration(),
	}
	if tr.Duration == 0 {
		tr.Duration = time.Since(start)
	}
	return tr, nil
}
