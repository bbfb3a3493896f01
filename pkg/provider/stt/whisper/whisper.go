// Package whisper provides whisper.cpp-backed STT providers.
//
// [Provider] talks to a running whisper-server binary over its REST API
// (POST /inference). [NativeProvider] links whisper.cpp directly through the
// CGO bindings and runs inference in-process.
//
// whisper.cpp models expect 16 kHz mono audio. Both providers decode the
// incoming WAV container and resample it when its rate differs, unless the
// HTTP server was started with --convert and [WithServerConversion] is set.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("es"))
//	tr, err := p.Transcribe(ctx, stt.Request{Audio: container})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/aulavoz/voicetutor/pkg/audio/wav"
	"github.com/aulavoz/voicetutor/pkg/provider/stt"
	"github.com/aulavoz/voicetutor/pkg/types"
)

const (
	// modelSampleRate is the only rate whisper.cpp models accept.
	modelSampleRate = 16000

	defaultLanguage = "es"
	defaultTimeout  = 30 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the server (e.g. "small").
// When empty the server uses whichever model it was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default language code sent to the server. A
// per-request language takes precedence. Defaults to "es".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the HTTP client timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// WithServerConversion sends containers unchanged and relies on the server
// (started with --convert) to resample them.
func WithServerConversion() Option {
	return func(p *Provider) {
		p.serverConverts = true
	}
}

// Provider implements stt.Provider against a whisper.cpp HTTP server.
type Provider struct {
	serverURL      string
	model          string
	language       string
	serverConverts bool
	httpClient     *http.Client
}

// New creates a Provider for the whisper.cpp server at serverURL
// (e.g. "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe posts req.Audio to the /inference endpoint as multipart form data.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (types.Transcript, error) {
	container := req.Audio
	if !p.serverConverts {
		var err error
		if container, err = to16k(req.Audio); err != nil {
			return types.Transcript{}, err
		}
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(container); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: write wav data: %w", err)
	}
	fields := [][2]string{{"response_format", "json"}, {"language", lang}, {"model", p.model}}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return types.Transcript{}, fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.Transcript{}, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return types.Transcript{
		Text:     strings.TrimSpace(result.Text),
		Language: lang,
		Duration: req.Audio.Duration(),
	}, nil
}
