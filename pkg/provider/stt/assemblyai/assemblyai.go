// Package assemblyai provides an STT provider backed by the AssemblyAI
// asynchronous transcription API.
//
// Each call uploads the container (POST /v2/upload), creates a transcript job
// (POST /v2/transcript), and polls GET /v2/transcript/{id} until the job is
// completed or has failed.
package assemblyai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aulavoz/voicetutor/pkg/provider/stt"
	"github.com/aulavoz/voicetutor/pkg/types"
)

const (
	defaultBaseURL      = "https://api.assemblyai.com"
	defaultLanguage     = "es"
	defaultPollInterval = 500 * time.Millisecond
)

// ErrTranscriptFailed wraps the error message of a job that ended with
// status "error".
var ErrTranscriptFailed = errors.New("assemblyai: transcript failed")

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithBaseURL overrides the API origin.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(u, "/") }
}

// WithLanguage sets the default language code. Defaults to "es".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSpeechModel selects the AssemblyAI speech model (e.g. "universal").
// Empty uses the account default.
func WithSpeechModel(model string) Option {
	return func(p *Provider) { p.speechModel = model }
}

// WithPollInterval sets the delay between status polls. Defaults to 500 ms.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.pollInterval = d
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

// Provider implements stt.Provider against AssemblyAI.
type Provider struct {
	apiKey       string
	baseURL      string
	language     string
	speechModel  string
	pollInterval time.Duration
	httpClient   *http.Client
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("assemblyai: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		language:     defaultLanguage,
		pollInterval: defaultPollInterval,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type transcriptJob struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	Text          string  `json:"text"`
	Confidence    float64 `json:"confidence"`
	LanguageCode  string  `json:"language_code"`
	AudioDuration float64 `json:"audio_duration"`
	Error         string  `json:"error"`
	Words         []struct {
		Text       string  `json:"text"`
		Start      int64   `json:"start"`
		End        int64   `json:"end"`
		Confidence float64 `json:"confidence"`
	} `json:"words"`
}

// Transcribe uploads req.Audio and waits for the transcript. ctx bounds the
// whole exchange including polling.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (types.Transcript, error) {
	uploadURL, err := p.upload(ctx, req.Audio)
	if err != nil {
		return types.Transcript{}, err
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	create := map[string]any{"audio_url": uploadURL}
	if lang == "auto" {
		create["language_detection"] = true
	} else {
		create["language_code"] = lang
	}
	if p.speechModel != "" {
		create["speech_model"] = p.speechModel
	}

	var job transcriptJob
	if err := p.doJSON(ctx, http.MethodPost, "/v2/transcript", create, &job); err != nil {
		return types.Transcript{}, fmt.Errorf("assemblyai: create transcript: %w", err)
	}
	if job.ID == "" {
		return types.Transcript{}, errors.New("assemblyai: create transcript: empty job id")
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		switch job.Status {
		case "completed":
			return job.toTranscript(), nil
		case "error":
			return types.Transcript{}, fmt.Errorf("%w: %s", ErrTranscriptFailed, job.Error)
		}
		select {
		case <-ctx.Done():
			return types.Transcript{}, fmt.Errorf("assemblyai: poll transcript %s: %w", job.ID, ctx.Err())
		case <-ticker.C:
		}
		if err := p.doJSON(ctx, http.MethodGet, "/v2/transcript/"+job.ID, nil, &job); err != nil {
			return types.Transcript{}, fmt.Errorf("assemblyai: poll transcript: %w", err)
		}
	}
}

// upload sends the raw container bytes and returns the private upload URL.
func (p *Provider) upload(ctx context.Context, audio []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v2/upload", bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("assemblyai: create upload request: %w", err)
	}
	req.Header.Set("Authorization", p.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	var out struct {
		UploadURL string `json:"upload_url"`
	}
	if err := p.do(req, &out); err != nil {
		return "", fmt.Errorf("assemblyai: upload: %w", err)
	}
	if out.UploadURL == "" {
		return "", errors.New("assemblyai: upload: empty upload_url")
	}
	return out.UploadURL, nil
}

func (p *Provider) doJSON(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", p.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return p.do(req, out)
}

func (p *Provider) do(req *http.Request, out any) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (j transcriptJob) toTranscript() types.Transcript {
	tr := types.Transcript{
		Text:       strings.TrimSpace(j.Text),
		Language:   j.LanguageCode,
		Confidence: j.Confidence,
		Duration:   time.Duration(j.AudioDuration * float64(time.Second)),
	}
	for _, w := range j.Words {
		tr.Words = append(tr.Words, types.WordDetail{
			Word:       w.Text,
			Start:      time.Duration(w.Start) * time.Millisecond,
			End:        time.Duration(w.End) * time.Millisecond,
			Confidence: w.Confidence,
		})
	}
	return tr
}
