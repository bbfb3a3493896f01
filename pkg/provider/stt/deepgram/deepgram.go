// Package deepgram provides an STT provider backed by the Deepgram
// pre-recorded audio API (POST /v1/listen).
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aulavoz/voicetutor/pkg/provider/stt"
	"github.com/aulavoz/voicetutor/pkg/types"
)

const (
	defaultBaseURL  = "https://api.deepgram.com"
	defaultModel    = "nova-3"
	defaultLanguage = "es"
	defaultTimeout  = 30 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g. "nova-3", "nova-2").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default language code (e.g. "es", "en-US").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithBaseURL overrides the API origin. Used by tests and proxies.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithKeyterms adds vocabulary hints (nova-3 keyterm prompting), e.g.
// subject-specific terms from the study document.
func WithKeyterms(terms ...string) Option {
	return func(p *Provider) {
		p.keyterms = append(p.keyterms, terms...)
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

// Provider implements stt.Provider against Deepgram.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	language   string
	keyterms   []string
	httpClient *http.Client
}

// New creates a Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// listenResponse is the subset of the /v1/listen response we read.
type listenResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []struct {
					Word           string  `json:"word"`
					PunctuatedWord string  `json:"punctuated_word"`
					Start          float64 `json:"start"`
					End            float64 `json:"end"`
					Confidence     float64 `json:"confidence"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe uploads req.Audio as audio/wav and returns the first alternative
// of the first channel.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (types.Transcript, error) {
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	endpoint, err := p.buildURL(lang)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(req.Audio))
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+p.apiKey)
	httpReq.Header.Set("Content-Type", "audio/wav")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.Transcript{}, fmt.Errorf("deepgram: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var lr listenResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: decode response: %w", err)
	}
	return lr.toTranscript(lang), nil
}

func (p *Provider) buildURL(lang string) (string, error) {
	u, err := url.Parse(p.baseURL + "/v1/listen")
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	if lang == "multi" || lang == "" {
		q.Set("detect_language", "true")
	} else {
		q.Set("language", lang)
	}
	for _, kt := range p.keyterms {
		q.Add("keyterm", kt)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (lr listenResponse) toTranscript(lang string) types.Transcript {
	tr := types.Transcript{
		Language: lang,
		Duration: seconds(lr.Metadata.Duration),
	}
	if len(lr.Results.Channels) == 0 {
		return tr
	}
	ch := lr.Results.Channels[0]
	if ch.DetectedLanguage != "" {
		tr.Language = ch.DetectedLanguage
	}
	if len(ch.Alternatives) == 0 {
		return tr
	}
	alt := ch.Alternatives[0]
	tr.Text = strings.TrimSpace(alt.Transcript)
	tr.Confidence = alt.Confidence
	for _, w := range alt.Words {
		word := w.PunctuatedWord
		if word == "" {
			word = w.Word
		}
		tr.Words = append(tr.Words, types.WordDetail{
			Word:       word,
			Start:      seconds(w.Start),
			End:        seconds(w.End),
			Confidence: w.Confidence,
		})
	}
	return tr
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
