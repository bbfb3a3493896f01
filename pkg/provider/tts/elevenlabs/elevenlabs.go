// Package elevenlabs provides a TTS provider on the ElevenLabs stream-input
// WebSocket API.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/aulavoz/voicetutor/pkg/provider/tts"
	"github.com/aulavoz/voicetutor/pkg/types"
)

const (
	defaultBaseURL = "wss://api.elevenlabs.io"
	defaultModel   = "eleven_flash_v2_5"
	defaultRate    = 16000
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for the Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithSampleRate selects the pcm_<rate> output format. ElevenLabs accepts
// 16000, 22050, 24000 and 44100.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.rate = rate }
}

// WithBaseURL overrides the WebSocket origin (ws:// or wss://).
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(u, "/") }
}

// WithVoiceSettings sets stability and similarity boost sent with the first
// fragment.
func WithVoiceSettings(stability, similarity float64) Option {
	return func(p *Provider) { p.settings = voiceSettings{Stability: stability, SimilarityBoost: similarity} }
}

// Provider implements tts.Provider.
type Provider struct {
	apiKey   string
	model    string
	rate     int
	baseURL  string
	settings voiceSettings
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		rate:     defaultRate,
		baseURL:  defaultBaseURL,
		settings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int { return p.rate }

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

type outbound struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
	Flush         bool           `json:"flush,omitempty"`
}

type inbound struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

func (p *Provider) streamURL(voiceID string) string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", "pcm_"+strconv.Itoa(p.rate))
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", p.baseURL, url.PathEscape(voiceID), q.Encode())
}

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice ID must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voice.ID), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	conn.SetReadLimit(1 << 22)

	settings := p.settings
	if voice.SpeedFactor > 0 && voice.SpeedFactor != 1 {
		settings.Speed = voice.SpeedFactor
	}
	// The opening message must carry a single space.
	if err := writeJSON(ctx, conn, outbound{Text: " ", VoiceSettings: &settings, XiAPIKey: p.apiKey}); err != nil {
		conn.Close(websocket.StatusInternalError, "init failed")
		return nil, fmt.Errorf("elevenlabs: init stream: %w", err)
	}

	audioCh := make(chan []byte, 64)
	readDone := make(chan struct{})

	go func() {
		defer close(readDone)
		defer close(audioCh)
		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var in inbound
			if err := json.Unmarshal(msg, &in); err != nil {
				slog.Debug("elevenlabs: skip undecodable message", "err", err)
				continue
			}
			if in.Message != "" && in.Audio == "" {
				slog.Warn("elevenlabs: server message", "message", in.Message)
			}
			if in.Audio != "" {
				pcm, err := base64.StdEncoding.DecodeString(in.Audio)
				if err != nil {
					continue
				}
				select {
				case audioCh <- pcm:
				case <-ctx.Done():
					return
				}
			}
			if in.IsFinal {
				return
			}
		}
	}()

	go func() {
		defer conn.Close(websocket.StatusNormalClosure, "done")
		for {
			select {
			case <-ctx.Done():
				return
			case <-readDone:
				return
			case s, ok := <-text:
				if !ok {
					// Empty text closes the input side; the server then
					// drains remaining audio and sends isFinal.
					if err := writeJSON(ctx, conn, outbound{Text: ""}); err != nil {
						return
					}
					<-readDone
					return
				}
				if strings.TrimSpace(s) == "" {
					continue
				}
				// Trailing space lets the server chunk on word boundaries.
				if err := writeJSON(ctx, conn, outbound{Text: s + " ", Flush: true}); err != nil {
					return
				}
			}
		}
	}()

	return audioCh, nil
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}
