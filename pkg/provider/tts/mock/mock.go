// Package mock provides a test double for tts.Provider.
//
// SynthesizeStream drains the text channel, records every fragment, and emits
// Chunks once the text channel is closed.
package mock

import (
	"context"
	"sync"

	"github.com/aulavoz/voicetutor/pkg/provider/tts"
	"github.com/aulavoz/voicetutor/pkg/types"
)

var _ tts.Provider = (*Provider)(nil)

// Provider is a scripted tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks are emitted after the text channel closes.
	Chunks [][]byte

	// Err is returned by SynthesizeStream.
	Err error

	// Rate is returned by SampleRate. Zero reports 16000.
	Rate int

	texts  []string
	voices []types.VoiceProfile
}

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.voices = append(p.voices, voice)
	if p.Err != nil {
		err := p.Err
		p.mu.Unlock()
		return nil, err
	}
	chunks := append([][]byte(nil), p.Chunks...)
	p.mu.Unlock()

	out := make(chan []byte, len(chunks))
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-text:
				if !ok {
					for _, c := range chunks {
						select {
						case out <- c:
						case <-ctx.Done():
							return
						}
					}
					return
				}
				p.mu.Lock()
				p.texts = append(p.texts, s)
				p.mu.Unlock()
			}
		}
	}()
	return out, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Rate == 0 {
		return 16000
	}
	return p.Rate
}

// Texts returns every fragment received so far.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}

// Voices returns the voice passed to each SynthesizeStream call.
func (p *Provider) Voices() []types.VoiceProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.VoiceProfile(nil), p.voices...)
}
