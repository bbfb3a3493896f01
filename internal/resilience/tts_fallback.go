package resilience

import (
	"context"
	"fmt"

	"github.com/aulavoz/voicetutor/pkg/provider/tts"
	"github.com/aulavoz/voicetutor/pkg/types"
)

// TTSFallback implements [tts.Provider] with failover across several TTS
// backends. All backends must produce PCM at the same sample rate.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider. It fails when provider's
// sample rate differs from the primary's, since callers size their playback
// for a single rate.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) error {
	want, got := f.SampleRate(), provider.SampleRate()
	if got != want {
		return fmt.Errorf("resilience: tts fallback %q: sample rate %d, primary uses %d", name, got, want)
	}
	f.group.AddFallback(name, provider)
	return nil
}

// Breakers returns the backends' circuit breakers in try order.
func (f *TTSFallback) Breakers() []*CircuitBreaker { return f.group.Breakers() }

// SynthesizeStream starts synthesis on the first healthy provider. Only
// stream setup is covered by failover. The text channel is shared, so a
// provider that fails after reading fragments loses them.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
}

// SampleRate reports the primary's output rate.
func (f *TTSFallback) SampleRate() int {
	return f.group.Primary().SampleRate()
}
