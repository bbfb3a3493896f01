// Package tts defines the Provider interface for text-to-speech backends that
// voice the tutor's answers back into the room.
package tts

import (
	"context"

	"github.com/aulavoz/voicetutor/pkg/types"
)

// Provider turns a stream of text fragments into raw PCM.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// SynthesizeStream reads sentences from text until it is closed and emits
	// little-endian signed 16-bit mono PCM at SampleRate. The audio channel is
	// closed when synthesis finishes or ctx is cancelled.
	SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error)

	// SampleRate is the rate of the PCM emitted by SynthesizeStream.
	SampleRate() int
}
