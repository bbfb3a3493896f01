// Package stt defines the Provider interface for speech-to-text backends.
//
// Transcription is batch-oriented: the turn pipeline decides where an
// utterance ends, encodes it as a WAV container, and hands the whole
// container to a Provider in one call. Providers wrap a remote service
// (whisper.cpp server, Deepgram, AssemblyAI, OpenAI) or a local model and
// return the recognised text.
//
// Implementations must be safe for concurrent use; several sessions may
// transcribe at once.
package stt

import (
	"context"

	"github.com/aulavoz/voicetutor/pkg/audio/wav"
	"github.com/aulavoz/voicetutor/pkg/types"
)

// Request is one utterance to transcribe.
type Request struct {
	// Audio is the encoded utterance (16-bit PCM WAV).
	Audio wav.Container

	// Path is the spool file holding the same container, if one was written.
	// Providers that can read from disk may use it; all providers must accept
	// Audio alone.
	Path string

	// Language is a BCP-47 language hint (e.g. "es"). Empty means the
	// provider's configured default or auto-detection.
	Language string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe blocks until the service returns text for req or fails.
	// An empty Transcript.Text with a nil error means no speech was recognised.
	// ctx cancellation aborts the request.
	Transcribe(ctx context.Context, req Request) (types.Transcript, error)
}
