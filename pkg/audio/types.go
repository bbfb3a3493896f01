package audio

import "time"

// AudioFrame is one chunk of signed 16-bit PCM as delivered by the transport.
// Frames for speech input are 48 kHz mono; the transport downmixes before
// handing them out.
type AudioFrame struct {
	// Samples holds interleaved int16 PCM samples.
	Samples []int16

	// SampleRate in Hz (48000 for LiveKit Opus decode output).
	SampleRate int

	// Channels is 1 for speech input and TTS output.
	Channels int

	// Timestamp marks when the frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Len returns the number of samples in the frame.
func (f AudioFrame) Len() int { return len(f.Samples) }

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	perChannel := len(f.Samples) / f.Channels
	return time.Duration(perChannel) * time.Second / time.Duration(f.SampleRate)
}
