package whisper

import (
	"fmt"

	"github.com/aulavoz/voicetutor/pkg/audio"
	"github.com/aulavoz/voicetutor/pkg/audio/wav"
)

// decodeMono16k decodes a WAV container and returns mono 16 kHz samples.
func decodeMono16k(c wav.Container) ([]int16, error) {
	samples, f, err := wav.Decode(c)
	if err != nil {
		return nil, fmt.Errorf("whisper: decode container: %w", err)
	}
	if f.Channels == 2 {
		samples = audio.StereoToMono(samples)
	} else if f.Channels > 2 {
		return nil, fmt.Errorf("whisper: unsupported channel count %d", f.Channels)
	}
	return audio.Resample(samples, 1, int(f.SampleRate), modelSampleRate), nil
}

// to16k returns c unchanged when it already is 16 kHz mono, and a re-encoded
// copy otherwise.
func to16k(c wav.Container) (wav.Container, error) {
	_, f, err := wav.Decode(c[:min(len(c), wav.HeaderSize)])
	if err != nil {
		return nil, fmt.Errorf("whisper: decode container: %w", err)
	}
	if f.SampleRate == modelSampleRate && f.Channels == 1 {
		return c, nil
	}
	samples, err := decodeMono16k(c)
	if err != nil {
		return nil, err
	}
	return wav.Encode(samples, modelSampleRate), nil
}

// samplesToFloat32 normalises int16 samples to [-1.0, 1.0).
func samplesToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}
