package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "48000Hz mono".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// FormatConverter converts frames to a target format, warning once on the
// first mismatch. Create one per stream; it is not safe for shared use.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
}

// Convert returns frame in the target format. Frames already in the target
// format are returned unchanged. Resampling happens before channel
// conversion so that stereo input is never resampled twice.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", Format{SampleRate: frame.SampleRate, Channels: frame.Channels}.String(),
			"to", c.Target.String(),
		)
	})

	samples := frame.Samples
	if frame.SampleRate != c.Target.SampleRate {
		samples = Resample(samples, frame.Channels, frame.SampleRate, c.Target.SampleRate)
	}
	switch {
	case frame.Channels == 1 && c.Target.Channels == 2:
		samples = MonoToStereo(samples)
	case frame.Channels == 2 && c.Target.Channels == 1:
		samples = StereoToMono(samples)
	}

	return AudioFrame{
		Samples:    samples,
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(mono []int16) []int16 {
	out := make([]int16, len(mono)*2)
	for i, s := range mono {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// StereoToMono averages each L+R pair. A trailing unpaired sample is ignored.
func StereoToMono(stereo []int16) []int16 {
	out := make([]int16, len(stereo)/2)
	for i := range out {
		// The mean of two int16 values always fits in int16.
		out[i] = int16((int32(stereo[i*2]) + int32(stereo[i*2+1])) / 2)
	}
	return out
}

// Resample converts interleaved PCM from srcRate to dstRate with linear
// interpolation per channel. Non-positive rates or equal rates return the
// input unchanged.
func Resample(samples []int16, channels, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return samples
	}
	srcFrames := len(samples) / channels
	if srcFrames == 0 {
		return samples
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]int16, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			s0 := float64(samples[idx*channels+ch])
			s1 := float64(samples[next*channels+ch])
			out[i*channels+ch] = int16(s0*(1-frac) + s1*frac)
		}
	}
	return out
}

// BytesToSamples decodes little-endian int16 PCM. A trailing odd byte is ignored.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// SamplesToBytes encodes samples as little-endian int16 PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
