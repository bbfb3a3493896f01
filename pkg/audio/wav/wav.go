// Package wav encodes and decodes 16-bit linear PCM RIFF/WAVE containers.
//
// [Encode] produces the canonical 44-byte header layout followed by the raw
// little-endian sample payload. The layout is bit-exact so that any standard
// decoder (and every transcription backend) can read the result.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// HeaderSize is the length of the canonical PCM WAV header in bytes.
const HeaderSize = 44

const (
	bitsPerSample  = 16
	bytesPerSample = bitsPerSample / 8
	formatPCM      = 1
	fmtChunkSize   = 16
)

// Sentinel errors returned by [Decode].
var (
	ErrShortHeader = errors.New("wav: data shorter than 44-byte header")
	ErrNotWAV      = errors.New("wav: missing RIFF/WAVE tags")
	ErrUnsupported = errors.New("wav: only 16-bit linear PCM is supported")
)

// Container is an encoded WAV file: header plus sample payload.
// Treat it as immutable once produced.
type Container []byte

// Format is the audio format declared in a container header.
type Format struct {
	SampleRate    uint32
	Channels      uint16
	BitsPerSample uint16
}

// SampleCount returns the number of samples declared by the data chunk size.
func (c Container) SampleCount() int {
	if len(c) < HeaderSize {
		return 0
	}
	return int(binary.LittleEndian.Uint32(c[40:44])) / bytesPerSample
}

// Duration returns the playback length declared by the header.
func (c Container) Duration() time.Duration {
	if len(c) < HeaderSize {
		return 0
	}
	rate := binary.LittleEndian.Uint32(c[24:28])
	channels := binary.LittleEndian.Uint16(c[22:24])
	if rate == 0 || channels == 0 {
		return 0
	}
	frames := c.SampleCount() / int(channels)
	return time.Duration(frames) * time.Second / time.Duration(rate)
}

// Encode wraps mono 16-bit samples in a WAV container.
//
// Layout (all integers little-endian):
//
//	0  "RIFF"   4  36+2N   8  "WAVE"
//	12 "fmt "   16 16      20 1 (PCM)   22 1 (mono)
//	24 rate     28 rate*2  32 2         34 16
//	36 "data"   40 2N      44 samples
//
// An empty sample slice yields a valid 44-byte container declaring sizes 36 and 0.
func Encode(samples []int16, sampleRate uint32) Container {
	const channels = 1
	dataSize := len(samples) * bytesPerSample

	buf := make([]byte, HeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], fmtChunkSize)
	binary.LittleEndian.PutUint16(buf[20:22], formatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], sampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], sampleRate*channels*bytesPerSample)
	binary.LittleEndian.PutUint16(buf[32:34], channels*bytesPerSample)
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[HeaderSize+i*bytesPerSample:], uint16(s))
	}
	return buf
}

// Decode parses a canonical 16-bit PCM container and returns its samples and
// format. A data chunk size larger than the payload is clamped to what is
// actually present, which matches how streaming writers leave headers.
func Decode(data []byte) ([]int16, Format, error) {
	if len(data) < HeaderSize {
		return nil, Format{}, ErrShortHeader
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" ||
		string(data[12:16]) != "fmt " || string(data[36:40]) != "data" {
		return nil, Format{}, ErrNotWAV
	}
	f := Format{
		Channels:      binary.LittleEndian.Uint16(data[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(data[24:28]),
		BitsPerSample: binary.LittleEndian.Uint16(data[34:36]),
	}
	if binary.LittleEndian.Uint16(data[20:22]) != formatPCM || f.BitsPerSample != bitsPerSample {
		return nil, f, ErrUnsupported
	}
	if f.Channels == 0 || f.SampleRate == 0 {
		return nil, f, fmt.Errorf("wav: invalid format %d Hz %d ch", f.SampleRate, f.Channels)
	}

	size := int(binary.LittleEndian.Uint32(data[40:44]))
	if avail := len(data) - HeaderSize; size > avail {
		size = avail
	}
	samples := make([]int16, size/bytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[HeaderSize+i*bytesPerSample:]))
	}
	return samples, f, nil
}

// WriteFile replaces the file at path with c, creating missing parent
// directories. The data is written to a temporary file in the same directory
// and renamed into place, so readers never observe a partially written
// container.
func WriteFile(path string, c Container) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("wav: create spool dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".wav-*")
	if err != nil {
		return fmt.Errorf("wav: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(c); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("wav: write %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("wav: close %q: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("wav: rename to %q: %w", path, err)
	}
	return nil
}
