package livekit

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/aulavoz/voicetutor/pkg/audio"
)

// LiveKit negotiates 48 kHz stereo Opus for microphone tracks.
const (
	opusSampleRate = 48000
	opusChannels   = 2

	// opusFrameSize is samples per channel in one 20 ms output frame.
	opusFrameSize = opusSampleRate / 50

	// maxFrameSize covers the longest Opus packet (120 ms).
	maxFrameSize = opusSampleRate * 120 / 1000

	maxPacketBytes = 4000
)

// opusDecoder turns one participant's Opus packets into 48 kHz mono PCM.
// Decoder state carries across packets, so each track needs its own.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("livekit: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

func (d *opusDecoder) decode(packet []byte) ([]int16, error) {
	stereo, err := d.dec.Decode(packet, maxFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("livekit: opus decode: %w", err)
	}
	return audio.StereoToMono(stereo), nil
}

// opusEncoder turns 20 ms of 48 kHz mono PCM into one Opus packet.
type opusEncoder struct {
	enc *gopus.Encoder
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("livekit: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode expects exactly opusFrameSize mono samples.
func (e *opusEncoder) encode(mono []int16) ([]byte, error) {
	if len(mono) != opusFrameSize {
		return nil, fmt.Errorf("livekit: opus encode: got %d samples, want %d", len(mono), opusFrameSize)
	}
	pkt, err := e.enc.Encode(audio.MonoToStereo(mono), opusFrameSize, maxPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("livekit: opus encode: %w", err)
	}
	return pkt, nil
}
