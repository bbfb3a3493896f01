package tutor

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/aulavoz/voicetutor/pkg/audio"
)

// frameMillis is the length of the frames written to the output stream.
const frameMillis = 20

// Sentences splits text after '.', '!', '?' and '…' when followed by
// whitespace or the end of text. Opening '¿' and '¡' stay with their
// sentence. Empty pieces are dropped.
func Sentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	for i, r := range runes {
		if !strings.ContainsRune(".!?…", r) {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

// LimitSentences keeps the first n sentences of text. n <= 0 keeps all.
func LimitSentences(text string, n int) string {
	s := Sentences(text)
	if n > 0 && len(s) > n {
		s = s[:n]
	}
	return strings.Join(s, " ")
}

// speak synthesises text and writes it to the output stream in 20 ms mono
// frames at the TTS sample rate. It returns when all audio was written.
func (t *Tutor) speak(ctx context.Context, text string) error {
	sentences := Sentences(text)
	if len(sentences) == 0 {
		return nil
	}
	textCh := make(chan string, len(sentences))
	for _, s := range sentences {
		textCh <- s
	}
	close(textCh)

	start := time.Now()
	pcm, err := t.tts.SynthesizeStream(ctx, textCh, t.voice)
	if err != nil {
		return fmt.Errorf("tutor: synthesize: %w", err)
	}
	defer audio.Drain(pcm)

	rate := t.tts.SampleRate()
	frameLen := rate * frameMillis / 1000
	var (
		pending []int16
		carry   []byte
		first   = true
	)
	emit := func(samples []int16) error {
		select {
		case t.output <- audio.AudioFrame{Samples: samples, SampleRate: rate, Channels: 1}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for chunk := range pcm {
		if first {
			t.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
			first = false
		}
		if len(carry) > 0 {
			chunk = append(carry, chunk...)
			carry = nil
		}
		if len(chunk)%2 == 1 {
			carry = []byte{chunk[len(chunk)-1]}
			chunk = chunk[:len(chunk)-1]
		}
		pending = append(pending, audio.BytesToSamples(chunk)...)
		for len(pending) >= frameLen {
			if err := emit(pending[:frameLen:frameLen]); err != nil {
				return err
			}
			pending = pending[frameLen:]
		}
	}
	if len(pending) > 0 {
		if err := emit(pending); err != nil {
			return err
		}
	}
	return ctx.Err()
}
