// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/aulavoz/voicetutor/pkg/provider/stt"
	"github.com/aulavoz/voicetutor/pkg/types"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider with an in-process whisper.cpp
// model. The model is loaded once and shared; each call creates its own
// inference context.
type NativeProvider struct {
	model    whisperlib.Model
	language string

	// sem bounds concurrent inference; whisper.cpp contexts are CPU heavy.
	sem chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default language code. Defaults to "es".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeConcurrency sets how many inferences may run at once.
// Defaults to 1.
func WithNativeConcurrency(n int) NativeOption {
	return func(p *NativeProvider) {
		if n > 0 {
			p.sem = make(chan struct{}, n)
		}
	}
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the provider is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
		sem:      make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Calling it more than once is safe.
func (p *NativeProvider) Close() error {
	p.closeOnce.Do(func() {
		if p.model != nil {
			p.closeErr = p.model.Close()
		}
	})
	return p.closeErr
}

// Transcribe decodes req.Audio, resamples it to 16 kHz, and runs inference.
// ctx bounds the wait for an inference slot; once whisper.cpp starts
// processing it runs to completion.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) (types.Transcript, error) {
	samples, err := decodeMono16k(req.Audio)
	if err != nil {
		return types.Transcript{}, err
	}

	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return types.Transcript{}, fmt.Errorf("whisper: wait for inference slot: %w", ctx.Err())
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	text, err := p.infer(samplesToFloat32(samples), lang)
	if err != nil {
		return types.Transcript{}, err
	}
	return types.Transcript{
		Text:     text,
		Language: lang,
		Duration: req.Audio.Duration(),
	}, nil
}

// infer runs whisper.cpp on a fresh context and joins the segment texts.
func (p *NativeProvider) infer(samples []float32, lang string) (string, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using model default", "language", lang, "err", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
