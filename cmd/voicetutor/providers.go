package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/aulavoz/voicetutor/internal/app"
	"github.com/aulavoz/voicetutor/internal/config"
	"github.com/aulavoz/voicetutor/internal/observe"
	"github.com/aulavoz/voicetutor/internal/resilience"
	"github.com/aulavoz/voicetutor/pkg/audio"
	"github.com/aulavoz/voicetutor/pkg/audio/livekit"
	"github.com/aulavoz/voicetutor/pkg/provider/llm"
	"github.com/aulavoz/voicetutor/pkg/provider/llm/anyllm"
	oallm "github.com/aulavoz/voicetutor/pkg/provider/llm/openai"
	"github.com/aulavoz/voicetutor/pkg/provider/stt"
	"github.com/aulavoz/voicetutor/pkg/provider/stt/assemblyai"
	"github.com/aulavoz/voicetutor/pkg/provider/stt/deepgram"
	oastt "github.com/aulavoz/voicetutor/pkg/provider/stt/openai"
	"github.com/aulavoz/voicetutor/pkg/provider/stt/whisper"
	"github.com/aulavoz/voicetutor/pkg/provider/tts"
	"github.com/aulavoz/voicetutor/pkg/provider/tts/elevenlabs"
)

// anyLLMProviders share one factory: optional APIKey and BaseURL.
var anyLLMProviders = []string{"anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// registerBuiltinProviders wires every built-in factory into reg. STT
// factories receive the pipeline vocabulary as recognition hints where the
// service supports them.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	vocab := cfg.Pipeline.Vocabulary
	language := func(e config.ProviderEntry) string {
		if l := e.Option("language"); l != "" {
			return l
		}
		return cfg.Pipeline.Language
	}

	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if e.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(e.BaseURL))
		}
		if org := e.Option("organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(e.APIKey, e.Model, opts...)
	})
	for _, name := range anyLLMProviders {
		reg.RegisterLLM(name, func(e config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(name, e.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────
	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		if l := language(e); l != "" {
			opts = append(opts, whisper.WithLanguage(l))
		}
		if d := e.OptionDuration("timeout", 0); d > 0 {
			opts = append(opts, whisper.WithTimeout(d))
		}
		if e.Option("convert") == "server" {
			opts = append(opts, whisper.WithServerConversion())
		}
		return whisper.New(e.BaseURL, opts...)
	})
	reg.RegisterSTT("whisper-native", func(e config.ProviderEntry) (stt.Provider, error) {
		modelPath := e.Model
		if modelPath == "" {
			modelPath = e.Option("model_path")
		}
		opts := []whisper.NativeOption{whisper.WithNativeConcurrency(e.OptionInt("concurrency", 1))}
		if l := language(e); l != "" {
			opts = append(opts, whisper.WithNativeLanguage(l))
		}
		return whisper.NewNative(modelPath, opts...)
	})
	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		if l := language(e); l != "" {
			opts = append(opts, deepgram.WithLanguage(l))
		}
		if e.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(e.BaseURL))
		}
		if len(vocab) > 0 {
			opts = append(opts, deepgram.WithKeyterms(vocab...))
		}
		return deepgram.New(e.APIKey, opts...)
	})
	reg.RegisterSTT("assemblyai", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []assemblyai.Option
		if e.Model != "" {
			opts = append(opts, assemblyai.WithSpeechModel(e.Model))
		}
		if l := language(e); l != "" {
			opts = append(opts, assemblyai.WithLanguage(l))
		}
		if e.BaseURL != "" {
			opts = append(opts, assemblyai.WithBaseURL(e.BaseURL))
		}
		if d := e.OptionDuration("poll_interval", 0); d > 0 {
			opts = append(opts, assemblyai.WithPollInterval(d))
		}
		return assemblyai.New(e.APIKey, opts...)
	})
	reg.RegisterSTT("openai", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if e.Model != "" {
			opts = append(opts, oastt.WithModel(e.Model))
		}
		if l := language(e); l != "" {
			opts = append(opts, oastt.WithLanguage(l))
		}
		if e.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(e.BaseURL))
		}
		if len(vocab) > 0 {
			opts = append(opts, oastt.WithPrompt(strings.Join(vocab, ", ")))
		}
		return oastt.New(e.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(e.BaseURL))
		}
		if rate := e.OptionInt("sample_rate", 0); rate > 0 {
			opts = append(opts, elevenlabs.WithSampleRate(rate))
		}
		stability, okS := optFloat(e, "stability")
		similarity, okB := optFloat(e, "similarity_boost")
		if okS || okB {
			opts = append(opts, elevenlabs.WithVoiceSettings(stability, similarity))
		}
		return elevenlabs.New(e.APIKey, opts...)
	})

	// ── Audio ─────────────────────────────────────────────────────────────────
	reg.RegisterAudio("livekit", func(e config.ProviderEntry) (audio.Platform, error) {
		r := cfg.Room
		opts := []livekit.Option{livekit.WithParticipantName(r.Name)}
		if !cfg.Tutor.Enabled || cfg.Providers.TTS.Name == "" {
			opts = append(opts, livekit.WithoutVoice())
		}
		return livekit.New(r.URL, r.APIKey, r.APISecret, r.Identity, opts...)
	})

	for _, kind := range []string{"stt", "llm", "tts", "audio"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// builtProviders is the result of [buildProviders].
type builtProviders struct {
	providers *app.Providers

	// breakers holds each kind's circuit breakers for readiness checks.
	breakers map[string][]*resilience.CircuitBreaker

	// closers release providers that hold native resources.
	closers []func() error
}

// buildProviders instantiates every configured provider. STT, LLM and TTS
// are wrapped in fallback groups so each backend gets a circuit breaker and
// its attempts are counted.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*builtProviders, error) {
	b := &builtProviders{
		providers: &app.Providers{},
		breakers:  make(map[string][]*resilience.CircuitBreaker),
	}
	fallbackCfg := func(kind string) resilience.FallbackConfig {
		return resilience.FallbackConfig{
			OnAttempt: func(provider string, err error) {
				status := "ok"
				switch {
				case errors.Is(err, context.Canceled):
					status = "canceled"
				case err != nil:
					status = "error"
				}
				metrics.RecordProviderRequest(context.Background(), provider, kind, status)
			},
		}
	}

	// STT
	primary, err := create(b, "stt", cfg.Providers.STT, reg.CreateSTT)
	if err != nil {
		return nil, err
	}
	sttGroup := resilience.NewSTTFallback(primary, cfg.Providers.STT.Name, fallbackCfg("stt"))
	for _, fb := range cfg.Providers.STTFallbacks {
		p, err := create(b, "stt", fb, reg.CreateSTT)
		if err != nil {
			return nil, err
		}
		sttGroup.AddFallback(fb.Name, p)
	}
	b.providers.STT = sttGroup
	b.breakers["stt"] = sttGroup.Breakers()

	// LLM
	if cfg.Providers.LLM.Name != "" {
		primary, err := create(b, "llm", cfg.Providers.LLM, reg.CreateLLM)
		if err != nil {
			return nil, err
		}
		group := resilience.NewLLMFallback(primary, cfg.Providers.LLM.Name, fallbackCfg("llm"))
		for _, fb := range cfg.Providers.LLMFallbacks {
			p, err := create(b, "llm", fb, reg.CreateLLM)
			if err != nil {
				return nil, err
			}
			group.AddFallback(fb.Name, p)
		}
		b.providers.LLM = group
		b.breakers["llm"] = group.Breakers()
	}

	// TTS
	if cfg.Providers.TTS.Name != "" && cfg.Tutor.Enabled {
		primary, err := create(b, "tts", cfg.Providers.TTS, reg.CreateTTS)
		if err != nil {
			return nil, err
		}
		group := resilience.NewTTSFallback(primary, cfg.Providers.TTS.Name, fallbackCfg("tts"))
		b.providers.TTS = group
		b.breakers["tts"] = group.Breakers()
	}

	// Audio
	platform, err := create(b, "audio", cfg.Providers.Audio, reg.CreateAudio)
	if err != nil {
		return nil, err
	}
	b.providers.Audio = platform
	return b, nil
}

// create builds one provider, logs it, and remembers it for shutdown when it
// implements [io.Closer].
func create[T any](b *builtProviders, kind string, e config.ProviderEntry, fn func(config.ProviderEntry) (T, error)) (T, error) {
	p, err := fn(e)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("create %s provider %q: %w", kind, e.Name, err)
	}
	if c, ok := any(p).(io.Closer); ok {
		b.closers = append(b.closers, c.Close)
	}
	slog.Info("provider created", "kind", kind, "name", e.Name, "model", e.Model)
	return p, nil
}

func optFloat(e config.ProviderEntry, key string) (float64, bool) {
	switch v := e.Options[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
