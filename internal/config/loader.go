package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/aulavoz/voicetutor/internal/turn"
)

// ValidProviderNames lists the built-in provider names per kind. [Validate]
// warns about names not listed here.
var ValidProviderNames = map[string][]string{
	"stt":   {"whisper", "whisper-native", "deepgram", "assemblyai", "openai"},
	"llm":   {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":   {"elevenlabs"},
	"audio": {"livekit"},
}

// Load reads, defaults and validates the YAML file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r, applies defaults and validates the
// result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg, which should already have defaults applied. It
// returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Room
	if cfg.Providers.Audio.Name == DefaultAudioPlatform {
		r := cfg.Room
		if r.URL == "" {
			errs = append(errs, errors.New("room.url is required"))
		}
		if r.APIKey == "" || r.APISecret == "" {
			errs = append(errs, errors.New("room.api_key and room.api_secret are required"))
		}
		if r.RoomName == "" {
			errs = append(errs, errors.New("room.room_name is required"))
		}
	}
	if cfg.Room.DataTopic != "" && cfg.Room.DataTopic == cfg.Room.AnswerTopic {
		errs = append(errs, fmt.Errorf("room.answer_topic must differ from room.data_topic (%q)", cfg.Room.DataTopic))
	}

	// Pipeline
	p := cfg.Pipeline
	if p.QuietInterval < 0 {
		errs = append(errs, fmt.Errorf("pipeline.quiet_interval %v must be positive", p.QuietInterval))
	}
	if _, err := turn.ParseMode(p.TimerMode); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.timer_mode: %w", err))
	}
	if p.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("pipeline.sample_rate %d must be positive", p.SampleRate))
	}
	if p.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("pipeline.queue_size %d must be positive", p.QueueSize))
	}
	if p.STTTimeout < 0 {
		errs = append(errs, fmt.Errorf("pipeline.stt_timeout %v must not be negative", p.STTTimeout))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	errs = append(errs, checkFallbacks("stt", cfg.Providers.STT, cfg.Providers.STTFallbacks)...)
	errs = append(errs, checkFallbacks("llm", cfg.Providers.LLM, cfg.Providers.LLMFallbacks)...)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)

	// Tutor
	t := cfg.Tutor
	if t.Enabled && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("tutor.enabled requires providers.llm"))
	}
	if !t.Enabled && cfg.Providers.TTS.Name != "" {
		slog.Warn("providers.tts is configured but tutor.enabled is false; answers will not be spoken")
	}
	if t.MaxSentences < 0 {
		errs = append(errs, fmt.Errorf("tutor.max_sentences %d must be positive", t.MaxSentences))
	}
	if t.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("tutor.chunk_size %d must be positive", t.ChunkSize))
	}
	if t.Temperature < 0 || t.Temperature > 2 {
		errs = append(errs, fmt.Errorf("tutor.temperature %.2f is out of range [0, 2]", t.Temperature))
	}
	if t.Voice.SpeedFactor != 0 && (t.Voice.SpeedFactor < 0.5 || t.Voice.SpeedFactor > 2.0) {
		errs = append(errs, fmt.Errorf("tutor.voice.speed_factor %.2f is out of range [0.5, 2.0]", t.Voice.SpeedFactor))
	}
	if t.Enabled && t.DocumentPath == "" && t.DefaultDocument != "" {
		errs = append(errs, errors.New("tutor.default_document requires tutor.document_path"))
	}

	return errors.Join(errs...)
}

// checkFallbacks rejects unnamed fallbacks, fallbacks without a primary, and
// repeated names, which would share one circuit breaker.
func checkFallbacks(kind string, primary ProviderEntry, fallbacks []ProviderEntry) []error {
	var errs []error
	if len(fallbacks) > 0 && primary.Name == "" {
		errs = append(errs, fmt.Errorf("providers.%s_fallbacks requires providers.%s", kind, kind))
	}
	seen := map[string]bool{primary.Name: true}
	for i, fb := range fallbacks {
		switch {
		case fb.Name == "":
			errs = append(errs, fmt.Errorf("providers.%s_fallbacks[%d].name is required", kind, i))
		case seen[fb.Name]:
			errs = append(errs, fmt.Errorf("providers.%s_fallbacks[%d].name %q is used more than once", kind, i, fb.Name))
		}
		seen[fb.Name] = true
		validateProviderName(kind, fb.Name)
	}
	return errs
}

// validateProviderName warns when name is set but not a built-in provider.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
