// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for voicetutor.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration, loaded with [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Room      RoomConfig      `yaml:"room"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Tutor     TutorConfig     `yaml:"tutor"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds the observability listener and logging settings.
type ServerConfig struct {
	// ListenAddr serves /metrics, /healthz and /readyz. Set to "-" to
	// disable the listener.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`
}

// RoomConfig identifies the room the bot joins and how it talks back.
type RoomConfig struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	RoomName  string `yaml:"room_name"`

	// Identity and Name are the bot's participant identity and display name.
	Identity string `yaml:"identity"`
	Name     string `yaml:"name"`

	// DataTopic carries transcripts; AnswerTopic carries tutor answers.
	DataTopic   string `yaml:"data_topic"`
	AnswerTopic string `yaml:"answer_topic"`
}

// PipelineConfig tunes turn detection and transcription.
type PipelineConfig struct {
	// QuietInterval is the delay between the first frame of an utterance
	// (or the last, in reset_on_append mode) and its flush.
	QuietInterval time.Duration `yaml:"quiet_interval"`

	// TimerMode is "first_frame" or "reset_on_append".
	TimerMode string `yaml:"timer_mode"`

	// SampleRate is assumed for frames that carry none.
	SampleRate int `yaml:"sample_rate"`

	// QueueSize bounds utterances waiting for transcription per participant.
	QueueSize int `yaml:"queue_size"`

	// SpoolPath is where each utterance's WAV file is written. It may contain
	// "{participant}". Set to "-" to disable spooling.
	SpoolPath string `yaml:"spool_path"`

	// STTTimeout bounds each transcription call. Zero means no timeout.
	STTTimeout time.Duration `yaml:"stt_timeout"`

	// Language is the transcription language hint, e.g. "es".
	Language string `yaml:"language"`

	// Vocabulary lists subject terms that misheard words are corrected to.
	Vocabulary []string `yaml:"vocabulary"`
}

// Disabled is the listen_addr and spool_path value that turns the listener
// or spooling off.
const Disabled = "-"

// TutorConfig configures the answer stage.
type TutorConfig struct {
	Enabled bool `yaml:"enabled"`

	// Instructions replaces the built-in system prompt.
	Instructions string `yaml:"instructions"`

	// DocumentPath is a directory of <id>.md, <id>.txt or <id>.pdf study
	// documents.
	DocumentPath string `yaml:"document_path"`

	// DefaultDocument is used for students whose metadata names none.
	DefaultDocument string `yaml:"default_document"`

	// Preload summarises every document at startup instead of on first use.
	Preload bool `yaml:"preload"`

	ChunkSize     int     `yaml:"chunk_size"`
	MaxSentences  int     `yaml:"max_sentences"`
	HistoryTokens int     `yaml:"history_tokens"`
	Temperature   float64 `yaml:"temperature"`

	Voice VoiceConfig `yaml:"voice"`
}

// VoiceConfig selects the TTS voice of the tutor.
type VoiceConfig struct {
	VoiceID string `yaml:"voice_id"`
	Name    string `yaml:"name"`

	// SpeedFactor in [0.5, 2.0]. 0 means default.
	SpeedFactor float64 `yaml:"speed_factor"`
}

// ProvidersConfig selects the registered implementation for each stage.
// Fallbacks are tried in order when the primary fails or its circuit
// breaker is open.
type ProvidersConfig struct {
	STT          ProviderEntry   `yaml:"stt"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	TTS          ProviderEntry   `yaml:"tts"`
	Audio        ProviderEntry   `yaml:"audio"`
}

// ProviderEntry is the configuration block shared by all provider types.
// Name selects the factory in the [Registry].
type ProviderEntry struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds provider-specific values.
	Options map[string]any `yaml:"options"`
}

// Option returns Options[key] as a string, or "" when absent.
func (e ProviderEntry) Option(key string) string {
	v, ok := e.Options[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// OptionInt returns Options[key] as an int, or def when absent or not a
// number.
func (e ProviderEntry) OptionInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// OptionDuration parses Options[key] as a duration, or returns def.
func (e ProviderEntry) OptionDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(e.Option(key)); err == nil {
		return d
	}
	return def
}
