package config

import (
	"github.com/aulavoz/voicetutor/internal/turn"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr    = ":8080"
	DefaultIdentity      = "voicetutor"
	DefaultDataTopic     = "transcript"
	DefaultAnswerTopic   = "answer"
	DefaultQueueSize     = 8
	DefaultSpoolPath     = "/tmp/audio.wav"
	DefaultChunkSize     = 2000
	DefaultMaxSentences  = 4
	DefaultHistoryTokens = 4000
	DefaultAudioPlatform = "livekit"
)

// ApplyDefaults fills zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	r := &cfg.Room
	if r.Identity == "" {
		r.Identity = DefaultIdentity
	}
	if r.Name == "" {
		r.Name = r.Identity
	}
	if r.DataTopic == "" {
		r.DataTopic = DefaultDataTopic
	}
	if r.AnswerTopic == "" {
		r.AnswerTopic = DefaultAnswerTopic
	}

	p := &cfg.Pipeline
	if p.QuietInterval == 0 {
		p.QuietInterval = turn.DefaultQuietInterval
	}
	if p.TimerMode == "" {
		p.TimerMode = turn.ModeFirstFrame.String()
	}
	if p.SampleRate == 0 {
		p.SampleRate = turn.DefaultSampleRate
	}
	if p.QueueSize == 0 {
		p.QueueSize = DefaultQueueSize
	}
	if p.SpoolPath == "" {
		p.SpoolPath = DefaultSpoolPath
	}

	t := &cfg.Tutor
	if t.ChunkSize == 0 {
		t.ChunkSize = DefaultChunkSize
	}
	if t.MaxSentences == 0 {
		t.MaxSentences = DefaultMaxSentences
	}
	if t.HistoryTokens == 0 {
		t.HistoryTokens = DefaultHistoryTokens
	}

	if cfg.Providers.Audio.Name == "" {
		cfg.Providers.Audio.Name = DefaultAudioPlatform
	}
}
