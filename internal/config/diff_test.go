package config_test

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/aulavoz/voicetutor/internal/config"
)

func loadValid(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func TestDiff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		check   func(config.ConfigDiff) bool
		restart []string
	}{
		{
			name:   "identical",
			mutate: func(*config.Config) {},
			check:  func(d config.ConfigDiff) bool { return !d.Changed() },
		},
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			check:  func(d config.ConfigDiff) bool { return d.LogLevelChanged && d.NewLogLevel == config.LogDebug },
		},
		{
			name:   "quiet interval",
			mutate: func(c *config.Config) { c.Pipeline.QuietInterval = time.Second },
			check:  func(d config.ConfigDiff) bool { return d.TurnChanged },
		},
		{
			name:   "timer mode",
			mutate: func(c *config.Config) { c.Pipeline.TimerMode = "reset_on_append" },
			check:  func(d config.ConfigDiff) bool { return d.TurnChanged },
		},
		{
			name:   "vocabulary",
			mutate: func(c *config.Config) { c.Pipeline.Vocabulary = []string{"ribosoma"} },
			check:  func(d config.ConfigDiff) bool { return d.VocabularyChanged && len(d.RestartRequired) == 0 },
		},
		{
			name: "tutor prompt",
			mutate: func(c *config.Config) {
				c.Tutor.Instructions = "Sé breve."
				c.Tutor.MaxSentences = 2
				c.Tutor.DefaultDocument = "tema1"
			},
			check: func(d config.ConfigDiff) bool {
				return d.InstructionsChanged && d.MaxSentencesChanged && d.DefaultDocumentChanged
			},
		},
		{
			name:    "room",
			mutate:  func(c *config.Config) { c.Room.RoomName = "otra" },
			check:   func(d config.ConfigDiff) bool { return d.Changed() },
			restart: []string{"room"},
		},
		{
			name: "pipeline and providers",
			mutate: func(c *config.Config) {
				c.Pipeline.QueueSize = 16
				c.Providers.STT.Model = "large-v3"
			},
			check:   func(d config.ConfigDiff) bool { return !d.TurnChanged },
			restart: []string{"pipeline", "providers"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, next := loadValid(t), loadValid(t)
			tt.mutate(next)
			d := config.Diff(old, next)
			if !tt.check(d) {
				t.Errorf("unexpected diff: %+v", d)
			}
			if !slices.Equal(d.RestartRequired, tt.restart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.restart)
			}
		})
	}
}
