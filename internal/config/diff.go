package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. The flagged fields
// can be applied to a running process; RestartRequired names changed
// sections that only take effect after a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TurnChanged covers quiet_interval and timer_mode. New values apply to
	// sessions started afterwards.
	TurnChanged bool

	VocabularyChanged bool

	InstructionsChanged    bool
	MaxSentencesChanged    bool
	DefaultDocumentChanged bool

	RestartRequired []string
}

// Changed reports whether d carries any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.TurnChanged || d.VocabularyChanged ||
		d.InstructionsChanged || d.MaxSentencesChanged || d.DefaultDocumentChanged ||
		len(d.RestartRequired) > 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	op, np := old.Pipeline, new.Pipeline
	d.TurnChanged = op.QuietInterval != np.QuietInterval || op.TimerMode != np.TimerMode
	d.VocabularyChanged = !slices.Equal(op.Vocabulary, np.Vocabulary)

	ot, nt := old.Tutor, new.Tutor
	d.InstructionsChanged = ot.Instructions != nt.Instructions
	d.MaxSentencesChanged = ot.MaxSentences != nt.MaxSentences
	d.DefaultDocumentChanged = ot.DefaultDocument != nt.DefaultDocument

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Room != new.Room {
		d.RestartRequired = append(d.RestartRequired, "room")
	}
	if op.SampleRate != np.SampleRate || op.QueueSize != np.QueueSize ||
		op.SpoolPath != np.SpoolPath || op.STTTimeout != np.STTTimeout || op.Language != np.Language {
		d.RestartRequired = append(d.RestartRequired, "pipeline")
	}
	if ot.Enabled != nt.Enabled || ot.DocumentPath != nt.DocumentPath || ot.ChunkSize != nt.ChunkSize ||
		ot.HistoryTokens != nt.HistoryTokens || ot.Temperature != nt.Temperature || ot.Voice != nt.Voice {
		d.RestartRequired = append(d.RestartRequired, "tutor")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	return d
}
