package phonetic_test

import (
	"testing"

	"github.com/aulavoz/voicetutor/internal/transcript/phonetic"
)

func TestMatcher_Match(t *testing.T) {
	t.Parallel()
	vocabulary := []string{"mitocondria", "ribosoma", "célula", "ciclo de Krebs"}
	tests := []struct {
		name      string
		word      string
		want      string
		wantMatch bool
		minConf   float64
	}{
		{"plural", "mitocondrias", "mitocondria", true, 0.9},
		{"missing accent", "celula", "célula", true, 1},
		{"upper case", "MITOCONDRIA", "mitocondria", true, 1},
		{"multi-word", "ciclo de crebs", "ciclo de Krebs", true, 0.9},
		{"word count differs", "ciclo", "ciclo", false, 0},
		{"unrelated", "hola", "hola", false, 0},
		{"blank", "  ", "  ", false, 0},
	}
	m := phonetic.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, conf, ok := m.Match(tt.word, vocabulary)
			if ok != tt.wantMatch {
				t.Fatalf("Match(%q) matched = %v, want %v", tt.word, ok, tt.wantMatch)
			}
			if got != tt.want {
				t.Errorf("Match(%q) = %q, want %q", tt.word, got, tt.want)
			}
			if !ok && conf != 0 {
				t.Errorf("unmatched confidence = %f, want 0", conf)
			}
			if ok && conf < tt.minConf {
				t.Errorf("confidence = %f, want >= %f", conf, tt.minConf)
			}
		})
	}
}

func TestMatcher_Thresholds(t *testing.T) {
	t.Parallel()
	m := phonetic.New(phonetic.WithPhoneticThreshold(1), phonetic.WithFuzzyThreshold(1))
	if _, _, ok := m.Match("mitocondrias", []string{"mitocondria"}); ok {
		t.Error("near match accepted with thresholds at 1")
	}
	if got, _, ok := m.Match("Mitocondria", []string{"mitocondria"}); !ok || got != "mitocondria" {
		t.Errorf("exact match = %q, %v", got, ok)
	}
}

func TestMatcher_EmptyVocabulary(t *testing.T) {
	t.Parallel()
	got, conf, ok := phonetic.New().Match("mitocondria", nil)
	if ok || got != "mitocondria" || conf != 0 {
		t.Errorf("Match = %q, %f, %v", got, conf, ok)
	}
}

func TestPrepare(t *testing.T) {
	t.Parallel()
	ts := phonetic.Prepare([]string{"ciclo de Krebs", "  ", "átomo"})
	if ts.Len() != 2 {
		t.Errorf("Len() = %d, want 2", ts.Len())
	}
	if ts.MaxWords() != 3 {
		t.Errorf("MaxWords() = %d, want 3", ts.MaxWords())
	}
}

func TestFold(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		" Fotosíntesis ": "fotosintesis",
		"ÁTOMO":          "atomo",
		"pingüino":       "pinguino",
		"niño":           "nino",
	}
	for in, want := range tests {
		if got := phonetic.Fold(in); got != want {
			t.Errorf("Fold(%q) = %q, want %q", in, got, want)
		}
	}
}
