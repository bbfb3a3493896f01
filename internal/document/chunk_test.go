package document

import (
	"slices"
	"strings"
	"testing"
)

func TestChunk(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		size int
		want []string
	}{
		{"empty", "", 10, nil},
		{"whitespace only", " \n\t ", 10, nil},
		{"fits", "hola mundo", 10, []string{"hola mundo"}},
		{"splits on words", "uno dos tres cuatro", 8, []string{"uno dos", "tres", "cuatro"}},
		{"collapses whitespace", "uno\n\ndos   tres", 100, []string{"uno dos tres"}},
		{"long word alone", "a supercalifragilistico b", 5, []string{"a", "supercalifragilistico", "b"}},
		{"counts runes", "ñañá ñañá", 9, []string{"ñañá ñañá"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Chunk(tt.text, tt.size); !slices.Equal(got, tt.want) {
				t.Errorf("Chunk(%q, %d) = %q, want %q", tt.text, tt.size, got, tt.want)
			}
		})
	}
}

func TestChunk_DefaultSize(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("palabra ", 500) // 250 words fit in 1999 chars
	chunks := Chunk(text, 0)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > DefaultChunkSize {
			t.Errorf("chunk %d has %d chars", i, len(c))
		}
	}
	if got := strings.Join(chunks, " "); got != strings.TrimSpace(text) {
		t.Error("chunks do not reassemble the text")
	}
}
