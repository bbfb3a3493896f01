// Package document turns study documents into the summaries the tutor
// answers from.
//
// Long texts are split into word-aligned chunks, each chunk is summarised by
// the LLM, and the partial summaries are reduced into one. [Store] caches the
// result per document ID.
package document

import (
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize is the chunk length in characters.
const DefaultChunkSize = 2000

// Chunk splits text on whitespace into chunks of at most size characters.
// A single word longer than size becomes its own chunk. size <= 0 uses
// [DefaultChunkSize].
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var (
		chunks []string
		cur    strings.Builder
		length int // in runes
	)
	for _, w := range strings.Fields(text) {
		n := utf8.RuneCountInString(w)
		if length > 0 && length+1+n > size {
			chunks = append(chunks, cur.String())
			cur.Reset()
			length = 0
		}
		if length > 0 {
			cur.WriteByte(' ')
			length++
		}
		cur.WriteString(w)
		length += n
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}
