// Package transcript fixes misheard subject vocabulary in transcripts before
// they are published.
//
// STT models routinely garble course terms ("mitocondria", "ciclo de Krebs",
// proper names). A [Corrector] slides word windows over the transcript and
// replaces any window that phonetically matches a configured vocabulary term
// with the term's canonical spelling.
package transcript

import (
	"context"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/aulavoz/voicetutor/internal/observe"
	"github.com/aulavoz/voicetutor/internal/transcript/phonetic"
	"github.com/aulavoz/voicetutor/pkg/types"
)

// minWordRunes skips short words, which match too many terms.
const minWordRunes = 4

// Correction is one substitution made by a [Corrector].
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// Corrector is safe for concurrent use; the vocabulary can be replaced
// while transcripts are being corrected.
type Corrector struct {
	matcher *phonetic.Matcher

	mu    sync.RWMutex
	terms *phonetic.Terms
}

// NewCorrector returns a Corrector for vocabulary.
func NewCorrector(vocabulary []string, opts ...phonetic.Option) *Corrector {
	return &Corrector{
		matcher: phonetic.New(opts...),
		terms:   phonetic.Prepare(vocabulary),
	}
}

// SetVocabulary replaces the vocabulary.
func (c *Corrector) SetVocabulary(vocabulary []string) {
	terms := phonetic.Prepare(vocabulary)
	c.mu.Lock()
	c.terms = terms
	c.mu.Unlock()
}

// Correct returns tr with its text corrected. Per-word details are left as
// the provider reported them.
func (c *Corrector) Correct(ctx context.Context, tr types.Transcript) types.Transcript {
	text, corrections := c.Apply(tr.Text)
	if len(corrections) == 0 {
		return tr
	}
	log := observe.Logger(ctx)
	for _, cr := range corrections {
		log.Debug("transcript corrected", "original", cr.Original, "corrected", cr.Corrected, "confidence", cr.Confidence)
	}
	tr.Text = text
	return tr
}

// Apply corrects text. Longer windows are tried first so multi-word terms
// win over partial single-word matches. Punctuation around a window is kept.
// Whitespace is normalised to single spaces when anything changed.
func (c *Corrector) Apply(text string) (string, []Correction) {
	c.mu.RLock()
	terms := c.terms
	c.mu.RUnlock()

	tokens := strings.Fields(text)
	if terms.Len() == 0 || len(tokens) == 0 {
		return text, nil
	}

	var (
		out         = make([]string, 0, len(tokens))
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		n, replacement, corr := c.matchAt(tokens[i:], terms)
		if n == 0 {
			out = append(out, tokens[i])
			i++
			continue
		}
		out = append(out, replacement)
		if corr != nil {
			corrections = append(corrections, *corr)
		}
		i += n
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// matchAt tries windows at the start of tokens, longest first. n is the
// number of tokens consumed, 0 when nothing matched. corr is nil when the
// window already had the canonical spelling.
func (c *Corrector) matchAt(tokens []string, terms *phonetic.Terms) (n int, replacement string, corr *Correction) {
	for w := min(terms.MaxWords(), len(tokens)); w >= 1; w-- {
		window := strings.Join(tokens[:w], " ")
		prefix, core, suffix := splitPunct(window)
		if utf8.RuneCountInString(core) < minWordRunes {
			continue
		}
		term, conf, ok := c.matcher.MatchPrepared(core, terms)
		if !ok {
			continue
		}
		if core == term {
			return w, window, nil
		}
		return w, prefix + term + suffix, &Correction{Original: core, Corrected: term, Confidence: conf}
	}
	return 0, "", nil
}

// splitPunct separates leading and trailing punctuation from s.
func splitPunct(s string) (prefix, core, suffix string) {
	isPunct := func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) }
	core = strings.TrimLeftFunc(s, isPunct)
	prefix = s[:len(s)-len(core)]
	trimmed := strings.TrimRightFunc(core, isPunct)
	suffix = core[len(trimmed):]
	return prefix, trimmed, suffix
}
