// Package phonetic matches misheard words against a vocabulary using Double
// Metaphone codes and Jaro-Winkler similarity.
//
// A term is a candidate when its phonetic codes overlap those of the input;
// the candidate with the highest Jaro-Winkler score above the phonetic
// threshold wins. Without a phonetic candidate, pure Jaro-Winkler against
// every term is accepted above the stricter fuzzy threshold.
//
// Comparison ignores case and diacritics, so "celula" matches "célula".
package phonetic

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.90
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically matched term.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score when no phonetic
// candidate exists.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher. Defaults are 0.80 for phonetic and 0.90 for fuzzy
// matches.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// term is a vocabulary entry with its normalised form and codes.
type term struct {
	original string
	folded   string
	tokens   []string
	codes    map[string]struct{}
}

// Terms is a prepared vocabulary. Prepare it once and reuse it for every
// transcript.
type Terms struct {
	terms    []term
	maxWords int
}

// Prepare normalises vocabulary and computes its phonetic codes. Blank
// entries are skipped.
func Prepare(vocabulary []string) *Terms {
	ts := &Terms{}
	for _, v := range vocabulary {
		folded := Fold(v)
		if folded == "" {
			continue
		}
		tokens := strings.Fields(folded)
		ts.terms = append(ts.terms, term{
			original: strings.TrimSpace(v),
			folded:   folded,
			tokens:   tokens,
			codes:    codesForTokens(tokens),
		})
		ts.maxWords = max(ts.maxWords, len(tokens))
	}
	return ts
}

// Len returns the number of prepared terms.
func (ts *Terms) Len() int { return len(ts.terms) }

// MaxWords is the word count of the longest term.
func (ts *Terms) MaxWords() int { return ts.maxWords }

// Match finds the vocabulary term closest to word, which may be a phrase.
// When matched is false, corrected equals word and confidence is 0.
func (m *Matcher) Match(word string, vocabulary []string) (corrected string, confidence float64, matched bool) {
	return m.MatchPrepared(word, Prepare(vocabulary))
}

// MatchPrepared is [Matcher.Match] against a prepared vocabulary. Only terms
// with as many words as word are considered.
func (m *Matcher) MatchPrepared(word string, ts *Terms) (corrected string, confidence float64, matched bool) {
	input := Fold(word)
	if ts == nil || len(ts.terms) == 0 || input == "" {
		return word, 0, false
	}
	inputTokens := strings.Fields(input)
	inputCodes := codesForTokens(inputTokens)

	var (
		best         *term
		bestScore    float64
		bestPhonetic bool
	)
	for i := range ts.terms {
		t := &ts.terms[i]
		if len(t.tokens) != len(inputTokens) {
			continue
		}
		score := bestJWScore(inputTokens, t.tokens, input, t.folded)
		if codesOverlap(inputCodes, t.codes) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = t, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = t, score
		}
	}
	if best == nil {
		return word, 0, false
	}
	return best.original, bestScore, true
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lowercases s, strips diacritics, and trims surrounding space.
func Fold(s string) string {
	out, _, err := transform.String(foldTransformer, strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity over the full strings,
// the space-stripped strings, and the mean of aligned word pairs.
func bestJWScore(inputTokens, termTokens []string, input, term string) float64 {
	score := matchr.JaroWinkler(input, term, false)

	if len(inputTokens) > 1 || len(termTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(termTokens, ""), false); s > score {
			score = s
		}
	}

	if len(inputTokens) == len(termTokens) && len(inputTokens) > 1 {
		var sum float64
		for i := range inputTokens {
			sum += matchr.JaroWinkler(inputTokens[i], termTokens[i], false)
		}
		if s := sum / float64(len(inputTokens)); s > score {
			score = s
		}
	}
	return score
}
