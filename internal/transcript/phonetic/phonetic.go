// Package phonetic matches misheard phrases against a configured vocabulary
// using Double Metaphone codes and Jaro-Winkler similarity.
//
// A term is a phonetic candidate when any Double Metaphone code of the
// phrase overlaps with a code of the term. Candidates are ranked by the best
// Jaro-Winkler score over the full strings, the space-stripped strings and
// every token pair, and the winner must reach the phonetic threshold. When no
// term sounds alike, a term can still match on spelling alone if it reaches
// the (higher) fuzzy threshold. Phrases are compared only with terms of
// about the same word count.
package phonetic

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	DefaultPhoneticThreshold = 0.70
	DefaultFuzzyThreshold    = 0.85

	// minRunes is the shortest phrase considered for correction. Shorter
	// tokens ("a", "to", "I") produce empty or ambiguous codes.
	minRunes = 3
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum score for a phrase that sounds like
// a term.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		if threshold > 0 {
			m.phoneticThreshold = threshold
		}
	}
}

// WithFuzzyThreshold sets the minimum score for a spelling-only match.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		if threshold > 0 {
			m.fuzzyThreshold = threshold
		}
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a matcher with the default thresholds unless overridden.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: DefaultPhoneticThreshold,
		fuzzyThreshold:    DefaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// term is a vocabulary entry with its codes computed once.
type term struct {
	canonical string
	lower     string
	tokens    []string
	codes     map[string]struct{}
}

// Vocabulary is a compiled term list. Build it with [Compile] and reuse it
// across calls to [Matcher.MatchCompiled].
type Vocabulary struct {
	terms    []term
	maxWords int
}

// Compile precomputes phonetic codes for terms. Blank terms are skipped.
func Compile(terms []string) *Vocabulary {
	v := &Vocabulary{terms: make([]term, 0, len(terms))}
	for _, t := range terms {
		lower := strings.ToLower(strings.TrimSpace(t))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		v.terms = append(v.terms, term{
			canonical: strings.TrimSpace(t),
			lower:     lower,
			tokens:    tokens,
			codes:     codes(tokens),
		})
		v.maxWords = max(v.maxWords, len(tokens))
	}
	return v
}

// MaxWords is the word count of the longest term, or 0 for an empty
// vocabulary.
func (v *Vocabulary) MaxWords() int { return v.maxWords }

// Len is the number of compiled terms.
func (v *Vocabulary) Len() int { return len(v.terms) }

// Match compiles terms and matches phrase against them. Callers matching
// many phrases against the same terms should use [Matcher.MatchCompiled].
//
// When matched is false, corrected is phrase unchanged and confidence is 0.
func (m *Matcher) Match(phrase string, terms []string) (corrected string, confidence float64, matched bool) {
	return m.MatchCompiled(phrase, Compile(terms))
}

// MatchCompiled is [Matcher.Match] against a precompiled vocabulary.
func (m *Matcher) MatchCompiled(phrase string, v *Vocabulary) (corrected string, confidence float64, matched bool) {
	lower := strings.ToLower(strings.TrimSpace(phrase))
	if v == nil || len(v.terms) == 0 || utf8.RuneCountInString(lower) < minRunes {
		return phrase, 0, false
	}
	tokens := strings.Fields(lower)
	inCodes := codes(tokens)

	var (
		best       string
		bestScore  float64
		bestSounds bool
	)
	for _, t := range v.terms {
		if t.lower == lower {
			return t.canonical, 1, true
		}
		// A phrase may be one word longer or shorter than the term. Extra
		// words must match on spelling alone, otherwise "is grok" would
		// swallow the "is".
		extra := len(tokens) - len(t.tokens)
		if extra > 1 || extra < -1 {
			continue
		}
		score := similarity(tokens, t.tokens, lower, t.lower)
		sounds := extra <= 0 && overlaps(inCodes, t.codes)
		switch {
		case sounds && score >= m.phoneticThreshold:
			if !bestSounds || score > bestScore {
				best, bestScore, bestSounds = t.canonical, score, true
			}
		case !sounds && !bestSounds && score >= m.fuzzyThreshold && score > bestScore:
			best, bestScore = t.canonical, score
		}
	}
	if best == "" {
		return phrase, 0, false
	}
	return best, bestScore, true
}

func codes(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		primary, secondary := matchr.DoubleMetaphone(t)
		if primary != "" {
			set[primary] = struct{}{}
		}
		if secondary != "" {
			set[secondary] = struct{}{}
		}
	}
	return set
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score of the full strings, the
// space-stripped strings and, for phrases with as many words as the term,
// the mean of the word-by-word scores.
func similarity(inTokens, termTokens []string, in, t string) float64 {
	score := matchr.JaroWinkler(in, t, false)
	if len(inTokens) > 1 || len(termTokens) > 1 {
		score = max(score, matchr.JaroWinkler(strings.Join(inTokens, ""), strings.Join(termTokens, ""), false))
	}
	if len(inTokens) > 1 && len(inTokens) == len(termTokens) {
		var sum float64
		for i := range inTokens {
			sum += matchr.JaroWinkler(inTokens[i], termTokens[i], false)
		}
		score = max(score, sum/float64(len(inTokens)))
	}
	return score
}
