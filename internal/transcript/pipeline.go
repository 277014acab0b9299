package transcript

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/b-aragu/organic-sphere/internal/transcript/llmcorrect"
	"github.com/b-aragu/organic-sphere/internal/transcript/phonetic"
)

const trailingPunct = ".,;:!?\"')"

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithMatcher enables the phonetic stage.
func WithMatcher(m Matcher) Option {
	return func(p *Pipeline) { p.matcher = m }
}

// WithLLMCorrector enables the model stage.
func WithLLMCorrector(c *llmcorrect.Corrector) Option {
	return func(p *Pipeline) { p.llm = c }
}

// Pipeline is safe for concurrent use. The term list can be replaced at any
// time with [Pipeline.SetTerms].
type Pipeline struct {
	matcher Matcher
	llm     *llmcorrect.Corrector

	mu    sync.RWMutex
	terms []string
	vocab *phonetic.Vocabulary
}

// NewPipeline returns a pipeline for terms. Without options both stages are
// disabled and Correct returns its input unchanged.
func NewPipeline(terms []string, opts ...Option) *Pipeline {
	p := &Pipeline{}
	for _, o := range opts {
		o(p)
	}
	p.SetTerms(terms)
	return p
}

// SetTerms replaces the vocabulary.
func (p *Pipeline) SetTerms(terms []string) {
	terms = append([]string(nil), terms...)
	vocab := phonetic.Compile(terms)
	p.mu.Lock()
	p.terms, p.vocab = terms, vocab
	p.mu.Unlock()
}

// Terms returns a copy of the current vocabulary.
func (p *Pipeline) Terms() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.terms...)
}

// Enabled reports whether any stage would run for the current vocabulary.
func (p *Pipeline) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.terms) > 0 && (p.matcher != nil || p.llm != nil)
}

// Correct runs the enabled stages over text. The returned result is never
// nil: when the model stage fails, the error is returned together with the
// phonetic-stage result so callers can proceed with it.
func (p *Pipeline) Correct(ctx context.Context, text string) (*Result, error) {
	p.mu.RLock()
	terms, vocab := p.terms, p.vocab
	p.mu.RUnlock()

	res := &Result{Original: text, Corrected: text}
	if len(terms) == 0 || strings.TrimSpace(text) == "" {
		return res, nil
	}

	if p.matcher != nil {
		res.Corrected, res.Corrections = p.phoneticStage(text, terms, vocab)
	}

	if p.llm != nil {
		corrected, fixes, err := p.llm.Correct(ctx, res.Corrected, terms)
		if err != nil {
			return res, fmt.Errorf("transcript: llm stage: %w", err)
		}
		res.Corrected = corrected
		for _, f := range fixes {
			res.Corrections = append(res.Corrections, Correction{
				Original:   f.Original,
				Corrected:  f.Corrected,
				Confidence: f.Confidence,
				Method:     "llm",
			})
		}
	}
	return res, nil
}

// phoneticStage slides word windows over text, longest first so multi-word
// terms win over single-word matches, and substitutes matched windows.
func (p *Pipeline) phoneticStage(text string, terms []string, vocab *phonetic.Vocabulary) (string, []Correction) {
	match := func(phrase string) (string, float64, bool) {
		return p.matcher.Match(phrase, terms)
	}
	maxWords := maxWordCount(terms)
	if pm, ok := p.matcher.(*phonetic.Matcher); ok {
		match = func(phrase string) (string, float64, bool) {
			return pm.MatchCompiled(phrase, vocab)
		}
		maxWords = vocab.MaxWords()
	}

	tokens := strings.Fields(text)
	out := make([]string, 0, len(tokens))
	var corrections []Correction

	for i := 0; i < len(tokens); {
		n := min(maxWords, len(tokens)-i)
		for ; n >= 1; n-- {
			window := windowText(tokens[i : i+n])
			term, conf, ok := match(window)
			if !ok {
				continue
			}
			last := tokens[i+n-1]
			suffix := last[len(strings.TrimRight(last, trailingPunct)):]
			out = append(out, term+suffix)
			if term != window {
				corrections = append(corrections, Correction{
					Original:   window,
					Corrected:  term,
					Confidence: conf,
					Method:     "phonetic",
				})
			}
			break
		}
		if n < 1 {
			out = append(out, tokens[i])
			n = 1
		}
		i += n
	}
	return strings.Join(out, " "), corrections
}

// windowText joins tokens, dropping the trailing punctuation of the last one.
func windowText(tokens []string) string {
	s := strings.Join(tokens, " ")
	return strings.TrimRight(s, trailingPunct)
}

func maxWordCount(terms []string) int {
	n := 1
	for _, t := range terms {
		n = max(n, len(strings.Fields(t)))
	}
	return n
}
