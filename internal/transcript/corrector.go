// Package transcript corrects misheard vocabulary in finished utterances
// before they reach the responder.
//
// Speech recognition regularly mangles product names and other proper nouns
// ("grok" for "Groq"). A [Pipeline] fixes them in up to two stages:
//
//  1. A phonetic [Matcher] aligns word windows with the configured terms.
//     It runs in-process and is cheap enough for every turn.
//  2. An optional [llmcorrect.Corrector] asks the language model to resolve
//     what the phonetic stage missed. It costs one model round-trip per turn.
//
// Each applied [Correction] records the stage that produced it.
package transcript

// Correction is one substitution applied to an utterance.
type Correction struct {
	// Original is the text as recognised.
	Original string

	// Corrected is the vocabulary term that replaced it.
	Corrected string

	// Confidence of the substitution in [0, 1].
	Confidence float64

	// Method is "phonetic" or "llm".
	Method string
}

// Result is the outcome of [Pipeline.Correct].
type Result struct {
	// Original is the utterance as recognised.
	Original string

	// Corrected is the utterance with every correction applied. It equals
	// Original when nothing was corrected.
	Corrected string

	// Corrections lists the applied substitutions in order.
	Corrections []Correction
}

// Changed reports whether any correction was applied.
func (r *Result) Changed() bool { return len(r.Corrections) > 0 }

// Matcher resolves a phrase to a vocabulary term by pronunciation. When
// matched is false, corrected must equal phrase and confidence must be 0.
// Implementations must be safe for concurrent use.
type Matcher interface {
	Match(phrase string, terms []string) (corrected string, confidence float64, matched bool)
}
