// Package llmcorrect asks a language model to fix misheard vocabulary terms
// that the phonetic stage did not catch.
//
// The model receives the utterance and the configured term list and must
// answer with JSON naming the corrected text and each substitution. Every
// change the model makes is cross-checked against the substitutions it
// declared; undeclared edits are reverted, so the model can never rephrase
// the user. Unparseable answers leave the text unchanged.
package llmcorrect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/b-aragu/organic-sphere/pkg/provider/llm"
)

const defaultTemperature = 0.1

const systemPromptTemplate = `You correct speech-to-text transcripts of a user talking to a voice assistant.

Fix ONLY words that are misheard versions of the terms listed below. Do not
change any other word, the grammar, the punctuation or the word order. When
in doubt, leave the word unchanged. Use the exact spelling from the list.

Terms:
%s
Answer with ONLY this JSON object, no markdown:
{"corrected_text": "<full text>", "corrections": [{"original": "<heard>", "corrected": "<term>", "confidence": <0.0-1.0>}]}

If nothing needs fixing, return the input as corrected_text and an empty corrections array.`

// Correction is one substitution the model declared and that survived
// verification.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

type modelAnswer struct {
	CorrectedText string `json:"corrected_text"`
	Corrections   []struct {
		Original   string  `json:"original"`
		Corrected  string  `json:"corrected"`
		Confidence float64 `json:"confidence"`
	} `json:"corrections"`
}

// Option configures a [Corrector].
type Option func(*Corrector)

// WithTemperature sets the sampling temperature. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(c *Corrector) { c.temperature = temp }
}

// Corrector is safe for concurrent use.
type Corrector struct {
	llm         llm.Provider
	temperature float64
}

// New returns a corrector backed by provider.
func New(provider llm.Provider, opts ...Option) *Corrector {
	c := &Corrector{llm: provider, temperature: defaultTemperature}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct returns text with misheard terms replaced. An empty term list or
// blank text skips the model call. Provider errors are returned; a reply
// that is not the expected JSON is not an error and yields text unchanged.
func (c *Corrector) Correct(ctx context.Context, text string, terms []string) (string, []Correction, error) {
	if len(terms) == 0 || strings.TrimSpace(text) == "" {
		return text, nil, nil
	}

	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt(terms),
		Temperature:  c.temperature,
		Messages:     []llm.Message{llm.UserMessage(text)},
	})
	if err != nil {
		return text, nil, fmt.Errorf("llmcorrect: complete: %w", err)
	}

	var ans modelAnswer
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &ans); err != nil || ans.CorrectedText == "" {
		return text, nil, nil
	}

	declared := make([]Correction, 0, len(ans.Corrections))
	for _, d := range ans.Corrections {
		if d.Original == "" || d.Original == d.Corrected {
			continue
		}
		declared = append(declared, Correction{Original: d.Original, Corrected: d.Corrected, Confidence: d.Confidence})
	}
	corrected, verified := verify(text, ans.CorrectedText, declared)
	return corrected, verified, nil
}

func systemPrompt(terms []string) string {
	var sb strings.Builder
	for _, t := range terms {
		fmt.Fprintf(&sb, "- %s\n", t)
	}
	return fmt.Sprintf(systemPromptTemplate, sb.String())
}

// stripFences removes a ```json ... ``` wrapper some models add.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	s, _ = strings.CutSuffix(s, "```")
	return strings.TrimSpace(s)
}
