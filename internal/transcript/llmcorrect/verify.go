package llmcorrect

import "strings"

const trailingPunct = ".,;:!?\"')"

func normalize(s string) string {
	return strings.ToLower(strings.TrimRight(s, trailingPunct))
}

// verify applies the declared corrections to original and ignores the rest
// of the model's rewrite. A declaration counts only when its corrected form
// appears in the model's text and its original words appear in original.
// Trailing punctuation of the replaced words is kept.
func verify(original, corrected string, declared []Correction) (string, []Correction) {
	if original == corrected {
		return original, nil
	}
	tokens := strings.Fields(original)
	modelText := strings.ToLower(corrected)

	var verified []Correction
	for _, d := range declared {
		if !strings.Contains(modelText, strings.ToLower(d.Corrected)) {
			continue
		}
		var applied bool
		tokens, applied = replace(tokens, strings.Fields(d.Original), strings.Fields(d.Corrected))
		if applied {
			verified = append(verified, d)
		}
	}
	return strings.Join(tokens, " "), verified
}

// replace substitutes every occurrence of the word sequence from in tokens
// with to, comparing words case-insensitively without trailing punctuation.
func replace(tokens, from, to []string) ([]string, bool) {
	if len(from) == 0 || len(to) == 0 || len(from) > len(tokens) {
		return tokens, false
	}
	want := make([]string, len(from))
	for i, w := range from {
		want[i] = normalize(w)
	}

	out := make([]string, 0, len(tokens))
	var applied bool
	for i := 0; i < len(tokens); {
		if i+len(want) <= len(tokens) && windowEquals(tokens[i:i+len(want)], want) {
			last := tokens[i+len(want)-1]
			suffix := last[len(strings.TrimRight(last, trailingPunct)):]
			out = append(out, to[:len(to)-1]...)
			out = append(out, to[len(to)-1]+suffix)
			i += len(want)
			applied = true
			continue
		}
		out = append(out, tokens[i])
		i++
	}
	return out, applied
}

func windowEquals(window, want []string) bool {
	for i := range want {
		if normalize(window[i]) != want[i] {
			return false
		}
	}
	return true
}
