package index

import (
	"unicode"

	"golang.org/x/text/cases"
)

// stopWords are common English words excluded from indexing. Matching
// them after case folding keeps term-frequency tables small without
// changing ranking for real queries.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {},
	"were": {}, "be": {}, "been": {}, "being": {}, "have": {}, "has": {},
	"had": {}, "do": {}, "does": {}, "did": {}, "will": {}, "would": {},
	"could": {}, "should": {}, "may": {}, "might": {}, "of": {}, "to": {},
	"in": {}, "on": {}, "at": {}, "by": {}, "for": {}, "with": {},
	"from": {}, "and": {}, "or": {}, "but": {}, "if": {}, "then": {},
	"else": {}, "as": {}, "it": {}, "this": {}, "that": {}, "these": {},
	"those": {},
}

// Tokenize converts text into an ordered sequence of lowercase terms.
// Terms are maximal runs of letters and digits, case-folded, with stop
// words and single-rune tokens removed. Repetitions are preserved since
// term frequency matters for scoring. The function is pure: the same
// input always yields the same token sequence.
func Tokenize(text string) []string {
	folded := cases.Fold().String(text)

	tokens := make([]string, 0, len(folded)/6)
	start := -1
	runes := 0
	for i, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
				runes = 0
			}
			runes++
			continue
		}
		if start >= 0 {
			appendToken(&tokens, folded[start:i], runes)
			start = -1
		}
	}
	if start >= 0 {
		appendToken(&tokens, folded[start:], runes)
	}
	return tokens
}

func appendToken(tokens *[]string, tok string, runes int) {
	if runes < 2 {
		return
	}
	if _, stop := stopWords[tok]; stop {
		return
	}
	*tokens = append(*tokens, tok)
}
