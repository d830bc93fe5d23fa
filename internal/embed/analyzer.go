package embed

import (
	"regexp"
	"strings"
)

// tokenPattern matches runs of two or more word characters.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]{2,}`)

// analyze lowercases text and returns its word n-grams for n in [1, ngramMax],
// unigrams first, in document order.
func analyze(text string, ngramMax int) []string {
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	if ngramMax < 1 {
		ngramMax = 1
	}

	terms := make([]string, 0, len(tokens)*ngramMax)
	terms = append(terms, tokens...)
	for n := 2; n <= ngramMax; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			terms = append(terms, strings.Join(tokens[i:i+n], " "))
		}
	}
	return terms
}

// termCounts counts each n-gram of text.
func termCounts(text string, ngramMax int) map[string]int {
	counts := make(map[string]int)
	for _, term := range analyze(text, ngramMax) {
		counts[term]++
	}
	return counts
}
