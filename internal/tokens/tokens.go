package tokens

import (
	"sort"
	"strings"
	"unicode"
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "this": true, "that": true,
	"from": true, "into": true, "when": true, "then": true, "than": true, "have": true,
	"has": true, "had": true, "was": true, "were": true, "will": true, "would": true,
	"should": true, "could": true, "been": true, "being": true, "are": true, "not": true,
	"but": true, "all": true, "any": true, "can": true, "our": true, "your": true,
	"their": true, "there": true, "these": true, "those": true, "them": true, "they": true,
	"also": true, "some": true, "more": true, "most": true, "such": true, "only": true,
	"other": true, "over": true, "after": true, "before": true, "about": true, "which": true,
	"what": true, "where": true, "while": true, "does": true, "done": true, "make": true,
	"made": true, "just": true, "like": true, "very": true, "each": true, "need": true,
	"needs": true, "update": true, "updated": true, "change": true, "changes": true,
	"merge": true, "branch": true, "commit": true,
}

// Tokenize lower-cases s and splits it on anything that is not a letter or
// digit.
func Tokenize(s string) []string {
	s = strings.ToLower(s)
	var out []string
	var cur strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
			continue
		}
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// Significant returns the distinct tokens of at least minLen runes that are
// not stopwords or pure numbers, sorted.
func Significant(s string, minLen int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range Tokenize(s) {
		if seen[tok] || len([]rune(tok)) < minLen || stopwords[tok] || isNumber(tok) {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

func IsStopword(tok string) bool {
	return stopwords[tok]
}

// Overlap returns the tokens present in both sorted sets.
func Overlap(a, b []string) []string {
	var out []string
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

// Jaccard is |a∩b| / |a∪b| for two sorted sets.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := len(Overlap(a, b))
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func isNumber(tok string) bool {
	for _, r := range tok {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
