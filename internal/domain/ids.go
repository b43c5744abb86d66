package domain

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("workstories.correlation"))

// StableID derives a name-based UUID so that identical input yields
// identical relationship and story identifiers across runs.
func StableID(kind string, parts ...string) string {
	return uuid.NewSHA1(idNamespace, []byte(kind+":"+strings.Join(parts, "|"))).String()
}

// DistinctiveID reports whether id is specific enough to be matched
// literally in free text: five or more characters, at least one a digit.
func DistinctiveID(id string) bool {
	id = strings.TrimSpace(id)
	return len(id) >= 5 && strings.IndexFunc(id, unicode.IsDigit) >= 0
}

// IdentifierTokens splits text into runs that could be item identifiers
// ("AUTH-123", "jira:OPS-9", "3f2a9c1"). Trailing punctuation is dropped.
func IdentifierTokens(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !strings.ContainsRune("-_:/.#", r)
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimRight(f, ".:/-"); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// MentionsID reports whether text names id as a standalone token, ignoring
// case.
func MentionsID(text, id string) bool {
	if !DistinctiveID(id) {
		return false
	}
	for _, tok := range IdentifierTokens(text) {
		if strings.EqualFold(tok, id) {
			return true
		}
	}
	return false
}
