package rules

import (
	"workstories/internal/domain"
	"workstories/internal/tokens"
)

var solveKeywords = map[string]bool{
	"fix": true, "fixes": true, "fixed": true,
	"resolve": true, "resolves": true, "resolved": true,
	"close": true, "closes": true, "closed": true,
}

var referenceKeywords = map[string]bool{
	"ref": true, "refs": true, "reference": true, "references": true,
	"related": true, "see": true, "regarding": true,
}

// InferKind classifies the link from the wording of the referring item.
// Solve keywords win over reference keywords.
func InferKind(text string, fallback domain.RelationshipKind) domain.RelationshipKind {
	var sawRef bool
	for _, tok := range tokens.Tokenize(text) {
		if solveKeywords[tok] {
			return domain.RelationSolves
		}
		if referenceKeywords[tok] {
			sawRef = true
		}
	}
	if sawRef {
		return domain.RelationReferences
	}
	return fallback
}
