package domain

import (
	"strings"
	"time"
)

type RelationshipKind string

const (
	RelationSolves     RelationshipKind = "solves"
	RelationReferences RelationshipKind = "references"
	RelationDuplicate  RelationshipKind = "duplicate"
	RelationSequential RelationshipKind = "sequential"
	RelationCausal     RelationshipKind = "causal"
	RelationRelatedTo  RelationshipKind = "related-to"
)

// ParseRelationshipKind maps model or user supplied labels onto the closed
// set. Unknown labels map to related-to.
func ParseRelationshipKind(s string) RelationshipKind {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "_", "-"))) {
	case "solves", "solve", "fixes", "resolves":
		return RelationSolves
	case "references", "reference", "refs":
		return RelationReferences
	case "duplicate", "duplicates", "same-work":
		return RelationDuplicate
	case "sequential", "workflow-progression":
		return RelationSequential
	case "causal", "technical-dependency", "caused-by":
		return RelationCausal
	}
	return RelationRelatedTo
}

// DetectionMethod records which tier and algorithm produced a relationship.
type DetectionMethod string

const (
	MethodIssueKey          DetectionMethod = "issue-key-reference"
	MethodBranchName        DetectionMethod = "branch-name-reference"
	MethodAuthorMatch       DetectionMethod = "author-match"
	MethodTemporalProximity DetectionMethod = "temporal-proximity"
	MethodEmbedding         DetectionMethod = "embedding-similarity"
	MethodLLMSemantic       DetectionMethod = "llm-semantic"
)

type Tier int

const (
	TierCandidate Tier = iota
	TierRules
	TierEmbedding
	TierLLM
)

func (t Tier) String() string {
	switch t {
	case TierCandidate:
		return "tier0-candidates"
	case TierRules:
		return "tier1-rules"
	case TierEmbedding:
		return "tier2-embedding"
	case TierLLM:
		return "tier3-llm"
	}
	return "unknown"
}

func (m DetectionMethod) Tier() Tier {
	switch m {
	case MethodEmbedding:
		return TierEmbedding
	case MethodLLMSemantic:
		return TierLLM
	}
	return TierRules
}

func (m DetectionMethod) Valid() bool {
	switch m {
	case MethodIssueKey, MethodBranchName, MethodAuthorMatch, MethodTemporalProximity, MethodEmbedding, MethodLLMSemantic:
		return true
	}
	return false
}

type EvidenceRelationship struct {
	ID            string            `json:"id"`
	FromID        string            `json:"from_id"`
	ToID          string            `json:"to_id"`
	Kind          RelationshipKind  `json:"kind"`
	Confidence    float64           `json:"confidence"`
	Method        DetectionMethod   `json:"detection_method"`
	Summary       string            `json:"evidence_summary"`
	DetectedAt    time.Time         `json:"detected_at"`
	LowConfidence bool              `json:"low_confidence,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// PairKey is the order-independent identity of the pair.
func (r EvidenceRelationship) PairKey() string {
	return PairKey(r.FromID, r.ToID)
}

func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}
