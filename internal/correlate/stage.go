package correlate

import (
	"workstories/internal/candidate"
	"workstories/internal/domain"
	"workstories/internal/embedding"
	"workstories/internal/rules"
	"workstories/internal/semantic"
)

// Stage is where a candidate pair sits in the escalation pipeline. A pair
// leaves Pending exactly once.
type Stage int

const (
	Pending Stage = iota
	Tier1Resolved
	Tier2Resolved
	Tier3Resolved
	Discarded
)

func (s Stage) String() string {
	switch s {
	case Pending:
		return "pending"
	case Tier1Resolved:
		return "tier1-resolved"
	case Tier2Resolved:
		return "tier2-resolved"
	case Tier3Resolved:
		return "tier3-resolved"
	case Discarded:
		return "discarded"
	}
	return "unknown"
}

func (s Stage) Final() bool { return s != Pending }

type pairTask struct {
	pair  candidate.Pair
	stage Stage

	tier1      rules.Result
	score      *embedding.Score
	verdict    *semantic.Verdict
	importance float64

	rel    domain.EvidenceRelationship
	reason string
}

// resolve finalizes the task with an accepted relationship. It reports false
// when the task already left Pending.
func (t *pairTask) resolve(stage Stage, rel domain.EvidenceRelationship) bool {
	if t.stage != Pending || stage == Pending || stage == Discarded {
		return false
	}
	t.stage = stage
	t.rel = rel
	return true
}

func (t *pairTask) discard(reason string) bool {
	if t.stage != Pending {
		return false
	}
	t.stage = Discarded
	t.reason = reason
	return true
}

// signal is the strongest score available for the pair so far.
func (t *pairTask) signal() float64 {
	if t.score != nil {
		return t.score.Similarity
	}
	return t.tier1.Confidence
}
